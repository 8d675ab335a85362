package processor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"resume-tailor/internal/constants"
	"resume-tailor/internal/parser"
	"resume-tailor/internal/storage"
	"resume-tailor/pkg/utils"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/rs/zerolog"
)

// QueryVectorizer 负责把岗位描述 (JD) 转换为检索向量，按 JD 文本的 MD5 缓存
type QueryVectorizer struct {
	embedder     embedding.Embedder
	cache        QueryVectorCache
	modelVersion string
	log          zerolog.Logger
}

// NewQueryVectorizer cache 可以为空；modelVersion 写入缓存，换模型或维度后旧缓存自动失效
func NewQueryVectorizer(embedder embedding.Embedder, cache QueryVectorCache, modelVersion string, log zerolog.Logger) (*QueryVectorizer, error) {
	if embedder == nil {
		return nil, fmt.Errorf("embedder 不能为空")
	}
	if modelVersion == "" {
		return nil, fmt.Errorf("modelVersion 不能为空")
	}
	return &QueryVectorizer{embedder: embedder, cache: cache, modelVersion: modelVersion, log: log}, nil
}

// Vectorize 先查缓存，未命中再调用 embedder 并回填
func (q *QueryVectorizer) Vectorize(ctx context.Context, jobDescription string) ([]float64, error) {
	jd := strings.TrimSpace(jobDescription)
	if jd == "" {
		return nil, fmt.Errorf("JD 文本不能为空")
	}
	key := utils.CalculateMD5([]byte(jd))

	if q.cache != nil {
		cached, err := q.cache.GetJobVector(ctx, key, q.modelVersion)
		switch {
		case err == nil && len(cached) > 0:
			q.log.Debug().Str("jd_md5", key).Msg("JD 向量缓存命中")
			return cached, nil
		case err != nil && !errors.Is(err, storage.ErrCacheMiss):
			// 缓存不可用不影响主流程
			q.log.Warn().Err(err).Str("jd_md5", key).Msg("读取 JD 向量缓存失败，将重新生成")
		}
	}

	vectors, err := q.embedder.EmbedStrings(ctx, []string{jd}, parser.WithTaskType(constants.TaskTypeRetrievalQuery))
	if err != nil {
		return nil, fmt.Errorf("JD 文本向量化失败: %w", err)
	}
	if len(vectors) == 0 || len(vectors[0]) == 0 {
		return nil, fmt.Errorf("JD 文本向量化结果为空")
	}
	vector := vectors[0]

	if q.cache != nil {
		if err := q.cache.SetJobVector(ctx, key, vector, q.modelVersion); err != nil {
			q.log.Warn().Err(err).Str("jd_md5", key).Msg("写入 JD 向量缓存失败")
		}
	}
	return vector, nil
}
