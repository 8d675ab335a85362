package parser

import (
	"context"
	"fmt"
	"math"
	"time"

	"resume-tailor/internal/constants"

	"github.com/cloudwego/eino/components/embedding"
	"google.golang.org/genai"
)

// 单次 batchEmbedContents 的文本上限
const maxEmbedBatch = 100

// GeminiEmbeddingOptions Gemini 特有的向量化参数
type GeminiEmbeddingOptions struct {
	TaskType string
}

// WithTaskType 设置任务类型，文档用 RETRIEVAL_DOCUMENT，查询用 RETRIEVAL_QUERY
func WithTaskType(taskType string) embedding.Option {
	return embedding.WrapImplSpecificOptFn(func(o *GeminiEmbeddingOptions) {
		o.TaskType = taskType
	})
}

// GeminiEmbedder 实现 eino embedding.Embedder
type GeminiEmbedder struct {
	models     GenAIModels
	model      string
	dimensions int
	timeout    time.Duration
}

var _ embedding.Embedder = (*GeminiEmbedder)(nil)

func NewGeminiEmbedder(models GenAIModels, model string, dimensions int, timeout time.Duration) (*GeminiEmbedder, error) {
	if models == nil {
		return nil, fmt.Errorf("Gemini 客户端不能为空")
	}
	if model == "" {
		return nil, fmt.Errorf("向量模型名不能为空")
	}
	return &GeminiEmbedder{models: models, model: model, dimensions: dimensions, timeout: timeout}, nil
}

func (g *GeminiEmbedder) GetDimensions() int {
	return g.dimensions
}

// ModelVersion 向量缓存校验用
func (g *GeminiEmbedder) ModelVersion() string {
	return fmt.Sprintf("%s@%d", g.model, g.dimensions)
}

// EmbedStrings 按输入顺序返回向量，超过 100 条时分批请求
func (g *GeminiEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	if len(texts) == 0 {
		return [][]float64{}, nil
	}

	modelName := g.model
	common := embedding.GetCommonOptions(&embedding.Options{Model: &modelName}, opts...)
	if common.Model != nil && *common.Model != "" {
		modelName = *common.Model
	}
	impl := embedding.GetImplSpecificOptions(&GeminiEmbeddingOptions{TaskType: constants.TaskTypeRetrievalDocument}, opts...)

	cfg := &genai.EmbedContentConfig{TaskType: impl.TaskType}
	if g.dimensions > 0 {
		cfg.OutputDimensionality = genai.Ptr(int32(g.dimensions))
	}

	out := make([][]float64, 0, len(texts))
	for start := 0; start < len(texts); start += maxEmbedBatch {
		end := start + maxEmbedBatch
		if end > len(texts) {
			end = len(texts)
		}

		contents := make([]*genai.Content, 0, end-start)
		for _, t := range texts[start:end] {
			contents = append(contents, genai.NewContentFromText(t, genai.RoleUser))
		}

		callCtx, cancel := withTimeout(ctx, g.timeout)
		resp, err := g.models.EmbedContent(callCtx, modelName, contents, cfg)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("向量化第 %d-%d 条文本失败: %w", start, end-1, err)
		}
		if resp == nil || len(resp.Embeddings) != end-start {
			got := 0
			if resp != nil {
				got = len(resp.Embeddings)
			}
			return nil, fmt.Errorf("向量数量不匹配: 期望 %d, 实际 %d", end-start, got)
		}

		for i, e := range resp.Embeddings {
			if e == nil || len(e.Values) == 0 {
				return nil, fmt.Errorf("第 %d 条文本的向量为空", start+i)
			}
			vec := make([]float64, len(e.Values))
			for j, v := range e.Values {
				if math.IsNaN(float64(v)) || math.IsInf(float64(v), 0) {
					return nil, fmt.Errorf("第 %d 条文本的向量在位置 %d 含非法值", start+i, j)
				}
				vec[j] = float64(v)
			}
			out = append(out, vec)
		}
	}
	return out, nil
}
