package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"

	"resume-tailor/internal/config"
	"resume-tailor/internal/tracing"

	"github.com/gofrs/uuid/v5"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var qdrantTracer = otel.Tracer("resume-tailor/storage/qdrant")

// QdrantPointIDNamespace 生成确定性 point ID 的 UUIDv5 命名空间
var QdrantPointIDNamespace = uuid.Must(uuid.FromString("8b1f3c52-6d0e-4f6b-9a57-1c2d3e4f5a6b"))

// 向量 payload 字段
const (
	PayloadOwnerUserID      = "owner_user_id"
	PayloadOriginalFileID   = "original_file_id"
	PayloadChunkIndex       = "chunk_index"
	PayloadText             = "text"
	PayloadIngestionVersion = "ingestion_version"
)

// ChunkPoint 待写入的一个简历分块向量
type ChunkPoint struct {
	OwnerUserID      string
	FileID           string
	ChunkIndex       int
	Text             string
	IngestionVersion int
	Vector           []float64
}

// ChunkMatch 检索命中的分块
type ChunkMatch struct {
	ID          string
	Score       float32
	Text        string
	OwnerUserID string
	FileID      string
	ChunkIndex  int
}

// ChunkPointID 由 fileId 与序号生成确定性 ID，重复写入同一分块会覆盖
func ChunkPointID(fileID string, chunkIndex int) string {
	return uuid.NewV5(QdrantPointIDNamespace, fmt.Sprintf("%s:%d", fileID, chunkIndex)).String()
}

// Qdrant 基于 REST API 的向量库客户端
type Qdrant struct {
	endpoint       string
	collectionName string
	vectorSize     int
	distanceMetric string
	apiKey         string
	httpClient     *http.Client
}

type QdrantOption func(*Qdrant)

func WithDistanceMetric(metric string) QdrantOption {
	return func(q *Qdrant) {
		q.distanceMetric = metric
	}
}

func WithHttpTimeout(timeout time.Duration) QdrantOption {
	return func(q *Qdrant) {
		if timeout > 0 {
			q.httpClient = &http.Client{Timeout: timeout}
		}
	}
}

// NewQdrant 创建客户端，确保集合和过滤字段索引存在
func NewQdrant(cfg *config.QdrantConfig, opts ...QdrantOption) (*Qdrant, error) {
	if cfg == nil {
		return nil, fmt.Errorf("qdrant配置不能为空")
	}

	q := &Qdrant{
		endpoint:       cfg.Endpoint,
		collectionName: cfg.Collection,
		vectorSize:     cfg.Dimension,
		distanceMetric: "Cosine",
		apiKey:         cfg.APIKey,
		httpClient:     &http.Client{Timeout: 30 * time.Second},
	}
	if q.endpoint == "" {
		q.endpoint = "http://localhost:6333"
	}
	if q.collectionName == "" {
		q.collectionName = "resume_embeddings"
	}
	if q.vectorSize <= 0 {
		q.vectorSize = 768
	}
	if cfg.Distance != "" {
		q.distanceMetric = cfg.Distance
	}
	for _, opt := range opts {
		opt(q)
	}

	ctx := context.Background()
	if err := q.ensureCollectionExists(ctx); err != nil {
		return nil, fmt.Errorf("确保集合 '%s' 存在失败: %w", q.collectionName, err)
	}
	for _, field := range []string{PayloadOwnerUserID, PayloadOriginalFileID} {
		if err := q.ensurePayloadIndex(ctx, field); err != nil {
			return nil, fmt.Errorf("创建 payload 索引 %s 失败: %w", field, err)
		}
	}

	log.Printf("成功连接到Qdrant服务器: %s，集合: %s", q.endpoint, q.collectionName)
	return q, nil
}

// qdrantError 携带 HTTP 状态码的 Qdrant 错误
type qdrantError struct {
	StatusCode int
	Body       string
}

func (e *qdrantError) Error() string {
	return fmt.Sprintf("qdrant 返回状态码 %d: %s", e.StatusCode, e.Body)
}

// doRequest 发送请求并把 result 解码到 out，out 为 nil 时丢弃响应体
func (q *Qdrant) doRequest(ctx context.Context, operation, method, path string, body interface{}, out interface{}) error {
	ctx, span := qdrantTracer.Start(ctx, "Qdrant."+operation, trace.WithSpanKind(trace.SpanKindClient))
	defer span.End()

	url := q.endpoint + path
	span.SetAttributes(
		attribute.String("db.system", "qdrant"),
		attribute.String("db.operation", operation),
		attribute.String("db.collection", q.collectionName),
		attribute.String("http.method", method),
		attribute.String("http.url", url),
	)

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeInternal)
			return fmt.Errorf("序列化 %s 请求失败: %w", operation, err)
		}
		span.SetAttributes(attribute.Int("http.request_content_length", len(payload)))
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeInternal)
		return fmt.Errorf("创建 %s 请求失败: %w", operation, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if q.apiKey != "" {
		req.Header.Set("api-key", q.apiKey)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := q.httpClient.Do(req)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("发送 %s 请求失败: %w", operation, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
		return fmt.Errorf("读取 %s 响应失败: %w", operation, err)
	}
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		qErr := &qdrantError{StatusCode: resp.StatusCode, Body: tracing.TruncateString(string(respBody), 500)}
		tracing.RecordHTTPError(span, qErr, resp.StatusCode)
		return qErr
	}

	if out != nil {
		envelope := struct {
			Result json.RawMessage `json:"result"`
		}{}
		if err := json.Unmarshal(respBody, &envelope); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return fmt.Errorf("解析 %s 响应失败: %w", operation, err)
		}
		if err := json.Unmarshal(envelope.Result, out); err != nil {
			tracing.RecordError(span, err, tracing.ErrorTypeVectorDB)
			return fmt.Errorf("解析 %s 结果失败: %w", operation, err)
		}
	}

	span.SetStatus(codes.Ok, "")
	return nil
}

func (q *Qdrant) collectionPath(suffix string) string {
	return "/collections/" + q.collectionName + suffix
}

func (q *Qdrant) ensureCollectionExists(ctx context.Context) error {
	var info struct {
		Config struct {
			Params struct {
				Vectors struct {
					Size     int    `json:"size"`
					Distance string `json:"distance"`
				} `json:"vectors"`
			} `json:"params"`
		} `json:"config"`
	}

	err := q.doRequest(ctx, "GetCollection", http.MethodGet, q.collectionPath(""), nil, &info)
	if qErr, ok := err.(*qdrantError); ok && qErr.StatusCode == http.StatusNotFound {
		log.Printf("集合 '%s' 不存在，将创建新集合", q.collectionName)
		return q.createCollection(ctx)
	}
	if err != nil {
		return err
	}

	vectors := info.Config.Params.Vectors
	if vectors.Size != q.vectorSize || vectors.Distance != q.distanceMetric {
		log.Printf("警告: 现有集合配置与当前配置不匹配。现有: 维度=%d, 距离=%s; 当前: 维度=%d, 距离=%s",
			vectors.Size, vectors.Distance, q.vectorSize, q.distanceMetric)
	}
	return nil
}

func (q *Qdrant) createCollection(ctx context.Context) error {
	body := map[string]interface{}{
		"vectors": map[string]interface{}{
			"size":     q.vectorSize,
			"distance": q.distanceMetric,
		},
	}
	return q.doRequest(ctx, "CreateCollection", http.MethodPut, q.collectionPath(""), body, nil)
}

func (q *Qdrant) ensurePayloadIndex(ctx context.Context, field string) error {
	body := map[string]interface{}{
		"field_name":   field,
		"field_schema": "keyword",
	}
	return q.doRequest(ctx, "CreatePayloadIndex", http.MethodPut, q.collectionPath("/index?wait=true"), body, nil)
}

// fileFilter 同时按用户和文件过滤，防止跨租户读取
func fileFilter(ownerUserID, fileID string) map[string]interface{} {
	return map[string]interface{}{
		"must": []map[string]interface{}{
			{"key": PayloadOwnerUserID, "match": map[string]interface{}{"value": ownerUserID}},
			{"key": PayloadOriginalFileID, "match": map[string]interface{}{"value": fileID}},
		},
	}
}

// UpsertChunks 写入一批分块向量
func (q *Qdrant) UpsertChunks(ctx context.Context, points []ChunkPoint) error {
	if len(points) == 0 {
		return nil
	}

	payloadPoints := make([]map[string]interface{}, 0, len(points))
	for _, p := range points {
		if len(p.Vector) != q.vectorSize {
			return fmt.Errorf("分块 %s#%d 向量维度 %d 与集合维度 %d 不一致", p.FileID, p.ChunkIndex, len(p.Vector), q.vectorSize)
		}
		payloadPoints = append(payloadPoints, map[string]interface{}{
			"id":     ChunkPointID(p.FileID, p.ChunkIndex),
			"vector": p.Vector,
			"payload": map[string]interface{}{
				PayloadOwnerUserID:      p.OwnerUserID,
				PayloadOriginalFileID:   p.FileID,
				PayloadChunkIndex:       p.ChunkIndex,
				PayloadText:             p.Text,
				PayloadIngestionVersion: p.IngestionVersion,
			},
		})
	}

	body := map[string]interface{}{"points": payloadPoints}
	if err := q.doRequest(ctx, "UpsertChunks", http.MethodPut, q.collectionPath("/points?wait=true"), body, nil); err != nil {
		return fmt.Errorf("写入 %d 个分块向量失败: %w", len(points), err)
	}
	return nil
}

// SearchChunks 在指定用户的指定文件内做 top-k 检索，结果按相似度降序
func (q *Qdrant) SearchChunks(ctx context.Context, vector []float64, ownerUserID, fileID string, limit int) ([]ChunkMatch, error) {
	body := map[string]interface{}{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
		"filter":       fileFilter(ownerUserID, fileID),
	}

	var hits []struct {
		ID      interface{}            `json:"id"`
		Score   float32                `json:"score"`
		Payload map[string]interface{} `json:"payload"`
	}
	if err := q.doRequest(ctx, "SearchChunks", http.MethodPost, q.collectionPath("/points/search"), body, &hits); err != nil {
		return nil, fmt.Errorf("向量检索失败: %w", err)
	}

	matches := make([]ChunkMatch, 0, len(hits))
	for _, h := range hits {
		m := ChunkMatch{ID: fmt.Sprint(h.ID), Score: h.Score}
		m.Text, _ = h.Payload[PayloadText].(string)
		m.OwnerUserID, _ = h.Payload[PayloadOwnerUserID].(string)
		m.FileID, _ = h.Payload[PayloadOriginalFileID].(string)
		if idx, ok := h.Payload[PayloadChunkIndex].(float64); ok {
			m.ChunkIndex = int(idx)
		}
		matches = append(matches, m)
	}
	return matches, nil
}

// DeleteFileChunks 删除某个文件的全部向量，重新入库前调用
func (q *Qdrant) DeleteFileChunks(ctx context.Context, ownerUserID, fileID string) error {
	body := map[string]interface{}{"filter": fileFilter(ownerUserID, fileID)}
	if err := q.doRequest(ctx, "DeleteFileChunks", http.MethodPost, q.collectionPath("/points/delete?wait=true"), body, nil); err != nil {
		return fmt.Errorf("删除文件 %s 的旧向量失败: %w", fileID, err)
	}
	return nil
}

// CountFileChunks 统计某个文件的向量数
func (q *Qdrant) CountFileChunks(ctx context.Context, ownerUserID, fileID string) (int, error) {
	body := map[string]interface{}{
		"filter": fileFilter(ownerUserID, fileID),
		"exact":  true,
	}
	var result struct {
		Count int `json:"count"`
	}
	if err := q.doRequest(ctx, "CountFileChunks", http.MethodPost, q.collectionPath("/points/count"), body, &result); err != nil {
		return 0, fmt.Errorf("统计文件 %s 向量数失败: %w", fileID, err)
	}
	return result.Count, nil
}

// Ping 健康检查
func (q *Qdrant) Ping(ctx context.Context) error {
	return q.doRequest(ctx, "Ping", http.MethodGet, q.collectionPath(""), nil, nil)
}
