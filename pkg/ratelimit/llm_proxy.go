package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
)

// 未在配置中出现的模型使用的 QPM
const defaultQPM = 30

// RateLimitedLLMModel 对LLM模型的调用进行限流的代理
type RateLimitedLLMModel struct {
	original    model.ToolCallingChatModel
	rateLimiter *TokenBucket
}

// NewRateLimitedLLMModel 创建一个新的限流LLM模型代理
func NewRateLimitedLLMModel(original model.ToolCallingChatModel, bucket *TokenBucket) *RateLimitedLLMModel {
	return &RateLimitedLLMModel{original: original, rateLimiter: bucket}
}

// Generate 代理Generate方法，增加限流和重试逻辑
func (rl *RateLimitedLLMModel) Generate(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.Message, error) {
	var response *schema.Message
	err := rl.rateLimiter.RetryWithBackoff(ctx, func() error {
		var genErr error
		response, genErr = rl.original.Generate(ctx, messages, options...)
		return genErr
	})
	return response, err
}

// Stream 代理Stream方法，只对建立流的调用限流
func (rl *RateLimitedLLMModel) Stream(ctx context.Context, messages []*schema.Message, options ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	var stream *schema.StreamReader[*schema.Message]
	err := rl.rateLimiter.RetryWithBackoff(ctx, func() error {
		var streamErr error
		stream, streamErr = rl.original.Stream(ctx, messages, options...)
		return streamErr
	})
	return stream, err
}

// WithTools 新代理沿用同一个令牌桶
func (rl *RateLimitedLLMModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	newModel, err := rl.original.WithTools(tools)
	if err != nil {
		return nil, err
	}
	return &RateLimitedLLMModel{original: newModel, rateLimiter: rl.rateLimiter}, nil
}

// RateLimitedEmbedder 对向量化调用限流，一次 EmbedStrings 消耗一个令牌
type RateLimitedEmbedder struct {
	original    embedding.Embedder
	rateLimiter *TokenBucket
}

func NewRateLimitedEmbedder(original embedding.Embedder, bucket *TokenBucket) *RateLimitedEmbedder {
	return &RateLimitedEmbedder{original: original, rateLimiter: bucket}
}

func (rl *RateLimitedEmbedder) EmbedStrings(ctx context.Context, texts []string, opts ...embedding.Option) ([][]float64, error) {
	var vectors [][]float64
	err := rl.rateLimiter.RetryWithBackoff(ctx, func() error {
		var embedErr error
		vectors, embedErr = rl.original.EmbedStrings(ctx, texts, opts...)
		return embedErr
	})
	return vectors, err
}

// Registry 按模型名共享令牌桶，同名模型的所有调用方共用一份配额
type Registry struct {
	mu            sync.Mutex
	limits        map[string]int
	buckets       map[string]*TokenBucket
	retryWaitTime time.Duration
	maxRetries    int
	classifier    RetryClassifier
}

// NewRegistry limits 为配置里的 model_qpm_limits，classifier 为 nil 时按错误文本判断
func NewRegistry(limits map[string]int, retryWaitTime time.Duration, maxRetries int, classifier RetryClassifier) *Registry {
	if maxRetries <= 0 {
		maxRetries = 3
	}
	return &Registry{
		limits:        limits,
		buckets:       make(map[string]*TokenBucket),
		retryWaitTime: retryWaitTime,
		maxRetries:    maxRetries,
		classifier:    classifier,
	}
}

// QPM 返回模型的有效 QPM，取配置值的 90% 作为安全值
func (r *Registry) QPM(modelName string) int {
	if q, ok := r.limits[modelName]; ok && q > 0 {
		safe := int(float64(q) * 0.9)
		if safe < 1 {
			safe = 1
		}
		return safe
	}
	return defaultQPM
}

// Bucket 取模型的令牌桶，不存在时创建
func (r *Registry) Bucket(modelName string) *TokenBucket {
	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.buckets[modelName]; ok {
		return b
	}
	qpm := r.QPM(modelName)
	b := NewTokenBucket(qpm, qpm/2).
		WithRetryPolicy(r.retryWaitTime, r.maxRetries).
		WithClassifier(r.classifier)
	r.buckets[modelName] = b
	return b
}

// WrapChatModel 给聊天模型套上该模型名的限流
func (r *Registry) WrapChatModel(original model.ToolCallingChatModel, modelName string) model.ToolCallingChatModel {
	return NewRateLimitedLLMModel(original, r.Bucket(modelName))
}

// WrapEmbedder 给向量模型套上该模型名的限流
func (r *Registry) WrapEmbedder(original embedding.Embedder, modelName string) embedding.Embedder {
	return NewRateLimitedEmbedder(original, r.Bucket(modelName))
}
