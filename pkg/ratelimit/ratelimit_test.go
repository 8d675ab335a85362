package ratelimit

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTokenBucketAllowRespectsCapacity(t *testing.T) {
	tb := NewTokenBucket(60, 2)
	assert.True(t, tb.Allow())
	assert.True(t, tb.Allow())
	assert.False(t, tb.Allow())
}

func TestTokenBucketWaitHonoursContext(t *testing.T) {
	tb := NewTokenBucket(1, 1)
	require.True(t, tb.Allow())

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, tb.Wait(ctx), context.DeadlineExceeded)
}

func TestRetryWithBackoffRetriesOnlyRetryable(t *testing.T) {
	tb := NewTokenBucket(6000, 100).WithRetryPolicy(time.Millisecond, 2)

	calls := 0
	err := tb.RetryWithBackoff(context.Background(), func() error {
		calls++
		if calls < 3 {
			return errors.New("Error 429, Status: RESOURCE_EXHAUSTED")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = tb.RetryWithBackoff(context.Background(), func() error {
		calls++
		return errors.New("invalid argument")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls)
}

func TestRetryWithBackoffCustomClassifier(t *testing.T) {
	sentinel := errors.New("flaky")
	tb := NewTokenBucket(6000, 100).
		WithRetryPolicy(time.Millisecond, 1).
		WithClassifier(func(err error) bool { return errors.Is(err, sentinel) })

	calls := 0
	err := tb.RetryWithBackoff(context.Background(), func() error {
		calls++
		return sentinel
	})
	assert.ErrorIs(t, err, sentinel)
	assert.Equal(t, 2, calls)
}

func TestRegistrySharesBucketsPerModel(t *testing.T) {
	r := NewRegistry(map[string]int{"gemini-pro": 100, "tiny": 1}, time.Millisecond, 1, nil)

	assert.Equal(t, 90, r.QPM("gemini-pro"))
	assert.Equal(t, 1, r.QPM("tiny"))
	assert.Equal(t, defaultQPM, r.QPM("unknown"))
	assert.Same(t, r.Bucket("gemini-pro"), r.Bucket("gemini-pro"))
	assert.NotSame(t, r.Bucket("gemini-pro"), r.Bucket("tiny"))
}

type countingModel struct {
	calls int
	fails int
}

func (m *countingModel) Generate(_ context.Context, _ []*schema.Message, _ ...model.Option) (*schema.Message, error) {
	m.calls++
	if m.calls <= m.fails {
		return nil, errors.New("503 UNAVAILABLE")
	}
	return schema.AssistantMessage("ok", nil), nil
}

func (m *countingModel) Stream(ctx context.Context, in []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := m.Generate(ctx, in, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (m *countingModel) WithTools(_ []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	return m, nil
}

func TestWrapChatModelRetriesTransientErrors(t *testing.T) {
	r := NewRegistry(map[string]int{"m": 6000}, time.Millisecond, 2, nil)
	inner := &countingModel{fails: 1}

	msg, err := r.WrapChatModel(inner, "m").Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.NoError(t, err)
	assert.Equal(t, "ok", msg.Content)
	assert.Equal(t, 2, inner.calls)
}

type countingEmbedder struct{ calls int }

func (e *countingEmbedder) EmbedStrings(_ context.Context, texts []string, _ ...embedding.Option) ([][]float64, error) {
	e.calls++
	out := make([][]float64, len(texts))
	for i := range texts {
		out[i] = []float64{float64(i)}
	}
	return out, nil
}

func TestWrapEmbedderPassesThrough(t *testing.T) {
	r := NewRegistry(nil, time.Millisecond, 1, nil)
	inner := &countingEmbedder{}

	vectors, err := r.WrapEmbedder(inner, "embed").EmbedStrings(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Len(t, vectors, 2)
	assert.Equal(t, 1, inner.calls)
}
