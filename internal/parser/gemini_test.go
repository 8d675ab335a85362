package parser

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"resume-tailor/internal/constants"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genai"
)

// fakeGenAI 记录请求并返回预设响应
type fakeGenAI struct {
	mu sync.Mutex

	generateResp *genai.GenerateContentResponse
	generateErr  error
	genModels    []string
	genContents  [][]*genai.Content
	genConfigs   []*genai.GenerateContentConfig

	embedErr     error
	embedDims    int
	embedBatches []int
	embedConfigs []*genai.EmbedContentConfig
}

func (f *fakeGenAI) GenerateContent(_ context.Context, model string, contents []*genai.Content, cfg *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.genModels = append(f.genModels, model)
	f.genContents = append(f.genContents, contents)
	f.genConfigs = append(f.genConfigs, cfg)
	if f.generateErr != nil {
		return nil, f.generateErr
	}
	return f.generateResp, nil
}

func (f *fakeGenAI) EmbedContent(_ context.Context, _ string, contents []*genai.Content, cfg *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.embedBatches = append(f.embedBatches, len(contents))
	f.embedConfigs = append(f.embedConfigs, cfg)
	if f.embedErr != nil {
		return nil, f.embedErr
	}
	dims := f.embedDims
	if dims == 0 {
		dims = 4
	}
	resp := &genai.EmbedContentResponse{}
	for i := range contents {
		values := make([]float32, dims)
		values[0] = float32(i + 1)
		resp.Embeddings = append(resp.Embeddings, &genai.ContentEmbedding{Values: values})
	}
	return resp, nil
}

func textResponse(text string) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{
		Candidates: []*genai.Candidate{{
			Content:      genai.NewContentFromText(text, genai.RoleModel),
			FinishReason: genai.FinishReasonStop,
		}},
		UsageMetadata: &genai.GenerateContentResponseUsageMetadata{
			PromptTokenCount:     12,
			CandidatesTokenCount: 30,
			TotalTokenCount:      42,
		},
	}
}

func TestIsRetryableGenAIError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"rate limited", genai.APIError{Code: 429}, true},
		{"unavailable wrapped", fmt.Errorf("调用失败: %w", genai.APIError{Code: 503}), true},
		{"bad request", genai.APIError{Code: 400}, false},
		{"canceled", context.Canceled, false},
		{"plain error", errors.New("boom"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryableGenAIError(tt.err))
		})
	}
}

func TestGeminiChatModelGenerate(t *testing.T) {
	fake := &fakeGenAI{generateResp: textResponse(`{"ok":true}`)}
	m, err := NewGeminiChatModel(fake, "gemini-test", 0.4, 0)
	require.NoError(t, err)

	msg, err := m.Generate(context.Background(), []*schema.Message{
		schema.SystemMessage("be precise"),
		schema.UserMessage("hello"),
	}, WithJSONResponse())
	require.NoError(t, err)

	assert.Equal(t, `{"ok":true}`, msg.Content)
	assert.Equal(t, schema.Assistant, msg.Role)
	require.NotNil(t, msg.ResponseMeta)
	assert.Equal(t, "STOP", msg.ResponseMeta.FinishReason)
	assert.Equal(t, 42, msg.ResponseMeta.Usage.TotalTokens)

	require.Len(t, fake.genConfigs, 1)
	cfg := fake.genConfigs[0]
	assert.Equal(t, "application/json", cfg.ResponseMIMEType)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.4, *cfg.Temperature, 0.0001)
	require.NotNil(t, cfg.SystemInstruction)
	assert.Equal(t, "be precise", cfg.SystemInstruction.Parts[0].Text)
	require.Len(t, fake.genContents[0], 1, "system 消息不应出现在 contents 中")
	assert.Equal(t, "gemini-test", fake.genModels[0])
}

func TestGeminiChatModelOptionsOverride(t *testing.T) {
	fake := &fakeGenAI{generateResp: textResponse("ok")}
	m, err := NewGeminiChatModel(fake, "gemini-test", 0.4, 0)
	require.NoError(t, err)

	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")},
		model.WithModel("gemini-other"), model.WithTemperature(0.1), model.WithMaxTokens(256))
	require.NoError(t, err)

	assert.Equal(t, "gemini-other", fake.genModels[0])
	assert.InDelta(t, 0.1, *fake.genConfigs[0].Temperature, 0.0001)
	assert.Equal(t, int32(256), fake.genConfigs[0].MaxOutputTokens)
	assert.Empty(t, fake.genConfigs[0].ResponseMIMEType)
}

func TestGeminiChatModelBlockedAndEmpty(t *testing.T) {
	blocked := &fakeGenAI{generateResp: &genai.GenerateContentResponse{
		PromptFeedback: &genai.GenerateContentResponsePromptFeedback{BlockReason: genai.BlockedReasonSafety},
	}}
	m, err := NewGeminiChatModel(blocked, "gemini-test", 0, 0)
	require.NoError(t, err)
	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "SAFETY")

	empty := &fakeGenAI{generateResp: textResponse("   ")}
	m, err = NewGeminiChatModel(empty, "gemini-test", 0, 0)
	require.NoError(t, err)
	_, err = m.Generate(context.Background(), []*schema.Message{schema.UserMessage("hi")})
	assert.ErrorIs(t, err, ErrEmptyModelResponse)
}

func TestGeminiChatModelWithTools(t *testing.T) {
	m, err := NewGeminiChatModel(&fakeGenAI{}, "gemini-test", 0, 0)
	require.NoError(t, err)

	same, err := m.WithTools(nil)
	require.NoError(t, err)
	assert.Same(t, m, same)

	_, err = m.WithTools([]*schema.ToolInfo{{Name: "weather"}})
	assert.ErrorIs(t, err, ErrToolsUnsupported)
}

func TestGeminiEmbedderBatchesAndTaskType(t *testing.T) {
	fake := &fakeGenAI{embedDims: 8}
	e, err := NewGeminiEmbedder(fake, "text-embedding-test", 8, 0)
	require.NoError(t, err)

	texts := make([]string, 150)
	for i := range texts {
		texts[i] = fmt.Sprintf("chunk %d", i)
	}
	vectors, err := e.EmbedStrings(context.Background(), texts)
	require.NoError(t, err)

	require.Len(t, vectors, 150)
	assert.Equal(t, []int{100, 50}, fake.embedBatches)
	assert.Equal(t, constants.TaskTypeRetrievalDocument, fake.embedConfigs[0].TaskType)
	assert.Equal(t, int32(8), *fake.embedConfigs[0].OutputDimensionality)
	// 第二批的第一条对应输入第 100 条
	assert.Equal(t, float64(1), vectors[100][0])
	assert.Equal(t, "text-embedding-test@8", e.ModelVersion())
}

func TestGeminiEmbedderQueryTaskTypeAndErrors(t *testing.T) {
	fake := &fakeGenAI{}
	e, err := NewGeminiEmbedder(fake, "text-embedding-test", 4, 0)
	require.NoError(t, err)

	_, err = e.EmbedStrings(context.Background(), []string{"jd"}, WithTaskType(constants.TaskTypeRetrievalQuery))
	require.NoError(t, err)
	assert.Equal(t, constants.TaskTypeRetrievalQuery, fake.embedConfigs[0].TaskType)

	out, err := e.EmbedStrings(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, out)

	fake.embedErr = genai.APIError{Code: 500, Message: "internal"}
	_, err = e.EmbedStrings(context.Background(), []string{"jd"})
	require.Error(t, err)
	assert.True(t, IsRetryableGenAIError(err))
}

func TestNewGeminiConstructorsValidate(t *testing.T) {
	_, err := NewGeminiEmbedder(nil, "m", 4, 0)
	assert.Error(t, err)
	_, err = NewGeminiEmbedder(&fakeGenAI{}, "", 4, 0)
	assert.Error(t, err)
	_, err = NewGeminiChatModel(nil, "m", 0, 0)
	assert.Error(t, err)
	_, err = NewGeminiChatModel(&fakeGenAI{}, "", 0, 0)
	assert.Error(t, err)
}
