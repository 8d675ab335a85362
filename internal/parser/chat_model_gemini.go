package parser

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"
	"google.golang.org/genai"
)

// ErrEmptyModelResponse 模型没有返回任何文本
var ErrEmptyModelResponse = errors.New("模型返回内容为空")

// ErrToolsUnsupported 当前实现不支持工具调用
var ErrToolsUnsupported = errors.New("Gemini 聊天模型不支持工具调用")

// GeminiChatOptions Gemini 特有的生成参数
type GeminiChatOptions struct {
	ResponseMIMEType string
}

// WithJSONResponse 要求模型输出 application/json
func WithJSONResponse() model.Option {
	return model.WrapImplSpecificOptFn(func(o *GeminiChatOptions) {
		o.ResponseMIMEType = "application/json"
	})
}

// GeminiChatModel 实现 eino model.ToolCallingChatModel
type GeminiChatModel struct {
	models      GenAIModels
	model       string
	temperature *float32
	timeout     time.Duration
}

var _ model.ToolCallingChatModel = (*GeminiChatModel)(nil)

func NewGeminiChatModel(models GenAIModels, modelName string, temperature float64, timeout time.Duration) (*GeminiChatModel, error) {
	if models == nil {
		return nil, fmt.Errorf("Gemini 客户端不能为空")
	}
	if modelName == "" {
		return nil, fmt.Errorf("生成模型名不能为空")
	}
	m := &GeminiChatModel{models: models, model: modelName, timeout: timeout}
	if temperature > 0 {
		m.temperature = genai.Ptr(float32(temperature))
	}
	return m, nil
}

func (g *GeminiChatModel) ModelName() string {
	return g.model
}

func (g *GeminiChatModel) Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error) {
	modelName := g.model
	common := model.GetCommonOptions(&model.Options{Model: &modelName, Temperature: g.temperature}, opts...)
	impl := model.GetImplSpecificOptions(&GeminiChatOptions{}, opts...)

	cfg := &genai.GenerateContentConfig{
		Temperature:      common.Temperature,
		ResponseMIMEType: impl.ResponseMIMEType,
	}
	if common.MaxTokens != nil {
		cfg.MaxOutputTokens = int32(*common.MaxTokens)
	}
	if common.Model != nil && *common.Model != "" {
		modelName = *common.Model
	}

	contents, system := toGenAIContents(input)
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(contents) == 0 {
		return nil, fmt.Errorf("没有可发送给模型的消息")
	}

	callCtx, cancel := withTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.models.GenerateContent(callCtx, modelName, contents, cfg)
	if err != nil {
		return nil, fmt.Errorf("调用模型 %s 失败: %w", modelName, err)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return nil, fmt.Errorf("请求被模型拦截: %s", resp.PromptFeedback.BlockReason)
	}

	text := resp.Text()
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyModelResponse
	}

	msg := schema.AssistantMessage(text, nil)
	msg.ResponseMeta = &schema.ResponseMeta{}
	if len(resp.Candidates) > 0 && resp.Candidates[0] != nil {
		msg.ResponseMeta.FinishReason = string(resp.Candidates[0].FinishReason)
	}
	if u := resp.UsageMetadata; u != nil {
		msg.ResponseMeta.Usage = &schema.TokenUsage{
			PromptTokens:     int(u.PromptTokenCount),
			CompletionTokens: int(u.CandidatesTokenCount),
			TotalTokens:      int(u.TotalTokenCount),
		}
	}
	return msg, nil
}

// Stream 生成整段结果后以单元素流返回
func (g *GeminiChatModel) Stream(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.StreamReader[*schema.Message], error) {
	msg, err := g.Generate(ctx, input, opts...)
	if err != nil {
		return nil, err
	}
	return schema.StreamReaderFromArray([]*schema.Message{msg}), nil
}

func (g *GeminiChatModel) WithTools(tools []*schema.ToolInfo) (model.ToolCallingChatModel, error) {
	if len(tools) == 0 {
		return g, nil
	}
	return nil, ErrToolsUnsupported
}

// toGenAIContents system 消息合并为 SystemInstruction，assistant 映射为 model 角色
func toGenAIContents(messages []*schema.Message) ([]*genai.Content, string) {
	var system []string
	contents := make([]*genai.Content, 0, len(messages))
	for _, m := range messages {
		if m == nil {
			continue
		}
		switch m.Role {
		case schema.System:
			system = append(system, m.Content)
		case schema.Assistant:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleModel))
		default:
			contents = append(contents, genai.NewContentFromText(m.Content, genai.RoleUser))
		}
	}
	return contents, strings.Join(system, "\n\n")
}
