package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	oai "github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/shared/constant"

	"github.com/user/recall/pkg/llm"
)

// Client implements the llm.Provider interface on top of the official
// openai-go SDK, so any OpenAI-compatible endpoint works.
type Client struct {
	config *llm.Config
	client oai.Client
}

// New creates a new OpenAI-compatible client with the given configuration.
func New(config *llm.Config) *Client {
	opts := []option.RequestOption{
		option.WithAPIKey(config.APIKey),
		option.WithMaxRetries(config.MaxRetries),
		option.WithRequestTimeout(60 * time.Second),
	}
	if config.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(config.BaseURL))
	}
	return &Client{
		config: config,
		client: oai.NewClient(opts...),
	}
}

// Complete sends a chat completion request and returns the full response.
func (c *Client) Complete(ctx context.Context, messages []llm.Message, tools []llm.Tool) (*llm.Response, error) {
	params, err := ToParams(messages)
	if err != nil {
		return nil, err
	}

	req := oai.ChatCompletionNewParams{
		Model:    c.config.Model,
		Messages: params,
	}
	if len(tools) > 0 {
		converted, err := toTools(tools)
		if err != nil {
			return nil, err
		}
		req.Tools = converted
	}
	if c.config.MaxTokens > 0 {
		req.MaxCompletionTokens = oai.Int(int64(c.config.MaxTokens))
	}
	if c.config.Temperature != 0 {
		req.Temperature = oai.Float(float64(c.config.Temperature))
	}

	completion, err := c.client.Chat.Completions.New(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("chat completion: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, errors.New("no choices in response")
	}

	choice := completion.Choices[0]
	resp := &llm.Response{
		Content: choice.Message.Content,
		Usage: llm.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
			TotalTokens:  int(completion.Usage.TotalTokens),
		},
	}
	for _, tc := range choice.Message.ToolCalls {
		resp.ToolCalls = append(resp.ToolCalls, llm.ToolCall{
			ID:   tc.ID,
			Type: "function",
			Function: llm.FunctionCall{
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			},
		})
	}
	return resp, nil
}

// ToParams converts wire messages into openai-go request params.
func ToParams(messages []llm.Message) ([]oai.ChatCompletionMessageParamUnion, error) {
	out := make([]oai.ChatCompletionMessageParamUnion, 0, len(messages))
	for i, msg := range messages {
		p, err := toParam(msg)
		if err != nil {
			return nil, fmt.Errorf("convert message %d: %w", i, err)
		}
		out = append(out, p)
	}
	return out, nil
}

func toParam(msg llm.Message) (oai.ChatCompletionMessageParamUnion, error) {
	switch msg.Role {
	case "system":
		return oai.SystemMessage(msg.Text()), nil
	case "user":
		if len(msg.Parts) > 0 {
			return oai.UserMessage(toContentParts(msg.Parts)), nil
		}
		return oai.UserMessage(msg.Content), nil
	case "assistant":
		if len(msg.ToolCalls) == 0 {
			return oai.AssistantMessage(msg.Text()), nil
		}
		calls := make([]oai.ChatCompletionMessageToolCallUnionParam, 0, len(msg.ToolCalls))
		for _, tc := range msg.ToolCalls {
			calls = append(calls, oai.ChatCompletionMessageToolCallUnionParam{
				OfFunction: &oai.ChatCompletionMessageFunctionToolCallParam{
					ID:   tc.ID,
					Type: constant.Function("function"),
					Function: oai.ChatCompletionMessageFunctionToolCallFunctionParam{
						Name:      tc.Function.Name,
						Arguments: tc.Function.Arguments,
					},
				},
			})
		}
		assistant := &oai.ChatCompletionAssistantMessageParam{
			Role:      constant.Assistant("assistant"),
			ToolCalls: calls,
		}
		if text := msg.Text(); text != "" {
			assistant.Content = oai.ChatCompletionAssistantMessageParamContentUnion{
				OfString: oai.String(text),
			}
		}
		return oai.ChatCompletionMessageParamUnion{OfAssistant: assistant}, nil
	case "tool":
		if msg.ToolCallID == "" {
			return oai.ChatCompletionMessageParamUnion{}, errors.New("tool message without tool_call_id")
		}
		return oai.ToolMessage(msg.Text(), msg.ToolCallID), nil
	default:
		return oai.ChatCompletionMessageParamUnion{}, fmt.Errorf("unsupported role %q", msg.Role)
	}
}

func toContentParts(parts []llm.ContentPart) []oai.ChatCompletionContentPartUnionParam {
	out := make([]oai.ChatCompletionContentPartUnionParam, 0, len(parts))
	for _, p := range parts {
		switch {
		case p.Type == "image_url" && p.ImageURL != nil:
			out = append(out, oai.ImageContentPart(oai.ChatCompletionContentPartImageImageURLParam{
				URL:    p.ImageURL.URL,
				Detail: p.ImageURL.Detail,
			}))
		default:
			out = append(out, oai.TextContentPart(p.Text))
		}
	}
	return out
}

func toTools(tools []llm.Tool) ([]oai.ChatCompletionToolUnionParam, error) {
	out := make([]oai.ChatCompletionToolUnionParam, 0, len(tools))
	for _, t := range tools {
		var params map[string]any
		if len(t.Function.Parameters) > 0 {
			if err := json.Unmarshal(t.Function.Parameters, &params); err != nil {
				return nil, fmt.Errorf("decode parameters for %s: %w", t.Function.Name, err)
			}
		}
		out = append(out, oai.ChatCompletionFunctionTool(oai.FunctionDefinitionParam{
			Name:        t.Function.Name,
			Description: oai.String(t.Function.Description),
			Parameters:  oai.FunctionParameters(params),
		}))
	}
	return out, nil
}
