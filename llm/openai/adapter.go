package openai

import (
	"encoding/json"

	"github.com/hal9ai/dspy/llm"
	openai "github.com/sashabaranov/go-openai"
	"github.com/samber/lo"
)

// ToCompletionRequest converts a normalized text-mode option set into a completion request.
func ToCompletionRequest(opts llm.Options) (openai.CompletionRequest, error) {
	var req openai.CompletionRequest
	if err := decodeOptions(opts, &req); err != nil {
		return openai.CompletionRequest{}, err
	}
	return req, nil
}

// ToChatCompletionRequest converts a normalized chat-mode option set into a chat request.
func ToChatCompletionRequest(opts llm.Options) (openai.ChatCompletionRequest, error) {
	var req openai.ChatCompletionRequest
	if err := decodeOptions(opts, &req); err != nil {
		return openai.ChatCompletionRequest{}, err
	}
	return req, nil
}

// decodeOptions maps option names onto the SDK request fields through their JSON tags.
func decodeOptions(opts llm.Options, out any) error {
	data, err := json.Marshal(opts)
	if err != nil {
		return llm.NewConfigurationError("failed to encode request options", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return llm.NewConfigurationError("request options do not match the OpenAI request schema", err)
	}
	return nil
}

// FromCompletionResponse converts a completion response into text choices.
func FromCompletionResponse(resp openai.CompletionResponse) *llm.RawResponse {
	choices := lo.Map(resp.Choices, func(c openai.CompletionChoice, _ int) llm.Choice {
		return llm.NewTextChoice(c.Index, c.FinishReason, c.Text, fromLogprobResult(c.LogProbs))
	})
	return &llm.RawResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Mode:    llm.ModeText,
		Choices: choices,
		Usage:   fromUsage(resp.Usage),
	}
}

// FromChatCompletionResponse converts a chat completion response into chat choices.
func FromChatCompletionResponse(resp openai.ChatCompletionResponse) *llm.RawResponse {
	choices := lo.Map(resp.Choices, func(c openai.ChatCompletionChoice, _ int) llm.Choice {
		return llm.NewChatChoice(c.Index, string(c.FinishReason), c.Message.Content)
	})
	return &llm.RawResponse{
		ID:      resp.ID,
		Model:   resp.Model,
		Mode:    llm.ModeChat,
		Choices: choices,
		Usage:   fromUsage(&resp.Usage),
	}
}

func fromLogprobResult(lp openai.LogprobResult) *llm.LogProbs {
	if len(lp.TokenLogprobs) == 0 {
		return nil
	}
	return &llm.LogProbs{
		Tokens: lp.Tokens,
		TokenLogProbs: lo.Map(lp.TokenLogprobs, func(p float32, _ int) float64 {
			return float64(p)
		}),
	}
}

// fromUsage returns nil when the response carried no usage block.
func fromUsage(u *openai.Usage) *llm.Usage {
	if u == nil {
		return nil
	}
	return &llm.Usage{
		InputTokens:  int64(u.PromptTokens),
		OutputTokens: int64(u.CompletionTokens),
	}
}
