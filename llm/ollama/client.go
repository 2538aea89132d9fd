package ollama

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	"github.com/hal9ai/dspy/llm"
	"github.com/ollama/ollama/api"
)

// OllamaClient implements llm.Provider for a local Ollama server.
// Ollama returns a single candidate per request, so n>1 issues n requests.
type OllamaClient struct {
	client *api.Client
}

// NewOllamaClient creates a new OllamaClient.
// If host is empty, it will use the default from environment (OLLAMA_HOST or http://localhost:11434).
func NewOllamaClient(host string) (*OllamaClient, error) {
	if host == "" {
		client, err := api.ClientFromEnvironment()
		if err != nil {
			return nil, llm.NewConfigurationError("failed to create ollama client", err)
		}
		return &OllamaClient{client: client}, nil
	}

	baseURL, err := parseHost(host)
	if err != nil {
		return nil, llm.NewConfigurationError("invalid host", err)
	}
	return &OllamaClient{client: api.NewClient(baseURL, &http.Client{})}, nil
}

// parseHost parses a host string into a URL.
func parseHost(host string) (*url.URL, error) {
	// If host doesn't have a scheme, add http://
	if !strings.HasPrefix(host, "http://") && !strings.HasPrefix(host, "https://") {
		host = "http://" + host
	}
	return url.Parse(host)
}

// CreateTextCompletion implements llm.Provider.CreateTextCompletion using /api/generate.
func (c *OllamaClient) CreateTextCompletion(ctx context.Context, opts llm.Options) (*llm.RawResponse, error) {
	model, err := modelOf(opts)
	if err != nil {
		return nil, err
	}
	prompt, _ := opts["prompt"].(string)

	resp := &llm.RawResponse{Model: model, Mode: llm.ModeText, Usage: &llm.Usage{}}
	for i := 0; i < opts.Int("n", 1); i++ {
		req := &api.GenerateRequest{
			Model:   model,
			Prompt:  prompt,
			Stream:  new(bool), // false for non-streaming
			Options: ToOllamaOptions(opts),
		}

		var genResp api.GenerateResponse
		err := c.client.Generate(ctx, req, func(r api.GenerateResponse) error {
			genResp = r
			return nil
		})
		if err != nil {
			return nil, convertOllamaError(err)
		}

		resp.Choices = append(resp.Choices, llm.NewTextChoice(i, genResp.DoneReason, genResp.Response, nil))
		resp.Usage.InputTokens += int64(genResp.PromptEvalCount)
		resp.Usage.OutputTokens += int64(genResp.EvalCount)
	}
	return resp, nil
}

// CreateChatCompletion implements llm.Provider.CreateChatCompletion using /api/chat.
func (c *OllamaClient) CreateChatCompletion(ctx context.Context, opts llm.Options) (*llm.RawResponse, error) {
	model, err := modelOf(opts)
	if err != nil {
		return nil, err
	}
	msgs, err := ToOllamaMessages(opts["messages"])
	if err != nil {
		return nil, err
	}

	resp := &llm.RawResponse{Model: model, Mode: llm.ModeChat, Usage: &llm.Usage{}}
	for i := 0; i < opts.Int("n", 1); i++ {
		req := &api.ChatRequest{
			Model:    model,
			Messages: msgs,
			Stream:   new(bool),
			Options:  ToOllamaOptions(opts),
		}

		var chatResp api.ChatResponse
		err := c.client.Chat(ctx, req, func(r api.ChatResponse) error {
			chatResp = r
			return nil
		})
		if err != nil {
			return nil, convertOllamaError(err)
		}

		resp.Choices = append(resp.Choices, llm.NewChatChoice(i, chatResp.DoneReason, chatResp.Message.Content))
		resp.Usage.InputTokens += int64(chatResp.PromptEvalCount)
		resp.Usage.OutputTokens += int64(chatResp.EvalCount)
	}
	return resp, nil
}

func modelOf(opts llm.Options) (string, error) {
	model, _ := opts["model"].(string)
	if model == "" {
		return "", llm.NewConfigurationError("model is required", nil)
	}
	return model, nil
}

// convertOllamaError converts Ollama client errors to llm.Error types.
func convertOllamaError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return llm.NewProviderError("ollama request cancelled", err)
	}

	var statusErr api.StatusError
	if errors.As(err, &statusErr) {
		switch {
		case statusErr.StatusCode == http.StatusTooManyRequests:
			return llm.NewRateLimitError(fmt.Sprintf("ollama rate limit: %s", statusErr.ErrorMessage), nil, err)
		case statusErr.StatusCode >= http.StatusInternalServerError:
			return llm.NewServerError(fmt.Sprintf("ollama server error: %s", statusErr.ErrorMessage), statusErr.StatusCode, err)
		default:
			return &llm.Error{
				Type:        llm.ErrorTypeInvalidRequest,
				Message:     fmt.Sprintf("ollama invalid request: %s", statusErr.ErrorMessage),
				StatusCode:  statusErr.StatusCode,
				ProviderErr: err,
			}
		}
	}

	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) {
		return llm.NewNetworkError("ollama communication error", err)
	}
	return llm.NewProviderError("ollama request failed", err)
}

// Ensure OllamaClient implements llm.Provider
var _ llm.Provider = (*OllamaClient)(nil)
