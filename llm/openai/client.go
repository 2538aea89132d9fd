package openai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"

	"github.com/hal9ai/dspy/llm"
	openai "github.com/sashabaranov/go-openai"
)

// OpenAIClient implements llm.Provider for the OpenAI API and Azure OpenAI deployments.
type OpenAIClient struct {
	client *openai.Client
	name   string
}

// NewOpenAIClient creates a client for the public OpenAI API.
// If baseURL is empty, it will use the default OpenAI API endpoint.
func NewOpenAIClient(apiKey, baseURL, organization string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, llm.NewConfigurationError("api key is required", nil)
	}

	config := openai.DefaultConfig(apiKey)

	// Set custom base URL if provided
	if baseURL != "" {
		config.BaseURL = baseURL
	}

	// Set organization if provided
	if organization != "" {
		config.OrgID = organization
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		name:   llm.ProviderOpenAI,
	}, nil
}

// NewAzureClient creates a client for an Azure OpenAI resource. The request "model"
// option is used verbatim as the deployment name.
func NewAzureClient(apiKey, endpoint, apiVersion string) (*OpenAIClient, error) {
	if apiKey == "" {
		return nil, llm.NewConfigurationError("api key is required", nil)
	}
	if endpoint == "" {
		return nil, llm.NewConfigurationError("azure endpoint is required", nil)
	}
	if apiVersion == "" {
		return nil, llm.NewConfigurationError("azure api version is required", nil)
	}

	config := openai.DefaultAzureConfig(apiKey, endpoint)
	config.APIVersion = apiVersion
	config.AzureModelMapperFunc = func(model string) string {
		return model
	}

	return &OpenAIClient{
		client: openai.NewClientWithConfig(config),
		name:   llm.ProviderAzure,
	}, nil
}

// NewFromKey creates the client variant described by a resolved registry key.
func NewFromKey(key *llm.ClientKey) (*OpenAIClient, error) {
	switch key.Provider {
	case llm.ProviderOpenAI:
		return NewOpenAIClient(key.APIKey, key.BaseURL, key.Organization)
	case llm.ProviderAzure:
		return NewAzureClient(key.APIKey, key.BaseURL, key.APIVersion)
	default:
		return nil, llm.NewConfigurationError(fmt.Sprintf("provider %s is not served by the openai client", key.Provider), nil)
	}
}

// Name returns "openai" or "azure".
func (c *OpenAIClient) Name() string {
	return c.name
}

// CreateTextCompletion implements llm.Provider.CreateTextCompletion.
func (c *OpenAIClient) CreateTextCompletion(ctx context.Context, opts llm.Options) (*llm.RawResponse, error) {
	req, err := ToCompletionRequest(opts)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.CreateCompletion(ctx, req)
	if err != nil {
		return nil, convertOpenAIError(err)
	}
	return FromCompletionResponse(resp), nil
}

// CreateChatCompletion implements llm.Provider.CreateChatCompletion.
func (c *OpenAIClient) CreateChatCompletion(ctx context.Context, opts llm.Options) (*llm.RawResponse, error) {
	req, err := ToChatCompletionRequest(opts)
	if err != nil {
		return nil, err
	}

	resp, err := c.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return nil, convertOpenAIError(err)
	}
	return FromChatCompletionResponse(resp), nil
}

// convertOpenAIError converts OpenAI API errors to llm.Error types.
func convertOpenAIError(err error) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return llm.NewProviderError("OpenAI request cancelled", err)
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return fromStatusCode(reqErr.HTTPStatusCode, reqErr.Error(), err)
	}

	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return fromStatusCode(apiErr.HTTPStatusCode, apiErr.Message, err)
	}

	// Transport failures never produced a well-formed answer and are worth retrying
	var urlErr *url.Error
	var netErr net.Error
	if errors.As(err, &urlErr) || errors.As(err, &netErr) ||
		errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return llm.NewNetworkError("OpenAI communication error", err)
	}

	// Client-side validation errors from the SDK (unsupported model, bad prompt type)
	return &llm.Error{
		Type:        llm.ErrorTypeInvalidRequest,
		Message:     "OpenAI request rejected",
		ProviderErr: err,
	}
}

func fromStatusCode(status int, message string, err error) error {
	switch status {
	case http.StatusTooManyRequests:
		// The SDK error does not carry response headers, so no Retry-After hint is available
		return llm.NewRateLimitError(fmt.Sprintf("OpenAI rate limit: %s", message), nil, err)
	case http.StatusInternalServerError, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
		return llm.NewServerError(fmt.Sprintf("OpenAI server error: %s", message), status, err)
	case http.StatusBadRequest, http.StatusNotFound, http.StatusUnprocessableEntity:
		return &llm.Error{
			Type:        llm.ErrorTypeInvalidRequest,
			Message:     fmt.Sprintf("OpenAI invalid request: %s", message),
			StatusCode:  status,
			ProviderErr: err,
		}
	case http.StatusUnauthorized, http.StatusForbidden:
		return &llm.Error{
			Type:        llm.ErrorTypeAuthentication,
			Message:     fmt.Sprintf("OpenAI authentication failed: %s", message),
			StatusCode:  status,
			ProviderErr: err,
		}
	default:
		return &llm.Error{
			Type:        llm.ErrorTypeProvider,
			Message:     fmt.Sprintf("OpenAI API error: %s", message),
			StatusCode:  status,
			ProviderErr: err,
		}
	}
}

// Ensure OpenAIClient implements llm.Provider
var _ llm.Provider = (*OpenAIClient)(nil)
