package openai

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/hal9ai/dspy/llm"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) (*OpenAIClient, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := NewOpenAIClient("test-key", server.URL+"/v1", "")
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}
	return client, server
}

func TestCreateTextCompletion(t *testing.T) {
	var received map[string]any
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		body, _ := io.ReadAll(r.Body)
		if err := json.Unmarshal(body, &received); err != nil {
			t.Errorf("Request body is not JSON: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "cmpl-1",
			"object": "text_completion",
			"model": "gpt-3.5-turbo-instruct",
			"choices": [
				{"text": "Hello!", "index": 0, "finish_reason": "stop",
				 "logprobs": {"tokens": ["Hello", "!"], "token_logprobs": [-0.5, -0.25]}},
				{"text": "Hel", "index": 1, "finish_reason": "length"}
			],
			"usage": {"prompt_tokens": 3, "completion_tokens": 4, "total_tokens": 7}
		}`)
	})

	req, err := llm.Normalize("Say hi", llm.ModeText, llm.Options{
		"model": "gpt-3.5-turbo-instruct", "temperature": 0, "n": 2, "max_tokens": 150, "logprobs": 5,
	})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	opts, err := req.Options()
	if err != nil {
		t.Fatalf("Options failed: %v", err)
	}

	resp, err := client.CreateTextCompletion(context.Background(), opts)
	if err != nil {
		t.Fatalf("CreateTextCompletion failed: %v", err)
	}

	if received["prompt"] != "Say hi" {
		t.Errorf("Expected prompt on the wire, got %v", received["prompt"])
	}
	if received["n"] != float64(2) {
		t.Errorf("Expected n=2 on the wire, got %v", received["n"])
	}
	if received["logprobs"] != float64(5) {
		t.Errorf("Expected logprobs=5 on the wire, got %v", received["logprobs"])
	}

	if resp.Mode != llm.ModeText || len(resp.Choices) != 2 {
		t.Fatalf("Unexpected response %+v", resp)
	}
	first := resp.Choices[0]
	if first.Type != llm.ChoiceTypeText || first.Content() != "Hello!" || first.FinishReason != "stop" {
		t.Errorf("Unexpected first choice %+v", first)
	}
	_, probs, ok := first.TokenLogProbs()
	if !ok || len(probs) != 2 || probs[0] != -0.5 {
		t.Errorf("Expected log-probabilities to be carried over, got %v", probs)
	}
	if _, _, ok := resp.Choices[1].TokenLogProbs(); ok {
		t.Error("Expected second choice without log-probabilities")
	}
	if !resp.Choices[1].Truncated() {
		t.Error("Expected second choice to be truncated")
	}
	if resp.Usage.OutputTokens != 4 {
		t.Errorf("Expected usage to be converted, got %+v", resp.Usage)
	}
}

func TestCreateTextCompletionWithoutUsage(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "cmpl-2",
			"object": "text_completion",
			"model": "davinci-002",
			"choices": [{"text": "ok", "index": 0, "finish_reason": "stop"}]
		}`)
	})

	resp, err := client.CreateTextCompletion(context.Background(), llm.Options{"model": "davinci-002", "prompt": "x"})
	if err != nil {
		t.Fatalf("CreateTextCompletion failed: %v", err)
	}
	if resp.Usage != nil {
		t.Errorf("Expected nil usage when the response has none, got %+v", resp.Usage)
	}
	if len(resp.Choices) != 1 || resp.Choices[0].Content() != "ok" {
		t.Errorf("Unexpected choices %+v", resp.Choices)
	}
}

func TestCreateChatCompletion(t *testing.T) {
	var received struct {
		Model    string `json:"model"`
		Messages []struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"messages"`
	}
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/chat/completions" {
			t.Errorf("Unexpected path %s", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&received); err != nil {
			t.Errorf("Request body is not JSON: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"model": "gpt-4",
			"choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "Hi there"}}],
			"usage": {"prompt_tokens": 3, "completion_tokens": 2, "total_tokens": 5}
		}`)
	})

	req, err := llm.Normalize("Say hi", llm.ModeChat, llm.Options{"model": "gpt-4", "temperature": 0})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	opts, err := req.Options()
	if err != nil {
		t.Fatalf("Options failed: %v", err)
	}

	resp, err := client.CreateChatCompletion(context.Background(), opts)
	if err != nil {
		t.Fatalf("CreateChatCompletion failed: %v", err)
	}

	if received.Model != "gpt-4" {
		t.Errorf("Expected model gpt-4, got %q", received.Model)
	}
	if len(received.Messages) != 1 || received.Messages[0].Role != "user" || received.Messages[0].Content != "Say hi" {
		t.Errorf("Expected a single user message, got %+v", received.Messages)
	}
	if resp.Mode != llm.ModeChat || len(resp.Choices) != 1 {
		t.Fatalf("Unexpected response %+v", resp)
	}
	if resp.Choices[0].Type != llm.ChoiceTypeChat || resp.Choices[0].Content() != "Hi there" {
		t.Errorf("Unexpected choice %+v", resp.Choices[0])
	}
}

func TestErrorClassification(t *testing.T) {
	tests := []struct {
		name      string
		status    int
		body      string
		wantType  llm.ErrorType
		transient bool
	}{
		{"rate limit", http.StatusTooManyRequests, `{"error": {"message": "slow down", "type": "requests"}}`, llm.ErrorTypeRateLimit, true},
		{"server error", http.StatusInternalServerError, `{"error": {"message": "oops", "type": "server_error"}}`, llm.ErrorTypeServer, true},
		{"bad gateway without json", http.StatusBadGateway, `<html>bad gateway</html>`, llm.ErrorTypeServer, true},
		{"bad request", http.StatusBadRequest, `{"error": {"message": "bad", "type": "invalid_request_error"}}`, llm.ErrorTypeInvalidRequest, false},
		{"unauthorized", http.StatusUnauthorized, `{"error": {"message": "bad key", "type": "invalid_request_error"}}`, llm.ErrorTypeAuthentication, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = io.WriteString(w, tt.body)
			})

			_, err := client.CreateTextCompletion(context.Background(), llm.Options{"model": "davinci-002", "prompt": "x"})
			if err == nil {
				t.Fatal("Expected an error")
			}
			llmErr, ok := err.(*llm.Error)
			if !ok {
				t.Fatalf("Expected *llm.Error, got %T", err)
			}
			if llmErr.Type != tt.wantType {
				t.Errorf("Expected type %q, got %q (%v)", tt.wantType, llmErr.Type, err)
			}
			if llm.IsTransientError(err) != tt.transient {
				t.Errorf("Expected transient=%v for %v", tt.transient, err)
			}
			if hint := llm.ExtractRetryAfter(err); hint != nil {
				t.Errorf("Expected no Retry-After hint without a header, got %v", *hint)
			}
		})
	}
}

func TestNetworkErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	client, err := NewOpenAIClient("test-key", url+"/v1", "")
	if err != nil {
		t.Fatalf("Failed to create client: %v", err)
	}

	_, err = client.CreateTextCompletion(context.Background(), llm.Options{"model": "davinci-002", "prompt": "x"})
	if !llm.IsTransientError(err) {
		t.Errorf("Expected transient network error, got %v", err)
	}
}

func TestNewClientValidation(t *testing.T) {
	if _, err := NewOpenAIClient("", "", ""); !llm.IsConfigurationError(err) {
		t.Errorf("Expected configuration error for missing key, got %v", err)
	}
	if _, err := NewAzureClient("k", "", "2024-02-01"); !llm.IsConfigurationError(err) {
		t.Errorf("Expected configuration error for missing endpoint, got %v", err)
	}
	if _, err := NewAzureClient("k", "https://example.openai.azure.com", ""); !llm.IsConfigurationError(err) {
		t.Errorf("Expected configuration error for missing api version, got %v", err)
	}
	if _, err := NewFromKey(&llm.ClientKey{Provider: llm.ProviderOllama}); !llm.IsConfigurationError(err) {
		t.Errorf("Expected configuration error for foreign provider, got %v", err)
	}

	azure, err := NewFromKey(&llm.ClientKey{
		Provider:   llm.ProviderAzure,
		APIKey:     "k",
		BaseURL:    "https://example.openai.azure.com",
		APIVersion: "2024-02-01",
	})
	if err != nil {
		t.Fatalf("Failed to create azure client: %v", err)
	}
	if azure.Name() != llm.ProviderAzure {
		t.Errorf("Expected azure client, got %q", azure.Name())
	}
}

func TestAzureDeploymentPath(t *testing.T) {
	var path, apiVersion string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		apiVersion = r.URL.Query().Get("api-version")
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id": "x", "choices": [{"index": 0, "finish_reason": "stop", "message": {"role": "assistant", "content": "ok"}}]}`)
	}))
	defer server.Close()

	client, err := NewAzureClient("k", server.URL, "2024-02-01")
	if err != nil {
		t.Fatalf("Failed to create azure client: %v", err)
	}

	_, err = client.CreateChatCompletion(context.Background(), llm.Options{
		"model":    "my.deployment",
		"messages": []map[string]string{{"role": "user", "content": "hi"}},
	})
	if err != nil {
		t.Fatalf("CreateChatCompletion failed: %v", err)
	}
	if path != "/openai/deployments/my.deployment/chat/completions" {
		t.Errorf("Expected deployment name to be used verbatim, got path %s", path)
	}
	if apiVersion != "2024-02-01" {
		t.Errorf("Expected api-version query, got %q", apiVersion)
	}
}
