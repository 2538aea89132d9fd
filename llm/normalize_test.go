package llm

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestMergeOptions(t *testing.T) {
	defaults := DefaultOptions("gpt-3.5-turbo-instruct")
	overrides := Options{"temperature": 0.7, "n": 3, OptionModelType: "chat"}

	merged := MergeOptions(defaults, overrides)

	if merged["temperature"] != 0.7 {
		t.Errorf("Expected call-time temperature to win, got %v", merged["temperature"])
	}
	if merged["n"] != 3 {
		t.Errorf("Expected n=3, got %v", merged["n"])
	}
	if merged["max_tokens"] != 150 {
		t.Errorf("Expected default max_tokens, got %v", merged["max_tokens"])
	}
	if _, ok := merged[OptionModelType]; ok {
		t.Error("Expected model_type to be stripped")
	}
	if defaults["temperature"] != 0.0 {
		t.Error("Expected defaults to be left unmodified")
	}
	if _, ok := overrides[OptionModelType]; !ok {
		t.Error("Expected overrides to be left unmodified")
	}
}

func TestNormalizeText(t *testing.T) {
	req, err := Normalize("Say hi", ModeText, Options{"temperature": 0, "n": 1, "model": "m"})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if req.Mode != ModeText {
		t.Errorf("Expected text mode, got %q", req.Mode)
	}

	want := `{"model":"m","n":1,"prompt":"Say hi","temperature":0}`
	if req.Payload != want {
		t.Errorf("Expected payload %s, got %s", want, req.Payload)
	}

	opts, err := req.Options()
	if err != nil {
		t.Fatalf("Options failed: %v", err)
	}
	if opts["prompt"] != "Say hi" {
		t.Errorf("Expected prompt field, got %v", opts["prompt"])
	}
	if opts.Int("n", 0) != 1 {
		t.Errorf("Expected n=1 after decoding, got %v", opts["n"])
	}
}

func TestNormalizeChat(t *testing.T) {
	req, err := Normalize("Say hi", ModeChat, Options{"stop": []string{"\n"}, "model": "gpt-4"})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}

	var decoded struct {
		Model    string    `json:"model"`
		Messages []Message `json:"messages"`
	}
	if err := json.Unmarshal([]byte(req.Payload), &decoded); err != nil {
		t.Fatalf("Payload is not JSON: %v", err)
	}
	if len(decoded.Messages) != 1 {
		t.Fatalf("Expected a single message, got %d", len(decoded.Messages))
	}
	if decoded.Messages[0].Role != RoleUser || decoded.Messages[0].Content != "Say hi" {
		t.Errorf("Expected user message with prompt, got %+v", decoded.Messages[0])
	}
	if strings.Contains(req.Payload, `"prompt"`) {
		t.Error("Expected chat payload to carry no prompt field")
	}
}

func TestNormalizeTextRejectsUnhashableValues(t *testing.T) {
	_, err := Normalize("Say hi", ModeText, Options{"stop": []string{"\n"}})
	if !IsConfigurationError(err) {
		t.Fatalf("Expected configuration error, got %v", err)
	}
	if !strings.Contains(err.Error(), "stop") {
		t.Errorf("Expected error to name the option, got %q", err.Error())
	}
}

func TestNormalizeUnknownMode(t *testing.T) {
	if _, err := Normalize("x", Mode("embedding"), Options{}); !IsConfigurationError(err) {
		t.Errorf("Expected configuration error, got %v", err)
	}
}

func TestNormalizedRequestKey(t *testing.T) {
	a, err := Normalize("Say hi", ModeText, Options{"temperature": 0, "n": 1})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	b, err := Normalize("Say hi", ModeText, Options{"n": 1, "temperature": 0})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if a.Key() != b.Key() {
		t.Error("Expected identical requests to share a key")
	}

	c, err := Normalize("Say hi", ModeChat, Options{"temperature": 0, "n": 1})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if a.Key() == c.Key() {
		t.Error("Expected chat and text requests to have different keys")
	}

	d, err := Normalize("Say hello", ModeText, Options{"temperature": 0, "n": 1})
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if a.Key() == d.Key() {
		t.Error("Expected different prompts to have different keys")
	}
}

func TestOptionsInt(t *testing.T) {
	opts := Options{"a": 2, "b": 3.0, "c": json.Number("4"), "d": "five"}
	if opts.Int("a", 0) != 2 || opts.Int("b", 0) != 3 || opts.Int("c", 0) != 4 {
		t.Errorf("Unexpected integer conversions: %v", opts)
	}
	if opts.Int("d", 1) != 1 {
		t.Error("Expected fallback for non-numeric value")
	}
	if opts.Int("missing", 7) != 7 {
		t.Error("Expected fallback for missing value")
	}
}
