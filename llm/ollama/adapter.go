package ollama

import (
	"encoding/json"

	"github.com/hal9ai/dspy/llm"
	"github.com/ollama/ollama/api"
)

// optionNames maps OpenAI-style option names onto Ollama model options.
var optionNames = map[string]string{
	"temperature":       "temperature",
	"max_tokens":        "num_predict",
	"top_p":             "top_p",
	"frequency_penalty": "frequency_penalty",
	"presence_penalty":  "presence_penalty",
	"stop":              "stop",
	"seed":              "seed",
}

// ToOllamaOptions translates the options Ollama understands and drops the rest.
func ToOllamaOptions(opts llm.Options) map[string]any {
	out := make(map[string]any, len(optionNames))
	for from, to := range optionNames {
		v, ok := opts[from]
		if !ok {
			continue
		}
		if n, isNumber := v.(json.Number); isNumber {
			if f, err := n.Float64(); err == nil {
				v = f
			}
		}
		out[to] = v
	}
	return out
}

// ToOllamaMessages decodes the "messages" option of a normalized chat request.
func ToOllamaMessages(raw any) ([]api.Message, error) {
	data, err := json.Marshal(raw)
	if err != nil {
		return nil, llm.NewConfigurationError("failed to encode messages", err)
	}
	var msgs []llm.Message
	if err := json.Unmarshal(data, &msgs); err != nil {
		return nil, llm.NewConfigurationError("messages option is malformed", err)
	}
	if len(msgs) == 0 {
		return nil, llm.NewConfigurationError("chat request has no messages", nil)
	}

	result := make([]api.Message, 0, len(msgs))
	for _, m := range msgs {
		result = append(result, api.Message{Role: string(m.Role), Content: m.Content})
	}
	return result, nil
}
