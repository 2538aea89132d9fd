package llm

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/samber/lo"
)

// OptionModelType is accepted in per-call overrides for compatibility but never sent.
const OptionModelType = "model_type"

// Options is a flat set of request parameters (temperature, max_tokens, n, model, ...).
type Options map[string]any

// DefaultOptions returns the per-client option set used when a caller does not override them.
func DefaultOptions(model string) Options {
	opts := Options{
		"temperature":       0.0,
		"max_tokens":        150,
		"top_p":             1,
		"frequency_penalty": 0,
		"presence_penalty":  0,
		"n":                 1,
	}
	if model != "" {
		opts["model"] = model
	}
	return opts
}

// MergeOptions layers overrides on top of defaults. Neither input is modified.
func MergeOptions(defaults, overrides Options) Options {
	overrides = lo.OmitByKeys(overrides, []string{OptionModelType})
	return lo.Assign(defaults, overrides)
}

// Int reads an integer option, accepting the numeric types JSON decoding and callers produce.
func (o Options) Int(key string, fallback int) int {
	switch v := o[key].(type) {
	case int:
		return v
	case int32:
		return int(v)
	case int64:
		return int(v)
	case float32:
		return int(v)
	case float64:
		return int(v)
	case json.Number:
		if n, err := v.Int64(); err == nil {
			return int(n)
		}
		if f, err := v.Float64(); err == nil {
			return int(f)
		}
	}
	return fallback
}

// NormalizedRequest is the canonical, cacheable form of a single completion request.
// Payload is a JSON object with sorted keys.
type NormalizedRequest struct {
	Mode    Mode
	Payload string
}

// Normalize places prompt into opts according to mode and serializes the result.
// In chat mode the prompt becomes a single user message. In text mode it is passed as
// the "prompt" field, and every option value must be a scalar.
func Normalize(prompt string, mode Mode, opts Options) (NormalizedRequest, error) {
	payload := lo.Assign(opts)

	switch mode {
	case ModeChat:
		payload["messages"] = []Message{NewTextMessage(RoleUser, prompt)}
	case ModeText:
		for key, value := range opts {
			if !isScalar(value) {
				return NormalizedRequest{}, NewConfigurationError(
					fmt.Sprintf("option %q has unhashable value of type %T", key, value), nil)
			}
		}
		payload["prompt"] = prompt
	default:
		return NormalizedRequest{}, NewConfigurationError(fmt.Sprintf("unknown mode %q", mode), nil)
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return NormalizedRequest{}, NewConfigurationError("failed to serialize request options", err)
	}
	return NormalizedRequest{Mode: mode, Payload: string(data)}, nil
}

// Key derives the cache key for the request.
func (r NormalizedRequest) Key() string {
	sum := sha256.Sum256([]byte(string(r.Mode) + "\n" + r.Payload))
	return hex.EncodeToString(sum[:])
}

// Options decodes the payload back into a wire option set. Numbers decode as json.Number.
func (r NormalizedRequest) Options() (Options, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(r.Payload)))
	dec.UseNumber()
	var opts Options
	if err := dec.Decode(&opts); err != nil {
		return nil, NewConfigurationError("failed to decode normalized request", err)
	}
	return opts, nil
}

func isScalar(v any) bool {
	switch v.(type) {
	case nil, string, bool, json.Number,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return true
	default:
		return false
	}
}
