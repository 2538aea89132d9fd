package llm

import (
	"encoding/json"
	"strings"
)

// Mode selects the wire shape of a request: a chat conversation or a plain text completion.
type Mode string

const (
	ModeChat Mode = "chat"
	ModeText Mode = "text"
)

// ParseMode converts a user supplied mode name into a Mode.
func ParseMode(s string) (Mode, error) {
	switch Mode(strings.ToLower(strings.TrimSpace(s))) {
	case ModeChat:
		return ModeChat, nil
	case ModeText:
		return ModeText, nil
	default:
		return "", NewConfigurationError("unknown model type "+s, nil)
	}
}

// DefaultMode guesses the request mode from the model name.
// Chat-family models use chat mode unless they are instruct variants.
func DefaultMode(model string) Mode {
	chatFamily := strings.Contains(model, "gpt-3.5") ||
		strings.Contains(model, "turbo") ||
		strings.Contains(model, "gpt-4")
	if chatFamily && !strings.Contains(model, "instruct") {
		return ModeChat
	}
	return ModeText
}

// MessageRole represents the role of a message in a conversation.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
)

// Message is a single chat message as it appears on the wire.
type Message struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// NewTextMessage creates a new message with text content.
func NewTextMessage(role MessageRole, text string) Message {
	return Message{Role: role, Content: text}
}

// ChoiceType tags which variant of Choice is populated.
type ChoiceType string

const (
	ChoiceTypeChat ChoiceType = "chat"
	ChoiceTypeText ChoiceType = "text"
)

// FinishReasonLength is reported when generation stopped at the token budget.
const FinishReasonLength = "length"

// Choice is one candidate completion. Exactly one of Chat or Text is set, matching Type.
type Choice struct {
	Type         ChoiceType  `json:"type"`
	Index        int         `json:"index"`
	FinishReason string      `json:"finish_reason"`
	Chat         *ChatChoice `json:"chat,omitempty"`
	Text         *TextChoice `json:"text,omitempty"`
}

// ChatChoice is the message produced by a chat completion.
type ChatChoice struct {
	Role    MessageRole `json:"role"`
	Content string      `json:"content"`
}

// TextChoice is the output of a classic text completion.
type TextChoice struct {
	Text     string    `json:"text"`
	LogProbs *LogProbs `json:"logprobs,omitempty"`
}

// LogProbs holds token level log-probabilities for a text completion.
type LogProbs struct {
	Tokens        []string  `json:"tokens"`
	TokenLogProbs []float64 `json:"token_logprobs"`
}

// NewChatChoice creates a chat choice.
func NewChatChoice(index int, finishReason, content string) Choice {
	return Choice{
		Type:         ChoiceTypeChat,
		Index:        index,
		FinishReason: finishReason,
		Chat:         &ChatChoice{Role: RoleAssistant, Content: content},
	}
}

// NewTextChoice creates a text choice. logProbs may be nil.
func NewTextChoice(index int, finishReason, text string, logProbs *LogProbs) Choice {
	return Choice{
		Type:         ChoiceTypeText,
		Index:        index,
		FinishReason: finishReason,
		Text:         &TextChoice{Text: text, LogProbs: logProbs},
	}
}

// Content returns the display text of the choice.
func (c Choice) Content() string {
	switch c.Type {
	case ChoiceTypeChat:
		if c.Chat != nil {
			return c.Chat.Content
		}
	case ChoiceTypeText:
		if c.Text != nil {
			return c.Text.Text
		}
	}
	return ""
}

// Truncated reports whether generation was cut off by the token budget.
func (c Choice) Truncated() bool {
	return c.FinishReason == FinishReasonLength
}

// TokenLogProbs returns the token sequence and log-probabilities, if the provider returned them.
func (c Choice) TokenLogProbs() ([]string, []float64, bool) {
	if c.Type != ChoiceTypeText || c.Text == nil || c.Text.LogProbs == nil {
		return nil, nil, false
	}
	lp := c.Text.LogProbs
	if len(lp.TokenLogProbs) == 0 {
		return nil, nil, false
	}
	return lp.Tokens, lp.TokenLogProbs, true
}

// Usage represents token usage information from an LLM response.
type Usage struct {
	InputTokens  int64 `json:"input_tokens"`
	OutputTokens int64 `json:"output_tokens"`
}

// RawResponse is the provider response as cached and recorded in history.
type RawResponse struct {
	ID      string   `json:"id,omitempty"`
	Model   string   `json:"model,omitempty"`
	Mode    Mode     `json:"mode"`
	Choices []Choice `json:"choices"`
	Usage   *Usage   `json:"usage,omitempty"`
}

// Marshal encodes the response for a persistent cache tier.
func (r *RawResponse) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Clone returns a deep copy of r.
func (r *RawResponse) Clone() *RawResponse {
	if r == nil {
		return nil
	}
	out := *r
	if r.Usage != nil {
		usage := *r.Usage
		out.Usage = &usage
	}
	out.Choices = make([]Choice, len(r.Choices))
	for i, c := range r.Choices {
		if c.Chat != nil {
			chat := *c.Chat
			c.Chat = &chat
		}
		if c.Text != nil {
			text := *c.Text
			if text.LogProbs != nil {
				text.LogProbs = &LogProbs{
					Tokens:        append([]string(nil), text.LogProbs.Tokens...),
					TokenLogProbs: append([]float64(nil), text.LogProbs.TokenLogProbs...),
				}
			}
			c.Text = &text
		}
		out.Choices[i] = c
	}
	return &out
}

// UnmarshalRawResponse decodes a response written by Marshal.
func UnmarshalRawResponse(data []byte) (*RawResponse, error) {
	var resp RawResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
