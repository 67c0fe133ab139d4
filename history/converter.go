package history

import (
	"fmt"
	"time"

	"github.com/deskhive/deskhive/types"
)

// Format selects the output shape of the converter.
type Format string

const (
	// FormatDetailed preserves full metadata.
	FormatDetailed Format = "detailed"
	// FormatSimple keeps role/content pairs only.
	FormatSimple Format = "simple"
	// FormatModelNative produces request/response envelopes consumable
	// directly by an LLM runtime.
	FormatModelNative Format = "model_native"
)

// DetailedMessage carries the full message metadata.
type DetailedMessage struct {
	Role        types.Role         `json:"role"`
	Content     string             `json:"content"`
	Timestamp   time.Time          `json:"timestamp"`
	ToolCalls   []types.ToolCall   `json:"tool_calls,omitempty"`
	Attachments []types.Attachment `json:"attachments,omitempty"`
}

// SimpleMessage is the minimal shape for a chat-completion call.
type SimpleMessage struct {
	Role    types.Role `json:"role"`
	Content string     `json:"content"`
}

// RequestPart is a part of a model-native request envelope.
type RequestPart struct {
	Type      string    `json:"type"` // "user_prompt"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// ResponsePart is a part of a model-native response envelope.
type ResponsePart struct {
	Type    string `json:"type"` // "text"
	Content string `json:"content"`
}

// ModelRequest is the model-native request envelope for a user message.
type ModelRequest struct {
	Parts []RequestPart `json:"parts"`
}

// ModelResponse is the model-native response envelope for an assistant
// message. Usage is a zero marker: token accounting is not
// reconstructed retroactively.
type ModelResponse struct {
	Parts     []ResponsePart   `json:"parts"`
	Usage     types.TokenUsage `json:"usage"`
	Model     string           `json:"model"`
	Timestamp time.Time        `json:"timestamp"`
}

// EnvelopeKind discriminates model-native envelopes.
type EnvelopeKind string

const (
	EnvelopeRequest  EnvelopeKind = "request"
	EnvelopeResponse EnvelopeKind = "response"
)

// ModelEnvelope wraps either a request or a response.
type ModelEnvelope struct {
	Kind     EnvelopeKind   `json:"kind"`
	Request  *ModelRequest  `json:"request,omitempty"`
	Response *ModelResponse `json:"response,omitempty"`
}

// modelPlaceholder marks responses whose producing model is unknown.
const modelPlaceholder = "unknown"

// Converter transforms persisted messages into consumer shapes.
type Converter struct {
	// now is test-injectable for timestamp defaulting.
	now func() time.Time
}

// NewConverter creates a converter.
func NewConverter() *Converter {
	return &Converter{now: func() time.Time { return time.Now().UTC() }}
}

// Convert reshapes messages into the requested format. The concrete
// element type depends on the format; callers wanting static types use
// ToDetailed, ToSimple or ToModelNative directly.
func (c *Converter) Convert(msgs []types.Message, format Format) (any, error) {
	switch format {
	case FormatDetailed:
		return c.ToDetailed(msgs), nil
	case FormatSimple:
		return c.ToSimple(msgs), nil
	case FormatModelNative:
		return c.ToModelNative(msgs), nil
	default:
		return nil, fmt.Errorf("unknown message format: %s", format)
	}
}

// ToDetailed preserves role, content, timestamp, tool calls and
// attachments.
func (c *Converter) ToDetailed(msgs []types.Message) []DetailedMessage {
	out := make([]DetailedMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, DetailedMessage{
			Role:        m.Role,
			Content:     m.Content,
			Timestamp:   c.timestampOf(m),
			ToolCalls:   m.ToolCalls,
			Attachments: m.Attachments,
		})
	}
	return out
}

// ToSimple keeps role/content pairs only.
func (c *Converter) ToSimple(msgs []types.Message) []SimpleMessage {
	out := make([]SimpleMessage, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, SimpleMessage{Role: m.Role, Content: m.Content})
	}
	return out
}

// ToModelNative maps user messages to request envelopes and assistant
// messages to response envelopes. Messages with any other role are
// dropped; system messages are out-of-band for the model-native shape.
func (c *Converter) ToModelNative(msgs []types.Message) []ModelEnvelope {
	out := make([]ModelEnvelope, 0, len(msgs))
	for _, m := range msgs {
		switch m.Role {
		case types.RoleUser:
			out = append(out, ModelEnvelope{
				Kind: EnvelopeRequest,
				Request: &ModelRequest{
					Parts: []RequestPart{{
						Type:      "user_prompt",
						Content:   m.Content,
						Timestamp: c.timestampOf(m),
					}},
				},
			})
		case types.RoleAssistant:
			out = append(out, ModelEnvelope{
				Kind: EnvelopeResponse,
				Response: &ModelResponse{
					Parts:     []ResponsePart{{Type: "text", Content: m.Content}},
					Usage:     types.TokenUsage{},
					Model:     modelPlaceholder,
					Timestamp: c.timestampOf(m),
				},
			})
		}
	}
	return out
}

// timestampOf defaults a missing timestamp to "now" at conversion time.
func (c *Converter) timestampOf(m types.Message) time.Time {
	if m.CreatedAt.IsZero() {
		return c.now()
	}
	return m.CreatedAt
}
