// ABOUTME: Gateway-facing request and response shapes for chat completions
// ABOUTME: Accepts string or text-part message content and converts to backend messages

package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/2389/llm-gateway/internal/backend"
)

// MessageContent is a message body sent either as a plain string or as an
// array of content parts. Only text parts are kept.
type MessageContent string

// ContentPart is one element of an array-form message body.
type ContentPart struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// UnmarshalJSON accepts a string, null, or an array of content parts.
func (c *MessageContent) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*c = ""
		return nil
	case len(data) > 0 && data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*c = MessageContent(s)
		return nil
	case len(data) > 0 && data[0] == '[':
		var parts []ContentPart
		if err := json.Unmarshal(data, &parts); err != nil {
			return fmt.Errorf("decoding content parts: %w", err)
		}
		var texts []string
		for _, p := range parts {
			if p.Type == "text" || p.Type == "" {
				texts = append(texts, p.Text)
			}
		}
		*c = MessageContent(strings.Join(texts, "\n"))
		return nil
	default:
		return errors.New("message content must be a string or an array of parts")
	}
}

// Message is one chat message as sent by a gateway client.
type Message struct {
	Role       string             `json:"role"`
	Content    MessageContent     `json:"content"`
	Name       string             `json:"name,omitempty"`
	ToolCalls  []backend.ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string             `json:"tool_call_id,omitempty"`
}

// ChatRequest is the body of POST /chat/completions. Model names a gateway
// persona, not a backend model.
type ChatRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Stream      bool      `json:"stream"`
	Temperature *float64  `json:"temperature,omitempty"`
	TopP        *float64  `json:"top_p,omitempty"`
	MaxTokens   *int      `json:"max_tokens,omitempty"`
	Stop        StopList  `json:"stop,omitempty"`
}

// StopList accepts "stop" as a single string or a list of strings.
type StopList []string

// UnmarshalJSON decodes a string or an array of strings.
func (s *StopList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*s = nil
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var one string
		if err := json.Unmarshal(data, &one); err != nil {
			return err
		}
		*s = StopList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("decoding stop: %w", err)
	}
	*s = many
	return nil
}

// ChunkDelta is the incremental part of an outgoing streaming choice.
type ChunkDelta struct {
	Role      string             `json:"role,omitempty"`
	Content   *string            `json:"content,omitempty"`
	ToolCalls []backend.ToolCall `json:"tool_calls,omitempty"`
}

// ChunkChoice is one alternative of an outgoing chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
}

// Chunk is one chat.completion.chunk event written to a session.
type Chunk struct {
	ID                string        `json:"id"`
	Object            string        `json:"object"`
	Created           int64         `json:"created"`
	Model             string        `json:"model"`
	SystemFingerprint *string       `json:"system_fingerprint"`
	Choices           []ChunkChoice `json:"choices"`
}

// CompletionChoice is one alternative of a non-streaming response.
type CompletionChoice struct {
	Index        int             `json:"index"`
	Message      backend.Message `json:"message"`
	FinishReason *string         `json:"finish_reason"`
}

// Completion is the non-streaming chat.completion response.
type Completion struct {
	ID                string             `json:"id"`
	Object            string             `json:"object"`
	Created           int64              `json:"created"`
	Model             string             `json:"model"`
	SystemFingerprint *string            `json:"system_fingerprint"`
	Choices           []CompletionChoice `json:"choices"`
	Usage             *backend.Usage     `json:"usage,omitempty"`
}

// ModelInfo is one entry of the gateway's model list.
type ModelInfo struct {
	ID      string `json:"id"`
	Object  string `json:"object"`
	Created int64  `json:"created"`
	OwnedBy string `json:"owned_by"`
}

// ModelList is the body of GET /models.
type ModelList struct {
	Object string      `json:"object"`
	Data   []ModelInfo `json:"data"`
}
