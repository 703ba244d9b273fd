// ABOUTME: Persona allow-list and outbound prompt construction
// ABOUTME: Maps gateway model names to system instructions and strips caller system messages

package relay

import (
	"errors"
	"slices"

	"github.com/2389/llm-gateway/internal/backend"
)

// ErrModelNotSupported is returned for model names outside the allow-list.
var ErrModelNotSupported = errors.New("model not supported")

const (
	ModelProgrammer = "programmer"
	ModelSysadmin   = "sysadmin"
)

// SupportedModels is the allow-list of persona names, in listing order.
var SupportedModels = []string{ModelProgrammer, ModelSysadmin}

const (
	programmerPrompt = "You are top notch software engineer in the world, you can give recommendation and best practice in programming and will give concise and optimized code example when needed. And always response in Bahasa Indonesia."
	sysadminPrompt   = "You are top notch sysadmin in the world, you can give recommendation and best practice in system administration and devops, and will give concise and optimized code example when needed. And always response in Bahasa Indonesia."
	defaultPrompt    = "You are a helpful assistant."
)

// IsSupported reports whether model is on the allow-list.
func IsSupported(model string) bool {
	return slices.Contains(SupportedModels, model)
}

// SystemPrompt returns the system instruction for a persona.
func SystemPrompt(model string) string {
	switch model {
	case ModelProgrammer:
		return programmerPrompt
	case ModelSysadmin:
		return sysadminPrompt
	default:
		return defaultPrompt
	}
}

// BuildRequest turns a gateway request into the backend request: the
// persona's system instruction first, then the caller's non-system messages
// in order, addressed to backendModel.
func BuildRequest(req *ChatRequest, backendModel string) backend.ChatRequest {
	messages := make([]backend.Message, 0, len(req.Messages)+1)
	messages = append(messages, backend.Message{
		Role:    "system",
		Content: SystemPrompt(req.Model),
	})
	for _, m := range req.Messages {
		if m.Role == "system" {
			continue
		}
		messages = append(messages, backend.Message{
			Role:       m.Role,
			Content:    string(m.Content),
			Name:       m.Name,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
		})
	}

	return backend.ChatRequest{
		Model:       backendModel,
		Messages:    messages,
		Stream:      req.Stream,
		Temperature: req.Temperature,
		TopP:        req.TopP,
		MaxTokens:   req.MaxTokens,
		Stop:        req.Stop,
	}
}

// Models returns the allow-list in /models form.
func Models() ModelList {
	data := make([]ModelInfo, 0, len(SupportedModels))
	for _, id := range SupportedModels {
		data = append(data, ModelInfo{ID: id, Object: "model", Created: 0, OwnedBy: "llm-gateway"})
	}
	return ModelList{Object: "list", Data: data}
}
