// Package backend is a minimal client for OpenAI-compatible chat completion
// servers. It knows the wire shapes and the SSE framing of streamed
// completions and nothing about the gateway's own model names or prompts.
package backend
