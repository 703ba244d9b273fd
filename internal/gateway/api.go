// ABOUTME: HTTP API handlers for chat completions, models, hit stats and the index page
// ABOUTME: Streaming completions run the relay into a registry session drained as SSE

package gateway

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
	"time"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/extension"

	"github.com/2389/llm-gateway/internal/auth"
	"github.com/2389/llm-gateway/internal/backend"
	"github.com/2389/llm-gateway/internal/relay"
)

// maxRequestBody bounds chat request bodies.
const maxRequestBody = 4 << 20

//go:embed index.md
var indexMarkdown []byte

var indexTemplate = template.Must(template.New("index").Parse(`<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>llm-gateway</title></head>
<body>
{{.}}
</body>
</html>
`))

// HitResponse is one counter in the GET /stats/hits response.
type HitResponse struct {
	Path     string    `json:"path"`
	Count    int64     `json:"count"`
	LastSeen time.Time `json:"last_seen"`
}

// HitsResponse is the JSON response for GET /stats/hits.
type HitsResponse struct {
	KeyName string        `json:"key_name"`
	Hits    []HitResponse `json:"hits"`
}

// renderIndex converts the embedded Markdown landing page to HTML.
func renderIndex() ([]byte, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))

	var body bytes.Buffer
	if err := md.Convert(indexMarkdown, &body); err != nil {
		return nil, fmt.Errorf("rendering index page: %w", err)
	}

	var page bytes.Buffer
	if err := indexTemplate.Execute(&page, template.HTML(body.String())); err != nil {
		return nil, fmt.Errorf("rendering index page: %w", err)
	}
	return page.Bytes(), nil
}

// handleIndex serves the rendered landing page.
func (g *Gateway) handleIndex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(g.indexHTML)
}

// handleChatCompletions handles POST /chat/completions.
//
// Unsupported models are rejected before any session exists. Streaming
// requests register a session, run the relay in its own goroutine and drain
// the session to the client as SSE; the relay closes its writer on every exit
// path so the stream always ends with data: [DONE].
func (g *Gateway) handleChatCompletions(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req relay.ChatRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}

	if !relay.IsSupported(req.Model) {
		sendModelNotSupported(w)
		return
	}

	g.recordHit(r)

	if !req.Stream {
		g.completeChat(w, r, &req)
		return
	}

	// Check streaming support before registering (fail fast)
	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub := g.registry.Register()
	defer sub.Disconnect()

	writer := g.registry.NewWriter(r.Context(), sub.ID())
	go func() {
		_ = g.relay.Stream(r.Context(), &req, writer)
	}()

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	g.drainSession(r.Context(), w, flusher, sub)
}

// completeChat runs a non-streaming completion and writes it as JSON.
func (g *Gateway) completeChat(w http.ResponseWriter, r *http.Request, req *relay.ChatRequest) {
	completion, err := g.relay.Complete(r.Context(), req)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		level := slog.LevelError
		if backend.IsRetryable(err) {
			level = slog.LevelWarn
		}
		g.logger.Log(r.Context(), level, "completion failed", "model", req.Model, "error", err)
		status := http.StatusBadGateway
		var statusErr *backend.StatusError
		if errors.As(err, &statusErr) && statusErr.StatusCode == http.StatusTooManyRequests {
			status = http.StatusTooManyRequests
		}
		g.sendJSONError(w, status, "backend request failed")
		return
	}
	g.writeJSON(w, http.StatusOK, completion)
}

// recordHit bumps the caller's counter for this path. A failing store only
// costs the statistic, never the request.
func (g *Gateway) recordHit(r *http.Request) {
	authCtx := auth.FromContext(r.Context())
	if authCtx == nil {
		return
	}
	count, err := g.store.IncrementHit(r.Context(), r.URL.Path, authCtx.KeyName)
	if err != nil {
		g.logger.Warn("failed to record hit", "path", r.URL.Path, "key", authCtx.KeyName, "error", err)
		return
	}
	g.logger.Debug("hit recorded", "path", r.URL.Path, "key", authCtx.KeyName, "count", count)
}

// handleModels lists the gateway's personas.
func (g *Gateway) handleModels(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	g.writeJSON(w, http.StatusOK, relay.Models())
}

// handleHits returns the caller's request counters. Admins may pass
// ?key=<name> to inspect another key.
func (g *Gateway) handleHits(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	authCtx := auth.FromContext(r.Context())
	keyName := authCtx.KeyName
	if other := r.URL.Query().Get("key"); other != "" && other != keyName {
		if !authCtx.IsAdmin() {
			g.sendJSONError(w, http.StatusForbidden, "admin permission required")
			return
		}
		keyName = other
	}

	hits, err := g.store.ListHits(r.Context(), keyName)
	if err != nil {
		g.logger.Error("failed to list hits", "key", keyName, "error", err)
		g.sendJSONError(w, http.StatusInternalServerError, "internal server error")
		return
	}

	resp := HitsResponse{KeyName: keyName, Hits: make([]HitResponse, 0, len(hits))}
	for _, h := range hits {
		resp.Hits = append(resp.Hits, HitResponse{Path: h.Path, Count: h.Count, LastSeen: h.LastSeen})
	}
	g.writeJSON(w, http.StatusOK, resp)
}

// sendModelNotSupported writes the plain-text rejection OpenAI clients of
// the gateway already match on.
func sendModelNotSupported(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusBadRequest)
	_, _ = w.Write([]byte("Model not supported"))
}

// writeJSON writes v as a JSON response with the given status.
func (g *Gateway) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		g.logger.Debug("failed to write response", "error", err)
	}
}

// sendJSONError writes a JSON error response.
func (g *Gateway) sendJSONError(w http.ResponseWriter, status int, message string) {
	g.writeJSON(w, status, map[string]string{"error": message})
}
