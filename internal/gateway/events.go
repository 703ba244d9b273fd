// ABOUTME: SSE session draining plus the broadcast and subscription endpoints
// ABOUTME: Forwards registry events to clients and exposes Broadcast and SendTo over HTTP

package gateway

import (
	"context"
	"encoding/json"
	"io"
	"mime"
	"net/http"
	"strings"

	"github.com/2389/llm-gateway/internal/stream"
)

// maxMessageBody bounds broadcast and targeted message bodies.
const maxMessageBody = 1 << 20

// MessageRequest is the JSON request body for POST /broadcast and POST /events/{id}.
type MessageRequest struct {
	Message string `json:"message"`
}

// BroadcastResponse is the JSON response for POST /broadcast.
type BroadcastResponse struct {
	Delivered int `json:"delivered"`
}

// SendToResponse is the JSON response for POST /events/{id}.
type SendToResponse struct {
	Delivered bool `json:"delivered"`
}

// setSSEHeaders sets the headers for an event stream response.
func setSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// drainSession forwards sub's events to the client until the terminal event
// is written, the session is removed, or the client goes away. Exactly one
// data: [DONE] frame ends the response unless the client disconnected.
func (g *Gateway) drainSession(ctx context.Context, w io.Writer, flusher http.Flusher, sub *stream.Subscriber) {
	for {
		select {
		case <-ctx.Done():
			return

		case ev := <-sub.Events():
			if !g.forwardEvent(w, flusher, sub, ev) {
				return
			}

		case <-sub.Done():
			// Events enqueued before removal, usually including Done, are
			// still buffered.
			for {
				select {
				case ev := <-sub.Events():
					if !g.forwardEvent(w, flusher, sub, ev) {
						return
					}
				default:
					g.forwardEvent(w, flusher, sub, stream.Done())
					return
				}
			}
		}
	}
}

// forwardEvent writes one framed event and flushes. It returns false once
// the stream is finished, either because ev was Done or the write failed.
func (g *Gateway) forwardEvent(w io.Writer, flusher http.Flusher, sub *stream.Subscriber, ev stream.Event) bool {
	if _, err := ev.WriteTo(w); err != nil {
		g.logger.Debug("failed to write event", "session_id", sub.ID(), "kind", ev.Kind.String(), "error", err)
		return false
	}
	flusher.Flush()
	return ev.Kind != stream.EventDone
}

// handleEvents streams broadcast and targeted messages to a standalone
// subscriber. The first frame is ": connected <id>", the id to use with
// POST /events/{id}.
func (g *Gateway) handleEvents(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		g.logger.Error("streaming not supported")
		g.sendJSONError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	sub := g.registry.Register()
	defer sub.Disconnect()

	g.logger.Debug("event subscriber connected", "session_id", sub.ID())

	setSSEHeaders(w)
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	g.drainSession(r.Context(), w, flusher, sub)
}

// handleBroadcast pushes a message to every registered session.
func (g *Gateway) handleBroadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	msg, ok := g.readMessage(w, r)
	if !ok {
		return
	}

	delivered := g.registry.Broadcast(msg)
	g.logger.Info("broadcast sent", "delivered", delivered, "sessions", g.registry.Len())
	g.writeJSON(w, http.StatusOK, BroadcastResponse{Delivered: delivered})
}

// handleSendTo pushes a message to one session. Delivery is best effort, so
// the request is accepted whether or not the session took it.
func (g *Gateway) handleSendTo(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	msg, ok := g.readMessage(w, r)
	if !ok {
		return
	}

	delivered := g.registry.SendTo(r.PathValue("id"), msg)
	g.writeJSON(w, http.StatusAccepted, SendToResponse{Delivered: delivered})
}

// readMessage extracts the message from a JSON {"message": ...} body or,
// for any other content type, the raw body text. It writes a 400 and
// returns false when the message is missing.
func (g *Gateway) readMessage(w http.ResponseWriter, r *http.Request) (string, bool) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxMessageBody))
	if err != nil {
		g.sendJSONError(w, http.StatusBadRequest, "invalid request body")
		return "", false
	}

	msg := string(body)
	if mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type")); mediaType == "application/json" {
		var req MessageRequest
		if err := json.Unmarshal(body, &req); err != nil {
			g.sendJSONError(w, http.StatusBadRequest, "invalid JSON body")
			return "", false
		}
		msg = req.Message
	}

	msg = strings.TrimSpace(msg)
	if msg == "" {
		g.sendJSONError(w, http.StatusBadRequest, "message is required")
		return "", false
	}
	return msg, true
}
