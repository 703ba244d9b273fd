// ABOUTME: Per-request relay between the backend and a session writer
// ABOUTME: Drives Init -> Requesting -> Streaming -> Terminated and reshapes backend output

package relay

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/2389/llm-gateway/internal/backend"
)

// Backend is the generation capability the relay drives.
type Backend interface {
	Complete(ctx context.Context, req backend.ChatRequest) (*backend.ChatCompletion, error)
	Stream(ctx context.Context, req backend.ChatRequest) (backend.ChunkStream, error)
	ListModels(ctx context.Context) ([]backend.Model, error)
}

// State is a step of a streaming relay.
type State int

const (
	StateInit State = iota
	StateRequesting
	StateStreaming
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRequesting:
		return "requesting"
	case StateStreaming:
		return "streaming"
	case StateTerminated:
		return "terminated"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Relay forwards gateway requests to the backend under the configured
// backend model name.
type Relay struct {
	backend      Backend
	backendModel string
	logger       *slog.Logger
}

// New creates a relay. Pass nil logger for slog.Default.
func New(b Backend, backendModel string, logger *slog.Logger) *Relay {
	if logger == nil {
		logger = slog.Default()
	}
	return &Relay{
		backend:      b,
		backendModel: backendModel,
		logger:       logger.With("component", "relay"),
	}
}

// Stream runs one streaming completion and writes every reshaped chunk to w
// as a JSON payload, in backend order. w is always closed before Stream
// returns, so the consumer receives the terminal marker on success, on
// backend failure and on write failure alike. Errors are for logging only;
// nothing is reported on the channel.
func (r *Relay) Stream(ctx context.Context, req *ChatRequest, w io.WriteCloser) (err error) {
	defer func() { _ = w.Close() }()

	logger := r.logger.With("model", req.Model)
	state := StateInit
	transition := func(next State) {
		logger.Debug("relay state", "from", state.String(), "to", next.String())
		state = next
	}
	defer func() {
		transition(StateTerminated)
		if err != nil {
			level := slog.LevelWarn
			// A non-retryable status means the backend will keep refusing
			// until its configuration changes.
			if errors.Is(err, backend.ErrStatus) && !backend.IsRetryable(err) {
				level = slog.LevelError
			}
			logger.Log(ctx, level, "stream relay failed", "error", err)
		}
	}()

	if !IsSupported(req.Model) {
		return fmt.Errorf("relaying %q: %w", req.Model, ErrModelNotSupported)
	}
	out := BuildRequest(req, r.backendModel)
	out.Stream = true

	transition(StateRequesting)
	chunks, err := r.backend.Stream(ctx, out)
	if err != nil {
		return fmt.Errorf("starting backend stream: %w", err)
	}
	defer func() { _ = chunks.Close() }()

	transition(StateStreaming)
	created := time.Now().Unix()
	written := 0
	for {
		chunk, err := chunks.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return fmt.Errorf("receiving chunk %d: %w", written, err)
		}

		payload, err := json.Marshal(reshapeChunk(chunk, req.Model, created))
		if err != nil {
			return fmt.Errorf("encoding chunk %d: %w", written, err)
		}
		if _, err := w.Write(payload); err != nil {
			return fmt.Errorf("writing chunk %d: %w", written, err)
		}
		written++
	}

	logger.Debug("stream relay finished", "chunks", written)
	return nil
}

// Complete runs one non-streaming completion.
func (r *Relay) Complete(ctx context.Context, req *ChatRequest) (*Completion, error) {
	if !IsSupported(req.Model) {
		return nil, fmt.Errorf("relaying %q: %w", req.Model, ErrModelNotSupported)
	}
	out := BuildRequest(req, r.backendModel)
	out.Stream = false

	resp, err := r.backend.Complete(ctx, out)
	if err != nil {
		return nil, fmt.Errorf("calling backend: %w", err)
	}
	return reshapeCompletion(resp, req.Model, time.Now().Unix()), nil
}

// Ready probes the backend by listing its models.
func (r *Relay) Ready(ctx context.Context) error {
	if _, err := r.backend.ListModels(ctx); err != nil {
		return fmt.Errorf("probing backend: %w", err)
	}
	return nil
}

// reshapeChunk copies a backend chunk into the gateway shape, reporting the
// persona name as the model and hiding the backend fingerprint. created is
// used when the backend leaves the timestamp unset; Stream picks it once so
// every chunk of a response carries the same value.
func reshapeChunk(c *backend.ChatChunk, model string, created int64) Chunk {
	out := Chunk{
		ID:      c.ID,
		Object:  c.Object,
		Created: c.Created,
		Model:   model,
		Choices: make([]ChunkChoice, 0, len(c.Choices)),
	}
	if out.Object == "" {
		out.Object = "chat.completion.chunk"
	}
	if out.Created == 0 {
		out.Created = created
	}
	for _, ch := range c.Choices {
		out.Choices = append(out.Choices, ChunkChoice{
			Index: ch.Index,
			Delta: ChunkDelta{
				Role:      ch.Delta.Role,
				Content:   ch.Delta.Content,
				ToolCalls: ch.Delta.ToolCalls,
			},
			FinishReason: ch.FinishReason,
		})
	}
	return out
}

func reshapeCompletion(c *backend.ChatCompletion, model string, created int64) *Completion {
	out := &Completion{
		ID:      c.ID,
		Object:  c.Object,
		Created: c.Created,
		Model:   model,
		Choices: make([]CompletionChoice, 0, len(c.Choices)),
		Usage:   c.Usage,
	}
	if out.Object == "" {
		out.Object = "chat.completion"
	}
	if out.Created == 0 {
		out.Created = created
	}
	for _, ch := range c.Choices {
		out.Choices = append(out.Choices, CompletionChoice{
			Index:        ch.Index,
			Message:      ch.Message,
			FinishReason: ch.FinishReason,
		})
	}
	return out
}
