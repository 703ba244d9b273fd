// ABOUTME: Incremental reader for the backend's server-sent event stream
// ABOUTME: Parses data: lines into ChatChunk values until the [DONE] marker

package backend

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
)

// ChunkStream yields the fragments of one streaming completion.
type ChunkStream interface {
	// Recv returns the next chunk, or io.EOF once the stream has ended.
	Recv() (*ChatChunk, error)
	Close() error
}

type chunkReader struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	done    bool
}

func newChunkReader(body io.ReadCloser) *chunkReader {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), 2*1024*1024)
	return &chunkReader{body: body, scanner: scanner}
}

// streamFrame is a chunk that may instead carry an inline error, which some
// OpenAI-compatible servers emit mid-stream.
type streamFrame struct {
	ChatChunk
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (r *chunkReader) Recv() (*ChatChunk, error) {
	if r.done {
		return nil, io.EOF
	}
	for r.scanner.Scan() {
		line := strings.TrimSpace(r.scanner.Text())
		if line == "" || !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if data == "[DONE]" {
			r.done = true
			return nil, io.EOF
		}

		var frame streamFrame
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			return nil, fmt.Errorf("decoding stream chunk: %w", err)
		}
		if frame.Error != nil {
			return nil, fmt.Errorf("backend stream error: %s", frame.Error.Message)
		}
		return &frame.ChatChunk, nil
	}
	r.done = true
	if err := r.scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading stream: %w", err)
	}
	// A body that ends without [DONE] is treated as a normal end of stream.
	return nil, io.EOF
}

func (r *chunkReader) Close() error {
	r.done = true
	if err := r.body.Close(); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
