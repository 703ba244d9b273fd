// ABOUTME: Tests for SSE session draining and the broadcast/subscription endpoints
// ABOUTME: Covers terminal-event guarantees, standalone subscribers and targeted sends

package gateway

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/llm-gateway/internal/store"
	"github.com/2389/llm-gateway/internal/stream"
)

func newEventsGateway(t *testing.T) (*Gateway, *httptest.Server) {
	t.Helper()
	return newTestServer(t, testConfig(t), Deps{Store: store.NewMockStore()})
}

// sseReader reads frames from a live event stream.
type sseReader struct {
	t  *testing.T
	br *bufio.Reader
}

// next returns the next frame without its terminating blank line.
func (r *sseReader) next() string {
	r.t.Helper()
	var lines []string
	for {
		line, err := r.br.ReadString('\n')
		require.NoError(r.t, err)
		line = strings.TrimSuffix(line, "\n")
		if line == "" {
			return strings.Join(lines, "\n")
		}
		lines = append(lines, line)
	}
}

// subscribe opens GET /events and returns a reader positioned after the
// connected frame, plus the subscriber id.
func subscribe(t *testing.T, ctx context.Context, srvURL, key string) (*sseReader, string) {
	t.Helper()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srvURL+"/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+key)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	r := &sseReader{t: t, br: bufio.NewReader(resp.Body)}
	first := r.next()
	require.True(t, strings.HasPrefix(first, ": connected "), "first frame %q", first)
	return r, strings.TrimPrefix(first, ": connected ")
}

func TestDrainSession_WritesEventsUntilDone(t *testing.T) {
	gw, _ := newEventsGateway(t)
	sub := gw.Registry().Register()

	w := gw.Registry().NewWriter(t.Context(), sub.ID())
	_, err := w.Write([]byte(`{"n":1}`))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	rec := httptest.NewRecorder()
	gw.drainSession(t.Context(), rec, rec, sub)

	assert.Equal(t, ": connected "+sub.ID()+"\n\ndata: {\"n\":1}\n\ndata: [DONE]\n\n", rec.Body.String())
}

func TestDrainSession_SynthesizesDoneWhenSlotRemoved(t *testing.T) {
	gw, _ := newEventsGateway(t)
	sub := gw.Registry().Register()
	require.True(t, gw.Registry().SendTo(sub.ID(), "last"))

	// Removal without a Done event, as the reaper does.
	gw.Registry().Prune([]string{sub.ID()})

	rec := httptest.NewRecorder()
	gw.drainSession(t.Context(), rec, rec, sub)

	body := rec.Body.String()
	assert.True(t, strings.HasSuffix(body, "data: last\n\ndata: [DONE]\n\n"), body)
	assert.Equal(t, 1, strings.Count(body, "[DONE]"))
}

func TestDrainSession_StopsOnContextCancel(t *testing.T) {
	gw, _ := newEventsGateway(t)
	sub := gw.Registry().Register()
	<-sub.Events()

	ctx, cancel := context.WithCancel(t.Context())
	cancel()

	rec := httptest.NewRecorder()
	gw.drainSession(ctx, rec, rec, sub)
	assert.NotContains(t, rec.Body.String(), "[DONE]")
}

func TestDrainSession_ForwardsPingAsComment(t *testing.T) {
	gw, _ := newEventsGateway(t)
	sub := gw.Registry().Register()
	<-sub.Events()

	stream.NewReaper(gw.Registry(), time.Hour, testLogger()).Sweep()
	gw.Registry().Prune([]string{sub.ID()})

	rec := httptest.NewRecorder()
	gw.drainSession(t.Context(), rec, rec, sub)
	assert.Equal(t, ": ping\n\ndata: [DONE]\n\n", rec.Body.String())
}

func TestEvents_BroadcastAndSendTo(t *testing.T) {
	gw, srv := newEventsGateway(t)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()

	first, firstID := subscribe(t, ctx, srv.URL, readerKey)
	second, secondID := subscribe(t, ctx, srv.URL, readerKey)
	assert.NotEqual(t, firstID, secondID)
	require.Equal(t, []string{firstID, secondID}, gw.Registry().IDs())

	resp := postJSON(t, srv.URL+"/broadcast", broadcastKey, `{"message":"hello all"}`)
	var out BroadcastResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, 2, out.Delivered)

	assert.Equal(t, "data: hello all", first.next())
	assert.Equal(t, "data: hello all", second.next())

	resp = postJSON(t, srv.URL+"/events/"+secondID, opsKey, `{"message":"just you"}`)
	var sent SendToResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&sent))
	resp.Body.Close()
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.True(t, sent.Delivered)
	assert.Equal(t, "data: just you", second.next())

	resp = postJSON(t, srv.URL+"/broadcast", broadcastKey, `{"message":"again"}`)
	resp.Body.Close()
	assert.Equal(t, "data: again", first.next(), "targeted send must not reach other subscribers")
}

func TestEvents_DisconnectedSubscriberIsReaped(t *testing.T) {
	gw, srv := newEventsGateway(t)

	ctx, cancel := context.WithCancel(t.Context())
	_, id := subscribe(t, ctx, srv.URL, readerKey)
	require.Equal(t, []string{id}, gw.Registry().IDs())

	cancel()

	reaper := stream.NewReaper(gw.Registry(), time.Hour, testLogger())
	require.Eventually(t, func() bool {
		reaper.Sweep()
		return gw.Registry().Len() == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestEvents_ShutdownEndsStream(t *testing.T) {
	gw, srv := newEventsGateway(t)

	r, _ := subscribe(t, t.Context(), srv.URL, readerKey)
	require.NoError(t, gw.Shutdown(context.Background()))

	assert.Equal(t, "data: [DONE]", r.next())
}

func TestBroadcast_RawTextBody(t *testing.T) {
	_, srv := newEventsGateway(t)

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	r, _ := subscribe(t, ctx, srv.URL, readerKey)

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, srv.URL+"/broadcast", strings.NewReader("line one\nline two\n"))
	require.NoError(t, err)
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set("Authorization", "Bearer "+broadcastKey)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, "data: line one\ndata: line two", r.next())
}

func TestBroadcast_Validation(t *testing.T) {
	_, srv := newEventsGateway(t)

	tests := []struct {
		name   string
		body   string
		status int
	}{
		{"empty message", `{"message":"   "}`, http.StatusBadRequest},
		{"invalid json", `{"message":`, http.StatusBadRequest},
		{"no subscribers", `{"message":"anyone?"}`, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := postJSON(t, srv.URL+"/broadcast", broadcastKey, tt.body)
			resp.Body.Close()
			assert.Equal(t, tt.status, resp.StatusCode)
		})
	}
}

func TestSendTo_UnknownIDIsAccepted(t *testing.T) {
	_, srv := newEventsGateway(t)

	resp := postJSON(t, srv.URL+"/events/does-not-exist", broadcastKey, `{"message":"hi"}`)
	defer resp.Body.Close()

	var out SendToResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	assert.Equal(t, http.StatusAccepted, resp.StatusCode)
	assert.False(t, out.Delivered)
}
