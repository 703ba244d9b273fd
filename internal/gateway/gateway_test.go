// ABOUTME: Tests for Gateway construction, lifecycle and health endpoints
// ABOUTME: Runs the real servers on free ports and probes HTTP and gRPC health

package gateway

import (
	"context"
	"io"
	"log/slog"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/2389/llm-gateway/internal/config"
	"github.com/2389/llm-gateway/internal/store"
)

const (
	readerKey    = "nsk-reader0000000000"
	opsKey       = "nsk-operator00000000"
	broadcastKey = "nsk-broadcast0000000"
)

// freeAddr returns a currently unused loopback address.
func freeAddr(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().String()
	require.NoError(t, ln.Close())
	return addr
}

// testConfig creates a minimal config for testing with available ports.
func testConfig(t *testing.T) *config.Config {
	t.Helper()

	return &config.Config{
		Server: config.ServerConfig{
			Listen:   freeAddr(t),
			GRPCAddr: freeAddr(t),
		},
		Backend: config.BackendConfig{
			Kind:      "openai",
			URL:       "http://127.0.0.1:1/v1",
			APIKey:    "sk-test",
			ModelName: "gpt-test",
			Timeout:   5 * time.Second,
		},
		Streaming: config.StreamingConfig{
			BufferSize:     10,
			ReaperInterval: time.Hour,
			CloseTimeout:   200 * time.Millisecond,
		},
		Database: config.DatabaseConfig{Path: ":memory:"},
		Metrics:  config.MetricsConfig{Enabled: true, Path: "/metrics"},
		APIKeys: []config.APIKeyConfig{
			{Name: "reader", Key: readerKey, Permissions: []string{"read"}},
			{Name: "ops", Key: opsKey, Permissions: []string{"admin"}},
			{Name: "pusher", Key: broadcastKey, Permissions: []string{"broadcast"}},
		},
	}
}

// testLogger creates a silent logger for tests.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// newTestServer builds a gateway with the given deps and serves its handler
// from an httptest server. Shutdown runs before the server closes so open
// streams end first.
func newTestServer(t *testing.T, cfg *config.Config, deps Deps) (*Gateway, *httptest.Server) {
	t.Helper()

	gw, err := NewWithDeps(cfg, deps, testLogger())
	require.NoError(t, err)

	srv := httptest.NewServer(gw.Handler())
	t.Cleanup(srv.Close)
	t.Cleanup(func() { _ = gw.Shutdown(context.Background()) })
	return gw, srv
}

func TestGatewayNew(t *testing.T) {
	cfg := testConfig(t)

	gw, err := New(cfg, testLogger())
	require.NoError(t, err)
	defer func() { _ = gw.Shutdown(context.Background()) }()

	assert.Same(t, cfg, gw.config)
	assert.NotNil(t, gw.registry)
	assert.NotNil(t, gw.reaper)
	assert.NotNil(t, gw.relay)
	assert.NotNil(t, gw.store)
	assert.NotNil(t, gw.grpcServer)
	assert.Equal(t, cfg.Server.Listen, gw.httpServer.Addr)
	assert.Contains(t, string(gw.indexHTML), "<h1")
}

func TestGatewayNew_RejectsBadAPIKeys(t *testing.T) {
	cfg := testConfig(t)
	cfg.APIKeys = []config.APIKeyConfig{{Name: "broken", KeyHash: "not-bcrypt"}}

	_, err := New(cfg, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loading api keys")
}

func TestGatewayNew_RequiresBackendURL(t *testing.T) {
	cfg := testConfig(t)
	cfg.Backend.URL = ""

	_, err := New(cfg, testLogger())
	require.Error(t, err)
}

func TestGatewayShutdown_IsIdempotent(t *testing.T) {
	gw, err := NewWithDeps(testConfig(t), Deps{Store: store.NewMockStore()}, testLogger())
	require.NoError(t, err)

	require.NoError(t, gw.Shutdown(context.Background()))
	require.NoError(t, gw.Shutdown(context.Background()))
}

func TestGatewayShutdown_EndsOpenSessions(t *testing.T) {
	gw, err := NewWithDeps(testConfig(t), Deps{Store: store.NewMockStore()}, testLogger())
	require.NoError(t, err)

	sub := gw.Registry().Register()
	require.NoError(t, gw.Shutdown(context.Background()))

	select {
	case <-sub.Done():
	case <-time.After(time.Second):
		t.Fatal("subscriber not finished by shutdown")
	}
	assert.Equal(t, 0, gw.Registry().Len())
}

func TestGatewayRunAndShutdown(t *testing.T) {
	cfg := testConfig(t)
	gw, err := NewWithDeps(cfg, Deps{Store: store.NewMockStore()}, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.Listen + "/health")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		return resp.StatusCode == http.StatusOK && string(body) == "OK"
	}, 5*time.Second, 20*time.Millisecond)

	conn, err := grpc.NewClient(cfg.Server.GRPCAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: HealthService})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.GetStatus())

	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestGatewayRun_WithoutGRPCAddr(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.GRPCAddr = ""
	gw, err := NewWithDeps(cfg, Deps{Store: store.NewMockStore()}, testLogger())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- gw.Run(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + cfg.Server.Listen + "/health")
		if err != nil {
			return false
		}
		resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 5*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}

func TestGatewayRun_ListenError(t *testing.T) {
	occupied, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer occupied.Close()

	cfg := testConfig(t)
	cfg.Server.Listen = occupied.Addr().String()
	gw, err := NewWithDeps(cfg, Deps{Store: store.NewMockStore()}, testLogger())
	require.NoError(t, err)
	defer func() { _ = gw.Shutdown(context.Background()) }()

	err = gw.Run(t.Context())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "listening on HTTP address")
}

func TestHandleHealth(t *testing.T) {
	_, srv := newTestServer(t, testConfig(t), Deps{Store: store.NewMockStore()})

	resp, err := http.Get(srv.URL + "/health")
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))
}

func TestHandleReady(t *testing.T) {
	t.Run("backend reachable", func(t *testing.T) {
		backendSrv, _ := newFakeOpenAI(t)
		cfg := testConfig(t)
		cfg.Backend.URL = backendSrv.URL + "/v1"
		_, srv := newTestServer(t, cfg, Deps{Store: store.NewMockStore()})

		resp, err := http.Get(srv.URL + "/health/ready")
		require.NoError(t, err)
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Equal(t, "ready (0 sessions)", string(body))
	})

	t.Run("backend down", func(t *testing.T) {
		_, srv := newTestServer(t, testConfig(t), Deps{Store: store.NewMockStore()})

		resp, err := http.Get(srv.URL + "/health/ready")
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	})
}

func TestResolveTailscaleStateDir(t *testing.T) {
	dir, err := resolveTailscaleStateDir("/var/lib/llm-gateway")
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/llm-gateway", dir)

	t.Setenv("HOME", "/home/tester")
	dir, err = resolveTailscaleStateDir("")
	require.NoError(t, err)
	assert.Equal(t, "/home/tester/.local/share/llm-gateway/tailscale", dir)
}

func TestResolveTailscaleAuthKey(t *testing.T) {
	key, err := resolveTailscaleAuthKey("tskey-config")
	require.NoError(t, err)
	assert.Equal(t, "tskey-config", key)

	t.Setenv("TS_AUTHKEY", "tskey-env")
	key, err = resolveTailscaleAuthKey("")
	require.NoError(t, err)
	assert.Equal(t, "tskey-env", key)

	t.Setenv("TS_AUTHKEY", "")
	_, err = resolveTailscaleAuthKey("")
	assert.Error(t, err)
}
