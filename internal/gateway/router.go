// ABOUTME: HTTP route table for llm-gateway
// ABOUTME: Wires handlers behind API key auth, permission checks and request metrics

package gateway

import (
	"net/http"

	"github.com/2389/llm-gateway/internal/auth"
)

// registerRoutes mounts every HTTP endpoint on mux.
//
// Unauthenticated: /, /health, /health/ready and the metrics path.
// Everything else requires a bearer API key; read routes need the read
// permission and push routes the broadcast permission (admin implies both).
func (g *Gateway) registerRoutes(mux *http.ServeMux) {
	authn := auth.HTTPAuthMiddleware(g.verifier)
	requireRead := auth.RequirePermissionHTTP(auth.PermRead)
	requireBroadcast := auth.RequirePermissionHTTP(auth.PermBroadcast)

	protected := func(route string, perm func(http.Handler) http.Handler, h http.HandlerFunc) {
		mux.Handle(route, g.httpMetrics.instrument(route, authn(perm(h))))
	}
	open := func(route string, h http.HandlerFunc) {
		mux.Handle(route, g.httpMetrics.instrument(route, h))
	}

	// Health endpoints - no auth required
	open("/health", g.handleHealth)
	open("/health/ready", g.handleReady)
	open("/{$}", g.handleIndex)

	protected("/chat/completions", requireRead, g.handleChatCompletions)
	protected("/v1/chat/completions", requireRead, g.handleChatCompletions)
	protected("/models", requireRead, g.handleModels)
	protected("/v1/models", requireRead, g.handleModels)
	protected("/stats/hits", requireRead, g.handleHits)

	protected("/events", requireRead, g.handleEvents)
	protected("/events/{id}", requireBroadcast, g.handleSendTo)
	protected("/broadcast", requireBroadcast, g.handleBroadcast)

	if g.config.Metrics.Enabled {
		mux.Handle(g.config.Metrics.Path, g.metricsHandler())
		g.logger.Info("metrics endpoint enabled", "path", g.config.Metrics.Path)
	}
}
