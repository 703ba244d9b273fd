// Package gateway orchestrates the llm-gateway server components.
//
// # Overview
//
// The gateway package owns the HTTP server, the optional gRPC health server,
// the session registry with its stale-session reaper, the streaming relay and
// the hit store. New builds everything from configuration; NewWithDeps lets
// callers substitute the backend or store.
//
// # HTTP API
//
// The gateway exposes HTTP endpoints in api.go and events.go:
//
//   - POST /chat/completions - Chat completion, SSE when "stream": true
//   - GET /models - List the persona models
//   - GET /stats/hits - Per-key request counters
//   - GET /events - Subscribe to pushed messages (SSE)
//   - POST /events/{id} - Push a message to one subscriber
//   - POST /broadcast - Push a message to every subscriber
//   - GET /health - Liveness check
//   - GET /health/ready - Readiness check (backend reachable)
//
// The chat and model routes are also served under /v1 for OpenAI SDKs.
//
// # SSE Streaming
//
// Every stream is one registry session. Frames look like:
//
//	: connected 0b6f...
//
//	data: {"id":"chatcmpl-1","object":"chat.completion.chunk","model":"programmer",...}
//
//	: ping
//
//	data: [DONE]
//
// Comment frames are ignored by SSE clients. The response always ends with
// exactly one data: [DONE] unless the client disconnected first.
//
// # gRPC Service
//
// When server.grpc_addr is set (or on the tailnet, port 50051) the standard
// grpc.health.v1.Health service reports SERVING for "" and "llm-gateway".
//
// # Lifecycle
//
// Start the gateway:
//
//	gw, err := gateway.New(cfg, logger)
//	err = gw.Run(ctx)
//
// Run returns after ctx is canceled and Shutdown has closed the registry,
// the servers and the store.
//
// # Key Files
//
//   - gateway.go: Gateway struct, initialization, Run/Shutdown, Tailscale
//   - api.go: chat, models, hits and index handlers
//   - events.go: SSE draining, broadcast and subscription handlers
//   - router.go: route table and middleware
//   - grpc.go: gRPC health server
//   - metrics.go: HTTP request metrics
package gateway
