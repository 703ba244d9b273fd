// Package config handles configuration loading for llm-gateway.
//
// # Overview
//
// Configuration is loaded from a single file, TOML by default (default.conf)
// or YAML when the file name ends in .yaml or .yml. Environment variables are
// expanded before parsing and sensible defaults are applied before validation.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	[backend]
//	api_key = "${OPENAI_API_KEY}"
//
// When backend.api_key, backend.model_name or backend.url are left empty,
// OPENAI_API_KEY, OAI_MODEL_NAME and OPENAI_BASE_URL are consulted.
//
// # Duration Parsing
//
// Duration values use Go's time.ParseDuration syntax:
//
//	[streaming]
//	reaper_interval = "5s"
//	close_timeout = "1s"
//
// # Configuration Sections
//
//	[server]
//	listen = "127.0.0.1:8080"
//	grpc_addr = "127.0.0.1:50051"   # optional gRPC health service
//
//	[backend]
//	url = "https://api.openai.com/v1"
//	model_name = "gpt-4o-mini"
//	timeout = "120s"
//
//	[streaming]
//	buffer_size = 10
//
//	[database]
//	path = "hits.db"
//
//	[logging]
//	level = "info"     # debug, info, warn, error
//	format = "text"    # text or json
//
//	[metrics]
//	enabled = true
//	path = "/metrics"
//
//	[tailscale]
//	enabled = false
//	hostname = "llm-gateway"
//	https = true       # serve :443 with the tailnet certificate
//
//	[[api_keys]]
//	name = "laptop"
//	key = "nsk-0123456789abcdef"
//	permissions = ["read"]
//
// # Editing
//
// LoadRaw and Save round-trip a file without expanding variables or writing
// defaults, which is how the add-api-key command appends credentials.
package config
