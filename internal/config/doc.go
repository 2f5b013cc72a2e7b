// Package config handles configuration loading for the chat relay gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from RELAY_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/relay/gateway.yaml
//  3. ~/.config/relay/gateway.yaml
//
// When no file exists the gateway starts from defaults. Files ending in
// ".toml" are decoded as TOML; anything else is YAML.
//
// # Environment Variables
//
// Values can reference the environment:
//
//	operator:
//	  token: "${OPERATOR_TOKEN}"
//
// After decoding, these variables override the file:
//
//	RELAY_DB_PATH   database.path
//	OPERATOR_TOKEN  operator.token
//	PORT            server.http_addr (as ":PORT")
//
// # Configuration Sections
//
//	server:
//	  http_addr: ":3000"
//	  grpc_addr: ""               # optional grpc.health.v1 endpoint
//	  shutdown_timeout: "10s"
//
//	database:
//	  path: ""                    # empty keeps conversations in memory
//
//	operator:
//	  token: "${OPERATOR_TOKEN}"
//	  token_hash: ""              # bcrypt, see "relay-gateway hash-token"
//
//	session:
//	  secret: "${RELAY_SESSION_SECRET}"
//	  cookie_name: "relay_session"
//	  ttl: "720h"
//
//	stream:
//	  heartbeat_interval: "25s"
//	  buffer_size: 64
//
//	limits:
//	  messages_per_second: 2      # per conversation, negative disables
//	  burst: 10
//	  max_text_length: 4000
//	  max_body_bytes: 5242880
//	  allow_empty_messages: false
//
//	dedupe:
//	  ttl: "10m"
//	  max_entries: 10000
//
//	render:
//	  markdown: false
//
//	logging:
//	  level: "info"               # debug, info, warn, error
//	  format: "text"              # text, json
//
//	metrics:
//	  enabled: false
//	  path: "/metrics"
//
// Tailscale settings follow the same shape as the tsnet options:
// enabled, hostname, auth_key, state_dir, ephemeral, https and funnel.
package config
