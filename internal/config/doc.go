// Package config handles configuration loading for aiquan-gateway.
//
// # Configuration File
//
// Default locations (in order):
//
//  1. Path from AIQUAN_CONFIG environment variable
//  2. $XDG_CONFIG_HOME/aiquan/gateway.yaml
//  3. ~/.config/aiquan/gateway.yaml
//
// Files ending in .toml are decoded as TOML; anything else is YAML. A .env
// file in the same directory is loaded first. Variables already present in
// the process environment win over .env entries.
//
// # Environment Variable Expansion
//
//	credentials:
//	  encryption_key: "${AIQUAN_ENCRYPTION_KEY}"
//	  hash_salt: "${AIQUAN_HASH_SALT}"
//
// Unset variables expand to the empty string.
//
// # Configuration Sections
//
//	environment: production          # development (default), test, production
//
//	server:
//	  http_addr: "0.0.0.0:3000"
//	  grpc_addr: ""                   # optional gRPC health listener
//	  base_url: "https://aiquan.example"
//	  shutdown_timeout: "10s"
//	  trusted_proxies: ["10.0.0.0/8"]   # peers whose X-Forwarded-For keys rate limits
//
//	database:
//	  driver: "sqlite"                # or postgres
//	  path: "./data/aiquan.db"
//	  dsn: "${DATABASE_URL}"          # postgres only
//
//	claims:
//	  token_ttl: "24h"
//
//	auth:
//	  jwt_secret: "${AIQUAN_JWT_SECRET}"  # enables /api/v1/admin, 32+ bytes
//
//	audit:
//	  queue_size: 1024
//	  write_timeout: "5s"
//
//	rate_limit:
//	  redis_url: "${REDIS_URL}"       # empty keeps limits in memory
//	  register_limit: 5
//	  register_window: "15m"
//	  api_limit: 100
//	  api_window: "1m"
//	  trust_forwarded_for: false      # believe X-Forwarded-For from any peer
//
//	cors:
//	  allowed_origins: ["https://aiquan.example"]
//
//	logging:
//	  level: "info"                   # debug, info, warn, error
//	  format: "text"                  # text, json
//
//	metrics:
//	  enabled: true
//	  path: "/metrics"
//
// # Validation
//
// Load() rejects production configs without credentials.encryption_key and
// credentials.hash_salt, an admin jwt_secret shorter than 32 bytes, unknown
// drivers, malformed or non-positive durations, and trusted_proxies entries
// that are neither an address nor a CIDR prefix.
package config
