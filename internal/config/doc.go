// Package config handles configuration loading for atlas-gateway.
//
// # Overview
//
// Configuration is loaded from YAML files with environment variable expansion.
// The package provides validation and sensible defaults.
//
// # Environment Variable Expansion
//
// Configuration values can reference environment variables:
//
//	issuer:
//	  client_secret: "${ATLAS_CLIENT_SECRET}"
//
// Syntax: ${VAR_NAME}
//
// # Configuration Sections
//
// Server settings:
//
//	server:
//	  http_addr: "0.0.0.0:3001"
//
// Identity provider:
//
//	issuer:
//	  url: "http://localhost:8080"
//	  realm: "kubeatlas"
//	  client_id: "atlas-gateway"
//	  client_secret: "${ATLAS_CLIENT_SECRET}"
//	  request_timeout: "10s"
//
// Shared store (install tokens + connected services):
//
//	store:
//	  backend: "redis"            # redis or sqlite
//	  redis_url: "redis://localhost:6379/0"
//	  sqlite_path: "/var/lib/atlas/gateway.db"
//
// Startup bootstrap:
//
//	bootstrap:
//	  admin_user: "admin-service"
//	  admin_password: "${ATLAS_ADMIN_PASSWORD}"
//	  max_wait: "120s"
//	  retry_delay: "2s"
//
// Logging:
//
//	logging:
//	  level: "info"   # debug, info, warn, error
//	  format: "text"  # text, json
//
// # Issuer Endpoints
//
// IssuerConfig derives every endpoint URL (JWKS, token, user-info, logout,
// well-known, admin API) from the base URL and realm, mirroring the
// Keycloak URL scheme.
package config
