package config

import "time"

// Database connection pool settings
const (
	DBMaxOpenConns    = 25
	DBMaxIdleConns    = 5
	DBConnMaxLifetime = 5 * time.Minute
)

// HTTP server timeouts
const (
	ServerRequestTimeout  = 60 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = 5 * time.Minute

// Default rate limiting
const DefaultRateLimitPerMin = 120

// Room API bodies are a handful of JSON fields.
const DefaultMaxRequestBodyBytes = 16 << 10

// Room orchestration
const (
	MaxReconnectAttempts = 3
	ReconnectBaseDelay   = 1 * time.Second
	ReconnectMaxDelay    = 10 * time.Second
	TimerTickInterval    = 1 * time.Second
	RoomActionTimeout    = 15 * time.Second
)

// SIP signalling
const (
	SIPRegisterExpires   = 3600
	SIPRequestTimeout    = 5 * time.Second
	SIPAckTimeout        = 32 * time.Second
	MediaConnectFallback = 5 * time.Second
)
