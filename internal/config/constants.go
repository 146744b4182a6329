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
	ServerRequestTimeout  = 30 * time.Second
	ServerReadTimeout     = 15 * time.Second
	ServerWriteTimeout    = 30 * time.Second
	ServerIdleTimeout     = 120 * time.Second
	ServerShutdownTimeout = 30 * time.Second
)

// Database ping timeout for health checks
const DBPingTimeout = 5 * time.Second

// Background job intervals
const CleanupJobInterval = time.Minute

// Command queue limits
const (
	DefaultPollLimit = 5
	MaxPollLimit     = 50
)

// Chat log limits
const (
	DefaultChatLimit = 50
	MaxChatLimit     = 100
)

// Remote side waits
const (
	AwaitPollInterval   = 500 * time.Millisecond
	PairingPollInterval = 2 * time.Second
)

// Anchor defaults
const (
	DefaultAnchorPollInterval  = 2 * time.Second
	DefaultHeartbeatInterval   = 5 * time.Second
	DefaultExecutorConcurrency = 4
	DefaultRelayTimeout        = 10 * time.Second
)
