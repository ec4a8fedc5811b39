package config

import "time"

const (
	defaultReadHeaderTimeout = 10 * time.Second
	defaultShutdownTimeout   = 15 * time.Second
	defaultKeyTTL            = time.Hour
	defaultRetryTimeout      = 30 * time.Second
	defaultMaxRetries        = 2
	defaultMaxResponseBytes  = 64 << 20
	defaultPollAttempts      = 3
	defaultPollInterval      = 2 * time.Second
)
