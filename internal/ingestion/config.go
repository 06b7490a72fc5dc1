package ingestion

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultWorkers         = 2
	DefaultMaxAttempts     = 5
	DefaultBackoffInitial  = 2 * time.Second
	DefaultBackoffMax      = 5 * time.Minute
	DefaultPollInterval    = time.Second
	DefaultLeaseTimeout    = 5 * time.Minute
	DefaultJobTimeout      = 10 * time.Minute
	DefaultMaxUploadBytes  = 25 << 20
	DefaultAnonymousTenant = "default"
	DefaultFetchTimeout    = 30 * time.Second
)

// Config holds the settings shared by Service and Pool.
type Config struct {
	// Workers is the number of concurrent job processors in a Pool.
	Workers int
	// MaxAttempts is the attempt ceiling before a recoverable failure
	// becomes FAILED.
	MaxAttempts int
	// BackoffInitial is the retry delay after the first failed attempt.
	BackoffInitial time.Duration
	// BackoffMax caps the retry delay.
	BackoffMax time.Duration
	// PollInterval is how long an idle worker waits before polling again.
	PollInterval time.Duration
	// LeaseTimeout is how long a claimed job stays leased without a
	// heartbeat before the reaper returns it to the queue.
	LeaseTimeout time.Duration
	// JobTimeout bounds the processing of one job.
	JobTimeout time.Duration
	// MaxUploadBytes rejects larger uploads.
	MaxUploadBytes int64
	// AnonymousTenant is used for uploads that carry no tenant.
	AnonymousTenant string
	// RequireTenant rejects uploads without a tenant instead of defaulting.
	RequireTenant bool
	// FetchTimeout bounds SubmitURL downloads.
	FetchTimeout time.Duration
}

// ConfigFromEnv reads the DOCRAG_* ingestion variables.
func ConfigFromEnv() Config {
	return Config{
		Workers:         getEnvInt("DOCRAG_WORKERS", DefaultWorkers),
		MaxAttempts:     getEnvInt("DOCRAG_MAX_ATTEMPTS", DefaultMaxAttempts),
		BackoffInitial:  getEnvDuration("DOCRAG_BACKOFF_INITIAL", DefaultBackoffInitial),
		BackoffMax:      getEnvDuration("DOCRAG_BACKOFF_MAX", DefaultBackoffMax),
		PollInterval:    getEnvDuration("DOCRAG_POLL_INTERVAL", DefaultPollInterval),
		LeaseTimeout:    getEnvDuration("DOCRAG_LEASE_TIMEOUT", DefaultLeaseTimeout),
		JobTimeout:      getEnvDuration("DOCRAG_JOB_TIMEOUT", DefaultJobTimeout),
		MaxUploadBytes:  int64(getEnvInt("DOCRAG_MAX_UPLOAD_BYTES", DefaultMaxUploadBytes)),
		AnonymousTenant: getEnvOrDefault("DOCRAG_ANONYMOUS_TENANT", DefaultAnonymousTenant),
		RequireTenant:   getEnvBool("DOCRAG_REQUIRE_TENANT"),
		FetchTimeout:    getEnvDuration("DOCRAG_FETCH_TIMEOUT", DefaultFetchTimeout),
	}
}

// withDefaults fills zero fields.
func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = DefaultWorkers
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.BackoffInitial <= 0 {
		c.BackoffInitial = DefaultBackoffInitial
	}
	if c.BackoffMax < c.BackoffInitial {
		c.BackoffMax = max(DefaultBackoffMax, c.BackoffInitial)
	}
	if c.PollInterval <= 0 {
		c.PollInterval = DefaultPollInterval
	}
	if c.LeaseTimeout <= 0 {
		c.LeaseTimeout = DefaultLeaseTimeout
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = DefaultJobTimeout
	}
	if c.MaxUploadBytes <= 0 {
		c.MaxUploadBytes = DefaultMaxUploadBytes
	}
	if c.AnonymousTenant == "" {
		c.AnonymousTenant = DefaultAnonymousTenant
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	return c
}

// getEnvOrDefault returns the value of the named environment variable, or
// fallback if the variable is unset or empty.
func getEnvOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// getEnvInt returns the integer value of the named environment variable, or
// fallback if the variable is unset, empty, or not parseable.
func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

// getEnvDuration parses a time.Duration such as "30s".
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// getEnvBool reports whether the variable is set to a true value.
func getEnvBool(key string) bool {
	b, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(key)))
	return err == nil && b
}
