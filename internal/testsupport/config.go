package testsupport

import (
	"path/filepath"
	"testing"

	"loom/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*config.Config)

// NewConfig produces a config seeded with unique temp directories per test.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfg := config.Default()
	cfg.Paths.DataDir = filepath.Join(base, "data")
	cfg.Paths.LogDir = filepath.Join(base, "logs")
	cfg.Paths.APIBind = "127.0.0.1:0"

	for _, opt := range opts {
		opt(&cfg)
	}
	return &cfg
}

// WithLeaseMinutes overrides the lease duration on the test config.
func WithLeaseMinutes(minutes int) ConfigOption {
	return func(c *config.Config) {
		c.Lease.DurationMinutes = minutes
	}
}

// WithWatchdogInterval overrides the watchdog sweep cadence on the test config.
func WithWatchdogInterval(seconds int) ConfigOption {
	return func(c *config.Config) {
		c.Lease.WatchdogInterval = seconds
	}
}
