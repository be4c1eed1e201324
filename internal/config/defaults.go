package config

const (
	defaultDataDir          = "~/.local/share/loom"
	defaultLogDir           = "~/.local/share/loom/logs"
	defaultAPIBind          = "127.0.0.1:7315"
	defaultLeaseMinutes     = 30
	defaultWatchdogInterval = 60
	defaultWorkerTimeout    = 600
	defaultLogFormat        = "console"
	defaultLogLevel         = "info"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir: defaultDataDir,
			LogDir:  defaultLogDir,
			APIBind: defaultAPIBind,
		},
		Lease: Lease{
			DurationMinutes:  defaultLeaseMinutes,
			WatchdogInterval: defaultWatchdogInterval,
			WorkerTimeout:    defaultWorkerTimeout,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
	}
}
