package config

import "fmt"

// Validate rejects configurations the daemon cannot start with.
func Validate(cfg *Config) error {
	if cfg == nil {
		return fmt.Errorf("configuration is missing")
	}
	switch cfg.StorageBackend {
	case BackendLevelDB, BackendBolt:
		if cfg.DataDir == "" {
			return fmt.Errorf("storage: DataDir required for %s backend", cfg.StorageBackend)
		}
	case BackendMemory:
	default:
		return fmt.Errorf("storage: unknown backend %q", cfg.StorageBackend)
	}
	if cfg.RateLimit.RequestsPerSecond < 0 {
		return fmt.Errorf("ratelimit: RequestsPerSecond must not be negative")
	}
	if cfg.Telemetry.SampleRatio < 0 || cfg.Telemetry.SampleRatio > 1 {
		return fmt.Errorf("telemetry: SampleRatio must be within [0,1]")
	}
	return nil
}
