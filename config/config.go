package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

const (
	BackendLevelDB = "leveldb"
	BackendBolt    = "bolt"
	BackendMemory  = "memory"
)

type Config struct {
	ListenAddress  string          `toml:"ListenAddress"`
	Environment    string          `toml:"Environment"`
	DataDir        string          `toml:"DataDir"`
	StorageBackend string          `toml:"StorageBackend"`
	JournalPath    string          `toml:"JournalPath"`
	GenesisFile    string          `toml:"GenesisFile"`
	Auth           AuthConfig      `toml:"Auth"`
	RateLimit      RateLimitConfig `toml:"RateLimit"`
	Logging        LoggingConfig   `toml:"Logging"`
	Telemetry      TelemetryConfig `toml:"Telemetry"`
}

// AuthConfig controls bearer token verification. The secret may be given
// inline or through the environment variable named by SecretEnv.
type AuthConfig struct {
	Secret    string `toml:"Secret"`
	SecretEnv string `toml:"SecretEnv"`
	Issuer    string `toml:"Issuer"`
}

type RateLimitConfig struct {
	RequestsPerSecond float64 `toml:"RequestsPerSecond"`
	Burst             int     `toml:"Burst"`
	// TrustProxyHeaders keys clients by X-Real-IP/X-Forwarded-For. Only set
	// it when a reverse proxy overwrites those headers.
	TrustProxyHeaders bool `toml:"TrustProxyHeaders"`
}

type LoggingConfig struct {
	Level string `toml:"Level"`
	File  string `toml:"File"`
}

type TelemetryConfig struct {
	Endpoint    string  `toml:"Endpoint"`
	Insecure    bool    `toml:"Insecure"`
	Traces      bool    `toml:"Traces"`
	Metrics     bool    `toml:"Metrics"`
	Headers     string  `toml:"Headers"`
	SampleRatio float64 `toml:"SampleRatio"`
}

// SecretBytes resolves the signing secret, preferring the environment.
func (a AuthConfig) SecretBytes() ([]byte, error) {
	if env := strings.TrimSpace(a.SecretEnv); env != "" {
		if v := strings.TrimSpace(os.Getenv(env)); v != "" {
			return []byte(v), nil
		}
	}
	if s := strings.TrimSpace(a.Secret); s != "" {
		return []byte(s), nil
	}
	return nil, fmt.Errorf("auth: no signing secret configured")
}

// Load loads the configuration from the given path, creating a default file
// when none exists, then applies COINFORT_* environment overrides.
func Load(path string) (*Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (*Config, error) {
	var cfg *Config
	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg, err = createDefault(path)
		if err != nil {
			return nil, err
		}
	} else {
		cfg = &Config{}
		meta, err := toml.DecodeFile(path, cfg)
		if err != nil {
			return nil, err
		}
		if undecoded := meta.Undecoded(); len(undecoded) > 0 {
			return nil, fmt.Errorf("config file %s has unknown key %s", path, undecoded[0].String())
		}
	}
	if err := applyEnv(cfg, lookup); err != nil {
		return nil, err
	}
	cfg.normalize()
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func defaults() *Config {
	return &Config{
		ListenAddress:  ":8646",
		Environment:    "local",
		DataDir:        "./coinfort-data",
		StorageBackend: BackendLevelDB,
		Auth:           AuthConfig{SecretEnv: "COINFORT_JWT_SECRET", Issuer: "coinfort"},
		RateLimit:      RateLimitConfig{RequestsPerSecond: 20, Burst: 40},
		Logging:        LoggingConfig{Level: "info"},
		Telemetry:      TelemetryConfig{Endpoint: "localhost:4318", Insecure: true},
	}
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := defaults()
	if err := persist(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func persist(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_TRUNC|os.O_CREATE, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()

	return toml.NewEncoder(f).Encode(cfg)
}

func applyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(key); ok && strings.TrimSpace(v) != "" {
			*dst = strings.TrimSpace(v)
		}
	}
	str("COINFORT_LISTEN", &cfg.ListenAddress)
	str("COINFORT_ENV", &cfg.Environment)
	str("COINFORT_DATA_DIR", &cfg.DataDir)
	str("COINFORT_STORAGE", &cfg.StorageBackend)
	str("COINFORT_JOURNAL", &cfg.JournalPath)
	str("COINFORT_GENESIS", &cfg.GenesisFile)
	str("COINFORT_LOG_LEVEL", &cfg.Logging.Level)
	str("COINFORT_LOG_FILE", &cfg.Logging.File)
	str("COINFORT_OTLP_ENDPOINT", &cfg.Telemetry.Endpoint)
	str("COINFORT_OTLP_HEADERS", &cfg.Telemetry.Headers)

	if v, ok := lookup("COINFORT_RATE_LIMIT"); ok && strings.TrimSpace(v) != "" {
		rps, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return fmt.Errorf("COINFORT_RATE_LIMIT: %w", err)
		}
		cfg.RateLimit.RequestsPerSecond = rps
	}
	if v, ok := lookup("COINFORT_TRACES"); ok && strings.TrimSpace(v) != "" {
		enabled, err := strconv.ParseBool(strings.TrimSpace(v))
		if err != nil {
			return fmt.Errorf("COINFORT_TRACES: %w", err)
		}
		cfg.Telemetry.Traces = enabled
	}
	return nil
}

func (cfg *Config) normalize() {
	cfg.ListenAddress = strings.TrimSpace(cfg.ListenAddress)
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":8646"
	}
	cfg.StorageBackend = strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	if cfg.StorageBackend == "" {
		cfg.StorageBackend = BackendLevelDB
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = int(cfg.RateLimit.RequestsPerSecond * 2)
	}
	if strings.TrimSpace(cfg.Auth.Issuer) == "" {
		cfg.Auth.Issuer = "coinfort"
	}
}

// StatePath returns the location of the state database for the configured
// backend.
func (cfg *Config) StatePath() string {
	switch cfg.StorageBackend {
	case BackendBolt:
		return filepath.Join(cfg.DataDir, "state.db")
	default:
		return filepath.Join(cfg.DataDir, "state")
	}
}

// JournalFile returns the SQLite journal location, defaulting into DataDir.
func (cfg *Config) JournalFile() string {
	if strings.TrimSpace(cfg.JournalPath) != "" {
		return cfg.JournalPath
	}
	return filepath.Join(cfg.DataDir, "journal.db")
}
