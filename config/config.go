package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
)

// Environment variable names consulted when the config file does not name its
// own. Secrets never live in the file itself; the file only names the
// variable that carries the secret.
const (
	DefaultAuthTokenEnv   = "STAKEVAULT_RPC_TOKEN"
	DefaultAdminSecretEnv = "STAKEVAULT_ADMIN_SECRET"
)

type Config struct {
	ListenAddress string `toml:"ListenAddress"`
	DataDir       string `toml:"DataDir"`
	GenesisFile   string `toml:"GenesisFile"`
	JournalPath   string `toml:"JournalPath"`
	Environment   string `toml:"Environment"`

	Log       Log       `toml:"Log"`
	RPC       RPC       `toml:"RPC"`
	Telemetry Telemetry `toml:"Telemetry"`
}

// Log configures the optional rotating log file mirrored alongside stdout.
type Log struct {
	Path       string `toml:"Path"`
	MaxSizeMB  int    `toml:"MaxSizeMB"`
	MaxBackups int    `toml:"MaxBackups"`
	MaxAgeDays int    `toml:"MaxAgeDays"`
	Compress   bool   `toml:"Compress"`
}

// RPC configures the JSON-RPC surface. The bearer token and admin JWT secret
// are read from the named environment variables at boot.
type RPC struct {
	AuthTokenEnv        string  `toml:"AuthTokenEnv"`
	AdminSecretEnv      string  `toml:"AdminSecretEnv"`
	AdminIssuer         string  `toml:"AdminIssuer"`
	AdminAudience       string  `toml:"AdminAudience"`
	RequestsPerMinute   float64 `toml:"RequestsPerMinute"`
	Burst               int     `toml:"Burst"`
	IdempotencyPath     string  `toml:"IdempotencyPath"`
	IdempotencyTTLHours int     `toml:"IdempotencyTTLHours"`
}

// Telemetry configures OTLP export for traces and metrics.
type Telemetry struct {
	Endpoint      string `toml:"Endpoint"`
	Insecure      bool   `toml:"Insecure"`
	EnableTraces  bool   `toml:"EnableTraces"`
	EnableMetrics bool   `toml:"EnableMetrics"`
}

// Load loads the configuration from the given path, writing a default file
// when none exists yet.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return createDefault(path)
	}

	meta, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, err
	}

	for _, undecoded := range meta.Undecoded() {
		key := undecoded.String()
		if key == "RPC.AuthToken" || key == "RPC.AdminSecret" {
			return nil, fmt.Errorf("config file %s embeds a secret under %s; store it in the environment and point %sEnv at the variable name", path, key, key)
		}
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if strings.TrimSpace(c.ListenAddress) == "" {
		c.ListenAddress = ":8080"
	}
	if strings.TrimSpace(c.DataDir) == "" {
		c.DataDir = "./stakevault-data"
	}
	if strings.TrimSpace(c.JournalPath) == "" {
		c.JournalPath = filepath.Join(c.DataDir, "journal.db")
	}
	if strings.TrimSpace(c.Environment) == "" {
		c.Environment = "development"
	}
	if strings.TrimSpace(c.RPC.AuthTokenEnv) == "" {
		c.RPC.AuthTokenEnv = DefaultAuthTokenEnv
	}
	if strings.TrimSpace(c.RPC.AdminSecretEnv) == "" {
		c.RPC.AdminSecretEnv = DefaultAdminSecretEnv
	}
	if c.RPC.IdempotencyTTLHours <= 0 {
		c.RPC.IdempotencyTTLHours = 24
	}
}

// Validate rejects configurations the daemon could not boot with.
func (c *Config) Validate() error {
	if c.RPC.RequestsPerMinute < 0 {
		return fmt.Errorf("rpc: RequestsPerMinute cannot be negative")
	}
	if c.RPC.Burst < 0 {
		return fmt.Errorf("rpc: Burst cannot be negative")
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 || c.Log.MaxAgeDays < 0 {
		return fmt.Errorf("log: rotation limits cannot be negative")
	}
	return nil
}

// createDefault creates and saves a default configuration file.
func createDefault(path string) (*Config, error) {
	cfg := &Config{
		ListenAddress: ":8080",
		DataDir:       "./stakevault-data",
		Environment:   "development",
		RPC: RPC{
			AuthTokenEnv:        DefaultAuthTokenEnv,
			AdminSecretEnv:      DefaultAdminSecretEnv,
			IdempotencyTTLHours: 24,
		},
	}
	cfg.applyDefaults()

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
