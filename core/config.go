package core

import (
	"errors"
	"fmt"
	"io/fs"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"fluxserve/fluxruntime"
)

// Defaults for a zero-config local run.
const (
	DefaultModelDir        = "flux-klein-model"
	DefaultBackend         = fluxruntime.BackendNative
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 7860
	DefaultWidth           = 256
	DefaultHeight          = 256
	DefaultSteps           = 4
	DefaultGuidance        = 1.0
	DefaultShutdownTimeout = 30 * time.Second
	DefaultRemoteTimeout   = 5 * time.Minute
	DefaultLogFile         = "fluxserve.log"
)

// EngineConfig selects and configures the engine backend.
type EngineConfig struct {
	ModelDir  string        `yaml:"model_dir"`
	UseMmap   bool          `yaml:"use_mmap"`
	Backend   string        `yaml:"backend"`
	OutputDir string        `yaml:"output_dir"` // empty means a per-process temp dir
	OutputTTL time.Duration `yaml:"output_ttl"` // 0 keeps artifacts until shutdown
}

// DefaultsConfig holds the values used when a request leaves a field out.
type DefaultsConfig struct {
	Width    int     `yaml:"width"`
	Height   int     `yaml:"height"`
	Steps    int     `yaml:"steps"`
	Guidance float64 `yaml:"guidance"`
	Seed     int64   `yaml:"seed"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	APIKeyHash      string        `yaml:"api_key_hash"` // bcrypt hash; empty disables auth
	CORSOrigins     []string      `yaml:"cors_origins"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// HistoryConfig configures the generation history database.
type HistoryConfig struct {
	DBPath        string `yaml:"db_path"` // empty disables history
	RetentionDays int    `yaml:"retention_days"`
}

// RemoteConfig configures the remote images backend.
type RemoteConfig struct {
	URL     string        `yaml:"url"`
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	Timeout time.Duration `yaml:"timeout"`
}

// LogConfig configures logging.
type LogConfig struct {
	File    string `yaml:"file"`
	Level   string `yaml:"level"`
	DevMode bool   `yaml:"dev_mode"`
}

// Config is the complete fluxserve configuration.
type Config struct {
	Engine   EngineConfig   `yaml:"engine"`
	Defaults DefaultsConfig `yaml:"defaults"`
	Server   ServerConfig   `yaml:"server"`
	History  HistoryConfig  `yaml:"history"`
	Remote   RemoteConfig   `yaml:"remote"`
	Log      LogConfig      `yaml:"log"`

	// ConfigFile is the YAML file that was applied, if any.
	ConfigFile string `yaml:"-"`
}

// DefaultConfig returns the built-in defaults.
func DefaultConfig() *Config {
	return &Config{
		Engine: EngineConfig{
			ModelDir:  DefaultModelDir,
			Backend:   DefaultBackend,
			// empty: PrepareOutputDir creates a private directory
		},
		Defaults: DefaultsConfig{
			Width:    DefaultWidth,
			Height:   DefaultHeight,
			Steps:    DefaultSteps,
			Guidance: DefaultGuidance,
			Seed:     fluxruntime.SeedRandom,
		},
		Server: ServerConfig{
			Host:            DefaultHost,
			Port:            DefaultPort,
			ShutdownTimeout: DefaultShutdownTimeout,
		},
		Remote: RemoteConfig{Timeout: DefaultRemoteTimeout},
		Log:    LogConfig{File: DefaultLogFile, Level: "info"},
	}
}

// LoadConfig builds the configuration in layers: defaults, then the YAML
// file named by FLUX_CONFIG_FILE, then environment variables. envFile is
// loaded into the environment first without overriding variables that are
// already set; an empty envFile means ".env" if it exists.
func LoadConfig(envFile string) (*Config, error) {
	if err := loadEnvFile(envFile); err != nil {
		return nil, err
	}

	cfg := DefaultConfig()
	if path := os.Getenv("FLUX_CONFIG_FILE"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadEnvFile(envFile string) error {
	if envFile == "" {
		if _, err := os.Stat(".env"); err != nil {
			return nil
		}
		envFile = ".env"
	}
	if err := godotenv.Load(envFile); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return ErrEnvFileMissing(envFile)
		}
		return ErrConfigFileInvalid(envFile, err)
	}
	return nil
}

func (c *Config) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return ErrConfigFileInvalid(path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return ErrConfigFileInvalid(path, err)
	}
	c.ConfigFile = path
	return nil
}

func (c *Config) applyEnv() {
	c.Engine.ModelDir = GetEnvOrDefault("FLUX_MODEL_DIR", c.Engine.ModelDir)
	c.Engine.UseMmap = ParseBoolEnv("FLUX_USE_MMAP", c.Engine.UseMmap)
	c.Engine.Backend = GetEnvOrDefault("FLUX_BACKEND", c.Engine.Backend)
	c.Engine.OutputDir = GetEnvOrDefault("FLUX_OUTPUT_DIR", c.Engine.OutputDir)
	c.Engine.OutputTTL = ParseSecondsEnv("FLUX_OUTPUT_TTL_SECONDS", c.Engine.OutputTTL)

	c.Defaults.Width = ParseIntEnv("FLUX_DEFAULT_WIDTH", c.Defaults.Width)
	c.Defaults.Height = ParseIntEnv("FLUX_DEFAULT_HEIGHT", c.Defaults.Height)
	c.Defaults.Steps = ParseIntEnv("FLUX_DEFAULT_STEPS", c.Defaults.Steps)
	c.Defaults.Guidance = ParseFloat64Env("FLUX_DEFAULT_GUIDANCE", c.Defaults.Guidance)
	c.Defaults.Seed = ParseInt64Env("FLUX_DEFAULT_SEED", c.Defaults.Seed)

	c.Server.Host = GetEnvOrDefault("FLUX_HOST", c.Server.Host)
	c.Server.Port = ParseIntEnv("FLUX_PORT", c.Server.Port)
	c.Server.APIKeyHash = GetEnvOrDefault("FLUX_API_KEY_HASH", c.Server.APIKeyHash)
	c.Server.CORSOrigins = ParseListEnv("FLUX_CORS_ORIGINS", c.Server.CORSOrigins)
	c.Server.ShutdownTimeout = ParseSecondsEnv("FLUX_SHUTDOWN_TIMEOUT_SECONDS", c.Server.ShutdownTimeout)

	c.History.DBPath = GetEnvOrDefault("FLUX_HISTORY_DB", c.History.DBPath)
	c.History.RetentionDays = ParseIntEnv("FLUX_HISTORY_RETENTION_DAYS", c.History.RetentionDays)

	c.Remote.URL = GetEnvOrDefault("FLUX_REMOTE_URL", c.Remote.URL)
	c.Remote.APIKey = GetEnvOrDefault("FLUX_REMOTE_API_KEY", c.Remote.APIKey)
	c.Remote.Model = GetEnvOrDefault("FLUX_REMOTE_MODEL", c.Remote.Model)
	c.Remote.Timeout = ParseSecondsEnv("FLUX_REMOTE_TIMEOUT_SECONDS", c.Remote.Timeout)

	c.Log.File = GetEnvOrDefault("FLUX_LOG_FILE", c.Log.File)
	c.Log.Level = GetEnvOrDefault("FLUX_LOG_LEVEL", c.Log.Level)
	c.Log.DevMode = ParseBoolEnv("DEV_MODE", c.Log.DevMode)
}

// Validate checks cross-field constraints and returns the first problem as
// a *ConfigError.
func (c *Config) Validate() error {
	switch c.Engine.Backend {
	case fluxruntime.BackendNative, fluxruntime.BackendPlaceholder, fluxruntime.BackendRemote:
	default:
		return ErrInvalidValue("FLUX_BACKEND", c.Engine.Backend, "must be native, placeholder or remote")
	}
	if c.Engine.ModelDir == "" {
		return ErrMissingConfig("FLUX_MODEL_DIR", "the engine needs a model directory")
	}
	if c.Engine.Backend == fluxruntime.BackendRemote && c.Remote.URL == "" {
		return ErrMissingConfig("FLUX_REMOTE_URL", "required by the remote backend")
	}
	if c.Engine.OutputTTL < 0 {
		return ErrInvalidValue("FLUX_OUTPUT_TTL_SECONDS", c.Engine.OutputTTL, "must not be negative")
	}

	// The defaults must form a valid request on their own.
	if err := fluxruntime.ValidateRequest(c.DefaultRequest("default")); err != nil {
		var fe *fluxruntime.Error
		if errors.As(err, &fe) {
			return ErrInvalidValue("FLUX_DEFAULT_*", "", fe.Message)
		}
		return ErrInvalidValue("FLUX_DEFAULT_*", "", err.Error())
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return ErrInvalidValue("FLUX_PORT", c.Server.Port, "must be between 1 and 65535")
	}
	if c.Server.ShutdownTimeout <= 0 {
		return ErrInvalidValue("FLUX_SHUTDOWN_TIMEOUT_SECONDS", c.Server.ShutdownTimeout, "must be positive")
	}
	if c.History.RetentionDays < 0 {
		return ErrInvalidValue("FLUX_HISTORY_RETENTION_DAYS", c.History.RetentionDays, "must not be negative")
	}
	return nil
}

// Address is the HTTP listen address.
func (c *Config) Address() string {
	return net.JoinHostPort(c.Server.Host, strconv.Itoa(c.Server.Port))
}

// DefaultRequest returns a request filled with the configured defaults.
func (c *Config) DefaultRequest(prompt string) fluxruntime.Request {
	return fluxruntime.Request{
		ModelDir: c.Engine.ModelDir,
		Prompt:   prompt,
		Width:    c.Defaults.Width,
		Height:   c.Defaults.Height,
		Steps:    c.Defaults.Steps,
		Guidance: c.Defaults.Guidance,
		Seed:     c.Defaults.Seed,
		UseMmap:  c.Engine.UseMmap,
	}
}

// BackendOptions converts the remote settings for fluxruntime.NewBackend.
func (c *Config) BackendOptions() fluxruntime.BackendOptions {
	return fluxruntime.BackendOptions{
		Remote: fluxruntime.RemoteConfig{
			BaseURL: c.Remote.URL,
			APIKey:  c.Remote.APIKey,
			Model:   c.Remote.Model,
			Timeout: c.Remote.Timeout,
		},
	}
}

// String summarises the configuration without secrets.
func (c *Config) String() string {
	auth := "off"
	if c.Server.APIKeyHash != "" {
		auth = "on"
	}
	history := "off"
	if c.History.DBPath != "" {
		history = c.History.DBPath
	}
	return fmt.Sprintf("backend=%s model_dir=%s mmap=%t output_dir=%s listen=%s auth=%s history=%s",
		c.Engine.Backend, c.Engine.ModelDir, c.Engine.UseMmap, c.Engine.OutputDir, c.Address(), auth, history)
}

// PrepareOutputDir makes sure the output directory exists. An empty
// OutputDir is replaced by a fresh directory under os.TempDir that belongs to
// this process, and owned reports that case.
func (c *Config) PrepareOutputDir() (owned bool, err error) {
	if c.Engine.OutputDir == "" {
		dir, err := os.MkdirTemp("", "fluxserve-")
		if err != nil {
			return false, fmt.Errorf("create output dir: %w", err)
		}
		c.Engine.OutputDir = dir
		return true, nil
	}
	if err := os.MkdirAll(c.Engine.OutputDir, 0o755); err != nil {
		return false, fmt.Errorf("create output dir %s: %w", c.Engine.OutputDir, err)
	}
	return false, nil
}
