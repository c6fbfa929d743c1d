package config

import (
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// Config is the root configuration for aihub.
type Config struct {
	General  GeneralConfig  `json:"general"`
	Backends BackendsConfig `json:"backends"`
	Health   HealthConfig   `json:"health"`
	Store    StoreConfig    `json:"store"`
	API      APIConfig      `json:"api"`
	Notify   NotifyConfig   `json:"notify"`
	Export   ExportConfig   `json:"export"`
	Metrics  MetricsConfig  `json:"metrics"`
}

type GeneralConfig struct {
	DataDir  string `json:"dataDir"`
	LogLevel string `json:"logLevel"`
	LogFile  string `json:"logFile,omitempty"` // optional log file path
}

// BackendConfig is shared by every local service entry.
type BackendConfig struct {
	Enabled        bool   `json:"enabled"`
	Name           string `json:"name,omitempty"` // display name
	APIBase        string `json:"apiBase"`
	TimeoutSeconds int    `json:"timeoutSeconds,omitempty"` // per request; 0 = transport default
	AutoStart      bool   `json:"autoStart,omitempty"`
}

// Timeout returns the request bound as a duration.
func (b BackendConfig) Timeout() time.Duration {
	return time.Duration(b.TimeoutSeconds) * time.Second
}

type BackendsConfig struct {
	Ollama    OllamaBackend  `json:"ollama"`
	Whisper   WhisperBackend `json:"whisper"`
	ComfyUI   ComfyUIBackend `json:"comfyui"`
	OpenWebUI BackendConfig  `json:"openwebui"`
}

type OllamaBackend struct {
	BackendConfig
	DefaultModel string `json:"defaultModel"`
	VisionModel  string `json:"visionModel,omitempty"` // empty = same as defaultModel
}

type WhisperBackend struct {
	BackendConfig
	Language string `json:"language"`
}

type ComfyUIBackend struct {
	BackendConfig
	PollIntervalMs int    `json:"pollIntervalMs"`
	MaxWaitSeconds int    `json:"maxWaitSeconds"`
	WorkflowFile   string `json:"workflowFile,omitempty"` // YAML template; empty = built-in
	NegativePrompt string `json:"negativePrompt,omitempty"`
}

type HealthConfig struct {
	Schedule            string `json:"schedule"` // cron spec, e.g. "@every 30s"
	ProbeTimeoutSeconds int    `json:"probeTimeoutSeconds"`
}

type StoreConfig struct {
	Enabled bool   `json:"enabled"`
	DBPath  string `json:"dbPath"`

	// Probe results older than this are pruned while serving. 0 keeps them forever.
	ProbeRetentionDays int `json:"probeRetentionDays"`
}

// APIConfig configures the local HTTP API.
type APIConfig struct {
	Enabled bool   `json:"enabled"`
	Host    string `json:"host"`
	Port    int    `json:"port"`
	APIKey  string `json:"apiKey,omitempty"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `json:"telegram"`
}

type TelegramConfig struct {
	Enabled     bool   `json:"enabled"`
	Token       string `json:"token"`
	ChatID      int64  `json:"chatId"`
	ParseMode   string `json:"parseMode"`
	MinSeverity string `json:"minSeverity"` // info | success | warning | error
}

type ExportConfig struct {
	Dir    string `json:"dir"`
	Format string `json:"format"` // "text" | "html"
}

// MetricsConfig configures the Prometheus text endpoint.
type MetricsConfig struct {
	Enabled  bool   `json:"enabled"`
	Endpoint string `json:"endpoint"`
}

// DefaultConfigDir returns the default config directory (~/.aihub).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".aihub"
	}
	return filepath.Join(home, ".aihub")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.json")
}

func Load(path string) (*Config, error) {
	path = ExpandPath(path)

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	}

	// Substitute environment variables: ${VAR} and ${VAR:-default}
	data = []byte(ExpandEnvVars(string(data)))

	cfg := Defaults()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
	}
	cfg.expandPaths()

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

func (cfg *Config) expandPaths() {
	cfg.General.DataDir = ExpandPath(cfg.General.DataDir)
	cfg.General.LogFile = ExpandPath(cfg.General.LogFile)
	cfg.Store.DBPath = ExpandPath(cfg.Store.DBPath)
	cfg.Export.Dir = ExpandPath(cfg.Export.Dir)
	cfg.Backends.ComfyUI.WorkflowFile = ExpandPath(cfg.Backends.ComfyUI.WorkflowFile)
}

// envVarPattern matches ${VAR} and ${VAR:-default} patterns in config strings.
var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(?::-(.*?))?\}`)

// ExpandEnvVars replaces ${VAR} with the environment variable value.
// Supports default values: ${VAR:-default} uses "default" when VAR is unset or empty.
func ExpandEnvVars(input string) string {
	return envVarPattern.ReplaceAllStringFunc(input, func(match string) string {
		groups := envVarPattern.FindStringSubmatch(match)
		if len(groups) < 2 {
			return match
		}
		varName := groups[1]
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(varName)
		if !exists || val == "" {
			if hasDefault {
				return defaultVal
			}
			return match
		}
		return val
	})
}

func Save(path string, cfg *Config) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}

	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	switch cfg.General.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "general.logLevel must be one of: debug, info, warn, error")
	}

	errs = append(errs, validateBackend("backends.ollama", cfg.Backends.Ollama.BackendConfig)...)
	errs = append(errs, validateBackend("backends.whisper", cfg.Backends.Whisper.BackendConfig)...)
	errs = append(errs, validateBackend("backends.comfyui", cfg.Backends.ComfyUI.BackendConfig)...)
	errs = append(errs, validateBackend("backends.openwebui", cfg.Backends.OpenWebUI)...)

	// Chat cannot work without the text backend.
	if !cfg.Backends.Ollama.Enabled {
		errs = append(errs, "backends.ollama must be enabled")
	}
	if cfg.Backends.Ollama.DefaultModel == "" {
		errs = append(errs, "backends.ollama.defaultModel is required")
	}
	if cfg.Backends.ComfyUI.PollIntervalMs < 1 {
		errs = append(errs, "backends.comfyui.pollIntervalMs must be >= 1")
	}
	if cfg.Backends.ComfyUI.MaxWaitSeconds < 1 {
		errs = append(errs, "backends.comfyui.maxWaitSeconds must be >= 1")
	}

	if _, err := cron.ParseStandard(cfg.Health.Schedule); err != nil {
		errs = append(errs, fmt.Sprintf("health.schedule is invalid: %v", err))
	}
	if cfg.Health.ProbeTimeoutSeconds < 1 {
		errs = append(errs, "health.probeTimeoutSeconds must be >= 1")
	}

	if cfg.Store.Enabled && cfg.Store.DBPath == "" {
		errs = append(errs, "store.dbPath is required when the store is enabled")
	}
	if cfg.Store.ProbeRetentionDays < 0 {
		errs = append(errs, "store.probeRetentionDays must be >= 0")
	}

	if cfg.API.Port < 0 || cfg.API.Port > 65535 {
		errs = append(errs, "api.port must be between 0 and 65535")
	}

	tg := cfg.Notify.Telegram
	if tg.Enabled {
		if tg.Token == "" {
			errs = append(errs, "notify.telegram.token is required when telegram is enabled")
		}
		if tg.ChatID == 0 {
			errs = append(errs, "notify.telegram.chatId is required when telegram is enabled")
		}
	}
	switch tg.MinSeverity {
	case "", "info", "success", "warning", "error":
	default:
		errs = append(errs, "notify.telegram.minSeverity must be one of: info, success, warning, error")
	}

	switch cfg.Export.Format {
	case "text", "html":
	default:
		errs = append(errs, "export.format must be one of: text, html")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

func validateBackend(prefix string, b BackendConfig) []string {
	var errs []string
	if b.TimeoutSeconds < 0 {
		errs = append(errs, prefix+".timeoutSeconds must be >= 0")
	}
	if !b.Enabled {
		return errs
	}
	u, err := url.Parse(b.APIBase)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, prefix+".apiBase must be an http(s) URL")
	}
	return errs
}

// ExpandPath resolves ~/ to the user's home directory.
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
