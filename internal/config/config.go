package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration for mezada.
type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Storage    StorageConfig    `yaml:"storage"`
	Generation GenerationConfig `yaml:"generation"`
	Transport  TransportConfig  `yaml:"transport"`
	Dispatch   DispatchConfig   `yaml:"dispatch"`
	Messages   MessagesConfig   `yaml:"messages"`
	Operator   OperatorConfig   `yaml:"operator"`
}

type ServerConfig struct {
	Host        string `yaml:"host" env:"MEZADA_HOST"`
	Port        int    `yaml:"port" env:"MEZADA_PORT"`
	WebhookPath string `yaml:"webhookPath" env:"MEZADA_WEBHOOK_PATH"`
	MetricsPath string `yaml:"metricsPath,omitempty"`
}

type LogConfig struct {
	Level string `yaml:"level" env:"MEZADA_LOG_LEVEL"` // debug | info | warn | error
	File  string `yaml:"file,omitempty" env:"MEZADA_LOG_FILE"`
}

type StorageConfig struct {
	DBPath string `yaml:"dbPath" env:"MEZADA_DB_PATH"`
}

// GenerationConfig points at an OpenAI-compatible chat completions API.
type GenerationConfig struct {
	APIBase        string `yaml:"apiBase" env:"MEZADA_GENERATION_API_BASE"`
	APIKey         string `yaml:"apiKey,omitempty" env:"GROQ_API_KEY"`
	Model          string `yaml:"model" env:"MEZADA_GENERATION_MODEL"`
	TimeoutSeconds int    `yaml:"timeoutSeconds"`
	MaxRetries     int    `yaml:"maxRetries"`     // retries after the first attempt; 0 = none
	PromptTemplate string `yaml:"promptTemplate"` // must contain {{history}}
}

// TransportConfig configures the Twilio WhatsApp sender.
type TransportConfig struct {
	APIBase               string  `yaml:"apiBase"`
	AccountSID            string  `yaml:"accountSid,omitempty" env:"TWILIO_ACCOUNT_SID"`
	AuthToken             string  `yaml:"authToken,omitempty" env:"TWILIO_AUTH_TOKEN"`
	From                  string  `yaml:"from" env:"TWILIO_WHATSAPP_NUMBER"`
	SendTimeoutSeconds    int     `yaml:"sendTimeoutSeconds"`
	WelcomeTimeoutSeconds int     `yaml:"welcomeTimeoutSeconds"` // caps the welcome sent before the ack
	RatePerSecond         float64 `yaml:"ratePerSecond"`
	Burst                 int     `yaml:"burst"`
}

type DispatchConfig struct {
	Workers             int `yaml:"workers" env:"MEZADA_WORKERS"`
	QueueSize           int `yaml:"queueSize"`
	DrainTimeoutSeconds int `yaml:"drainTimeoutSeconds"`
}

// MessagesConfig holds the fixed user-facing texts.
type MessagesConfig struct {
	Welcome      string `yaml:"welcome"`
	Ack          string `yaml:"ack"`
	AdviceHeader string `yaml:"adviceHeader"`
}

// OperatorConfig enables Telegram alerts for dropped units. Empty token disables it.
type OperatorConfig struct {
	TelegramToken  string `yaml:"telegramToken,omitempty" env:"MEZADA_OPERATOR_TELEGRAM_TOKEN"`
	TelegramChatID int64  `yaml:"telegramChatId,omitempty" env:"MEZADA_OPERATOR_TELEGRAM_CHAT_ID"`
}

// DefaultConfigDir returns the default config directory (~/.mezada).
func DefaultConfigDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".mezada"
	}
	return filepath.Join(home, ".mezada")
}

func DefaultConfigPath() string {
	return filepath.Join(DefaultConfigDir(), "config.yaml")
}

// Load reads the YAML file at path over the defaults, then applies environment
// overrides. A missing file is not an error: defaults plus environment are used.
func Load(path string) (*Config, error) {
	path = ExpandPath(path)
	cfg := Defaults()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, fmt.Errorf("cannot read config file %s: %w", path, err)
	default:
		// Substitute environment variables: ${VAR} and ${VAR:-default}
		data = []byte(ExpandEnvVars(string(data)))
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("cannot parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("environment overrides: %w", err)
	}

	cfg.Storage.DBPath = ExpandPath(cfg.Storage.DBPath)
	cfg.Log.File = ExpandPath(cfg.Log.File)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}
	return cfg, nil
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
		defaultVal := ""
		hasDefault := len(groups) >= 3 && groups[2] != ""
		if hasDefault {
			defaultVal = groups[2]
		}

		val, exists := os.LookupEnv(groups[1])
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
	path = ExpandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("cannot create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("cannot marshal config: %w", err)
	}
	return os.WriteFile(path, data, 0o600)
}

// Validate checks that the config has valid values.
func Validate(cfg *Config) error {
	var errs []string

	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if !strings.HasPrefix(cfg.Server.WebhookPath, "/") {
		errs = append(errs, "server.webhookPath must start with /")
	}
	switch cfg.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, "log.level must be one of: debug, info, warn, error")
	}
	if cfg.Storage.DBPath == "" {
		errs = append(errs, "storage.dbPath is required")
	}

	if cfg.Generation.APIBase == "" {
		errs = append(errs, "generation.apiBase is required")
	}
	if cfg.Generation.Model == "" {
		errs = append(errs, "generation.model is required")
	}
	if cfg.Generation.TimeoutSeconds < 1 {
		errs = append(errs, "generation.timeoutSeconds must be >= 1")
	}
	if cfg.Generation.MaxRetries < 0 || cfg.Generation.MaxRetries > 5 {
		errs = append(errs, "generation.maxRetries must be between 0 and 5")
	}
	if !strings.Contains(cfg.Generation.PromptTemplate, HistoryPlaceholder) {
		errs = append(errs, "generation.promptTemplate must contain "+HistoryPlaceholder)
	}

	if cfg.Transport.SendTimeoutSeconds < 1 {
		errs = append(errs, "transport.sendTimeoutSeconds must be >= 1")
	}
	if cfg.Transport.WelcomeTimeoutSeconds < 1 || cfg.Transport.WelcomeTimeoutSeconds > 10 {
		errs = append(errs, "transport.welcomeTimeoutSeconds must be between 1 and 10")
	}
	if cfg.Transport.RatePerSecond <= 0 {
		errs = append(errs, "transport.ratePerSecond must be > 0")
	}
	if cfg.Transport.Burst < 1 {
		errs = append(errs, "transport.burst must be >= 1")
	}

	if cfg.Dispatch.Workers < 1 || cfg.Dispatch.Workers > 256 {
		errs = append(errs, "dispatch.workers must be between 1 and 256")
	}
	if cfg.Dispatch.QueueSize < 1 {
		errs = append(errs, "dispatch.queueSize must be >= 1")
	}
	if cfg.Dispatch.DrainTimeoutSeconds < 1 {
		errs = append(errs, "dispatch.drainTimeoutSeconds must be >= 1")
	}

	if cfg.Messages.Ack == "" {
		errs = append(errs, "messages.ack is required")
	}
	if cfg.Operator.TelegramToken != "" && cfg.Operator.TelegramChatID == 0 {
		errs = append(errs, "operator.telegramChatId is required when operator.telegramToken is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
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
