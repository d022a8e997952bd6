package conf

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/DevRickLin/feishu-chatflow/internal/biz/usecase"
)

// Delivery modes
const (
	DeliveryCallback = "callback"
	DeliveryFeishu   = "feishu"
)

// Database drivers
const (
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
)

// Config represents application configuration
type Config struct {
	Server   ServerConfig
	Model    ModelConfig
	Search   SearchConfig
	Database DatabaseConfig
	Queue    QueueConfig
	Intake   IntakeConfig
	Delivery DeliveryConfig
	Feishu   FeishuConfig

	// Prompts configuration (loaded from YAML)
	Prompts     *PromptsConfig
	PromptsPath string

	Debug bool
}

// ServerConfig contains HTTP ingress settings
type ServerConfig struct {
	Addr string
}

// ModelConfig contains chat model settings
type ModelConfig struct {
	APIKey        string
	BaseURL       string
	ChatModel     string
	ConsiderModel string
	Temperature   float32
	Timeout       time.Duration
}

// SearchConfig contains web search settings
type SearchConfig struct {
	APIKey string
	URL    string
}

// DatabaseConfig contains store settings
type DatabaseConfig struct {
	Driver string // sqlite or postgres
	DSN    string
}

// QueueConfig contains scheduler settings
type QueueConfig struct {
	PollInterval    time.Duration
	Workers         int
	SessionTTL      time.Duration
	HistoryWindow   time.Duration
	CompressChars   int
	DeliveryTimeout time.Duration
}

// IntakeConfig contains per-type debounce delays and the reset command
type IntakeConfig struct {
	TextDelay    time.Duration
	PicDelay     time.Duration
	ResetCommand string
}

// DeliveryConfig selects how replies leave the process
type DeliveryConfig struct {
	Mode        string // callback or feishu
	CallbackURL string
}

// FeishuConfig contains Feishu configuration
type FeishuConfig struct {
	AppID     string
	AppSecret string
}

// LoadFromEnv loads configuration from environment variables,
// reading envFile first when it exists
func LoadFromEnv(envFile string) (*Config, error) {
	if envFile == "" {
		envFile = ".env"
	}
	if _, err := os.Stat(envFile); err == nil {
		if err := godotenv.Load(envFile); err != nil {
			return nil, fmt.Errorf("load %s: %w", envFile, err)
		}
	}

	dsn := os.Getenv("DB_DSN")
	driver := envString("DB_DRIVER", DriverSQLite)
	if dsn == "" && driver == DriverSQLite {
		homeDir, _ := os.UserHomeDir()
		dsn = filepath.Join(homeDir, ".feishu-chatflow", "chatflow.db")
	}

	promptsPath := os.Getenv("PROMPTS_CONFIG_PATH")
	prompts, loadedPath, err := LoadPromptsConfig(promptsPath)
	if err != nil {
		return nil, err
	}

	chat := usecase.DefaultChatflowConfig()
	intake := usecase.DefaultIntakeConfig()

	cfg := &Config{
		Server: ServerConfig{
			Addr: envString("HTTP_ADDR", ":8000"),
		},
		Model: ModelConfig{
			APIKey:        os.Getenv("OPENAI_API_KEY"),
			BaseURL:       os.Getenv("OPENAI_BASE_URL"),
			ChatModel:     envString("CHAT_MODEL", chat.ChatModel),
			ConsiderModel: envString("CONSIDER_MODEL", chat.ConsiderModel),
			Temperature:   float32(envFloat("CHAT_TEMPERATURE", float64(chat.Temperature))),
			Timeout:       envSeconds("MODEL_TIMEOUT_SECONDS", 120*time.Second),
		},
		Search: SearchConfig{
			APIKey: os.Getenv("ZHIPUAI_API_KEY"),
			URL:    os.Getenv("SEARCH_URL"),
		},
		Database: DatabaseConfig{
			Driver: driver,
			DSN:    dsn,
		},
		Queue: QueueConfig{
			PollInterval:    time.Duration(envInt("POLL_INTERVAL_MS", 100)) * time.Millisecond,
			Workers:         envInt("PIPELINE_WORKERS", 5),
			SessionTTL:      time.Duration(envInt("SESSION_TTL_MINUTES", 30)) * time.Minute,
			HistoryWindow:   time.Duration(envInt("HISTORY_WINDOW_MINUTES", int(chat.HistoryWindow/time.Minute))) * time.Minute,
			CompressChars:   envInt("HISTORY_COMPRESS_CHARS", chat.CompressThreshold),
			DeliveryTimeout: envSeconds("DELIVERY_TIMEOUT_SECONDS", 30*time.Second),
		},
		Intake: IntakeConfig{
			TextDelay:    envSeconds("TEXT_DELAY_SECONDS", intake.TextDelay),
			PicDelay:     envSeconds("PIC_DELAY_SECONDS", intake.PicDelay),
			ResetCommand: envString("RESET_COMMAND", intake.ResetCommand),
		},
		Delivery: DeliveryConfig{
			Mode:        envString("DELIVERY_MODE", DeliveryCallback),
			CallbackURL: envString("CHAT_CALLBACK_URL", "http://127.0.0.1:8080/callback"),
		},
		Feishu: FeishuConfig{
			AppID:     os.Getenv("FEISHU_APP_ID"),
			AppSecret: os.Getenv("FEISHU_APP_SECRET"),
		},
		Prompts:     prompts,
		PromptsPath: loadedPath,
		Debug:       os.Getenv("DEBUG") == "true",
	}
	return cfg, nil
}

// ToChatflowConfig converts to pipeline tuning
func (c *Config) ToChatflowConfig() usecase.ChatflowConfig {
	cfg := usecase.DefaultChatflowConfig()
	cfg.ChatModel = c.Model.ChatModel
	cfg.ConsiderModel = c.Model.ConsiderModel
	cfg.Temperature = c.Model.Temperature
	cfg.HistoryWindow = c.Queue.HistoryWindow
	cfg.CompressThreshold = c.Queue.CompressChars
	return cfg
}

// ToIntakeConfig converts to intake routing settings
func (c *Config) ToIntakeConfig() usecase.IntakeConfig {
	return usecase.IntakeConfig{
		TextDelay:    c.Intake.TextDelay,
		PicDelay:     c.Intake.PicDelay,
		ResetCommand: c.Intake.ResetCommand,
	}
}

// ToPromptConfig converts to the pipeline prompt configuration
func (c *Config) ToPromptConfig() usecase.PromptConfig {
	if c.Prompts == nil {
		return usecase.DefaultPromptConfig
	}
	return c.Prompts.ToPromptConfig()
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Model.APIKey == "" {
		return &ConfigError{Field: "OPENAI_API_KEY", Message: "required"}
	}
	switch c.Database.Driver {
	case DriverSQLite, DriverPostgres:
	default:
		return &ConfigError{Field: "DB_DRIVER", Message: fmt.Sprintf("unsupported driver %q", c.Database.Driver)}
	}
	if c.Database.DSN == "" {
		return &ConfigError{Field: "DB_DSN", Message: "required"}
	}
	if c.Queue.Workers < 1 {
		return &ConfigError{Field: "PIPELINE_WORKERS", Message: "must be at least 1"}
	}
	if c.Queue.PollInterval <= 0 {
		return &ConfigError{Field: "POLL_INTERVAL_MS", Message: "must be positive"}
	}
	switch c.Delivery.Mode {
	case DeliveryCallback:
		if c.Delivery.CallbackURL == "" {
			return &ConfigError{Field: "CHAT_CALLBACK_URL", Message: "required for callback delivery"}
		}
	case DeliveryFeishu:
		if c.Feishu.AppID == "" || c.Feishu.AppSecret == "" {
			return &ConfigError{Field: "FEISHU_APP_ID/FEISHU_APP_SECRET", Message: "required for feishu delivery"}
		}
	default:
		return &ConfigError{Field: "DELIVERY_MODE", Message: fmt.Sprintf("unsupported mode %q", c.Delivery.Mode)}
	}
	return nil
}

// FeishuEnabled reports whether Feishu credentials are configured
func (c *Config) FeishuEnabled() bool {
	return c.Feishu.AppID != "" && c.Feishu.AppSecret != ""
}

// ConfigError represents a configuration error
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return e.Field + ": " + e.Message
}

func envString(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func envInt(key string, def int) int {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.Atoi(val); err == nil {
			return parsed
		}
	}
	return def
}

func envFloat(key string, def float64) float64 {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return parsed
		}
	}
	return def
}

func envSeconds(key string, def time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if parsed, err := strconv.ParseFloat(val, 64); err == nil {
			return time.Duration(parsed * float64(time.Second))
		}
	}
	return def
}
