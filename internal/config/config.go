package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v6"
)

type LLMProvider string

const (
	ProviderOpenAI LLMProvider = "openai"
	ProviderYandex LLMProvider = "yandex"
)

type StoreDriver string

const (
	StoreFile   StoreDriver = "file"
	StoreSQLite StoreDriver = "sqlite"
)

type Config struct {
	TelegramBotToken string `env:"TELEGRAM_BOT_TOKEN"`
	AdminUserID      int64  `env:"ADMIN_USER"`

	// LLM settings
	LLMProvider      LLMProvider `env:"LLM_PROVIDER" envDefault:"openai"`
	OpenAIAPIKey     string      `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string      `env:"OPENAI_BASE_URL"`
	OpenAIModel      string      `env:"OPENAI_MODEL" envDefault:"gpt-3.5-turbo"`
	YandexOAuthToken string      `env:"YANDEX_OAUTH_TOKEN"`
	YandexFolderID   string      `env:"YANDEX_FOLDER_ID"`

	// OpenRouter (optional)
	OpenRouterReferrer string `env:"OPENROUTER_REFERRER"`
	OpenRouterTitle    string `env:"OPENROUTER_TITLE"`

	// Completion request
	MaxTokens         int           `env:"MAX_TOKENS" envDefault:"500"`
	Temperature       float32       `env:"TEMPERATURE" envDefault:"0.95"`
	CompletionTimeout time.Duration `env:"COMPLETION_TIMEOUT" envDefault:"30s"`

	// Persona and presentation
	AccountTag              string        `env:"ACCOUNT_TAG" envDefault:"baby72773"`
	PersonaPath             string        `env:"PERSONA_PATH" envDefault:"prompts/persona.yaml"`
	ExtraMessageProbability float64       `env:"EXTRA_MESSAGE_PROBABILITY" envDefault:"0.6"`
	TypingDelayMin          time.Duration `env:"TYPING_DELAY_MIN" envDefault:"1s"`
	TypingDelayMax          time.Duration `env:"TYPING_DELAY_MAX" envDefault:"3s"`

	// Storage
	StoreDriver        StoreDriver `env:"STORE_DRIVER" envDefault:"file"`
	StorePath          string      `env:"STORE_PATH" envDefault:"data/bot_memory.json"`
	SQLitePath         string      `env:"SQLITE_PATH" envDefault:"data/bot_memory.db"`
	InteractionLogPath string      `env:"INTERACTION_LOG_PATH" envDefault:"logs/interactions.jsonl"`
	MaxHistoryTurns    int         `env:"MAX_HISTORY_TURNS" envDefault:"40"`

	// Process
	HTTPAddr       string `env:"HTTP_ADDR" envDefault:":8080"`
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string `env:"LOG_FORMAT" envDefault:"console"`
	DigestSchedule string `env:"DIGEST_SCHEDULE" envDefault:"0 21 * * *"`
}

// Load reads the configuration from the environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

// Validate reports every out-of-range value at once.
func (c *Config) Validate() error {
	var errs []error
	switch c.LLMProvider {
	case ProviderOpenAI, ProviderYandex:
	default:
		errs = append(errs, fmt.Errorf("unknown LLM_PROVIDER %q", c.LLMProvider))
	}
	switch c.StoreDriver {
	case StoreFile, StoreSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown STORE_DRIVER %q", c.StoreDriver))
	}
	if c.MaxTokens <= 0 {
		errs = append(errs, errors.New("MAX_TOKENS must be positive"))
	}
	if c.Temperature < 0 || c.Temperature > 2 {
		errs = append(errs, errors.New("TEMPERATURE must be within [0, 2]"))
	}
	if c.CompletionTimeout <= 0 {
		errs = append(errs, errors.New("COMPLETION_TIMEOUT must be positive"))
	}
	if c.ExtraMessageProbability < 0 || c.ExtraMessageProbability > 1 {
		errs = append(errs, errors.New("EXTRA_MESSAGE_PROBABILITY must be within [0, 1]"))
	}
	if c.TypingDelayMin < 0 || c.TypingDelayMax < c.TypingDelayMin {
		errs = append(errs, errors.New("typing delay range must satisfy 0 <= TYPING_DELAY_MIN <= TYPING_DELAY_MAX"))
	}
	if c.MaxHistoryTurns < 0 {
		errs = append(errs, errors.New("MAX_HISTORY_TURNS must not be negative"))
	}
	return errors.Join(errs...)
}

// ValidateRun adds the checks that only matter when the bot is actually serving.
func (c *Config) ValidateRun() error {
	var errs []error
	if err := c.Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.TelegramBotToken == "" {
		errs = append(errs, errors.New("TELEGRAM_BOT_TOKEN is required"))
	}
	switch c.LLMProvider {
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = append(errs, errors.New("OPENAI_API_KEY is required for the openai provider"))
		}
	case ProviderYandex:
		if c.YandexOAuthToken == "" || c.YandexFolderID == "" {
			errs = append(errs, errors.New("YANDEX_OAUTH_TOKEN and YANDEX_FOLDER_ID are required for the yandex provider"))
		}
	}
	return errors.Join(errs...)
}
