package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

const (
	defaultChatCompletionsURL = "https://api.deepseek.com/v1/chat/completions"
	defaultModel              = "deepseek-chat"
	defaultSystemPrompt       = "Ты полезный ассистент. Отвечай на русском языке."
	defaultDBPath             = "chat_history.db"
)

// RelayConfig holds configuration for the relay process.
type RelayConfig struct {
	TelegramAPIBase        string
	Timeout                int
	SleepSeconds           int
	DropPending            bool
	PendingWindowSeconds   int64
	PendingMaxMessages     int
	APIKey                 string
	ChatCompletionsURL     string
	Model                  string
	MaxHistory             int
	SystemPrompt           string
	DBPath                 string
	FlushIntervalMillis    int
	UpstreamTimeoutSeconds int
	LogLevel               string
	ModelProvider          string
	Commander              string
	DummyProviderScript    string
	DummyCommanderScript   string
	DummySendScript        string
	ConfigFile             string
}

// fileConfig is the optional TOML file named by RELAY_CONFIG_FILE.
// Environment variables always win over file values.
type fileConfig struct {
	ChatCompletionsURL     string `toml:"chat_completions_url"`
	Model                  string `toml:"model"`
	MaxHistory             *int   `toml:"max_history"`
	SystemPrompt           string `toml:"system_prompt"`
	DBPath                 string `toml:"db_path"`
	FlushIntervalMillis    *int   `toml:"flush_interval_ms"`
	UpstreamTimeoutSeconds *int   `toml:"upstream_timeout_seconds"`
	LogLevel               string `toml:"log_level"`
}

// LoadDotEnv loads KEY=VALUE pairs from path into the process environment,
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if strings.TrimSpace(path) == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Overload(path); err != nil {
		return fmt.Errorf("failed to load env file %s: %w", path, err)
	}
	return nil
}

// LoadRelayConfig reads relay configuration from environment variables,
// falling back to RELAY_CONFIG_FILE and then to built-in defaults.
func LoadRelayConfig() (RelayConfig, error) {
	configFile := strings.TrimSpace(os.Getenv("RELAY_CONFIG_FILE"))
	var fc fileConfig
	if configFile != "" {
		if _, err := toml.DecodeFile(configFile, &fc); err != nil {
			return RelayConfig{}, fmt.Errorf("RELAY_CONFIG_FILE %s: %w", configFile, err)
		}
	}

	modelProvider := envOrDefault("RELAY_MODEL_PROVIDER", "openai")
	commander := envOrDefault("RELAY_COMMANDER", "telegram")
	switch modelProvider {
	case "openai", "dummy":
	default:
		return RelayConfig{}, fmt.Errorf("RELAY_MODEL_PROVIDER must be openai or dummy, got %q", modelProvider)
	}
	switch commander {
	case "telegram", "dummy":
	default:
		return RelayConfig{}, fmt.Errorf("RELAY_COMMANDER must be telegram or dummy, got %q", commander)
	}

	telegramToken := os.Getenv("TELEGRAM_BOT_TOKEN")
	if commander == "telegram" && telegramToken == "" {
		return RelayConfig{}, fmt.Errorf("TELEGRAM_BOT_TOKEN is required in environment when RELAY_COMMANDER=telegram")
	}
	apiKey := os.Getenv("DEEPSEEK_API_KEY")
	if modelProvider == "openai" && apiKey == "" {
		return RelayConfig{}, fmt.Errorf("DEEPSEEK_API_KEY is required in environment when RELAY_MODEL_PROVIDER=openai")
	}

	maxHistory, err := envIntStrict("MAX_HISTORY", intOr(fc.MaxHistory, 10))
	if err != nil {
		return RelayConfig{}, err
	}
	if maxHistory < 0 {
		return RelayConfig{}, fmt.Errorf("MAX_HISTORY must be >= 0, got %d", maxHistory)
	}
	flushMillis, err := envIntStrict("RELAY_FLUSH_INTERVAL_MS", intOr(fc.FlushIntervalMillis, 500))
	if err != nil {
		return RelayConfig{}, err
	}
	if flushMillis <= 0 {
		return RelayConfig{}, fmt.Errorf("RELAY_FLUSH_INTERVAL_MS must be > 0, got %d", flushMillis)
	}
	upstreamTimeout, err := envIntStrict("RELAY_UPSTREAM_TIMEOUT_SECONDS", intOr(fc.UpstreamTimeoutSeconds, 300))
	if err != nil {
		return RelayConfig{}, err
	}
	if upstreamTimeout <= 0 {
		return RelayConfig{}, fmt.Errorf("RELAY_UPSTREAM_TIMEOUT_SECONDS must be > 0, got %d", upstreamTimeout)
	}

	return RelayConfig{
		TelegramAPIBase:        fmt.Sprintf("https://api.telegram.org/bot%s", telegramToken),
		Timeout:                envIntOrDefault("TG_TIMEOUT", 30),
		SleepSeconds:           envIntOrDefault("TG_SLEEP_SECONDS", 1),
		DropPending:            envBoolOrDefault("TG_DROP_PENDING", true),
		PendingWindowSeconds:   int64(envIntOrDefault("TG_PENDING_WINDOW_SECONDS", 600)),
		PendingMaxMessages:     envIntOrDefault("TG_PENDING_MAX_MESSAGES", 50),
		APIKey:                 apiKey,
		ChatCompletionsURL:     envOrDefault("DEEPSEEK_CHAT_COMPLETIONS_URL", stringOr(fc.ChatCompletionsURL, defaultChatCompletionsURL)),
		Model:                  envOrDefault("MODEL_NAME", stringOr(fc.Model, defaultModel)),
		MaxHistory:             maxHistory,
		SystemPrompt:           envOrDefault("SYSTEM_PROMPT", stringOr(fc.SystemPrompt, defaultSystemPrompt)),
		DBPath:                 envOrDefault("DB_NAME", stringOr(fc.DBPath, defaultDBPath)),
		FlushIntervalMillis:    flushMillis,
		UpstreamTimeoutSeconds: upstreamTimeout,
		LogLevel:               envOrDefault("LOG_LEVEL", stringOr(fc.LogLevel, "info")),
		ModelProvider:          modelProvider,
		Commander:              commander,
		DummyProviderScript:    envOrDefault("RELAY_DUMMY_PROVIDER_SCRIPT", "ok"),
		DummyCommanderScript:   envOrDefault("RELAY_DUMMY_COMMANDER_SCRIPT", "ok"),
		DummySendScript:        envOrDefault("RELAY_DUMMY_COMMANDER_SEND_SCRIPT", "ok"),
		ConfigFile:             configFile,
	}, nil
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOrDefault(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

// envIntStrict is envIntOrDefault for values where a typo must not silently
// fall back to the default.
func envIntStrict(key string, fallback int) (int, error) {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be an integer, got %q", key, v)
	}
	return n, nil
}

func envBoolOrDefault(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v == "1" || strings.EqualFold(v, "true")
}

func stringOr(v, fallback string) string {
	if strings.TrimSpace(v) != "" {
		return v
	}
	return fallback
}

func intOr(v *int, fallback int) int {
	if v != nil {
		return *v
	}
	return fallback
}
