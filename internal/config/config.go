package config

import (
	"errors"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the application configuration
type Config struct {
	Log      LogConfig      `mapstructure:"log"`
	Store    StoreConfig    `mapstructure:"store"`
	Ingest   IngestConfig   `mapstructure:"ingest"`
	Keychain KeychainConfig `mapstructure:"keychain"`
	Enrich   EnrichConfig   `mapstructure:"enrich"`
	Events   EventsConfig   `mapstructure:"events"`
	Server   ServerConfig   `mapstructure:"server"`
}

// LogConfig holds the logging configuration
type LogConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// StoreConfig holds the conversation database configuration
type StoreConfig struct {
	Path string `mapstructure:"path"`
}

// IngestConfig tunes the archive ingestion pipeline
type IngestConfig struct {
	ProgressEvery int `mapstructure:"progress_every"`
	BatchSize     int `mapstructure:"batch_size"`
}

// KeychainConfig locates the credential store
type KeychainConfig struct {
	Path    string `mapstructure:"path"`
	Service string `mapstructure:"service"`
	Account string `mapstructure:"account"`
}

// EnrichConfig holds the LLM and batch workflow configuration
type EnrichConfig struct {
	Provider            string        `mapstructure:"provider"`
	BaseURL             string        `mapstructure:"base_url"`
	Model               string        `mapstructure:"model"`
	MaxTokens           int           `mapstructure:"max_tokens"`
	SampleSize          int           `mapstructure:"sample_size"`
	SnippetChars        int           `mapstructure:"snippet_chars"`
	MaxTextChars        int           `mapstructure:"max_text_chars"`
	PollInterval        time.Duration `mapstructure:"poll_interval"`
	MaxPolls            int           `mapstructure:"max_polls"`
	CompletionWindow    string        `mapstructure:"completion_window"`
	InputUSDPerMTok     float64       `mapstructure:"input_usd_per_mtok"`
	OutputUSDPerMTok    float64       `mapstructure:"output_usd_per_mtok"`
	OutputTokensPerItem int           `mapstructure:"output_tokens_per_item"`
}

// EventsConfig configures optional event fan-out
type EventsConfig struct {
	AMQPURL   string `mapstructure:"amqp_url"`
	AMQPQueue string `mapstructure:"amqp_queue"`
}

// ServerConfig holds the server configuration
type ServerConfig struct {
	Host string `mapstructure:"host"`
	Port string `mapstructure:"port"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")

	v.SetDefault("store.path", "conversations.db")

	v.SetDefault("ingest.progress_every", 50)
	v.SetDefault("ingest.batch_size", 200)

	v.SetDefault("keychain.path", "keychain.db")
	v.SetDefault("keychain.service", "chatvault")
	v.SetDefault("keychain.account", "api-key")

	v.SetDefault("enrich.provider", "openai")
	v.SetDefault("enrich.base_url", "")
	v.SetDefault("enrich.model", "gpt-4o-mini")
	v.SetDefault("enrich.max_tokens", 512)
	v.SetDefault("enrich.sample_size", 300)
	v.SetDefault("enrich.snippet_chars", 200)
	v.SetDefault("enrich.max_text_chars", 8000)
	v.SetDefault("enrich.poll_interval", 30*time.Second)
	v.SetDefault("enrich.max_polls", 2880)
	v.SetDefault("enrich.completion_window", "24h")
	v.SetDefault("enrich.input_usd_per_mtok", 0.075)
	v.SetDefault("enrich.output_usd_per_mtok", 0.30)
	v.SetDefault("enrich.output_tokens_per_item", 300)

	v.SetDefault("events.amqp_url", "")
	v.SetDefault("events.amqp_queue", "chatvault.events")

	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.port", "8080")
}

// Load loads the configuration from config.yaml (or CONFIG_PATH), falling back
// to defaults when no file exists. CHATVAULT_* environment variables override
// file values, e.g. CHATVAULT_ENRICH_MODEL.
func Load() (*Config, error) {
	return LoadFrom(os.Getenv("CONFIG_PATH"))
}

// LoadFrom is Load with an explicit config file. An empty path searches for
// config.yaml in the working directory.
func LoadFrom(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
	}

	v.SetEnvPrefix("chatvault")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, err
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, err
	}

	return &config, nil
}
