package config

import (
	"fmt"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config is the service configuration read from the environment
type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	DBPath      string `envconfig:"DB_PATH" default:"storyforge.db"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	LogEncoding string `envconfig:"LOG_ENCODING" default:"json"`

	LLMAPIKey         string        `envconfig:"LLM_API_KEY"`
	LLMBaseURL        string        `envconfig:"LLM_BASE_URL" default:"https://openrouter.ai/api/v1"`
	LLMModel          string        `envconfig:"LLM_MODEL" default:"gpt-4o"`
	GenerationTimeout time.Duration `envconfig:"GENERATION_TIMEOUT" default:"20s"`
	HistoryWindow     int           `envconfig:"HISTORY_WINDOW" default:"6"`
	UpdateRetries     int           `envconfig:"UPDATE_RETRIES" default:"3"`

	RateLimitRPS   float64  `envconfig:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst int      `envconfig:"RATE_LIMIT_BURST" default:"20"`
	MaxBodyBytes   int64    `envconfig:"MAX_BODY_BYTES" default:"1048576"`
	CORSOrigins    []string `envconfig:"CORS_ORIGIN" default:"*"`
	JWTSecret      string   `envconfig:"JWT_SECRET"`

	SeedCampaigns bool `envconfig:"SEED_CAMPAIGNS" default:"true"`
}

// Load reads the configuration from the environment
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch {
	case c.GenerationTimeout <= 0:
		return fmt.Errorf("GENERATION_TIMEOUT must be positive, got %s", c.GenerationTimeout)
	case c.HistoryWindow < 1:
		return fmt.Errorf("HISTORY_WINDOW must be at least 1, got %d", c.HistoryWindow)
	case c.UpdateRetries < 0:
		return fmt.Errorf("UPDATE_RETRIES must not be negative, got %d", c.UpdateRetries)
	case c.RateLimitRPS <= 0 || c.RateLimitBurst < 1:
		return fmt.Errorf("rate limit must be positive, got %v rps burst %d", c.RateLimitRPS, c.RateLimitBurst)
	case c.MaxBodyBytes < 1:
		return fmt.Errorf("MAX_BODY_BYTES must be positive, got %d", c.MaxBodyBytes)
	}
	return nil
}

// AuthEnabled reports whether bearer tokens are required
func (c *Config) AuthEnabled() bool {
	return c.JWTSecret != ""
}
