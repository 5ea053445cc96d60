package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

type Config struct {
	// Inference provider (fal queue API)
	FalAPIKey       string `env:"FAL_API_KEY"`
	FalQueueBaseURL string `env:"FAL_QUEUE_BASE_URL" envDefault:"https://queue.fal.run"`
	FalTryOnModel   string `env:"FAL_TRYON_MODEL" envDefault:"fal-ai/fashn/tryon/v1.6"`
	FalVideoModel   string `env:"FAL_VIDEO_MODEL" envDefault:"fal-ai/kling-video/v2.1/standard/image-to-video"`
	FalTryOnMode    string `env:"FAL_TRYON_MODE" envDefault:"balanced"`

	// Supabase
	SupabaseURL            string `env:"SUPABASE_URL"`
	SupabasePublishableKey string `env:"SUPABASE_PUBLISHABLE_KEY"`
	SupabaseServiceRoleKey string `env:"SUPABASE_SERVICE_ROLE_KEY"`
	SupabaseJWTSecret      string `env:"SUPABASE_JWT_SECRET"`
	SupabaseStorageBucket  string `env:"SUPABASE_STORAGE_BUCKET" envDefault:"tryon-results"`

	// Database
	DatabaseURL string `env:"DATABASE_URL"`

	// Redis (progress events); empty disables pub/sub
	RedisURL string `env:"REDIS_URL"`

	// Credits
	StartingCredits  int `env:"STARTING_CREDITS" envDefault:"100"`
	TryOnCost        int `env:"TRYON_COST" envDefault:"10"`
	RegenerationCost int `env:"REGENERATION_COST" envDefault:"5"`
	VideoCost        int `env:"VIDEO_COST" envDefault:"50"`

	// Polling
	PollInterval      time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	ImagePollAttempts int           `env:"IMAGE_POLL_ATTEMPTS" envDefault:"120"`
	VideoPollAttempts int           `env:"VIDEO_POLL_ATTEMPTS" envDefault:"240"`
	SweepInterval     time.Duration `env:"SWEEP_INTERVAL" envDefault:"1m"`
	StaleGrace        time.Duration `env:"STALE_GRACE" envDefault:"2m"`
	WebPQuality       float32       `env:"WEBP_QUALITY" envDefault:"90"`

	// Server
	// AdminAPIKey enables the credit grant endpoint; empty disables it
	AdminAPIKey string `env:"ADMIN_API_KEY"`
	Port        string `env:"PORT" envDefault:"8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`
}

func Load() (*Config, error) {
	// .env is optional; real environment wins
	_ = godotenv.Load()

	cfg, err := env.ParseAs[Config]()
	if err != nil {
		return nil, fmt.Errorf("failed to parse environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.FalAPIKey == "" {
		return fmt.Errorf("FAL_API_KEY is required")
	}
	if c.SupabaseURL == "" {
		return fmt.Errorf("SUPABASE_URL is required")
	}
	if c.SupabaseServiceRoleKey == "" {
		return fmt.Errorf("SUPABASE_SERVICE_ROLE_KEY is required")
	}
	if c.SupabaseJWTSecret == "" {
		return fmt.Errorf("SUPABASE_JWT_SECRET is required")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.TryOnCost <= 0 || c.RegenerationCost <= 0 || c.VideoCost <= 0 {
		return fmt.Errorf("generation costs must be positive")
	}
	if c.StartingCredits < 0 {
		return fmt.Errorf("STARTING_CREDITS must not be negative")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("POLL_INTERVAL must be positive")
	}
	if c.ImagePollAttempts <= 0 || c.VideoPollAttempts <= 0 {
		return fmt.Errorf("poll attempt budgets must be positive")
	}
	return nil
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
