package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"propscout-engine/internal/etl"
)

type SourceConfig struct {
	Enabled bool `yaml:"enabled"`
	RPM     int  `yaml:"rpm"`     // requests per minute against this site
	Workers int  `yaml:"workers"` // concurrent jobs for this source
}

type Config struct {
	App struct {
		Port        int    `yaml:"port"`
		DataDir     string `yaml:"data_dir"`
		Storage     string `yaml:"storage"` // sqlite | postgres
		PostgresDSN string `yaml:"postgres_dsn"`
	} `yaml:"app"`

	Scraper struct {
		GlobalRPM             int      `yaml:"global_rpm"`
		RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
		MaxAttempts           int      `yaml:"max_attempts"`
		BackoffBaseMS         int      `yaml:"backoff_base_ms"`
		JitterMinMS           int      `yaml:"jitter_min_ms"`
		JitterMaxMS           int      `yaml:"jitter_max_ms"`
		RenderJS              bool     `yaml:"render_js"` // headless browser for JS-heavy pages
		UserAgents            []string `yaml:"user_agents"`
		Proxies               []string `yaml:"proxies"`

		Sources struct {
			Redfin     SourceConfig `yaml:"redfin"`
			Zillow     SourceConfig `yaml:"zillow"`
			Apartments SourceConfig `yaml:"apartments"`
		} `yaml:"sources"`
	} `yaml:"scraper"`

	ETL struct {
		QualityThreshold int         `yaml:"quality_threshold"`
		Weights          etl.Weights `yaml:"weights"`
	} `yaml:"etl"`
}

func Load(path string) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, err
	}
	applyEnv(&cfg)
	return cfg, nil
}

// applyEnv overlays secrets and deploy-specific values from the environment.
// A .env file next to the binary is honored when present; real environment
// variables win over it.
func applyEnv(cfg *Config) {
	_ = godotenv.Load()

	if v := os.Getenv("PROPSCOUT_POSTGRES_DSN"); v != "" {
		cfg.App.PostgresDSN = v
	}
	if v := os.Getenv("PROPSCOUT_STORAGE"); v != "" {
		cfg.App.Storage = v
	}
	if v := os.Getenv("PROPSCOUT_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.App.Port = port
		}
	}
	if v := os.Getenv("PROPSCOUT_DATA_DIR"); v != "" {
		cfg.App.DataDir = v
	}
}
