package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/bytedance/sonic"
	"github.com/caarlos0/env/v11"
)

type Config struct {
	APIKey  string `json:"api_key" env:"STEPFORM_API_KEY"`
	BaseURL string `json:"base_url" env:"STEPFORM_BASE_URL"`
	Model   string `json:"model" env:"STEPFORM_MODEL"`
	Lang    string `json:"lang" env:"STEPFORM_LANG"`

	Brand       string `json:"brand" env:"STEPFORM_BRAND"`
	VerifyEmail bool   `json:"verify_email" env:"STEPFORM_VERIFY_EMAIL"`

	Mail MailConfig `json:"mail" envPrefix:"STEPFORM_MAIL_"`

	StepTimeout   time.Duration `json:"step_timeout" env:"STEPFORM_STEP_TIMEOUT"`
	RetryLimit    int           `json:"retry_limit" env:"STEPFORM_RETRY_LIMIT"`
	HistoryLength int           `json:"history_length" env:"STEPFORM_HISTORY_LENGTH"`
	Debug         bool          `json:"debug" env:"STEPFORM_DEBUG"`
}

type MailConfig struct {
	Enabled  bool   `json:"enabled" env:"ENABLED"`
	Host     string `json:"host" env:"HOST"`
	Port     int    `json:"port" env:"PORT"`
	Username string `json:"username" env:"USERNAME"`
	Password string `json:"password" env:"PASSWORD"`
	From     string `json:"from" env:"FROM"`
}

func defaultConfig() Config {
	return Config{
		Lang:          "English",
		Brand:         "ArtiomsHosting",
		VerifyEmail:   true,
		Mail:          MailConfig{Port: 587},
		StepTimeout:   5 * time.Minute,
		RetryLimit:    3,
		HistoryLength: 50,
	}
}

// loadConfig reads the JSON file at path, when it exists, and applies environment overrides.
func loadConfig(path string) (*Config, error) {
	conf := defaultConfig()
	file, err := os.ReadFile(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
	case err != nil:
		return nil, err
	default:
		if err := sonic.Unmarshal(file, &conf); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	if err := env.Parse(&conf); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &conf, nil
}
