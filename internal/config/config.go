// Package config loads runtime settings from the environment, after
// merging in a .env file when one exists.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/Netflix/go-env"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/samber/lo"
)

var validate = validator.New()

type Config struct {
	Host      string `env:"HOST,default=0.0.0.0"`
	Port      int    `env:"PORT,default=3000" validate:"min=1,max=65535"`
	LogLevel  string `env:"LOG_LEVEL,default=INFO" validate:"oneof=DEBUG INFO WARN ERROR debug info warn error"`
	StaticDir string `env:"STATIC_DIR,default=public"`

	JWTSecret      string `env:"JWT_SECRET"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS,default=*"`

	ExternalAPIURL string        `env:"EXTERNAL_API_URL" validate:"omitempty,url"`
	APIKey         string        `env:"API_KEY"`
	APITimeout     time.Duration `env:"API_TIMEOUT,default=10s" validate:"gt=0"`
	APIMaxAttempts int           `env:"API_MAX_ATTEMPTS,default=3" validate:"min=1,max=10"`
	APIRetryDelay  time.Duration `env:"API_RETRY_DELAY,default=1s" validate:"gt=0"`

	DispatchWorkers int           `env:"DISPATCH_WORKERS,default=4" validate:"min=1"`
	DispatchBuffer  int           `env:"DISPATCH_BUFFER,default=256" validate:"min=1"`
	AckDelay        time.Duration `env:"ACK_DELAY,default=2s" validate:"gte=0"`
	AckText         string        `env:"ACK_TEXT,default=Message received!" validate:"required"`

	RecentMessages int `env:"RECENT_MESSAGES,default=50" validate:"min=0"`
	HistoryLimit   int `env:"HISTORY_LIMIT,default=0" validate:"min=0"`

	HTTPRateLimit  int           `env:"HTTP_RATE_LIMIT,default=30" validate:"min=1"`
	HTTPRateWindow time.Duration `env:"HTTP_RATE_WINDOW,default=1m" validate:"gt=0"`
	WSMessageLimit int           `env:"WS_MESSAGE_LIMIT,default=30" validate:"min=0"`
	WSTypingLimit  int           `env:"WS_TYPING_LIMIT,default=60" validate:"min=0"`
	WSLimitWindow  time.Duration `env:"WS_LIMIT_WINDOW,default=1m" validate:"gt=0"`

	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT,default=10s" validate:"gt=0"`
}

// Load reads the given .env files (".env" when none are named) into the
// process environment without overriding variables already set, then
// decodes and validates the configuration.
func Load(envFiles ...string) (Config, error) {
	if err := godotenv.Load(envFiles...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("config: load env file: %w", err)
	}

	var cfg Config
	if _, err := env.UnmarshalFromEnviron(&cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	if err := validate.Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("config: %w", err)
	}

	return cfg, nil
}

// Addr is the listen address of the HTTP server.
func (c Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// Origins splits ALLOWED_ORIGINS on commas.
func (c Config) Origins() []string {
	parts := lo.Map(strings.Split(c.AllowedOrigins, ","), func(s string, _ int) string {
		return strings.TrimSpace(s)
	})
	return lo.Compact(parts)
}

// Level maps LOG_LEVEL to a slog level.
func (c Config) Level() slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo
	}
	return l
}
