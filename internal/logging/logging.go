package logging

import (
	"github.com/go-chi/httplog"
	"github.com/rs/zerolog"

	"github.com/yzernik/squeakroad-sub000/internal/config"
)

const serviceName = "squeaknode"

// New builds the root logger. Components derive children with For.
func New(cfg config.LogConfig) zerolog.Logger {
	level := cfg.Level
	if level == "" {
		level = "info"
	}
	return httplog.NewLogger(serviceName, httplog.Options{
		JSON:     cfg.JSON,
		Concise:  true,
		LogLevel: level,
	})
}

// For returns a child logger tagged with the component name.
func For(logger zerolog.Logger, component string) zerolog.Logger {
	return logger.With().Str("component", component).Logger()
}
