package logger

import (
	"context"
	"log/slog"
	"os"

	"github.com/getsentry/sentry-go"
	sentryslog "github.com/getsentry/sentry-go/slog"
)

// SentryConfig holds Sentry error-reporting settings.
type SentryConfig struct {
	DSN         string
	Environment string
}

// NewWithSentry creates a logger writing JSON to stdout and, when a DSN is
// configured, mirroring warnings and errors to Sentry. An empty DSN or a
// failed Sentry init degrades to stdout-only, so a broken reporting backend
// never blocks the nightly run.
func NewWithSentry(cfg SentryConfig, level string) *slog.Logger {
	stdoutHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: ParseLevel(level),
	})

	if cfg.DSN == "" {
		return slog.New(stdoutHandler)
	}

	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.DSN,
		Environment: cfg.Environment,
		EnableLogs:  true,
	}); err != nil {
		slog.New(stdoutHandler).Error("failed to initialize sentry, continuing with stdout only",
			slog.String("error", err.Error()))
		return slog.New(stdoutHandler)
	}

	sentryHandler := sentryslog.Option{
		EventLevel: []slog.Level{slog.LevelError},
		LogLevel:   []slog.Level{slog.LevelWarn, slog.LevelError},
	}.NewSentryHandler(context.Background())

	return slog.New(newMultiHandler(stdoutHandler, sentryHandler))
}
