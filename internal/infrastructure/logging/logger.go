package logging

import (
	"fmt"
	"time"

	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/bivex/entitlement-sync/internal/infrastructure/config"
)

var Logger = zap.NewNop()

var sentryEnabled bool

// Init initializes the global logger and, when a DSN is configured, error
// reporting to Sentry
func Init(cfg *config.SentryConfig) error {
	var zapConfig zap.Config

	// Use development config in dev/staging, production in prod
	environment := "production"
	if cfg != nil && cfg.Environment != "" {
		environment = cfg.Environment
	}

	if environment == "development" {
		zapConfig = zap.NewDevelopmentConfig()
		zapConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	} else {
		zapConfig = zap.NewProductionConfig()
		zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}

	// Output to stdout by default
	zapConfig.OutputPaths = []string{"stdout"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}

	var opts []zap.Option
	if cfg != nil && cfg.DSN != "" {
		err := sentry.Init(sentry.ClientOptions{
			Dsn:         cfg.DSN,
			Environment: environment,
			Release:     cfg.Release,
		})
		if err != nil {
			return fmt.Errorf("failed to initialize sentry: %w", err)
		}
		sentryEnabled = true
		opts = append(opts, zap.Hooks(SentryHook(sentry.CurrentHub())))
	}

	logger, err := zapConfig.Build(opts...)
	if err != nil {
		return err
	}
	Logger = logger.With(zap.String("environment", environment))

	return nil
}

// SentryHook forwards error and higher entries to the given hub
func SentryHook(hub *sentry.Hub) func(zapcore.Entry) error {
	return func(entry zapcore.Entry) error {
		if entry.Level < zapcore.ErrorLevel {
			return nil
		}
		hub.WithScope(func(scope *sentry.Scope) {
			scope.SetLevel(sentry.LevelError)
			if entry.LoggerName != "" {
				scope.SetTag("logger", entry.LoggerName)
			}
			if entry.Caller.Defined {
				scope.SetExtra("caller", entry.Caller.TrimmedPath())
			}
			hub.CaptureMessage(entry.Message)
		})
		return nil
	}
}

// Sync flushes any buffered log entries and pending Sentry events
func Sync() {
	if Logger != nil {
		_ = Logger.Sync()
	}
	if sentryEnabled {
		sentry.Flush(2 * time.Second)
	}
}

// WithComponent creates a child logger with a component field
func WithComponent(component string) *zap.Logger {
	return Logger.With(zap.String("component", component))
}
