package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var Logger *logrus.Logger

// InitLogger builds the process logger and stores it as the global one.
// An empty logLevel falls back to LOG_LEVEL, then to debug in development
// and info elsewhere. Output is JSON unless running in development without
// LOG_FORMAT=json.
func InitLogger(logLevel string, isDevelopment bool) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stdout)

	name := resolveLevel(logLevel, isDevelopment)
	level, err := logrus.ParseLevel(name)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	if isDevelopment && strings.ToLower(os.Getenv("LOG_FORMAT")) != "json" {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	}

	if err != nil {
		log.WithField("invalid_level", name).Warn("Invalid LOG_LEVEL, using INFO")
	}

	Logger = log
	return log
}

func resolveLevel(logLevel string, isDevelopment bool) string {
	if logLevel == "" {
		logLevel = os.Getenv("LOG_LEVEL")
	}
	if logLevel == "" {
		if isDevelopment {
			return "debug"
		}
		return "info"
	}
	return strings.ToLower(logLevel)
}

// GetLogger returns the global logger, creating a production one on first use.
func GetLogger() *logrus.Logger {
	if Logger == nil {
		return InitLogger("info", false)
	}
	return Logger
}

func WithService(serviceName string) *logrus.Entry {
	return GetLogger().WithField("service", serviceName)
}

// WithComponent scopes the logger to one package, e.g. solver or providers.
func WithComponent(component string) *logrus.Entry {
	return GetLogger().WithField("component", component)
}

// WithSelectionContext tags every line of one selection run.
func WithSelectionContext(runID string, season, gameweek int) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"run_id":   runID,
		"season":   season,
		"gameweek": gameweek,
	})
}

func WithHTTPContext(method, path, userAgent string) *logrus.Entry {
	return GetLogger().WithFields(logrus.Fields{
		"http_method":     method,
		"http_path":       path,
		"http_user_agent": userAgent,
	})
}
