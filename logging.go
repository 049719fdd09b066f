package shimstore

import (
	"os"

	"github.com/sirupsen/logrus"
)

// newLogger builds the package's structured logger: JSON output suitable
// for log aggregation, level controlled by the SHIMSTORE_LOG_LEVEL
// environment variable (defaulting to "info").
func newLogger(component string) *logrus.Entry {
	base := logrus.New()
	base.SetFormatter(&logrus.JSONFormatter{})
	base.SetOutput(os.Stderr)

	level := logrus.InfoLevel
	if raw := os.Getenv("SHIMSTORE_LOG_LEVEL"); raw != "" {
		if parsed, err := logrus.ParseLevel(raw); err == nil {
			level = parsed
		}
	}
	base.SetLevel(level)

	return base.WithField("component", component)
}
