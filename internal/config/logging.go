package config

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// NewLogger builds the process logger from the observability settings.
// Development environments get the console encoder.
func NewLogger(f *Features) (*zap.Logger, error) {
	zc := zap.NewProductionConfig()
	if f.IsDev() {
		zc = zap.NewDevelopmentConfig()
	}
	if lvl := f.Observability.Logging.Level; lvl != "" {
		level, err := zapcore.ParseLevel(lvl)
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", lvl, err)
		}
		zc.Level = zap.NewAtomicLevelAt(level)
	}
	switch f.Observability.Logging.Format {
	case "json":
		zc.Encoding = "json"
		zc.EncoderConfig = zap.NewProductionEncoderConfig()
	case "console":
		zc.Encoding = "console"
	}
	zc.InitialFields = map[string]interface{}{"environment": f.Environment}
	return zc.Build()
}
