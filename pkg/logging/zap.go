package logging

import "go.uber.org/zap"

// ZapLogger adapts a zap.SugaredLogger to the Logger interface. Grounded
// on xpanvictor-xarvis's pkg/Logger wrapper, since zap is the one
// structured-logging library present anywhere in the corpus; the
// embedding host (cmd/bridge) is where this seam gets filled in.
type ZapLogger struct {
	*zap.SugaredLogger
}

// NewZapLogger builds a ZapLogger. debug selects zap's development
// config (console-friendly, caller-annotated) over its production config
// (JSON-encoded).
func NewZapLogger(debug bool) (*ZapLogger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}
	logger, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, err
	}
	return &ZapLogger{logger.Sugar()}, nil
}

func (z *ZapLogger) Debug(msg string, args ...interface{}) { z.Debugw(msg, args...) }
func (z *ZapLogger) Info(msg string, args ...interface{})  { z.Infow(msg, args...) }
func (z *ZapLogger) Warn(msg string, args ...interface{})  { z.Warnw(msg, args...) }
func (z *ZapLogger) Error(msg string, args ...interface{}) { z.Errorw(msg, args...) }
