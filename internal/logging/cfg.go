package logging

import "go.uber.org/zap/zapcore"

// Config is the configuration for the logging subsystem.
type Config struct {
	// Level is the minimum level emitted. Can be changed at runtime
	// through the zap.AtomicLevel Init returns.
	Level zapcore.Level `yaml:"level"`
}
