package logger

import (
	"go.uber.org/zap"
)

var log = zap.NewNop()

// Init replaces the package logger. Call once from main before anything logs.
// environment selects the zap preset: "development" gets console output,
// everything else gets production JSON.
func Init(environment string) error {
	var (
		l   *zap.Logger
		err error
	)
	if environment == "development" {
		l, err = zap.NewDevelopment()
	} else {
		l, err = zap.NewProduction()
	}
	if err != nil {
		return err
	}
	log = l
	return nil
}

func Debug(msg string, fields ...zap.Field) { log.Debug(msg, fields...) }
func Info(msg string, fields ...zap.Field)  { log.Info(msg, fields...) }
func Warn(msg string, fields ...zap.Field)  { log.Warn(msg, fields...) }
func Error(msg string, fields ...zap.Field) { log.Error(msg, fields...) }
func Fatal(msg string, fields ...zap.Field) { log.Fatal(msg, fields...) }

// Sync flushes buffered entries. Safe to call on shutdown.
func Sync() { _ = log.Sync() }

// L exposes the underlying logger for components that want child loggers.
func L() *zap.Logger { return log }
