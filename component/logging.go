package component

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"
)

// LogLevel represents the severity level of a log entry.
type LogLevel string

// Log levels.
const (
	LogLevelDebug LogLevel = "DEBUG"
	LogLevelInfo  LogLevel = "INFO"
	LogLevelWarn  LogLevel = "WARN"
	LogLevelError LogLevel = "ERROR"
)

// LogEntry is a structured log entry published to NATS so the console can
// stream engine activity live.
type LogEntry struct {
	Timestamp string   `json:"timestamp"` // RFC3339
	Level     LogLevel `json:"level"`
	Component string   `json:"component"`
	Message   string   `json:"message"`
	Detail    string   `json:"detail,omitempty"`
}

// Publisher is the messaging surface the logger mirrors entries onto.
// *natsclient.Client satisfies it.
type Publisher interface {
	Publish(ctx context.Context, subject string, data []byte) error
}

// Logger logs locally through slog and mirrors entries onto a NATS subject
// for remote consumption. A nil publisher disables the NATS side.
type Logger struct {
	componentName string
	pub           Publisher
	logger        *slog.Logger
	enabled       bool
}

// NewLogger creates a component logger. pub may be nil.
func NewLogger(componentName string, pub Publisher, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{
		componentName: componentName,
		pub:           pub,
		logger:        logger,
		enabled:       pub != nil,
	}
}

// Debug logs a debug-level message.
func (cl *Logger) Debug(msg string) {
	cl.publish(context.Background(), LogLevelDebug, msg, "")
	cl.logger.Debug(msg, "component", cl.componentName)
}

// Info logs an info-level message.
func (cl *Logger) Info(msg string) {
	cl.publish(context.Background(), LogLevelInfo, msg, "")
	cl.logger.Info(msg, "component", cl.componentName)
}

// Warn logs a warning-level message.
func (cl *Logger) Warn(msg string) {
	cl.publish(context.Background(), LogLevelWarn, msg, "")
	cl.logger.Warn(msg, "component", cl.componentName)
}

// Error logs an error-level message with optional error details.
func (cl *Logger) Error(msg string, err error) {
	detail := ""
	if err != nil {
		detail = fmt.Sprintf("%+v", err)
	}
	cl.publish(context.Background(), LogLevelError, msg, detail)
	cl.logger.Error(msg, "component", cl.componentName, "error", err)
}

// Subject returns the NATS subject this logger publishes to.
func (cl *Logger) Subject() string {
	return fmt.Sprintf("logs.component.%s", cl.componentName)
}

func (cl *Logger) publish(ctx context.Context, level LogLevel, message, detail string) {
	if !cl.enabled {
		return
	}
	select {
	case <-ctx.Done():
		return
	default:
	}

	entry := LogEntry{
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Level:     level,
		Component: cl.componentName,
		Message:   message,
		Detail:    detail,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return
	}
	// Fire and forget: log streaming must never block the engine.
	_ = cl.pub.Publish(ctx, cl.Subject(), data)
}
