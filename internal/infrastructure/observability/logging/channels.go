// Package logging provides structured logging channels for the conversion pipeline
// with per-channel levels and privacy-aware helpers.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Channel represents a logical logging channel for different system components
type Channel string

const (
	// System channels
	ChannelSystem   Channel = "system"   // General system operations
	ChannelStartup  Channel = "startup"  // Application startup and initialization
	ChannelShutdown Channel = "shutdown" // Application shutdown and cleanup

	// Pipeline channels
	ChannelIdentity Channel = "identity" // Visitor identity store operations
	ChannelDispatch Channel = "dispatch" // Conversion fan-out and outcome reports
	ChannelSink     Channel = "sink"     // Individual sink adapter deliveries
	ChannelHandoff  Channel = "handoff"  // Cross-page token encode/decode
	ChannelPrivacy  Channel = "privacy"  // Export and erasure requests

	// Infrastructure channels
	ChannelDatabase  Channel = "database"  // Outcome journal and device storage
	ChannelHTTP      Channel = "http"      // Request handling
	ChannelDataLayer Channel = "datalayer" // Websocket data layer connections

	ChannelDebug Channel = "debug" // Debug information
)

var allChannels = []Channel{
	ChannelSystem, ChannelStartup, ChannelShutdown,
	ChannelIdentity, ChannelDispatch, ChannelSink, ChannelHandoff, ChannelPrivacy,
	ChannelDatabase, ChannelHTTP, ChannelDataLayer,
	ChannelDebug,
}

// ChanneledLogger provides structured logging with multiple channels
type ChanneledLogger struct {
	channels map[Channel]*slog.Logger
	config   *LoggerConfig
	files    []*os.File
	configMu sync.RWMutex
}

// LoggerConfig contains configuration options for the channeled logger
type LoggerConfig struct {
	OutputToFile    bool   `json:"outputToFile"`
	OutputToConsole bool   `json:"outputToConsole"`
	LogDirectory    string `json:"logDirectory"`

	JSONFormat    bool `json:"jsonFormat"`
	IncludeSource bool `json:"includeSource"`

	DefaultLevel  slog.Level             `json:"defaultLevel"`
	ChannelLevels map[Channel]slog.Level `json:"channelLevels"`

	// Output overrides console and file writers when set. Tests pass io.Discard.
	Output io.Writer `json:"-"`
}

// DefaultLoggerConfig returns a sensible default configuration
func DefaultLoggerConfig() *LoggerConfig {
	return &LoggerConfig{
		OutputToFile:    true,
		OutputToConsole: true,
		LogDirectory:    "logs",
		JSONFormat:      true,
		IncludeSource:   false,
		DefaultLevel:    slog.LevelInfo,
		ChannelLevels:   make(map[Channel]slog.Level),
	}
}

// NewChanneledLogger creates a new channeled logger with the given configuration
func NewChanneledLogger(config *LoggerConfig) (*ChanneledLogger, error) {
	if config == nil {
		config = DefaultLoggerConfig()
	}
	if config.ChannelLevels == nil {
		config.ChannelLevels = make(map[Channel]slog.Level)
	}

	logger := &ChanneledLogger{
		channels: make(map[Channel]*slog.Logger),
		config:   config,
	}

	if config.OutputToFile && config.Output == nil {
		if err := os.MkdirAll(config.LogDirectory, 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
	}

	for _, channel := range allChannels {
		channelLogger, err := logger.createChannelLogger(channel)
		if err != nil {
			return nil, fmt.Errorf("failed to create logger for channel %s: %w", channel, err)
		}
		logger.channels[channel] = channelLogger
	}

	return logger, nil
}

// NewDiscardLogger returns a logger that drops every record. Used by tests and
// by CLI commands that print their own output.
func NewDiscardLogger() *ChanneledLogger {
	logger, err := NewChanneledLogger(&LoggerConfig{
		Output:       io.Discard,
		DefaultLevel: slog.LevelDebug,
	})
	if err != nil {
		panic(err)
	}
	return logger
}

// createChannelLogger creates a slog.Logger for a specific channel
func (cl *ChanneledLogger) createChannelLogger(channel Channel) (*slog.Logger, error) {
	level := cl.config.DefaultLevel
	if channelLevel, exists := cl.config.ChannelLevels[channel]; exists {
		level = channelLevel
	}

	var writer io.Writer
	if cl.config.Output != nil {
		writer = cl.config.Output
	} else {
		var writers []io.Writer
		if cl.config.OutputToConsole {
			writers = append(writers, os.Stdout)
		}
		if cl.config.OutputToFile {
			path := filepath.Join(cl.config.LogDirectory, fmt.Sprintf("%s.log", string(channel)))
			file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
			if err != nil {
				return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
			}
			cl.files = append(cl.files, file)
			writers = append(writers, file)
		}

		switch len(writers) {
		case 0:
			writer = os.Stdout
		case 1:
			writer = writers[0]
		default:
			writer = io.MultiWriter(writers...)
		}
	}

	handlerOpts := &slog.HandlerOptions{
		Level:     level,
		AddSource: cl.config.IncludeSource,
	}

	var handler slog.Handler
	if cl.config.JSONFormat {
		handler = slog.NewJSONHandler(writer, handlerOpts)
	} else {
		handler = slog.NewTextHandler(writer, handlerOpts)
	}

	return slog.New(handler).With(slog.String("channel", string(channel))), nil
}

func (cl *ChanneledLogger) System() *slog.Logger    { return cl.GetChannel(ChannelSystem) }
func (cl *ChanneledLogger) Startup() *slog.Logger   { return cl.GetChannel(ChannelStartup) }
func (cl *ChanneledLogger) Shutdown() *slog.Logger  { return cl.GetChannel(ChannelShutdown) }
func (cl *ChanneledLogger) Identity() *slog.Logger  { return cl.GetChannel(ChannelIdentity) }
func (cl *ChanneledLogger) Dispatch() *slog.Logger  { return cl.GetChannel(ChannelDispatch) }
func (cl *ChanneledLogger) Sink() *slog.Logger      { return cl.GetChannel(ChannelSink) }
func (cl *ChanneledLogger) Handoff() *slog.Logger   { return cl.GetChannel(ChannelHandoff) }
func (cl *ChanneledLogger) Privacy() *slog.Logger   { return cl.GetChannel(ChannelPrivacy) }
func (cl *ChanneledLogger) Database() *slog.Logger  { return cl.GetChannel(ChannelDatabase) }
func (cl *ChanneledLogger) HTTP() *slog.Logger      { return cl.GetChannel(ChannelHTTP) }
func (cl *ChanneledLogger) DataLayer() *slog.Logger { return cl.GetChannel(ChannelDataLayer) }
func (cl *ChanneledLogger) Debug() *slog.Logger     { return cl.GetChannel(ChannelDebug) }

// GetChannel returns a logger for a specific channel
func (cl *ChanneledLogger) GetChannel(channel Channel) *slog.Logger {
	cl.configMu.RLock()
	defer cl.configMu.RUnlock()

	if logger, exists := cl.channels[channel]; exists {
		return logger
	}
	return cl.channels[ChannelSystem]
}

// WithOperation returns a logger with operation context
func (cl *ChanneledLogger) WithOperation(channel Channel, operation string) *slog.Logger {
	return cl.GetChannel(channel).With(slog.String("operation", operation))
}

type contextKey string

// CorrelationKey is the context key under which request handlers store the
// correlation ID of the conversion being processed.
const CorrelationKey contextKey = "correlationId"

// WithContext returns a logger carrying the correlation ID found in ctx, if any.
func (cl *ChanneledLogger) WithContext(channel Channel, ctx context.Context) *slog.Logger {
	logger := cl.GetChannel(channel)
	if correlationID, ok := ctx.Value(CorrelationKey).(string); ok && correlationID != "" {
		logger = logger.With(slog.String("correlationId", correlationID))
	}
	return logger
}

// LogSinkOutcome logs the result of a single sink delivery.
func (cl *ChanneledLogger) LogSinkOutcome(sink, correlationID, status, reason string, duration time.Duration) {
	logger := cl.Sink().With(
		slog.String("sink", sink),
		slog.String("correlationId", correlationID),
		slog.String("status", status),
		slog.Duration("duration", duration),
	)
	if reason != "" {
		logger = logger.With(slog.String("reason", reason))
	}

	if status == "failed" {
		logger.Warn("Sink delivery failed")
	} else {
		logger.Debug("Sink delivery settled")
	}
}

// LogError logs an error with appropriate context and channel
func (cl *ChanneledLogger) LogError(channel Channel, operation string, err error, metadata map[string]any) {
	logger := cl.GetChannel(channel).With(
		slog.String("operation", operation),
		slog.String("error", err.Error()),
	)
	for key, value := range metadata {
		logger = logger.With(slog.Any(key, value))
	}
	logger.Error("Operation failed")
}

// LogStartupPhase logs application startup phases
func (cl *ChanneledLogger) LogStartupPhase(phase string, duration time.Duration, success bool) {
	logger := cl.Startup().With(
		slog.String("phase", phase),
		slog.Duration("duration", duration),
		slog.Bool("success", success),
	)
	if success {
		logger.Info("Startup phase completed")
	} else {
		logger.Error("Startup phase failed")
	}
}

// MaskEmail keeps the first and last character of the local part.
func MaskEmail(email string) string {
	if email == "" {
		return "missing"
	}
	local, domain, ok := strings.Cut(email, "@")
	if !ok {
		return "invalid"
	}
	if len(local) <= 2 {
		return strings.Repeat("*", len(local)) + "@" + domain
	}
	return local[:1] + strings.Repeat("*", len(local)-2) + local[len(local)-1:] + "@" + domain
}

// MaskPhone keeps the first digit and the last two.
func MaskPhone(phone string) string {
	if phone == "" {
		return "missing"
	}
	if len(phone) <= 3 {
		return "***"
	}
	return phone[:1] + strings.Repeat("*", len(phone)-3) + phone[len(phone)-2:]
}

// MaskID partially masks opaque identifiers such as visitor IDs.
func MaskID(id string) string {
	if len(id) <= 8 {
		return "********"
	}
	return id[:4] + "****" + id[len(id)-4:]
}

// Close closes all file handles.
func (cl *ChanneledLogger) Close() error {
	cl.System().Info("Channeled logger shutting down")
	var firstErr error
	for _, f := range cl.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// SetChannelLevel dynamically sets the log level for a specific channel
func (cl *ChanneledLogger) SetChannelLevel(channel Channel, level slog.Level) error {
	cl.configMu.Lock()
	defer cl.configMu.Unlock()

	if _, exists := cl.channels[channel]; !exists {
		return fmt.Errorf("channel %s does not exist", channel)
	}

	cl.config.ChannelLevels[channel] = level

	newLogger, err := cl.createChannelLogger(channel)
	if err != nil {
		return fmt.Errorf("failed to recreate logger for channel %s: %w", channel, err)
	}
	cl.channels[channel] = newLogger
	return nil
}

// GetChannelLevels returns the current log levels for all channels.
func (cl *ChanneledLogger) GetChannelLevels() map[string]string {
	cl.configMu.RLock()
	defer cl.configMu.RUnlock()

	levels := make(map[string]string)
	for channel := range cl.channels {
		if level, ok := cl.config.ChannelLevels[channel]; ok {
			levels[string(channel)] = level.String()
		} else {
			levels[string(channel)] = cl.config.DefaultLevel.String()
		}
	}
	return levels
}
