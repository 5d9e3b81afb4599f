package common

import (
	"os"
	"path/filepath"
	"sync"

	"github.com/ternarybob/arbor"
	arborcommon "github.com/ternarybob/arbor/common"
	"github.com/ternarybob/arbor/models"
)

var (
	globalLogger arbor.ILogger
	loggerMutex  sync.RWMutex
)

// GetLogger returns the global logger instance.
// If InitLogger() hasn't been called yet, returns a fallback console logger.
func GetLogger() arbor.ILogger {
	loggerMutex.RLock()
	if globalLogger != nil {
		loggerMutex.RUnlock()
		return globalLogger
	}
	loggerMutex.RUnlock()

	loggerMutex.Lock()
	defer loggerMutex.Unlock()

	if globalLogger == nil {
		globalLogger = arbor.NewLogger().WithConsoleWriter(createWriterConfig("", models.LogWriterTypeConsole, ""))
		globalLogger.Warn().Msg("using fallback logger - InitLogger() should be called during startup")
	}
	return globalLogger
}

// InitLogger stores the provided logger as the global singleton instance.
func InitLogger(logger arbor.ILogger) {
	loggerMutex.Lock()
	defer loggerMutex.Unlock()
	globalLogger = logger
}

// LoggingOptions is the subset of a binary's config the logger setup
// needs. Both BrokerConfig.Logging and OrchestratorConfig.Logging satisfy
// this shape structurally; the caller passes the fields directly so this
// package stays independent of internal/config.
type LoggingOptions struct {
	Level      string
	Output     []string
	TimeFormat string
	// LogFileName names the file under <exe-dir>/logs when file output is
	// enabled, e.g. "broker.log" or "orchestrator.log".
	LogFileName string
}

// SetupLogger configures and initializes the global logger for a binary.
func SetupLogger(opts LoggingOptions) arbor.ILogger {
	logger := arbor.NewLogger()

	execPath, err := os.Executable()
	if err != nil {
		logger = logger.WithConsoleWriter(createWriterConfig(opts.TimeFormat, models.LogWriterTypeConsole, ""))
		logger.Warn().Err(err).Msg("failed to get executable path - using fallback console logging")
	} else {
		execDir := filepath.Dir(execPath)
		logsDir := filepath.Join(execDir, "logs")

		hasFileOutput := false
		hasStdoutOutput := false
		for _, output := range opts.Output {
			if output == "file" {
				hasFileOutput = true
			}
			if output == "stdout" || output == "console" {
				hasStdoutOutput = true
			}
		}

		if hasFileOutput {
			if err := os.MkdirAll(logsDir, 0755); err != nil {
				tempLogger := logger.WithConsoleWriter(createWriterConfig(opts.TimeFormat, models.LogWriterTypeConsole, ""))
				tempLogger.Warn().Err(err).Str("logs_dir", logsDir).Msg("failed to create logs directory")
			} else {
				fileName := opts.LogFileName
				if fileName == "" {
					fileName = "app.log"
				}
				logFile := filepath.Join(logsDir, fileName)
				logger = logger.WithFileWriter(createWriterConfig(opts.TimeFormat, models.LogWriterTypeFile, logFile))
			}
		}

		if hasStdoutOutput {
			logger = logger.WithConsoleWriter(createWriterConfig(opts.TimeFormat, models.LogWriterTypeConsole, ""))
		}

		if !hasFileOutput && !hasStdoutOutput {
			logger = logger.WithConsoleWriter(createWriterConfig(opts.TimeFormat, models.LogWriterTypeConsole, ""))
			logger.Warn().
				Strs("configured_outputs", opts.Output).
				Msg("no visible log outputs configured - falling back to console")
		}
	}

	logger = logger.WithLevelFromString(opts.Level)

	InitLogger(logger)

	return logger
}

// createWriterConfig builds a writer configuration with user preferences.
func createWriterConfig(timeFormat string, writerType models.LogWriterType, filename string) models.WriterConfiguration {
	if timeFormat == "" {
		timeFormat = "15:04:05.000"
	}

	return models.WriterConfiguration{
		Type:             writerType,
		FileName:         filename,
		TimeFormat:       timeFormat,
		DisableTimestamp: false,
		MaxSize:          100 * 1024 * 1024, // 100 MB (file writer only)
		MaxBackups:       3,                 // (file writer only)
	}
}

// Stop flushes any remaining context logs before application shutdown.
// Safe to call multiple times (Arbor's Stop is idempotent).
func Stop() {
	arborcommon.Stop()
}
