// Package logger provides levelled, thread-safe logging on top of zap.
//
// The logger supports four levels: Debug, Info, Warn, and Error.
// Each log entry includes a timestamp, level, caller, message and, when
// given, the id of the client session that produced it.
//
// # Basic Usage
//
// Using the default logger:
//
//	logger.Info("", "Load started")
//	logger.Warn("3", "Reconnecting due to error: %v", err)
//
// Creating a custom logger:
//
//	l := logger.New(os.Stderr, logger.LevelDebug)
//	l.Debug("0", "Debug message")
//
// Writing to a rotating file as well as the console:
//
//	l := logger.NewWithFile(os.Stdout, logger.LevelInfo, logger.FileConfig{
//	    Path:      "kvload.log",
//	    MaxSizeMB: 100,
//	})
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages
//   - LevelInfo: Info, Warn, Error
//   - LevelWarn: Warn, Error
//   - LevelError: Error only
//
// SetLevel may be called at any time; it is backed by zap.AtomicLevel.
package logger
