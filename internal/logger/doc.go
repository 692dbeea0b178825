// Package logger provides leveled, component-tagged logging backed by zap.
//
// Every entry carries a timestamp, level, optional component id (a worker,
// monitor or subsystem name) and a printf-style message.
//
// # Basic Usage
//
//	logger.Info("", "run started")
//	logger.Warn("pressure", "memory pressure %s (%.1f%%)", level, usage*100)
//	logger.Debug("worker-3", "submission failed: %v", err)
//
// Replacing the process-wide logger:
//
//	logger.SetDefault(logger.New(os.Stderr, logger.LevelDebug))
//
// # Log Levels
//
// Messages below the configured level are filtered:
//   - LevelDebug: all messages, including per-submission failures
//   - LevelInfo: lifecycle and periodic progress lines
//   - LevelWarn: pressure transitions, failure-rate breaches, backoff escalation
//   - LevelError: setup failures
//
// The level is held in a zap.AtomicLevel, so SetLevel is safe while other
// goroutines are logging.
package logger
