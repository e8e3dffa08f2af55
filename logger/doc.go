// Package logger provides structured logging capabilities.
//
// The logger package sets up and configures the application's logging
// system using zap, providing structured, high-performance logging
// throughout the application. JavaScript console output of loaded
// modules is routed through the same logger.
//
// Usage:
//
//	log, err := logger.New("development", "debug")
//	if err != nil {
//	    panic(err)
//	}
//	log.Info("module dissected", zap.String("target", target))
package logger