// Copyright (C) 2025 Creditor Corp. Group.
// See LICENSE for copying information.

// Package logconfig configures the process wide logrus logger.
package logconfig

import (
	"fmt"

	logger "github.com/sirupsen/logrus"
)

// ConfigDebugLogger is used in tests and local runs with a terminal.
func ConfigDebugLogger() {
	logger.SetReportCaller(true)
	logger.SetLevel(logger.DebugLevel)
	logger.SetFormatter(&logger.TextFormatter{
		ForceColors:            true,
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
}

// ConfigInfoLogger is ConfigDebugLogger without caller and debug entries.
func ConfigInfoLogger() {
	logger.SetReportCaller(false)
	logger.SetLevel(logger.InfoLevel)
	logger.SetFormatter(&logger.TextFormatter{
		ForceColors:            true,
		DisableTimestamp:       true,
		DisableLevelTruncation: true,
		PadLevelText:           true,
	})
}

// ConfigProductionLogger writes json entries with timestamps.
func ConfigProductionLogger() {
	logger.SetReportCaller(false)
	logger.SetLevel(logger.InfoLevel)
	logger.SetFormatter(&logger.JSONFormatter{})
}

// Configure applies configuration by its name: debug, info or production.
func Configure(level string) error {
	switch level {
	case "debug":
		ConfigDebugLogger()
	case "info", "":
		ConfigInfoLogger()
	case "production":
		ConfigProductionLogger()
	default:
		return fmt.Errorf("unknown log level %q", level)
	}

	return nil
}
