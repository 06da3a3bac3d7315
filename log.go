package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	gap "github.com/muesli/go-app-paths"
	"gopkg.in/natefinch/lumberjack.v2"
)

func getLogFilePath() (string, error) {
	dir, err := gap.NewScope(gap.User, "vpet-tts").CacheDir()
	if err != nil {
		return "", fmt.Errorf("unable to find cache directory: %w", err)
	}
	return filepath.Join(dir, "vpet-tts.log"), nil
}

// setupLog configures the default logger. With debug set everything goes
// to a rotating file in the user cache dir; otherwise warnings and above
// go to stderr.
func setupLog(debug bool) (func() error, error) {
	if !debug {
		log.SetOutput(os.Stderr)
		log.SetLevel(log.WarnLevel)
		return func() error { return nil }, nil
	}

	logFile, err := getLogFilePath()
	if err != nil {
		return nil, err
	}
	if err := os.MkdirAll(filepath.Dir(logFile), 0o755); err != nil { //nolint:gosec
		return nil, fmt.Errorf("unable to create log directory: %w", err)
	}

	rotator := &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	log.SetOutput(rotator)
	log.SetLevel(log.DebugLevel)
	log.SetReportTimestamp(true)
	log.SetTimeFormat(time.RFC3339)
	log.Debug("Logging to file", "path", logFile)
	return rotator.Close, nil
}
