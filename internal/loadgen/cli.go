package loadgen

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"time"

	"github.com/okian/leadscore/pkg/logger"
)

const logFilePermission = 0600

// SetupLogging configures logging to both console and file.
// If logFile is empty, a timestamped filename is generated.
func SetupLogging(logFile string) error {
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	if logFile == "" {
		timestamp := time.Now().Format("20060102_150405")
		logFile = "loadgen_" + timestamp + ".log"
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFilePermission)
	if err != nil {
		return fmt.Errorf("failed to create log file: %w", err)
	}

	multiWriter := io.MultiWriter(os.Stdout, file)
	log.SetOutput(multiWriter)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)
	logger.Get().Info(context.Background(), "logging to file", logger.String("logFile", logFile))
	return nil
}

// ShowHelp prints usage information for the load generator.
func ShowHelp() {
	os.Stdout.WriteString(`Lead Scoring Load Generator
===========================

A concurrent tool for exercising the lead scoring service with
realistic traffic, including out-of-order and duplicate events.

Usage:
  go run cmd/loadgen/main.go [options]

Options:
  -url string
        Base URL of the service (default "http://localhost:8080")
  -leads int
        Number of leads to register (default 100)
  -events int
        Number of events to generate and submit (default 10000)
  -workers int
        Number of concurrent submitters (default CPU cores * 2)
  -batch int
        Events per batch request; 1 submits one at a time (default 100)
  -ooo int
        Percentage of events backdated out of order (default 10)
  -dup int
        Percentage of events resent verbatim (default 5)
  -timeout duration
        HTTP request timeout (default 30s)
  -output string
        Output file for generated events (optional)
  -log string
        Log file for run output (default: loadgen_TIMESTAMP.log)
  -verbose
        Enable verbose logging
  -help
        Show this help message

Examples:
  # Run with default settings
  go run cmd/loadgen/main.go

  # Heavy run with single-event submission
  go run cmd/loadgen/main.go -events 50000 -workers 16 -batch 1

  # Stress the out-of-order path
  go run cmd/loadgen/main.go -ooo 40 -dup 20
`)
}
