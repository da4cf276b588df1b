package main

import (
	"context"
	"flag"
	"os"
	"runtime"
	"time"

	"github.com/okian/leadscore/internal/loadgen"
)

// Default configuration constants.
const (
	defaultNumLeads      = 100
	defaultNumEvents     = 10000
	defaultBatchSize     = 100
	defaultOutOfOrderPct = 10
	defaultDuplicatePct  = 5
	defaultWorkerFactor  = 2 // multiplier for runtime.NumCPU()
	defaultTimeout       = 30 * time.Second
	defaultRunTimeout    = 10 * time.Minute
)

func main() {
	var (
		baseURL    = flag.String("url", "http://localhost:8080", "Base URL of the service")
		numLeads   = flag.Int("leads", defaultNumLeads, "Number of leads to register")
		numEvents  = flag.Int("events", defaultNumEvents, "Number of events to generate and submit")
		workers    = flag.Int("workers", runtime.NumCPU()*defaultWorkerFactor, "Number of concurrent submitters")
		batchSize  = flag.Int("batch", defaultBatchSize, "Events per batch request; 1 submits one at a time")
		oooPct     = flag.Int("ooo", defaultOutOfOrderPct, "Percentage of events backdated out of order")
		dupPct     = flag.Int("dup", defaultDuplicatePct, "Percentage of events resent verbatim")
		timeout    = flag.Duration("timeout", defaultTimeout, "HTTP request timeout")
		outputFile = flag.String("output", "", "Output file for generated events")
		logFile    = flag.String("log", "", "Log file for run output (default: loadgen_TIMESTAMP.log)")
		verbose    = flag.Bool("verbose", false, "Enable verbose logging")
		help       = flag.Bool("help", false, "Show help")
	)
	flag.Parse()

	if *help {
		loadgen.ShowHelp()
		return
	}

	if err := loadgen.SetupLogging(*logFile); err != nil {
		os.Stderr.WriteString("Failed to setup logging: " + err.Error() + "\n")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), defaultRunTimeout)
	defer cancel()

	config := &loadgen.Config{
		BaseURL:       *baseURL,
		NumLeads:      *numLeads,
		NumEvents:     *numEvents,
		Workers:       *workers,
		BatchSize:     *batchSize,
		Timeout:       *timeout,
		OutOfOrderPct: *oooPct,
		DuplicatePct:  *dupPct,
		OutputFile:    *outputFile,
		LogFile:       *logFile,
		Verbose:       *verbose,
	}

	if err := loadgen.Run(ctx, config); err != nil {
		os.Stderr.WriteString("Load run failed: " + err.Error() + "\n")
		os.Exit(1)
	}
}
