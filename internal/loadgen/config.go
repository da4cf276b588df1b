package loadgen

import "time"

// Config holds configuration for a load generation run.
type Config struct {
	BaseURL       string        // Base URL of the service
	NumLeads      int           // Number of leads to register
	NumEvents     int           // Number of events to generate
	Workers       int           // Number of concurrent submitters
	BatchSize     int           // Events per batch request; 1 disables batching
	Timeout       time.Duration // HTTP request timeout
	OutOfOrderPct int           // Percentage of events backdated behind their lead's tail
	DuplicatePct  int           // Percentage of events reusing an earlier event ID
	OutputFile    string        // Output file for generated events
	LogFile       string        // Log file for run output
	Verbose       bool          // Enable verbose logging
}

// Event mirrors the wire schema accepted by POST /events.
type Event struct {
	EventID   string            `json:"event_id"`
	LeadID    string            `json:"lead_id"`
	EventType string            `json:"event_type"`
	Timestamp string            `json:"timestamp"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// Lead mirrors the wire schema accepted by POST /leads.
type Lead struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// JobAck is the response from an accepted event submission.
type JobAck struct {
	JobID string `json:"job_id"`
	State string `json:"state"`
}

// BatchAck is the response from a batch submission.
type BatchAck struct {
	Queued     int `json:"queued"`
	Duplicates int `json:"duplicates"`
	Failed     int `json:"failed"`
}

// LeadState is the response from GET /leads/{id}.
type LeadState struct {
	ID    string `json:"id"`
	Score int    `json:"score"`
}

// Stats holds load run statistics.
type Stats struct {
	LeadsRegistered int
	EventsGenerated int
	EventsSubmitted int
	EventsQueued    int
	EventsDuplicate int
	EventsFailed    int
	LeadsVerified   int
	ScoreViolations int
	StartTime       time.Time
	EndTime         time.Time
	Duration        time.Duration
}
