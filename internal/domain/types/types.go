// Package types contains common types used across the application
package types

// BatchError reports why a single event in a batch could not be queued.
type BatchError struct {
	EventID string `json:"event_id"`
	Error   string `json:"error"`
}

// BatchResult aggregates the outcome of a batch submission. A failing event
// never aborts its siblings; it is recorded here instead.
type BatchResult struct {
	Queued     int          `json:"queued"`
	Duplicates int          `json:"duplicates"`
	Failed     int          `json:"failed"`
	JobIDs     []string     `json:"job_ids"`
	Errors     []BatchError `json:"errors,omitempty"`
}
