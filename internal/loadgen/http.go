package loadgen

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/okian/leadscore/pkg/logger"
)

// httpClient wraps http.Client with a per-request timeout.
type httpClient struct {
	client *http.Client
}

func newHTTPClient(timeout time.Duration) *httpClient {
	return &httpClient{
		client: &http.Client{Timeout: timeout},
	}
}

// get performs a GET request.
func (c *httpClient) get(ctx context.Context, url string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	return c.client.Do(req)
}

// post performs a POST request with a JSON body.
func (c *httpClient) post(ctx context.Context, url string, body interface{}) (*http.Response, error) {
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	return c.client.Do(req)
}

// drain reads and closes the response body.
func drain(resp *http.Response) ([]byte, error) {
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

// registerLeads creates all leads through POST /leads.
func registerLeads(ctx context.Context, config *Config, leads []Lead, stats *Stats) error {
	client := newHTTPClient(config.Timeout)
	url := config.BaseURL + "/leads"

	for _, lead := range leads {
		resp, err := client.post(ctx, url, lead)
		if err != nil {
			return fmt.Errorf("register lead %s: %w", lead.ID, err)
		}
		if _, err := drain(resp); err != nil {
			return fmt.Errorf("read lead response: %w", err)
		}
		if resp.StatusCode != http.StatusCreated {
			return fmt.Errorf("register lead %s: status %d", lead.ID, resp.StatusCode)
		}
		stats.LeadsRegistered++
	}

	logger.Get().Info(ctx, "leads registered", logger.Int("count", stats.LeadsRegistered))
	return nil
}

// submitEvents pushes events through a worker pool, either one at a
// time or in batches depending on config.BatchSize.
func submitEvents(ctx context.Context, config *Config, events []Event, stats *Stats) error {
	logger.Get().Info(ctx, "submitting events",
		logger.Int("count", len(events)),
		logger.Int("workers", config.Workers),
		logger.Int("batchSize", config.BatchSize))

	client := newHTTPClient(config.Timeout)

	var (
		queued    int64
		duplicate int64
		failed    int64
		submitted int64
	)

	batches := make(chan []Event, config.Workers*2)
	var wg sync.WaitGroup

	for i := 0; i < config.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for batch := range batches {
				select {
				case <-ctx.Done():
					return
				default:
				}
				q, d, f := submitBatch(ctx, client, config, batch)
				atomic.AddInt64(&submitted, int64(len(batch)))
				atomic.AddInt64(&queued, q)
				atomic.AddInt64(&duplicate, d)
				atomic.AddInt64(&failed, f)
				if config.Verbose {
					logger.Get().Debug(ctx, "batch submitted",
						logger.Int("size", len(batch)),
						logger.Int("totalSubmitted", int(atomic.LoadInt64(&submitted))))
				}
			}
		}()
	}

	go func() {
		defer close(batches)
		size := config.BatchSize
		if size < 1 {
			size = 1
		}
		for start := 0; start < len(events); start += size {
			end := start + size
			if end > len(events) {
				end = len(events)
			}
			select {
			case <-ctx.Done():
				return
			case batches <- events[start:end]:
			}
		}
	}()

	wg.Wait()

	stats.EventsSubmitted = int(atomic.LoadInt64(&submitted))
	stats.EventsQueued = int(atomic.LoadInt64(&queued))
	stats.EventsDuplicate = int(atomic.LoadInt64(&duplicate))
	stats.EventsFailed = int(atomic.LoadInt64(&failed))

	logger.Get().Info(ctx, "event submission completed",
		logger.Int("queued", stats.EventsQueued),
		logger.Int("duplicate", stats.EventsDuplicate),
		logger.Int("failed", stats.EventsFailed))
	return nil
}

// submitBatch sends one batch and returns queued, duplicate, and
// failed counts. Single-event batches use POST /events.
func submitBatch(ctx context.Context, client *httpClient, config *Config, batch []Event) (queued, duplicate, failed int64) {
	if len(batch) == 1 && config.BatchSize <= 1 {
		return submitSingle(ctx, client, config, batch[0])
	}

	payload := struct {
		Events []Event `json:"events"`
	}{Events: batch}
	resp, err := client.post(ctx, config.BaseURL+"/events/batch", payload)
	if err != nil {
		return 0, 0, int64(len(batch))
	}
	body, err := drain(resp)
	if err != nil || resp.StatusCode != http.StatusOK {
		return 0, 0, int64(len(batch))
	}

	var ack BatchAck
	if err := json.Unmarshal(body, &ack); err != nil {
		return 0, 0, int64(len(batch))
	}
	return int64(ack.Queued), int64(ack.Duplicates), int64(ack.Failed)
}

// submitSingle sends one event through POST /events.
func submitSingle(ctx context.Context, client *httpClient, config *Config, ev Event) (queued, duplicate, failed int64) {
	resp, err := client.post(ctx, config.BaseURL+"/events", ev)
	if err != nil {
		return 0, 0, 1
	}
	if _, err := drain(resp); err != nil {
		return 0, 0, 1
	}
	switch resp.StatusCode {
	case http.StatusAccepted:
		return 1, 0, 0
	case http.StatusOK:
		return 0, 1, 0
	default:
		return 0, 0, 1
	}
}

// verifyLeads fetches each lead and checks the score stayed inside
// the clamp range.
func verifyLeads(ctx context.Context, config *Config, leads []Lead, maxScore int, stats *Stats) error {
	client := newHTTPClient(config.Timeout)

	for _, lead := range leads {
		resp, err := client.get(ctx, config.BaseURL+"/leads/"+lead.ID)
		if err != nil {
			return fmt.Errorf("fetch lead %s: %w", lead.ID, err)
		}
		body, err := drain(resp)
		if err != nil {
			return fmt.Errorf("read lead %s: %w", lead.ID, err)
		}
		if resp.StatusCode != http.StatusOK {
			continue
		}

		var state LeadState
		if err := json.Unmarshal(body, &state); err != nil {
			return fmt.Errorf("decode lead %s: %w", lead.ID, err)
		}
		stats.LeadsVerified++
		if state.Score < 0 || state.Score > maxScore {
			stats.ScoreViolations++
			logger.Get().Warn(ctx, "score outside clamp range",
				logger.String("leadID", state.ID),
				logger.Int("score", state.Score))
		}
	}

	logger.Get().Info(ctx, "lead verification completed",
		logger.Int("verified", stats.LeadsVerified),
		logger.Int("violations", stats.ScoreViolations))
	return nil
}
