package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/okian/leadscore/internal/domain/model"
)

//go:embed schema.sql
var schemaSQL string

// timeLayout is used for all persisted timestamps. The fractional second
// field is fixed-width: ORDER BY on the text column must equal chronological
// order, and variable-width fractions break that ("...00.3Z" sorts before
// "...00Z" because '.' < 'Z'). Values are parsed back with RFC3339Nano,
// which accepts any fraction width.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteStore implements Store on a SQLite database. Multi-row writes run in
// transactions, which provides the atomic commit and ledger-swap semantics
// the contract requires.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite creates or opens a SQLite database at the given path and applies
// pragmas and the schema. Idempotent.
func OpenSQLite(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("%w: open %s: %w", ErrStore, path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: ping: %w", ErrStore, err)
	}

	// SQLite supports one writer at a time; a single connection avoids
	// SQLITE_BUSY under the worker pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA foreign_keys = ON",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("%w: %s: %w", ErrStore, p, err)
		}
	}

	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("%w: apply schema: %w", ErrStore, err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db == nil {
		return nil
	}
	return s.db.Close()
}

// PutLead inserts or replaces a lead, preserving score and created_at on
// replace.
func (s *SQLiteStore) PutLead(ctx context.Context, lead model.Lead) error {
	createdAt := lead.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO leads (id, name, email, score, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, email = excluded.email
	`, lead.ID, lead.Name, lead.Email, lead.Score, createdAt.UTC().Format(timeLayout))
	if err != nil {
		return fmt.Errorf("%w: put lead: %w", ErrStore, err)
	}
	return nil
}

// Lead returns the lead by id.
func (s *SQLiteStore) Lead(ctx context.Context, leadID string) (model.Lead, error) {
	var (
		lead      model.Lead
		createdAt string
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, name, email, score, created_at FROM leads WHERE id = ?
	`, leadID).Scan(&lead.ID, &lead.Name, &lead.Email, &lead.Score, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Lead{}, fmt.Errorf("%w: %s", ErrLeadNotFound, leadID)
	}
	if err != nil {
		return model.Lead{}, fmt.Errorf("%w: get lead: %w", ErrStore, err)
	}
	lead.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
	return lead, nil
}

// LeadCount returns the number of tracked leads.
func (s *SQLiteStore) LeadCount(ctx context.Context) int {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads`).Scan(&n); err != nil {
		return 0
	}
	return n
}

// RecordIfNew atomically inserts the event or fetches the existing record.
// The UNIQUE constraint on event_id makes concurrent identical inserts
// resolve to exactly one winner.
func (s *SQLiteStore) RecordIfNew(ctx context.Context, e model.Event) (model.Event, bool, error) {
	meta, err := json.Marshal(e.Metadata)
	if err != nil {
		return model.Event{}, false, fmt.Errorf("%w: encode metadata: %w", ErrStore, err)
	}

	res, err := s.db.ExecContext(ctx, `
		INSERT INTO events (event_id, lead_id, event_type, ts, metadata)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING
	`, e.EventID, e.LeadID, string(e.EventType), e.Timestamp.UTC().Format(timeLayout), string(meta))
	if err != nil {
		return model.Event{}, false, fmt.Errorf("%w: record event: %w", ErrStore, err)
	}
	inserted, err := res.RowsAffected()
	if err != nil {
		return model.Event{}, false, fmt.Errorf("%w: rows affected: %w", ErrStore, err)
	}

	stored, err := s.Event(ctx, e.EventID)
	if err != nil {
		return model.Event{}, false, err
	}
	return stored, inserted == 1, nil
}

// Event returns the ledgered event by id.
func (s *SQLiteStore) Event(ctx context.Context, eventID string) (model.Event, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT seq, event_id, lead_id, event_type, ts, metadata, processed, processed_at
		FROM events WHERE event_id = ?
	`, eventID)
	e, err := scanEvent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Event{}, fmt.Errorf("%w: %s", ErrEventNotFound, eventID)
	}
	if err != nil {
		return model.Event{}, fmt.Errorf("%w: get event: %w", ErrStore, err)
	}
	return e, nil
}

// MarkProcessed flips the processed flag exactly once.
func (s *SQLiteStore) MarkProcessed(ctx context.Context, eventID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE events SET processed = 1, processed_at = ?
		WHERE event_id = ? AND processed = 0
	`, at.UTC().Format(timeLayout), eventID)
	if err != nil {
		return fmt.Errorf("%w: mark processed: %w", ErrStore, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Either already processed (fine) or unknown.
		if _, err := s.Event(ctx, eventID); err != nil {
			return err
		}
	}
	return nil
}

// ProcessedEvents returns the replay source ordered by (ts, seq).
func (s *SQLiteStore) ProcessedEvents(ctx context.Context, leadID string) ([]model.Event, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT seq, event_id, lead_id, event_type, ts, metadata, processed, processed_at
		FROM events WHERE lead_id = ? AND processed = 1
		ORDER BY ts ASC, seq ASC
	`, leadID)
	if err != nil {
		return nil, fmt.Errorf("%w: query processed events: %w", ErrStore, err)
	}
	defer rows.Close()

	var out []model.Event
	for rows.Next() {
		e, err := scanEvent(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan event: %w", ErrStore, err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate events: %w", ErrStore, err)
	}
	return out, nil
}

// LatestEntry returns the history entry with the greatest (ts, seq).
func (s *SQLiteStore) LatestEntry(ctx context.Context, leadID string) (model.HistoryEntry, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT lead_id, seq, event_id, event_type, score, previous_score, change, reason, ts, recorded_at
		FROM history WHERE lead_id = ?
		ORDER BY ts DESC, seq DESC LIMIT 1
	`, leadID)
	entry, err := scanEntry(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.HistoryEntry{}, false, nil
	}
	if err != nil {
		return model.HistoryEntry{}, false, fmt.Errorf("%w: latest entry: %w", ErrStore, err)
	}
	return entry, true, nil
}

// History returns the lead's full ledger ordered by (ts, seq).
func (s *SQLiteStore) History(ctx context.Context, leadID string) ([]model.HistoryEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT lead_id, seq, event_id, event_type, score, previous_score, change, reason, ts, recorded_at
		FROM history WHERE lead_id = ?
		ORDER BY ts ASC, seq ASC
	`, leadID)
	if err != nil {
		return nil, fmt.Errorf("%w: query history: %w", ErrStore, err)
	}
	defer rows.Close()

	var out []model.HistoryEntry
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("%w: scan entry: %w", ErrStore, err)
		}
		out = append(out, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: iterate history: %w", ErrStore, err)
	}
	return out, nil
}

// CommitApplication writes score, ledger row, and processed flag in one
// transaction.
func (s *SQLiteStore) CommitApplication(ctx context.Context, entry model.HistoryEntry) (model.HistoryEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return model.HistoryEntry{}, fmt.Errorf("%w: begin: %w", ErrStore, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads WHERE id = ?`, entry.LeadID).Scan(&exists); err != nil {
		return model.HistoryEntry{}, fmt.Errorf("%w: check lead: %w", ErrStore, err)
	}
	if exists == 0 {
		return model.HistoryEntry{}, fmt.Errorf("%w: %s", ErrLeadNotFound, entry.LeadID)
	}

	var next uint64
	if err := tx.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(seq), 0) + 1 FROM history WHERE lead_id = ?
	`, entry.LeadID).Scan(&next); err != nil {
		return model.HistoryEntry{}, fmt.Errorf("%w: next seq: %w", ErrStore, err)
	}
	entry.Seq = next
	if entry.RecordedAt.IsZero() {
		entry.RecordedAt = time.Now().UTC()
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO history (lead_id, seq, event_id, event_type, score, previous_score, change, reason, ts, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, entry.LeadID, entry.Seq, entry.EventID, string(entry.EventType), entry.Score, entry.PreviousScore,
		entry.Change, entry.Reason, entry.Timestamp.UTC().Format(timeLayout), entry.RecordedAt.UTC().Format(timeLayout)); err != nil {
		return model.HistoryEntry{}, fmt.Errorf("%w: insert entry: %w", ErrStore, err)
	}

	if _, err := tx.ExecContext(ctx, `UPDATE leads SET score = ? WHERE id = ?`, entry.Score, entry.LeadID); err != nil {
		return model.HistoryEntry{}, fmt.Errorf("%w: update score: %w", ErrStore, err)
	}

	res, err := tx.ExecContext(ctx, `
		UPDATE events SET processed = 1, processed_at = ?
		WHERE event_id = ? AND processed = 0
	`, entry.RecordedAt.UTC().Format(timeLayout), entry.EventID)
	if err != nil {
		return model.HistoryEntry{}, fmt.Errorf("%w: mark processed: %w", ErrStore, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var count int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE event_id = ?`, entry.EventID).Scan(&count); err != nil {
			return model.HistoryEntry{}, fmt.Errorf("%w: check event: %w", ErrStore, err)
		}
		if count == 0 {
			return model.HistoryEntry{}, fmt.Errorf("%w: %s", ErrEventNotFound, entry.EventID)
		}
	}

	if err := tx.Commit(); err != nil {
		return model.HistoryEntry{}, fmt.Errorf("%w: commit: %w", ErrStore, err)
	}
	return entry, nil
}

// ReplaceHistory swaps the lead's whole ledger and score in one transaction,
// optionally settling the triggering event's processed flag with them. A
// crash mid-replacement rolls back to the old, fully consistent ledger.
func (s *SQLiteStore) ReplaceHistory(ctx context.Context, leadID string, entries []model.HistoryEntry, newScore int, processEventID string) ([]model.HistoryEntry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: begin: %w", ErrStore, err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	var exists int
	if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM leads WHERE id = ?`, leadID).Scan(&exists); err != nil {
		return nil, fmt.Errorf("%w: check lead: %w", ErrStore, err)
	}
	if exists == 0 {
		return nil, fmt.Errorf("%w: %s", ErrLeadNotFound, leadID)
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM history WHERE lead_id = ?`, leadID); err != nil {
		return nil, fmt.Errorf("%w: clear history: %w", ErrStore, err)
	}

	now := time.Now().UTC()
	next := make([]model.HistoryEntry, len(entries))
	for i, e := range entries {
		e.LeadID = leadID
		e.Seq = uint64(i + 1)
		if e.RecordedAt.IsZero() {
			e.RecordedAt = now
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO history (lead_id, seq, event_id, event_type, score, previous_score, change, reason, ts, recorded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`, e.LeadID, e.Seq, e.EventID, string(e.EventType), e.Score, e.PreviousScore,
			e.Change, e.Reason, e.Timestamp.UTC().Format(timeLayout), e.RecordedAt.UTC().Format(timeLayout)); err != nil {
			return nil, fmt.Errorf("%w: insert entry: %w", ErrStore, err)
		}
		next[i] = e
	}

	if _, err := tx.ExecContext(ctx, `UPDATE leads SET score = ? WHERE id = ?`, newScore, leadID); err != nil {
		return nil, fmt.Errorf("%w: update score: %w", ErrStore, err)
	}

	if processEventID != "" {
		res, err := tx.ExecContext(ctx, `
			UPDATE events SET processed = 1, processed_at = ?
			WHERE event_id = ? AND processed = 0
		`, now.Format(timeLayout), processEventID)
		if err != nil {
			return nil, fmt.Errorf("%w: mark processed: %w", ErrStore, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			var count int
			if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM events WHERE event_id = ?`, processEventID).Scan(&count); err != nil {
				return nil, fmt.Errorf("%w: check event: %w", ErrStore, err)
			}
			if count == 0 {
				return nil, fmt.Errorf("%w: %s", ErrEventNotFound, processEventID)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("%w: commit: %w", ErrStore, err)
	}
	return next, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(r rowScanner) (model.Event, error) {
	var (
		e           model.Event
		eventType   string
		ts          string
		meta        string
		processed   int
		processedAt sql.NullString
	)
	if err := r.Scan(&e.Seq, &e.EventID, &e.LeadID, &eventType, &ts, &meta, &processed, &processedAt); err != nil {
		return model.Event{}, err
	}
	e.EventType = model.EventType(eventType)
	e.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	e.Processed = processed == 1
	if processedAt.Valid {
		e.ProcessedAt, _ = time.Parse(time.RFC3339Nano, processedAt.String)
	}
	if meta != "" && meta != "{}" && meta != "null" {
		_ = json.Unmarshal([]byte(meta), &e.Metadata)
	}
	return e, nil
}

func scanEntry(r rowScanner) (model.HistoryEntry, error) {
	var (
		entry      model.HistoryEntry
		eventType  string
		ts         string
		recordedAt string
	)
	if err := r.Scan(&entry.LeadID, &entry.Seq, &entry.EventID, &eventType, &entry.Score,
		&entry.PreviousScore, &entry.Change, &entry.Reason, &ts, &recordedAt); err != nil {
		return model.HistoryEntry{}, err
	}
	entry.EventType = model.EventType(eventType)
	entry.Timestamp, _ = time.Parse(time.RFC3339Nano, ts)
	entry.RecordedAt, _ = time.Parse(time.RFC3339Nano, recordedAt)
	return entry, nil
}
