// Package ledger provides an append-only history of speaker mutations.
package ledger

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fideliod/internal/speaker"
)

// EventType represents the type of event in the ledger
type EventType string

const (
	EventApplyCompleted EventType = "apply_completed"
	EventApplyFailed    EventType = "apply_failed"
)

// Entry represents a single event in the ledger
type Entry struct {
	ID        int64
	Speaker   string
	EventType EventType
	Timestamp time.Time
	Payload   map[string]any
	Source    string
	ApplyID   string
}

// Ledger provides append-only event logging
type Ledger struct {
	db *sql.DB
}

// New creates a new Ledger using the provided database connection
func New(db *sql.DB) *Ledger {
	return &Ledger{db: db}
}

// Append adds a new event to the ledger
func (l *Ledger) Append(speakerName string, eventType EventType, source, applyID string, payload map[string]any) error {
	var payloadJSON []byte
	var err error

	if payload != nil {
		payloadJSON, err = json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal payload: %w", err)
		}
	}

	_, err = l.db.Exec(`
		INSERT INTO event_ledger (speaker, event_type, timestamp, payload, source, apply_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`, speakerName, string(eventType), time.Now().UTC().Unix(), string(payloadJSON), source, applyID)
	return err
}

// ApplyCompleted records a finished Apply. Failures to write are logged and
// never propagated to the speaker.
func (l *Ledger) ApplyCompleted(r speaker.Report) {
	eventType := EventApplyCompleted
	payload := map[string]any{
		"desired":     r.Desired,
		"state":       r.State,
		"duration_ms": r.Duration.Milliseconds(),
	}
	if r.Err != nil {
		eventType = EventApplyFailed
		payload["error"] = r.Err.Error()
	}

	if err := l.Append(r.Speaker, eventType, r.Source, r.ID, payload); err != nil {
		log.Error().Err(err).Str("speaker", r.Speaker).Str("apply_id", r.ID).Msg("Failed to append to ledger")
	}
}

// GetBySpeaker returns the newest entries for one speaker
func (l *Ledger) GetBySpeaker(speakerName string, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, speaker, event_type, timestamp, payload, source, apply_id
		FROM event_ledger
		WHERE speaker = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, speakerName, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// GetByType returns entries filtered by event type
func (l *Ledger) GetByType(eventType EventType, limit int) ([]*Entry, error) {
	rows, err := l.db.Query(`
		SELECT id, speaker, event_type, timestamp, payload, source, apply_id
		FROM event_ledger
		WHERE event_type = ?
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`, string(eventType), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return l.scanEntries(rows)
}

// DeleteOlderThan removes entries older than the specified duration (retention policy)
func (l *Ledger) DeleteOlderThan(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).Unix()
	result, err := l.db.Exec(`DELETE FROM event_ledger WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

func (l *Ledger) scanEntries(rows *sql.Rows) ([]*Entry, error) {
	var entries []*Entry
	for rows.Next() {
		var entry Entry
		var payloadStr, source, applyID sql.NullString
		var timestamp int64

		err := rows.Scan(&entry.ID, &entry.Speaker, &entry.EventType, &timestamp, &payloadStr, &source, &applyID)
		if err != nil {
			return nil, err
		}

		entry.Timestamp = time.Unix(timestamp, 0).UTC()
		entry.Source = source.String
		entry.ApplyID = applyID.String

		if payloadStr.Valid && payloadStr.String != "" {
			entry.Payload = make(map[string]any)
			if err := json.Unmarshal([]byte(payloadStr.String), &entry.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		entries = append(entries, &entry)
	}

	return entries, rows.Err()
}
