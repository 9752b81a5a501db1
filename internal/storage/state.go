// Package storage persists the last known cache snapshot of every speaker so
// pending intents survive a restart.
package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/fideliod/internal/speaker"
)

// Store provides versioned snapshot storage keyed by speaker name.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewStore creates a new snapshot store.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Load returns the stored snapshot and its version. ok is false when nothing
// was stored for the speaker yet.
func (s *Store) Load(name string) (snap speaker.Snapshot, version int64, ok bool, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err = s.db.QueryRow(`
		SELECT payload, version FROM speaker_state WHERE speaker = ?
	`, name).Scan(&payload, &version)

	if errors.Is(err, sql.ErrNoRows) {
		return speaker.Snapshot{}, 0, false, nil
	}
	if err != nil {
		return speaker.Snapshot{}, 0, false, err
	}

	if err := json.Unmarshal([]byte(payload), &snap); err != nil {
		return speaker.Snapshot{}, 0, false, fmt.Errorf("failed to unmarshal snapshot for %s: %w", name, err)
	}
	return snap, version, true, nil
}

// Save stores a snapshot, incrementing version automatically.
func (s *Store) Save(name string, snap speaker.Snapshot) error {
	payload, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, err = s.db.Exec(`
		INSERT INTO speaker_state (speaker, payload, version, updated_at)
		VALUES (?, ?, 1, ?)
		ON CONFLICT(speaker) DO UPDATE SET
			payload = excluded.payload,
			version = version + 1,
			updated_at = excluded.updated_at
	`, name, string(payload), time.Now().UTC().Unix())

	if err == nil {
		log.Debug().
			Str("speaker", name).
			Str("payload", string(payload)).
			Msg("Snapshot saved")
	}
	return err
}

// Delete removes the stored snapshot of a speaker.
func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`DELETE FROM speaker_state WHERE speaker = ?`, name)
	return err
}

// ApplyCompleted saves the post-apply snapshot. Failed applies are saved too:
// a failed facet may still have changed the cache.
func (s *Store) ApplyCompleted(r speaker.Report) {
	if err := s.Save(r.Speaker, r.State); err != nil {
		log.Error().Err(err).Str("speaker", r.Speaker).Msg("Failed to save snapshot")
	}
}

// Seed returns the snapshot to start a speaker from: the stored one when
// restore is set and one exists, otherwise fallback.
func (s *Store) Seed(name string, restore bool, fallback speaker.Snapshot) speaker.Snapshot {
	if !restore {
		return fallback
	}

	snap, version, ok, err := s.Load(name)
	if err != nil {
		log.Warn().Err(err).Str("speaker", name).Msg("Failed to load snapshot, using configured seed")
		return fallback
	}
	if !ok {
		return fallback
	}

	log.Info().
		Str("speaker", name).
		Int64("version", version).
		Bool("power", snap.Power).
		Int("volume", snap.Volume).
		Int("channel", snap.Channel).
		Bool("volume_pending", snap.VolumePending).
		Bool("channel_pending", snap.ChannelPending).
		Msg("Restored speaker state")
	return snap
}
