package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"Mansoor88-6/activity-agent/internal/models"
)

// ErrCorruptSnapshot is returned by Load when the stored snapshot could not
// be decoded. The row is deleted before returning.
var ErrCorruptSnapshot = errors.New("corrupt session snapshot")

// SessionBufferRepository stores the single crash-recovery snapshot
type SessionBufferRepository struct {
	db *sql.DB
}

func NewSessionBufferRepository(db *sql.DB) *SessionBufferRepository {
	return &SessionBufferRepository{db: db}
}

// Save overwrites the snapshot. Screenshots are never persisted.
func (r *SessionBufferRepository) Save(buf models.SessionBuffer) error {
	buf.State = buf.State.WithoutScreenshots()
	data, err := json.Marshal(buf)
	if err != nil {
		return fmt.Errorf("failed to marshal session snapshot: %w", err)
	}

	_, err = r.db.Exec(`
		INSERT INTO session_buffer (id, user_id, snapshot, saved_at)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			user_id = excluded.user_id,
			snapshot = excluded.snapshot,
			saved_at = excluded.saved_at
	`, buf.UserID, string(data), buf.SavedAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to save session snapshot: %w", err)
	}
	return nil
}

// Load returns the snapshot, or nil if none exists
func (r *SessionBufferRepository) Load() (*models.SessionBuffer, error) {
	var data string
	var savedAt int64
	err := r.db.QueryRow(`SELECT snapshot, saved_at FROM session_buffer WHERE id = 1`).Scan(&data, &savedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load session snapshot: %w", err)
	}

	var buf models.SessionBuffer
	if err := json.Unmarshal([]byte(data), &buf); err != nil || buf.State.SessionStart.IsZero() {
		if delErr := r.Delete(); delErr != nil {
			return nil, delErr
		}
		return nil, ErrCorruptSnapshot
	}
	if buf.SavedAt.IsZero() {
		buf.SavedAt = time.UnixMilli(savedAt)
	}
	return &buf, nil
}

// Delete removes the snapshot. Deleting a missing snapshot is not an error.
func (r *SessionBufferRepository) Delete() error {
	if _, err := r.db.Exec(`DELETE FROM session_buffer WHERE id = 1`); err != nil {
		return fmt.Errorf("failed to delete session snapshot: %w", err)
	}
	return nil
}
