package queue

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"Mansoor88-6/activity-agent/internal/clock"
	"Mansoor88-6/activity-agent/internal/metrics"
	"Mansoor88-6/activity-agent/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// UploadQueue is the durable store of session uploads that failed delivery.
// Payloads are cumulative, so one merged item per session is kept.
type UploadQueue struct {
	db     *sql.DB
	clock  clock.Clock
	logger *zap.Logger
}

// NewUploadQueue creates a new upload queue
func NewUploadQueue(db *sql.DB, clk clock.Clock, logger *zap.Logger) *UploadQueue {
	return &UploadQueue{
		db:     db,
		clock:  clk,
		logger: logger,
	}
}

// Enqueue persists a failed payload. Queued captures of the same session
// are merged into it, each counter keeping its highest value, so nothing
// already reported is lost or lowered.
func (q *UploadQueue) Enqueue(payload models.SessionUpload) error {
	key := payload.SessionKey()

	tx, err := q.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	queued, err := queuedForSession(tx, key)
	if err != nil {
		return err
	}

	merged := payload
	attempts := 0
	for _, item := range queued {
		switch {
		case merged.Covers(item.Payload):
		case item.Payload.Covers(merged):
			merged = item.Payload
		default:
			// Neither body holds every total; the merged one gets its own
			// idempotency key.
			merged = merged.MergeTotals(item.Payload)
			merged.UploadID = uuid.NewString()
		}
		attempts = max(attempts, item.Attempts)
	}

	data, err := json.Marshal(merged)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}
	if _, err := tx.Exec(`DELETE FROM upload_queue WHERE session_key = ?`, key); err != nil {
		return fmt.Errorf("failed to replace queued payloads: %w", err)
	}
	if _, err := tx.Exec(`
		INSERT INTO upload_queue (session_key, payload, captured_at, enqueued_at, attempts)
		VALUES (?, ?, ?, ?, ?)
	`, key, string(data), merged.CapturedAt, q.clock.Now().UnixMilli(), attempts); err != nil {
		return fmt.Errorf("failed to enqueue payload: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	q.logger.Info("Upload queued for retry",
		zap.String("session_key", key),
		zap.String("upload_id", merged.UploadID),
		zap.Int("merged", len(queued)),
	)
	q.updateDepth()
	return nil
}

// Latest returns the queued payload of a session, or nil
func (q *UploadQueue) Latest(sessionKey string) (*models.SessionUpload, error) {
	tx, err := q.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	items, err := queuedForSession(tx, sessionKey)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	latest := items[0].Payload
	for _, item := range items[1:] {
		latest = latest.MergeTotals(item.Payload)
	}
	return &latest, nil
}

func queuedForSession(tx *sql.Tx, key string) ([]models.UploadQueueItem, error) {
	rows, err := tx.Query(`
		SELECT id, payload, attempts FROM upload_queue WHERE session_key = ? ORDER BY id ASC
	`, key)
	if err != nil {
		return nil, fmt.Errorf("failed to query queued payloads: %w", err)
	}
	defer rows.Close()

	var items []models.UploadQueueItem
	for rows.Next() {
		var (
			item models.UploadQueueItem
			body string
		)
		if err := rows.Scan(&item.ID, &body, &item.Attempts); err != nil {
			return nil, fmt.Errorf("failed to scan queued payload: %w", err)
		}
		// Undecodable rows are dropped by List.
		if json.Unmarshal([]byte(body), &item.Payload) != nil {
			continue
		}
		item.SessionKey = key
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read queued payloads: %w", err)
	}
	return items, nil
}

// List returns every queued item, oldest first. Undecodable rows are removed.
func (q *UploadQueue) List() ([]models.UploadQueueItem, error) {
	rows, err := q.db.Query(`
		SELECT id, session_key, payload, enqueued_at, attempts, last_attempt
		FROM upload_queue
		ORDER BY enqueued_at ASC, id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query upload queue: %w", err)
	}

	var items []models.UploadQueueItem
	var corrupt []int64
	for rows.Next() {
		var (
			item        models.UploadQueueItem
			payload     string
			enqueuedAt  int64
			lastAttempt sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &item.SessionKey, &payload, &enqueuedAt, &item.Attempts, &lastAttempt); err != nil {
			q.logger.Error("Failed to scan row", zap.Error(err))
			continue
		}
		if err := json.Unmarshal([]byte(payload), &item.Payload); err != nil {
			q.logger.Error("Failed to unmarshal payload", zap.Error(err), zap.Int64("id", item.ID))
			corrupt = append(corrupt, item.ID)
			continue
		}
		item.EnqueuedAt = time.UnixMilli(enqueuedAt)
		if lastAttempt.Valid {
			t := time.UnixMilli(lastAttempt.Int64)
			item.LastAttempt = &t
		}
		items = append(items, item)
	}
	err = rows.Err()
	rows.Close()
	if err != nil {
		return nil, fmt.Errorf("failed to read upload queue: %w", err)
	}

	for _, id := range corrupt {
		if err := q.Remove(id); err != nil {
			q.logger.Error("Failed to remove corrupt item", zap.Error(err), zap.Int64("id", id))
		}
	}
	return items, nil
}

// Remove deletes one delivered item
func (q *UploadQueue) Remove(id int64) error {
	if _, err := q.db.Exec(`DELETE FROM upload_queue WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to remove queued upload: %w", err)
	}
	q.updateDepth()
	return nil
}

// RemoveCovered deletes the queued items of delivered's session that
// delivered carries every total of. Items holding anything more stay queued.
func (q *UploadQueue) RemoveCovered(delivered models.SessionUpload) (int, error) {
	key := delivered.SessionKey()

	tx, err := q.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	items, err := queuedForSession(tx, key)
	if err != nil {
		return 0, err
	}
	removed := 0
	for _, item := range items {
		if !delivered.Covers(item.Payload) {
			continue
		}
		if _, err := tx.Exec(`DELETE FROM upload_queue WHERE id = ?`, item.ID); err != nil {
			return 0, fmt.Errorf("failed to remove session upload: %w", err)
		}
		removed++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}

	if removed > 0 {
		q.logger.Debug("Delivered uploads removed from queue",
			zap.String("session_key", key),
			zap.Int("count", removed),
		)
		q.updateDepth()
	}
	return removed, nil
}

// IncrementAttempts records a failed redelivery
func (q *UploadQueue) IncrementAttempts(id int64) error {
	_, err := q.db.Exec(`
		UPDATE upload_queue SET attempts = attempts + 1, last_attempt = ? WHERE id = ?
	`, q.clock.Now().UnixMilli(), id)
	if err != nil {
		return fmt.Errorf("failed to increment attempts: %w", err)
	}
	return nil
}

// PendingCount returns the number of queued items
func (q *UploadQueue) PendingCount() (int, error) {
	var count int
	if err := q.db.QueryRow(`SELECT COUNT(*) FROM upload_queue`).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to get pending count: %w", err)
	}
	return count, nil
}

// Clear drops every queued item
func (q *UploadQueue) Clear() error {
	result, err := q.db.Exec(`DELETE FROM upload_queue`)
	if err != nil {
		return fmt.Errorf("failed to clear upload queue: %w", err)
	}
	n, _ := result.RowsAffected()
	q.logger.Info("Upload queue cleared", zap.Int64("count", n))
	q.updateDepth()
	return nil
}

func (q *UploadQueue) updateDepth() {
	if n, err := q.PendingCount(); err == nil {
		metrics.QueueDepth.Set(float64(n))
	}
}
