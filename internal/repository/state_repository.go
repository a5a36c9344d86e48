package repository

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Scopes of agent_state rows
const (
	ScopeAgent = "agent"
)

// UserScope is the scope of state that belongs to one tracked user
func UserScope(userID string) string {
	return "user:" + userID
}

// StateRepository is a scoped JSON key/value store for small agent state
type StateRepository struct {
	db *sql.DB
}

func NewStateRepository(db *sql.DB) *StateRepository {
	return &StateRepository{db: db}
}

// Get decodes the value for scope/key into v. It reports false if the key
// does not exist.
func (r *StateRepository) Get(scope, key string, v any) (bool, error) {
	var value string
	err := r.db.QueryRow(`SELECT value FROM agent_state WHERE scope = ? AND key = ?`, scope, key).Scan(&value)
	if err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("failed to get %s/%s: %w", scope, key, err)
	}
	if err := json.Unmarshal([]byte(value), v); err != nil {
		return false, fmt.Errorf("failed to decode %s/%s: %w", scope, key, err)
	}
	return true, nil
}

// Put stores v as JSON under scope/key
func (r *StateRepository) Put(scope, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s/%s: %w", scope, key, err)
	}
	_, err = r.db.Exec(`
		INSERT INTO agent_state (scope, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(scope, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, scope, key, string(data), time.Now().UnixMilli())
	if err != nil {
		return fmt.Errorf("failed to put %s/%s: %w", scope, key, err)
	}
	return nil
}

func (r *StateRepository) Delete(scope, key string) error {
	if _, err := r.db.Exec(`DELETE FROM agent_state WHERE scope = ? AND key = ?`, scope, key); err != nil {
		return fmt.Errorf("failed to delete %s/%s: %w", scope, key, err)
	}
	return nil
}

// ClearScope deletes every key in scope
func (r *StateRepository) ClearScope(scope string) error {
	if _, err := r.db.Exec(`DELETE FROM agent_state WHERE scope = ?`, scope); err != nil {
		return fmt.Errorf("failed to clear scope %s: %w", scope, err)
	}
	return nil
}

// Scope binds the repository to one scope
func (r *StateRepository) Scope(scope string) *ScopedState {
	return &ScopedState{repo: r, scope: scope}
}

// ScopedState is a StateRepository view over a single scope
type ScopedState struct {
	repo  *StateRepository
	scope string
}

func (s *ScopedState) Get(key string, v any) (bool, error) { return s.repo.Get(s.scope, key, v) }
func (s *ScopedState) Put(key string, v any) error         { return s.repo.Put(s.scope, key, v) }
func (s *ScopedState) Delete(key string) error             { return s.repo.Delete(s.scope, key) }
func (s *ScopedState) Clear() error                        { return s.repo.ClearScope(s.scope) }
