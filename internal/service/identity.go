package service

import (
	"errors"
	"sync"

	"Mansoor88-6/activity-agent/internal/models"
	"Mansoor88-6/activity-agent/internal/repository"

	"go.uber.org/zap"
)

const (
	keyIdentity        = "identity"
	keyDeactivatedUser = "deactivated_user"
)

// ErrNoIdentity is returned when tracking is requested without a user
var ErrNoIdentity = errors.New("no user identity configured")

// IdentityStore holds the tracked user. A user deactivated by the collector
// stays cleared across restarts even if the file configuration names them.
type IdentityStore struct {
	mu       sync.RWMutex
	identity models.Identity
	state    *repository.StateRepository
	logger   *zap.Logger
}

// NewIdentityStore loads the persisted identity, falling back to configured
func NewIdentityStore(state *repository.StateRepository, configured models.Identity, logger *zap.Logger) *IdentityStore {
	s := &IdentityStore{state: state, logger: logger}

	var deactivated string
	if _, err := state.Get(repository.ScopeAgent, keyDeactivatedUser, &deactivated); err != nil {
		logger.Warn("Failed to read deactivation marker", zap.Error(err))
	}

	var persisted models.Identity
	if _, err := state.Get(repository.ScopeAgent, keyIdentity, &persisted); err != nil {
		logger.Warn("Failed to read persisted identity", zap.Error(err))
	}

	switch {
	case configured.UserID != "" && configured.UserID != deactivated:
		s.identity = configured
	case persisted.UserID != "" && persisted.UserID != deactivated:
		s.identity = persisted
	}
	if s.identity.UserID != "" {
		if err := state.Put(repository.ScopeAgent, keyIdentity, s.identity); err != nil {
			logger.Warn("Failed to persist identity", zap.Error(err))
		}
	} else if deactivated != "" {
		logger.Warn("User was deactivated, tracking disabled", zap.String("user_id", deactivated))
	}
	return s
}

// Get returns the current identity; UserID is empty when there is none
func (s *IdentityStore) Get() models.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.identity
}

// Clear forgets the identity and remembers the user as deactivated
func (s *IdentityStore) Clear() error {
	s.mu.Lock()
	userID := s.identity.UserID
	s.identity = models.Identity{}
	s.mu.Unlock()

	if err := s.state.Delete(repository.ScopeAgent, keyIdentity); err != nil {
		return err
	}
	if userID == "" {
		return nil
	}
	return s.state.Put(repository.ScopeAgent, keyDeactivatedUser, userID)
}
