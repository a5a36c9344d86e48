package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"Mansoor88-6/activity-agent/internal/clock"
	"Mansoor88-6/activity-agent/internal/models"
	"Mansoor88-6/activity-agent/internal/repository"
	"Mansoor88-6/activity-agent/internal/tracker"

	"go.uber.org/zap"
)

// SessionBufferService keeps the crash-recovery snapshot of the open session
type SessionBufferService struct {
	buffers  *repository.SessionBufferRepository
	session  *tracker.Session
	identity *IdentityStore
	uploads  *UploadService
	clock    clock.Clock
	interval time.Duration
	maxAge   time.Duration
	logger   *zap.Logger

	mu       sync.Mutex
	running  bool
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewSessionBufferService(
	buffers *repository.SessionBufferRepository,
	session *tracker.Session,
	identity *IdentityStore,
	uploads *UploadService,
	clk clock.Clock,
	interval, maxAge time.Duration,
	logger *zap.Logger,
) *SessionBufferService {
	return &SessionBufferService{
		buffers:  buffers,
		session:  session,
		identity: identity,
		uploads:  uploads,
		clock:    clk,
		interval: interval,
		maxAge:   maxAge,
		logger:   logger,
	}
}

// Start begins the heartbeat
func (s *SessionBufferService) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.running = true
	s.stopChan = make(chan struct{})
	ticker := s.clock.NewTicker(s.interval)
	stop := s.stopChan

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				s.Heartbeat()
			case <-stop:
				return
			}
		}
	}()
}

// Stop ends the heartbeat. The snapshot on disk is left alone.
func (s *SessionBufferService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	close(s.stopChan)
	s.mu.Unlock()
	s.wg.Wait()
}

// Heartbeat overwrites the snapshot with the current state. It does nothing
// while tracking is stopped or the user is idle.
func (s *SessionBufferService) Heartbeat() {
	if !s.session.Active() {
		return
	}
	snap := s.session.Snapshot()
	if snap.IsIdle {
		return
	}
	id := s.identity.Get()
	if id.UserID == "" {
		return
	}

	buf := models.SessionBuffer{
		UserID:         id.UserID,
		UserName:       id.UserName,
		State:          snap,
		TrackingActive: true,
		SavedAt:        s.clock.Now(),
	}
	if err := s.buffers.Save(buf); err != nil {
		s.logger.Warn("Failed to save session snapshot", zap.Error(err))
	}
}

// Recover reads the snapshot left by a previous run. A snapshot owned by
// id and younger than the staleness bound is returned for resumption.
// Anything else is uploaded once as a recovery and deleted whatever the
// outcome; a failed recovery upload still lands in the retry queue.
func (s *SessionBufferService) Recover(ctx context.Context, id models.Identity) (*models.SessionBuffer, error) {
	buf, err := s.buffers.Load()
	if err != nil {
		if errors.Is(err, repository.ErrCorruptSnapshot) {
			s.logger.Warn("Discarded corrupt session snapshot")
			return nil, nil
		}
		return nil, err
	}
	if buf == nil {
		return nil, nil
	}

	// A queued upload can hold totals the snapshot missed, e.g. idle time
	// accumulated after the last heartbeat.
	queued, err := s.uploads.QueuedTotals(buf.UserID, buf.State.SessionStart)
	if err != nil {
		s.logger.Warn("Failed to read queued totals", zap.Error(err))
	} else if queued != nil {
		buf.State.RaiseTo(*queued)
	}

	age := s.clock.Now().Sub(buf.SavedAt)
	if buf.UserID == id.UserID && id.UserID != "" && age <= s.maxAge {
		s.logger.Info("Session snapshot available for resumption",
			zap.String("user_id", buf.UserID),
			zap.Duration("age", age),
			zap.Duration("tracked", buf.State.TrackedTime()),
		)
		return buf, nil
	}

	s.logger.Info("Abandoned session snapshot, uploading recovered totals",
		zap.String("user_id", buf.UserID),
		zap.Bool("other_user", buf.UserID != id.UserID),
		zap.Duration("age", age),
	)
	if buf.UserID != "" && buf.State.TrackedTime() > 0 {
		owner := models.Identity{UserID: buf.UserID, UserName: buf.UserName}
		opts := UploadOptions{Final: true, EndedAt: buf.SavedAt, Recovered: true}
		if err := s.uploads.UploadSnapshot(ctx, owner, buf.State, opts); err != nil {
			s.logger.Warn("Recovery upload failed, left in retry queue", zap.Error(err))
		}
	}
	if err := s.buffers.Delete(); err != nil {
		return nil, err
	}
	return nil, nil
}

// Discard deletes the snapshot
func (s *SessionBufferService) Discard() {
	if err := s.buffers.Delete(); err != nil {
		s.logger.Warn("Failed to delete session snapshot", zap.Error(err))
	}
}
