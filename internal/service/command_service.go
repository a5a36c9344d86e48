package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"Mansoor88-6/activity-agent/internal/clock"
	"Mansoor88-6/activity-agent/internal/config"
	"Mansoor88-6/activity-agent/internal/models"
	"Mansoor88-6/activity-agent/internal/scheduler"

	"go.uber.org/zap"
)

// CommandTransport is the connection to the collector's command channel
type CommandTransport interface {
	Run(ctx context.Context, handle func(models.Envelope))
	Send(event string, payload any) error
}

// Agent is what remote commands act on
type Agent interface {
	Identity() models.Identity
	StartSession(seed *models.TrackingState) error
	StopSession(ctx context.Context) error
	Deactivate(ctx context.Context) error
	ApplySettings(s config.Settings) error
	StartBreak(d time.Duration, forced bool) (*models.ActiveBreak, error)
	StopBreak() bool
	CaptureScreenshot() error
	Status() models.StatusReport
}

// CommandService applies inbound commands and pushes the live status
type CommandService struct {
	transport      CommandTransport
	agent          Agent
	notifier       Notifier
	clock          clock.Clock
	statusInterval time.Duration
	opTimeout      time.Duration
	logger         *zap.Logger

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewCommandService(
	transport CommandTransport,
	agent Agent,
	notifier Notifier,
	clk clock.Clock,
	statusInterval, opTimeout time.Duration,
	logger *zap.Logger,
) *CommandService {
	return &CommandService{
		transport:      transport,
		agent:          agent,
		notifier:       notifier,
		clock:          clk,
		statusInterval: statusInterval,
		opTimeout:      opTimeout,
		logger:         logger,
	}
}

// Start connects the channel and begins the status push
func (cs *CommandService) Start() {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	if cs.running {
		return
	}
	// The channel identifies itself by user id; without one there is nobody
	// to receive commands for.
	if cs.agent.Identity().UserID == "" {
		cs.logger.Warn("No user identity, command channel not started")
		return
	}
	cs.running = true
	ctx, cancel := context.WithCancel(context.Background())
	cs.cancel = cancel
	cs.stopChan = make(chan struct{})
	stop := cs.stopChan
	ticker := cs.clock.NewTicker(cs.statusInterval)

	cs.wg.Add(2)
	go func() {
		defer cs.wg.Done()
		cs.transport.Run(ctx, cs.Handle)
	}()
	go func() {
		defer cs.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				cs.PushStatus()
			case <-stop:
				return
			}
		}
	}()
	cs.logger.Info("Command service started", zap.Duration("status_interval", cs.statusInterval))
}

// Stop disconnects the channel
func (cs *CommandService) Stop() {
	cs.mu.Lock()
	if !cs.running {
		cs.mu.Unlock()
		return
	}
	cs.running = false
	close(cs.stopChan)
	cs.cancel()
	cs.mu.Unlock()

	cs.wg.Wait()
	cs.logger.Info("Command service stopped")
}

// PushStatus relays the live status to the admin. Nothing is sent while
// there is no identity; a down channel skips the push.
func (cs *CommandService) PushStatus() {
	status := cs.agent.Status()
	if status.UserID == "" {
		return
	}
	err := cs.relay(models.RelayEmployeeStatus, status)
	if err != nil && !errors.Is(err, errNotSent) {
		cs.logger.Debug("Status push failed", zap.Error(err))
	}
}

// RequestBreak asks the admin for a break of the given length
func (cs *CommandService) RequestBreak(minutes int) error {
	if minutes <= 0 {
		return scheduler.ErrInvalidDuration
	}
	id := cs.agent.Identity()
	if id.UserID == "" {
		return ErrNoIdentity
	}
	return cs.relay(models.RelayBreakRequest, models.BreakRequestPayload{
		Minutes:  minutes,
		UserName: id.UserName,
	})
}

var errNotSent = errors.New("no identity to relay for")

func (cs *CommandService) relay(event string, payload any) error {
	id := cs.agent.Identity()
	if id.UserID == "" {
		return errNotSent
	}
	return cs.transport.Send(models.EventRelayMessage, models.RelayMessage{
		Target:  models.RelayTargetAdmin,
		Event:   event,
		Payload: payload,
		UserID:  id.UserID,
	})
}

// Handle applies one inbound command. Commands naming another user are
// ignored; failures are logged and never retried.
func (cs *CommandService) Handle(env models.Envelope) {
	if err := cs.dispatch(env); err != nil {
		cs.logger.Warn("Command failed", zap.String("event", env.Event), zap.Error(err))
	}
}

func (cs *CommandService) dispatch(env models.Envelope) error {
	switch env.Event {
	case models.EventTakeScreenshot:
		return cs.agent.CaptureScreenshot()

	case models.EventBreakApproved:
		var p models.BreakApprovedPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		_, err := cs.agent.StartBreak(time.Duration(p.Duration)*time.Minute, true)
		return err

	case models.EventBreakRejected:
		var p models.BreakRejectedPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		cs.notifier.BreakRejected(p.Reason)
		return nil

	case models.EventRemoteBreakStart:
		var p models.RemoteBreakPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		if !cs.forMe(p.UserID) {
			return nil
		}
		_, err := cs.agent.StartBreak(time.Duration(p.Duration)*time.Minute, true)
		return err

	case models.EventRemoteBreakStop:
		var p models.UserPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		if cs.forMe(p.UserID) {
			cs.agent.StopBreak()
		}
		return nil

	case models.EventRemoteClockIn:
		var p models.UserPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		if !cs.forMe(p.UserID) {
			return nil
		}
		return cs.agent.StartSession(nil)

	case models.EventRemoteClockOut:
		var p models.UserPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		if !cs.forMe(p.UserID) {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), cs.opTimeout)
		defer cancel()
		return cs.agent.StopSession(ctx)

	case models.EventSettingsUpdated:
		var s config.Settings
		if err := decode(env, &s); err != nil {
			return err
		}
		return cs.agent.ApplySettings(s)

	case models.EventUserStatusChanged:
		var p models.UserStatusPayload
		if err := decode(env, &p); err != nil {
			return err
		}
		if !cs.forMe(p.UserID) || p.IsActive {
			return nil
		}
		ctx, cancel := context.WithTimeout(context.Background(), cs.opTimeout)
		defer cancel()
		if err := cs.agent.Deactivate(ctx); err != nil {
			return err
		}
		// Handle runs on the channel's read loop, which Stop waits for.
		go cs.Stop()
		return nil

	default:
		cs.logger.Debug("Ignoring unknown command", zap.String("event", env.Event))
		return nil
	}
}

// forMe reports whether a command addressed to userID applies here. An
// empty userID addresses whoever is connected.
func (cs *CommandService) forMe(userID string) bool {
	if userID == "" {
		return true
	}
	return userID == cs.agent.Identity().UserID
}

func decode(env models.Envelope, v any) error {
	if len(env.Payload) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Payload, v); err != nil {
		return fmt.Errorf("failed to decode %s payload: %w", env.Event, err)
	}
	return nil
}
