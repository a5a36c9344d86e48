package service

import (
	"context"
	"sort"
	"sync"
	"time"

	"Mansoor88-6/activity-agent/internal/client"
	"Mansoor88-6/activity-agent/internal/clock"
	"Mansoor88-6/activity-agent/internal/metrics"
	"Mansoor88-6/activity-agent/internal/models"
	"Mansoor88-6/activity-agent/internal/queue"
	"Mansoor88-6/activity-agent/internal/repository"
	"Mansoor88-6/activity-agent/internal/tracker"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// minUploadTime is the tracked time below which a periodic upload carries no signal
const minUploadTime = time.Second

// Uploader delivers one session payload to the collector
type Uploader interface {
	UploadSession(ctx context.Context, payload models.SessionUpload) (*models.UploadResponse, error)
}

// UploadOptions shape a payload
type UploadOptions struct {
	// Final sets sessionEnd to EndedAt, or to now when EndedAt is zero
	Final     bool
	EndedAt   time.Time
	Recovered bool
	// Screenshots attaches the pending screenshots of the state
	Screenshots bool
}

// UploadService pushes cumulative session snapshots to the collector. A
// failed delivery lands in the durable queue and is retried on every cycle
// without limit.
type UploadService struct {
	uploader Uploader
	queue    *queue.UploadQueue
	session  *tracker.Session
	buffers  *repository.SessionBufferRepository
	identity *IdentityStore
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger

	// processMu makes sure no queued item is in flight twice
	processMu sync.Mutex
	// cycleMu orders periodic and final uploads of the live session
	cycleMu sync.Mutex

	mu       sync.Mutex
	running  bool
	cancel   context.CancelFunc
	stopChan chan struct{}
	wg       sync.WaitGroup
}

func NewUploadService(
	uploader Uploader,
	q *queue.UploadQueue,
	session *tracker.Session,
	buffers *repository.SessionBufferRepository,
	identity *IdentityStore,
	clk clock.Clock,
	interval time.Duration,
	logger *zap.Logger,
) *UploadService {
	return &UploadService{
		uploader: uploader,
		queue:    q,
		session:  session,
		buffers:  buffers,
		identity: identity,
		clock:    clk,
		interval: interval,
		logger:   logger,
	}
}

// BuildPayload converts a tracking state into the upload body. Times are
// cumulative seconds for the whole session.
func (us *UploadService) BuildPayload(id models.Identity, state models.TrackingState, opts UploadOptions) models.SessionUpload {
	now := us.clock.Now()

	apps := make([]models.ApplicationUsage, 0, len(state.AppUsage))
	for name, usage := range state.AppUsage {
		apps = append(apps, models.ApplicationUsage{
			Name:       name,
			Duration:   int64(usage.Duration / time.Second),
			LastActive: usage.LastActive.UnixMilli(),
		})
	}
	sort.Slice(apps, func(i, j int) bool { return apps[i].Name < apps[j].Name })

	payload := models.SessionUpload{
		UploadID:             uuid.NewString(),
		UserID:               id.UserID,
		UserName:             id.UserName,
		WorkingTime:          int64(state.WorkingTime / time.Second),
		IdleTime:             int64(state.IdleTime / time.Second),
		SessionStart:         state.SessionStart.UnixMilli(),
		Date:                 models.DateKey(state.SessionStart),
		TotalScreenshotCount: state.TotalScreenshotCount,
		ActivityMetrics:      state.ActivityMetrics,
		Applications:         apps,
		Recovered:            opts.Recovered,
		CapturedAt:           now.UnixMilli(),
	}
	if opts.Final {
		end := opts.EndedAt
		if end.IsZero() {
			end = now
		}
		ms := end.UnixMilli()
		payload.SessionEnd = &ms
	}
	if opts.Screenshots {
		for _, shot := range state.Screenshots {
			payload.Screenshots = append(payload.Screenshots, models.UploadedScreenshot{
				Timestamp: shot.Timestamp.UnixMilli(),
				Data:      shot.Data,
			})
		}
		payload.ScreenshotCount = len(payload.Screenshots)
	}
	return payload
}

// UploadSnapshot delivers one payload. On failure the payload is queued and
// the upload error returned; on success the queue is flushed as well.
func (us *UploadService) UploadSnapshot(ctx context.Context, id models.Identity, state models.TrackingState, opts UploadOptions) error {
	payload := us.BuildPayload(id, state, opts)

	_, err := us.uploader.UploadSession(ctx, payload)
	metrics.Uploads.WithLabelValues(client.ResultLabel(err)).Inc()
	if err != nil {
		us.logger.Warn("Upload failed, queueing for retry",
			zap.String("upload_id", payload.UploadID),
			zap.String("result", client.ResultLabel(err)),
			zap.Error(err),
		)
		// Screenshots stay in the live session until a live upload confirms them.
		queued := payload
		queued.Screenshots = nil
		queued.ScreenshotCount = 0
		if qErr := us.queue.Enqueue(queued); qErr != nil {
			us.logger.Error("Failed to queue upload", zap.Error(qErr))
		}
		return err
	}

	if _, err := us.queue.RemoveCovered(payload); err != nil {
		us.logger.Warn("Failed to drop delivered uploads", zap.Error(err))
	}
	if _, err := us.ProcessQueue(ctx); err != nil {
		us.logger.Warn("Queue flush failed", zap.Error(err))
	}
	return nil
}

// ProcessQueue retries every queued payload once. Delivered items are removed
// along with any queued capture they cover; failed ones keep waiting with
// their attempt count raised.
func (us *UploadService) ProcessQueue(ctx context.Context) (int, error) {
	us.processMu.Lock()
	defer us.processMu.Unlock()

	items, err := us.queue.List()
	if err != nil {
		return 0, err
	}
	if len(items) == 0 {
		return 0, nil
	}

	delivered := 0
	for _, item := range items {
		if ctx.Err() != nil {
			break
		}
		_, err := us.uploader.UploadSession(ctx, item.Payload)
		metrics.Uploads.WithLabelValues(client.ResultLabel(err)).Inc()
		if err != nil {
			if incErr := us.queue.IncrementAttempts(item.ID); incErr != nil {
				us.logger.Error("Failed to record attempt", zap.Error(incErr))
			}
			us.logger.Debug("Queued upload still failing",
				zap.Int64("id", item.ID),
				zap.Int("attempts", item.Attempts+1),
				zap.Error(err),
			)
			continue
		}
		if _, err := us.queue.RemoveCovered(item.Payload); err != nil {
			us.logger.Error("Failed to remove delivered upload", zap.Error(err), zap.Int64("id", item.ID))
			continue
		}
		delivered++
	}

	if delivered > 0 {
		us.logger.Info("Queued uploads delivered", zap.Int("count", delivered), zap.Int("queued", len(items)))
	}
	return delivered, nil
}

// QueuedTotals returns what is queued for userID's session started at start, or nil
func (us *UploadService) QueuedTotals(userID string, start time.Time) (*models.SessionUpload, error) {
	return us.queue.Latest(models.SessionKeyFor(userID, start))
}

// Start runs the periodic upload cycle
func (us *UploadService) Start() {
	us.mu.Lock()
	if us.running {
		us.mu.Unlock()
		return
	}
	us.running = true
	ctx, cancel := context.WithCancel(context.Background())
	us.cancel = cancel
	us.stopChan = make(chan struct{})
	ticker := us.clock.NewTicker(us.interval)
	stop := us.stopChan
	us.mu.Unlock()

	us.wg.Add(1)
	go func() {
		defer us.wg.Done()
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				us.RunCycle(ctx)
			case <-stop:
				return
			}
		}
	}()
	us.logger.Info("Upload loop started", zap.Duration("interval", us.interval))
}

// Stop stops the periodic cycle, aborting an upload in flight
func (us *UploadService) Stop() {
	us.mu.Lock()
	if !us.running {
		us.mu.Unlock()
		return
	}
	us.running = false
	close(us.stopChan)
	us.cancel()
	us.mu.Unlock()

	us.wg.Wait()
	us.logger.Info("Upload loop stopped")
}

// RunCycle flushes the queue, then uploads the live session if it has
// tracked any time.
func (us *UploadService) RunCycle(ctx context.Context) {
	us.cycleMu.Lock()
	defer us.cycleMu.Unlock()

	if _, err := us.ProcessQueue(ctx); err != nil {
		us.logger.Warn("Queue flush failed", zap.Error(err))
	}

	if !us.session.Active() {
		return
	}
	id := us.identity.Get()
	if id.UserID == "" {
		return
	}
	snap := us.session.Snapshot()
	if snap.TrackedTime() <= minUploadTime {
		return
	}

	if err := us.UploadSnapshot(ctx, id, snap, UploadOptions{Screenshots: true}); err != nil {
		return
	}
	us.session.ClearScreenshots(len(snap.Screenshots))
	if err := us.buffers.Delete(); err != nil {
		us.logger.Warn("Failed to delete session snapshot", zap.Error(err))
	}
}

// FinalUpload sends the closing state of an ended session. The state is read
// only once any periodic upload in flight has finished, so screenshots that
// upload confirmed are not sent again. A failure leaves the payload in the
// queue for the next run.
func (us *UploadService) FinalUpload(ctx context.Context, id models.Identity) error {
	us.cycleMu.Lock()
	defer us.cycleMu.Unlock()

	state := us.session.Snapshot()

	if id.UserID == "" || state.TrackedTime() <= 0 {
		return nil
	}
	if err := us.UploadSnapshot(ctx, id, state, UploadOptions{Final: true, Screenshots: true}); err != nil {
		return err
	}
	if err := us.buffers.Delete(); err != nil {
		us.logger.Warn("Failed to delete session snapshot", zap.Error(err))
	}
	return nil
}
