package service

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"Mansoor88-6/activity-agent/internal/client"
	"Mansoor88-6/activity-agent/internal/clock"
	"Mansoor88-6/activity-agent/internal/database"
	"Mansoor88-6/activity-agent/internal/models"
	"Mansoor88-6/activity-agent/internal/queue"
	"Mansoor88-6/activity-agent/internal/repository"
	"Mansoor88-6/activity-agent/internal/tracker"

	"go.uber.org/zap/zaptest"
)

var start = time.Date(2026, 5, 11, 9, 0, 0, 0, time.Local)

var ada = models.Identity{UserID: "u-1", UserName: "Ada"}

// fakeUploader fails the first fail calls with a network error
type fakeUploader struct {
	mu        sync.Mutex
	fail      int
	calls     []models.SessionUpload
	delivered []models.SessionUpload
	// during runs inside the call, before the result is returned
	during func()
}

func (f *fakeUploader) UploadSession(_ context.Context, payload models.SessionUpload) (*models.UploadResponse, error) {
	if f.during != nil {
		during := f.during
		f.during = nil
		during()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, payload)
	if f.fail > 0 {
		f.fail--
		return nil, &client.NetworkError{Err: errors.New("connection refused")}
	}
	f.delivered = append(f.delivered, payload)
	return &models.UploadResponse{Success: true}, nil
}

func (f *fakeUploader) counts() (calls, delivered int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls), len(f.delivered)
}

type uploadRig struct {
	clock    *clock.FakeClock
	db       *database.DB
	session  *tracker.Session
	queue    *queue.UploadQueue
	buffers  *repository.SessionBufferRepository
	identity *IdentityStore
	uploader *fakeUploader
	uploads  *UploadService
}

func newUploadRig(t *testing.T) *uploadRig {
	t.Helper()
	logger := zaptest.NewLogger(t)
	db, err := database.New(filepath.Join(t.TempDir(), "agent.db"), logger)
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	fc := clock.Fake(start)
	r := &uploadRig{
		clock:    fc,
		db:       db,
		session:  tracker.NewSession(start),
		queue:    queue.NewUploadQueue(db.DB, fc, logger),
		buffers:  repository.NewSessionBufferRepository(db.DB),
		identity: NewIdentityStore(repository.NewStateRepository(db.DB), ada, logger),
		uploader: &fakeUploader{},
	}
	r.uploads = NewUploadService(r.uploader, r.queue, r.session, r.buffers, r.identity, fc, 5*time.Minute, logger)
	return r
}

func workedState(d time.Duration) models.TrackingState {
	st := models.NewTrackingState(start)
	st.WorkingTime = d
	return st
}

func TestFailedUploadsAreDeliveredExactlyOnce(t *testing.T) {
	r := newUploadRig(t)
	r.uploader.fail = 3
	ctx := context.Background()

	if err := r.uploads.UploadSnapshot(ctx, ada, workedState(10*time.Minute), UploadOptions{}); err == nil {
		t.Fatal("first upload should fail")
	}
	for i := 0; i < 2; i++ {
		if n, err := r.uploads.ProcessQueue(ctx); err != nil || n != 0 {
			t.Fatalf("retry %d delivered %d, err %v", i, n, err)
		}
	}

	items, err := r.queue.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || items[0].Attempts != 2 {
		t.Fatalf("queue = %+v, want one item with 2 attempts", items)
	}

	if n, err := r.uploads.ProcessQueue(ctx); err != nil || n != 1 {
		t.Fatalf("final retry delivered %d, err %v", n, err)
	}
	if n, err := r.uploads.ProcessQueue(ctx); err != nil || n != 0 {
		t.Fatalf("empty queue delivered %d, err %v", n, err)
	}

	calls, delivered := r.uploader.counts()
	if calls != 4 || delivered != 1 {
		t.Fatalf("calls = %d, delivered = %d, want 4 and 1", calls, delivered)
	}
	if pending, _ := r.queue.PendingCount(); pending != 0 {
		t.Fatalf("queue not empty: %d", pending)
	}
}

func TestSuccessfulUploadFlushesQueue(t *testing.T) {
	r := newUploadRig(t)
	r.uploader.fail = 1
	ctx := context.Background()

	other := models.Identity{UserID: "u-2", UserName: "Grace"}
	if err := r.uploads.UploadSnapshot(ctx, other, workedState(time.Minute), UploadOptions{}); err == nil {
		t.Fatal("expected failure")
	}
	if err := r.uploads.UploadSnapshot(ctx, ada, workedState(2*time.Minute), UploadOptions{}); err != nil {
		t.Fatal(err)
	}

	_, delivered := r.uploader.counts()
	if delivered != 2 {
		t.Fatalf("delivered = %d, want live upload plus flushed item", delivered)
	}
	if pending, _ := r.queue.PendingCount(); pending != 0 {
		t.Fatalf("queue not flushed: %d", pending)
	}
}

func TestSuccessfulUploadDropsOlderCaptureOfSameSession(t *testing.T) {
	r := newUploadRig(t)
	r.uploader.fail = 1
	ctx := context.Background()

	if err := r.uploads.UploadSnapshot(ctx, ada, workedState(5*time.Minute), UploadOptions{}); err == nil {
		t.Fatal("expected failure")
	}
	r.clock.Advance(5 * time.Minute)
	if err := r.uploads.UploadSnapshot(ctx, ada, workedState(10*time.Minute), UploadOptions{}); err != nil {
		t.Fatal(err)
	}

	calls, delivered := r.uploader.counts()
	if calls != 2 || delivered != 1 {
		t.Fatalf("calls = %d, delivered = %d; the superseded capture must not be resent", calls, delivered)
	}
	if pending, _ := r.queue.PendingCount(); pending != 0 {
		t.Fatalf("queue = %d, want 0", pending)
	}
}

func TestBuildPayload(t *testing.T) {
	r := newUploadRig(t)

	st := models.NewTrackingState(start)
	st.WorkingTime = 90*time.Second + 700*time.Millisecond
	st.IdleTime = 30 * time.Second
	st.AppUsage["zed"] = models.AppUsage{Duration: 20 * time.Second, LastActive: start.Add(time.Minute)}
	st.AppUsage["code"] = models.AppUsage{Duration: 70 * time.Second, LastActive: start.Add(2 * time.Minute)}
	st.Screenshots = []models.Screenshot{{Timestamp: start.Add(time.Minute), Data: "aGk="}}
	st.TotalScreenshotCount = 3

	r.clock.Advance(2 * time.Minute)
	p := r.uploads.BuildPayload(ada, st, UploadOptions{Final: true, Screenshots: true})

	if p.UploadID == "" {
		t.Fatal("missing upload id")
	}
	if p.WorkingTime != 90 || p.IdleTime != 30 {
		t.Fatalf("times = %d/%d, want 90/30 seconds", p.WorkingTime, p.IdleTime)
	}
	if p.SessionStart != start.UnixMilli() || p.Date != "2026-05-11" {
		t.Fatalf("start = %d, date = %s", p.SessionStart, p.Date)
	}
	if p.SessionEnd == nil || *p.SessionEnd != start.Add(2*time.Minute).UnixMilli() {
		t.Fatalf("session end = %v", p.SessionEnd)
	}
	if len(p.Applications) != 2 || p.Applications[0].Name != "code" || p.Applications[0].Duration != 70 {
		t.Fatalf("applications = %+v", p.Applications)
	}
	if p.ScreenshotCount != 1 || p.TotalScreenshotCount != 3 {
		t.Fatalf("screenshots = %d/%d", p.ScreenshotCount, p.TotalScreenshotCount)
	}

	again := r.uploads.BuildPayload(ada, st, UploadOptions{})
	if again.UploadID == p.UploadID {
		t.Fatal("upload ids must be unique")
	}
	if again.SessionEnd != nil || again.Screenshots != nil {
		t.Fatalf("periodic payload = %+v", again)
	}
}

func TestRunCycleClearsDeliveredScreenshots(t *testing.T) {
	r := newUploadRig(t)
	seed := workedState(5 * time.Minute)
	r.session.Begin(start, &seed)
	r.session.AddScreenshot(models.Screenshot{Path: "a.png", Timestamp: start, Data: "YQ=="})

	if err := r.buffers.Save(models.SessionBuffer{UserID: ada.UserID, State: seed, SavedAt: start}); err != nil {
		t.Fatal(err)
	}

	r.uploads.RunCycle(context.Background())

	_, delivered := r.uploader.counts()
	if delivered != 1 {
		t.Fatalf("delivered = %d", delivered)
	}
	if got := r.uploader.delivered[0]; got.WorkingTime != 300 || got.ScreenshotCount != 1 {
		t.Fatalf("payload = %+v", got)
	}
	snap := r.session.Snapshot()
	if len(snap.Screenshots) != 0 || snap.TotalScreenshotCount != 1 {
		t.Fatalf("screenshots = %d, total = %d", len(snap.Screenshots), snap.TotalScreenshotCount)
	}
	if buf, _ := r.buffers.Load(); buf != nil {
		t.Fatal("snapshot should be deleted after a successful upload")
	}
}

func TestRunCycleFailureKeepsScreenshots(t *testing.T) {
	r := newUploadRig(t)
	r.uploader.fail = 1
	seed := workedState(5 * time.Minute)
	r.session.Begin(start, &seed)
	r.session.AddScreenshot(models.Screenshot{Path: "a.png", Timestamp: start, Data: "YQ=="})

	r.uploads.RunCycle(context.Background())

	if snap := r.session.Snapshot(); len(snap.Screenshots) != 1 {
		t.Fatalf("screenshots = %d, want kept until delivered", len(snap.Screenshots))
	}
	items, err := r.queue.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 || len(items[0].Payload.Screenshots) != 0 || items[0].Payload.ScreenshotCount != 0 {
		t.Fatalf("queued = %+v, want one item without screenshots", items)
	}
}

func TestRunCycleSkipsEmptySession(t *testing.T) {
	r := newUploadRig(t)
	r.session.Begin(start, nil)

	r.uploads.RunCycle(context.Background())

	if calls, _ := r.uploader.counts(); calls != 0 {
		t.Fatalf("calls = %d, want none below the floor", calls)
	}
}

func TestQueuedTotalsNeverRegress(t *testing.T) {
	r := newUploadRig(t)
	r.uploader.fail = 2
	ctx := context.Background()

	before := workedState(10 * time.Minute)
	before.IdleTime = 10 * time.Minute
	if err := r.uploads.UploadSnapshot(ctx, ada, before, UploadOptions{}); err == nil {
		t.Fatal("expected failure")
	}

	// Resumed from a snapshot taken before the idle stretch.
	r.clock.Advance(2 * time.Minute)
	resumed := workedState(10*time.Minute + 30*time.Second)
	if err := r.uploads.UploadSnapshot(ctx, ada, resumed, UploadOptions{}); err == nil {
		t.Fatal("expected failure")
	}

	items, err := r.queue.List()
	if err != nil {
		t.Fatal(err)
	}
	if len(items) != 1 {
		t.Fatalf("queued = %d, want 1", len(items))
	}
	if p := items[0].Payload; p.WorkingTime != 630 || p.IdleTime != 600 {
		t.Fatalf("queued working=%ds idle=%ds, want 630/600", p.WorkingTime, p.IdleTime)
	}

	// Delivering the lower live state leaves the higher queued totals in place.
	if err := r.uploads.UploadSnapshot(ctx, ada, resumed, UploadOptions{}); err != nil {
		t.Fatal(err)
	}
	_, delivered := r.uploader.counts()
	if delivered != 2 || r.uploader.delivered[1].IdleTime != 600 {
		t.Fatalf("delivered = %+v, want the merged totals flushed", r.uploader.delivered)
	}
	if pending, _ := r.queue.PendingCount(); pending != 0 {
		t.Fatalf("pending = %d", pending)
	}
}

func TestFinalUploadSkipsScreenshotsConfirmedByCycle(t *testing.T) {
	r := newUploadRig(t)
	seed := workedState(5 * time.Minute)
	r.session.Begin(start, &seed)
	r.session.AddScreenshot(models.Screenshot{Path: "a.png", Timestamp: start, Data: "YQ=="})

	// The session ends while the periodic upload is in flight.
	r.uploader.during = func() { r.session.End() }
	r.uploads.RunCycle(context.Background())

	if err := r.uploads.FinalUpload(context.Background(), ada); err != nil {
		t.Fatal(err)
	}
	_, delivered := r.uploader.counts()
	if delivered != 2 {
		t.Fatalf("delivered = %d, want periodic and final", delivered)
	}
	if r.uploader.delivered[0].ScreenshotCount != 1 {
		t.Fatalf("periodic payload = %+v", r.uploader.delivered[0])
	}
	final := r.uploader.delivered[1]
	if final.SessionEnd == nil || final.ScreenshotCount != 0 || final.TotalScreenshotCount != 1 {
		t.Fatalf("final payload = %+v, want no screenshot resent", final)
	}
}
