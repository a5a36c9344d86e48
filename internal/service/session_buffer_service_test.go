package service

import (
	"context"
	"testing"
	"time"

	"Mansoor88-6/activity-agent/internal/models"

	"go.uber.org/zap/zaptest"
)

func newBufferService(t *testing.T, r *uploadRig) *SessionBufferService {
	t.Helper()
	return NewSessionBufferService(r.buffers, r.session, r.identity, r.uploads, r.clock, 15*time.Second, 2*time.Hour, zaptest.NewLogger(t))
}

func saveSnapshot(t *testing.T, r *uploadRig, owner models.Identity, worked time.Duration) {
	t.Helper()
	st := workedState(worked)
	st.ActivityMetrics.KeyPresses = 120
	err := r.buffers.Save(models.SessionBuffer{
		UserID:         owner.UserID,
		UserName:       owner.UserName,
		State:          st,
		TrackingActive: true,
		SavedAt:        r.clock.Now(),
	})
	if err != nil {
		t.Fatal(err)
	}
}

func TestRecoverFreshSnapshotResumes(t *testing.T) {
	r := newUploadRig(t)
	buffer := newBufferService(t, r)
	saveSnapshot(t, r, ada, 42*time.Minute)

	r.clock.Advance(30 * time.Minute)
	buf, err := buffer.Recover(context.Background(), ada)
	if err != nil {
		t.Fatal(err)
	}
	if buf == nil {
		t.Fatal("snapshot should be resumable")
	}
	if buf.State.WorkingTime != 42*time.Minute || buf.State.ActivityMetrics.KeyPresses != 120 {
		t.Fatalf("recovered state = %+v", buf.State)
	}
	if calls, _ := r.uploader.counts(); calls != 0 {
		t.Fatalf("calls = %d, want no recovery upload", calls)
	}

	r.session.Begin(r.clock.Now(), &buf.State)
	if got := r.session.Snapshot(); got.WorkingTime != 42*time.Minute || !got.SessionStart.Equal(start) {
		t.Fatalf("seeded session = %+v", got)
	}
}

func TestRecoverStaleSnapshotUploadsAndDiscards(t *testing.T) {
	r := newUploadRig(t)
	buffer := newBufferService(t, r)
	saveSnapshot(t, r, ada, 42*time.Minute)
	savedAt := r.clock.Now()

	r.clock.Advance(3 * time.Hour)
	buf, err := buffer.Recover(context.Background(), ada)
	if err != nil || buf != nil {
		t.Fatalf("Recover = %+v, %v; want discarded", buf, err)
	}

	_, delivered := r.uploader.counts()
	if delivered != 1 {
		t.Fatalf("delivered = %d, want one recovery upload", delivered)
	}
	p := r.uploader.delivered[0]
	if !p.Recovered || p.WorkingTime != 42*60 {
		t.Fatalf("recovery payload = %+v", p)
	}
	if p.SessionEnd == nil || *p.SessionEnd != savedAt.UnixMilli() {
		t.Fatalf("session end = %v, want the snapshot time", p.SessionEnd)
	}
	if left, _ := r.buffers.Load(); left != nil {
		t.Fatal("stale snapshot must be deleted")
	}
}

func TestRecoverDeletesEvenWhenUploadFails(t *testing.T) {
	r := newUploadRig(t)
	r.uploader.fail = 1
	buffer := newBufferService(t, r)
	saveSnapshot(t, r, ada, time.Hour)

	r.clock.Advance(3 * time.Hour)
	if _, err := buffer.Recover(context.Background(), ada); err != nil {
		t.Fatal(err)
	}
	if left, _ := r.buffers.Load(); left != nil {
		t.Fatal("snapshot must be deleted regardless of upload outcome")
	}
	if pending, _ := r.queue.PendingCount(); pending != 1 {
		t.Fatalf("queue = %d, want the recovery payload queued", pending)
	}
}

func TestRecoverOtherUsersSnapshot(t *testing.T) {
	r := newUploadRig(t)
	buffer := newBufferService(t, r)
	grace := models.Identity{UserID: "u-2", UserName: "Grace"}
	saveSnapshot(t, r, grace, 10*time.Minute)

	r.clock.Advance(time.Minute)
	buf, err := buffer.Recover(context.Background(), ada)
	if err != nil || buf != nil {
		t.Fatalf("Recover = %+v, %v", buf, err)
	}
	if _, delivered := r.uploader.counts(); delivered != 1 || r.uploader.delivered[0].UserID != "u-2" {
		t.Fatalf("delivered = %+v, want upload under the owner", r.uploader.delivered)
	}
}

func TestRecoverWithoutSnapshot(t *testing.T) {
	r := newUploadRig(t)
	buffer := newBufferService(t, r)

	buf, err := buffer.Recover(context.Background(), ada)
	if err != nil || buf != nil {
		t.Fatalf("Recover = %+v, %v", buf, err)
	}
}

func TestHeartbeatSkipsIdleAndStopped(t *testing.T) {
	r := newUploadRig(t)
	buffer := newBufferService(t, r)

	buffer.Heartbeat()
	if buf, _ := r.buffers.Load(); buf != nil {
		t.Fatal("no snapshot while stopped")
	}

	seed := workedState(time.Minute)
	seed.Screenshots = []models.Screenshot{{Path: "a.png", Data: "YQ=="}}
	r.session.Begin(start, &seed)
	r.clock.Advance(15 * time.Second)
	buffer.Heartbeat()

	buf, err := r.buffers.Load()
	if err != nil || buf == nil {
		t.Fatalf("Load = %+v, %v", buf, err)
	}
	if buf.UserID != ada.UserID || !buf.TrackingActive || len(buf.State.Screenshots) != 0 {
		t.Fatalf("snapshot = %+v", buf)
	}
	if !buf.SavedAt.Equal(r.clock.Now()) {
		t.Fatalf("saved at = %s", buf.SavedAt)
	}
}

func TestRecoverRaisesTotalsToQueuedUpload(t *testing.T) {
	r := newUploadRig(t)
	buffer := newBufferService(t, r)
	saveSnapshot(t, r, ada, 42*time.Minute)

	// An upload after the last heartbeat failed and carries more idle time.
	r.uploader.fail = 1
	queued := workedState(40 * time.Minute)
	queued.IdleTime = 15 * time.Minute
	if err := r.uploads.UploadSnapshot(context.Background(), ada, queued, UploadOptions{}); err == nil {
		t.Fatal("expected failure")
	}

	r.clock.Advance(10 * time.Minute)
	buf, err := buffer.Recover(context.Background(), ada)
	if err != nil || buf == nil {
		t.Fatalf("Recover = %+v, %v", buf, err)
	}
	if buf.State.WorkingTime != 42*time.Minute || buf.State.IdleTime != 15*time.Minute {
		t.Fatalf("resumed working=%s idle=%s", buf.State.WorkingTime, buf.State.IdleTime)
	}
	if buf.State.ActivityMetrics.KeyPresses != 120 {
		t.Fatalf("metrics = %+v", buf.State.ActivityMetrics)
	}
}
