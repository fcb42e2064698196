package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/gorm"
)

type fakeRetentionQueue struct {
	lastCutoff time.Time
	calls      int
	deleted    int64
	err        error
}

func (f *fakeRetentionQueue) DeleteCompletedBefore(_ *gorm.DB, cutoff time.Time) (int64, error) {
	f.calls++
	f.lastCutoff = cutoff
	return f.deleted, f.err
}

func newRetentionJob(t *testing.T, queue *fakeRetentionQueue, retention time.Duration) *retentionJob {
	t.Helper()
	jobIface, err := NewRetentionJob(RetentionJobParams{
		Logger:    testLogger(),
		DB:        reconcileTxRunner{},
		Queue:     queue,
		Retention: retention,
	})
	if err != nil {
		t.Fatalf("NewRetentionJob: %v", err)
	}
	job, ok := jobIface.(*retentionJob)
	if !ok {
		t.Fatalf("expected retentionJob, got %T", jobIface)
	}
	return job
}

func TestRetentionJobPrunesBeforeCutoff(t *testing.T) {
	queue := &fakeRetentionQueue{deleted: 7}
	job := newRetentionJob(t, queue, 24*time.Hour)
	frozen := time.Date(2026, 3, 14, 9, 0, 0, 0, time.UTC)
	job.now = func() time.Time { return frozen }

	if err := job.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if queue.calls != 1 {
		t.Fatalf("expected one delete call, got %d", queue.calls)
	}
	if want := frozen.Add(-24 * time.Hour); !queue.lastCutoff.Equal(want) {
		t.Fatalf("expected cutoff %s, got %s", want, queue.lastCutoff)
	}
}

func TestRetentionJobDefaultsWindow(t *testing.T) {
	queue := &fakeRetentionQueue{}
	job := newRetentionJob(t, queue, 0)
	if job.retention != defaultRetention {
		t.Fatalf("expected default retention, got %s", job.retention)
	}
}

func TestRetentionJobPropagatesError(t *testing.T) {
	queue := &fakeRetentionQueue{err: errors.New("locked")}
	job := newRetentionJob(t, queue, time.Hour)

	if err := job.Run(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}
