// Package processor drains the outbox queue against the remote backend. A
// run is scoped to one authenticated session: claim due events, upload the
// backing records, and settle each outcome through the outbox lifecycle so
// every mutation is delivered at least once.
package processor

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"

	"github.com/lumehealth/lume-sync/internal/records"
	"github.com/lumehealth/lume-sync/internal/session"
	"github.com/lumehealth/lume-sync/internal/uploads"
	"github.com/lumehealth/lume-sync/pkg/config"
	"github.com/lumehealth/lume-sync/pkg/db/models"
	"github.com/lumehealth/lume-sync/pkg/enums"
	pkgerrors "github.com/lumehealth/lume-sync/pkg/errors"
	"github.com/lumehealth/lume-sync/pkg/logger"
	"github.com/lumehealth/lume-sync/pkg/metrics"
)

const (
	defaultPollInterval = 2 * time.Second
	defaultBatchSize    = 10
	defaultWorkers      = 4
	defaultStuckAfter   = 5 * time.Minute

	// uploadTimeout backstops the HTTP client timeout so a detached upload
	// can never outlive the process by much.
	uploadTimeout  = 60 * time.Second
	maxLoopBackoff = 30 * time.Second
	jitterWindow   = 250 * time.Millisecond
)

var jitterSource = rand.New(rand.NewSource(time.Now().UnixNano()))

// errAuthRejected aborts the batch when the backend refuses the token. The
// run pauses until the gate restarts it with fresh credentials.
var errAuthRejected = errors.New("access token rejected by backend")

type dbClient interface {
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type eventQueue interface {
	FetchDue(ctx context.Context, userID string, limit int, now time.Time) ([]models.OutboxEvent, error)
	Claim(ctx context.Context, eventID uuid.UUID, now time.Time) (bool, error)
	ResetStale(ctx context.Context, cutoff time.Time) (int64, error)
	CountByStatus(ctx context.Context, userID string) (map[enums.OutboxEventStatus]int64, error)
}

type eventLifecycle interface {
	RecordSuccess(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error
	RecordFailure(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, attemptErr error) (bool, error)
	MarkOrphaned(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, detail string) error
	MarkUnroutable(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, detail string) error
	Release(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error
}

type handlerResolver interface {
	Resolve(kind enums.MutationKind) (uploads.Handler, bool)
}

type ServiceParams struct {
	Config    *config.Config
	Logger    *logger.Logger
	DB        dbClient
	Queue     eventQueue
	Lifecycle eventLifecycle
	Records   records.Repository
	Handlers  handlerResolver
	Metrics   *metrics.SyncMetrics
}

type Service struct {
	logg      *logger.Logger
	db        dbClient
	queue     eventQueue
	lifecycle eventLifecycle
	records   records.Repository
	handlers  handlerResolver
	metrics   *metrics.SyncMetrics

	pollInterval time.Duration
	batchSize    int
	workers      int
	stuckAfter   time.Duration

	now func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Config == nil {
		return nil, errors.New("config is required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.DB == nil {
		return nil, errors.New("database client is required")
	}
	if params.Queue == nil {
		return nil, errors.New("event queue is required")
	}
	if params.Lifecycle == nil {
		return nil, errors.New("event lifecycle is required")
	}
	if params.Records == nil {
		return nil, errors.New("records repository is required")
	}
	if params.Handlers == nil {
		return nil, errors.New("upload handler registry is required")
	}

	interval := params.Config.Outbox.PollInterval
	if interval <= 0 {
		interval = defaultPollInterval
	}
	batch := params.Config.Outbox.BatchSize
	if batch <= 0 {
		batch = defaultBatchSize
	}
	workers := params.Config.Outbox.Workers
	if workers <= 0 {
		workers = defaultWorkers
	}
	stuckAfter := params.Config.Reconcile.StuckAfter
	if stuckAfter <= 0 {
		stuckAfter = defaultStuckAfter
	}

	return &Service{
		logg:         params.Logger,
		db:           params.DB,
		queue:        params.Queue,
		lifecycle:    params.Lifecycle,
		records:      params.Records,
		handlers:     params.Handlers,
		metrics:      params.Metrics,
		pollInterval: interval,
		batchSize:    batch,
		workers:      workers,
		stuckAfter:   stuckAfter,
		now:          time.Now,
	}, nil
}

// Run drains the queue for the session until the context is canceled or the
// credentials stop working. Implements session.Runner: a nil return means
// the run parked itself and waits for the next login.
func (s *Service) Run(ctx context.Context, sess session.Session) error {
	if ctx == nil {
		ctx = context.Background()
	}

	runCtx := s.logg.WithUserID(ctx, sess.UserID)
	s.logg.Info(runCtx, "sync processor started")

	// Claims abandoned by a previous crash would otherwise sit in
	// processing forever.
	if reset, err := s.queue.ResetStale(ctx, s.now().Add(-s.stuckAfter)); err != nil {
		s.logg.Error(runCtx, "resetting stale claims failed", err)
	} else if reset > 0 {
		s.logg.Warn(s.logg.WithField(runCtx, "reset", reset), "stale claims returned to pending")
	}

	interval := s.pollInterval
	backoff := interval

	for {
		select {
		case <-ctx.Done():
			s.logg.Info(runCtx, "sync processor stopped")
			return ctx.Err()
		default:
		}

		if sess.Expired(s.now()) {
			s.logg.Warn(runCtx, "access token expired, sync paused until next login")
			return nil
		}

		processed, err := s.processBatch(ctx, sess)
		s.refreshQueueDepth(ctx, sess.UserID)
		if err != nil {
			if errors.Is(err, errAuthRejected) {
				s.logg.Warn(runCtx, "access token rejected by backend, sync paused until next login")
				return nil
			}
			if errors.Is(err, context.Canceled) {
				s.logg.Info(runCtx, "sync processor stopped")
				return ctx.Err()
			}
			s.logg.Error(runCtx, "sync batch failed", err)
			backoff = nextBackoff(backoff, interval, maxLoopBackoff)
			if err := s.sleep(ctx, withJitter(backoff)); err != nil {
				return err
			}
			continue
		}

		backoff = interval

		if processed > 0 {
			continue
		}
		if err := s.sleep(ctx, withJitter(interval)); err != nil {
			return err
		}
	}
}

// processBatch claims and uploads one batch of due events. Workers run
// concurrently but each event settles independently, so one poisoned
// payload never blocks the rest of the queue.
func (s *Service) processBatch(ctx context.Context, sess session.Session) (int, error) {
	start := s.now()
	due, err := s.queue.FetchDue(ctx, sess.UserID, s.batchSize, start)
	if err != nil {
		return 0, fmt.Errorf("fetch due events: %w", err)
	}
	if len(due) == 0 {
		return 0, nil
	}

	var processed atomic.Int64
	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(s.workers)

	for _, event := range due {
		group.Go(func() error {
			if groupCtx.Err() != nil {
				return nil
			}
			handled, err := s.processEvent(groupCtx, sess, event)
			if handled {
				processed.Add(1)
			}
			return err
		})
	}

	err = group.Wait()
	s.metrics.ObserveBatchDuration(s.now().Sub(start))
	return int(processed.Load()), err
}

// processEvent carries one claimed event through upload and settlement.
// handled reports whether the event reached a new state this pass; the
// returned error aborts the batch and is reserved for infrastructure
// failures and the auth sentinel, never for a single bad upload.
func (s *Service) processEvent(ctx context.Context, sess session.Session, event models.OutboxEvent) (bool, error) {
	claimed, err := s.queue.Claim(ctx, event.ID, s.now())
	if err != nil {
		return false, fmt.Errorf("claim event %s: %w", event.ID, err)
	}
	if !claimed {
		// Lost the race to a concurrent worker or reconcile pass.
		return false, nil
	}

	logCtx := s.logg.WithFields(ctx, map[string]any{
		"event_id":  event.ID.String(),
		"entity_id": event.EntityID.String(),
		"kind":      event.Kind,
		"attempts":  event.AttemptCount,
	})

	record, err := s.records.FindByID(ctx, event.EntityID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return true, s.parkOrphan(ctx, event)
		}
		if releaseErr := s.releaseEvent(ctx, event); releaseErr != nil {
			return false, releaseErr
		}
		return false, fmt.Errorf("load record %s: %w", event.EntityID, err)
	}

	handler, ok := s.handlers.Resolve(event.Kind)
	if !ok {
		return true, s.parkUnroutable(ctx, event)
	}

	if ctx.Err() != nil {
		// Canceled between claim and upload: hand the claim back untouched.
		return false, s.releaseEvent(ctx, event)
	}

	s.metrics.IncAttempt(string(event.Kind))

	// The upload itself is detached from the run context: once a request is
	// on the wire, canceling the run must not lose its outcome.
	uploadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), uploadTimeout)
	remoteID, uploadErr := handler.Upload(uploadCtx, record, sess.AccessToken)
	cancel()

	resultCtx := context.WithoutCancel(ctx)

	if uploadErr == nil {
		err := s.db.WithTx(resultCtx, func(tx *gorm.DB) error {
			if err := s.lifecycle.RecordSuccess(resultCtx, tx, event); err != nil {
				return err
			}
			return s.records.WithTx(tx).MarkSynced(resultCtx, record.ID, remoteID, s.now())
		})
		if err != nil {
			return false, fmt.Errorf("settle upload success %s: %w", event.ID, err)
		}
		s.metrics.IncSuccess(string(event.Kind))
		s.logg.Info(s.logg.WithField(logCtx, "remote_id", remoteID), "mutation synced")
		return true, nil
	}

	if pkgerrors.IsCode(uploadErr, pkgerrors.CodeAuthExpired) {
		if err := s.releaseEvent(ctx, event); err != nil {
			return false, err
		}
		s.logg.Warn(logCtx, "upload rejected for expired credentials, event released")
		return false, errAuthRejected
	}

	var terminal bool
	err = s.db.WithTx(resultCtx, func(tx *gorm.DB) error {
		var failErr error
		terminal, failErr = s.lifecycle.RecordFailure(resultCtx, tx, event, uploadErr)
		if failErr != nil {
			return failErr
		}
		if terminal {
			return s.records.WithTx(tx).MarkFailed(resultCtx, record.ID, s.now())
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("settle upload failure %s: %w", event.ID, err)
	}
	s.metrics.IncFailure(string(event.Kind), failureReason(uploadErr))
	return true, nil
}

// parkOrphan settles an event whose record is gone. No upload happened, so
// the attempt counter stays put.
func (s *Service) parkOrphan(ctx context.Context, event models.OutboxEvent) error {
	detached := context.WithoutCancel(ctx)
	err := s.db.WithTx(detached, func(tx *gorm.DB) error {
		detail := fmt.Sprintf("local record %s no longer exists", event.EntityID)
		return s.lifecycle.MarkOrphaned(detached, tx, event, detail)
	})
	if err != nil {
		return fmt.Errorf("park orphaned event %s: %w", event.ID, err)
	}
	s.metrics.IncFailure(string(event.Kind), string(enums.FailureReasonOrphanedRecord))
	return nil
}

func (s *Service) parkUnroutable(ctx context.Context, event models.OutboxEvent) error {
	detached := context.WithoutCancel(ctx)
	err := s.db.WithTx(detached, func(tx *gorm.DB) error {
		detail := fmt.Sprintf("no upload handler for kind %s", event.Kind)
		if err := s.lifecycle.MarkUnroutable(detached, tx, event, detail); err != nil {
			return err
		}
		return s.records.WithTx(tx).MarkFailed(detached, event.EntityID, s.now())
	})
	if err != nil {
		return fmt.Errorf("park unroutable event %s: %w", event.ID, err)
	}
	s.metrics.IncFailure(string(event.Kind), string(enums.FailureReasonRejected))
	return nil
}

// releaseEvent returns a claim to the pending pool without burning an
// attempt. Runs detached so shutdown and logout cannot strand the claim.
func (s *Service) releaseEvent(ctx context.Context, event models.OutboxEvent) error {
	detached := context.WithoutCancel(ctx)
	err := s.db.WithTx(detached, func(tx *gorm.DB) error {
		return s.lifecycle.Release(detached, tx, event)
	})
	if err != nil {
		return fmt.Errorf("release event %s: %w", event.ID, err)
	}
	return nil
}

func (s *Service) refreshQueueDepth(ctx context.Context, userID string) {
	if s.metrics == nil {
		return
	}
	counts, err := s.queue.CountByStatus(context.WithoutCancel(ctx), userID)
	if err != nil {
		return
	}
	for _, status := range []enums.OutboxEventStatus{
		enums.OutboxStatusPending,
		enums.OutboxStatusProcessing,
		enums.OutboxStatusCompleted,
		enums.OutboxStatusFailed,
	} {
		s.metrics.SetQueueDepth(string(status), counts[status])
	}
}

func failureReason(err error) string {
	if appErr := pkgerrors.As(err); appErr != nil {
		return string(appErr.Code())
	}
	return string(pkgerrors.CodeInternal)
}

func (s *Service) sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func nextBackoff(current, base, max time.Duration) time.Duration {
	if current <= 0 {
		current = base
	}
	next := current * 2
	if next > max {
		return max
	}
	return next
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	jitter := time.Duration(jitterSource.Int63n(int64(jitterWindow)))
	return d + jitter
}
