// Package syncer pushes unsynced generation records to the NexusAI cloud.
// The coordinator runs a delayed first pass and then periodic passes; each
// pass uploads records one at a time in creation order and aborts on the
// first failure, so an unreachable backend costs one failed request per
// pass rather than one per record.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/nexusai/nexusd/internal/cloud"
	"github.com/nexusai/nexusd/internal/storage"
)

const (
	defaultInitialDelay = 3 * time.Second
	defaultInterval     = 5 * time.Minute
)

// ErrSyncInProgress is returned when a pass is requested while another is
// still running. The request is dropped, never queued.
var ErrSyncInProgress = errors.New("sync already in progress")

// RecordSource is the slice of the record store the coordinator reads and
// marks. Only the three sync bookkeeping fields are ever mutated through it.
type RecordSource interface {
	GetUnsynced() ([]storage.GenerationRecord, error)
	MarkSynced(id string) error
	MarkSyncFailed(id string) error
}

// Pusher uploads one record to the cloud. Implementations bound each call
// themselves; the coordinator hands them a detached context.
type Pusher interface {
	PushGeneration(ctx context.Context, payload cloud.SyncPayload) error
}

// Status is a point-in-time snapshot of the coordinator.
type Status struct {
	Active      bool       `json:"active"`
	Syncing     bool       `json:"syncing"`
	Pending     int        `json:"pending"`
	TotalPushed int64      `json:"totalPushed"`
	TotalFailed int64      `json:"totalFailed"`
	LastPassAt  *time.Time `json:"lastPassAt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
}

// Coordinator schedules and runs sync passes.
type Coordinator struct {
	source RecordSource
	pusher Pusher

	initialDelay time.Duration
	interval     time.Duration
	logger       *slog.Logger

	passMu sync.Mutex // held for the duration of one pass

	mu          sync.Mutex // guards the fields below
	active      bool
	syncing     bool
	pending     int
	totalPushed int64
	totalFailed int64
	lastPassAt  time.Time
	lastError   error
}

// New creates a coordinator. Non-positive durations fall back to the
// defaults (3s initial delay, 5m interval).
func New(source RecordSource, pusher Pusher, initialDelay, interval time.Duration) *Coordinator {
	if initialDelay <= 0 {
		initialDelay = defaultInitialDelay
	}
	if interval <= 0 {
		interval = defaultInterval
	}
	return &Coordinator{
		source:       source,
		pusher:       pusher,
		initialDelay: initialDelay,
		interval:     interval,
		logger:       slog.Default(),
	}
}

// Run drives the sync loop until ctx is cancelled: one pass after the
// initial delay, then one per interval. Cancellation stops scheduling
// further work; an upload already handed to the pusher finishes on its own.
func (c *Coordinator) Run(ctx context.Context) {
	c.setActive(true)
	defer c.setActive(false)

	select {
	case <-ctx.Done():
		return
	case <-time.After(c.initialDelay):
	}

	for {
		if ctx.Err() != nil {
			return
		}

		if _, err := c.RunPass(ctx); err != nil && !errors.Is(err, ErrSyncInProgress) {
			c.logger.Warn("sync pass failed", "error", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.interval):
		}
	}
}

// RunPass runs one sync pass now and reports how many records were pushed.
// If a pass is already running the request returns ErrSyncInProgress;
// manual triggers never queue behind the scheduler.
func (c *Coordinator) RunPass(ctx context.Context) (int, error) {
	if !c.passMu.TryLock() {
		return 0, ErrSyncInProgress
	}
	defer c.passMu.Unlock()

	start := time.Now()
	c.setSyncing(true)
	defer c.setSyncing(false)

	pushed, failed, pending, err := c.pass(ctx)
	c.recordPass(pushed, failed, pending, err)

	syncPassDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		syncPassesTotal.WithLabelValues("error").Inc()
	} else {
		syncPassesTotal.WithLabelValues("ok").Inc()
	}
	return pushed, err
}

// Status reports a snapshot of the coordinator's state.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		Active:      c.active,
		Syncing:     c.syncing,
		Pending:     c.pending,
		TotalPushed: c.totalPushed,
		TotalFailed: c.totalFailed,
	}
	if !c.lastPassAt.IsZero() {
		at := c.lastPassAt
		st.LastPassAt = &at
	}
	if c.lastError != nil {
		st.LastError = c.lastError.Error()
	}
	return st
}

func (c *Coordinator) pass(ctx context.Context) (pushed, failed, pending int, err error) {
	records, err := c.source.GetUnsynced()
	if err != nil {
		return 0, 0, 0, fmt.Errorf("listing unsynced records: %w", err)
	}
	syncBacklog.Set(float64(len(records)))
	if len(records) == 0 {
		return 0, 0, 0, nil
	}

	c.logger.Debug("sync pass starting", "backlog", len(records))

	for i, rec := range records {
		if ctx.Err() != nil {
			return pushed, 0, len(records) - i, ctx.Err()
		}

		if pushErr := c.pushOne(rec); pushErr != nil {
			syncPushesTotal.WithLabelValues("failed").Inc()
			if markErr := c.source.MarkSyncFailed(rec.ID); markErr != nil {
				c.logger.Warn("recording push failure", "id", rec.ID, "error", markErr)
			}
			return pushed, 1, len(records) - i, fmt.Errorf("pushing record %s: %w", rec.ID, pushErr)
		}
		syncPushesTotal.WithLabelValues("ok").Inc()
		if markErr := c.source.MarkSynced(rec.ID); markErr != nil {
			// The remote end is idempotent by id, so a re-push after a
			// missed mark is harmless.
			c.logger.Warn("recording push success", "id", rec.ID, "error", markErr)
		}
		pushed++
	}
	return pushed, 0, 0, nil
}

// pushOne uploads a single record on a context detached from the run loop,
// so cancelling the coordinator never aborts an upload already on the wire.
func (c *Coordinator) pushOne(rec storage.GenerationRecord) error {
	return c.pusher.PushGeneration(context.Background(), cloud.NewSyncPayload(rec))
}

func (c *Coordinator) recordPass(pushed, failed, pending int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.totalPushed += int64(pushed)
	c.totalFailed += int64(failed)
	c.pending = pending
	c.lastPassAt = time.Now().UTC()
	c.lastError = err
}

func (c *Coordinator) setActive(v bool) {
	c.mu.Lock()
	c.active = v
	c.mu.Unlock()
}

func (c *Coordinator) setSyncing(v bool) {
	c.mu.Lock()
	c.syncing = v
	c.mu.Unlock()
}
