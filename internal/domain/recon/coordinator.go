package recon

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// RecomputeFunc re-derives every aggregate for one claim from current
// event-store state. It must be idempotent: the coordinator may call it
// again at any time, including immediately after a completed run.
type RecomputeFunc func(ctx context.Context, claimID uuid.UUID) error

// ActivityResolver maps an activity to its owning claim, for
// activity-grain change notifications.
type ActivityResolver func(ctx context.Context, activityID uuid.UUID) (uuid.UUID, error)

// CoordinatorStats receives coordinator lifecycle observations. All
// methods must be cheap and non-blocking.
type CoordinatorStats interface {
	RecomputeStarted()
	RecomputeFinished(err error)
	Remarked()
	QueueDepth(n int)
}

type claimState int

const (
	stateCurrent claimState = iota
	stateStale
	stateRecomputing
)

// Coordinator drives the per-claim recompute state machine
// CURRENT -> STALE -> RECOMPUTING -> CURRENT. It guarantees at most one
// in-flight recompute per claim: a change notification arriving while a
// claim is recomputing re-marks it dirty, and a fresh recompute runs after
// the in-flight one finishes, instead of racing it. Distinct claims
// recompute in parallel across the worker pool with no shared state.
type Coordinator struct {
	recompute RecomputeFunc
	resolve   ActivityResolver
	workers   int
	log       zerolog.Logger
	stats     CoordinatorStats

	mu      sync.Mutex
	cond    *sync.Cond
	states  map[uuid.UUID]claimState
	dirty   map[uuid.UUID]bool
	queue   []uuid.UUID
	active  int
	stopped bool
}

func NewCoordinator(recompute RecomputeFunc, resolve ActivityResolver, workers int, log zerolog.Logger) *Coordinator {
	if workers < 1 {
		workers = 1
	}
	c := &Coordinator{
		recompute: recompute,
		resolve:   resolve,
		workers:   workers,
		log:       log,
		states:    make(map[uuid.UUID]claimState),
		dirty:     make(map[uuid.UUID]bool),
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// SetStats attaches an optional stats sink.
func (c *Coordinator) SetStats(s CoordinatorStats) { c.stats = s }

// ClaimChanged implements the ledger change-notification hook. It marks
// the claim stale and returns immediately.
func (c *Coordinator) ClaimChanged(claimID uuid.UUID) {
	c.MarkStale(claimID)
}

// ActivityChanged resolves the activity to its owning claim and marks that
// claim stale. Unresolvable activities are logged and dropped; the next
// claim-grain notification will cover them.
func (c *Coordinator) ActivityChanged(activityID uuid.UUID) {
	if c.resolve == nil {
		return
	}
	claimID, err := c.resolve(context.Background(), activityID)
	if err != nil {
		c.log.Warn().Err(err).
			Str("activity_id", activityID.String()).
			Msg("cannot resolve activity to claim for staleness mark")
		return
	}
	c.MarkStale(claimID)
}

// MarkStale transitions a claim to STALE and schedules a recompute. Marks
// on a claim that is already stale collapse; marks on a claim that is
// recomputing set the dirty flag so the claim is re-queued after the
// in-flight run completes.
func (c *Coordinator) MarkStale(claimID uuid.UUID) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.states[claimID] {
	case stateRecomputing:
		c.dirty[claimID] = true
		if c.stats != nil {
			c.stats.Remarked()
		}
	case stateStale:
		// already queued
	default:
		c.states[claimID] = stateStale
		c.queue = append(c.queue, claimID)
		if c.stats != nil {
			c.stats.QueueDepth(len(c.queue))
		}
		c.cond.Signal()
	}
}

// Run starts the worker pool and blocks until ctx is cancelled and all
// workers have drained their in-flight work.
func (c *Coordinator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.work(ctx)
		}()
	}
	<-ctx.Done()
	c.mu.Lock()
	c.stopped = true
	c.cond.Broadcast()
	c.mu.Unlock()
	wg.Wait()
}

func (c *Coordinator) work(ctx context.Context) {
	for {
		c.mu.Lock()
		for len(c.queue) == 0 && !c.stopped {
			c.cond.Wait()
		}
		if c.stopped {
			c.mu.Unlock()
			return
		}
		claimID := c.queue[0]
		c.queue = c.queue[1:]
		c.states[claimID] = stateRecomputing
		c.active++
		if c.stats != nil {
			c.stats.QueueDepth(len(c.queue))
		}
		c.mu.Unlock()

		if c.stats != nil {
			c.stats.RecomputeStarted()
		}
		err := c.recompute(ctx, claimID)
		if err != nil {
			// Integrity failures are recorded against the claim and must
			// not block the rest of the population.
			c.log.Error().Err(err).
				Str("claim_id", claimID.String()).
				Msg("recompute failed")
		}
		if c.stats != nil {
			c.stats.RecomputeFinished(err)
		}

		c.mu.Lock()
		c.active--
		if c.dirty[claimID] {
			// Superseded mid-flight: the run we just finished read state
			// that is already outdated. Re-run rather than trust it.
			delete(c.dirty, claimID)
			c.states[claimID] = stateStale
			c.queue = append(c.queue, claimID)
			c.cond.Signal()
		} else {
			c.states[claimID] = stateCurrent
		}
		c.cond.Broadcast()
		c.mu.Unlock()
	}
}

// Flush blocks until the queue is drained and no recompute is in flight,
// or ctx ends. Intended for batch entry points and tests.
func (c *Coordinator) Flush(ctx context.Context) error {
	for {
		c.mu.Lock()
		idle := len(c.queue) == 0 && c.active == 0
		c.mu.Unlock()
		if idle {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(5 * time.Millisecond):
		}
	}
}

// QueueDepth reports the number of claims waiting for a recompute.
func (c *Coordinator) QueueDepth() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

// InFlight reports the number of claims currently recomputing.
func (c *Coordinator) InFlight() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.active
}
