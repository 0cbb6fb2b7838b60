package marketstream

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradesandbox/internal/modules/config"
	"tradesandbox/internal/modules/eventbus"
	"tradesandbox/pkg/logger"
)

// streamWorker is the subset of *Worker the Supervisor depends on,
// narrowed to an interface so tests can reconcile against a fake that
// never dials a real socket.
type streamWorker interface {
	Start(ctx context.Context)
	Stop()
}

// Supervisor reconciles the externally-maintained enabled-instruments set
// against the set of running stream Workers. Reconcile computes the set
// difference every call — new entries start a worker, departed entries
// are scheduled to stop after a cooldown rather than stopped immediately,
// so re-enabling the same instrument within its cooldown window is a
// no-op against the already-running worker instead of a stop/start
// thrash. A no-diff notification never touches a worker.
type Supervisor struct {
	mu        sync.Mutex
	ctx       context.Context
	workers   map[string]streamWorker
	pending   map[string]time.Time // instID -> scheduled stop time
	cooldown  time.Duration
	bus       *eventbus.Bus
	reconnect config.StreamReconnectConfig
	idleGapMs int64
	dialer    *websocket.Dialer

	// newWorker builds the worker for an instrument; overridable in tests
	// so Reconcile never has to dial a real socket.
	newWorker func(instID string) streamWorker

	sweepStop chan struct{}
}

// NewSupervisor builds a supervisor that starts workers against bus,
// using stream's reconnect/idle-gap/cooldown settings.
func NewSupervisor(bus *eventbus.Bus, stream config.StreamConfig) *Supervisor {
	cooldown := stream.ReconcileCooldown
	if cooldown <= 0 {
		cooldown = 5 * time.Second
	}
	s := &Supervisor{
		workers:   make(map[string]streamWorker),
		pending:   make(map[string]time.Time),
		cooldown:  cooldown,
		bus:       bus,
		reconnect: stream.Reconnect,
		idleGapMs: stream.IdleGapMs,
		dialer:    &websocket.Dialer{},
		sweepStop: make(chan struct{}),
	}
	s.newWorker = func(instID string) streamWorker {
		return NewWorker(instID, s.dialer, s.bus, s.reconnect, s.idleGapMs)
	}
	return s
}

// Run starts the supervisor's background cooldown sweep. Call once,
// before the first Reconcile.
func (s *Supervisor) Run(ctx context.Context) {
	s.ctx = ctx
	go s.sweepLoop(ctx)
}

// Shutdown stops every running worker. Used on process shutdown only —
// normal instrument removal goes through Reconcile's cooldown path.
func (s *Supervisor) Shutdown() {
	close(s.sweepStop)
	s.mu.Lock()
	workers := make([]streamWorker, 0, len(s.workers))
	for _, w := range s.workers {
		workers = append(workers, w)
	}
	s.workers = make(map[string]streamWorker)
	s.mu.Unlock()

	for _, w := range workers {
		w.Stop()
	}
}

// Reconcile computes the set difference between enabled and the running
// workers: new entries are started immediately; entries missing from
// enabled are scheduled to stop after the cooldown window, unless a stop
// for them is already scheduled. Idempotent: calling with an unchanged
// enabled set is a no-op.
func (s *Supervisor) Reconcile(enabled []string) {
	desired := make(map[string]struct{}, len(enabled))
	for _, id := range enabled {
		desired[id] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for id := range desired {
		if _, running := s.workers[id]; running {
			// Already running — cancel any pending stop (re-enabled
			// within cooldown is a no-op against the live worker).
			delete(s.pending, id)
			continue
		}
		w := s.newWorker(id)
		s.workers[id] = w
		w.Start(s.ctx)
		logger.Info("marketstream: started worker for %s", id)
	}

	for id := range s.workers {
		if _, stillDesired := desired[id]; stillDesired {
			continue
		}
		if _, scheduled := s.pending[id]; scheduled {
			continue
		}
		s.pending[id] = time.Now().Add(s.cooldown)
	}
}

// sweepLoop periodically stops workers whose cooldown has elapsed and
// that are still not in the desired set (Reconcile would have cleared
// their pending entry if they were re-enabled).
func (s *Supervisor) sweepLoop(ctx context.Context) {
	t := time.NewTicker(s.cooldown)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.sweepStop:
			return
		case now := <-t.C:
			s.sweep(now)
		}
	}
}

func (s *Supervisor) sweep(now time.Time) {
	s.mu.Lock()
	var toStop []streamWorker
	for id, deadline := range s.pending {
		if now.Before(deadline) {
			continue
		}
		if w, ok := s.workers[id]; ok {
			toStop = append(toStop, w)
			delete(s.workers, id)
		}
		delete(s.pending, id)
	}
	s.mu.Unlock()

	for _, w := range toStop {
		w.Stop()
	}
}

// Running lists the instruments with an active worker, for diagnostics.
func (s *Supervisor) Running() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.workers))
	for id := range s.workers {
		ids = append(ids, id)
	}
	return ids
}
