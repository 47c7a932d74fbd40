// Package sync coordinates the offline action queue against the remote
// service: it watches connectivity, drains queued actions in enqueue
// order when online, and reconciles local records with server state.
package sync

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/tarpai/connect-sync/internal/bus"
	"github.com/tarpai/connect-sync/internal/record"
	"github.com/tarpai/connect-sync/internal/remote"
	"github.com/tarpai/connect-sync/internal/store"
)

// ErrOffline is returned when a sync is requested while the device has no
// connectivity. The request is rejected synchronously and the queue is
// left untouched.
var ErrOffline = errors.New("sync: cannot sync while offline")

// Snapshot is a point-in-time view of the sync manager for status
// surfaces. Queued lists the pending (retryable) actions in enqueue
// order.
type Snapshot struct {
	Ready     bool
	IsOnline  bool
	IsSyncing bool
	Pending   int
	Failed    int
	Queued    []record.Action
}

// Options tune the manager's background loop.
type Options struct {
	PingInterval  time.Duration
	DrainInterval time.Duration
}

// Manager owns the connectivity watcher and the queue drain. All methods
// are safe for concurrent use.
type Manager struct {
	store      store.Store
	remote     remote.Client
	machine    *Machine
	reconciler *Reconciler
	bus        *bus.Bus
	logger     *zap.Logger

	pingInterval  time.Duration
	drainInterval time.Duration

	ready  atomic.Bool
	syncMu sync.Mutex // serializes drain passes
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager wires a manager. reconciler may be nil when server-state
// reconciliation is not wanted.
func NewManager(st store.Store, rc remote.Client, machine *Machine, reconciler *Reconciler, b *bus.Bus, logger *zap.Logger, opts Options) *Manager {
	if opts.PingInterval <= 0 {
		opts.PingInterval = 10 * time.Second
	}
	if opts.DrainInterval <= 0 {
		opts.DrainInterval = 30 * time.Second
	}
	return &Manager{
		store:         st,
		remote:        rc,
		machine:       machine,
		reconciler:    reconciler,
		bus:           b,
		logger:        logger,
		pingInterval:  opts.PingInterval,
		drainInterval: opts.DrainInterval,
	}
}

// Start launches the connectivity watcher. The first probe completes
// before the manager reports ready.
func (m *Manager) Start(ctx context.Context) {
	ctx, m.cancel = context.WithCancel(ctx)
	m.wg.Add(1)
	go m.loop(ctx)
}

// Stop tears down the background loop and waits for it to exit.
func (m *Manager) Stop() {
	if m.cancel != nil {
		m.cancel()
	}
	m.wg.Wait()
}

func (m *Manager) loop(ctx context.Context) {
	defer m.wg.Done()

	m.probe(ctx)
	m.ready.Store(true)
	m.bus.Emit("sync.ready", nil)

	ping := time.NewTicker(m.pingInterval)
	defer ping.Stop()
	drain := time.NewTicker(m.drainInterval)
	defer drain.Stop()

	for {
		select {
		case <-ping.C:
			m.probe(ctx)
		case <-drain.C:
			if m.Online() {
				_ = m.Sync(ctx)
			}
		case <-ctx.Done():
			return
		}
	}
}

// probe checks reachability and moves the state machine across the
// online/offline boundary. Reconnecting kicks off a drain so queued
// actions flush without waiting for the periodic tick.
func (m *Manager) probe(ctx context.Context) {
	online := m.remote.Ping(ctx) == nil
	cur := m.machine.Current()

	switch {
	case online && cur == Offline:
		if err := m.machine.Transition(OnlineIdle); err != nil {
			return
		}
		m.logger.Info("connectivity restored")
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			_ = m.Sync(ctx)
		}()
	case !online && cur != Offline:
		if err := m.machine.Transition(Offline); err != nil {
			return
		}
		m.logger.Info("connectivity lost")
	}
}

// ForceSync runs a drain immediately. It fails with ErrOffline when the
// device has no connectivity.
func (m *Manager) ForceSync(ctx context.Context) error {
	if !m.Online() {
		return ErrOffline
	}
	return m.Sync(ctx)
}

// Sync drains the pending queue once and then reconciles server state.
// A pass already in flight makes this call a no-op.
func (m *Manager) Sync(ctx context.Context) error {
	if !m.syncMu.TryLock() {
		return nil
	}
	defer m.syncMu.Unlock()

	if m.machine.Current() == Offline {
		return ErrOffline
	}
	if err := m.machine.Transition(OnlineSyncing); err != nil {
		return nil
	}
	m.bus.Emit("sync.drain_started", nil)

	res := m.drain(ctx)

	if m.reconciler != nil && ctx.Err() == nil {
		if err := m.reconciler.Reconcile(ctx); err != nil {
			m.logger.Warn("reconcile failed", zap.Error(err))
		}
	}

	// The watcher may have flipped us offline mid-drain.
	if m.machine.Current() == OnlineSyncing {
		_ = m.machine.Transition(OnlineIdle)
	}
	m.bus.Emit("sync.drain_finished", res)
	m.logger.Info("drain finished",
		zap.Int("synced", res.Synced),
		zap.Int("failed", res.Failed),
		zap.Int("retrying", res.Retrying))
	return nil
}

// DrainResult summarizes one pass over the pending queue.
type DrainResult struct {
	Synced   int
	Failed   int // hit their retry ceiling this pass
	Retrying int // failed but still below the ceiling
}

// drain transmits pending actions in enqueue order. A failed transmit
// bumps that action's retry count and moves on; the rest of the queue
// still drains.
func (m *Manager) drain(ctx context.Context) DrainResult {
	var res DrainResult
	pending, err := m.store.PendingActions()
	if err != nil {
		m.logger.Error("list pending actions", zap.Error(err))
		return res
	}

	for _, a := range pending {
		if ctx.Err() != nil {
			break
		}
		if err := m.remote.Submit(ctx, &a); err != nil {
			updated, bumpErr := m.store.BumpActionRetry(a.ID, err.Error())
			if bumpErr != nil {
				m.logger.Error("bump retry", zap.String("action_id", a.ID), zap.Error(bumpErr))
				continue
			}
			if updated.ID == "" {
				continue // removed mid-drain
			}
			if updated.Failed() {
				res.Failed++
				m.bus.Emit("action.failed", updated)
				m.logger.Warn("action exhausted retries",
					zap.String("action_id", a.ID),
					zap.String("kind", string(a.Kind)),
					zap.Int("retry_count", updated.RetryCount),
					zap.Error(err))
			} else {
				res.Retrying++
				m.logger.Info("action transmit failed, will retry",
					zap.String("action_id", a.ID),
					zap.Int("retry_count", updated.RetryCount),
					zap.Error(err))
			}
			continue
		}

		if err := m.store.MarkActionSynced(a.ID); err != nil {
			m.logger.Error("mark action synced", zap.String("action_id", a.ID), zap.Error(err))
			continue
		}
		res.Synced++
		m.bus.Emit("action.synced", a)
	}
	return res
}

// Enqueue records an action for later transmission. When online it also
// kicks off a drain so the action flushes promptly.
func (m *Manager) Enqueue(kind record.ActionKind, payload []byte) (record.Action, error) {
	a, err := m.store.QueueAction(kind, payload)
	if err != nil {
		return record.Action{}, err
	}
	m.bus.Emit("action.queued", a)
	if m.Online() {
		m.wg.Add(1)
		go func() {
			defer m.wg.Done()
			_ = m.Sync(context.Background())
		}()
	}
	return a, nil
}

// Online reports whether the last probe reached the server.
func (m *Manager) Online() bool {
	return m.machine.Current() != Offline
}

// IsReady reports whether the initial connectivity probe has completed.
// Callers should hold off sync-dependent work until then.
func (m *Manager) IsReady() bool {
	return m.ready.Load()
}

// Status assembles a snapshot of queue depth and sync activity.
func (m *Manager) Status() Snapshot {
	snap := Snapshot{Ready: m.ready.Load()}
	cur := m.machine.Current()
	snap.IsOnline = cur != Offline
	snap.IsSyncing = cur == OnlineSyncing

	if pending, err := m.store.PendingActions(); err == nil {
		snap.Pending = len(pending)
		snap.Queued = pending
	} else {
		m.logger.Error("list pending actions", zap.Error(err))
	}
	if failed, err := m.store.FailedActions(); err == nil {
		snap.Failed = len(failed)
	}
	return snap
}

// ClearOfflineData drops every queued action, including failed ones.
// Domain records are untouched.
func (m *Manager) ClearOfflineData() error {
	if err := m.store.ClearActions(); err != nil {
		return err
	}
	m.bus.Emit("action.cleared", nil)
	m.logger.Info("offline action queue cleared")
	return nil
}

// WatchStatus emits periodic snapshots until ctx is cancelled. Slow
// consumers miss intermediate snapshots rather than blocking the ticker.
func (m *Manager) WatchStatus(ctx context.Context, every time.Duration) <-chan Snapshot {
	ch := make(chan Snapshot, 1)
	go func() {
		defer close(ch)
		t := time.NewTicker(every)
		defer t.Stop()
		for {
			select {
			case <-t.C:
				select {
				case ch <- m.Status():
				default:
				}
			case <-ctx.Done():
				return
			}
		}
	}()
	return ch
}
