// Package poller keeps one polling loop per enabled target and stores the
// latest fetch result for each.
package poller

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/nmslite/targetwatch/internal/channels"
	"github.com/nmslite/targetwatch/internal/fetcher"
	"github.com/nmslite/targetwatch/internal/models"
	"github.com/nmslite/targetwatch/internal/registry"
)

// DefaultInterval is the polling period when none is configured
const DefaultInterval = 5 * time.Second

// Fetcher performs one fetch for a target
type Fetcher interface {
	Fetch(ctx context.Context, target models.Target, override *models.Override) fetcher.Outcome
}

// Config configures the manager
type Config struct {
	Interval      time.Duration
	DownThreshold int // consecutive failures before a target is reported down; 0 disables
	Clock         Clock
	Metrics       *Metrics // optional
}

// Snapshot is the latest known state of a target
type Snapshot struct {
	Latest fetcher.Outcome
	// Metrics is the payload of the last successful fetch, kept across failures
	Metrics             json.RawMessage
	MetricsAt           time.Time
	Stale               bool
	ConsecutiveFailures int
}

// pollTask is the single repeating task for one target.
// Identity is the pointer: a re-enabled target gets a new task.
type pollTask struct {
	id     string
	ctx    context.Context
	cancel context.CancelFunc
}

type slot struct {
	snapshot Snapshot
	down     bool
}

// Manager owns the polling loops
type Manager struct {
	registry registry.Registry
	fetcher  Fetcher
	events   *channels.EventChannels
	logger   *slog.Logger

	interval      time.Duration
	downThreshold int
	clock         Clock
	metrics       *Metrics

	mu     sync.Mutex
	tasks  map[string]*pollTask
	slots  map[string]*slot
	closed bool

	wg   sync.WaitGroup
	live atomic.Int32
}

// NewManager creates a manager. events may be nil.
func NewManager(reg registry.Registry, f Fetcher, events *channels.EventChannels, logger *slog.Logger, cfg Config) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Clock == nil {
		cfg.Clock = RealClock{}
	}
	return &Manager{
		registry:      reg,
		fetcher:       f,
		events:        events,
		logger:        logger.With("component", "poll_manager"),
		interval:      cfg.Interval,
		downThreshold: cfg.DownThreshold,
		clock:         cfg.Clock,
		metrics:       cfg.Metrics,
		tasks:         make(map[string]*pollTask),
		slots:         make(map[string]*slot),
	}
}

// Enable starts polling a target: one immediate fetch, then one per interval.
// It returns false when the target is already enabled or the manager is shut down.
func (m *Manager) Enable(id string) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		m.logger.Warn("enable after shutdown ignored", "target_id", id)
		return false
	}
	if _, ok := m.tasks[id]; ok {
		m.mu.Unlock()
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	t := &pollTask{id: id, ctx: ctx, cancel: cancel}
	m.tasks[id] = t
	m.wg.Add(1)
	m.live.Add(1)
	m.mu.Unlock()

	m.logger.Info("polling enabled", "target_id", id, "interval", m.interval)
	m.events.PublishPollingState(channels.PollingStateEvent{TargetID: id, Enabled: true, Timestamp: m.clock.Now()})

	go m.run(t)
	return true
}

// Disable stops polling a target. It returns false when it was not enabled.
// No fetch starts for the target after Disable returns; a fetch already in
// flight completes but its result is discarded.
func (m *Manager) Disable(id string) bool {
	m.mu.Lock()
	t, ok := m.tasks[id]
	if ok {
		delete(m.tasks, id)
	}
	m.mu.Unlock()

	if !ok {
		return false
	}

	t.cancel()
	m.logger.Info("polling disabled", "target_id", id)
	m.events.PublishPollingState(channels.PollingStateEvent{TargetID: id, Enabled: false, Timestamp: m.clock.Now()})
	return true
}

// RefreshNow runs one fetch outside the schedule. Enabled state and timing
// are not affected.
func (m *Manager) RefreshNow(ctx context.Context, id string, override *models.Override) fetcher.Outcome {
	start := m.clock.Now()
	out := m.fetchOnce(ctx, ctx, id, override)
	out.Trigger = fetcher.TriggerRefresh
	m.metrics.observeFetch(out, m.clock.Now().Sub(start).Seconds())

	m.record(nil, out)
	m.events.PublishOutcome(out.Event())
	return out
}

// Shutdown disables every target and waits for the loops to exit, bounded by ctx.
// The manager cannot be re-enabled afterwards.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sort.Strings(ids)
	for _, id := range ids {
		m.Disable(id)
	}

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		m.logger.Info("poll manager shutdown complete", "disabled", len(ids))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for polling loops: %w", ctx.Err())
	}
}

// Latest returns the stored state of a target
func (m *Manager) Latest(id string) (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.slots[id]
	if !ok {
		return Snapshot{}, false
	}
	return s.snapshot, true
}

// Enabled returns the enabled target ids, sorted
func (m *Manager) Enabled() []string {
	m.mu.Lock()
	ids := make([]string, 0, len(m.tasks))
	for id := range m.tasks {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	sort.Strings(ids)
	return ids
}

// IsEnabled reports whether a target is being polled
func (m *Manager) IsEnabled(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.tasks[id]
	return ok
}

// LiveTasks returns the number of polling loops that have not exited yet
func (m *Manager) LiveTasks() int {
	return int(m.live.Load())
}

func (m *Manager) run(t *pollTask) {
	defer m.wg.Done()
	defer m.live.Add(-1)

	m.poll(t, fetcher.TriggerEnable)

	for {
		if !m.isCurrent(t) {
			return
		}

		timer := m.clock.NewTimer(m.interval)
		select {
		case <-t.ctx.Done():
			timer.Stop()
			return
		case <-timer.C():
		}

		m.poll(t, fetcher.TriggerTick)
	}
}

func (m *Manager) poll(t *pollTask, trigger fetcher.Trigger) {
	if !m.isCurrent(t) {
		return
	}

	// The network call outlives a disable; its result is dropped in record
	start := m.clock.Now()
	out := m.fetchOnce(t.ctx, context.WithoutCancel(t.ctx), t.id, nil)
	if t.ctx.Err() != nil {
		m.logger.Debug("discarding result of disabled task", "target_id", t.id, "trigger", trigger)
		return
	}
	out.Trigger = trigger
	m.metrics.observeFetch(out, m.clock.Now().Sub(start).Seconds())

	if m.record(t, out) {
		m.events.PublishOutcome(out.Event())
	}
}

// fetchOnce looks the target up and fetches it. lookupCtx bounds the
// registry call and fetchCtx the collector call.
func (m *Manager) fetchOnce(lookupCtx, fetchCtx context.Context, id string, override *models.Override) fetcher.Outcome {
	target, err := m.registry.Lookup(lookupCtx, id)
	if errors.Is(err, registry.ErrNotFound) {
		m.logger.Warn("unknown target", "target_id", id)
		return fetcher.UnknownTarget(id, m.clock.Now())
	}
	if err != nil {
		return fetcher.Outcome{
			Kind:     fetcher.KindTransientError,
			TargetID: id,
			Reason:   err.Error(),
			At:       m.clock.Now(),
		}
	}
	return m.fetcher.Fetch(fetchCtx, target, override)
}

func (m *Manager) isCurrent(t *pollTask) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tasks[t.id] == t
}

// record stores an outcome. With a non-nil task the write only happens while
// that task is still the registered one. It reports false when the result was
// discarded. Unknown-target outcomes are never stored.
func (m *Manager) record(t *pollTask, out fetcher.Outcome) bool {
	m.mu.Lock()
	if t != nil && m.tasks[t.id] != t {
		m.mu.Unlock()
		m.logger.Debug("discarding late result", "target_id", out.TargetID)
		return false
	}
	if out.Kind == fetcher.KindUnknownTarget {
		m.mu.Unlock()
		return true
	}

	s, ok := m.slots[out.TargetID]
	if !ok {
		s = &slot{}
		m.slots[out.TargetID] = s
	}

	s.snapshot.Latest = out
	var status *channels.TargetStatusEvent
	if out.OK() {
		s.snapshot.Metrics = out.Metrics
		s.snapshot.MetricsAt = out.At
		s.snapshot.Stale = false
		status = m.handleSuccess(s, out)
	} else {
		s.snapshot.Stale = s.snapshot.Metrics != nil
		status = m.handleFailure(s, out)
	}
	m.mu.Unlock()

	if status != nil {
		m.metrics.observeStatus(status.EventType)
		m.events.PublishTargetStatus(*status)
	}
	return true
}

// handleSuccess resets the failure count and reports a recovery. Caller holds mu.
func (m *Manager) handleSuccess(s *slot, out fetcher.Outcome) *channels.TargetStatusEvent {
	s.snapshot.ConsecutiveFailures = 0
	if !s.down {
		return nil
	}
	s.down = false

	m.logger.Info("target recovered", "target_id", out.TargetID)
	return &channels.TargetStatusEvent{
		TargetID:  out.TargetID,
		EventType: "recovered",
		Timestamp: out.At,
	}
}

// handleFailure counts a failure and reports the target down once the
// threshold is reached. Caller holds mu.
func (m *Manager) handleFailure(s *slot, out fetcher.Outcome) *channels.TargetStatusEvent {
	s.snapshot.ConsecutiveFailures++

	m.logger.Warn("target fetch failed",
		"target_id", out.TargetID,
		"kind", out.Kind,
		"consecutive_failures", s.snapshot.ConsecutiveFailures,
		"reason", out.Reason,
	)

	if m.downThreshold <= 0 || s.down || s.snapshot.ConsecutiveFailures < m.downThreshold {
		return nil
	}
	s.down = true

	m.logger.Warn("target is down",
		"target_id", out.TargetID,
		"threshold", m.downThreshold,
	)
	return &channels.TargetStatusEvent{
		TargetID:  out.TargetID,
		EventType: "down",
		Failures:  s.snapshot.ConsecutiveFailures,
		Timestamp: out.At,
	}
}
