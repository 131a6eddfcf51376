package channels

import (
	"log/slog"
	"sync"
	"time"
)

// PollingStateEvent is published when polling is enabled or disabled for a target
type PollingStateEvent struct {
	TargetID  string
	Enabled   bool
	Timestamp time.Time
}

// OutcomeEvent is published for every completed fetch
type OutcomeEvent struct {
	TargetID  string
	Kind      string // "success", "credential_required", "transient_error", "unknown_target"
	Reason    string
	Port      int
	Attempts  int
	Trigger   string // "enable", "tick", "refresh"
	RequestID string
	Timestamp time.Time
}

// CredentialInvalidatedEvent is published when a cached secret is dropped
// because the target rejected it
type CredentialInvalidatedEvent struct {
	TargetID  string
	Reason    string
	Timestamp time.Time
}

// TargetStatusEvent is published when a target crosses the failure threshold
type TargetStatusEvent struct {
	TargetID  string
	EventType string // "down", "recovered"
	Failures  int    // only used when EventType == "down"
	Timestamp time.Time
}

// EventChannels provides typed channels for all engine events.
// Publishing never blocks: when a buffer is full the event is dropped with a warning.
type EventChannels struct {
	PollingState          chan PollingStateEvent
	Outcome               chan OutcomeEvent
	CredentialInvalidated chan CredentialInvalidatedEvent
	TargetStatus          chan TargetStatusEvent

	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewEventChannels creates a new EventChannels hub with configured buffer sizes
func NewEventChannels(cfg EventChannelsConfig, logger *slog.Logger) *EventChannels {
	cfg.ApplyDefaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &EventChannels{
		PollingState:          make(chan PollingStateEvent, cfg.PollingStateBufferSize),
		Outcome:               make(chan OutcomeEvent, cfg.OutcomeBufferSize),
		CredentialInvalidated: make(chan CredentialInvalidatedEvent, cfg.CredentialBufferSize),
		TargetStatus:          make(chan TargetStatusEvent, cfg.StatusBufferSize),
		logger:                logger.With("component", "event_channels"),
		done:                  make(chan struct{}),
	}
}

// PublishPollingState sends a polling state change without blocking
func (ec *EventChannels) PublishPollingState(event PollingStateEvent) {
	if ec == nil {
		return
	}
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	if ec.closed {
		return
	}
	select {
	case ec.PollingState <- event:
	default:
		ec.logger.Warn("failed to emit polling state event: channel full", "target_id", event.TargetID)
	}
}

// PublishOutcome sends a fetch outcome without blocking
func (ec *EventChannels) PublishOutcome(event OutcomeEvent) {
	if ec == nil {
		return
	}
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	if ec.closed {
		return
	}
	select {
	case ec.Outcome <- event:
	default:
		ec.logger.Warn("failed to emit outcome event: channel full", "target_id", event.TargetID)
	}
}

// PublishCredentialInvalidated sends a credential invalidation without blocking
func (ec *EventChannels) PublishCredentialInvalidated(event CredentialInvalidatedEvent) {
	if ec == nil {
		return
	}
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	if ec.closed {
		return
	}
	select {
	case ec.CredentialInvalidated <- event:
	default:
		ec.logger.Warn("failed to emit credential invalidated event: channel full", "target_id", event.TargetID)
	}
}

// PublishTargetStatus sends a down/recovered transition without blocking
func (ec *EventChannels) PublishTargetStatus(event TargetStatusEvent) {
	if ec == nil {
		return
	}
	ec.mu.RLock()
	defer ec.mu.RUnlock()
	if ec.closed {
		return
	}
	select {
	case ec.TargetStatus <- event:
	default:
		ec.logger.Warn("failed to emit target status event: channel full",
			"target_id", event.TargetID,
			"event_type", event.EventType)
	}
}

// Close gracefully shuts down all channels. Safe to call more than once.
func (ec *EventChannels) Close() error {
	ec.mu.Lock()
	defer ec.mu.Unlock()
	if ec.closed {
		return nil
	}
	ec.closed = true
	close(ec.done)

	// Close all channels to signal consumers to exit
	close(ec.PollingState)
	close(ec.Outcome)
	close(ec.CredentialInvalidated)
	close(ec.TargetStatus)

	return nil
}

// Done returns a channel that's closed when the EventChannels is shutting down
func (ec *EventChannels) Done() <-chan struct{} {
	return ec.done
}
