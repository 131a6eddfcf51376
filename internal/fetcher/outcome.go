package fetcher

import (
	"encoding/json"
	"time"

	"github.com/nmslite/targetwatch/internal/channels"
)

// Kind classifies the result of a fetch
type Kind string

const (
	KindSuccess            Kind = "success"
	KindCredentialRequired Kind = "credential_required"
	KindTransientError     Kind = "transient_error"
	// KindUnknownTarget means the caller asked about an id the registry does not know
	KindUnknownTarget Kind = "unknown_target"
)

// Trigger records what started a fetch
type Trigger string

const (
	TriggerEnable  Trigger = "enable"
	TriggerTick    Trigger = "tick"
	TriggerRefresh Trigger = "refresh"
)

// Outcome is the result of one fetch. Failures are values, never errors.
type Outcome struct {
	Kind      Kind            `json:"kind"`
	TargetID  string          `json:"target_id"`
	Metrics   json.RawMessage `json:"metrics,omitempty"`
	Reason    string          `json:"reason,omitempty"`
	Port      int             `json:"port,omitempty"`
	Attempts  int             `json:"attempts"`
	RequestID string          `json:"request_id,omitempty"`
	Trigger   Trigger         `json:"trigger,omitempty"`
	At        time.Time       `json:"at"`
}

// OK reports whether the fetch produced metrics
func (o Outcome) OK() bool {
	return o.Kind == KindSuccess
}

// Event converts the outcome to its notification form (metrics are not carried)
func (o Outcome) Event() channels.OutcomeEvent {
	return channels.OutcomeEvent{
		TargetID:  o.TargetID,
		Kind:      string(o.Kind),
		Reason:    o.Reason,
		Port:      o.Port,
		Attempts:  o.Attempts,
		Trigger:   string(o.Trigger),
		RequestID: o.RequestID,
		Timestamp: o.At,
	}
}

// UnknownTarget builds the outcome for an id the registry does not know
func UnknownTarget(targetID string, at time.Time) Outcome {
	return Outcome{
		Kind:     KindUnknownTarget,
		TargetID: targetID,
		Reason:   "unknown target",
		At:       at,
	}
}
