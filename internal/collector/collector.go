// Package collector talks to whatever actually gathers metrics from a target:
// the collection backend over HTTP, or the target itself over SSH/WinRM.
package collector

import (
	"context"
	"encoding/json"

	"github.com/nmslite/targetwatch/internal/models"
)

// Request is one metrics collection attempt
type Request struct {
	RequestID string
	Target    models.Target
	Secret    string
	HasSecret bool
	Port      int
}

// MetricsAPI collects a metrics payload for a target.
// The payload is opaque and returned unmodified.
type MetricsAPI interface {
	Collect(ctx context.Context, req Request) (json.RawMessage, error)
}
