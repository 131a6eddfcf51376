// Package fetcher performs a single metrics fetch for a target and turns
// whatever happens into an Outcome.
package fetcher

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/nmslite/targetwatch/internal/channels"
	"github.com/nmslite/targetwatch/internal/collector"
	"github.com/nmslite/targetwatch/internal/credentials"
	"github.com/nmslite/targetwatch/internal/models"
)

// Error text fragments that mean the target rejected or lacks a credential
var credentialKeywords = []string{"password", "authentication", "credential", "key_path"}

// Fetcher resolves credentials, calls the collector and classifies the result
type Fetcher struct {
	resolver *credentials.Resolver
	api      collector.MetricsAPI
	events   *channels.EventChannels
	logger   *slog.Logger
	now      func() time.Time
}

// New creates a fetcher. events may be nil.
func New(resolver *credentials.Resolver, api collector.MetricsAPI, events *channels.EventChannels, logger *slog.Logger) *Fetcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Fetcher{
		resolver: resolver,
		api:      api,
		events:   events,
		logger:   logger.With("component", "fetcher"),
		now:      time.Now,
	}
}

// Fetch performs one fetch for target. override carries a secret the user
// just supplied and is cached on use.
func (f *Fetcher) Fetch(ctx context.Context, target models.Target, override *models.Override) Outcome {
	logger := f.logger.With("target_id", target.ID)

	res, err := f.resolver.Resolve(target, override)
	if err != nil {
		if errors.Is(err, credentials.ErrPromptRequired) {
			logger.Debug("no credential available, prompt required")
			return Outcome{Kind: KindCredentialRequired, TargetID: target.ID, Reason: "missing secret", At: f.now()}
		}
		return Outcome{Kind: KindTransientError, TargetID: target.ID, Reason: err.Error(), At: f.now()}
	}

	ports := []int{res.Port}
	if profile, ok := f.resolver.ProfileFor(target); ok {
		ports = profile.PortLadder(res.Port)
	}

	var (
		lastErr   error
		lastPort  int
		requestID string
		attempts  int
	)
	for _, port := range ports {
		attempts++
		lastPort = port
		requestID = uuid.NewString()

		req := collector.Request{
			RequestID: requestID,
			Target:    target,
			Secret:    res.Secret,
			HasSecret: res.HasSecret,
			Port:      port,
		}

		metrics, err := f.collect(ctx, req)
		if err == nil {
			logger.Debug("fetch succeeded",
				"port", port,
				"attempts", attempts,
				"source", res.Source,
				"request_id", requestID)
			return Outcome{
				Kind:      KindSuccess,
				TargetID:  target.ID,
				Metrics:   metrics,
				Port:      port,
				Attempts:  attempts,
				RequestID: requestID,
				At:        f.now(),
			}
		}

		lastErr = err
		if ctx.Err() != nil || !collector.IsConnectionError(err) {
			break
		}
		logger.Debug("connection failed, trying next port", "port", port, "error", err, "request_id", requestID)
	}

	outcome := Outcome{
		TargetID:  target.ID,
		Reason:    lastErr.Error(),
		Port:      lastPort,
		Attempts:  attempts,
		RequestID: requestID,
		At:        f.now(),
	}

	if isCredentialError(lastErr) {
		outcome.Kind = KindCredentialRequired
		f.resolver.Store().Clear(target.ID)
		f.events.PublishCredentialInvalidated(channels.CredentialInvalidatedEvent{
			TargetID:  target.ID,
			Reason:    outcome.Reason,
			Timestamp: outcome.At,
		})
		logger.Info("credential rejected, cached secret cleared", "reason", outcome.Reason, "request_id", requestID)
		return outcome
	}

	outcome.Kind = KindTransientError
	logger.Debug("fetch failed", "reason", outcome.Reason, "port", lastPort, "attempts", attempts, "request_id", requestID)
	return outcome
}

// collect calls the collector, turning a panic into an error
func (f *Fetcher) collect(ctx context.Context, req collector.Request) (data json.RawMessage, err error) {
	defer func() {
		if r := recover(); r != nil {
			f.logger.Error("collector panicked", "target_id", req.Target.ID, "panic", r)
			err = fmt.Errorf("collector panic: %v", r)
		}
	}()
	return f.api.Collect(ctx, req)
}

func isCredentialError(err error) bool {
	var authErr *collector.AuthError
	if errors.As(err, &authErr) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, keyword := range credentialKeywords {
		if strings.Contains(msg, keyword) {
			return true
		}
	}
	return false
}
