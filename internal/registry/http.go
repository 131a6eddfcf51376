package registry

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nmslite/targetwatch/internal/models"
)

// TargetLister fetches the full target list from a remote source
type TargetLister interface {
	ListTargets(ctx context.Context) ([]models.Target, error)
}

// HTTP is a registry backed by the collection backend's server list.
// The list is cached for ttl and concurrent refreshes share one request.
type HTTP struct {
	source TargetLister
	ttl    time.Duration
	now    func() time.Time
	logger *slog.Logger

	group singleflight.Group

	mu        sync.RWMutex
	targets   map[string]models.Target
	ordered   []models.Target
	fetchedAt time.Time
}

// NewHTTP creates a remote registry. ttl <= 0 disables caching.
func NewHTTP(source TargetLister, ttl time.Duration, logger *slog.Logger) *HTTP {
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTP{
		source: source,
		ttl:    ttl,
		now:    time.Now,
		logger: logger.With("component", "http_registry"),
	}
}

// Lookup implements Registry
func (h *HTTP) Lookup(ctx context.Context, id string) (models.Target, error) {
	targets, _, err := h.snapshot(ctx)
	if err != nil {
		return models.Target{}, err
	}
	t, ok := targets[id]
	if !ok {
		return models.Target{}, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return t, nil
}

// List implements Lister
func (h *HTTP) List(ctx context.Context) ([]models.Target, error) {
	_, ordered, err := h.snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return append([]models.Target(nil), ordered...), nil
}

func (h *HTTP) snapshot(ctx context.Context) (map[string]models.Target, []models.Target, error) {
	h.mu.RLock()
	if h.targets != nil && h.ttl > 0 && h.now().Sub(h.fetchedAt) < h.ttl {
		targets, ordered := h.targets, h.ordered
		h.mu.RUnlock()
		return targets, ordered, nil
	}
	h.mu.RUnlock()

	// The shared refresh must not die with whichever caller started it
	ch := h.group.DoChan("targets", func() (interface{}, error) {
		return nil, h.refresh(context.WithoutCancel(ctx))
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
	if res.Err != nil {
		return nil, nil, fmt.Errorf("failed to refresh targets: %w", res.Err)
	}
	if res.Shared {
		h.logger.Debug("target refresh shared with concurrent caller")
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.targets, h.ordered, nil
}

func (h *HTTP) refresh(ctx context.Context) error {
	list, err := h.source.ListTargets(ctx)
	if err != nil {
		return err
	}

	targets := make(map[string]models.Target, len(list))
	for _, t := range list {
		targets[t.ID] = t
	}

	h.mu.Lock()
	h.targets = targets
	h.ordered = list
	h.fetchedAt = h.now()
	h.mu.Unlock()

	h.logger.Debug("target list refreshed", "count", len(list))
	return nil
}
