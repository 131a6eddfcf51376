package poller

import (
	"context"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMetrics_CountsOutcomesAndStatus(t *testing.T) {
	fx := newFixture(t, 1)
	metrics := NewMetrics()
	fx.manager.metrics = metrics

	reg := prometheus.NewPedanticRegistry()
	if err := registerAll(reg, metrics.Collectors(fx.manager.LiveTasks)); err != nil {
		t.Fatalf("register: %v", err)
	}

	ctx := context.Background()
	fx.manager.RefreshNow(ctx, "web", nil)
	fx.fetcher.setFail(true)
	fx.manager.RefreshNow(ctx, "web", nil)
	fx.manager.RefreshNow(ctx, "missing", nil)

	tests := []struct {
		kind string
		want float64
	}{
		{"success", 1},
		{"transient_error", 1},
		{"unknown_target", 1},
	}
	for _, tt := range tests {
		got := testutil.ToFloat64(metrics.fetches.WithLabelValues(tt.kind, "refresh"))
		if got != tt.want {
			t.Errorf("fetches{kind=%s} = %v, want %v", tt.kind, got, tt.want)
		}
	}

	if got := testutil.ToFloat64(metrics.down.WithLabelValues("down")); got != 1 {
		t.Errorf("down transitions = %v, want 1", got)
	}

	if n, err := testutil.GatherAndCount(reg, "targetwatch_polling_tasks"); err != nil || n != 1 {
		t.Errorf("polling_tasks gauge count = %d, err %v", n, err)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.observeStatus("down")
}

func registerAll(reg prometheus.Registerer, cs []prometheus.Collector) error {
	for _, c := range cs {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}
