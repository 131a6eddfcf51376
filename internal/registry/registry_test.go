package registry

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgtype"

	"github.com/nmslite/targetwatch/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	web = models.Target{ID: "web", Address: "10.0.0.1", OSFamily: models.OSLinux, AuthMode: models.AuthKey, KeyPath: "/k"}
	dc  = models.Target{ID: "dc", Address: "10.0.0.2", OSFamily: models.OSWindows, AuthMode: models.AuthPassword, Port: 5986}
)

func TestMemory_LookupAndList(t *testing.T) {
	m, err := NewMemory(web, dc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got, err := m.Lookup(context.Background(), "dc")
	if err != nil || got.Port != 5986 {
		t.Fatalf("Lookup(dc) = %+v, %v", got, err)
	}

	if _, err := m.Lookup(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	list, _ := m.List(context.Background())
	if len(list) != 2 || list[0].ID != "dc" || list[1].ID != "web" {
		t.Errorf("List() not sorted by id: %+v", list)
	}

	m.Remove("dc")
	if _, err := m.Lookup(context.Background(), "dc"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected removed target to be gone, got %v", err)
	}
}

func TestMemory_Rejects(t *testing.T) {
	if _, err := NewMemory(web, web); err == nil {
		t.Error("expected duplicate id error")
	}

	bad := models.Target{ID: "bad", Address: "x", OSFamily: "plan9", AuthMode: models.AuthKey}
	if _, err := NewMemory(bad); err == nil {
		t.Error("expected validation error")
	}
}

type fakeLister struct {
	calls   atomic.Int32
	targets []models.Target
	err     error
	gate    chan struct{}
	started chan struct{}
}

func (f *fakeLister) ListTargets(ctx context.Context) ([]models.Target, error) {
	f.calls.Add(1)
	if f.started != nil {
		select {
		case f.started <- struct{}{}:
		default:
		}
	}
	if f.gate != nil {
		select {
		case <-f.gate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.targets, f.err
}

func TestHTTP_CachesWithinTTL(t *testing.T) {
	src := &fakeLister{targets: []models.Target{web, dc}}
	reg := NewHTTP(src, time.Minute, testLogger())
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	reg.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		if _, err := reg.Lookup(context.Background(), "web"); err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
	}
	if src.calls.Load() != 1 {
		t.Errorf("source called %d times, want 1", src.calls.Load())
	}

	now = now.Add(2 * time.Minute)
	if _, err := reg.Lookup(context.Background(), "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if src.calls.Load() != 2 {
		t.Errorf("expected refresh after TTL, calls = %d", src.calls.Load())
	}
}

func TestHTTP_CollapsesConcurrentRefreshes(t *testing.T) {
	src := &fakeLister{targets: []models.Target{web}, gate: make(chan struct{})}
	reg := NewHTTP(src, time.Minute, testLogger())

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := reg.Lookup(context.Background(), "web"); err != nil {
				t.Errorf("lookup failed: %v", err)
			}
		}()
	}

	// Give the callers time to pile onto the in-flight refresh
	time.Sleep(50 * time.Millisecond)
	close(src.gate)
	wg.Wait()

	if n := src.calls.Load(); n > 2 {
		t.Errorf("source called %d times, expected refreshes to be shared", n)
	}
}

func TestHTTP_CancelledCallerDoesNotFailOthers(t *testing.T) {
	src := &fakeLister{targets: []models.Target{web, dc}, gate: make(chan struct{}), started: make(chan struct{}, 1)}
	reg := NewHTTP(src, time.Minute, testLogger())

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := reg.Lookup(firstCtx, "web")
		firstErr <- err
	}()
	<-src.started

	secondErr := make(chan error, 1)
	go func() {
		_, err := reg.Lookup(context.Background(), "dc")
		secondErr <- err
	}()
	// Let the second caller join the in-flight refresh
	time.Sleep(50 * time.Millisecond)

	cancelFirst()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Errorf("cancelled caller: err = %v, want context.Canceled", err)
	}

	close(src.gate)
	select {
	case err := <-secondErr:
		if err != nil {
			t.Errorf("lookup for dc failed after another caller was cancelled: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("lookup for dc did not return")
	}
}

func TestHTTP_SourceError(t *testing.T) {
	src := &fakeLister{err: errors.New("backend down")}
	reg := NewHTTP(src, time.Minute, testLogger())

	_, err := reg.Lookup(context.Background(), "web")
	if err == nil || errors.Is(err, ErrNotFound) {
		t.Errorf("expected refresh error, got %v", err)
	}
}

func TestServerRow_RoundTrip(t *testing.T) {
	tests := []models.Target{web, dc, {ID: "l2", Address: "h", OSFamily: models.OSLinux, AuthMode: models.AuthPassword, Port: 2222, Username: "u", Name: "n"}}
	for _, want := range tests {
		got := rowFromTarget(want).toTarget()
		if got != want {
			t.Errorf("round trip mismatch:\n got  %+v\n want %+v", got, want)
		}
	}
}

func TestServerRow_IgnoresOtherProtocolPort(t *testing.T) {
	r := serverRow{
		ID:        "x",
		Address:   "10.0.0.3",
		OSType:    "linux",
		AuthType:  "key",
		WinRMPort: pgtype.Int4{Int32: 5986, Valid: true},
	}
	if got := r.toTarget(); got.Port != 0 {
		t.Errorf("linux target picked up winrm port %d", got.Port)
	}
}
