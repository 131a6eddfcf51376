package collector

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"
	"github.com/nmslite/targetwatch/internal/models"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type capturedRequest struct {
	query     map[string][]string
	dataMode  string
	requestID string
	auth      string
}

// newBackend stands in for the collection backend
func newBackend(t *testing.T, captured *capturedRequest) *httptest.Server {
	t.Helper()
	r := chi.NewRouter()
	r.Get("/api/servers/{id}/metrics", func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			captured.query = r.URL.Query()
			captured.dataMode = r.Header.Get("X-Data-Mode")
			captured.requestID = r.Header.Get("X-Request-ID")
			captured.auth = r.Header.Get("Authorization")
		}
		w.Header().Set("Content-Type", "application/json")
		switch chi.URLParam(r, "id") {
		case "1":
			w.Write([]byte(`{"cpu":"12%","mem":"1024","disk":"40%"}`))
		case "2":
			w.WriteHeader(http.StatusBadRequest)
			w.Write([]byte(`{"error": "password required for windows"}`))
		case "3":
			w.WriteHeader(http.StatusInternalServerError)
			w.Write([]byte(`{"error": "[Errno 111] Connection refused"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
			w.Write([]byte(`{"error": "Server not found"}`))
		}
	})
	r.Get("/api/servers", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id": 1, "name": "web", "ip": "10.0.0.1", "os_type": "linux", "username": "root", "auth_type": "key", "key_path": "/keys/id_rsa"},
			{"id": 2, "hostname": "dc01", "ip": "10.0.0.2", "os_type": "windows", "username": "admin", "auth_type": "password", "winrm_port": 5986},
			{"id": 3, "ip": "", "os_type": "solaris", "auth_type": "password"}
		]`))
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv
}

func newTestHTTPClient(t *testing.T, baseURL string, tokens *TokenSource) *HTTPClient {
	t.Helper()
	c, err := NewHTTPClient(HTTPConfig{
		BaseURL:  baseURL + "/api",
		DataMode: "live",
		Timeout:  5 * time.Second,
		Tokens:   tokens,
	}, testLogger())
	if err != nil {
		t.Fatalf("failed to create client: %v", err)
	}
	return c
}

func TestHTTPClient_CollectSuccess(t *testing.T) {
	var captured capturedRequest
	srv := newBackend(t, &captured)
	c := newTestHTTPClient(t, srv.URL, NewTokenSource("", "", 0, "static-token"))

	req := Request{
		RequestID: "req-1",
		Target:    models.Target{ID: "1", OSFamily: models.OSLinux},
		Secret:    "pw",
		HasSecret: true,
		Port:      2222,
	}
	data, err := c.Collect(context.Background(), req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if string(data) != `{"cpu":"12%","mem":"1024","disk":"40%"}` {
		t.Errorf("payload modified: %s", data)
	}
	if got := captured.query["password"]; len(got) != 1 || got[0] != "pw" {
		t.Errorf("password query = %v", got)
	}
	if got := captured.query["port"]; len(got) != 1 || got[0] != "2222" {
		t.Errorf("port query = %v", got)
	}
	if captured.dataMode != "live" {
		t.Errorf("X-Data-Mode = %q", captured.dataMode)
	}
	if captured.requestID != "req-1" {
		t.Errorf("X-Request-ID = %q", captured.requestID)
	}
	if captured.auth != "Bearer static-token" {
		t.Errorf("Authorization = %q", captured.auth)
	}
}

func TestHTTPClient_OmitsUnsetParams(t *testing.T) {
	var captured capturedRequest
	srv := newBackend(t, &captured)
	c := newTestHTTPClient(t, srv.URL, nil)

	_, err := c.Collect(context.Background(), Request{Target: models.Target{ID: "1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if _, ok := captured.query["password"]; ok {
		t.Error("password must not be sent without a secret")
	}
	if _, ok := captured.query["port"]; ok {
		t.Error("port must not be sent when unset")
	}
	if captured.auth != "" {
		t.Errorf("unexpected Authorization header %q", captured.auth)
	}
}

func TestHTTPClient_APIErrors(t *testing.T) {
	srv := newBackend(t, nil)
	c := newTestHTTPClient(t, srv.URL, nil)

	tests := []struct {
		id         string
		wantStatus int
		wantMsg    string
		wantConn   bool
	}{
		{"2", http.StatusBadRequest, "password required for windows", false},
		{"3", http.StatusInternalServerError, "[Errno 111] Connection refused", true},
		{"99", http.StatusNotFound, "Server not found", false},
	}

	for _, tt := range tests {
		t.Run(tt.id, func(t *testing.T) {
			_, err := c.Collect(context.Background(), Request{Target: models.Target{ID: tt.id}})
			var apiErr *APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("expected *APIError, got %T: %v", err, err)
			}
			if apiErr.StatusCode != tt.wantStatus {
				t.Errorf("status = %d, want %d", apiErr.StatusCode, tt.wantStatus)
			}
			if apiErr.Message != tt.wantMsg {
				t.Errorf("message = %q, want %q", apiErr.Message, tt.wantMsg)
			}
			if IsConnectionError(err) != tt.wantConn {
				t.Errorf("IsConnectionError = %v, want %v", !tt.wantConn, tt.wantConn)
			}
		})
	}
}

func TestHTTPClient_UnreachableBackend(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	c := newTestHTTPClient(t, url, nil)
	_, err := c.Collect(context.Background(), Request{Target: models.Target{ID: "1"}, Secret: "hunter2", HasSecret: true, Port: 22})

	var connErr *ConnectionError
	if !errors.As(err, &connErr) {
		t.Fatalf("expected *ConnectionError, got %T: %v", err, err)
	}
	if !IsConnectionError(err) {
		t.Error("expected IsConnectionError to be true")
	}
	if msg := err.Error(); strings.Contains(msg, "hunter2") || strings.Contains(msg, "password") {
		t.Errorf("error text carries the query string: %q", msg)
	}
}

func TestHTTPClient_ListTargets(t *testing.T) {
	srv := newBackend(t, nil)
	c := newTestHTTPClient(t, srv.URL, nil)

	targets, err := c.ListTargets(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(targets) != 2 {
		t.Fatalf("expected 2 valid targets, got %d", len(targets))
	}

	if targets[0].ID != "1" || targets[0].AuthMode != models.AuthKey || targets[0].KeyPath != "/keys/id_rsa" {
		t.Errorf("unexpected first target: %+v", targets[0])
	}
	if targets[1].Name != "dc01" || targets[1].Port != 5986 || targets[1].OSFamily != models.OSWindows {
		t.Errorf("unexpected second target: %+v", targets[1])
	}
}

func TestNewHTTPClient_RequiresBaseURL(t *testing.T) {
	if _, err := NewHTTPClient(HTTPConfig{}, testLogger()); err == nil {
		t.Error("expected error for empty base URL")
	}
}

func TestTokenSource_MintsAndCaches(t *testing.T) {
	now := time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)
	ts := NewTokenSource("signing-secret", "targetwatch-test", 10*time.Minute, "")
	ts.now = func() time.Time { return now }

	first, err := ts.Token()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	parsed, err := jwt.ParseWithClaims(first, &jwt.RegisteredClaims{}, func(token *jwt.Token) (interface{}, error) {
		return []byte("signing-secret"), nil
	}, jwt.WithTimeFunc(func() time.Time { return now }))
	if err != nil {
		t.Fatalf("token did not verify: %v", err)
	}
	if parsed.Method != jwt.SigningMethodHS256 {
		t.Errorf("signing method = %v", parsed.Method.Alg())
	}
	claims := parsed.Claims.(*jwt.RegisteredClaims)
	if claims.Issuer != "targetwatch-test" {
		t.Errorf("issuer = %q", claims.Issuer)
	}

	now = now.Add(5 * time.Minute)
	second, _ := ts.Token()
	if second != first {
		t.Error("expected cached token before refresh margin")
	}

	now = now.Add(4*time.Minute + 30*time.Second)
	third, _ := ts.Token()
	if third == first {
		t.Error("expected a fresh token inside the refresh margin")
	}
}

func TestTokenSource_Static(t *testing.T) {
	ts := NewTokenSource("", "", 0, "abc")
	got, err := ts.Token()
	if err != nil || got != "abc" {
		t.Errorf("Token() = %q, %v", got, err)
	}

	var nilSource *TokenSource
	if got, err := nilSource.Token(); err != nil || got != "" {
		t.Errorf("nil source Token() = %q, %v", got, err)
	}
}

func TestIsConnectionError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"typed", &ConnectionError{Op: "dial", Err: errors.New("boom")}, true},
		{"wrapped typed", errors.Join(errors.New("ctx"), &ConnectionError{Op: "dial", Err: errors.New("x")}), true},
		{"backend refused", &APIError{StatusCode: 500, Message: "[Errno 111] Connection refused"}, true},
		{"backend timeout", errors.New("Connection timed out during banner exchange"), true},
		{"no route", errors.New("dial tcp 10.0.0.1:22: connect: no route to host"), true},
		{"auth", &AuthError{Err: errors.New("connection reset by peer")}, false},
		{"bad password", &APIError{StatusCode: 500, Message: "Authentication failed."}, false},
		{"other", errors.New("disk query failed"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsConnectionError(tt.err); got != tt.want {
				t.Errorf("IsConnectionError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}

func TestAuthError_Message(t *testing.T) {
	err := &AuthError{Err: errors.New("ssh: unable to authenticate")}
	if !strings.HasPrefix(err.Error(), "authentication failed:") {
		t.Errorf("unexpected message %q", err.Error())
	}
}

func TestBackendServer_Decode(t *testing.T) {
	var s backendServer
	if err := json.Unmarshal([]byte(`{"id": 42, "ip": "1.2.3.4", "os_type": "Linux", "auth_type": "Password", "ssh_port": 2200}`), &s); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	target := s.toTarget()
	if target.ID != "42" || target.OSFamily != models.OSLinux || target.AuthMode != models.AuthPassword || target.Port != 2200 {
		t.Errorf("unexpected target: %+v", target)
	}
}
