package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/nmslite/targetwatch/internal/models"
)

// maxErrorBody caps how much of an error reply is read
const maxErrorBody = 64 << 10

// HTTPConfig configures the collection backend client
type HTTPConfig struct {
	BaseURL  string // e.g. http://localhost:5001/api
	DataMode string // demo | live
	Timeout  time.Duration
	Tokens   *TokenSource
}

// HTTPClient collects metrics through the collection backend
type HTTPClient struct {
	baseURL  string
	dataMode string
	tokens   *TokenSource
	client   *http.Client
	logger   *slog.Logger
}

// NewHTTPClient creates a backend client
func NewHTTPClient(cfg HTTPConfig, logger *slog.Logger) (*HTTPClient, error) {
	if cfg.BaseURL == "" {
		return nil, errors.New("collector base URL is required")
	}
	if _, err := url.Parse(cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid collector base URL: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.DataMode == "" {
		cfg.DataMode = "live"
	}

	return &HTTPClient{
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		dataMode: cfg.DataMode,
		tokens:   cfg.Tokens,
		client:   &http.Client{Timeout: cfg.Timeout},
		logger:   logger.With("component", "http_collector"),
	}, nil
}

// Collect implements MetricsAPI
func (c *HTTPClient) Collect(ctx context.Context, req Request) (json.RawMessage, error) {
	query := url.Values{}
	if req.HasSecret {
		query.Set("password", req.Secret)
	}
	if req.Port > 0 {
		query.Set("port", strconv.Itoa(req.Port))
	}

	endpoint := fmt.Sprintf("%s/servers/%s/metrics", c.baseURL, url.PathEscape(req.Target.ID))
	if len(query) > 0 {
		endpoint += "?" + query.Encode()
	}

	body, err := c.get(ctx, endpoint, req.RequestID)
	if err != nil {
		return nil, err
	}

	if !json.Valid(body) {
		return nil, fmt.Errorf("collection backend returned invalid JSON for target %s", req.Target.ID)
	}

	c.logger.Debug("metrics collected", "target_id", req.Target.ID, "port", req.Port, "request_id", req.RequestID)
	return json.RawMessage(body), nil
}

// backendServer is one entry of GET /servers
type backendServer struct {
	ID        json.Number `json:"id"`
	Hostname  string      `json:"hostname"`
	Name      string      `json:"name"`
	IP        string      `json:"ip"`
	OSType    string      `json:"os_type"`
	Username  string      `json:"username"`
	AuthType  string      `json:"auth_type"`
	KeyPath   string      `json:"key_path"`
	SSHPort   int         `json:"ssh_port"`
	WinRMPort int         `json:"winrm_port"`
}

func (s backendServer) toTarget() models.Target {
	t := models.Target{
		ID:       s.ID.String(),
		Name:     s.Name,
		Address:  s.IP,
		OSFamily: models.OSFamily(strings.ToLower(s.OSType)),
		AuthMode: models.AuthMode(strings.ToLower(s.AuthType)),
		Username: s.Username,
		KeyPath:  s.KeyPath,
	}
	if t.Name == "" {
		t.Name = s.Hostname
	}
	switch t.OSFamily {
	case models.OSLinux:
		t.Port = s.SSHPort
	case models.OSWindows:
		t.Port = s.WinRMPort
	}
	return t
}

// ListTargets returns the servers registered with the backend.
// Entries that fail validation are skipped.
func (c *HTTPClient) ListTargets(ctx context.Context) ([]models.Target, error) {
	body, err := c.get(ctx, c.baseURL+"/servers", "")
	if err != nil {
		return nil, err
	}

	var servers []backendServer
	if err := json.Unmarshal(body, &servers); err != nil {
		return nil, fmt.Errorf("failed to decode server list: %w", err)
	}

	targets := make([]models.Target, 0, len(servers))
	for _, s := range servers {
		t := s.toTarget()
		if err := models.ValidateTarget(t); err != nil {
			c.logger.Warn("skipping invalid server entry", "target_id", t.ID, "error", err)
			continue
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func (c *HTTPClient) get(ctx context.Context, endpoint, requestID string) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("X-Data-Mode", c.dataMode)
	if requestID != "" {
		httpReq.Header.Set("X-Request-ID", requestID)
	}

	token, err := c.tokens.Token()
	if err != nil {
		return nil, err
	}
	if token != "" {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		// The URL carries the secret in its query; keep only the cause
		var urlErr *url.Error
		if errors.As(err, &urlErr) {
			err = urlErr.Err
		}
		return nil, &ConnectionError{Op: "GET " + httpReq.URL.Path, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, decodeAPIError(resp)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ConnectionError{Op: "read response", Err: err}
	}
	return body, nil
}

func decodeAPIError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	apiErr := &APIError{StatusCode: resp.StatusCode}
	if err := json.Unmarshal(raw, &payload); err == nil {
		apiErr.Message = payload.Error
		if apiErr.Message == "" {
			apiErr.Message = payload.Message
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = strings.TrimSpace(string(raw))
	}
	return apiErr
}
