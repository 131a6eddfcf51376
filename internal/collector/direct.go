package collector

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nmslite/targetwatch/internal/models"
)

// DirectConfig configures collection straight from the targets
type DirectConfig struct {
	KnownHostsFile string        // empty accepts any host key
	SSHConfigFile  string        // OpenSSH client config for host aliases
	Domain         string        // non-empty switches WinRM to NTLM
	UseHTTPS       bool          // WinRM over HTTPS
	Timeout        time.Duration // per connection
}

// command is one named query whose raw output becomes a payload field
type command struct {
	field string
	cmd   string
}

var linuxCommands = []command{
	{"cpu", "top -b -n1 | head -n 5"},
	{"mem", "free -m"},
	{"disk", "df -h /"},
}

var windowsCommands = []command{
	{"cpu", "wmic cpu get loadpercentage"},
	{"mem", "wmic OS get FreePhysicalMemory,TotalVisibleMemorySize /Value"},
	{"disk", "wmic logicaldisk get size,freespace,caption"},
}

// runner executes commands on one target connection
type runner interface {
	Run(ctx context.Context, cmd string) (string, error)
	Close() error
}

type dialFunc func(ctx context.Context, req Request) (runner, error)

// Direct collects metrics by connecting to the target itself:
// SSH for Linux, WinRM for Windows
type Direct struct {
	cfg       DirectConfig
	hosts     *sshHosts
	dialSSH   dialFunc
	dialWinRM dialFunc
	logger    *slog.Logger
}

// NewDirect creates a direct collector
func NewDirect(cfg DirectConfig, logger *slog.Logger) (*Direct, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}

	sshDialer, err := newSSHDialer(cfg)
	if err != nil {
		return nil, err
	}
	hosts, err := loadSSHHosts(cfg.SSHConfigFile)
	if err != nil {
		return nil, err
	}
	winrmDialer := newWinRMDialer(cfg)

	return &Direct{
		cfg:       cfg,
		hosts:     hosts,
		dialSSH:   sshDialer.dial,
		dialWinRM: winrmDialer.dial,
		logger:    logger.With("component", "direct_collector"),
	}, nil
}

// Collect implements MetricsAPI
func (d *Direct) Collect(ctx context.Context, req Request) (json.RawMessage, error) {
	var (
		dial     dialFunc
		commands []command
	)

	switch req.Target.OSFamily {
	case models.OSLinux:
		req.Target = d.hosts.apply(req.Target)
		if !req.HasSecret && req.Target.KeyPath == "" {
			return nil, errors.New("key_path or password required for linux")
		}
		dial, commands = d.dialSSH, linuxCommands
	case models.OSWindows:
		if !req.HasSecret {
			return nil, errors.New("password required for windows")
		}
		dial, commands = d.dialWinRM, windowsCommands
	default:
		return nil, fmt.Errorf("unsupported os family %q", req.Target.OSFamily)
	}

	if req.Port == 0 {
		req.Port = req.Target.DefaultPort()
	}

	conn, err := dial(ctx, req)
	if err != nil {
		return nil, err
	}
	defer conn.Close()

	payload := make(map[string]string, len(commands))
	for _, c := range commands {
		out, err := conn.Run(ctx, c.cmd)
		if err != nil {
			return nil, fmt.Errorf("%s query failed: %w", c.field, err)
		}
		payload[c.field] = strings.TrimRight(out, "\r\n")
	}

	d.logger.Debug("metrics collected",
		"target_id", req.Target.ID,
		"os_family", req.Target.OSFamily,
		"port", req.Port,
		"request_id", req.RequestID)

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode metrics: %w", err)
	}
	return data, nil
}
