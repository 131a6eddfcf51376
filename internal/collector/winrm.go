package collector

import (
	"context"
	"fmt"
	"strings"

	"github.com/masterzen/winrm"
)

type winrmDialer struct {
	cfg DirectConfig
}

func newWinRMDialer(cfg DirectConfig) *winrmDialer {
	return &winrmDialer{cfg: cfg}
}

// dial builds a WinRM client. Basic auth by default, NTLM when a domain is set.
// No connection is made until the first command runs.
func (d *winrmDialer) dial(_ context.Context, req Request) (runner, error) {
	endpoint := winrm.NewEndpoint(
		req.Target.Address,
		req.Port,
		d.cfg.UseHTTPS,
		true, // insecure - skip certificate verification
		nil,
		nil,
		nil,
		d.cfg.Timeout,
	)

	var (
		client *winrm.Client
		err    error
	)
	if d.cfg.Domain != "" {
		params := winrm.NewParameters("PT60S", "en-US", 153600)
		params.TransportDecorator = func() winrm.Transporter {
			return &winrm.ClientNTLM{}
		}
		user := fmt.Sprintf("%s\\%s", d.cfg.Domain, req.Target.Username)
		client, err = winrm.NewClientWithParameters(endpoint, user, req.Secret, params)
	} else {
		client, err = winrm.NewClient(endpoint, req.Target.Username, req.Secret)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create WinRM client: %w", err)
	}

	return &winrmRunner{client: client, address: req.Target.Address}, nil
}

type winrmRunner struct {
	client  *winrm.Client
	address string
}

func (r *winrmRunner) Run(ctx context.Context, cmd string) (string, error) {
	stdout, stderr, exitCode, err := r.client.RunWithContextWithString(ctx, cmd, "")
	if err != nil {
		return "", classifyWinRMError(r.address, err)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("%q failed (exit code %d): %s", cmd, exitCode, strings.TrimSpace(stderr))
	}
	return stdout, nil
}

func (r *winrmRunner) Close() error { return nil }

// classifyWinRMError maps transport failures onto the collector error types.
// The library reports rejected credentials as an HTTP 401.
func classifyWinRMError(address string, err error) error {
	msg := err.Error()
	switch {
	case strings.Contains(msg, "401"):
		return &AuthError{Err: err}
	case IsConnectionError(err):
		return &ConnectionError{Op: "winrm " + address, Err: err}
	default:
		return fmt.Errorf("WinRM execution failed: %w", err)
	}
}
