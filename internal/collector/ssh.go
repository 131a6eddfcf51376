package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

type sshDialer struct {
	cfg             DirectConfig
	hostKeyCallback ssh.HostKeyCallback
}

func newSSHDialer(cfg DirectConfig) (*sshDialer, error) {
	callback := ssh.InsecureIgnoreHostKey()
	if cfg.KnownHostsFile != "" {
		cb, err := knownhosts.New(expandPath(cfg.KnownHostsFile))
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts %s: %w", cfg.KnownHostsFile, err)
		}
		callback = cb
	}
	return &sshDialer{cfg: cfg, hostKeyCallback: callback}, nil
}

// authMethods builds password and/or key auth for a request.
// With a key file the secret doubles as the key passphrase.
func (d *sshDialer) authMethods(req Request) ([]ssh.AuthMethod, error) {
	var methods []ssh.AuthMethod

	if req.Target.KeyPath != "" {
		pem, err := os.ReadFile(req.Target.KeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read key_path %s: %w", req.Target.KeyPath, err)
		}

		signer, err := ssh.ParsePrivateKey(pem)
		var missing *ssh.PassphraseMissingError
		if err != nil && errors.As(err, &missing) && req.HasSecret {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(pem, []byte(req.Secret))
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse key_path %s: %w", req.Target.KeyPath, err)
		}
		methods = append(methods, ssh.PublicKeys(signer))
	}

	if req.HasSecret {
		methods = append(methods, ssh.Password(req.Secret))
	}
	return methods, nil
}

func (d *sshDialer) dial(ctx context.Context, req Request) (runner, error) {
	auth, err := d.authMethods(req)
	if err != nil {
		return nil, err
	}

	config := &ssh.ClientConfig{
		User:            req.Target.Username,
		Auth:            auth,
		HostKeyCallback: d.hostKeyCallback,
		Timeout:         d.cfg.Timeout,
	}

	address := req.Target.Endpoint(req.Port)
	dialer := net.Dialer{Timeout: d.cfg.Timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &ConnectionError{Op: "ssh dial " + address, Err: err}
	}

	// NewClientConn ignores ctx and config.Timeout; bound the handshake on the conn
	if d.cfg.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(d.cfg.Timeout))
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.SetDeadline(time.Now()) })
	c, chans, reqs, err := ssh.NewClientConn(conn, address, config)
	stop()
	if err != nil {
		conn.Close()
		if strings.Contains(err.Error(), "unable to authenticate") {
			return nil, &AuthError{Err: err}
		}
		return nil, &ConnectionError{Op: "ssh handshake " + address, Err: err}
	}
	_ = conn.SetDeadline(time.Time{})

	return &sshRunner{client: ssh.NewClient(c, chans, reqs)}, nil
}

type sshRunner struct {
	client *ssh.Client
}

func (r *sshRunner) Run(ctx context.Context, cmd string) (string, error) {
	session, err := r.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open ssh session: %w", err)
	}
	defer session.Close()

	var stdout, stderr bytes.Buffer
	session.Stdout = &stdout
	session.Stderr = &stderr

	done := make(chan error, 1)
	go func() { done <- session.Run(cmd) }()

	select {
	case err := <-done:
		if err != nil {
			return "", fmt.Errorf("%q: %w: %s", cmd, err, strings.TrimSpace(stderr.String()))
		}
		return stdout.String(), nil
	case <-ctx.Done():
		_ = session.Signal(ssh.SIGKILL)
		return "", ctx.Err()
	}
}

func (r *sshRunner) Close() error {
	return r.client.Close()
}
