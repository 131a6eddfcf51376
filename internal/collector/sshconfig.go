package collector

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/kevinburke/ssh_config"

	"github.com/nmslite/targetwatch/internal/models"
)

// sshHosts answers HostName, User and IdentityFile lookups from an
// OpenSSH client config. A nil *sshHosts resolves nothing.
type sshHosts struct {
	cfg *ssh_config.Config
}

// loadSSHHosts parses the config at path. A missing file is not an error.
func loadSSHHosts(path string) (*sshHosts, error) {
	if path == "" {
		return nil, nil
	}

	f, err := os.Open(expandPath(path))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open ssh config %s: %w", path, err)
	}
	defer f.Close()

	cfg, err := ssh_config.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("failed to parse ssh config %s: %w", path, err)
	}
	return &sshHosts{cfg: cfg}, nil
}

// apply fills in what the target leaves blank from the entry matching
// its address. The port is never taken from the config: the fetch port
// ladder owns it.
func (h *sshHosts) apply(t models.Target) models.Target {
	if h == nil {
		t.KeyPath = expandPath(t.KeyPath)
		return t
	}

	alias := t.Address
	if hostname, _ := h.cfg.Get(alias, "HostName"); hostname != "" {
		t.Address = hostname
	}
	if t.Username == "" {
		t.Username, _ = h.cfg.Get(alias, "User")
	}
	if t.KeyPath == "" && t.AuthMode == models.AuthKey {
		t.KeyPath, _ = h.cfg.Get(alias, "IdentityFile")
	}
	t.KeyPath = expandPath(t.KeyPath)
	return t
}

func expandPath(path string) string {
	if !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		home = os.Getenv("HOME")
	}
	return filepath.Join(home, path[2:])
}
