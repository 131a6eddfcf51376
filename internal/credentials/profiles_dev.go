//go:build !hardened

package credentials

import "github.com/nmslite/targetwatch/internal/models"

// FallbackSupported is false in hardened builds, where no fallback profile
// (built-in or configured) is ever consulted.
const FallbackSupported = true

// DefaultProfiles returns the local test container profile used for demos:
// an SSH server on loopback that listens on either 2222 or 22.
func DefaultProfiles() []Profile {
	return []Profile{
		{
			Name:     "local-test",
			Address:  "127.0.0.1",
			OSFamily: models.OSLinux,
			Secret:   "testpass123",
			Ports:    []int{2222, 22},
		},
	}
}
