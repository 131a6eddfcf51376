//go:build hardened

package credentials

// FallbackSupported is false in hardened builds, where no fallback profile
// (built-in or configured) is ever consulted.
const FallbackSupported = false

// DefaultProfiles returns nothing in hardened builds
func DefaultProfiles() []Profile {
	return nil
}
