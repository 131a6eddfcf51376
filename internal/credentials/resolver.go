package credentials

import (
	"errors"
	"log/slog"

	"github.com/nmslite/targetwatch/internal/models"
)

// ErrPromptRequired is returned when no secret is available for a password
// target. The caller must collect one and retry with an explicit override.
var ErrPromptRequired = errors.New("credential prompt required")

// Source records which rule of the resolution ladder produced a result
type Source string

const (
	SourceOverride Source = "override"
	SourceKey      Source = "key"
	SourceProfile  Source = "profile"
	SourceCache    Source = "cache"
)

// Resolution is the authentication material for one fetch
type Resolution struct {
	Secret    string
	HasSecret bool
	Port      int
	Source    Source
	// Profile is set when Source is SourceProfile
	Profile *Profile
}

// Resolver picks the credential a fetch should use
type Resolver struct {
	store    *Store
	profiles []Profile
	logger   *slog.Logger
}

// ResolverOption configures a Resolver
type ResolverOption func(*Resolver)

// WithProfiles installs the fallback profile table.
// Ignored in hardened builds.
func WithProfiles(profiles []Profile) ResolverOption {
	return func(r *Resolver) {
		if !FallbackSupported {
			return
		}
		r.profiles = append([]Profile(nil), profiles...)
	}
}

// WithLogger sets the resolver logger
func WithLogger(logger *slog.Logger) ResolverOption {
	return func(r *Resolver) {
		r.logger = logger
	}
}

// NewResolver creates a resolver backed by the given store.
// No fallback profiles are consulted unless WithProfiles is passed.
func NewResolver(store *Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{
		store:  store,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.logger = r.logger.With("component", "credential_resolver")
	return r
}

// Store returns the backing credential store
func (r *Resolver) Store() *Store {
	return r.store
}

// ProfileFor returns the fallback profile matching a target, if any
func (r *Resolver) ProfileFor(t models.Target) (Profile, bool) {
	return ProfileFor(r.profiles, t)
}

// Resolve applies the priority ladder:
// override, key auth, fallback profile, cached secret, prompt.
// An earlier rule always wins over a later one.
func (r *Resolver) Resolve(t models.Target, override *models.Override) (Resolution, error) {
	if override != nil {
		port := override.Port
		if port == 0 {
			port = t.DefaultPort()
		}
		r.store.Set(t.ID, override.Secret, override.Port)
		return Resolution{Secret: override.Secret, HasSecret: true, Port: port, Source: SourceOverride}, nil
	}

	if t.AuthMode == models.AuthKey {
		return Resolution{Port: t.DefaultPort(), Source: SourceKey}, nil
	}

	if p, ok := r.ProfileFor(t); ok {
		r.logger.Debug("using fallback profile", "target_id", t.ID, "profile", p.Name)
		return Resolution{
			Secret:    p.Secret,
			HasSecret: true,
			Port:      p.PrimaryPort(),
			Source:    SourceProfile,
			Profile:   &p,
		}, nil
	}

	if entry, ok := r.store.Get(t.ID); ok {
		port := entry.Port
		if port == 0 {
			port = t.DefaultPort()
		}
		return Resolution{Secret: entry.Secret, HasSecret: true, Port: port, Source: SourceCache}, nil
	}

	return Resolution{}, ErrPromptRequired
}
