package credentials

import (
	"slices"

	"github.com/nmslite/targetwatch/internal/models"
)

// Profile is a built-in credential for a well-known development target.
// Ports is the ordered port ladder; the first entry is the primary port.
type Profile struct {
	Name     string          `yaml:"name"`
	Address  string          `yaml:"address" validate:"required"`
	OSFamily models.OSFamily `yaml:"os_family" validate:"omitempty,oneof=linux windows"`
	Secret   string          `yaml:"secret" validate:"required"`
	Ports    []int           `yaml:"ports" validate:"required,min=1,dive,min=1,max=65535"`
}

// Matches reports whether the profile applies to a target.
// Only password targets are eligible.
func (p Profile) Matches(t models.Target) bool {
	if t.AuthMode != models.AuthPassword || t.Address != p.Address {
		return false
	}
	return p.OSFamily == "" || p.OSFamily == t.OSFamily
}

// PrimaryPort returns the first port of the ladder
func (p Profile) PrimaryPort() int {
	if len(p.Ports) == 0 {
		return 0
	}
	return p.Ports[0]
}

// PortLadder returns the ordered candidate ports for a fetch whose first
// attempt uses first. Duplicates are removed and order is preserved.
func (p Profile) PortLadder(first int) []int {
	ladder := make([]int, 0, len(p.Ports)+1)
	ladder = append(ladder, first)
	for _, port := range p.Ports {
		if !slices.Contains(ladder, port) {
			ladder = append(ladder, port)
		}
	}
	return ladder
}

// ProfileFor returns the first profile matching the target
func ProfileFor(profiles []Profile, t models.Target) (Profile, bool) {
	for _, p := range profiles {
		if p.Matches(t) {
			return p, true
		}
	}
	return Profile{}, false
}
