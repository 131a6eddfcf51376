// Package registry answers "what is target X right now". The engine never
// owns target records; it looks them up on every fetch.
package registry

import (
	"context"
	"errors"

	"github.com/nmslite/targetwatch/internal/models"
)

// ErrNotFound is returned when no target has the given id
var ErrNotFound = errors.New("target not found")

// Registry resolves a target id to its current record
type Registry interface {
	Lookup(ctx context.Context, id string) (models.Target, error)
}

// Lister is implemented by registries that can enumerate their targets
type Lister interface {
	List(ctx context.Context) ([]models.Target, error)
}
