// Package property abstracts where validation targets come from. The
// datastore catalog is the production source; the static source backs
// tests and the single-URL debug mode.
package property

import (
	"context"
	"fmt"

	"github.com/tagwatch/tagwatch/internal/types"
)

// Source provides validation targets.
type Source interface {
	// Active returns every property eligible for the sweep.
	Active(ctx context.Context) ([]types.Property, error)
	// ByID returns one property regardless of its active flag.
	ByID(ctx context.Context, id string) (types.Property, error)
}

// Static serves a fixed property list from memory.
type Static struct {
	props []types.Property
}

// NewStatic builds a static source.
func NewStatic(props ...types.Property) *Static {
	return &Static{props: props}
}

// Active returns all properties in insertion order.
func (s *Static) Active(context.Context) ([]types.Property, error) {
	out := make([]types.Property, len(s.props))
	copy(out, s.props)
	return out, nil
}

// ByID returns the property with the given ID.
func (s *Static) ByID(_ context.Context, id string) (types.Property, error) {
	for _, p := range s.props {
		if p.ID == id {
			return p, nil
		}
	}
	return types.Property{}, fmt.Errorf("property %s not found", id)
}
