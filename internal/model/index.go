package model

import (
	"fmt"

	"github.com/google/uuid"
)

// ObjectIndex maps object ids to their current display names. It is
// derived state: rebuilt in full from the judgments whenever they
// change, never authoritative, never patched incrementally. Dependent
// documents read names through the index rather than caching them.
type ObjectIndex struct {
	names map[uuid.UUID]string
	order []uuid.UUID
}

// BuildIndex derives the index from judgments in notebook order.
// Duplicate display names are disambiguated with a positional suffix so
// every object keeps a usable qualified name.
func BuildIndex(judgments []Judgment) *ObjectIndex {
	ix := &ObjectIndex{names: make(map[uuid.UUID]string)}
	counts := make(map[string]int)

	for _, j := range judgments {
		d, ok := j.(ObjectDecl)
		if !ok {
			continue
		}
		if _, dup := ix.names[d.ID]; dup {
			continue
		}
		name := d.Name
		if name == "" {
			name = "(unnamed)"
		}
		counts[name]++
		if n := counts[name]; n > 1 {
			name = fmt.Sprintf("%s (%d)", name, n)
		}
		ix.names[d.ID] = name
		ix.order = append(ix.order, d.ID)
	}
	return ix
}

// Get returns the qualified name for an object id.
func (ix *ObjectIndex) Get(id uuid.UUID) (string, bool) {
	name, ok := ix.names[id]
	return name, ok
}

func (ix *ObjectIndex) Len() int { return len(ix.order) }

// IDs returns the object ids in declaration order, for completion lists.
func (ix *ObjectIndex) IDs() []uuid.UUID {
	out := make([]uuid.UUID, len(ix.order))
	copy(out, ix.order)
	return out
}
