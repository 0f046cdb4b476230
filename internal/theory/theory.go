// Package theory describes the double theories a model can be built on:
// the permitted object and morphism types and how they are displayed.
// Only metadata lives here; structural validation of a model against a
// theory is done in the model package.
package theory

import (
	"errors"
	"fmt"
)

// Kind discriminates the flavors of double theory. Model validation is
// defined only for KindDiscrete; documents built on other kinds load and
// edit normally but are never validated.
type Kind string

const (
	KindDiscrete          Kind = "discrete"
	KindDiscreteTabulator Kind = "discrete-tabulator"
)

// TypeRef names an object or morphism type within a theory.
type TypeRef string

type ObTypeMeta struct {
	Name        TypeRef `json:"name"`
	Display     string  `json:"display"`
	Description string  `json:"description,omitempty"`
}

type MorTypeMeta struct {
	Name        TypeRef `json:"name"`
	Display     string  `json:"display"`
	Src         TypeRef `json:"src"`
	Tgt         TypeRef `json:"tgt"`
	Description string  `json:"description,omitempty"`
}

// Theory is the capability handed to model builders: an identifier, a
// kind, and the closed sets of object and morphism types.
type Theory struct {
	ID       string        `json:"id"`
	Name     string        `json:"name"`
	Kind     Kind          `json:"kind"`
	ObTypes  []ObTypeMeta  `json:"obTypes"`
	MorTypes []MorTypeMeta `json:"morTypes"`
}

func (t *Theory) HasObType(ref TypeRef) bool {
	_, ok := t.ObTypeMeta(ref)
	return ok
}

func (t *Theory) HasMorType(ref TypeRef) bool {
	_, ok := t.MorTypeMeta(ref)
	return ok
}

func (t *Theory) ObTypeMeta(ref TypeRef) (ObTypeMeta, bool) {
	for _, meta := range t.ObTypes {
		if meta.Name == ref {
			return meta, true
		}
	}
	return ObTypeMeta{}, false
}

func (t *Theory) MorTypeMeta(ref TypeRef) (MorTypeMeta, bool) {
	for _, meta := range t.MorTypes {
		if meta.Name == ref {
			return meta, true
		}
	}
	return MorTypeMeta{}, false
}

var ErrUnknownTheory = errors.New("unknown theory")

// Registry resolves theory ids to theories. Components receive a registry
// explicitly; there is no ambient lookup.
type Registry struct {
	byID  map[string]*Theory
	order []string
}

func NewRegistry(theories ...*Theory) (*Registry, error) {
	r := &Registry{byID: make(map[string]*Theory)}
	for _, th := range theories {
		if th.ID == "" {
			return nil, errors.New("theory missing id")
		}
		if _, dup := r.byID[th.ID]; dup {
			return nil, fmt.Errorf("duplicate theory id %q", th.ID)
		}
		r.byID[th.ID] = th
		r.order = append(r.order, th.ID)
	}
	return r, nil
}

func (r *Registry) Get(id string) (*Theory, error) {
	th, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownTheory, id)
	}
	return th, nil
}

func (r *Registry) List() []*Theory {
	out := make([]*Theory, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.byID[id])
	}
	return out
}
