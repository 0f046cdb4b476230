// Package refs resolves typed cross-document references into live,
// composed document wrappers. Resolution verifies the target's type
// discriminator against the reference's taxon before any live wrapper
// is constructed; a mismatch is a ReferenceError, never a coercion.
package refs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"catbook/api/internal/document"
	"catbook/api/internal/replidoc"
	"catbook/api/internal/theory"

	"github.com/google/uuid"
)

// ReferenceError reports a reference that could not be resolved: the
// target does not exist, or its declared type does not match the
// reference's taxon.
type ReferenceError struct {
	RefID  uuid.UUID
	Taxon  string
	Actual string
	Err    error
}

func (e *ReferenceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("resolve ref %s as %q: %v", e.RefID, e.Taxon, e.Err)
	}
	return fmt.Sprintf("resolve ref %s as %q: document is %q", e.RefID, e.Taxon, e.Actual)
}

func (e *ReferenceError) Unwrap() error { return e.Err }

// Resolver retrieves documents through a replicated-document store and
// wraps them as live documents on behalf of one user.
type Resolver struct {
	store    replidoc.Store
	theories *theory.Registry
	user     string
}

func NewResolver(store replidoc.Store, theories *theory.Registry, user string) *Resolver {
	return &Resolver{store: store, theories: theories, user: user}
}

// retrieve fetches the ref's document and enforces the taxon check on
// the retrieved snapshot. The returned handle is open; the caller owns
// closing it on any later failure.
func (r *Resolver) retrieve(ctx context.Context, ref document.ExternRef, want document.Type) (*replidoc.Handle, error) {
	if err := ref.Validate(); err != nil {
		return nil, &ReferenceError{RefID: ref.RefID, Taxon: ref.Taxon, Err: err}
	}
	if ref.Taxon != string(want) {
		return nil, &ReferenceError{RefID: ref.RefID, Taxon: ref.Taxon,
			Err: fmt.Errorf("reference taxon %q cannot resolve to a %s document", ref.Taxon, want)}
	}
	flat, handle, err := r.store.Retrieve(ctx, ref.RefID, r.user)
	if err != nil {
		if errors.Is(err, replidoc.ErrNotFound) {
			return nil, &ReferenceError{RefID: ref.RefID, Taxon: ref.Taxon, Err: err}
		}
		return nil, fmt.Errorf("retrieve ref %s: %w", ref.RefID, err)
	}
	actual, err := sniffFlat(flat)
	if err != nil {
		handle.Close()
		return nil, &ReferenceError{RefID: ref.RefID, Taxon: ref.Taxon, Err: err}
	}
	if actual != want {
		handle.Close()
		return nil, &ReferenceError{RefID: ref.RefID, Taxon: ref.Taxon, Actual: string(actual)}
	}
	return handle, nil
}

func sniffFlat(f replidoc.Flat) (document.Type, error) {
	raw, ok := f.Fields["type"]
	if !ok {
		return "", document.ErrMissingType
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("decode type discriminator: %w", err)
	}
	switch t := document.Type(s); t {
	case document.TypeModel, document.TypeDiagram, document.TypeAnalysis:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", document.ErrUnknownType, s)
	}
}
