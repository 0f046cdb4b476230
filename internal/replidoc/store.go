package replidoc

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"catbook/api/internal/perm"

	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("ref not found")
	ErrPermissionDenied = errors.New("write permission denied")
	ErrClosed           = errors.New("live document closed")
)

// Store hands out replicated documents. Creation is at-most-once;
// retrieval is an idempotent read that opens a live handle.
type Store interface {
	Create(ctx context.Context, initial Flat, perms perm.Permissions) (uuid.UUID, error)
	Retrieve(ctx context.Context, refID uuid.UUID, user string) (Flat, *Handle, error)
}

// MemStore is the in-process document hub. Every handle holds its own
// replica; local changes merge into the canonical state and fan out to
// the other handles, which converge because merge is a CvRDT join.
type MemStore struct {
	mu     sync.Mutex
	docs   map[uuid.UUID]*memDoc
	manual bool
}

type Option func(*MemStore)

// WithManualSync defers fan-out until Flush is called, so tests can
// stage genuinely concurrent edits on separate handles.
func WithManualSync() Option {
	return func(s *MemStore) { s.manual = true }
}

func NewMemStore(opts ...Option) *MemStore {
	s := &MemStore{docs: make(map[uuid.UUID]*memDoc)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

type memDoc struct {
	mu        sync.Mutex
	refID     uuid.UUID
	perms     perm.Permissions
	canonical *state
	handles   map[*Handle]struct{}
	pending   []*state
}

func (s *MemStore) Create(_ context.Context, initial Flat, perms perm.Permissions) (uuid.UUID, error) {
	if err := perms.Validate(); err != nil {
		return uuid.Nil, err
	}
	refID := uuid.New()
	doc := &memDoc{
		refID:     refID,
		perms:     perms,
		canonical: stateFromFlat(initial, "origin"),
		handles:   make(map[*Handle]struct{}),
	}
	s.mu.Lock()
	s.docs[refID] = doc
	s.mu.Unlock()
	return refID, nil
}

func (s *MemStore) Retrieve(_ context.Context, refID uuid.UUID, user string) (Flat, *Handle, error) {
	s.mu.Lock()
	doc, ok := s.docs[refID]
	s.mu.Unlock()
	if !ok {
		return Flat{}, nil, fmt.Errorf("%w: %s", ErrNotFound, refID)
	}
	if !doc.perms.Allows(user, perm.Read) {
		return Flat{}, nil, fmt.Errorf("%w: read access to %s", ErrPermissionDenied, refID)
	}

	ready := make(chan struct{})
	close(ready)
	h := &Handle{
		refID:   refID,
		actor:   uuid.NewString(),
		user:    user,
		store:   s,
		doc:     doc,
		ready:   ready,
		subs:    make(map[int]func()),
		version: 1,
	}
	doc.mu.Lock()
	h.replica = doc.canonical.clone()
	doc.handles[h] = struct{}{}
	doc.mu.Unlock()
	return h.Snapshot(), h, nil
}

// Permissions reports the permissions a document was created with.
func (s *MemStore) Permissions(refID uuid.UUID) (perm.Permissions, error) {
	s.mu.Lock()
	doc, ok := s.docs[refID]
	s.mu.Unlock()
	if !ok {
		return perm.Permissions{}, fmt.Errorf("%w: %s", ErrNotFound, refID)
	}
	doc.mu.Lock()
	defer doc.mu.Unlock()
	return doc.perms, nil
}

// SetPermissions replaces a document's permissions.
func (s *MemStore) SetPermissions(refID uuid.UUID, p perm.Permissions) error {
	s.mu.Lock()
	doc, ok := s.docs[refID]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, refID)
	}
	doc.mu.Lock()
	doc.perms = p
	doc.mu.Unlock()
	return nil
}

// Flush delivers all staged changes when the store runs in manual sync
// mode. Delivery order does not affect the outcome.
func (s *MemStore) Flush() {
	s.mu.Lock()
	docs := make([]*memDoc, 0, len(s.docs))
	for _, d := range s.docs {
		docs = append(docs, d)
	}
	s.mu.Unlock()

	for _, d := range docs {
		d.mu.Lock()
		for _, st := range d.pending {
			d.canonical.merge(st)
		}
		d.pending = nil
		canon := d.canonical.clone()
		handles := handleSet(d)
		d.mu.Unlock()
		for _, h := range handles {
			h.applyState(canon)
		}
	}
}

func handleSet(d *memDoc) []*Handle {
	out := make([]*Handle, 0, len(d.handles))
	for h := range d.handles {
		out = append(out, h)
	}
	return out
}
