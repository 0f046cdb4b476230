package replidoc

import (
	"context"
	"fmt"
	"sync"

	"catbook/api/internal/perm"

	"github.com/google/uuid"
)

// Handle is one replica's live connection to a replicated document.
// Changes apply optimistically to the local replica; the store may still
// reject them, in which case the replica is re-seeded from the canonical
// state (rollback-on-reject).
type Handle struct {
	refID uuid.UUID
	actor string
	user  string
	store *MemStore
	doc   *memDoc
	ready chan struct{}

	mu      sync.Mutex
	replica *state
	version uint64
	subs    map[int]func()
	nextSub int
	closed  bool
}

func (h *Handle) Actor() string { return h.actor }

func (h *Handle) RefID() uuid.UUID { return h.refID }

// WhenReady gates first use until an initial consistent snapshot is
// loaded.
func (h *Handle) WhenReady(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-h.ready:
		return nil
	}
}

// Snapshot returns the current merged state of this replica.
func (h *Handle) Snapshot() Flat {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.replica.flat()
}

// SnapshotVersioned returns the snapshot together with its version, read
// atomically.
func (h *Handle) SnapshotVersioned() (Flat, uint64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.replica.flat(), h.version
}

// SnapshotVersion increases every time the replica changes. Consumers
// deriving state record the version they derived from and discard any
// recomputation that was triggered by a superseded snapshot.
func (h *Handle) SnapshotVersion() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.version
}

// Change stages a local transaction and submits it. On success the local
// replica reflects the change immediately; other replicas converge when
// the store fans the merge out. A permission rejection rolls the replica
// back to the canonical state and returns ErrPermissionDenied.
func (h *Handle) Change(fn func(*Tx) error) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return ErrClosed
	}
	base := h.replica.clone()
	actor := h.actor
	h.mu.Unlock()

	tx := newTx(base, actor)
	if err := fn(tx); err != nil {
		return err
	}

	d := h.doc
	d.mu.Lock()
	if !d.perms.Allows(h.user, perm.Write) {
		canon := d.canonical.clone()
		d.mu.Unlock()
		h.applySeed(canon)
		return fmt.Errorf("%w: ref %s", ErrPermissionDenied, h.doc.refID)
	}

	if h.store.manual {
		d.pending = append(d.pending, base)
		d.mu.Unlock()
		h.applyState(base)
		return nil
	}

	d.canonical.merge(base)
	canon := d.canonical.clone()
	handles := handleSet(d)
	d.mu.Unlock()
	for _, other := range handles {
		other.applyState(canon)
	}
	return nil
}

// Subscribe registers a callback fired after every replica change, local
// or merged. The returned cancel releases the subscription.
func (h *Handle) Subscribe(fn func()) (cancel func()) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.closed {
		return func() {}
	}
	id := h.nextSub
	h.nextSub++
	h.subs[id] = fn
	return func() {
		h.mu.Lock()
		delete(h.subs, id)
		h.mu.Unlock()
	}
}

// Close detaches the handle. Pending deliveries for a closed handle are
// discarded on arrival.
func (h *Handle) Close() {
	h.doc.mu.Lock()
	delete(h.doc.handles, h)
	h.doc.mu.Unlock()

	h.mu.Lock()
	h.closed = true
	h.subs = nil
	h.mu.Unlock()
}

func (h *Handle) applyState(st *state) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.replica.merge(st)
	h.version++
	subs := make([]func(), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// applySeed discards the replica entirely and re-seeds it from the
// given state; used for rollback after a rejected write.
func (h *Handle) applySeed(st *state) {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.replica = st
	h.version++
	subs := make([]func(), 0, len(h.subs))
	for _, fn := range h.subs {
		subs = append(subs, fn)
	}
	h.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
