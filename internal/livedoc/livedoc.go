// Package livedoc binds a replicated-document handle to a typed document
// snapshot. A Live document applies local mutations optimistically
// through the replication primitive and re-derives its snapshot whenever
// the replica changes, discarding recomputations triggered by superseded
// snapshots.
package livedoc

import (
	"context"
	"errors"
	"log"
	"sync"

	"catbook/api/internal/replidoc"

	"github.com/google/uuid"
)

var ErrClosed = errors.New("live document closed")

// Codec translates a typed document to and from the replicated flat
// shape. Implementations live with the document wire types.
type Codec[T any] interface {
	Flatten(*T) (replidoc.Flat, error)
	Unflatten(replidoc.Flat) (*T, error)
}

// Live is a locally held, continuously synced snapshot of one document.
// The snapshot returned by Doc is replaced wholesale on every change;
// callers must not mutate it in place outside Change.
type Live[T any] struct {
	refID  uuid.UUID
	handle *replidoc.Handle
	codec  Codec[T]

	mu      sync.Mutex
	doc     *T
	applied uint64
	subs    map[int]func(*T)
	nextSub int
	cancel  func()
	closed  bool
}

// Bind decodes the handle's initial snapshot and starts tracking remote
// changes. The handle is gated on WhenReady first.
func Bind[T any](ctx context.Context, handle *replidoc.Handle, codec Codec[T]) (*Live[T], error) {
	if err := handle.WhenReady(ctx); err != nil {
		return nil, err
	}
	flat, version := handle.SnapshotVersioned()
	doc, err := codec.Unflatten(flat)
	if err != nil {
		return nil, err
	}
	l := &Live[T]{
		refID:   handle.RefID(),
		handle:  handle,
		codec:   codec,
		doc:     doc,
		applied: version,
		subs:    make(map[int]func(*T)),
	}
	l.cancel = handle.Subscribe(l.onChanged)
	return l, nil
}

func (l *Live[T]) RefID() uuid.UUID { return l.refID }

// Doc returns the current snapshot.
func (l *Live[T]) Doc() *T {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.doc
}

// Change applies a local structural mutation. The mutation runs on a
// private copy; the difference against the previous snapshot is handed
// to the replication primitive, which owns all merge behavior. The
// change is optimistic: the store may still reject it, in which case
// the local snapshot is rolled back to the authoritative state and the
// error reports the rejection.
func (l *Live[T]) Change(mutate func(*T)) error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrClosed
	}
	before := l.doc
	l.mu.Unlock()

	beforeFlat, err := l.codec.Flatten(before)
	if err != nil {
		return err
	}
	// Deep-copy through the codec so the mutation cannot alias the
	// published snapshot.
	working, err := l.codec.Unflatten(beforeFlat.Clone())
	if err != nil {
		return err
	}
	mutate(working)
	afterFlat, err := l.codec.Flatten(working)
	if err != nil {
		return err
	}

	return l.handle.Change(func(tx *replidoc.Tx) error {
		return replidoc.Diff(tx, beforeFlat, afterFlat)
	})
}

// Subscribe registers a callback invoked with each new snapshot. The
// subscription also fires on rollback after a rejected write.
func (l *Live[T]) Subscribe(fn func(*T)) (cancel func()) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return func() {}
	}
	id := l.nextSub
	l.nextSub++
	l.subs[id] = fn
	return func() {
		l.mu.Lock()
		delete(l.subs, id)
		l.mu.Unlock()
	}
}

// Close releases the subscription and the underlying handle. The last
// consumer detaching stops all further recomputation.
func (l *Live[T]) Close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	l.subs = nil
	cancel := l.cancel
	l.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	l.handle.Close()
}

func (l *Live[T]) onChanged() {
	flat, version := l.handle.SnapshotVersioned()

	l.mu.Lock()
	if l.closed || version <= l.applied {
		// Stale recomputation for a superseded snapshot; drop it.
		l.mu.Unlock()
		return
	}
	l.mu.Unlock()

	doc, err := l.codec.Unflatten(flat)
	if err != nil {
		log.Printf("livedoc: ref %s snapshot no longer decodes: %v", l.refID, err)
		return
	}

	l.mu.Lock()
	if l.closed || version <= l.applied {
		l.mu.Unlock()
		return
	}
	l.doc = doc
	l.applied = version
	subs := make([]func(*T), 0, len(l.subs))
	for _, fn := range l.subs {
		subs = append(subs, fn)
	}
	l.mu.Unlock()

	for _, fn := range subs {
		fn(doc)
	}
}
