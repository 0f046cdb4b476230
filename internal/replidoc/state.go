// Package replidoc is the replicated-document primitive the rest of the
// system delegates merging to. A document state is a set of last-writer-
// wins registers plus one replicated cell sequence. Merge is
// commutative, associative, and idempotent; concurrent cell insertions
// both survive in a deterministic order and concurrent writes to one
// register resolve by a (seq, actor) tie-break. Consumers express
// mutations as structural transforms and never merge themselves.
package replidoc

import (
	"bytes"
	"encoding/json"
	"sort"

	"github.com/google/uuid"
)

// Stamp is a logical timestamp: a per-document Lamport counter with the
// acting replica's id as tie-break.
type Stamp struct {
	Seq   uint64 `json:"seq"`
	Actor string `json:"actor"`
}

// Supersedes reports whether s wins over o in a concurrent write.
func (s Stamp) Supersedes(o Stamp) bool {
	if s.Seq != o.Seq {
		return s.Seq > o.Seq
	}
	return s.Actor > o.Actor
}

type register struct {
	Value json.RawMessage `json:"value"`
	Stamp Stamp           `json:"stamp"`
}

func (r register) merge(o register) register {
	if o.Stamp.Supersedes(r.Stamp) {
		return o
	}
	return r
}

type element struct {
	ID      uuid.UUID `json:"id"`
	Pos     Position  `json:"pos"`
	Body    register  `json:"body"`
	Removed bool      `json:"removed"`
}

type state struct {
	Fields map[string]register    `json:"fields"`
	Elems  map[uuid.UUID]*element `json:"elems"`
	Clock  uint64                 `json:"clock"`
}

func newState() *state {
	return &state{
		Fields: make(map[string]register),
		Elems:  make(map[uuid.UUID]*element),
	}
}

func (s *state) clone() *state {
	out := newState()
	out.Clock = s.Clock
	for k, r := range s.Fields {
		out.Fields[k] = r
	}
	for id, el := range s.Elems {
		cp := *el
		cp.Pos = el.Pos.clone()
		out.Elems[id] = &cp
	}
	return out
}

// merge folds o into s. Tombstones win so removal survives any
// concurrent body update; element bodies and fields resolve per
// register.
func (s *state) merge(o *state) {
	if o.Clock > s.Clock {
		s.Clock = o.Clock
	}
	for k, r := range o.Fields {
		if cur, ok := s.Fields[k]; ok {
			s.Fields[k] = cur.merge(r)
		} else {
			s.Fields[k] = r
		}
	}
	for id, el := range o.Elems {
		cur, ok := s.Elems[id]
		if !ok {
			cp := *el
			cp.Pos = el.Pos.clone()
			s.Elems[id] = &cp
			continue
		}
		cur.Body = cur.Body.merge(el.Body)
		cur.Removed = cur.Removed || el.Removed
	}
}

// live returns the surviving elements in replicated order.
func (s *state) live() []*element {
	out := make([]*element, 0, len(s.Elems))
	for _, el := range s.Elems {
		if !el.Removed {
			out = append(out, el)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if c := ComparePositions(out[i].Pos, out[j].Pos); c != 0 {
			return c < 0
		}
		return bytes.Compare(out[i].ID[:], out[j].ID[:]) < 0
	})
	return out
}

// Flat is the shape consumers see: plain fields plus the ordered cells.
type Flat struct {
	Fields map[string]json.RawMessage
	Cells  []CellBlob
}

type CellBlob struct {
	ID   uuid.UUID
	Body json.RawMessage
}

func (f Flat) Clone() Flat {
	out := Flat{Fields: make(map[string]json.RawMessage, len(f.Fields))}
	for k, v := range f.Fields {
		out.Fields[k] = append(json.RawMessage(nil), v...)
	}
	out.Cells = make([]CellBlob, len(f.Cells))
	for i, c := range f.Cells {
		out.Cells[i] = CellBlob{ID: c.ID, Body: append(json.RawMessage(nil), c.Body...)}
	}
	return out
}

func (s *state) flat() Flat {
	out := Flat{Fields: make(map[string]json.RawMessage, len(s.Fields))}
	for k, r := range s.Fields {
		out.Fields[k] = append(json.RawMessage(nil), r.Value...)
	}
	for _, el := range s.live() {
		out.Cells = append(out.Cells, CellBlob{
			ID:   el.ID,
			Body: append(json.RawMessage(nil), el.Body.Value...),
		})
	}
	return out
}

// stateFromFlat seeds a replicated state from canonical content, e.g. a
// stored head snapshot. Positions are spaced evenly so later edits have
// room on either side.
func stateFromFlat(f Flat, actor string) *state {
	s := newState()
	s.Clock = 1
	stamp := Stamp{Seq: 1, Actor: actor}
	for k, v := range f.Fields {
		s.Fields[k] = register{Value: append(json.RawMessage(nil), v...), Stamp: stamp}
	}
	var prev Position
	for _, c := range f.Cells {
		pos := Between(prev, nil, actor)
		s.Elems[c.ID] = &element{
			ID:   c.ID,
			Pos:  pos,
			Body: register{Value: append(json.RawMessage(nil), c.Body...), Stamp: stamp},
		}
		prev = pos
	}
	return s
}
