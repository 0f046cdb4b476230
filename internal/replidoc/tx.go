package replidoc

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Tx stages one local change against a private copy of the document
// state. All ops in the transaction carry the same stamp; the ops are
// pure structural transforms and carry no merge logic of their own.
type Tx struct {
	st    *state
	stamp Stamp
}

func newTx(st *state, actor string) *Tx {
	st.Clock++
	return &Tx{st: st, stamp: Stamp{Seq: st.Clock, Actor: actor}}
}

// SetField writes a scalar document field.
func (tx *Tx) SetField(name string, value json.RawMessage) {
	tx.st.Fields[name] = register{
		Value: append(json.RawMessage(nil), value...),
		Stamp: tx.stamp,
	}
}

// InsertCellAt inserts a new cell at index i of the live sequence. The
// cell id must be fresh; ids are never reused, even after removal.
func (tx *Tx) InsertCellAt(i int, id uuid.UUID, body json.RawMessage) error {
	if _, exists := tx.st.Elems[id]; exists {
		return fmt.Errorf("cell id %s already used", id)
	}
	live := tx.st.live()
	if i < 0 || i > len(live) {
		return fmt.Errorf("insert index %d out of range (%d cells)", i, len(live))
	}
	var left, right Position
	if i > 0 {
		left = live[i-1].Pos
	}
	if i < len(live) {
		right = live[i].Pos
	}
	tx.st.Elems[id] = &element{
		ID:   id,
		Pos:  Between(left, right, tx.stamp.Actor),
		Body: register{Value: append(json.RawMessage(nil), body...), Stamp: tx.stamp},
	}
	return nil
}

// SetCell replaces the body of an existing cell.
func (tx *Tx) SetCell(id uuid.UUID, body json.RawMessage) error {
	el, ok := tx.st.Elems[id]
	if !ok || el.Removed {
		return fmt.Errorf("cell %s not present", id)
	}
	el.Body = register{Value: append(json.RawMessage(nil), body...), Stamp: tx.stamp}
	return nil
}

// RemoveCell tombstones a cell. Removing twice is a no-op.
func (tx *Tx) RemoveCell(id uuid.UUID) error {
	el, ok := tx.st.Elems[id]
	if !ok {
		return fmt.Errorf("cell %s not present", id)
	}
	el.Removed = true
	return nil
}

// Diff stages the ops that transform the document from one flat shape to
// another: field writes, cell inserts/updates/removals. Cells common to
// both shapes are assumed to keep their relative order, which holds for
// every notebook operation.
func Diff(tx *Tx, from, to Flat) error {
	for k, v := range to.Fields {
		if old, ok := from.Fields[k]; !ok || !jsonEqual(old, v) {
			tx.SetField(k, v)
		}
	}

	oldByID := make(map[uuid.UUID]json.RawMessage, len(from.Cells))
	for _, c := range from.Cells {
		oldByID[c.ID] = c.Body
	}
	newIDs := make(map[uuid.UUID]struct{}, len(to.Cells))
	for _, c := range to.Cells {
		newIDs[c.ID] = struct{}{}
	}

	for _, c := range from.Cells {
		if _, keep := newIDs[c.ID]; !keep {
			if err := tx.RemoveCell(c.ID); err != nil {
				return err
			}
		}
	}
	for i, c := range to.Cells {
		old, existed := oldByID[c.ID]
		if !existed {
			if err := tx.InsertCellAt(i, c.ID, c.Body); err != nil {
				return err
			}
			continue
		}
		if !jsonEqual(old, c.Body) {
			if err := tx.SetCell(c.ID, c.Body); err != nil {
				return err
			}
		}
	}
	return nil
}

func jsonEqual(a, b json.RawMessage) bool {
	var av, bv any
	if err := json.Unmarshal(a, &av); err != nil {
		return string(a) == string(b)
	}
	if err := json.Unmarshal(b, &bv); err != nil {
		return false
	}
	ar, err := json.Marshal(av)
	if err != nil {
		return false
	}
	br, err := json.Marshal(bv)
	if err != nil {
		return false
	}
	return string(ar) == string(br)
}
