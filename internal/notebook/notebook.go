// Package notebook holds the ordered cell structure shared by every
// document kind. A notebook mixes formal cells (structured judgments),
// rich-text cells, and stem cells (placeholders not yet committed to
// either). Cell order is display order only; nothing here enforces
// cross-cell validity.
package notebook

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
)

type Kind string

const (
	KindFormal   Kind = "formal"
	KindRichText Kind = "rich-text"
	KindStem     Kind = "stem"
)

var (
	ErrIndexOutOfRange = errors.New("cell index out of range")
	ErrDuplicateCell   = errors.New("duplicate cell id")
)

// Cell is a tagged union over the three cell kinds. Content is set only
// for formal cells and Text only for rich-text cells.
type Cell[T any] struct {
	ID      uuid.UUID
	Kind    Kind
	Content T
	Text    string
}

func NewFormal[T any](content T) Cell[T] {
	return Cell[T]{ID: uuid.New(), Kind: KindFormal, Content: content}
}

func NewRichText[T any](text string) Cell[T] {
	return Cell[T]{ID: uuid.New(), Kind: KindRichText, Text: text}
}

func NewStem[T any]() Cell[T] {
	return Cell[T]{ID: uuid.New(), Kind: KindStem}
}

// Label reports the display label of a cell, delegating formal cells to
// the supplied labeler (normally backed by theory metadata).
func Label[T any](c Cell[T], labeler func(T) (string, bool)) (string, bool) {
	switch c.Kind {
	case KindFormal:
		if labeler == nil {
			return "", false
		}
		return labeler(c.Content)
	case KindRichText:
		return "Text", true
	default:
		return "", false
	}
}

// Notebook is an ordered sequence of cells with unique ids.
type Notebook[T any] struct {
	Cells []Cell[T]
}

func New[T any](cells ...Cell[T]) Notebook[T] {
	return Notebook[T]{Cells: cells}
}

// InsertAt places a cell at index i, shifting later cells. All other
// cells keep their identity and relative order.
func (nb *Notebook[T]) InsertAt(i int, c Cell[T]) error {
	if i < 0 || i > len(nb.Cells) {
		return fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, len(nb.Cells))
	}
	for _, existing := range nb.Cells {
		if existing.ID == c.ID {
			return fmt.Errorf("%w: %s", ErrDuplicateCell, c.ID)
		}
	}
	nb.Cells = append(nb.Cells, Cell[T]{})
	copy(nb.Cells[i+1:], nb.Cells[i:])
	nb.Cells[i] = c
	return nil
}

func (nb *Notebook[T]) RemoveAt(i int) (Cell[T], error) {
	if i < 0 || i >= len(nb.Cells) {
		return Cell[T]{}, fmt.Errorf("%w: %d of %d", ErrIndexOutOfRange, i, len(nb.Cells))
	}
	removed := nb.Cells[i]
	nb.Cells = append(nb.Cells[:i], nb.Cells[i+1:]...)
	return removed, nil
}

// ReplaceContent rewrites the formal content of the cell with the given
// id. Returns false when no formal cell has that id.
func (nb *Notebook[T]) ReplaceContent(id uuid.UUID, f func(T) T) bool {
	for i := range nb.Cells {
		if nb.Cells[i].ID == id && nb.Cells[i].Kind == KindFormal {
			nb.Cells[i].Content = f(nb.Cells[i].Content)
			return true
		}
	}
	return false
}

// ReplaceText rewrites a rich-text cell's text.
func (nb *Notebook[T]) ReplaceText(id uuid.UUID, text string) bool {
	for i := range nb.Cells {
		if nb.Cells[i].ID == id && nb.Cells[i].Kind == KindRichText {
			nb.Cells[i].Text = text
			return true
		}
	}
	return false
}

func (nb *Notebook[T]) CellByID(id uuid.UUID) (Cell[T], bool) {
	for _, c := range nb.Cells {
		if c.ID == id {
			return c, true
		}
	}
	return Cell[T]{}, false
}

// FormalContents returns the formal cell contents in notebook order.
func (nb *Notebook[T]) FormalContents() []T {
	var out []T
	for _, c := range nb.Cells {
		if c.Kind == KindFormal {
			out = append(out, c.Content)
		}
	}
	return out
}

type cellEnvelope[T any] struct {
	Tag     string          `json:"tag"`
	ID      uuid.UUID       `json:"id"`
	Content json.RawMessage `json:"content,omitempty"`
}

func (c Cell[T]) MarshalJSON() ([]byte, error) {
	env := cellEnvelope[T]{Tag: string(c.Kind), ID: c.ID}
	switch c.Kind {
	case KindFormal:
		raw, err := json.Marshal(c.Content)
		if err != nil {
			return nil, fmt.Errorf("marshal formal cell %s: %w", c.ID, err)
		}
		env.Content = raw
	case KindRichText:
		raw, err := json.Marshal(c.Text)
		if err != nil {
			return nil, err
		}
		env.Content = raw
	case KindStem:
		// id only
	default:
		return nil, fmt.Errorf("unknown cell kind %q", c.Kind)
	}
	return json.Marshal(env)
}

func (c *Cell[T]) UnmarshalJSON(data []byte) error {
	var env cellEnvelope[T]
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	if env.ID == uuid.Nil {
		return errors.New("cell missing id")
	}
	c.ID = env.ID
	c.Kind = Kind(env.Tag)
	switch c.Kind {
	case KindFormal:
		if err := json.Unmarshal(env.Content, &c.Content); err != nil {
			return fmt.Errorf("decode formal cell %s: %w", c.ID, err)
		}
	case KindRichText:
		if err := json.Unmarshal(env.Content, &c.Text); err != nil {
			return fmt.Errorf("decode rich-text cell %s: %w", c.ID, err)
		}
	case KindStem:
	default:
		return fmt.Errorf("unknown cell tag %q", env.Tag)
	}
	return nil
}

func (nb Notebook[T]) MarshalJSON() ([]byte, error) {
	cells := nb.Cells
	if cells == nil {
		cells = []Cell[T]{}
	}
	return json.Marshal(struct {
		Cells []Cell[T] `json:"cells"`
	}{Cells: cells})
}

func (nb *Notebook[T]) UnmarshalJSON(data []byte) error {
	var wire struct {
		Cells []Cell[T] `json:"cells"`
	}
	if err := json.Unmarshal(data, &wire); err != nil {
		return err
	}
	seen := make(map[uuid.UUID]struct{}, len(wire.Cells))
	for _, c := range wire.Cells {
		if _, dup := seen[c.ID]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateCell, c.ID)
		}
		seen[c.ID] = struct{}{}
	}
	nb.Cells = wire.Cells
	return nil
}
