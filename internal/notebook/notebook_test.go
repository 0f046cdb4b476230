package notebook

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestInsertAtPreservesOrder(t *testing.T) {
	var nb Notebook[string]
	a := NewFormal("a")
	b := NewFormal("b")
	c := NewFormal("c")
	if err := nb.InsertAt(0, a); err != nil {
		t.Fatalf("insert a: %v", err)
	}
	if err := nb.InsertAt(1, c); err != nil {
		t.Fatalf("insert c: %v", err)
	}
	if err := nb.InsertAt(1, b); err != nil {
		t.Fatalf("insert b: %v", err)
	}

	got := nb.FormalContents()
	want := []string{"a", "b", "c"}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: got %v want %v", i, got, want)
		}
	}
	if nb.Cells[0].ID != a.ID || nb.Cells[2].ID != c.ID {
		t.Errorf("insertion changed identities of other cells")
	}
}

func TestInsertAtBounds(t *testing.T) {
	var nb Notebook[string]
	if err := nb.InsertAt(1, NewFormal("x")); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
	if err := nb.InsertAt(-1, NewFormal("x")); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestInsertRejectsDuplicateID(t *testing.T) {
	var nb Notebook[string]
	cell := NewFormal("x")
	if err := nb.InsertAt(0, cell); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := nb.InsertAt(1, cell); !errors.Is(err, ErrDuplicateCell) {
		t.Errorf("expected ErrDuplicateCell, got %v", err)
	}
}

func TestRemoveAt(t *testing.T) {
	var nb Notebook[string]
	a := NewFormal("a")
	b := NewRichText[string]("some prose")
	c := NewStem[string]()
	for i, cell := range []Cell[string]{a, b, c} {
		if err := nb.InsertAt(i, cell); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}

	removed, err := nb.RemoveAt(1)
	if err != nil {
		t.Fatalf("remove: %v", err)
	}
	if removed.ID != b.ID {
		t.Errorf("removed wrong cell")
	}
	if len(nb.Cells) != 2 || nb.Cells[0].ID != a.ID || nb.Cells[1].ID != c.ID {
		t.Errorf("remaining cells lost identity or order")
	}

	if _, err := nb.RemoveAt(5); !errors.Is(err, ErrIndexOutOfRange) {
		t.Errorf("expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestReplaceContent(t *testing.T) {
	var nb Notebook[string]
	formal := NewFormal("before")
	text := NewRichText[string]("prose")
	_ = nb.InsertAt(0, formal)
	_ = nb.InsertAt(1, text)

	if !nb.ReplaceContent(formal.ID, func(string) string { return "after" }) {
		t.Fatalf("ReplaceContent did not find formal cell")
	}
	got, _ := nb.CellByID(formal.ID)
	if got.Content != "after" {
		t.Errorf("content not replaced: %q", got.Content)
	}

	if nb.ReplaceContent(text.ID, func(s string) string { return s }) {
		t.Errorf("ReplaceContent should not touch rich-text cells")
	}
	if nb.ReplaceContent(uuid.New(), func(s string) string { return s }) {
		t.Errorf("ReplaceContent should miss unknown ids")
	}
}

func TestLabel(t *testing.T) {
	formal := NewFormal("x")
	text := NewRichText[string]("prose")
	stem := NewStem[string]()

	labeler := func(s string) (string, bool) { return "Object", true }
	if got, ok := Label(formal, labeler); !ok || got != "Object" {
		t.Errorf("formal label = %q, %v", got, ok)
	}
	if got, ok := Label(text, labeler); !ok || got != "Text" {
		t.Errorf("rich-text label = %q, %v", got, ok)
	}
	if _, ok := Label(stem, labeler); ok {
		t.Errorf("stem cells have no label")
	}
}

func TestJSONRoundTrip(t *testing.T) {
	var nb Notebook[string]
	_ = nb.InsertAt(0, NewFormal("judgment"))
	_ = nb.InsertAt(1, NewRichText[string]("notes"))
	_ = nb.InsertAt(2, NewStem[string]())

	raw, err := json.Marshal(nb)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if !strings.Contains(string(raw), `"tag":"rich-text"`) {
		t.Errorf("missing tag discriminator in %s", raw)
	}

	var decoded Notebook[string]
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(decoded.Cells) != 3 {
		t.Fatalf("expected 3 cells, got %d", len(decoded.Cells))
	}
	for i := range nb.Cells {
		if decoded.Cells[i].ID != nb.Cells[i].ID || decoded.Cells[i].Kind != nb.Cells[i].Kind {
			t.Errorf("cell %d did not round-trip", i)
		}
	}
}

func TestUnmarshalRejectsDuplicateIDs(t *testing.T) {
	id := uuid.New()
	raw := []byte(`{"cells":[{"tag":"stem","id":"` + id.String() + `"},{"tag":"stem","id":"` + id.String() + `"}]}`)
	var nb Notebook[string]
	if err := json.Unmarshal(raw, &nb); !errors.Is(err, ErrDuplicateCell) {
		t.Errorf("expected ErrDuplicateCell, got %v", err)
	}
}

func TestUnmarshalRejectsUnknownTag(t *testing.T) {
	raw := []byte(`{"cells":[{"tag":"widget","id":"` + uuid.NewString() + `"}]}`)
	var nb Notebook[string]
	if err := json.Unmarshal(raw, &nb); err == nil {
		t.Errorf("expected error for unknown cell tag")
	}
}
