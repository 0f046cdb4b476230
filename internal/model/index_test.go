package model

import (
	"testing"

	"github.com/google/uuid"
)

func TestIndexReflectsCurrentNames(t *testing.T) {
	x := ObjectDecl{ID: uuid.New(), Name: "X", ObType: "Type"}
	y := ObjectDecl{ID: uuid.New(), Name: "Y", ObType: "Type"}
	f := MorphismDecl{ID: uuid.New(), Name: "f", MorType: "Aspect", Dom: &x.ID, Cod: &y.ID}

	ix := BuildIndex([]Judgment{x, y, f})
	if ix.Len() != 2 {
		t.Fatalf("expected 2 entries, got %d", ix.Len())
	}
	if name, ok := ix.Get(x.ID); !ok || name != "X" {
		t.Errorf("Get(x) = %q, %v", name, ok)
	}

	// Rename and rebuild: the new name must be visible, with no staleness.
	x.Name = "X prime"
	ix = BuildIndex([]Judgment{x, y, f})
	if name, _ := ix.Get(x.ID); name != "X prime" {
		t.Errorf("index stale after rename: %q", name)
	}
}

func TestIndexDisambiguatesDuplicateNames(t *testing.T) {
	a := ObjectDecl{ID: uuid.New(), Name: "Thing", ObType: "Type"}
	b := ObjectDecl{ID: uuid.New(), Name: "Thing", ObType: "Type"}

	ix := BuildIndex([]Judgment{a, b})
	first, _ := ix.Get(a.ID)
	second, _ := ix.Get(b.ID)
	if first == second {
		t.Errorf("duplicate names not disambiguated: %q / %q", first, second)
	}
	if first != "Thing" || second != "Thing (2)" {
		t.Errorf("unexpected qualified names %q, %q", first, second)
	}
}

func TestIndexUnnamedObjects(t *testing.T) {
	a := ObjectDecl{ID: uuid.New(), ObType: "Type"}
	ix := BuildIndex([]Judgment{a})
	if name, ok := ix.Get(a.ID); !ok || name == "" {
		t.Errorf("unnamed object should still get a qualified name, got %q", name)
	}
}

func TestIndexMissingID(t *testing.T) {
	ix := BuildIndex(nil)
	if _, ok := ix.Get(uuid.New()); ok {
		t.Errorf("empty index should miss")
	}
}
