package theory

import (
	"errors"
	"testing"
)

func TestRegistryGet(t *testing.T) {
	reg, err := NewRegistry(Stock()...)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}

	th, err := reg.Get("simple-olog")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if th.Kind != KindDiscrete {
		t.Errorf("expected discrete kind, got %q", th.Kind)
	}
	if !th.HasObType("Type") {
		t.Errorf("olog should have ob type Type")
	}
	if th.HasObType("Entity") {
		t.Errorf("olog should not have ob type Entity")
	}

	if _, err := reg.Get("no-such-theory"); !errors.Is(err, ErrUnknownTheory) {
		t.Errorf("expected ErrUnknownTheory, got %v", err)
	}
}

func TestRegistryRejectsDuplicates(t *testing.T) {
	a := &Theory{ID: "dup", Kind: KindDiscrete}
	b := &Theory{ID: "dup", Kind: KindDiscrete}
	if _, err := NewRegistry(a, b); err == nil {
		t.Fatalf("expected duplicate id error")
	}
}

func TestMorTypeMeta(t *testing.T) {
	reg, err := NewRegistry(Stock()...)
	if err != nil {
		t.Fatalf("NewRegistry failed: %v", err)
	}
	th, err := reg.Get("simple-schema")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	meta, ok := th.MorTypeMeta("Attr")
	if !ok {
		t.Fatalf("schema should have mor type Attr")
	}
	if meta.Src != "Entity" || meta.Tgt != "AttrType" {
		t.Errorf("unexpected src/tgt: %s -> %s", meta.Src, meta.Tgt)
	}
}
