package model

import (
	"reflect"
	"testing"

	"catbook/api/internal/theory"

	"github.com/google/uuid"
)

func ologTheory(t *testing.T) *theory.Theory {
	t.Helper()
	reg, err := theory.NewRegistry(theory.Stock()...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	th, err := reg.Get("simple-olog")
	if err != nil {
		t.Fatalf("get theory: %v", err)
	}
	return th
}

func tabulatorTheory(t *testing.T) *theory.Theory {
	t.Helper()
	reg, err := theory.NewRegistry(theory.Stock()...)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	th, err := reg.Get("reg-net")
	if err != nil {
		t.Fatalf("get theory: %v", err)
	}
	return th
}

func TestValidateObjectThenEndomorphism(t *testing.T) {
	th := ologTheory(t)
	x := ObjectDecl{ID: uuid.New(), Name: "X", ObType: "Type"}
	f := MorphismDecl{ID: uuid.New(), Name: "f", MorType: "Aspect", Dom: &x.ID, Cod: &x.ID}

	vm, supported := Validate(th, []Judgment{x, f})
	if !supported {
		t.Fatalf("discrete theory must be supported")
	}
	if !vm.Ok() {
		t.Fatalf("expected Ok, got errors %v", vm.Errs)
	}
	if len(vm.Model.Objects()) != 1 || vm.Model.Objects()[0].ID != x.ID {
		t.Errorf("model objects wrong: %v", vm.Model.Objects())
	}
	if len(vm.Model.Morphisms()) != 1 || vm.Model.Morphisms()[0].ID != f.ID {
		t.Errorf("model morphisms wrong: %v", vm.Model.Morphisms())
	}
}

func TestValidateDanglingCod(t *testing.T) {
	th := ologTheory(t)
	x := ObjectDecl{ID: uuid.New(), Name: "X", ObType: "Type"}
	missing := uuid.New()
	f := MorphismDecl{ID: uuid.New(), Name: "f", MorType: "Aspect", Dom: &x.ID, Cod: &missing}

	vm, supported := Validate(th, []Judgment{x, f})
	if !supported {
		t.Fatalf("discrete theory must be supported")
	}
	if vm.Ok() {
		t.Fatalf("expected Err")
	}
	if len(vm.Errs) != 1 {
		t.Fatalf("expected one error, got %v", vm.Errs)
	}
	if vm.Errs[0].Judgment != f.ID || vm.Errs[0].Kind != ErrDanglingCod {
		t.Errorf("wrong error: %+v", vm.Errs[0])
	}
	// The invalid morphism is retained, not dropped.
	if _, ok := vm.Model.Morphism(f.ID); !ok {
		t.Errorf("invalid morphism was dropped from the model")
	}
}

func TestValidateDeclarationOrderMatters(t *testing.T) {
	th := ologTheory(t)
	x := ObjectDecl{ID: uuid.New(), Name: "X", ObType: "Type"}
	f := MorphismDecl{ID: uuid.New(), Name: "f", MorType: "Aspect", Dom: &x.ID, Cod: &x.ID}

	// Morphism before its object: dom and cod are not yet present.
	vm, _ := Validate(th, []Judgment{f, x})
	if vm.Ok() {
		t.Fatalf("expected errors for forward references")
	}
	kinds := map[ErrorKind]bool{}
	for _, e := range vm.Errs {
		if e.Judgment != f.ID {
			t.Errorf("error names wrong judgment: %+v", e)
		}
		kinds[e.Kind] = true
	}
	if !kinds[ErrDanglingDom] || !kinds[ErrDanglingCod] {
		t.Errorf("expected dangling dom and cod, got %v", vm.Errs)
	}
}

func TestValidateNilEndpoints(t *testing.T) {
	th := ologTheory(t)
	f := MorphismDecl{ID: uuid.New(), Name: "f", MorType: "Aspect"}

	vm, _ := Validate(th, []Judgment{f})
	if len(vm.Errs) != 2 {
		t.Fatalf("expected two errors, got %v", vm.Errs)
	}
	if vm.Errs[0].Kind != ErrMissingDom || vm.Errs[1].Kind != ErrMissingCod {
		t.Errorf("wrong kinds: %v", vm.Errs)
	}
}

func TestValidateUnknownTypes(t *testing.T) {
	th := ologTheory(t)
	x := ObjectDecl{ID: uuid.New(), Name: "X", ObType: "Entity"}
	f := MorphismDecl{ID: uuid.New(), Name: "f", MorType: "Attr", Dom: &x.ID, Cod: &x.ID}

	vm, _ := Validate(th, []Judgment{x, f})
	kinds := map[ErrorKind]uuid.UUID{}
	for _, e := range vm.Errs {
		kinds[e.Kind] = e.Judgment
	}
	if kinds[ErrUnknownObType] != x.ID {
		t.Errorf("expected unknown ob type on %s, got %v", x.ID, vm.Errs)
	}
	if kinds[ErrUnknownMorType] != f.ID {
		t.Errorf("expected unknown mor type on %s, got %v", f.ID, vm.Errs)
	}
}

func TestValidateDuplicateID(t *testing.T) {
	th := ologTheory(t)
	id := uuid.New()
	a := ObjectDecl{ID: id, Name: "A", ObType: "Type"}
	b := ObjectDecl{ID: id, Name: "B", ObType: "Type"}

	vm, _ := Validate(th, []Judgment{a, b})
	if len(vm.Errs) != 1 || vm.Errs[0].Kind != ErrDuplicateID {
		t.Fatalf("expected duplicate-id error, got %v", vm.Errs)
	}
	// First declaration wins.
	got, _ := vm.Model.Object(id)
	if got.Name != "A" {
		t.Errorf("duplicate overwrote first declaration: %q", got.Name)
	}
}

func TestValidateIdempotent(t *testing.T) {
	th := ologTheory(t)
	x := ObjectDecl{ID: uuid.New(), Name: "X", ObType: "Type"}
	y := ObjectDecl{ID: uuid.New(), Name: "Y", ObType: "Type"}
	f := MorphismDecl{ID: uuid.New(), Name: "f", MorType: "Aspect", Dom: &x.ID, Cod: &y.ID}
	judgments := []Judgment{x, y, f}

	vm1, _ := Validate(th, judgments)
	vm2, _ := Validate(th, judgments)
	if !reflect.DeepEqual(vm1.Errs, vm2.Errs) {
		t.Errorf("errors differ between runs")
	}
	if !reflect.DeepEqual(vm1.Model.Objects(), vm2.Model.Objects()) ||
		!reflect.DeepEqual(vm1.Model.Morphisms(), vm2.Model.Morphisms()) {
		t.Errorf("models differ between runs")
	}
}

func TestValidateUnsupportedKind(t *testing.T) {
	th := tabulatorTheory(t)
	x := ObjectDecl{ID: uuid.New(), Name: "X", ObType: "Species"}

	vm, supported := Validate(th, []Judgment{x})
	if supported || vm != nil {
		t.Fatalf("tabulator theories have no validator, got vm=%v supported=%v", vm, supported)
	}
	if got := StateOf(vm, supported); got != Unvalidated {
		t.Errorf("state = %v, want unvalidated", got)
	}
}

func TestStateOf(t *testing.T) {
	th := ologTheory(t)
	x := ObjectDecl{ID: uuid.New(), Name: "X", ObType: "Type"}

	vm, supported := Validate(th, []Judgment{x})
	if got := StateOf(vm, supported); got != Valid {
		t.Errorf("state = %v, want valid", got)
	}

	bad := MorphismDecl{ID: uuid.New(), MorType: "Aspect"}
	vm, supported = Validate(th, []Judgment{bad})
	if got := StateOf(vm, supported); got != Invalid {
		t.Errorf("state = %v, want invalid", got)
	}
}
