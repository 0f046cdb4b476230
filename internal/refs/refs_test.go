package refs

import (
	"context"
	"errors"
	"testing"

	"catbook/api/internal/document"
	"catbook/api/internal/model"
	"catbook/api/internal/notebook"
	"catbook/api/internal/perm"
	"catbook/api/internal/replidoc"
	"catbook/api/internal/theory"

	"github.com/google/uuid"
)

func testResolver(t *testing.T) (*Resolver, *replidoc.MemStore) {
	t.Helper()
	reg, err := theory.NewRegistry(theory.Stock()...)
	if err != nil {
		t.Fatal(err)
	}
	store := replidoc.NewMemStore()
	return NewResolver(store, reg, "alice"), store
}

func createDoc(t *testing.T, store *replidoc.MemStore, flat replidoc.Flat) uuid.UUID {
	t.Helper()
	refID, err := store.Create(context.Background(), flat, perm.Permissions{
		Owner:  "alice",
		Anyone: perm.Read,
	})
	if err != nil {
		t.Fatal(err)
	}
	return refID
}

func createModel(t *testing.T, store *replidoc.MemStore, theoryID string) uuid.UUID {
	t.Helper()
	flat, err := document.ModelCodec{}.Flatten(document.NewModelDocument("m", theoryID))
	if err != nil {
		t.Fatal(err)
	}
	return createDoc(t, store, flat)
}

func objectCell(id uuid.UUID, name string, obType theory.TypeRef) notebook.Cell[model.Boxed] {
	return notebook.NewFormal(model.Boxed{Judgment: model.ObjectDecl{
		ID: id, Name: name, ObType: obType,
	}})
}

func TestResolveModelTracksValidity(t *testing.T) {
	r, store := testResolver(t)
	refID := createModel(t, store, "simple-olog")

	lm, err := r.Model(context.Background(), document.NewExternRef(refID, document.TypeModel))
	if err != nil {
		t.Fatal(err)
	}
	defer lm.Close()

	if got := lm.State(); got != model.Valid {
		t.Fatalf("empty model state = %v, want Valid", got)
	}

	obID := uuid.New()
	fired := 0
	cancel := lm.Subscribe(func() { fired++ })
	defer cancel()

	err = lm.Change(func(d *document.ModelDocument) {
		if err := d.Notebook.InsertAt(0, objectCell(obID, "Lion", "Type")); err != nil {
			t.Fatal(err)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if fired != 1 {
		t.Fatalf("subscriber fired %d times, want 1", fired)
	}
	if got := lm.State(); got != model.Valid {
		t.Fatalf("state = %v, want Valid", got)
	}
	if name, ok := lm.Index().Get(obID); !ok || name != "Lion" {
		t.Fatalf("index get = %q, %v", name, ok)
	}

	// A dangling morphism flips the model to Invalid.
	morID := uuid.New()
	ghost := uuid.New()
	err = lm.Change(func(d *document.ModelDocument) {
		cell := notebook.NewFormal(model.Boxed{Judgment: model.MorphismDecl{
			ID: morID, Name: "eats", MorType: "Aspect", Dom: &obID, Cod: &ghost,
		}})
		if err := d.Notebook.InsertAt(1, cell); err != nil {
			t.Fatal(err)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if got := lm.State(); got != model.Invalid {
		t.Fatalf("state = %v, want Invalid", got)
	}
	errs := lm.Validated().ErrsFor(morID)
	if len(errs) != 1 || errs[0].Kind != model.ErrDanglingCod {
		t.Fatalf("errs = %+v", errs)
	}
}

func TestIndexReflectsRename(t *testing.T) {
	r, store := testResolver(t)
	refID := createModel(t, store, "simple-olog")

	lm, err := r.Model(context.Background(), document.NewExternRef(refID, document.TypeModel))
	if err != nil {
		t.Fatal(err)
	}
	defer lm.Close()

	obID := uuid.New()
	if err := lm.Change(func(d *document.ModelDocument) {
		if err := d.Notebook.InsertAt(0, objectCell(obID, "Lion", "Type")); err != nil {
			t.Fatal(err)
		}
	}); err != nil {
		t.Fatal(err)
	}
	if err := lm.Change(func(d *document.ModelDocument) {
		d.Notebook.Cells[0].Content = model.Boxed{Judgment: model.ObjectDecl{
			ID: obID, Name: "Lioness", ObType: "Type",
		}}
	}); err != nil {
		t.Fatal(err)
	}
	if name, _ := lm.Index().Get(obID); name != "Lioness" {
		t.Fatalf("index get = %q, want Lioness", name)
	}
}

func TestRichTextEditSkipsRecompute(t *testing.T) {
	r, store := testResolver(t)
	refID := createModel(t, store, "simple-olog")

	lm, err := r.Model(context.Background(), document.NewExternRef(refID, document.TypeModel))
	if err != nil {
		t.Fatal(err)
	}
	defer lm.Close()

	fired := 0
	cancel := lm.Subscribe(func() { fired++ })
	defer cancel()

	err = lm.Change(func(d *document.ModelDocument) {
		cell := notebook.NewRichText[model.Boxed]("Some prose.")
		if err := d.Notebook.InsertAt(0, cell); err != nil {
			t.Fatal(err)
		}
	})
	if err != nil {
		t.Fatal(err)
	}
	if fired != 0 {
		t.Fatalf("rich-text edit fired recompute %d times", fired)
	}
}

func TestUnsupportedTheoryStaysUnvalidated(t *testing.T) {
	r, store := testResolver(t)
	refID := createModel(t, store, "reg-net")

	lm, err := r.Model(context.Background(), document.NewExternRef(refID, document.TypeModel))
	if err != nil {
		t.Fatal(err)
	}
	defer lm.Close()

	if got := lm.State(); got != model.Unvalidated {
		t.Fatalf("state = %v, want Unvalidated", got)
	}
	if err := lm.Change(func(d *document.ModelDocument) {
		if err := d.Notebook.InsertAt(0, objectCell(uuid.New(), "gene", "Species")); err != nil {
			t.Fatal(err)
		}
	}); err != nil {
		t.Fatal(err)
	}
	if got := lm.State(); got != model.Unvalidated {
		t.Fatalf("state after edit = %v, want Unvalidated", got)
	}
	if lm.Validated() != nil {
		t.Fatal("unsupported theory produced a validated model")
	}
	// The index still works; naming does not require a validator.
	if lm.Index().Len() != 1 {
		t.Fatalf("index len = %d", lm.Index().Len())
	}
}

func TestTaxonMismatchIsReferenceError(t *testing.T) {
	r, store := testResolver(t)
	modelID := createModel(t, store, "simple-olog")
	flat, err := document.AnalysisCodec{}.Flatten(document.NewAnalysisDocument("a", modelID))
	if err != nil {
		t.Fatal(err)
	}
	analysisID := createDoc(t, store, flat)

	// The reference claims the target is a model; it is an analysis.
	_, err = r.Model(context.Background(), document.NewExternRef(analysisID, document.TypeModel))
	var refErr *ReferenceError
	if !errors.As(err, &refErr) {
		t.Fatalf("err = %v, want ReferenceError", err)
	}
	if refErr.Actual != string(document.TypeAnalysis) {
		t.Fatalf("actual = %q", refErr.Actual)
	}
}

func TestUnknownRefIsReferenceError(t *testing.T) {
	r, _ := testResolver(t)
	_, err := r.Model(context.Background(), document.NewExternRef(uuid.New(), document.TypeModel))
	var refErr *ReferenceError
	if !errors.As(err, &refErr) {
		t.Fatalf("err = %v, want ReferenceError", err)
	}
	if !errors.Is(err, replidoc.ErrNotFound) {
		t.Fatalf("err = %v, want wrapped ErrNotFound", err)
	}
}
