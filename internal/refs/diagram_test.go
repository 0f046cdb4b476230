package refs

import (
	"context"
	"errors"
	"testing"

	"catbook/api/internal/document"
	"catbook/api/internal/model"
	"catbook/api/internal/notebook"
	"catbook/api/internal/replidoc"

	"github.com/google/uuid"
)

func createDiagram(t *testing.T, store *replidoc.MemStore, modelID uuid.UUID) uuid.UUID {
	t.Helper()
	flat, err := document.DiagramCodec{}.Flatten(document.NewDiagramDocument("d", modelID))
	if err != nil {
		t.Fatal(err)
	}
	return createDoc(t, store, flat)
}

func diagramObjectCell(id uuid.UUID, name string, over *uuid.UUID) notebook.Cell[document.BoxedDiagramJudgment] {
	return notebook.NewFormal(document.BoxedDiagramJudgment{
		DiagramJudgment: document.DiagramObjectDecl{
			ID: id, Name: name, Over: over, ObType: "Type",
		},
	})
}

func TestDiagramOwnsItsModel(t *testing.T) {
	r, store := testResolver(t)
	modelID := createModel(t, store, "simple-olog")
	diagramID := createDiagram(t, store, modelID)

	ld, err := r.Diagram(context.Background(), document.NewExternRef(diagramID, document.TypeDiagram))
	if err != nil {
		t.Fatal(err)
	}
	defer ld.Close()

	if ld.Model() == nil || ld.Model().Doc().Name != "m" {
		t.Fatal("diagram did not resolve its embedded model")
	}
	if _, computable := ld.Validity(); !computable {
		t.Fatal("diagram over valid empty model should be computable")
	}
}

func TestDiagramValidity(t *testing.T) {
	r, store := testResolver(t)
	modelID := createModel(t, store, "simple-olog")
	diagramID := createDiagram(t, store, modelID)

	ld, err := r.Diagram(context.Background(), document.NewExternRef(diagramID, document.TypeDiagram))
	if err != nil {
		t.Fatal(err)
	}
	defer ld.Close()

	obID := uuid.New()
	if err := ld.Model().Change(func(d *document.ModelDocument) {
		if err := d.Notebook.InsertAt(0, objectCell(obID, "Lion", "Type")); err != nil {
			t.Fatal(err)
		}
	}); err != nil {
		t.Fatal(err)
	}

	good := uuid.New()
	bad := uuid.New()
	ghost := uuid.New()
	if err := ld.Change(func(d *document.DiagramDocument) {
		if err := d.Notebook.InsertAt(0, diagramObjectCell(good, "simba", &obID)); err != nil {
			t.Fatal(err)
		}
		if err := d.Notebook.InsertAt(1, diagramObjectCell(bad, "mystery", &ghost)); err != nil {
			t.Fatal(err)
		}
	}); err != nil {
		t.Fatal(err)
	}

	errs, computable := ld.Validity()
	if !computable {
		t.Fatal("diagram should be computable over a valid model")
	}
	if len(errs) != 1 || errs[0].Judgment != bad || errs[0].Kind != ErrDanglingOver {
		t.Fatalf("errs = %+v", errs)
	}
}

func TestDiagramGatedOnModelValidity(t *testing.T) {
	r, store := testResolver(t)
	modelID := createModel(t, store, "simple-olog")
	diagramID := createDiagram(t, store, modelID)

	ld, err := r.Diagram(context.Background(), document.NewExternRef(diagramID, document.TypeDiagram))
	if err != nil {
		t.Fatal(err)
	}
	defer ld.Close()

	fired := 0
	cancel := ld.Subscribe(func() { fired++ })
	defer cancel()

	// Break the model: a morphism with a dangling endpoint.
	ghost := uuid.New()
	if err := ld.Model().Change(func(d *document.ModelDocument) {
		cell := notebook.NewFormal(model.Boxed{Judgment: model.MorphismDecl{
			ID: uuid.New(), MorType: "Aspect", Dom: &ghost, Cod: &ghost,
		}})
		if err := d.Notebook.InsertAt(0, cell); err != nil {
			t.Fatal(err)
		}
	}); err != nil {
		t.Fatal(err)
	}

	if fired == 0 {
		t.Fatal("model edit did not refresh diagram validity")
	}
	if _, computable := ld.Validity(); computable {
		t.Fatal("diagram over invalid model must not be computable")
	}
}

func TestDiagramGatedOnUnvalidatedModel(t *testing.T) {
	r, store := testResolver(t)
	modelID := createModel(t, store, "reg-net")
	diagramID := createDiagram(t, store, modelID)

	ld, err := r.Diagram(context.Background(), document.NewExternRef(diagramID, document.TypeDiagram))
	if err != nil {
		t.Fatal(err)
	}
	defer ld.Close()

	if _, computable := ld.Validity(); computable {
		t.Fatal("diagram over unvalidated model must not be computable")
	}
}

func TestAnalysisComputability(t *testing.T) {
	r, store := testResolver(t)
	modelID := createModel(t, store, "simple-olog")
	flat, err := document.AnalysisCodec{}.Flatten(document.NewAnalysisDocument("growth", modelID))
	if err != nil {
		t.Fatal(err)
	}
	analysisID := createDoc(t, store, flat)

	la, err := r.Analysis(context.Background(), document.NewExternRef(analysisID, document.TypeAnalysis))
	if err != nil {
		t.Fatal(err)
	}
	defer la.Close()

	if !la.Computable() {
		t.Fatal("analysis over valid model should be computable")
	}

	fired := 0
	cancel := la.Subscribe(func() { fired++ })
	defer cancel()

	ghost := uuid.New()
	if err := la.Model().Change(func(d *document.ModelDocument) {
		cell := notebook.NewFormal(model.Boxed{Judgment: model.MorphismDecl{
			ID: uuid.New(), MorType: "Aspect", Dom: &ghost, Cod: &ghost,
		}})
		if err := d.Notebook.InsertAt(0, cell); err != nil {
			t.Fatal(err)
		}
	}); err != nil {
		t.Fatal(err)
	}
	if fired == 0 {
		t.Fatal("model edit did not notify analysis subscribers")
	}
	if la.Computable() {
		t.Fatal("analysis over invalid model must not be computable")
	}
}

func TestDiagramRefNotFound(t *testing.T) {
	r, store := testResolver(t)
	diagramID := createDiagram(t, store, uuid.New())

	// The diagram resolves but its embedded model does not exist.
	_, err := r.Diagram(context.Background(), document.NewExternRef(diagramID, document.TypeDiagram))
	var refErr *ReferenceError
	if !errors.As(err, &refErr) {
		t.Fatalf("err = %v, want ReferenceError", err)
	}
}
