package document

import (
	"bytes"
	"encoding/json"
	"reflect"
	"testing"

	"catbook/api/internal/notebook"

	"github.com/google/uuid"
)

func TestModelCodecRoundTrip(t *testing.T) {
	d := sampleModel()
	flat, err := ModelCodec{}.Flatten(d)
	if err != nil {
		t.Fatal(err)
	}
	if len(flat.Cells) != len(d.Notebook.Cells) {
		t.Fatalf("flattened %d cells, want %d", len(flat.Cells), len(d.Notebook.Cells))
	}
	for i, blob := range flat.Cells {
		if blob.ID != d.Notebook.Cells[i].ID {
			t.Fatalf("cell %d keyed by %s, want %s", i, blob.ID, d.Notebook.Cells[i].ID)
		}
	}
	got, err := ModelCodec{}.Unflatten(flat)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, d) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, d)
	}
}

func TestModelCodecRejectsWrongType(t *testing.T) {
	d := NewDiagramDocument("instance", uuid.New())
	flat, err := DiagramCodec{}.Flatten(d)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := (ModelCodec{}).Unflatten(flat); err == nil {
		t.Fatal("expected type mismatch error")
	}
}

func TestDiagramCodecRoundTrip(t *testing.T) {
	d := NewDiagramDocument("instance", uuid.New())
	obj := DiagramObjectDecl{ID: uuid.New(), Name: "x", ObType: "Type"}
	d.Notebook = notebook.New(notebook.NewFormal(BoxedDiagramJudgment{obj}))

	flat, err := DiagramCodec{}.Flatten(d)
	if err != nil {
		t.Fatal(err)
	}
	got, err := DiagramCodec{}.Unflatten(flat)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, d) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, d)
	}
}

func TestAnalysisCodecRoundTrip(t *testing.T) {
	d := NewAnalysisDocument("growth", uuid.New())
	flat, err := AnalysisCodec{}.Flatten(d)
	if err != nil {
		t.Fatal(err)
	}
	got, err := AnalysisCodec{}.Unflatten(flat)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, d) {
		t.Fatalf("round trip mismatch:\n got %+v\nwant %+v", got, d)
	}
}

func TestUnflattenRejectsMismatchedCellID(t *testing.T) {
	d := sampleModel()
	flat, err := ModelCodec{}.Flatten(d)
	if err != nil {
		t.Fatal(err)
	}
	flat.Cells[0].ID = uuid.New()
	if _, err := (ModelCodec{}).Unflatten(flat); err == nil {
		t.Fatal("expected error for cell keyed by foreign id")
	}
}

func TestFlattenRawMigrates(t *testing.T) {
	raw := json.RawMessage(`{"type":"model","name":"m","theory":"simple-olog"}`)
	flat, err := FlattenRaw(raw)
	if err != nil {
		t.Fatal(err)
	}
	var version string
	if err := json.Unmarshal(flat.Fields["version"], &version); err != nil {
		t.Fatal(err)
	}
	if version != CurrentVersion {
		t.Fatalf("version = %q", version)
	}
}

func TestUnflattenRawRoundTrip(t *testing.T) {
	d := sampleModel()
	raw, err := json.Marshal(d)
	if err != nil {
		t.Fatal(err)
	}
	flat, err := FlattenRaw(raw)
	if err != nil {
		t.Fatal(err)
	}
	back, err := UnflattenRaw(flat)
	if err != nil {
		t.Fatal(err)
	}
	var a, b bytes.Buffer
	if err := json.Compact(&a, raw); err != nil {
		t.Fatal(err)
	}
	if err := json.Compact(&b, back); err != nil {
		t.Fatal(err)
	}
	if a.String() != b.String() {
		t.Fatalf("round trip mismatch:\n got %s\nwant %s", b.String(), a.String())
	}
}
