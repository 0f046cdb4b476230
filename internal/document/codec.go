package document

import (
	"encoding/json"
	"fmt"

	"catbook/api/internal/model"
	"catbook/api/internal/notebook"
	"catbook/api/internal/replidoc"
)

// Codecs translate each document kind to the replicated flat shape:
// scalar fields become registers, notebook cells become sequence
// elements keyed by cell id.

func cellsToBlobs[T any](nb notebook.Notebook[T]) ([]replidoc.CellBlob, error) {
	var blobs []replidoc.CellBlob
	for _, cell := range nb.Cells {
		raw, err := json.Marshal(cell)
		if err != nil {
			return nil, fmt.Errorf("marshal cell %s: %w", cell.ID, err)
		}
		blobs = append(blobs, replidoc.CellBlob{ID: cell.ID, Body: raw})
	}
	return blobs, nil
}

func blobsToCells[T any](blobs []replidoc.CellBlob) (notebook.Notebook[T], error) {
	var nb notebook.Notebook[T]
	for _, blob := range blobs {
		var cell notebook.Cell[T]
		if err := json.Unmarshal(blob.Body, &cell); err != nil {
			return nb, fmt.Errorf("decode cell %s: %w", blob.ID, err)
		}
		if cell.ID != blob.ID {
			return nb, fmt.Errorf("cell %s carries id %s", blob.ID, cell.ID)
		}
		nb.Cells = append(nb.Cells, cell)
	}
	return nb, nil
}

func stringField(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("document missing field %q", key)
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("field %q: %w", key, err)
	}
	return s, nil
}

func mustJSON(v any) json.RawMessage {
	raw, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// ModelCodec translates ModelDocument snapshots.
type ModelCodec struct{}

func (ModelCodec) Flatten(d *ModelDocument) (replidoc.Flat, error) {
	cells, err := cellsToBlobs(d.Notebook)
	if err != nil {
		return replidoc.Flat{}, err
	}
	return replidoc.Flat{
		Fields: map[string]json.RawMessage{
			"type":    mustJSON(TypeModel),
			"version": mustJSON(CurrentVersion),
			"name":    mustJSON(d.Name),
			"theory":  mustJSON(d.TheoryID),
		},
		Cells: cells,
	}, nil
}

func (ModelCodec) Unflatten(f replidoc.Flat) (*ModelDocument, error) {
	docType, err := stringField(f.Fields, "type")
	if err != nil {
		return nil, err
	}
	if Type(docType) != TypeModel {
		return nil, fmt.Errorf("%w: expected model, found %q", ErrUnknownType, docType)
	}
	name, err := stringField(f.Fields, "name")
	if err != nil {
		return nil, err
	}
	theoryID, err := stringField(f.Fields, "theory")
	if err != nil {
		return nil, err
	}
	nb, err := blobsToCells[model.Boxed](f.Cells)
	if err != nil {
		return nil, err
	}
	return &ModelDocument{
		Type:     TypeModel,
		Version:  CurrentVersion,
		Name:     name,
		TheoryID: theoryID,
		Notebook: nb,
	}, nil
}

// DiagramCodec translates DiagramDocument snapshots.
type DiagramCodec struct{}

func (DiagramCodec) Flatten(d *DiagramDocument) (replidoc.Flat, error) {
	cells, err := cellsToBlobs(d.Notebook)
	if err != nil {
		return replidoc.Flat{}, err
	}
	return replidoc.Flat{
		Fields: map[string]json.RawMessage{
			"type":     mustJSON(TypeDiagram),
			"version":  mustJSON(CurrentVersion),
			"name":     mustJSON(d.Name),
			"modelRef": mustJSON(d.ModelRef),
		},
		Cells: cells,
	}, nil
}

func (DiagramCodec) Unflatten(f replidoc.Flat) (*DiagramDocument, error) {
	docType, err := stringField(f.Fields, "type")
	if err != nil {
		return nil, err
	}
	if Type(docType) != TypeDiagram {
		return nil, fmt.Errorf("%w: expected diagram, found %q", ErrUnknownType, docType)
	}
	name, err := stringField(f.Fields, "name")
	if err != nil {
		return nil, err
	}
	var ref ExternRef
	if raw, ok := f.Fields["modelRef"]; ok {
		if err := json.Unmarshal(raw, &ref); err != nil {
			return nil, fmt.Errorf("field modelRef: %w", err)
		}
	}
	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("diagram model ref: %w", err)
	}
	nb, err := blobsToCells[BoxedDiagramJudgment](f.Cells)
	if err != nil {
		return nil, err
	}
	return &DiagramDocument{
		Type:     TypeDiagram,
		Version:  CurrentVersion,
		Name:     name,
		ModelRef: ref,
		Notebook: nb,
	}, nil
}

// AnalysisCodec translates AnalysisDocument snapshots.
type AnalysisCodec struct{}

func (AnalysisCodec) Flatten(d *AnalysisDocument) (replidoc.Flat, error) {
	cells, err := cellsToBlobs(d.Notebook)
	if err != nil {
		return replidoc.Flat{}, err
	}
	return replidoc.Flat{
		Fields: map[string]json.RawMessage{
			"type":     mustJSON(TypeAnalysis),
			"version":  mustJSON(CurrentVersion),
			"name":     mustJSON(d.Name),
			"modelRef": mustJSON(d.ModelRef),
		},
		Cells: cells,
	}, nil
}

func (AnalysisCodec) Unflatten(f replidoc.Flat) (*AnalysisDocument, error) {
	docType, err := stringField(f.Fields, "type")
	if err != nil {
		return nil, err
	}
	if Type(docType) != TypeAnalysis {
		return nil, fmt.Errorf("%w: expected analysis, found %q", ErrUnknownType, docType)
	}
	name, err := stringField(f.Fields, "name")
	if err != nil {
		return nil, err
	}
	var ref ExternRef
	if raw, ok := f.Fields["modelRef"]; ok {
		if err := json.Unmarshal(raw, &ref); err != nil {
			return nil, fmt.Errorf("field modelRef: %w", err)
		}
	}
	if err := ref.Validate(); err != nil {
		return nil, fmt.Errorf("analysis model ref: %w", err)
	}
	nb, err := blobsToCells[ModelAnalysis](f.Cells)
	if err != nil {
		return nil, err
	}
	return &AnalysisDocument{
		Type:     TypeAnalysis,
		Version:  CurrentVersion,
		Name:     name,
		ModelRef: ref,
		Notebook: nb,
	}, nil
}

// FlattenRaw converts canonical document JSON into the replicated
// shape, migrating old versions first.
func FlattenRaw(raw json.RawMessage) (replidoc.Flat, error) {
	doc, err := Decode(raw)
	if err != nil {
		return replidoc.Flat{}, err
	}
	switch d := doc.(type) {
	case *ModelDocument:
		return ModelCodec{}.Flatten(d)
	case *DiagramDocument:
		return DiagramCodec{}.Flatten(d)
	case *AnalysisDocument:
		return AnalysisCodec{}.Flatten(d)
	default:
		return replidoc.Flat{}, fmt.Errorf("%w: %T", ErrUnknownType, doc)
	}
}

// UnflattenRaw converts a replicated snapshot back to canonical
// document JSON, e.g. for persisting a head snapshot.
func UnflattenRaw(f replidoc.Flat) (json.RawMessage, error) {
	docType, err := stringField(f.Fields, "type")
	if err != nil {
		return nil, err
	}
	switch Type(docType) {
	case TypeModel:
		d, err := ModelCodec{}.Unflatten(f)
		if err != nil {
			return nil, err
		}
		return json.Marshal(d)
	case TypeDiagram:
		d, err := DiagramCodec{}.Unflatten(f)
		if err != nil {
			return nil, err
		}
		return json.Marshal(d)
	case TypeAnalysis:
		d, err := AnalysisCodec{}.Unflatten(f)
		if err != nil {
			return nil, err
		}
		return json.Marshal(d)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownType, docType)
	}
}
