// Package document defines the canonical wire shapes of the three
// document kinds and the versioned envelope they are stored in.
package document

import (
	"encoding/json"
	"errors"
	"fmt"

	"catbook/api/internal/model"
	"catbook/api/internal/notebook"

	"github.com/google/uuid"
)

// Type discriminates the document kinds.
type Type string

const (
	TypeModel    Type = "model"
	TypeDiagram  Type = "diagram"
	TypeAnalysis Type = "analysis"
)

// CurrentVersion is the document schema version written by this server.
// Documents without a version field are treated as version "0" and
// migrated forward on decode.
const CurrentVersion = "1"

var (
	ErrMissingType        = errors.New("document missing type discriminator")
	ErrUnknownType        = errors.New("unknown document type")
	ErrUnsupportedVersion = errors.New("unsupported document version")
)

// ExternRef is a typed pointer from one document to another. Taxon names
// the expected document type of the target; a mismatch at resolution
// time is an error, never a coercion.
type ExternRef struct {
	Tag   string    `json:"tag"`
	RefID uuid.UUID `json:"refId"`
	Taxon string    `json:"taxon"`
}

const ExternRefTag = "extern-ref"

func NewExternRef(refID uuid.UUID, taxon Type) ExternRef {
	return ExternRef{Tag: ExternRefTag, RefID: refID, Taxon: string(taxon)}
}

func (r ExternRef) Validate() error {
	if r.Tag != ExternRefTag {
		return fmt.Errorf("extern ref has tag %q", r.Tag)
	}
	if r.RefID == uuid.Nil {
		return errors.New("extern ref missing refId")
	}
	if r.Taxon == "" {
		return errors.New("extern ref missing taxon")
	}
	return nil
}

// ModelDocument is a notebook of object and morphism judgments over a
// theory.
type ModelDocument struct {
	Type     Type                           `json:"type"`
	Version  string                         `json:"version"`
	Name     string                         `json:"name"`
	TheoryID string                         `json:"theory"`
	Notebook notebook.Notebook[model.Boxed] `json:"notebook"`
}

func NewModelDocument(name, theoryID string) *ModelDocument {
	return &ModelDocument{
		Type:     TypeModel,
		Version:  CurrentVersion,
		Name:     name,
		TheoryID: theoryID,
	}
}

// Judgments returns the formal judgments in notebook order.
func (d *ModelDocument) Judgments() []model.Judgment {
	var out []model.Judgment
	for _, boxed := range d.Notebook.FormalContents() {
		if boxed.Judgment != nil {
			out = append(out, boxed.Judgment)
		}
	}
	return out
}

// DiagramDocument instantiates a model: its notebook declares objects
// and morphisms lying over the model's.
type DiagramDocument struct {
	Type     Type                                    `json:"type"`
	Version  string                                  `json:"version"`
	Name     string                                  `json:"name"`
	ModelRef ExternRef                               `json:"modelRef"`
	Notebook notebook.Notebook[BoxedDiagramJudgment] `json:"notebook"`
}

func NewDiagramDocument(name string, modelRef uuid.UUID) *DiagramDocument {
	return &DiagramDocument{
		Type:     TypeDiagram,
		Version:  CurrentVersion,
		Name:     name,
		ModelRef: NewExternRef(modelRef, TypeModel),
	}
}

func (d *DiagramDocument) Judgments() []DiagramJudgment {
	var out []DiagramJudgment
	for _, boxed := range d.Notebook.FormalContents() {
		if boxed.DiagramJudgment != nil {
			out = append(out, boxed.DiagramJudgment)
		}
	}
	return out
}

// ModelAnalysis is one analysis cell: a named analysis kind plus its
// opaque configuration, interpreted by the simulation environment, not
// by this server.
type ModelAnalysis struct {
	ID       uuid.UUID       `json:"id"`
	Analysis string          `json:"analysis"`
	Content  json.RawMessage `json:"content,omitempty"`
}

// AnalysisDocument holds analyses of one model.
type AnalysisDocument struct {
	Type     Type                             `json:"type"`
	Version  string                           `json:"version"`
	Name     string                           `json:"name"`
	ModelRef ExternRef                        `json:"modelRef"`
	Notebook notebook.Notebook[ModelAnalysis] `json:"notebook"`
}

func NewAnalysisDocument(name string, modelRef uuid.UUID) *AnalysisDocument {
	return &AnalysisDocument{
		Type:     TypeAnalysis,
		Version:  CurrentVersion,
		Name:     name,
		ModelRef: NewExternRef(modelRef, TypeModel),
	}
}

type envelope struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

// Sniff reads the type discriminator without decoding the body. A
// missing or unrecognized discriminator aborts the load; there is no
// partial interpretation of malformed documents.
func Sniff(raw json.RawMessage) (Type, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return "", fmt.Errorf("decode document envelope: %w", err)
	}
	switch Type(env.Type) {
	case TypeModel, TypeDiagram, TypeAnalysis:
		return Type(env.Type), nil
	case "":
		return "", ErrMissingType
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownType, env.Type)
	}
}

// Decode parses a stored document, migrating old versions forward.
func Decode(raw json.RawMessage) (any, error) {
	docType, err := Sniff(raw)
	if err != nil {
		return nil, err
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, err
	}
	switch env.Version {
	case "", "0":
		raw, err = migrateV0(raw)
		if err != nil {
			return nil, fmt.Errorf("migrate v0 document: %w", err)
		}
	case CurrentVersion:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVersion, env.Version)
	}

	switch docType {
	case TypeModel:
		var d ModelDocument
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode model document: %w", err)
		}
		return &d, nil
	case TypeDiagram:
		var d DiagramDocument
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode diagram document: %w", err)
		}
		if err := d.ModelRef.Validate(); err != nil {
			return nil, fmt.Errorf("diagram model ref: %w", err)
		}
		return &d, nil
	default:
		var d AnalysisDocument
		if err := json.Unmarshal(raw, &d); err != nil {
			return nil, fmt.Errorf("decode analysis document: %w", err)
		}
		if err := d.ModelRef.Validate(); err != nil {
			return nil, fmt.Errorf("analysis model ref: %w", err)
		}
		return &d, nil
	}
}

// migrateV0 rewrites a version-0 document in place: v0 predates the
// version field and stored the embedded model as a bare ref id under
// "model" rather than a tagged extern ref.
func migrateV0(raw json.RawMessage) (json.RawMessage, error) {
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	doc["version"] = CurrentVersion
	if bare, ok := doc["model"].(string); ok {
		refID, err := uuid.Parse(bare)
		if err != nil {
			return nil, fmt.Errorf("v0 model ref %q: %w", bare, err)
		}
		delete(doc, "model")
		doc["modelRef"] = NewExternRef(refID, TypeModel)
	}
	if _, ok := doc["notebook"]; !ok {
		doc["notebook"] = map[string]any{"cells": []any{}}
	}
	return json.Marshal(doc)
}
