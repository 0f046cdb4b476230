package document

import (
	"encoding/json"
	"errors"
	"fmt"

	"catbook/api/internal/theory"

	"github.com/google/uuid"
)

// DiagramJudgment is the closed union of formal declarations in a
// diagram notebook. Each declares an element lying over an object or
// morphism of the embedded model.
type DiagramJudgment interface {
	DiagramJudgmentID() uuid.UUID
	isDiagramJudgment()
}

// DiagramObjectDecl declares a diagram object over an object of the
// model. Over stays nil until the editor fills it in.
type DiagramObjectDecl struct {
	ID     uuid.UUID      `json:"id"`
	Name   string         `json:"name"`
	Over   *uuid.UUID     `json:"over"`
	ObType theory.TypeRef `json:"obType"`
}

func (d DiagramObjectDecl) DiagramJudgmentID() uuid.UUID { return d.ID }
func (DiagramObjectDecl) isDiagramJudgment()             {}

// DiagramMorphismDecl declares a diagram morphism between diagram
// objects, over a morphism type of the model's theory.
type DiagramMorphismDecl struct {
	ID      uuid.UUID      `json:"id"`
	Name    string         `json:"name"`
	Over    *uuid.UUID     `json:"over"`
	MorType theory.TypeRef `json:"morType"`
	Dom     *uuid.UUID     `json:"dom"`
	Cod     *uuid.UUID     `json:"cod"`
}

func (d DiagramMorphismDecl) DiagramJudgmentID() uuid.UUID { return d.ID }
func (DiagramMorphismDecl) isDiagramJudgment()             {}

// BoxedDiagramJudgment lets notebooks of diagram judgments round-trip
// through encoding/json.
type BoxedDiagramJudgment struct {
	DiagramJudgment
}

func (b BoxedDiagramJudgment) MarshalJSON() ([]byte, error) {
	switch v := b.DiagramJudgment.(type) {
	case DiagramObjectDecl:
		return json.Marshal(struct {
			Tag string `json:"tag"`
			DiagramObjectDecl
		}{"diagram-object", v})
	case DiagramMorphismDecl:
		return json.Marshal(struct {
			Tag string `json:"tag"`
			DiagramMorphismDecl
		}{"diagram-morphism", v})
	default:
		return nil, fmt.Errorf("unknown diagram judgment type %T", b.DiagramJudgment)
	}
}

func (b *BoxedDiagramJudgment) UnmarshalJSON(data []byte) error {
	var env struct {
		Tag string `json:"tag"`
	}
	if err := json.Unmarshal(data, &env); err != nil {
		return err
	}
	switch env.Tag {
	case "diagram-object":
		var d DiagramObjectDecl
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		if d.ID == uuid.Nil {
			return errors.New("diagram object missing id")
		}
		b.DiagramJudgment = d
		return nil
	case "diagram-morphism":
		var d DiagramMorphismDecl
		if err := json.Unmarshal(data, &d); err != nil {
			return err
		}
		if d.ID == uuid.Nil {
			return errors.New("diagram morphism missing id")
		}
		b.DiagramJudgment = d
		return nil
	default:
		return fmt.Errorf("unknown diagram judgment tag %q", env.Tag)
	}
}
