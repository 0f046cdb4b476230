// Package model defines the formal judgments that populate a model
// notebook and validates them against a theory.
package model

import (
	"encoding/json"
	"errors"
	"fmt"

	"catbook/api/internal/theory"

	"github.com/google/uuid"
)

// Judgment is the closed union of formal declarations in a model
// notebook. Ids are client-generated, globally unique, and never
// reassigned.
type Judgment interface {
	JudgmentID() uuid.UUID
	Label() string
	isJudgment()
}

// ObjectDecl declares an object of the model with a type drawn from the
// theory.
type ObjectDecl struct {
	ID     uuid.UUID      `json:"id"`
	Name   string         `json:"name"`
	ObType theory.TypeRef `json:"obType"`
}

func (d ObjectDecl) JudgmentID() uuid.UUID { return d.ID }
func (d ObjectDecl) Label() string         { return "Object" }
func (ObjectDecl) isJudgment()             {}

// MorphismDecl declares a morphism. Dom and Cod stay nil until the
// editor fills them in; a nil or dangling endpoint is a validation
// error, not a structural impossibility.
type MorphismDecl struct {
	ID      uuid.UUID      `json:"id"`
	Name    string         `json:"name"`
	MorType theory.TypeRef `json:"morType"`
	Dom     *uuid.UUID     `json:"dom"`
	Cod     *uuid.UUID     `json:"cod"`
}

func (d MorphismDecl) JudgmentID() uuid.UUID { return d.ID }
func (d MorphismDecl) Label() string         { return "Morphism" }
func (MorphismDecl) isJudgment()             {}

type judgmentEnvelope struct {
	Tag string `json:"tag"`
}

// MarshalJudgment encodes a judgment with its tag discriminator.
func MarshalJudgment(j Judgment) ([]byte, error) {
	switch v := j.(type) {
	case ObjectDecl:
		return json.Marshal(struct {
			Tag string `json:"tag"`
			ObjectDecl
		}{"object", v})
	case MorphismDecl:
		return json.Marshal(struct {
			Tag string `json:"tag"`
			MorphismDecl
		}{"morphism", v})
	default:
		return nil, fmt.Errorf("unknown judgment type %T", j)
	}
}

// UnmarshalJudgment decodes a tagged judgment.
func UnmarshalJudgment(data []byte) (Judgment, error) {
	var env judgmentEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}
	switch env.Tag {
	case "object":
		var d ObjectDecl
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		if d.ID == uuid.Nil {
			return nil, errors.New("object judgment missing id")
		}
		return d, nil
	case "morphism":
		var d MorphismDecl
		if err := json.Unmarshal(data, &d); err != nil {
			return nil, err
		}
		if d.ID == uuid.Nil {
			return nil, errors.New("morphism judgment missing id")
		}
		return d, nil
	default:
		return nil, fmt.Errorf("unknown judgment tag %q", env.Tag)
	}
}

// Boxed wraps a Judgment so notebooks of judgments can round-trip
// through encoding/json, which cannot unmarshal into an interface.
type Boxed struct {
	Judgment
}

func (b Boxed) MarshalJSON() ([]byte, error) {
	return MarshalJudgment(b.Judgment)
}

func (b *Boxed) UnmarshalJSON(data []byte) error {
	j, err := UnmarshalJudgment(data)
	if err != nil {
		return err
	}
	b.Judgment = j
	return nil
}
