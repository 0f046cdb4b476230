package model

import (
	"fmt"

	"catbook/api/internal/theory"

	"github.com/google/uuid"
)

// ErrorKind classifies a structural violation found while validating.
type ErrorKind string

const (
	ErrDuplicateID    ErrorKind = "duplicate-id"
	ErrUnknownObType  ErrorKind = "unknown-ob-type"
	ErrUnknownMorType ErrorKind = "unknown-mor-type"
	ErrMissingDom     ErrorKind = "missing-dom"
	ErrMissingCod     ErrorKind = "missing-cod"
	ErrDanglingDom    ErrorKind = "dangling-dom"
	ErrDanglingCod    ErrorKind = "dangling-cod"
)

// InvalidJudgment reports one violation, naming the offending judgment.
type InvalidJudgment struct {
	Judgment uuid.UUID `json:"judgment"`
	Kind     ErrorKind `json:"kind"`
	Message  string    `json:"message"`
}

func (e InvalidJudgment) Error() string {
	return fmt.Sprintf("judgment %s: %s (%s)", e.Judgment, e.Message, e.Kind)
}

// DblModel is the theory-native model built by folding judgments in
// notebook order. Invalid judgments are recorded but still present, so
// the model always accounts for every declaration.
type DblModel struct {
	theory  *theory.Theory
	objects []ObjectDecl
	mors    []MorphismDecl
	obByID  map[uuid.UUID]int
	morByID map[uuid.UUID]int
}

func (m *DblModel) Theory() *theory.Theory    { return m.theory }
func (m *DblModel) Objects() []ObjectDecl     { return m.objects }
func (m *DblModel) Morphisms() []MorphismDecl { return m.mors }

func (m *DblModel) HasObject(id uuid.UUID) bool {
	_, ok := m.obByID[id]
	return ok
}

func (m *DblModel) Object(id uuid.UUID) (ObjectDecl, bool) {
	i, ok := m.obByID[id]
	if !ok {
		return ObjectDecl{}, false
	}
	return m.objects[i], true
}

func (m *DblModel) Morphism(id uuid.UUID) (MorphismDecl, bool) {
	i, ok := m.morByID[id]
	if !ok {
		return MorphismDecl{}, false
	}
	return m.mors[i], true
}

// ValidatedModel pairs the built model with the violations found. The
// result is Err exactly when Errs is nonempty.
type ValidatedModel struct {
	Model *DblModel
	Errs  []InvalidJudgment
}

func (vm *ValidatedModel) Ok() bool { return len(vm.Errs) == 0 }

// ErrsFor returns the violations recorded against one judgment.
func (vm *ValidatedModel) ErrsFor(id uuid.UUID) []InvalidJudgment {
	var out []InvalidJudgment
	for _, e := range vm.Errs {
		if e.Judgment == id {
			out = append(out, e)
		}
	}
	return out
}

// Validate folds judgments in order into a model of the theory. Objects
// are added first-come; morphisms reference previously declared objects
// by id. A morphism with a nil or unresolved endpoint is kept and
// reported, never dropped.
//
// The second return is false when the theory's kind has no validator, in
// which case the first return is nil and the caller must treat the model
// as permanently unvalidated.
func Validate(th *theory.Theory, judgments []Judgment) (*ValidatedModel, bool) {
	if th == nil || th.Kind != theory.KindDiscrete {
		return nil, false
	}

	m := &DblModel{
		theory:  th,
		obByID:  make(map[uuid.UUID]int),
		morByID: make(map[uuid.UUID]int),
	}
	var errs []InvalidJudgment

	seen := make(map[uuid.UUID]struct{})
	for _, j := range judgments {
		id := j.JudgmentID()
		if _, dup := seen[id]; dup {
			errs = append(errs, InvalidJudgment{
				Judgment: id,
				Kind:     ErrDuplicateID,
				Message:  "judgment id already declared",
			})
			continue
		}
		seen[id] = struct{}{}

		switch d := j.(type) {
		case ObjectDecl:
			if !th.HasObType(d.ObType) {
				errs = append(errs, InvalidJudgment{
					Judgment: d.ID,
					Kind:     ErrUnknownObType,
					Message:  fmt.Sprintf("theory %s has no object type %q", th.ID, d.ObType),
				})
			}
			m.obByID[d.ID] = len(m.objects)
			m.objects = append(m.objects, d)

		case MorphismDecl:
			if !th.HasMorType(d.MorType) {
				errs = append(errs, InvalidJudgment{
					Judgment: d.ID,
					Kind:     ErrUnknownMorType,
					Message:  fmt.Sprintf("theory %s has no morphism type %q", th.ID, d.MorType),
				})
			}
			errs = append(errs, checkEndpoint(m, d.ID, d.Dom, ErrMissingDom, ErrDanglingDom)...)
			errs = append(errs, checkEndpoint(m, d.ID, d.Cod, ErrMissingCod, ErrDanglingCod)...)
			m.morByID[d.ID] = len(m.mors)
			m.mors = append(m.mors, d)
		}
	}

	return &ValidatedModel{Model: m, Errs: errs}, true
}

func checkEndpoint(m *DblModel, mor uuid.UUID, end *uuid.UUID, missing, dangling ErrorKind) []InvalidJudgment {
	if end == nil {
		return []InvalidJudgment{{
			Judgment: mor,
			Kind:     missing,
			Message:  "endpoint not yet filled in",
		}}
	}
	if !m.HasObject(*end) {
		return []InvalidJudgment{{
			Judgment: mor,
			Kind:     dangling,
			Message:  fmt.Sprintf("endpoint references unknown object %s", *end),
		}}
	}
	return nil
}

// State is the validation state of a live model.
type State int

const (
	// Unvalidated means no validator exists for the theory's kind. A
	// model on such a theory stays Unvalidated no matter how it is
	// edited.
	Unvalidated State = iota
	Valid
	Invalid
)

func (s State) String() string {
	switch s {
	case Valid:
		return "valid"
	case Invalid:
		return "invalid"
	default:
		return "unvalidated"
	}
}

// StateOf maps a Validate result onto the state machine.
func StateOf(vm *ValidatedModel, supported bool) State {
	if !supported || vm == nil {
		return Unvalidated
	}
	if vm.Ok() {
		return Valid
	}
	return Invalid
}
