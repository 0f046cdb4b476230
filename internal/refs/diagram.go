package refs

import (
	"context"
	"fmt"
	"sync"

	"catbook/api/internal/document"
	"catbook/api/internal/livedoc"
	"catbook/api/internal/model"

	"github.com/google/uuid"
)

// Diagram validation error kinds.
const (
	ErrMissingOver  = "missing-over"
	ErrDanglingOver = "dangling-over"
	ErrDanglingDom  = "dangling-dom"
	ErrDanglingCod  = "dangling-cod"
)

// InvalidDiagramJudgment names one structural violation in a diagram
// notebook.
type InvalidDiagramJudgment struct {
	Judgment uuid.UUID `json:"judgment"`
	Kind     string    `json:"kind"`
	Message  string    `json:"message"`
}

func (e InvalidDiagramJudgment) Error() string {
	return fmt.Sprintf("judgment %s: %s: %s", e.Judgment, e.Kind, e.Message)
}

// LiveDiagram is a live diagram document composed with its embedded
// model. The diagram exclusively owns the model's live wrapper and its
// own validity is gated on the model's: while the model is Invalid or
// Unvalidated, diagram validation short-circuits to not computable.
type LiveDiagram struct {
	live  *livedoc.Live[document.DiagramDocument]
	model *LiveModel

	mu         sync.Mutex
	errs       []InvalidDiagramJudgment
	computable bool
	subs       map[int]func()
	nextSub    int

	cancelDoc   func()
	cancelModel func()
}

// Diagram resolves a diagram reference, then resolves the diagram's
// embedded model through the same resolver. A failure to resolve the
// model releases the diagram before returning.
func (r *Resolver) Diagram(ctx context.Context, ref document.ExternRef) (*LiveDiagram, error) {
	handle, err := r.retrieve(ctx, ref, document.TypeDiagram)
	if err != nil {
		return nil, err
	}
	live, err := livedoc.Bind(ctx, handle, document.DiagramCodec{})
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("bind diagram %s: %w", ref.RefID, err)
	}
	lm, err := r.Model(ctx, live.Doc().ModelRef)
	if err != nil {
		live.Close()
		return nil, err
	}

	d := &LiveDiagram{
		live:  live,
		model: lm,
		subs:  make(map[int]func()),
	}
	d.recompute()
	d.cancelDoc = live.Subscribe(func(*document.DiagramDocument) { d.onChanged() })
	d.cancelModel = lm.Subscribe(d.onChanged)
	return d, nil
}

func (d *LiveDiagram) Doc() *document.DiagramDocument { return d.live.Doc() }

// Model exposes the embedded model's live wrapper. The diagram owns it;
// callers must not close it.
func (d *LiveDiagram) Model() *LiveModel { return d.model }

// Validity reports the diagram's structural errors. Computable is false
// while the embedded model is not Valid; the error list is meaningful
// only when computable.
func (d *LiveDiagram) Validity() (errs []InvalidDiagramJudgment, computable bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.errs, d.computable
}

func (d *LiveDiagram) Change(mutate func(*document.DiagramDocument)) error {
	return d.live.Change(mutate)
}

// Subscribe registers a callback fired after the diagram's validity
// refreshes, whether triggered by a diagram edit or a model edit.
func (d *LiveDiagram) Subscribe(fn func()) (cancel func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	return func() {
		d.mu.Lock()
		delete(d.subs, id)
		d.mu.Unlock()
	}
}

// Close detaches the diagram, releasing the owned model wrapper before
// the diagram's own subscription.
func (d *LiveDiagram) Close() {
	if d.cancelModel != nil {
		d.cancelModel()
	}
	if d.cancelDoc != nil {
		d.cancelDoc()
	}
	d.model.Close()
	d.live.Close()
}

func (d *LiveDiagram) onChanged() {
	d.recompute()
	d.mu.Lock()
	subs := make([]func(), 0, len(d.subs))
	for _, fn := range d.subs {
		subs = append(subs, fn)
	}
	d.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

func (d *LiveDiagram) recompute() {
	errs, computable := validateDiagram(d.live.Doc(), d.model)
	d.mu.Lock()
	d.errs = errs
	d.computable = computable
	d.mu.Unlock()
}

// validateDiagram folds the diagram's judgments in notebook order
// against the embedded model's validated state. Diagram objects must
// lie over objects of the model; diagram morphism endpoints must name
// diagram objects declared anywhere in the notebook.
func validateDiagram(doc *document.DiagramDocument, lm *LiveModel) ([]InvalidDiagramJudgment, bool) {
	if lm.State() != model.Valid {
		return nil, false
	}
	vm := lm.Validated()

	judgments := doc.Judgments()
	objects := make(map[uuid.UUID]bool, len(judgments))
	for _, j := range judgments {
		if ob, ok := j.(document.DiagramObjectDecl); ok {
			objects[ob.ID] = true
		}
	}

	var errs []InvalidDiagramJudgment
	for _, j := range judgments {
		switch v := j.(type) {
		case document.DiagramObjectDecl:
			switch {
			case v.Over == nil:
				errs = append(errs, InvalidDiagramJudgment{v.ID, ErrMissingOver,
					"diagram object lies over nothing"})
			case !vm.Model.HasObject(*v.Over):
				errs = append(errs, InvalidDiagramJudgment{v.ID, ErrDanglingOver,
					fmt.Sprintf("no model object %s", *v.Over)})
			}
		case document.DiagramMorphismDecl:
			if v.Dom == nil || !objects[*v.Dom] {
				errs = append(errs, InvalidDiagramJudgment{v.ID, ErrDanglingDom,
					"domain is not a diagram object"})
			}
			if v.Cod == nil || !objects[*v.Cod] {
				errs = append(errs, InvalidDiagramJudgment{v.ID, ErrDanglingCod,
					"codomain is not a diagram object"})
			}
		}
	}
	return errs, true
}
