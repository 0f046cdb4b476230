package refs

import (
	"context"
	"fmt"
	"sync"

	"catbook/api/internal/document"
	"catbook/api/internal/livedoc"
	"catbook/api/internal/model"
)

// LiveAnalysis is a live analysis document composed with its embedded
// model. Analysis content is opaque to the server; the only derived
// fact is whether the analyses are computable, which requires the model
// to be Valid.
type LiveAnalysis struct {
	live  *livedoc.Live[document.AnalysisDocument]
	model *LiveModel

	mu      sync.Mutex
	subs    map[int]func()
	nextSub int

	cancelModel func()
}

// Analysis resolves an analysis reference and the model it analyzes.
func (r *Resolver) Analysis(ctx context.Context, ref document.ExternRef) (*LiveAnalysis, error) {
	handle, err := r.retrieve(ctx, ref, document.TypeAnalysis)
	if err != nil {
		return nil, err
	}
	live, err := livedoc.Bind(ctx, handle, document.AnalysisCodec{})
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("bind analysis %s: %w", ref.RefID, err)
	}
	lm, err := r.Model(ctx, live.Doc().ModelRef)
	if err != nil {
		live.Close()
		return nil, err
	}
	a := &LiveAnalysis{live: live, model: lm, subs: make(map[int]func())}
	a.cancelModel = lm.Subscribe(a.onModelChanged)
	return a, nil
}

func (a *LiveAnalysis) Doc() *document.AnalysisDocument { return a.live.Doc() }

// Model exposes the embedded model's live wrapper. The analysis owns
// it; callers must not close it.
func (a *LiveAnalysis) Model() *LiveModel { return a.model }

// Computable reports whether the analyses can run: the embedded model
// must currently be Valid.
func (a *LiveAnalysis) Computable() bool {
	return a.model.State() == model.Valid
}

func (a *LiveAnalysis) Change(mutate func(*document.AnalysisDocument)) error {
	return a.live.Change(mutate)
}

// Subscribe registers a callback fired after the embedded model
// revalidates, when Computable may have flipped.
func (a *LiveAnalysis) Subscribe(fn func()) (cancel func()) {
	a.mu.Lock()
	defer a.mu.Unlock()
	id := a.nextSub
	a.nextSub++
	a.subs[id] = fn
	return func() {
		a.mu.Lock()
		delete(a.subs, id)
		a.mu.Unlock()
	}
}

// Close releases the owned model wrapper, then the analysis document.
func (a *LiveAnalysis) Close() {
	if a.cancelModel != nil {
		a.cancelModel()
	}
	a.model.Close()
	a.live.Close()
}

func (a *LiveAnalysis) onModelChanged() {
	a.mu.Lock()
	subs := make([]func(), 0, len(a.subs))
	for _, fn := range a.subs {
		subs = append(subs, fn)
	}
	a.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}
