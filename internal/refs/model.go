package refs

import (
	"context"
	"fmt"
	"sync"

	"catbook/api/internal/document"
	"catbook/api/internal/livedoc"
	"catbook/api/internal/model"
	"catbook/api/internal/theory"
)

// LiveModel is a live model document together with its derived state:
// the validation result and the object index. Both are recomputed
// synchronously whenever the notebook's formal judgments change;
// rich-text edits leave them untouched. When the model's theory kind is
// unsupported, the state stays Unvalidated permanently.
type LiveModel struct {
	live   *livedoc.Live[document.ModelDocument]
	theory *theory.Theory

	mu          sync.Mutex
	validated   *model.ValidatedModel
	state       model.State
	index       *model.ObjectIndex
	fingerprint string
	subs        map[int]func()
	nextSub     int

	cancel func()
}

// Model resolves a model reference and wraps it live. The theory is
// looked up once at bind time; an unknown theory id leaves the model
// permanently Unvalidated, same as an unsupported theory kind.
func (r *Resolver) Model(ctx context.Context, ref document.ExternRef) (*LiveModel, error) {
	handle, err := r.retrieve(ctx, ref, document.TypeModel)
	if err != nil {
		return nil, err
	}
	live, err := livedoc.Bind(ctx, handle, document.ModelCodec{})
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("bind model %s: %w", ref.RefID, err)
	}

	th, err := r.theories.Get(live.Doc().TheoryID)
	if err != nil {
		th = nil
	}
	lm := &LiveModel{
		live:   live,
		theory: th,
		subs:   make(map[int]func()),
	}
	lm.recompute(live.Doc())
	lm.cancel = live.Subscribe(lm.onChanged)
	return lm, nil
}

// Doc returns the current document snapshot.
func (m *LiveModel) Doc() *document.ModelDocument { return m.live.Doc() }

// Theory returns the model's theory, or nil when the theory id is
// unknown to the registry.
func (m *LiveModel) Theory() *theory.Theory { return m.theory }

// Validated returns the latest validation result. It is nil while the
// state is Unvalidated.
func (m *LiveModel) Validated() *model.ValidatedModel {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.validated
}

func (m *LiveModel) State() model.State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Index returns the current id-to-name mapping for the model's
// objects. Consumers must read through it on every use rather than
// caching names.
func (m *LiveModel) Index() *model.ObjectIndex {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.index
}

// Change applies a structural mutation to the document. Derived state
// refreshes through the change subscription before Change returns, the
// store being in-process; against a remote store it refreshes when the
// confirmed change arrives.
func (m *LiveModel) Change(mutate func(*document.ModelDocument)) error {
	return m.live.Change(mutate)
}

// Subscribe registers a callback fired after derived state refreshes.
func (m *LiveModel) Subscribe(fn func()) (cancel func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		delete(m.subs, id)
		m.mu.Unlock()
	}
}

// Close detaches from the document. No recomputation fires afterwards.
func (m *LiveModel) Close() {
	if m.cancel != nil {
		m.cancel()
	}
	m.live.Close()
}

func (m *LiveModel) onChanged(doc *document.ModelDocument) {
	if !m.recompute(doc) {
		return
	}
	m.mu.Lock()
	subs := make([]func(), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	m.mu.Unlock()
	for _, fn := range subs {
		fn()
	}
}

// recompute re-derives validation and the object index when the formal
// judgments changed since the last derivation. It reports whether
// derived state was refreshed.
func (m *LiveModel) recompute(doc *document.ModelDocument) bool {
	judgments := doc.Judgments()
	print := judgmentFingerprint(judgments)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.fingerprint == print && m.index != nil {
		return false
	}
	vm, supported := model.Validate(m.theory, judgments)
	m.validated = vm
	m.state = model.StateOf(vm, supported)
	m.index = model.BuildIndex(judgments)
	m.fingerprint = print
	return true
}

func judgmentFingerprint(judgments []model.Judgment) string {
	var b []byte
	for _, j := range judgments {
		raw, err := model.MarshalJudgment(j)
		if err != nil {
			continue
		}
		b = append(b, raw...)
		b = append(b, '\n')
	}
	return string(b)
}
