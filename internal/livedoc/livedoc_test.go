package livedoc

import (
	"context"
	"errors"
	"testing"

	"catbook/api/internal/document"
	"catbook/api/internal/model"
	"catbook/api/internal/notebook"
	"catbook/api/internal/perm"
	"catbook/api/internal/replidoc"

	"github.com/google/uuid"
)

func newModelRef(t *testing.T, store *replidoc.MemStore) uuid.UUID {
	t.Helper()
	flat, err := document.ModelCodec{}.Flatten(document.NewModelDocument("food web", "simple-olog"))
	if err != nil {
		t.Fatal(err)
	}
	refID, err := store.Create(context.Background(), flat, perm.Permissions{
		Owner:  "alice",
		Anyone: perm.Read,
	})
	if err != nil {
		t.Fatal(err)
	}
	return refID
}

func bindModel(t *testing.T, store *replidoc.MemStore, refID uuid.UUID, user string) *Live[document.ModelDocument] {
	t.Helper()
	_, handle, err := store.Retrieve(context.Background(), refID, user)
	if err != nil {
		t.Fatal(err)
	}
	live, err := Bind(context.Background(), handle, document.ModelCodec{})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(live.Close)
	return live
}

func TestBindDecodesSnapshot(t *testing.T) {
	store := replidoc.NewMemStore()
	refID := newModelRef(t, store)

	live := bindModel(t, store, refID, "alice")
	if got := live.Doc().Name; got != "food web" {
		t.Fatalf("name = %q", got)
	}
	if got := live.Doc().TheoryID; got != "simple-olog" {
		t.Fatalf("theory = %q", got)
	}
	if live.RefID() != refID {
		t.Fatalf("ref id = %s, want %s", live.RefID(), refID)
	}
}

func TestChangePropagatesAcrossReplicas(t *testing.T) {
	store := replidoc.NewMemStore()
	refID := newModelRef(t, store)

	writer := bindModel(t, store, refID, "alice")
	reader := bindModel(t, store, refID, "bob")

	var notified *document.ModelDocument
	cancel := reader.Subscribe(func(d *document.ModelDocument) { notified = d })
	defer cancel()

	obID := uuid.New()
	err := writer.Change(func(d *document.ModelDocument) {
		d.Name = "predation"
		cell := notebook.NewFormal(model.Boxed{Judgment: model.ObjectDecl{
			ID: obID, Name: "Lion", ObType: "Type",
		}})
		if err := d.Notebook.InsertAt(0, cell); err != nil {
			t.Fatal(err)
		}
	})
	if err != nil {
		t.Fatal(err)
	}

	if got := writer.Doc().Name; got != "predation" {
		t.Fatalf("writer name = %q", got)
	}
	if notified == nil {
		t.Fatal("reader subscriber never fired")
	}
	if got := reader.Doc().Name; got != "predation" {
		t.Fatalf("reader name = %q", got)
	}
	js := reader.Doc().Judgments()
	if len(js) != 1 || js[0].JudgmentID() != obID {
		t.Fatalf("reader judgments = %+v", js)
	}
}

func TestRejectedChangeRollsBack(t *testing.T) {
	store := replidoc.NewMemStore()
	refID := newModelRef(t, store)

	reader := bindModel(t, store, refID, "bob")

	err := reader.Change(func(d *document.ModelDocument) { d.Name = "vandalized" })
	if !errors.Is(err, replidoc.ErrPermissionDenied) {
		t.Fatalf("err = %v, want ErrPermissionDenied", err)
	}
	if got := reader.Doc().Name; got != "food web" {
		t.Fatalf("name after rollback = %q", got)
	}
}

func TestChangeAfterClose(t *testing.T) {
	store := replidoc.NewMemStore()
	refID := newModelRef(t, store)

	live := bindModel(t, store, refID, "alice")
	live.Close()
	err := live.Change(func(d *document.ModelDocument) { d.Name = "x" })
	if !errors.Is(err, ErrClosed) {
		t.Fatalf("err = %v, want ErrClosed", err)
	}
	// Closing twice is a no-op.
	live.Close()
}

func TestCancelledSubscriberStops(t *testing.T) {
	store := replidoc.NewMemStore()
	refID := newModelRef(t, store)

	writer := bindModel(t, store, refID, "alice")
	watcher := bindModel(t, store, refID, "bob")

	fired := 0
	cancel := watcher.Subscribe(func(*document.ModelDocument) { fired++ })

	if err := writer.Change(func(d *document.ModelDocument) { d.Name = "one" }); err != nil {
		t.Fatal(err)
	}
	cancel()
	if err := writer.Change(func(d *document.ModelDocument) { d.Name = "two" }); err != nil {
		t.Fatal(err)
	}
	if fired != 1 {
		t.Fatalf("subscriber fired %d times, want 1", fired)
	}
}
