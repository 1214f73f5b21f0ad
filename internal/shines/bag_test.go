package shines

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/siohaza/shinerelay/internal/storage"
)

type fakeStore struct {
	entries []storage.BagEntry
	added   []storage.BagEntry
	cleared bool
	loadErr error
}

func (f *fakeStore) LoadBag() ([]storage.BagEntry, error) { return f.entries, f.loadErr }

func (f *fakeStore) AddToBag(e storage.BagEntry) error {
	f.added = append(f.added, e)
	return nil
}

func (f *fakeStore) ClearBag() error {
	f.cleared = true
	return nil
}

func TestNewBagLoadsStore(t *testing.T) {
	store := &fakeStore{entries: []storage.BagEntry{{ID: 4}, {ID: 2, IsGrand: true}}}

	b, err := NewBag(store, nil)
	if err != nil {
		t.Fatalf("new bag: %v", err)
	}
	if b.Len() != 2 || !b.Contains(2) || !b.Contains(4) {
		t.Fatalf("unexpected bag contents %v", b.Entries())
	}

	want := []storage.BagEntry{{ID: 2, IsGrand: true}, {ID: 4}}
	if !slices.Equal(b.Entries(), want) {
		t.Fatalf("expected sorted entries %v, got %v", want, b.Entries())
	}
}

func TestNewBagLoadError(t *testing.T) {
	if _, err := NewBag(&fakeStore{loadErr: errors.New("boom")}, nil); err == nil {
		t.Fatalf("expected load error")
	}
}

func TestBagAdd(t *testing.T) {
	store := &fakeStore{}
	b, _ := NewBag(store, nil)

	if !b.Add(5, false) {
		t.Fatalf("first add should be new")
	}
	if b.Add(5, false) {
		t.Fatalf("duplicate add should not be new")
	}
	if b.Add(5, true) {
		t.Fatalf("grand upgrade is not a new shine")
	}
	if len(store.added) != 2 || !store.added[1].IsGrand {
		t.Fatalf("expected insert and grand upgrade to persist, got %v", store.added)
	}
}

func TestBagMissingAndClear(t *testing.T) {
	store := &fakeStore{}
	b, _ := NewBag(store, nil)
	for _, id := range []int32{1, 2, 3} {
		b.Add(id, false)
	}

	have := map[int32]bool{2: true}
	missing := b.Missing(func(id int32) bool { return have[id] })
	if !slices.Equal(missing, []storage.BagEntry{{ID: 1}, {ID: 3}}) {
		t.Fatalf("unexpected missing set %v", missing)
	}

	if err := b.Clear(); err != nil {
		t.Fatalf("clear: %v", err)
	}
	if b.Len() != 0 || !store.cleared {
		t.Fatalf("expected empty, persisted clear")
	}
}

func TestMemoryOnlyBag(t *testing.T) {
	b, err := NewBag(nil, nil)
	if err != nil {
		t.Fatalf("new bag: %v", err)
	}
	b.Add(1, true)
	if !b.Contains(1) {
		t.Fatalf("expected shine in memory bag")
	}
}

// gatedStore holds AddToBag until release is closed.
type gatedStore struct {
	mu      sync.Mutex
	ids     map[int32]bool
	started chan struct{}
	release chan struct{}
}

func (g *gatedStore) LoadBag() ([]storage.BagEntry, error) { return nil, nil }

func (g *gatedStore) AddToBag(e storage.BagEntry) error {
	close(g.started)
	<-g.release

	g.mu.Lock()
	defer g.mu.Unlock()
	g.ids[e.ID] = e.IsGrand
	return nil
}

func (g *gatedStore) ClearBag() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ids = make(map[int32]bool)
	return nil
}

func TestBagClearWaitsForPendingAdd(t *testing.T) {
	store := &gatedStore{
		ids:     make(map[int32]bool),
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	b, _ := NewBag(store, nil)

	added := make(chan struct{})
	go func() {
		b.Add(7, false)
		close(added)
	}()
	<-store.started

	cleared := make(chan error, 1)
	go func() {
		cleared <- b.Clear()
	}()

	select {
	case <-cleared:
		t.Fatalf("Clear finished while a store write was still running")
	case <-time.After(50 * time.Millisecond):
	}

	close(store.release)
	<-added
	if err := <-cleared; err != nil {
		t.Fatalf("clear: %v", err)
	}

	store.mu.Lock()
	defer store.mu.Unlock()
	if b.Len() != 0 || len(store.ids) != 0 {
		t.Fatalf("bag and store disagree after clear: bag %v, store %v", b.Entries(), store.ids)
	}
}
