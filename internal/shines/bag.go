package shines

import (
	"cmp"
	"slices"
	"sync"

	"go.uber.org/zap"

	"github.com/siohaza/shinerelay/internal/storage"
)

// BagStore is the durable side of the bag. A nil BagStore keeps the bag in
// memory only.
type BagStore interface {
	LoadBag() ([]storage.BagEntry, error)
	AddToBag(e storage.BagEntry) error
	ClearBag() error
}

// Bag is the server-wide set of collected shines.
type Bag struct {
	shines map[int32]bool
	store  BagStore
	logger *zap.Logger
	mu     sync.RWMutex
}

func NewBag(store BagStore, logger *zap.Logger) (*Bag, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Bag{
		shines: make(map[int32]bool),
		store:  store,
		logger: logger,
	}

	if store != nil {
		entries, err := store.LoadBag()
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			b.shines[e.ID] = e.IsGrand
		}
		logger.Info("loaded shine bag", zap.Int("count", len(entries)))
	}

	return b, nil
}

// Add records a shine. It reports whether the shine was new. The store write
// happens under the bag lock so a concurrent Clear cannot be undone by it.
func (b *Bag) Add(id int32, isGrand bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	grand, exists := b.shines[id]
	if exists && (grand || !isGrand) {
		return false
	}
	b.shines[id] = isGrand

	if b.store != nil {
		if err := b.store.AddToBag(storage.BagEntry{ID: id, IsGrand: isGrand}); err != nil {
			b.logger.Warn("failed to persist shine", zap.Int32("shine", id), zap.Error(err))
		}
	}
	return !exists
}

func (b *Bag) Contains(id int32) bool {
	b.mu.RLock()
	defer b.mu.RUnlock()
	_, ok := b.shines[id]
	return ok
}

func (b *Bag) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.shines)
}

func (b *Bag) Entries() []storage.BagEntry {
	b.mu.RLock()
	defer b.mu.RUnlock()

	entries := make([]storage.BagEntry, 0, len(b.shines))
	for id, grand := range b.shines {
		entries = append(entries, storage.BagEntry{ID: id, IsGrand: grand})
	}
	slices.SortFunc(entries, func(x, y storage.BagEntry) int {
		return cmp.Compare(x.ID, y.ID)
	})
	return entries
}

func (b *Bag) Clear() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.shines = make(map[int32]bool)
	if b.store != nil {
		return b.store.ClearBag()
	}
	return nil
}

// Missing returns the bag entries not present in have.
func (b *Bag) Missing(have func(id int32) bool) []storage.BagEntry {
	var missing []storage.BagEntry
	for _, e := range b.Entries() {
		if !have(e.ID) {
			missing = append(missing, e)
		}
	}
	return missing
}
