package peer

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

var (
	ErrFull    = errors.New("server full")
	ErrPending = errors.New("handshake already in progress for this id")
)

// Registry maps player ids to their live connection. It holds at most one
// entry per id; a reconnect replaces the entry instead of merging into it.
type Registry struct {
	peers   map[uuid.UUID]*Peer
	pending map[uuid.UUID]struct{}
	mu      sync.RWMutex
}

func NewRegistry() *Registry {
	return &Registry{
		peers:   make(map[uuid.UUID]*Peer),
		pending: make(map[uuid.UUID]struct{}),
	}
}

// Reserve claims a slot for id while its handshake completes. The capacity
// check and the claim happen under one write lock, so concurrent handshakes
// can never overshoot maxPeers. Any stale entry for id is removed and
// returned for the caller to close.
func (r *Registry) Reserve(id uuid.UUID, maxPeers int) (*Peer, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, busy := r.pending[id]; busy {
		return nil, ErrPending
	}

	if countConnected(r.peers)+len(r.pending) >= maxPeers {
		return nil, ErrFull
	}

	stale := r.peers[id]
	delete(r.peers, id)
	r.pending[id] = struct{}{}

	return stale, nil
}

// Release drops a reservation that will not be committed.
func (r *Registry) Release(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.pending, id)
}

// Commit turns the reservation for p.ID into a connected entry.
func (r *Registry) Commit(p *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.pending, p.ID)
	p.connected.Store(true)
	r.peers[p.ID] = p
}

// Disconnect marks p as no longer connected. It reports false when p was
// already replaced by a newer connection or already disconnected.
func (r *Registry) Disconnect(p *Peer) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.peers[p.ID]; !ok || cur != p {
		return false
	}
	return p.connected.Swap(false)
}

func (r *Registry) Get(id uuid.UUID) (*Peer, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.peers[id]
	return p, ok
}

func (r *Registry) ConnectedCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return countConnected(r.peers)
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.peers)
}

// Connected returns a snapshot of the connected peers. Callers send to the
// snapshot after the lock is released.
func (r *Registry) Connected() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()

	peers := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		if p.Connected() {
			peers = append(peers, p)
		}
	}
	return peers
}

// countConnected skips disconnected entries; it never resets the tally, so the
// result does not depend on map iteration order.
func countConnected(peers map[uuid.UUID]*Peer) int {
	n := 0
	for _, p := range peers {
		if p.Connected() {
			n++
		}
	}
	return n
}
