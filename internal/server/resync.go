package server

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siohaza/shinerelay/internal/callbacks"
	"github.com/siohaza/shinerelay/internal/protocol"
)

var (
	errUnknownPlayer = errors.New("unknown player")
	errNotConnected  = errors.New("player not connected")
	errSpeedrunning  = errors.New("player is in speedrun mode")
)

// shineResync sends a player the shines it missed once it leaves speedrun
// mode, after a delay. Leaving or restarting the speedrun cancels it.
type shineResync struct {
	callbacks.DefaultCallbacks

	server *Server
	delay  time.Duration
	timers map[uuid.UUID]*time.Timer
	mu     sync.Mutex
}

func newShineResync(s *Server, delay time.Duration) *shineResync {
	return &shineResync{
		server: s,
		delay:  delay,
		timers: make(map[uuid.UUID]*time.Timer),
	}
}

func (r *shineResync) OnSpeedrunEnd(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[id]; ok {
		t.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(r.delay, func() {
		r.mu.Lock()
		current := r.timers[id] == timer
		if current {
			delete(r.timers, id)
		}
		r.mu.Unlock()

		if !current {
			return
		}

		n, err := r.server.SyncShines(id)
		if err != nil {
			r.server.logger.Debug("shine resync skipped", zap.Stringer("player", id), zap.Error(err))
			return
		}
		r.server.logger.Info("shines resynced", zap.Stringer("player", id), zap.Int("count", n))
	})
	r.timers[id] = timer
}

func (r *shineResync) OnSpeedrunStart(id uuid.UUID) {
	r.cancel(id)
}

func (r *shineResync) OnDisconnect(id uuid.UUID) {
	r.cancel(id)
}

func (r *shineResync) cancel(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, ok := r.timers[id]; ok {
		t.Stop()
		delete(r.timers, id)
	}
}

func (r *shineResync) pending() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.timers)
}

func (r *shineResync) stopAll() {
	r.mu.Lock()
	defer r.mu.Unlock()

	for id, t := range r.timers {
		t.Stop()
		delete(r.timers, id)
	}
}

// SyncShines sends the connected player every bag shine missing from its
// shine-sync set and records them there. It returns how many were sent.
func (s *Server) SyncShines(id uuid.UUID) (int, error) {
	pl, ok := s.players.Get(id)
	if !ok {
		return 0, errUnknownPlayer
	}

	p, ok := s.peers.Get(id)
	if !ok || !p.Connected() {
		return 0, errNotConnected
	}

	if pl.IsSpeedrunning() {
		return 0, errSpeedrunning
	}

	sent := 0
	for _, e := range s.bag.Missing(pl.HasShine) {
		if err := p.Send(protocol.NewPacket(uuid.Nil, protocol.Shine{ID: e.ID, IsGrand: e.IsGrand})); err != nil {
			return sent, fmt.Errorf("sending shine %d: %w", e.ID, err)
		}
		pl.AddShine(e.ID)
		sent++
	}

	return sent, nil
}
