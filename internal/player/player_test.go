package player

import (
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/siohaza/shinerelay/internal/protocol"
)

type memoryPersister struct {
	mu     sync.Mutex
	saved  map[uuid.UUID][]int32
	writes int
}

func newMemoryPersister() *memoryPersister {
	return &memoryPersister{saved: make(map[uuid.UUID][]int32)}
}

func (m *memoryPersister) SavePlayerShines(id uuid.UUID, shines []int32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.saved[id] = slices.Clone(shines)
	m.writes++
	return nil
}

func (m *memoryPersister) LoadPlayerShines(id uuid.UUID) ([]int32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.saved[id]), nil
}

func (m *memoryPersister) get(id uuid.UUID) ([]int32, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	shines, ok := m.saved[id]
	return slices.Clone(shines), ok
}

func gamePacket(id uuid.UUID, stage string, scenario uint8) (protocol.Packet, protocol.Game) {
	game := protocol.Game{Scenario: scenario, Stage: stage}
	return protocol.NewPacket(id, game), game
}

func TestApplyGameCapRoomStartsSpeedrun(t *testing.T) {
	p := New(uuid.New(), "Mario")
	p.AddShine(7)

	update := p.ApplyGame(gamePacket(p.ID, CapRoomStage, 0))
	if !update.SpeedrunStarted {
		t.Fatalf("expected speedrun to start")
	}
	if !p.IsSpeedrunning() {
		t.Fatalf("expected speedrun flag")
	}
	if len(p.ShineIDs()) != 0 {
		t.Fatalf("expected shine-sync set to be cleared, got %v", p.ShineIDs())
	}
	if p.AddShine(9) {
		t.Fatalf("shines must not sync during speedrun")
	}

	scenario, ok := p.GetScenario()
	if !ok || scenario != 0 {
		t.Fatalf("unexpected scenario %d %v", scenario, ok)
	}
	if _, ok := p.GetLastGamePacket(); !ok {
		t.Fatalf("expected last game packet to be stored")
	}
}

func TestApplyGameCapRoomOtherScenarioKeepsSync(t *testing.T) {
	p := New(uuid.New(), "Mario")
	p.AddShine(7)

	update := p.ApplyGame(gamePacket(p.ID, CapRoomStage, 1))
	if update.SpeedrunStarted || p.IsSpeedrunning() {
		t.Fatalf("scenario 1 must not start speedrun mode")
	}
	if !p.HasShine(7) {
		t.Fatalf("shine-sync set should be untouched")
	}
}

func TestApplyGameWaterfallEndsSpeedrun(t *testing.T) {
	p := New(uuid.New(), "Mario")
	p.ApplyGame(gamePacket(p.ID, CapRoomStage, 0))

	update := p.ApplyGame(gamePacket(p.ID, WaterfallStage, 1))
	if !update.SpeedrunEnded {
		t.Fatalf("expected speedrun end transition")
	}
	if p.IsSpeedrunning() {
		t.Fatalf("expected speedrun flag cleared")
	}

	update = p.ApplyGame(gamePacket(p.ID, WaterfallStage, 2))
	if update.SpeedrunEnded {
		t.Fatalf("second waterfall entry is not a transition")
	}
}

func TestManagerAddRejectsDuplicate(t *testing.T) {
	m := NewManager(nil, nil)
	id := uuid.New()

	if err := m.Add(New(id, "Mario")); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := m.Add(New(id, "Impostor")); !errors.Is(err, ErrExists) {
		t.Fatalf("expected ErrExists, got %v", err)
	}

	p, ok := m.Get(id)
	if !ok || p.GetName() != "Mario" {
		t.Fatalf("original player should be kept")
	}
	if m.Count() != 1 {
		t.Fatalf("expected one player, got %d", m.Count())
	}
}

func TestManagerLastGamePackets(t *testing.T) {
	m := NewManager(nil, nil)

	a := New(uuid.New(), "Mario")
	b := New(uuid.New(), "Luigi")
	c := New(uuid.New(), "Wario")
	for _, p := range []*Player{a, b, c} {
		if err := m.Add(p); err != nil {
			t.Fatalf("add: %v", err)
		}
	}

	a.ApplyGame(gamePacket(a.ID, "SandWorldHomeStage", 1))
	a.ApplyGame(gamePacket(a.ID, "LakeWorldHomeStage", 2))
	b.ApplyGame(gamePacket(b.ID, "ForestWorldHomeStage", 3))

	packets := m.LastGamePackets()
	if len(packets) != 2 {
		t.Fatalf("expected 2 packets, got %d", len(packets))
	}
	for _, pkt := range packets {
		game := pkt.Content.(protocol.Game)
		switch pkt.Sender {
		case a.ID:
			if game.Stage != "LakeWorldHomeStage" {
				t.Fatalf("expected latest packet for a, got %s", game.Stage)
			}
		case b.ID:
			if game.Stage != "ForestWorldHomeStage" {
				t.Fatalf("unexpected stage for b: %s", game.Stage)
			}
		default:
			t.Fatalf("unexpected sender %s", pkt.Sender)
		}
	}
}

func TestManagerRestoresAndPersistsShines(t *testing.T) {
	persister := newMemoryPersister()
	id := uuid.New()
	persister.saved[id] = []int32{3, 5}

	m := NewManager(persister, nil)
	p := New(id, "Mario")
	if err := m.Add(p); err != nil {
		t.Fatalf("add: %v", err)
	}
	if !p.HasShine(3) || !p.HasShine(5) {
		t.Fatalf("expected restored shines, got %v", p.ShineIDs())
	}

	p.AddShine(8)

	deadline := time.Now().Add(2 * time.Second)
	for {
		saved, _ := persister.get(id)
		if slices.Equal(saved, []int32{3, 5, 8}) {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("shines were not persisted, have %v", saved)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
