package player

import (
	"errors"
	"slices"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siohaza/shinerelay/internal/protocol"
)

const (
	// CapRoomStage at scenario 0 means a fresh save; shine sync is held off
	// until the player reaches WaterfallStage.
	CapRoomStage   = "CapWorldHomeStage"
	WaterfallStage = "WaterfallWorldHomeStage"
)

var ErrExists = errors.New("player already exists")

// ShinePersister durably stores the shine-sync set of a player.
type ShinePersister interface {
	SavePlayerShines(id uuid.UUID, shines []int32) error
	LoadPlayerShines(id uuid.UUID) ([]int32, error)
}

type Costume struct {
	Body string
	Cap  string
}

// Player is the connection-independent state of one client id. It outlives
// the connections that update it.
type Player struct {
	ID             uuid.UUID
	Name           string
	Costume        *Costume
	Scenario       *uint8
	Is2D           bool
	IsSpeedrun     bool
	ShineSync      map[int32]struct{}
	LastGamePacket *protocol.Packet

	persister    ShinePersister
	logger       *zap.Logger
	persistSeq   uint64
	persistedSeq uint64
	persistMu    sync.Mutex

	mu sync.RWMutex
}

// GameUpdate reports the speedrun transitions caused by a Game packet.
type GameUpdate struct {
	SpeedrunStarted bool
	SpeedrunEnded   bool
}

func New(id uuid.UUID, name string) *Player {
	return &Player{
		ID:        id,
		Name:      name,
		ShineSync: make(map[int32]struct{}),
		logger:    zap.NewNop(),
	}
}

func (p *Player) Lock() {
	p.mu.Lock()
}

func (p *Player) Unlock() {
	p.mu.Unlock()
}

func (p *Player) GetName() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.Name
}

func (p *Player) SetCostume(body, capName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Costume = &Costume{Body: body, Cap: capName}
}

func (p *Player) GetCostume() (Costume, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.Costume == nil {
		return Costume{}, false
	}
	return *p.Costume, true
}

func (p *Player) GetScenario() (uint8, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.Scenario == nil {
		return 0, false
	}
	return *p.Scenario, true
}

func (p *Player) IsSpeedrunning() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.IsSpeedrun
}

func (p *Player) GetLastGamePacket() (protocol.Packet, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.LastGamePacket == nil {
		return protocol.Packet{}, false
	}
	return *p.LastGamePacket, true
}

// ApplyGame records a Game packet from this player. Entering the cap room at
// scenario 0 turns speedrun mode on and empties the shine-sync set; entering
// the waterfall stage turns it off.
func (p *Player) ApplyGame(packet protocol.Packet, game protocol.Game) GameUpdate {
	p.mu.Lock()
	defer p.mu.Unlock()

	scenario := game.Scenario
	p.Scenario = &scenario
	p.Is2D = game.Is2D
	p.LastGamePacket = &packet

	var update GameUpdate
	switch {
	case game.Stage == CapRoomStage && game.Scenario == 0:
		update.SpeedrunStarted = !p.IsSpeedrun
		p.IsSpeedrun = true
		p.ShineSync = make(map[int32]struct{})
		p.persistShinesLocked()
	case game.Stage == WaterfallStage:
		update.SpeedrunEnded = p.IsSpeedrun
		p.IsSpeedrun = false
	}

	return update
}

// AddShine records a collected shine in the sync set. It reports false while
// the player is in speedrun mode, when shines are not synced.
func (p *Player) AddShine(id int32) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.IsSpeedrun {
		return false
	}
	if _, ok := p.ShineSync[id]; ok {
		return true
	}
	p.ShineSync[id] = struct{}{}
	p.persistShinesLocked()
	return true
}

func (p *Player) HasShine(id int32) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.ShineSync[id]
	return ok
}

func (p *Player) ShineIDs() []int32 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.shineIDsLocked()
}

func (p *Player) ClearShines() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ShineSync = make(map[int32]struct{})
	p.persistShinesLocked()
}

// PersistShines saves the current shine-sync set in the background.
func (p *Player) PersistShines() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.persistShinesLocked()
}

func (p *Player) shineIDsLocked() []int32 {
	ids := make([]int32, 0, len(p.ShineSync))
	for id := range p.ShineSync {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// persistShinesLocked must be called with p.mu held for writing. Saves run in
// their own goroutine; an older snapshot never overwrites a newer one.
func (p *Player) persistShinesLocked() {
	if p.persister == nil {
		return
	}

	p.persistSeq++
	seq := p.persistSeq
	shines := p.shineIDsLocked()
	persister := p.persister
	logger := p.logger

	go func() {
		p.persistMu.Lock()
		defer p.persistMu.Unlock()

		if seq <= p.persistedSeq {
			return
		}
		if err := persister.SavePlayerShines(p.ID, shines); err != nil {
			logger.Warn("failed to persist shines", zap.Stringer("player", p.ID), zap.Error(err))
			return
		}
		p.persistedSeq = seq
	}()
}

type Manager struct {
	players   map[uuid.UUID]*Player
	persister ShinePersister
	logger    *zap.Logger
	mu        sync.RWMutex
}

func NewManager(persister ShinePersister, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Manager{
		players:   make(map[uuid.UUID]*Player),
		persister: persister,
		logger:    logger,
	}
}

// Add stores a new player. When persistence is on, the player's saved
// shine-sync set is restored first.
func (m *Manager) Add(player *Player) error {
	var restored []int32
	if m.persister != nil {
		shines, err := m.persister.LoadPlayerShines(player.ID)
		if err != nil {
			m.logger.Warn("failed to load persisted shines", zap.Stringer("player", player.ID), zap.Error(err))
		}
		restored = shines
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.players[player.ID]; exists {
		return ErrExists
	}

	player.Lock()
	player.persister = m.persister
	player.logger = m.logger
	for _, id := range restored {
		player.ShineSync[id] = struct{}{}
	}
	player.Unlock()

	m.players[player.ID] = player
	return nil
}

func (m *Manager) Get(id uuid.UUID) (*Player, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	player, ok := m.players[id]
	return player, ok
}

func (m *Manager) GetAll() []*Player {
	m.mu.RLock()
	defer m.mu.RUnlock()

	players := make([]*Player, 0, len(m.players))
	for _, player := range m.players {
		players = append(players, player)
	}
	return players
}

func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.players)
}

func (m *Manager) ForEach(fn func(*Player)) {
	for _, player := range m.GetAll() {
		fn(player)
	}
}

// LastGamePackets returns the most recent Game packet of every player that
// has sent one.
func (m *Manager) LastGamePackets() []protocol.Packet {
	players := m.GetAll()

	packets := make([]protocol.Packet, 0, len(players))
	for _, player := range players {
		if packet, ok := player.GetLastGamePacket(); ok {
			packets = append(packets, packet)
		}
	}
	return packets
}
