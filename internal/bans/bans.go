package bans

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
)

type BanType string

const (
	BanTypeIP BanType = "ip"
	BanTypeID BanType = "id"
)

type Ban struct {
	Type      BanType   `json:"type"`
	IP        string    `json:"ip,omitempty"`
	ID        uuid.UUID `json:"id,omitempty"`
	Name      string    `json:"name,omitempty"`
	Reason    string    `json:"reason"`
	BannedBy  string    `json:"banned_by"`
	BannedAt  time.Time `json:"banned_at"`
	ExpiresAt time.Time `json:"expires_at"`
	Permanent bool      `json:"permanent"`

	// static bans come from the config file and are never written back
	static bool
}

func (b *Ban) expired(now time.Time) bool {
	return !b.Permanent && now.After(b.ExpiresAt)
}

// Manager holds address and id denylists. Config-provided entries are seeded
// with Seed; entries added at runtime are saved to a JSON file.
type Manager struct {
	ipBans   map[string]*Ban
	idBans   map[uuid.UUID]*Ban
	filePath string
	enabled  bool
	mu       sync.RWMutex
}

func NewManager(filePath string) *Manager {
	return &Manager{
		ipBans:   make(map[string]*Ban),
		idBans:   make(map[uuid.UUID]*Ban),
		filePath: filePath,
		enabled:  true,
	}
}

func (m *Manager) SetEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.enabled = enabled
}

func (m *Manager) Enabled() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enabled
}

// Seed installs permanent bans from the config file.
func (m *Manager) Seed(addresses []string, ids []uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, addr := range addresses {
		ip := net.ParseIP(addr)
		if ip == nil {
			return fmt.Errorf("invalid banned address %q", addr)
		}
		m.ipBans[ip.String()] = &Ban{
			Type:      BanTypeIP,
			IP:        ip.String(),
			Reason:    "config",
			Permanent: true,
			static:    true,
		}
	}

	for _, id := range ids {
		m.idBans[id] = &Ban{
			Type:      BanTypeID,
			ID:        id,
			Reason:    "config",
			Permanent: true,
			static:    true,
		}
	}

	return nil
}

func (m *Manager) Load() error {
	if m.filePath == "" {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read bans file: %w", err)
	}

	var bans []*Ban
	if err := json.Unmarshal(data, &bans); err != nil {
		return fmt.Errorf("failed to parse bans file: %w", err)
	}

	now := time.Now()
	for _, ban := range bans {
		if ban.expired(now) {
			continue
		}

		if ban.Type == "" {
			ban.Type = BanTypeIP
		}

		switch ban.Type {
		case BanTypeIP:
			if ip := net.ParseIP(ban.IP); ip != nil {
				m.ipBans[ip.String()] = ban
			}
		case BanTypeID:
			if ban.ID != uuid.Nil {
				m.idBans[ban.ID] = ban
			}
		}
	}

	return nil
}

func (m *Manager) Save() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.saveUnlocked()
}

// Check reports whether a connection from ip claiming id is denied. It always
// allows when enforcement is disabled.
func (m *Manager) Check(ip net.IP, id uuid.UUID) (bool, *Ban) {
	if !m.Enabled() {
		return false, nil
	}
	if banned, ban := m.IsBannedID(id); banned {
		return true, ban
	}
	if ip != nil {
		return m.IsBanned(ip.String())
	}
	return false, nil
}

func (m *Manager) IsBanned(ip string) (bool, *Ban) {
	if parsed := net.ParseIP(ip); parsed != nil {
		ip = parsed.String()
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	ban, exists := m.ipBans[ip]
	if !exists || ban.expired(time.Now()) {
		return false, nil
	}

	return true, ban
}

func (m *Manager) IsBannedID(id uuid.UUID) (bool, *Ban) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	ban, exists := m.idBans[id]
	if !exists || ban.expired(time.Now()) {
		return false, nil
	}

	return true, ban
}

func (m *Manager) AddBan(ip, reason, bannedBy string, duration time.Duration) error {
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return fmt.Errorf("invalid address %q", ip)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	ban := &Ban{
		Type:      BanTypeIP,
		IP:        parsed.String(),
		Reason:    reason,
		BannedBy:  bannedBy,
		BannedAt:  time.Now(),
		Permanent: duration == 0,
	}

	if duration > 0 {
		ban.ExpiresAt = time.Now().Add(duration)
	}

	m.ipBans[ban.IP] = ban

	return m.saveUnlocked()
}

func (m *Manager) AddBanByID(id uuid.UUID, name, reason, bannedBy string, duration time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ban := &Ban{
		Type:      BanTypeID,
		ID:        id,
		Name:      name,
		Reason:    reason,
		BannedBy:  bannedBy,
		BannedAt:  time.Now(),
		Permanent: duration == 0,
	}

	if duration > 0 {
		ban.ExpiresAt = time.Now().Add(duration)
	}

	m.idBans[id] = ban

	return m.saveUnlocked()
}

func (m *Manager) RemoveBan(ip string) error {
	if parsed := net.ParseIP(ip); parsed != nil {
		ip = parsed.String()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.ipBans, ip)

	return m.saveUnlocked()
}

func (m *Manager) RemoveBanByID(id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.idBans, id)

	return m.saveUnlocked()
}

func (m *Manager) saveUnlocked() error {
	if m.filePath == "" {
		return nil
	}

	bans := make([]*Ban, 0, len(m.ipBans)+len(m.idBans))
	for _, ban := range m.ipBans {
		if !ban.static {
			bans = append(bans, ban)
		}
	}
	for _, ban := range m.idBans {
		if !ban.static {
			bans = append(bans, ban)
		}
	}

	data, err := json.MarshalIndent(bans, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bans: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(m.filePath), 0755); err != nil {
		return fmt.Errorf("failed to create bans directory: %w", err)
	}

	if err := os.WriteFile(m.filePath, data, 0644); err != nil {
		return fmt.Errorf("failed to write bans file: %w", err)
	}

	return nil
}

func (m *Manager) GetAll() []*Ban {
	m.mu.RLock()
	defer m.mu.RUnlock()

	now := time.Now()
	bans := make([]*Ban, 0, len(m.ipBans)+len(m.idBans))
	for _, ban := range m.ipBans {
		if !ban.expired(now) {
			bans = append(bans, ban)
		}
	}
	for _, ban := range m.idBans {
		if !ban.expired(now) {
			bans = append(bans, ban)
		}
	}

	return bans
}

func (m *Manager) Cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for ip, ban := range m.ipBans {
		if ban.expired(now) {
			delete(m.ipBans, ip)
		}
	}
	for id, ban := range m.idBans {
		if ban.expired(now) {
			delete(m.idBans, id)
		}
	}

	return m.saveUnlocked()
}
