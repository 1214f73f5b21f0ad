package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/uuid"
)

const (
	DefaultPort       = 1027
	DefaultMaxPlayers = 10
	maxAdvertised     = 0x7fff
)

type Config struct {
	Server        ServerConfig        `toml:"server"`
	BanList       BanListConfig       `toml:"ban_list"`
	Scenario      ScenarioConfig      `toml:"scenario"`
	PersistShines PersistShinesConfig `toml:"persist_shines"`
	Scripts       ScriptsConfig       `toml:"scripts"`
}

type ServerConfig struct {
	Name       string `toml:"name"`
	Address    string `toml:"address"`
	Port       int    `toml:"port"`
	MaxPlayers int    `toml:"max_players"`

	// logging configuration
	LogToFile     bool   `toml:"log_to_file"`
	LogFile       string `toml:"log_file"`
	LogMaxSize    int    `toml:"log_max_size"`
	LogMaxBackups int    `toml:"log_max_backups"`
	LogMaxAge     int    `toml:"log_max_age"`
}

type BanListConfig struct {
	Enabled   bool     `toml:"enabled"`
	Addresses []string `toml:"addresses"`
	IDs       []string `toml:"ids"`
	File      string   `toml:"file"`
}

type ScenarioConfig struct {
	MergeEnabled bool `toml:"merge_enabled"`
}

type PersistShinesConfig struct {
	Enabled  bool   `toml:"enabled"`
	Database string `toml:"database"`
	// seconds to wait after a player leaves speedrun mode before resyncing
	// the shine bag to them; 0 disables the resync
	ResyncDelay int `toml:"resync_delay"`
}

// ScriptsConfig points at the Lua scripts. Missing paths are skipped.
type ScriptsConfig struct {
	CommandsDir string `toml:"commands_dir"`
	Hooks       string `toml:"hooks"`
}

func Default() *Config {
	cfg := &Config{}
	cfg.BanList.Enabled = true
	cfg.applyDefaults()
	return cfg
}

func LoadConfig(path string) (*Config, error) {
	var config Config

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	md, err := toml.Decode(string(data), &config)
	if err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown config keys: %v", undecoded)
	}

	if !md.IsDefined("ban_list", "enabled") {
		config.BanList.Enabled = true
	}

	config.applyDefaults()

	return &config, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Name == "" {
		c.Server.Name = "shinerelay"
	}

	if c.Server.Address == "" {
		c.Server.Address = "0.0.0.0"
	}

	if c.Server.Port == 0 {
		c.Server.Port = DefaultPort
	}

	if c.Server.MaxPlayers == 0 {
		c.Server.MaxPlayers = DefaultMaxPlayers
	}

	if c.Server.LogFile == "" {
		c.Server.LogFile = "logs/shinerelay.log"
	}

	if c.Server.LogMaxSize == 0 {
		c.Server.LogMaxSize = 10
	}

	if c.Server.LogMaxBackups == 0 {
		c.Server.LogMaxBackups = 3
	}

	if c.Server.LogMaxAge == 0 {
		c.Server.LogMaxAge = 7
	}

	if c.BanList.File == "" {
		c.BanList.File = "data/bans.json"
	}

	if c.PersistShines.Database == "" {
		c.PersistShines.Database = "data/shines.sqlite"
	}

	if c.Scripts.CommandsDir == "" {
		c.Scripts.CommandsDir = "scripts/commands"
	}

	if c.Scripts.Hooks == "" {
		c.Scripts.Hooks = "scripts/hooks.lua"
	}
}

func (c *Config) Validate() error {
	if c.Server.Name == "" {
		return fmt.Errorf("server name cannot be empty")
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Server.Port)
	}

	if c.Server.MaxPlayers <= 0 || c.Server.MaxPlayers > maxAdvertised {
		return fmt.Errorf("max_players must be between 1 and %d", maxAdvertised)
	}

	for _, addr := range c.BanList.Addresses {
		if net.ParseIP(addr) == nil {
			return fmt.Errorf("invalid banned address: %q", addr)
		}
	}

	if _, err := c.BanList.ParsedIDs(); err != nil {
		return err
	}

	if c.PersistShines.ResyncDelay < 0 {
		return fmt.Errorf("resync_delay cannot be negative")
	}

	return nil
}

func (c *Config) ListenAddress() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}

func (b BanListConfig) ParsedIDs() ([]uuid.UUID, error) {
	ids := make([]uuid.UUID, 0, len(b.IDs))
	for _, raw := range b.IDs {
		id, err := uuid.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("invalid banned id %q: %w", raw, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

func (p PersistShinesConfig) ResyncDelayDuration() time.Duration {
	return time.Duration(p.ResyncDelay) * time.Second
}
