package server

import (
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siohaza/shinerelay/pkg/lua"
)

// loadScripts loads the Lua console commands and the hooks script. Paths that
// do not exist are skipped; a hooks script that fails to load is an error.
func (s *Server) loadScripts() error {
	s.luaAPI = lua.NewRelayAPI(s, s.logger.Named("lua"))
	s.luaAPI.SetBanManager(s.banManager)
	s.luaCommands = lua.NewCommandManager(s.logger.Named("lua"))

	if dir := s.config.Scripts.CommandsDir; lua.FileExists(dir) {
		if err := s.luaCommands.LoadCommands(dir, s.luaAPI); err != nil {
			s.logger.Warn("failed to load lua commands", zap.Error(err))
		}
	}

	if path := s.config.Scripts.Hooks; lua.FileExists(path) {
		hooks, err := lua.LoadHooks(path, s.luaAPI, s.logger.Named("lua"))
		if err != nil {
			return err
		}
		s.callbacks.Register(hooks)
		s.logger.Info("loaded lua hooks", zap.String("path", path), zap.String("name", hooks.Name()))
	}

	return nil
}

// ReloadCommands drops the loaded Lua commands and reads the commands
// directory again.
func (s *Server) ReloadCommands() error {
	return s.luaCommands.Reload(s.config.Scripts.CommandsDir, s.luaAPI)
}

func (s *Server) scriptCommand(cmdName string, args []string) []string {
	result, err := s.luaCommands.Execute(cmdName, args)
	switch {
	case errors.Is(err, lua.ErrUnknownCommand):
		return []string{fmt.Sprintf("Unknown command '%s'. Type help for available commands.", cmdName)}
	case err != nil:
		s.logger.Error("lua command error", zap.String("command", cmdName), zap.Error(err))
		return []string{fmt.Sprintf("Error: %v", err)}
	case result == "":
		return nil
	}
	return strings.Split(result, "\n")
}

func (s *Server) ServerName() string {
	return s.config.Server.Name
}

func (s *Server) ConnectedIDs() []uuid.UUID {
	peers := s.peers.Connected()
	ids := make([]uuid.UUID, 0, len(peers))
	for _, p := range peers {
		ids = append(ids, p.ID)
	}
	return ids
}

func (s *Server) PlayerName(id uuid.UUID) (string, bool) {
	pl, ok := s.players.Get(id)
	if !ok {
		return "", false
	}
	return pl.GetName(), true
}

func (s *Server) ShineCount() int {
	return s.bag.Len()
}
