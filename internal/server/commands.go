package server

import (
	"cmp"
	"fmt"
	"net"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siohaza/shinerelay/internal/bans"
	"github.com/siohaza/shinerelay/internal/player"
	"github.com/siohaza/shinerelay/internal/protocol"
)

const consoleName = "console"

// ExecuteCommand runs one admin console line and returns the lines to print.
func (s *Server) ExecuteCommand(line string) []string {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return nil
	}

	cmdName := strings.ToLower(parts[0])
	args := parts[1:]

	switch cmdName {
	case "list":
		return s.listPlayers()
	case "kick":
		return s.kickCommand(args)
	case "ban":
		return s.banCommand(args)
	case "unban":
		return s.unbanCommand(args)
	case "bans":
		return s.listBans()
	case "merge":
		return s.mergeCommand(args)
	case "shine":
		return s.shineCommand(args)
	case "reload":
		if err := s.ReloadCommands(); err != nil {
			return []string{fmt.Sprintf("Failed to reload commands: %v", err)}
		}
		return []string{fmt.Sprintf("Loaded %d script commands.", s.luaCommands.Count())}
	case "help":
		return s.help()
	default:
		return s.scriptCommand(cmdName, args)
	}
}

func (s *Server) help() []string {
	lines := []string{
		"list                        connected and known players",
		"kick <id>                   close a player's connection",
		"ban <id|address>            ban a player id or an address",
		"unban <id|address>          remove a ban",
		"bans                        list active bans",
		"merge [true|false]          show or set scenario merging",
		"shine list|clear|sync <id>  inspect or reset the shine bag",
		"reload                      reload script commands",
	}
	for _, cmd := range s.luaCommands.List() {
		usage := cmd.Usage
		if usage == "" {
			usage = cmd.Name
		}
		lines = append(lines, fmt.Sprintf("%-27s %s", usage, cmd.Description))
	}
	return lines
}

func (s *Server) listPlayers() []string {
	players := s.players.GetAll()
	if len(players) == 0 {
		return []string{"No players."}
	}

	slices.SortFunc(players, func(a, b *player.Player) int {
		return cmp.Compare(a.GetName(), b.GetName())
	})

	lines := make([]string, 0, len(players)+1)
	lines = append(lines, fmt.Sprintf("%d/%d connected, up %s", s.peers.ConnectedCount(), s.maxPlayers, s.Uptime().Round(time.Second)))
	for _, pl := range players {
		status := "offline"
		if p, ok := s.peers.Get(pl.ID); ok && p.Connected() {
			status = p.Addr.String()
		}

		scenario := "-"
		if sc, ok := pl.GetScenario(); ok {
			scenario = strconv.Itoa(int(sc))
		}

		line := fmt.Sprintf("%s %s [%s] scenario=%s shines=%d", protocol.Sanitize(pl.GetName()), pl.ID, status, scenario, len(pl.ShineIDs()))
		if pl.IsSpeedrunning() {
			line += " speedrun"
		}
		lines = append(lines, line)
	}
	return lines
}

func (s *Server) kickCommand(args []string) []string {
	if len(args) != 1 {
		return []string{"Usage: kick <id>"}
	}

	id, err := uuid.Parse(args[0])
	if err != nil {
		return []string{fmt.Sprintf("Invalid id: %s", args[0])}
	}

	if !s.KickPlayer(id) {
		return []string{fmt.Sprintf("Player %s is not connected.", id)}
	}
	return []string{fmt.Sprintf("Kicked %s.", id)}
}

// KickPlayer closes the connection of id. The handler's teardown announces
// the disconnect.
func (s *Server) KickPlayer(id uuid.UUID) bool {
	p, ok := s.peers.Get(id)
	if !ok || !p.Connected() {
		return false
	}

	p.Close()
	s.logger.Info("player kicked", zap.Stringer("player", id))
	return true
}

func (s *Server) banCommand(args []string) []string {
	if len(args) < 1 {
		return []string{"Usage: ban <id|address> [reason]"}
	}

	target := args[0]
	reason := strings.Join(args[1:], " ")
	if reason == "" {
		reason = "banned by console"
	}

	if id, err := uuid.Parse(target); err == nil {
		name := ""
		if pl, ok := s.players.Get(id); ok {
			name = protocol.Sanitize(pl.GetName())
		}
		if err := s.banManager.AddBanByID(id, name, reason, consoleName, 0); err != nil {
			return []string{fmt.Sprintf("Failed to save ban: %v", err)}
		}
		s.KickPlayer(id)
		s.logger.Info("player banned", zap.Stringer("player", id), zap.String("reason", reason))
		return []string{fmt.Sprintf("Banned id %s.", id)}
	}

	ip := net.ParseIP(target)
	if ip == nil {
		return []string{fmt.Sprintf("Not an id or address: %s", target)}
	}

	if err := s.banManager.AddBan(ip.String(), reason, consoleName, 0); err != nil {
		return []string{fmt.Sprintf("Failed to save ban: %v", err)}
	}

	kicked := 0
	for _, p := range s.peers.Connected() {
		if peerIP := p.IP(); peerIP != nil && peerIP.Equal(ip) {
			p.Close()
			kicked++
		}
	}

	s.logger.Info("address banned", zap.String("address", ip.String()), zap.Int("kicked", kicked))
	return []string{fmt.Sprintf("Banned address %s (%d connections closed).", ip, kicked)}
}

func (s *Server) unbanCommand(args []string) []string {
	if len(args) != 1 {
		return []string{"Usage: unban <id|address>"}
	}

	if id, err := uuid.Parse(args[0]); err == nil {
		if banned, _ := s.banManager.IsBannedID(id); !banned {
			return []string{fmt.Sprintf("Id %s is not banned.", id)}
		}
		if err := s.banManager.RemoveBanByID(id); err != nil {
			return []string{fmt.Sprintf("Failed to save bans: %v", err)}
		}
		return []string{fmt.Sprintf("Unbanned id %s.", id)}
	}

	if net.ParseIP(args[0]) == nil {
		return []string{fmt.Sprintf("Not an id or address: %s", args[0])}
	}
	if banned, _ := s.banManager.IsBanned(args[0]); !banned {
		return []string{fmt.Sprintf("Address %s is not banned.", args[0])}
	}
	if err := s.banManager.RemoveBan(args[0]); err != nil {
		return []string{fmt.Sprintf("Failed to save bans: %v", err)}
	}
	return []string{fmt.Sprintf("Unbanned address %s.", args[0])}
}

func (s *Server) listBans() []string {
	all := s.banManager.GetAll()
	if len(all) == 0 {
		return []string{"No bans."}
	}

	lines := make([]string, 0, len(all))
	for _, ban := range all {
		switch ban.Type {
		case bans.BanTypeID:
			lines = append(lines, fmt.Sprintf("id %s %s: %s", ban.ID, ban.Name, ban.Reason))
		default:
			lines = append(lines, fmt.Sprintf("address %s: %s", ban.IP, ban.Reason))
		}
	}
	slices.Sort(lines)
	return lines
}

func (s *Server) mergeCommand(args []string) []string {
	if len(args) == 0 {
		return []string{fmt.Sprintf("Scenario merge is %s.", onOff(s.MergeEnabled()))}
	}

	enabled, err := strconv.ParseBool(args[0])
	if err != nil {
		return []string{"Usage: merge [true|false]"}
	}

	s.SetMerge(enabled)
	s.logger.Info("scenario merge changed", zap.Bool("enabled", enabled))
	return []string{fmt.Sprintf("Scenario merge is now %s.", onOff(enabled))}
}

func (s *Server) shineCommand(args []string) []string {
	if len(args) == 0 {
		return []string{"Usage: shine list|clear|sync <id>"}
	}

	switch strings.ToLower(args[0]) {
	case "list":
		entries := s.bag.Entries()
		ids := make([]string, 0, len(entries))
		for _, e := range entries {
			if e.IsGrand {
				ids = append(ids, fmt.Sprintf("%d*", e.ID))
			} else {
				ids = append(ids, strconv.Itoa(int(e.ID)))
			}
		}
		return []string{fmt.Sprintf("%d shines: %s", len(entries), strings.Join(ids, ", "))}

	case "clear":
		if err := s.bag.Clear(); err != nil {
			return []string{fmt.Sprintf("Failed to clear shine bag: %v", err)}
		}
		s.players.ForEach(func(pl *player.Player) {
			pl.ClearShines()
		})
		s.logger.Info("shine bag cleared")
		return []string{"Cleared the shine bag."}

	case "sync":
		if len(args) != 2 {
			return []string{"Usage: shine sync <id>"}
		}
		id, err := uuid.Parse(args[1])
		if err != nil {
			return []string{fmt.Sprintf("Invalid id: %s", args[1])}
		}
		n, err := s.SyncShines(id)
		if err != nil {
			return []string{fmt.Sprintf("Cannot sync %s: %v", id, err)}
		}
		return []string{fmt.Sprintf("Sent %d shines to %s.", n, id)}

	default:
		return []string{"Usage: shine list|clear|sync <id>"}
	}
}

func onOff(enabled bool) string {
	if enabled {
		return "on"
	}
	return "off"
}
