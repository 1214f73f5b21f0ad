package lua

import (
	"net"
	"time"

	"github.com/Shopify/go-lua"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/siohaza/shinerelay/internal/bans"
)

const scriptBanner = "lua"

// ServerInterface is the part of the relay server scripts can reach.
type ServerInterface interface {
	ServerName() string
	Uptime() time.Duration
	ConnectedIDs() []uuid.UUID
	PlayerName(id uuid.UUID) (string, bool)
	KickPlayer(id uuid.UUID) bool
	MergeEnabled() bool
	SetMerge(enabled bool)
	ShineCount() int
	SyncShines(id uuid.UUID) (int, error)
}

// RelayAPI exposes the server to Lua scripts as global functions.
type RelayAPI struct {
	server     ServerInterface
	banManager *bans.Manager
	logger     *zap.Logger
}

func NewRelayAPI(server ServerInterface, logger *zap.Logger) *RelayAPI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RelayAPI{
		server: server,
		logger: logger,
	}
}

func (api *RelayAPI) SetBanManager(bm *bans.Manager) {
	api.banManager = bm
}

func (api *RelayAPI) RegisterFunctions(vm *VM) {
	vm.RegisterFunction("get_server_name", api.getServerName)
	vm.RegisterFunction("get_uptime", api.getUptime)
	vm.RegisterFunction("get_player_count", api.getPlayerCount)
	vm.RegisterFunction("get_players", api.getPlayers)
	vm.RegisterFunction("get_player_name", api.getPlayerName)
	vm.RegisterFunction("kick_player", api.kickPlayer)
	vm.RegisterFunction("get_merge", api.getMerge)
	vm.RegisterFunction("set_merge", api.setMerge)
	vm.RegisterFunction("get_shine_count", api.getShineCount)
	vm.RegisterFunction("sync_shines", api.syncShines)
	vm.RegisterFunction("ban_id", api.banID)
	vm.RegisterFunction("ban_address", api.banAddress)
	vm.RegisterFunction("is_banned", api.isBanned)
	vm.RegisterFunction("log", api.log)
}

func (api *RelayAPI) getServerName(state *lua.State) int {
	state.PushString(api.server.ServerName())
	return 1
}

func (api *RelayAPI) getUptime(state *lua.State) int {
	state.PushNumber(api.server.Uptime().Seconds())
	return 1
}

func (api *RelayAPI) getPlayerCount(state *lua.State) int {
	state.PushInteger(len(api.server.ConnectedIDs()))
	return 1
}

// getPlayers returns an array of the connected player ids.
func (api *RelayAPI) getPlayers(state *lua.State) int {
	state.NewTable()
	for i, id := range api.server.ConnectedIDs() {
		state.PushString(id.String())
		state.RawSetInt(-2, i+1)
	}
	return 1
}

func (api *RelayAPI) getPlayerName(state *lua.State) int {
	id, ok := checkID(state, 1)
	if !ok {
		state.PushNil()
		return 1
	}

	name, ok := api.server.PlayerName(id)
	if !ok {
		state.PushNil()
		return 1
	}
	state.PushString(name)
	return 1
}

func (api *RelayAPI) kickPlayer(state *lua.State) int {
	id, ok := checkID(state, 1)
	if !ok {
		state.PushBoolean(false)
		state.PushString("invalid player id")
		return 2
	}

	if !api.server.KickPlayer(id) {
		state.PushBoolean(false)
		state.PushString("player not connected")
		return 2
	}

	state.PushBoolean(true)
	state.PushString("")
	return 2
}

func (api *RelayAPI) getMerge(state *lua.State) int {
	state.PushBoolean(api.server.MergeEnabled())
	return 1
}

func (api *RelayAPI) setMerge(state *lua.State) int {
	api.server.SetMerge(state.ToBoolean(1))
	return 0
}

func (api *RelayAPI) getShineCount(state *lua.State) int {
	state.PushInteger(api.server.ShineCount())
	return 1
}

func (api *RelayAPI) syncShines(state *lua.State) int {
	id, ok := checkID(state, 1)
	if !ok {
		state.PushNil()
		state.PushString("invalid player id")
		return 2
	}

	n, err := api.server.SyncShines(id)
	if err != nil {
		state.PushNil()
		state.PushString(err.Error())
		return 2
	}

	state.PushInteger(n)
	state.PushString("")
	return 2
}

func (api *RelayAPI) banID(state *lua.State) int {
	id, ok := checkID(state, 1)
	if !ok {
		state.PushBoolean(false)
		state.PushString("invalid player id")
		return 2
	}
	reason, _ := state.ToString(2)

	if api.banManager == nil {
		state.PushBoolean(false)
		state.PushString("ban manager not available")
		return 2
	}

	name, _ := api.server.PlayerName(id)
	if err := api.banManager.AddBanByID(id, name, reason, scriptBanner, 0); err != nil {
		state.PushBoolean(false)
		state.PushString(err.Error())
		return 2
	}
	api.server.KickPlayer(id)

	state.PushBoolean(true)
	state.PushString("")
	return 2
}

func (api *RelayAPI) banAddress(state *lua.State) int {
	address, _ := state.ToString(1)
	reason, _ := state.ToString(2)

	if api.banManager == nil {
		state.PushBoolean(false)
		state.PushString("ban manager not available")
		return 2
	}

	ip := net.ParseIP(address)
	if ip == nil {
		state.PushBoolean(false)
		state.PushString("invalid address")
		return 2
	}

	if err := api.banManager.AddBan(ip.String(), reason, scriptBanner, 0); err != nil {
		state.PushBoolean(false)
		state.PushString(err.Error())
		return 2
	}

	state.PushBoolean(true)
	state.PushString("")
	return 2
}

func (api *RelayAPI) isBanned(state *lua.State) int {
	target, _ := state.ToString(1)

	if api.banManager == nil {
		state.PushBoolean(false)
		return 1
	}

	var banned bool
	if id, err := uuid.Parse(target); err == nil {
		banned, _ = api.banManager.IsBannedID(id)
	} else {
		banned, _ = api.banManager.IsBanned(target)
	}
	state.PushBoolean(banned)
	return 1
}

func (api *RelayAPI) log(state *lua.State) int {
	msg, _ := state.ToString(1)
	api.logger.Info(msg)
	return 0
}

func checkID(state *lua.State, idx int) (uuid.UUID, bool) {
	str, ok := state.ToString(idx)
	if !ok {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(str)
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}
