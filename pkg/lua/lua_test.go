package lua

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap/zaptest"

	"github.com/siohaza/shinerelay/internal/bans"
)

type fakeServer struct {
	mu      sync.Mutex
	players map[uuid.UUID]string
	kicked  []uuid.UUID
	merge   bool
	synced  []uuid.UUID
}

func newFakeServer() *fakeServer {
	return &fakeServer{players: make(map[uuid.UUID]string)}
}

func (f *fakeServer) ServerName() string {
	return "odyssey"
}

func (f *fakeServer) Uptime() time.Duration {
	return 90 * time.Second
}

func (f *fakeServer) ShineCount() int {
	return 7
}

func (f *fakeServer) MergeEnabled() bool {
	return f.merge
}

func (f *fakeServer) SetMerge(enabled bool) {
	f.merge = enabled
}

func (f *fakeServer) ConnectedIDs() []uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	ids := make([]uuid.UUID, 0, len(f.players))
	for id := range f.players {
		ids = append(ids, id)
	}
	return ids
}

func (f *fakeServer) PlayerName(id uuid.UUID) (string, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	name, ok := f.players[id]
	return name, ok
}

func (f *fakeServer) KickPlayer(id uuid.UUID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.players[id]; !ok {
		return false
	}
	delete(f.players, id)
	f.kicked = append(f.kicked, id)
	return true
}

func (f *fakeServer) SyncShines(id uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.players[id]; !ok {
		return 0, errors.New("unknown player")
	}
	f.synced = append(f.synced, id)
	return 3, nil
}

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}

func TestLoadCommandsSkipsBrokenFiles(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "status.lua", `
name = "Status"
aliases = "st, info"
description = "server status"
usage = "status"

function execute(args)
	return get_server_name() .. " up " .. get_uptime() .. "s, " .. get_shine_count() .. " shines"
end
`)
	writeFile(t, dir, "nameless.lua", `function execute(args) return "x" end`)
	writeFile(t, dir, "syntax.lua", `name = "oops" function (`)
	writeFile(t, dir, "readme.md", "ignored")

	cm := NewCommandManager(zaptest.NewLogger(t))
	if err := cm.LoadCommands(dir, NewRelayAPI(newFakeServer(), nil)); err != nil {
		t.Fatalf("load: %v", err)
	}

	if cm.Count() != 1 {
		t.Fatalf("expected 1 command, got %d", cm.Count())
	}
	for _, name := range []string{"status", "ST", "info"} {
		if cm.Get(name) == nil {
			t.Fatalf("command not found by %q", name)
		}
	}

	out, err := cm.Execute("st", nil)
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "odyssey up 90s, 7 shines" {
		t.Fatalf("unexpected output %q", out)
	}

	if _, err := cm.Execute("nope", nil); !errors.Is(err, ErrUnknownCommand) {
		t.Fatalf("expected ErrUnknownCommand, got %v", err)
	}
}

func TestLoadCommandsMissingDir(t *testing.T) {
	cm := NewCommandManager(nil)
	if err := cm.LoadCommands(filepath.Join(t.TempDir(), "missing"), nil); err == nil {
		t.Fatalf("expected error for a missing directory")
	}
}

func TestExecutePassesArguments(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "echo.lua", `
name = "echo"
handler = "run"

function run(args)
	return args[0] .. ":" .. table.concat(args, ",")
end
`)

	cm := NewCommandManager(nil)
	if err := cm.LoadCommands(dir, nil); err != nil {
		t.Fatalf("load: %v", err)
	}

	out, err := cm.Execute("ECHO", []string{"a", "b"})
	if err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out != "ECHO:a,b" {
		t.Fatalf("unexpected output %q", out)
	}
}

func TestScriptsCannotReachTheHost(t *testing.T) {
	dir := t.TempDir()
	vm := NewVM()
	if err := vm.LoadFile(writeFile(t, dir, "exit.lua", `os.exit(1)`)); err == nil {
		t.Fatalf("os should not be available")
	}
	if err := vm.LoadFile(writeFile(t, dir, "open.lua", `io.open("/etc/passwd")`)); err == nil {
		t.Fatalf("io should not be available")
	}
}

func TestRelayAPIKickAndSync(t *testing.T) {
	srv := newFakeServer()
	id := uuid.New()
	srv.players[id] = "Mario"

	vm := NewVM()
	NewRelayAPI(srv, nil).RegisterFunctions(vm)
	if err := vm.LoadFile(writeFile(t, t.TempDir(), "kick.lua", `
function sync(id)
	local n, err = sync_shines(id)
	if n == nil then return err end
	return "sent " .. n
end

function kick(id)
	local ok, err = kick_player(id)
	if ok then return "ok" end
	return err
end
`)); err != nil {
		t.Fatalf("load: %v", err)
	}

	call := func(fn, arg string) string {
		t.Helper()
		results, err := vm.call(fn, 1, arg)
		if err != nil {
			t.Fatalf("%s: %v", fn, err)
		}
		out, _ := results[0].(string)
		return out
	}

	if got := call("sync", id.String()); got != "sent 3" {
		t.Fatalf("unexpected sync result %q", got)
	}
	if got := call("kick", "not-a-uuid"); got != "invalid player id" {
		t.Fatalf("unexpected kick result %q", got)
	}
	if got := call("kick", id.String()); got != "ok" {
		t.Fatalf("unexpected kick result %q", got)
	}
	if got := call("kick", id.String()); got != "player not connected" {
		t.Fatalf("unexpected second kick result %q", got)
	}
	if got := call("sync", id.String()); got != "unknown player" {
		t.Fatalf("unexpected sync result %q", got)
	}
}

func TestRelayAPIBans(t *testing.T) {
	srv := newFakeServer()
	id := uuid.New()
	srv.players[id] = "Luigi"

	bm := bans.NewManager(filepath.Join(t.TempDir(), "bans.json"))
	api := NewRelayAPI(srv, nil)
	api.SetBanManager(bm)

	vm := NewVM()
	api.RegisterFunctions(vm)
	if err := vm.LoadFile(writeFile(t, t.TempDir(), "bans.lua", `
function ban(id) return ban_id(id, "griefing") end
function ban_ip(address) return ban_address(address, "spam") end
function check(target) return is_banned(target) end
`)); err != nil {
		t.Fatalf("load: %v", err)
	}

	results, err := vm.call("ban", 1, id.String())
	if err != nil || results[0] != true {
		t.Fatalf("ban_id failed: %v %v", results, err)
	}
	if banned, _ := bm.IsBannedID(id); !banned {
		t.Fatalf("id not banned")
	}
	if len(srv.kicked) != 1 || srv.kicked[0] != id {
		t.Fatalf("banned player was not kicked")
	}

	results, err = vm.call("ban_ip", 1, "not an address")
	if err != nil || results[0] != false {
		t.Fatalf("expected invalid address to fail: %v %v", results, err)
	}
	if _, err := vm.call("ban_ip", 1, "10.0.0.9"); err != nil {
		t.Fatalf("ban_address: %v", err)
	}

	for _, target := range []string{id.String(), "10.0.0.9"} {
		results, err := vm.call("check", 1, target)
		if err != nil || results[0] != true {
			t.Fatalf("expected %s to be banned: %v %v", target, results, err)
		}
	}
}

func TestHooksCallDefinedFunctions(t *testing.T) {
	srv := newFakeServer()
	path := writeFile(t, t.TempDir(), "hooks.lua", `
name = "counter"
starts = 0

function on_init()
	set_merge(false)
end

function on_join(id, name, reconnect)
	if not reconnect then set_merge(true) end
end

function on_speedrun_start(id)
	starts = starts + 1
end

function starts_seen() return starts end
`)

	srv.merge = true
	hooks, err := LoadHooks(path, NewRelayAPI(srv, nil), zaptest.NewLogger(t))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if hooks.Name() != "counter" {
		t.Fatalf("unexpected name %q", hooks.Name())
	}
	if srv.merge {
		t.Fatalf("on_init did not run")
	}

	id := uuid.New()
	hooks.OnJoin(id, "Mario", true)
	if srv.merge {
		t.Fatalf("reconnect flag not passed")
	}
	hooks.OnJoin(id, "Mario", false)
	if !srv.merge {
		t.Fatalf("on_join did not run")
	}

	hooks.OnSpeedrunStart(id)
	hooks.OnSpeedrunStart(id)
	// undefined hooks are skipped
	hooks.OnSpeedrunEnd(id)
	hooks.OnDisconnect(id)

	results, err := hooks.vm.call("starts_seen", 1)
	if err != nil {
		t.Fatalf("starts_seen: %v", err)
	}
	if results[0] != float64(2) {
		t.Fatalf("expected 2 speedrun starts, got %v", results[0])
	}
}

func TestLoadHooksErrors(t *testing.T) {
	dir := t.TempDir()

	if _, err := LoadHooks(filepath.Join(dir, "missing.lua"), nil, nil); err == nil {
		t.Fatalf("expected error for a missing script")
	}

	path := writeFile(t, dir, "init.lua", `function on_init() error("refused") end`)
	if _, err := LoadHooks(path, nil, nil); err == nil {
		t.Fatalf("expected on_init failure to fail loading")
	}
}
