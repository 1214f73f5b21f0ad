package lua

import (
	"cmp"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"

	"github.com/Shopify/go-lua"
	"go.uber.org/zap"
)

var ErrUnknownCommand = errors.New("unknown command")

// Command is a console command defined by a Lua file. The file sets the
// globals name, and optionally aliases, description, usage and handler.
type Command struct {
	Name        string
	Aliases     []string
	Description string
	Usage       string
	Handler     string
	VM          *VM
}

type CommandManager struct {
	commands map[string]*Command
	aliases  map[string]string
	logger   *zap.Logger
	mu       sync.RWMutex
}

func NewCommandManager(logger *zap.Logger) *CommandManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CommandManager{
		commands: make(map[string]*Command),
		aliases:  make(map[string]string),
		logger:   logger,
	}
}

// LoadCommands loads every .lua file in commandsDir. A file that fails to load
// is logged and skipped.
func (cm *CommandManager) LoadCommands(commandsDir string, api *RelayAPI) error {
	files, err := os.ReadDir(commandsDir)
	if err != nil {
		return fmt.Errorf("failed to read commands directory: %w", err)
	}

	for _, file := range files {
		if file.IsDir() || !strings.HasSuffix(file.Name(), ".lua") {
			continue
		}

		commandPath := filepath.Join(commandsDir, file.Name())
		if err := cm.LoadCommandFile(commandPath, api); err != nil {
			cm.logger.Warn("failed to load command file", zap.String("file", file.Name()), zap.Error(err))
			continue
		}
	}

	cm.logger.Info("loaded lua commands", zap.Int("count", cm.Count()))
	return nil
}

func (cm *CommandManager) Reload(commandsDir string, api *RelayAPI) error {
	cm.mu.Lock()
	cm.commands = make(map[string]*Command)
	cm.aliases = make(map[string]string)
	cm.mu.Unlock()

	return cm.LoadCommands(commandsDir, api)
}

func (cm *CommandManager) LoadCommandFile(path string, api *RelayAPI) error {
	vm := NewVM()

	if api != nil {
		api.RegisterFunctions(vm)
	}

	if err := vm.LoadFile(path); err != nil {
		return err
	}

	name, err := vm.GetGlobalString("name")
	if err != nil {
		return fmt.Errorf("command missing 'name': %w", err)
	}

	cmd := &Command{
		Name: strings.ToLower(name),
		VM:   vm,
	}

	if aliases, err := vm.GetGlobalString("aliases"); err == nil {
		for alias := range strings.SplitSeq(aliases, ",") {
			if alias = strings.ToLower(strings.TrimSpace(alias)); alias != "" {
				cmd.Aliases = append(cmd.Aliases, alias)
			}
		}
	}

	if desc, err := vm.GetGlobalString("description"); err == nil {
		cmd.Description = desc
	}

	if usage, err := vm.GetGlobalString("usage"); err == nil {
		cmd.Usage = usage
	}

	if handler, err := vm.GetGlobalString("handler"); err == nil {
		cmd.Handler = handler
	} else {
		cmd.Handler = "execute"
	}

	cm.Register(cmd)
	return nil
}

func (cm *CommandManager) Register(cmd *Command) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	cm.commands[cmd.Name] = cmd
	for _, alias := range cmd.Aliases {
		cm.aliases[alias] = cmd.Name
	}
}

func (cm *CommandManager) Get(name string) *Command {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	name = strings.ToLower(name)
	if canonical, ok := cm.aliases[name]; ok {
		return cm.commands[canonical]
	}
	return cm.commands[name]
}

func (cm *CommandManager) Count() int {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return len(cm.commands)
}

// Execute runs the handler of cmdName. The handler gets an args table with the
// command name at index 0 and the arguments from 1, and may return a string
// to print.
func (cm *CommandManager) Execute(cmdName string, args []string) (string, error) {
	cmd := cm.Get(cmdName)
	if cmd == nil {
		return "", fmt.Errorf("%w: %s", ErrUnknownCommand, cmdName)
	}

	var result string
	err := cmd.VM.Do(func(state *lua.State) error {
		state.Global(cmd.Handler)
		if !state.IsFunction(-1) {
			state.Pop(1)
			return fmt.Errorf("command handler not found: %s", cmd.Handler)
		}

		state.NewTable()
		state.PushString(cmdName)
		state.RawSetInt(-2, 0)
		for i, arg := range args {
			state.PushString(arg)
			state.RawSetInt(-2, i+1)
		}

		if err := state.ProtectedCall(1, 1, 0); err != nil {
			return fmt.Errorf("command execution failed: %w", err)
		}

		if state.IsString(-1) {
			result, _ = state.ToString(-1)
		}
		state.Pop(1)
		return nil
	})

	return result, err
}

// List returns the loaded commands sorted by name.
func (cm *CommandManager) List() []*Command {
	cm.mu.RLock()
	commands := make([]*Command, 0, len(cm.commands))
	for _, cmd := range cm.commands {
		commands = append(commands, cmd)
	}
	cm.mu.RUnlock()

	slices.SortFunc(commands, func(a, b *Command) int {
		return cmp.Compare(a.Name, b.Name)
	})
	return commands
}
