package cmd

import (
	"maps"
	"strings"
	"sync"
)

// commands holds a list of registered commands indexed by their alias.
var commands sync.Map

// Register registers a command with its name and all aliases that it has. Any
// command with the same name or aliases will be overwritten.
func Register(command Command) {
	for _, alias := range command.aliases {
		commands.Store(alias, command)
	}
}

// Unregister removes every alias of the command passed that still refers to
// it.
func Unregister(command Command) {
	for _, alias := range command.aliases {
		if c, ok := ByAlias(alias); ok && c.name == command.name {
			commands.Delete(alias)
		}
	}
}

// ByAlias looks up a command by an alias. If found, the command and true are
// returned. If not, the returned command is nil and the bool is false.
func ByAlias(alias string) (Command, bool) {
	command, ok := commands.Load(strings.ToLower(alias))
	if !ok {
		return Command{}, false
	}
	return command.(Command), ok
}

// Commands returns a map of all registered commands indexed by the alias they
// were registered with.
func Commands() map[string]Command {
	cmd := make(map[string]Command)
	commands.Range(func(key, value any) bool {
		cmd[key.(string)] = value.(Command)
		return true
	})
	return maps.Clone(cmd)
}
