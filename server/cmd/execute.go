package cmd

import (
	"strings"
)

// ExecuteLine executes a command line on behalf of the Source passed. The commandLine
// is expected to include the leading slash. If the command cannot be found, an
// appropriate error is sent back to the Source. The optional before function may
// be supplied to intercept execution; returning false from it will stop execution.
func ExecuteLine(source Source, commandLine string, before func(Command, []string) bool) {
	if source == nil {
		panic("cmd.ExecuteLine: source must not be nil")
	}
	commandLine = strings.TrimSpace(commandLine)
	if commandLine == "" {
		return
	}
	name, rest, _ := strings.Cut(commandLine, " ")
	name, ok := strings.CutPrefix(name, "/")
	if !ok || name == "" {
		return
	}

	command, ok := ByAlias(name)
	if !ok {
		output := &Output{}
		output.Errorf(MessageUnknown, name)
		source.SendCommandOutput(output)
		return
	}
	if before != nil && !before(command, strings.Fields(rest)) {
		return
	}
	command.Execute(rest, source)
}
