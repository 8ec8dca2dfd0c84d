package cmd

import (
	"slices"
	"strings"
)

// Runnable represents a command that may be run by a Source. The arguments
// passed are the space separated words following the command name.
type Runnable interface {
	Run(src Source, args []string, o *Output)
}

// Allower may be implemented by a Runnable to limit the sources that may run
// it. A Runnable that does not implement Allower may be run by any Source.
type Allower interface {
	Allow(src Source) bool
}

// Usager may be implemented by a Runnable to describe its arguments.
type Usager interface {
	Usage() string
}

// Command is a command that may be executed by a Source. Commands are created
// using New and made available with Register.
type Command struct {
	name        string
	description string
	aliases     []string
	runnable    Runnable
}

// New returns a new Command with the name, description and aliases passed,
// running r when executed.
func New(name, description string, aliases []string, r Runnable) Command {
	name = strings.ToLower(name)
	aliases = slices.Clone(aliases)
	if !slices.Contains(aliases, name) {
		aliases = append(aliases, name)
	}
	return Command{name: name, description: description, aliases: aliases, runnable: r}
}

// Name returns the name of the command.
func (cmd Command) Name() string {
	return cmd.name
}

// Description returns the description of the command.
func (cmd Command) Description() string {
	return cmd.description
}

// Aliases returns all aliases of the command, including its name.
func (cmd Command) Aliases() []string {
	return slices.Clone(cmd.aliases)
}

// Usage returns the usage line of the command.
func (cmd Command) Usage() string {
	u := "/" + cmd.name
	if usager, ok := cmd.runnable.(Usager); ok {
		if args := usager.Usage(); args != "" {
			u += " " + args
		}
	}
	return u
}

// Allowed reports if src may run the command.
func (cmd Command) Allowed(src Source) bool {
	if a, ok := cmd.runnable.(Allower); ok {
		return a.Allow(src)
	}
	return true
}

// Execute runs the command with the arguments passed on behalf of src and
// sends the resulting output to it.
func (cmd Command) Execute(args string, src Source) {
	o := &Output{}
	defer src.SendCommandOutput(o)

	if !cmd.Allowed(src) {
		o.Errorf(MessagePermission, cmd.name)
		return
	}
	cmd.runnable.Run(src, strings.Fields(args), o)
}
