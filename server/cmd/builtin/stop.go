package builtin

import (
	"github.com/dm-vev/powermobs/server/cmd"
)

type stopCommand struct {
	consoleOnly
	srv serverAdapter
}

func newStopCommand(srv serverAdapter) cmd.Command {
	return cmd.New("stop", "Stops the server.", nil, stopCommand{srv: srv})
}

func (s stopCommand) Run(_ cmd.Source, _ []string, o *cmd.Output) {
	o.Print("Stopping server...")
	if err := s.srv.Close(); err != nil {
		o.Error(err)
	}
}
