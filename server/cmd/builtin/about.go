package builtin

import (
	"runtime"
	"runtime/debug"
	"time"

	"github.com/dm-vev/powermobs/server/cmd"
)

type aboutCommand struct {
	srv serverAdapter
}

func newAboutCommand(srv serverAdapter) cmd.Command {
	return cmd.New("about", "Displays build information.", nil, aboutCommand{srv: srv})
}

func (a aboutCommand) Run(_ cmd.Source, _ []string, o *cmd.Output) {
	o.Print("PowerMobs spawn blocker registry")

	info, ok := debug.ReadBuildInfo()
	goVersion := runtime.Version()
	if ok && info != nil && info.GoVersion != "" {
		goVersion = info.GoVersion
	}
	o.Printf("Go runtime: %s", goVersion)

	if info != nil {
		if info.Main.Version != "" {
			o.Printf("Version: %s", info.Main.Version)
		}
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && setting.Value != "" {
				o.Printf("Commit: %s", setting.Value)
				break
			}
		}
	}
	o.Printf("Session: %s", a.srv.Blockers().Session())

	if started := a.srv.StartTime(); !started.IsZero() {
		o.Printf("Uptime: %s", time.Since(started).Round(time.Second))
	}
}
