package builtin

import (
	"sort"
	"strings"

	"github.com/dm-vev/powermobs/server/cmd"
	"github.com/dm-vev/powermobs/server/plugin"
)

type pluginCommand struct {
	consoleOnly
	srv serverAdapter
}

func newPluginCommand(srv serverAdapter) cmd.Command {
	return cmd.New("plugin", "Manages dynamic plugins.", []string{"plugins"}, pluginCommand{srv: srv})
}

func (pluginCommand) Usage() string {
	return "<list|enable <file>|disable <name>|reload <name>>"
}

func (p pluginCommand) Run(_ cmd.Source, args []string, o *cmd.Output) {
	sub := "list"
	if len(args) > 0 {
		sub = strings.ToLower(args[0])
		args = args[1:]
	}
	if !p.srv.PluginsEnabled() {
		if sub == "list" {
			o.Print("Plugin subsystem disabled.")
			return
		}
		o.Error("Plugin subsystem disabled.")
		return
	}
	switch sub {
	case "list":
		p.list(o)
	case "enable":
		p.enable(strings.Join(args, " "), o)
	case "disable":
		p.disable(strings.Join(args, " "), o)
	case "reload":
		p.reload(strings.Join(args, " "), o)
	default:
		o.Errorf(cmd.MessageUsage, "/plugin "+p.Usage())
	}
}

func (p pluginCommand) list(o *cmd.Output) {
	plugins := append([]plugin.Info(nil), p.srv.Plugins()...)
	if len(plugins) == 0 {
		o.Print("No plugins loaded.")
		return
	}
	sort.SliceStable(plugins, func(i, j int) bool {
		return strings.ToLower(plugins[i].Name) < strings.ToLower(plugins[j].Name)
	})
	for _, info := range plugins {
		if info.Version != "" {
			o.Printf("%s v%s (%s)", info.Name, info.Version, info.Path)
			continue
		}
		o.Printf("%s (%s)", info.Name, info.Path)
	}
}

func (p pluginCommand) enable(file string, o *cmd.Output) {
	file = strings.TrimSpace(file)
	if file == "" {
		o.Error("Plugin file path is required.")
		return
	}
	info, err := p.srv.EnablePlugin(file)
	if err != nil {
		o.Error(err)
		return
	}
	if info.Version != "" {
		o.Printf("Enabled %s v%s from %s.", info.Name, info.Version, info.Path)
		return
	}
	o.Printf("Enabled %s from %s.", info.Name, info.Path)
}

func (p pluginCommand) disable(name string, o *cmd.Output) {
	name = strings.TrimSpace(name)
	if name == "" {
		o.Error("Plugin name is required.")
		return
	}
	info, err := p.srv.DisablePlugin(name)
	if err != nil {
		o.Error(err)
		return
	}
	o.Printf("Disabled %s.", info.Name)
}

func (p pluginCommand) reload(name string, o *cmd.Output) {
	name = strings.TrimSpace(name)
	if name == "" {
		o.Error("Plugin name is required.")
		return
	}
	info, err := p.srv.ReloadPlugin(name)
	if err != nil {
		o.Error(err)
		return
	}
	if info.Version != "" {
		o.Printf("Reloaded %s v%s.", info.Name, info.Version)
		return
	}
	o.Printf("Reloaded %s.", info.Name)
}
