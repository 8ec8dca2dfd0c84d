package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/dm-vev/powermobs/server/blocker"
	"github.com/dm-vev/powermobs/server/cmd"
	"github.com/dm-vev/powermobs/server/plugin"
	"github.com/dm-vev/powermobs/server/scheduler"
	"github.com/dm-vev/powermobs/server/world"
)

type pluginHost struct {
	srv *Server
}

func newPluginHost(srv *Server) plugin.Host[*Server, Config] {
	return pluginHost{srv: srv}
}

func (h pluginHost) Instance() *Server {
	return h.srv
}

func (h pluginHost) Config() Config {
	return h.srv.conf
}

func (h pluginHost) Logger() *slog.Logger {
	return h.srv.log
}

func (h pluginHost) StartTime() time.Time {
	return h.srv.StartTime()
}

func (h pluginHost) Scheduler() *scheduler.Scheduler {
	return h.srv.sched
}

func (h pluginHost) Blockers() *blocker.Manager {
	return h.srv.blockers
}

func (h pluginHost) Worlds() *world.Worlds {
	return h.srv.worlds
}

func (h pluginHost) ExecuteCommand(ctx context.Context, source cmd.Source, commandLine string) {
	h.srv.ExecuteCommand(ctx, source, commandLine)
}

func (h pluginHost) Close() error {
	return h.srv.Close()
}

func (h pluginHost) PluginsEnabled() bool {
	return h.srv.PluginsEnabled()
}

var _ plugin.Host[*Server, Config] = pluginHost{}
