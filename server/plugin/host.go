package plugin

import (
	"context"
	"log/slog"
	"time"

	"github.com/dm-vev/powermobs/server/blocker"
	"github.com/dm-vev/powermobs/server/cmd"
	"github.com/dm-vev/powermobs/server/scheduler"
	"github.com/dm-vev/powermobs/server/world"
)

// Host exposes the subset of server functionality required by the plugin
// manager and APIs.
type Host[S any, C any] interface {
	// Instance returns the underlying server value.
	Instance() S
	// Config returns a snapshot of the server configuration.
	Config() C
	// Logger returns the logger used for structured diagnostics.
	Logger() *slog.Logger
	// StartTime reports the time the server started running.
	StartTime() time.Time
	// Scheduler returns the scheduler that runs all tasks of the server.
	Scheduler() *scheduler.Scheduler
	// Blockers returns the spawn blocker manager.
	Blockers() *blocker.Manager
	// Worlds returns the worlds known to the server.
	Worlds() *world.Worlds
	// ExecuteCommand runs a command on behalf of the given source and returns
	// once it has finished or ctx is cancelled.
	ExecuteCommand(ctx context.Context, source cmd.Source, commandLine string)
	// Close shuts the underlying server down.
	Close() error
	// PluginsEnabled reports if the plugin system is active.
	PluginsEnabled() bool
}
