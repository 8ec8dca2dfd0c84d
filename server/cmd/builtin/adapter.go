package builtin

import (
	"time"

	"github.com/dm-vev/powermobs/server/blocker"
	"github.com/dm-vev/powermobs/server/plugin"
	"github.com/dm-vev/powermobs/server/world"
)

type serverAdapter interface {
	StartTime() time.Time
	Close() error

	Blockers() *blocker.Manager
	Worlds() *world.Worlds
	// LedgerPartitions returns the partitions of a world that have a ledger.
	LedgerPartitions(worldName string) ([]world.ChunkPos, error)

	PluginsEnabled() bool
	Plugins() []plugin.Info
	EnablePlugin(path string) (plugin.Info, error)
	DisablePlugin(name string) (plugin.Info, error)
	ReloadPlugin(name string) (plugin.Info, error)
}
