// Package ledgerdb implements persistent stores for the per-chunk blocker
// ledgers of the blocker package.
package ledgerdb

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/dm-vev/powermobs/server/blocker"
	"github.com/dm-vev/powermobs/server/world"
)

// ErrUnknownBackend is returned by Config.Open for a backend name that is not
// supported.
var ErrUnknownBackend = errors.New("unknown ledger backend")

const (
	// BackendLevelDB stores ledgers in a LevelDB database directory.
	BackendLevelDB = "leveldb"
	// BackendSQLite stores ledgers in a single SQLite database file.
	BackendSQLite = "sqlite"
)

// Store is a blocker.LedgerStore that can list the partitions of a world
// holding a ledger and must be closed after use.
type Store interface {
	blocker.LedgerStore
	io.Closer
	// Partitions returns the chunks of a world that currently hold a ledger.
	Partitions(worldName string) ([]world.ChunkPos, error)
}

// Config holds the settings of a ledger store.
type Config struct {
	// Log is the Logger to log to. If nil, slog.Default() is used.
	Log *slog.Logger
	// Backend is the name of the backend to use, either "leveldb" or
	// "sqlite". Defaults to "leveldb".
	Backend string
	// Path is the directory of a LevelDB database or the file of a SQLite
	// database.
	Path string
}

// Open opens the store described by conf, creating it if it does not yet
// exist.
func (conf Config) Open() (Store, error) {
	if conf.Log == nil {
		conf.Log = slog.Default()
	}
	if conf.Path == "" {
		return nil, fmt.Errorf("open ledger: empty path")
	}
	log := conf.Log.With("subsystem", "ledgerdb")
	switch strings.ToLower(strings.TrimSpace(conf.Backend)) {
	case "", BackendLevelDB:
		return OpenLevelDB(conf.Path, log)
	case BackendSQLite:
		return OpenSQLite(conf.Path, log)
	}
	return nil, fmt.Errorf("open ledger: %w %q", ErrUnknownBackend, conf.Backend)
}
