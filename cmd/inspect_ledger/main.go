// Command inspect_ledger prints the blocker ledgers stored in a ledger
// database, one line per entry.
package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/dm-vev/powermobs/server/blocker"
	"github.com/dm-vev/powermobs/server/blocker/ledgerdb"
)

func main() {
	var (
		backend   = flag.String("backend", ledgerdb.BackendLevelDB, "ledger backend: leveldb or sqlite")
		path      = flag.String("path", "data/ledger", "path of the ledger database")
		worldName = flag.String("world", "overworld", "world to list the ledgers of")
	)
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stderr, nil))
	store, err := ledgerdb.Config{Log: log, Backend: *backend, Path: *path}.Open()
	if err != nil {
		log.Error("Could not open ledger.", "path", *path, "error", err)
		os.Exit(1)
	}
	defer store.Close()

	if err := dump(os.Stdout, store, *worldName); err != nil {
		log.Error("Could not read ledger.", "world", *worldName, "error", err)
		os.Exit(1)
	}
}

func dump(w io.Writer, store ledgerdb.Store, worldName string) error {
	chunks, err := store.Partitions(worldName)
	if err != nil {
		return err
	}
	entries, malformed := 0, 0
	for _, chunk := range chunks {
		p := blocker.Partition{World: worldName, Chunk: chunk}
		encoded, ok, err := store.LoadLedger(p)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		decoded, bad := blocker.DecodeLedger(encoded)
		for _, e := range decoded {
			_, _ = fmt.Fprintf(w, "%v\t%v\t%v\n", chunk, e.BlockerID, e.Pos)
		}
		entries += len(decoded)
		malformed += bad
	}
	_, _ = fmt.Fprintf(w, "%d entries in %d partitions (%d malformed)\n", entries, len(chunks), malformed)
	return nil
}
