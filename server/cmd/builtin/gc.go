package builtin

import (
	"runtime"

	"github.com/dm-vev/powermobs/server/cmd"
)

type gcCommand struct {
	srv serverAdapter
}

func newGCCommand(srv serverAdapter) cmd.Command {
	return cmd.New("gc", "Prunes empty blocker buckets, clears the query cache and triggers a Go garbage collection cycle.", nil, gcCommand{srv: srv})
}

func (g gcCommand) Run(_ cmd.Source, _ []string, o *cmd.Output) {
	m := g.srv.Blockers()

	var before runtime.MemStats
	runtime.ReadMemStats(&before)

	statsBefore := m.Stats()
	pruned := m.Index().Prune()
	m.ClearCache()
	statsAfter := m.Stats()

	runtime.GC()

	var after runtime.MemStats
	runtime.ReadMemStats(&after)

	freedBytes := uint64(0)
	if before.HeapAlloc > after.HeapAlloc {
		freedBytes = before.HeapAlloc - after.HeapAlloc
	}

	o.Print("---- Garbage collection result ----")
	o.Printf("Buckets pruned: %d (now %d, %d before)", pruned, statsAfter.Buckets, statsBefore.Buckets)
	o.Printf("Cached chunks dropped: %d", statsBefore.CachedChunks)
	o.Printf("Heap memory freed: %.2f MiB (current heap %.2f MiB)", bytesToMiB(freedBytes), bytesToMiB(after.HeapAlloc))
}
