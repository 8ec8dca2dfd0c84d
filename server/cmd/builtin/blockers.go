package builtin

import (
	"errors"
	"strconv"
	"strings"

	"github.com/dm-vev/powermobs/server/blocker"
	"github.com/dm-vev/powermobs/server/cmd"
	"github.com/dm-vev/powermobs/server/world"
)

// listLimit is the maximum number of blockers printed by /blockers list.
const listLimit = 50

type blockersCommand struct {
	consoleOnly
	srv serverAdapter
}

func newBlockersCommand(srv serverAdapter) cmd.Command {
	return cmd.New("blockers", "Inspects and manages spawn blockers.", []string{"blocker"}, blockersCommand{srv: srv})
}

func (blockersCommand) Usage() string {
	return "<stats|save|load|sweep|reload|check|list|scan|partitions|add|remove> [args]"
}

func (b blockersCommand) Run(_ cmd.Source, args []string, o *cmd.Output) {
	if len(args) == 0 {
		o.Errorf(cmd.MessageUsage, "/blockers "+b.Usage())
		return
	}
	m := b.srv.Blockers()
	sub, args := strings.ToLower(args[0]), args[1:]
	switch sub {
	case "stats":
		b.stats(m, o)
	case "save":
		n, err := m.SaveSnapshot()
		if err != nil {
			o.Error(err)
			return
		}
		o.Printf("Saved %d blockers to the snapshot.", n)
	case "load":
		res, err := m.LoadSnapshot()
		if err != nil {
			o.Error(err)
			return
		}
		o.Printf("Loaded %d snapshot rows: %d validated, %d unvalidated, %d stale, %d dropped.", res.Rows, res.Validated, res.Optimistic, res.Stale, res.Dropped)
	case "sweep":
		res := m.Sweep()
		o.Printf("Checked %d blockers (%d skipped): %d sources removed, %d orphans removed, %d buckets pruned.", res.Checked, res.Skipped, res.Removed, res.Orphaned, res.Pruned)
	case "reload":
		n, err := m.ReloadDefinitions()
		if err != nil {
			o.Error(err)
			return
		}
		o.Printf("Reloaded %d blocker definitions.", n)
	case "check":
		b.check(m, args, o)
	case "list":
		b.list(m, args, o)
	case "scan":
		b.scan(m, args, o)
	case "partitions":
		b.partitions(args, o)
	case "add":
		b.add(m, args, o)
	case "remove":
		b.remove(m, args, o)
	default:
		o.Errorf(cmd.MessageUsage, "/blockers "+b.Usage())
	}
}

func (b blockersCommand) stats(m *blocker.Manager, o *cmd.Output) {
	s := m.Stats()
	o.Printf("Blockers: %d in %d buckets | Definitions: %d", s.Instances, s.Buckets, s.Definitions)
	o.Printf("Registered: %d | Removed: %d | Hydrated: %d | Stale: %d", s.Registered, s.Removed, s.Hydrated, s.Stale)
	o.Printf("Query cache: %d chunks | %d hits / %d misses", s.CachedChunks, s.CacheHits, s.CacheMisses)
	o.Printf("Sweeps: %d | Ledger errors: %d", s.Sweeps, s.LedgerErrors)
	for _, name := range b.srv.Worlds().Names() {
		if n := s.Registrations[name]; n > 0 {
			o.Printf("  %s: %d registrations", name, n)
		}
	}
}

func (b blockersCommand) check(m *blocker.Manager, args []string, o *cmd.Output) {
	if len(args) < 4 {
		o.Errorf(cmd.MessageUsage, "/blockers check <world> <x> <y> <z>")
		return
	}
	pos, err := parsePos(args[1:])
	if err != nil {
		o.Error(err)
		return
	}
	worldName := args[0]
	chunk := world.ChunkPosOf(pos)
	if !m.IsSpawnBlocked(worldName, pos) {
		o.Printf("Spawning at %v in %s (chunk %v) is allowed.", pos, worldName, chunk)
		return
	}
	o.Printf("Spawning at %v in %s (chunk %v) is blocked.", pos, worldName, chunk)
	for _, inst := range m.Near(worldName, pos) {
		o.Printf("  %s at %v", inst.BlockerID, inst.Pos)
	}
}

func (b blockersCommand) list(m *blocker.Manager, args []string, o *cmd.Output) {
	if len(args) < 1 {
		o.Errorf(cmd.MessageUsage, "/blockers list <world> [limit]")
		return
	}
	limit := listLimit
	if len(args) > 1 {
		n, err := strconv.Atoi(args[1])
		if err != nil || n <= 0 {
			o.Errorf("invalid limit %q", args[1])
			return
		}
		limit = n
	}
	instances := m.InstancesIn(args[0])
	if len(instances) == 0 {
		o.Printf("No blockers registered in %s.", args[0])
		return
	}
	o.Printf("Blockers in %s (%d):", args[0], len(instances))
	for i, inst := range instances {
		if i == limit {
			o.Printf("  ... and %d more", len(instances)-limit)
			break
		}
		o.Printf("  %s at %v", inst.BlockerID, inst.Pos)
	}
}

func (b blockersCommand) scan(m *blocker.Manager, args []string, o *cmd.Output) {
	if len(args) < 1 {
		o.Errorf(cmd.MessageUsage, "/blockers scan <world>")
		return
	}
	w, ok := b.srv.Worlds().World(args[0])
	if !ok {
		o.Errorf("unknown world %q", args[0])
		return
	}
	n := m.ScanWorld(w)
	o.Printf("Restored %d blockers from the ledgers of %d resident chunks in %s.", n, len(w.LoadedChunks()), w.Name())
}

func (b blockersCommand) partitions(args []string, o *cmd.Output) {
	if len(args) < 1 {
		o.Errorf(cmd.MessageUsage, "/blockers partitions <world>")
		return
	}
	chunks, err := b.srv.LedgerPartitions(args[0])
	if err != nil {
		o.Error(err)
		return
	}
	if len(chunks) == 0 {
		o.Printf("No ledgers stored for %s.", args[0])
		return
	}
	o.Printf("Ledgers stored for %s (%d):", args[0], len(chunks))
	for i, c := range chunks {
		if i == listLimit {
			o.Printf("  ... and %d more", len(chunks)-listLimit)
			break
		}
		o.Printf("  %v", c)
	}
}

func (b blockersCommand) add(m *blocker.Manager, args []string, o *cmd.Output) {
	if len(args) < 5 {
		o.Errorf(cmd.MessageUsage, "/blockers add <world> <x> <y> <z> <id>")
		return
	}
	pos, err := parsePos(args[1:])
	if err != nil {
		o.Error(err)
		return
	}
	id := args[4]
	if _, err := m.Registry().Resolve(id); err != nil {
		o.Error(err)
		return
	}
	if !m.RegisterBlocker(args[0], pos, id) {
		o.Printf("%s at %v in %s is already registered.", id, pos, args[0])
		return
	}
	o.Printf("Registered %s at %v in %s.", id, pos, args[0])
}

func (b blockersCommand) remove(m *blocker.Manager, args []string, o *cmd.Output) {
	if len(args) < 4 {
		o.Errorf(cmd.MessageUsage, "/blockers remove <world> <x> <y> <z> [id]")
		return
	}
	pos, err := parsePos(args[1:])
	if err != nil {
		o.Error(err)
		return
	}
	if len(args) > 4 {
		if !m.RemoveBlockerByID(args[0], pos, args[4]) {
			o.Error(errors.New("no such blocker registered at that position"))
			return
		}
		o.Printf("Removed %s at %v in %s.", args[4], pos, args[0])
		return
	}
	id, ok := m.RemoveBlocker(args[0], pos)
	if !ok {
		o.Error(errors.New("no blocker registered at that position"))
		return
	}
	o.Printf("Removed %s at %v in %s.", id, pos, args[0])
}
