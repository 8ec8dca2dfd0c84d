package builtin

import (
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/dm-vev/powermobs/server/block/cube"
	"github.com/dm-vev/powermobs/server/blocker"
	"github.com/dm-vev/powermobs/server/cmd"
	"github.com/dm-vev/powermobs/server/plugin"
	"github.com/dm-vev/powermobs/server/world"
)

type fakeServer struct {
	start    time.Time
	closed   bool
	blockers *blocker.Manager
	worlds   *world.Worlds

	partitions map[string][]world.ChunkPos
	plugins    []plugin.Info
	enabled    bool
}

func (f *fakeServer) StartTime() time.Time       { return f.start }
func (f *fakeServer) Blockers() *blocker.Manager { return f.blockers }
func (f *fakeServer) Worlds() *world.Worlds      { return f.worlds }
func (f *fakeServer) PluginsEnabled() bool       { return f.enabled }
func (f *fakeServer) Plugins() []plugin.Info     { return f.plugins }

func (f *fakeServer) Close() error {
	f.closed = true
	return nil
}

func (f *fakeServer) LedgerPartitions(worldName string) ([]world.ChunkPos, error) {
	return f.partitions[worldName], nil
}

func (f *fakeServer) EnablePlugin(path string) (plugin.Info, error) {
	info := plugin.Info{Name: strings.TrimSuffix(path, ".so"), Path: path}
	f.plugins = append(f.plugins, info)
	return info, nil
}

func (f *fakeServer) DisablePlugin(name string) (plugin.Info, error) {
	for i, info := range f.plugins {
		if info.Name == name {
			f.plugins = append(f.plugins[:i], f.plugins[i+1:]...)
			return info, nil
		}
	}
	return plugin.Info{}, plugin.ErrNotFound
}

func (f *fakeServer) ReloadPlugin(name string) (plugin.Info, error) {
	for _, info := range f.plugins {
		if info.Name == name {
			return info, nil
		}
	}
	return plugin.Info{}, plugin.ErrNotFound
}

type consoleSource struct {
	outputs []*cmd.Output
}

func (*consoleSource) Name() string  { return "Console" }
func (*consoleSource) Console() bool { return true }
func (s *consoleSource) SendCommandOutput(o *cmd.Output) {
	s.outputs = append(s.outputs, o)
}

type pluginSource struct {
	outputs []*cmd.Output
}

func (*pluginSource) Name() string { return "plugin" }
func (s *pluginSource) SendCommandOutput(o *cmd.Output) {
	s.outputs = append(s.outputs, o)
}

func newFakeServer(t *testing.T) (*fakeServer, *world.Memory) {
	t.Helper()
	overworld := world.NewMemory("overworld")
	worlds := world.NewWorlds(overworld)
	reg := blocker.NewRegistry(
		blocker.Definition{ID: "beacon", Enabled: true, Kind: blocker.SourceWorldBlock, Material: "minecraft:beacon", ChunkRange: 1},
		blocker.Definition{ID: "torch", Enabled: true, Kind: blocker.SourceWorldBlock, Material: "minecraft:soul_torch", ChunkRange: 2},
	)
	m := blocker.Config{
		Log:      slog.New(slog.NewTextHandler(io.Discard, nil)),
		Registry: reg,
		Worlds:   worlds,
	}.New()
	t.Cleanup(func() { _ = m.Close() })

	srv := &fakeServer{start: time.Now(), blockers: m, worlds: worlds, enabled: true}
	Register(srv)
	return srv, overworld
}

// run executes a command line as the console and returns the joined messages
// and errors of its output.
func run(t *testing.T, line string) (string, string) {
	t.Helper()
	src := &consoleSource{}
	cmd.ExecuteLine(src, line, nil)
	if len(src.outputs) != 1 {
		t.Fatalf("expected one output for %q, got %d", line, len(src.outputs))
	}
	o := src.outputs[0]
	errs := make([]string, 0, o.ErrorCount())
	for _, err := range o.Errors() {
		errs = append(errs, err.Error())
	}
	return strings.Join(o.Messages(), "\n"), strings.Join(errs, "\n")
}

func TestBlockersAddCheckRemove(t *testing.T) {
	srv, _ := newFakeServer(t)

	msg, errs := run(t, "/blockers add overworld 8 64 8 beacon")
	if errs != "" || !strings.Contains(msg, "Registered beacon at (8,64,8)") {
		t.Fatalf("unexpected add output %q %q", msg, errs)
	}
	if !srv.blockers.IsChunkBlocked("overworld", world.ChunkPos{0, 0}) {
		t.Fatalf("expected chunk (0, 0) to be blocked")
	}

	msg, _ = run(t, "/blockers check overworld 12 70 3")
	if !strings.Contains(msg, "is blocked") || !strings.Contains(msg, "beacon at (8,64,8)") {
		t.Fatalf("unexpected check output %q", msg)
	}
	msg, _ = run(t, "/blockers check overworld 40 70 40")
	if !strings.Contains(msg, "is allowed") {
		t.Fatalf("unexpected check output %q", msg)
	}

	_, errs = run(t, "/blockers add overworld 8 64 8 missing")
	if !strings.Contains(errs, "missing") {
		t.Fatalf("expected unknown blocker error, got %q", errs)
	}

	msg, errs = run(t, "/blockers remove overworld 8 64 8")
	if errs != "" || !strings.Contains(msg, "Removed beacon") {
		t.Fatalf("unexpected remove output %q %q", msg, errs)
	}
	if srv.blockers.Count() != 0 {
		t.Fatalf("expected no blockers, got %d", srv.blockers.Count())
	}
	if _, errs = run(t, "/blockers remove overworld 8 64 8"); errs == "" {
		t.Fatalf("expected error removing a missing blocker")
	}
}

func TestBlockersRemoveByID(t *testing.T) {
	srv, _ := newFakeServer(t)
	pos := cube.Pos{1, 64, 1}
	srv.blockers.RegisterBlocker("overworld", pos, "beacon")
	srv.blockers.RegisterBlocker("overworld", pos, "torch")

	if _, errs := run(t, "/blockers remove overworld 1 64 1 torch"); errs != "" {
		t.Fatalf("unexpected error %q", errs)
	}
	instances := srv.blockers.InstancesIn("overworld")
	if len(instances) != 1 || instances[0].BlockerID != "beacon" {
		t.Fatalf("expected only beacon to remain, got %v", instances)
	}
}

func TestBlockersListAndStats(t *testing.T) {
	srv, _ := newFakeServer(t)
	for x := range 3 {
		srv.blockers.RegisterBlocker("overworld", cube.Pos{x * 100, 64, 0}, "beacon")
	}

	msg, _ := run(t, "/blockers list overworld 2")
	if !strings.Contains(msg, "Blockers in overworld (3):") || !strings.Contains(msg, "... and 1 more") {
		t.Fatalf("unexpected list output %q", msg)
	}
	msg, _ = run(t, "/blockers list nether")
	if !strings.Contains(msg, "No blockers registered in nether.") {
		t.Fatalf("unexpected list output %q", msg)
	}
	if _, errs := run(t, "/blockers list overworld zero"); errs == "" {
		t.Fatalf("expected invalid limit error")
	}

	msg, _ = run(t, "/blockers stats")
	if !strings.Contains(msg, "Blockers: 3 in 3 buckets") || !strings.Contains(msg, "overworld: 3 registrations") {
		t.Fatalf("unexpected stats output %q", msg)
	}
}

func TestBlockersSweep(t *testing.T) {
	srv, overworld := newFakeServer(t)
	overworld.LoadChunk(world.ChunkPos{0, 0})
	overworld.SetBlock(cube.Pos{2, 64, 2}, "minecraft:beacon")
	srv.blockers.RegisterBlocker("overworld", cube.Pos{2, 64, 2}, "beacon")
	srv.blockers.RegisterBlocker("overworld", cube.Pos{3, 64, 3}, "beacon")

	msg, _ := run(t, "/blockers sweep")
	if !strings.Contains(msg, "Checked 2 blockers (0 skipped): 1 sources removed") {
		t.Fatalf("unexpected sweep output %q", msg)
	}
	if srv.blockers.Count() != 1 {
		t.Fatalf("expected 1 blocker to remain, got %d", srv.blockers.Count())
	}
}

func TestBlockersPartitionsAndReload(t *testing.T) {
	srv, _ := newFakeServer(t)
	srv.partitions = map[string][]world.ChunkPos{"overworld": {{0, 0}, {3, -2}}}

	msg, _ := run(t, "/blockers partitions overworld")
	if !strings.Contains(msg, "(3, -2)") {
		t.Fatalf("unexpected partitions output %q", msg)
	}
	_, errs := run(t, "/blockers reload")
	if !strings.Contains(errs, blocker.ErrNoDefinitionsFile.Error()) {
		t.Fatalf("expected missing definitions file error, got %q", errs)
	}
}

func TestBlockersRequiresConsole(t *testing.T) {
	newFakeServer(t)
	src := &pluginSource{}
	cmd.ExecuteLine(src, "/blockers stats", nil)
	if len(src.outputs) != 1 || src.outputs[0].ErrorCount() != 1 {
		t.Fatalf("expected permission error for a non-console source")
	}
}

func TestPluginCommand(t *testing.T) {
	srv, _ := newFakeServer(t)

	msg, _ := run(t, "/plugin enable watcher.so")
	if !strings.Contains(msg, "Enabled watcher from watcher.so.") {
		t.Fatalf("unexpected enable output %q", msg)
	}
	msg, _ = run(t, "/plugin")
	if !strings.Contains(msg, "watcher (watcher.so)") {
		t.Fatalf("unexpected list output %q", msg)
	}
	_, errs := run(t, "/plugin disable ghost")
	if !strings.Contains(errs, plugin.ErrNotFound.Error()) {
		t.Fatalf("expected not found error, got %q", errs)
	}
	msg, _ = run(t, "/plugin disable watcher")
	if !strings.Contains(msg, "Disabled watcher.") {
		t.Fatalf("unexpected disable output %q", msg)
	}

	srv.enabled = false
	if _, errs = run(t, "/plugin enable watcher.so"); !strings.Contains(errs, "disabled") {
		t.Fatalf("expected subsystem disabled error, got %q", errs)
	}
}

func TestHelpListsCommands(t *testing.T) {
	newFakeServer(t)
	msg, _ := run(t, "/help")
	for _, name := range []string{"/blockers", "/status", "/stop", "/help"} {
		if !strings.Contains(msg, name) {
			t.Fatalf("expected help to list %s, got %q", name, msg)
		}
	}
	msg, _ = run(t, "/help blockers")
	if !strings.Contains(msg, "/blockers <stats|") {
		t.Fatalf("unexpected help output %q", msg)
	}
	if _, errs := run(t, "/help nothing"); errs == "" {
		t.Fatalf("expected error for an unknown command")
	}
}

func TestStopAndStatus(t *testing.T) {
	srv, _ := newFakeServer(t)
	msg, _ := run(t, "/status")
	if !strings.Contains(msg, "Worlds: 1 | Blockers: 0") {
		t.Fatalf("unexpected status output %q", msg)
	}
	if _, errs := run(t, "/stop"); errs != "" {
		t.Fatalf("unexpected stop error %q", errs)
	}
	if !srv.closed {
		t.Fatalf("expected server to be closed")
	}
}

func TestParsePos(t *testing.T) {
	pos, err := parsePos([]string{"1", "-64", "30"})
	if err != nil || pos != (cube.Pos{1, -64, 30}) {
		t.Fatalf("expected (1,-64,30), got %v %v", pos, err)
	}
	if _, err := parsePos([]string{"1", "2"}); err == nil {
		t.Fatalf("expected error for missing coordinate")
	}
	if _, err := parsePos([]string{"1", "a", "3"}); err == nil {
		t.Fatalf("expected error for invalid coordinate")
	}
}
