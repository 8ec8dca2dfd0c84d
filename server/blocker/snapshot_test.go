package blocker

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/dm-vev/powermobs/server/block/cube"
	"github.com/dm-vev/powermobs/server/world"
	"github.com/google/uuid"
)

func snapshotFixture() []Instance {
	return []Instance{
		{BlockerID: "torch", World: "overworld", Pos: cube.Pos{80, 70, 80}},
		{BlockerID: "beacon", World: "overworld", Pos: cube.Pos{0, 64, 0}},
		{BlockerID: "beacon", World: "overworld", Pos: cube.Pos{0, 64, 0}},
		{BlockerID: "totem", World: "nether", Pos: cube.Pos{-20, 40, 3}},
	}
}

func TestSnapshotSaveRead(t *testing.T) {
	for _, name := range []string{"blockers.toml", "blockers.toml.zst"} {
		t.Run(name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "data", name)
			s := NewSnapshotStore(path, uuid.New(), discardLogger())
			n, err := s.Save(snapshotFixture())
			if err != nil {
				t.Fatalf("save snapshot: %v", err)
			}
			if n != 3 {
				t.Fatalf("expected 3 unique rows, got %d", n)
			}

			got, err := s.Read()
			if err != nil {
				t.Fatalf("read snapshot: %v", err)
			}
			want := []Instance{
				{BlockerID: "totem", World: "nether", Pos: cube.Pos{-20, 40, 3}},
				{BlockerID: "beacon", World: "overworld", Pos: cube.Pos{0, 64, 0}},
				{BlockerID: "torch", World: "overworld", Pos: cube.Pos{80, 70, 80}},
			}
			if len(got) != len(want) {
				t.Fatalf("expected %v, got %v", want, got)
			}
			for i := range want {
				if got[i] != want[i] {
					t.Fatalf("row %d: expected %v, got %v", i, want[i], got[i])
				}
			}

			raw, err := os.ReadFile(path)
			if err != nil {
				t.Fatal(err)
			}
			framed := bytes.HasPrefix(raw, []byte{0x28, 0xb5, 0x2f, 0xfd})
			if compressed := strings.HasSuffix(name, ".zst"); compressed != framed {
				t.Fatalf("expected zstd frame=%v, got %v", compressed, framed)
			}
		})
	}
}

func TestSnapshotReadMissingFile(t *testing.T) {
	s := NewSnapshotStore(filepath.Join(t.TempDir(), "none.toml"), uuid.New(), discardLogger())
	got, err := s.Read()
	if err != nil || len(got) != 0 {
		t.Fatalf("expected missing snapshot to hold nothing, got %v (%v)", got, err)
	}
}

func TestSnapshotRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockers.toml")
	if err := os.WriteFile(path, []byte("version = 7\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := NewSnapshotStore(path, uuid.New(), discardLogger()).Read(); err == nil {
		t.Fatalf("expected newer snapshot version to be rejected")
	}
}

func TestSnapshotLoadValidatesResidentChunks(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blockers.toml")
	session := uuid.New()
	s := NewSnapshotStore(path, session, discardLogger())
	rows := []Instance{
		{BlockerID: "beacon", World: "w", Pos: cube.Pos{1, 64, 1}},    // resident, matches
		{BlockerID: "beacon", World: "w", Pos: cube.Pos{17, 64, 1}},   // resident, source gone
		{BlockerID: "torch", World: "w", Pos: cube.Pos{160, 70, 160}}, // not resident
		{BlockerID: "relic", World: "w", Pos: cube.Pos{2, 64, 2}},     // disabled
		{BlockerID: "gone", World: "w", Pos: cube.Pos{3, 64, 3}},      // unknown
		{BlockerID: "beacon", World: "unloaded", Pos: cube.Pos{0, 0, 0}},
	}
	if _, err := s.Save(rows); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}

	w := world.NewMemory("w")
	w.LoadChunk(world.ChunkPos{0, 0})
	w.LoadChunk(world.ChunkPos{1, 0})
	w.SetBlock(cube.Pos{1, 64, 1}, "minecraft:beacon")

	x := NewIndex(testRegistry(), 0)
	res, err := s.Load(x, world.NewWorlds(w))
	if err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	if res.Rows != 6 || res.Validated != 1 || res.Optimistic != 2 || res.Stale != 1 || res.Dropped != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Session != session.String() {
		t.Fatalf("expected session %v, got %q", session, res.Session)
	}
	if w.Reads(world.ChunkPos{10, 10}) != 0 {
		t.Fatalf("expected non-resident chunk never to be read")
	}
	if !x.IsBlocked("w", world.ChunkPos{10, 10}) || !x.IsBlocked("w", world.ChunkPos{0, 0}) {
		t.Fatalf("expected validated and optimistic blockers to block")
	}
	if x.IsBlocked("w", world.ChunkPos{1, 0}) {
		t.Fatalf("expected stale row not to be registered")
	}
}

func TestSnapshotRoundTripPreservesBlockedChunks(t *testing.T) {
	w := world.NewMemory("w")
	sources := map[cube.Pos]string{
		{0, 64, 0}:     "minecraft:beacon",
		{-40, 70, 100}: "minecraft:soul_torch",
	}
	ids := map[cube.Pos]string{{0, 64, 0}: "beacon", {-40, 70, 100}: "torch"}
	for pos, material := range sources {
		w.LoadChunk(world.ChunkPosOf(pos))
		w.SetBlock(pos, material)
	}

	before := NewIndex(testRegistry(), 0)
	for pos, id := range ids {
		before.Register(Instance{BlockerID: id, World: "w", Pos: pos})
	}
	s := NewSnapshotStore(filepath.Join(t.TempDir(), "b.toml.zst"), uuid.New(), discardLogger())
	if _, err := s.Save(before.Instances()); err != nil {
		t.Fatalf("save snapshot: %v", err)
	}
	after := NewIndex(testRegistry(), 0)
	if _, err := s.Load(after, world.NewWorlds(w)); err != nil {
		t.Fatalf("load snapshot: %v", err)
	}
	for cx := int32(-6); cx <= 6; cx++ {
		for cz := int32(-6); cz <= 10; cz++ {
			chunk := world.ChunkPos{cx, cz}
			if before.IsBlocked("w", chunk) != after.IsBlocked("w", chunk) {
				t.Fatalf("blocked state of %v changed after round trip", chunk)
			}
		}
	}
}
