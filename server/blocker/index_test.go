package blocker

import (
	"testing"

	"github.com/dm-vev/powermobs/server/block/cube"
	"github.com/dm-vev/powermobs/server/world"
)

func TestIndexFanOutCoversRange(t *testing.T) {
	for _, r := range []int{1, 2, 3} {
		def := Definition{ID: "b", Enabled: true, Kind: SourceWorldBlock, Material: "minecraft:beacon", ChunkRange: r}
		x := NewIndex(NewRegistry(def), 0)
		if !x.Register(Instance{BlockerID: "b", World: "w", Pos: cube.Pos{3, 64, 7}}) {
			t.Fatalf("expected register with range %d to succeed", r)
		}
		if got, want := x.Buckets(), def.Side()*def.Side(); got != want {
			t.Fatalf("expected %d buckets for range %d, got %d", want, r, got)
		}
		for cx := int32(-r - 1); cx <= int32(r+1); cx++ {
			for cz := int32(-r - 1); cz <= int32(r+1); cz++ {
				chunk := world.ChunkPos{cx, cz}
				want := chunk.Chebyshev(world.ChunkPos{}) <= int32(r-1)
				if got := x.IsBlocked("w", chunk); got != want {
					t.Fatalf("range %d: IsBlocked(%v) = %v, want %v", r, chunk, got, want)
				}
			}
		}
	}
}

func TestIndexBeaconScenario(t *testing.T) {
	x := NewIndex(testRegistry(), 0)
	pos := cube.Pos{0, 64, 0}
	x.Register(Instance{BlockerID: "beacon", World: "w", Pos: pos})

	if !x.IsBlocked("w", world.ChunkPos{0, 0}) {
		t.Fatalf("expected chunk (0, 0) to be blocked")
	}
	if x.IsBlocked("w", world.ChunkPos{1, 0}) {
		t.Fatalf("expected chunk (1, 0) not to be blocked")
	}
	removed := x.Unregister("w", pos)
	if len(removed) != 1 || removed[0].BlockerID != "beacon" {
		t.Fatalf("expected beacon to be removed, got %v", removed)
	}
	if x.IsBlocked("w", world.ChunkPos{0, 0}) {
		t.Fatalf("expected chunk (0, 0) to be unblocked after removal")
	}
}

func TestIndexTorchScenario(t *testing.T) {
	x := NewIndex(testRegistry(), 0)
	x.Register(Instance{BlockerID: "torch", World: "w", Pos: chunkOrigin(world.ChunkPos{5, 5}, 70)})

	for cx := int32(4); cx <= 6; cx++ {
		for cz := int32(4); cz <= 6; cz++ {
			if !x.IsBlocked("w", world.ChunkPos{cx, cz}) {
				t.Fatalf("expected chunk (%d, %d) to be blocked", cx, cz)
			}
		}
	}
	if x.IsBlocked("w", world.ChunkPos{3, 5}) {
		t.Fatalf("expected chunk (3, 5) not to be blocked")
	}
	if x.IsBlocked("other", world.ChunkPos{5, 5}) {
		t.Fatalf("expected other world not to be blocked")
	}
}

func TestIndexRegisterIdempotent(t *testing.T) {
	x := NewIndex(testRegistry(), 0)
	inst := Instance{BlockerID: "torch", World: "w", Pos: cube.Pos{1, 2, 3}}
	if !x.Register(inst) {
		t.Fatalf("expected first register to succeed")
	}
	if x.Register(inst) {
		t.Fatalf("expected second register to be a no-op")
	}
	if x.Count() != 1 {
		t.Fatalf("expected 1 instance, got %d", x.Count())
	}
	if len(x.Instances()) != 1 {
		t.Fatalf("expected 1 unique instance, got %v", x.Instances())
	}
}

func TestIndexRejectsUnknownAndDisabled(t *testing.T) {
	x := NewIndex(testRegistry(), 0)
	if x.Register(Instance{BlockerID: "nope", World: "w"}) {
		t.Fatalf("expected unknown blocker to be rejected")
	}
	if x.Register(Instance{BlockerID: "relic", World: "w"}) {
		t.Fatalf("expected disabled blocker to be rejected")
	}
	if x.Count() != 0 || x.Buckets() != 0 {
		t.Fatalf("expected empty index, got %d instances in %d buckets", x.Count(), x.Buckets())
	}
}

func TestIndexUnregisterByPositionRemovesAllIDs(t *testing.T) {
	x := NewIndex(testRegistry(), 0)
	pos := cube.Pos{8, 64, 8}
	x.Register(Instance{BlockerID: "beacon", World: "w", Pos: pos})
	x.Register(Instance{BlockerID: "torch", World: "w", Pos: pos})
	if x.Count() != 2 {
		t.Fatalf("expected 2 instances, got %d", x.Count())
	}

	removed := x.Unregister("w", pos)
	if len(removed) != 2 || removed[0].BlockerID != "beacon" || removed[1].BlockerID != "torch" {
		t.Fatalf("expected beacon and torch to be removed, got %v", removed)
	}
	if x.Count() != 0 || x.IsBlocked("w", world.ChunkPos{1, 0}) {
		t.Fatalf("expected no blockers left")
	}
	if x.Prune() != 9 || x.Buckets() != 0 {
		t.Fatalf("expected all 9 empty buckets to be pruned")
	}
}

func TestIndexUnregisterUnknownIsNoop(t *testing.T) {
	x := NewIndex(testRegistry(), 0)
	calls := 0
	x.OnChange(func() { calls++ })
	if removed := x.Unregister("w", cube.Pos{1, 1, 1}); removed != nil {
		t.Fatalf("expected nothing removed, got %v", removed)
	}
	if calls != 0 {
		t.Fatalf("expected no change notification, got %d", calls)
	}
}

func TestIndexUnregisterInstanceKeepsOthers(t *testing.T) {
	x := NewIndex(testRegistry(), 0)
	pos := cube.Pos{0, 64, 0}
	b := Instance{BlockerID: "beacon", World: "w", Pos: pos}
	tr := Instance{BlockerID: "torch", World: "w", Pos: pos}
	x.Register(b)
	x.Register(tr)
	if !x.UnregisterInstance(b) {
		t.Fatalf("expected beacon to be removed")
	}
	if x.Contains(b) || !x.Contains(tr) {
		t.Fatalf("expected only torch to remain")
	}
}

func TestIndexDisabledDefinitionStopsBlocking(t *testing.T) {
	x := NewIndex(testRegistry(), 0)
	x.Register(Instance{BlockerID: "beacon", World: "w", Pos: cube.Pos{}})

	disabled := beacon
	disabled.Enabled = false
	x.SetRegistry(NewRegistry(disabled))
	if x.IsBlocked("w", world.ChunkPos{}) {
		t.Fatalf("expected disabled definition not to block")
	}
	x.SetRegistry(testRegistry())
	if !x.IsBlocked("w", world.ChunkPos{}) {
		t.Fatalf("expected re-enabled definition to block again")
	}
}

func TestIndexInstancesNearIsBounded(t *testing.T) {
	x := NewIndex(testRegistry(), 2)
	near := Instance{BlockerID: "beacon", World: "w", Pos: chunkOrigin(world.ChunkPos{2, -2}, 64)}
	far := Instance{BlockerID: "beacon", World: "w", Pos: chunkOrigin(world.ChunkPos{3, 0}, 64)}
	x.Register(near)
	x.Register(far)

	got := x.InstancesNear("w", cube.Pos{0, 64, 0})
	if len(got) != 1 || got[0] != near {
		t.Fatalf("expected only %v near the origin, got %v", near, got)
	}
}

func rangeRegistry(r int) *Registry {
	return NewRegistry(Definition{ID: "b", Enabled: true, Kind: SourceWorldBlock, Material: "minecraft:beacon", ChunkRange: r}, beacon)
}

func TestIndexSetRegistryRefansChangedRange(t *testing.T) {
	x := NewIndex(rangeRegistry(3), 0)
	inst := Instance{BlockerID: "b", World: "w", Pos: cube.Pos{1, 64, 1}}
	other := Instance{BlockerID: "beacon", World: "w", Pos: cube.Pos{100, 64, 100}}
	x.Register(inst)
	x.Register(other)
	if !x.IsBlocked("w", world.ChunkPos{2, 2}) {
		t.Fatalf("expected chunk (2, 2) to be blocked with range 3")
	}

	x.SetRegistry(rangeRegistry(1))
	if x.IsBlocked("w", world.ChunkPos{2, 2}) || x.IsBlocked("w", world.ChunkPos{1, 0}) {
		t.Fatalf("expected range 1 to only block the origin chunk")
	}
	if !x.IsBlocked("w", world.ChunkPos{0, 0}) {
		t.Fatalf("expected origin chunk to stay blocked")
	}
	x.Prune()
	if got := x.Buckets(); got != 2 {
		t.Fatalf("expected 2 buckets after shrinking, got %d", got)
	}

	x.SetRegistry(rangeRegistry(5))
	if !x.IsBlocked("w", world.ChunkPos{4, 0}) || !x.IsBlocked("w", world.ChunkPos{-4, 4}) {
		t.Fatalf("expected range 5 to block chunks 4 away")
	}
	if x.IsBlocked("w", world.ChunkPos{5, 0}) {
		t.Fatalf("expected chunk (5, 0) outside range 5 to be allowed")
	}
	if x.Register(inst) {
		t.Fatalf("expected re-register of a refanned instance to be a no-op")
	}
	if got, want := x.Buckets(), 9*9+1; got != want {
		t.Fatalf("expected %d buckets, got %d", want, got)
	}
	if x.Count() != 2 {
		t.Fatalf("expected 2 instances, got %d", x.Count())
	}
}

func TestIndexSetRegistryKeepsUnknownInstances(t *testing.T) {
	x := NewIndex(rangeRegistry(2), 0)
	inst := Instance{BlockerID: "b", World: "w", Pos: cube.Pos{}}
	x.Register(inst)

	x.SetRegistry(NewRegistry(beacon))
	if x.IsBlocked("w", world.ChunkPos{0, 0}) {
		t.Fatalf("expected instance of removed definition to stop blocking")
	}
	if !x.Contains(inst) {
		t.Fatalf("expected instance to be kept until the sweep drops it")
	}

	x.SetRegistry(rangeRegistry(3))
	if !x.IsBlocked("w", world.ChunkPos{2, -2}) {
		t.Fatalf("expected restored definition to block its new range")
	}
}
