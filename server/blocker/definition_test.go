package blocker

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"

	"github.com/dm-vev/powermobs/server/block/cube"
	"github.com/dm-vev/powermobs/server/world"
)

const yamlDefinitions = `
blockers:
  beacon:
    type: block
    material: BEACON
  soul_torch:
    enabled: false
    type: world_block
    material: minecraft:soul_torch
    chunk-range: 2
    name: Soul Torch
    lore: ["ignored"]
  ward_totem:
    type: item
    material: totem_of_undying
    chunk-range: 3
    description: Keeps monsters away.
    lore:
      - First line
      - Second line
  broken:
    type: block
    material: stone
    chunk-range: 0
  nameless:
    type: block
  weird:
    type: cloud
    material: stone
`

func TestParseDefinitionsYAML(t *testing.T) {
	reg, err := ParseDefinitionsYAML([]byte(yamlDefinitions), discardLogger())
	if err != nil {
		t.Fatalf("parse definitions: %v", err)
	}
	if got, want := reg.IDs(), []string{"beacon", "soul_torch", "ward_totem"}; !slices.Equal(got, want) {
		t.Fatalf("expected ids %v, got %v", want, got)
	}

	b, _ := reg.Get("beacon")
	if !b.Enabled || b.Kind != SourceWorldBlock || b.Material != "minecraft:beacon" || b.ChunkRange != 1 {
		t.Fatalf("unexpected beacon definition %+v", b)
	}
	if b.DisplayName != "Beacon" {
		t.Fatalf("expected default display name Beacon, got %q", b.DisplayName)
	}

	torch, _ := reg.Get("soul_torch")
	if torch.Enabled || torch.ChunkRange != 2 || torch.DisplayName != "Soul Torch" {
		t.Fatalf("unexpected soul_torch definition %+v", torch)
	}
	if len(torch.Lore) != 0 {
		t.Fatalf("expected lore of block definition to be dropped, got %v", torch.Lore)
	}

	totem, _ := reg.Get("ward_totem")
	if totem.Kind != SourcePortableItem || totem.DisplayName != "Ward Totem" || len(totem.Lore) != 2 {
		t.Fatalf("unexpected ward_totem definition %+v", totem)
	}
	if totem.Side() != 5 {
		t.Fatalf("expected side 5 for range 3, got %d", totem.Side())
	}
}

const tomlDefinitions = `
[blockers.beacon]
type = "block"
material = "beacon"
chunk-range = 2

[blockers.charm]
type = "item"
material = "minecraft:amethyst_shard"
lore = ["Shiny"]

[blockers.bad]
type = "block"
material = "stone"
chunk-range = -1
`

func TestParseDefinitionsTOML(t *testing.T) {
	reg, err := ParseDefinitionsTOML([]byte(tomlDefinitions), discardLogger())
	if err != nil {
		t.Fatalf("parse definitions: %v", err)
	}
	if got, want := reg.IDs(), []string{"beacon", "charm"}; !slices.Equal(got, want) {
		t.Fatalf("expected ids %v, got %v", want, got)
	}
	if d, _ := reg.Get("beacon"); d.ChunkRange != 2 || d.Material != "minecraft:beacon" {
		t.Fatalf("unexpected beacon definition %+v", d)
	}
	if d, _ := reg.Get("charm"); d.Kind != SourcePortableItem || !slices.Equal(d.Lore, []string{"Shiny"}) {
		t.Fatalf("unexpected charm definition %+v", d)
	}
}

func TestLoadDefinitionsMissingFile(t *testing.T) {
	reg, err := LoadDefinitions(filepath.Join(t.TempDir(), "blockers.yml"), discardLogger())
	if err != nil {
		t.Fatalf("expected missing file to be valid, got %v", err)
	}
	if reg.Len() != 0 {
		t.Fatalf("expected empty registry, got %d definitions", reg.Len())
	}
}

func TestLoadDefinitionsByExtension(t *testing.T) {
	dir := t.TempDir()
	yml := filepath.Join(dir, "blockers.yml")
	tml := filepath.Join(dir, "blockers.toml")
	if err := os.WriteFile(yml, []byte(yamlDefinitions), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(tml, []byte(tomlDefinitions), 0o644); err != nil {
		t.Fatal(err)
	}
	if reg, err := LoadDefinitions(yml, discardLogger()); err != nil || reg.Len() != 3 {
		t.Fatalf("expected 3 yaml definitions, got %v (%v)", reg.Len(), err)
	}
	if reg, err := LoadDefinitions(tml, discardLogger()); err != nil || reg.Len() != 2 {
		t.Fatalf("expected 2 toml definitions, got %v (%v)", reg.Len(), err)
	}
}

func TestRegistryResolve(t *testing.T) {
	reg := testRegistry()
	if _, err := reg.Resolve("beacon"); err != nil {
		t.Fatalf("expected beacon to resolve, got %v", err)
	}
	if _, err := reg.Resolve("relic"); !errors.Is(err, ErrBlockerDisabled) {
		t.Fatalf("expected ErrBlockerDisabled, got %v", err)
	}
	if _, err := reg.Resolve("nope"); !errors.Is(err, ErrUnknownBlocker) {
		t.Fatalf("expected ErrUnknownBlocker, got %v", err)
	}
	var nilReg *Registry
	if _, ok := nilReg.Get("beacon"); ok || nilReg.Len() != 0 {
		t.Fatalf("expected nil registry to hold no definitions")
	}
}

func TestDefinitionMatches(t *testing.T) {
	w := world.NewMemory("w")
	w.LoadChunk(world.ChunkPos{0, 0})
	block, item := cube.Pos{1, 64, 1}, cube.Pos{2, 64, 2}
	w.SetBlock(block, "Beacon")
	w.SetAnchoredItem(item, "minecraft:totem_of_undying")

	if !beacon.Matches(w, block) {
		t.Fatalf("expected beacon to match block at %v", block)
	}
	if beacon.Matches(w, item) {
		t.Fatalf("expected beacon not to match air at %v", item)
	}
	if !totem.Matches(w, item) {
		t.Fatalf("expected totem to match anchored item at %v", item)
	}
	if totem.Matches(w, block) {
		t.Fatalf("expected totem not to match a position without an item")
	}
}

func TestParseSourceKind(t *testing.T) {
	cases := map[string]SourceKind{
		"block":         SourceWorldBlock,
		"World_Block":   SourceWorldBlock,
		"world-block":   SourceWorldBlock,
		"item":          SourcePortableItem,
		"portable_item": SourcePortableItem,
		" ITEM ":        SourcePortableItem,
	}
	for s, want := range cases {
		if got, ok := ParseSourceKind(s); !ok || got != want {
			t.Fatalf("ParseSourceKind(%q) = %v, %v, want %v", s, got, ok, want)
		}
	}
	if _, ok := ParseSourceKind("entity"); ok {
		t.Fatalf("expected entity not to parse")
	}
}

func TestRegistrySourced(t *testing.T) {
	reg := NewRegistry(beacon, torch, totem, relic, Definition{
		ID: "another_beacon", Enabled: true, Kind: SourceWorldBlock, Material: "minecraft:beacon", ChunkRange: 4,
	})
	got := reg.Sourced(SourceWorldBlock, "BEACON")
	if len(got) != 2 || got[0].ID != "another_beacon" || got[1].ID != "beacon" {
		t.Fatalf("unexpected definitions %v", got)
	}
	if got := reg.Sourced(SourcePortableItem, "minecraft:beacon"); len(got) != 0 {
		t.Fatalf("expected no item definitions for beacon, got %v", got)
	}
	if got := reg.Sourced(SourceWorldBlock, "lodestone"); len(got) != 0 {
		t.Fatalf("expected disabled definitions to be skipped, got %v", got)
	}
}

const invalidDefinitions = `
blockers:
  huge:
    material: beacon
    chunk-range: 100000
  just_too_big:
    material: beacon
    chunk-range: 17
  widest:
    material: beacon
    chunk-range: 16
  "a|b":
    material: beacon
  "x;y":
    material: beacon
  "p,q":
    material: beacon
`

func TestParseDefinitionsRejectsInvalid(t *testing.T) {
	reg, err := ParseDefinitionsYAML([]byte(invalidDefinitions), discardLogger())
	if err != nil {
		t.Fatalf("parse definitions: %v", err)
	}
	if got, want := reg.IDs(), []string{"widest"}; !slices.Equal(got, want) {
		t.Fatalf("expected ids %v, got %v", want, got)
	}
	if d, _ := reg.Get("widest"); d.ChunkRange != MaxChunkRange {
		t.Fatalf("expected range %d, got %d", MaxChunkRange, d.ChunkRange)
	}
}

func TestNewRegistryDropsInvalidDefinitions(t *testing.T) {
	defs := map[string]Definition{
		"zero":     {ID: "zero", Enabled: true, Kind: SourceWorldBlock, Material: "minecraft:beacon", ChunkRange: 0},
		"negative": {ID: "negative", Enabled: true, Kind: SourceWorldBlock, Material: "minecraft:beacon", ChunkRange: -3},
		"huge":     {ID: "huge", Enabled: true, Kind: SourceWorldBlock, Material: "minecraft:beacon", ChunkRange: MaxChunkRange + 1},
		"a|b":      {ID: "a|b", Enabled: true, Kind: SourceWorldBlock, Material: "minecraft:beacon", ChunkRange: 1},
		"":         {Enabled: true, Kind: SourceWorldBlock, Material: "minecraft:beacon", ChunkRange: 1},
	}
	for name, def := range defs {
		reg := NewRegistry(def, beacon)
		if _, ok := reg.Get(def.ID); ok {
			t.Fatalf("%s: expected invalid definition to be dropped", name)
		}
		if reg.Len() != 1 {
			t.Fatalf("%s: expected valid definition to be kept, got %v", name, reg.IDs())
		}
	}
}
