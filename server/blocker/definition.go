package blocker

import (
	"errors"
	"slices"
	"sort"
	"strings"

	"github.com/dm-vev/powermobs/server/block/cube"
	"github.com/dm-vev/powermobs/server/world"
)

var (
	// ErrUnknownBlocker is returned when a blocker id has no definition.
	ErrUnknownBlocker = errors.New("unknown blocker")
	// ErrBlockerDisabled is returned when a blocker id refers to a disabled definition.
	ErrBlockerDisabled = errors.New("blocker disabled")
)

// SourceKind specifies what kind of object acts as the source of a blocker.
type SourceKind uint8

const (
	// SourceWorldBlock is a blocker sourced by a block placed in the world.
	SourceWorldBlock SourceKind = iota + 1
	// SourcePortableItem is a blocker sourced by an item anchored at a
	// position, such as an item held in an item frame.
	SourcePortableItem
)

// String returns the configuration name of the kind.
func (k SourceKind) String() string {
	switch k {
	case SourceWorldBlock:
		return "block"
	case SourcePortableItem:
		return "item"
	}
	return "unknown"
}

// ParseSourceKind parses a kind as written in a definitions file. Both the
// short and the long names are accepted, case-insensitively.
func ParseSourceKind(s string) (SourceKind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "block", "world_block", "world-block":
		return SourceWorldBlock, true
	case "item", "portable_item", "portable-item":
		return SourcePortableItem, true
	}
	return 0, false
}

// MaxChunkRange is the largest chunk range a definition may have. An instance
// of such a definition is held by (2*MaxChunkRange-1)^2 buckets.
const MaxChunkRange = 16

// ValidID reports if id may identify a definition. An id must not be empty or
// contain any separator of the ledger encoding.
func ValidID(id string) bool {
	return id != "" && !strings.ContainsAny(id, entrySeparator+fieldSeparator+coordSeparator)
}

// Valid reports if d has a valid id and a chunk range between 1 and
// MaxChunkRange.
func (d Definition) Valid() bool {
	return ValidID(d.ID) && d.ChunkRange >= 1 && d.ChunkRange <= MaxChunkRange
}

// Definition is the static configuration of a type of spawn blocker.
type Definition struct {
	// ID uniquely identifies the definition.
	ID string
	// Enabled specifies if instances of this definition block spawning.
	Enabled bool
	// Kind is the kind of object that acts as the source of the blocker.
	Kind SourceKind
	// Material is the normalised block or item identifier the source must
	// consist of, for example "minecraft:beacon".
	Material string
	// ChunkRange is the radius, in chunks, of the square region an instance
	// blocks. A range of 1 only blocks the chunk the source is in. ChunkRange
	// is always between 1 and MaxChunkRange.
	ChunkRange int
	DisplayName string
	Description string
	// Lore holds the lore lines of the item variant. It is only set for
	// SourcePortableItem definitions.
	Lore []string
}

// Matches reports if the live block or anchored item at pos in w still
// consists of the definition's material. The chunk of pos must be resident.
func (d Definition) Matches(w world.World, pos cube.Pos) bool {
	switch d.Kind {
	case SourceWorldBlock:
		return NormaliseMaterial(w.Block(pos)) == d.Material
	case SourcePortableItem:
		it, ok := w.AnchoredItem(pos)
		return ok && NormaliseMaterial(it) == d.Material
	}
	return false
}

// Side returns the number of chunks along one edge of the region blocked by an
// instance of the definition, 2*ChunkRange-1.
func (d Definition) Side() int {
	return 2*d.ChunkRange - 1
}

// NormaliseMaterial lower-cases a material identifier and adds the minecraft
// namespace if none is present.
func NormaliseMaterial(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return ""
	}
	if !strings.Contains(s, ":") {
		s = "minecraft:" + s
	}
	return s
}

// Registry holds the blocker definitions loaded for a session. A Registry is
// immutable once created and safe for concurrent use. The zero value and a nil
// *Registry hold no definitions.
type Registry struct {
	defs map[string]Definition
	ids  []string
}

// NewRegistry creates a Registry holding the definitions passed. A definition
// with an id already seen replaces the earlier one. Definitions that are not
// Valid are left out.
func NewRegistry(defs ...Definition) *Registry {
	r := &Registry{defs: make(map[string]Definition, len(defs))}
	for _, d := range defs {
		if !d.Valid() {
			continue
		}
		d.Lore = slices.Clone(d.Lore)
		r.defs[d.ID] = d
	}
	r.ids = make([]string, 0, len(r.defs))
	for id := range r.defs {
		r.ids = append(r.ids, id)
	}
	sort.Strings(r.ids)
	return r
}

// Get returns the definition with the id passed.
func (r *Registry) Get(id string) (Definition, bool) {
	if r == nil {
		return Definition{}, false
	}
	d, ok := r.defs[id]
	return d, ok
}

// Resolve returns the definition with the id passed if it exists and is
// enabled. ErrUnknownBlocker or ErrBlockerDisabled is returned otherwise.
func (r *Registry) Resolve(id string) (Definition, error) {
	d, ok := r.Get(id)
	if !ok {
		return Definition{}, ErrUnknownBlocker
	}
	if !d.Enabled {
		return d, ErrBlockerDisabled
	}
	return d, nil
}

// IDs returns the ids of all definitions in sorted order.
func (r *Registry) IDs() []string {
	if r == nil {
		return nil
	}
	return slices.Clone(r.ids)
}

// Len returns the number of definitions held.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.defs)
}

// Sourced returns the enabled definitions whose source is of the kind passed
// and consists of material, sorted by id.
func (r *Registry) Sourced(kind SourceKind, material string) []Definition {
	if r == nil {
		return nil
	}
	material = NormaliseMaterial(material)
	var defs []Definition
	for _, id := range r.ids {
		if d := r.defs[id]; d.Enabled && d.Kind == kind && d.Material == material {
			defs = append(defs, d)
		}
	}
	return defs
}
