package blocker

import (
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/dm-vev/powermobs/server/block/cube"
	"github.com/dm-vev/powermobs/server/world"
)

// ErrInvalidEntry is returned when a ledger entry cannot be parsed.
var ErrInvalidEntry = errors.New("invalid ledger entry")

const (
	entrySeparator = "|"
	fieldSeparator = ";"
	coordSeparator = ","
)

// Partition identifies a chunk of a world, the unit of loading and of ledger
// storage.
type Partition struct {
	World string
	Chunk world.ChunkPos
}

// String ...
func (p Partition) String() string {
	return p.World + p.Chunk.String()
}

// LedgerStore persists the encoded ledger of a partition. Implementations live
// in the ledgerdb package.
type LedgerStore interface {
	// LoadLedger returns the encoded ledger of a partition. The bool is false
	// if the partition has no ledger.
	LoadLedger(p Partition) (string, bool, error)
	// StoreLedger replaces the encoded ledger of a partition.
	StoreLedger(p Partition, encoded string) error
	// DeleteLedger removes the ledger of a partition. Deleting a ledger that
	// does not exist is not an error.
	DeleteLedger(p Partition) error
}

// LedgerEntry is a single blocker source point recorded in the ledger of the
// partition containing it.
type LedgerEntry struct {
	BlockerID string
	Pos       cube.Pos
}

// String encodes the entry as id;x,y,z.
func (e LedgerEntry) String() string {
	var b strings.Builder
	b.WriteString(e.BlockerID)
	b.WriteString(fieldSeparator)
	for i, v := range e.Pos {
		if i > 0 {
			b.WriteString(coordSeparator)
		}
		b.WriteString(strconv.Itoa(v))
	}
	return b.String()
}

// ParseLedgerEntry parses an entry encoded as id;x,y,z.
func ParseLedgerEntry(s string) (LedgerEntry, error) {
	id, coords, ok := strings.Cut(strings.TrimSpace(s), fieldSeparator)
	if !ok || id == "" || strings.Contains(coords, fieldSeparator) {
		return LedgerEntry{}, fmt.Errorf("%w: %q: expected id;x,y,z", ErrInvalidEntry, s)
	}
	parts := strings.Split(coords, coordSeparator)
	if len(parts) != 3 {
		return LedgerEntry{}, fmt.Errorf("%w: %q: expected 3 coordinates, got %d", ErrInvalidEntry, s, len(parts))
	}
	var pos cube.Pos
	for i, part := range parts {
		v, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return LedgerEntry{}, fmt.Errorf("%w: %q: %v", ErrInvalidEntry, s, err)
		}
		pos[i] = v
	}
	return LedgerEntry{BlockerID: id, Pos: pos}, nil
}

// EncodeLedger joins entries into the pipe delimited form stored per partition.
func EncodeLedger(entries []LedgerEntry) string {
	parts := make([]string, len(entries))
	for i, e := range entries {
		parts[i] = e.String()
	}
	return strings.Join(parts, entrySeparator)
}

// DecodeLedger splits an encoded ledger into its entries. Entries that cannot
// be parsed are skipped and counted in malformed.
func DecodeLedger(encoded string) (entries []LedgerEntry, malformed int) {
	if strings.TrimSpace(encoded) == "" {
		return nil, 0
	}
	for _, part := range strings.Split(encoded, entrySeparator) {
		if strings.TrimSpace(part) == "" {
			continue
		}
		e, err := ParseLedgerEntry(part)
		if err != nil {
			malformed++
			continue
		}
		entries = append(entries, e)
	}
	return entries, malformed
}

// Ledger keeps blocker source points alongside the partition that contains
// them, so the index can be rehydrated as soon as the partition is resident.
type Ledger struct {
	store LedgerStore
	log   *slog.Logger
}

// NewLedger creates a Ledger persisting through store.
func NewLedger(store LedgerStore, log *slog.Logger) *Ledger {
	if log == nil {
		log = slog.Default()
	}
	return &Ledger{store: store, log: log}
}

// Entries returns the well-formed entries of a partition.
func (l *Ledger) Entries(p Partition) ([]LedgerEntry, error) {
	encoded, ok, err := l.store.LoadLedger(p)
	if err != nil {
		return nil, fmt.Errorf("load ledger %v: %w", p, err)
	}
	if !ok {
		return nil, nil
	}
	entries, malformed := DecodeLedger(encoded)
	if malformed > 0 {
		l.log.Debug("Skipped malformed ledger entries.", "partition", p, "count", malformed)
	}
	return entries, nil
}

// Append records a source point in the ledger of p. Appending an entry that is
// already present does nothing.
func (l *Ledger) Append(p Partition, pos cube.Pos, blockerID string) error {
	entries, err := l.Entries(p)
	if err != nil {
		return err
	}
	entry := LedgerEntry{BlockerID: blockerID, Pos: pos}
	for _, e := range entries {
		if e == entry {
			return nil
		}
	}
	entries = append(entries, entry)
	if err := l.store.StoreLedger(p, EncodeLedger(entries)); err != nil {
		return fmt.Errorf("store ledger %v: %w", p, err)
	}
	return nil
}

// Remove strips the entry for the source point from the ledger of p. The
// ledger is deleted entirely once it holds no more entries.
func (l *Ledger) Remove(p Partition, pos cube.Pos, blockerID string) error {
	entries, err := l.Entries(p)
	if err != nil {
		return err
	}
	entry := LedgerEntry{BlockerID: blockerID, Pos: pos}
	kept := entries[:0]
	for _, e := range entries {
		if e != entry {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return nil
	}
	return l.write(p, kept)
}

func (l *Ledger) write(p Partition, entries []LedgerEntry) error {
	if len(entries) == 0 {
		if err := l.store.DeleteLedger(p); err != nil {
			return fmt.Errorf("delete ledger %v: %w", p, err)
		}
		return nil
	}
	if err := l.store.StoreLedger(p, EncodeLedger(entries)); err != nil {
		return fmt.Errorf("store ledger %v: %w", p, err)
	}
	return nil
}

// HydrateResult summarises a call to Ledger.Hydrate.
type HydrateResult struct {
	// Registered is the number of instances newly added to the index.
	Registered int
	// Stale is the number of entries whose source no longer matched and which
	// were removed from the ledger.
	Stale int
	// Dropped is the number of entries referring to unknown or disabled
	// definitions.
	Dropped int
}

// Hydrate decodes the ledger of a resident partition and registers every entry
// whose source still matches its definition in index. Entries whose source
// changed, and entries whose definition no longer exists, are removed from the
// ledger. Entries of disabled definitions are kept but not registered.
func (l *Ledger) Hydrate(p Partition, w world.World, index *Index) (HydrateResult, error) {
	var res HydrateResult
	entries, err := l.Entries(p)
	if err != nil || len(entries) == 0 {
		return res, err
	}
	reg := index.Registry()
	kept := make([]LedgerEntry, 0, len(entries))
	for _, e := range entries {
		def, err := reg.Resolve(e.BlockerID)
		switch {
		case errors.Is(err, ErrUnknownBlocker):
			l.log.Debug("Dropping ledger entry of unknown blocker.", "partition", p, "blocker", e.BlockerID, "pos", e.Pos)
			res.Dropped++
			continue
		case errors.Is(err, ErrBlockerDisabled):
			l.log.Debug("Skipping ledger entry of disabled blocker.", "partition", p, "blocker", e.BlockerID, "pos", e.Pos)
			res.Dropped++
			kept = append(kept, e)
			continue
		}
		if !def.Matches(w, e.Pos) {
			l.log.Debug("Removing stale ledger entry.", "partition", p, "blocker", e.BlockerID, "pos", e.Pos)
			res.Stale++
			continue
		}
		kept = append(kept, e)
		if index.Register(Instance{BlockerID: e.BlockerID, World: p.World, Pos: e.Pos}) {
			res.Registered++
		}
	}
	if len(kept) != len(entries) {
		if err := l.write(p, kept); err != nil {
			return res, err
		}
	}
	return res, nil
}
