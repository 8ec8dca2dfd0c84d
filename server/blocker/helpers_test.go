package blocker

import (
	"errors"
	"io"
	"log/slog"
	"sync"

	"github.com/dm-vev/powermobs/server/block/cube"
	"github.com/dm-vev/powermobs/server/world"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var (
	beacon = Definition{ID: "beacon", Enabled: true, Kind: SourceWorldBlock, Material: "minecraft:beacon", ChunkRange: 1}
	torch  = Definition{ID: "torch", Enabled: true, Kind: SourceWorldBlock, Material: "minecraft:soul_torch", ChunkRange: 2}
	totem  = Definition{ID: "totem", Enabled: true, Kind: SourcePortableItem, Material: "minecraft:totem_of_undying", ChunkRange: 3}
	relic  = Definition{ID: "relic", Enabled: false, Kind: SourceWorldBlock, Material: "minecraft:lodestone", ChunkRange: 2}
)

func testRegistry() *Registry {
	return NewRegistry(beacon, torch, totem, relic)
}

// memStore is a LedgerStore backed by a map.
type memStore struct {
	mu      sync.Mutex
	ledgers map[Partition]string
	fail    bool
}

var errStoreFailed = errors.New("store failed")

func newMemStore() *memStore {
	return &memStore{ledgers: make(map[Partition]string)}
}

func (s *memStore) LoadLedger(p Partition) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.ledgers[p]
	return v, ok, nil
}

func (s *memStore) StoreLedger(p Partition, encoded string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errStoreFailed
	}
	s.ledgers[p] = encoded
	return nil
}

func (s *memStore) DeleteLedger(p Partition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail {
		return errStoreFailed
	}
	delete(s.ledgers, p)
	return nil
}

func (s *memStore) get(p Partition) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.ledgers[p]
	return v, ok
}

// chunkOrigin returns a block position inside the chunk passed.
func chunkOrigin(chunk world.ChunkPos, y int) cube.Pos {
	return cube.Pos{int(chunk[0]) * 16, y, int(chunk[1]) * 16}
}
