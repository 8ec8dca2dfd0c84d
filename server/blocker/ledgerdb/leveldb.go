package ledgerdb

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cespare/xxhash/v2"
	"github.com/df-mc/goleveldb/leveldb"
	"github.com/df-mc/goleveldb/leveldb/opt"
	"github.com/df-mc/goleveldb/leveldb/storage"
	"github.com/df-mc/goleveldb/leveldb/util"
	"github.com/dm-vev/powermobs/server/blocker"
	"github.com/dm-vev/powermobs/server/world"
)

// keyLedger is the tag byte of ledger records, following the chunk position in
// a key.
const keyLedger = 'B'

// LevelDB stores ledgers in a LevelDB database. Keys are composed of the
// xxhash of the world name followed by the little-endian chunk position and a
// tag byte, so that all partitions of a world share a prefix.
type LevelDB struct {
	ldb *leveldb.DB
	log *slog.Logger
}

// OpenLevelDB opens the LevelDB database in the directory passed.
func OpenLevelDB(dir string, log *slog.Logger) (*LevelDB, error) {
	ldb, err := leveldb.OpenFile(dir, &opt.Options{
		Compression: opt.FlateCompression,
		BlockSize:   16 * opt.KiB,
	})
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	return newLevelDB(ldb, log), nil
}

// NewMemLevelDB returns a LevelDB store that only lives in memory.
func NewMemLevelDB(log *slog.Logger) (*LevelDB, error) {
	ldb, err := leveldb.Open(storage.NewMemStorage(), nil)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	return newLevelDB(ldb, log), nil
}

func newLevelDB(ldb *leveldb.DB, log *slog.Logger) *LevelDB {
	if log == nil {
		log = slog.Default()
	}
	return &LevelDB{ldb: ldb, log: log}
}

func worldPrefix(worldName string) []byte {
	return binary.LittleEndian.AppendUint64(make([]byte, 0, 17), xxhash.Sum64String(worldName))
}

func ledgerKey(p blocker.Partition) []byte {
	k := worldPrefix(p.World)
	k = binary.LittleEndian.AppendUint32(k, uint32(p.Chunk[0]))
	k = binary.LittleEndian.AppendUint32(k, uint32(p.Chunk[1]))
	return append(k, keyLedger)
}

// LoadLedger ...
func (db *LevelDB) LoadLedger(p blocker.Partition) (string, bool, error) {
	v, err := db.ldb.Get(ledgerKey(p), nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return string(v), true, nil
}

// StoreLedger ...
func (db *LevelDB) StoreLedger(p blocker.Partition, encoded string) error {
	return db.ldb.Put(ledgerKey(p), []byte(encoded), nil)
}

// DeleteLedger ...
func (db *LevelDB) DeleteLedger(p blocker.Partition) error {
	return db.ldb.Delete(ledgerKey(p), nil)
}

// Partitions returns the chunks of a world holding a ledger, in key order.
func (db *LevelDB) Partitions(worldName string) ([]world.ChunkPos, error) {
	it := db.ldb.NewIterator(util.BytesPrefix(worldPrefix(worldName)), nil)
	defer it.Release()

	var chunks []world.ChunkPos
	for it.Next() {
		k := it.Key()
		if len(k) != 17 || k[16] != keyLedger {
			continue
		}
		chunks = append(chunks, world.ChunkPos{
			int32(binary.LittleEndian.Uint32(k[8:12])),
			int32(binary.LittleEndian.Uint32(k[12:16])),
		})
	}
	if err := it.Error(); err != nil {
		return nil, fmt.Errorf("iterate ledgers: %w", err)
	}
	return chunks, nil
}

// Close closes the database.
func (db *LevelDB) Close() error {
	db.log.Debug("Closing ledger database.")
	return db.ldb.Close()
}
