package blocker

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"
	"time"

	"github.com/dm-vev/powermobs/server/block/cube"
	"github.com/dm-vev/powermobs/server/world"
	"github.com/google/uuid"
	"github.com/klauspost/compress/zstd"
	"github.com/pelletier/go-toml"
)

// snapshotVersion is the version of the snapshot file layout.
const snapshotVersion = 1

type snapshotFile struct {
	Version int                      `toml:"version"`
	Session string                   `toml:"session"`
	SavedAt string                   `toml:"saved-at"`
	Worlds  map[string][]snapshotRow `toml:"worlds"`
}

type snapshotRow struct {
	ID string `toml:"id"`
	X  int    `toml:"x"`
	Y  int    `toml:"y"`
	Z  int    `toml:"z"`
}

// SnapshotStore saves all blocker source points of all worlds to a single
// file, used to bootstrap the index at startup. Files with a .zst extension are
// compressed with zstd.
type SnapshotStore struct {
	path    string
	session uuid.UUID
	log     *slog.Logger
}

// NewSnapshotStore returns a SnapshotStore writing to the file at path. The
// session id is recorded in every file saved.
func NewSnapshotStore(path string, session uuid.UUID, log *slog.Logger) *SnapshotStore {
	if log == nil {
		log = slog.Default()
	}
	return &SnapshotStore{path: path, session: session, log: log}
}

// Path returns the path of the snapshot file.
func (s *SnapshotStore) Path() string {
	return s.path
}

// Save writes one row for every unique source point of the instances passed,
// grouped per world, and returns the number of rows written.
func (s *SnapshotStore) Save(instances []Instance) (int, error) {
	file := snapshotFile{
		Version: snapshotVersion,
		Session: s.session.String(),
		SavedAt: time.Now().UTC().Format(time.RFC3339),
		Worlds:  make(map[string][]snapshotRow),
	}
	seen := make(map[Instance]struct{}, len(instances))
	rows := 0
	for _, inst := range instances {
		if _, ok := seen[inst]; ok {
			continue
		}
		seen[inst] = struct{}{}
		file.Worlds[inst.World] = append(file.Worlds[inst.World], snapshotRow{ID: inst.BlockerID, X: inst.Pos[0], Y: inst.Pos[1], Z: inst.Pos[2]})
		rows++
	}
	for name := range file.Worlds {
		slices.SortFunc(file.Worlds[name], func(a, b snapshotRow) int {
			return compareInstances(a.instance(name), b.instance(name))
		})
	}

	encoded, err := toml.Marshal(file)
	if err != nil {
		return 0, fmt.Errorf("encode snapshot: %w", err)
	}
	if s.compressed() {
		if encoded, err = compress(encoded); err != nil {
			return 0, fmt.Errorf("compress snapshot: %w", err)
		}
	}
	if err := writeFileAtomic(s.path, encoded); err != nil {
		return 0, fmt.Errorf("write snapshot: %w", err)
	}
	return rows, nil
}

// Read returns the instances stored in the snapshot file, sorted by world,
// position and id. A missing file holds no instances.
func (s *SnapshotStore) Read() ([]Instance, error) {
	file, err := s.read()
	if err != nil {
		return nil, err
	}
	return file.instances(), nil
}

func (s *SnapshotStore) read() (snapshotFile, error) {
	var file snapshotFile
	contents, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return file, nil
		}
		return file, fmt.Errorf("read snapshot: %w", err)
	}
	if s.compressed() && len(contents) != 0 {
		if contents, err = decompress(contents); err != nil {
			return file, fmt.Errorf("decompress snapshot: %w", err)
		}
	}
	if len(contents) == 0 {
		return file, nil
	}
	if err := toml.Unmarshal(contents, &file); err != nil {
		return file, fmt.Errorf("decode snapshot: %w", err)
	}
	if file.Version > snapshotVersion {
		return file, fmt.Errorf("decode snapshot: unsupported version %d", file.Version)
	}
	return file, nil
}

// LoadResult summarises a call to SnapshotStore.Load.
type LoadResult struct {
	// Rows is the number of rows read from the snapshot file.
	Rows int
	// Validated is the number of instances registered after their resident
	// source was checked.
	Validated int
	// Optimistic is the number of instances registered without validation
	// because their chunk was not resident.
	Optimistic int
	// Stale is the number of rows whose resident source no longer matched.
	Stale int
	// Dropped is the number of rows referring to unknown or disabled
	// definitions.
	Dropped int
	// Session is the session id recorded in the file.
	Session string
}

// Registered returns the number of instances registered by the load.
func (r LoadResult) Registered() int {
	return r.Validated + r.Optimistic
}

// Load registers the instances stored in the snapshot file in index. A row
// whose chunk is resident is validated against the live world first. A row
// whose chunk is not resident is registered without validation, leaving the
// check to the next sweep once it loads, so that no chunk is ever loaded here.
func (s *SnapshotStore) Load(index *Index, worlds world.Lookup) (LoadResult, error) {
	file, err := s.read()
	if err != nil {
		return LoadResult{}, err
	}
	res := LoadResult{Session: file.Session}
	reg := index.Registry()
	for _, inst := range file.instances() {
		res.Rows++
		def, err := reg.Resolve(inst.BlockerID)
		if err != nil {
			s.log.Debug("Dropping snapshot row.", "blocker", inst.BlockerID, "world", inst.World, "pos", inst.Pos, "reason", err)
			res.Dropped++
			continue
		}
		validated := false
		if w, ok := worlds.World(inst.World); ok && w.ChunkLoaded(inst.Origin()) {
			if !def.Matches(w, inst.Pos) {
				s.log.Debug("Skipping stale snapshot row.", "blocker", inst.BlockerID, "world", inst.World, "pos", inst.Pos)
				res.Stale++
				continue
			}
			validated = true
		}
		if !index.Register(inst) {
			continue
		}
		if validated {
			res.Validated++
		} else {
			res.Optimistic++
		}
	}
	return res, nil
}

func (s *SnapshotStore) compressed() bool {
	return strings.EqualFold(filepath.Ext(s.path), ".zst")
}

func (row snapshotRow) instance(worldName string) Instance {
	return Instance{BlockerID: row.ID, World: worldName, Pos: cube.Pos{row.X, row.Y, row.Z}}
}

func (file snapshotFile) instances() []Instance {
	names := make([]string, 0, len(file.Worlds))
	for name := range file.Worlds {
		names = append(names, name)
	}
	sort.Strings(names)

	var instances []Instance
	seen := make(map[Instance]struct{})
	for _, name := range names {
		for _, row := range file.Worlds[name] {
			inst := row.instance(name)
			if _, ok := seen[inst]; ok || inst.BlockerID == "" {
				continue
			}
			seen[inst] = struct{}{}
			instances = append(instances, inst)
		}
	}
	sortInstances(instances)
	return instances
}

func compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zstd.NewWriter(&buf, zstd.WithEncoderLevel(zstd.SpeedDefault))
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(data); err != nil {
		_ = enc.Close()
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func decompress(data []byte) ([]byte, error) {
	dec, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}

// writeFileAtomic writes data to a temporary file next to path and renames it
// over path, so readers never observe a partially written file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return err
	}
	return nil
}
