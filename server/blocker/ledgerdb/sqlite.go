package ledgerdb

import (
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/dm-vev/powermobs/server/blocker"
	"github.com/dm-vev/powermobs/server/world"
	_ "modernc.org/sqlite"
)

// SQLite stores ledgers in a single table of a SQLite database, one row per
// partition.
type SQLite struct {
	db  *sql.DB
	log *slog.Logger
}

// OpenSQLite opens the SQLite database at path, creating the file and schema
// if needed. The special path ":memory:" opens a database held in memory.
func OpenSQLite(path string, log *slog.Logger) (*SQLite, error) {
	if log == nil {
		log = slog.Default()
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("open ledger db: %w", err)
		}
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serialises
	// writes.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := initSQLite(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("open ledger db: %w", err)
	}
	return &SQLite{db: db, log: log}, nil
}

func initSQLite(db *sql.DB) error {
	stmts := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA busy_timeout=5000;",
		`CREATE TABLE IF NOT EXISTS blocker_ledger (
			world TEXT NOT NULL,
			cx INTEGER NOT NULL,
			cz INTEGER NOT NULL,
			entries TEXT NOT NULL,
			PRIMARY KEY (world, cx, cz)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return err
		}
	}
	return nil
}

// LoadLedger ...
func (s *SQLite) LoadLedger(p blocker.Partition) (string, bool, error) {
	var encoded string
	err := s.db.QueryRow(`SELECT entries FROM blocker_ledger WHERE world = ? AND cx = ? AND cz = ?`,
		p.World, p.Chunk[0], p.Chunk[1]).Scan(&encoded)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		return "", false, nil
	case err != nil:
		return "", false, err
	}
	return encoded, true, nil
}

// StoreLedger ...
func (s *SQLite) StoreLedger(p blocker.Partition, encoded string) error {
	_, err := s.db.Exec(`INSERT INTO blocker_ledger (world, cx, cz, entries) VALUES (?, ?, ?, ?)
		ON CONFLICT (world, cx, cz) DO UPDATE SET entries = excluded.entries`,
		p.World, p.Chunk[0], p.Chunk[1], encoded)
	return err
}

// DeleteLedger ...
func (s *SQLite) DeleteLedger(p blocker.Partition) error {
	_, err := s.db.Exec(`DELETE FROM blocker_ledger WHERE world = ? AND cx = ? AND cz = ?`,
		p.World, p.Chunk[0], p.Chunk[1])
	return err
}

// Partitions returns the chunks of a world holding a ledger, ordered by X and
// then Z.
func (s *SQLite) Partitions(worldName string) ([]world.ChunkPos, error) {
	rows, err := s.db.Query(`SELECT cx, cz FROM blocker_ledger WHERE world = ? ORDER BY cx, cz`, worldName)
	if err != nil {
		return nil, fmt.Errorf("query ledgers: %w", err)
	}
	defer rows.Close()

	var chunks []world.ChunkPos
	for rows.Next() {
		var pos world.ChunkPos
		if err := rows.Scan(&pos[0], &pos[1]); err != nil {
			return nil, fmt.Errorf("scan ledger: %w", err)
		}
		chunks = append(chunks, pos)
	}
	return chunks, rows.Err()
}

// Close closes the database.
func (s *SQLite) Close() error {
	s.log.Debug("Closing ledger database.")
	return s.db.Close()
}
