package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS shine_bag (
	shine_id INTEGER PRIMARY KEY,
	is_grand INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS player_shines (
	player_id TEXT NOT NULL,
	shine_id  INTEGER NOT NULL,
	PRIMARY KEY (player_id, shine_id)
);
`

// Store persists collected shines in a SQLite database.
type Store struct {
	db *sql.DB
}

type BagEntry struct {
	ID      int32
	IsGrand bool
}

func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create storage directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) LoadBag() ([]BagEntry, error) {
	rows, err := s.db.Query(`SELECT shine_id, is_grand FROM shine_bag ORDER BY shine_id;`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []BagEntry
	for rows.Next() {
		var e BagEntry
		if err := rows.Scan(&e.ID, &e.IsGrand); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	return entries, rows.Err()
}

func (s *Store) AddToBag(e BagEntry) error {
	_, err := s.db.Exec(`INSERT INTO shine_bag (shine_id, is_grand) VALUES (?, ?)
		ON CONFLICT(shine_id) DO UPDATE SET is_grand = excluded.is_grand;`, e.ID, e.IsGrand)
	return err
}

func (s *Store) ClearBag() error {
	_, err := s.db.Exec(`DELETE FROM shine_bag;`)
	return err
}

// SavePlayerShines replaces the stored shine-sync set of a player.
func (s *Store) SavePlayerShines(id uuid.UUID, shines []int32) error {
	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM player_shines WHERE player_id = ?;`, id.String()); err != nil {
		return err
	}

	stmt, err := tx.Prepare(`INSERT INTO player_shines (player_id, shine_id) VALUES (?, ?);`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, shine := range shines {
		if _, err := stmt.Exec(id.String(), shine); err != nil {
			return err
		}
	}

	return tx.Commit()
}

func (s *Store) LoadPlayerShines(id uuid.UUID) ([]int32, error) {
	rows, err := s.db.Query(`SELECT shine_id FROM player_shines WHERE player_id = ? ORDER BY shine_id;`, id.String())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shines []int32
	for rows.Next() {
		var shine int32
		if err := rows.Scan(&shine); err != nil {
			return nil, err
		}
		shines = append(shines, shine)
	}

	return shines, rows.Err()
}
