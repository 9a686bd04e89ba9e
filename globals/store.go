package globals

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNoSave is returned by SQLStore.Load for an unknown save name.
var ErrNoSave = errors.New("no such save")

// SQLStore keeps named globals saves in an SQLite database. Each save holds
// one CBOR snapshot.
type SQLStore struct {
	db *sql.DB
}

// OpenSQLStore opens (creating if needed) the database at path. Use
// ":memory:" for a throwaway store.
func OpenSQLStore(path string) (*SQLStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases alive between calls.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	_, err = db.Exec(`CREATE TABLE IF NOT EXISTS conv_globals (
		name TEXT PRIMARY KEY,
		snapshot BLOB NOT NULL,
		slots INTEGER NOT NULL,
		saved_at INTEGER NOT NULL
	)`)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return &SQLStore{db: db}, nil
}

// Close closes the database.
func (s *SQLStore) Close() error {
	return s.db.Close()
}

// Save stores g under name, replacing any earlier save of that name.
func (s *SQLStore) Save(ctx context.Context, name string, g *Globals) error {
	data, err := MarshalSnapshot(g)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO conv_globals (name, snapshot, slots, saved_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET snapshot = excluded.snapshot,
		 slots = excluded.slots, saved_at = excluded.saved_at`,
		name, data, g.NumSlots(), time.Now().Unix())
	if err != nil {
		return fmt.Errorf("save %q: %w", name, err)
	}
	logger.Debugf("saved globals %q (%d bytes)", name, len(data))
	return nil
}

// Load returns the save stored under name.
func (s *SQLStore) Load(ctx context.Context, name string) (*Globals, error) {
	var data []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT snapshot FROM conv_globals WHERE name = ?`, name).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrNoSave, name)
	}
	if err != nil {
		return nil, fmt.Errorf("load %q: %w", name, err)
	}
	return UnmarshalSnapshot(data)
}

// Saves lists the stored save names in name order.
func (s *SQLStore) Saves(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM conv_globals ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// Delete removes a save. Deleting a missing save is not an error.
func (s *SQLStore) Delete(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM conv_globals WHERE name = ?`, name)
	return err
}
