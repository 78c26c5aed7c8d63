package core

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"geoweaver/internal/geoerr"
)

// SQLiteLedger keeps the table in a SQLite database. It suits workspaces with
// many outputs, where rewriting a JSON file per task gets slow.
type SQLiteLedger struct {
	db   *sql.DB
	path string
}

// OpenSQLiteLedger opens or creates the database at path.
func OpenSQLiteLedger(path string) (*SQLiteLedger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil && !errors.Is(err, os.ErrExist) {
		return nil, geoerr.IO("core.OpenSQLiteLedger", path, err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, geoerr.IO("core.OpenSQLiteLedger", path, fmt.Errorf("open sqlite: %w", err))
	}
	// One writer at a time; the driver serializes anyway.
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS fingerprints (
		path TEXT PRIMARY KEY,
		task TEXT NOT NULL,
		fingerprint TEXT NOT NULL
	)`); err != nil {
		_ = db.Close()
		return nil, geoerr.IO("core.OpenSQLiteLedger", path, fmt.Errorf("create fingerprints table: %w", err))
	}
	return &SQLiteLedger{db: db, path: path}, nil
}

func (l *SQLiteLedger) Close() error { return l.db.Close() }

func (l *SQLiteLedger) Lookup(path string) (Entry, bool, error) {
	var e Entry
	var fp string
	err := l.db.QueryRow(`SELECT task, fingerprint FROM fingerprints WHERE path = ?`, path).Scan(&e.Task, &fp)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, geoerr.IO("core.SQLiteLedger", l.path, fmt.Errorf("lookup %s: %w", path, err))
	}
	e.Fingerprint = Fingerprint(fp)
	return e, true, nil
}

func (l *SQLiteLedger) Record(task string, fp Fingerprint, outputs []string) (retErr error) {
	tx, err := l.db.Begin()
	if err != nil {
		return geoerr.IO("core.SQLiteLedger", l.path, err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, o := range outputs {
		if _, err := tx.Exec(`INSERT INTO fingerprints(path, task, fingerprint) VALUES(?, ?, ?)
			ON CONFLICT(path) DO UPDATE SET task = excluded.task, fingerprint = excluded.fingerprint`,
			o, task, string(fp)); err != nil {
			return geoerr.IO("core.SQLiteLedger", l.path, fmt.Errorf("record %s: %w", o, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return geoerr.IO("core.SQLiteLedger", l.path, err)
	}
	return nil
}

func (l *SQLiteLedger) Forget(outputs []string) (retErr error) {
	tx, err := l.db.Begin()
	if err != nil {
		return geoerr.IO("core.SQLiteLedger", l.path, err)
	}
	defer func() {
		if retErr != nil {
			_ = tx.Rollback()
		}
	}()
	for _, o := range outputs {
		if _, err := tx.Exec(`DELETE FROM fingerprints WHERE path = ?`, o); err != nil {
			return geoerr.IO("core.SQLiteLedger", l.path, fmt.Errorf("forget %s: %w", o, err))
		}
	}
	if err := tx.Commit(); err != nil {
		return geoerr.IO("core.SQLiteLedger", l.path, err)
	}
	return nil
}
