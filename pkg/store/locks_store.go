package store

import (
	"database/sql"
	"errors"
	"time"

	"github.com/promised/agent/pkg/locks"
)

// Get satisfies locks.Store.
func (s *SQLiteStore) Get(name string) (locks.Record, bool, error) {
	var startedStr, completedStr sql.NullString
	row := s.db.QueryRow(`SELECT last_started, last_completed FROM locks WHERE name = ?`, name)
	if err := row.Scan(&startedStr, &completedStr); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return locks.Record{}, false, nil
		}
		return locks.Record{}, false, err
	}

	var rec locks.Record
	var err error
	if startedStr.Valid {
		if rec.LastStarted, err = time.Parse(sqliteTimeLayout, startedStr.String); err != nil {
			return locks.Record{}, false, err
		}
	}
	if completedStr.Valid {
		if rec.LastCompleted, err = time.Parse(sqliteTimeLayout, completedStr.String); err != nil {
			return locks.Record{}, false, err
		}
	}
	return rec, true, nil
}

// Put satisfies locks.Store.
func (s *SQLiteStore) Put(name string, rec locks.Record) error {
	_, err := s.db.Exec(
		`INSERT INTO locks (name, last_started, last_completed) VALUES (?, ?, ?)
		 ON CONFLICT(name) DO UPDATE SET last_started = excluded.last_started, last_completed = excluded.last_completed`,
		name, formatNullableTime(rec.LastStarted), formatNullableTime(rec.LastCompleted),
	)
	return err
}

// Delete satisfies locks.Store.
func (s *SQLiteStore) Delete(name string) error {
	_, err := s.db.Exec(`DELETE FROM locks WHERE name = ?`, name)
	return err
}

// Iterate satisfies locks.Store.
func (s *SQLiteStore) Iterate(fn func(name string, rec locks.Record) bool) error {
	rows, err := s.db.Query(`SELECT name, last_started, last_completed FROM locks`)
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var name string
		var startedStr, completedStr sql.NullString
		if err := rows.Scan(&name, &startedStr, &completedStr); err != nil {
			return err
		}
		var rec locks.Record
		if startedStr.Valid {
			if rec.LastStarted, err = time.Parse(sqliteTimeLayout, startedStr.String); err != nil {
				return err
			}
		}
		if completedStr.Valid {
			if rec.LastCompleted, err = time.Parse(sqliteTimeLayout, completedStr.String); err != nil {
				return err
			}
		}
		if !fn(name, rec) {
			break
		}
	}
	return rows.Err()
}

// sqliteTimeLayout is the text encoding used for every timestamp
// column in this package: stored and scanned as TEXT rather than
// relying on the driver's native time handling, so the layout is
// under this package's control.
const sqliteTimeLayout = time.RFC3339Nano

func formatNullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(sqliteTimeLayout)
}
