package catalog

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/starford/noterank/internal/apperr"
	"github.com/starford/noterank/internal/checksum"
	"github.com/starford/noterank/internal/models"
	"github.com/starford/noterank/internal/normalize"
)

// Raw is a loosely-typed record as supplied by a client or record file.
type Raw = map[string]any

const (
	tableNotes = "notes"
	tableUsers = "users"
)

// PutNotes inserts or replaces note records by id. source names the record
// file they came from; empty for API ingestion.
func (db *DB) PutNotes(ctx context.Context, source string, raws []Raw) error {
	return db.put(ctx, tableNotes, source, raws)
}

// PutUsers inserts or replaces user records by id.
func (db *DB) PutUsers(ctx context.Context, source string, raws []Raw) error {
	return db.put(ctx, tableUsers, source, raws)
}

// Note returns the note with id, or apperr.ErrNotFound.
func (db *DB) Note(ctx context.Context, id string) (models.Note, error) {
	raw, err := db.get(ctx, tableNotes, id)
	if err != nil {
		return models.Note{}, err
	}
	return normalize.DecodeNote(raw), nil
}

// User returns the user profile with id, or apperr.ErrNotFound.
func (db *DB) User(ctx context.Context, id string) (models.UserProfile, error) {
	raw, err := db.get(ctx, tableUsers, id)
	if err != nil {
		return models.UserProfile{}, err
	}
	return normalize.DecodeUser(raw), nil
}

// Notes returns every note in insertion order.
func (db *DB) Notes(ctx context.Context) ([]models.Note, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT payload FROM notes ORDER BY rowid`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list notes: %w", err)
	}
	defer rows.Close()

	var out []models.Note
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, err
		}
		raw, err := decodePayload(payload)
		if err != nil {
			return nil, err
		}
		out = append(out, normalize.DecodeNote(raw))
	}
	return out, rows.Err()
}

// Counts returns the number of stored notes and users.
func (db *DB) Counts(ctx context.Context) (notes, users int, err error) {
	err = db.conn.QueryRowContext(ctx,
		`SELECT (SELECT count(*) FROM notes), (SELECT count(*) FROM users)`,
	).Scan(&notes, &users)
	if err != nil {
		return 0, 0, fmt.Errorf("catalog: counts: %w", err)
	}
	return notes, users, nil
}

func (db *DB) put(ctx context.Context, table, source string, raws []Raw) error {
	if len(raws) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // best-effort on failure path

	if err := putTx(ctx, tx, table, source, raws); err != nil {
		return err
	}
	return tx.Commit()
}

func putTx(ctx context.Context, tx *sql.Tx, table, source string, raws []Raw) error {
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO `+table+` (id, payload, checksum, source, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			payload    = excluded.payload,
			checksum   = excluded.checksum,
			source     = excluded.source,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return fmt.Errorf("catalog: prepare %s upsert: %w", table, err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, raw := range raws {
		id := normalize.RecordID(raw)
		if id == "" {
			return fmt.Errorf("catalog: %s record without id: %w", table, apperr.ErrInvalidArgument)
		}
		payload, err := json.Marshal(raw)
		if err != nil {
			return fmt.Errorf("catalog: encode %s %q: %w", table, id, err)
		}
		if _, err := stmt.ExecContext(ctx, id, string(payload), checksum.Sum(payload), source, now); err != nil {
			return fmt.Errorf("catalog: upsert %s %q: %w", table, id, err)
		}
	}
	return nil
}

func (db *DB) get(ctx context.Context, table, id string) (Raw, error) {
	var payload string
	err := db.conn.QueryRowContext(ctx, `SELECT payload FROM `+table+` WHERE id = ?`, id).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("catalog: %s %q: %w", table, id, apperr.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("catalog: get %s: %w", table, err)
	}
	return decodePayload(payload)
}

func decodePayload(payload string) (Raw, error) {
	var raw Raw
	if err := json.Unmarshal([]byte(payload), &raw); err != nil {
		return nil, fmt.Errorf("catalog: decode payload: %w", err)
	}
	return raw, nil
}
