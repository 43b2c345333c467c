package catalog

import (
	"context"
	"fmt"
	"time"
)

// SourceChecksums returns the checksum of every synced record file.
func (db *DB) SourceChecksums(ctx context.Context) (map[string]string, error) {
	rows, err := db.conn.QueryContext(ctx, `SELECT path, checksum FROM sources`)
	if err != nil {
		return nil, fmt.Errorf("catalog: source checksums: %w", err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var p, cs string
		if err := rows.Scan(&p, &cs); err != nil {
			return nil, err
		}
		out[p] = cs
	}
	return out, rows.Err()
}

// ReplaceSource swaps the records previously loaded from path for the given
// ones and records the file checksum, all in one transaction.
func (db *DB) ReplaceSource(ctx context.Context, path, sum string, notes, users []Raw) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE source = ?`, path); err != nil {
		return fmt.Errorf("catalog: clear source notes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE source = ?`, path); err != nil {
		return fmt.Errorf("catalog: clear source users: %w", err)
	}
	if len(notes) > 0 {
		if err := putTx(ctx, tx, tableNotes, path, notes); err != nil {
			return err
		}
	}
	if len(users) > 0 {
		if err := putTx(ctx, tx, tableUsers, path, users); err != nil {
			return err
		}
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO sources (path, checksum, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(path) DO UPDATE SET
			checksum   = excluded.checksum,
			updated_at = excluded.updated_at
	`, path, sum, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("catalog: upsert source: %w", err)
	}
	return tx.Commit()
}

// DeleteSource forgets a record file and the records it contributed.
func (db *DB) DeleteSource(ctx context.Context, path string) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx, `DELETE FROM notes WHERE source = ?`, path); err != nil {
		return fmt.Errorf("catalog: delete source notes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM users WHERE source = ?`, path); err != nil {
		return fmt.Errorf("catalog: delete source users: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM sources WHERE path = ?`, path); err != nil {
		return fmt.Errorf("catalog: delete source: %w", err)
	}

	return tx.Commit()
}
