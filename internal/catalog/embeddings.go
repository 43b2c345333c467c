package catalog

import (
	"context"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/x448/float16"

	"github.com/starford/noterank/internal/embedding"
)

var _ embedding.Cache = (*DB)(nil)

// lookupChunk stays below SQLite's bound-parameter limit.
const lookupChunk = 500

// LookupVectors implements embedding.Cache. Vectors are stored as
// little-endian float16, so values come back with half precision.
func (db *DB) LookupVectors(ctx context.Context, keys []string) (map[string][]float32, error) {
	out := make(map[string][]float32, len(keys))
	for start := 0; start < len(keys); start += lookupChunk {
		chunk := keys[start:min(start+lookupChunk, len(keys))]

		args := make([]any, len(chunk))
		for i, k := range chunk {
			args[i] = k
		}
		query := `SELECT key, dims, vector FROM embeddings WHERE key IN (?` +
			strings.Repeat(",?", len(chunk)-1) + `)`

		if err := db.scanVectors(ctx, query, args, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func (db *DB) scanVectors(ctx context.Context, query string, args []any, out map[string][]float32) error {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("catalog: lookup vectors: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			key  string
			dims int
			blob []byte
		)
		if err := rows.Scan(&key, &dims, &blob); err != nil {
			return err
		}
		if len(blob) != dims*2 {
			continue
		}
		out[key] = decodeVector(blob)
	}
	return rows.Err()
}

// StoreVectors implements embedding.Cache.
func (db *DB) StoreVectors(ctx context.Context, vectors map[string][]float32) error {
	if len(vectors) == 0 {
		return nil
	}
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("catalog: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO embeddings (key, dims, vector) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET dims = excluded.dims, vector = excluded.vector
	`)
	if err != nil {
		return fmt.Errorf("catalog: prepare vector insert: %w", err)
	}
	defer stmt.Close()

	for key, vec := range vectors {
		if _, err := stmt.ExecContext(ctx, key, len(vec), encodeVector(vec)); err != nil {
			return fmt.Errorf("catalog: store vector: %w", err)
		}
	}
	return tx.Commit()
}

func encodeVector(vec []float32) []byte {
	buf := make([]byte, len(vec)*2)
	for i, v := range vec {
		binary.LittleEndian.PutUint16(buf[i*2:], float16.Fromfloat32(v).Bits())
	}
	return buf
}

func decodeVector(buf []byte) []float32 {
	vec := make([]float32, len(buf)/2)
	for i := range vec {
		vec[i] = float16.Frombits(binary.LittleEndian.Uint16(buf[i*2:])).Float32()
	}
	return vec
}
