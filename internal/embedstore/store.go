// Package embedstore implements C1, the durable key→vector embedding
// store. It owns the little-endian f32 blob codec and the embeddings
// table; everything above this package works with []float32, never bytes.
package embedstore

import (
	"context"
	"database/sql"
	"encoding/binary"
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/clipvault/semantic/internal/db/sqlite"
	"github.com/clipvault/semantic/pkg/models"
)

// Store is the durable embedding store backed by the embeddings table.
type Store struct {
	db  *sqlite.Store
	dim int
	log zerolog.Logger

	// skippedCount is the operator-visible counter of durable records
	// skipped at read time because their recorded dim didn't match the
	// current model dimension (spec.md §4.1).
	skippedCount int64
}

// New creates an embedding store bound to the given dimension. Records
// with a different dim are treated as stale on read.
func New(db *sqlite.Store, dim int, log zerolog.Logger) *Store {
	return &Store{db: db, dim: dim, log: log.With().Str("component", "embedstore").Logger()}
}

// encode serializes a unit vector as dim*4 little-endian bytes.
func encode(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

// decode deserializes dim*4 little-endian bytes back into a vector.
// Returns an error if the byte length isn't a multiple of 4.
func decode(data []byte) ([]float32, error) {
	if len(data)%4 != 0 {
		return nil, fmt.Errorf("embedding blob length %d not a multiple of 4", len(data))
	}
	vec := make([]float32, len(data)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return vec, nil
}

// PutBatch atomically writes records with INSERT OR REPLACE semantics
// (P2: idempotent on item_id). Durable write failures propagate; the
// indexing worker is responsible for retrying the whole batch.
func (s *Store) PutBatch(ctx context.Context, records []models.Embedding) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := s.db.DB().BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin batch write: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		"INSERT OR REPLACE INTO embeddings (item_id, embedding, dim) VALUES (?, ?, ?)")
	if err != nil {
		return fmt.Errorf("prepare batch insert: %w", err)
	}
	defer stmt.Close()

	for _, r := range records {
		if _, err := stmt.ExecContext(ctx, r.ItemID, encode(r.Vector), r.Dim); err != nil {
			return fmt.Errorf("insert item %d: %w", r.ItemID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit batch: %w", err)
	}
	return nil
}

// Get fetches a single embedding by id. Returns ok=false if absent or
// stale (dim mismatch).
func (s *Store) Get(ctx context.Context, id int64) ([]float32, bool) {
	row := s.db.QueryRowContext(ctx, "SELECT embedding, dim FROM embeddings WHERE item_id = ?", id)

	var blob []byte
	var dim int
	if err := row.Scan(&blob, &dim); err != nil {
		return nil, false
	}
	if dim != s.dim {
		s.skippedCount++
		s.log.Warn().Int64("item_id", id).Int("dim", dim).Int("expected", s.dim).Msg("skipping stale-dim embedding")
		return nil, false
	}

	vec, err := decode(blob)
	if err != nil {
		s.log.Warn().Int64("item_id", id).Err(err).Msg("skipping corrupt embedding row")
		return nil, false
	}
	return vec, true
}

// GetMany fetches embeddings for a set of ids, skipping any absent, stale,
// or corrupt rows (a single corrupt row never aborts the batch read).
func (s *Store) GetMany(ctx context.Context, ids []int64) map[int64][]float32 {
	result := make(map[int64][]float32, len(ids))
	for _, id := range ids {
		if vec, ok := s.Get(ctx, id); ok {
			result[id] = vec
		}
	}
	return result
}

// Delete removes an embedding by id. Idempotent: deleting an absent id is
// not an error.
func (s *Store) Delete(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM embeddings WHERE item_id = ?", id)
	if err != nil {
		return fmt.Errorf("delete embedding %d: %w", id, err)
	}
	return nil
}

// IterAll streams every durable (id, vector) pair in ascending item_id
// order, skipping stale-dim or corrupt rows, for C3 rehydration at startup.
func (s *Store) IterAll(ctx context.Context, fn func(id int64, vec []float32) error) error {
	rows, err := s.db.QueryContext(ctx, "SELECT item_id, embedding, dim FROM embeddings ORDER BY item_id ASC")
	if err != nil {
		return fmt.Errorf("iterate embeddings: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id int64
		var blob []byte
		var dim int
		if err := rows.Scan(&id, &blob, &dim); err != nil {
			return fmt.Errorf("scan embedding row: %w", err)
		}
		if dim != s.dim {
			s.skippedCount++
			continue
		}
		vec, err := decode(blob)
		if err != nil {
			s.log.Warn().Int64("item_id", id).Err(err).Msg("skipping corrupt embedding row during iteration")
			continue
		}
		if err := fn(id, vec); err != nil {
			return err
		}
	}
	return rows.Err()
}

// Count returns the total number of durable embedding records, including
// stale-dim rows (they still occupy storage; count_missing is what
// callers use to learn what needs (re-)indexing).
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM embeddings").Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count embeddings: %w", err)
	}
	return n, nil
}

// CountMissing returns how many of the given history ids have no current,
// correctly-dimensioned embedding.
func (s *Store) CountMissing(ctx context.Context, historyTextIDs []int64) (int, error) {
	missing := 0
	for _, id := range historyTextIDs {
		var dim int
		err := s.db.QueryRowContext(ctx, "SELECT dim FROM embeddings WHERE item_id = ?", id).Scan(&dim)
		switch {
		case err == sql.ErrNoRows:
			missing++
		case err != nil:
			return 0, fmt.Errorf("check item %d: %w", id, err)
		case dim != s.dim:
			missing++
		}
	}
	return missing, nil
}

// SkippedCount returns the number of stale-dim rows skipped since process
// start, for status reporting/diagnostics. Corrupt rows that fail to decode
// are logged and skipped but not counted here.
func (s *Store) SkippedCount() int64 {
	return s.skippedCount
}
