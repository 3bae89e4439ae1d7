package embedstore

import (
	"context"
	"math"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clipvault/semantic/internal/db/sqlite"
	"github.com/clipvault/semantic/pkg/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.NewStore(sqlite.StoreConfig{Path: filepath.Join(dir, "test.db")})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.DB().Exec("INSERT INTO clipboard_items (id, text, created_at_epoch) VALUES (1,'a',1),(2,'b',2),(3,'c',3)")
	require.NoError(t, err)

	return New(db, 4, zerolog.Nop())
}

func unitVec(seed float32) []float32 {
	v := []float32{seed, seed + 1, seed + 2, seed + 3}
	var sumSq float32
	for _, f := range v {
		sumSq += f * f
	}
	norm := float32(math.Sqrt(float64(sumSq)))
	for i := range v {
		v[i] /= norm
	}
	return v
}

func TestCodec_RoundTrip(t *testing.T) {
	v := unitVec(1)
	got, err := decode(encode(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestPutBatch_Idempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := unitVec(1)

	rec := models.Embedding{ItemID: 1, Vector: v, Dim: 4}
	require.NoError(t, s.PutBatch(ctx, []models.Embedding{rec}))
	require.NoError(t, s.PutBatch(ctx, []models.Embedding{rec}))

	n, err := s.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, ok := s.Get(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, v, got)
}

func TestPutBatch_ReplaceOnReindex(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.PutBatch(ctx, []models.Embedding{{ItemID: 1, Vector: unitVec(1), Dim: 4}}))
	require.NoError(t, s.PutBatch(ctx, []models.Embedding{{ItemID: 1, Vector: unitVec(5), Dim: 4}}))

	got, ok := s.Get(ctx, 1)
	require.True(t, ok)
	assert.Equal(t, unitVec(5), got)
}

func TestGet_SkipsStaleDim(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	// Write a record directly with a different dim than the store expects.
	_, err := s.db.DB().Exec("INSERT INTO embeddings (item_id, embedding, dim) VALUES (2, ?, 8)", encode(make([]float32, 8)))
	require.NoError(t, err)

	_, ok := s.Get(ctx, 2)
	assert.False(t, ok)
	assert.Equal(t, int64(1), s.SkippedCount())
}

func TestGetMany_SkipsAbsent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutBatch(ctx, []models.Embedding{{ItemID: 1, Vector: unitVec(1), Dim: 4}}))

	got := s.GetMany(ctx, []int64{1, 999})
	assert.Len(t, got, 1)
	assert.Contains(t, got, int64(1))
}

func TestDelete(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutBatch(ctx, []models.Embedding{{ItemID: 1, Vector: unitVec(1), Dim: 4}}))

	require.NoError(t, s.Delete(ctx, 1))
	_, ok := s.Get(ctx, 1)
	assert.False(t, ok)

	// Deleting again is not an error.
	require.NoError(t, s.Delete(ctx, 1))
}

func TestIterAll_AscendingOrder(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutBatch(ctx, []models.Embedding{
		{ItemID: 3, Vector: unitVec(1), Dim: 4},
		{ItemID: 1, Vector: unitVec(2), Dim: 4},
		{ItemID: 2, Vector: unitVec(3), Dim: 4},
	}))

	var seen []int64
	err := s.IterAll(ctx, func(id int64, vec []float32) error {
		seen = append(seen, id)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3}, seen)
}

func TestCountMissing(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.PutBatch(ctx, []models.Embedding{{ItemID: 1, Vector: unitVec(1), Dim: 4}}))

	missing, err := s.CountMissing(ctx, []int64{1, 2, 3})
	require.NoError(t, err)
	assert.Equal(t, 2, missing)
}
