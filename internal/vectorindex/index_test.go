package vectorindex

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unit(x, y, z float32) []float32 {
	return []float32{x, y, z}
}

func TestInsertOrUpdate_NewRow(t *testing.T) {
	idx := New(3, 10, 0.0)
	idx.InsertOrUpdate(1, unit(1, 0, 0))
	assert.Equal(t, 1, idx.Len())

	res := idx.Search(unit(1, 0, 0), 1)
	require.Len(t, res, 1)
	assert.Equal(t, int64(1), res[0].ID)
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)
}

func TestInsertOrUpdate_OverwritesExisting(t *testing.T) {
	idx := New(3, 10, 0.0)
	idx.InsertOrUpdate(1, unit(1, 0, 0))
	idx.InsertOrUpdate(1, unit(0, 1, 0))
	assert.Equal(t, 1, idx.Len())

	res := idx.Search(unit(0, 1, 0), 1)
	require.Len(t, res, 1)
	assert.InDelta(t, 1.0, res[0].Score, 1e-6)
}

func TestDelete_SwapRemove(t *testing.T) {
	idx := New(3, 10, -1.0)
	idx.InsertOrUpdate(1, unit(1, 0, 0))
	idx.InsertOrUpdate(2, unit(0, 1, 0))
	idx.InsertOrUpdate(3, unit(0, 0, 1))

	idx.Delete(1)
	assert.Equal(t, 2, idx.Len())

	res := idx.Search(unit(0, 0, 1), 10)
	ids := []int64{}
	for _, r := range res {
		ids = append(ids, r.ID)
	}
	assert.ElementsMatch(t, []int64{2, 3}, ids)
}

func TestDelete_NonExistentIsNoop(t *testing.T) {
	idx := New(3, 10, -1.0)
	idx.InsertOrUpdate(1, unit(1, 0, 0))
	idx.Delete(99)
	assert.Equal(t, 1, idx.Len())
}

func TestSearch_RanksByDescendingScore(t *testing.T) {
	idx := New(3, 10, -1.0)
	idx.InsertOrUpdate(1, unit(1, 0, 0))
	idx.InsertOrUpdate(2, unit(0.9, 0.1, 0))
	idx.InsertOrUpdate(3, unit(0, 1, 0))

	res := idx.Search(unit(1, 0, 0), 3)
	require.Len(t, res, 3)
	assert.Equal(t, int64(1), res[0].ID)
	assert.True(t, res[0].Score >= res[1].Score)
	assert.True(t, res[1].Score >= res[2].Score)
}

func TestSearch_TieBreaksByHigherID(t *testing.T) {
	idx := New(3, 10, -1.0)
	idx.InsertOrUpdate(1, unit(1, 0, 0))
	idx.InsertOrUpdate(2, unit(1, 0, 0))

	res := idx.Search(unit(1, 0, 0), 2)
	require.Len(t, res, 2)
	assert.Equal(t, int64(2), res[0].ID)
	assert.Equal(t, int64(1), res[1].ID)
}

func TestSearch_FiltersBelowThreshold(t *testing.T) {
	idx := New(3, 10, 0.5)
	idx.InsertOrUpdate(1, unit(1, 0, 0))
	idx.InsertOrUpdate(2, unit(0, 1, 0))

	res := idx.Search(unit(1, 0, 0), 10)
	require.Len(t, res, 1)
	assert.Equal(t, int64(1), res[0].ID)
}

func TestSearch_RespectsK(t *testing.T) {
	idx := New(3, 10, -1.0)
	idx.InsertOrUpdate(1, unit(1, 0, 0))
	idx.InsertOrUpdate(2, unit(1, 0, 0))
	idx.InsertOrUpdate(3, unit(1, 0, 0))

	res := idx.Search(unit(1, 0, 0), 2)
	assert.Len(t, res, 2)
}

func TestEviction_LRU_EvictsLeastRecentlyTouched(t *testing.T) {
	idx := New(3, 2, -1.0)
	idx.InsertOrUpdate(1, unit(1, 0, 0))
	idx.InsertOrUpdate(2, unit(0, 1, 0))

	// touch 1 so 2 becomes least-recently-used
	idx.Touch(1)

	idx.InsertOrUpdate(3, unit(0, 0, 1))
	assert.Equal(t, 2, idx.Len())

	res := idx.Search(unit(0, 1, 0), 10)
	for _, r := range res {
		assert.NotEqual(t, int64(2), r.ID, "id 2 should have been evicted")
	}
}

func TestEviction_SearchTouchesResults(t *testing.T) {
	idx := New(3, 2, -1.0)
	idx.InsertOrUpdate(1, unit(1, 0, 0))
	idx.InsertOrUpdate(2, unit(0, 1, 0))

	// searching for vector near id 1 touches it, making id 2 the LRU victim
	idx.Search(unit(1, 0, 0), 1)

	idx.InsertOrUpdate(3, unit(0, 0, 1))

	res := idx.Search(unit(1, 0, 0), 10)
	ids := []int64{}
	for _, r := range res {
		ids = append(ids, r.ID)
	}
	assert.Contains(t, ids, int64(1))
	assert.NotContains(t, ids, int64(2))
}

func TestBulkLoad_PreservesInsertionAsLRUOrder(t *testing.T) {
	idx := New(3, 2, -1.0)
	idx.BulkLoad([]struct {
		ID  int64
		Vec []float32
	}{
		{ID: 1, Vec: unit(1, 0, 0)},
		{ID: 2, Vec: unit(0, 1, 0)},
	})
	assert.Equal(t, 2, idx.Len())

	idx.InsertOrUpdate(3, unit(0, 0, 1))

	res := idx.Search(unit(1, 0, 0), 10)
	for _, r := range res {
		assert.NotEqual(t, int64(1), r.ID, "oldest bulk-loaded id should evict first")
	}
}

func TestSearch_EmptyIndexReturnsNil(t *testing.T) {
	idx := New(3, 10, 0.0)
	res := idx.Search(unit(1, 0, 0), 5)
	assert.Nil(t, res)
}

func TestSearch_ZeroKReturnsNil(t *testing.T) {
	idx := New(3, 10, 0.0)
	idx.InsertOrUpdate(1, unit(1, 0, 0))
	res := idx.Search(unit(1, 0, 0), 0)
	assert.Nil(t, res)
}
