package vectorindex

import "sync"

// Synced wraps an Index with the reader-writer lock spec.md §4.6 assigns to
// the orchestrator (C6): every caller that touches the shared index — the
// orchestrator's own search/rehydrate paths and the indexing worker's (C4)
// background producer goroutine — goes through the same *Synced instance
// instead of holding a bare, unsynchronized *Index pointer.
//
// Search is locked exclusively rather than shared: it calls Touch on every
// returned row to mark it hot, which mutates the LRU list, so two Search
// calls running concurrently under a plain read lock would race on that
// list the same way an insert would.
type Synced struct {
	mu  sync.RWMutex
	idx *Index
}

// NewSynced wraps idx for concurrent use.
func NewSynced(idx *Index) *Synced {
	return &Synced{idx: idx}
}

// Len returns the number of vectors currently held.
func (s *Synced) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.idx.Len()
}

// InsertOrUpdate inserts or overwrites a row under the write lock.
func (s *Synced) InsertOrUpdate(id int64, vec []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx.InsertOrUpdate(id, vec)
}

// Delete removes id under the write lock.
func (s *Synced) Delete(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx.Delete(id)
}

// Touch marks id as recently used under the write lock.
func (s *Synced) Touch(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx.Touch(id)
}

// BulkLoad loads pairs under the write lock.
func (s *Synced) BulkLoad(pairs []struct {
	ID  int64
	Vec []float32
}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.idx.BulkLoad(pairs)
}

// Search runs a top-k search under the write lock (see type doc).
func (s *Synced) Search(query []float32, k int) []Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.idx.Search(query, k)
}
