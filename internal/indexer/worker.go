// Package indexer implements C4, the background indexing worker: a
// single-instance producer/consumer pipeline that discovers unindexed
// clipboard text, encodes it, and persists it without blocking foreground
// search or clipboard capture.
package indexer

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clipvault/semantic/internal/embedstore"
	"github.com/clipvault/semantic/internal/history"
	"github.com/clipvault/semantic/internal/semerr"
	"github.com/clipvault/semantic/internal/vectorindex"
	"github.com/clipvault/semantic/pkg/models"
)

// State is one of the C4 state machine's states (spec.md §4.4).
type State string

const (
	StateIdle       State = "idle"
	StateScanning   State = "scanning"
	StateEncoding   State = "encoding"
	StatePersisting State = "persisting"
)

// maxConsecutivePersistFailures is the threshold after which a run gives
// up and returns to Idle with a user-visible error (spec.md §4.4, §7).
const maxConsecutivePersistFailures = 3

// record is a produced (id, vector) pair in flight between the producer
// and the persister.
type record struct {
	id  int64
	vec []float32
}

// Embedder is the subset of the Model Host (C2) the worker needs: run the
// full encode pipeline for one text.
type Embedder interface {
	Embed(text string) ([]float32, error)
}

// Worker is C4. One Worker instance serves one index/store pair; it is
// single-instance (at-most-one) by construction — a single consumer
// goroutine drains requestCh and runs cycles serially.
type Worker struct {
	history history.Provider
	store   *embedstore.Store
	host    Embedder
	index   *vectorindex.Synced

	dim       int
	batchSize int
	log       zerolog.Logger

	mu             sync.Mutex
	state          State
	indexedCount   int
	totalTextCount int
	lastErr        error
	skipSet        map[int64]bool

	requestCh chan request
	stopCh    chan struct{}
	wg        sync.WaitGroup
}

type request struct {
	rebuild bool
}

// Config configures a Worker's pipeline constants.
type Config struct {
	Dim       int
	BatchSize int
}

// New creates a Worker in the Idle state. Run must be called to start its
// consumer goroutine.
func New(h history.Provider, store *embedstore.Store, host Embedder, index *vectorindex.Synced, cfg Config, log zerolog.Logger) *Worker {
	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = 100
	}
	return &Worker{
		history:   h,
		store:     store,
		host:      host,
		index:     index,
		dim:       cfg.Dim,
		batchSize: batchSize,
		log:       log.With().Str("component", "indexing_worker").Logger(),
		state:     StateIdle,
		skipSet:   make(map[int64]bool),
		requestCh: make(chan request, 1),
		stopCh:    make(chan struct{}),
	}
}

// Run starts the worker's consumer loop. Call from a goroutine; it returns
// when ctx is cancelled or Stop is called.
func (w *Worker) Run(ctx context.Context) {
	w.wg.Add(1)
	defer w.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case req := <-w.requestCh:
			if err := w.runCycle(ctx, req.rebuild); err != nil {
				w.log.Error().Err(err).Msg("indexing cycle failed")
			}
		}
	}
}

// Stop signals the consumer loop to exit and waits for it to do so.
func (w *Worker) Stop() {
	select {
	case <-w.stopCh:
	default:
		close(w.stopCh)
	}
	w.wg.Wait()
}

// TriggerScan enqueues an incremental scan (spec.md §4.4 triggers (a) and
// (c)). Non-blocking: if a scan is already queued, this is a no-op —
// coalescing is safe because the queued scan will see the same or more
// candidates.
func (w *Worker) TriggerScan() {
	select {
	case w.requestCh <- request{rebuild: false}:
	default:
	}
}

// TriggerRebuild enqueues a full rebuild (spec.md §4.4 trigger (b),
// §4.6 rebuild_index). Blocks until accepted so the caller can be sure the
// request was not dropped by coalescing.
func (w *Worker) TriggerRebuild(ctx context.Context) {
	select {
	case w.requestCh <- request{rebuild: true}:
	case <-ctx.Done():
	}
}

// Snapshot returns the worker's contribution to the status snapshot
// (spec.md §3, §4.4 progress reporting).
func (w *Worker) Snapshot() (indexedCount, totalTextCount int, inProgress bool, lastErr error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.indexedCount, w.totalTextCount, w.state != StateIdle, w.lastErr
}

func (w *Worker) setState(s State) {
	w.mu.Lock()
	w.state = s
	w.mu.Unlock()
}

// runCycle is one full Idle->Scanning->Encoding->Persisting->Idle pass.
// Only the worker's own consumer goroutine calls this, so no external
// synchronization is needed around state transitions beyond what Snapshot
// needs for reads.
func (w *Worker) runCycle(ctx context.Context, rebuild bool) error {
	w.setState(StateScanning)

	if rebuild {
		if err := w.clearForRebuild(ctx); err != nil {
			w.setState(StateIdle)
			return fmt.Errorf("clear for rebuild: %w", err)
		}
	}

	candidates, total, err := w.scan(ctx, rebuild)
	if err != nil {
		w.setState(StateIdle)
		return fmt.Errorf("scan: %w", err)
	}

	w.mu.Lock()
	w.totalTextCount = total
	w.mu.Unlock()

	if len(candidates) == 0 {
		w.setState(StateIdle)
		return nil
	}

	w.setState(StateEncoding)
	return w.encodeAndPersist(ctx, candidates)
}

// clearForRebuild drops every durable and in-memory record so rebuild_index
// re-encodes everything from scratch (spec.md §4.6).
func (w *Worker) clearForRebuild(ctx context.Context) error {
	ids, err := w.history.ListTextItemIDs(ctx)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if err := w.store.Delete(ctx, id); err != nil {
			return err
		}
		w.index.Delete(id)
	}
	w.mu.Lock()
	w.indexedCount = 0
	w.skipSet = make(map[int64]bool)
	w.mu.Unlock()
	return nil
}

// scan returns candidate ids (ascending, oldest-first per spec.md §4.4) not
// already present in the durable store, skipping ids in the transient
// skip-set, plus the total known text-item count.
func (w *Worker) scan(ctx context.Context, rebuild bool) ([]int64, int, error) {
	ids, err := w.history.ListTextItemIDs(ctx)
	if err != nil {
		return nil, 0, err
	}

	w.mu.Lock()
	skip := w.skipSet
	w.mu.Unlock()

	candidates := make([]int64, 0, len(ids))
	for _, id := range ids {
		if skip[id] {
			continue
		}
		if !rebuild {
			if _, ok := w.store.Get(ctx, id); ok {
				continue
			}
		}
		candidates = append(candidates, id)
	}
	return candidates, len(ids), nil
}

// encodeAndPersist runs the producer/consumer split described in spec.md
// §4.4: the producer encodes and updates C3 immediately, the persister
// batches writes to C1. The bounded channel backpressures the producer
// when persistence stalls.
func (w *Worker) encodeAndPersist(ctx context.Context, candidates []int64) error {
	ch := make(chan record, w.batchSize)
	persistErrCh := make(chan error, 1)

	prodCtx, cancelProd := context.WithCancel(ctx)
	defer cancelProd()

	var persistWG sync.WaitGroup
	persistWG.Add(1)
	go func() {
		defer persistWG.Done()
		err := w.persistLoop(ctx, ch)
		if err != nil {
			// Stop the producer and drain ch so it never blocks on a send.
			cancelProd()
			for range ch {
			}
		}
		persistErrCh <- err
	}()

	producerErr := w.producerLoop(prodCtx, candidates, ch)
	close(ch)
	persistWG.Wait()

	if persistErr := <-persistErrCh; persistErr != nil {
		w.setState(StateIdle)
		w.mu.Lock()
		w.lastErr = persistErr
		w.mu.Unlock()
		return persistErr
	}

	w.setState(StateIdle)
	if producerErr != nil {
		return producerErr
	}
	return nil
}

// producerLoop encodes each candidate and pushes it onto ch. Cancellation
// is checked between every encode (spec.md §4.4, §5).
func (w *Worker) producerLoop(ctx context.Context, candidates []int64, ch chan<- record) error {
	for _, id := range candidates {
		if ctx.Err() != nil {
			return nil // cooperative cancel: partial progress is kept
		}

		items, err := w.history.GetItems(ctx, []int64{id})
		if err != nil || len(items) == 0 {
			continue
		}
		text := items[0].Text

		vec, err := w.host.Embed(text)
		if err != nil {
			if kind, ok := semerr.Of(err); ok && kind == semerr.KindDegenerateEmbedding {
				w.mu.Lock()
				w.skipSet[id] = true
				w.mu.Unlock()
				continue
			}
			w.log.Warn().Err(err).Int64("item_id", id).Msg("skipping item: encode failed")
			continue
		}

		w.index.InsertOrUpdate(id, vec)

		select {
		case ch <- record{id: id, vec: vec}:
		case <-ctx.Done():
			return nil
		}
	}
	return nil
}

// persistLoop groups up to batchSize records into one transactional write
// to C1 and loops until ch closes. Three consecutive failures abort the run
// (spec.md §4.4, §7); a failed batch is retried against the same records
// before giving up, since put_batch is idempotent (P2).
func (w *Worker) persistLoop(ctx context.Context, ch <-chan record) error {
	batch := make([]record, 0, w.batchSize)

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		w.setState(StatePersisting)
		defer w.setState(StateEncoding)

		recs := make([]models.Embedding, len(batch))
		for i, r := range batch {
			recs[i] = models.Embedding{ItemID: r.id, Vector: r.vec, Dim: w.dim}
		}

		var err error
		for attempt := 0; attempt < maxConsecutivePersistFailures; attempt++ {
			if err = w.store.PutBatch(ctx, recs); err == nil {
				break
			}
			w.log.Warn().Err(err).Int("attempt", attempt+1).Msg("persist batch failed, retrying")
		}
		if err != nil {
			return fmt.Errorf("persist failed %d times consecutively: %w", maxConsecutivePersistFailures, err)
		}

		w.mu.Lock()
		w.indexedCount += len(batch)
		w.mu.Unlock()
		batch = batch[:0]
		return nil
	}

	for r := range ch {
		batch = append(batch, r)
		if len(batch) >= w.batchSize {
			if err := flush(); err != nil {
				return err
			}
		}
	}
	return flush()
}
