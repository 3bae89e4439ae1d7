// Package orchestrator implements C6: shared state, lifecycle, status
// snapshots, and the command surface consumed by the UI layer.
package orchestrator

import (
	"context"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/clipvault/semantic/internal/acquisition"
	"github.com/clipvault/semantic/internal/embedding"
	"github.com/clipvault/semantic/internal/embedstore"
	"github.com/clipvault/semantic/internal/history"
	"github.com/clipvault/semantic/internal/indexer"
	"github.com/clipvault/semantic/internal/semerr"
	"github.com/clipvault/semantic/internal/vectorindex"
	"github.com/clipvault/semantic/pkg/models"
)

// Orchestrator is C6. It holds the shared handles named in spec.md §4.6.
// mu guards only enabled/threshold; index access is synchronized by the
// *vectorindex.Synced instance itself, which is the single lock shared
// with the indexing worker (C4) so its background mutations and this
// orchestrator's search/rehydrate reads never race on the same index.
type Orchestrator struct {
	mu sync.RWMutex

	host       *embedding.Host
	index      *vectorindex.Synced
	store      *embedstore.Store
	downloader *acquisition.Downloader
	worker     *indexer.Worker
	history    history.Provider

	enabled   bool
	threshold float32

	log zerolog.Logger
}

// Config configures an Orchestrator. Enabled mirrors
// semantic_search_enabled from settings (spec.md §6).
type Config struct {
	Enabled   bool
	Threshold float32
}

// New wires the C1-C5 handles into an Orchestrator. BulkLoad of the index
// from the durable store (rehydration) is the caller's responsibility,
// invoked once via Rehydrate after construction.
func New(host *embedding.Host, index *vectorindex.Synced, store *embedstore.Store, downloader *acquisition.Downloader, worker *indexer.Worker, h history.Provider, cfg Config, log zerolog.Logger) *Orchestrator {
	return &Orchestrator{
		host:       host,
		index:      index,
		store:      store,
		downloader: downloader,
		worker:     worker,
		history:    h,
		enabled:    cfg.Enabled,
		threshold:  cfg.Threshold,
		log:        log.With().Str("component", "orchestrator").Logger(),
	}
}

// Rehydrate populates C3 from C1 at startup, clipped at capacity and
// preferring the most-recently-touched (here: highest item_id) records
// when the durable count exceeds capacity (spec.md §4.3 persistence
// contract).
func (o *Orchestrator) Rehydrate(ctx context.Context) error {
	type pair struct {
		id  int64
		vec []float32
	}
	var all []pair
	err := o.store.IterAll(ctx, func(id int64, vec []float32) error {
		all = append(all, pair{id: id, vec: vec})
		return nil
	})
	if err != nil {
		return err
	}

	// IterAll is ascending by item_id; bulk_load's LRU-as-insertion-order
	// contract means the most recent ids must land last so eviction (if
	// we happen to exceed capacity mid-load) drops the oldest first.
	sort.Slice(all, func(i, j int) bool { return all[i].id < all[j].id })

	for _, p := range all {
		o.index.InsertOrUpdate(p.id, p.vec)
	}
	o.log.Info().Int("count", len(all)).Msg("rehydrated vector index from durable store")
	return nil
}

// Start launches the indexing worker's consumer loop and wires
// on_new_item notifications from the history provider into it.
func (o *Orchestrator) Start(ctx context.Context) {
	o.history.OnNewTextItem(func(id int64) { o.OnNewItem(id) })
	go o.worker.Run(ctx)
	o.worker.TriggerScan()

	if path := o.downloader.ManualInfo().TargetPath; path != "" {
		o.watchModelFile(ctx, path)
	}
}

// Status returns the current StatusSnapshot (spec.md §3).
func (o *Orchestrator) Status() models.StatusSnapshot {
	o.mu.RLock()
	enabled := o.enabled
	o.mu.RUnlock()

	dlStatus := o.downloader.Status()
	indexed, total, inProgress, _ := o.worker.Snapshot()

	return models.StatusSnapshot{
		ModelDownloaded:    o.host.IsLoaded() || o.downloader.CheckIntegrity() == nil,
		ModelLoaded:        o.host.IsLoaded(),
		DownloadProgress:   dlStatus.Progress,
		IndexedCount:       indexed,
		TotalTextCount:     total,
		IndexingInProgress: inProgress,
		Enabled:            enabled,
	}
}

// Search runs the full search data flow from spec.md §2: encode query,
// scan+topk on C3, assemble with history items.
func (o *Orchestrator) Search(ctx context.Context, query string, limit int) ([]models.SearchResult, error) {
	o.mu.RLock()
	enabled := o.enabled
	o.mu.RUnlock()

	if !enabled {
		return nil, semerr.New(semerr.KindDisabled, "")
	}
	if query == "" {
		return nil, semerr.New(semerr.KindEmptyQuery, "")
	}
	if !o.host.IsLoaded() {
		return nil, semerr.New(semerr.KindModelUnavailable, "")
	}

	vec, err := o.host.Embed(query)
	if err != nil {
		return nil, err
	}

	hits := o.index.Search(vec, limit)

	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]int64, len(hits))
	scoreByID := make(map[int64]float32, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
		scoreByID[h.ID] = h.Score
	}

	items, err := o.history.GetItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]models.SearchResult, 0, len(items))
	for _, item := range items {
		results = append(results, models.SearchResult{Item: item, Score: scoreByID[item.ID]})
	}
	sort.Slice(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Item.ID > results[j].Item.ID
	})
	return results, nil
}

// StartDownload begins a model download (spec.md §4.6).
func (o *Orchestrator) StartDownload(ctx context.Context) error {
	return o.downloader.StartDownload(ctx, nil)
}

// CancelDownload cancels the in-flight download, if any (spec.md §4.6).
func (o *Orchestrator) CancelDownload() {
	o.downloader.CancelDownload()
}

// ManualDownloadInfo exposes {url, target_path, filename} (spec.md §6).
func (o *Orchestrator) ManualDownloadInfo() acquisition.ManualDownloadInfo {
	return o.downloader.ManualInfo()
}

// StartBulkIndexing enqueues an incremental scan (spec.md §4.6).
func (o *Orchestrator) StartBulkIndexing() {
	o.worker.TriggerScan()
}

// RebuildIndex enqueues a full rebuild: clears C1+C3 and re-encodes all
// text items (spec.md §4.6).
func (o *Orchestrator) RebuildIndex(ctx context.Context) {
	o.worker.TriggerRebuild(ctx)
}

// OnNewItem is the notification hook from the clipboard layer (spec.md
// §4.6, §6): a newly-stored text item should be picked up by the next
// incremental scan.
func (o *Orchestrator) OnNewItem(id int64) {
	o.worker.TriggerScan()
}

// SetEnabled toggles semantic search availability at runtime (a settings
// change from the host application).
func (o *Orchestrator) SetEnabled(enabled bool) {
	o.mu.Lock()
	o.enabled = enabled
	o.mu.Unlock()
}
