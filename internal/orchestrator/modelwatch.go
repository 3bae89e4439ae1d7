package orchestrator

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// watchModelFile watches the directory containing the embedding model for
// removal or rename of the model file itself, so an operator (or a buggy
// cleanup script) deleting the model out from under a running daemon is
// reflected in the next status snapshot instead of surfacing as a mysterious
// inference failure. Mirrors the host-application's settings/db watcher:
// best-effort, logged, never fatal.
func (o *Orchestrator) watchModelFile(ctx context.Context, path string) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		o.log.Warn().Err(err).Msg("model file watcher unavailable")
		return
	}

	dir := filepath.Dir(path)
	if err := watcher.Add(dir); err != nil {
		o.log.Warn().Err(err).Str("dir", dir).Msg("model file watcher unavailable")
		_ = watcher.Close()
		return
	}

	target := filepath.Clean(path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) != target {
					continue
				}
				if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					o.log.Warn().Str("path", path).Msg("model file disappeared, unloading host")
					if err := o.host.Close(); err != nil {
						o.log.Warn().Err(err).Msg("error unloading host after model file removal")
					}
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				o.log.Warn().Err(err).Msg("model file watcher error")
			}
		}
	}()
}
