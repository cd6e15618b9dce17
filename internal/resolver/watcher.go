package resolver

import (
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/ryelabs/rye/internal/space"
)

// spaceWatcher evicts cache entries when files change on disk. The content
// hash check remains the source of truth; the watcher only accelerates
// eviction so a hot resolver does not keep re-hashing unchanged files.
type spaceWatcher struct {
	fw     *fsnotify.Watcher
	logger *slog.Logger
	done   chan struct{}
}

// WithWatcher starts an fsnotify watcher over every space's item
// directories. Watch setup failures are logged, not fatal: resolution
// correctness does not depend on the watcher.
func WithWatcher() Option {
	return func(r *Resolver) {
		fw, err := fsnotify.NewWatcher()
		if err != nil {
			r.logger.Warn("space watcher unavailable", "error", err)
			return
		}
		w := &spaceWatcher{fw: fw, logger: r.logger, done: make(chan struct{})}
		for _, sp := range r.spaces {
			for _, t := range []space.ItemType{space.TypeDirective, space.TypeTool, space.TypeKnowledge} {
				root := filepath.Join(sp.AIPath(), t.Dir())
				w.addTree(root)
			}
		}
		go w.run(r)
		r.watcher = w
	}
}

func (w *spaceWatcher) addTree(root string) {
	if _, err := os.Stat(root); err != nil {
		return
	}
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || !d.IsDir() {
			return nil
		}
		if werr := w.fw.Add(path); werr != nil {
			w.logger.Debug("watch add failed", "path", path, "error", werr)
		}
		return nil
	})
}

func (w *spaceWatcher) run(r *Resolver) {
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					w.addTree(ev.Name)
				}
			}
			r.evictPath(ev.Name)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Debug("space watcher error", "error", err)
		}
	}
}

func (w *spaceWatcher) close() error {
	close(w.done)
	return w.fw.Close()
}
