package registry

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce coalesces bursts of file events into one reload.
const DefaultDebounce = 250 * time.Millisecond

var watchedExts = map[string]bool{".md": true, ".yaml": true, ".yml": true, ".toml": true, ".json": true}

// Loader is what the watcher reloads. *Registry implements it.
type Loader interface {
	Load(ctx context.Context) LoadResult
}

// Watcher reloads a registry when files under its directory change.
type Watcher struct {
	loader   Loader
	dir      string
	debounce time.Duration
	logger   *slog.Logger

	fsw    *fsnotify.Watcher
	cancel context.CancelFunc
	wg     sync.WaitGroup
	reload chan struct{}
}

// NewWatcher creates a watcher over dir and its immediate subdirectories.
func NewWatcher(loader Loader, dir string, debounce time.Duration, logger *slog.Logger) *Watcher {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	return &Watcher{
		loader:   loader,
		dir:      dir,
		debounce: debounce,
		logger:   logger,
		reload:   make(chan struct{}, 1),
	}
}

// Start begins watching. Call Close to stop.
func (w *Watcher) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := fsw.Add(w.dir); err != nil {
		fsw.Close()
		return err
	}
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		fsw.Close()
		return err
	}
	for _, e := range entries {
		if e.IsDir() {
			if err := fsw.Add(filepath.Join(w.dir, e.Name())); err != nil {
				w.logger.Warn("registry watcher: cannot watch subdirectory", "dir", e.Name(), "error", err)
			}
		}
	}

	w.fsw = fsw
	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(2)
	go w.events(ctx)
	go w.reloads(ctx)
	w.logger.Info("registry watcher started", "dir", w.dir)
	return nil
}

func (w *Watcher) events(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if !watchedExts[strings.ToLower(filepath.Ext(ev.Name))] {
				continue
			}
			select {
			case w.reload <- struct{}{}:
			default:
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("registry watcher error", "error", err)
		}
	}
}

func (w *Watcher) reloads(ctx context.Context) {
	defer w.wg.Done()
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-w.reload:
			timer.Reset(w.debounce)
		case <-timer.C:
			res := w.loader.Load(ctx)
			w.logger.Info("registry reloaded after file change", "status", res.Status, "reason", res.Reason)
		}
	}
}

// Close stops watching and waits for the background goroutines.
func (w *Watcher) Close() error {
	if w.cancel == nil {
		return nil
	}
	w.cancel()
	err := w.fsw.Close()
	w.wg.Wait()
	w.cancel = nil
	return err
}
