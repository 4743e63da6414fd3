package config

import (
	"context"
	"fmt"
	"log"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// Source hands out the workflow config to use for one call.
type Source interface {
	Current() *WorkflowConfig
}

// Static is a Source that never changes.
type Static struct {
	cfg *WorkflowConfig
}

func NewStatic(cfg *WorkflowConfig) Static { return Static{cfg: cfg} }

func (s Static) Current() *WorkflowConfig { return s.cfg }

// Watcher reloads a workflow document whenever it changes on disk.
// A document that fails to parse leaves the previous config in place.
type Watcher struct {
	path    string
	logger  *log.Logger
	watcher *fsnotify.Watcher

	mu      sync.RWMutex
	current *WorkflowConfig
	reloads int

	wg sync.WaitGroup
}

// Watch loads path and starts watching its directory until ctx is done.
func Watch(ctx context.Context, path string, logger *log.Logger) (*Watcher, error) {
	if logger == nil {
		logger = log.Default()
	}
	cfg, err := FromFile(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Editors often replace the file, so watch the directory.
	if err := fw.Add(filepath.Dir(path)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(path), err)
	}
	w := &Watcher{path: filepath.Clean(path), logger: logger, watcher: fw, current: cfg}
	w.wg.Add(1)
	go w.loop(ctx)
	return w, nil
}

func (w *Watcher) loop(ctx context.Context) {
	defer w.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != w.path {
				continue
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Printf("workflow config watcher: %v", err)
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := FromFile(w.path)
	if err != nil {
		w.logger.Printf("workflow config reload skipped: %v", err)
		return
	}
	if res := cfg.Validate(); !res.Valid {
		w.logger.Printf("workflow config reloaded with %d validation error(s); automation is blocked until fixed", len(res.Errors))
	}
	w.mu.Lock()
	w.current = cfg
	w.reloads++
	w.mu.Unlock()
}

// Current returns the most recent successfully parsed config.
func (w *Watcher) Current() *WorkflowConfig {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Reloads reports how many times the document was reloaded.
func (w *Watcher) Reloads() int {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.reloads
}

// Close stops watching.
func (w *Watcher) Close() error {
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}
