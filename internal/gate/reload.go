package gate

import (
	"context"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Reloader watches the engine's policy file and reloads it on change.
type Reloader struct {
	watcher  *fsnotify.Watcher
	engine   *Engine
	file     string
	debounce time.Duration

	// OnResult, when set, receives the outcome of every reload attempt.
	OnResult func(error)
}

// NewReloader watches the directory holding the engine's policy file, so
// editors that replace the file by rename are still seen.
func NewReloader(engine *Engine) (*Reloader, error) {
	if engine.Path() == "" {
		return nil, fmt.Errorf("engine has no policy file to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}

	abs, err := filepath.Abs(engine.Path())
	if err != nil {
		watcher.Close()
		return nil, err
	}
	dir := filepath.Dir(abs)
	if _, err := os.Stat(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("policy directory %q: %w", dir, err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", dir, err)
	}

	return &Reloader{
		watcher:  watcher,
		engine:   engine,
		file:     abs,
		debounce: 500 * time.Millisecond,
	}, nil
}

// Run reloads the policy 500ms after the last change to the file. Blocks
// until ctx is cancelled.
func (r *Reloader) Run(ctx context.Context) error {
	defer r.watcher.Close()

	var debounce *time.Timer

	for {
		select {
		case <-ctx.Done():
			if debounce != nil {
				debounce.Stop()
			}
			return nil

		case ev, ok := <-r.watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(ev.Name) != r.file {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(r.debounce, r.reload)

		case err, ok := <-r.watcher.Errors:
			if !ok {
				return nil
			}
			log.Printf("gate: file watcher error: %v", err)
		}
	}
}

func (r *Reloader) reload() {
	err := r.engine.Reload()
	if err != nil {
		log.Printf("gate: hot-reload failed, keeping policy %s: %v", r.engine.Snapshot().Hash, err)
	} else {
		log.Printf("gate: hot-reload: policy %s loaded", r.engine.Snapshot().Hash)
	}
	if r.OnResult != nil {
		r.OnResult(err)
	}
}
