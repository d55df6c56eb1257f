// Package watch re-runs scenarios when their files change.
package watch

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/xkilldash9x/walkthrough/internal/scenario"
)

// DefaultDebounce is how long the watcher waits after the last change
// before triggering a run.
const DefaultDebounce = 500 * time.Millisecond

// Handler is called with the files that changed since the previous call.
type Handler func(ctx context.Context, changed []string)

// Watcher watches scenario files and directories.
type Watcher struct {
	logger   *zap.Logger
	debounce time.Duration

	watcher *fsnotify.Watcher
	// files are explicitly named scenario files; their parent directories
	// are watched because editors often replace files instead of writing them.
	files map[string]bool
	trees map[string]bool
	dirs  map[string]bool
}

// New creates a watcher for paths, which may be files or directories.
// Directories are watched recursively, skipping hidden ones.
func New(paths []string, logger *zap.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	w := &Watcher{
		logger:   logger.Named("watch"),
		debounce: DefaultDebounce,
		watcher:  fw,
		files:    make(map[string]bool),
		trees:    make(map[string]bool),
		dirs:     make(map[string]bool),
	}

	for _, p := range paths {
		if err := w.add(p); err != nil {
			fw.Close()
			return nil, err
		}
	}
	return w, nil
}

// SetDebounce overrides DefaultDebounce. It must be called before Run.
func (w *Watcher) SetDebounce(d time.Duration) {
	if d > 0 {
		w.debounce = d
	}
}

func (w *Watcher) add(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("failed to resolve %q: %w", path, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return fmt.Errorf("failed to watch %q: %w", path, err)
	}
	if !info.IsDir() {
		w.files[abs] = true
		return w.addDir(filepath.Dir(abs))
	}
	w.trees[abs] = true
	return filepath.WalkDir(abs, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != abs && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.addDir(p)
	})
}

func (w *Watcher) addDir(dir string) error {
	if w.dirs[dir] {
		return nil
	}
	if err := w.watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %q: %w", dir, err)
	}
	w.dirs[dir] = true
	w.logger.Debug("Watching directory", zap.String("dir", dir))
	return nil
}

// relevant reports whether an event should trigger a run.
func (w *Watcher) relevant(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return false
	}
	if w.files[event.Name] {
		return true
	}
	return w.inTree(event.Name) && scenario.IsScenarioFile(event.Name)
}

// inTree reports whether name lies under a directory that was passed to New.
func (w *Watcher) inTree(name string) bool {
	for root := range w.trees {
		rel, err := filepath.Rel(root, name)
		if err == nil && rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return true
		}
	}
	return false
}

// Run blocks until ctx is cancelled, calling handler once changes settle.
// Calls to handler never overlap.
func (w *Watcher) Run(ctx context.Context, handler Handler) error {
	defer w.watcher.Close()

	var (
		mu      sync.Mutex
		pending = make(map[string]bool)
		timer   *time.Timer
	)
	trigger := make(chan struct{}, 1)

	defer func() {
		mu.Lock()
		if timer != nil {
			timer.Stop()
		}
		mu.Unlock()
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if event.Has(fsnotify.Create) {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() && w.inTree(event.Name) && !strings.HasPrefix(info.Name(), ".") {
					if err := w.addDir(event.Name); err != nil {
						w.logger.Warn("Failed to watch new directory", zap.Error(err))
					}
					continue
				}
			}
			if !w.relevant(event) {
				continue
			}

			mu.Lock()
			pending[event.Name] = true
			if timer != nil {
				timer.Stop()
			}
			timer = time.AfterFunc(w.debounce, func() {
				select {
				case trigger <- struct{}{}:
				default:
				}
			})
			mu.Unlock()

		case <-trigger:
			mu.Lock()
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			pending = make(map[string]bool)
			mu.Unlock()
			if len(changed) == 0 {
				continue
			}
			sort.Strings(changed)

			w.logger.Info("Scenario files changed; re-running", zap.Strings("files", changed))
			handler(ctx, changed)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("File watcher error", zap.Error(err))
		}
	}
}
