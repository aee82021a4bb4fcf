package plan

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/parley-ai/parley/internal/core"
	"github.com/parley-ai/parley/internal/logging"
)

// debounceDelay coalesces the burst of events editors emit on save.
const debounceDelay = 200 * time.Millisecond

// Watcher reloads a plan file on change and hands valid plans to a callback.
// Invalid intermediate states (half-written saves) are logged and skipped;
// the previous plan stays in effect.
type Watcher struct {
	path     string
	watcher  *fsnotify.Watcher
	onChange func(core.TurnPlan)
	logger   *logging.Logger

	done chan struct{}
	once sync.Once
	wg   sync.WaitGroup
}

// Watch starts watching path. The directory is watched rather than the file
// itself so rename-style saves keep working.
func Watch(path string, onChange func(core.TurnPlan), logger *logging.Logger) (*Watcher, error) {
	if logger == nil {
		logger = logging.NewNop()
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, core.ErrInternal("creating plan watcher").WithCause(err)
	}
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, core.ErrInternal("watching plan directory").WithCause(err)
	}

	w := &Watcher{
		path:     path,
		watcher:  fsw,
		onChange: onChange,
		logger:   logger,
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Close stops the watcher.
func (w *Watcher) Close() error {
	w.once.Do(func() { close(w.done) })
	err := w.watcher.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop() {
	defer w.wg.Done()

	var debounce *time.Timer
	var debounceC <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if debounce == nil {
				debounce = time.NewTimer(debounceDelay)
				debounceC = debounce.C
			} else {
				if !debounce.Stop() {
					select {
					case <-debounce.C:
					default:
					}
				}
				debounce.Reset(debounceDelay)
			}
		case <-debounceC:
			debounce = nil
			debounceC = nil
			w.reload()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("plan watcher error", "error", err)
		}
	}
}

func (w *Watcher) reload() {
	plan, err := Load(w.path)
	if err != nil {
		w.logger.Warn("plan reload rejected", "path", w.path, "error", err)
		return
	}
	w.logger.Info("plan reloaded", "path", w.path, "groups", len(plan.Groups), "steps", plan.TotalSteps())
	w.onChange(plan)
}
