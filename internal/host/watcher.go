package host

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/eduard256/mapkit/pkg/logger"
)

// ChangeHandler receives the ids whose element changed after a reload.
type ChangeHandler func(ids []string)

// Watcher reloads a FileSource whenever its document changes on disk and
// reports the affected map ids. It is the explicit mount signal for file
// backed hosts.
type Watcher struct {
	watcher *fsnotify.Watcher
	source  *FileSource
	handler ChangeHandler
	logger  *logger.Logger
	name    string

	mu       sync.Mutex
	running  bool
	stopOnce sync.Once

	stopChan chan struct{}
	doneChan chan struct{}
}

// NewWatcher watches the directory holding src's document. Editors commonly
// replace files by rename, so the directory is watched rather than the file.
func NewWatcher(src *FileSource, handler ChangeHandler, log *logger.Logger) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create fsnotify watcher: %w", err)
	}

	abs, err := filepath.Abs(src.Path())
	if err != nil {
		fw.Close()
		return nil, fmt.Errorf("resolve host document path: %w", err)
	}

	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, fmt.Errorf("watch %s: %w", filepath.Dir(abs), err)
	}

	return &Watcher{
		watcher:  fw,
		source:   src,
		handler:  handler,
		logger:   logger.OrNop(log).WithField("subcomponent", "host-watcher"),
		name:     filepath.Base(abs),
		stopChan: make(chan struct{}),
		doneChan: make(chan struct{}),
	}, nil
}

// Start processes events until ctx is done or Stop is called. It blocks.
func (w *Watcher) Start(ctx context.Context) {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return
	}
	w.running = true
	w.mu.Unlock()

	w.logger.WithField("file", w.source.Path()).Info("host watcher started")

	for {
		select {
		case <-ctx.Done():
			w.cleanup()
			return
		case <-w.stopChan:
			w.cleanup()
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				w.cleanup()
				return
			}
			w.handleEvent(event)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				w.cleanup()
				return
			}
			w.logger.WithError(err).Warn("fsnotify error")
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if filepath.Base(event.Name) != w.name {
		return
	}
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
		return
	}

	changed, err := w.source.Reload()
	if err != nil {
		// Partially written documents fail to parse; the next write retries.
		w.logger.WithError(err).Debug("host document reload failed")
		return
	}
	if len(changed) == 0 {
		return
	}

	w.logger.WithField("maps", len(changed)).Debug("host document changed")
	w.handler(changed)
}

// Stop stops the watcher and waits for Start to return.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.mu.Unlock()

	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.doneChan
}

func (w *Watcher) cleanup() {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}

	w.watcher.Close()
	w.running = false
	close(w.doneChan)

	w.logger.Info("host watcher stopped")
}
