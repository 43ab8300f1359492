// Package watcher submits conversion jobs for score files dropped into
// watched directories.
package watcher

import (
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"scorepipe/internal/fsutil"
)

// DefaultSettle is how long a file must stay quiet before it is submitted.
// Uploads via network shares arrive in bursts of writes.
const DefaultSettle = 2 * time.Second

// SubmitFunc receives the path of a settled score file.
type SubmitFunc func(path string) error

// Watcher monitors directories and submits new score files once their writes
// settle.
type Watcher struct {
	fs     *fsnotify.Watcher
	log    *slog.Logger
	dirs   []string
	settle time.Duration
	submit SubmitFunc

	mu       sync.Mutex
	pending  map[string]*time.Timer
	stopOnce sync.Once
	done     chan struct{}
}

func New(dirs []string, settle time.Duration, submit SubmitFunc, log *slog.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if settle <= 0 {
		settle = DefaultSettle
	}
	return &Watcher{
		fs:      fs,
		log:     log,
		dirs:    dirs,
		settle:  settle,
		submit:  submit,
		pending: make(map[string]*time.Timer),
		done:    make(chan struct{}),
	}, nil
}

// Start begins monitoring the configured directories. Score files already
// present are scheduled too, so files dropped while the service was down are
// picked up.
func (w *Watcher) Start() error {
	for _, dir := range w.dirs {
		if err := w.fs.Add(dir); err != nil {
			return err
		}
		w.log.Info("watching directory", "dir", dir)

		existing, err := fsutil.ListScores(dir)
		if err != nil {
			w.log.Warn("initial scan failed", "dir", dir, "error", err)
			continue
		}
		for _, path := range existing {
			w.touch(path)
		}
	}
	go w.loop()
	return nil
}

// Stop cancels pending submissions and closes the watcher.
func (w *Watcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		for path, timer := range w.pending {
			timer.Stop()
			delete(w.pending, path)
		}
		w.mu.Unlock()
		err = w.fs.Close()
	})
	return err
}

func (w *Watcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			if !fsutil.IsScoreFile(event.Name) {
				continue
			}
			w.touch(event.Name)
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.log.Warn("watcher error", "error", err)
		}
	}
}

// touch resets the settle timer for path. The submission fires only after the
// file has been quiet for the settle window.
func (w *Watcher) touch(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if timer, ok := w.pending[path]; ok {
		timer.Reset(w.settle)
		return
	}
	w.pending[path] = time.AfterFunc(w.settle, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()

		select {
		case <-w.done:
			return
		default:
		}
		if err := w.submit(path); err != nil {
			w.log.Error("submitting watched file failed", "path", path, "error", err)
			return
		}
		w.log.Info("submitted watched file", "path", path)
	})
}
