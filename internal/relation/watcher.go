package relation

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watcher observes the relation data file and delivers a new Config snapshot
// on Changes whenever the published connection parameters change. Invalid or
// incomplete relation data is logged and not delivered. Snapshots identical to
// the previously delivered one are suppressed.
type Watcher struct {
	logger         *zap.Logger
	path           string
	legacyDatabase string
	fsw            *fsnotify.Watcher
	changes        chan Config
	done           chan struct{}

	last     Config
	haveLast bool
}

// NewWatcher starts watching the relation data file at path. The file does not
// have to exist yet; a snapshot is delivered as soon as valid data appears.
func NewWatcher(logger *zap.Logger, path string, legacyDatabase string) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}

	// Watch the directory rather than the file itself: the platform replaces
	// the file atomically via rename, which invalidates a watch on the file.
	if err := fsw.Add(filepath.Dir(path)); err != nil {
		_ = fsw.Close()
		return nil, fmt.Errorf("failed to watch %q: %w", filepath.Dir(path), err)
	}

	w := &Watcher{
		logger:         logger.With(zap.String("relation-file", path)),
		path:           path,
		legacyDatabase: legacyDatabase,
		fsw:            fsw,
		changes:        make(chan Config, 1),
		done:           make(chan struct{}),
	}
	go w.run()
	return w, nil
}

// Changes returns the channel on which new config snapshots are delivered.
// The channel is closed when the watcher is closed.
func (w *Watcher) Changes() <-chan Config {
	return w.changes
}

// Close stops the watcher and waits for its goroutine to exit. Safe to call
// multiple times.
func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher) run() {
	defer close(w.done)
	defer close(w.changes)

	// The relation may have been established before this process started.
	w.reload()

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(w.path) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename) == 0 {
				continue
			}
			w.reload()
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error("relation watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path, w.legacyDatabase)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			w.logger.Debug("relation data not published yet")
		} else {
			w.logger.Error("ignoring unusable relation data", zap.Error(err))
		}
		return
	}

	if w.haveLast && cfg == w.last {
		return
	}
	w.last = cfg
	w.haveLast = true

	// Only the latest snapshot matters. Drop an undelivered one so that this
	// send cannot block; run is the only sender, so after the drain the
	// one-slot buffer is guaranteed to have room.
	select {
	case <-w.changes:
		w.logger.Debug("dropping undelivered relation config")
	default:
	}
	w.changes <- cfg
	w.logger.Info("new relation data",
		zap.String("endpoint", cfg.Addr()),
		zap.String("username", cfg.Username),
		zap.String("database", cfg.Database))
}
