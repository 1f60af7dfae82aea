package tasks

import (
	"context"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// selfWriteWindow is how long after our own save we ignore file events,
// so a Store.save does not trigger a reload of what we just wrote.
const selfWriteWindow = 500 * time.Millisecond

type watcher struct {
	fs     *fsnotify.Watcher
	stopCh chan struct{}
	doneCh chan struct{}
}

// Watch reloads the store whenever the data file changes on disk. The
// watcher runs until ctx is cancelled or Close is called. External edits
// win: the file is the source of truth.
func (s *Store) Watch(ctx context.Context) error {
	if s.watcher != nil {
		return nil
	}
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	// Watch the directory, not the file: saves go through a rename, which
	// replaces the watched inode.
	if err := fs.Add(filepath.Dir(s.path)); err != nil {
		fs.Close()
		return err
	}

	w := &watcher{
		fs:     fs,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
	}
	s.watcher = w
	go s.watchLoop(ctx, w)
	return nil
}

// Close stops the watcher, if one is running.
func (s *Store) Close() {
	if s.watcher == nil {
		return
	}
	close(s.watcher.stopCh)
	<-s.watcher.doneCh
	s.watcher.fs.Close()
	s.watcher = nil
}

func (s *Store) watchLoop(ctx context.Context, w *watcher) {
	defer close(w.doneCh)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(s.path) {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			s.mu.RLock()
			recent := time.Since(s.lastWrite) < selfWriteWindow
			s.mu.RUnlock()
			if recent {
				continue
			}
			s.log.Infow("task data changed on disk, reloading", "path", s.path)
			if err := s.reload(); err != nil {
				s.log.Errorw("task data reload failed", "error", err)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			s.log.Warnw("task data watch error", "error", err)
		}
	}
}
