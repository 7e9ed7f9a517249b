package configfile

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch reloads the document when the host's OAuth flow (or an operator)
// rewrites connections.json behind our back. It returns once the watcher is
// installed; reloads happen on a background goroutine until ctx is done.
func (s *Store) Watch(ctx context.Context) error {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := w.Add(s.path); err != nil {
		// The file may not exist until the first connection is added.
		s.log.Debug("watch unavailable", zap.String("path", s.path), zap.Error(err))
		_ = w.Close()
		return nil
	}

	go func() {
		defer w.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-w.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				if err := s.reload(); err != nil {
					s.log.Warn("reload after change", zap.Error(err))
					continue
				}
				s.log.Info("connections document reloaded", zap.String("path", s.path))
			case err, ok := <-w.Errors:
				if !ok {
					return
				}
				s.log.Warn("watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}
