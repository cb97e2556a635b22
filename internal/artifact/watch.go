package artifact

import (
	"context"
	"path/filepath"
	"strings"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Watch observes the temp directory until ctx is cancelled.
//
// Files created under the run's prefix that the Manager never allocated (a
// tool writing side files next to its output, say) are adopted as KindStray
// so Finish settles them too. ready is closed once the watch is installed.
func (m *Manager) Watch(ctx context.Context, ready chan<- struct{}) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		close(ready)
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(m.dir); err != nil {
		close(ready)
		return err
	}
	close(ready)

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) {
				continue
			}
			if !strings.HasPrefix(filepath.Base(event.Name), m.prefix) {
				continue
			}
			m.adoptStray(filepath.Clean(event.Name))

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			m.logger.Warn("temp dir watcher error", zap.Error(err))
		}
	}
}
