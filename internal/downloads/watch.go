package downloads

import (
	"context"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch drives reconcile cycles until the context is cancelled. Two triggers
// feed it: filesystem events under the downloads directory and a fallback
// ticker for anything the watcher misses. Both funnel into the same
// idempotent Reconcile, so double triggers are harmless.
func (c *Coordinator) Watch(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Warn().Err(err).Msg("filesystem watcher unavailable, polling only")
	} else {
		defer watcher.Close()
		if err := watcher.Add(c.dir); err != nil {
			c.logger.Warn().Err(err).Str("dir", c.dir).Msg("cannot watch downloads dir, polling only")
		}
	}

	var events chan fsnotify.Event
	var errs chan error
	if watcher != nil {
		events = watcher.Events
		errs = watcher.Errors
	}

	c.Reconcile(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.Reconcile(ctx)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				c.Reconcile(ctx)
			}
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			c.logger.Warn().Err(err).Msg("filesystem watcher error")
		}
	}
}
