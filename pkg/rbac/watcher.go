package rbac

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
	"github.com/tcangola/portal/pkg/async"
)

const reloadTimeout = 30 * time.Second

// Purger drops every cached capability
type Purger interface {
	Purge(ctx context.Context)
}

// CatalogWatcher reapplies a catalog file whenever it changes and purges
// cached capabilities afterwards
type CatalogWatcher struct {
	path    string
	store   *Store
	cache   Purger
	logger  logrus.FieldLogger
	watcher *fsnotify.Watcher

	// reloaded is signalled after every reload attempt; used by tests
	reloaded func(error)

	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCatalogWatcher creates a watcher for path. Call Start to begin.
func NewCatalogWatcher(path string, store *Store, cache Purger, logger logrus.FieldLogger) *CatalogWatcher {
	if logger == nil {
		logger = logrus.New()
	}
	return &CatalogWatcher{
		path:   filepath.Clean(path),
		store:  store,
		cache:  cache,
		logger: logger.WithField("catalog", path),
	}
}

// Start watches the catalog's directory, since editors often replace files
// instead of writing them in place
func (w *CatalogWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch catalog directory: %w", err)
	}
	w.watcher = watcher

	ctx, w.cancel = context.WithCancel(ctx)
	w.wg.Add(1)
	go func() {
		defer w.wg.Done()
		w.loop(ctx)
	}()

	w.logger.Info("watching profile catalog")
	return nil
}

// Close stops watching
func (w *CatalogWatcher) Close() error {
	if w.cancel != nil {
		w.cancel()
	}
	var err error
	if w.watcher != nil {
		err = w.watcher.Close()
	}
	w.wg.Wait()
	return err
}

func (w *CatalogWatcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			w.logger.WithField("op", event.Op.String()).Debug("profile catalog changed")
			async.SafeGo(ctx, w.logger, reloadTimeout, "reload-profile-catalog", w.reload)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.WithError(err).Warn("catalog watcher error")
		}
	}
}

// reload applies the file; a file that fails validation leaves the store as it was
func (w *CatalogWatcher) reload(ctx context.Context) error {
	err := w.apply(ctx)
	if w.reloaded != nil {
		w.reloaded(err)
	}
	return err
}

func (w *CatalogWatcher) apply(ctx context.Context) error {
	catalog, err := LoadCatalog(w.path)
	if err != nil {
		return err
	}
	if err := catalog.Apply(ctx, w.store); err != nil {
		return fmt.Errorf("failed to apply profile catalog: %w", err)
	}
	w.cache.Purge(ctx)
	w.logger.WithField("profiles", len(catalog.Profiles)).Info("profile catalog reloaded")
	return nil
}
