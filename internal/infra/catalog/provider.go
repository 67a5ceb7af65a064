package catalog

import (
	"context"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"toolgate/internal/domain"
	"toolgate/internal/infra/telemetry"
)

const reloadDebounce = 200 * time.Millisecond

// FileCatalog serves the template catalog from a YAML file and reloads it
// when the file changes. A reload that fails to validate keeps the previous
// catalog in place.
type FileCatalog struct {
	logger *zap.Logger
	loader *Loader
	path   string

	state    atomic.Value // map[string]domain.CatalogTemplate
	reloadMu sync.Mutex
}

var _ domain.TemplateCatalog = (*FileCatalog)(nil)

func NewFileCatalog(path string, logger *zap.Logger) (*FileCatalog, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loader := NewLoader(logger)
	templates, err := loader.Load(path)
	if err != nil {
		return nil, err
	}
	catalog := &FileCatalog{
		logger: logger.Named("catalog_provider"),
		loader: loader,
		path:   path,
	}
	catalog.state.Store(templates)
	return catalog, nil
}

func (c *FileCatalog) Template(id string) (domain.CatalogTemplate, bool) {
	tpl, ok := c.snapshot()[id]
	return tpl, ok
}

func (c *FileCatalog) Templates() []domain.CatalogTemplate {
	return sortedTemplates(c.snapshot())
}

func (c *FileCatalog) snapshot() map[string]domain.CatalogTemplate {
	return c.state.Load().(map[string]domain.CatalogTemplate)
}

// Reload re-reads the catalog file immediately.
func (c *FileCatalog) Reload() error {
	c.reloadMu.Lock()
	defer c.reloadMu.Unlock()

	templates, err := c.loader.Load(c.path)
	if err != nil {
		return err
	}
	c.state.Store(templates)
	c.logger.Info("catalog reloaded",
		telemetry.EventField(telemetry.EventCatalogReload),
		zap.Int("templates", len(templates)),
	)
	return nil
}

// Watch reloads the catalog on file changes until the context is cancelled.
// Editors replace files rather than rewriting them in place, so the watch is
// on the directory and events are debounced.
func (c *FileCatalog) Watch(ctx context.Context) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		c.logger.Warn("catalog watcher failed", zap.Error(err))
		return
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		c.logger.Warn("catalog watcher add failed", zap.String("path", c.path), zap.Error(err))
		return
	}

	var timer *time.Timer
	for {
		select {
		case <-ctx.Done():
			return
		case err := <-watcher.Errors:
			if err != nil {
				c.logger.Warn("catalog watcher error", zap.Error(err))
			}
		case event := <-watcher.Events:
			if filepath.Clean(event.Name) != filepath.Clean(c.path) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				continue
			}
			if !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(reloadDebounce)
		case <-timerChan(timer):
			timer = nil
			if err := c.Reload(); err != nil {
				c.logger.Warn("catalog reload failed", zap.Error(err))
			}
		}
	}
}

func timerChan(timer *time.Timer) <-chan time.Time {
	if timer == nil {
		return nil
	}
	return timer.C
}
