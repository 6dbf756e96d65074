package keys

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/platinummonkey/idsite/pkg/idsite"
	"github.com/platinummonkey/idsite/pkg/observability"
)

// DefaultReloadDelay debounces bursts of file events into one reload.
const DefaultReloadDelay = 500 * time.Millisecond

// secretMountData is the symlink a Kubernetes secret or configMap volume swaps
// on update. The key file itself is a symlink through it and sees no event.
const secretMountData = "..data"

// FileResolver serves the API key stored in an apiKey.properties file and
// reloads it when the file changes. A failed reload keeps the previous key.
type FileResolver struct {
	path    string
	logger  *observability.Logger
	metrics *observability.Metrics
	delay   time.Duration

	mu  sync.RWMutex
	key idsite.KeyPair
}

// NewFileResolver loads the key at path.
func NewFileResolver(path string, logger *observability.Logger, metrics *observability.Metrics) (*FileResolver, error) {
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, nil)
	}
	r := &FileResolver{
		path:    path,
		logger:  logger.WithField("key_file", path),
		metrics: metrics,
		delay:   DefaultReloadDelay,
	}
	key, err := r.read()
	if err != nil {
		return nil, err
	}
	r.key = key
	return r, nil
}

// SigningKey implements idsite.KeyResolver.
func (r *FileResolver) SigningKey(context.Context) (idsite.KeyPair, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.key, nil
}

func (r *FileResolver) read() (idsite.KeyPair, error) {
	f, err := os.Open(r.path)
	if err != nil {
		return idsite.KeyPair{}, fmt.Errorf("failed to open key file: %w", err)
	}
	defer f.Close()

	key, err := ParseProperties(f)
	if err != nil {
		return idsite.KeyPair{}, fmt.Errorf("invalid key file %s: %w", r.path, err)
	}
	return key, nil
}

// Reload re-reads the key file.
func (r *FileResolver) Reload() error {
	key, err := r.read()
	if err != nil {
		r.recordReload("error")
		r.logger.WithError(err).Warn("Key reload failed, keeping previous key")
		return err
	}

	r.mu.Lock()
	changed := key.ID != r.key.ID
	r.key = key
	r.mu.Unlock()

	r.recordReload("ok")
	r.logger.WithField("key_id", key.ID).WithField("rotated", changed).Info("API key reloaded")
	return nil
}

func (r *FileResolver) recordReload(result string) {
	if r.metrics != nil {
		r.metrics.KeyReloadsTotal.WithLabelValues(result).Inc()
	}
}

// Watch reloads the key whenever the file is written, created or renamed into
// place, until ctx is done. The parent directory is watched so editors that
// replace the file atomically are seen, as is the ..data swap of a mounted
// Kubernetes secret.
func (r *FileResolver) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(r.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch %s: %w", filepath.Dir(r.path), err)
	}

	go r.watch(ctx, watcher)
	return nil
}

func (r *FileResolver) watch(ctx context.Context, watcher *fsnotify.Watcher) {
	defer watcher.Close()

	target := filepath.Clean(r.path)
	var timer *time.Timer
	var fire <-chan time.Time

	for {
		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			name := filepath.Clean(event.Name)
			if name != target && filepath.Base(name) != secretMountData {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(r.delay)
			} else {
				timer.Reset(r.delay)
			}
			fire = timer.C
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			r.logger.WithError(err).Warn("Key file watcher error")
		case <-fire:
			fire = nil
			timer = nil
			_ = r.Reload()
		}
	}
}
