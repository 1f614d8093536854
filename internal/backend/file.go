package backend

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"github.com/fsnotify/fsnotify"
	yaml "gopkg.in/yaml.v3"

	"github.com/jupyterhub/traefik-routing-controller/internal/ctlerrors"
	"github.com/jupyterhub/traefik-routing-controller/internal/document"
)

// FileBackend persists the full dynamic document as a single TOML or YAML
// file, chosen by the file's extension, written atomically via a temp file
// in the same directory followed by os.Rename. Grounded on the teacher's
// internal/container/traefik.go load/save pattern, generalized from a
// fixed YAML schema to the generic document model and from YAML-only to
// TOML+YAML.
type FileBackend struct {
	path   string
	logger *slog.Logger

	mu  sync.Mutex
	doc document.Document
}

// NewFileBackend loads (or creates) the document at path.
func NewFileBackend(path string, logger *slog.Logger) (*FileBackend, error) {
	fb := &FileBackend{path: path, logger: logger, doc: document.Document{}}
	if err := fb.load(); err != nil {
		return nil, err
	}
	return fb, nil
}

func (fb *FileBackend) isTOML() bool {
	return !strings.HasSuffix(strings.ToLower(fb.path), ".yaml") &&
		!strings.HasSuffix(strings.ToLower(fb.path), ".yml")
}

func (fb *FileBackend) load() error {
	data, err := os.ReadFile(fb.path)
	if os.IsNotExist(err) {
		fb.doc = document.Document{}
		return nil
	}
	if err != nil {
		return fmt.Errorf("filebackend: read %s: %w", fb.path, err)
	}

	doc := document.Document{}
	if fb.isTOML() {
		if err := toml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("filebackend: unmarshal toml %s: %w", fb.path, err)
		}
	} else {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("filebackend: unmarshal yaml %s: %w", fb.path, err)
		}
	}
	fb.doc = doc
	return nil
}

// save writes fb.doc to a temp file in the same directory, then renames it
// over fb.path — the standard atomic-replace idiom.
func (fb *FileBackend) save() error {
	var data []byte
	var err error
	if fb.isTOML() {
		data, err = toml.Marshal(fb.doc)
	} else {
		data, err = yaml.Marshal(fb.doc)
	}
	if err != nil {
		return fmt.Errorf("filebackend: marshal %s: %w", fb.path, err)
	}

	dir := filepath.Dir(fb.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("filebackend: mkdir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*-"+filepath.Base(fb.path))
	if err != nil {
		return fmt.Errorf("filebackend: create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath) // no-op once the rename below succeeds

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("filebackend: write temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("filebackend: close temp file: %w", err)
	}
	if err := os.Rename(tmpPath, fb.path); err != nil {
		return fmt.Errorf("filebackend: rename into place: %w", err)
	}
	return nil
}

func (fb *FileBackend) AtomicSet(ctx context.Context, kv map[string]string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	pairs := document.Flatten(fb.doc)
	merged := map[string]string{}
	for _, p := range pairs {
		merged[strings.Join(p.Path, "/")] = document.Stringify(p.Value)
	}
	for k, v := range kv {
		merged[k] = v
	}
	fb.doc = document.UnflattenFromStrings(merged)
	if err := fb.save(); err != nil {
		return ctlerrors.New("file.AtomicSet", ctlerrors.BackendUnavailable, "", err)
	}
	return nil
}

func (fb *FileBackend) AtomicDelete(ctx context.Context, keys []string) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	pairs := document.Flatten(fb.doc)
	remaining := map[string]string{}
	toDelete := make(map[string]bool, len(keys))
	for _, k := range keys {
		toDelete[k] = true
	}
	for _, p := range pairs {
		joined := strings.Join(p.Path, "/")
		deleted := false
		for prefix := range toDelete {
			if joined == prefix || strings.HasPrefix(joined, prefix+"/") {
				deleted = true
				break
			}
		}
		if !deleted {
			remaining[joined] = document.Stringify(p.Value)
		}
	}
	fb.doc = document.UnflattenFromStrings(remaining)
	if err := fb.save(); err != nil {
		return ctlerrors.New("file.AtomicDelete", ctlerrors.BackendUnavailable, "", err)
	}
	return nil
}

func (fb *FileBackend) GetTree(ctx context.Context, prefix string) (map[string]string, error) {
	fb.mu.Lock()
	defer fb.mu.Unlock()

	out := map[string]string{}
	for _, p := range document.Flatten(fb.doc) {
		joined := strings.Join(p.Path, "/")
		if strings.HasPrefix(joined, prefix) {
			out[joined] = document.Stringify(p.Value)
		}
	}
	return out, nil
}

func (fb *FileBackend) Close() error { return nil }

// ReplaceAll overwrites the entire document and saves it. Nothing in
// the controller calls it; Controller.Start rebuilds its cache from the
// index sub-tree via GetTree instead.
func (fb *FileBackend) ReplaceAll(doc document.Document) error {
	fb.mu.Lock()
	defer fb.mu.Unlock()
	fb.doc = doc
	return fb.save()
}

// Watch notifies on every modification to fb.path, preferring a native
// filesystem notification (fsnotify, carried from the teacher's
// internal/templates/loader.go) and falling back to mtime polling if the
// watcher fails to start, per spec §4.3/§9.
func (fb *FileBackend) Watch(ctx context.Context, prefix string) (<-chan ChangeEvent, error) {
	ch := make(chan ChangeEvent, 1)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		fb.logger.Warn("filebackend: fsnotify unavailable, falling back to mtime polling",
			slog.String("error", err.Error()))
		go fb.pollMtime(ctx, ch)
		return ch, nil
	}
	if err := watcher.Add(filepath.Dir(fb.path)); err != nil {
		watcher.Close()
		fb.logger.Warn("filebackend: fsnotify.Add failed, falling back to mtime polling",
			slog.String("error", err.Error()))
		go fb.pollMtime(ctx, ch)
		return ch, nil
	}

	go func() {
		defer watcher.Close()
		defer close(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(ev.Name) == filepath.Clean(fb.path) {
					select {
					case ch <- ChangeEvent{Key: prefix}:
					default:
					}
				}
			case werr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				fb.logger.Warn("filebackend: watch error", slog.String("error", werr.Error()))
			}
		}
	}()
	return ch, nil
}

func (fb *FileBackend) pollMtime(ctx context.Context, ch chan<- ChangeEvent) {
	defer close(ch)
	var lastMod time.Time
	if info, err := os.Stat(fb.path); err == nil {
		lastMod = info.ModTime()
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(fb.path)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastMod) {
				lastMod = info.ModTime()
				select {
				case ch <- ChangeEvent{Key: fb.path}:
				default:
				}
			}
		}
	}
}
