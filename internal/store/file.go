package store

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/bytedance/sonic"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// File persists the state as one JSON object on disk. Edits made to the file by
// other processes are picked up through fsnotify and emitted as changes.
type File struct {
	path    string
	mu      sync.Mutex
	data    map[string][]byte
	bcast   *broadcaster
	watcher *fsnotify.Watcher
	logger  *zap.Logger
	done    chan struct{}
	processLock
}

// NewFile loads (or creates) the state file at path and starts watching it.
func NewFile(path string, logger *zap.Logger) (*File, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	path = expandPath(path)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create state dir: %w", err)
	}
	data, err := readStateFile(path)
	if err != nil {
		return nil, err
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	// Watch the directory: atomic renames replace the file inode.
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		_ = watcher.Close()
		return nil, fmt.Errorf("watch state dir: %w", err)
	}
	f := &File{
		path:    path,
		data:    data,
		bcast:   newBroadcaster(),
		watcher: watcher,
		logger:  logger,
		done:    make(chan struct{}),

		processLock: newProcessLock(),
	}
	go f.processEvents()
	return f, nil
}

func (f *File) Get(_ context.Context, keys ...string) (map[string][]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		if v, ok := f.data[k]; ok {
			out[k] = bytes.Clone(v)
		}
	}
	return out, nil
}

func (f *File) Set(_ context.Context, values map[string][]byte) error {
	normalized := make(map[string][]byte, len(values))
	for k, v := range values {
		if v == nil {
			normalized[k] = nil
			continue
		}
		c, err := compactJSON(v)
		if err != nil {
			return fmt.Errorf("value for %q: %w", k, err)
		}
		normalized[k] = c
	}

	f.mu.Lock()
	next := make(map[string][]byte, len(f.data)+len(normalized))
	for k, v := range f.data {
		next[k] = v
	}
	changes := applyValues(next, normalized)
	if len(changes) == 0 {
		f.mu.Unlock()
		return nil
	}
	if err := writeStateFile(f.path, next); err != nil {
		f.mu.Unlock()
		return err
	}
	f.data = next
	f.mu.Unlock()

	f.bcast.publish(changes)
	return nil
}

func (f *File) Watch(ctx context.Context) (<-chan Change, error) {
	return f.bcast.subscribe(ctx)
}

func (f *File) Close() error {
	select {
	case <-f.done:
		return nil
	default:
		close(f.done)
	}
	err := f.watcher.Close()
	f.bcast.close()
	return err
}

func (f *File) processEvents() {
	for {
		select {
		case <-f.done:
			return
		case event, ok := <-f.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != f.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename|fsnotify.Remove) == 0 {
				continue
			}
			f.reload()
		case err, ok := <-f.watcher.Errors:
			if !ok {
				return
			}
			f.logger.Warn("state file watch error", zap.Error(err))
		}
	}
}

// reload re-reads the file and publishes whatever differs from the last known content.
// Our own writes leave nothing to diff.
func (f *File) reload() {
	if info, err := os.Stat(f.path); err == nil && info.Size() == 0 {
		return // truncated mid-write; the following write event reloads
	}
	f.mu.Lock()
	next, err := readStateFile(f.path)
	if err != nil {
		f.mu.Unlock()
		f.logger.Warn("reload state file", zap.String("path", f.path), zap.Error(err))
		return
	}
	changes := diffMaps(f.data, next)
	f.data = next
	f.mu.Unlock()
	if len(changes) > 0 {
		f.logger.Debug("state file changed externally", zap.Int("keys", len(changes)))
	}
	f.bcast.publish(changes)
}

func readStateFile(path string) (map[string][]byte, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return make(map[string][]byte), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read state file: %w", err)
	}
	out := make(map[string][]byte)
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	var doc map[string]json.RawMessage
	if err := sonic.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}
	for k, v := range doc {
		c, err := compactJSON(v)
		if err != nil {
			return nil, fmt.Errorf("decode state key %q: %w", k, err)
		}
		out[k] = c
	}
	return out, nil
}

func writeStateFile(path string, data map[string][]byte) error {
	doc := make(map[string]json.RawMessage, len(data))
	for k, v := range data {
		doc[k] = v
	}
	raw, err := sonic.ConfigStd.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state file: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".state-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	if _, err := tmp.Write(raw); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("write temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("close temp state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return fmt.Errorf("replace state file: %w", err)
	}
	return nil
}

func compactJSON(v []byte) ([]byte, error) {
	var buf bytes.Buffer
	if err := json.Compact(&buf, v); err != nil {
		return nil, fmt.Errorf("invalid json: %w", err)
	}
	return buf.Bytes(), nil
}

func expandPath(path string) string {
	if len(path) > 1 && path[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			path = filepath.Join(home, path[2:])
		}
	}
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}
