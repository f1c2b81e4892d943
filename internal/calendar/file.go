package calendar

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

// fileDoc is the on-disk layout: {"events": [...]}.
type fileDoc struct {
	Events []Meeting `json:"events" yaml:"events"`
}

// FileSource reads meetings from a local JSON or YAML file and reloads it
// when the file changes.
type FileSource struct {
	path   string
	logger *zap.Logger

	mu       sync.RWMutex
	meetings []Meeting
	loadErr  error

	watchMu sync.Mutex
	watcher *fsnotify.Watcher
	stopCh  chan struct{}
	doneCh  chan struct{}
}

var _ Source = (*FileSource)(nil)

// NewFileSource creates a source for path and performs an initial load.
// A missing file yields an empty calendar.
func NewFileSource(path string, logger *zap.Logger) *FileSource {
	fs := &FileSource{path: path, logger: logger}
	if err := fs.Reload(); err != nil {
		logger.Warn("calendar load failed", zap.String("path", path), zap.Error(err))
	}
	return fs
}

// Reload re-reads the file. On a parse error the previous meetings are kept.
func (fs *FileSource) Reload() error {
	meetings, err := readFile(fs.path)
	fs.mu.Lock()
	defer fs.mu.Unlock()
	fs.loadErr = err
	if err != nil {
		return err
	}
	fs.meetings = meetings
	fs.logger.Debug("calendar loaded", zap.String("path", fs.path), zap.Int("meetings", len(meetings)))
	return nil
}

// Meetings returns meetings starting in [from, to). The last load error is
// returned alongside the last good data.
func (fs *FileSource) Meetings(_ context.Context, from, to time.Time) ([]Meeting, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()
	return inRange(fs.meetings, from, to), fs.loadErr
}

func readFile(path string) ([]Meeting, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return []Meeting{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read calendar: %w", err)
	}
	var doc fileDoc
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	default:
		err = json.Unmarshal(data, &doc)
	}
	if err != nil {
		return nil, fmt.Errorf("parse calendar %s: %w", path, err)
	}
	if doc.Events == nil {
		doc.Events = []Meeting{}
	}
	return doc.Events, nil
}

// Watch starts reloading on changes to the file. The parent directory is
// watched so that editors that replace the file by rename are handled.
func (fs *FileSource) Watch(ctx context.Context) error {
	fs.watchMu.Lock()
	defer fs.watchMu.Unlock()
	if fs.watcher != nil {
		return nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	dir := filepath.Dir(fs.path)
	if err := w.Add(dir); err != nil {
		w.Close()
		return fmt.Errorf("watch %s: %w", dir, err)
	}
	fs.watcher = w
	fs.stopCh = make(chan struct{})
	fs.doneCh = make(chan struct{})
	go fs.run(ctx, w, fs.stopCh, fs.doneCh)
	fs.logger.Info("watching calendar", zap.String("path", fs.path))
	return nil
}

// Stop ends Watch and waits for the watcher goroutine to exit.
func (fs *FileSource) Stop() {
	fs.watchMu.Lock()
	defer fs.watchMu.Unlock()
	if fs.watcher == nil {
		return
	}
	close(fs.stopCh)
	<-fs.doneCh
	if err := fs.watcher.Close(); err != nil {
		fs.logger.Warn("close calendar watcher", zap.Error(err))
	}
	fs.watcher = nil
}

func (fs *FileSource) run(ctx context.Context, w *fsnotify.Watcher, stop, done chan struct{}) {
	defer close(done)
	target := filepath.Clean(fs.path)
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case ev, ok := <-w.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != target {
				continue
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Rename) && !ev.Has(fsnotify.Remove) {
				continue
			}
			if err := fs.Reload(); err != nil {
				fs.logger.Warn("calendar reload failed", zap.String("path", fs.path), zap.Error(err))
			}
		case err, ok := <-w.Errors:
			if !ok {
				return
			}
			fs.logger.Error("calendar watcher", zap.Error(err))
		}
	}
}
