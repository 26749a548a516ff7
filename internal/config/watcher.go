package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ChangeHandler receives the freshly decoded features after features.yaml changes.
type ChangeHandler func(f *Features) error

// Watcher reloads features.yaml and .rego policy files on change.
type Watcher struct {
	path      string
	policyDir string
	watcher   *fsnotify.Watcher
	logger    *zap.Logger

	mu             sync.Mutex
	handlers       []ChangeHandler
	policyHandlers []func() error
	started        bool
	stopCh         chan struct{}
}

// NewWatcher watches the directory holding path. When policyDir is non-empty
// its .rego files are watched too.
func NewWatcher(path, policyDir string, logger *zap.Logger) (*Watcher, error) {
	if path == "" {
		return nil, fmt.Errorf("config path cannot be empty")
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create file watcher: %w", err)
	}
	return &Watcher{
		path:      path,
		policyDir: policyDir,
		watcher:   w,
		logger:    logger,
		stopCh:    make(chan struct{}),
	}, nil
}

// OnChange registers a handler for features.yaml changes.
func (w *Watcher) OnChange(h ChangeHandler) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.handlers = append(w.handlers, h)
}

// OnPolicyChange registers a handler for .rego file changes.
func (w *Watcher) OnPolicyChange(h func() error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.policyHandlers = append(w.policyHandlers, h)
}

// Start begins watching until ctx is cancelled or Stop is called.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return nil
	}
	w.started = true
	w.mu.Unlock()

	dirs := []string{filepath.Dir(w.path)}
	if w.policyDir != "" && filepath.Clean(w.policyDir) != filepath.Clean(dirs[0]) {
		dirs = append(dirs, w.policyDir)
	}
	for _, d := range dirs {
		if err := w.watcher.Add(d); err != nil {
			return fmt.Errorf("failed to watch %s: %w", d, err)
		}
	}

	go w.loop(ctx)

	w.logger.Info("Configuration watcher started",
		zap.String("config_path", w.path),
		zap.String("policy_dir", w.policyDir),
	)
	return nil
}

// Stop closes the underlying fsnotify watcher.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if !w.started {
		return nil
	}
	w.started = false
	close(w.stopCh)
	return w.watcher.Close()
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("Config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) handleEvent(ev fsnotify.Event) {
	if ev.Op&fsnotify.Chmod == fsnotify.Chmod && ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
		return
	}
	isConfig := filepath.Clean(ev.Name) == filepath.Clean(w.path)
	isPolicy := strings.HasSuffix(ev.Name, ".rego")
	if !isConfig && !isPolicy {
		return
	}

	w.logger.Debug("File system event",
		zap.String("file", filepath.Base(ev.Name)),
		zap.String("op", ev.Op.String()),
	)

	// editors often write in several steps
	time.Sleep(50 * time.Millisecond)

	w.mu.Lock()
	handlers := append([]ChangeHandler(nil), w.handlers...)
	policyHandlers := append([]func() error(nil), w.policyHandlers...)
	w.mu.Unlock()

	if isPolicy {
		for _, h := range policyHandlers {
			if err := h(); err != nil {
				w.logger.Error("Policy reload failed", zap.String("file", ev.Name), zap.Error(err))
			}
		}
		return
	}

	if ev.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		w.logger.Warn("Config file removed; keeping current settings", zap.String("file", ev.Name))
		return
	}

	f, err := LoadFile(w.path)
	if err != nil {
		w.logger.Error("Failed to reload config", zap.Error(err))
		return
	}
	for _, h := range handlers {
		if err := h(f); err != nil {
			w.logger.Error("Config change handler failed", zap.Error(err))
		}
	}
	w.logger.Info("Configuration reloaded", zap.String("file", ev.Name))
}
