package loader

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watch loads dir and then applies file changes to the registry until ctx is
// cancelled: created or modified files are reloaded, removed or renamed files
// have their definitions deleted. Bursts of events for the same file are
// collapsed into one reload after the debounce period.
func (l *Loader) Watch(ctx context.Context, dir string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	dir = filepath.Clean(dir)
	if err := watcher.Add(dir); err != nil {
		return fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	if _, err := l.LoadDir(ctx, dir); err != nil {
		return err
	}
	l.logger.Info("watching definitions directory", slog.String("dir", dir))

	pending := make(map[string]struct{})
	timer := time.NewTimer(l.debounce)
	timer.Stop()

	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !IsDefinitionFile(event.Name) || event.Op == fsnotify.Chmod {
				continue
			}
			pending[event.Name] = struct{}{}
			timer.Reset(l.debounce)

		case <-timer.C:
			for path := range pending {
				l.apply(ctx, path)
			}
			clear(pending)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			l.logger.Warn("watcher error", slog.String("error", err.Error()))
		}
	}
}

func (l *Loader) apply(ctx context.Context, path string) {
	if _, err := os.Stat(path); errors.Is(err, fs.ErrNotExist) {
		l.Forget(ctx, path)
		return
	}

	n, err := l.LoadPath(ctx, path)
	if err != nil {
		l.logger.Warn("could not reload definition file",
			slog.String("file", filepath.Base(path)),
			slog.String("error", err.Error()))
		return
	}
	l.logger.Info("reloaded definition file",
		slog.String("file", filepath.Base(path)),
		slog.Int("definitions", n))
}
