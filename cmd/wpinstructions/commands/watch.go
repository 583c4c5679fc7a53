package commands

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// scriptWatcher runs a function once and again after every change to path.
type scriptWatcher struct {
	path   string
	delay  time.Duration
	logger zerolog.Logger
}

// Watch calls run immediately and after each burst of changes to the file,
// until ctx is cancelled. Runs never overlap. Run errors are logged, not
// returned.
func (w *scriptWatcher) Watch(ctx context.Context, run func(context.Context) error) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	// Editors often replace the file, so the directory is watched.
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", w.path, err)
	}

	delay := w.delay
	if delay == 0 {
		delay = 500 * time.Millisecond
	}

	w.runOnce(ctx, run)
	w.logger.Info().Str("file", w.path).Msg("Watching instruction file for changes")

	timer := time.NewTimer(delay)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			w.logger.Debug().
				Str("file", event.Name).
				Str("op", event.Op.String()).
				Msg("Instruction file changed")
			timer.Reset(delay)

		case <-timer.C:
			w.runOnce(ctx, run)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn().Err(err).Msg("File watcher error")
		}
	}
}

func (w *scriptWatcher) runOnce(ctx context.Context, run func(context.Context) error) {
	if err := run(ctx); err != nil {
		w.logger.Error().Err(err).Msg("Run failed")
		return
	}
	w.logger.Info().Msg("Run succeeded")
}
