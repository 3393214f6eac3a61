package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/veridianlabs/storycore/internal/actor"
	"github.com/veridianlabs/storycore/internal/executor"
)

// narrativeWatchDebounce coalesces a burst of writes from an editor or a
// `cp -r` of an updated narrative set into a single reload.
const narrativeWatchDebounce = 250 * time.Millisecond

// narrativeWatcher watches a narratives directory and reloads narrativeRunner
// and the registered NarrativeSkills whenever a *.toml document under it
// changes, so an operator can add or edit a narrative without restarting the
// process.
type narrativeWatcher struct {
	dir      string
	runner   *narrativeRunner
	skills   *actor.Registry
	executor *executor.Executor

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// newNarrativeWatcher returns a watcher for dir, or nil if dir is empty
// (no narratives directory configured means nothing to watch).
func newNarrativeWatcher(dir string, runner *narrativeRunner, skills *actor.Registry, exec *executor.Executor) (*narrativeWatcher, error) {
	if dir == "" {
		return nil, nil
	}
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		w.Close()
		return nil, err
	}
	return &narrativeWatcher{dir: dir, runner: runner, skills: skills, executor: exec, watcher: w}, nil
}

// Start runs the watch loop until ctx is cancelled or Close is called.
func (nw *narrativeWatcher) Start(ctx context.Context) {
	watchCtx, cancel := context.WithCancel(ctx)
	nw.cancel = cancel
	nw.wg.Add(1)
	go nw.loop(watchCtx)
}

func (nw *narrativeWatcher) loop(ctx context.Context) {
	defer nw.wg.Done()

	var mu sync.Mutex
	var timer *time.Timer
	scheduleReload := func() {
		mu.Lock()
		defer mu.Unlock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(narrativeWatchDebounce, nw.reload)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-nw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				scheduleReload()
			}
		case err, ok := <-nw.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("narrative watch error", "error", err)
		}
	}
}

func (nw *narrativeWatcher) reload() {
	narratives, err := loadNarratives(nw.dir)
	if err != nil {
		slog.Warn("narrative reload failed, keeping previous set", "dir", nw.dir, "error", err)
		return
	}
	nw.runner.Reload(narratives)
	registerNarrativeSkills(nw.skills, narratives, nw.executor)
	slog.Info("narratives reloaded", "dir", nw.dir, "count", len(narratives))
}

// Close stops the watch loop and releases the underlying inotify handle.
func (nw *narrativeWatcher) Close() error {
	if nw.cancel != nil {
		nw.cancel()
	}
	nw.wg.Wait()
	return nw.watcher.Close()
}
