package inspect

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/teslashibe/go-inspect/pkg/bridge"
)

// reloadDebounce collapses the burst of events an editor produces on save.
var reloadDebounce = 500 * time.Millisecond

const scriptOps = fsnotify.Write | fsnotify.Create | fsnotify.Rename

// watchScript restarts the inference process when script changes on disk.
// The parent directory is watched so editors that save by rename are seen.
// A stopped process stays stopped.
func (a *App) watchScript(ctx context.Context, script string, debounce time.Duration) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		a.logger.Error("script watcher failed", "error", err)
		return
	}
	defer watcher.Close()

	script = filepath.Clean(script)
	if err := watcher.Add(filepath.Dir(script)); err != nil {
		a.logger.Error("script watch error", "path", script, "error", err)
		return
	}
	a.logger.Info("watching inference script", "path", script)

	timer := time.NewTimer(debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != script || event.Op&scriptOps == 0 {
				continue
			}
			timer.Reset(debounce)
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			a.logger.Warn("script watcher", "error", err)
		case <-timer.C:
			a.reloadScript(ctx, script)
		}
	}
}

func (a *App) reloadScript(ctx context.Context, script string) {
	if a.bridge.State() != bridge.StateRunning {
		a.logger.Debug("script changed, process not running", "path", script)
		return
	}
	a.sink.Log(bridge.TagInfo, fmt.Sprintf("%s changed, restarting", filepath.Base(script)))
	if err := a.bridge.Restart(ctx); err != nil {
		a.sink.Log(bridge.TagError, fmt.Sprintf("restart failed: %v", err))
	}
}
