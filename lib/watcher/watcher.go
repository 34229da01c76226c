// Package watcher observes the output root for external changes to clip
// files. The coordinator pauses it for the duration of every recording so the
// in-progress write of our own output can never be mistaken for a
// user-dropped file.
package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"github.com/mieweb/pulse-desktop/lib/events"
	"github.com/mieweb/pulse-desktop/lib/logger"
)

// Watcher reports additions and removals of clip files under the output root.
// While paused, events are still received from the OS but discarded before
// emission.
type Watcher struct {
	root    string
	bus     *events.Bus
	enabled atomic.Bool
}

func New(root string, bus *events.Bus) *Watcher {
	w := &Watcher{root: root, bus: bus}
	w.enabled.Store(true)
	return w
}

// Pause disables event emission.
func (w *Watcher) Pause() { w.enabled.Store(false) }

// Resume re-enables event emission.
func (w *Watcher) Resume() { w.enabled.Store(true) }

// Enabled reports whether events are currently emitted.
func (w *Watcher) Enabled() bool { return w.enabled.Load() }

// Serve watches the output root until ctx is cancelled. It implements
// suture.Service.
func (w *Watcher) Serve(ctx context.Context) error {
	log := logger.FromContext(ctx)

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create filesystem watcher: %w", err)
	}
	defer fw.Close()

	if err := os.MkdirAll(w.root, 0o755); err != nil {
		return fmt.Errorf("failed to create output root: %w", err)
	}
	if err := addRecursive(fw, w.root); err != nil {
		return fmt.Errorf("failed to watch output root: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}

			// new project directories must be watched even while paused, or
			// clips recorded into them later would be invisible
			if ev.Op.Has(fsnotify.Create) {
				if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
					if err := fw.Add(ev.Name); err != nil {
						log.Warn("failed to watch new directory", "err", err, "path", ev.Name)
					}
				}
			}

			if !w.enabled.Load() {
				continue
			}
			if !w.relevant(ev) {
				continue
			}
			w.bus.Emit(ctx, events.Event{Type: events.FilesystemChanged})
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			log.Warn("filesystem watcher error", "err", err)
		}
	}
}

// relevant filters to clip files and directories under the output root.
func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !strings.HasPrefix(ev.Name, w.root) {
		return false
	}
	if strings.EqualFold(filepath.Ext(ev.Name), ".mp4") {
		return true
	}
	if info, err := os.Stat(ev.Name); err == nil {
		return info.IsDir()
	}
	// removed entries can no longer be stat'ed; extensionless names were
	// project directories
	return filepath.Ext(ev.Name) == "" && ev.Op.Has(fsnotify.Remove|fsnotify.Rename)
}

// addRecursive walks the directory and registers all subdirectories.
func addRecursive(w *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.Add(path)
		}
		return nil
	})
}
