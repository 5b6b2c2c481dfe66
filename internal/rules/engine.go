package rules

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"pocketbridge/internal/logger"
)

// Engine serves rule evaluations against a hot-reloadable set. The active
// set is swapped atomically so evaluation never blocks on a reload, and a
// corrupt or missing document keeps the previous set in service.
type Engine struct {
	path   string
	active atomic.Pointer[Set]
}

// NewEngine loads the rule document at path. A missing or unparsable
// document is not fatal: the engine starts with an empty set, which
// evaluates everything to RequireConfirmation.
func NewEngine(path string) *Engine {
	e := &Engine{path: path}
	e.active.Store(&Set{})
	e.reload()
	return e
}

// Evaluate checks a command against the active rule set.
func (e *Engine) Evaluate(command string) Verdict {
	return e.active.Load().Evaluate(command)
}

func (e *Engine) reload() {
	set, err := LoadFile(e.path)
	if err != nil {
		if !os.IsNotExist(err) {
			logger.Warn("rules reload failed, keeping previous set", "path", e.path, "error", err)
		}
		return
	}
	e.active.Store(set)
	logger.Info("rules loaded", "path", e.path,
		"allow", len(set.allow), "deny", len(set.deny))
}

// Watch reloads the rule document whenever it changes, until ctx ends.
// The parent directory is watched so save-and-replace writes from editors
// are seen as well as in-place writes.
func (e *Engine) Watch(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(e.path)); err != nil {
		return err
	}

	name := filepath.Base(e.path)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Base(ev.Name) != name {
				continue
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Rename) {
				e.reload()
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			logger.Warn("rules watcher error", "error", err)
		}
	}
}

// acceptKeywords orders confirmation buttons most-conservative first.
// "Allow" grants broader permission (whole directory) and is deliberately
// never auto-clicked.
var acceptKeywords = []string{"accept", "run", "fetch"}

// PickAccept chooses the most conservative accept button from a prompt's
// button labels. Returns the index and true, or false when no label is
// safe to auto-click.
func PickAccept(labels []string) (int, bool) {
	for _, kw := range acceptKeywords {
		for i, label := range labels {
			if strings.Contains(strings.ToLower(label), kw) {
				return i, true
			}
		}
	}
	return 0, false
}
