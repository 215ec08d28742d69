package courier

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
)

// SourceWatcher watches an intake directory for dropped supplier files
// and triggers OnFile for each one, as an alternative to an explicit
// Enqueue call when a supplier's upstream system writes directly into the
// shared intake path instead of exposing a pollable URL.
type SourceWatcher struct {
	watcher *fsnotify.Watcher
	onFile  func(path string)

	wg sync.WaitGroup
}

func NewSourceWatcher(intakeDir string, onFile func(path string)) (*SourceWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(intakeDir); err != nil {
		w.Close()
		return nil, err
	}
	return &SourceWatcher{watcher: w, onFile: onFile}, nil
}

var watchedExts = map[string]bool{".xlsx": true, ".xls": true, ".csv": true, ".pdf": true}

// Run processes events until ctx is cancelled.
func (s *SourceWatcher) Run(ctx context.Context) {
	s.wg.Add(1)
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.handle(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			slog.Warn("courier: watcher error", "error", err)
		}
	}
}

func (s *SourceWatcher) handle(event fsnotify.Event) {
	if event.Op&(fsnotify.Create|fsnotify.Rename) == 0 {
		return
	}
	ext := strings.ToLower(filepath.Ext(event.Name))
	if !watchedExts[ext] {
		return
	}
	// A bare create/rename can race a still-in-progress write from the
	// upstream writer; the sidecar-driven Acquirer.Stage path is what
	// guarantees atomicity, this only decides when to kick it off.
	s.onFile(event.Name)
}

func (s *SourceWatcher) Close() error {
	err := s.watcher.Close()
	s.wg.Wait()
	return err
}
