package mergecoord

import (
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ironham/conductor/internal/logging"
)

// debounceWindow coalesces the burst of write events a single conflict-file
// save produces (many editors write twice), mirroring the teacher's
// conflict.Detector debounce timer.
const debounceWindow = 200 * time.Millisecond

// conflictWatcher watches a worktree during the slow-path agent conflict
// resolution (spec.md §4.G.5 step 3) so the coordinator can wake up on a
// file write instead of polling the conflict-marker scan on a tight loop.
// Grounded on Iron-Ham/claudio's internal/conflict.Detector watch loop:
// recursive fsnotify.Add skipping .git, a debounce timer, and a stop
// channel — generalized from cross-instance conflict tracking down to a
// single boolean "something changed, go rescan" signal.
type conflictWatcher struct {
	watcher *fsnotify.Watcher
	changed chan struct{}
	stopCh  chan struct{}
	logger  *logging.Logger
}

func newConflictWatcher(root string, logger *logging.Logger) (*conflictWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	cw := &conflictWatcher{
		watcher: w,
		changed: make(chan struct{}, 1),
		stopCh:  make(chan struct{}),
		logger:  logger,
	}

	if err := cw.addRecursive(root); err != nil {
		_ = w.Close()
		return nil, err
	}

	go cw.loop()
	return cw, nil
}

func (cw *conflictWatcher) addRecursive(root string) error {
	return filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil
		}
		if info.IsDir() {
			if filepath.Base(path) == ".git" {
				return filepath.SkipDir
			}
			_ = cw.watcher.Add(path)
		}
		return nil
	})
}

func (cw *conflictWatcher) loop() {
	debounce := time.NewTimer(0)
	<-debounce.C

	for {
		select {
		case <-cw.stopCh:
			debounce.Stop()
			return

		case event, ok := <-cw.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			debounce.Reset(debounceWindow)

		case <-debounce.C:
			select {
			case cw.changed <- struct{}{}:
			default:
			}

		case err, ok := <-cw.watcher.Errors:
			if !ok {
				return
			}
			if cw.logger != nil {
				cw.logger.Debug("conflict watcher error", "error", err.Error())
			}
		}
	}
}

// Changed signals once (coalesced) after a debounced burst of writes under
// the watched root.
func (cw *conflictWatcher) Changed() <-chan struct{} {
	return cw.changed
}

func (cw *conflictWatcher) Close() {
	close(cw.stopCh)
	_ = cw.watcher.Close()
}
