package auth

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
)

// CredentialWatcher watches the credential file for external changes and
// invokes callbacks so a long-running process can pick up logins and logouts
// performed by another invocation sharing the same auth file.
//
// The parent directory is watched rather than the file itself, so atomic
// rename-into-place writes are observed too.
type CredentialWatcher struct {
	path     string
	onChange func()
	onRemove func()

	mu      sync.Mutex
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewCredentialWatcher creates a watcher for the credential file at path.
// onChange fires after the file is written or created; onRemove fires after
// it is removed or renamed away. Either callback may be nil.
func NewCredentialWatcher(path string, onChange, onRemove func()) *CredentialWatcher {
	return &CredentialWatcher{
		path:     filepath.Clean(path),
		onChange: onChange,
		onRemove: onRemove,
	}
}

// Start begins watching. It fails when the parent directory does not exist.
func (w *CredentialWatcher) Start() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher != nil {
		return fmt.Errorf("masto auth: credential watcher already running")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("masto auth: create watcher failed: %w", err)
	}
	if err = watcher.Add(filepath.Dir(w.path)); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("masto auth: watch %s failed: %w", filepath.Dir(w.path), err)
	}

	w.watcher = watcher
	w.done = make(chan struct{})
	go w.loop(watcher, w.done)
	return nil
}

// Stop terminates the watcher. It is safe to call when not running.
func (w *CredentialWatcher) Stop() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.watcher == nil {
		return
	}
	close(w.done)
	_ = w.watcher.Close()
	w.watcher = nil
	w.done = nil
}

func (w *CredentialWatcher) loop(watcher *fsnotify.Watcher, done chan struct{}) {
	for {
		select {
		case <-done:
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			switch {
			case event.Op&(fsnotify.Write|fsnotify.Create) != 0:
				log.WithField("path", w.path).Debug("credential file changed externally")
				if w.onChange != nil {
					w.onChange()
				}
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				log.WithField("path", w.path).Debug("credential file removed externally")
				if w.onRemove != nil {
					w.onRemove()
				}
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			log.Warnf("credential watcher error: %v", err)
		}
	}
}
