package watcher

import (
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// notify subscribes to filesystem events on the config directory. A nil
// channel means polling only.
func (w *Watcher) notify() (<-chan struct{}, func()) {
	if w.opts.DisableNotify {
		return nil, func() {}
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn("fsnotify unavailable, polling only", "error", err)
		return nil, func() {}
	}
	if err := fw.Add(w.opts.Dir); err != nil {
		_ = fw.Close()
		w.log.Warn("cannot watch config directory, polling only", "error", err)
		return nil, func() {}
	}
	ch := make(chan struct{}, 1)
	go func() {
		for {
			select {
			case ev, ok := <-fw.Events:
				if !ok {
					return
				}
				if !w.relevant(filepath.Base(ev.Name)) || ev.Op == fsnotify.Chmod {
					continue
				}
				select {
				case ch <- struct{}{}:
				default:
				}
			case err, ok := <-fw.Errors:
				if !ok {
					return
				}
				w.log.Debug("fsnotify error", "error", err)
			}
		}
	}()
	return ch, func() { _ = fw.Close() }
}
