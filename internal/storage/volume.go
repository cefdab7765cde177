// Package storage reports usage for the directory that stands in for the
// device's flash filesystem.
package storage

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// Volume answers FSSIZE/FSUSED/FSFREE. With a capacity the volume behaves
// like a fixed-size partition whose usage is the sum of the files under
// root. Without one the host filesystem holding root is reported.
type Volume struct {
	root     string
	capacity int64
	log      *zap.Logger

	watcher *fsnotify.Watcher
	done    chan struct{}

	mu    sync.Mutex
	used  int64
	valid bool
	gen   uint64 // bumped on every change event
}

// Open creates root if needed and starts watching it when capacity > 0.
func Open(root string, capacity int64, log *zap.Logger) (*Volume, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create volume root: %w", err)
	}
	v := &Volume{root: root, capacity: capacity, log: log, done: make(chan struct{})}
	if capacity <= 0 {
		close(v.done)
		return v, nil
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch volume: %w", err)
	}
	v.watcher = w
	if err := v.watchTree(root); err != nil {
		w.Close()
		return nil, err
	}
	go v.watch()
	return v, nil
}

// Root is the backing directory.
func (v *Volume) Root() string {
	return v.root
}

// Close stops the watcher.
func (v *Volume) Close() error {
	if v.watcher == nil {
		return nil
	}
	err := v.watcher.Close()
	<-v.done
	return err
}

// Total is the volume size in bytes.
func (v *Volume) Total() (int64, error) {
	if v.capacity > 0 {
		return v.capacity, nil
	}
	total, _, err := statfs(v.root)
	return total, err
}

// Used is the number of bytes in use.
func (v *Volume) Used() (int64, error) {
	if v.capacity <= 0 {
		total, free, err := statfs(v.root)
		if err != nil {
			return 0, err
		}
		return total - free, nil
	}

	v.mu.Lock()
	if v.valid {
		used := v.used
		v.mu.Unlock()
		return used, nil
	}
	gen := v.gen
	v.mu.Unlock()

	used, err := dirSize(v.root)
	if err != nil {
		return 0, err
	}
	v.mu.Lock()
	if v.gen == gen {
		v.used, v.valid = used, true
	}
	v.mu.Unlock()
	return used, nil
}

// Free is Total minus Used, never negative.
func (v *Volume) Free() (int64, error) {
	total, err := v.Total()
	if err != nil {
		return 0, err
	}
	used, err := v.Used()
	if err != nil {
		return 0, err
	}
	return max(0, total-used), nil
}

func (v *Volume) invalidate() {
	v.mu.Lock()
	v.valid = false
	v.gen++
	v.mu.Unlock()
}

func (v *Volume) watchTree(root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if err := v.watcher.Add(path); err != nil {
				return fmt.Errorf("watch %s: %w", path, err)
			}
		}
		return nil
	})
}

func (v *Volume) watch() {
	defer close(v.done)
	for {
		select {
		case ev, ok := <-v.watcher.Events:
			if !ok {
				return
			}
			v.invalidate()
			if ev.Has(fsnotify.Create) {
				if fi, err := os.Stat(ev.Name); err == nil && fi.IsDir() {
					if err := v.watchTree(ev.Name); err != nil {
						v.log.Warn("watch new directory", zap.String("path", ev.Name), zap.Error(err))
					}
				}
			}
		case err, ok := <-v.watcher.Errors:
			if !ok {
				return
			}
			v.invalidate()
			v.log.Warn("volume watcher", zap.Error(err))
		}
	}
}

func dirSize(root string) (int64, error) {
	var n int64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.Type().IsRegular() {
			fi, err := d.Info()
			if err != nil {
				return err
			}
			n += fi.Size()
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("measure volume: %w", err)
	}
	return n, nil
}
