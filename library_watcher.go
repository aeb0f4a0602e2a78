package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// watchDebounce is how long a file must stay quiet before it is imported.
const watchDebounce = 2 * time.Second

type libraryWatcher struct {
	watcher *fsnotify.Watcher
	mu      sync.Mutex
	pending map[string]*time.Timer
	done    chan struct{}
}

var libraryWatch *libraryWatcher

func newLibraryWatcher() (*libraryWatcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	return &libraryWatcher{watcher: w, pending: map[string]*time.Timer{}, done: make(chan struct{})}, nil
}

// startLibraryWatcher watches every registered library path recursively.
func startLibraryWatcher() error {
	lw, err := newLibraryWatcher()
	if err != nil {
		return err
	}
	libraryWatch = lw
	go lw.run()
	refreshLibraryWatch()
	return nil
}

// refreshLibraryWatch re-adds the current library roots; a no-op when watching is disabled.
func refreshLibraryWatch() {
	if libraryWatch == nil {
		return
	}
	paths, err := listLibraryPaths(db)
	if err != nil {
		logger.WithError(err).Warn("Could not load library paths for watcher")
		return
	}
	for _, p := range paths {
		if err := libraryWatch.addTree(p.Path); err != nil {
			logger.WithError(err).WithField("path", p.Path).Warn("Could not watch library path")
		}
	}
}

func (lw *libraryWatcher) addTree(root string) error {
	return filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return lw.watcher.Add(path)
		}
		return nil
	})
}

func (lw *libraryWatcher) run() {
	for {
		select {
		case event, ok := <-lw.watcher.Events:
			if !ok {
				return
			}
			lw.handle(event)
		case err, ok := <-lw.watcher.Errors:
			if !ok {
				return
			}
			logger.WithError(err).Error("Library watcher error")
		case <-lw.done:
			return
		}
	}
}

func (lw *libraryWatcher) handle(event fsnotify.Event) {
	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || strings.HasSuffix(name, ".tmp") {
		return
	}
	isAudio := appConfig.IsFormatSupported(filepath.Ext(event.Name))

	switch {
	case isAudio && (event.Has(fsnotify.Create) || event.Has(fsnotify.Write)):
		lw.schedule(event.Name)
	case isAudio && (event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)):
		lw.cancel(event.Name)
		removeTrackByPath(event.Name)
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := lw.addTree(event.Name); err != nil {
				logger.WithError(err).WithField("directory", event.Name).Warn("Could not watch new directory")
			}
		}
	}
}

// schedule (re)starts the debounce timer for path; writes in progress keep pushing it back.
func (lw *libraryWatcher) schedule(path string) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if t, ok := lw.pending[path]; ok {
		t.Reset(watchDebounce)
		return
	}
	lw.pending[path] = time.AfterFunc(watchDebounce, func() {
		lw.mu.Lock()
		delete(lw.pending, path)
		lw.mu.Unlock()
		importWatchedFile(path)
	})
}

func (lw *libraryWatcher) cancel(path string) {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	if t, ok := lw.pending[path]; ok {
		t.Stop()
		delete(lw.pending, path)
	}
}

func (lw *libraryWatcher) Close() error {
	lw.mu.Lock()
	for p, t := range lw.pending {
		t.Stop()
		delete(lw.pending, p)
	}
	lw.mu.Unlock()
	close(lw.done)
	return lw.watcher.Close()
}

func importWatchedFile(path string) {
	added, err := importFile(context.Background(), path)
	if err != nil {
		logger.WithError(err).WithField("file", path).Warn("Could not import new file")
		return
	}
	if added {
		logger.WithField("file", path).Info("Added track from library watcher")
	}
}

func removeTrackByPath(path string) {
	res, err := db.Exec(`DELETE FROM tracks WHERE path = ?`, path)
	if err != nil {
		logger.WithError(err).WithField("file", path).Error("Error removing track")
		return
	}
	if n, _ := res.RowsAffected(); n > 0 {
		logger.WithFields(logrus.Fields{"file": path, "tracks": n}).Info("Removed track for deleted file")
	}
}
