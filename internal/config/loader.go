package config

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"

	"beamauto/internal/logging"
)

// LoaderConfig configures a new Loader.
type LoaderConfig struct {
	Logger *slog.Logger

	// Path is the topology JSON file. If it doesn't exist, DefaultTopology
	// is written there on first Load.
	Path string
}

// Loader reads a Topology from disk and hot-reloads it on file change,
// matching internal/cert.Manager's fsnotify-watch-and-atomic-swap
// pattern. Safe for concurrent use.
type Loader struct {
	logger *slog.Logger
	path   string

	current atomic.Pointer[Topology]

	watcher     *fsnotify.Watcher
	watcherStop chan struct{}

	subs []func(*Topology)
}

// New constructs a Loader. Call Load to perform the initial read and
// Watch to start hot-reloading.
func New(cfg LoaderConfig) *Loader {
	return &Loader{
		logger: logging.Default(cfg.Logger).With("component", "config"),
		path:   cfg.Path,
	}
}

// Load reads the topology file, creating it from DefaultTopology if it
// doesn't exist yet, and stores the result for Current to return.
func (l *Loader) Load() (*Topology, error) {
	data, err := os.ReadFile(l.path)
	if os.IsNotExist(err) {
		def := DefaultTopology()
		secret := make([]byte, 32)
		if _, rerr := rand.Read(secret); rerr != nil {
			return nil, rerr
		}
		def.CheckSecret = base64.StdEncoding.EncodeToString(secret)
		if werr := l.write(def); werr != nil {
			return nil, werr
		}
		l.current.Store(def)
		return def, nil
	}
	if err != nil {
		return nil, err
	}

	var topo Topology
	if err := json.Unmarshal(data, &topo); err != nil {
		return nil, err
	}
	l.current.Store(&topo)
	return &topo, nil
}

func (l *Loader) write(topo *Topology) error {
	data, err := json.MarshalIndent(topo, "", "  ")
	if err != nil {
		return err
	}
	if dir := filepath.Dir(l.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return err
		}
	}
	return os.WriteFile(l.path, data, 0o644)
}

// Current returns the most recently loaded (or reloaded) topology. Load
// must be called at least once first.
func (l *Loader) Current() *Topology {
	return l.current.Load()
}

// Subscribe registers fn to be called with the new topology each time a
// file-change reload succeeds.
func (l *Loader) Subscribe(fn func(*Topology)) {
	l.subs = append(l.subs, fn)
}

// Watch starts watching Path for changes and reloading on write. Call
// Close to stop.
func (l *Loader) Watch() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(l.path); err != nil {
		watcher.Close()
		return err
	}
	l.watcher = watcher
	l.watcherStop = make(chan struct{})

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-l.watcherStop:
				return
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				l.logger.Warn("topology watcher error", "error", err)
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				topo, err := l.Load()
				if err != nil {
					l.logger.Warn("topology reload failed", "error", err)
					continue
				}
				l.logger.Info("topology reloaded", "path", l.path)
				for _, fn := range l.subs {
					fn(topo)
				}
			}
		}
	}()
	return nil
}

// Close stops the file watcher, if running.
func (l *Loader) Close() {
	if l.watcherStop != nil {
		close(l.watcherStop)
		l.watcherStop = nil
	}
}
