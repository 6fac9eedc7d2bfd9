package config

import (
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher reloads the config file on change and fans the new config out
// to registered listeners. A panicking listener cannot affect its peers.
type Watcher struct {
	path   string
	logger zerolog.Logger

	mu        sync.Mutex
	listeners map[int]func(*Config)
	nextID    int

	fsw  *fsnotify.Watcher
	done chan struct{}
}

func NewWatcher(path string, logger zerolog.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(path); err != nil {
		fsw.Close()
		return nil, err
	}

	w := &Watcher{
		path:      path,
		logger:    logger,
		listeners: make(map[int]func(*Config)),
		fsw:       fsw,
		done:      make(chan struct{}),
	}
	go w.loop()
	return w, nil
}

func (w *Watcher) AddListener(fn func(*Config)) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	id := w.nextID
	w.nextID++
	w.listeners[id] = fn
	return id
}

func (w *Watcher) RemoveListener(id int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.listeners, id)
}

func (w *Watcher) Close() error {
	err := w.fsw.Close()
	<-w.done
	return err
}

func (w *Watcher) loop() {
	defer close(w.done)

	// editors often emit bursts of writes; coalesce them
	var pending <-chan time.Time

	for {
		select {
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op.Has(fsnotify.Write) || ev.Op.Has(fsnotify.Create) {
				pending = time.After(200 * time.Millisecond)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn().Err(err).Msg("config watcher error")
		case <-pending:
			pending = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	cfg, err := Load(w.path)
	if err != nil {
		w.logger.Error().Err(err).Str("path", w.path).Msg("config reload failed")
		return
	}
	w.logger.Info().Str("path", w.path).Msg("config reloaded")
	w.notify(cfg)
}

func (w *Watcher) notify(cfg *Config) {
	w.mu.Lock()
	listeners := make([]func(*Config), 0, len(w.listeners))
	for _, fn := range w.listeners {
		listeners = append(listeners, fn)
	}
	w.mu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error().Interface("panic", r).Msg("config listener panicked")
				}
			}()
			fn(cfg)
		}()
	}
}
