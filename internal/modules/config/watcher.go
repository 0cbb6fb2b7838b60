package config

import (
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"

	"tradesandbox/pkg/logger"
)

// Watcher wraps viper's file watch so edits to the on-disk config file
// are observed as they land, independent of the one-shot yaml.v2 decode
// NewConfig performs at startup. The market-stream module subscribes to
// Changes() to re-read the config and reconcile the enabled instruments;
// strategy profiles are not updated from file edits.
type Watcher struct {
	v    *viper.Viper
	mu   sync.Mutex
	subs []chan struct{}
}

// NewWatcher binds viper to the same file NewConfig reads, so both stay
// pointed at one source of truth.
func NewWatcher() (*Watcher, error) {
	v := viper.New()
	v.SetConfigFile(ConfigFilePath())
	v.SetConfigType("yaml")
	if err := v.ReadInConfig(); err != nil {
		logger.Error("config watcher: initial read failed, will retry on write: %v", err)
	}
	return &Watcher{v: v}, nil
}

// Changes returns a channel that receives a signal every time the config
// file is rewritten on disk. Subscribers should re-read via Config-typed
// accessors rather than assume any particular key changed.
func (w *Watcher) Changes() <-chan struct{} {
	ch := make(chan struct{}, 1)
	w.mu.Lock()
	w.subs = append(w.subs, ch)
	w.mu.Unlock()
	return ch
}

// Start begins watching the config file for writes. Each call registers
// the change handler again and starts another viper watch.
func (w *Watcher) Start() {
	w.v.OnConfigChange(func(_ fsnotify.Event) {
		w.mu.Lock()
		defer w.mu.Unlock()
		for _, ch := range w.subs {
			select {
			case ch <- struct{}{}:
			default:
			}
		}
	})
	w.v.WatchConfig()
}
