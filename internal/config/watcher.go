package config

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/KilimcininKorOglu/obarepl/internal/logging"
)

const (
	defaultPollInterval = 100 * time.Millisecond
	defaultSettle       = 200 * time.Millisecond
)

// ReloadFunc receives the previous and the newly loaded configuration.
type ReloadFunc func(oldCfg, newCfg *Config)

// WatchOptions tunes a Watcher. Zero values select the defaults.
type WatchOptions struct {
	// PollInterval is how often the file is stat'ed.
	PollInterval time.Duration
	// Settle is how long the file must stay unchanged before it is read.
	Settle time.Duration
	Logger logging.Logger
}

// fileStamp identifies one version of the watched file.
type fileStamp struct {
	modTime time.Time
	size    int64
}

func stampOf(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, err
	}
	return fileStamp{modTime: info.ModTime(), size: info.Size()}, nil
}

func (s fileStamp) equal(o fileStamp) bool {
	return s.size == o.size && s.modTime.Equal(o.modTime)
}

// Watcher polls a configuration file and hands every version that loads
// and validates to a ReloadFunc.
type Watcher struct {
	path     string
	onChange ReloadFunc
	poll     time.Duration
	settle   time.Duration
	logger   logging.Logger

	mu      sync.Mutex
	current *Config
}

// NewWatcher loads path once and returns a watcher for it. The file must
// exist and load.
func NewWatcher(path string, onChange ReloadFunc, opts WatchOptions) (*Watcher, error) {
	if path == "" {
		return nil, ErrMissingConfigFile
	}
	if onChange == nil {
		return nil, ErrMissingOnChange
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		path:     path,
		onChange: onChange,
		poll:     opts.PollInterval,
		settle:   opts.Settle,
		logger:   opts.Logger,
		current:  cfg,
	}
	if w.poll <= 0 {
		w.poll = defaultPollInterval
	}
	if w.settle <= 0 {
		w.settle = defaultSettle
	}
	if w.logger == nil {
		w.logger = logging.NewNop()
	}
	return w, nil
}

// Current returns the last configuration that loaded and validated.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Run polls the file until ctx is done. A change is read once the file
// has kept the same stamp for the settle period.
func (w *Watcher) Run(ctx context.Context) {
	seen, err := stampOf(w.path)
	if err != nil {
		w.logger.Warn("config file not readable", "file", w.path, "error", err)
	}

	ticker := time.NewTicker(w.poll)
	defer ticker.Stop()

	var due time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			stamp, err := stampOf(w.path)
			if err != nil {
				// The file is often briefly missing while an editor
				// replaces it.
				continue
			}
			if !stamp.equal(seen) {
				seen = stamp
				due = now.Add(w.settle)
				continue
			}
			if !due.IsZero() && !now.Before(due) {
				due = time.Time{}
				w.reload()
			}
		}
	}
}

// reload keeps the last good configuration when the file does not load
// or validate.
func (w *Watcher) reload() {
	cfg, err := LoadConfig(w.path)
	if err != nil {
		w.logger.Warn("config reload failed", "file", w.path, "error", err)
		return
	}
	if errs := ValidateConfig(cfg); len(errs) > 0 {
		w.logger.Warn("config reload rejected", "file", w.path, "error", errs[0], "errors", len(errs))
		return
	}

	w.mu.Lock()
	prev := w.current
	w.current = cfg
	w.mu.Unlock()

	w.onChange(prev, cfg)
}
