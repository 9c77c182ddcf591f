// Package connectivity watches for the moment the remote becomes reachable
// again so the queue can drain without waiting out a retry interval. Two
// signals feed it: a periodic reachability probe against the remote, and an
// operator-managed pause file whose presence holds draining off entirely.
package connectivity

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultProbeInterval = 15 * time.Second
	defaultProbeTimeout  = 3 * time.Second
)

// Options configures a Monitor.
type Options struct {
	// ProbeURL is checked periodically with a HEAD request. Empty disables
	// probing; the monitor then reacts to the pause file only.
	ProbeURL string
	// PauseFile, while present on disk, marks the remote as administratively
	// offline. Removing the file triggers an immediate online transition.
	// Empty disables the watcher.
	PauseFile     string
	ProbeInterval time.Duration
	ProbeTimeout  time.Duration
	HTTPClient    *http.Client
	Logger        *slog.Logger
	// OnOnline fires on every offline-to-online transition.
	OnOnline func()
}

// Monitor tracks remote reachability.
type Monitor struct {
	probeURL      string
	pauseFile     string
	probeInterval time.Duration
	probeTimeout  time.Duration
	client        *http.Client
	logger        *slog.Logger
	onOnline      func()

	mu      sync.Mutex
	online  bool
	paused  bool
	started bool

	watcher *fsnotify.Watcher
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewMonitor(opts Options) (*Monitor, error) {
	if opts.ProbeURL == "" && opts.PauseFile == "" {
		return nil, fmt.Errorf("connectivity: need a probe URL or a pause file")
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{}
	}
	probeInterval := opts.ProbeInterval
	if probeInterval <= 0 {
		probeInterval = defaultProbeInterval
	}
	probeTimeout := opts.ProbeTimeout
	if probeTimeout <= 0 {
		probeTimeout = defaultProbeTimeout
	}
	return &Monitor{
		probeURL:      opts.ProbeURL,
		pauseFile:     opts.PauseFile,
		probeInterval: probeInterval,
		probeTimeout:  probeTimeout,
		client:        client,
		logger:        logger,
		onOnline:      opts.OnOnline,
		online:        true,
	}, nil
}

// Start launches the probe loop and the pause-file watcher.
func (m *Monitor) Start() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return nil
	}
	m.started = true
	if m.pauseFile != "" {
		if _, err := os.Stat(m.pauseFile); err == nil {
			m.paused = true
			m.online = false
		}
	}
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	if m.pauseFile != "" {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			cancel()
			return fmt.Errorf("connectivity: watcher: %w", err)
		}
		// Watch the directory; the pause file itself may not exist yet.
		if err := watcher.Add(filepath.Dir(m.pauseFile)); err != nil {
			watcher.Close()
			cancel()
			return fmt.Errorf("connectivity: watch %s: %w", filepath.Dir(m.pauseFile), err)
		}
		m.watcher = watcher
		m.wg.Add(1)
		go m.watchLoop(ctx)
	}
	if m.probeURL != "" {
		m.wg.Add(1)
		go m.probeLoop(ctx)
	}
	return nil
}

func (m *Monitor) Close() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.watcher != nil {
		m.watcher.Close()
	}
	m.wg.Wait()
	return nil
}

// Online reports the last observed reachability.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Paused reports whether the pause file is holding draining off.
func (m *Monitor) Paused() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.paused
}

func (m *Monitor) watchLoop(ctx context.Context) {
	defer m.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(ev.Name) != filepath.Clean(m.pauseFile) {
				continue
			}
			switch {
			case ev.Op.Has(fsnotify.Create) || ev.Op.Has(fsnotify.Write):
				m.setPaused(true)
			case ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename):
				m.setPaused(false)
			}
		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			m.logger.Warn("pause file watcher error", "error", err)
		}
	}
}

func (m *Monitor) probeLoop(ctx context.Context) {
	defer m.wg.Done()
	ticker := time.NewTicker(m.probeInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.recordProbe(m.probe(ctx))
		}
	}
}

func (m *Monitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, m.probeURL, nil)
	if err != nil {
		return false
	}
	resp, err := m.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	// Any response at all means the remote is reachable.
	return true
}

func (m *Monitor) setPaused(paused bool) {
	m.mu.Lock()
	if m.paused == paused {
		m.mu.Unlock()
		return
	}
	m.paused = paused
	fire := false
	if paused {
		m.online = false
	} else if !m.online {
		m.online = true
		fire = true
	}
	m.mu.Unlock()

	if paused {
		m.logger.Info("draining paused by operator")
	} else {
		m.logger.Info("draining unpaused")
	}
	if fire && m.onOnline != nil {
		m.onOnline()
	}
}

func (m *Monitor) recordProbe(reachable bool) {
	m.mu.Lock()
	if m.paused {
		m.mu.Unlock()
		return
	}
	fire := reachable && !m.online
	m.online = reachable
	m.mu.Unlock()

	if fire {
		m.logger.Info("remote reachable again")
		if m.onOnline != nil {
			m.onOnline()
		}
	}
}
