// Package connectivity implements the network reachability signal consumed
// by the sync engine: current online state plus edge-triggered transition
// events.
package connectivity

import (
	"context"
	"log/slog"
	"net/http"
	stdSync "sync"
	"time"

	"github.com/pitchside/teamsync"
	"github.com/pitchside/teamsync/logging"
)

// ProbeConfig configures the probe-based monitor.
type ProbeConfig struct {
	// URL is probed with a HEAD request to decide reachability.
	URL string

	// Interval between probes. Defaults to 30 seconds.
	Interval time.Duration

	// Timeout for a single probe. Defaults to 5 seconds.
	Timeout time.Duration
}

func (c *ProbeConfig) setDefaults() {
	if c.Interval == 0 {
		c.Interval = 30 * time.Second
	}
	if c.Timeout == 0 {
		c.Timeout = 5 * time.Second
	}
}

// ProbeMonitor decides reachability by periodically issuing a HEAD request
// against a known endpoint. Subscribers receive edge-triggered transitions
// only, never repeated same-state notifications.
type ProbeMonitor struct {
	config ProbeConfig
	http   *http.Client
	logger *logging.Logger

	mu       stdSync.RWMutex
	online   bool
	handlers []func(online bool)
	stop     chan struct{}
	started  bool
}

// Compile-time check to ensure ProbeMonitor satisfies the Monitor interface
var _ teamsync.Monitor = (*ProbeMonitor)(nil)

// NewProbeMonitor creates a monitor from the given config. The monitor
// reports offline until the first successful probe.
func NewProbeMonitor(config ProbeConfig) *ProbeMonitor {
	config.setDefaults()
	return &ProbeMonitor{
		config: config,
		http:   &http.Client{Timeout: config.Timeout},
		logger: logging.WithComponent(logging.Component("connectivity")),
	}
}

// Online reports the last observed reachability state.
func (m *ProbeMonitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers a transition handler.
func (m *ProbeMonitor) Subscribe(handler func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Start begins probing until the context is cancelled or Stop is called.
// The first probe runs immediately so startup state settles quickly.
func (m *ProbeMonitor) Start(ctx context.Context) {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	stop := make(chan struct{})
	m.stop = stop
	m.mu.Unlock()

	go func() {
		m.probe(ctx)

		ticker := time.NewTicker(m.config.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-stop:
				return
			case <-ticker.C:
				m.probe(ctx)
			}
		}
	}()
}

// Stop halts probing. The last observed state remains readable.
func (m *ProbeMonitor) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.stop != nil {
		close(m.stop)
		m.stop = nil
		m.started = false
	}
}

func (m *ProbeMonitor) probe(ctx context.Context) {
	reqCtx, cancel := context.WithTimeout(ctx, m.config.Timeout)
	defer cancel()

	online := false
	req, err := http.NewRequestWithContext(reqCtx, http.MethodHead, m.config.URL, nil)
	if err == nil {
		resp, doErr := m.http.Do(req)
		if doErr == nil {
			resp.Body.Close()
			online = resp.StatusCode < 500
		}
	}

	m.setOnline(online)
}

func (m *ProbeMonitor) setOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	handlers := make([]func(bool), len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	m.logger.Info("connectivity changed", slog.Bool("online", online))
	for _, handler := range handlers {
		handler(online)
	}
}

// ManualMonitor is a monitor whose state is toggled explicitly. It backs
// tests and demos, and UIs that surface an airplane-mode style switch.
type ManualMonitor struct {
	mu       stdSync.RWMutex
	online   bool
	handlers []func(online bool)
}

var _ teamsync.Monitor = (*ManualMonitor)(nil)

// NewManualMonitor creates a monitor with the given initial state.
func NewManualMonitor(online bool) *ManualMonitor {
	return &ManualMonitor{online: online}
}

// Online reports the current state.
func (m *ManualMonitor) Online() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online
}

// Subscribe registers a transition handler.
func (m *ManualMonitor) Subscribe(handler func(online bool)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// SetOnline updates the state, notifying handlers on transitions only.
func (m *ManualMonitor) SetOnline(online bool) {
	m.mu.Lock()
	if m.online == online {
		m.mu.Unlock()
		return
	}
	m.online = online
	handlers := make([]func(bool), len(m.handlers))
	copy(handlers, m.handlers)
	m.mu.Unlock()

	for _, handler := range handlers {
		handler(online)
	}
}
