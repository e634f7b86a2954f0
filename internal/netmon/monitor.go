// Package netmon provides the connectivity monitor for fieldsync.
//
// The monitor probes the remote API health endpoint on a fixed interval
// and mirrors the result into an online/offline state with change
// notifications. It only reflects reachability at probe time: a probe that
// succeeds says the link was up, not that the next write will succeed.
// There is no retry or backoff logic here - that is an accepted limitation
// of connectivity detection, not a defect to engineer around.
package netmon

import (
	"context"
	"log"
	"os"
	"sync"
	"time"
)

// State is the mirrored connectivity state.
type State int

const (
	// StateOffline indicates the last probe failed.
	StateOffline State = iota
	// StateOnline indicates the last probe succeeded.
	StateOnline
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StateOffline:
		return "offline"
	case StateOnline:
		return "online"
	default:
		return "unknown"
	}
}

// Prober checks remote reachability. A nil error means online.
// api.Client satisfies this interface.
type Prober interface {
	Health(ctx context.Context) error
}

// Config holds monitor configuration.
type Config struct {
	// ProbeInterval is how often to probe (default: 15s).
	ProbeInterval time.Duration

	// ProbeTimeout bounds a single probe (default: 5s).
	ProbeTimeout time.Duration

	// Logger for state transitions.
	Logger *log.Logger
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		ProbeInterval: 15 * time.Second,
		ProbeTimeout:  5 * time.Second,
		Logger:        log.New(os.Stderr, "[netmon] ", log.LstdFlags),
	}
}

// Monitor probes connectivity and notifies subscribers of transitions.
type Monitor struct {
	prober Prober
	config *Config

	mu     sync.Mutex
	state  State
	probed bool
	subs   []chan State
}

// New creates a Monitor. If config is nil, defaults are used.
// The monitor starts pessimistic (offline) until the first probe.
func New(prober Prober, config *Config) *Monitor {
	if config == nil {
		config = DefaultConfig()
	}
	if config.ProbeInterval <= 0 {
		config.ProbeInterval = 15 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if config.Logger == nil {
		config.Logger = log.New(os.Stderr, "[netmon] ", log.LstdFlags)
	}
	return &Monitor{
		prober: prober,
		config: config,
		state:  StateOffline,
	}
}

// Online returns the current mirrored state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == StateOnline
}

// Subscribe returns a channel that receives the new state on every
// transition. The channel is buffered; if a subscriber falls behind,
// intermediate transitions are dropped in favor of the most recent one.
func (m *Monitor) Subscribe() <-chan State {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch := make(chan State, 1)
	m.subs = append(m.subs, ch)
	return ch
}

// Unsubscribe removes a channel previously returned by Subscribe, so the
// monitor stops holding it for its remaining lifetime. The channel is not
// closed; a value already buffered can still be read after removal.
func (m *Monitor) Unsubscribe(ch <-chan State) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i, sub := range m.subs {
		if sub == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			return
		}
	}
}

// Probe performs a single reachability check and updates the mirrored
// state, notifying subscribers on a transition. Returns the new state.
func (m *Monitor) Probe(ctx context.Context) State {
	probeCtx, cancel := context.WithTimeout(ctx, m.config.ProbeTimeout)
	err := m.prober.Health(probeCtx)
	cancel()

	next := StateOnline
	if err != nil {
		next = StateOffline
	}

	m.mu.Lock()
	changed := !m.probed || next != m.state
	m.probed = true
	m.state = next
	subs := m.subs
	m.mu.Unlock()

	if changed {
		m.config.Logger.Printf("Connectivity: %s", next)
		for _, ch := range subs {
			select {
			case ch <- next:
			default:
				// Drain the stale value and replace it with the latest.
				select {
				case <-ch:
				default:
				}
				select {
				case ch <- next:
				default:
				}
			}
		}
	}

	return next
}

// Run probes on the configured interval until ctx is cancelled.
// The first probe happens immediately.
func (m *Monitor) Run(ctx context.Context) error {
	m.Probe(ctx)

	ticker := time.NewTicker(m.config.ProbeInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			m.Probe(ctx)
		}
	}
}
