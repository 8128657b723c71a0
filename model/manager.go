package model

import (
	"sync"
	"time"

	"github.com/gogpu/upscale/backend"
	"github.com/gogpu/upscale/compute"
)

// Tuning defaults.
const (
	// DefaultTileSize balances speed and memory on mid-range GPUs.
	DefaultTileSize = 128
)

// Manager owns the resident network and guards model switches on the
// shared compute context. Exactly one family is loaded at a time; the
// memory budget does not allow concurrent residency.
//
// Manager methods are safe for concurrent use.
type Manager struct {
	ctx     *compute.Context
	dir     string
	backend string // backend name, "" selects by priority

	mu     sync.Mutex
	active Config
	loaded bool
	net    backend.Network

	// Mutable performance tuning; changing these never reloads weights.
	tileSize  int
	tileDelay time.Duration
}

// NewManager creates a manager for the given compute context and model
// directory. backendName selects a registered inference backend; the empty
// string picks the best available one.
func NewManager(ctx *compute.Context, dir, backendName string) *Manager {
	return &Manager{
		ctx:      ctx,
		dir:      dir,
		backend:  backendName,
		tileSize: DefaultTileSize,
	}
}

// EnsureLoaded makes sure the network for cfg is resident.
//
// If the active config already matches, this is a fast no-op that leaves
// the weights alone. Otherwise any in-flight inference is signaled to
// abort, the manager takes exclusive access to the compute context, frees
// the previous network, and loads the new one. Weight files that cannot
// be located or fail to parse are reported as an error; the previous
// network is gone either way, matching the single-residency budget.
func (m *Manager) EnsureLoaded(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.loaded && m.active == cfg {
		return nil
	}

	// Boot any in-flight inference off the context before taking it.
	m.ctx.SignalAbort()
	lease := m.ctx.Acquire()
	defer lease.Release()
	m.ctx.ClearAbort()

	if m.net != nil {
		_ = m.net.Close()
		m.net = nil
		m.loaded = false
	}

	paramPath, binPath, err := WeightFiles(m.dir, cfg)
	if err != nil {
		slogger().Warn("model: weights missing", "family", cfg.Kind.String(), "error", err)
		return err
	}

	opts := backend.OpenOptions{
		ParamPath: paramPath,
		BinPath:   binPath,
		Scale:     cfg.Scale,
		Device:    m.ctx.Device(),
	}

	var net backend.Network
	if m.backend != "" {
		net, err = backend.Open(m.backend, opts)
	} else {
		net, err = backend.Default(opts)
	}
	if err != nil {
		slogger().Warn("model: load failed", "family", cfg.Kind.String(), "error", err)
		return err
	}

	m.net = net
	m.active = cfg
	m.loaded = true

	slogger().Info("model: loaded",
		"family", cfg.Kind.String(), "noise", cfg.Noise, "scale", cfg.Scale,
		"prepadding", cfg.Prepadding())
	return nil
}

// Network returns the resident network, or nil when nothing is loaded.
func (m *Manager) Network() backend.Network {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.net
}

// Active returns the resident config and whether one is loaded.
func (m *Manager) Active() (Config, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active, m.loaded
}

// SetPerformance updates tile size and inter-tile delay. These tuning
// knobs never touch model weights, so no reload happens. A non-positive
// tile size restores the default.
func (m *Manager) SetPerformance(tileSize int, tileDelay time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if tileSize <= 0 {
		tileSize = DefaultTileSize
	}
	m.tileSize = tileSize
	if tileDelay < 0 {
		tileDelay = 0
	}
	m.tileDelay = tileDelay
	slogger().Debug("model: performance updated", "tileSize", tileSize, "tileDelay", tileDelay)
}

// TileSize returns the current tile edge length.
func (m *Manager) TileSize() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tileSize
}

// TileDelay returns the current inter-tile delay.
func (m *Manager) TileDelay() time.Duration {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.tileDelay
}

// Close releases the resident network. The manager must not be used after
// Close.
func (m *Manager) Close() {
	m.ctx.SignalAbort()
	lease := m.ctx.Acquire()
	defer lease.Release()

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.net != nil {
		_ = m.net.Close()
		m.net = nil
		m.loaded = false
	}
}
