package config

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sync"

	logx "kavitabot/pkg/logx"
)

// Manager holds the active config and republishes it when the file
// changes. Subscribers always see the newest valid config.
type Manager struct {
	path    string
	secrets Secrets

	mu       sync.RWMutex
	cfg      *Config
	lastHash [32]byte

	subsMu sync.Mutex
	subs   []chan *Config

	log logx.Logger
}

func NewManager(path string, secrets Secrets) *Manager {
	return &Manager{path: path, secrets: secrets, log: logx.Nop()}
}

func (m *Manager) SetLogger(log logx.Logger) { m.log = log }

func (m *Manager) Path() string { return m.path }

// Parse reads, overlays secrets, applies defaults and validates.
func (m *Manager) Parse() (*Config, error) {
	b, err := os.ReadFile(m.path)
	if err != nil {
		return nil, err
	}
	return ParseBytes(m.path, b, m.secrets)
}

// ParseBytes is Parse for an in-memory document; path only selects the format.
func ParseBytes(path string, b []byte, secrets Secrets) (*Config, error) {
	jb, err := ToJSON(path, b)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := DecodeStrict(jb, &cfg); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	secrets.Overlay(&cfg)
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (m *Manager) Load() (*Config, error) {
	cfg, err := m.Parse()
	if err != nil {
		return nil, err
	}
	m.commit(cfg)
	return cfg, nil
}

func (m *Manager) commit(cfg *Config) bool {
	h := hashConfig(cfg)
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.cfg != nil && h == m.lastHash {
		return false
	}
	m.cfg = cfg
	m.lastHash = h
	return true
}

func hashConfig(cfg *Config) [32]byte {
	b, _ := json.Marshal(cfg)
	return sha256.Sum256(b)
}

func (m *Manager) Get() *Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.cfg
}

func (m *Manager) Subscribe(buffer int) chan *Config {
	if buffer <= 0 {
		buffer = 1
	}
	ch := make(chan *Config, buffer)
	m.subsMu.Lock()
	m.subs = append(m.subs, ch)
	m.subsMu.Unlock()
	return ch
}

func (m *Manager) Unsubscribe(ch chan *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for i, s := range m.subs {
		if s == ch {
			m.subs = append(m.subs[:i], m.subs[i+1:]...)
			close(ch)
			return
		}
	}
}

func (m *Manager) publish(cfg *Config) {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	for _, ch := range m.subs {
		select {
		case ch <- cfg:
			continue
		default:
		}
		// Full: replace the stale pending config with the newest one.
		select {
		case <-ch:
		default:
		}
		select {
		case ch <- cfg:
		default:
			m.log.Debug("config update dropped (subscriber slow)")
		}
	}
}

// reload is the watcher callback.
func (m *Manager) reload() {
	cfg, err := m.Parse()
	if err != nil {
		m.log.Warn("config reload rejected; keeping previous config", logx.String("path", m.path), logx.Err(err))
		return
	}
	if !m.commit(cfg) {
		m.log.Debug("config unchanged", logx.String("path", m.path))
		return
	}
	m.publish(cfg)
}

// Watch blocks until ctx ends, publishing every valid edit of the file.
func (m *Manager) Watch(ctx context.Context) error {
	return WatchFile(ctx, m.path, m.log, m.reload)
}
