package config

import (
	"fmt"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"

	"github.com/gatehouse-io/gatehouse/pkg/toolset"
)

// Manager holds the live configuration and supports hot reload. Tool
// resolution snapshots the access mode once per turn, so a flip mid-turn
// never affects calls already in flight.
type Manager struct {
	mu      sync.RWMutex
	cfg     *Config
	loader  *Loader
	watcher *fsnotify.Watcher
}

// NewManager wraps a loaded configuration
func NewManager(cfg *Config, loader *Loader) *Manager {
	return &Manager{cfg: cfg, loader: loader}
}

// Current returns a copy of the live configuration
func (m *Manager) Current() Config {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return *m.cfg
}

// AccessMode returns the live tool access mode
func (m *Manager) AccessMode() toolset.AccessMode {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return toolset.AccessMode(m.cfg.ToolAccessMode)
}

// SetAccessMode updates and persists the tool access mode. Takes effect on
// the next turn's resolution snapshot.
func (m *Manager) SetAccessMode(mode toolset.AccessMode) error {
	switch mode {
	case toolset.ModeWhitelist, toolset.ModeAllEnabled:
	default:
		return fmt.Errorf("invalid tool access mode: %q", mode)
	}

	m.mu.Lock()
	m.cfg.ToolAccessMode = string(mode)
	cfg := *m.cfg
	m.mu.Unlock()

	log.Info().Str("mode", string(mode)).Msg("Tool access mode changed")

	if m.loader != nil {
		if err := m.loader.Save(&cfg); err != nil {
			return fmt.Errorf("failed to persist tool access mode: %w", err)
		}
	}
	return nil
}

// Watch reloads the configuration when the file changes on disk. Invalid
// reloads are logged and ignored; the previous configuration stays live.
func (m *Manager) Watch() error {
	if m.loader == nil {
		return fmt.Errorf("no loader configured")
	}
	configPath, err := m.loader.path()
	if err != nil {
		return err
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err := watcher.Add(configPath); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config file: %w", err)
	}
	m.watcher = watcher

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
					continue
				}
				cfg, err := m.loader.Load()
				if err != nil {
					log.Warn().Err(err).Msg("Config reload failed, keeping previous configuration")
					continue
				}
				m.mu.Lock()
				m.cfg = cfg
				m.mu.Unlock()
				log.Info().Str("path", configPath).Msg("Configuration reloaded")
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(err).Msg("Config watcher error")
			}
		}
	}()

	return nil
}

// Close stops the config watcher
func (m *Manager) Close() error {
	if m.watcher != nil {
		return m.watcher.Close()
	}
	return nil
}
