// Package config loads Hangar's user configuration from a sandboxed
// Lua file (hangar.lua). Lua keeps the config declarative while still
// letting a single file pick per-platform Community paths through the
// injected platform table.
package config

import (
	"fmt"

	"github.com/hangar-sim/hangar/internal/catalog"
)

// Config is the parsed user configuration.
type Config struct {
	Paths   Paths
	Catalog CatalogConfig
	Install InstallConfig
}

// Paths holds filesystem locations.
type Paths struct {
	// Community is the install destination. May be empty, in which
	// case install/uninstall are unavailable and reconciliation
	// degrades to record pruning.
	Community string
	// Data holds persisted records, journals, and locks.
	Data string
}

// CatalogConfig configures the remote catalog.
type CatalogConfig struct {
	URL        string
	TTLSeconds int
}

// InstallConfig configures install behavior.
type InstallConfig struct {
	DefaultChannel string
	KeyringDir     string
}

// Validate checks field-level constraints. Presence requirements
// (catalog URL for installs, community path for installs) are
// enforced by the commands that need them.
func (c *Config) Validate() error {
	if c.Catalog.TTLSeconds < 0 {
		return fmt.Errorf("catalog.ttl_seconds must not be negative, got %d", c.Catalog.TTLSeconds)
	}
	if c.Install.DefaultChannel != "" {
		if _, err := catalog.ParseChannelKey(c.Install.DefaultChannel); err != nil {
			return fmt.Errorf("install.default_channel: %w", err)
		}
	}
	return nil
}

// Channel returns the configured default channel, falling back to
// stable.
func (c *Config) Channel() catalog.ChannelKey {
	if c.Install.DefaultChannel == "" {
		return catalog.ChannelStable
	}
	key, err := catalog.ParseChannelKey(c.Install.DefaultChannel)
	if err != nil {
		return catalog.ChannelStable
	}
	return key
}
