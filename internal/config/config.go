package config

import (
	"fmt"

	"github.com/gatehouse-io/gatehouse/internal/logger"
	"github.com/gatehouse-io/gatehouse/pkg/toolset"
)

// Config is the engine configuration
type Config struct {
	// ToolAccessMode selects whitelist vs all_enabled tool filtering
	ToolAccessMode string `json:"tool_access_mode" mapstructure:"tool_access_mode"`

	Executor     ExecutorConfig     `json:"executor" mapstructure:"executor"`
	Confirmation ConfirmationConfig `json:"confirmation" mapstructure:"confirmation"`
	Audit        AuditConfig        `json:"audit" mapstructure:"audit"`
	Catalog      CatalogConfig      `json:"catalog" mapstructure:"catalog"`
	Admin        AdminConfig        `json:"admin" mapstructure:"admin"`
	Logging      logger.Config      `json:"logging" mapstructure:"logging"`
}

// ExecutorConfig bounds the execution engine
type ExecutorConfig struct {
	MaxInFlightPerConversation int64 `json:"max_in_flight_per_conversation" mapstructure:"max_in_flight_per_conversation"`
	DefaultTimeoutSeconds      int   `json:"default_timeout_seconds" mapstructure:"default_timeout_seconds"`
}

// ConfirmationConfig tunes the risk gate
type ConfirmationConfig struct {
	TTLMinutes    int    `json:"ttl_minutes" mapstructure:"ttl_minutes"`
	MaxPending    int    `json:"max_pending" mapstructure:"max_pending"`
	SweepSchedule string `json:"sweep_schedule" mapstructure:"sweep_schedule"` // cron spec
}

// AuditConfig locates the audit sink
type AuditConfig struct {
	Path string `json:"path" mapstructure:"path"` // sqlite file; empty disables
}

// CatalogConfig locates the system/endpoint catalog snapshot. The catalog
// service owns the data; this is the read-only export the engine consumes.
type CatalogConfig struct {
	Path string `json:"path" mapstructure:"path"` // json file; empty starts with an empty catalog
}

// AdminConfig configures the administrative control surface
type AdminConfig struct {
	Enabled bool   `json:"enabled" mapstructure:"enabled"`
	Host    string `json:"host" mapstructure:"host"`
	Port    int    `json:"port" mapstructure:"port"`
}

// DefaultConfig returns the defaults: whitelist mode, 5 in-flight calls per
// conversation, 5 minute confirmations capped at 10.
func DefaultConfig() *Config {
	return &Config{
		ToolAccessMode: string(toolset.ModeWhitelist),
		Executor: ExecutorConfig{
			MaxInFlightPerConversation: 5,
			DefaultTimeoutSeconds:      30,
		},
		Confirmation: ConfirmationConfig{
			TTLMinutes:    5,
			MaxPending:    10,
			SweepSchedule: "@every 1m",
		},
		Admin: AdminConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8470,
		},
		Logging: logger.DefaultConfig(),
	}
}

// Validate checks the configuration for consistency
func (c *Config) Validate() error {
	switch toolset.AccessMode(c.ToolAccessMode) {
	case toolset.ModeWhitelist, toolset.ModeAllEnabled:
	default:
		return fmt.Errorf("invalid tool_access_mode: %q", c.ToolAccessMode)
	}
	if c.Executor.MaxInFlightPerConversation <= 0 {
		return fmt.Errorf("executor.max_in_flight_per_conversation must be positive")
	}
	if c.Confirmation.TTLMinutes <= 0 {
		return fmt.Errorf("confirmation.ttl_minutes must be positive")
	}
	if c.Confirmation.MaxPending <= 0 {
		return fmt.Errorf("confirmation.max_pending must be positive")
	}
	if c.Admin.Enabled && (c.Admin.Port <= 0 || c.Admin.Port > 65535) {
		return fmt.Errorf("admin.port must be a valid port")
	}
	return nil
}
