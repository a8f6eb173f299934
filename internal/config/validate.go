package config

import (
	"errors"
	"fmt"
	"net"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateGateway(); err != nil {
		return err
	}
	if err := c.validatePersonas(); err != nil {
		return err
	}
	if err := c.validateSessions(); err != nil {
		return err
	}
	if err := c.validateActivities(); err != nil {
		return err
	}
	if err := c.validateBus(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validatePaths() error {
	if c.Paths.DataDir == "" {
		return errors.New("paths.data_dir must be set")
	}
	if c.Paths.LogDir == "" {
		return errors.New("paths.log_dir must be set")
	}
	return nil
}

func (c *Config) validateGateway() error {
	if _, _, err := net.SplitHostPort(c.Gateway.Bind); err != nil {
		return fmt.Errorf("gateway.bind must be host:port: %w", err)
	}
	if c.Gateway.HeartbeatInterval <= 0 {
		return errors.New("gateway.heartbeat_interval must be positive")
	}
	if c.Gateway.HeartbeatTimeout <= c.Gateway.HeartbeatInterval {
		return errors.New("gateway.heartbeat_timeout must exceed gateway.heartbeat_interval")
	}
	return nil
}

func (c *Config) validatePersonas() error {
	switch c.Personas.Source {
	case SourceFile:
		if c.Personas.Dir == "" {
			return errors.New("personas.dir must be set when personas.source is \"file\"")
		}
	case SourcePostgres:
		if c.Personas.PostgresDSN == "" {
			return errors.New("personas.postgres_dsn must be set when personas.source is \"postgres\"")
		}
	default:
		return fmt.Errorf("personas.source must be %q or %q, got %q", SourceFile, SourcePostgres, c.Personas.Source)
	}
	if c.Personas.CacheTTLSeconds <= 0 {
		return errors.New("personas.cache_ttl_seconds must be positive")
	}
	if c.Personas.SwitchSLAMillis <= 0 {
		return errors.New("personas.switch_sla_ms must be positive")
	}
	return nil
}

func (c *Config) validateSessions() error {
	if c.Sessions.TTLHours <= 0 {
		return errors.New("sessions.ttl_hours must be positive")
	}
	if c.Sessions.ReaperIntervalSeconds < 0 {
		return errors.New("sessions.reaper_interval_seconds must not be negative")
	}
	return nil
}

func (c *Config) validateActivities() error {
	if c.Activities.AckTimeoutSeconds <= 0 {
		return errors.New("activities.ack_timeout_seconds must be positive")
	}
	if c.Activities.PlaybackLeadMillis <= 0 {
		return errors.New("activities.playback_lead_ms must be positive")
	}
	return nil
}

func (c *Config) validateBus() error {
	if c.Bus.ChannelBuffer <= 0 {
		return errors.New("bus.channel_buffer must be positive")
	}
	if c.Bus.PublishRetries < 0 {
		return errors.New("bus.publish_retries must not be negative")
	}
	return nil
}

func (c *Config) validateLogging() error {
	switch c.Logging.Format {
	case "", "console", "json":
	default:
		return fmt.Errorf("logging.format must be \"console\" or \"json\", got %q", c.Logging.Format)
	}
	switch c.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("logging.level must be debug, info, warn, or error, got %q", c.Logging.Level)
	}
	return nil
}
