package config

import (
	"errors"
	"fmt"
)

// Sentinel errors for configuration validation. Check with errors.Is.
var (
	// ErrConfigNil indicates the configuration is nil.
	ErrConfigNil = errors.New("configuration is nil")

	// ErrInvalidListenAddr indicates the listen address is empty.
	ErrInvalidListenAddr = errors.New("invalid listen address")

	// ErrInvalidPostgresHost indicates the PostgreSQL host is invalid.
	ErrInvalidPostgresHost = errors.New("invalid PostgreSQL host")

	// ErrInvalidPostgresPort indicates the PostgreSQL port is out of range.
	ErrInvalidPostgresPort = errors.New("invalid PostgreSQL port")

	// ErrInvalidPostgresDBName indicates the PostgreSQL database name is invalid.
	ErrInvalidPostgresDBName = errors.New("invalid PostgreSQL database name")

	// ErrInvalidPostgresSSLMode indicates the PostgreSQL SSL mode is invalid.
	ErrInvalidPostgresSSLMode = errors.New("invalid PostgreSQL SSL mode")

	// ErrInvalidTopK indicates the retrieval count is out of range.
	ErrInvalidTopK = errors.New("invalid top_k")

	// ErrInvalidThreshold indicates a similarity threshold is outside [0, 1].
	ErrInvalidThreshold = errors.New("invalid similarity threshold")

	// ErrInvalidIdleTimeout indicates the idle timeout is not positive.
	ErrInvalidIdleTimeout = errors.New("invalid idle timeout")

	// ErrInvalidSweepInterval indicates the sweep interval is not positive.
	ErrInvalidSweepInterval = errors.New("invalid sweep interval")

	// ErrInvalidInboundRate indicates the inbound rate limit is not positive.
	ErrInvalidInboundRate = errors.New("invalid inbound rate")
)

// Retrieval bounds.
const (
	MinTopK = 1
	MaxTopK = 50
)

var validSSLModes = map[string]struct{}{
	"disable":     {},
	"allow":       {},
	"prefer":      {},
	"require":     {},
	"verify-ca":   {},
	"verify-full": {},
}

// Validate checks all configuration values and returns the first violation.
func (c *Config) Validate() error {
	if c == nil {
		return ErrConfigNil
	}

	if c.ListenAddr == "" {
		return ErrInvalidListenAddr
	}

	if c.PostgresHost == "" {
		return fmt.Errorf("%w: host must not be empty", ErrInvalidPostgresHost)
	}
	if c.PostgresPort < 1 || c.PostgresPort > 65535 {
		return fmt.Errorf("%w: port %d outside 1-65535", ErrInvalidPostgresPort, c.PostgresPort)
	}
	if c.PostgresDBName == "" {
		return fmt.Errorf("%w: database name must not be empty", ErrInvalidPostgresDBName)
	}
	if _, ok := validSSLModes[c.PostgresSSLMode]; !ok {
		return fmt.Errorf("%w: %q", ErrInvalidPostgresSSLMode, c.PostgresSSLMode)
	}

	if c.TopK < MinTopK || c.TopK > MaxTopK {
		return fmt.Errorf("%w: %d outside %d-%d", ErrInvalidTopK, c.TopK, MinTopK, MaxTopK)
	}
	if c.MinRelevance < 0 || c.MinRelevance > 1 {
		return fmt.Errorf("%w: min_relevance %v", ErrInvalidThreshold, c.MinRelevance)
	}
	if c.ResolveConfidence < 0 || c.ResolveConfidence > 1 {
		return fmt.Errorf("%w: resolve_confidence %v", ErrInvalidThreshold, c.ResolveConfidence)
	}
	if c.IdleTimeout <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidIdleTimeout, c.IdleTimeout)
	}
	if c.SweepInterval <= 0 {
		return fmt.Errorf("%w: %v", ErrInvalidSweepInterval, c.SweepInterval)
	}

	if c.InboundRate <= 0 || c.InboundBurst < 1 {
		return fmt.Errorf("%w: rate %v burst %d", ErrInvalidInboundRate, c.InboundRate, c.InboundBurst)
	}

	return nil
}
