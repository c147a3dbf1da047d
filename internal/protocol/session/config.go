package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/danmuck/pvbridge/internal/protocol/frame"
	"github.com/danmuck/pvbridge/internal/protocol/schema"
)

var (
	ErrInvalidRole     = errors.New("session: invalid role")
	ErrAddressRequired = errors.New("session: address required")
)

// Role selects which side of the TCP handshake the bridge plays.
type Role string

const (
	RoleClient Role = "client"
	RoleServer Role = "server"
)

// BackoffConfig defines retry backoff behavior.
type BackoffConfig struct {
	InitialDelay time.Duration
	Multiplier   float64
	MaxDelay     time.Duration
	Jitter       bool
}

// Config defines transport defaults for one bridge connection.
type Config struct {
	Role           Role
	Address        string
	ConnectTimeout time.Duration
	WriteTimeout   time.Duration
	MaxMessageSize int
	// MaxConnectAttempts bounds initial dials; zero retries until ctx ends.
	MaxConnectAttempts int
	Backoff            BackoffConfig
}

func DefaultConfig() Config {
	return Config{
		Role:               RoleClient,
		Address:            "127.0.0.1:4884",
		ConnectTimeout:     5 * time.Second,
		WriteTimeout:       15 * time.Second,
		MaxMessageSize:     schema.MaxMessageSize,
		MaxConnectAttempts: 1,
		Backoff: BackoffConfig{
			InitialDelay: 250 * time.Millisecond,
			Multiplier:   2.0,
			MaxDelay:     5 * time.Second,
			Jitter:       true,
		},
	}
}

// WithDefaults fills zero fields from DefaultConfig.
func (c Config) WithDefaults() Config {
	def := DefaultConfig()
	if strings.TrimSpace(string(c.Role)) == "" {
		c.Role = def.Role
	}
	c.Role = Role(strings.ToLower(strings.TrimSpace(string(c.Role))))
	if strings.TrimSpace(c.Address) == "" {
		c.Address = def.Address
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.Backoff.InitialDelay <= 0 {
		c.Backoff = def.Backoff
	}
	return c
}

func (c Config) Validate() error {
	switch c.Role {
	case RoleClient, RoleServer:
	default:
		return fmt.Errorf("%w: %q", ErrInvalidRole, c.Role)
	}
	if strings.TrimSpace(c.Address) == "" {
		return ErrAddressRequired
	}
	if err := schema.Validate(c.MaxMessageSize); err != nil {
		return fmt.Errorf("session: max_message_size: %w", err)
	}
	return nil
}

// Limits derives the framed channel limits.
func (c Config) Limits() frame.Limits {
	return frame.Limits{
		MaxMessageSize: c.MaxMessageSize,
		WriteTimeout:   c.WriteTimeout,
	}
}
