package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/danmuck/pvbridge/internal/bridge"
	"github.com/danmuck/pvbridge/internal/host"
	"github.com/danmuck/pvbridge/internal/protocol/session"
	"github.com/danmuck/pvbridge/internal/variable"
)

type fileConfig struct {
	ServiceID          string         `toml:"id"`
	Role               string         `toml:"role"`
	Address            string         `toml:"address"`
	MaxMessageSize     int            `toml:"max_message_size"`
	ConnectTimeout     string         `toml:"connect_timeout"`
	WriteTimeout       string         `toml:"write_timeout"`
	MaxConnectAttempts int            `toml:"max_connect_attempts"`
	HeartbeatInterval  string         `toml:"heartbeat_interval"`
	AdminAddr          string         `toml:"admin_addr"`
	AdminCORSOrigins   []string       `toml:"admin_cors_origins"`
	StrictRegistry     bool           `toml:"strict_registry"`
	VariablePrefix     string         `toml:"variable_prefix"`
	Variables          []fileVariable `toml:"variables"`
	Flows              []fileFlow     `toml:"flows"`
}

type fileVariable struct {
	Variant string `toml:"variant"`
	Name    string `toml:"name"`
	Policy  string `toml:"policy"`
}

type fileFlow struct {
	From    string   `toml:"from"`
	To      []string `toml:"to"`
	Initial any      `toml:"initial"`
}

func loadServiceConfig(path string) (bridge.ServiceConfig, error) {
	cfg := bridge.DefaultServiceConfig()

	var raw fileConfig
	meta, err := toml.DecodeFile(path, &raw)
	if err != nil {
		return bridge.ServiceConfig{}, fmt.Errorf("load pvbridge config: %w", err)
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		return bridge.ServiceConfig{}, fmt.Errorf("load pvbridge config: unknown keys %v", undecoded)
	}

	if meta.IsDefined("id") {
		if id := strings.TrimSpace(raw.ServiceID); id != "" {
			cfg.ServiceID = id
		}
	}
	if meta.IsDefined("role") {
		cfg.Session.Role = sessionRole(raw.Role)
	}
	if meta.IsDefined("address") {
		cfg.Session.Address = strings.TrimSpace(raw.Address)
	}
	if meta.IsDefined("max_message_size") {
		cfg.Session.MaxMessageSize = raw.MaxMessageSize
	}
	if meta.IsDefined("connect_timeout") {
		d, err := parseDuration("connect_timeout", raw.ConnectTimeout)
		if err != nil {
			return bridge.ServiceConfig{}, err
		}
		cfg.Session.ConnectTimeout = d
	}
	if meta.IsDefined("write_timeout") {
		d, err := parseDuration("write_timeout", raw.WriteTimeout)
		if err != nil {
			return bridge.ServiceConfig{}, err
		}
		cfg.Session.WriteTimeout = d
	}
	if meta.IsDefined("max_connect_attempts") {
		cfg.Session.MaxConnectAttempts = raw.MaxConnectAttempts
	}
	if meta.IsDefined("heartbeat_interval") {
		d, err := parseDuration("heartbeat_interval", raw.HeartbeatInterval)
		if err != nil {
			return bridge.ServiceConfig{}, err
		}
		cfg.HeartbeatInterval = d
	}
	if meta.IsDefined("admin_addr") {
		cfg.AdminListenAddr = strings.TrimSpace(raw.AdminAddr)
	}
	if meta.IsDefined("admin_cors_origins") {
		cfg.AdminCORSOrigins = normalizeList(raw.AdminCORSOrigins)
	}
	if meta.IsDefined("strict_registry") {
		cfg.StrictRegistry = raw.StrictRegistry
	}

	prefix := bridge.DefaultPrefix
	if meta.IsDefined("variable_prefix") {
		prefix = strings.TrimSpace(raw.VariablePrefix)
		cfg.Bindings = bridge.DefaultBindings(prefix)
		cfg.Flows = bridge.DefaultFlows(prefix)
	}

	if meta.IsDefined("variables") {
		bindings, err := overlayBindings(cfg.Bindings, raw.Variables, prefix)
		if err != nil {
			return bridge.ServiceConfig{}, err
		}
		cfg.Bindings = bindings
	}

	if meta.IsDefined("flows") {
		flows := make([]host.FlowSpec, 0, len(raw.Flows))
		for _, f := range raw.Flows {
			flows = append(flows, host.FlowSpec{
				From:    strings.TrimSpace(f.From),
				To:      normalizeList(f.To),
				Initial: f.Initial,
			})
		}
		cfg.Flows = flows
	}

	return cfg, nil
}

// overlayBindings applies per-variant overrides. Flows are not rewritten for
// renamed variables; declare [[flows]] alongside a rename.
func overlayBindings(base []bridge.Binding, overrides []fileVariable, prefix string) ([]bridge.Binding, error) {
	out := append([]bridge.Binding(nil), base...)
	for _, o := range overrides {
		variant := strings.TrimSpace(o.Variant)
		idx := -1
		for i, b := range out {
			if b.Variant == variant {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%w: %q", bridge.ErrUnknownVariant, variant)
		}
		if name := strings.TrimSpace(o.Name); name != "" {
			out[idx].Name = name
		} else {
			out[idx].Name = prefix + variant
		}
		policy, err := variable.ParsePolicy(o.Policy)
		if err != nil {
			return nil, fmt.Errorf("variable %s: %w", variant, err)
		}
		out[idx].Policy = policy
	}
	return out, nil
}

func parseDuration(key, raw string) (time.Duration, error) {
	d, err := time.ParseDuration(strings.TrimSpace(raw))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", key, err)
	}
	return d, nil
}

func sessionRole(raw string) session.Role {
	return session.Role(strings.ToLower(strings.TrimSpace(raw)))
}

func normalizeList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, item := range in {
		v := strings.TrimSpace(item)
		if v == "" {
			continue
		}
		out = append(out, v)
	}
	return out
}
