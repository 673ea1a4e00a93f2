package config

import (
	"fmt"
	"strings"
)

type Config struct {
	Logging LoggingConfig `json:"logging"`
	Debug   DebugConfig   `json:"debug,omitempty"`

	// Gateway tunes the poll/drain/reconnect machinery shared by all
	// instances. Changes here require a restart; only logging and debug
	// sections apply live.
	Gateway GatewayConfig `json:"gateway,omitempty"`

	// Instances lists selectable bot identities. Exactly one instance runs
	// per process (-instance flag).
	Instances []InstanceConfig `json:"instances"`
}

// InstanceConfig is one named bot identity: which server to sit on, which
// channel to announce into, and which subscription list to poll.
type InstanceConfig struct {
	Name           string `json:"name"`
	Nick           string `json:"nick"`
	Ircname        string `json:"ircname"`
	Channel        string `json:"channel"`
	RefreshMinutes int    `json:"refresh_minutes"`
	OpmlPath       string `json:"opml_path"`

	ExtractURL         bool `json:"extract_url,omitempty"`
	Multisource        bool `json:"multisource,omitempty"`
	IncludeDescription bool `json:"include_description,omitempty"`

	Server string `json:"server,omitempty"` // default: open.ircnet.net
	Port   int    `json:"port,omitempty"`   // default: 6667
}

// GatewayConfig tunes timings of the pipeline.
//
// All durations are Go duration strings (e.g. "500ms", "10s", "1m").
//
// Defaults (when fields are omitted/zero):
//   - drain_interval: "1s"
//   - reconnect_cooldown: "60s"
//   - reconnect_retry: "60s"
//   - fetch_timeout: "30s"
//   - max_workers: 8
//   - send_rate_per_sec: 2
//   - send_burst: 5
type GatewayConfig struct {
	DrainInterval     string `json:"drain_interval,omitempty"`
	ReconnectCooldown string `json:"reconnect_cooldown,omitempty"`
	ReconnectRetry    string `json:"reconnect_retry,omitempty"`
	FetchTimeout      string `json:"fetch_timeout,omitempty"`

	// MaxWorkers caps the fetch pool; the effective size is
	// min(max_workers, feed count), at least 1.
	MaxWorkers int `json:"max_workers,omitempty"`

	SendRatePerSec int `json:"send_rate_per_sec,omitempty"`
	SendBurst      int `json:"send_burst,omitempty"`
}

// DebugConfig controls the optional debug HTTP server (pprof + metrics).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6060").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6060"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	Pprof   bool `json:"pprof,omitempty"`
	Metrics bool `json:"metrics,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /debug/pprof/profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
	IRC     LoggingIRC  `json:"irc"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingIRC mirrors warnings and errors into an IRC target (a nick or a
// channel) as NOTICEs. Keep MinLevel at WARN or above; INFO in a busy channel
// is noise.
type LoggingIRC struct {
	Enabled    bool   `json:"enabled"`
	Target     string `json:"target"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

const (
	DefaultServer = "open.ircnet.net"
	DefaultPort   = 6667
)

// SelectInstance picks the named instance, defaulting per-instance fields.
// An empty name is allowed only when the file defines exactly one instance.
func SelectInstance(cfg *Config, path, name string) (InstanceConfig, error) {
	if cfg == nil || len(cfg.Instances) == 0 {
		return InstanceConfig{}, fmt.Errorf("no instances defined in %s", path)
	}
	if strings.TrimSpace(name) == "" {
		if len(cfg.Instances) == 1 {
			return withInstanceDefaults(cfg.Instances[0]), nil
		}
		return InstanceConfig{}, fmt.Errorf("-instance required: %s defines %d instances", path, len(cfg.Instances))
	}
	for _, inst := range cfg.Instances {
		if inst.Name == name {
			return withInstanceDefaults(inst), nil
		}
	}
	return InstanceConfig{}, fmt.Errorf("instance %q not found in %s", name, path)
}

func withInstanceDefaults(inst InstanceConfig) InstanceConfig {
	if strings.TrimSpace(inst.Server) == "" {
		inst.Server = DefaultServer
	}
	if inst.Port == 0 {
		inst.Port = DefaultPort
	}
	return inst
}

// ValidateInstance checks the required per-instance fields. It is called for
// every listed instance at load time so a broken sibling entry surfaces even
// when another instance is selected.
func ValidateInstance(inst InstanceConfig) error {
	if strings.TrimSpace(inst.Name) == "" {
		return fmt.Errorf("instances[].name is required")
	}
	if strings.TrimSpace(inst.Nick) == "" {
		return fmt.Errorf("instance %q: nick is required", inst.Name)
	}
	if strings.TrimSpace(inst.Ircname) == "" {
		return fmt.Errorf("instance %q: ircname is required", inst.Name)
	}
	if strings.TrimSpace(inst.Channel) == "" {
		return fmt.Errorf("instance %q: channel is required", inst.Name)
	}
	if inst.RefreshMinutes <= 0 {
		return fmt.Errorf("instance %q: refresh_minutes must be > 0", inst.Name)
	}
	if strings.TrimSpace(inst.OpmlPath) == "" {
		return fmt.Errorf("instance %q: opml_path is required", inst.Name)
	}
	if inst.Port < 0 || inst.Port > 65535 {
		return fmt.Errorf("instance %q: port %d out of range", inst.Name, inst.Port)
	}
	return nil
}
