package config

import (
	"reflect"
	"sort"
	"strings"

	logx "feedbot/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections,
// (2) safe structured attrs for logging (never includes secrets like tokens),
// and (3) the subset of changed sections that only take effect after a
// restart (gateway timings and the instances list are fixed at startup).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field, []string) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 4)
	restart := make([]string, 0, 2)
	attrs := make([]logx.Field, 0, 12)

	// Logging (live)
	if oldCfg.Logging.Level != newCfg.Logging.Level ||
		oldCfg.Logging.Console != newCfg.Logging.Console ||
		oldCfg.Logging.File.Enabled != newCfg.Logging.File.Enabled ||
		strings.TrimSpace(oldCfg.Logging.File.Path) != strings.TrimSpace(newCfg.Logging.File.Path) ||
		oldCfg.Logging.IRC != newCfg.Logging.IRC {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logx.irc_enabled", newCfg.Logging.IRC.Enabled),
		)
	}

	// Debug server (live via Reconfigure; never log token)
	if oldCfg.Debug.Enabled != newCfg.Debug.Enabled ||
		strings.TrimSpace(oldCfg.Debug.Addr) != strings.TrimSpace(newCfg.Debug.Addr) ||
		oldCfg.Debug.AllowInsecure != newCfg.Debug.AllowInsecure ||
		oldCfg.Debug.Pprof != newCfg.Debug.Pprof ||
		oldCfg.Debug.Metrics != newCfg.Debug.Metrics ||
		strings.TrimSpace(oldCfg.Debug.ReadTimeout) != strings.TrimSpace(newCfg.Debug.ReadTimeout) ||
		strings.TrimSpace(oldCfg.Debug.WriteTimeout) != strings.TrimSpace(newCfg.Debug.WriteTimeout) ||
		strings.TrimSpace(oldCfg.Debug.IdleTimeout) != strings.TrimSpace(newCfg.Debug.IdleTimeout) ||
		(strings.TrimSpace(oldCfg.Debug.Token) != "") != (strings.TrimSpace(newCfg.Debug.Token) != "") {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", newCfg.Debug.Enabled),
			logx.String("debug.addr", strings.TrimSpace(newCfg.Debug.Addr)),
			logx.Bool("debug.pprof", newCfg.Debug.Pprof),
			logx.Bool("debug.metrics", newCfg.Debug.Metrics),
			logx.Bool("debug.token_set", strings.TrimSpace(newCfg.Debug.Token) != ""),
		)
	}

	// Gateway timings (restart required: the running loop snapshots them at start)
	if oldCfg.Gateway != newCfg.Gateway {
		changed = append(changed, "gateway")
		restart = append(restart, "gateway")
		attrs = append(attrs,
			logx.String("gateway.drain_interval", strings.TrimSpace(newCfg.Gateway.DrainInterval)),
			logx.String("gateway.reconnect_cooldown", strings.TrimSpace(newCfg.Gateway.ReconnectCooldown)),
			logx.Int("gateway.max_workers", newCfg.Gateway.MaxWorkers),
		)
	}

	// Instances (restart required: feed list and connection identity are
	// loaded once at startup)
	if !reflect.DeepEqual(oldCfg.Instances, newCfg.Instances) {
		changed = append(changed, "instances")
		restart = append(restart, "instances")
		attrs = append(attrs, logx.Int("instances.count", len(newCfg.Instances)))
	}

	sort.Strings(changed)
	sort.Strings(restart)
	return changed, attrs, restart
}
