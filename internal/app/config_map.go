package app

import (
	"time"

	"feedbot/internal/config"
	"feedbot/internal/observability/debugsrv"
	logx "feedbot/pkg/logx"
)

// gatewayRuntime is the gateway section with durations parsed and
// defaults applied.
type gatewayRuntime struct {
	drain        time.Duration
	cooldown     time.Duration
	retry        time.Duration
	fetchTimeout time.Duration

	maxWorkers int
	sendRate   float64
	sendBurst  int
}

func mapGatewayConfig(cfg *config.Config) (gatewayRuntime, error) {
	var rt gatewayRuntime
	var err error

	if rt.drain, err = config.ParseDurationOrDefault("gateway.drain_interval", cfg.Gateway.DrainInterval, time.Second); err != nil {
		return rt, err
	}
	if rt.cooldown, err = config.ParseDurationOrDefault("gateway.reconnect_cooldown", cfg.Gateway.ReconnectCooldown, 60*time.Second); err != nil {
		return rt, err
	}
	if rt.retry, err = config.ParseDurationOrDefault("gateway.reconnect_retry", cfg.Gateway.ReconnectRetry, 60*time.Second); err != nil {
		return rt, err
	}
	if rt.fetchTimeout, err = config.ParseDurationOrDefault("gateway.fetch_timeout", cfg.Gateway.FetchTimeout, 30*time.Second); err != nil {
		return rt, err
	}

	rt.maxWorkers = cfg.Gateway.MaxWorkers
	if rt.maxWorkers <= 0 {
		rt.maxWorkers = 8
	}
	rt.sendRate = float64(cfg.Gateway.SendRatePerSec)
	if rt.sendRate <= 0 {
		rt.sendRate = 2
	}
	rt.sendBurst = cfg.Gateway.SendBurst
	if rt.sendBurst <= 0 {
		rt.sendBurst = 5
	}
	return rt, nil
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	d := cfg.Debug
	read, err := config.ParseDurationOrDefault("debug.read_timeout", d.ReadTimeout, 5*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	// WriteTimeout stays 0 unless set: pprof profile captures run 30s+.
	write, err := config.ParseDurationOrDefault("debug.write_timeout", d.WriteTimeout, 0)
	if err != nil {
		return debugsrv.Config{}, err
	}
	idle, err := config.ParseDurationOrDefault("debug.idle_timeout", d.IdleTimeout, 60*time.Second)
	if err != nil {
		return debugsrv.Config{}, err
	}
	return debugsrv.Config{
		Enabled:       d.Enabled,
		Addr:          d.Addr,
		Token:         d.Token,
		AllowInsecure: d.AllowInsecure,
		Pprof:         d.Pprof,
		Metrics:       d.Metrics,
		ReadTimeout:   read,
		WriteTimeout:  write,
		IdleTimeout:   idle,
	}, nil
}

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		IRC: logx.IRCConfig{
			Enabled:    cfg.Logging.IRC.Enabled,
			Target:     cfg.Logging.IRC.Target,
			MinLevel:   cfg.Logging.IRC.MinLevel,
			RatePerSec: cfg.Logging.IRC.RatePerSec,
		},
	}
}
