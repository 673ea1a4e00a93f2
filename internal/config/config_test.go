package config

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validInstance() InstanceConfig {
	return InstanceConfig{
		Name:           "demo",
		Nick:           "demo",
		Ircname:        "Demo",
		Channel:        "#demo",
		RefreshMinutes: 30,
		OpmlPath:       "feeds.opml",
	}
}

func TestSelectInstance(t *testing.T) {
	t.Parallel()
	a := validInstance()
	b := validInstance()
	b.Name = "other"
	b.Server = "irc.example.net"
	b.Port = 6697

	tests := []struct {
		name     string
		cfg      *Config
		instance string
		want     string
		wantErr  string
	}{
		{name: "by name", cfg: &Config{Instances: []InstanceConfig{a, b}}, instance: "other", want: "other"},
		{name: "single instance default", cfg: &Config{Instances: []InstanceConfig{a}}, instance: "", want: "demo"},
		{name: "multiple need flag", cfg: &Config{Instances: []InstanceConfig{a, b}}, instance: "", wantErr: "-instance required"},
		{name: "unknown", cfg: &Config{Instances: []InstanceConfig{a}}, instance: "nope", wantErr: "not found"},
		{name: "empty file", cfg: &Config{}, instance: "demo", wantErr: "no instances"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := SelectInstance(tt.cfg, "bot.yaml", tt.instance)
			if tt.wantErr != "" {
				if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
					t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
				}
				return
			}
			if err != nil {
				t.Fatalf("SelectInstance: %v", err)
			}
			if got.Name != tt.want {
				t.Fatalf("Name = %q, want %q", got.Name, tt.want)
			}
		})
	}
}

func TestSelectInstanceAppliesDefaults(t *testing.T) {
	t.Parallel()
	cfg := &Config{Instances: []InstanceConfig{validInstance()}}
	got, err := SelectInstance(cfg, "bot.yaml", "demo")
	if err != nil {
		t.Fatalf("SelectInstance: %v", err)
	}
	if got.Server != DefaultServer {
		t.Fatalf("Server = %q, want %q", got.Server, DefaultServer)
	}
	if got.Port != DefaultPort {
		t.Fatalf("Port = %d, want %d", got.Port, DefaultPort)
	}

	cfg = &Config{Instances: []InstanceConfig{{
		Name: "x", Nick: "x", Ircname: "x", Channel: "#x",
		RefreshMinutes: 5, OpmlPath: "x.opml",
		Server: "irc.example.net", Port: 6697,
	}}}
	got, err = SelectInstance(cfg, "bot.yaml", "x")
	if err != nil {
		t.Fatalf("SelectInstance: %v", err)
	}
	if got.Server != "irc.example.net" || got.Port != 6697 {
		t.Fatalf("explicit server/port overridden: %s:%d", got.Server, got.Port)
	}
}

func TestValidateInstance(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		mutate  func(*InstanceConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(*InstanceConfig) {}},
		{name: "missing name", mutate: func(i *InstanceConfig) { i.Name = " " }, wantErr: "name is required"},
		{name: "missing nick", mutate: func(i *InstanceConfig) { i.Nick = "" }, wantErr: "nick is required"},
		{name: "missing ircname", mutate: func(i *InstanceConfig) { i.Ircname = "" }, wantErr: "ircname is required"},
		{name: "missing channel", mutate: func(i *InstanceConfig) { i.Channel = "" }, wantErr: "channel is required"},
		{name: "zero refresh", mutate: func(i *InstanceConfig) { i.RefreshMinutes = 0 }, wantErr: "refresh_minutes"},
		{name: "negative refresh", mutate: func(i *InstanceConfig) { i.RefreshMinutes = -5 }, wantErr: "refresh_minutes"},
		{name: "missing opml", mutate: func(i *InstanceConfig) { i.OpmlPath = "" }, wantErr: "opml_path"},
		{name: "port out of range", mutate: func(i *InstanceConfig) { i.Port = 70000 }, wantErr: "out of range"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			inst := validInstance()
			tt.mutate(&inst)
			err := ValidateInstance(inst)
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("ValidateInstance: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

const sampleYAML = `logging:
  level: info
  console: true
  file:
    enabled: false
    path: ""
  irc:
    enabled: false
    target: ""
    min_level: warn
    rate_per_sec: 1
gateway:
  drain_interval: 1s
  max_workers: 4
instances:
  - name: demo
    nick: demo
    ircname: Demo
    channel: "#demo"
    refresh_minutes: 30
    opml_path: feeds.opml
    extract_url: true
    multisource: true
  - name: other
    nick: other
    ircname: Other
    channel: "#other"
    refresh_minutes: 60
    opml_path: other.opml
    server: irc.example.net
    port: 6697
`

func TestParseYAML(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, "bot.yaml", sampleYAML)
	m := NewConfigManager(path)

	cfg, err := m.Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Logging.Level != "info" || !cfg.Logging.Console {
		t.Fatalf("logging = %+v", cfg.Logging)
	}
	if cfg.Gateway.DrainInterval != "1s" || cfg.Gateway.MaxWorkers != 4 {
		t.Fatalf("gateway = %+v", cfg.Gateway)
	}
	if len(cfg.Instances) != 2 {
		t.Fatalf("instances = %d, want 2", len(cfg.Instances))
	}
	if !cfg.Instances[0].ExtractURL || !cfg.Instances[0].Multisource {
		t.Fatalf("instance flags = %+v", cfg.Instances[0])
	}
	if cfg.Instances[1].Server != "irc.example.net" || cfg.Instances[1].Port != 6697 {
		t.Fatalf("instance server = %s:%d", cfg.Instances[1].Server, cfg.Instances[1].Port)
	}
	if m.Get() != cfg {
		t.Fatal("Get should return the committed config")
	}
}

func TestParseRejectsUnknownFields(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, "bot.yaml", sampleYAML+"bogus_section: 1\n")
	m := NewConfigManager(path)
	if _, err := m.Load(); err == nil {
		t.Fatal("expected error for unknown top-level field")
	}
}

func TestParseDurationField(t *testing.T) {
	t.Parallel()
	tests := []struct {
		raw     string
		want    time.Duration
		wantErr bool
	}{
		{raw: "", want: 0},
		{raw: "  ", want: 0},
		{raw: "500ms", want: 500 * time.Millisecond},
		{raw: "1m30s", want: 90 * time.Second},
		{raw: "-1s", wantErr: true},
		{raw: "nope", wantErr: true},
	}
	for _, tt := range tests {
		got, err := ParseDurationField("gateway.drain_interval", tt.raw)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("ParseDurationField(%q): want error", tt.raw)
			}
			continue
		}
		if err != nil {
			t.Fatalf("ParseDurationField(%q): %v", tt.raw, err)
		}
		if got != tt.want {
			t.Fatalf("ParseDurationField(%q) = %v, want %v", tt.raw, got, tt.want)
		}
	}

	d, err := ParseDurationOrDefault("gateway.drain_interval", "", time.Second)
	if err != nil || d != time.Second {
		t.Fatalf("ParseDurationOrDefault empty = %v, %v; want 1s", d, err)
	}
	d, err = ParseDurationOrDefault("gateway.drain_interval", "250ms", time.Second)
	if err != nil || d != 250*time.Millisecond {
		t.Fatalf("ParseDurationOrDefault set = %v, %v; want 250ms", d, err)
	}
}

func TestSummarizeConfigChange(t *testing.T) {
	t.Parallel()
	base := func() *Config {
		return &Config{
			Logging:   LoggingConfig{Level: "info", Console: true},
			Gateway:   GatewayConfig{DrainInterval: "1s"},
			Instances: []InstanceConfig{validInstance()},
		}
	}

	oldCfg, newCfg := base(), base()
	newCfg.Logging.Level = "debug"
	changed, _, restart := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 1 || changed[0] != "logging" {
		t.Fatalf("changed = %v, want [logging]", changed)
	}
	if len(restart) != 0 {
		t.Fatalf("restart = %v, want none for logging", restart)
	}

	oldCfg, newCfg = base(), base()
	newCfg.Gateway.MaxWorkers = 16
	newCfg.Instances[0].RefreshMinutes = 5
	changed, _, restart = SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 2 {
		t.Fatalf("changed = %v, want gateway+instances", changed)
	}
	if len(restart) != 2 || restart[0] != "gateway" || restart[1] != "instances" {
		t.Fatalf("restart = %v, want [gateway instances]", restart)
	}

	oldCfg, newCfg = base(), base()
	newCfg.Debug.Token = "sekret"
	changed, attrs, _ := SummarizeConfigChange(oldCfg, newCfg)
	if len(changed) != 1 || changed[0] != "debug" {
		t.Fatalf("changed = %v, want [debug]", changed)
	}
	if len(attrs) == 0 {
		t.Fatal("expected debug attrs")
	}

	changed, _, _ = SummarizeConfigChange(base(), base())
	if len(changed) != 0 {
		t.Fatalf("changed = %v, want none for identical configs", changed)
	}
}

func TestPublishDropsOldestWhenFull(t *testing.T) {
	t.Parallel()
	m := NewConfigManager("bot.yaml")
	ch := m.Subscribe(1)
	defer m.Unsubscribe(ch)

	first := &Config{Logging: LoggingConfig{Level: "info"}}
	second := &Config{Logging: LoggingConfig{Level: "debug"}}
	m.publish(first)
	m.publish(second)

	select {
	case got := <-ch:
		if got != second {
			t.Fatalf("got level %q, want the newest config", got.Logging.Level)
		}
	default:
		t.Fatal("no config on subscriber channel")
	}
}

func TestWatchPublishesValidatedChange(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, "bot.yaml", sampleYAML)
	m := NewConfigManager(path)
	if _, err := m.Load(); err != nil {
		t.Fatalf("Load: %v", err)
	}

	validated := make(chan struct{}, 1)
	m.SetValidator(func(ctx context.Context, cfg *Config) error {
		select {
		case validated <- struct{}{}:
		default:
		}
		return nil
	})
	sub := m.Subscribe(4)
	defer m.Unsubscribe(sub)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.Watch(ctx)
	}()

	// Give the watcher a moment to register before the write.
	time.Sleep(200 * time.Millisecond)
	updated := strings.Replace(sampleYAML, "level: info", "level: debug", 1)
	if err := os.WriteFile(path, []byte(updated), 0o644); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	select {
	case cfg := <-sub:
		if cfg.Logging.Level != "debug" {
			t.Fatalf("published level = %q, want debug", cfg.Logging.Level)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no publish after config change")
	}
	select {
	case <-validated:
	default:
		t.Fatal("validator was not consulted")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Watch did not stop on cancel")
	}
}
