package config

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/v2"
)

func TestLoad_Defaults(t *testing.T) {
	// No env overrides
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Env != "prod" {
		t.Errorf("expected Env=prod, got %q", cfg.Env)
	}
	if cfg.Log.Level != "info" {
		t.Errorf("expected Log.Level=info, got %q", cfg.Log.Level)
	}
	if cfg.Listen != ":6667" {
		t.Errorf("expected Listen=:6667, got %q", cfg.Listen)
	}
	if cfg.Metrics.Listen != "" {
		t.Errorf("expected Metrics.Listen to be empty, got %q", cfg.Metrics.Listen)
	}
	if len(cfg.Resolver.Servers) != 1 || cfg.Resolver.Servers[0] != "127.0.0.1:53" {
		t.Errorf("expected Resolver.Servers=[127.0.0.1:53], got %v", cfg.Resolver.Servers)
	}
	if cfg.Resolver.Timeout != 5*time.Second {
		t.Errorf("expected Resolver.Timeout=5s, got %v", cfg.Resolver.Timeout)
	}
	if cfg.Resolver.CacheSize != 4096 {
		t.Errorf("expected Resolver.CacheSize=4096, got %d", cfg.Resolver.CacheSize)
	}
	if cfg.Blacklists.File != "/etc/rr-dnsbl/blacklists.yaml" {
		t.Errorf("expected Blacklists.File=/etc/rr-dnsbl/blacklists.yaml, got %q", cfg.Blacklists.File)
	}
	if !cfg.Blacklists.Watch {
		t.Errorf("expected Blacklists.Watch=true")
	}
}

func TestLoad_ValidOverrides(t *testing.T) {
	t.Setenv("DNSBL_ENV", "dev")
	t.Setenv("DNSBL_LOG_LEVEL", "debug")
	t.Setenv("DNSBL_LISTEN", "127.0.0.1:7000")
	t.Setenv("DNSBL_METRICS_LISTEN", ":9100")
	t.Setenv("DNSBL_RESOLVER_SERVERS", "8.8.8.8:53, 8.8.4.4:53")
	t.Setenv("DNSBL_RESOLVER_TIMEOUT", "1500ms")
	t.Setenv("DNSBL_RESOLVER_CACHE_SIZE", "0")
	t.Setenv("DNSBL_BLACKLISTS_FILE", "/tmp/lists.yaml")
	t.Setenv("DNSBL_BLACKLISTS_WATCH", "false")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned error: %v", err)
	}

	if cfg.Env != "dev" {
		t.Errorf("expected Env=dev, got %q", cfg.Env)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("expected Log.Level=debug, got %q", cfg.Log.Level)
	}
	if cfg.Listen != "127.0.0.1:7000" {
		t.Errorf("expected Listen=127.0.0.1:7000, got %q", cfg.Listen)
	}
	if cfg.Metrics.Listen != ":9100" {
		t.Errorf("expected Metrics.Listen=:9100, got %q", cfg.Metrics.Listen)
	}
	want := []string{"8.8.8.8:53", "8.8.4.4:53"}
	if len(cfg.Resolver.Servers) != len(want) {
		t.Fatalf("expected %d servers, got %v", len(want), cfg.Resolver.Servers)
	}
	for i, v := range want {
		if cfg.Resolver.Servers[i] != v {
			t.Errorf("expected Resolver.Servers[%d]=%q, got %q", i, v, cfg.Resolver.Servers[i])
		}
	}
	if cfg.Resolver.Timeout != 1500*time.Millisecond {
		t.Errorf("expected Resolver.Timeout=1.5s, got %v", cfg.Resolver.Timeout)
	}
	if cfg.Resolver.CacheSize != 0 {
		t.Errorf("expected Resolver.CacheSize=0, got %d", cfg.Resolver.CacheSize)
	}
	if cfg.Blacklists.File != "/tmp/lists.yaml" {
		t.Errorf("expected Blacklists.File=/tmp/lists.yaml, got %q", cfg.Blacklists.File)
	}
	if cfg.Blacklists.Watch {
		t.Errorf("expected Blacklists.Watch=false")
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"bad env", "DNSBL_ENV", "staging"},
		{"bad level", "DNSBL_LOG_LEVEL", "trace"},
		{"bad listen", "DNSBL_LISTEN", "6667"},
		{"bad metrics listen", "DNSBL_METRICS_LISTEN", "localhost"},
		{"hostname server", "DNSBL_RESOLVER_SERVERS", "dns.example:53"},
		{"server without port", "DNSBL_RESOLVER_SERVERS", "8.8.8.8"},
		{"zero timeout", "DNSBL_RESOLVER_TIMEOUT", "0s"},
		{"negative cache", "DNSBL_RESOLVER_CACHE_SIZE", "-1"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), "validation failed") {
				t.Errorf("expected validation error, got %v", err)
			}
		})
	}
}

func TestLoad_UnmarshalError(t *testing.T) {
	t.Setenv("DNSBL_RESOLVER_TIMEOUT", "soon")
	_, err := Load()
	if err == nil || !strings.Contains(err.Error(), "error unmarshalling config") {
		t.Fatalf("expected unmarshal error, got %v", err)
	}
}

func TestLoad_LoaderErrors(t *testing.T) {
	origDefault, origEnv, origReg := defaultLoader, envLoader, registerValidation
	t.Cleanup(func() {
		defaultLoader, envLoader, registerValidation = origDefault, origEnv, origReg
	})

	defaultLoader = func(*koanf.Koanf) error { return errors.New("boom") }
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "error loading default config") {
		t.Errorf("expected default loader error, got %v", err)
	}
	defaultLoader = origDefault

	envLoader = func(*koanf.Koanf) error { return errors.New("boom") }
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "error loading env") {
		t.Errorf("expected env loader error, got %v", err)
	}
	envLoader = origEnv

	registerValidation = func(*validator.Validate) error { return errors.New("boom") }
	if _, err := Load(); err == nil || !strings.Contains(err.Error(), "error registering validation") {
		t.Errorf("expected registration error, got %v", err)
	}
}

func TestEnvKey(t *testing.T) {
	tests := map[string]string{
		"ENV":                 "env",
		"LISTEN":              "listen",
		"LOG_LEVEL":           "log.level",
		"RESOLVER_CACHE_SIZE": "resolver.cache_size",
		"BLACKLISTS_FILE":     "blacklists.file",
		"METRICS_LISTEN":      "metrics.listen",
	}
	for in, want := range tests {
		if got := envKey(in); got != want {
			t.Errorf("envKey(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidators(t *testing.T) {
	v := validator.New()
	if err := registerValidation(v); err != nil {
		t.Fatalf("registerValidation: %v", err)
	}
	tests := []struct {
		tag   string
		value string
		ok    bool
	}{
		{"ip_port", "1.1.1.1:53", true},
		{"ip_port", "[2001:db8::1]:53", true},
		{"ip_port", "1.1.1.1:0", false},
		{"ip_port", "1.1.1.1:70000", false},
		{"ip_port", "one.one:53", false},
		{"host_port", ":6667", true},
		{"host_port", "localhost:6667", true},
		{"host_port", "localhost", false},
		{"dnsbl_zone", "dnsbl.example.org", true},
		{"dnsbl_zone", "org", false},
		{"dnsbl_zone", "co.uk", false},
	}
	for _, tt := range tests {
		err := v.Var(tt.value, tt.tag)
		if (err == nil) != tt.ok {
			t.Errorf("%s(%q): got err=%v, want ok=%v", tt.tag, tt.value, err, tt.ok)
		}
	}
}
