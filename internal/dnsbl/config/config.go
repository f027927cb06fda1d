package config

import (
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/providers/env/v2"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// AppConfig holds configuration values parsed from environment variables.
type AppConfig struct {
	// Env is the runtime environment, either "dev" or "prod".
	Env string `koanf:"env" validate:"required,oneof=dev prod"`

	Log LogConfig `koanf:"log" validate:"required"`

	// Listen is the client listener address.
	Listen string `koanf:"listen" validate:"required,host_port"`

	Metrics MetricsConfig `koanf:"metrics"`

	Resolver ResolverConfig `koanf:"resolver" validate:"required"`

	Blacklists BlacklistsConfig `koanf:"blacklists" validate:"required"`
}

type LogConfig struct {
	// Level controls log verbosity: "debug", "info", "warn", or "error".
	Level string `koanf:"level" validate:"required,oneof=debug info warn error"`
}

type MetricsConfig struct {
	// Listen is the /metrics address; empty disables the endpoint.
	Listen string `koanf:"listen" validate:"omitempty,host_port"`
}

type ResolverConfig struct {
	// Servers is a list of upstream DNS servers in ip:port format.
	Servers []string `koanf:"servers" validate:"required,dive,ip_port"`

	Timeout time.Duration `koanf:"timeout" validate:"gt=0"`

	// CacheSize bounds the reply cache; 0 disables it.
	CacheSize int `koanf:"cache_size" validate:"gte=0"`
}

type BlacklistsConfig struct {
	// File is the YAML file holding the blacklist definitions.
	File string `koanf:"file" validate:"required"`

	// Watch reloads the file when it changes.
	Watch bool `koanf:"watch"`
}

// DEFAULT_APP_CONFIG defines the default application configuration.
var DEFAULT_APP_CONFIG = AppConfig{
	Env:    "prod",
	Log:    LogConfig{Level: "info"},
	Listen: ":6667",
	Resolver: ResolverConfig{
		Servers:   []string{"127.0.0.1:53"},
		Timeout:   5 * time.Second,
		CacheSize: 4096,
	},
	Blacklists: BlacklistsConfig{
		File:  "/etc/rr-dnsbl/blacklists.yaml",
		Watch: true,
	},
}

// sections are the nested config keys; DNSBL_RESOLVER_CACHE_SIZE maps to
// resolver.cache_size.
var sections = []string{"log", "metrics", "resolver", "blacklists"}

// validIPPort validates whether the provided field value is a valid IP address and port combination.
func validIPPort(fl validator.FieldLevel) bool {
	ip, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil || ip == "" || port == "" {
		return false
	}
	if net.ParseIP(ip) == nil {
		return false
	}
	return validPort(port)
}

// validHostPort accepts "host:port" and ":port" listen addresses.
func validHostPort(fl validator.FieldLevel) bool {
	_, port, err := net.SplitHostPort(fl.Field().String())
	if err != nil {
		return false
	}
	return validPort(port)
}

func validPort(port string) bool {
	portNum, err := strconv.ParseUint(port, 10, 16)
	return err == nil && portNum > 0
}

// envKey turns a prefix-stripped environment variable into a koanf path.
func envKey(key string) string {
	key = strings.ToLower(key)
	for _, s := range sections {
		if rest, ok := strings.CutPrefix(key, s+"_"); ok {
			return s + "." + rest
		}
	}
	return key
}

// envLoader loads environment variables with the prefix "DNSBL_".
// and can be mocked in tests.
var envLoader = func(k *koanf.Koanf) error {
	return k.Load(env.Provider(".", env.Opt{
		Prefix: "DNSBL_",
		TransformFunc: func(key, value string) (string, any) {
			key = envKey(strings.TrimPrefix(key, "DNSBL_"))
			value = strings.TrimSpace(value)

			if value == "" {
				return key, value
			}

			if strings.Contains(value, " ") || strings.Contains(value, ",") {
				parts := strings.FieldsFunc(value, func(r rune) bool {
					return r == ' ' || r == ','
				})
				return key, parts
			}

			return key, value
		},
	}), nil)
}

// defaultLoader loads DEFAULT_APP_CONFIG into k.
var defaultLoader = func(k *koanf.Koanf) error {
	return k.Load(structs.Provider(DEFAULT_APP_CONFIG, "koanf"), nil)
}

// registerValidation registers the custom tags used by AppConfig and
// BlacklistConfig.
var registerValidation = func(v *validator.Validate) error {
	if err := v.RegisterValidation("ip_port", validIPPort); err != nil {
		return err
	}
	if err := v.RegisterValidation("host_port", validHostPort); err != nil {
		return err
	}
	return v.RegisterValidation("dnsbl_zone", validListZone)
}

// Load parses environment variables and returns an AppConfig instance.
// It applies default values and runs validation automatically.
func Load() (*AppConfig, error) {
	k := koanf.New(".")

	err := defaultLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading default config: %w", err)
	}

	err = envLoader(k)
	if err != nil {
		return nil, fmt.Errorf("error loading env: %w", err)
	}

	var cfg AppConfig
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, fmt.Errorf("error unmarshalling config: %w", err)
	}

	validate := validator.New(validator.WithRequiredStructEnabled())
	err = registerValidation(validate)
	if err != nil {
		return nil, fmt.Errorf("error registering validation: %w", err)
	}

	err = validate.Struct(&cfg)
	if err != nil {
		return nil, fmt.Errorf("validation failed: %w", err)
	}

	return &cfg, nil
}
