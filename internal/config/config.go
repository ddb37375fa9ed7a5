// Package config reads the service configuration from flags, MODELGATE_*
// environment variables and an optional YAML file, in that priority order.
package config

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/hanpama/modelgate/internal/auth"
)

// EnvPrefix prefixes the environment variables. A flag such as
// server.max-body-bytes is read from MODELGATE_SERVER_MAX_BODY_BYTES.
const EnvPrefix = "MODELGATE"

type Config struct {
	// Spec is the path of the YAML application spec.
	Spec     string         `mapstructure:"spec"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Hooks    HooksConfig    `mapstructure:"hooks"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Otel     OtelConfig     `mapstructure:"otel"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
	Log      LogConfig      `mapstructure:"log"`
}

type ServerConfig struct {
	Addr         string        `mapstructure:"addr"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Pretty       bool          `mapstructure:"pretty"`
	MaxBodyBytes int64         `mapstructure:"max-body-bytes"`
	CORSOrigins  []string      `mapstructure:"cors-origins"`
	PageSize     int64         `mapstructure:"page-size"`
}

type DatabaseConfig struct {
	// URL is a PostgreSQL connection string. Empty selects the in-memory
	// store.
	URL     string `mapstructure:"url"`
	Migrate bool   `mapstructure:"migrate"`
}

type HooksConfig struct {
	// Endpoints maps grpc runtimes to addresses as "runtime=host:port".
	// Repeating a runtime adds endpoints to it.
	Endpoints           []string      `mapstructure:"endpoints"`
	RPCTimeout          time.Duration `mapstructure:"rpc-timeout"`
	MaxConnsPerEndpoint int           `mapstructure:"max-conns-per-endpoint"`
}

type AuthConfig struct {
	TokenTTL   time.Duration `mapstructure:"token-ttl"`
	BcryptCost int           `mapstructure:"bcrypt-cost"`
}

type OtelConfig struct {
	Endpoint string `mapstructure:"endpoint"`
	Service  string `mapstructure:"service"`
}

type MetricsConfig struct {
	// Addr serves /metrics on a separate listener. Empty disables metrics.
	Addr string `mapstructure:"addr"`
}

type LogConfig struct {
	Level string `mapstructure:"level"`
}

// Flags registers every configuration option on fs with its default.
func Flags(fs *pflag.FlagSet) {
	fs.StringP("config", "c", "", "Configuration file to read from")
	fs.String("spec", "app.yaml", "Application spec file")

	fs.String("server.addr", ":8080", "HTTP listen address")
	fs.Duration("server.timeout", 10*time.Second, "Per-request timeout")
	fs.Bool("server.pretty", false, "Pretty-print JSON responses")
	fs.Int64("server.max-body-bytes", 1<<20, "Maximum request body size, 0 for unlimited")
	fs.StringSlice("server.cors-origins", nil, "Allowed CORS origins")
	fs.Int64("server.page-size", 20, "Default page size of pageable lists")

	fs.String("database.url", "", "PostgreSQL connection string, empty for the in-memory store")
	fs.Bool("database.migrate", false, "Create missing tables before serving")

	fs.StringSlice("hooks.endpoints", nil, "Hook runtime endpoints as runtime=host:port")
	fs.Duration("hooks.rpc-timeout", 3*time.Second, "Hook call timeout")
	fs.Int("hooks.max-conns-per-endpoint", 2, "Max connections per hook endpoint")

	fs.Duration("auth.token-ttl", auth.DefaultTokenTTL, "Access token lifetime")
	fs.Int("auth.bcrypt-cost", 10, "bcrypt cost of password hashes")

	fs.String("otel.endpoint", "", "OTLP collector endpoint")
	fs.String("otel.service", "modelgate", "OpenTelemetry service name")

	fs.String("metrics.addr", "", "Prometheus metrics listen address")

	fs.String("log.level", "info", "Log level: debug, info, warn or error")
}

// Load resolves the options registered by Flags.
func Load(fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	if err := v.BindPFlags(fs); err != nil {
		return nil, err
	}
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	if file := v.GetString("config"); file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("error reading configuration file '%s': %v", file, err)
		}
		valid := make(map[string]bool)
		fs.VisitAll(func(f *pflag.Flag) { valid[f.Name] = true })
		var invalid []string
		for _, key := range v.AllKeys() {
			if !valid[key] {
				invalid = append(invalid, key)
			}
		}
		if len(invalid) > 0 {
			sort.Strings(invalid)
			return nil, fmt.Errorf("invalid options in configuration file: %s", strings.Join(invalid, ", "))
		}
	}

	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode configuration: %w", err)
	}
	c.Server.CORSOrigins = splitList(v.GetStringSlice("server.cors-origins"))
	c.Hooks.Endpoints = splitList(v.GetStringSlice("hooks.endpoints"))
	return &c, nil
}

// splitList splits comma separated entries, as environment variables carry
// lists in one string.
func splitList(in []string) []string {
	var out []string
	for _, s := range in {
		for _, part := range strings.Split(s, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// HookEndpoints parses Hooks.Endpoints into endpoints per runtime.
func (c *Config) HookEndpoints() (map[string][]string, error) {
	out := make(map[string][]string)
	for _, e := range c.Hooks.Endpoints {
		runtime, addr, ok := strings.Cut(e, "=")
		runtime, addr = strings.TrimSpace(runtime), strings.TrimSpace(addr)
		if !ok || runtime == "" || addr == "" {
			return nil, fmt.Errorf("invalid hook endpoint %q", e)
		}
		out[runtime] = append(out[runtime], addr)
	}
	return out, nil
}
