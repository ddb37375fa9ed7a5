package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/require"
)

func load(t *testing.T, args ...string) (*Config, error) {
	t.Helper()
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	Flags(fs)
	require.NoError(t, fs.Parse(args))
	return Load(fs)
}

func TestDefaults(t *testing.T) {
	c, err := load(t)
	require.NoError(t, err)
	expected := &Config{
		Spec:     "app.yaml",
		Server:   ServerConfig{Addr: ":8080", Timeout: 10 * time.Second, MaxBodyBytes: 1 << 20, PageSize: 20},
		Database: DatabaseConfig{},
		Hooks:    HooksConfig{RPCTimeout: 3 * time.Second, MaxConnsPerEndpoint: 2},
		Auth:     AuthConfig{TokenTTL: 30 * 24 * time.Hour, BcryptCost: 10},
		Otel:     OtelConfig{Service: "modelgate"},
		Log:      LogConfig{Level: "info"},
	}
	if diff := cmp.Diff(expected, c); diff != "" {
		t.Errorf("Config mismatch (-expected +got):\n%s", diff)
	}
}

func TestPriority(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "modelgate.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
spec: other.yaml
server:
  addr: ":9000"
  timeout: 5s
  cors-origins: [https://a.example]
database:
  url: postgres://file
hooks:
  endpoints:
    - remote=hooks:9000
`), 0o644))

	t.Setenv("MODELGATE_DATABASE_URL", "postgres://env")
	t.Setenv("MODELGATE_AUTH_BCRYPT_COST", "12")
	t.Setenv("MODELGATE_HOOKS_ENDPOINTS", "remote=a:1,remote=b:2")

	c, err := load(t, "--config", file, "--server.addr", ":7000")
	require.NoError(t, err)
	require.Equal(t, "other.yaml", c.Spec)
	require.Equal(t, ":7000", c.Server.Addr, "flag wins")
	require.Equal(t, 5*time.Second, c.Server.Timeout)
	require.Equal(t, []string{"https://a.example"}, c.Server.CORSOrigins)
	require.Equal(t, "postgres://env", c.Database.URL, "env wins over file")
	require.Equal(t, 12, c.Auth.BcryptCost)

	eps, err := c.HookEndpoints()
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"remote": {"a:1", "b:2"}}, eps)
}

func TestInvalidFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, "modelgate.yaml")
	require.NoError(t, os.WriteFile(file, []byte("server:\n  port: 1\nextra: true\n"), 0o644))
	_, err := load(t, "-c", file)
	require.EqualError(t, err, "invalid options in configuration file: extra, server.port")

	_, err = load(t, "-c", filepath.Join(dir, "missing.yaml"))
	require.ErrorContains(t, err, "error reading configuration file")
}

func TestHookEndpoints(t *testing.T) {
	c := &Config{Hooks: HooksConfig{Endpoints: []string{"remote=h:1", " remote = h:2 ", "other=x:3"}}}
	eps, err := c.HookEndpoints()
	require.NoError(t, err)
	require.Equal(t, map[string][]string{"remote": {"h:1", "h:2"}, "other": {"x:3"}}, eps)

	c.Hooks.Endpoints = []string{"nothing"}
	_, err = c.HookEndpoints()
	require.EqualError(t, err, `invalid hook endpoint "nothing"`)
}
