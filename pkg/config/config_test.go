package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestDefaultConfigIsValid(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Log.Path = t.TempDir()
	require.NoError(t, cfg.Validate())
}

func TestLoadGroups(t *testing.T) {
	logDir := t.TempDir()
	path := writeConfig(t, `
server:
  addr: 127.0.0.1:9100
monitor:
  memory:
    enable: false
    interval: 30s
  groups:
    - id: edge
      kind: nginx
      update_period: 10s
      fetch_timeout: 2s
      targets:
        - name: lb1
          location: http://10.0.0.1/nginx_status
          username: admin
          password: secret
        - name: lb2
          location: http://10.0.0.2/nginx_status
          poll_interval: 20s
errors:
  backends: [memory, log]
  max_entries: 10
log:
  path: `+logDir+`
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Addr)
	assert.Equal(t, 30*time.Second, cfg.Server.ReadTimeout, "defaults survive partial files")
	assert.False(t, cfg.Monitor.Memory.Enable)
	require.Len(t, cfg.Monitor.Groups, 1)

	g := cfg.Monitor.Groups[0]
	assert.Equal(t, "edge", g.ID)
	assert.Equal(t, 10*time.Second, g.UpdatePeriod)
	assert.Equal(t, 2*time.Second, g.FetchTimeout)
	require.Len(t, g.Targets, 2)
	assert.Equal(t, "admin", g.Targets[0].Username)
	assert.Equal(t, 10*time.Second, g.Targets[0].Period(g.UpdatePeriod))
	assert.Equal(t, 20*time.Second, g.Targets[1].Period(g.UpdatePeriod))

	assert.Equal(t, []string{"memory", "log"}, cfg.Errors.Backends)
	assert.Equal(t, 10, cfg.Errors.MaxEntries)
}

func TestBareNumbersAreSeconds(t *testing.T) {
	logDir := t.TempDir()
	path := writeConfig(t, `
monitor:
  memory:
    interval: "90"
  groups:
    - id: edge
      kind: nginx
      update_period: 30
      fetch_timeout: 1.5
      targets:
        - name: lb1
          location: http://10.0.0.1/nginx_status
          poll_interval: 2m
log:
  path: `+logDir+`
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 90*time.Second, cfg.Monitor.Memory.Interval)
	g := cfg.Monitor.Groups[0]
	assert.Equal(t, 30*time.Second, g.UpdatePeriod)
	assert.Equal(t, 1500*time.Millisecond, g.FetchTimeout)
	assert.Equal(t, 2*time.Minute, g.Targets[0].PollInterval)
}

func TestDuplicateTargetNamesAreNotAConfigError(t *testing.T) {
	cfg := NewDefaultConfig()
	cfg.Log.Path = t.TempDir()
	cfg.Monitor.Groups = []GroupConfig{{
		ID:           "g",
		Kind:         "nginx",
		UpdatePeriod: time.Minute,
		Targets: []TargetConfig{
			{Name: "a", Location: "http://a/status"},
			{Name: "a", Location: "http://b/status"},
		},
	}}
	assert.NoError(t, cfg.Validate())
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
	}{
		{"duplicate group id", func(c *Config) {
			g := GroupConfig{ID: "g", Kind: "nginx", UpdatePeriod: time.Minute}
			c.Monitor.Groups = []GroupConfig{g, g}
		}},
		{"period too short", func(c *Config) {
			c.Monitor.Groups = []GroupConfig{{ID: "g", Kind: "nginx", UpdatePeriod: 10 * time.Millisecond}}
		}},
		{"unknown kind", func(c *Config) {
			c.Monitor.Groups = []GroupConfig{{ID: "g", Kind: "apache", UpdatePeriod: time.Minute}}
		}},
		{"non http location", func(c *Config) {
			c.Monitor.Groups = []GroupConfig{{ID: "g", Kind: "nginx", UpdatePeriod: time.Minute,
				Targets: []TargetConfig{{Name: "a", Location: "ftp://host/status"}}}}
		}},
		{"unknown backend", func(c *Config) { c.Errors.Backends = []string{"solr"} }},
		{"no backend", func(c *Config) { c.Errors.Backends = nil }},
		{"store without bucket", func(c *Config) {
			c.Errors.Backends = []string{"store"}
			c.Errors.Store.Bucket = ""
		}},
		{"bad log level", func(c *Config) { c.Log.Level = "verbose" }},
		{"bad addr", func(c *Config) { c.Server.Addr = "nope" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := NewDefaultConfig()
			cfg.Log.Path = t.TempDir()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestLoadConfigWithCliFlagsOverrideFile(t *testing.T) {
	logDir := t.TempDir()
	path := writeConfig(t, "server:\n  addr: 127.0.0.1:9100\nlog:\n  path: "+logDir+"\n")

	cmd := &cobra.Command{Use: "test"}
	cmd.Flags().String("config", "", "")
	cmd.Flags().String("server.addr", "0.0.0.0:8080", "")
	cmd.Flags().Duration("server.read-timeout", 30*time.Second, "")
	require.NoError(t, cmd.Flags().Parse([]string{"--config", path, "--server.read-timeout", "3s"}))

	cfg, v, err := LoadConfigWithCli(cmd)
	require.NoError(t, err)
	require.NotNil(t, v)
	assert.Equal(t, "127.0.0.1:9100", cfg.Server.Addr)
	assert.Equal(t, 3*time.Second, cfg.Server.ReadTimeout)
}
