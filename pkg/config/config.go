package config

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

var valid = validator.New()

// Config aggregates every section of the agent configuration.
type Config struct {
	Server  ServerConfig  `yaml:"server" mapstructure:"server" comment:"HTTP server"`
	Monitor MonitorConfig `yaml:"monitor" mapstructure:"monitor" comment:"metric producers"`
	Errors  ErrorsConfig  `yaml:"errors" mapstructure:"errors" comment:"error capture"`
	Log     ZapLogConfig  `yaml:"log" mapstructure:"log" comment:"logging"`
}

// ServerConfig HTTP server settings; timeouts accept "30s" style values.
type ServerConfig struct {
	Addr         string        `yaml:"addr" mapstructure:"addr" env:"HTTP_ADDR" validate:"required,hostname_port" comment:"listen address (ip:port)"`
	ReadTimeout  time.Duration `yaml:"read_timeout" mapstructure:"read_timeout" env:"HTTP_READ_TIMEOUT" validate:"required,gt=0" comment:"read timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout" mapstructure:"write_timeout" env:"HTTP_WRITE_TIMEOUT" validate:"required,gt=0" comment:"write timeout"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" mapstructure:"idle_timeout" env:"HTTP_IDLE_TIMEOUT" validate:"required,gt=0" comment:"idle connection timeout"`
}

// MonitorConfig producer settings: builtin memory pools plus remote monitor groups.
type MonitorConfig struct {
	Memory MemoryConfig  `yaml:"memory" mapstructure:"memory" comment:"builtin memory pool producers"`
	Groups []GroupConfig `yaml:"groups" mapstructure:"groups" validate:"dive" comment:"remote monitor groups"`
}

// MemoryConfig builtin memory pool producers.
type MemoryConfig struct {
	Enable   bool          `yaml:"enable" mapstructure:"enable" env:"MONITOR_MEMORY_ENABLE" comment:"register memory pool producers" default:"true"`
	Interval time.Duration `yaml:"interval" mapstructure:"interval" env:"MONITOR_MEMORY_INTERVAL" validate:"required,gt=0" comment:"sampling interval" default:"60s"`
}

// GroupConfig is one monitor group. ID is the stable identity used to match a
// reloaded configuration with the live group.
type GroupConfig struct {
	ID           string         `yaml:"id" mapstructure:"id" validate:"required" comment:"stable group id"`
	Kind         string         `yaml:"kind" mapstructure:"kind" validate:"required,oneof=nginx" comment:"source kind" default:"nginx"`
	UpdatePeriod time.Duration  `yaml:"update_period" mapstructure:"update_period" validate:"required,gt=0" comment:"group-wide poll period" default:"60s"`
	FetchTimeout time.Duration  `yaml:"fetch_timeout" mapstructure:"fetch_timeout" validate:"gte=0" comment:"per-request timeout, 0 means update_period" default:"5s"`
	Targets      []TargetConfig `yaml:"targets" mapstructure:"targets" validate:"dive" comment:"monitored targets"`
}

// TargetConfig one monitored remote endpoint. Names are unique within a group;
// duplicates are skipped at setup time rather than rejected here.
type TargetConfig struct {
	Name         string        `yaml:"name" mapstructure:"name" validate:"required" comment:"target name"`
	Location     string        `yaml:"location" mapstructure:"location" validate:"required,url" comment:"status page URL"`
	Username     string        `yaml:"username" mapstructure:"username" comment:"basic auth user"`
	Password     string        `yaml:"password" mapstructure:"password" comment:"basic auth password"`
	PollInterval time.Duration `yaml:"poll_interval" mapstructure:"poll_interval" validate:"gte=0" comment:"overrides update_period when set"`
}

// Period returns the effective poll period of the target inside its group.
func (t TargetConfig) Period(group time.Duration) time.Duration {
	if t.PollInterval > 0 {
		return t.PollInterval
	}
	return group
}

// ErrorsConfig error capture backends. The first backend is the primary one
// used for listing.
type ErrorsConfig struct {
	Backends   []string         `yaml:"backends" mapstructure:"backends" env:"ERRORS_BACKENDS" validate:"required,min=1,dive,oneof=memory log store" comment:"catcher backends, first is primary" default:"[memory]"`
	MaxEntries int              `yaml:"max_entries" mapstructure:"max_entries" env:"ERRORS_MAX_ENTRIES" validate:"gte=0" comment:"in-memory capacity, 0 is unbounded" default:"100"`
	Store      ErrorStoreConfig `yaml:"store" mapstructure:"store" comment:"external document store"`
}

// ErrorStoreConfig NATS JetStream key-value bucket holding caught errors.
type ErrorStoreConfig struct {
	URL     string        `yaml:"url" mapstructure:"url" env:"ERRORS_STORE_URL" comment:"NATS server URL" default:"nats://127.0.0.1:4222"`
	Bucket  string        `yaml:"bucket" mapstructure:"bucket" env:"ERRORS_STORE_BUCKET" comment:"KV bucket" default:"caught_errors"`
	Timeout time.Duration `yaml:"timeout" mapstructure:"timeout" env:"ERRORS_STORE_TIMEOUT" validate:"gte=0" comment:"per-operation timeout" default:"5s"`
}

// ZapLogConfig logging settings.
type ZapLogConfig struct {
	Level     string `yaml:"level" mapstructure:"level" env:"LOG_LEVEL" validate:"required,oneof=debug info warn error dpanic panic fatal" comment:"log level" default:"info"`
	Format    string `yaml:"format" mapstructure:"format" env:"LOG_FORMAT" validate:"required,oneof=json console" comment:"log format (json/console)" default:"json"`
	Path      string `yaml:"path" mapstructure:"path" env:"LOG_PATH" validate:"required" comment:"log directory" default:"./logs"`
	MaxSize   int    `yaml:"max_size" mapstructure:"max_size" env:"LOG_MAX_SIZE" validate:"required,gt=0" comment:"max file size (MB)" default:"100"`
	MaxBackup int    `yaml:"max_backup" mapstructure:"max_backup" env:"LOG_MAX_BACKUP" validate:"gte=0" comment:"rotated files kept when max_age is 0" default:"30"`
	MaxAge    int    `yaml:"max_age" mapstructure:"max_age" env:"LOG_MAX_AGE" validate:"gte=0" comment:"retention in days, 0 keeps max_backup files" default:"7"`
}

// NewDefaultConfig returns a fully populated configuration.
func NewDefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:         "0.0.0.0:8080",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
		Monitor: MonitorConfig{
			Memory: MemoryConfig{
				Enable:   true,
				Interval: 60 * time.Second,
			},
			Groups: []GroupConfig{},
		},
		Errors: ErrorsConfig{
			Backends:   []string{"memory"},
			MaxEntries: 100,
			Store: ErrorStoreConfig{
				URL:     "nats://127.0.0.1:4222",
				Bucket:  "caught_errors",
				Timeout: 5 * time.Second,
			},
		},
		Log: ZapLogConfig{
			Level:     "info",
			Format:    "json",
			Path:      "./logs",
			MaxSize:   100,
			MaxBackup: 30,
			MaxAge:    7,
		},
	}
}

// LoadConfigWithCli loads Flags + YAML + ENV. The viper instance is returned so
// the caller can watch the config file.
func LoadConfigWithCli(cmd *cobra.Command) (*Config, *viper.Viper, error) {
	v := viper.New()

	// flag names use dashes, config keys use underscores
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	configFile, _ := cmd.Flags().GetString("config")
	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config file %s: %w", configFile, err)
		}
	}

	// "server.read-timeout" binds to "server.read_timeout"
	var bindErr error
	cmd.Flags().VisitAll(func(fl *pflag.Flag) {
		if bindErr != nil || !strings.Contains(fl.Name, ".") {
			return
		}
		bindErr = v.BindPFlag(strings.ReplaceAll(fl.Name, "-", "_"), fl)
	})
	if bindErr != nil {
		return nil, nil, fmt.Errorf("bind flags: %w", bindErr)
	}

	cfg, err := Decode(v)
	if err != nil {
		return nil, nil, err
	}
	return cfg, v, nil
}

// Load reads a single YAML file on top of the defaults.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config file %s: %w", path, err)
	}
	return Decode(v)
}

// Decode decodes the viper settings over the defaults and validates the result.
func Decode(v *viper.Viper) (*Config, error) {
	cfg := NewDefaultConfig()

	decoderConfig := &mapstructure.DecoderConfig{
		Result:           cfg,
		WeaklyTypedInput: true,
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			secondsToDurationHookFunc(),
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
	}

	decoder, err := mapstructure.NewDecoder(decoderConfig)
	if err != nil {
		return nil, fmt.Errorf("new decoder: %w", err)
	}

	if err := decoder.Decode(v.AllSettings()); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// secondsToDurationHookFunc reads a bare number as seconds, so
// "update_period: 30" means 30s. Duration strings like "1m30s" pass through.
func secondsToDurationHookFunc() mapstructure.DecodeHookFuncType {
	durationType := reflect.TypeOf(time.Duration(0))
	return func(f reflect.Type, t reflect.Type, data any) (any, error) {
		if t != durationType || f == durationType {
			return data, nil
		}
		switch f.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			return time.Duration(reflect.ValueOf(data).Int()) * time.Second, nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
			return time.Duration(reflect.ValueOf(data).Uint()) * time.Second, nil
		case reflect.Float32, reflect.Float64:
			return time.Duration(reflect.ValueOf(data).Float() * float64(time.Second)), nil
		case reflect.String:
			s := strings.TrimSpace(data.(string))
			if n, err := strconv.ParseFloat(s, 64); err == nil {
				return time.Duration(n * float64(time.Second)), nil
			}
		}
		return data, nil
	}
}

// Validate runs tag validation and the per-section rules.
func (c *Config) Validate() error {
	if err := valid.Struct(c); err != nil {
		return err
	}
	if err := c.Server.Validate(); err != nil {
		return err
	}
	if err := c.Monitor.Validate(); err != nil {
		return err
	}
	if err := c.Errors.Validate(); err != nil {
		return err
	}
	if err := c.Log.Validate(); err != nil {
		return err
	}
	return nil
}
