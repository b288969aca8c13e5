// Package config loads the service configuration with viper.
//
// Settings come from an optional YAML file and from CONNDEF_ prefixed
// environment variables, where nested keys are joined with underscores
// (CONNDEF_STORE_DRIVER, CONNDEF_TESTER_DEFAULTTIMEOUT).
package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jaxron/conndef/pkg/api"
	"github.com/jaxron/conndef/pkg/service"
	"github.com/jaxron/conndef/pkg/tester"
	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
	"go.uber.org/multierr"
)

const (
	EnvPrefix = "CONNDEF"

	DriverMemory = "memory"
	DriverRedis  = "redis"
)

var ErrInvalidConfig = errors.New("invalid configuration")

type LogConfig struct {
	Level       string `mapstructure:"level"`
	Development bool   `mapstructure:"development"`
}

type RedisConfig struct {
	Addresses []string `mapstructure:"addresses"`
	Username  string   `mapstructure:"username"`
	Password  string   `mapstructure:"password"`
	DB        int      `mapstructure:"db"`
	Prefix    string   `mapstructure:"prefix"`
}

type StoreConfig struct {
	// Driver is either "memory" or "redis".
	Driver string      `mapstructure:"driver"`
	Redis  RedisConfig `mapstructure:"redis"`
}

// Config is the complete service configuration.
type Config struct {
	Server     api.ServerConfig `mapstructure:"server"`
	Log        LogConfig        `mapstructure:"log"`
	Store      StoreConfig      `mapstructure:"store"`
	Tester     tester.Config    `mapstructure:"tester"`
	Connection service.Config   `mapstructure:"connection"`
}

// Default returns the configuration used when nothing is set.
func Default() Config {
	return Config{
		Server:     api.DefaultServerConfig(),
		Log:        LogConfig{Level: "info"},
		Store:      StoreConfig{Driver: DriverMemory, Redis: RedisConfig{Prefix: "conndef"}},
		Tester:     tester.DefaultConfig(),
		Connection: service.DefaultConfig(),
	}
}

// New returns a viper instance primed with the defaults and bound to the
// environment.
func New() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v, Default())
	return v
}

// Load reads the configuration. An empty path looks for conndef.yaml in the
// working directory and in /etc/conndef; a missing file is not an error
// then. An explicit path must exist.
func Load(path string) (Config, error) {
	v := New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("conndef")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("/etc/conndef")
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if path != "" || !errors.As(err, &notFound) {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}
	return Unmarshal(v)
}

// Unmarshal decodes v into a Config and validates it.
func Unmarshal(v *viper.Viper) (Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg, DecodeHooks); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}
	return cfg, cfg.Validate()
}

// DecodeHooks accepts durations as text ("5s") and lists as comma
// separated text, which is how environment variables carry them.
func DecodeHooks(dc *mapstructure.DecoderConfig) {
	dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
	)
}

// Validate reports every setting that cannot be used.
func (c Config) Validate() error {
	var err error
	switch c.Store.Driver {
	case DriverMemory:
	case DriverRedis:
		if len(c.Store.Redis.Addresses) == 0 {
			err = multierr.Append(err, fmt.Errorf("%w: store.redis.addresses is required for the redis driver", ErrInvalidConfig))
		}
	default:
		err = multierr.Append(err, fmt.Errorf("%w: unknown store.driver %q", ErrInvalidConfig, c.Store.Driver))
	}
	if c.Connection.MaxPageSize < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: connection.maxPageSize must not be negative", ErrInvalidConfig))
	}
	if c.Tester.MaxBodyBytes < 0 {
		err = multierr.Append(err, fmt.Errorf("%w: tester.maxBodyBytes must not be negative", ErrInvalidConfig))
	}
	return err
}

// setDefaults registers every leaf of cfg with v so that AutomaticEnv can
// override keys that no config file mentions.
func setDefaults(v *viper.Viper, cfg Config) {
	var m map[string]any
	if err := mapstructure.Decode(cfg, &m); err != nil {
		// A struct always decodes into a map
		panic(err)
	}
	setLeaves(v, "", m)
}

func setLeaves(v *viper.Viper, prefix string, m map[string]any) {
	for k, val := range m {
		key := k
		if prefix != "" {
			key = prefix + "." + k
		}
		if nested, ok := val.(map[string]any); ok {
			setLeaves(v, key, nested)
			continue
		}
		v.SetDefault(key, val)
	}
}
