// Package config loads the dbireg configuration from a YAML file and
// DBIREG_* environment variables.
package config

import (
	"strings"

	"github.com/spf13/viper"

	"github.com/koustreak/dbireg/internal/database"
	"github.com/koustreak/dbireg/internal/errs"
	"github.com/koustreak/dbireg/internal/logger"
	"github.com/koustreak/dbireg/internal/registry"
)

// EnvPrefix prefixes every environment override, e.g. DBIREG_DATABASE_HOST.
const EnvPrefix = "DBIREG"

// Config is the top-level configuration of the dbireg binary.
type Config struct {
	Log      logger.Config   `mapstructure:"log"`
	Registry registry.Config `mapstructure:"registry"`
	Database database.Config `mapstructure:"database"`
	Server   ServerConfig    `mapstructure:"server"`
}

// ServerConfig configures the inspection server.
type ServerConfig struct {
	Addr string `mapstructure:"addr"`
}

// Load reads path (skipped when empty), applies environment overrides and
// fills every unset key with its default.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, errs.Wrap(errs.ErrKindInvalidInput, "read config", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errs.Wrap(errs.ErrKindInvalidInput, "unmarshal config", err)
	}

	// The port default depends on the driver, which is only known now.
	if cfg.Database.Port == 0 {
		cfg.Database.Port = database.DefaultConfig(cfg.Database.Driver).Port
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks every section.
func (c *Config) Validate() error {
	if err := c.Registry.Validate(); err != nil {
		return err
	}
	return c.Database.Validate()
}

func setDefaults(v *viper.Viper) {
	lg := logger.DefaultConfig()
	v.SetDefault("log.level", lg.Level)
	v.SetDefault("log.format", lg.Format)
	v.SetDefault("log.time_format", lg.TimeFormat)

	reg := registry.DefaultConfig()
	v.SetDefault("registry.driver_name", reg.DriverName)
	v.SetDefault("registry.max_connections", reg.MaxConnections)
	v.SetDefault("registry.max_result_sets", reg.MaxResultSets)
	v.SetDefault("registry.fetch_size", reg.FetchSize)
	v.SetDefault("registry.capacity_limit", reg.CapacityLimit)

	db := database.DefaultConfig(database.DriverMySQL)
	v.SetDefault("database.driver", string(db.Driver))
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.host", db.Host)
	v.SetDefault("database.port", 0)
	v.SetDefault("database.user", "")
	v.SetDefault("database.password", "")
	v.SetDefault("database.database", "")
	v.SetDefault("database.sslmode", "")
	v.SetDefault("database.max_connections", 0)
	v.SetDefault("database.max_result_sets", 0)
	v.SetDefault("database.fetch_size", 0)
	v.SetDefault("database.connect_timeout", db.ConnectTimeout)
	v.SetDefault("database.query_timeout", db.QueryTimeout)

	v.SetDefault("server.addr", ":8080")
}
