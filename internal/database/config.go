package database

import (
	"time"

	"github.com/koustreak/dbireg/internal/errs"
)

// Driver identifies the database engine.
type Driver string

const (
	DriverPostgres Driver = "postgres"
	DriverMySQL    Driver = "mysql"
)

// Config holds everything needed to open one driver connection and size the
// registry tables behind it.
type Config struct {
	// Driver is the database engine (e.g. DriverMySQL).
	Driver Driver `mapstructure:"driver"`

	// DSN is the full data source name. When set it wins over the discrete
	// fields below.
	// Example: "user:pass@tcp(localhost:3306)/mydb"
	DSN string `mapstructure:"dsn"`

	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	Database string `mapstructure:"database"`
	SSLMode  string `mapstructure:"sslmode"`

	// Registry sizing. Zero falls back to the registry defaults.
	MaxConnections int `mapstructure:"max_connections"`
	MaxResultSets  int `mapstructure:"max_result_sets"`
	FetchSize      int `mapstructure:"fetch_size"`

	// Timeouts
	ConnectTimeout time.Duration `mapstructure:"connect_timeout"` // time limit for establishing a connection
	QueryTimeout   time.Duration `mapstructure:"query_timeout"`   // per-statement deadline, zero for none
}

// DefaultConfig returns connection defaults for the given driver.
func DefaultConfig(driver Driver) *Config {
	cfg := &Config{
		Driver:         driver,
		Host:           "localhost",
		ConnectTimeout: 10 * time.Second,
		QueryTimeout:   30 * time.Second,
	}
	switch driver {
	case DriverPostgres:
		cfg.Port = 5432
		cfg.SSLMode = "disable"
	default:
		cfg.Port = 3306
	}
	return cfg
}

// Validate rejects configurations no driver could open.
func (c *Config) Validate() error {
	switch c.Driver {
	case DriverMySQL, DriverPostgres:
	default:
		return errs.Newf(errs.ErrKindInvalidInput, "unsupported database driver %q", c.Driver)
	}
	if c.DSN == "" && c.Host == "" {
		return errs.New(errs.ErrKindInvalidInput, "either dsn or host must be set")
	}
	if c.Port < 0 || c.Port > 65535 {
		return errs.Newf(errs.ErrKindInvalidInput, "invalid port %d", c.Port)
	}
	return nil
}

// Dialect returns the SQL dialect of the configured driver.
func (c *Config) Dialect() Dialect {
	if c.Driver == DriverPostgres {
		return DialectPostgres
	}
	return DialectMySQL
}
