package registry

import "github.com/koustreak/dbireg/internal/errs"

// Config holds the registry defaults used when an allocation does not ask for
// a specific capacity.
type Config struct {
	DriverName     string `mapstructure:"driver_name"`
	MaxConnections int    `mapstructure:"max_connections"`
	MaxResultSets  int    `mapstructure:"max_result_sets"`
	FetchSize      int    `mapstructure:"fetch_size"`
	// CapacityLimit is the largest slot table the registry will allocate;
	// asking for more is an allocation failure.
	CapacityLimit int `mapstructure:"capacity_limit"`
}

// DefaultConfig returns the defaults. One open result set per connection
// matches what MySQL allows on a single connection.
func DefaultConfig() *Config {
	return &Config{
		DriverName:     "MySQL",
		MaxConnections: 16,
		MaxResultSets:  1,
		FetchSize:      500,
		CapacityLimit:  4096,
	}
}

// Validate checks that every capacity is usable.
func (c *Config) Validate() error {
	switch {
	case c.MaxConnections <= 0:
		return errs.Newf(errs.ErrKindInvalidInput, "max_connections must be positive, got %d", c.MaxConnections)
	case c.MaxResultSets <= 0:
		return errs.Newf(errs.ErrKindInvalidInput, "max_result_sets must be positive, got %d", c.MaxResultSets)
	case c.FetchSize <= 0:
		return errs.Newf(errs.ErrKindInvalidInput, "fetch_size must be positive, got %d", c.FetchSize)
	case c.CapacityLimit < c.MaxConnections || c.CapacityLimit < c.MaxResultSets:
		return errs.Newf(errs.ErrKindInvalidInput, "capacity_limit %d is below the default capacities", c.CapacityLimit)
	}
	return nil
}
