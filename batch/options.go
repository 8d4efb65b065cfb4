package batch

// ErrorMode defines how Wait reports failed bodies
type ErrorMode int

const (
	// FailFast skips bodies that have not started once one fails, and
	// returns the failure with the lowest slot index
	FailFast ErrorMode = iota
	// CollectAll runs every body and returns all failures as an AggregateError
	CollectAll
	// IgnoreErrors runs every body and returns nil
	IgnoreErrors
)

func (m ErrorMode) String() string {
	switch m {
	case FailFast:
		return "fail-fast"
	case CollectAll:
		return "collect-all"
	case IgnoreErrors:
		return "ignore"
	default:
		return "unknown"
	}
}

// Config holds configuration for a Batch
type Config struct {
	errorMode ErrorMode
	leaf      bool
}

// Option configures a Batch
type Option func(*Config)

// DefaultConfig returns the default configuration
func DefaultConfig() Config {
	return Config{
		errorMode: CollectAll,
	}
}

// WithErrorMode sets how errors are reported
func WithErrorMode(mode ErrorMode) Option {
	return func(c *Config) {
		c.errorMode = mode
	}
}

// WithLeaf runs the bodies on leaf fibers. Bodies must then never wait.
func WithLeaf() Option {
	return func(c *Config) {
		c.leaf = true
	}
}
