package config

import "github.com/spf13/pflag"

// Option adjusts how Load reads the configuration, typically from
// command-line flags owned by the caller.
type Option func(*options) error

type options struct {
	configPath string
	logLevel   string
	flags      *pflag.FlagSet
}

// WithConfigFile specifies an explicit configuration file path. It
// takes precedence over the GPUCTL_CONFIG environment variable and
// the default search path.
func WithConfigFile(path string) Option {
	return func(o *options) error {
		o.configPath = path
		return nil
	}
}

// WithLogLevel overrides the configured log level, used for the
// --log-level flag.
func WithLogLevel(level string) Option {
	return func(o *options) error {
		o.logLevel = level
		return nil
	}
}

// WithFlags binds a command-line flag set into the configuration.
// Flags whose names match configuration keys override the file when
// set on the command line.
func WithFlags(flags *pflag.FlagSet) Option {
	return func(o *options) error {
		o.flags = flags
		return nil
	}
}

// LogLevel represents valid logging levels
type LogLevel string

const (
	LogLevelDebug   LogLevel = "debug"
	LogLevelInfo    LogLevel = "info"
	LogLevelWarning LogLevel = "warning"
	LogLevelError   LogLevel = "error"
)

// IsValid returns whether the log level is valid
func (l LogLevel) IsValid() bool {
	switch l {
	case LogLevelDebug, LogLevelInfo, LogLevelWarning, LogLevelError:
		return true
	default:
		return false
	}
}

// String implements the Stringer interface
func (l LogLevel) String() string {
	return string(l)
}
