package daemon

import "codeberg.org/wrenhale/gpuctl/internal/errors"

// Error codes returned to clients. Device and profile lookups reuse
// the shared codes so every surface reports them the same way.
const (
	ErrUnknownDevice  = errors.ErrDeviceUnknown
	ErrUnknownProfile = errors.ErrProfileUnknown
	ErrProfileExists  = errors.ErrProfileExists
	ErrMissingField   = errors.ErrInvalidArgument

	ErrUnknownCommand = errors.ErrorCode("daemon_unknown_command")
)
