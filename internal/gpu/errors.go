package gpu

import (
	"codeberg.org/wrenhale/gpuctl/internal/errors"
	"github.com/NVIDIA/go-nvml/pkg/nvml"
)

const (
	// Initialization and Lifecycle Errors
	ErrNotInitialized = errors.ErrorCode("gpu_not_initialized")
	ErrInitFailed     = errors.ErrorCode("gpu_init_failed")
	ErrDeviceNotFound = errors.ErrorCode("gpu_device_not_found")
	ErrShutdownFailed = errors.ErrorCode("gpu_shutdown_failed")

	// Clock Control Errors
	ErrMismatchedVendor = errors.ErrorCode("clock_mismatched_vendor")
	ErrOutOfRange       = errors.ErrorCode("clock_out_of_range")
	ErrClocksReadFailed = errors.ErrorCode("clock_read_failed")

	// Fan Control Errors
	ErrInvalidCurve     = errors.ErrorCode("fan_invalid_curve")
	ErrFanControlFailed = errors.ErrorCode("fan_control_failed")

	// Hardware Write Errors
	ErrHardwareWriteFailed = errors.ErrorCode("hardware_write_failed")

	// Telemetry Errors
	ErrStatsReadFailed = errors.ErrorCode("gpu_stats_read_failed")

	// Device Discovery Errors
	ErrDeviceCountFailed = errors.ErrorCode("gpu_device_count_failed")
	ErrDeviceUUIDFailed  = errors.ErrorCode("gpu_device_uuid_failed")
)

// nvmlError represents an NVML-specific error
type nvmlError struct {
	ret nvml.Return
}

func (e *nvmlError) Error() string {
	return nvml.ErrorString(e.ret)
}

// newNVMLError creates an error from an NVML return code
func newNVMLError(ret nvml.Return) error {
	if ret == nvml.SUCCESS {
		return nil
	}
	return &nvmlError{ret: ret}
}

// IsNVMLSuccess checks if a Return value indicates success
func IsNVMLSuccess(ret nvml.Return) bool {
	return ret == nvml.SUCCESS
}
