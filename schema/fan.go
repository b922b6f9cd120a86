package schema

import "fmt"

// FanControlMode selects how a fan is driven once manual control is
// enabled.
type FanControlMode string

const (
	FanControlStatic FanControlMode = "static"
	FanControlCurve  FanControlMode = "curve"
)

// ParseFanControlMode converts a config or wire string into a mode.
func ParseFanControlMode(s string) (FanControlMode, error) {
	switch s {
	case "static":
		return FanControlStatic, nil
	case "curve":
		return FanControlCurve, nil
	default:
		return "", fmt.Errorf("unknown fan control mode %q", s)
	}
}

// FanCurveMap maps a temperature in degrees Celsius to a fan duty
// ratio in [0, 1].
type FanCurveMap map[int]float64

// DefaultFanCurve returns the curve applied when a device has fan
// control enabled without an explicit curve.
func DefaultFanCurve() FanCurveMap {
	return FanCurveMap{
		40: 0.3,
		50: 0.35,
		60: 0.5,
		70: 0.75,
		80: 1.0,
	}
}

// Validate checks every duty value against the [0, 1] range. Curves do
// not have to be monotonic.
func (c FanCurveMap) Validate() error {
	for temp, duty := range c {
		if duty < 0 || duty > 1 {
			return fmt.Errorf("point at %d°C has duty %v outside of [0, 1]", temp, duty)
		}
	}

	return nil
}

// FanOptions is a fan control change request for a single device.
// SpindownDelayMs delays downward speed changes, ChangeThreshold
// absorbs changes smaller than the given number of percentage points.
type FanOptions struct {
	ID              string          `json:"id"`
	Enabled         bool            `json:"enabled"`
	Mode            *FanControlMode `json:"mode,omitempty"`
	StaticSpeed     *float64        `json:"static_speed,omitempty"`
	Curve           FanCurveMap     `json:"curve,omitempty"`
	Pmfw            PmfwOptions     `json:"pmfw"`
	SpindownDelayMs *uint64         `json:"spindown_delay_ms,omitempty"`
	ChangeThreshold *uint64         `json:"change_threshold,omitempty"`
}

// PmfwOptions adjusts fan parameters of the power management firmware
// on RDNA3 and newer AMD cards.
type PmfwOptions struct {
	AcousticLimit     *uint32 `json:"acoustic_limit,omitempty"`
	AcousticTarget    *uint32 `json:"acoustic_target,omitempty"`
	MinimumPwm        *uint32 `json:"minimum_pwm,omitempty"`
	TargetTemperature *uint32 `json:"target_temperature,omitempty"`
	ZeroRpm           *bool   `json:"zero_rpm,omitempty"`
	ZeroRpmThreshold  *uint32 `json:"zero_rpm_threshold,omitempty"`
}

// IsEmpty reports whether no firmware parameter is set.
func (o PmfwOptions) IsEmpty() bool {
	return o == PmfwOptions{}
}

// FanStats describes the fan state of a device, including the active
// control settings.
type FanStats struct {
	ControlEnabled  bool            `json:"control_enabled"`
	ControlMode     *FanControlMode `json:"control_mode,omitempty"`
	StaticSpeed     *float64        `json:"static_speed,omitempty"`
	Curve           FanCurveMap     `json:"curve,omitempty"`
	PwmCurrent      *uint8          `json:"pwm_current,omitempty"`
	SpeedCurrent    *uint32         `json:"speed_current,omitempty"`
	SpeedMax        *uint32         `json:"speed_max,omitempty"`
	SpeedMin        *uint32         `json:"speed_min,omitempty"`
	SpindownDelayMs *uint64         `json:"spindown_delay_ms,omitempty"`
	ChangeThreshold *uint64         `json:"change_threshold,omitempty"`
	PmfwInfo        PmfwInfo        `json:"pmfw_info"`
}

// PmfwInfo reports the current firmware fan parameters and their
// allowed ranges.
type PmfwInfo struct {
	AcousticLimit      *FanInfo `json:"acoustic_limit,omitempty"`
	AcousticTarget     *FanInfo `json:"acoustic_target,omitempty"`
	TargetTemp         *FanInfo `json:"target_temp,omitempty"`
	MinimumPwm         *FanInfo `json:"minimum_pwm,omitempty"`
	ZeroRpmEnable      *bool    `json:"zero_rpm_enable,omitempty"`
	ZeroRpmTemperature *FanInfo `json:"zero_rpm_temperature,omitempty"`
}

// FanInfo is a single firmware fan parameter with its allowed range.
type FanInfo struct {
	Current      uint32 `json:"current"`
	AllowedRange *Range `json:"allowed_range,omitempty"`
}
