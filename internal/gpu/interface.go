package gpu

import "codeberg.org/wrenhale/gpuctl/schema"

// VendorClockPort is the low-level clock and power capability of one
// device. Implementations talk to a single vendor interface; callers
// validate deltas and serialize writes before forwarding.
type VendorClockPort interface {
	Vendor() schema.Vendor
	ReadClocks() (schema.ClocksInfo, error)
	ApplyClocks(delta schema.ClocksDelta) error
	SetPowerCap(capWatts *float64) error
}

// FanPort drives the fans of one device. SetDuty expects a ratio in
// [0, 1]; EnableAutoControl returns the fans to firmware control.
type FanPort interface {
	SetDuty(duty float64) error
	EnableAutoControl() error
	ApplyPmfwOptions(opts schema.PmfwOptions) error
}

// StatsPort reads the live telemetry of one device.
type StatsPort interface {
	ReadStats() (schema.DeviceStats, error)
}

// Ports bundles the hardware capabilities of one device.
type Ports struct {
	Clocks VendorClockPort
	Fan    FanPort
	Stats  StatsPort
}
