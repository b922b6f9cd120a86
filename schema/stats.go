package schema

// DeviceStats is a point-in-time reading of one device. Every field
// the hardware does not expose stays nil and is omitted on the wire.
type DeviceStats struct {
	Fan              FanStats               `json:"fan"`
	Clockspeed       ClockspeedStats        `json:"clockspeed"`
	Voltage          VoltageStats           `json:"voltage"`
	Vram             VramStats              `json:"vram"`
	Power            PowerStats             `json:"power"`
	Temps            map[string]Temperature `json:"temps"`
	BusyPercent      *uint8                 `json:"busy_percent,omitempty"`
	PerformanceLevel *PerformanceLevel      `json:"performance_level,omitempty"`
	CorePowerState   *int                   `json:"core_power_state,omitempty"`
	MemoryPowerState *int                   `json:"memory_power_state,omitempty"`
	PciePowerState   *int                   `json:"pcie_power_state,omitempty"`
	ThrottleInfo     map[string][]string    `json:"throttle_info,omitempty"`
}

// Temperature is one sensor reading with its critical thresholds.
type Temperature struct {
	Current  *float64 `json:"current,omitempty"`
	Crit     *float64 `json:"crit,omitempty"`
	CritHyst *float64 `json:"crit_hyst,omitempty"`
}

// ClockspeedStats reports current clock frequencies in MHz.
// CurrentGfxclk is the target clock on hardware that reports one.
type ClockspeedStats struct {
	GpuClockspeed  *uint64 `json:"gpu_clockspeed,omitempty"`
	CurrentGfxclk  *uint64 `json:"current_gfxclk,omitempty"`
	VramClockspeed *uint64 `json:"vram_clockspeed,omitempty"`
}

// VoltageStats reports voltages in millivolts.
type VoltageStats struct {
	Gpu         *uint64 `json:"gpu,omitempty"`
	Northbridge *uint64 `json:"northbridge,omitempty"`
}

// VramStats reports memory usage in bytes.
type VramStats struct {
	Total *uint64 `json:"total,omitempty"`
	Used  *uint64 `json:"used,omitempty"`
}

// PowerStats reports draw and cap values in watts.
type PowerStats struct {
	Average    *float64 `json:"average,omitempty"`
	Current    *float64 `json:"current,omitempty"`
	CapCurrent *float64 `json:"cap_current,omitempty"`
	CapMax     *float64 `json:"cap_max,omitempty"`
	CapMin     *float64 `json:"cap_min,omitempty"`
	CapDefault *float64 `json:"cap_default,omitempty"`
}

// PerformanceLevel is the driver clock management mode.
type PerformanceLevel string

const (
	PerformanceAuto   PerformanceLevel = "auto"
	PerformanceLow    PerformanceLevel = "low"
	PerformanceHigh   PerformanceLevel = "high"
	PerformanceManual PerformanceLevel = "manual"
)
