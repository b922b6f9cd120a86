package gpu

import (
	"fmt"
	"math"

	"github.com/NVIDIA/go-nvml/pkg/nvml"

	"codeberg.org/wrenhale/gpuctl/internal/errors"
	"codeberg.org/wrenhale/gpuctl/internal/logger"
	"codeberg.org/wrenhale/gpuctl/schema"
)

const milliWattsToWatts = 1000

// Manager owns the NVML runtime and enumerates the devices behind it.
type Manager struct {
	initialized bool
}

// NewManager initializes NVML.
func NewManager() (*Manager, error) {
	errFactory := errors.New()

	if ret := nvml.Init(); !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrInitFailed, newNVMLError(ret))
	}

	return &Manager{initialized: true}, nil
}

// Shutdown releases the NVML runtime.
func (m *Manager) Shutdown() error {
	errFactory := errors.New()

	if !m.initialized {
		return nil
	}

	if ret := nvml.Shutdown(); !IsNVMLSuccess(ret) {
		return errFactory.Wrap(ErrShutdownFailed, newNVMLError(ret))
	}
	m.initialized = false

	return nil
}

// Devices enumerates all NVML devices and builds a Device around each.
func (m *Manager) Devices() ([]*Device, error) {
	errFactory := errors.New()

	if !m.initialized {
		return nil, errFactory.New(ErrNotInitialized)
	}

	count, ret := nvml.DeviceGetCount()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrDeviceCountFailed, newNVMLError(ret))
	}

	devices := make([]*Device, 0, count)
	for i := 0; i < count; i++ {
		handle, ret := nvml.DeviceGetHandleByIndex(i)
		if !IsNVMLSuccess(ret) {
			return nil, errFactory.Wrap(ErrDeviceNotFound, newNVMLError(ret))
		}

		uuid, ret := handle.GetUUID()
		if !IsNVMLSuccess(ret) {
			return nil, errFactory.Wrap(ErrDeviceUUIDFailed, newNVMLError(ret))
		}

		entry := schema.DeviceListEntry{ID: uuid}
		if name, ret := handle.GetName(); IsNVMLSuccess(ret) {
			entry.Name = &name
			logger.Info().Msgf("Detected GPU: %v", name)
		} else {
			logger.Warn().Msgf("Failed to get GPU name: %v", nvml.ErrorString(ret))
		}

		fan, err := newNvmlFanPort(handle)
		if err != nil {
			return nil, err
		}

		devices = append(devices, NewDevice(uuid, entry, buildNvmlDeviceInfo(handle), Ports{
			Clocks: &nvmlClockPort{device: handle},
			Fan:    fan,
			Stats:  &nvmlStatsPort{device: handle},
		}))
	}

	return devices, nil
}

// nvmlClockPort implements VendorClockPort on top of the NVML clock
// offset, locked clock and power limit calls.
type nvmlClockPort struct {
	device nvml.Device
}

func (p *nvmlClockPort) Vendor() schema.Vendor {
	return schema.VendorNvidia
}

// ReadClocks reports the VF offsets as single-point offset maps keyed
// by performance state 0; NVML exposes one offset per clock domain.
func (p *nvmlClockPort) ReadClocks() (schema.ClocksInfo, error) {
	table := schema.NvidiaClocksTable{}

	if current, ret := p.device.GetGpcClkVfOffset(); IsNVMLSuccess(ret) {
		minOffset, maxOffset, ret := p.device.GetGpcClkMinMaxVfOffset()
		if IsNVMLSuccess(ret) {
			table.GpuOffsets = map[uint32]schema.NvidiaClockOffset{
				0: {Current: int32(current), Min: int32(minOffset), Max: int32(maxOffset)},
			}
		}
	}

	if current, ret := p.device.GetMemClkVfOffset(); IsNVMLSuccess(ret) {
		minOffset, maxOffset, ret := p.device.GetMemClkMinMaxVfOffset()
		if IsNVMLSuccess(ret) {
			table.MemOffsets = map[uint32]schema.NvidiaClockOffset{
				0: {Current: int32(current), Min: int32(minOffset), Max: int32(maxOffset)},
			}
		}
	}

	if maxClock, ret := p.device.GetMaxClockInfo(nvml.CLOCK_GRAPHICS); IsNVMLSuccess(ret) {
		table.GpuClockRange = &schema.Range{Min: 0, Max: maxClock}
	}
	if maxClock, ret := p.device.GetMaxClockInfo(nvml.CLOCK_MEM); IsNVMLSuccess(ret) {
		table.VramClockRange = &schema.Range{Min: 0, Max: maxClock}
	}

	return schema.NewNvidiaClocksInfo(table), nil
}

func (p *nvmlClockPort) ApplyClocks(delta schema.ClocksDelta) error {
	if delta.Nvidia == nil {
		return errors.New().WithMessage(errors.ErrInvalidArgument, "not an nvidia delta")
	}
	edits := delta.Nvidia

	for _, offset := range edits.GpuOffsets {
		if ret := p.device.SetGpcClkVfOffset(int(offset)); !IsNVMLSuccess(ret) {
			return newNVMLError(ret)
		}
	}
	for _, offset := range edits.MemOffsets {
		if ret := p.device.SetMemClkVfOffset(int(offset)); !IsNVMLSuccess(ret) {
			return newNVMLError(ret)
		}
	}

	if edits.GpuLockedClocks != nil {
		if ret := p.device.SetGpuLockedClocks(edits.GpuLockedClocks.Min, edits.GpuLockedClocks.Max); !IsNVMLSuccess(ret) {
			return newNVMLError(ret)
		}
	} else if edits.ResetGpuLockedClocks {
		if ret := p.device.ResetGpuLockedClocks(); !IsNVMLSuccess(ret) {
			return newNVMLError(ret)
		}
	}

	if edits.VramLockedClocks != nil {
		if ret := p.device.SetMemoryLockedClocks(edits.VramLockedClocks.Min, edits.VramLockedClocks.Max); !IsNVMLSuccess(ret) {
			return newNVMLError(ret)
		}
	} else if edits.ResetVramLockedClocks {
		if ret := p.device.ResetMemoryLockedClocks(); !IsNVMLSuccess(ret) {
			return newNVMLError(ret)
		}
	}

	return nil
}

func (p *nvmlClockPort) SetPowerCap(capWatts *float64) error {
	target := uint32(0)

	if capWatts == nil {
		defaultLimit, ret := p.device.GetPowerManagementDefaultLimit()
		if !IsNVMLSuccess(ret) {
			return newNVMLError(ret)
		}
		target = defaultLimit
	} else {
		target = wattsToMilliWatts(*capWatts)

		minLimit, maxLimit, ret := p.device.GetPowerManagementLimitConstraints()
		if !IsNVMLSuccess(ret) {
			return newNVMLError(ret)
		}
		if target < minLimit || target > maxLimit {
			return errors.New().WithData(ErrOutOfRange,
				fmt.Sprintf("power cap %.0fW outside of [%dW, %dW]",
					*capWatts, minLimit/milliWattsToWatts, maxLimit/milliWattsToWatts))
		}
	}

	if ret := p.device.SetPowerManagementLimit(target); !IsNVMLSuccess(ret) {
		return newNVMLError(ret)
	}

	return nil
}

func wattsToMilliWatts(watts float64) uint32 {
	if watts <= 0 {
		return 0
	}

	result := watts * milliWattsToWatts
	if result > math.MaxUint32 {
		return math.MaxUint32
	}

	return uint32(result)
}

// nvmlFanPort drives every fan of the device in lockstep. The percent
// limits are read once at construction, and duty writes clamp into
// them the same way the firmware would.
type nvmlFanPort struct {
	device     nvml.Device
	count      int
	minPercent int
	maxPercent int
}

func newNvmlFanPort(device nvml.Device) (*nvmlFanPort, error) {
	errFactory := errors.New()

	count, ret := device.GetNumFans()
	if !IsNVMLSuccess(ret) {
		return nil, errFactory.Wrap(ErrFanControlFailed, newNVMLError(ret))
	}
	logger.Debug().Msgf("Detected fans: %d", count)

	port := &nvmlFanPort{device: device, count: count, maxPercent: 100}

	if minSpeed, maxSpeed, ret := device.GetMinMaxFanSpeed(); IsNVMLSuccess(ret) {
		port.minPercent = minSpeed
		port.maxPercent = maxSpeed
	}

	return port, nil
}

func (p *nvmlFanPort) SetDuty(duty float64) error {
	percent := int(math.Round(duty * 100))
	if percent < p.minPercent {
		percent = p.minPercent
	}
	if percent > p.maxPercent {
		percent = p.maxPercent
	}

	for i := 0; i < p.count; i++ {
		if ret := nvml.DeviceSetFanSpeed_v2(p.device, i, percent); !IsNVMLSuccess(ret) {
			return newNVMLError(ret)
		}
	}

	return nil
}

func (p *nvmlFanPort) EnableAutoControl() error {
	for i := 0; i < p.count; i++ {
		if ret := nvml.DeviceSetDefaultFanSpeed_v2(p.device, i); !IsNVMLSuccess(ret) {
			return newNVMLError(ret)
		}
	}

	return nil
}

func (p *nvmlFanPort) ApplyPmfwOptions(opts schema.PmfwOptions) error {
	if opts.IsEmpty() {
		return nil
	}

	return errors.New().WithMessage(errors.ErrNotImplemented, "firmware fan parameters are not exposed by NVML")
}

// nvmlStatsPort assembles a DeviceStats snapshot. Every unavailable
// reading stays nil; partial visibility is normal across driver
// generations.
type nvmlStatsPort struct {
	device nvml.Device
}

func (p *nvmlStatsPort) ReadStats() (schema.DeviceStats, error) {
	stats := schema.DeviceStats{Temps: map[string]schema.Temperature{}}

	if temp, ret := p.device.GetTemperature(nvml.TEMPERATURE_GPU); IsNVMLSuccess(ret) {
		reading := schema.Temperature{Current: f64Ref(float64(temp))}
		if crit, ret := p.device.GetTemperatureThreshold(nvml.TEMPERATURE_THRESHOLD_SHUTDOWN); IsNVMLSuccess(ret) {
			reading.Crit = f64Ref(float64(crit))
		}
		stats.Temps["GPU"] = reading
	}

	if clock, ret := p.device.GetClockInfo(nvml.CLOCK_GRAPHICS); IsNVMLSuccess(ret) {
		stats.Clockspeed.GpuClockspeed = u64Ref(uint64(clock))
	}
	if clock, ret := p.device.GetClockInfo(nvml.CLOCK_MEM); IsNVMLSuccess(ret) {
		stats.Clockspeed.VramClockspeed = u64Ref(uint64(clock))
	}

	if memory, ret := p.device.GetMemoryInfo(); IsNVMLSuccess(ret) {
		stats.Vram.Total = u64Ref(memory.Total)
		stats.Vram.Used = u64Ref(memory.Used)
	}

	if utilization, ret := p.device.GetUtilizationRates(); IsNVMLSuccess(ret) {
		busy := uint8(utilization.Gpu)
		stats.BusyPercent = &busy
	}

	if usage, ret := p.device.GetPowerUsage(); IsNVMLSuccess(ret) {
		stats.Power.Current = f64Ref(float64(usage) / milliWattsToWatts)
	}
	if limit, ret := p.device.GetPowerManagementLimit(); IsNVMLSuccess(ret) {
		stats.Power.CapCurrent = f64Ref(float64(limit) / milliWattsToWatts)
	}
	if minLimit, maxLimit, ret := p.device.GetPowerManagementLimitConstraints(); IsNVMLSuccess(ret) {
		stats.Power.CapMin = f64Ref(float64(minLimit) / milliWattsToWatts)
		stats.Power.CapMax = f64Ref(float64(maxLimit) / milliWattsToWatts)
	}
	if defaultLimit, ret := p.device.GetPowerManagementDefaultLimit(); IsNVMLSuccess(ret) {
		stats.Power.CapDefault = f64Ref(float64(defaultLimit) / milliWattsToWatts)
	}

	if speed, ret := p.device.GetFanSpeed_v2(0); IsNVMLSuccess(ret) {
		pwm := uint8(math.Round(float64(speed) * 255 / 100))
		stats.Fan.PwmCurrent = &pwm
	}

	stats.ThrottleInfo = readThrottleInfo(p.device)

	return stats, nil
}

var throttleReasons = map[uint64]string{
	nvml.ClocksThrottleReasonGpuIdle:                   "GPU Idle",
	nvml.ClocksThrottleReasonApplicationsClocksSetting: "Applications Clocks Setting",
	nvml.ClocksThrottleReasonSwPowerCap:                "SW Power Cap",
	nvml.ClocksThrottleReasonHwSlowdown:                "HW Slowdown",
	nvml.ClocksThrottleReasonSwThermalSlowdown:         "SW Thermal Slowdown",
	nvml.ClocksThrottleReasonHwThermalSlowdown:         "HW Thermal Slowdown",
}

func readThrottleInfo(device nvml.Device) map[string][]string {
	mask, ret := device.GetCurrentClocksThrottleReasons()
	if !IsNVMLSuccess(ret) || mask == 0 {
		return nil
	}

	info := map[string][]string{}
	for bit, name := range throttleReasons {
		if mask&bit != 0 {
			info[name] = []string{}
		}
	}
	if len(info) == 0 {
		return nil
	}

	return info
}

// buildNvmlDeviceInfo fills the static description, field by field,
// tolerating every probe failure.
func buildNvmlDeviceInfo(device nvml.Device) schema.DeviceInfo {
	info := schema.DeviceInfo{Driver: "nvidia"}

	if version, ret := nvml.SystemGetDriverVersion(); IsNVMLSuccess(ret) {
		info.Driver = "nvidia " + version
	}

	if vbios, ret := device.GetVbiosVersion(); IsNVMLSuccess(ret) {
		info.VbiosVersion = &vbios
	}

	drm := schema.DrmInfo{VramClockRatio: 1.0}
	if name, ret := device.GetName(); IsNVMLSuccess(ret) {
		drm.DeviceName = &name
	}
	if cores, ret := device.GetNumGpuCores(); IsNVMLSuccess(ret) {
		count := uint32(cores)
		drm.CudaCores = &count
	}
	info.DrmInfo = &drm

	if pci, ret := device.GetPciInfo(); IsNVMLSuccess(ret) {
		devicePci := schema.PciInfo{
			VendorID: fmt.Sprintf("%04x", pci.PciDeviceId&0xFFFF),
			ModelID:  fmt.Sprintf("%04x", pci.PciDeviceId>>16),
		}
		subsystemPci := schema.PciInfo{
			VendorID: fmt.Sprintf("%04x", pci.PciSubSystemId&0xFFFF),
			ModelID:  fmt.Sprintf("%04x", pci.PciSubSystemId>>16),
		}
		info.PciInfo = &schema.GpuPciInfo{DevicePciInfo: devicePci, SubsystemPciInfo: subsystemPci}
	}

	if gen, ret := device.GetCurrPcieLinkGeneration(); IsNVMLSuccess(ret) {
		speed := pcieGenSpeed(gen)
		info.LinkInfo.CurrentSpeed = &speed
	}
	if width, ret := device.GetCurrPcieLinkWidth(); IsNVMLSuccess(ret) {
		w := fmt.Sprintf("%d", width)
		info.LinkInfo.CurrentWidth = &w
	}
	if gen, ret := device.GetMaxPcieLinkGeneration(); IsNVMLSuccess(ret) {
		speed := pcieGenSpeed(gen)
		info.LinkInfo.MaxSpeed = &speed
	}
	if width, ret := device.GetMaxPcieLinkWidth(); IsNVMLSuccess(ret) {
		w := fmt.Sprintf("%d", width)
		info.LinkInfo.MaxWidth = &w
	}

	return info
}

func pcieGenSpeed(gen int) string {
	switch gen {
	case 1:
		return "2.5 GT/s"
	case 2:
		return "5.0 GT/s"
	case 3:
		return "8.0 GT/s"
	case 4:
		return "16.0 GT/s"
	case 5:
		return "32.0 GT/s"
	case 6:
		return "64.0 GT/s"
	default:
		return fmt.Sprintf("Gen %d", gen)
	}
}

func f64Ref(v float64) *float64 {
	return &v
}

func u64Ref(v uint64) *uint64 {
	return &v
}
