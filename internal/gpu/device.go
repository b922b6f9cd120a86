package gpu

import (
	"sync"
	"time"

	"codeberg.org/wrenhale/gpuctl/internal/errors"
	"codeberg.org/wrenhale/gpuctl/internal/logger"
	"codeberg.org/wrenhale/gpuctl/schema"
)

// Device couples one piece of hardware with its clock controller and
// fan engine. All hardware writes funnel through the write mutex, so
// a fan duty write and a profile-triggered clock write never
// interleave on the same device.
type Device struct {
	id     string
	entry  schema.DeviceListEntry
	info   schema.DeviceInfo
	ports  Ports
	clocks *ClockController
	engine *FanEngine

	writeMu sync.Mutex
}

// NewDevice builds a device around its hardware ports. Fan control
// starts disabled; the firmware keeps driving the fans until a config
// enables the engine.
func NewDevice(id string, entry schema.DeviceListEntry, info schema.DeviceInfo, ports Ports) *Device {
	return &Device{
		id:     id,
		entry:  entry,
		info:   info,
		ports:  ports,
		clocks: NewClockController(ports.Clocks),
		engine: NewFanEngine(FanControlConfig{Mode: schema.FanControlCurve}),
	}
}

// ID returns the stable device identifier.
func (d *Device) ID() string {
	return d.id
}

// Entry returns the listing entry for this device.
func (d *Device) Entry() schema.DeviceListEntry {
	return d.entry
}

// Info returns the static device description.
func (d *Device) Info() schema.DeviceInfo {
	return d.info
}

// Clocks returns the clock controller.
func (d *Device) Clocks() *ClockController {
	return d.clocks
}

// FanConfig returns the active fan configuration.
func (d *Device) FanConfig() FanControlConfig {
	return d.engine.Config()
}

// Stats reads the live hardware telemetry and overlays the fan control
// state the engine owns.
func (d *Device) Stats() (schema.DeviceStats, error) {
	stats, err := d.ports.Stats.ReadStats()
	if err != nil {
		return schema.DeviceStats{}, errors.New().Wrap(ErrStatsReadFailed, err)
	}

	cfg := d.engine.Config()
	stats.Fan.ControlEnabled = cfg.Enabled
	mode := cfg.Mode
	stats.Fan.ControlMode = &mode
	static := cfg.StaticSpeed
	stats.Fan.StaticSpeed = &static
	if cfg.Curve != nil {
		stats.Fan.Curve = cfg.Curve
	}
	spindown := uint64(cfg.SpindownDelay / time.Millisecond)
	stats.Fan.SpindownDelayMs = &spindown
	threshold := uint64(cfg.ChangeThreshold * 100)
	stats.Fan.ChangeThreshold = &threshold

	return stats, nil
}

// ApplyFanConfig reconfigures the engine and moves the hardware
// between manual and firmware control. Firmware limit overrides are
// forwarded as-is; they bound what the firmware enforces and are not
// part of the duty computation.
func (d *Device) ApplyFanConfig(cfg FanControlConfig) error {
	errFactory := errors.New()

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if !cfg.Pmfw.IsEmpty() {
		if err := d.ports.Fan.ApplyPmfwOptions(cfg.Pmfw); err != nil {
			return errFactory.Wrap(ErrHardwareWriteFailed, err)
		}
	}

	if !cfg.Enabled {
		d.engine.Reconfigure(cfg)
		d.engine.Reset()
		if err := d.ports.Fan.EnableAutoControl(); err != nil {
			return errFactory.Wrap(ErrHardwareWriteFailed, err)
		}

		logger.Debug().Str("device", d.id).Msg("Fan control returned to firmware")

		return nil
	}

	d.engine.Reconfigure(cfg)

	return nil
}

// FanTick runs one control-loop step: evaluate the engine against the
// sample and issue the duty write when one is needed. The engine
// records the value only after the hardware accepted it. The returned
// duty is the one the fans run at after the tick, so a held tick
// reports the previous value, not the suppressed target.
func (d *Device) FanTick(tempC float64, now time.Time) (float64, bool, error) {
	duty, issue := d.engine.Evaluate(tempC, now)
	if !issue {
		return d.engine.CurrentDuty(), false, nil
	}

	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if err := d.ports.Fan.SetDuty(duty); err != nil {
		return d.engine.CurrentDuty(), false, errors.New().Wrap(ErrHardwareWriteFailed, err)
	}
	d.engine.Commit(duty)

	logger.Debug().Str("device", d.id).Float64("duty", duty).Msg("Fan duty issued")

	return duty, true, nil
}

// ApplyClocks validates and applies a clocks delta.
func (d *Device) ApplyClocks(delta schema.ClocksDelta) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	return d.clocks.Apply(delta)
}

// ReadClocks returns the normalized clock view.
func (d *Device) ReadClocks() (schema.ClocksInfo, error) {
	return d.clocks.Read()
}

// SetPowerCap sets the power limit in watts; nil resets the hardware
// default.
func (d *Device) SetPowerCap(capWatts *float64) error {
	d.writeMu.Lock()
	defer d.writeMu.Unlock()

	if err := d.ports.Clocks.SetPowerCap(capWatts); err != nil {
		return errors.New().Wrap(ErrHardwareWriteFailed, err)
	}

	return nil
}
