package gpu

import (
	"math"
	"sort"
	"sync"
	"time"

	"codeberg.org/wrenhale/gpuctl/internal/errors"
	"codeberg.org/wrenhale/gpuctl/schema"
)

// FanControlConfig is the validated fan configuration of one device.
// ChangeThreshold and the delay carry engine units (duty ratio and
// duration), converted once from the wire shape.
type FanControlConfig struct {
	Enabled         bool
	Mode            schema.FanControlMode
	StaticSpeed     float64
	Curve           schema.FanCurveMap
	Pmfw            schema.PmfwOptions
	SpindownDelay   time.Duration
	ChangeThreshold float64
}

const defaultStaticSpeed = 0.5

// FanConfigFromOptions validates a wire-level fan request and fills in
// defaults. A nil curve falls back to the default curve in curve mode;
// an explicitly empty curve is kept and reads as "fan off". Invalid
// curves and static speeds are rejected here so the control loop never
// sees them.
func FanConfigFromOptions(opts schema.FanOptions) (FanControlConfig, error) {
	errFactory := errors.New()

	cfg := FanControlConfig{
		Enabled:     opts.Enabled,
		Mode:        schema.FanControlCurve,
		StaticSpeed: defaultStaticSpeed,
		Pmfw:        opts.Pmfw,
	}

	if opts.Mode != nil {
		if _, err := schema.ParseFanControlMode(string(*opts.Mode)); err != nil {
			return FanControlConfig{}, errFactory.Wrap(ErrInvalidCurve, err)
		}
		cfg.Mode = *opts.Mode
	}

	if opts.StaticSpeed != nil {
		if *opts.StaticSpeed < 0 || *opts.StaticSpeed > 1 {
			return FanControlConfig{}, errFactory.WithMessage(ErrInvalidCurve, "static speed outside of [0, 1]")
		}
		cfg.StaticSpeed = *opts.StaticSpeed
	}

	switch {
	case opts.Curve != nil:
		if err := opts.Curve.Validate(); err != nil {
			return FanControlConfig{}, errFactory.Wrap(ErrInvalidCurve, err)
		}
		cfg.Curve = opts.Curve
	case cfg.Mode == schema.FanControlCurve:
		cfg.Curve = schema.DefaultFanCurve()
	}

	if opts.SpindownDelayMs != nil {
		cfg.SpindownDelay = time.Duration(*opts.SpindownDelayMs) * time.Millisecond
	}
	if opts.ChangeThreshold != nil {
		cfg.ChangeThreshold = float64(*opts.ChangeThreshold) / 100
	}

	return cfg, nil
}

type curvePoint struct {
	temp float64
	duty float64
}

// FanEngine converts temperature samples into duty commands for one
// device. Downward targets are held for the spindown delay and small
// changes are absorbed by the change threshold, in both modes. The
// engine decides; it never touches hardware.
type FanEngine struct {
	mu     sync.Mutex
	config FanControlConfig
	points []curvePoint

	hasLast      bool
	lastIssued   float64
	pendingSince *time.Time
}

// NewFanEngine returns an engine with the given validated config.
func NewFanEngine(cfg FanControlConfig) *FanEngine {
	e := &FanEngine{}
	e.Reconfigure(cfg)

	return e
}

// Reconfigure swaps the active configuration. A pending spindown is
// discarded since it was computed against the previous curve.
func (e *FanEngine) Reconfigure(cfg FanControlConfig) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.config = cfg
	e.points = e.points[:0]
	for temp, duty := range cfg.Curve {
		e.points = append(e.points, curvePoint{temp: float64(temp), duty: duty})
	}
	sort.Slice(e.points, func(i, j int) bool { return e.points[i].temp < e.points[j].temp })

	e.pendingSince = nil
}

// Config returns a copy of the active configuration.
func (e *FanEngine) Config() FanControlConfig {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.config
}

// Evaluate computes the duty command for a temperature sample. The
// second return value reports whether a hardware write is needed this
// tick. Evaluate does not record the write; callers call Commit after
// the hardware accepted it, so a failed write is retried by the next
// evaluation instead of being remembered as issued.
func (e *FanEngine) Evaluate(tempC float64, now time.Time) (float64, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.config.Enabled {
		return 0, false
	}

	target := e.target(tempC)

	if !e.hasLast {
		return target, true
	}

	if target < e.lastIssued {
		if e.pendingSince == nil {
			start := now
			e.pendingSince = &start
		}
		if now.Sub(*e.pendingSince) < e.config.SpindownDelay {
			return 0, false
		}
	} else {
		e.pendingSince = nil
	}

	if target == e.lastIssued || math.Abs(target-e.lastIssued) < e.config.ChangeThreshold {
		return 0, false
	}

	return target, true
}

// Commit records a duty value accepted by the hardware.
func (e *FanEngine) Commit(duty float64) {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.lastIssued = duty
	e.hasLast = true
	e.pendingSince = nil
}

// CurrentDuty returns the last duty the hardware accepted, zero before
// the first write.
func (e *FanEngine) CurrentDuty() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.lastIssued
}

// Reset forgets the issued-duty history, used when the fans return to
// firmware control.
func (e *FanEngine) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.hasLast = false
	e.lastIssued = 0
	e.pendingSince = nil
}

func (e *FanEngine) target(tempC float64) float64 {
	if e.config.Mode == schema.FanControlStatic {
		return e.config.StaticSpeed
	}

	return interpolate(e.points, tempC)
}

// interpolate maps a temperature onto the curve. Samples outside the
// curve clamp to the boundary duties; an empty curve reads as zero.
func interpolate(points []curvePoint, tempC float64) float64 {
	if len(points) == 0 {
		return 0
	}

	if tempC <= points[0].temp {
		return points[0].duty
	}
	last := points[len(points)-1]
	if tempC >= last.temp {
		return last.duty
	}

	for i := 1; i < len(points); i++ {
		if tempC > points[i].temp {
			continue
		}

		lower, upper := points[i-1], points[i]
		span := upper.temp - lower.temp
		if span == 0 {
			return upper.duty
		}
		ratio := (tempC - lower.temp) / span

		return lower.duty + ratio*(upper.duty-lower.duty)
	}

	return last.duty
}
