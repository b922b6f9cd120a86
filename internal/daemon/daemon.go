// Package daemon runs the two control loops and answers client
// requests. The control tick reads device telemetry and drives the
// fan engines; the process tick rebuilds the watcher state and
// switches profiles when the resolution changes. Profile state is
// shared between the loops and the request handler behind one mutex;
// hardware write serialization lives in the device itself.
package daemon

import (
	"context"
	"sort"
	"sync"
	"time"

	"codeberg.org/wrenhale/gpuctl/internal/config"
	"codeberg.org/wrenhale/gpuctl/internal/errors"
	"codeberg.org/wrenhale/gpuctl/internal/gpu"
	"codeberg.org/wrenhale/gpuctl/internal/logger"
	"codeberg.org/wrenhale/gpuctl/internal/procscan"
	"codeberg.org/wrenhale/gpuctl/internal/profiles"
	"codeberg.org/wrenhale/gpuctl/internal/telemetry"
	"codeberg.org/wrenhale/gpuctl/schema"
)

// SnapshotFunc produces one process snapshot.
type SnapshotFunc func(ctx context.Context) (map[int32]schema.ProcessInfo, error)

// Option adjusts daemon construction.
type Option func(*Daemon)

// WithGamemodeSource substitutes the registry of processes running
// under gamemode.
func WithGamemodeSource(src profiles.GamemodeSource) Option {
	return func(d *Daemon) {
		d.gamemode = src
	}
}

// WithSnapshotFunc substitutes the process snapshot source.
func WithSnapshotFunc(fn SnapshotFunc) Option {
	return func(d *Daemon) {
		d.snapshot = fn
	}
}

// Daemon owns the devices and the shared control state.
type Daemon struct {
	cfg       *config.Config
	devices   []*gpu.Device
	byID      map[string]*gpu.Device
	collector telemetry.Collector
	gamemode  profiles.GamemodeSource
	snapshot  SnapshotFunc

	mu       sync.Mutex
	profiles schema.ProfileMap
	payloads map[string]config.ProfilePayload
	base     config.ProfilePayload
	current  *string
	auto     bool
	watcher  schema.ProfileWatcherState
}

// New builds the daemon from a validated configuration and pushes the
// initial fan settings to every device. A nil collector disables
// telemetry. Per-device apply failures are logged, not fatal; the
// control loop re-issues on the next tick.
func New(cfg *config.Config, devices []*gpu.Device, collector telemetry.Collector, opts ...Option) (*Daemon, error) {
	list, err := config.ProfileList(cfg.Profiles)
	if err != nil {
		return nil, err
	}

	payloads, err := config.ProfilePayloads(cfg.Profiles)
	if err != nil {
		return nil, err
	}

	d := &Daemon{
		cfg:       cfg,
		devices:   devices,
		byID:      make(map[string]*gpu.Device, len(devices)),
		collector: collector,
		gamemode:  profiles.NoGamemode{},
		snapshot:  procscan.Snapshot,
		profiles:  list,
		payloads:  payloads,
		auto:      cfg.AutoSwitch,
	}
	for _, dev := range devices {
		d.byID[dev.ID()] = dev
	}
	for _, opt := range opts {
		opt(d)
	}

	if cfg.FanControl != nil {
		fanOpts, err := cfg.FanControl.Options()
		if err != nil {
			return nil, err
		}
		d.base.Fan = &fanOpts

		fanCfg, err := gpu.FanConfigFromOptions(fanOpts)
		if err != nil {
			return nil, err
		}
		for _, dev := range devices {
			if err := dev.ApplyFanConfig(fanCfg); err != nil {
				logger.Warn().Str("device", dev.ID()).Err(err).Msg("Initial fan configuration failed")
			}
		}
	}

	return d, nil
}

// Run drives both loops until the context is cancelled. An in-flight
// tick finishes before Run returns, so no device write is abandoned
// halfway.
func (d *Daemon) Run(ctx context.Context) error {
	logger.Info().
		Int("devices", len(d.devices)).
		Int("interval", d.cfg.Interval).
		Int("process_interval", d.cfg.ProcessInterval).
		Msg("Starting control loops")

	var wg sync.WaitGroup
	wg.Add(2)

	go func() {
		defer wg.Done()
		d.controlLoop(ctx)
	}()
	go func() {
		defer wg.Done()
		d.processLoop(ctx)
	}()

	wg.Wait()
	logger.Info().Msg("Control loops stopped")

	return nil
}

func (d *Daemon) controlLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(d.cfg.Interval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			d.ControlTick(ctx, now)
		}
	}
}

func (d *Daemon) processLoop(ctx context.Context) {
	// Scan once up front so a freshly started daemon resolves its
	// profile without waiting a full interval.
	d.ProcessTick(ctx)

	ticker := time.NewTicker(time.Duration(d.cfg.ProcessInterval) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.ProcessTick(ctx)
		}
	}
}

// ControlTick runs one telemetry and fan control pass over every
// device. Failures are logged per device; the next tick re-evaluates
// from fresh state.
func (d *Daemon) ControlTick(ctx context.Context, now time.Time) {
	profile := d.CurrentProfile()

	for _, dev := range d.devices {
		stats, err := dev.Stats()
		if err != nil {
			logger.Warn().Str("device", dev.ID()).Err(err).Msg("Stats read failed")
			continue
		}

		temp, ok := coreTemperature(stats)
		if !ok {
			logger.Debug().Str("device", dev.ID()).Msg("No temperature reading, skipping fan evaluation")
			continue
		}

		duty, _, err := dev.FanTick(temp, now)
		if err != nil {
			logger.Warn().Str("device", dev.ID()).Err(err).Msg("Fan duty write failed")
		}

		if d.collector == nil {
			continue
		}

		sample := &telemetry.Sample{
			Timestamp:   now,
			DeviceID:    dev.ID(),
			Temperature: temp,
			FanDuty:     duty,
			Profile:     profile,
			PowerDraw:   stats.Power.Current,
		}
		if err := d.collector.Record(ctx, sample); err != nil {
			logger.Warn().Str("device", dev.ID()).Err(err).Msg("Telemetry record failed")
		}
	}
}

// ProcessTick rebuilds the watcher state from a fresh process snapshot
// and, when auto switching is on, switches profiles if the resolution
// changed. An unchanged resolution produces zero hardware writes.
func (d *Daemon) ProcessTick(ctx context.Context) {
	snapshot, err := d.snapshot(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("Process snapshot failed")
		return
	}

	state := profiles.BuildState(snapshot, d.gamemode.Games())

	d.mu.Lock()
	defer d.mu.Unlock()

	d.watcher = state

	if !d.auto {
		return
	}

	var resolved *string
	if name, ok := profiles.Resolve(d.profiles, &state); ok {
		resolved = &name
	}

	if strPtrEqual(resolved, d.current) {
		return
	}

	d.switchProfileLocked(resolved)
}

// CurrentProfile returns the active profile name, nil when none.
func (d *Daemon) CurrentProfile() *string {
	d.mu.Lock()
	defer d.mu.Unlock()

	return copyStr(d.current)
}

// ProfilesInfo snapshots the profile configuration for clients.
func (d *Daemon) ProfilesInfo(includeState bool) schema.ProfilesInfo {
	d.mu.Lock()
	defer d.mu.Unlock()

	info := schema.ProfilesInfo{
		Profiles:       append(schema.ProfileMap{}, d.profiles...),
		CurrentProfile: copyStr(d.current),
		AutoSwitch:     d.auto,
	}
	if includeState {
		state := d.watcher
		info.WatcherState = &state
	}

	return info
}

// SetProfile selects a profile by name, nil for none. The selection
// holds until the next resolution change when auto switching is on.
func (d *Daemon) SetProfile(name *string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if name != nil {
		if _, ok := d.profiles.Get(*name); !ok {
			return errors.New().WithData(ErrUnknownProfile, *name)
		}
	}

	if strPtrEqual(name, d.current) {
		return nil
	}

	return d.switchProfileLocked(name)
}

// CreateProfile adds a profile with an optional activation rule.
func (d *Daemon) CreateProfile(name string, rule *schema.ProfileRule) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.profiles.Get(name); ok {
		return errors.New().WithData(ErrProfileExists, name)
	}

	d.profiles.Set(name, rule)

	return nil
}

// DeleteProfile removes a profile. Deleting the active profile clears
// the selection and restores the base configuration.
func (d *Daemon) DeleteProfile(name string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.profiles.Delete(name) {
		return errors.New().WithData(ErrUnknownProfile, name)
	}
	delete(d.payloads, name)

	if d.current != nil && *d.current == name {
		return d.switchProfileLocked(nil)
	}

	return nil
}

// SetProfileRule replaces the activation rule of an existing profile.
func (d *Daemon) SetProfileRule(name string, rule *schema.ProfileRule) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.profiles.Get(name); !ok {
		return errors.New().WithData(ErrUnknownProfile, name)
	}

	d.profiles.Set(name, rule)

	return nil
}

// SetAutoSwitch toggles automatic switching. Enabling re-resolves
// immediately from the last watcher state instead of waiting for the
// next scan.
func (d *Daemon) SetAutoSwitch(enabled bool) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.auto = enabled
	if !enabled {
		return nil
	}

	var resolved *string
	if name, ok := profiles.Resolve(d.profiles, &d.watcher); ok {
		resolved = &name
	}

	if strPtrEqual(resolved, d.current) {
		return nil
	}

	return d.switchProfileLocked(resolved)
}

// switchProfileLocked records the new active profile and pushes its
// payload to every device. A profile without a payload restores the
// base configuration. Callers hold d.mu.
func (d *Daemon) switchProfileLocked(name *string) error {
	logger.Info().
		Str("from", profileLabel(d.current)).
		Str("to", profileLabel(name)).
		Msg("Switching profile")

	d.current = copyStr(name)

	payload := d.base
	if name != nil {
		if p, ok := d.payloads[*name]; ok {
			payload = p
		}
	}

	var firstErr error
	for _, dev := range d.devices {
		if err := d.applyPayload(dev, payload); err != nil {
			logger.Warn().Str("device", dev.ID()).Err(err).Msg("Profile apply failed")
			if firstErr == nil {
				firstErr = err
			}
		}
	}

	return firstErr
}

// applyPayload pushes one profile payload through the device write
// paths. Unset fields leave the device state untouched; clock settings
// are skipped on devices of a different vendor.
func (d *Daemon) applyPayload(dev *gpu.Device, payload config.ProfilePayload) error {
	var firstErr error

	if payload.Fan != nil {
		fanCfg, err := gpu.FanConfigFromOptions(*payload.Fan)
		if err == nil {
			err = dev.ApplyFanConfig(fanCfg)
		}
		if err != nil {
			firstErr = err
		}
	}

	if payload.Clocks != nil {
		if dev.Clocks().Vendor() == payload.Clocks.Vendor() {
			if err := dev.ApplyClocks(*payload.Clocks); err != nil && firstErr == nil {
				firstErr = err
			}
		} else {
			logger.Debug().Str("device", dev.ID()).Msg("Skipping clock settings for a different vendor")
		}
	}

	if payload.PowerCap != nil {
		if err := dev.SetPowerCap(payload.PowerCap); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// coreTemperature picks the sensor that drives the fan curve. Nvidia
// exposes a single "GPU" sensor and AMD calls the die sensor "edge";
// otherwise the first sensor by name keeps the choice stable between
// ticks.
func coreTemperature(stats schema.DeviceStats) (float64, bool) {
	for _, name := range []string{"GPU", "edge"} {
		if t, ok := stats.Temps[name]; ok && t.Current != nil {
			return *t.Current, true
		}
	}

	names := make([]string, 0, len(stats.Temps))
	for name, t := range stats.Temps {
		if t.Current != nil {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return 0, false
	}
	sort.Strings(names)

	return *stats.Temps[names[0]].Current, true
}

func profileLabel(name *string) string {
	if name == nil {
		return "none"
	}

	return *name
}

func copyStr(s *string) *string {
	if s == nil {
		return nil
	}
	v := *s

	return &v
}

func strPtrEqual(a, b *string) bool {
	if (a == nil) != (b == nil) {
		return false
	}

	return a == nil || *a == *b
}
