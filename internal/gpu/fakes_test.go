package gpu_test

import (
	"codeberg.org/wrenhale/gpuctl/schema"
)

// fakeClockPort records every call so tests can assert what reached
// the hardware and in which order.
type fakeClockPort struct {
	vendor   schema.Vendor
	info     schema.ClocksInfo
	readErr  error
	applyErr error
	powerErr error

	reads     int
	applied   []schema.ClocksDelta
	powerCaps []*float64
}

func (p *fakeClockPort) Vendor() schema.Vendor {
	return p.vendor
}

func (p *fakeClockPort) ReadClocks() (schema.ClocksInfo, error) {
	p.reads++
	if p.readErr != nil {
		return schema.ClocksInfo{}, p.readErr
	}

	return p.info, nil
}

func (p *fakeClockPort) ApplyClocks(delta schema.ClocksDelta) error {
	if p.applyErr != nil {
		return p.applyErr
	}
	p.applied = append(p.applied, delta)

	return nil
}

func (p *fakeClockPort) SetPowerCap(capWatts *float64) error {
	if p.powerErr != nil {
		return p.powerErr
	}
	p.powerCaps = append(p.powerCaps, capWatts)

	return nil
}

type fakeFanPort struct {
	setErr  error
	pmfwErr error

	duties    []float64
	autoCalls int
	pmfw      []schema.PmfwOptions
}

func (p *fakeFanPort) SetDuty(duty float64) error {
	if p.setErr != nil {
		return p.setErr
	}
	p.duties = append(p.duties, duty)

	return nil
}

func (p *fakeFanPort) EnableAutoControl() error {
	p.autoCalls++

	return nil
}

func (p *fakeFanPort) ApplyPmfwOptions(opts schema.PmfwOptions) error {
	if p.pmfwErr != nil {
		return p.pmfwErr
	}
	p.pmfw = append(p.pmfw, opts)

	return nil
}

type fakeStatsPort struct {
	stats schema.DeviceStats
	err   error
}

func (p *fakeStatsPort) ReadStats() (schema.DeviceStats, error) {
	return p.stats, p.err
}

func nvidiaPortFixture() *fakeClockPort {
	return &fakeClockPort{
		vendor: schema.VendorNvidia,
		info: schema.NewNvidiaClocksInfo(schema.NvidiaClocksTable{
			GpuOffsets: map[uint32]schema.NvidiaClockOffset{
				0: {Current: 0, Min: -200, Max: 200},
			},
			MemOffsets: map[uint32]schema.NvidiaClockOffset{
				0: {Current: 0, Min: -500, Max: 1000},
			},
			GpuClockRange:  &schema.Range{Min: 210, Max: 2100},
			VramClockRange: &schema.Range{Min: 405, Max: 10501},
		}),
	}
}

func u64Ptr(v uint64) *uint64 {
	return &v
}

func f64Ptr(v float64) *float64 {
	return &v
}
