package gpu

import (
	"fmt"
	"sync"

	"codeberg.org/wrenhale/gpuctl/internal/errors"
	"codeberg.org/wrenhale/gpuctl/schema"
)

// ClockController exposes the normalized clock view of one device and
// validates changes before they reach the vendor port. Reads are
// cached until a successful write invalidates them, so a read after
// apply reflects hardware truth rather than the requested values.
type ClockController struct {
	port  VendorClockPort
	mu    sync.Mutex
	cache *schema.ClocksInfo
}

// NewClockController wraps a vendor port.
func NewClockController(port VendorClockPort) *ClockController {
	return &ClockController{port: port}
}

// Vendor returns the vendor of the underlying port.
func (c *ClockController) Vendor() schema.Vendor {
	return c.port.Vendor()
}

// Read returns the current clock configuration. Missing optional
// fields are represented as absence, never as an error.
func (c *ClockController) Read() (schema.ClocksInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	return c.readLocked()
}

func (c *ClockController) readLocked() (schema.ClocksInfo, error) {
	if c.cache != nil {
		return *c.cache, nil
	}

	info, err := c.port.ReadClocks()
	if err != nil {
		return schema.ClocksInfo{}, errors.New().Wrap(ErrClocksReadFailed, err)
	}
	c.cache = &info

	return info, nil
}

// Apply validates a delta against the active vendor variant and
// forwards it. The vendor check happens before any hardware
// interaction; range checks happen before the write, so a rejected
// delta never reaches the port.
func (c *ClockController) Apply(delta schema.ClocksDelta) error {
	errFactory := errors.New()

	vendor := delta.Vendor()
	if vendor == "" {
		return errFactory.WithMessage(errors.ErrInvalidArgument, "clocks delta has no vendor variant")
	}
	if vendor != c.port.Vendor() {
		return errFactory.WithData(ErrMismatchedVendor, fmt.Sprintf("delta is %s, device is %s", vendor, c.port.Vendor()))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch vendor {
	case schema.VendorNvidia:
		info, err := c.readLocked()
		if err != nil {
			return err
		}
		if err := validateNvidiaDelta(delta.Nvidia, nvidiaTable(info)); err != nil {
			return err
		}
	case schema.VendorIntel:
		info, err := c.readLocked()
		if err != nil {
			return err
		}
		if err := validateIntelDelta(delta.Intel, intelTable(info)); err != nil {
			return err
		}
	case schema.VendorAmd:
		// The overdrive table is opaque and self-validating; it is
		// forwarded whole.
	}

	if err := c.port.ApplyClocks(delta); err != nil {
		c.cache = nil
		return errFactory.Wrap(ErrHardwareWriteFailed, err)
	}

	c.cache = nil

	return nil
}

func nvidiaTable(info schema.ClocksInfo) *schema.NvidiaClocksTable {
	if info.Table == nil {
		return nil
	}

	return info.Table.Nvidia
}

func intelTable(info schema.ClocksInfo) *schema.IntelClocksTable {
	if info.Table == nil {
		return nil
	}

	return info.Table.Intel
}

// validateNvidiaDelta range-checks offsets against the per-point
// windows and locked clocks against the advertised clock ranges.
// Offsets must target advertised points, so they fail closed without
// a table. Locked clocks without an advertised range pass through and
// the hardware has the final word.
func validateNvidiaDelta(delta *schema.NvidiaClocksDelta, table *schema.NvidiaClocksTable) error {
	errFactory := errors.New()

	var gpuPoints, memPoints map[uint32]schema.NvidiaClockOffset
	if table != nil {
		gpuPoints, memPoints = table.GpuOffsets, table.MemOffsets
	}

	if err := validateOffsets(delta.GpuOffsets, gpuPoints, "gpu"); err != nil {
		return err
	}
	if err := validateOffsets(delta.MemOffsets, memPoints, "mem"); err != nil {
		return err
	}

	if delta.GpuLockedClocks != nil {
		var allowed *schema.Range
		if table != nil {
			allowed = table.GpuClockRange
		}
		if err := validateLockedClocks(*delta.GpuLockedClocks, allowed, "gpu"); err != nil {
			return err
		}
	}
	if delta.VramLockedClocks != nil {
		var allowed *schema.Range
		if table != nil {
			allowed = table.VramClockRange
		}
		if err := validateLockedClocks(*delta.VramLockedClocks, allowed, "vram"); err != nil {
			return err
		}
	}

	if delta.ResetGpuLockedClocks && delta.GpuLockedClocks != nil {
		return errFactory.WithMessage(errors.ErrInvalidArgument, "cannot set and reset gpu locked clocks together")
	}
	if delta.ResetVramLockedClocks && delta.VramLockedClocks != nil {
		return errFactory.WithMessage(errors.ErrInvalidArgument, "cannot set and reset vram locked clocks together")
	}

	return nil
}

func validateOffsets(requested map[uint32]int32, points map[uint32]schema.NvidiaClockOffset, domain string) error {
	errFactory := errors.New()

	for pstate, offset := range requested {
		point, ok := points[pstate]
		if !ok {
			return errFactory.WithData(ErrOutOfRange,
				fmt.Sprintf("%s offset targets unknown performance state %d", domain, pstate))
		}
		if offset < point.Min || offset > point.Max {
			return errFactory.WithData(ErrOutOfRange,
				fmt.Sprintf("%s offset %d outside of [%d, %d] for state %d", domain, offset, point.Min, point.Max, pstate))
		}
	}

	return nil
}

func validateLockedClocks(requested schema.Range, allowed *schema.Range, domain string) error {
	errFactory := errors.New()

	if requested.Min > requested.Max {
		return errFactory.WithData(ErrOutOfRange,
			fmt.Sprintf("%s locked clocks min %d above max %d", domain, requested.Min, requested.Max))
	}
	if allowed != nil && (requested.Min < allowed.Min || requested.Max > allowed.Max) {
		return errFactory.WithData(ErrOutOfRange,
			fmt.Sprintf("%s locked clocks [%d, %d] outside of advertised [%d, %d]",
				domain, requested.Min, requested.Max, allowed.Min, allowed.Max))
	}

	return nil
}

// validateIntelDelta checks the GT frequency window against the
// advertised floor and ceiling.
func validateIntelDelta(delta *schema.IntelClocksDelta, table *schema.IntelClocksTable) error {
	errFactory := errors.New()

	if delta.GtFreq == nil {
		return nil
	}

	freq := *delta.GtFreq
	if freq.Min > freq.Max {
		return errFactory.WithData(ErrOutOfRange,
			fmt.Sprintf("gt frequency min %d above max %d", freq.Min, freq.Max))
	}

	if table == nil {
		return nil
	}

	if table.RpnFreq != nil && freq.Min < *table.RpnFreq {
		return errFactory.WithData(ErrOutOfRange,
			fmt.Sprintf("gt frequency floor %d below advertised minimum %d", freq.Min, *table.RpnFreq))
	}
	if table.Rp0Freq != nil && freq.Max > *table.Rp0Freq {
		return errFactory.WithData(ErrOutOfRange,
			fmt.Sprintf("gt frequency ceiling %d above advertised maximum %d", freq.Max, *table.Rp0Freq))
	}

	return nil
}
