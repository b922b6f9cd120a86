package schema

import (
	"encoding/json"
	"fmt"
)

// Vendor identifies the driver family a clocks table belongs to.
type Vendor string

const (
	VendorAmd    Vendor = "amd"
	VendorNvidia Vendor = "nvidia"
	VendorIntel  Vendor = "intel"
)

// ClocksInfo is the normalized clock configuration of one device. The
// maxima are derived from the table when it is accepted, so consumers
// never have to peek inside the vendor payload.
type ClocksInfo struct {
	MaxSclk    *int32       `json:"max_sclk,omitempty"`
	MaxMclk    *int32       `json:"max_mclk,omitempty"`
	MaxVoltage *int32       `json:"max_voltage,omitempty"`
	Table      *ClocksTable `json:"table,omitempty"`
}

// NewAmdClocksInfo wraps an AMD overdrive table and derives the
// maximum core clock, memory clock and voltage from its contents.
func NewAmdClocksInfo(table AmdClocksTable) ClocksInfo {
	return ClocksInfo{
		MaxSclk:    table.MaxCoreClock(),
		MaxMclk:    table.MaxMemoryClock(),
		MaxVoltage: table.MaxVoltage(),
		Table:      &ClocksTable{Amd: &table},
	}
}

// NewNvidiaClocksInfo wraps an Nvidia offsets table.
func NewNvidiaClocksInfo(table NvidiaClocksTable) ClocksInfo {
	return ClocksInfo{Table: &ClocksTable{Nvidia: &table}}
}

// NewIntelClocksInfo wraps an Intel GT frequency table.
func NewIntelClocksInfo(table IntelClocksTable) ClocksInfo {
	return ClocksInfo{Table: &ClocksTable{Intel: &table}}
}

// ClocksTable is a vendor-tagged clocks table. Exactly one variant is
// set. The wire form is {"type": "<vendor>", "value": {...}}, so the
// vendor can be identified without parsing the payload.
type ClocksTable struct {
	Amd    *AmdClocksTable
	Nvidia *NvidiaClocksTable
	Intel  *IntelClocksTable
}

// Vendor returns the vendor of the populated variant, or an empty
// string when none is set.
func (t *ClocksTable) Vendor() Vendor {
	switch {
	case t.Amd != nil:
		return VendorAmd
	case t.Nvidia != nil:
		return VendorNvidia
	case t.Intel != nil:
		return VendorIntel
	default:
		return ""
	}
}

type taggedUnion struct {
	Type  Vendor          `json:"type"`
	Value json.RawMessage `json:"value"`
}

func (t ClocksTable) MarshalJSON() ([]byte, error) {
	var (
		vendor Vendor
		value  any
	)

	switch {
	case t.Amd != nil:
		vendor, value = VendorAmd, t.Amd
	case t.Nvidia != nil:
		vendor, value = VendorNvidia, t.Nvidia
	case t.Intel != nil:
		vendor, value = VendorIntel, t.Intel
	default:
		return nil, fmt.Errorf("clocks table has no vendor variant set")
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	return json.Marshal(taggedUnion{Type: vendor, Value: raw})
}

func (t *ClocksTable) UnmarshalJSON(data []byte) error {
	var tagged taggedUnion
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}

	*t = ClocksTable{}

	switch tagged.Type {
	case VendorAmd:
		t.Amd = &AmdClocksTable{}
		return json.Unmarshal(tagged.Value, t.Amd)
	case VendorNvidia:
		t.Nvidia = &NvidiaClocksTable{}
		return json.Unmarshal(tagged.Value, t.Nvidia)
	case VendorIntel:
		t.Intel = &IntelClocksTable{}
		return json.Unmarshal(tagged.Value, t.Intel)
	default:
		return fmt.Errorf("unknown clocks table type %q", tagged.Type)
	}
}

// AmdClocksTable is the amdgpu overdrive table as exposed through
// pp_od_clk_voltage. Consumers treat it as opaque and write it back
// whole; only the derived maxima are inspected.
type AmdClocksTable struct {
	CurrentSclkRange AmdRange        `json:"current_sclk_range"`
	CurrentMclkRange AmdRange        `json:"current_mclk_range"`
	VddcCurve        []AmdCurvePoint `json:"vddc_curve,omitempty"`
	VoltageOffset    *int32          `json:"voltage_offset,omitempty"`
	OdRange          *AmdOdRange     `json:"od_range,omitempty"`
}

// MaxCoreClock returns the upper bound of the current sclk range.
func (t *AmdClocksTable) MaxCoreClock() *int32 {
	return t.CurrentSclkRange.Max
}

// MaxMemoryClock returns the upper bound of the current mclk range.
func (t *AmdClocksTable) MaxMemoryClock() *int32 {
	return t.CurrentMclkRange.Max
}

// MaxVoltage returns the voltage of the highest curve point.
func (t *AmdClocksTable) MaxVoltage() *int32 {
	if len(t.VddcCurve) == 0 {
		return nil
	}

	v := t.VddcCurve[len(t.VddcCurve)-1].Voltage

	return &v
}

// AmdRange is a pair of clock or voltage bounds. Either side may be
// absent depending on what the driver advertises.
type AmdRange struct {
	Min *int32 `json:"min,omitempty"`
	Max *int32 `json:"max,omitempty"`
}

// AmdCurvePoint is one point of the voltage curve.
type AmdCurvePoint struct {
	Clockspeed int32 `json:"clockspeed"`
	Voltage    int32 `json:"voltage"`
}

// AmdOdRange holds the allowed overdrive ranges advertised by the
// driver.
type AmdOdRange struct {
	Sclk AmdRange  `json:"sclk"`
	Mclk *AmdRange `json:"mclk,omitempty"`
	Vddc *AmdRange `json:"vddc,omitempty"`
}

// NvidiaClocksTable holds per-pstate clock offsets and the optional
// locked clock windows. Offset maps are keyed by performance state.
type NvidiaClocksTable struct {
	GpuOffsets       map[uint32]NvidiaClockOffset `json:"gpu_offsets,omitempty"`
	MemOffsets       map[uint32]NvidiaClockOffset `json:"mem_offsets,omitempty"`
	GpuLockedClocks  *Range                       `json:"gpu_locked_clocks,omitempty"`
	VramLockedClocks *Range                       `json:"vram_locked_clocks,omitempty"`
	GpuClockRange    *Range                       `json:"gpu_clock_range,omitempty"`
	VramClockRange   *Range                       `json:"vram_clock_range,omitempty"`
}

// NvidiaClockOffset is the current clock offset of one performance
// state together with its allowed window.
type NvidiaClockOffset struct {
	Current int32 `json:"current"`
	Min     int32 `json:"min"`
	Max     int32 `json:"max"`
}

// IntelClocksTable mirrors the xe and i915 GT frequency interface.
// RpnFreq is the minimum, RpeFreq the efficient and Rp0Freq the
// maximum advertised frequency.
type IntelClocksTable struct {
	GtFreq  *FreqRange `json:"gt_freq,omitempty"`
	RpnFreq *uint64    `json:"rpn_freq,omitempty"`
	RpeFreq *uint64    `json:"rpe_freq,omitempty"`
	Rp0Freq *uint64    `json:"rp0_freq,omitempty"`
}

// Range is an inclusive [min, max] clock pair serialized as a
// two-element array.
type Range struct {
	Min uint32
	Max uint32
}

func (r Range) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]uint32{r.Min, r.Max})
}

func (r *Range) UnmarshalJSON(data []byte) error {
	var pair []uint32
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}

	if len(pair) != 2 {
		return fmt.Errorf("range must have exactly two elements, got %d", len(pair))
	}

	r.Min, r.Max = pair[0], pair[1]

	return nil
}

// FreqRange is Range with the wider integer type used by the Intel
// frequency interface.
type FreqRange struct {
	Min uint64
	Max uint64
}

func (r FreqRange) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]uint64{r.Min, r.Max})
}

func (r *FreqRange) UnmarshalJSON(data []byte) error {
	var pair []uint64
	if err := json.Unmarshal(data, &pair); err != nil {
		return err
	}

	if len(pair) != 2 {
		return fmt.Errorf("range must have exactly two elements, got %d", len(pair))
	}

	r.Min, r.Max = pair[0], pair[1]

	return nil
}

// ClocksDelta is a vendor-tagged clock settings change. Exactly one
// variant is set; the wire tagging matches ClocksTable.
type ClocksDelta struct {
	Amd    *AmdClocksDelta
	Nvidia *NvidiaClocksDelta
	Intel  *IntelClocksDelta
}

// Vendor returns the vendor of the populated variant, or an empty
// string when none is set.
func (d *ClocksDelta) Vendor() Vendor {
	switch {
	case d.Amd != nil:
		return VendorAmd
	case d.Nvidia != nil:
		return VendorNvidia
	case d.Intel != nil:
		return VendorIntel
	default:
		return ""
	}
}

func (d ClocksDelta) MarshalJSON() ([]byte, error) {
	var (
		vendor Vendor
		value  any
	)

	switch {
	case d.Amd != nil:
		vendor, value = VendorAmd, d.Amd
	case d.Nvidia != nil:
		vendor, value = VendorNvidia, d.Nvidia
	case d.Intel != nil:
		vendor, value = VendorIntel, d.Intel
	default:
		return nil, fmt.Errorf("clocks delta has no vendor variant set")
	}

	raw, err := json.Marshal(value)
	if err != nil {
		return nil, err
	}

	return json.Marshal(taggedUnion{Type: vendor, Value: raw})
}

func (d *ClocksDelta) UnmarshalJSON(data []byte) error {
	var tagged taggedUnion
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}

	*d = ClocksDelta{}

	switch tagged.Type {
	case VendorAmd:
		d.Amd = &AmdClocksDelta{}
		return json.Unmarshal(tagged.Value, d.Amd)
	case VendorNvidia:
		d.Nvidia = &NvidiaClocksDelta{}
		return json.Unmarshal(tagged.Value, d.Nvidia)
	case VendorIntel:
		d.Intel = &IntelClocksDelta{}
		return json.Unmarshal(tagged.Value, d.Intel)
	default:
		return fmt.Errorf("unknown clocks delta type %q", tagged.Type)
	}
}

// AmdClocksDelta replaces the whole overdrive table. Partial AMD
// writes are not supported by the driver interface.
type AmdClocksDelta struct {
	Table AmdClocksTable `json:"table"`
}

// NvidiaClocksDelta patches individual offsets and locked clock
// windows. Offsets are keyed by performance state and must target
// states present in the device table.
type NvidiaClocksDelta struct {
	GpuOffsets            map[uint32]int32 `json:"gpu_offsets,omitempty"`
	MemOffsets            map[uint32]int32 `json:"mem_offsets,omitempty"`
	GpuLockedClocks       *Range           `json:"gpu_locked_clocks,omitempty"`
	VramLockedClocks      *Range           `json:"vram_locked_clocks,omitempty"`
	ResetGpuLockedClocks  bool             `json:"reset_gpu_locked_clocks,omitempty"`
	ResetVramLockedClocks bool             `json:"reset_vram_locked_clocks,omitempty"`
}

// IntelClocksDelta adjusts the GT frequency window.
type IntelClocksDelta struct {
	GtFreq *FreqRange `json:"gt_freq,omitempty"`
}
