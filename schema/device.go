package schema

import (
	"fmt"
	"strconv"
)

// DeviceListEntry identifies one device in list responses. The id is
// stable across restarts, the name is best-effort.
type DeviceListEntry struct {
	ID   string  `json:"id"`
	Name *string `json:"name,omitempty"`
}

func (e DeviceListEntry) String() string {
	if e.Name != nil {
		return *e.Name
	}

	return e.ID
}

// DeviceInfo is the static description of one device.
type DeviceInfo struct {
	PciInfo      *GpuPciInfo `json:"pci_info,omitempty"`
	VulkanInfo   *VulkanInfo `json:"vulkan_info,omitempty"`
	Driver       string      `json:"driver"`
	VbiosVersion *string     `json:"vbios_version,omitempty"`
	LinkInfo     LinkInfo    `json:"link_info"`
	DrmInfo      *DrmInfo    `json:"drm_info,omitempty"`
}

// VramClockRatio returns the effective memory clock multiplier, 1.0
// when the driver does not report one.
func (d *DeviceInfo) VramClockRatio() float64 {
	if d.DrmInfo == nil {
		return 1.0
	}

	return d.DrmInfo.VramClockRatio
}

// GpuPciInfo pairs the device ids with the board subsystem ids.
type GpuPciInfo struct {
	DevicePciInfo    PciInfo `json:"device_pci_info"`
	SubsystemPciInfo PciInfo `json:"subsystem_pci_info"`
}

// PciInfo carries raw hex id strings and resolved names when the PCI
// database knows them.
type PciInfo struct {
	VendorID string  `json:"vendor_id"`
	Vendor   *string `json:"vendor,omitempty"`
	ModelID  string  `json:"model_id"`
	Model    *string `json:"model,omitempty"`
}

// LinkInfo describes the PCIe link.
type LinkInfo struct {
	CurrentWidth *string `json:"current_width,omitempty"`
	CurrentSpeed *string `json:"current_speed,omitempty"`
	MaxWidth     *string `json:"max_width,omitempty"`
	MaxSpeed     *string `json:"max_speed,omitempty"`
}

// VulkanInfo reports the Vulkan driver view of the device.
type VulkanInfo struct {
	DeviceName    string           `json:"device_name"`
	ApiVersion    string           `json:"api_version"`
	Driver        VulkanDriverInfo `json:"driver"`
	EnabledLayers []string         `json:"enabled_layers"`
	Features      map[string]bool  `json:"features"`
	Extensions    map[string]bool  `json:"extensions"`
}

// VulkanDriverInfo identifies the Vulkan driver in use.
type VulkanDriverInfo struct {
	Version       uint32  `json:"version"`
	Name          *string `json:"name,omitempty"`
	Info          *string `json:"info,omitempty"`
	DriverVersion *string `json:"driver_version,omitempty"`
}

// DrmInfo is the render-node view of the device. Fields are filled
// per vendor as far as the driver exposes them; Intel fields are
// flattened into the same object on the wire.
type DrmInfo struct {
	DeviceName               *string        `json:"device_name,omitempty"`
	PciRevisionID            *uint32        `json:"pci_revision_id,omitempty"`
	FamilyName               *string        `json:"family_name,omitempty"`
	FamilyID                 *uint32        `json:"family_id,omitempty"`
	AsicName                 *string        `json:"asic_name,omitempty"`
	ChipClass                *string        `json:"chip_class,omitempty"`
	ComputeUnits             *uint32        `json:"compute_units,omitempty"`
	StreamingMultiprocessors *uint32        `json:"streaming_multiprocessors,omitempty"`
	CudaCores                *uint32        `json:"cuda_cores,omitempty"`
	VramType                 *string        `json:"vram_type,omitempty"`
	VramVendor               *string        `json:"vram_vendor,omitempty"`
	VramClockRatio           float64        `json:"vram_clock_ratio"`
	VramBitWidth             *uint32        `json:"vram_bit_width,omitempty"`
	VramMaxBw                *string        `json:"vram_max_bw,omitempty"`
	L1CachePerCu             *uint32        `json:"l1_cache_per_cu,omitempty"`
	L2Cache                  *uint32        `json:"l2_cache,omitempty"`
	L3CacheMb                *uint32        `json:"l3_cache_mb,omitempty"`
	RopInfo                  *NvidiaRopInfo `json:"rop_info,omitempty"`
	MemoryInfo               *DrmMemoryInfo `json:"memory_info,omitempty"`
	IntelDrmInfo
}

// NvidiaRopInfo describes the raster operation pipeline.
type NvidiaRopInfo struct {
	UnitCount        uint32 `json:"unit_count"`
	OperationsFactor uint32 `json:"operations_factor"`
	OperationsCount  uint32 `json:"operations_count"`
}

// IntelDrmInfo holds the Intel-only DRM fields.
type IntelDrmInfo struct {
	ExecutionUnits *uint32 `json:"execution_units,omitempty"`
	Subslices      *uint32 `json:"subslices,omitempty"`
}

// DrmMemoryInfo reports the CPU-visible VRAM window.
type DrmMemoryInfo struct {
	CpuAccessibleUsed  uint64 `json:"cpu_accessible_used"`
	CpuAccessibleTotal uint64 `json:"cpu_accessible_total"`
	ResizeableBar      *bool  `json:"resizeable_bar,omitempty"`
}

// InfoElement is one label and value row of the device description.
// The value is nil when the underlying field is unknown.
type InfoElement struct {
	Label string
	Value *string
}

// InfoElements flattens the device description into ordered rows for
// display. Labels are fixed; rows with unknown values are kept so the
// caller decides whether to render them.
func (d *DeviceInfo) InfoElements(stats *DeviceStats) []InfoElement {
	gpuModel := "Unknown"
	if d.DrmInfo != nil && d.DrmInfo.DeviceName != nil {
		gpuModel = *d.DrmInfo.DeviceName
	} else if d.PciInfo != nil && d.PciInfo.DevicePciInfo.Model != nil {
		gpuModel = *d.PciInfo.DevicePciInfo.Model
	}

	cardManufacturer := "Unknown"
	cardModel := "Unknown"
	if d.PciInfo != nil {
		if v := d.PciInfo.SubsystemPciInfo.Vendor; v != nil {
			cardManufacturer = *v
		}
		if m := d.PciInfo.SubsystemPciInfo.Model; m != nil {
			cardModel = *m
		}

		device := d.PciInfo.DevicePciInfo
		if d.DrmInfo != nil && d.DrmInfo.PciRevisionID != nil {
			gpuModel += fmt.Sprintf(" (0x%s:0x%s:0x%X)", device.VendorID, device.ModelID, *d.DrmInfo.PciRevisionID)
		} else {
			gpuModel += fmt.Sprintf(" (0x%s:0x%s)", device.VendorID, device.ModelID)
		}

		cardManufacturer += fmt.Sprintf(" (0x%s)", d.PciInfo.SubsystemPciInfo.VendorID)
		cardModel += fmt.Sprintf(" (0x%s)", d.PciInfo.SubsystemPciInfo.ModelID)
	}

	elements := []InfoElement{
		{"GPU Model", &gpuModel},
		{"Card Manufacturer", &cardManufacturer},
		{"Card Model", &cardModel},
		{"Driver Used", strRef(d.Driver)},
		{"VBIOS Version", d.VbiosVersion},
	}

	if stats != nil {
		var vramSize *string
		if stats.Vram.Total != nil {
			vramSize = strRef(fmt.Sprintf("%d MiB", *stats.Vram.Total/1024/1024))
		}
		elements = append(elements, InfoElement{"VRAM Size", vramSize})
	}

	if drm := d.DrmInfo; drm != nil {
		var ropCount *string
		if drm.RopInfo != nil {
			rop := drm.RopInfo
			ropCount = strRef(fmt.Sprintf("%d (%d * %d)", rop.OperationsCount, rop.UnitCount, rop.OperationsFactor))
		}

		elements = append(elements,
			InfoElement{"GPU Family", drm.FamilyName},
			InfoElement{"ASIC Name", drm.AsicName},
			InfoElement{"Compute Units", uintString(drm.ComputeUnits)},
			InfoElement{"Execution Units", uintString(drm.ExecutionUnits)},
			InfoElement{"Subslices", uintString(drm.Subslices)},
			InfoElement{"Cuda Cores", uintString(drm.CudaCores)},
			InfoElement{"SM Count", uintString(drm.StreamingMultiprocessors)},
			InfoElement{"ROP Count", ropCount},
			InfoElement{"VRAM Type", drm.VramType},
			InfoElement{"VRAM Manufacturer", drm.VramVendor},
			InfoElement{"Theoretical VRAM Bandwidth", drm.VramMaxBw},
			InfoElement{"L1 Cache (Per CU)", kibString(drm.L1CachePerCu)},
			InfoElement{"L2 Cache", kibString(drm.L2Cache)},
			InfoElement{"L3 Cache", mibString(drm.L3CacheMb)},
		)

		if mem := drm.MemoryInfo; mem != nil {
			if mem.ResizeableBar != nil {
				rebar := "Disabled"
				if *mem.ResizeableBar {
					rebar = "Enabled"
				}
				elements = append(elements, InfoElement{"Resizeable bar", &rebar})
			}

			elements = append(elements, InfoElement{
				"CPU Accessible VRAM",
				strRef(strconv.FormatUint(mem.CpuAccessibleTotal/1024/1024, 10)),
			})
		}
	}

	if d.LinkInfo.CurrentSpeed != nil && d.LinkInfo.CurrentWidth != nil {
		elements = append(elements, InfoElement{
			"Link Speed",
			strRef(fmt.Sprintf("%s x%s", *d.LinkInfo.CurrentSpeed, *d.LinkInfo.CurrentWidth)),
		})
	}

	return elements
}

func strRef(s string) *string {
	return &s
}

func uintString(v *uint32) *string {
	if v == nil {
		return nil
	}

	return strRef(strconv.FormatUint(uint64(*v), 10))
}

func kibString(v *uint32) *string {
	if v == nil {
		return nil
	}

	return strRef(fmt.Sprintf("%d KiB", *v/1024))
}

func mibString(v *uint32) *string {
	if v == nil {
		return nil
	}

	return strRef(fmt.Sprintf("%d MiB", *v))
}
