package daemon

import (
	"context"

	"codeberg.org/wrenhale/gpuctl/internal/errors"
	"codeberg.org/wrenhale/gpuctl/internal/gpu"
	"codeberg.org/wrenhale/gpuctl/schema"
)

// Handle answers one client request. It implements the server Handler
// contract; every branch returns a response, never panics, so one bad
// request cannot take a connection down.
func (d *Daemon) Handle(ctx context.Context, req schema.Request) schema.Response {
	switch req.Command {
	case schema.CommandPing:
		return schema.OkResponse(nil)

	case schema.CommandListDevices:
		return schema.OkResponse(d.listDevices())

	case schema.CommandDeviceInfo:
		dev, err := d.device(req.ID)
		if err != nil {
			return schema.ErrorResponse(err)
		}

		return schema.OkResponse(dev.Info())

	case schema.CommandDeviceStats:
		dev, err := d.device(req.ID)
		if err != nil {
			return schema.ErrorResponse(err)
		}

		stats, err := dev.Stats()
		if err != nil {
			return schema.ErrorResponse(err)
		}

		return schema.OkResponse(stats)

	case schema.CommandDeviceClocksInfo:
		dev, err := d.device(req.ID)
		if err != nil {
			return schema.ErrorResponse(err)
		}

		info, err := dev.ReadClocks()
		if err != nil {
			return schema.ErrorResponse(err)
		}

		return schema.OkResponse(info)

	case schema.CommandSetFanControl:
		if req.Fan == nil {
			return missingField("fan options are required")
		}

		dev, err := d.device(req.Fan.ID)
		if err != nil {
			return schema.ErrorResponse(err)
		}

		fanCfg, err := gpu.FanConfigFromOptions(*req.Fan)
		if err != nil {
			return schema.ErrorResponse(err)
		}

		return statusResponse(dev.ApplyFanConfig(fanCfg))

	case schema.CommandSetClocks:
		if req.Delta == nil {
			return missingField("clocks delta is required")
		}

		dev, err := d.device(req.ID)
		if err != nil {
			return schema.ErrorResponse(err)
		}

		return statusResponse(dev.ApplyClocks(*req.Delta))

	case schema.CommandSetPowerCap:
		dev, err := d.device(req.ID)
		if err != nil {
			return schema.ErrorResponse(err)
		}

		return statusResponse(dev.SetPowerCap(req.Cap))

	case schema.CommandListProfiles:
		return schema.OkResponse(d.ProfilesInfo(req.IncludeState))

	case schema.CommandSetProfile:
		return statusResponse(d.SetProfile(req.Name))

	case schema.CommandCreateProfile:
		if req.Name == nil {
			return missingField("profile name is required")
		}

		return statusResponse(d.CreateProfile(*req.Name, req.Rule))

	case schema.CommandDeleteProfile:
		if req.Name == nil {
			return missingField("profile name is required")
		}

		return statusResponse(d.DeleteProfile(*req.Name))

	case schema.CommandSetProfileRule:
		if req.Name == nil {
			return missingField("profile name is required")
		}

		return statusResponse(d.SetProfileRule(*req.Name, req.Rule))

	case schema.CommandSetAutoSwitch:
		if req.Enabled == nil {
			return missingField("enabled flag is required")
		}

		return statusResponse(d.SetAutoSwitch(*req.Enabled))

	default:
		return schema.ErrorResponse(errors.New().WithData(ErrUnknownCommand, string(req.Command)))
	}
}

func (d *Daemon) listDevices() []schema.DeviceListEntry {
	entries := make([]schema.DeviceListEntry, 0, len(d.devices))
	for _, dev := range d.devices {
		entries = append(entries, dev.Entry())
	}

	return entries
}

func (d *Daemon) device(id string) (*gpu.Device, error) {
	if id == "" {
		return nil, errors.New().WithMessage(ErrMissingField, "device id is required")
	}

	dev, ok := d.byID[id]
	if !ok {
		return nil, errors.New().WithData(ErrUnknownDevice, id)
	}

	return dev, nil
}

func missingField(msg string) schema.Response {
	return schema.ErrorResponse(errors.New().WithMessage(ErrMissingField, msg))
}

func statusResponse(err error) schema.Response {
	if err != nil {
		return schema.ErrorResponse(err)
	}

	return schema.OkResponse(nil)
}
