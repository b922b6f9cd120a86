package daemon_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/wrenhale/gpuctl/internal/daemon"
	"codeberg.org/wrenhale/gpuctl/internal/gpu"
	"codeberg.org/wrenhale/gpuctl/schema"
)

func newTestHandler(t *testing.T) (*daemon.Daemon, *fakeClockPort, *fakeFanPort) {
	t.Helper()

	dev, clocks, fan, _ := newTestDevice("GPU-1")
	d, err := daemon.New(gamingConfig(false), []*gpu.Device{dev}, nil,
		daemon.WithSnapshotFunc((&scriptedSnapshot{}).fn))
	require.NoError(t, err)

	return d, clocks, fan
}

func handle(t *testing.T, d *daemon.Daemon, req schema.Request) schema.Response {
	t.Helper()

	return d.Handle(context.Background(), req)
}

func decodeData(t *testing.T, resp schema.Response, out any) {
	t.Helper()

	require.Equal(t, schema.StatusOk, resp.Status, "unexpected error: %s", resp.Reason)
	require.NoError(t, json.Unmarshal(resp.Data, out))
}

func TestHandlePing(t *testing.T) {
	d, _, _ := newTestHandler(t)

	resp := handle(t, d, schema.Request{Command: schema.CommandPing})

	assert.Equal(t, schema.StatusOk, resp.Status)
	assert.Empty(t, resp.Data)
}

func TestHandleListDevices(t *testing.T) {
	d, _, _ := newTestHandler(t)

	resp := handle(t, d, schema.Request{Command: schema.CommandListDevices})

	var entries []schema.DeviceListEntry
	decodeData(t, resp, &entries)
	require.Len(t, entries, 1)
	assert.Equal(t, "GPU-1", entries[0].ID)
	require.NotNil(t, entries[0].Name)
	assert.Equal(t, "Test GPU", *entries[0].Name)
}

func TestHandleDeviceLookupFailures(t *testing.T) {
	d, _, _ := newTestHandler(t)

	resp := handle(t, d, schema.Request{Command: schema.CommandDeviceInfo, ID: "GPU-9"})
	assert.Equal(t, schema.StatusError, resp.Status)
	assert.Contains(t, resp.Reason, "GPU-9")

	resp = handle(t, d, schema.Request{Command: schema.CommandDeviceStats})
	assert.Equal(t, schema.StatusError, resp.Status)
	assert.Contains(t, resp.Reason, "device id is required")
}

func TestHandleDeviceStats(t *testing.T) {
	d, _, _ := newTestHandler(t)

	resp := handle(t, d, schema.Request{Command: schema.CommandDeviceStats, ID: "GPU-1"})

	var stats schema.DeviceStats
	decodeData(t, resp, &stats)
	require.Contains(t, stats.Temps, "GPU")
	require.NotNil(t, stats.Temps["GPU"].Current)
	assert.InDelta(t, 70, *stats.Temps["GPU"].Current, 1e-9)
}

func TestHandleSetFanControl(t *testing.T) {
	d, _, _ := newTestHandler(t)

	mode := schema.FanControlStatic
	resp := handle(t, d, schema.Request{
		Command: schema.CommandSetFanControl,
		Fan: &schema.FanOptions{
			ID:          "GPU-1",
			Enabled:     true,
			Mode:        &mode,
			StaticSpeed: f64Ptr(0.6),
		},
	})
	require.Equal(t, schema.StatusOk, resp.Status, "unexpected error: %s", resp.Reason)

	resp = handle(t, d, schema.Request{Command: schema.CommandDeviceStats, ID: "GPU-1"})
	var stats schema.DeviceStats
	decodeData(t, resp, &stats)
	assert.True(t, stats.Fan.ControlEnabled)
	require.NotNil(t, stats.Fan.StaticSpeed)
	assert.InDelta(t, 0.6, *stats.Fan.StaticSpeed, 1e-9)
}

func TestHandleSetFanControlRejectsBadCurve(t *testing.T) {
	d, _, _ := newTestHandler(t)

	resp := handle(t, d, schema.Request{
		Command: schema.CommandSetFanControl,
		Fan: &schema.FanOptions{
			ID:      "GPU-1",
			Enabled: true,
			Curve:   schema.FanCurveMap{50: 1.5},
		},
	})

	assert.Equal(t, schema.StatusError, resp.Status)

	resp = handle(t, d, schema.Request{Command: schema.CommandSetFanControl})
	assert.Equal(t, schema.StatusError, resp.Status)
	assert.Contains(t, resp.Reason, "fan options are required")
}

func TestHandleSetClocks(t *testing.T) {
	d, clocks, _ := newTestHandler(t)

	resp := handle(t, d, schema.Request{
		Command: schema.CommandSetClocks,
		ID:      "GPU-1",
		Delta:   &schema.ClocksDelta{Nvidia: &schema.NvidiaClocksDelta{}},
	})
	require.Equal(t, schema.StatusOk, resp.Status, "unexpected error: %s", resp.Reason)
	assert.Len(t, clocks.applied, 1)

	resp = handle(t, d, schema.Request{
		Command: schema.CommandSetClocks,
		ID:      "GPU-1",
		Delta:   &schema.ClocksDelta{Amd: &schema.AmdClocksDelta{}},
	})
	assert.Equal(t, schema.StatusError, resp.Status, "vendor mismatch is rejected")
	assert.Len(t, clocks.applied, 1)

	resp = handle(t, d, schema.Request{Command: schema.CommandSetClocks, ID: "GPU-1"})
	assert.Equal(t, schema.StatusError, resp.Status)
	assert.Contains(t, resp.Reason, "clocks delta is required")
}

func TestHandleSetPowerCap(t *testing.T) {
	d, clocks, _ := newTestHandler(t)

	resp := handle(t, d, schema.Request{
		Command: schema.CommandSetPowerCap,
		ID:      "GPU-1",
		Cap:     f64Ptr(200),
	})
	require.Equal(t, schema.StatusOk, resp.Status)

	resp = handle(t, d, schema.Request{Command: schema.CommandSetPowerCap, ID: "GPU-1"})
	require.Equal(t, schema.StatusOk, resp.Status)

	require.Len(t, clocks.caps, 2)
	require.NotNil(t, clocks.caps[0])
	assert.InDelta(t, 200, *clocks.caps[0], 1e-9)
	assert.Nil(t, clocks.caps[1], "omitting the cap resets to the hardware default")
}

func TestHandleProfileLifecycle(t *testing.T) {
	d, _, _ := newTestHandler(t)
	ruleJSON := []byte(`{"type": "gamemode"}`)
	var rule schema.ProfileRule
	require.NoError(t, json.Unmarshal(ruleJSON, &rule))

	resp := handle(t, d, schema.Request{
		Command: schema.CommandCreateProfile,
		Name:    strPtr("Quiet"),
		Rule:    &rule,
	})
	require.Equal(t, schema.StatusOk, resp.Status, "unexpected error: %s", resp.Reason)

	resp = handle(t, d, schema.Request{Command: schema.CommandCreateProfile, Name: strPtr("Quiet")})
	assert.Equal(t, schema.StatusError, resp.Status, "duplicate names are rejected")

	var info schema.ProfilesInfo
	decodeData(t, handle(t, d, schema.Request{Command: schema.CommandListProfiles}), &info)
	require.Len(t, info.Profiles, 3)
	assert.Equal(t, "Quiet", info.Profiles[2].Name, "created profiles append in order")
	assert.Nil(t, info.CurrentProfile)
	assert.Nil(t, info.WatcherState, "state is only included on request")

	resp = handle(t, d, schema.Request{Command: schema.CommandSetProfile, Name: strPtr("Quiet")})
	require.Equal(t, schema.StatusOk, resp.Status)

	decodeData(t, handle(t, d, schema.Request{Command: schema.CommandListProfiles}), &info)
	require.NotNil(t, info.CurrentProfile)
	assert.Equal(t, "Quiet", *info.CurrentProfile)

	processRule := schema.ProfileRule{
		Kind:   schema.RuleProcess,
		Filter: &schema.ProcessProfileRule{Name: "quietapp"},
	}
	resp = handle(t, d, schema.Request{
		Command: schema.CommandSetProfileRule,
		Name:    strPtr("Quiet"),
		Rule:    &processRule,
	})
	require.Equal(t, schema.StatusOk, resp.Status)

	resp = handle(t, d, schema.Request{
		Command: schema.CommandSetProfileRule,
		Name:    strPtr("Missing"),
		Rule:    &processRule,
	})
	assert.Equal(t, schema.StatusError, resp.Status)

	resp = handle(t, d, schema.Request{Command: schema.CommandDeleteProfile, Name: strPtr("Quiet")})
	require.Equal(t, schema.StatusOk, resp.Status)

	info = schema.ProfilesInfo{}
	decodeData(t, handle(t, d, schema.Request{Command: schema.CommandListProfiles}), &info)
	assert.Nil(t, info.CurrentProfile, "deleting the active profile clears the selection")
	assert.Len(t, info.Profiles, 2)

	resp = handle(t, d, schema.Request{Command: schema.CommandDeleteProfile, Name: strPtr("Quiet")})
	assert.Equal(t, schema.StatusError, resp.Status)
}

func TestHandleListProfilesIncludesStateOnRequest(t *testing.T) {
	dev, _, _, _ := newTestDevice("GPU-1")
	snap := &scriptedSnapshot{procs: map[int32]schema.ProcessInfo{
		42: {Name: "game.exe", Cmdline: "game.exe --fullscreen"},
	}}
	d, err := daemon.New(gamingConfig(false), []*gpu.Device{dev}, nil,
		daemon.WithSnapshotFunc(snap.fn))
	require.NoError(t, err)

	d.ProcessTick(context.Background())

	var info schema.ProfilesInfo
	decodeData(t, handle(t, d, schema.Request{
		Command:      schema.CommandListProfiles,
		IncludeState: true,
	}), &info)

	require.NotNil(t, info.WatcherState)
	assert.Contains(t, info.WatcherState.ProcessList, int32(42))
	assert.Equal(t, []int32{42}, info.WatcherState.ProcessNamesMap["game.exe"])
}

func TestHandleSetAutoSwitch(t *testing.T) {
	d, _, _ := newTestHandler(t)

	resp := handle(t, d, schema.Request{Command: schema.CommandSetAutoSwitch})
	assert.Equal(t, schema.StatusError, resp.Status)
	assert.Contains(t, resp.Reason, "enabled flag is required")

	enabled := true
	resp = handle(t, d, schema.Request{Command: schema.CommandSetAutoSwitch, Enabled: &enabled})
	require.Equal(t, schema.StatusOk, resp.Status)

	var info schema.ProfilesInfo
	decodeData(t, handle(t, d, schema.Request{Command: schema.CommandListProfiles}), &info)
	assert.True(t, info.AutoSwitch)
}

func TestHandleUnknownCommand(t *testing.T) {
	d, _, _ := newTestHandler(t)

	resp := handle(t, d, schema.Request{Command: "reboot"})

	assert.Equal(t, schema.StatusError, resp.Status)
	assert.Contains(t, resp.Reason, "reboot")
}
