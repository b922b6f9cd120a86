package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/wrenhale/gpuctl/internal/config"
	"codeberg.org/wrenhale/gpuctl/internal/errors"
	"codeberg.org/wrenhale/gpuctl/schema"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "gpuctl.toml")
	err := os.WriteFile(configPath, []byte(content), 0o600)
	require.NoError(t, err)

	return configPath
}

func TestLoad(t *testing.T) {
	configPath := writeConfigFile(t, `
interval = 5
process_interval = 10
socket = "/tmp/gpuctl-test.sock"
log_level = "debug"
telemetry = true
database = "/path/to/telemetry.db"
auto_switch = true

[fan_control]
enabled = true
mode = "curve"
curve = { "40" = 0.3, "60" = 0.5, "80" = 1.0 }
spindown_delay_ms = 5000
change_threshold = 2

[[profile]]
name = "Gaming"
power_cap = 300.0
  [profile.rule]
  type = "process"
  name = "game.exe"
  args = "--fullscreen"
  [profile.fan_control]
  enabled = true
  mode = "static"
  static_speed = 0.8
  [profile.clocks]
  gpu_offsets = { "0" = 150 }
  gpu_locked_clocks = [300, 1800]

[[profile]]
name = "Default"
`)
	t.Setenv("GPUCTL_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)

	assert.Equal(t, 5, cfg.Interval, "Expected Interval 5")
	assert.Equal(t, 10, cfg.ProcessInterval, "Expected ProcessInterval 10")
	assert.Equal(t, "/tmp/gpuctl-test.sock", cfg.Socket)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel debug")
	assert.True(t, cfg.Telemetry, "Expected Telemetry true")
	assert.Equal(t, "/path/to/telemetry.db", cfg.Database)
	assert.True(t, cfg.AutoSwitch, "Expected AutoSwitch true")

	require.NotNil(t, cfg.FanControl)
	opts, err := cfg.FanControl.Options()
	require.NoError(t, err)
	assert.True(t, opts.Enabled)
	require.NotNil(t, opts.Mode)
	assert.Equal(t, schema.FanControlCurve, *opts.Mode)
	assert.Equal(t, schema.FanCurveMap{40: 0.3, 60: 0.5, 80: 1.0}, opts.Curve)
	require.NotNil(t, opts.SpindownDelayMs)
	assert.Equal(t, uint64(5000), *opts.SpindownDelayMs)

	list, err := config.ProfileList(cfg.Profiles)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "Gaming", list[0].Name, "file order is priority order")
	require.NotNil(t, list[0].Rule)
	assert.Equal(t, schema.RuleProcess, list[0].Rule.Kind)
	require.NotNil(t, list[0].Rule.Filter)
	assert.Equal(t, "game.exe", list[0].Rule.Filter.Name)
	require.NotNil(t, list[0].Rule.Filter.Args)
	assert.Equal(t, "--fullscreen", *list[0].Rule.Filter.Args)
	assert.Equal(t, "Default", list[1].Name)
	assert.Nil(t, list[1].Rule, "a ruleless profile is manual-only")

	payloads, err := config.ProfilePayloads(cfg.Profiles)
	require.NoError(t, err)
	require.Contains(t, payloads, "Gaming")
	assert.NotContains(t, payloads, "Default", "profiles without settings carry no payload")

	payload := payloads["Gaming"]
	require.NotNil(t, payload.PowerCap)
	assert.InDelta(t, 300.0, *payload.PowerCap, 1e-9)
	require.NotNil(t, payload.Fan)
	assert.True(t, payload.Fan.Enabled)
	require.NotNil(t, payload.Fan.StaticSpeed)
	assert.InDelta(t, 0.8, *payload.Fan.StaticSpeed, 1e-9)
	require.NotNil(t, payload.Clocks)
	require.NotNil(t, payload.Clocks.Nvidia)
	assert.Equal(t, map[uint32]int32{0: 150}, payload.Clocks.Nvidia.GpuOffsets)
	require.NotNil(t, payload.Clocks.Nvidia.GpuLockedClocks)
	assert.Equal(t, schema.Range{Min: 300, Max: 1800}, *payload.Clocks.Nvidia.GpuLockedClocks)
	assert.Nil(t, payload.Clocks.Nvidia.VramLockedClocks)
}

func TestLoadDefaults(t *testing.T) {
	// Ensure no config file is used
	t.Setenv("GPUCTL_CONFIG", "")

	_, err := config.Load(config.WithConfigFile(filepath.Join(t.TempDir(), "gpuctl.toml")))
	require.Error(t, err, "an explicit path must exist")

	cfg, err := config.Load()
	require.NoError(t, err, "Failed to load config")

	assert.Equal(t, config.DefaultInterval, cfg.Interval, "Expected default Interval 2")
	assert.Equal(t, config.DefaultProcessInterval, cfg.ProcessInterval, "Expected default ProcessInterval 5")
	assert.Equal(t, config.DefaultSocket, cfg.Socket)
	assert.Equal(t, config.DefaultLogLevel, cfg.LogLevel, "Expected default LogLevel info")
	assert.False(t, cfg.Telemetry, "Expected default Telemetry false")
	assert.Equal(t, config.DefaultDatabase, cfg.Database)
	assert.False(t, cfg.AutoSwitch, "Expected default AutoSwitch false")
	assert.Nil(t, cfg.FanControl)
	assert.Empty(t, cfg.Profiles)
}

func TestLoadConfigFileInvalidFormat(t *testing.T) {
	configPath := writeConfigFile(t, `
This is not a valid TOML file
`)
	t.Setenv("GPUCTL_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Equal(t, errors.ErrReadConfig, errors.CodeOf(err))
}

func TestInvalidLogLevel(t *testing.T) {
	configPath := writeConfigFile(t, `
log_level = "invalid"
`)
	t.Setenv("GPUCTL_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidLogLevel, errors.CodeOf(err))
}

func TestLogLevelOverride(t *testing.T) {
	configPath := writeConfigFile(t, `
log_level = "warning"
`)
	t.Setenv("GPUCTL_CONFIG", configPath)

	cfg, err := config.Load(config.WithLogLevel("debug"))
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel, "Expected LogLevel to be set by flag")
}

func TestFlagOverrides(t *testing.T) {
	configPath := writeConfigFile(t, `
interval = 5
telemetry = true
`)
	t.Setenv("GPUCTL_CONFIG", configPath)

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.Int("interval", config.DefaultInterval, "")
	flags.Bool("telemetry", false, "")

	cfg, err := config.Load(config.WithFlags(flags))
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Interval, "an untouched flag defers to the file")
	assert.True(t, cfg.Telemetry)

	require.NoError(t, flags.Set("interval", "7"))
	cfg, err = config.Load(config.WithFlags(flags))
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.Interval, "a flag set on the command line wins")
	assert.True(t, cfg.Telemetry, "other keys keep their file values")
}

func TestLoadRejectsNonPositiveIntervals(t *testing.T) {
	configPath := writeConfigFile(t, `
interval = 0
`)
	t.Setenv("GPUCTL_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidInterval, errors.CodeOf(err))
}

func TestLoadRejectsInvalidFanCurve(t *testing.T) {
	configPath := writeConfigFile(t, `
[fan_control]
enabled = true
curve = { "50" = 1.5 }
`)
	t.Setenv("GPUCTL_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidConfig, errors.CodeOf(err))
}

func TestLoadRejectsNonNumericCurveKey(t *testing.T) {
	configPath := writeConfigFile(t, `
[fan_control]
curve = { "warm" = 0.5 }
`)
	t.Setenv("GPUCTL_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidConfig, errors.CodeOf(err))
}

func TestLoadRejectsDuplicateProfiles(t *testing.T) {
	configPath := writeConfigFile(t, `
[[profile]]
name = "Gaming"

[[profile]]
name = "Gaming"
`)
	t.Setenv("GPUCTL_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Equal(t, errors.ErrProfileExists, errors.CodeOf(err))
}

func TestLoadRejectsUnknownRuleType(t *testing.T) {
	configPath := writeConfigFile(t, `
[[profile]]
name = "Gaming"
  [profile.rule]
  type = "cron"
`)
	t.Setenv("GPUCTL_CONFIG", configPath)

	_, err := config.Load()
	require.Error(t, err)
	assert.Equal(t, errors.ErrInvalidProfile, errors.CodeOf(err))
}

func TestLoadRejectsMalformedProfilePayload(t *testing.T) {
	tests := []struct {
		name string
		toml string
	}{
		{
			name: "locked clocks not a pair",
			toml: `
[[profile]]
name = "Gaming"
  [profile.clocks]
  gpu_locked_clocks = [300]
`,
		},
		{
			name: "offset keyed by non-numeric state",
			toml: `
[[profile]]
name = "Gaming"
  [profile.clocks]
  gpu_offsets = { "boost" = 150 }
`,
		},
		{
			name: "profile fan curve out of range",
			toml: `
[[profile]]
name = "Gaming"
  [profile.fan_control]
  curve = { "50" = 2.0 }
`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("GPUCTL_CONFIG", writeConfigFile(t, tt.toml))

			_, err := config.Load()
			require.Error(t, err)
			assert.Equal(t, errors.ErrInvalidProfile, errors.CodeOf(err))
		})
	}
}

func TestGamemodeRuleWithNestedFilter(t *testing.T) {
	configPath := writeConfigFile(t, `
[[profile]]
name = "Game"
  [profile.rule]
  type = "gamemode"

[[profile]]
name = "Heroic"
  [profile.rule]
  type = "gamemode"
  name = "heroic"
`)
	t.Setenv("GPUCTL_CONFIG", configPath)

	cfg, err := config.Load()
	require.NoError(t, err)

	list, err := config.ProfileList(cfg.Profiles)
	require.NoError(t, err)
	require.Len(t, list, 2)

	require.NotNil(t, list[0].Rule)
	assert.Equal(t, schema.RuleGamemode, list[0].Rule.Kind)
	assert.Nil(t, list[0].Rule.Filter, "gamemode without a name has no nested filter")

	require.NotNil(t, list[1].Rule)
	assert.Equal(t, schema.RuleGamemode, list[1].Rule.Kind)
	require.NotNil(t, list[1].Rule.Filter)
	assert.Equal(t, "heroic", list[1].Rule.Filter.Name)
}
