// Package config loads the daemon configuration from /etc/gpuctl.toml,
// the GPUCTL_CONFIG environment variable or an explicit path, with
// flag-level overrides passed in by the command layer.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/viper"

	"codeberg.org/wrenhale/gpuctl/internal/errors"
	"codeberg.org/wrenhale/gpuctl/schema"
)

const (
	DefaultLogLevel        = "info"
	DefaultInterval        = 2
	DefaultProcessInterval = 5
	DefaultSocket          = "/run/gpuctl.sock"
	DefaultDatabase        = "/var/lib/gpuctl/telemetry.db"

	configName = "gpuctl"
	configType = "toml"
	configDir  = "/etc"
	envConfig  = "GPUCTL_CONFIG"
)

// Config is the daemon configuration. Profiles keep their file order;
// it is the matching priority.
type Config struct {
	Interval        int                 `mapstructure:"interval"`
	ProcessInterval int                 `mapstructure:"process_interval"`
	Socket          string              `mapstructure:"socket"`
	LogLevel        string              `mapstructure:"log_level"`
	Telemetry       bool                `mapstructure:"telemetry"`
	Database        string              `mapstructure:"database"`
	AutoSwitch      bool                `mapstructure:"auto_switch"`
	FanControl      *FanControlSettings `mapstructure:"fan_control"`
	Profiles        []ProfileSettings   `mapstructure:"profile"`
}

// FanControlSettings is the optional initial fan configuration. Curve
// keys are strings because TOML tables cannot key on integers.
type FanControlSettings struct {
	Enabled         bool               `mapstructure:"enabled"`
	Mode            string             `mapstructure:"mode"`
	StaticSpeed     *float64           `mapstructure:"static_speed"`
	Curve           map[string]float64 `mapstructure:"curve"`
	SpindownDelayMs *uint64            `mapstructure:"spindown_delay_ms"`
	ChangeThreshold *uint64            `mapstructure:"change_threshold"`
}

// ProfileSettings is one [[profile]] table. Besides the activation
// rule a profile may carry the hardware settings it applies when it
// becomes active.
type ProfileSettings struct {
	Name       string              `mapstructure:"name"`
	Rule       *RuleSettings       `mapstructure:"rule"`
	FanControl *FanControlSettings `mapstructure:"fan_control"`
	PowerCap   *float64            `mapstructure:"power_cap"`
	Clocks     *ClockSettings      `mapstructure:"clocks"`
}

// ClockSettings is the optional per-profile clock adjustment. Offsets
// are keyed by performance state; the keys are strings because TOML
// tables cannot key on integers. Locked clock windows are [min, max]
// pairs in MHz.
type ClockSettings struct {
	GpuOffsets       map[string]int32 `mapstructure:"gpu_offsets"`
	MemOffsets       map[string]int32 `mapstructure:"mem_offsets"`
	GpuLockedClocks  []uint64         `mapstructure:"gpu_locked_clocks"`
	VramLockedClocks []uint64         `mapstructure:"vram_locked_clocks"`
}

// RuleSettings is the flattened TOML form of a profile rule. For a
// gamemode rule the process name is the optional nested filter.
type RuleSettings struct {
	Type string  `mapstructure:"type"`
	Name string  `mapstructure:"name"`
	Args *string `mapstructure:"args"`
}

func Load(opts ...Option) (*Config, error) {
	errFactory := errors.New()

	o := options{}
	for _, opt := range opts {
		if err := opt(&o); err != nil {
			return nil, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
	}

	v := viper.New()
	v.SetDefault("interval", DefaultInterval)
	v.SetDefault("process_interval", DefaultProcessInterval)
	v.SetDefault("socket", DefaultSocket)
	v.SetDefault("log_level", DefaultLogLevel)
	v.SetDefault("telemetry", false)
	v.SetDefault("database", DefaultDatabase)
	v.SetDefault("auto_switch", false)

	if o.flags != nil {
		if err := v.BindPFlags(o.flags); err != nil {
			return nil, errFactory.Wrap(errors.ErrBindFlags, err)
		}
	}

	switch {
	case o.configPath != "":
		v.SetConfigFile(o.configPath)
	case os.Getenv(envConfig) != "":
		v.SetConfigFile(os.Getenv(envConfig))
	default:
		v.SetConfigName(configName)
		v.SetConfigType(configType)
		v.AddConfigPath(configDir)
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, errFactory.Wrap(errors.ErrReadConfig, err)
		}
	}

	config := &Config{}
	if err := v.Unmarshal(config); err != nil {
		return nil, errFactory.Wrap(errors.ErrReadConfig, err)
	}

	if o.logLevel != "" {
		config.LogLevel = o.logLevel
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate checks the whole configuration, including the initial fan
// settings and every profile rule, so the daemon never starts with
// state the control loop would have to reject later.
func (c *Config) Validate() error {
	errFactory := errors.New()

	if !LogLevel(c.LogLevel).IsValid() {
		return errFactory.WithData(errors.ErrInvalidLogLevel, c.LogLevel)
	}
	if c.Interval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, fmt.Sprintf("interval = %d", c.Interval))
	}
	if c.ProcessInterval <= 0 {
		return errFactory.WithData(errors.ErrInvalidInterval, fmt.Sprintf("process_interval = %d", c.ProcessInterval))
	}
	if c.Socket == "" {
		return errFactory.WithMessage(errors.ErrInvalidConfig, "socket path is empty")
	}

	if c.FanControl != nil {
		if _, err := c.FanControl.Options(); err != nil {
			return err
		}
	}

	if _, err := ProfileList(c.Profiles); err != nil {
		return err
	}
	if _, err := ProfilePayloads(c.Profiles); err != nil {
		return err
	}

	return nil
}

// Options converts the TOML fan settings into the wire-level fan
// options consumed by the control core.
func (s *FanControlSettings) Options() (schema.FanOptions, error) {
	errFactory := errors.New()

	opts := schema.FanOptions{
		Enabled:         s.Enabled,
		StaticSpeed:     s.StaticSpeed,
		SpindownDelayMs: s.SpindownDelayMs,
		ChangeThreshold: s.ChangeThreshold,
	}

	if s.Mode != "" {
		mode, err := schema.ParseFanControlMode(s.Mode)
		if err != nil {
			return schema.FanOptions{}, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
		opts.Mode = &mode
	}

	if s.Curve != nil {
		curve := make(schema.FanCurveMap, len(s.Curve))
		for key, duty := range s.Curve {
			temp, err := strconv.Atoi(key)
			if err != nil {
				return schema.FanOptions{}, errFactory.WithData(errors.ErrInvalidConfig,
					fmt.Sprintf("curve temperature %q is not a number", key))
			}
			curve[temp] = duty
		}
		if err := curve.Validate(); err != nil {
			return schema.FanOptions{}, errFactory.Wrap(errors.ErrInvalidConfig, err)
		}
		opts.Curve = curve
	}

	return opts, nil
}

// ProfileList converts the ordered profile tables into the wire-level
// profile map, rejecting duplicates and malformed rules.
func ProfileList(settings []ProfileSettings) (schema.ProfileMap, error) {
	errFactory := errors.New()

	list := make(schema.ProfileMap, 0, len(settings))
	for _, p := range settings {
		if p.Name == "" {
			return nil, errFactory.WithMessage(errors.ErrInvalidProfile, "profile has no name")
		}
		if _, exists := list.Get(p.Name); exists {
			return nil, errFactory.WithData(errors.ErrProfileExists, p.Name)
		}

		rule, err := p.Rule.toRule()
		if err != nil {
			return nil, err
		}

		list = append(list, schema.ProfileEntry{Name: p.Name, Rule: rule})
	}

	return list, nil
}

// ProfilePayload is the hardware configuration a profile applies when
// it becomes active. Nil fields leave the corresponding device state
// untouched.
type ProfilePayload struct {
	Fan      *schema.FanOptions
	PowerCap *float64
	Clocks   *schema.ClocksDelta
}

// ProfilePayloads converts the per-profile hardware settings into
// wire-level form, keyed by profile name. Profiles without settings
// are left out; switching to them changes nothing.
func ProfilePayloads(settings []ProfileSettings) (map[string]ProfilePayload, error) {
	errFactory := errors.New()

	payloads := make(map[string]ProfilePayload)
	for _, p := range settings {
		payload := ProfilePayload{PowerCap: p.PowerCap}

		if p.FanControl != nil {
			opts, err := p.FanControl.Options()
			if err != nil {
				return nil, errFactory.WithMessage(errors.ErrInvalidProfile,
					fmt.Sprintf("profile %q: %v", p.Name, err))
			}
			payload.Fan = &opts
		}

		if p.Clocks != nil {
			delta, err := p.Clocks.Delta()
			if err != nil {
				return nil, errFactory.WithMessage(errors.ErrInvalidProfile,
					fmt.Sprintf("profile %q: %v", p.Name, err))
			}
			payload.Clocks = delta
		}

		if payload.Fan != nil || payload.PowerCap != nil || payload.Clocks != nil {
			payloads[p.Name] = payload
		}
	}

	return payloads, nil
}

// Delta converts the TOML clock settings into a wire-level delta.
func (s *ClockSettings) Delta() (*schema.ClocksDelta, error) {
	nvidia := &schema.NvidiaClocksDelta{}

	var err error
	if nvidia.GpuOffsets, err = offsetMap(s.GpuOffsets); err != nil {
		return nil, err
	}
	if nvidia.MemOffsets, err = offsetMap(s.MemOffsets); err != nil {
		return nil, err
	}
	if nvidia.GpuLockedClocks, err = lockedRange(s.GpuLockedClocks); err != nil {
		return nil, err
	}
	if nvidia.VramLockedClocks, err = lockedRange(s.VramLockedClocks); err != nil {
		return nil, err
	}

	return &schema.ClocksDelta{Nvidia: nvidia}, nil
}

func offsetMap(src map[string]int32) (map[uint32]int32, error) {
	if src == nil {
		return nil, nil
	}

	offsets := make(map[uint32]int32, len(src))
	for key, offset := range src {
		pstate, err := strconv.ParseUint(key, 10, 32)
		if err != nil {
			return nil, fmt.Errorf("performance state %q is not a number", key)
		}
		offsets[uint32(pstate)] = offset
	}

	return offsets, nil
}

func lockedRange(pair []uint64) (*schema.Range, error) {
	if pair == nil {
		return nil, nil
	}
	if len(pair) != 2 {
		return nil, fmt.Errorf("locked clocks must be a [min, max] pair, got %d elements", len(pair))
	}

	return &schema.Range{Min: uint32(pair[0]), Max: uint32(pair[1])}, nil
}

func (r *RuleSettings) toRule() (*schema.ProfileRule, error) {
	if r == nil {
		return nil, nil
	}

	errFactory := errors.New()

	switch r.Type {
	case "process":
		if r.Name == "" {
			return nil, errFactory.WithMessage(errors.ErrInvalidProfile, "process rule has no process name")
		}

		return &schema.ProfileRule{
			Kind:   schema.RuleProcess,
			Filter: &schema.ProcessProfileRule{Name: r.Name, Args: r.Args},
		}, nil
	case "gamemode":
		rule := &schema.ProfileRule{Kind: schema.RuleGamemode}
		if r.Name != "" {
			rule.Filter = &schema.ProcessProfileRule{Name: r.Name, Args: r.Args}
		}

		return rule, nil
	default:
		return nil, errFactory.WithData(errors.ErrInvalidProfile, fmt.Sprintf("unknown rule type %q", r.Type))
	}
}
