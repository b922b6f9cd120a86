package schema_test

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/wrenhale/gpuctl/schema"
)

func strPtr(s string) *string { return &s }

func TestProfileMapPreservesOrder(t *testing.T) {
	profiles := schema.ProfileMap{
		{Name: "zeta", Rule: &schema.ProfileRule{
			Kind:   schema.RuleProcess,
			Filter: &schema.ProcessProfileRule{Name: "game.exe"},
		}},
		{Name: "alpha", Rule: nil},
		{Name: "midway", Rule: &schema.ProfileRule{Kind: schema.RuleGamemode}},
	}

	data, err := json.Marshal(profiles)
	require.NoError(t, err)

	// Declaration order is the matching priority, so the object keys
	// must come out in insertion order, not sorted.
	text := string(data)
	assert.Less(t, strings.Index(text, "zeta"), strings.Index(text, "alpha"))
	assert.Less(t, strings.Index(text, "alpha"), strings.Index(text, "midway"))

	var decoded schema.ProfileMap
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Len(t, decoded, 3)
	assert.Equal(t, "zeta", decoded[0].Name)
	assert.Equal(t, "alpha", decoded[1].Name)
	assert.Equal(t, "midway", decoded[2].Name)
	assert.Nil(t, decoded[1].Rule)
	require.NotNil(t, decoded[2].Rule)
	assert.Equal(t, schema.RuleGamemode, decoded[2].Rule.Kind)
}

func TestProfileRuleWireShape(t *testing.T) {
	rule := schema.ProfileRule{
		Kind:   schema.RuleProcess,
		Filter: &schema.ProcessProfileRule{Name: "game.exe", Args: strPtr("--fullscreen")},
	}

	data, err := json.Marshal(rule)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"process","filter":{"name":"game.exe","args":"--fullscreen"}}`, string(data))

	gamemode := schema.ProfileRule{Kind: schema.RuleGamemode}
	data, err = json.Marshal(gamemode)
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"gamemode"}`, string(data), "absent filter stays off the wire")
}

func TestProfileRuleValidation(t *testing.T) {
	var rule schema.ProfileRule

	err := json.Unmarshal([]byte(`{"type":"process"}`), &rule)
	require.Error(t, err, "process rules require a filter")

	err = json.Unmarshal([]byte(`{"type":"powersave"}`), &rule)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "powersave")

	require.NoError(t, json.Unmarshal([]byte(`{"type":"gamemode","filter":{"name":"heavy.exe"}}`), &rule))
	require.NotNil(t, rule.Filter)
	assert.Equal(t, "heavy.exe", rule.Filter.Name)
}

func TestProfileMapMutation(t *testing.T) {
	profiles := schema.ProfileMap{
		{Name: "first"},
		{Name: "second"},
	}

	profiles.Set("second", &schema.ProfileRule{Kind: schema.RuleGamemode})
	rule, ok := profiles.Get("second")
	require.True(t, ok)
	require.NotNil(t, rule)
	assert.Len(t, profiles, 2, "updating must not duplicate the entry")

	profiles.Set("third", nil)
	assert.Equal(t, "third", profiles[2].Name, "new profiles append at the end")

	assert.True(t, profiles.Delete("first"))
	assert.False(t, profiles.Delete("first"))
	_, ok = profiles.Get("first")
	assert.False(t, ok)
}

func TestProfilesInfoEquivalentIgnoresWatcherState(t *testing.T) {
	base := schema.ProfilesInfo{
		Profiles: schema.ProfileMap{
			{Name: "Gaming", Rule: &schema.ProfileRule{
				Kind:   schema.RuleProcess,
				Filter: &schema.ProcessProfileRule{Name: "game.exe"},
			}},
		},
		CurrentProfile: strPtr("Gaming"),
		AutoSwitch:     true,
	}

	withState := base
	withState.WatcherState = &schema.ProfileWatcherState{
		ProcessList: map[int32]schema.ProcessInfo{
			101: {Name: "game.exe", Cmdline: "game.exe --fullscreen"},
		},
		ProcessNamesMap: map[string][]int32{"game.exe": {101}},
	}

	assert.True(t, base.Equivalent(withState))
	assert.True(t, withState.Equivalent(base))

	changed := base
	changed.AutoSwitch = false
	assert.False(t, base.Equivalent(changed))

	renamed := base
	renamed.Profiles = schema.ProfileMap{
		{Name: "Quiet", Rule: base.Profiles[0].Rule},
	}
	assert.False(t, base.Equivalent(renamed))

	reselected := base
	reselected.CurrentProfile = nil
	assert.False(t, base.Equivalent(reselected))
}
