package profiles_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"codeberg.org/wrenhale/gpuctl/internal/profiles"
	"codeberg.org/wrenhale/gpuctl/schema"
)

func processRule(name string, args *string) *schema.ProfileRule {
	return &schema.ProfileRule{
		Kind:   schema.RuleProcess,
		Filter: &schema.ProcessProfileRule{Name: name, Args: args},
	}
}

func gamemodeRule(filter *schema.ProcessProfileRule) *schema.ProfileRule {
	return &schema.ProfileRule{Kind: schema.RuleGamemode, Filter: filter}
}

func strPtr(s string) *string {
	return &s
}

func TestResolveMatchesRunningProcess(t *testing.T) {
	list := schema.ProfileMap{
		{Name: "Game", Rule: processRule("game.exe", nil)},
		{Name: "Default", Rule: nil},
	}

	state := profiles.BuildState(map[int32]schema.ProcessInfo{
		10: {Name: "game.exe", Cmdline: "game.exe"},
	}, nil)

	name, ok := profiles.Resolve(list, &state)
	require.True(t, ok)
	assert.Equal(t, "Game", name)

	// The process is gone on the next scan. Ruleless profiles are
	// manual-only, so nothing matches.
	state = profiles.BuildState(map[int32]schema.ProcessInfo{}, nil)

	_, ok = profiles.Resolve(list, &state)
	assert.False(t, ok)
}

func TestResolveDeclaredOrderIsPriority(t *testing.T) {
	state := profiles.BuildState(map[int32]schema.ProcessInfo{
		10: {Name: "game.exe", Cmdline: "game.exe"},
		11: {Name: "compositor", Cmdline: "compositor --vrr"},
	}, nil)

	list := schema.ProfileMap{
		{Name: "VRR", Rule: processRule("compositor", nil)},
		{Name: "Game", Rule: processRule("game.exe", nil)},
	}

	name, ok := profiles.Resolve(list, &state)
	require.True(t, ok)
	assert.Equal(t, "VRR", name)

	reordered := schema.ProfileMap{list[1], list[0]}
	name, ok = profiles.Resolve(reordered, &state)
	require.True(t, ok)
	assert.Equal(t, "Game", name)
}

func TestResolveArgumentFilterIsSubstringMatch(t *testing.T) {
	state := profiles.BuildState(map[int32]schema.ProcessInfo{
		22: {Name: "wine", Cmdline: `wine C:\games\witcher3\witcher3.exe`},
	}, nil)

	name, ok := profiles.Resolve(schema.ProfileMap{
		{Name: "Witcher", Rule: processRule("wine", strPtr("witcher3"))},
	}, &state)
	require.True(t, ok)
	assert.Equal(t, "Witcher", name)

	_, ok = profiles.Resolve(schema.ProfileMap{
		{Name: "Doom", Rule: processRule("wine", strPtr("doom"))},
	}, &state)
	assert.False(t, ok)
}

func TestResolveGamemodeMatchesRegardlessOfName(t *testing.T) {
	state := profiles.BuildState(map[int32]schema.ProcessInfo{
		7: {Name: "anything", Cmdline: "anything"},
	}, []int32{7})

	list := schema.ProfileMap{
		{Name: "Game", Rule: gamemodeRule(nil)},
	}

	name, ok := profiles.Resolve(list, &state)
	require.True(t, ok)
	assert.Equal(t, "Game", name)
}

func TestResolveGamemodeNestedFilter(t *testing.T) {
	state := profiles.BuildState(map[int32]schema.ProcessInfo{
		7: {Name: "heroic", Cmdline: "heroic --run celeste"},
		9: {Name: "steam", Cmdline: "steam"},
	}, []int32{7})

	// Pid 9 is not registered as a game, so the steam filter finds no
	// registered game process.
	_, ok := profiles.Resolve(schema.ProfileMap{
		{Name: "Steam", Rule: gamemodeRule(&schema.ProcessProfileRule{Name: "steam"})},
	}, &state)
	assert.False(t, ok)

	name, ok := profiles.Resolve(schema.ProfileMap{
		{Name: "Heroic", Rule: gamemodeRule(&schema.ProcessProfileRule{Name: "heroic", Args: strPtr("--run")})},
	}, &state)
	require.True(t, ok)
	assert.Equal(t, "Heroic", name)

	_, ok = profiles.Resolve(schema.ProfileMap{
		{Name: "Heroic", Rule: gamemodeRule(&schema.ProcessProfileRule{Name: "heroic", Args: strPtr("--quit")})},
	}, &state)
	assert.False(t, ok)
}

func TestResolveIsIdempotent(t *testing.T) {
	state := profiles.BuildState(map[int32]schema.ProcessInfo{
		10: {Name: "game.exe", Cmdline: "game.exe --fullscreen"},
	}, nil)

	list := schema.ProfileMap{
		{Name: "Game", Rule: processRule("game.exe", nil)},
	}

	first, okFirst := profiles.Resolve(list, &state)
	second, okSecond := profiles.Resolve(list, &state)

	assert.Equal(t, first, second)
	assert.Equal(t, okFirst, okSecond)
}

func TestBuildStateDerivesSortedIndices(t *testing.T) {
	state := profiles.BuildState(map[int32]schema.ProcessInfo{
		31: {Name: "worker", Cmdline: "worker --shard 1"},
		12: {Name: "worker", Cmdline: "worker --shard 0"},
		55: {Name: "shell", Cmdline: "shell"},
	}, []int32{55, 31, 999})

	assert.Equal(t, []int32{12, 31}, state.ProcessNamesMap["worker"])
	assert.Equal(t, []int32{55}, state.ProcessNamesMap["shell"])

	// Pid 999 has no live process and is dropped from the game set.
	assert.Equal(t, []int32{31, 55}, state.GamemodeGames)
}

func TestBuildStateEmptySnapshot(t *testing.T) {
	state := profiles.BuildState(map[int32]schema.ProcessInfo{}, []int32{4})

	assert.Empty(t, state.ProcessList)
	assert.Empty(t, state.ProcessNamesMap)
	assert.Empty(t, state.GamemodeGames)
}
