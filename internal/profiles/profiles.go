// Package profiles decides which configuration profile should be
// active for the current process set. Building the watcher state and
// resolving a profile are pure functions; the daemon owns the timers
// and applies the result.
package profiles

import (
	"sort"
	"strings"

	"codeberg.org/wrenhale/gpuctl/schema"
)

// GamemodeSource lists the process ids registered with the gamemode
// helper. Hosts without the helper use NoGamemode.
type GamemodeSource interface {
	Games() []int32
}

// NoGamemode is the source used when no gamemode helper is reachable.
type NoGamemode struct{}

func (NoGamemode) Games() []int32 {
	return nil
}

// BuildState derives a complete watcher state from a fresh process
// snapshot and the gamemode registration set. The previous state is
// replaced wholesale; callers must not mutate the snapshot afterwards.
// Registered game ids without a live process are dropped, so a stale
// registration can never keep a profile active.
func BuildState(processes map[int32]schema.ProcessInfo, gamemodePids []int32) schema.ProfileWatcherState {
	state := schema.ProfileWatcherState{
		ProcessList:     processes,
		ProcessNamesMap: make(map[string][]int32, len(processes)),
	}

	for pid, info := range processes {
		state.ProcessNamesMap[info.Name] = append(state.ProcessNamesMap[info.Name], pid)
	}
	for _, pids := range state.ProcessNamesMap {
		sort.Slice(pids, func(i, j int) bool { return pids[i] < pids[j] })
	}

	for _, pid := range gamemodePids {
		if _, alive := processes[pid]; alive {
			state.GamemodeGames = append(state.GamemodeGames, pid)
		}
	}
	sort.Slice(state.GamemodeGames, func(i, j int) bool {
		return state.GamemodeGames[i] < state.GamemodeGames[j]
	})

	return state
}

// Resolve returns the first profile, in declared order, whose rule
// matches the watcher state. Profiles without a rule are manual-only
// and never returned. A false result is the normal outcome of an
// unmatched process set, not an error.
func Resolve(list schema.ProfileMap, state *schema.ProfileWatcherState) (string, bool) {
	for _, entry := range list {
		if entry.Rule == nil {
			continue
		}
		if ruleMatches(*entry.Rule, state) {
			return entry.Name, true
		}
	}

	return "", false
}

func ruleMatches(rule schema.ProfileRule, state *schema.ProfileWatcherState) bool {
	switch rule.Kind {
	case schema.RuleProcess:
		if rule.Filter == nil {
			return false
		}

		return processMatches(*rule.Filter, state)
	case schema.RuleGamemode:
		if len(state.GamemodeGames) == 0 {
			return false
		}
		if rule.Filter == nil {
			return true
		}
		for _, pid := range state.GamemodeGames {
			info, alive := state.ProcessList[pid]
			if alive && filterMatchesProcess(*rule.Filter, info) {
				return true
			}
		}

		return false
	}

	return false
}

// processMatches runs in profile-count time: a name lookup plus, when
// an argument filter is set, a walk over the processes bearing that
// name only.
func processMatches(filter schema.ProcessProfileRule, state *schema.ProfileWatcherState) bool {
	pids, ok := state.ProcessNamesMap[filter.Name]
	if !ok || len(pids) == 0 {
		return false
	}
	if filter.Args == nil {
		return true
	}

	for _, pid := range pids {
		info, alive := state.ProcessList[pid]
		if alive && strings.Contains(info.Cmdline, *filter.Args) {
			return true
		}
	}

	return false
}

func filterMatchesProcess(filter schema.ProcessProfileRule, info schema.ProcessInfo) bool {
	if info.Name != filter.Name {
		return false
	}
	if filter.Args == nil {
		return true
	}

	return strings.Contains(info.Cmdline, *filter.Args)
}
