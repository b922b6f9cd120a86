package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// ProfileRuleKind tags the two rule flavors.
type ProfileRuleKind string

const (
	RuleProcess  ProfileRuleKind = "process"
	RuleGamemode ProfileRuleKind = "gamemode"
)

// ProfileRule decides when a profile activates. Process rules require
// a filter; gamemode rules may carry an optional one that restricts
// the match to specific registered games. The wire form is
// {"type": "<kind>", "filter": {...}} with the filter omitted when
// absent.
type ProfileRule struct {
	Kind   ProfileRuleKind
	Filter *ProcessProfileRule
}

type taggedRule struct {
	Type   ProfileRuleKind     `json:"type"`
	Filter *ProcessProfileRule `json:"filter,omitempty"`
}

func (r ProfileRule) MarshalJSON() ([]byte, error) {
	if err := validateRule(r.Kind, r.Filter); err != nil {
		return nil, err
	}

	return json.Marshal(taggedRule{Type: r.Kind, Filter: r.Filter})
}

func (r *ProfileRule) UnmarshalJSON(data []byte) error {
	var tagged taggedRule
	if err := json.Unmarshal(data, &tagged); err != nil {
		return err
	}

	if err := validateRule(tagged.Type, tagged.Filter); err != nil {
		return err
	}

	r.Kind = tagged.Type
	r.Filter = tagged.Filter

	return nil
}

func validateRule(kind ProfileRuleKind, filter *ProcessProfileRule) error {
	switch kind {
	case RuleProcess:
		if filter == nil {
			return fmt.Errorf("process rule requires a filter")
		}
	case RuleGamemode:
	default:
		return fmt.Errorf("unknown profile rule type %q", kind)
	}

	return nil
}

// ProcessProfileRule matches processes by exact executable name and
// optionally by a substring of the command line.
type ProcessProfileRule struct {
	Name string  `json:"name"`
	Args *string `json:"args,omitempty"`
}

// ProfileEntry pairs a profile name with its optional activation rule.
// A nil rule means the profile is only ever selected manually.
type ProfileEntry struct {
	Name string
	Rule *ProfileRule
}

// ProfileMap is an ordered collection of profiles. Declaration order
// is the matching priority. The wire form is a JSON object whose key
// order is preserved on both ends.
type ProfileMap []ProfileEntry

// Get returns the rule of the named profile.
func (m ProfileMap) Get(name string) (*ProfileRule, bool) {
	for i := range m {
		if m[i].Name == name {
			return m[i].Rule, true
		}
	}

	return nil, false
}

// Set updates the named profile in place, or appends it when missing.
func (m *ProfileMap) Set(name string, rule *ProfileRule) {
	for i := range *m {
		if (*m)[i].Name == name {
			(*m)[i].Rule = rule
			return
		}
	}

	*m = append(*m, ProfileEntry{Name: name, Rule: rule})
}

// Delete removes the named profile, reporting whether it existed.
func (m *ProfileMap) Delete(name string) bool {
	for i := range *m {
		if (*m)[i].Name == name {
			*m = append((*m)[:i], (*m)[i+1:]...)
			return true
		}
	}

	return false
}

func (m ProfileMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')

	for i := range m {
		if i > 0 {
			buf.WriteByte(',')
		}

		key, err := json.Marshal(m[i].Name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		if m[i].Rule == nil {
			buf.WriteString("null")
			continue
		}

		value, err := json.Marshal(m[i].Rule)
		if err != nil {
			return nil, err
		}
		buf.Write(value)
	}

	buf.WriteByte('}')

	return buf.Bytes(), nil
}

func (m *ProfileMap) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok != json.Delim('{') {
		return fmt.Errorf("profiles must be a JSON object")
	}

	entries := ProfileMap{}
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("profile name must be a string, got %v", keyTok)
		}

		var rule *ProfileRule
		if err := dec.Decode(&rule); err != nil {
			return err
		}

		entries = append(entries, ProfileEntry{Name: name, Rule: rule})
	}

	if _, err := dec.Token(); err != nil {
		return err
	}

	*m = entries

	return nil
}

// ProfilesInfo is the full profile state reported to clients.
type ProfilesInfo struct {
	Profiles       ProfileMap           `json:"profiles"`
	CurrentProfile *string              `json:"current_profile,omitempty"`
	AutoSwitch     bool                 `json:"auto_switch"`
	WatcherState   *ProfileWatcherState `json:"watcher_state,omitempty"`
}

// Equivalent reports whether two snapshots describe the same profile
// configuration. The watcher state changes with every process scan and
// is deliberately ignored.
func (p ProfilesInfo) Equivalent(other ProfilesInfo) bool {
	if len(p.Profiles) != len(other.Profiles) {
		return false
	}

	for i := range p.Profiles {
		if !profileEntryEqual(p.Profiles[i], other.Profiles[i]) {
			return false
		}
	}

	return p.AutoSwitch == other.AutoSwitch && strPtrEqual(p.CurrentProfile, other.CurrentProfile)
}

func profileEntryEqual(a, b ProfileEntry) bool {
	if a.Name != b.Name {
		return false
	}

	if (a.Rule == nil) != (b.Rule == nil) {
		return false
	}
	if a.Rule == nil {
		return true
	}

	if a.Rule.Kind != b.Rule.Kind {
		return false
	}

	af, bf := a.Rule.Filter, b.Rule.Filter
	if (af == nil) != (bf == nil) {
		return false
	}
	if af == nil {
		return true
	}

	return af.Name == bf.Name && strPtrEqual(af.Args, bf.Args)
}

func strPtrEqual(a, b *string) bool {
	if (a == nil) != (b == nil) {
		return false
	}

	return a == nil || *a == *b
}

// ProcessInfo describes one running process.
type ProcessInfo struct {
	Name    string `json:"name"`
	Cmdline string `json:"cmdline"`
}

// ProfileWatcherState is the derived view of the running process set
// used by rule matching. ProcessNamesMap indexes ProcessList by
// executable name and is rebuilt together with it, never patched.
type ProfileWatcherState struct {
	ProcessList     map[int32]ProcessInfo `json:"process_list"`
	GamemodeGames   []int32               `json:"gamemode_games"`
	ProcessNamesMap map[string][]int32    `json:"process_names_map"`
}
