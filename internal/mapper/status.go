// Package mapper holds the pure vocabulary maps and text parsers shared by
// every sync phase. All functions are total: unknown inputs map to the
// documented defaults instead of failing, so they are safe to call from
// deterministic workflow code.
package mapper

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/steveyegge/braid/internal/types"
)

// BeadsState is a Beads status value plus the optional huly:* label that
// disambiguates it back to a Huly status.
type BeadsState struct {
	Status types.BeadsStatus
	Label  string // empty when the status alone round-trips
}

// Mapping carries the vocabulary tables. The zero value is unusable; build
// one with DefaultMapping or LoadMapping.
type Mapping struct {
	hulyToVibe  map[types.HulyStatus]types.VibeStatus
	vibeToHuly  map[types.VibeStatus]types.HulyStatus
	hulyToBeads map[types.HulyStatus]BeadsState
	priToBeads  map[types.HulyPriority]int
	priToHuly   map[int]types.HulyPriority
}

// mappingFile is the TOML override schema. Every table is optional and
// entries replace the defaults key by key.
type mappingFile struct {
	StatusToVibe  map[string]string `toml:"status_to_vibe"`
	StatusToBeads map[string]string `toml:"status_to_beads"` // value "status:label", label optional
	Priority      map[string]int    `toml:"priority"`
}

// DefaultMapping returns the built-in vocabulary tables.
func DefaultMapping() *Mapping {
	m := &Mapping{
		hulyToVibe: map[types.HulyStatus]types.VibeStatus{
			types.HulyBacklog:    types.VibeTodo,
			types.HulyTodo:       types.VibeTodo,
			types.HulyInProgress: types.VibeInProgress,
			types.HulyInReview:   types.VibeInReview,
			types.HulyDone:       types.VibeDone,
			types.HulyCancelled:  types.VibeCancelled,
		},
		vibeToHuly: map[types.VibeStatus]types.HulyStatus{
			types.VibeTodo:       types.HulyTodo,
			types.VibeInProgress: types.HulyInProgress,
			types.VibeInReview:   types.HulyInReview,
			types.VibeDone:       types.HulyDone,
			types.VibeCancelled:  types.HulyCancelled,
		},
		hulyToBeads: map[types.HulyStatus]BeadsState{
			types.HulyBacklog:    {Status: types.BeadsOpen, Label: "huly:backlog"},
			types.HulyTodo:       {Status: types.BeadsOpen, Label: "huly:todo"},
			types.HulyInProgress: {Status: types.BeadsInProgress},
			types.HulyInReview:   {Status: types.BeadsInProgress, Label: "huly:in-review"},
			types.HulyDone:       {Status: types.BeadsClosed},
			types.HulyCancelled:  {Status: types.BeadsClosed, Label: "huly:cancelled"},
		},
		priToBeads: map[types.HulyPriority]int{
			types.PriorityUrgent: 0,
			types.PriorityHigh:   1,
			types.PriorityMedium: 2,
			types.PriorityLow:    3,
			types.PriorityNone:   4,
		},
	}
	m.priToHuly = make(map[int]types.HulyPriority, len(m.priToBeads))
	for h, b := range m.priToBeads {
		m.priToHuly[b] = h
	}
	return m
}

// LoadMapping reads TOML overrides from path on top of the defaults.
// An empty path returns the defaults unchanged.
func LoadMapping(path string) (*Mapping, error) {
	m := DefaultMapping()
	if path == "" {
		return m, nil
	}

	var f mappingFile
	if _, err := toml.DecodeFile(path, &f); err != nil {
		return nil, fmt.Errorf("loading mapping overrides from %s: %w", path, err)
	}

	for huly, vibe := range f.StatusToVibe {
		m.hulyToVibe[types.HulyStatus(huly)] = types.VibeStatus(vibe)
		m.vibeToHuly[types.VibeStatus(vibe)] = types.HulyStatus(huly)
	}
	for huly, pair := range f.StatusToBeads {
		m.hulyToBeads[types.HulyStatus(huly)] = parseBeadsState(pair)
	}
	for huly, n := range f.Priority {
		m.priToBeads[types.HulyPriority(huly)] = n
		m.priToHuly[n] = types.HulyPriority(huly)
	}
	return m, nil
}

func parseBeadsState(pair string) BeadsState {
	for i := 0; i < len(pair); i++ {
		if pair[i] == ':' {
			// label itself contains a colon ("huly:todo"), so split on the
			// first colon only when the prefix is a valid beads status
			if types.BeadsStatus(pair[:i]).IsValid() {
				return BeadsState{Status: types.BeadsStatus(pair[:i]), Label: pair[i+1:]}
			}
		}
	}
	return BeadsState{Status: types.BeadsStatus(pair)}
}

// HulyToVibe maps a Huly status to its Vibe column. Unknown statuses land
// on todo. Backlog and Todo intentionally collapse to todo; phase 2 compares
// in Vibe space so the collapse never flaps a Huly status back.
func (m *Mapping) HulyToVibe(s types.HulyStatus) types.VibeStatus {
	if v, ok := m.hulyToVibe[s]; ok {
		return v
	}
	return types.VibeTodo
}

// VibeToHuly maps a Vibe column to the canonical Huly status. todo maps to
// Todo; an issue sitting in Backlog is left alone because phase 2 only
// writes when the Vibe-space projection differs.
func (m *Mapping) VibeToHuly(s types.VibeStatus) types.HulyStatus {
	if h, ok := m.vibeToHuly[s]; ok {
		return h
	}
	return types.HulyTodo
}

// HulyToBeads maps a Huly status to the Beads status value plus the huly:*
// label that makes the pair invertible.
func (m *Mapping) HulyToBeads(s types.HulyStatus) BeadsState {
	if b, ok := m.hulyToBeads[s]; ok {
		return b
	}
	return BeadsState{Status: types.BeadsOpen}
}

// BeadsToHuly recovers a Huly status from a Beads status value and the
// issue's labels. Labels outside the closed huly:* vocabulary are ignored.
// Plain open maps to Backlog, blocked to In Progress, deferred to Backlog.
func (m *Mapping) BeadsToHuly(s types.BeadsStatus, labels []string) types.HulyStatus {
	byLabel := map[string]types.HulyStatus{
		"huly:backlog":   types.HulyBacklog,
		"huly:todo":      types.HulyTodo,
		"huly:in-review": types.HulyInReview,
		"huly:cancelled": types.HulyCancelled,
	}
	for _, l := range labels {
		if h, ok := byLabel[l]; ok && m.hulyToBeads[h].Status == s {
			return h
		}
	}
	switch s {
	case types.BeadsInProgress:
		return types.HulyInProgress
	case types.BeadsClosed:
		return types.HulyDone
	case types.BeadsBlocked:
		return types.HulyInProgress
	default: // open, deferred
		return types.HulyBacklog
	}
}

// StatusLabels returns the full closed huly:* label vocabulary. The engine
// uses it to replace one status label with another without touching user
// labels.
func (m *Mapping) StatusLabels() []string {
	return []string{"huly:backlog", "huly:todo", "huly:in-review", "huly:cancelled"}
}

// HulyPriorityToBeads maps a Huly priority to the Beads 0..4 scale.
// Unknown priorities land on medium.
func (m *Mapping) HulyPriorityToBeads(p types.HulyPriority) int {
	if n, ok := m.priToBeads[p]; ok {
		return n
	}
	return 2
}

// BeadsPriorityToHuly is the inverse of HulyPriorityToBeads. Out-of-range
// values land on Medium.
func (m *Mapping) BeadsPriorityToHuly(n int) types.HulyPriority {
	if p, ok := m.priToHuly[n]; ok {
		return p
	}
	return types.PriorityMedium
}
