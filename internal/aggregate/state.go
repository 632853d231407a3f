package aggregate

import (
	"time"

	"github.com/wurstmineberg/api/pkg/types"
)

// WorldState holds everything derived from one world's event history. It
// is the sole write target of the aggregator; readers only ever see it
// through a published snapshot, never mid-fold.
type WorldState struct {
	World   string
	Running bool
	Version string

	// Open sessions keyed by person id; at most one per person.
	Open map[string]types.Session

	// LastSeen is the most recent session (open or closed) per person.
	LastSeen map[string]types.Session

	Playtime     map[string]time.Duration
	Achievements map[string]map[string]time.Time // person -> achievement -> first unlock
	Deaths       map[string][]types.Death

	// Uptimes are completed server start..stop windows. Current is the
	// running window, nil while the server is down. Sessions closed
	// outside any known window land in Orphans.
	Uptimes []types.Uptime
	Current *types.Uptime
	Orphans []types.Session

	Warnings []string
}

func newWorldState(world string) *WorldState {
	return &WorldState{
		World:        world,
		Open:         make(map[string]types.Session),
		LastSeen:     make(map[string]types.Session),
		Playtime:     make(map[string]time.Duration),
		Achievements: make(map[string]map[string]time.Time),
		Deaths:       make(map[string][]types.Death),
	}
}

func (w *WorldState) clone() *WorldState {
	c := newWorldState(w.World)
	c.Running = w.Running
	c.Version = w.Version

	for k, v := range w.Open {
		c.Open[k] = v
	}
	for k, v := range w.LastSeen {
		c.LastSeen[k] = v
	}
	for k, v := range w.Playtime {
		c.Playtime[k] = v
	}
	for person, set := range w.Achievements {
		cs := make(map[string]time.Time, len(set))
		for a, t := range set {
			cs[a] = t
		}
		c.Achievements[person] = cs
	}
	for k, v := range w.Deaths {
		c.Deaths[k] = append([]types.Death(nil), v...)
	}

	c.Uptimes = make([]types.Uptime, len(w.Uptimes))
	for i, u := range w.Uptimes {
		u.Sessions = append([]types.Session(nil), u.Sessions...)
		c.Uptimes[i] = u
	}
	if w.Current != nil {
		cur := *w.Current
		cur.Sessions = append([]types.Session(nil), cur.Sessions...)
		c.Current = &cur
	}
	c.Orphans = append([]types.Session(nil), w.Orphans...)
	c.Warnings = append([]string(nil), w.Warnings...)
	return c
}

// State is the full aggregate across worlds. Fully recomputable from the
// event history; never mutated in place once published.
type State struct {
	Worlds map[string]*WorldState
}

// NewState returns an empty aggregate state
func NewState() *State {
	return &State{Worlds: make(map[string]*WorldState)}
}

// Clone deep-copies the state so a fold can build the next version
// without disturbing concurrent readers of the current one.
func (s *State) Clone() *State {
	c := NewState()
	for name, ws := range s.Worlds {
		c.Worlds[name] = ws.clone()
	}
	return c
}

// World returns the state for a world, or nil if none was aggregated
func (s *State) World(name string) *WorldState {
	if s == nil {
		return nil
	}
	return s.Worlds[name]
}

func (s *State) world(name string) *WorldState {
	ws, ok := s.Worlds[name]
	if !ok {
		ws = newWorldState(name)
		s.Worlds[name] = ws
	}
	return ws
}
