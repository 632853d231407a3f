// Package aggregate folds ordered event streams into derived per-world
// state: session history, playtime totals, achievement sets, server
// status.
package aggregate

import (
	"fmt"
	"sort"
	"time"

	"github.com/wurstmineberg/api/internal/logging"
	"github.com/wurstmineberg/api/internal/people"
	"github.com/wurstmineberg/api/pkg/types"
)

// maxWarnings bounds the integrity warnings kept per world
const maxWarnings = 64

// Aggregator folds events into state. It carries no mutable state of its
// own: Aggregate is a pure function of its inputs, so replaying the same
// events over the same prior state always yields the same result.
type Aggregator struct {
	logger *logging.Logger
}

// New creates an aggregator
func New(logger *logging.Logger) *Aggregator {
	return &Aggregator{logger: logger.WithComponent("aggregate")}
}

// Aggregate folds events, in timestamp order with source-sequence
// tie-break, onto a clone of prior. Actor identifiers resolve against the
// given people registry snapshot; unmatched actors aggregate under the
// unknown bucket. prior may be nil for a from-scratch pass.
func (a *Aggregator) Aggregate(reg *people.Registry, events []types.Event, prior *State) *State {
	state := NewState()
	if prior != nil {
		state = prior.Clone()
	}
	if reg == nil {
		reg = people.Empty()
	}

	ordered := append([]types.Event(nil), events...)
	types.SortEvents(ordered)

	for _, event := range ordered {
		ws := state.world(event.World)
		a.apply(ws, reg, event)
	}
	return state
}

func (a *Aggregator) apply(ws *WorldState, reg *people.Registry, event types.Event) {
	switch event.Kind {
	case types.EventJoin:
		a.applyJoin(ws, reg.ResolveID(event.Actor), event)
	case types.EventLeave:
		a.applyLeave(ws, reg.ResolveID(event.Actor), event)
	case types.EventAchievement:
		a.applyAchievement(ws, reg.ResolveID(event.Actor), event)
	case types.EventDeath:
		a.applyDeath(ws, reg.ResolveID(event.Actor), event)
	case types.EventServerStart:
		a.closeAllOpen(ws, event.Timestamp, types.LeaveStartOverride)
		a.closeUptime(ws, event.Timestamp)
		ws.Current = &types.Uptime{Start: event.Timestamp, Version: event.Version}
		ws.Running = true
		if event.Version != "" {
			ws.Version = event.Version
		}
	case types.EventServerStop:
		a.closeAllOpen(ws, event.Timestamp, types.LeaveServerStop)
		a.closeUptime(ws, event.Timestamp)
		ws.Running = false
	case types.EventServerRestart:
		a.closeAllOpen(ws, event.Timestamp, types.LeaveRestart)
		a.closeUptime(ws, event.Timestamp)
		ws.Current = &types.Uptime{Start: event.Timestamp}
		ws.Running = true
	case types.EventChat:
		// Chat carries no derived state yet.
	}
}

func (a *Aggregator) applyJoin(ws *WorldState, person string, event types.Event) {
	if open, ok := ws.Open[person]; ok {
		// A join without a prior leave: the earlier session is closed
		// implicitly at the new join time.
		a.warn(ws, fmt.Sprintf("join without leave for %s at %s", person, event.Timestamp.Format(time.RFC3339)))
		a.closeSession(ws, open, event.Timestamp, types.LeaveLogout)
	}

	session := types.Session{
		Person: person,
		Nick:   event.Nick,
		World:  ws.World,
		Start:  event.Timestamp,
	}
	ws.Open[person] = session
	ws.LastSeen[person] = session
}

func (a *Aggregator) applyLeave(ws *WorldState, person string, event types.Event) {
	open, ok := ws.Open[person]
	if !ok {
		// Leave without a matching join; nothing to close.
		return
	}
	if event.Timestamp.Before(open.Start) {
		// Would produce a negative duration. Discard the event and
		// keep aggregating.
		a.warn(ws, fmt.Sprintf("leave before join for %s at %s", person, event.Timestamp.Format(time.RFC3339)))
		return
	}
	a.closeSession(ws, open, event.Timestamp, types.LeaveLogout)
}

func (a *Aggregator) applyAchievement(ws *WorldState, person string, event types.Event) {
	set, ok := ws.Achievements[person]
	if !ok {
		set = make(map[string]time.Time)
		ws.Achievements[person] = set
	}
	if first, ok := set[event.Achievement]; !ok || event.Timestamp.Before(first) {
		set[event.Achievement] = event.Timestamp
	}
}

func (a *Aggregator) applyDeath(ws *WorldState, person string, event types.Event) {
	ws.Deaths[person] = append(ws.Deaths[person], types.Death{
		Cause:     event.Cause,
		Timestamp: event.Timestamp,
	})
}

// closeSession closes an open session, accrues playtime and records it in
// the surrounding uptime window.
func (a *Aggregator) closeSession(ws *WorldState, session types.Session, end time.Time, reason types.LeaveReason) {
	if end.Before(session.Start) {
		a.warn(ws, fmt.Sprintf("clamped session end for %s: end %s before start %s",
			session.Person, end.Format(time.RFC3339), session.Start.Format(time.RFC3339)))
		end = session.Start
	}

	session.End = end
	session.Reason = reason
	delete(ws.Open, session.Person)

	ws.Playtime[session.Person] += session.End.Sub(session.Start)
	ws.LastSeen[session.Person] = session

	if ws.Current != nil {
		ws.Current.Sessions = append(ws.Current.Sessions, session)
	} else {
		ws.Orphans = append(ws.Orphans, session)
	}
}

// closeAllOpen force-closes every open session, in person order for
// deterministic output.
func (a *Aggregator) closeAllOpen(ws *WorldState, end time.Time, reason types.LeaveReason) {
	persons := make([]string, 0, len(ws.Open))
	for person := range ws.Open {
		persons = append(persons, person)
	}
	sort.Strings(persons)

	for _, person := range persons {
		a.closeSession(ws, ws.Open[person], end, reason)
	}
}

func (a *Aggregator) closeUptime(ws *WorldState, end time.Time) {
	if ws.Current == nil {
		return
	}
	up := *ws.Current
	up.End = end
	ws.Uptimes = append(ws.Uptimes, up)
	ws.Current = nil
}

func (a *Aggregator) warn(ws *WorldState, msg string) {
	a.logger.WithWorld(ws.World).Warn().Msg(msg)
	if len(ws.Warnings) < maxWarnings {
		ws.Warnings = append(ws.Warnings, msg)
	}
}
