package types

import (
	"sort"
	"time"
)

// SourceKind identifies which external collaborator a raw record came from.
type SourceKind string

const (
	SourceJlog    SourceKind = "jlog"
	SourceConsole SourceKind = "console"
	SourceDeaths  SourceKind = "deaths"
)

// RawRecord is one unparsed line from a source file. Records are ephemeral
// and discarded after normalization.
type RawRecord struct {
	Source SourceKind `json:"source"`
	World  string     `json:"world"`
	Path   string     `json:"path"`
	Offset int64      `json:"offset"` // byte offset of the start of the line
	Seq    int64      `json:"seq"`    // per-source read sequence
	Text   string     `json:"text"`
}

// EventKind enumerates the canonical event variants.
type EventKind string

const (
	EventJoin          EventKind = "join"
	EventLeave         EventKind = "leave"
	EventAchievement   EventKind = "achievement"
	EventDeath         EventKind = "death"
	EventChat          EventKind = "chat"
	EventServerStart   EventKind = "serverStart"
	EventServerStop    EventKind = "serverStop"
	EventServerRestart EventKind = "serverRestart"
)

// Event is a normalized record. Immutable once created; ordered by
// timestamp with the source sequence as a stable tie-break.
type Event struct {
	Kind      EventKind `json:"kind"`
	World     string    `json:"world"`
	Actor     string    `json:"actor,omitempty"` // identifier as it appears in the source
	Nick      string    `json:"nick,omitempty"`  // in-game nick when the source carries one
	Timestamp time.Time `json:"timestamp"`
	Seq       int64     `json:"seq"`

	// Kind-specific payload fields.
	Achievement string `json:"achievement,omitempty"`
	Cause       string `json:"cause,omitempty"`
	Text        string `json:"text,omitempty"`
	Version     string `json:"version,omitempty"`
}

// Before reports whether e precedes other in the canonical event order.
func (e Event) Before(other Event) bool {
	if !e.Timestamp.Equal(other.Timestamp) {
		return e.Timestamp.Before(other.Timestamp)
	}
	return e.Seq < other.Seq
}

// SortEvents orders events by timestamp, breaking ties by source sequence.
func SortEvents(events []Event) {
	sort.SliceStable(events, func(i, j int) bool {
		return events[i].Before(events[j])
	})
}

// UnknownPerson is the synthetic bucket for actor identifiers with no
// matching person record. Events for it are retained, never dropped.
const UnknownPerson = "unknown"

// Person is one canonical person record from the people file.
type Person struct {
	ID            string   `json:"id"`
	Name          string   `json:"name,omitempty"`
	Minecraft     string   `json:"minecraft,omitempty"`
	MinecraftUUID string   `json:"minecraftUUID,omitempty"`
	Nicks         []string `json:"nicks,omitempty"`

	// Raw holds the person's full people-file object, minus private
	// fields, for endpoints that serve registry records verbatim.
	Raw map[string]any `json:"-"`
}

// Aliases returns every identifier the person may appear as in logs.
func (p Person) Aliases() []string {
	aliases := make([]string, 0, 3+len(p.Nicks))
	if p.ID != "" {
		aliases = append(aliases, p.ID)
	}
	if p.Minecraft != "" {
		aliases = append(aliases, p.Minecraft)
	}
	if p.MinecraftUUID != "" {
		aliases = append(aliases, p.MinecraftUUID)
	}
	aliases = append(aliases, p.Nicks...)
	return aliases
}

// LeaveReason records why a session ended.
type LeaveReason string

const (
	LeaveLogout          LeaveReason = "logout"
	LeaveRestart         LeaveReason = "restart"
	LeaveStartOverride   LeaveReason = "serverStartOverride"
	LeaveServerStop      LeaveReason = "serverStop"
	LeaveCurrentlyOnline LeaveReason = "currentlyOnline"
)

// Session is one contiguous online period for a person in a world.
// End is zero while the session is open.
type Session struct {
	Person string      `json:"person"`
	Nick   string      `json:"minecraftNick,omitempty"`
	World  string      `json:"world"`
	Start  time.Time   `json:"joinTime"`
	End    time.Time   `json:"leaveTime,omitempty"`
	Reason LeaveReason `json:"leaveReason,omitempty"`
}

// Open reports whether the session has not been closed yet.
func (s Session) Open() bool { return s.End.IsZero() }

// Duration returns the session length, measuring open sessions against now.
func (s Session) Duration(now time.Time) time.Duration {
	end := s.End
	if s.Open() {
		end = now
	}
	if end.Before(s.Start) {
		return 0
	}
	return end.Sub(s.Start)
}

// Death is one recorded player death.
type Death struct {
	Cause     string    `json:"cause"`
	Timestamp time.Time `json:"timestamp"`
}

// Uptime is one server start..stop window and the sessions within it.
type Uptime struct {
	Start    time.Time `json:"startTime"`
	End      time.Time `json:"endTime,omitempty"`
	Version  string    `json:"version,omitempty"`
	Sessions []Session `json:"sessions,omitempty"`
}

// FilePosition tracks the consumed position in a source file.
type FilePosition struct {
	Path   string `json:"path"`
	Offset int64  `json:"offset"`
	Seq    int64  `json:"seq"`
}

// ParseStats counts normalization outcomes for one pass.
type ParseStats struct {
	Parsed  int64 `json:"parsed"`
	Skipped int64 `json:"skipped"`
}
