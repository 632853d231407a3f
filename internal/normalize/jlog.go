package normalize

import (
	"github.com/goccy/go-json"

	"github.com/wurstmineberg/api/pkg/types"
)

// jlogRecord is the wire shape of one structured event line written by
// the companion bot. Unknown fields are ignored.
type jlogRecord struct {
	Time        string `json:"time"`
	Type        string `json:"type"`
	Person      string `json:"person"`
	Nick        string `json:"minecraftNick"`
	Achievement string `json:"achievement"`
	Cause       string `json:"cause"`
	Text        string `json:"text"`
	Version     string `json:"version"`
}

var jlogKinds = map[string]types.EventKind{
	"join":          types.EventJoin,
	"leave":         types.EventLeave,
	"achievement":   types.EventAchievement,
	"death":         types.EventDeath,
	"chat":          types.EventChat,
	"serverStart":   types.EventServerStart,
	"serverStop":    types.EventServerStop,
	"serverRestart": types.EventServerRestart,
}

// parseJlog parses one structured jlog line. An empty reason means success.
func parseJlog(rec types.RawRecord) (types.Event, string) {
	var raw jlogRecord
	if err := json.Unmarshal([]byte(rec.Text), &raw); err != nil {
		return types.Event{}, "malformed jlog record"
	}

	kind, ok := jlogKinds[raw.Type]
	if !ok {
		return types.Event{}, "unrecognized"
	}

	ts, ok := parseTimestamp(raw.Time)
	if !ok {
		return types.Event{}, "no timestamp"
	}

	event := types.Event{
		Kind:        kind,
		Actor:       raw.Person,
		Nick:        raw.Nick,
		Timestamp:   ts,
		Achievement: raw.Achievement,
		Cause:       raw.Cause,
		Text:        raw.Text,
		Version:     raw.Version,
	}

	switch kind {
	case types.EventJoin, types.EventLeave, types.EventAchievement, types.EventDeath, types.EventChat:
		if event.Actor == "" {
			return types.Event{}, "missing actor"
		}
	}
	if kind == types.EventAchievement && event.Achievement == "" {
		return types.Event{}, "missing achievement"
	}

	return event, ""
}
