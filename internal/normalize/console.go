package normalize

import (
	"regexp"

	"github.com/wurstmineberg/api/pkg/types"
)

// Console log message templates, tried in priority order. The set is
// expected to grow as the log writer gains message kinds; unmatched lines
// are skipped, never fatal.
const consoleTS = `([0-9]{4}-[0-9]{2}-[0-9]{2} [0-9]{2}:[0-9]{2}:[0-9]{2})`

type consoleTemplate struct {
	name  string
	re    *regexp.Regexp
	build func(m []string) (types.Event, string)
}

var consoleTemplates = []consoleTemplate{
	{
		name: "start",
		re:   regexp.MustCompile(`^` + consoleTS + ` @start ([^ ]+)$`),
		build: func(m []string) (types.Event, string) {
			return types.Event{Kind: types.EventServerStart, Version: m[2]}, ""
		},
	},
	{
		name: "stop",
		re:   regexp.MustCompile(`^` + consoleTS + ` @stop$`),
		build: func(m []string) (types.Event, string) {
			return types.Event{Kind: types.EventServerStop}, ""
		},
	},
	{
		name: "restart",
		re:   regexp.MustCompile(`^` + consoleTS + ` @restart$`),
		build: func(m []string) (types.Event, string) {
			return types.Event{Kind: types.EventServerRestart}, ""
		},
	},
	{
		name: "join",
		re:   regexp.MustCompile(`^` + consoleTS + ` ([a-z0-9]+|\?) joined ([A-Za-z0-9_]{1,16})$`),
		build: func(m []string) (types.Event, string) {
			if m[2] == "?" {
				// The log writer could not attribute the join; there
				// is no identifier to aggregate under.
				return types.Event{}, "anonymous actor"
			}
			return types.Event{Kind: types.EventJoin, Actor: m[2], Nick: m[3]}, ""
		},
	},
	{
		name: "leave",
		re:   regexp.MustCompile(`^` + consoleTS + ` ([a-z0-9]+|\?) left ([A-Za-z0-9_]{1,16})$`),
		build: func(m []string) (types.Event, string) {
			if m[2] == "?" {
				return types.Event{}, "anonymous actor"
			}
			return types.Event{Kind: types.EventLeave, Actor: m[2], Nick: m[3]}, ""
		},
	},
}

// parseConsole matches a console log line against the known templates
func parseConsole(rec types.RawRecord) (types.Event, string) {
	for _, tmpl := range consoleTemplates {
		m := tmpl.re.FindStringSubmatch(rec.Text)
		if m == nil {
			continue
		}

		ts, ok := parseTimestamp(m[1])
		if !ok {
			return types.Event{}, "no timestamp"
		}

		event, reason := tmpl.build(m)
		if reason != "" {
			return types.Event{}, reason
		}
		event.Timestamp = ts
		return event, ""
	}
	return types.Event{}, "unrecognized"
}

var deathRe = regexp.MustCompile(`^` + consoleTS + ` ([^@ ]+) (.*)$`)

// parseDeath matches one line of the deaths log
func parseDeath(rec types.RawRecord) (types.Event, string) {
	m := deathRe.FindStringSubmatch(rec.Text)
	if m == nil {
		return types.Event{}, "unrecognized"
	}

	ts, ok := parseTimestamp(m[1])
	if !ok {
		return types.Event{}, "no timestamp"
	}

	return types.Event{
		Kind:      types.EventDeath,
		Actor:     m[2],
		Cause:     m[3],
		Timestamp: ts,
	}, ""
}
