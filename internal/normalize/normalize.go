package normalize

import (
	"sync"
	"time"

	"github.com/wurstmineberg/api/pkg/types"
)

// timeLayouts are the accepted timestamp representations, tried in order.
// All events are normalized to UTC.
var timeLayouts = []string{
	time.RFC3339,
	time.RFC3339Nano,
	"2006-01-02 15:04:05",
}

// parseTimestamp normalizes a source timestamp to UTC
func parseTimestamp(s string) (time.Time, bool) {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), true
		}
	}
	return time.Time{}, false
}

// maxReasons bounds the number of distinct skip reasons tracked, so a
// hostile or garbled source cannot grow the diagnostic map unboundedly.
const maxReasons = 32

// Diagnostics counts normalization outcomes. Safe for concurrent use.
type Diagnostics struct {
	mu      sync.Mutex
	parsed  int64
	skipped int64
	reasons map[string]int64
}

// NewDiagnostics creates an empty diagnostics counter
func NewDiagnostics() *Diagnostics {
	return &Diagnostics{reasons: make(map[string]int64)}
}

func (d *Diagnostics) ok() {
	d.mu.Lock()
	d.parsed++
	d.mu.Unlock()
}

func (d *Diagnostics) skip(reason string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.skipped++
	if _, seen := d.reasons[reason]; !seen && len(d.reasons) >= maxReasons {
		reason = "other"
	}
	d.reasons[reason]++
}

// Stats returns the parsed/skipped totals
func (d *Diagnostics) Stats() types.ParseStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	return types.ParseStats{Parsed: d.parsed, Skipped: d.skipped}
}

// Reasons returns a copy of the per-reason skip counts
func (d *Diagnostics) Reasons() map[string]int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make(map[string]int64, len(d.reasons))
	for k, v := range d.reasons {
		out[k] = v
	}
	return out
}

// Normalizer turns raw records into canonical events. Records that fail
// every known template are skipped with a recorded reason; the stream
// never aborts on malformed input.
type Normalizer struct {
	diag *Diagnostics
}

// New creates a normalizer reporting into diag
func New(diag *Diagnostics) *Normalizer {
	if diag == nil {
		diag = NewDiagnostics()
	}
	return &Normalizer{diag: diag}
}

// Diagnostics returns the normalizer's diagnostic counters
func (n *Normalizer) Diagnostics() *Diagnostics { return n.diag }

// Normalize parses one raw record. The second return is false when the
// record was skipped.
func (n *Normalizer) Normalize(rec types.RawRecord) (types.Event, bool) {
	var (
		event  types.Event
		reason string
	)

	switch rec.Source {
	case types.SourceJlog:
		event, reason = parseJlog(rec)
	case types.SourceConsole:
		event, reason = parseConsole(rec)
	case types.SourceDeaths:
		event, reason = parseDeath(rec)
	default:
		reason = "unknown source kind"
	}

	if reason != "" {
		n.diag.skip(reason)
		return types.Event{}, false
	}

	event.World = rec.World
	event.Seq = rec.Seq
	n.diag.ok()
	return event, true
}

// NormalizeAll parses a batch, returning the surviving events in input order
func (n *Normalizer) NormalizeAll(records []types.RawRecord) []types.Event {
	events := make([]types.Event, 0, len(records))
	for _, rec := range records {
		if event, ok := n.Normalize(rec); ok {
			events = append(events, event)
		}
	}
	return events
}
