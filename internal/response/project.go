package response

import (
	"sort"
	"time"

	"github.com/wurstmineberg/api/internal/aggregate"
	"github.com/wurstmineberg/api/internal/snapshot"
	"github.com/wurstmineberg/api/internal/world"
	"github.com/wurstmineberg/api/pkg/types"
)

// timeLayout matches the timestamp representation of the console logs,
// which is what the documented endpoint shapes use.
const timeLayout = "2006-01-02 15:04:05"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func buildPeople(snap *snapshot.Snapshot) any {
	people := make(map[string]any)
	for _, p := range snap.People.People() {
		people[p.ID] = p.Raw
	}
	return map[string]any{
		"version": 3,
		"people":  people,
	}
}

func buildPlayerInfo(snap *snapshot.Snapshot, player string) (any, error) {
	if p, ok := snap.People.Person(player); ok {
		return p.Raw, nil
	}
	// Accept any alias, not just the canonical id.
	if p, ok := snap.People.Resolve(player); ok {
		return p.Raw, nil
	}
	return nil, ErrNotFound
}

func buildServerPlayers(snap *snapshot.Snapshot) any {
	seen := make(map[string]bool)
	for _, p := range snap.People.People() {
		seen[p.ID] = true
		if p.MinecraftUUID != "" {
			seen[p.MinecraftUUID] = true
		}
	}
	for _, ws := range snap.State.Worlds {
		for person := range ws.LastSeen {
			// The unknown bucket is an aggregation artifact, not a player.
			if person == types.UnknownPerson {
				continue
			}
			seen[person] = true
		}
	}

	players := make([]string, 0, len(seen))
	for id := range seen {
		players = append(players, id)
	}
	sort.Strings(players)
	return players
}

func buildServerWorlds(snap *snapshot.Snapshot, dir *world.Directory) any {
	summaries := make(map[string]any)

	for _, info := range dir.List() {
		summaries[info.Name] = worldSummary(snap.State.World(info.Name), info)
	}
	// Aggregated worlds without a directory on disk still appear.
	for name, ws := range snap.State.Worlds {
		if _, ok := summaries[name]; !ok {
			summaries[name] = worldSummary(ws, dir.Info(name))
		}
	}
	return summaries
}

func worldSummary(ws *aggregate.WorldState, info world.Info) map[string]any {
	summary := map[string]any{
		"running":  false,
		"version":  nil,
		"online":   0,
		"lastSave": nil,
	}
	if ws != nil {
		summary["running"] = ws.Running
		if ws.Version != "" {
			summary["version"] = ws.Version
		}
		summary["online"] = len(ws.Open)
	}
	if !info.LastSave.IsZero() {
		summary["lastSave"] = formatTime(info.LastSave)
	}
	return summary
}

func buildStatus(ws *aggregate.WorldState) any {
	status := map[string]any{
		"on":      false,
		"version": nil,
		"list":    []string{},
	}
	if ws == nil {
		return status
	}

	online := make([]string, 0, len(ws.Open))
	for person := range ws.Open {
		online = append(online, person)
	}
	sort.Strings(online)

	status["on"] = ws.Running
	status["list"] = online
	if ws.Version != "" {
		status["version"] = ws.Version
	}
	return status
}

func sessionObject(s types.Session) map[string]any {
	obj := map[string]any{
		"person":   s.Person,
		"joinTime": formatTime(s.Start),
	}
	if s.Nick != "" {
		obj["minecraftNick"] = s.Nick
	}
	if s.Open() {
		obj["leaveReason"] = string(types.LeaveCurrentlyOnline)
	} else {
		obj["leaveTime"] = formatTime(s.End)
		obj["leaveReason"] = string(s.Reason)
	}
	return obj
}

func buildLastSeen(ws *aggregate.WorldState) any {
	result := make(map[string]any)
	if ws == nil {
		return result
	}
	for person, session := range ws.LastSeen {
		result[person] = sessionObject(session)
	}
	return result
}

func buildSessionsOverview(ws *aggregate.WorldState, now time.Time) any {
	uptimes := []any{}
	if ws == nil {
		return map[string]any{"uptimes": uptimes}
	}

	for _, up := range ws.Uptimes {
		uptimes = append(uptimes, uptimeObject(up, nil))
	}
	if ws.Current != nil {
		open := make([]string, 0, len(ws.Open))
		for person := range ws.Open {
			open = append(open, person)
		}
		sort.Strings(open)

		var openSessions []types.Session
		for _, person := range open {
			openSessions = append(openSessions, ws.Open[person])
		}
		uptimes = append(uptimes, uptimeObject(*ws.Current, openSessions))
	}
	return map[string]any{"uptimes": uptimes}
}

func uptimeObject(up types.Uptime, openSessions []types.Session) map[string]any {
	sessions := make([]any, 0, len(up.Sessions)+len(openSessions))
	for _, s := range up.Sessions {
		sessions = append(sessions, sessionObject(s))
	}
	for _, s := range openSessions {
		sessions = append(sessions, sessionObject(s))
	}

	obj := map[string]any{
		"startTime": formatTime(up.Start),
		"sessions":  sessions,
	}
	if !up.End.IsZero() {
		obj["endTime"] = formatTime(up.End)
	}
	if up.Version != "" {
		obj["version"] = up.Version
	}
	return obj
}

func deathObject(d types.Death) map[string]any {
	return map[string]any{
		"cause":     d.Cause,
		"timestamp": formatTime(d.Timestamp),
	}
}

func buildDeathsLatest(ws *aggregate.WorldState) any {
	deaths := make(map[string]any)
	result := map[string]any{
		"deaths":     deaths,
		"lastPerson": nil,
	}
	if ws == nil {
		return result
	}

	var (
		lastPerson string
		lastTime   time.Time
	)
	for person, history := range ws.Deaths {
		latest := history[len(history)-1]
		deaths[person] = deathObject(latest)
		if latest.Timestamp.After(lastTime) || (latest.Timestamp.Equal(lastTime) && person < lastPerson) {
			lastPerson, lastTime = person, latest.Timestamp
		}
	}
	if lastPerson != "" {
		result["lastPerson"] = lastPerson
	}
	return result
}

func buildDeathsOverview(ws *aggregate.WorldState) any {
	result := make(map[string]any)
	if ws == nil {
		return result
	}
	for person, history := range ws.Deaths {
		objs := make([]any, 0, len(history))
		for _, d := range history {
			objs = append(objs, deathObject(d))
		}
		result[person] = objs
	}
	return result
}

// buildPlaytime reports per-person totals in seconds. Open sessions count
// against now; their contribution is never persisted as final until the
// session closes.
func buildPlaytime(ws *aggregate.WorldState, now time.Time) any {
	totals := make(map[string]int64)
	if ws == nil {
		return totals
	}
	for person, total := range ws.Playtime {
		totals[person] = int64(total.Seconds())
	}
	for person, session := range ws.Open {
		totals[person] += int64(session.Duration(now).Seconds())
	}
	return totals
}

func buildAchievementScores(ws *aggregate.WorldState) any {
	scores := make(map[string]int)
	if ws == nil {
		return scores
	}
	for person, set := range ws.Achievements {
		scores[person] = len(set)
	}
	return scores
}

// buildAchievementWinners lists everyone who holds every achievement seen
// in the world's history, ordered by when they unlocked their last one.
func buildAchievementWinners(ws *aggregate.WorldState) any {
	winners := []string{}
	if ws == nil {
		return winners
	}

	seen := make(map[string]bool)
	for _, set := range ws.Achievements {
		for a := range set {
			seen[a] = true
		}
	}
	if len(seen) == 0 {
		return winners
	}

	type winner struct {
		person string
		last   time.Time
	}
	var complete []winner
	for person, set := range ws.Achievements {
		if len(set) != len(seen) {
			continue
		}
		var last time.Time
		for _, t := range set {
			if t.After(last) {
				last = t
			}
		}
		complete = append(complete, winner{person, last})
	}

	sort.Slice(complete, func(i, j int) bool {
		if !complete[i].last.Equal(complete[j].last) {
			return complete[i].last.Before(complete[j].last)
		}
		return complete[i].person < complete[j].person
	})
	for _, w := range complete {
		winners = append(winners, w.person)
	}
	return winners
}
