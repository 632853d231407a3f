// Package people loads the people file and resolves raw actor
// identifiers to canonical person records.
package people

import (
	"fmt"
	"os"
	"sort"

	"github.com/goccy/go-json"

	"github.com/wurstmineberg/api/pkg/types"
)

// privateFields are stripped from person records before they ever leave
// the registry.
var privateFields = map[string]bool{
	"gravatar": true,
}

// Registry is one immutable snapshot of the people file. Resolution
// within one aggregation pass always uses a single Registry, so old and
// new aliases never mix mid-pass.
type Registry struct {
	people  map[string]types.Person
	aliases map[string]string // alias -> canonical id
	order   []string          // canonical ids, sorted
}

// Empty returns a registry with no people. Every actor resolves to the
// unknown bucket, which keeps the pipeline functional when the people
// file is absent.
func Empty() *Registry {
	return &Registry{
		people:  make(map[string]types.Person),
		aliases: make(map[string]string),
	}
}

// Load reads and parses the people file at path
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read people file: %w", err)
	}
	return Parse(data)
}

// Parse builds a registry from raw people-file JSON. Both known layouts
// are accepted: a bare array of person objects (version 2) and an object
// with a "people" map keyed by canonical id (version 3).
func Parse(data []byte) (*Registry, error) {
	reg := Empty()

	var v3 struct {
		Version int                       `json:"version"`
		People  map[string]map[string]any `json:"people"`
	}
	if err := json.Unmarshal(data, &v3); err == nil && len(v3.People) > 0 {
		for id, raw := range v3.People {
			reg.add(buildPerson(id, raw))
		}
		reg.index()
		return reg, nil
	}

	var v2 []map[string]any
	if err := json.Unmarshal(data, &v2); err != nil {
		return nil, fmt.Errorf("failed to parse people file: %w", err)
	}
	for _, raw := range v2 {
		id, _ := raw["id"].(string)
		if id == "" {
			continue
		}
		reg.add(buildPerson(id, raw))
	}
	reg.index()
	return reg, nil
}

func buildPerson(id string, raw map[string]any) types.Person {
	p := types.Person{ID: id}
	p.Name, _ = raw["name"].(string)
	p.Minecraft, _ = raw["minecraft"].(string)
	p.MinecraftUUID, _ = raw["minecraftUUID"].(string)
	if nicks, ok := raw["nicks"].([]any); ok {
		for _, n := range nicks {
			if s, ok := n.(string); ok {
				p.Nicks = append(p.Nicks, s)
			}
		}
	}

	p.Raw = make(map[string]any, len(raw))
	for k, v := range raw {
		if privateFields[k] {
			continue
		}
		p.Raw[k] = v
	}
	p.Raw["id"] = id
	return p
}

func (r *Registry) add(p types.Person) {
	r.people[p.ID] = p
}

// index rebuilds the alias table. Ids are walked in sorted order so that
// when two persons claim the same alias within one snapshot, the winner
// is deterministic (first in id order).
func (r *Registry) index() {
	r.order = r.order[:0]
	for id := range r.people {
		r.order = append(r.order, id)
	}
	sort.Strings(r.order)

	r.aliases = make(map[string]string)
	for _, id := range r.order {
		for _, alias := range r.people[id].Aliases() {
			if _, taken := r.aliases[alias]; !taken {
				r.aliases[alias] = id
			}
		}
	}
}

// Resolve maps a raw actor identifier to a person by exact alias match.
// The boolean is false for unknown actors.
func (r *Registry) Resolve(actor string) (types.Person, bool) {
	id, ok := r.aliases[actor]
	if !ok {
		return types.Person{}, false
	}
	return r.people[id], true
}

// ResolveID returns the canonical id for an actor, or the synthetic
// unknown bucket when no alias matches.
func (r *Registry) ResolveID(actor string) string {
	if id, ok := r.aliases[actor]; ok {
		return id
	}
	return types.UnknownPerson
}

// Person returns the person with the given canonical id
func (r *Registry) Person(id string) (types.Person, bool) {
	p, ok := r.people[id]
	return p, ok
}

// People returns all person records in id order
func (r *Registry) People() []types.Person {
	out := make([]types.Person, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.people[id])
	}
	return out
}

// Len returns the number of known people
func (r *Registry) Len() int { return len(r.people) }
