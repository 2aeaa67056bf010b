// ABOUTME: Pure smart-merge planner for one target category
// ABOUTME: Turns existing targets plus desired candidates into a ChangeSet and counts

package reconcile

import (
	"strconv"
	"strings"

	"github.com/smokingpi/smokeadmin/internal/naming"
	"github.com/smokingpi/smokeadmin/internal/store"
)

// MaxCandidates caps how many desired entries one run considers.
const MaxCandidates = 100

// Candidate is one desired site.
type Candidate struct {
	Host   string
	Name   string // optional; defaults to naming.Key(Host)
	Title  string // optional; defaults to Host
	Probe  string // optional; defaults to the category probe
	Lookup string
	Meta   *store.TargetMeta
}

// Key returns the candidate's comparison key.
func (c Candidate) Key() string {
	return naming.Key(c.Host)
}

// FromDomains wraps plain domain strings as candidates.
func FromDomains(domains []string) []Candidate {
	out := make([]Candidate, 0, len(domains))
	for _, d := range domains {
		out = append(out, Candidate{Host: naming.Host(d)})
	}
	return out
}

// Plan is the outcome of Compute.
type Plan struct {
	Category    string
	Changes     store.ChangeSet
	Preserved   int
	Created     int
	Reactivated int
	Retained    int
	Deactivated int
	Ignored     int
	Total       int
}

// Compute plans the convergence of category towards desired. existing must
// hold every target in the store so new names can be checked store-wide.
// probe is used for created targets whose candidate names none.
func Compute(category string, existing []store.Target, desired []Candidate, probe string) (Plan, error) {
	plan := Plan{Category: category}

	if len(desired) > MaxCandidates {
		plan.Ignored = len(desired) - MaxCandidates
		desired = desired[:MaxCandidates]
	}

	var pool []store.Target
	// names maps every stored target name to its category
	names := make(map[string]string, len(existing))
	for _, t := range existing {
		names[t.Name] = t.Category
		if t.Category == category {
			pool = append(pool, t)
		}
	}

	claimed := make([]bool, len(pool))
	seen := make(map[string]bool, len(desired))

	for _, c := range desired {
		key := c.Key()
		if key == "" || seen[key] {
			plan.Ignored++
			continue
		}
		seen[key] = true

		if i := match(pool, claimed, c, key); i >= 0 {
			claimed[i] = true
			t := pool[i]
			switch {
			case !t.Active:
				plan.Changes.Activate = append(plan.Changes.Activate, t.ID)
				plan.Reactivated++
			case t.IsManual():
				// satisfied by an operator target; counted as preserved below
			default:
				plan.Reactivated++
				plan.Retained++
			}
			continue
		}

		data := newTarget(category, c, key, probe)
		if owner, taken := names[data.Name]; taken {
			if owner != category {
				return Plan{}, &store.ValidationError{
					Field:  "name",
					Record: data.Name,
					Reason: "a target with this name already exists in category " + owner,
				}
			}
			// Same category but a different host: the stored record is
			// left to the deactivation pass and the new one gets a suffix.
			data.Name = uniqueName(data.Name, names)
		}
		names[data.Name] = category
		plan.Changes.Create = append(plan.Changes.Create, data)
		plan.Created++
	}

	for i, t := range pool {
		if !t.Active {
			continue
		}
		if t.IsManual() {
			plan.Preserved++
			continue
		}
		if !claimed[i] {
			plan.Changes.Deactivate = append(plan.Changes.Deactivate, t.ID)
			plan.Deactivated++
		}
	}

	plan.Total = plan.Preserved + plan.Created + plan.Reactivated
	return plan, nil
}

// match finds the first unclaimed target for c, trying exact host, then
// name against key, then normalized host against key.
func match(pool []store.Target, claimed []bool, c Candidate, key string) int {
	host := strings.TrimSpace(c.Host)
	passes := []func(store.Target) bool{
		func(t store.Target) bool { return t.Host == host },
		func(t store.Target) bool { return t.Name == key },
		func(t store.Target) bool { return naming.Key(t.Host) == key },
	}
	for _, pass := range passes {
		for i, t := range pool {
			if !claimed[i] && pass(t) {
				return i
			}
		}
	}
	return -1
}

// uniqueName returns base with the lowest numeric suffix not in taken,
// trimmed to fit the name length limit.
func uniqueName(base string, taken map[string]string) string {
	for n := 2; ; n++ {
		suffix := "_" + strconv.Itoa(n)
		name := base
		if len(name)+len(suffix) > naming.MaxNameLength {
			name = name[:naming.MaxNameLength-len(suffix)]
		}
		if _, ok := taken[name+suffix]; !ok {
			return name + suffix
		}
	}
}

func newTarget(category string, c Candidate, key, probe string) store.TargetData {
	name := c.Name
	if name == "" {
		name = key
	}
	title := c.Title
	if title == "" {
		title = c.Host
	}
	p := c.Probe
	if p == "" {
		p = probe
	}
	return store.TargetData{
		Name:     name,
		Host:     c.Host,
		Title:    title,
		Category: category,
		Probe:    p,
		Lookup:   c.Lookup,
		Active:   true,
		Origin:   store.OriginDiscovered,
		Meta:     c.Meta,
	}
}
