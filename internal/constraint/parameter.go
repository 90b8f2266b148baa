package constraint

import (
	"math"
	"sort"
)

// Parameter is a placeholder for the literal a predicate compares against.
// Data is only meaningful once Assigned is true.
type Parameter struct {
	ID               int
	Data             int64
	Assigned         bool
	IsEqualPredicate bool
	CanMerge         bool
	// Scale is the number of fractional digits encoded in Data. Single-column
	// parameters use the column's own encoding and keep zero.
	Scale int32
}

// SetData assigns the literal.
func (p *Parameter) SetData(v int64) {
	p.Data = v
	p.Assigned = true
}

// Float returns Data as a real number.
func (p *Parameter) Float() float64 {
	if p.Scale <= 0 {
		return float64(p.Data)
	}
	return float64(p.Data) / math.Pow10(int(p.Scale))
}

// IDs returns the ids of params.
func IDs(params []*Parameter) []int {
	out := make([]int, 0, len(params))
	for _, p := range params {
		out = append(out, p.ID)
	}
	return out
}

// Groups partitions parameter ids into identity groups: slots known to need
// the same literal. Join records merge groups across tables.
type Groups struct {
	parent map[int]int
}

// NewGroups returns an empty group set.
func NewGroups() *Groups {
	return &Groups{parent: make(map[int]int)}
}

// Union places all ids in one group.
func (g *Groups) Union(ids ...int) {
	if len(ids) == 0 {
		return
	}
	root := g.root(ids[0])
	for _, id := range ids[1:] {
		other := g.root(id)
		if other == root {
			continue
		}
		// Keep the smallest id as the representative so group keys are stable.
		if other < root {
			g.parent[root] = other
			root = other
		} else {
			g.parent[other] = root
		}
	}
}

// Find returns the representative of id's group; ok is false when id was never
// grouped. Find and Members do not mutate g and are safe for concurrent
// readers; Union is a writer.
func (g *Groups) Find(id int) (int, bool) {
	parent, ok := g.parent[id]
	if !ok {
		return 0, false
	}
	for parent != id {
		id = parent
		parent = g.parent[id]
	}
	return id, true
}

// Members returns the groups as sorted id lists keyed by representative. Like
// Find it only reads g.
func (g *Groups) Members() map[int][]int {
	out := make(map[int][]int)
	for id := range g.parent {
		root, _ := g.Find(id)
		out[root] = append(out[root], id)
	}
	for _, ids := range out {
		sort.Ints(ids)
	}
	return out
}

func (g *Groups) root(id int) int {
	parent, ok := g.parent[id]
	if !ok {
		g.parent[id] = id
		return id
	}
	if parent == id {
		return id
	}
	r := g.root(parent)
	g.parent[id] = r
	return r
}
