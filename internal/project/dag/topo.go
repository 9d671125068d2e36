package dag

import (
	"fmt"
	"slices"

	"fortio.org/safecast"
)

type Topo struct {
	Order   []ProjectID   // prerequisites first
	Batches [][]ProjectID // waves of independent projects
	Cyclic  bool
	Cycles  []ProjectID // projects left in a cycle, sorted
}

func toID(i int) ProjectID {
	id, err := safecast.Conv[ProjectID](i)
	if err != nil {
		panic(fmt.Errorf("project id overflow: %w", err))
	}
	return id
}

// ToposortKahn orders present projects. Projects caught in a cycle are
// not in Order; they are listed in Cycles.
func ToposortKahn(g Graph) *Topo {
	n := len(g.Edges)
	indeg := slices.Clone(g.Indeg)
	topo := &Topo{Order: make([]ProjectID, 0, n)}

	active := 0
	var current []ProjectID
	for i := range n {
		if !g.Present[i] {
			continue
		}
		active++
		if indeg[i] == 0 {
			current = append(current, toID(i))
		}
	}

	for len(current) > 0 {
		batch := slices.Clone(current)
		topo.Batches = append(topo.Batches, batch)
		var next []ProjectID
		for _, id := range batch {
			topo.Order = append(topo.Order, id)
			for _, to := range g.Edges[id] {
				indeg[to]--
				if indeg[to] == 0 {
					next = append(next, to)
				}
			}
		}
		slices.Sort(next)
		current = next
	}

	if len(topo.Order) != active {
		topo.Cyclic = true
		for i := range n {
			if g.Present[i] && indeg[i] > 0 {
				topo.Cycles = append(topo.Cycles, toID(i))
			}
		}
	}
	return topo
}
