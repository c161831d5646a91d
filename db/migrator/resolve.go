package migrator

import (
	"container/heap"
	"slices"
)

// Plan is the ordered sequence of migrations needed to reach a set of
// targets. Every migration appears exactly once, after all of its
// dependencies.
type Plan struct {
	// Targets are the requested migrations. It's empty when the whole catalog
	// was requested.
	Targets    []string
	Migrations []*Migration
}

// IDs returns the identifiers of the planned migrations, in order.
func (p *Plan) IDs() []string {
	ids := make([]string, len(p.Migrations))
	for i, m := range p.Migrations {
		ids[i] = m.ID
	}
	return ids
}

// Resolve computes the plan for the given targets, which is the union of
// their dependency closures sorted topologically. If no targets are given,
// the plan covers the whole catalog. Migrations that don't depend on each
// other are ordered by catalog order, so the same request against the same
// catalog always produces the same plan.
func Resolve(c *Catalog, targets ...string) (*Plan, error) {
	var roots []*Migration
	if len(targets) == 0 {
		roots = c.migrations
	} else {
		for _, id := range targets {
			m, ok := c.byID[id]
			if !ok {
				return nil, UnknownMigrationError{ID: id}
			}
			roots = append(roots, m)
		}
	}

	closure, err := c.closure(roots)
	if err != nil {
		return nil, err
	}

	sorted, err := c.sort(closure)
	if err != nil {
		return nil, err
	}

	return &Plan{Targets: slices.Clone(targets), Migrations: sorted}, nil
}

// closure returns the set of migrations reachable from roots over the
// depends_on relation, roots included.
func (c *Catalog) closure(roots []*Migration) (map[string]*Migration, error) {
	visited := make(map[string]*Migration, len(roots))
	stack := slices.Clone(roots)

	for len(stack) > 0 {
		m := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if _, ok := visited[m.ID]; ok {
			continue
		}
		visited[m.ID] = m

		for _, depID := range m.DependsOn {
			dep, ok := c.byID[depID]
			if !ok {
				return nil, UnresolvedDependencyError{Migration: m.ID, Dependency: depID}
			}
			if _, ok := visited[depID]; !ok {
				stack = append(stack, dep)
			}
		}
	}

	return visited, nil
}

// sort orders the given set of migrations with Kahn's algorithm. Ready
// migrations are picked lowest catalog index first.
func (c *Catalog) sort(set map[string]*Migration) ([]*Migration, error) {
	var (
		remaining  = make(map[string]int, len(set))
		dependents = make(map[string][]*Migration, len(set))
		ready      = &indexHeap{}
	)

	for _, m := range set {
		remaining[m.ID] = len(m.DependsOn)
		for _, depID := range m.DependsOn {
			dependents[depID] = append(dependents[depID], m)
		}
		if len(m.DependsOn) == 0 {
			heap.Push(ready, c.order[m.ID])
		}
	}

	sorted := make([]*Migration, 0, len(set))
	for ready.Len() > 0 {
		m := c.migrations[heap.Pop(ready).(int)]
		sorted = append(sorted, m)
		for _, d := range dependents[m.ID] {
			remaining[d.ID]--
			if remaining[d.ID] == 0 {
				heap.Push(ready, c.order[d.ID])
			}
		}
	}

	if len(sorted) < len(set) {
		var stuck []*Migration
		for id, n := range remaining {
			if n > 0 {
				stuck = append(stuck, set[id])
			}
		}
		return nil, CycleError{Cycle: c.findCycle(stuck)}
	}

	return sorted, nil
}

type visitState uint8

const (
	unvisited visitState = iota
	inProgress
	resolved
)

// findCycle walks the dependencies of the given migrations, which are known
// to include at least one cycle, and returns the first cycle it finds as a
// path that starts and ends with the same migration.
func (c *Catalog) findCycle(stuck []*Migration) []string {
	slices.SortFunc(stuck, func(a, b *Migration) int { return c.order[a.ID] - c.order[b.ID] })

	type frame struct {
		m    *Migration
		next int // index of the next dependency to visit
	}

	state := make(map[string]visitState)
	for _, start := range stuck {
		if state[start.ID] != unvisited {
			continue
		}

		path := []frame{{m: start}}
		state[start.ID] = inProgress
		for len(path) > 0 {
			top := &path[len(path)-1]
			if top.next == len(top.m.DependsOn) {
				state[top.m.ID] = resolved
				path = path[:len(path)-1]
				continue
			}

			dep := c.byID[top.m.DependsOn[top.next]]
			top.next++

			switch state[dep.ID] {
			case inProgress:
				var cycle []string
				for i := len(path) - 1; i >= 0; i-- {
					cycle = append(cycle, path[i].m.ID)
					if path[i].m.ID == dep.ID {
						break
					}
				}
				// cycle is collected walking back from the dependent, so
				// reverse it to read in dependency direction.
				slices.Reverse(cycle)
				return append(cycle, dep.ID)
			case unvisited:
				state[dep.ID] = inProgress
				path = append(path, frame{m: dep})
			}
		}
	}

	// Unreachable for a set that failed to sort, but keep the error useful.
	ids := make([]string, len(stuck))
	for i, m := range stuck {
		ids[i] = m.ID
	}
	return ids
}

// indexHeap is a min-heap of catalog positions.
type indexHeap []int

func (h indexHeap) Len() int           { return len(h) }
func (h indexHeap) Less(i, j int) bool { return h[i] < h[j] }
func (h indexHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }

func (h *indexHeap) Push(x any) { *h = append(*h, x.(int)) }

func (h *indexHeap) Pop() any {
	old := *h
	n := len(old)
	m := old[n-1]
	*h = old[:n-1]
	return m
}

// AppliedSet maps migration IDs to their ledger entry for one target
// database.
type AppliedSet map[string]LedgerEntry

// Has returns true if the migration with the given ID is recorded as applied.
func (s AppliedSet) Has(id string) bool {
	_, ok := s[id]
	return ok
}

// Pending returns the migrations of the plan that aren't in applied,
// preserving plan order. If ignoreApplied is true, the full plan is returned.
func Pending(plan *Plan, applied AppliedSet, ignoreApplied bool) []*Migration {
	if ignoreApplied {
		return slices.Clone(plan.Migrations)
	}

	pending := make([]*Migration, 0, len(plan.Migrations))
	for _, m := range plan.Migrations {
		if !applied.Has(m.ID) {
			pending = append(pending, m)
		}
	}

	return pending
}
