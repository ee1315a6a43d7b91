package allocation

import (
	"sort"
	"strings"

	"nomination-workers/internal/models"
)

// Cycle outcomes.
const (
	OutcomeVacated = "vacated" // members released their accepted seats
	OutcomeKept    = "kept"    // members dropped their waiting applications
)

// ResolvedCycle describes one cycle found in the conflict graph.
type ResolvedCycle struct {
	Members     []string `json:"members"`
	Outcome     string   `json:"outcome"`
	RowsRemoved int      `json:"rowsRemoved"`
}

// CycleReport summarizes one pass of ResolveCycles.
type CycleReport struct {
	Conflicted        []string        `json:"conflicted"`
	Cycles            []ResolvedCycle `json:"cycles"`
	CycleRowsRemoved  int             `json:"cycleRowsRemoved"`
	OrphanRowsRemoved int             `json:"orphanRowsRemoved"`
}

// RowsRemoved is the total number of working rows deleted in the pass.
func (r CycleReport) RowsRemoved() int {
	return r.CycleRowsRemoved + r.OrphanRowsRemoved
}

// conflictGraph links a student waiting (NE) at an institute to every other
// conflicted student holding an accepted (ANO) seat there.
type conflictGraph struct {
	nodes []string
	edges map[string][]string
}

// conflictIndex holds the per-student and per-institute views step 6 needs.
type conflictIndex struct {
	working    []models.ApplicationRecord
	byStudent  map[string][]int
	students   []string
	conflicted []string
	isConflict map[string]bool
}

func buildConflictIndex(working []models.ApplicationRecord) *conflictIndex {
	idx := &conflictIndex{
		working:    working,
		byStudent:  make(map[string][]int),
		isConflict: make(map[string]bool),
	}
	for i, rec := range working {
		if rec.StudentID == "" {
			continue
		}
		if _, ok := idx.byStudent[rec.StudentID]; !ok {
			idx.students = append(idx.students, rec.StudentID)
		}
		idx.byStudent[rec.StudentID] = append(idx.byStudent[rec.StudentID], i)
	}
	for _, student := range idx.students {
		hasAccepted, hasRejected := false, false
		for _, i := range idx.byStudent[student] {
			switch working[i].Nomination {
			case models.NominationAccepted:
				hasAccepted = true
			case models.NominationRejected:
				hasRejected = true
			}
		}
		if hasAccepted && hasRejected {
			idx.conflicted = append(idx.conflicted, student)
			idx.isConflict[student] = true
		}
	}
	return idx
}

// acceptedHolders lists the students with an ANO record at institute, in row
// order, skipping exclude.
func (idx *conflictIndex) acceptedHolders(institute, exclude string) []string {
	var holders []string
	seen := make(map[string]bool)
	for _, rec := range idx.working {
		if rec.InstituteCode != institute || rec.Nomination != models.NominationAccepted {
			continue
		}
		if rec.StudentID == "" || rec.StudentID == exclude || seen[rec.StudentID] {
			continue
		}
		seen[rec.StudentID] = true
		holders = append(holders, rec.StudentID)
	}
	return holders
}

func (idx *conflictIndex) graph() *conflictGraph {
	g := &conflictGraph{nodes: idx.conflicted, edges: make(map[string][]string)}
	for _, u := range idx.conflicted {
		seen := make(map[string]bool)
		for _, i := range idx.byStudent[u] {
			rec := idx.working[i]
			if rec.Nomination != models.NominationRejected || rec.InstituteCode == "" {
				continue
			}
			for _, v := range idx.acceptedHolders(rec.InstituteCode, u) {
				if !idx.isConflict[v] || seen[v] {
					continue
				}
				seen[v] = true
				g.edges[u] = append(g.edges[u], v)
			}
		}
	}
	return g
}

type dfsFrame struct {
	node string
	next int
}

// findCycleFrom walks depth-first from start with a fresh visited set and
// returns the first cycle closed on the current path, or nil.
func (g *conflictGraph) findCycleFrom(start string) []string {
	visited := map[string]bool{start: true}
	onPath := map[string]int{start: 0}
	path := []string{start}
	stack := []dfsFrame{{node: start}}

	for len(stack) > 0 {
		top := &stack[len(stack)-1]
		succ := g.edges[top.node]
		if top.next >= len(succ) {
			delete(onPath, top.node)
			path = path[:len(path)-1]
			stack = stack[:len(stack)-1]
			continue
		}
		next := succ[top.next]
		top.next++

		if at, ok := onPath[next]; ok {
			cycle := make([]string, len(path)-at)
			copy(cycle, path[at:])
			return cycle
		}
		if visited[next] {
			continue
		}
		visited[next] = true
		onPath[next] = len(path)
		path = append(path, next)
		stack = append(stack, dfsFrame{node: next})
	}
	return nil
}

// findCycles returns the cycles of the conflict graph. Students already
// claimed by a cycle are not used as starting points, though later walks may
// pass through them. A walk that closes a cycle with the same members as an
// earlier one is not reported twice.
func (g *conflictGraph) findCycles() [][]string {
	var cycles [][]string
	claimed := make(map[string]bool)
	reported := make(map[string]bool)
	for _, start := range g.nodes {
		if claimed[start] {
			continue
		}
		cycle := g.findCycleFrom(start)
		if len(cycle) < 2 {
			continue
		}
		for _, member := range cycle {
			claimed[member] = true
		}
		key := memberKey(cycle)
		if reported[key] {
			continue
		}
		reported[key] = true
		cycles = append(cycles, cycle)
	}
	return cycles
}

func memberKey(members []string) string {
	sorted := append([]string(nil), members...)
	sort.Strings(sorted)
	return strings.Join(sorted, "\x00")
}

// wouldAllBeNominated checks whether every member could take the seat of
// their best remaining application once the members' accepted records are
// gone. Only the first remaining record by priority is examined.
func (idx *conflictIndex) wouldAllBeNominated(members []string, quotas Quotas) bool {
	inCycle := make(map[string]bool, len(members))
	for _, m := range members {
		inCycle[m] = true
	}

	hypothetical := make([]models.ApplicationRecord, 0, len(idx.working))
	for _, rec := range idx.working {
		if inCycle[rec.StudentID] && rec.Nomination == models.NominationAccepted {
			continue
		}
		hypothetical = append(hypothetical, rec)
	}

	for _, member := range members {
		var remaining []models.ApplicationRecord
		for _, rec := range hypothetical {
			if rec.StudentID == member {
				remaining = append(remaining, rec)
			}
		}
		if len(remaining) == 0 {
			continue
		}
		sort.SliceStable(remaining, func(i, j int) bool {
			return remaining[i].Priority < remaining[j].Priority
		})
		first := remaining[0]

		better := 0
		for _, rec := range hypothetical {
			if rec.InstituteCode == first.InstituteCode && rec.Rank < first.Rank {
				better++
			}
		}
		if better >= quotas.Of(first.InstituteCode) {
			return false
		}
	}
	return true
}

// ResolveCycles runs conflict resolution on the working set. Cycle members
// either release their accepted seats (when all of them would get their best
// waiting seat) or drop their waiting applications. Waiting applications of
// conflicted students outside any cycle are dropped when no current holder of
// that seat has another application. The returned slice keeps the original
// order; a report with zero removed rows means the workflow has converged.
func ResolveCycles(working []models.ApplicationRecord, quotas Quotas) ([]models.ApplicationRecord, CycleReport) {
	normalized := make([]models.ApplicationRecord, len(working))
	for i, rec := range working {
		rec.NormalizeFlag()
		normalized[i] = rec
	}

	idx := buildConflictIndex(normalized)
	report := CycleReport{Conflicted: append([]string(nil), idx.conflicted...)}
	remove := make(map[int]bool)

	inAnyCycle := make(map[string]bool)
	for _, members := range idx.graph().findCycles() {
		outcome, drop := OutcomeKept, models.NominationRejected
		if idx.wouldAllBeNominated(members, quotas) {
			outcome, drop = OutcomeVacated, models.NominationAccepted
		}

		removed := 0
		for _, member := range members {
			inAnyCycle[member] = true
			for _, i := range idx.byStudent[member] {
				if normalized[i].Nomination == drop && !remove[i] {
					remove[i] = true
					removed++
				}
			}
		}
		report.Cycles = append(report.Cycles, ResolvedCycle{
			Members:     members,
			Outcome:     outcome,
			RowsRemoved: removed,
		})
		report.CycleRowsRemoved += removed
	}

	for _, student := range idx.conflicted {
		if inAnyCycle[student] {
			continue
		}
		for _, i := range idx.byStudent[student] {
			rec := normalized[i]
			if rec.Nomination != models.NominationRejected || remove[i] {
				continue
			}
			occupantHasAlternative := false
			for _, holder := range idx.acceptedHolders(rec.InstituteCode, student) {
				if len(idx.byStudent[holder]) > 1 {
					occupantHasAlternative = true
					break
				}
			}
			if !occupantHasAlternative {
				remove[i] = true
				report.OrphanRowsRemoved++
			}
		}
	}

	if len(remove) == 0 {
		return normalized, report
	}
	out := make([]models.ApplicationRecord, 0, len(normalized)-len(remove))
	for i, rec := range normalized {
		if !remove[i] {
			out = append(out, rec)
		}
	}
	return out, report
}
