package matcher

import (
	"sort"

	"bill-reconciliation-service/internal/models"
)

// Candidate is a (bill, operation, role) triple that passed every hard
// constraint, with its distance.
type Candidate struct {
	BillID      string      `json:"bill_id"`
	OperationID string      `json:"operation_id"`
	Role        models.Role `json:"role"`
	Distance    float64     `json:"distance"`
}

// Less orders candidates by distance, then bill, operation and role identifiers
func (c Candidate) Less(other Candidate) bool {
	if c.Distance != other.Distance {
		return c.Distance < other.Distance
	}
	if c.BillID != other.BillID {
		return c.BillID < other.BillID
	}
	if c.OperationID != other.OperationID {
		return c.OperationID < other.OperationID
	}
	return roleRank(c.Role) < roleRank(other.Role)
}

func roleRank(r models.Role) int {
	if r == models.RoleDebit {
		return 0
	}
	return 1
}

// Conflict records a candidate that lost its operation or bill slot to an
// earlier commit.
type Conflict struct {
	Candidate Candidate `json:"candidate"`
	// HeldBy is the bill already holding the operation, empty when the bill
	// role slot was the one taken
	HeldBy string `json:"held_by,omitempty"`
}

// Assignment is the output of a resolver
type Assignment struct {
	Committed []Candidate `json:"committed"`
	Conflicts []Conflict  `json:"conflicts,omitempty"`
}

// Resolver turns scored candidates into a one-to-one assignment
type Resolver interface {
	Resolve(candidates []Candidate) Assignment
}

// GreedyResolver commits candidates in ascending order, skipping any whose
// bill role or operation is already taken.
type GreedyResolver struct{}

// NewGreedyResolver creates the default resolver
func NewGreedyResolver() *GreedyResolver {
	return &GreedyResolver{}
}

// Resolve implements Resolver. The input slice is not modified.
func (GreedyResolver) Resolve(candidates []Candidate) Assignment {
	sorted := GreedyResolver{}.sortCandidates(candidates)

	type slot struct {
		bill string
		role models.Role
	}
	filled := make(map[slot]bool)
	usedOps := make(map[string]string)

	var assignment Assignment
	for _, c := range sorted {
		if filled[slot{c.BillID, c.Role}] {
			assignment.Conflicts = append(assignment.Conflicts, Conflict{Candidate: c})
			continue
		}
		if holder, taken := usedOps[c.OperationID]; taken {
			assignment.Conflicts = append(assignment.Conflicts, Conflict{Candidate: c, HeldBy: holder})
			continue
		}
		filled[slot{c.BillID, c.Role}] = true
		usedOps[c.OperationID] = c.BillID
		assignment.Committed = append(assignment.Committed, c)
	}

	return assignment
}

// sortCandidates returns a sorted copy of candidates
func (GreedyResolver) sortCandidates(candidates []Candidate) []Candidate {
	sorted := make([]Candidate, len(candidates))
	copy(sorted, candidates)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Less(sorted[j])
	})
	return sorted
}
