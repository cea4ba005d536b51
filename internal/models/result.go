package models

import "sort"

// BillMatch holds the operations committed to one bill. An empty field means
// no operation was found for that role.
type BillMatch struct {
	DebitOperation  string `json:"debitOperation,omitempty"`
	CreditOperation string `json:"creditOperation,omitempty"`
}

// Get returns the operation committed to role
func (bm BillMatch) Get(role Role) string {
	if role == RoleDebit {
		return bm.DebitOperation
	}
	return bm.CreditOperation
}

// Set returns a copy with role assigned to operationID
func (bm BillMatch) Set(role Role, operationID string) BillMatch {
	if role == RoleDebit {
		bm.DebitOperation = operationID
	} else {
		bm.CreditOperation = operationID
	}
	return bm
}

// IsEmpty reports whether neither role was matched
func (bm BillMatch) IsEmpty() bool {
	return bm.DebitOperation == "" && bm.CreditOperation == ""
}

// MatchResult maps bill identifiers to their committed operations
type MatchResult map[string]BillMatch

// BillIDs returns the bill identifiers in ascending order
func (mr MatchResult) BillIDs() []string {
	ids := make([]string, 0, len(mr))
	for id := range mr {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// UsedOperations maps every committed operation to the bill holding it
func (mr MatchResult) UsedOperations() map[string]string {
	used := make(map[string]string)
	for billID, m := range mr {
		for _, role := range Roles {
			if op := m.Get(role); op != "" {
				used[op] = billID
			}
		}
	}
	return used
}

// Count returns the number of bills with the role matched
func (mr MatchResult) Count(role Role) int {
	n := 0
	for _, m := range mr {
		if m.Get(role) != "" {
			n++
		}
	}
	return n
}
