package core

import (
	"sort"

	"ovndbsync/pkg/ovsdb"
)

// Tier orders entity kinds by dependency: parents are tier 0, rows referenced
// from a parent's set column are tier 1.
func Tier(kind EntityKind) int {
	switch kind {
	case KindPort, KindFloatingIP:
		return 1
	}
	return 0
}

// Change is one entry of a reconciliation diff.
// RowUUID is set for updates and deletes of an existing row.
type Change struct {
	Ref     EntityRef
	Action  Action
	Table   string
	RowUUID ovsdb.UUID
}

// Plan is the dependency ordered list of changes of one run.
type Plan struct {
	Steps []Change
}

// Counts returns the number of creates, updates and deletes in the plan.
func (p Plan) Counts() (creates, updates, deletes int) {
	for _, step := range p.Steps {
		switch step.Action {
		case ActionCreate:
			creates++
		case ActionUpdate:
			updates++
		case ActionDelete:
			deletes++
		}
	}
	return creates, updates, deletes
}

// PlanChanges orders a diff so that every write has its references
// satisfied: creates parent-first, then updates parent-first, then deletes
// child-first. Within a tier, changes are ordered by kind then id.
func PlanChanges(creates, updates, deletes []Change) Plan {
	steps := make([]Change, 0, len(creates)+len(updates)+len(deletes))
	steps = append(steps, orderByTier(creates, false)...)
	steps = append(steps, orderByTier(updates, false)...)
	steps = append(steps, orderByTier(deletes, true)...)
	return Plan{Steps: steps}
}

func orderByTier(changes []Change, childrenFirst bool) []Change {
	ordered := append([]Change(nil), changes...)
	sort.SliceStable(ordered, func(i, j int) bool {
		ti, tj := Tier(ordered[i].Ref.Kind), Tier(ordered[j].Ref.Kind)
		if ti != tj {
			if childrenFirst {
				return ti > tj
			}
			return ti < tj
		}
		if ordered[i].Ref.Kind != ordered[j].Ref.Kind {
			return ordered[i].Ref.Kind < ordered[j].Ref.Kind
		}
		if ordered[i].Ref.ID != ordered[j].Ref.ID {
			return ordered[i].Ref.ID < ordered[j].Ref.ID
		}
		return ordered[i].RowUUID < ordered[j].RowUUID
	})
	return ordered
}
