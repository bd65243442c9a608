package plan

import (
	"fmt"
	"slices"

	"github.com/mbd888/gymops/internal/failure"
)

// Relationship constrains how a plan combines with others.
type Relationship struct {
	MutuallyExclusiveWith []ID
	Requires              []ID
}

// Relationships is the fixed combination policy. It is not editable at runtime.
var Relationships = map[ID]Relationship{
	PlanMembership:      {MutuallyExclusiveWith: []ID{PlanMonthlyStandard}},
	PlanMonthlyStandard: {MutuallyExclusiveWith: []ID{PlanMembership}},
	PlanMonthlyPremium:  {Requires: []ID{PlanMembership}},
}

// Rejection codes returned in a Decision.
const (
	ReasonExclusive          = "mutually_exclusive"
	ReasonMembershipRequired = "membership_required"
)

// Decision is the outcome of a selectability check.
type Decision struct {
	Allowed  bool   `json:"allowed"`
	Code     string `json:"code,omitempty"`
	Reason   string `json:"reason,omitempty"`
	Conflict ID     `json:"conflictingPlanId,omitempty"`
}

// Policy evaluates Relationships against a selection.
type Policy struct {
	rel  map[ID]Relationship
	name func(ID) string
}

// NewPolicy returns the fixed policy, naming plans through the catalog.
func NewPolicy(c *Catalog) *Policy {
	name := func(id ID) string { return "plan #" + id.String() }
	if c != nil {
		name = c.Name
	}
	return &Policy{rel: Relationships, name: name}
}

// IsSelectable decides whether candidate may be added to current.
// A candidate already in current is allowed: toggling it means removal.
func (p *Policy) IsSelectable(candidate ID, current []ID) Decision {
	if slices.Contains(current, candidate) {
		return Decision{Allowed: true}
	}

	for _, other := range current {
		if p.excludes(candidate, other) || p.excludes(other, candidate) {
			return Decision{
				Code:     ReasonExclusive,
				Conflict: other,
				Reason: fmt.Sprintf("%s cannot be combined with %s; remove %s first",
					p.name(candidate), p.name(other), p.name(other)),
			}
		}
	}

	for _, req := range p.rel[candidate].Requires {
		if !slices.Contains(current, req) {
			return Decision{
				Code:     ReasonMembershipRequired,
				Conflict: req,
				Reason: fmt.Sprintf("membership required: %s can only be added together with %s",
					p.name(candidate), p.name(req)),
			}
		}
	}

	return Decision{Allowed: true}
}

// CascadeRemovals returns the plans in current that must be dropped when
// removed is deselected, because they depend on it directly or transitively.
func (p *Policy) CascadeRemovals(removed ID, current []ID) []ID {
	gone := []ID{removed}
	var dropped []ID
	for changed := true; changed; {
		changed = false
		for _, id := range current {
			if slices.Contains(gone, id) {
				continue
			}
			for _, req := range p.rel[id].Requires {
				if slices.Contains(gone, req) {
					gone = append(gone, id)
					dropped = append(dropped, id)
					changed = true
					break
				}
			}
		}
	}
	return dropped
}

// Validate checks a complete selection in order, as if each plan had been
// toggled on one after another.
func (p *Policy) Validate(selection []ID) error {
	if len(selection) == 0 {
		return failure.Validation("select at least one plan")
	}
	seen := make([]ID, 0, len(selection))
	for _, id := range selection {
		if slices.Contains(seen, id) {
			return failure.Validation("%s is selected more than once", p.name(id))
		}
		if d := p.IsSelectable(id, seen); !d.Allowed {
			// Order-insensitive for requirements: premium listed before membership is fine.
			if d.Code == ReasonMembershipRequired && p.satisfiedBy(id, selection) {
				seen = append(seen, id)
				continue
			}
			return failure.Validation("%s", d.Reason)
		}
		seen = append(seen, id)
	}
	return nil
}

func (p *Policy) excludes(a, b ID) bool {
	return slices.Contains(p.rel[a].MutuallyExclusiveWith, b)
}

func (p *Policy) satisfiedBy(id ID, selection []ID) bool {
	for _, req := range p.rel[id].Requires {
		if !slices.Contains(selection, req) {
			return false
		}
	}
	return true
}
