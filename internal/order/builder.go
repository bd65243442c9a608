package order

import (
	"fmt"
	"slices"

	"github.com/mbd888/gymops/internal/failure"
	"github.com/mbd888/gymops/internal/plan"
	"github.com/mbd888/gymops/internal/pricing"
	"github.com/shopspring/decimal"
)

// Selection is one requested (plan, quantity) pair.
type Selection struct {
	PlanID   plan.ID `json:"planId" binding:"required"`
	Quantity int     `json:"quantity"`
}

// Builder applies order mutations against a catalog snapshot.
type Builder struct {
	catalog *plan.Catalog
	policy  *plan.Policy
	calc    *pricing.Calculator
}

// NewBuilder creates a builder over catalog using the fixed plan policy.
func NewBuilder(catalog *plan.Catalog) *Builder {
	return &Builder{
		catalog: catalog,
		policy:  plan.NewPolicy(catalog),
		calc:    pricing.NewCalculator(),
	}
}

// Catalog returns the snapshot the builder prices against.
func (b *Builder) Catalog() *plan.Catalog { return b.catalog }

// New returns an empty draft for memberID.
func (b *Builder) New(memberID string, discount pricing.DiscountType) Order {
	return b.reprice(Order{
		MemberID:     memberID,
		DiscountType: normalizeDiscount(discount),
	})
}

// Toggle adds id when absent and removes it when present. A refused addition
// returns the unchanged draft and a *Rejection.
func (b *Builder) Toggle(o Order, id plan.ID) (Order, error) {
	p, ok := b.catalog.Get(id)
	if !ok {
		return o, failure.Wrap(failure.KindValidation, fmt.Errorf("%w: %d", ErrUnknownPlan, id))
	}

	current := o.PlanIDs()
	if slices.Contains(current, id) {
		drop := append([]plan.ID{id}, b.policy.CascadeRemovals(id, current)...)
		next := o.clone()
		next.Lines = slices.DeleteFunc(next.Lines, func(l Line) bool {
			return slices.Contains(drop, l.PlanID)
		})
		return b.reprice(next), nil
	}

	if !p.Available {
		return o, failure.Wrap(failure.KindValidation, fmt.Errorf("%w: %s", ErrPlanUnavailable, p.Name))
	}
	if d := b.policy.IsSelectable(id, current); !d.Allowed {
		return o, &Rejection{PlanID: id, Code: d.Code, Reason: d.Reason, Conflict: d.Conflict}
	}

	next := o.clone()
	next.Lines = append(next.Lines, Line{PlanID: id, Quantity: 1})
	return b.reprice(next), nil
}

// SetQuantity sets the quantity of a selected plan, coercing values below 1 to 1.
func (b *Builder) SetQuantity(o Order, id plan.ID, n int) (Order, error) {
	next := o.clone()
	for i := range next.Lines {
		if next.Lines[i].PlanID == id {
			next.Lines[i].Quantity = pricing.NormalizeQuantity(n)
			return b.reprice(next), nil
		}
	}
	return o, failure.Wrap(failure.KindValidation, fmt.Errorf("%w: %d", ErrPlanNotSelected, id))
}

// SetDiscountType switches the discount applied to every line.
func (b *Builder) SetDiscountType(o Order, t pricing.DiscountType) Order {
	next := o.clone()
	next.DiscountType = normalizeDiscount(t)
	return b.reprice(next)
}

// Build replays selections through Toggle and SetQuantity. It is how drafts
// received from clients are re-priced server side: client totals are ignored.
func (b *Builder) Build(memberID string, discount pricing.DiscountType, selections []Selection) (Order, error) {
	if len(selections) == 0 {
		return Order{}, failure.Validation("select at least one plan")
	}

	ids := make([]plan.ID, len(selections))
	for i, s := range selections {
		ids[i] = s.PlanID
	}
	if err := b.policy.Validate(ids); err != nil {
		return Order{}, err
	}

	// Requirements first so dependent plans can be toggled on in any request order.
	ordered := slices.Clone(selections)
	slices.SortStableFunc(ordered, func(x, y Selection) int {
		return len(plan.Relationships[x.PlanID].Requires) - len(plan.Relationships[y.PlanID].Requires)
	})

	o := b.New(memberID, discount)
	var err error
	for _, s := range ordered {
		if o, err = b.Toggle(o, s.PlanID); err != nil {
			return Order{}, err
		}
		if o, err = b.SetQuantity(o, s.PlanID, s.Quantity); err != nil {
			return Order{}, err
		}
	}

	// Restore the caller's selection order.
	lines := make([]Line, 0, len(selections))
	for _, s := range selections {
		l, _ := o.Line(s.PlanID)
		lines = append(lines, l)
	}
	o.Lines = lines
	return o, nil
}

// reprice recomputes every line and the grand total from the catalog. Lines
// whose plan is no longer in the catalog are dropped.
func (b *Builder) reprice(o Order) Order {
	total := decimal.Zero
	lines := make([]Line, 0, len(o.Lines))
	for _, l := range o.Lines {
		p, ok := b.catalog.Get(l.PlanID)
		if !ok {
			continue
		}
		l.Quantity = pricing.NormalizeQuantity(l.Quantity)
		l.PlanName = p.Name
		l.UnitLabel = p.UnitLabel
		l.UnitPrice = b.calc.UnitPrice(p, o.DiscountType)
		l.LineTotal = b.calc.LineTotal(p, o.DiscountType, l.Quantity)
		total = total.Add(l.LineTotal)
		lines = append(lines, l)
	}
	o.Lines = lines
	o.GrandTotal = total
	return o
}

func normalizeDiscount(t pricing.DiscountType) pricing.DiscountType {
	return pricing.ParseDiscountType(string(t))
}
