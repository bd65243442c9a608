// Package plan holds the purchasable plan catalog and the fixed policy that
// decides which plans may be combined in one order.
package plan

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

var (
	ErrPlanNotFound  = errors.New("plan: not found")
	ErrInvalidPlanID = errors.New("plan: invalid plan id")
	ErrInvalidPrice  = errors.New("plan: base price must be positive")
	ErrDuplicatePlan = errors.New("plan: duplicate plan id")
)

// ID identifies a plan. Catalog ids are small stable integers.
type ID int

// Well-known plan ids referenced by the compatibility and discount policies.
const (
	PlanMembership       ID = 1 // annual base membership
	PlanMonthlyStandard  ID = 2 // standard monthly gym access
	PlanMonthlyPremium   ID = 3 // premium monthly access, members only
	PlanMonthlyOffPeak   ID = 4
	PlanPersonalTraining ID = 5
	PlanLocker           ID = 6
)

func (id ID) String() string { return strconv.Itoa(int(id)) }

// ParseID normalises a plan id from its textual form.
func ParseID(s string) (ID, error) {
	n, err := strconv.Atoi(strings.TrimSpace(s))
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidPlanID, s)
	}
	return ID(n), nil
}

// UnmarshalJSON accepts both 3 and "3".
func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		parsed, err := ParseID(s)
		if err != nil {
			return err
		}
		*id = parsed
		return nil
	}
	var n int
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidPlanID, data)
	}
	if n <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidPlanID, n)
	}
	*id = ID(n)
	return nil
}

// Plan is a purchasable catalog entry. Treat as immutable once fetched.
type Plan struct {
	ID        ID              `json:"planId"`
	Name      string          `json:"name"`
	BasePrice decimal.Decimal `json:"basePrice"`
	UnitLabel string          `json:"unitLabel"` // "year", "month", "session"
	Available bool            `json:"isAvailable"`
}

// Store is the read side of the plan catalog.
type Store interface {
	List(ctx context.Context) ([]Plan, error)
}

// Catalog is an ordered, indexed snapshot of the plan catalog.
type Catalog struct {
	plans []Plan
	index map[ID]int
}

// NewCatalog validates plans and indexes them by id, keeping their order.
func NewCatalog(plans []Plan) (*Catalog, error) {
	c := &Catalog{
		plans: make([]Plan, 0, len(plans)),
		index: make(map[ID]int, len(plans)),
	}
	for _, p := range plans {
		if p.ID <= 0 {
			return nil, fmt.Errorf("%w: %d", ErrInvalidPlanID, p.ID)
		}
		if !p.BasePrice.IsPositive() {
			return nil, fmt.Errorf("%w: plan %d", ErrInvalidPrice, p.ID)
		}
		if _, dup := c.index[p.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicatePlan, p.ID)
		}
		c.index[p.ID] = len(c.plans)
		c.plans = append(c.plans, p)
	}
	return c, nil
}

// LoadCatalog fetches the current catalog from the store.
func LoadCatalog(ctx context.Context, store Store) (*Catalog, error) {
	plans, err := store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("plan: list catalog: %w", err)
	}
	return NewCatalog(plans)
}

// Get returns the plan with the given id.
func (c *Catalog) Get(id ID) (Plan, bool) {
	i, ok := c.index[id]
	if !ok {
		return Plan{}, false
	}
	return c.plans[i], true
}

// Plans returns the catalog in display order.
func (c *Catalog) Plans() []Plan {
	out := make([]Plan, len(c.plans))
	copy(out, c.plans)
	return out
}

// Name returns the plan's display name, or a placeholder for unknown ids.
func (c *Catalog) Name(id ID) string {
	if p, ok := c.Get(id); ok {
		return p.Name
	}
	return "plan #" + id.String()
}
