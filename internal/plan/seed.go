package plan

import (
	"fmt"
	"os"

	"github.com/mbd888/gymops/internal/money"
	"gopkg.in/yaml.v3"
)

// seedFile is the on-disk layout of a catalog seed (configs/plans.yaml).
type seedFile struct {
	Plans []seedPlan `yaml:"plans"`
}

type seedPlan struct {
	ID        int    `yaml:"id"`
	Name      string `yaml:"name"`
	Price     string `yaml:"price"`
	Unit      string `yaml:"unit"`
	Available *bool  `yaml:"available"` // defaults to true
}

// LoadSeedFile reads a YAML catalog seed. Prices are decimal strings so they
// never pass through float parsing.
func LoadSeedFile(path string) ([]Plan, error) {
	data, err := os.ReadFile(path) // #nosec G304 -- operator-supplied config path
	if err != nil {
		return nil, fmt.Errorf("plan: read seed: %w", err)
	}
	return ParseSeed(data)
}

// ParseSeed decodes YAML catalog seed data.
func ParseSeed(data []byte) ([]Plan, error) {
	var f seedFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("plan: parse seed: %w", err)
	}

	plans := make([]Plan, 0, len(f.Plans))
	for i, sp := range f.Plans {
		price, ok := money.Parse(sp.Price)
		if !ok || !price.IsPositive() {
			return nil, fmt.Errorf("plan: seed plans[%d]: %w", i, ErrInvalidPrice)
		}
		if sp.ID <= 0 {
			return nil, fmt.Errorf("plan: seed plans[%d]: %w", i, ErrInvalidPlanID)
		}
		available := true
		if sp.Available != nil {
			available = *sp.Available
		}
		plans = append(plans, Plan{
			ID:        ID(sp.ID),
			Name:      sp.Name,
			BasePrice: price,
			UnitLabel: sp.Unit,
			Available: available,
		})
	}

	// Reject duplicates and bad rows early.
	if _, err := NewCatalog(plans); err != nil {
		return nil, err
	}
	return plans, nil
}
