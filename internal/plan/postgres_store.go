package plan

import (
	"context"
	"database/sql"

	"github.com/shopspring/decimal"
)

// PostgresStore reads the plan catalog from PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed catalog.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

func (p *PostgresStore) List(ctx context.Context) ([]Plan, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT id, name, base_price, unit_label, available
		FROM plans
		ORDER BY sort_order, id`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var plans []Plan
	for rows.Next() {
		var (
			pl    Plan
			price decimal.Decimal
		)
		if err := rows.Scan(&pl.ID, &pl.Name, &price, &pl.UnitLabel, &pl.Available); err != nil {
			return nil, err
		}
		pl.BasePrice = price
		plans = append(plans, pl)
	}
	return plans, rows.Err()
}

// Upsert writes plans in the given order (used to seed a fresh database).
func (p *PostgresStore) Upsert(ctx context.Context, plans []Plan) error {
	tx, err := p.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	for i, pl := range plans {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO plans (id, name, base_price, unit_label, available, sort_order)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO UPDATE SET
				name = EXCLUDED.name, base_price = EXCLUDED.base_price,
				unit_label = EXCLUDED.unit_label, available = EXCLUDED.available,
				sort_order = EXCLUDED.sort_order`,
			int(pl.ID), pl.Name, pl.BasePrice, pl.UnitLabel, pl.Available, i,
		); err != nil {
			return err
		}
	}
	return tx.Commit()
}

var _ Store = (*PostgresStore)(nil)
