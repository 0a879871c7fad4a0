package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Repository reads catalog data from PostgreSQL. The catalog is maintained
// by the back-office CRUD surface; the replenishment engine only reads it.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// ListActiveProducts returns all products with ACTIVE status.
func (r *Repository) ListActiveProducts(ctx context.Context) ([]Product, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, sku, name, unit, status, created_at
FROM products WHERE status = 'ACTIVE' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("catalog: list active products: %w", err)
	}
	defer rows.Close()
	products := []Product{}
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.SKU, &p.Name, &p.Unit, &p.Status, &p.CreatedAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// GetProduct fetches one product by id.
func (r *Repository) GetProduct(ctx context.Context, id int64) (Product, error) {
	var p Product
	err := r.pool.QueryRow(ctx, `SELECT id, sku, name, unit, status, created_at
FROM products WHERE id=$1`, id).Scan(&p.ID, &p.SKU, &p.Name, &p.Unit, &p.Status, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, ErrProductNotFound
	}
	return p, err
}

// PricesFor lists the supplier price entries for one product.
func (r *Repository) PricesFor(ctx context.Context, productID int64) ([]SupplierPrice, error) {
	rows, err := r.pool.Query(ctx, `SELECT product_id, supplier_id, unit_cost, COALESCE(min_order_qty, 0)
FROM product_suppliers WHERE product_id=$1 ORDER BY supplier_id`, productID)
	if err != nil {
		return nil, fmt.Errorf("catalog: prices for product %d: %w", productID, err)
	}
	defer rows.Close()
	prices := []SupplierPrice{}
	for rows.Next() {
		var p SupplierPrice
		var cost string
		if err := rows.Scan(&p.ProductID, &p.SupplierID, &cost, &p.MinOrderQty); err != nil {
			return nil, err
		}
		p.UnitCost, err = decimal.NewFromString(cost)
		if err != nil {
			return nil, fmt.Errorf("catalog: bad unit cost %q: %w", cost, err)
		}
		prices = append(prices, p)
	}
	return prices, rows.Err()
}

// SuppliersByID resolves suppliers for the given ids, keyed by id. Missing
// ids are simply absent from the result.
func (r *Repository) SuppliersByID(ctx context.Context, ids []int64) (map[int64]Supplier, error) {
	if len(ids) == 0 {
		return map[int64]Supplier{}, nil
	}
	rows, err := r.pool.Query(ctx, `SELECT id, name, lead_time_days, schedule, COALESCE(min_order_qty, 0), active, created_at
FROM suppliers WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, fmt.Errorf("catalog: suppliers by id: %w", err)
	}
	defer rows.Close()
	result := make(map[int64]Supplier, len(ids))
	for rows.Next() {
		var s Supplier
		var raw []byte
		if err := rows.Scan(&s.ID, &s.Name, &s.LeadTimeDays, &raw, &s.MinOrderQty, &s.Active, &s.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &s.Schedule); err != nil {
			return nil, fmt.Errorf("%w: supplier %d", ErrBadSchedule, s.ID)
		}
		result[s.ID] = s
	}
	return result, rows.Err()
}

// ActiveSuppliers lists all active suppliers.
func (r *Repository) ActiveSuppliers(ctx context.Context) ([]Supplier, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, lead_time_days, schedule, COALESCE(min_order_qty, 0), active, created_at
FROM suppliers WHERE active ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("catalog: active suppliers: %w", err)
	}
	defer rows.Close()
	suppliers := []Supplier{}
	for rows.Next() {
		var s Supplier
		var raw []byte
		if err := rows.Scan(&s.ID, &s.Name, &s.LeadTimeDays, &raw, &s.MinOrderQty, &s.Active, &s.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(raw, &s.Schedule); err != nil {
			return nil, fmt.Errorf("%w: supplier %d", ErrBadSchedule, s.ID)
		}
		suppliers = append(suppliers, s)
	}
	return suppliers, rows.Err()
}
