package catalog

import (
	"context"
	"database/sql"
	"errors"
	"sync"
)

// LowStockThreshold is the stock level at or below which InventoryLow fires.
const LowStockThreshold = 10

var ErrNotFound = errors.New("inventory not found")

type Inventory struct {
	VariantID     int64
	ColorID       int64
	StockQuantity int
}

type InventoryRepository interface {
	Get(ctx context.Context, variantID, colorID int64) (Inventory, error)
	// Adjust adds delta to the stock and returns the new row.
	Adjust(ctx context.Context, variantID, colorID int64, delta int) (Inventory, error)
}

type invKey struct{ variant, color int64 }

type MemoryInventory struct {
	mu    sync.Mutex
	stock map[invKey]int
}

func NewMemoryInventory() *MemoryInventory {
	return &MemoryInventory{stock: make(map[invKey]int)}
}

// Set creates or overwrites a stock row.
func (r *MemoryInventory) Set(variantID, colorID int64, qty int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stock[invKey{variantID, colorID}] = qty
}

func (r *MemoryInventory) Get(_ context.Context, variantID, colorID int64) (Inventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	qty, ok := r.stock[invKey{variantID, colorID}]
	if !ok {
		return Inventory{}, ErrNotFound
	}
	return Inventory{VariantID: variantID, ColorID: colorID, StockQuantity: qty}, nil
}

func (r *MemoryInventory) Adjust(_ context.Context, variantID, colorID int64, delta int) (Inventory, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := invKey{variantID, colorID}
	qty, ok := r.stock[k]
	if !ok {
		return Inventory{}, ErrNotFound
	}
	qty += delta
	r.stock[k] = qty
	return Inventory{VariantID: variantID, ColorID: colorID, StockQuantity: qty}, nil
}

type PostgresInventory struct {
	db *sql.DB
}

func NewPostgresInventory(db *sql.DB) *PostgresInventory {
	return &PostgresInventory{db: db}
}

func (r *PostgresInventory) Get(ctx context.Context, variantID, colorID int64) (Inventory, error) {
	const q = `
SELECT variant_id, color_id, stock_quantity
FROM inventories
WHERE variant_id = $1 AND color_id = $2;
`
	var inv Inventory
	err := r.db.QueryRowContext(ctx, q, variantID, colorID).Scan(&inv.VariantID, &inv.ColorID, &inv.StockQuantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Inventory{}, ErrNotFound
		}
		return Inventory{}, err
	}
	return inv, nil
}

// Adjust is a single UPDATE so concurrent orders for the same variant do not
// lose decrements.
func (r *PostgresInventory) Adjust(ctx context.Context, variantID, colorID int64, delta int) (Inventory, error) {
	const q = `
UPDATE inventories
SET stock_quantity = stock_quantity + $3, updated_at = now()
WHERE variant_id = $1 AND color_id = $2
RETURNING variant_id, color_id, stock_quantity;
`
	var inv Inventory
	err := r.db.QueryRowContext(ctx, q, variantID, colorID, delta).Scan(&inv.VariantID, &inv.ColorID, &inv.StockQuantity)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Inventory{}, ErrNotFound
		}
		return Inventory{}, err
	}
	return inv, nil
}
