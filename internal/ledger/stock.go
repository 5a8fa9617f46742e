package ledger

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"materialpos/backend/internal/domain"
	"materialpos/backend/internal/store"
	"materialpos/backend/internal/xid"
)

// moveStock is the only place product stock changes. It returns the updated
// product and the log entry recording the change.
func moveStock(product domain.Product, delta int, logType, note, refID string, actor domain.Actor, at time.Time) (domain.Product, domain.StockLog, error) {
	next := product.Stock + delta
	if next < 0 {
		return product, domain.StockLog{}, fmt.Errorf("%w: %s would drop to %d", store.ErrNegativeStockRejected, product.ID, next)
	}
	entry := domain.StockLog{
		ID:            xid.New("slog"),
		Date:          at,
		ProductID:     product.ID,
		ProductName:   product.Name,
		Type:          logType,
		Quantity:      delta,
		PreviousStock: product.Stock,
		NewStock:      next,
		Note:          note,
		RefID:         refID,
		PerformedBy:   actor.Username,
	}
	product.Stock = next
	product.UpdatedAt = at
	return product, entry, nil
}

// InitialStockLog records the opening stock of a new product so that replaying
// the log from zero reproduces the stock. It returns nil when there is none.
func InitialStockLog(product domain.Product, actor domain.Actor, at time.Time) *domain.StockLog {
	if product.Stock <= 0 || product.IsCustom {
		return nil
	}
	opening := product
	opening.Stock = 0
	_, entry, _ := moveStock(opening, product.Stock, domain.StockLogRestock, "initial stock", "", actor, at)
	return &entry
}

type AdjustInput struct {
	Product domain.Product
	Delta   int
	Note    string
	RefID   string
	Actor   domain.Actor
	At      time.Time
}

type AdjustResult struct {
	Product domain.Product
	Log     domain.StockLog
}

// BuildAdjustment applies a manual restock (positive delta) or a correction
// (negative delta).
func BuildAdjustment(in AdjustInput) (AdjustResult, error) {
	if in.Delta == 0 {
		return AdjustResult{}, fmt.Errorf("%w: delta must not be zero", store.ErrInvalidTransaction)
	}
	if in.Product.IsCustom {
		return AdjustResult{}, fmt.Errorf("%w: custom product %s has no stock", store.ErrInvalidTransaction, in.Product.ID)
	}
	logType := domain.StockLogRestock
	if in.Delta < 0 {
		logType = domain.StockLogAdjust
	}
	note := strings.TrimSpace(in.Note)
	updated, entry, err := moveStock(in.Product, in.Delta, logType, note, in.RefID, in.Actor, in.At)
	if err != nil {
		return AdjustResult{}, err
	}
	return AdjustResult{Product: updated, Log: entry}, nil
}

// ReplayStock sums the logged movements of one product.
func ReplayStock(logs []domain.StockLog, productID string) int {
	total := 0
	for _, entry := range logs {
		if entry.ProductID == productID {
			total += entry.Quantity
		}
	}
	return total
}

// CheckStockChain verifies that each product's log entries chain
// (previous = prior new, new = previous + quantity) and end at the product's
// current stock. Logs must be in append order.
func CheckStockChain(products []domain.Product, logs []domain.StockLog) error {
	last := make(map[string]int, len(products))
	seen := make(map[string]bool, len(products))
	for _, entry := range logs {
		if entry.NewStock != entry.PreviousStock+entry.Quantity {
			return fmt.Errorf("%w: stock log %s does not add up", store.ErrInvalidTransaction, entry.ID)
		}
		if seen[entry.ProductID] && last[entry.ProductID] != entry.PreviousStock {
			return fmt.Errorf("%w: stock log %s breaks the chain for %s", store.ErrInvalidTransaction, entry.ID, entry.ProductID)
		}
		seen[entry.ProductID] = true
		last[entry.ProductID] = entry.NewStock
	}
	for _, product := range products {
		if product.Stock < 0 {
			return fmt.Errorf("%w: product %s has negative stock", store.ErrInvalidTransaction, product.ID)
		}
		if seen[product.ID] && last[product.ID] != product.Stock {
			return fmt.Errorf("%w: product %s stock %d does not match its log (%d)", store.ErrInvalidTransaction, product.ID, product.Stock, last[product.ID])
		}
	}
	return nil
}

// CheckSales verifies the stored invariants of every sale.
func CheckSales(sales []domain.SaleRecord) error {
	for _, sale := range sales {
		if sale.Total != ExpectedTotal(sale.Subtotal, sale.Discount, sale.TaxAmount, sale.DeliveryFee) {
			return fmt.Errorf("%w: sale %s total does not add up", store.ErrInvalidTransaction, sale.ID)
		}
		if sale.Status != domain.SaleStatusCompleted && sale.Status != domain.SaleStatusVoided {
			return fmt.Errorf("%w: sale %s has unknown status %q", store.ErrInvalidTransaction, sale.ID, sale.Status)
		}
		returned := ReturnedByLine(sale)
		for _, item := range sale.Items {
			if returned[item.LineID] > item.Quantity {
				return fmt.Errorf("%w: sale %s line %s", store.ErrReturnExceedsAvailable, sale.ID, item.LineID)
			}
		}
	}
	return nil
}

// CheckSnapshot validates a snapshot before it replaces the stored state.
func CheckSnapshot(snapshot domain.Snapshot) error {
	ids := make(map[string]bool, len(snapshot.Products))
	for _, product := range snapshot.Products {
		if product.ID == "" || ids[product.ID] {
			return fmt.Errorf("%w: duplicate or empty product id %q", store.ErrInvalidTransaction, product.ID)
		}
		ids[product.ID] = true
	}
	logs := slices.Clone(snapshot.StockLogs)
	slices.SortStableFunc(logs, func(a, b domain.StockLog) int {
		return a.Date.Compare(b.Date)
	})
	if err := CheckStockChain(snapshot.Products, logs); err != nil {
		return err
	}
	return CheckSales(snapshot.Sales)
}

// SortedIDs returns the unique non-empty ids in ascending order. Stores lock
// rows in this order.
func SortedIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" {
			out = append(out, id)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}

func sortedProducts(byID map[string]domain.Product, touched map[string]bool) []domain.Product {
	ids := make([]string, 0, len(touched))
	for id := range touched {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	out := make([]domain.Product, 0, len(ids))
	for _, id := range ids {
		out = append(out, byID[id])
	}
	return out
}
