package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"nexora/backend/internal/domain"
)

var (
	ErrNotFound              = errors.New("not found")
	ErrValidation            = errors.New("validation failed")
	ErrInvalidState          = errors.New("invalid order state")
	ErrInsufficientInventory = errors.New("insufficient inventory")
)

// Repository is the transactional boundary around orders, the inventory
// singleton, the append-only ledger, and app settings. Every mutating
// operation is atomic: it either fully applies or leaves no trace, and
// concurrent CompleteOrder calls serialize so only one can win.
type Repository interface {
	CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error)
	GetOrderByID(ctx context.Context, id string) (*domain.Order, error)
	ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error)
	// CompleteOrder consumes the order's amount from inventory at the current
	// average cost, records the profit figures, and transitions the order to
	// completed. usdIlsRate may be nil, in which case profit_usd stays unset.
	CompleteOrder(ctx context.Context, orderID string, sellPrice decimal.Decimal, usdIlsRate *decimal.Decimal, completedAt time.Time) (*domain.Order, error)
	CancelOrder(ctx context.Context, orderID string, note string) (*domain.Order, error)

	GetInventoryState(ctx context.Context) (*domain.InventoryState, error)
	AddInventory(ctx context.Context, amount decimal.Decimal, buyPrice decimal.Decimal, note string) (*domain.InventoryState, error)
	AdjustInventory(ctx context.Context, amount decimal.Decimal, note string, unitCost *decimal.Decimal) (*domain.InventoryState, error)
	ListLedgerEntries(ctx context.Context, limit int) ([]domain.LedgerEntry, error)

	GetSettings(ctx context.Context) (*domain.AppSettings, error)
	UpdateSellPrice(ctx context.Context, price decimal.Decimal) (*domain.AppSettings, error)

	// ResetAllData irreversibly empties orders, ledger, and the inventory
	// singleton. Resetting an already-empty store succeeds.
	ResetAllData(ctx context.Context) error

	CreateUser(ctx context.Context, user domain.UserAccount) error
	ListUsers(ctx context.Context) ([]domain.UserAccount, error)
	UpdateUserPassword(ctx context.Context, username string, password string) error
}
