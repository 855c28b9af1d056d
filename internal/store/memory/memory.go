package memory

import (
	"context"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"nexora/backend/internal/domain"
	"nexora/backend/internal/profit"
	"nexora/backend/internal/store"
	"nexora/backend/internal/xid"
)

// Store is an in-memory Repository used for dev mode and tests. A single
// mutex makes every mutating operation atomic and serializes concurrent
// completions, which is exactly the contract the postgres procedures give.
type Store struct {
	mu       sync.Mutex
	state    domain.InventoryState
	ledger   []domain.LedgerEntry
	orders   map[string]*domain.Order
	orderIDs []string
	settings domain.AppSettings
	users    map[string]domain.UserAccount
}

func New() *Store {
	now := time.Now().UTC()
	return &Store{
		state:    domain.InventoryState{UpdatedAt: now},
		orders:   make(map[string]*domain.Order),
		settings: domain.AppSettings{UpdatedAt: now},
		users:    make(map[string]domain.UserAccount),
	}
}

// NewSeeded returns an empty store with a dev admin account. The password
// comes from SEED_ADMIN_PASSWORD; the hardcoded fallback is for local dev
// only (production runs against postgres via DATABASE_URL).
func NewSeeded() *Store {
	s := New()

	password := os.Getenv("SEED_ADMIN_PASSWORD")
	if password == "" {
		password = "admin123"
		logrus.Warn("[memory-store] using default dev admin credentials, set SEED_ADMIN_PASSWORD to override")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		logrus.WithError(err).Fatal("[memory-store] failed to hash seed password")
	}
	s.users["admin"] = domain.UserAccount{
		Username:  "admin",
		Password:  string(hash),
		Role:      "admin",
		Active:    true,
		CreatedAt: time.Now().UTC(),
	}
	return s
}

func (s *Store) CreateOrder(_ context.Context, order domain.Order) (*domain.Order, error) {
	if strings.TrimSpace(order.FullName) == "" || strings.TrimSpace(order.Phone) == "" || strings.TrimSpace(order.City) == "" {
		return nil, store.ErrValidation
	}
	if !order.AmountUsdt.IsPositive() || !domain.IsSupportedPaymentMethod(order.PaymentMethod) {
		return nil, store.ErrValidation
	}

	if order.ID == "" {
		order.ID = xid.New("ord")
	}
	if order.CreatedAt.IsZero() {
		order.CreatedAt = time.Now().UTC()
	}
	order.Status = domain.OrderStatusNew

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := order
	s.orders[stored.ID] = &stored
	s.orderIDs = append(s.orderIDs, stored.ID)

	created := stored
	return &created, nil
}

func (s *Store) GetOrderByID(_ context.Context, id string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	found := *order
	return &found, nil
}

func (s *Store) ListOrders(_ context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.Order, 0, len(s.orderIDs))
	for _, id := range s.orderIDs {
		order := *s.orders[id]
		if filter.Status != "" && filter.Status != "all" && order.Status != filter.Status {
			continue
		}
		rangeStamp := order.CreatedAt
		if filter.Status == domain.OrderStatusCompleted {
			if order.CompletedAt == nil {
				continue
			}
			rangeStamp = *order.CompletedAt
		}
		if filter.From != nil && rangeStamp.Before(*filter.From) {
			continue
		}
		if filter.To != nil && !rangeStamp.Before(*filter.To) {
			continue
		}
		result = append(result, order)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.Before(result[j].CreatedAt)
	})
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (s *Store) CompleteOrder(_ context.Context, orderID string, sellPrice decimal.Decimal, usdIlsRate *decimal.Decimal, completedAt time.Time) (*domain.Order, error) {
	if !sellPrice.IsPositive() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if domain.IsTerminalStatus(order.Status) {
		return nil, store.ErrInvalidState
	}
	if s.state.UsdtBalance.LessThan(order.AmountUsdt) {
		return nil, store.ErrInsufficientInventory
	}

	avgCost := s.state.AvgCostIlsPerUsdt
	s.state.UsdtBalance = s.state.UsdtBalance.Sub(order.AmountUsdt)
	s.state.TotalCostIls = s.state.TotalCostIls.Sub(order.AmountUsdt.Mul(avgCost))
	s.recomputeAverage(completedAt)

	s.appendLedger(domain.LedgerEntry{
		Kind:       domain.LedgerKindSale,
		AmountUsdt: order.AmountUsdt.Neg(),
		OrderID:    order.ID,
		CreatedAt:  completedAt,
	})

	profitIls := profit.OrderProfitIls(order.AmountUsdt, sellPrice, avgCost)
	order.Status = domain.OrderStatusCompleted
	order.SellPriceIlsPerUsdt = &sellPrice
	order.BuyAvgCostIlsPerUsdt = &avgCost
	order.UsdIlsRate = usdIlsRate
	order.ProfitIls = &profitIls
	order.ProfitUsd = profit.OrderProfitUsd(profitIls, usdIlsRate)
	stamp := completedAt
	order.CompletedAt = &stamp

	completed := *order
	return &completed, nil
}

func (s *Store) CancelOrder(_ context.Context, orderID string, note string) (*domain.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	order, ok := s.orders[orderID]
	if !ok {
		return nil, store.ErrNotFound
	}
	if domain.IsTerminalStatus(order.Status) {
		return nil, store.ErrInvalidState
	}

	order.Status = domain.OrderStatusCancelled
	order.CancelNote = strings.TrimSpace(note)

	cancelled := *order
	return &cancelled, nil
}

func (s *Store) GetInventoryState(_ context.Context) (*domain.InventoryState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.state
	return &state, nil
}

func (s *Store) AddInventory(_ context.Context, amount decimal.Decimal, buyPrice decimal.Decimal, note string) (*domain.InventoryState, error) {
	if !amount.IsPositive() || !buyPrice.IsPositive() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.state.UsdtBalance = s.state.UsdtBalance.Add(amount)
	s.state.TotalCostIls = s.state.TotalCostIls.Add(amount.Mul(buyPrice))
	s.recomputeAverage(now)

	s.appendLedger(domain.LedgerEntry{
		Kind:         domain.LedgerKindPurchase,
		AmountUsdt:   amount,
		UnitPriceIls: &buyPrice,
		Note:         strings.TrimSpace(note),
		CreatedAt:    now,
	})

	state := s.state
	return &state, nil
}

func (s *Store) AdjustInventory(_ context.Context, amount decimal.Decimal, note string, unitCost *decimal.Decimal) (*domain.InventoryState, error) {
	if amount.IsZero() {
		return nil, store.ErrValidation
	}
	note = strings.TrimSpace(note)
	if amount.IsNegative() && note == "" {
		return nil, store.ErrValidation
	}
	if unitCost != nil && !unitCost.IsPositive() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	if amount.IsNegative() {
		if s.state.UsdtBalance.LessThan(amount.Neg()) {
			return nil, store.ErrInsufficientInventory
		}
		// Write-offs deplete at average cost, same as a sale.
		s.state.TotalCostIls = s.state.TotalCostIls.Sub(amount.Neg().Mul(s.state.AvgCostIlsPerUsdt))
	} else {
		cost := s.state.AvgCostIlsPerUsdt
		if unitCost != nil {
			cost = *unitCost
		}
		s.state.TotalCostIls = s.state.TotalCostIls.Add(amount.Mul(cost))
	}
	s.state.UsdtBalance = s.state.UsdtBalance.Add(amount)
	s.recomputeAverage(now)

	s.appendLedger(domain.LedgerEntry{
		Kind:         domain.LedgerKindAdjustment,
		AmountUsdt:   amount,
		UnitPriceIls: unitCost,
		Note:         note,
		CreatedAt:    now,
	})

	state := s.state
	return &state, nil
}

func (s *Store) ListLedgerEntries(_ context.Context, limit int) ([]domain.LedgerEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit < 1 || limit > len(s.ledger) {
		limit = len(s.ledger)
	}

	// Newest first.
	result := make([]domain.LedgerEntry, 0, limit)
	for i := len(s.ledger) - 1; i >= 0 && len(result) < limit; i-- {
		result = append(result, s.ledger[i])
	}
	return result, nil
}

func (s *Store) GetSettings(_ context.Context) (*domain.AppSettings, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	settings := s.settings
	return &settings, nil
}

func (s *Store) UpdateSellPrice(_ context.Context, price decimal.Decimal) (*domain.AppSettings, error) {
	if !price.IsPositive() {
		return nil, store.ErrValidation
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.settings.SellPriceIlsPerUsdt = &price
	s.settings.UpdatedAt = time.Now().UTC()

	settings := s.settings
	return &settings, nil
}

func (s *Store) ResetAllData(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	s.orders = make(map[string]*domain.Order)
	s.orderIDs = nil
	s.ledger = nil
	s.state = domain.InventoryState{UpdatedAt: now}
	s.settings = domain.AppSettings{UpdatedAt: now}
	return nil
}

func (s *Store) CreateUser(_ context.Context, user domain.UserAccount) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.users[user.Username]; exists {
		return store.ErrValidation
	}
	s.users[user.Username] = user
	return nil
}

func (s *Store) ListUsers(_ context.Context) ([]domain.UserAccount, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := make([]domain.UserAccount, 0, len(s.users))
	for _, user := range s.users {
		result = append(result, user)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Username < result[j].Username
	})
	return result, nil
}

func (s *Store) UpdateUserPassword(_ context.Context, username string, password string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[username]
	if !ok {
		return store.ErrNotFound
	}
	user.Password = password
	s.users[username] = user
	return nil
}

// recomputeAverage derives the average cost from the two running scalars.
// An empty balance snaps both cost figures to zero so division dust from
// repeated depletion cannot accumulate.
func (s *Store) recomputeAverage(at time.Time) {
	if s.state.UsdtBalance.IsZero() {
		s.state.TotalCostIls = decimal.Zero
		s.state.AvgCostIlsPerUsdt = decimal.Zero
	} else {
		s.state.AvgCostIlsPerUsdt = s.state.TotalCostIls.Div(s.state.UsdtBalance)
	}
	s.state.UpdatedAt = at
}

func (s *Store) appendLedger(entry domain.LedgerEntry) {
	if entry.ID == "" {
		entry.ID = xid.New("led")
	}
	s.ledger = append(s.ledger, entry)
}
