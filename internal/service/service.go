// Package service holds the business rules that sit between the HTTP layer
// and the repositories.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"nexora/backend/internal/domain"
	"nexora/backend/internal/fx"
	"nexora/backend/internal/notify"
	"nexora/backend/internal/profit"
	"nexora/backend/internal/store"
)

const ledgerTailLimit = 50

// RateProvider supplies the current USD/ILS rate.
type RateProvider interface {
	CurrentRate(ctx context.Context) (*domain.RateResponse, error)
}

type Service struct {
	repo     store.Repository
	rates    RateProvider
	notifier notify.Notifier
	logger   *logrus.Logger
}

func New(repo store.Repository, rates RateProvider, notifier notify.Notifier, logger *logrus.Logger) *Service {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{repo: repo, rates: rates, notifier: notifier, logger: logger}
}

type actorContextKey struct{}

func WithActor(ctx context.Context, actor domain.Actor) context.Context {
	return context.WithValue(ctx, actorContextKey{}, actor)
}

func ActorFromContext(ctx context.Context) (domain.Actor, bool) {
	actor, ok := ctx.Value(actorContextKey{}).(domain.Actor)
	return actor, ok
}

// CreateOrder validates and stores a customer order from the public form.
// The configured sell price at the time of creation is snapshotted onto the
// order; completion may still override it. The Telegram notification is
// fired asynchronously; a delivery failure is logged but never fails the
// order.
func (s *Service) CreateOrder(ctx context.Context, req domain.OrderCreateRequest) (*domain.Order, error) {
	fullName := strings.TrimSpace(req.FullName)
	phone := strings.TrimSpace(req.Phone)
	city := strings.TrimSpace(req.City)
	if fullName == "" || phone == "" || city == "" {
		return nil, fmt.Errorf("%w: full_name, phone and city are required", store.ErrValidation)
	}
	if !req.AmountUsdt.IsPositive() {
		return nil, fmt.Errorf("%w: amount_usdt must be positive", store.ErrValidation)
	}
	if !domain.IsSupportedPaymentMethod(req.PaymentMethod) {
		return nil, fmt.Errorf("%w: unsupported payment_method %q", store.ErrValidation, req.PaymentMethod)
	}

	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return nil, err
	}
	var snapshotPrice *decimal.Decimal
	if settings.SellPriceIlsPerUsdt != nil && settings.SellPriceIlsPerUsdt.IsPositive() {
		price := *settings.SellPriceIlsPerUsdt
		snapshotPrice = &price
	}

	order, err := s.repo.CreateOrder(ctx, domain.Order{
		FullName:            fullName,
		Phone:               phone,
		City:                city,
		AmountUsdt:          req.AmountUsdt,
		PaymentMethod:       req.PaymentMethod,
		Notes:               strings.TrimSpace(req.Notes),
		SellPriceIlsPerUsdt: snapshotPrice,
	})
	if err != nil {
		return nil, err
	}

	go func(order domain.Order) {
		notifyCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		if err := s.notifier.OrderCreated(notifyCtx, order); err != nil {
			s.logger.WithError(err).WithField("order_id", order.ID).Warn("order notification failed")
		}
	}(*order)

	return order, nil
}

func (s *Service) GetOrder(ctx context.Context, id string) (*domain.Order, error) {
	return s.repo.GetOrderByID(ctx, id)
}

func (s *Service) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	if filter.Status != "" && filter.Status != "all" &&
		filter.Status != domain.OrderStatusNew &&
		filter.Status != domain.OrderStatusCompleted &&
		filter.Status != domain.OrderStatusCancelled {
		return nil, fmt.Errorf("%w: unknown status %q", store.ErrValidation, filter.Status)
	}
	return s.repo.ListOrders(ctx, filter)
}

// CompleteOrder marks an order sold. The sell price comes from the request
// override when present, otherwise from the configured default. The USD/ILS
// rate is fetched before the state transition; when the feed is down the
// order still completes and profit_usd stays unset.
func (s *Service) CompleteOrder(ctx context.Context, orderID string, req domain.OrderCompleteRequest) (*domain.Order, error) {
	sellPrice, err := s.resolveSellPrice(ctx, req.SellPriceIlsPerUsdt)
	if err != nil {
		return nil, err
	}

	var usdIlsRate *decimal.Decimal
	if s.rates != nil {
		rate, err := s.rates.CurrentRate(ctx)
		switch {
		case err == nil:
			usdIlsRate = &rate.Rate
		case errors.Is(err, fx.ErrRateUnavailable):
			s.logger.WithField("order_id", orderID).Warn("usd/ils rate unavailable, completing without profit_usd")
		default:
			s.logger.WithError(err).WithField("order_id", orderID).Warn("rate lookup failed, completing without profit_usd")
		}
	}

	order, err := s.repo.CompleteOrder(ctx, orderID, sellPrice, usdIlsRate, time.Now().UTC())
	if err != nil {
		return nil, err
	}

	if actor, ok := ActorFromContext(ctx); ok {
		s.logger.WithFields(logrus.Fields{
			"order_id": order.ID,
			"actor":    actor.Username,
			"amount":   order.AmountUsdt.String(),
		}).Info("order completed")
	}
	return order, nil
}

func (s *Service) resolveSellPrice(ctx context.Context, override *decimal.Decimal) (decimal.Decimal, error) {
	if override != nil {
		if !override.IsPositive() {
			return decimal.Zero, fmt.Errorf("%w: sell price must be positive", store.ErrValidation)
		}
		return *override, nil
	}
	settings, err := s.repo.GetSettings(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	if settings.SellPriceIlsPerUsdt == nil || !settings.SellPriceIlsPerUsdt.IsPositive() {
		return decimal.Zero, fmt.Errorf("%w: no sell price configured and none supplied", store.ErrValidation)
	}
	return *settings.SellPriceIlsPerUsdt, nil
}

func (s *Service) CancelOrder(ctx context.Context, orderID string, req domain.OrderCancelRequest) (*domain.Order, error) {
	return s.repo.CancelOrder(ctx, orderID, req.Note)
}

func (s *Service) AddBatch(ctx context.Context, req domain.AddBatchRequest) (*domain.InventoryState, error) {
	if !req.AmountUsdt.IsPositive() {
		return nil, fmt.Errorf("%w: amount_usdt must be positive", store.ErrValidation)
	}
	if !req.BuyPriceIlsPerUsdt.IsPositive() {
		return nil, fmt.Errorf("%w: buy_price_ils_per_usdt must be positive", store.ErrValidation)
	}
	return s.repo.AddInventory(ctx, req.AmountUsdt, req.BuyPriceIlsPerUsdt, req.Note)
}

func (s *Service) AdjustInventory(ctx context.Context, req domain.AdjustInventoryRequest) (*domain.InventoryState, error) {
	if req.AmountUsdt.IsZero() {
		return nil, fmt.Errorf("%w: amount_usdt must be non-zero", store.ErrValidation)
	}
	if req.AmountUsdt.IsNegative() && strings.TrimSpace(req.Note) == "" {
		return nil, fmt.Errorf("%w: a note is required for negative adjustments", store.ErrValidation)
	}
	if req.UnitCostIls != nil {
		if req.AmountUsdt.IsNegative() {
			return nil, fmt.Errorf("%w: unit_cost_ils only applies to positive adjustments", store.ErrValidation)
		}
		if !req.UnitCostIls.IsPositive() {
			return nil, fmt.Errorf("%w: unit_cost_ils must be positive", store.ErrValidation)
		}
	}
	return s.repo.AdjustInventory(ctx, req.AmountUsdt, req.Note, req.UnitCostIls)
}

func (s *Service) Inventory(ctx context.Context) (*domain.InventoryResponse, error) {
	state, err := s.repo.GetInventoryState(ctx)
	if err != nil {
		return nil, err
	}
	ledger, err := s.repo.ListLedgerEntries(ctx, ledgerTailLimit)
	if err != nil {
		return nil, err
	}
	return &domain.InventoryResponse{State: *state, Ledger: ledger}, nil
}

func (s *Service) Settings(ctx context.Context) (*domain.AppSettings, error) {
	return s.repo.GetSettings(ctx)
}

func (s *Service) UpdateSellPrice(ctx context.Context, req domain.SellPriceUpdateRequest) (*domain.AppSettings, error) {
	if !req.SellPriceIlsPerUsdt.IsPositive() {
		return nil, fmt.Errorf("%w: sell price must be positive", store.ErrValidation)
	}
	return s.repo.UpdateSellPrice(ctx, req.SellPriceIlsPerUsdt)
}

// ProfitReport returns the aggregate profit figures plus the completed orders
// that produced them, optionally limited to a completion date range.
func (s *Service) ProfitReport(ctx context.Context, from, to *time.Time) (profit.Summary, []domain.Order, error) {
	orders, err := s.repo.ListOrders(ctx, domain.OrderFilter{
		Status: domain.OrderStatusCompleted,
		From:   from,
		To:     to,
	})
	if err != nil {
		return profit.Summary{}, nil, err
	}
	return profit.Summarize(orders), orders, nil
}

func (s *Service) CurrentRate(ctx context.Context) (*domain.RateResponse, error) {
	if s.rates == nil {
		return nil, fx.ErrRateUnavailable
	}
	return s.rates.CurrentRate(ctx)
}

// ResetAllData wipes orders, ledger and inventory. The handler has already
// checked the admin secret; the confirmation phrase is re-checked here so no
// other code path can reach the wipe by accident.
func (s *Service) ResetAllData(ctx context.Context, confirm string) error {
	if confirm != domain.ResetConfirmText {
		return fmt.Errorf("%w: confirmation text mismatch", store.ErrValidation)
	}
	if err := s.repo.ResetAllData(ctx); err != nil {
		return err
	}
	s.logger.Warn("all order and inventory data wiped")
	return nil
}
