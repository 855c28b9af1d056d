// Package postgres implements the Repository against PostgreSQL.
//
// Reads are plain queries. Every inventory or order mutation goes through a
// stored procedure (see schema.sql) that locks the inventory row and returns
// a jsonb {ok, error} result, so concurrent completions of the same order or
// overlapping depletions can never corrupt the running balance.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/shopspring/decimal"

	"nexora/backend/internal/domain"
	"nexora/backend/internal/store"
)

type Store struct {
	db *sql.DB
}

func New(ctx context.Context, databaseURL string) (*Store, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

type procResult struct {
	Ok    bool   `json:"ok"`
	Error string `json:"error"`
}

// callProc invokes a stored procedure returning jsonb and maps its error
// codes onto the store sentinel errors.
func (s *Store) callProc(ctx context.Context, query string, args ...any) error {
	var raw []byte
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&raw); err != nil {
		return fmt.Errorf("call procedure: %w", err)
	}
	var result procResult
	if err := json.Unmarshal(raw, &result); err != nil {
		return fmt.Errorf("decode procedure result: %w", err)
	}
	if result.Ok {
		return nil
	}
	return mapProcError(result.Error)
}

func mapProcError(code string) error {
	switch code {
	case "not_found":
		return store.ErrNotFound
	case "invalid_state":
		return store.ErrInvalidState
	case "insufficient_inventory":
		return store.ErrInsufficientInventory
	case "invalid_amount", "invalid_price", "note_required":
		return store.ErrValidation
	default:
		return fmt.Errorf("procedure failed: %s", code)
	}
}

func (s *Store) CreateOrder(ctx context.Context, order domain.Order) (*domain.Order, error) {
	if strings.TrimSpace(order.FullName) == "" || strings.TrimSpace(order.Phone) == "" || strings.TrimSpace(order.City) == "" {
		return nil, store.ErrValidation
	}
	if !order.AmountUsdt.IsPositive() || !domain.IsSupportedPaymentMethod(order.PaymentMethod) {
		return nil, store.ErrValidation
	}

	var sellPrice decimal.NullDecimal
	if order.SellPriceIlsPerUsdt != nil {
		sellPrice = decimal.NullDecimal{Decimal: *order.SellPriceIlsPerUsdt, Valid: true}
	}
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO orders (full_name, city, phone, amount_usdt, payment_method, notes, sell_price_ils, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 'new')
		RETURNING id, created_at`,
		order.FullName, order.City, order.Phone, order.AmountUsdt, order.PaymentMethod, order.Notes, sellPrice,
	)
	if err := row.Scan(&order.ID, &order.CreatedAt); err != nil {
		return nil, fmt.Errorf("insert order: %w", err)
	}
	order.Status = domain.OrderStatusNew
	return &order, nil
}

const orderColumns = `
	id, full_name, city, phone, amount_usdt, payment_method, notes, status,
	sell_price_ils, buy_avg_cost_ils, usd_ils_rate, profit_ils, profit_usd,
	cancel_note, created_at, completed_at`

func scanOrder(row interface{ Scan(...any) error }) (*domain.Order, error) {
	var (
		order      domain.Order
		sellPrice  decimal.NullDecimal
		buyAvg     decimal.NullDecimal
		usdIlsRate decimal.NullDecimal
		profitIls  decimal.NullDecimal
		profitUsd  decimal.NullDecimal
		cancelNote sql.NullString
		completed  sql.NullTime
	)
	err := row.Scan(
		&order.ID, &order.FullName, &order.City, &order.Phone, &order.AmountUsdt,
		&order.PaymentMethod, &order.Notes, &order.Status,
		&sellPrice, &buyAvg, &usdIlsRate, &profitIls, &profitUsd,
		&cancelNote, &order.CreatedAt, &completed,
	)
	if err != nil {
		return nil, err
	}
	if sellPrice.Valid {
		order.SellPriceIlsPerUsdt = &sellPrice.Decimal
	}
	if buyAvg.Valid {
		order.BuyAvgCostIlsPerUsdt = &buyAvg.Decimal
	}
	if usdIlsRate.Valid {
		order.UsdIlsRate = &usdIlsRate.Decimal
	}
	if profitIls.Valid {
		order.ProfitIls = &profitIls.Decimal
	}
	if profitUsd.Valid {
		order.ProfitUsd = &profitUsd.Decimal
	}
	if cancelNote.Valid {
		order.CancelNote = cancelNote.String
	}
	if completed.Valid {
		stamp := completed.Time
		order.CompletedAt = &stamp
	}
	return &order, nil
}

func (s *Store) GetOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	order, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get order: %w", err)
	}
	return order, nil
}

func (s *Store) ListOrders(ctx context.Context, filter domain.OrderFilter) ([]domain.Order, error) {
	query := `SELECT ` + orderColumns + ` FROM orders WHERE 1=1`
	args := make([]any, 0, 4)

	rangeColumn := "created_at"
	if filter.Status == domain.OrderStatusCompleted {
		rangeColumn = "completed_at"
	}
	if filter.Status != "" && filter.Status != "all" {
		args = append(args, filter.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}
	if filter.From != nil {
		args = append(args, *filter.From)
		query += fmt.Sprintf(" AND %s >= $%d", rangeColumn, len(args))
	}
	if filter.To != nil {
		args = append(args, *filter.To)
		query += fmt.Sprintf(" AND %s < $%d", rangeColumn, len(args))
	}
	query += " ORDER BY created_at ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	orders := make([]domain.Order, 0)
	for rows.Next() {
		order, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		orders = append(orders, *order)
	}
	return orders, rows.Err()
}

func (s *Store) CompleteOrder(ctx context.Context, orderID string, sellPrice decimal.Decimal, usdIlsRate *decimal.Decimal, completedAt time.Time) (*domain.Order, error) {
	if !sellPrice.IsPositive() {
		return nil, store.ErrValidation
	}
	var rate decimal.NullDecimal
	if usdIlsRate != nil {
		rate = decimal.NullDecimal{Decimal: *usdIlsRate, Valid: true}
	}
	if err := s.callProc(ctx, `SELECT complete_order($1, $2, $3, $4)`, orderID, sellPrice, rate, completedAt); err != nil {
		return nil, err
	}
	return s.GetOrderByID(ctx, orderID)
}

func (s *Store) CancelOrder(ctx context.Context, orderID string, note string) (*domain.Order, error) {
	if err := s.callProc(ctx, `SELECT cancel_order($1, $2)`, orderID, strings.TrimSpace(note)); err != nil {
		return nil, err
	}
	return s.GetOrderByID(ctx, orderID)
}

func (s *Store) GetInventoryState(ctx context.Context) (*domain.InventoryState, error) {
	var state domain.InventoryState
	err := s.db.QueryRowContext(ctx, `
		SELECT usdt_balance, total_cost_ils, avg_cost_ils, updated_at
		FROM inventory_state WHERE id = 1`,
	).Scan(&state.UsdtBalance, &state.TotalCostIls, &state.AvgCostIlsPerUsdt, &state.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get inventory state: %w", err)
	}
	return &state, nil
}

func (s *Store) AddInventory(ctx context.Context, amount decimal.Decimal, buyPrice decimal.Decimal, note string) (*domain.InventoryState, error) {
	if !amount.IsPositive() || !buyPrice.IsPositive() {
		return nil, store.ErrValidation
	}
	if err := s.callProc(ctx, `SELECT add_inventory($1, $2, $3)`, amount, buyPrice, strings.TrimSpace(note)); err != nil {
		return nil, err
	}
	return s.GetInventoryState(ctx)
}

func (s *Store) AdjustInventory(ctx context.Context, amount decimal.Decimal, note string, unitCost *decimal.Decimal) (*domain.InventoryState, error) {
	if amount.IsZero() {
		return nil, store.ErrValidation
	}
	note = strings.TrimSpace(note)
	if amount.IsNegative() && note == "" {
		return nil, store.ErrValidation
	}
	var cost decimal.NullDecimal
	if unitCost != nil {
		if !unitCost.IsPositive() {
			return nil, store.ErrValidation
		}
		cost = decimal.NullDecimal{Decimal: *unitCost, Valid: true}
	}
	if err := s.callProc(ctx, `SELECT adjust_inventory($1, $2, $3)`, amount, note, cost); err != nil {
		return nil, err
	}
	return s.GetInventoryState(ctx)
}

func (s *Store) ListLedgerEntries(ctx context.Context, limit int) ([]domain.LedgerEntry, error) {
	if limit < 1 {
		limit = 100
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, amount_usdt, unit_price_ils, order_id, note, created_at
		FROM inventory_ledger
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list ledger: %w", err)
	}
	defer rows.Close()

	entries := make([]domain.LedgerEntry, 0, limit)
	for rows.Next() {
		var (
			entry     domain.LedgerEntry
			unitPrice decimal.NullDecimal
			orderID   sql.NullString
			note      sql.NullString
		)
		if err := rows.Scan(&entry.ID, &entry.Kind, &entry.AmountUsdt, &unitPrice, &orderID, &note, &entry.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan ledger entry: %w", err)
		}
		if unitPrice.Valid {
			entry.UnitPriceIls = &unitPrice.Decimal
		}
		entry.OrderID = orderID.String
		entry.Note = note.String
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func (s *Store) GetSettings(ctx context.Context) (*domain.AppSettings, error) {
	var (
		settings  domain.AppSettings
		sellPrice decimal.NullDecimal
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT sell_price_ils, updated_at FROM app_settings WHERE id = 1`,
	).Scan(&sellPrice, &settings.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("get settings: %w", err)
	}
	if sellPrice.Valid {
		settings.SellPriceIlsPerUsdt = &sellPrice.Decimal
	}
	return &settings, nil
}

func (s *Store) UpdateSellPrice(ctx context.Context, price decimal.Decimal) (*domain.AppSettings, error) {
	if !price.IsPositive() {
		return nil, store.ErrValidation
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE app_settings SET sell_price_ils = $1, updated_at = now() WHERE id = 1`, price)
	if err != nil {
		return nil, fmt.Errorf("update sell price: %w", err)
	}
	return s.GetSettings(ctx)
}

func (s *Store) ResetAllData(ctx context.Context) error {
	return s.callProc(ctx, `SELECT reset_all_data()`)
}

func (s *Store) CreateUser(ctx context.Context, user domain.UserAccount) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO app_users (username, password, role, active)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (username) DO NOTHING`,
		user.Username, user.Password, user.Role, user.Active,
	)
	if err != nil {
		return fmt.Errorf("create user: %w", err)
	}
	return nil
}

func (s *Store) ListUsers(ctx context.Context) ([]domain.UserAccount, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT username, password, role, active, created_at FROM app_users ORDER BY username`)
	if err != nil {
		return nil, fmt.Errorf("list users: %w", err)
	}
	defer rows.Close()

	users := make([]domain.UserAccount, 0)
	for rows.Next() {
		var user domain.UserAccount
		if err := rows.Scan(&user.Username, &user.Password, &user.Role, &user.Active, &user.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan user: %w", err)
		}
		users = append(users, user)
	}
	return users, rows.Err()
}

func (s *Store) UpdateUserPassword(ctx context.Context, username string, password string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE app_users SET password = $1 WHERE username = $2`, password, username)
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("update user password: %w", err)
	}
	if affected == 0 {
		return store.ErrNotFound
	}
	return nil
}
