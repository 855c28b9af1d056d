package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// InventoryState is the singleton aggregate tracking held USDT and its
// weighted-average cost basis. AvgCostIlsPerUsdt is always recomputed from
// TotalCostIls / UsdtBalance after a mutation, never stored independently.
type InventoryState struct {
	UsdtBalance       decimal.Decimal `json:"usdt_balance"`
	TotalCostIls      decimal.Decimal `json:"total_cost_ils"`
	AvgCostIlsPerUsdt decimal.Decimal `json:"avg_cost_ils_per_usdt"`
	UpdatedAt         time.Time       `json:"updated_at"`
}

type LedgerEntry struct {
	ID           string           `json:"id"`
	Kind         string           `json:"kind"`
	AmountUsdt   decimal.Decimal  `json:"amount_usdt"`
	UnitPriceIls *decimal.Decimal `json:"unit_price_ils,omitempty"`
	OrderID      string           `json:"order_id,omitempty"`
	Note         string           `json:"note,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
}

type Order struct {
	ID                   string           `json:"id"`
	FullName             string           `json:"full_name"`
	Phone                string           `json:"phone"`
	City                 string           `json:"city"`
	AmountUsdt           decimal.Decimal  `json:"amount_usdt"`
	PaymentMethod        string           `json:"payment_method"`
	Notes                string           `json:"notes,omitempty"`
	Status               string           `json:"status"`
	SellPriceIlsPerUsdt  *decimal.Decimal `json:"sell_price_ils_per_usdt,omitempty"`
	BuyAvgCostIlsPerUsdt *decimal.Decimal `json:"buy_avg_cost_ils_per_usdt,omitempty"`
	UsdIlsRate           *decimal.Decimal `json:"usd_ils_rate,omitempty"`
	ProfitIls            *decimal.Decimal `json:"profit_ils,omitempty"`
	ProfitUsd            *decimal.Decimal `json:"profit_usd,omitempty"`
	CancelNote           string           `json:"cancel_note,omitempty"`
	CreatedAt            time.Time        `json:"created_at"`
	CompletedAt          *time.Time       `json:"completed_at,omitempty"`
}

type OrderCreateRequest struct {
	FullName      string          `json:"full_name"`
	Phone         string          `json:"phone"`
	City          string          `json:"city"`
	AmountUsdt    decimal.Decimal `json:"amount_usdt"`
	PaymentMethod string          `json:"payment_method"`
	Notes         string          `json:"notes,omitempty"`
}

type OrderCompleteRequest struct {
	// Optional override; when nil the current AppSettings sell price is used.
	SellPriceIlsPerUsdt *decimal.Decimal `json:"sell_price_ils_per_usdt,omitempty"`
}

type OrderCancelRequest struct {
	Note string `json:"note,omitempty"`
}

// OrderFilter selects orders for listing and reporting. When Status is
// "completed" the date range applies to completed_at, otherwise created_at.
type OrderFilter struct {
	Status string
	From   *time.Time
	To     *time.Time
	Limit  int
}

type OrderListResponse struct {
	Orders []Order `json:"orders"`
}

type AddBatchRequest struct {
	AmountUsdt         decimal.Decimal `json:"amount_usdt"`
	BuyPriceIlsPerUsdt decimal.Decimal `json:"buy_price_ils_per_usdt"`
	Note               string          `json:"note,omitempty"`
}

type AdjustInventoryRequest struct {
	AmountUsdt decimal.Decimal `json:"amount_usdt"`
	Note       string          `json:"note,omitempty"`
	// Optional for positive adjustments: blend the found units into the cost
	// basis at this price. When nil, positive units are valued at the current
	// average cost so the average is unchanged.
	UnitCostIls *decimal.Decimal `json:"unit_cost_ils,omitempty"`
}

type InventoryResponse struct {
	State  InventoryState `json:"state"`
	Ledger []LedgerEntry  `json:"ledger"`
}

// AppSettings is the singleton holding the currently quoted sell price.
type AppSettings struct {
	SellPriceIlsPerUsdt *decimal.Decimal `json:"sell_price_ils_per_usdt"`
	UpdatedAt           time.Time       `json:"updated_at"`
}

type SellPriceUpdateRequest struct {
	SellPriceIlsPerUsdt decimal.Decimal `json:"sell_price_ils_per_usdt"`
}

type ResetRequest struct {
	Confirm string `json:"confirm"`
}

type RateResponse struct {
	Rate      decimal.Decimal `json:"rate"`
	Source    string          `json:"source"`
	FetchedAt time.Time       `json:"fetched_at"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	Username  string
	Password  string
	Role      string
	Active    bool
	CreatedAt time.Time
}

const (
	OrderStatusNew       = "new"
	OrderStatusCompleted = "completed"
	OrderStatusCancelled = "cancelled"
)

const (
	PaymentMethodBit             = "BIT"
	PaymentMethodCashMeetup      = "CASH_MEETUP"
	PaymentMethodCashWithoutCard = "CASH_WITHOUT_CARD"
)

const (
	LedgerKindPurchase   = "purchase"
	LedgerKindAdjustment = "adjustment"
	LedgerKindSale       = "sale"
)

// ResetConfirmText must be supplied verbatim to the admin reset endpoint.
const ResetConfirmText = "DELETE_ALL_DATA_FOREVER"

func IsSupportedPaymentMethod(method string) bool {
	switch method {
	case PaymentMethodBit, PaymentMethodCashMeetup, PaymentMethodCashWithoutCard:
		return true
	}
	return false
}

// IsTerminalStatus reports whether no further transition is permitted.
func IsTerminalStatus(status string) bool {
	return status == OrderStatusCompleted || status == OrderStatusCancelled
}
