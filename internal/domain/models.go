package domain

import "time"

type Item struct {
	ID         int64     `json:"id"`
	Name       string    `json:"name"`
	PriceCents int64     `json:"price_cents"`
	Stock      int       `json:"stock"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ItemCreateRequest struct {
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`
}

type ItemUpdateRequest struct {
	Name       *string `json:"name,omitempty"`
	PriceCents *int64  `json:"price_cents,omitempty"`
	Stock      *int    `json:"stock,omitempty"`
}

type StockAdjustRequest struct {
	Delta int `json:"delta"`
}

type ItemResponse struct {
	Item Item `json:"item"`
}

type ItemListResponse struct {
	Items []Item `json:"items"`
}

type CartLine struct {
	ItemID   int64 `json:"item_id"`
	Quantity int   `json:"quantity"`
}

type TransactionCreateRequest struct {
	Items []CartLine `json:"items"`
}

// TransactionLine snapshots the item at time of sale. ItemID goes nil
// when the catalog row is deleted after the sale.
type TransactionLine struct {
	ItemID     *int64 `json:"item_id"`
	ItemName   string `json:"item_name"`
	PriceCents int64  `json:"price_cents"`
	Quantity   int    `json:"quantity"`
}

type Transaction struct {
	ID         int64             `json:"id"`
	Status     string            `json:"status"`
	TotalCents int64             `json:"total_cents"`
	ItemsCount int               `json:"items_count"`
	CreatedAt  time.Time         `json:"created_at"`
	VoidedAt   *time.Time        `json:"voided_at,omitempty"`
	Items      []TransactionLine `json:"items"`
}

type TransactionResponse struct {
	Transaction Transaction `json:"transaction"`
}

type TransactionListResponse struct {
	Date         string        `json:"date"`
	Transactions []Transaction `json:"transactions"`
}

// SkippedRestock records a void line whose stock could not be returned
// because the catalog item no longer exists.
type SkippedRestock struct {
	ItemName string `json:"item_name"`
	Quantity int    `json:"quantity"`
	Reason   string `json:"reason"`
}

type VoidResponse struct {
	Transaction    Transaction      `json:"transaction"`
	SkippedRestock []SkippedRestock `json:"skipped_restock,omitempty"`
}

type ReportSummary struct {
	Date               string `json:"date"`
	Timezone           string `json:"timezone"`
	TotalTransactions  int64  `json:"total_transactions"`
	VoidedTransactions int64  `json:"voided_transactions"`
	TotalSalesCents    int64  `json:"total_sales_cents"`
	AverageSaleCents   int64  `json:"average_sale_cents"`
}

type DailyReport struct {
	Summary      ReportSummary `json:"summary"`
	Transactions []Transaction `json:"transactions"`
}

// ReportEvent is one entry of the business-day timeline. A transaction
// appears once for its sale and, if voided, a second time for the void.
type ReportEvent struct {
	TransactionID int64             `json:"transaction_id"`
	Type          string            `json:"type"`
	Status        string            `json:"status"`
	AmountCents   int64             `json:"amount_cents"`
	OccurredAt    time.Time         `json:"occurred_at"`
	Items         []TransactionLine `json:"items"`
}

type TimelineReport struct {
	Summary ReportSummary `json:"summary"`
	Events  []ReportEvent `json:"events"`
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

// DaySummary is the raw aggregate a store computes over one business day.
type DaySummary struct {
	TotalTransactions     int64
	CompletedTransactions int64
	VoidedTransactions    int64
	TotalSalesCents       int64
}

const (
	TxStatusCompleted = "completed"
	TxStatusVoided    = "voided"
)

const (
	EventTypeSale = "sale"
	EventTypeVoid = "void"
)
