package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"

	"github.com/satguru/tiffin/pkg/calendar"
)

// Order statuses. StatusPaused is the subscription-specific addition to the usual lifecycle.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusOnHold     = "on-hold"
	StatusCompleted  = "completed"
	StatusCancelled  = "cancelled"
	StatusRefunded   = "refunded"
	StatusFailed     = "failed"
	StatusPaused     = "paused"
)

// ValidStatus reports whether s is a known order status.
func ValidStatus(s string) bool {
	switch s {
	case StatusPending, StatusProcessing, StatusOnHold, StatusCompleted,
		StatusCancelled, StatusRefunded, StatusFailed, StatusPaused:
		return true
	}
	return false
}

// Order is a tiffin subscription order.
type Order struct {
	bun.BaseModel `bun:"table:orders,alias:o"`

	ID                  int64            `bun:",pk,autoincrement" json:"id"`
	Number              string           `bun:"number,unique" json:"number"`
	UserID              *int64           `bun:"user_id" json:"user_id,omitempty"`
	CustomerName        string           `bun:"customer_name" json:"customer_name"`
	Phone               string           `bun:"phone" json:"phone"`
	Email               string           `bun:"email" json:"email"`
	Address             string           `bun:"address" json:"address"`
	City                string           `bun:"city" json:"city"`
	PostalCode          string           `bun:"postal_code" json:"postal_code"`
	BillingAddress      string           `bun:"billing_address" json:"billing_address"`
	ShippingAddress     string           `bun:"shipping_address" json:"shipping_address"`
	DeliveryMethod      string           `bun:"delivery_method" json:"delivery_method"`
	PaymentMethod       string           `bun:"payment_method" json:"payment_method"`
	CustomerNote        string           `bun:"customer_note" json:"customer_note"`
	Status              string           `bun:"status" json:"status"`
	Total               decimal.Decimal  `bun:"total,type:decimal(12,2)" json:"total"`
	PausedDates         calendar.DateSet `bun:"paused_dates,type:text" json:"paused_dates"`
	ScheduledPauseDates calendar.DateSet `bun:"scheduled_pause_dates,type:text" json:"scheduled_pause_dates"`
	SkippedDates        calendar.DateSet `bun:"skipped_dates,type:text" json:"skipped_dates"`
	AccessToken         string           `bun:"access_token,unique" json:"-"`
	RenewalRemindedAt   *time.Time       `bun:"renewal_reminded_at" json:"renewal_reminded_at,omitempty"`
	Version             int64            `bun:"version,notnull,default:1" json:"version"`
	CreatedAt           time.Time        `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt           time.Time        `bun:"updated_at,nullzero" json:"updated_at"`
	Items               []*OrderItem     `bun:"rel:has-many,join:id=order_id" json:"items"`
}

// OrderItem is a line of an order; each line carries its own delivery plan.
type OrderItem struct {
	bun.BaseModel `bun:"table:order_items,alias:oi"`

	ID              int64            `bun:",pk,autoincrement" json:"id"`
	OrderID         int64            `bun:"order_id" json:"order_id"`
	ProductID       int64            `bun:"product_id" json:"product_id"`
	ProductName     string           `bun:"product_name" json:"product_name"`
	Quantity        int              `bun:"quantity" json:"quantity"`
	StartDate       calendar.Date    `bun:"start_date,type:date,nullzero" json:"start_date"`
	DeliveryDate    calendar.Date    `bun:"delivery_date,type:date,nullzero" json:"delivery_date"`
	PreferredDays   string           `bun:"preferred_days" json:"preferred_days"`
	NumberOfTiffins int              `bun:"number_of_tiffins" json:"number_of_tiffins"`
	Customize       string           `bun:"customize" json:"customize"`
	MealType        string           `bun:"meal_type" json:"meal_type"`
	Addons          []AddonLine      `bun:"addons,type:text" json:"addons"`
	Options         []SelectedOption `bun:"options,type:text" json:"options"`
	UnitPrice       decimal.Decimal  `bun:"unit_price,type:decimal(12,2)" json:"unit_price"`
	LineTotal       decimal.Decimal  `bun:"line_total,type:decimal(12,2)" json:"line_total"`
}

// AddonLine records a meal add-on attached to an order item.
type AddonLine struct {
	AddonID  int64           `json:"addon_id"`
	Name     string          `json:"name"`
	Quantity int             `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// SelectedOption records a chosen product option and the price it contributed.
type SelectedOption struct {
	GroupID  int64           `json:"group_id"`
	OptionID string          `json:"option_id"`
	Name     string          `json:"name"`
	Value    string          `json:"value"`
	Label    string          `json:"label"`
	Price    decimal.Decimal `json:"price"`
}

// OrderNote is an entry in an order's history.
type OrderNote struct {
	bun.BaseModel `bun:"table:order_notes,alias:n"`

	ID        int64     `bun:",pk,autoincrement" json:"id"`
	OrderID   int64     `bun:"order_id" json:"order_id"`
	Note      string    `bun:"note" json:"note"`
	Author    string    `bun:"author" json:"author"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}

// TiffinSnapshot is the daily record of an order's tiffin counters.
type TiffinSnapshot struct {
	bun.BaseModel `bun:"table:tiffin_count_history,alias:th"`

	ID           int64         `bun:",pk,autoincrement" json:"id"`
	OrderID      int64         `bun:"order_id" json:"order_id"`
	SnapshotDate calendar.Date `bun:"snapshot_date,type:date" json:"snapshot_date"`
	Total        int           `bun:"total" json:"total"`
	Delivered    int           `bun:"delivered" json:"delivered"`
	Remaining    int           `bun:"remaining" json:"remaining"`
	Boxes        int           `bun:"boxes" json:"boxes"`
	Status       string        `bun:"status" json:"status"`
	CreatedAt    time.Time     `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
}
