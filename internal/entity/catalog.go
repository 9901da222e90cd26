package entity

import (
	"time"

	"github.com/shopspring/decimal"
	"github.com/uptrace/bun"
)

// Catalog record statuses.
const (
	CatalogActive   = "active"
	CatalogInactive = "inactive"
)

// Product is a sellable meal plan.
type Product struct {
	bun.BaseModel `bun:"table:products,alias:p"`

	ID        int64           `bun:",pk,autoincrement" json:"id"`
	Name      string          `bun:"name" json:"name"`
	SKU       string          `bun:"sku" json:"sku"`
	BasePrice decimal.Decimal `bun:"base_price,type:decimal(12,2)" json:"base_price"`
	Status    string          `bun:"status" json:"status"`
	CreatedAt time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt time.Time       `bun:"updated_at,nullzero" json:"updated_at"`
}

// Option input types.
const (
	OptionRadio    = "radio"
	OptionSelect   = "select"
	OptionCheckbox = "checkbox"
	OptionText     = "text"
	OptionDate     = "date"
	OptionImage    = "image"
)

// Choice price types.
const (
	PriceFixed      = "fixed"
	PriceMultiplier = "multiplier"
)

// OptionGroup bundles configurable options applied to a set of products.
type OptionGroup struct {
	bun.BaseModel `bun:"table:option_groups,alias:og"`

	ID         int64              `bun:",pk,autoincrement" json:"id"`
	Title      string             `bun:"title" json:"title"`
	Status     string             `bun:"status" json:"status"`
	Priority   int                `bun:"priority" json:"priority"`
	Options    []OptionDefinition `bun:"options,type:text" json:"options"`
	ProductIDs []int64            `bun:"product_ids,type:text" json:"product_ids"`
	CreatedAt  time.Time          `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt  time.Time          `bun:"updated_at,nullzero" json:"updated_at"`
}

// AppliesTo reports whether the group targets productID.
func (g *OptionGroup) AppliesTo(productID int64) bool {
	for _, id := range g.ProductIDs {
		if id == productID {
			return true
		}
	}
	return false
}

// OptionDefinition describes one input of an option group.
type OptionDefinition struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"`
	Type     string         `json:"type"`
	Required bool           `json:"required"`
	Choices  []OptionChoice `json:"choices,omitempty"`
	// PriceAdjustment applies to text and date inputs when a value is supplied.
	PriceAdjustment decimal.Decimal `json:"price_adjustment"`
}

// HasChoices reports whether the option is picked from a list.
func (o OptionDefinition) HasChoices() bool {
	switch o.Type {
	case OptionRadio, OptionSelect, OptionCheckbox, OptionImage:
		return true
	}
	return false
}

// OptionChoice is a selectable value of an option.
type OptionChoice struct {
	Value           string          `json:"value"`
	Label           string          `json:"label"`
	ImageURL        string          `json:"image_url,omitempty"`
	PriceType       string          `json:"price_type"`
	PriceAdjustment decimal.Decimal `json:"price_adjustment"`
	Multiplier      decimal.Decimal `json:"multiplier"`
}

// MealAddon is an extra that can be attached to an order item.
type MealAddon struct {
	bun.BaseModel `bun:"table:meal_addons,alias:ma"`

	ID          int64           `bun:",pk,autoincrement" json:"id"`
	Name        string          `bun:"name" json:"name"`
	Description string          `bun:"description" json:"description"`
	Price       decimal.Decimal `bun:"price,type:decimal(12,2)" json:"price"`
	MaxQuantity int             `bun:"max_quantity" json:"max_quantity"`
	Status      string          `bun:"status" json:"status"`
	CreatedAt   time.Time       `bun:"created_at,nullzero,notnull,default:CURRENT_TIMESTAMP" json:"created_at"`
	UpdatedAt   time.Time       `bun:"updated_at,nullzero" json:"updated_at"`
}
