package catalog

import (
	"context"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/satguru/tiffin/internal/entity"
	"github.com/satguru/tiffin/pkg/calendar"
	"github.com/satguru/tiffin/pkg/errorbank"
)

// Selection is a value picked for one option. Checkbox options may appear several times.
type Selection struct {
	GroupID  int64  `json:"group_id"`
	OptionID string `json:"option_id"`
	Value    string `json:"value"`
}

// AddonSelection requests a quantity of a meal add-on.
type AddonSelection struct {
	AddonID  int64 `json:"addon_id"`
	Quantity int   `json:"quantity"`
}

// PriceRequest describes a configured line item.
type PriceRequest struct {
	ProductID int64            `json:"product_id"`
	Quantity  int              `json:"quantity"`
	Options   []Selection      `json:"options"`
	Addons    []AddonSelection `json:"addons"`
}

// Quote is the priced result of a PriceRequest.
type Quote struct {
	ProductID   int64                   `json:"product_id"`
	ProductName string                  `json:"product_name"`
	Quantity    int                     `json:"quantity"`
	BasePrice   decimal.Decimal         `json:"base_price"`
	UnitPrice   decimal.Decimal         `json:"unit_price"`
	AddonTotal  decimal.Decimal         `json:"addon_total"`
	LineTotal   decimal.Decimal         `json:"line_total"`
	Options     []entity.SelectedOption `json:"options"`
	Addons      []entity.AddonLine      `json:"addons"`
}

type optionKey struct {
	group  int64
	option string
}

var one = decimal.NewFromInt(1)

// Quote prices a configured product: the unit price is the base price plus fixed
// adjustments, scaled by every selected multiplier; add-ons are added per line.
func (s *Service) Quote(ctx context.Context, req PriceRequest) (*Quote, error) {
	ctx, span := serviceTracer.Start(ctx, "CatalogService.Quote", trace.WithAttributes(attribute.Int64("product.id", req.ProductID)))
	defer span.End()

	product, err := s.store.GetProduct(ctx, req.ProductID)
	if err != nil {
		return nil, notFoundOr(err, "product")
	}
	if product.Status != entity.CatalogActive {
		return nil, errorbank.BadRequest(fmt.Sprintf("product %q is not available", product.Name))
	}
	groups, err := s.OptionsForProduct(ctx, product.ID)
	if err != nil {
		return nil, err
	}

	quantity := req.Quantity
	if quantity <= 0 {
		quantity = 1
	}
	quote := &Quote{
		ProductID:   product.ID,
		ProductName: product.Name,
		Quantity:    quantity,
		BasePrice:   product.BasePrice,
		AddonTotal:  decimal.Zero,
	}

	defs := make(map[optionKey]entity.OptionDefinition)
	for _, g := range groups {
		for _, opt := range g.Options {
			defs[optionKey{g.ID, opt.ID}] = opt
		}
	}

	fixed := decimal.Zero
	multiplier := one
	picked := make(map[optionKey]int)
	for _, sel := range req.Options {
		key := optionKey{sel.GroupID, sel.OptionID}
		def, ok := defs[key]
		if !ok {
			return nil, errorbank.BadRequest(fmt.Sprintf("unknown option %q", sel.OptionID))
		}
		value := strings.TrimSpace(sel.Value)
		if value == "" {
			continue
		}
		picked[key]++
		if picked[key] > 1 && def.Type != entity.OptionCheckbox {
			return nil, errorbank.BadRequest(fmt.Sprintf("option %q accepts a single value", def.Name))
		}

		line := entity.SelectedOption{GroupID: sel.GroupID, OptionID: def.ID, Name: def.Name, Value: value, Label: value}
		if def.HasChoices() {
			choice, ok := findChoice(def, value)
			if !ok {
				return nil, errorbank.BadRequest(fmt.Sprintf("invalid choice %q for option %q", value, def.Name))
			}
			line.Label = choice.Label
			if choice.PriceType == entity.PriceMultiplier {
				multiplier = multiplier.Mul(choice.Multiplier)
			} else {
				fixed = fixed.Add(choice.PriceAdjustment)
				line.Price = choice.PriceAdjustment
			}
		} else {
			if def.Type == entity.OptionDate {
				if _, err := calendar.Parse(value); err != nil {
					return nil, errorbank.BadRequest(fmt.Sprintf("option %q needs a date", def.Name))
				}
			}
			fixed = fixed.Add(def.PriceAdjustment)
			line.Price = def.PriceAdjustment
		}
		quote.Options = append(quote.Options, line)
	}

	for key, def := range defs {
		if def.Required && picked[key] == 0 {
			return nil, errorbank.BadRequest(fmt.Sprintf("option %q is required", def.Name))
		}
	}

	quote.UnitPrice = product.BasePrice.Add(fixed).Mul(multiplier).Round(2)

	for _, sel := range req.Addons {
		line, err := s.priceAddon(ctx, sel)
		if err != nil {
			return nil, err
		}
		quote.Addons = append(quote.Addons, line)
		quote.AddonTotal = quote.AddonTotal.Add(line.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	quote.LineTotal = quote.UnitPrice.Mul(decimal.NewFromInt(int64(quantity))).Add(quote.AddonTotal).Round(2)
	return quote, nil
}

func (s *Service) priceAddon(ctx context.Context, sel AddonSelection) (entity.AddonLine, error) {
	if sel.Quantity <= 0 {
		return entity.AddonLine{}, errorbank.BadRequest("add-on quantity must be positive")
	}
	addon, err := s.store.GetAddon(ctx, sel.AddonID)
	if err != nil {
		return entity.AddonLine{}, notFoundOr(err, "add-on")
	}
	if addon.Status != entity.CatalogActive {
		return entity.AddonLine{}, errorbank.BadRequest(fmt.Sprintf("add-on %q is not available", addon.Name))
	}
	if addon.MaxQuantity > 0 && sel.Quantity > addon.MaxQuantity {
		return entity.AddonLine{}, errorbank.BadRequest(
			fmt.Sprintf("add-on %q allows at most %d", addon.Name, addon.MaxQuantity),
			errorbank.WithDetail("max_quantity", addon.MaxQuantity))
	}
	return entity.AddonLine{AddonID: addon.ID, Name: addon.Name, Quantity: sel.Quantity, Price: addon.Price}, nil
}

func findChoice(def entity.OptionDefinition, value string) (entity.OptionChoice, bool) {
	for _, c := range def.Choices {
		if c.Value == value {
			return c, true
		}
	}
	return entity.OptionChoice{}, false
}
