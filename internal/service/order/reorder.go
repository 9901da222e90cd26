package order

import (
	"context"
	"fmt"

	"github.com/satguru/tiffin/internal/entity"
	catalogsvc "github.com/satguru/tiffin/internal/service/catalog"
	"github.com/satguru/tiffin/pkg/calendar"
	"github.com/satguru/tiffin/pkg/errorbank"
)

// ReorderDetails summarises a past order for the reorder dialog.
type ReorderDetails struct {
	OrderID int64               `json:"order_id"`
	Number  string              `json:"number"`
	Items   []*entity.OrderItem `json:"items"`
}

// ReorderDetails returns the items of one of the customer's orders.
func (s *Service) ReorderDetails(ctx context.Context, userID, orderID int64) (*ReorderDetails, error) {
	order, err := s.GetForCustomer(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}
	return &ReorderDetails{OrderID: order.ID, Number: order.Number, Items: order.Items}, nil
}

// ProcessReorder places a new order with the same items starting on start.
// Items are priced again at current catalog prices.
func (s *Service) ProcessReorder(ctx context.Context, userID, orderID int64, start calendar.Date) (*entity.Order, error) {
	if start.IsZero() {
		return nil, errorbank.BadRequest("start date is required")
	}
	if start.Before(s.Today()) {
		return nil, errorbank.BadRequest("start date must not be in the past")
	}
	source, err := s.GetForCustomer(ctx, userID, orderID)
	if err != nil {
		return nil, err
	}

	req := CheckoutRequest{
		UserID:          source.UserID,
		CustomerName:    source.CustomerName,
		Phone:           source.Phone,
		Email:           source.Email,
		Address:         source.Address,
		City:            source.City,
		PostalCode:      source.PostalCode,
		BillingAddress:  source.BillingAddress,
		ShippingAddress: source.ShippingAddress,
		DeliveryMethod:  source.DeliveryMethod,
		PaymentMethod:   source.PaymentMethod,
		CustomerNote:    source.CustomerNote,
		Note:            fmt.Sprintf("Reordered from order %s", source.Number),
	}
	for _, item := range source.Items {
		line := CheckoutItem{
			ProductID:       item.ProductID,
			Quantity:        item.Quantity,
			PreferredDays:   item.PreferredDays,
			NumberOfTiffins: item.NumberOfTiffins,
			Customize:       item.Customize,
			MealType:        item.MealType,
		}
		if item.StartDate.IsZero() {
			line.DeliveryDate = start
		} else {
			line.StartDate = start
		}
		for _, opt := range item.Options {
			line.Options = append(line.Options, catalogsvc.Selection{GroupID: opt.GroupID, OptionID: opt.OptionID, Value: opt.Value})
		}
		for _, addon := range item.Addons {
			line.Addons = append(line.Addons, catalogsvc.AddonSelection{AddonID: addon.AddonID, Quantity: addon.Quantity})
		}
		req.Items = append(req.Items, line)
	}
	return s.Create(ctx, req)
}
