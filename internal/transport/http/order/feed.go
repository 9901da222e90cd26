package order

import (
	"github.com/labstack/echo/v4"
	"go.opentelemetry.io/otel/attribute"

	"github.com/satguru/tiffin/internal/presentation/http/response"
	service "github.com/satguru/tiffin/internal/service/order"
)

// FeedRow is one order on the delivery feed consumed by spreadsheets.
type FeedRow struct {
	OrderID          int64    `json:"order_id"`
	Number           string   `json:"order_number"`
	CustomerName     string   `json:"customer_name"`
	Phone            string   `json:"phone"`
	Address          string   `json:"address"`
	City             string   `json:"city"`
	PostalCode       string   `json:"postal_code"`
	DeliveryMethod   string   `json:"delivery_method"`
	CustomerNote     string   `json:"customer_note"`
	Products         []string `json:"products"`
	PreferredDays    string   `json:"preferred_days"`
	MealType         string   `json:"meal_type"`
	Boxes            int      `json:"boxes"`
	TotalTiffins     int      `json:"total_tiffins"`
	RemainingTiffins int      `json:"remaining_tiffins"`
}

func feedRows(daily []service.DailyOrder) []FeedRow {
	rows := make([]FeedRow, 0, len(daily))
	for _, d := range daily {
		o := d.Order
		row := FeedRow{
			OrderID:          o.ID,
			Number:           o.Number,
			CustomerName:     o.CustomerName,
			Phone:            o.Phone,
			Address:          o.Address,
			City:             o.City,
			PostalCode:       o.PostalCode,
			DeliveryMethod:   o.DeliveryMethod,
			CustomerNote:     o.CustomerNote,
			Boxes:            d.Boxes,
			TotalTiffins:     d.Total,
			RemainingTiffins: d.Remaining,
		}
		for _, item := range o.Items {
			row.Products = append(row.Products, item.ProductName)
			if row.PreferredDays == "" {
				row.PreferredDays = item.PreferredDays
			}
			if row.MealType == "" {
				row.MealType = item.MealType
			}
		}
		rows = append(rows, row)
	}
	return rows
}

func (h *Handler) todaysOrders(c echo.Context) error {
	b := response.New(c)

	date, err := queryDate(c, "date")
	if err != nil {
		return b.WithError(err).Build()
	}
	if date.IsZero() {
		date = h.svc.Today()
	}

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.todaysOrders")
	defer span.End()
	span.SetAttributes(attribute.String("date", date.String()))

	var daily []service.DailyOrder
	if date == h.svc.Today() {
		daily, err = h.svc.TodaysOrders(ctx)
	} else {
		daily, err = h.svc.OrdersFor(ctx, date)
	}
	if err != nil {
		return b.WithError(err).Build()
	}
	rows := feedRows(daily)
	return b.WithData(rows).WithMeta("date", date).WithMeta("count", len(rows)).Build()
}

func (h *Handler) checkPausedOrders(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.checkPausedOrders")
	defer span.End()

	report, err := h.svc.CheckPausedOrders(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}
	return b.WithData(report).Build()
}

func (h *Handler) todaysOrdersWithCheck(c echo.Context) error {
	b := response.New(c)

	ctx, span := httpTracer.Start(c.Request().Context(), "orders.todaysOrdersWithCheck")
	defer span.End()

	report, err := h.svc.CheckPausedOrders(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}
	daily, err := h.svc.TodaysOrders(ctx)
	if err != nil {
		return b.WithError(err).Build()
	}
	rows := feedRows(daily)
	return b.WithData(rows).
		WithMeta("date", h.svc.Today()).
		WithMeta("count", len(rows)).
		WithMeta("pause_check", report).
		Build()
}
