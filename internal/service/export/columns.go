package export

import (
	"fmt"
	"sort"
	"strings"

	"github.com/satguru/tiffin/internal/entity"
	"github.com/satguru/tiffin/internal/tiffin"
	"github.com/satguru/tiffin/pkg/calendar"
)

// Columns is the order sheet header, in output order.
var Columns = []string{
	"Order ID",
	"Customer",
	"Phone",
	"Email",
	"Start Date",
	"Preferred Days",
	"Products",
	"Quantity",
	"Boxes",
	"Want to Customize?",
	"Veg/Non-Veg",
	"Delivery",
	"Addons",
	"Notes",
	"Address",
	"City",
	"Postal Code",
	"Status",
	"Total Tiffins",
	"Remaining Tiffins",
}

// DetailColumns extend Columns in the export of selected orders.
var DetailColumns = []string{
	"Order Date",
	"Order Total",
	"Payment Method",
	"Billing Address",
	"Shipping Address",
	"Customer Notes",
}

const listSep = " | "

func orderRow(o *entity.Order, on calendar.Date) []string {
	var (
		starts    []calendar.Date
		days      []string
		products  []string
		customize []string
		meals     []string
		addons    []string
		quantity  int
	)
	for _, item := range o.Items {
		switch {
		case !item.StartDate.IsZero():
			starts = append(starts, item.StartDate)
		case !item.DeliveryDate.IsZero():
			starts = append(starts, item.DeliveryDate)
		}
		days = appendUnique(days, item.PreferredDays)
		products = append(products, fmt.Sprintf("%s x %d", item.ProductName, max(item.Quantity, 1)))
		customize = appendUnique(customize, item.Customize)
		meals = appendUnique(meals, item.MealType)
		for _, a := range item.Addons {
			addons = append(addons, fmt.Sprintf("%s x %d", a.Name, a.Quantity))
		}
		quantity += max(item.Quantity, 1)
	}
	start := ""
	if len(starts) > 0 {
		sort.Slice(starts, func(i, j int) bool { return starts[i].Before(starts[j]) })
		start = starts[0].String()
	}

	return []string{
		fmt.Sprint(o.ID),
		o.CustomerName,
		o.Phone,
		o.Email,
		start,
		strings.Join(days, listSep),
		strings.Join(products, ", "),
		fmt.Sprint(quantity),
		fmt.Sprint(tiffin.BoxesForDate(o, on)),
		strings.Join(customize, listSep),
		strings.Join(meals, listSep),
		o.DeliveryMethod,
		strings.Join(addons, ", "),
		o.CustomerNote,
		o.Address,
		o.City,
		o.PostalCode,
		o.Status,
		fmt.Sprint(tiffin.TotalTiffins(o)),
		fmt.Sprint(tiffin.RemainingTiffins(o, on)),
	}
}

func detailRow(o *entity.Order, on calendar.Date, notes []*entity.OrderNote) []string {
	history := make([]string, 0, len(notes))
	for _, n := range notes {
		history = append(history, n.Note)
	}
	return append(orderRow(o, on),
		o.CreatedAt.Format("2006-01-02 15:04"),
		o.Total.StringFixed(2),
		o.PaymentMethod,
		o.BillingAddress,
		o.ShippingAddress,
		strings.Join(history, "; "),
	)
}

func appendUnique(list []string, v string) []string {
	v = strings.TrimSpace(v)
	if v == "" {
		return list
	}
	for _, existing := range list {
		if existing == v {
			return list
		}
	}
	return append(list, v)
}
