package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.uber.org/zap"

	"github.com/satguru/tiffin/internal/entity"
	ordersvc "github.com/satguru/tiffin/internal/service/order"
	"github.com/satguru/tiffin/pkg/calendar"
	"github.com/satguru/tiffin/pkg/errorbank"
)

const maxImportSize = 10 << 20

// RowError reports why a sheet row was not imported.
type RowError struct {
	Row     int    `json:"row"`
	Message string `json:"message"`
}

// ImportResult summarises an import run.
type ImportResult struct {
	Created int        `json:"created"`
	Updated int        `json:"updated"`
	Skipped int        `json:"skipped"`
	Errors  []RowError `json:"errors,omitempty"`
}

type record struct {
	num    int
	values map[string]string
}

func (r record) get(col string) string {
	return strings.TrimSpace(r.values[strings.ToLower(col)])
}

func (r record) has(col string) bool {
	_, ok := r.values[strings.ToLower(col)]
	return ok
}

// Import reads orders from a CSV or XLSX file. Rows naming an existing order id update
// that order; other rows create a new single-item order. Row failures are collected.
func (s *Service) Import(ctx context.Context, filename string, r io.Reader, actor string) (*ImportResult, error) {
	ctx, span := serviceTracer.Start(ctx, "ExportService.Import")
	defer span.End()

	data, err := io.ReadAll(io.LimitReader(r, maxImportSize+1))
	if err != nil {
		return nil, errorbank.BadRequest("failed to read upload", errorbank.WithCause(err))
	}
	if len(data) > maxImportSize {
		return nil, errorbank.BadRequest("import file is too large")
	}

	var rows [][]string
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".csv":
		rows, err = readCSV(data)
	case ".xlsx", ".xlsm":
		rows, err = readXLSX(data)
	default:
		return nil, errorbank.BadRequest("upload a .csv or .xlsx file")
	}
	if err != nil {
		return nil, errorbank.BadRequest("could not parse import file", errorbank.WithCause(err))
	}
	if len(rows) < 2 {
		return nil, errorbank.BadRequest("import file has no data rows")
	}

	records := toRecords(rows)
	products, err := s.productIndex(ctx)
	if err != nil {
		return nil, err
	}

	result := &ImportResult{}
	for _, rec := range records {
		created, err := s.importRow(ctx, rec, products, actor)
		switch {
		case errors.Is(err, errBlankRow):
			result.Skipped++
		case err != nil:
			result.Skipped++
			result.Errors = append(result.Errors, RowError{Row: rec.num, Message: rowMessage(err)})
		case created:
			result.Created++
		default:
			result.Updated++
		}
	}
	s.logger.Info("orders imported",
		zap.String("file", filepath.Base(filename)),
		zap.Int("created", result.Created),
		zap.Int("updated", result.Updated),
		zap.Int("skipped", result.Skipped))
	return result, nil
}

var errBlankRow = errors.New("blank row")

func rowMessage(err error) string {
	var appErr *errorbank.AppError
	if errors.As(err, &appErr) {
		return appErr.Message()
	}
	return err.Error()
}

func readCSV(data []byte) ([][]string, error) {
	data = bytes.TrimPrefix(data, []byte("\xef\xbb\xbf"))
	cr := csv.NewReader(bytes.NewReader(data))
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	return cr.ReadAll()
}

func readXLSX(data []byte) ([][]string, error) {
	f, err := excelize.OpenReader(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	defer f.Close()
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, errors.New("workbook has no sheets")
	}
	return f.GetRows(sheets[0])
}

func toRecords(rows [][]string) []record {
	header := make([]string, len(rows[0]))
	for i, h := range rows[0] {
		header[i] = strings.ToLower(strings.TrimSpace(h))
	}
	out := make([]record, 0, len(rows)-1)
	for i, row := range rows[1:] {
		rec := record{num: i + 2, values: make(map[string]string, len(header))}
		for j, name := range header {
			if name == "" {
				continue
			}
			if j < len(row) {
				rec.values[name] = row[j]
			} else {
				rec.values[name] = ""
			}
		}
		out = append(out, rec)
	}
	return out
}

func (s *Service) productIndex(ctx context.Context) (map[string]int64, error) {
	products, err := s.products.Products(ctx)
	if err != nil {
		return nil, err
	}
	index := make(map[string]int64, len(products))
	for _, p := range products {
		index[strings.ToLower(strings.TrimSpace(p.Name))] = p.ID
	}
	return index, nil
}

func (s *Service) importRow(ctx context.Context, rec record, products map[string]int64, actor string) (bool, error) {
	blank := true
	for _, v := range rec.values {
		if strings.TrimSpace(v) != "" {
			blank = false
			break
		}
	}
	if blank {
		return false, errBlankRow
	}

	if idText := rec.get("Order ID"); idText != "" {
		id, err := strconv.ParseInt(strings.TrimPrefix(idText, "#"), 10, 64)
		if err != nil {
			return false, fmt.Errorf("invalid order id %q", idText)
		}
		if _, err := s.orders.Get(ctx, id); err == nil {
			_, err := s.orders.UpdateDetails(ctx, id, detailsFrom(rec), actor)
			return false, err
		}
	}

	req, err := checkoutFrom(rec, products)
	if err != nil {
		return false, err
	}
	order, err := s.orders.Create(ctx, req)
	if err != nil {
		return false, err
	}
	if status := strings.ToLower(rec.get("Status")); status != "" && status != entity.StatusProcessing {
		if _, err := s.orders.UpdateDetails(ctx, order.ID, ordersvc.DetailsUpdate{Status: &status}, actor); err != nil {
			s.logger.Warn("imported order status not applied", zap.Int64("order_id", order.ID), zap.Error(err))
		}
	}
	return true, nil
}

func detailsFrom(rec record) ordersvc.DetailsUpdate {
	var u ordersvc.DetailsUpdate
	field := func(col string) *string {
		if !rec.has(col) {
			return nil
		}
		v := rec.get(col)
		if v == "" {
			return nil
		}
		return &v
	}
	u.CustomerName = field("Customer")
	u.Phone = field("Phone")
	u.Email = field("Email")
	u.Address = field("Address")
	u.City = field("City")
	u.PostalCode = field("Postal Code")
	u.CustomerNote = field("Notes")
	u.Status = field("Status")
	u.BillingAddress = field("Billing Address")
	u.ShippingAddress = field("Shipping Address")
	return u
}

func checkoutFrom(rec record, products map[string]int64) (ordersvc.CheckoutRequest, error) {
	name := rec.get("Products")
	if i := strings.LastIndex(name, " x "); i > 0 {
		name = name[:i]
	}
	productID, ok := products[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return ordersvc.CheckoutRequest{}, fmt.Errorf("unknown product %q", rec.get("Products"))
	}

	start, err := calendar.Parse(rec.get("Start Date"))
	if err != nil {
		return ordersvc.CheckoutRequest{}, fmt.Errorf("invalid start date %q", rec.get("Start Date"))
	}
	quantity := 1
	if q := rec.get("Quantity"); q != "" {
		if quantity, err = strconv.Atoi(q); err != nil || quantity <= 0 {
			return ordersvc.CheckoutRequest{}, fmt.Errorf("invalid quantity %q", q)
		}
	}
	tiffins, err := strconv.Atoi(rec.get("Total Tiffins"))
	if err != nil || tiffins <= 0 {
		return ordersvc.CheckoutRequest{}, fmt.Errorf("invalid total tiffins %q", rec.get("Total Tiffins"))
	}

	return ordersvc.CheckoutRequest{
		CustomerName:    rec.get("Customer"),
		Phone:           rec.get("Phone"),
		Email:           rec.get("Email"),
		Address:         rec.get("Address"),
		City:            rec.get("City"),
		PostalCode:      rec.get("Postal Code"),
		BillingAddress:  rec.get("Billing Address"),
		ShippingAddress: rec.get("Shipping Address"),
		DeliveryMethod:  rec.get("Delivery"),
		PaymentMethod:   rec.get("Payment Method"),
		CustomerNote:    rec.get("Notes"),
		Note:            "Imported from spreadsheet",
		Items: []ordersvc.CheckoutItem{{
			ProductID:       productID,
			Quantity:        quantity,
			StartDate:       start,
			PreferredDays:   rec.get("Preferred Days"),
			NumberOfTiffins: tiffins,
			Customize:       rec.get("Want to Customize?"),
			MealType:        rec.get("Veg/Non-Veg"),
		}},
	}, nil
}
