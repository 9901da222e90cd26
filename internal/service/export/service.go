// Package export writes order sheets as CSV or XLSX and imports orders from them.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/satguru/tiffin/internal/entity"
	repo "github.com/satguru/tiffin/internal/repository/order"
	catalogsvc "github.com/satguru/tiffin/internal/service/catalog"
	ordersvc "github.com/satguru/tiffin/internal/service/order"
	"github.com/satguru/tiffin/pkg/calendar"
	"github.com/satguru/tiffin/pkg/errorbank"
)

var serviceTracer = otel.Tracer("github.com/satguru/tiffin/service/export")

// Format is an output file format.
type Format string

// Supported formats.
const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

const sheetName = "Orders"

// ParseFormat resolves a format name, defaulting to CSV.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "csv":
		return FormatCSV, nil
	case "xlsx", "xls", "excel":
		return FormatXLSX, nil
	}
	return "", errorbank.BadRequest(fmt.Sprintf("unsupported export format %q", s))
}

// ContentType returns the MIME type of the format.
func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// Orders is the order surface the exporter reads and the importer writes.
type Orders interface {
	Today() calendar.Date
	Find(ctx context.Context, f repo.Filter) ([]*entity.Order, error)
	Get(ctx context.Context, id int64) (*entity.Order, error)
	History(ctx context.Context, id int64) ([]*entity.OrderNote, error)
	Create(ctx context.Context, req ordersvc.CheckoutRequest) (*entity.Order, error)
	UpdateDetails(ctx context.Context, id int64, u ordersvc.DetailsUpdate, author string) (*entity.Order, error)
}

// Products resolves catalog products for imported rows.
type Products interface {
	Products(ctx context.Context) ([]*entity.Product, error)
}

// Service produces and consumes order sheets.
type Service struct {
	orders   Orders
	products Products
	logger   *zap.Logger
}

// Params defines dependencies for constructing Service.
type Params struct {
	fx.In

	Orders  *ordersvc.Service
	Catalog *catalogsvc.Service
	Logger  *zap.Logger
}

// NewService wires a Service from Fx dependencies.
func NewService(p Params) *Service {
	return New(p.Orders, p.Catalog, p.Logger)
}

// New builds a Service over explicit collaborators.
func New(orders Orders, products Products, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{orders: orders, products: products, logger: logger.Named("export")}
}

// Query selects the orders of an export and the date counters are computed for.
type Query struct {
	Filter repo.Filter
	Date   calendar.Date
	// DeliveringOnly keeps orders with boxes due on Date.
	DeliveringOnly bool
}

// Sheet is a rendered table of orders.
type Sheet struct {
	Headers []string   `json:"headers"`
	Rows    [][]string `json:"rows"`
}

// Build renders the orders selected by q.
func (s *Service) Build(ctx context.Context, q Query) (*Sheet, error) {
	ctx, span := serviceTracer.Start(ctx, "ExportService.Build")
	defer span.End()

	if q.Date.IsZero() {
		q.Date = s.orders.Today()
	}
	orders, err := s.orders.Find(ctx, q.Filter)
	if err != nil {
		return nil, err
	}
	sheet := &Sheet{Headers: Columns, Rows: make([][]string, 0, len(orders))}
	for _, o := range orders {
		row := orderRow(o, q.Date)
		if q.DeliveringOnly && row[8] == "0" {
			continue
		}
		sheet.Rows = append(sheet.Rows, row)
	}
	span.SetAttributes(attribute.Int("rows", len(sheet.Rows)))
	return sheet, nil
}

// BuildByIDs renders the selected orders with their detail columns.
func (s *Service) BuildByIDs(ctx context.Context, ids []int64) (*Sheet, error) {
	ctx, span := serviceTracer.Start(ctx, "ExportService.BuildByIDs", trace.WithAttributes(attribute.Int("ids", len(ids))))
	defer span.End()

	if len(ids) == 0 {
		return nil, errorbank.BadRequest("no order ids supplied")
	}
	orders, err := s.orders.Find(ctx, repo.Filter{IDs: ids})
	if err != nil {
		return nil, err
	}
	if len(orders) == 0 {
		return nil, errorbank.NotFound("no orders found for the given ids")
	}
	today := s.orders.Today()
	headers := append(append([]string{}, Columns...), DetailColumns...)
	sheet := &Sheet{Headers: headers, Rows: make([][]string, 0, len(orders))}
	for _, o := range orders {
		notes, err := s.orders.History(ctx, o.ID)
		if err != nil {
			s.logger.Warn("order history unavailable for export", zap.Int64("order_id", o.ID), zap.Error(err))
		}
		sheet.Rows = append(sheet.Rows, detailRow(o, today, notes))
	}
	return sheet, nil
}

// Write encodes sheet in the requested format.
func Write(w io.Writer, format Format, sheet *Sheet) error {
	if format == FormatXLSX {
		return writeXLSX(w, sheet)
	}
	return writeCSV(w, sheet)
}

func writeCSV(w io.Writer, sheet *Sheet) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(sheet.Headers); err != nil {
		return err
	}
	if err := cw.WriteAll(sheet.Rows); err != nil {
		return err
	}
	return cw.Error()
}

func writeXLSX(w io.Writer, sheet *Sheet) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", sheetName); err != nil {
		return err
	}
	write := func(rowNum int, values []string) error {
		cell, err := excelize.CoordinatesToCellName(1, rowNum)
		if err != nil {
			return err
		}
		row := make([]any, len(values))
		for i, v := range values {
			row[i] = v
		}
		return f.SetSheetRow(sheetName, cell, &row)
	}
	if err := write(1, sheet.Headers); err != nil {
		return err
	}
	for i, values := range sheet.Rows {
		if err := write(i+2, values); err != nil {
			return err
		}
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return err
	}
	lastCol, err := excelize.ColumnNumberToName(len(sheet.Headers))
	if err != nil {
		return err
	}
	if err := f.SetCellStyle(sheetName, "A1", lastCol+"1", bold); err != nil {
		return err
	}
	if err := f.SetColWidth(sheetName, "A", lastCol, 18); err != nil {
		return err
	}
	return f.Write(w)
}

// WriteSample writes an import template with one example row.
func WriteSample(w io.Writer) error {
	example := []string{
		"", "Asha Patel", "4165550100", "asha@example.com", "2024-06-03", "Monday - Friday",
		"Veg Tiffin", "1", "", "No", "Veg", "Delivery", "", "Ring the bell",
		"12 King St", "Toronto", "M5H 1A1", "processing", "20", "",
	}
	return writeXLSX(w, &Sheet{Headers: Columns, Rows: [][]string{example}})
}
