package export

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"go.uber.org/zap/zaptest"

	"github.com/satguru/tiffin/internal/entity"
	repo "github.com/satguru/tiffin/internal/repository/order"
	ordersvc "github.com/satguru/tiffin/internal/service/order"
	"github.com/satguru/tiffin/pkg/calendar"
	"github.com/satguru/tiffin/pkg/errorbank"
)

type fakeOrders struct {
	orders  map[int64]*entity.Order
	created []ordersvc.CheckoutRequest
	updated map[int64]ordersvc.DetailsUpdate
	nextID  int64
}

func newFakeOrders(orders ...*entity.Order) *fakeOrders {
	f := &fakeOrders{orders: map[int64]*entity.Order{}, updated: map[int64]ordersvc.DetailsUpdate{}, nextID: 100}
	for _, o := range orders {
		f.orders[o.ID] = o
	}
	return f
}

func (f *fakeOrders) Today() calendar.Date { return calendar.MustParse("2024-06-10") }

func (f *fakeOrders) Find(_ context.Context, flt repo.Filter) ([]*entity.Order, error) {
	var out []*entity.Order
	if len(flt.IDs) > 0 {
		for _, id := range flt.IDs {
			if o, ok := f.orders[id]; ok {
				out = append(out, o)
			}
		}
		return out, nil
	}
	for id := int64(1); id <= f.nextID; id++ {
		if o, ok := f.orders[id]; ok {
			out = append(out, o)
		}
	}
	return out, nil
}

func (f *fakeOrders) Get(_ context.Context, id int64) (*entity.Order, error) {
	if o, ok := f.orders[id]; ok {
		return o, nil
	}
	return nil, errorbank.NotFound("order not found")
}

func (f *fakeOrders) History(_ context.Context, id int64) ([]*entity.OrderNote, error) {
	return []*entity.OrderNote{{OrderID: id, Note: "Tiffin paused for: 2024-06-05"}}, nil
}

func (f *fakeOrders) Create(_ context.Context, req ordersvc.CheckoutRequest) (*entity.Order, error) {
	if req.CustomerName == "" {
		return nil, errorbank.BadRequest("customer name is required")
	}
	f.created = append(f.created, req)
	f.nextID++
	o := &entity.Order{ID: f.nextID, CustomerName: req.CustomerName, Status: entity.StatusProcessing}
	f.orders[o.ID] = o
	return o, nil
}

func (f *fakeOrders) UpdateDetails(_ context.Context, id int64, u ordersvc.DetailsUpdate, _ string) (*entity.Order, error) {
	f.updated[id] = u
	return f.orders[id], nil
}

type fakeProducts struct{}

func (fakeProducts) Products(context.Context) ([]*entity.Product, error) {
	return []*entity.Product{{ID: 1, Name: "Veg Tiffin"}}, nil
}

func sampleOrder() *entity.Order {
	return &entity.Order{
		ID:           42,
		CustomerName: "Asha Patel",
		Phone:        "4165550100",
		Email:        "asha@example.com",
		City:         "Toronto",
		Status:       entity.StatusProcessing,
		Items: []*entity.OrderItem{{
			ProductName:     "Veg Tiffin",
			Quantity:        2,
			StartDate:       calendar.MustParse("2024-06-03"),
			PreferredDays:   "Monday - Friday",
			NumberOfTiffins: 10,
			MealType:        "Veg",
			Addons:          []entity.AddonLine{{Name: "Extra Roti", Quantity: 2}},
		}},
	}
}

func TestCSVHeaderMatchesDocumentedColumns(t *testing.T) {
	want := "Order ID,Customer,Phone,Email,Start Date,Preferred Days,Products,Quantity,Boxes," +
		"Want to Customize?,Veg/Non-Veg,Delivery,Addons,Notes,Address,City,Postal Code,Status," +
		"Total Tiffins,Remaining Tiffins"

	svc := New(newFakeOrders(sampleOrder()), fakeProducts{}, zaptest.NewLogger(t))
	sheet, err := svc.Build(context.Background(), Query{})
	if err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := Write(&buf, FormatCSV, sheet); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(Columns) != 20 || lines[0] != want {
		t.Fatalf("header = %q", lines[0])
	}
	if len(lines) != 2 {
		t.Fatalf("expected one data row, got %d lines", len(lines))
	}
}

func TestBuildComputesCounters(t *testing.T) {
	svc := New(newFakeOrders(sampleOrder()), fakeProducts{}, zaptest.NewLogger(t))
	sheet, err := svc.Build(context.Background(), Query{Date: calendar.MustParse("2024-06-10")})
	if err != nil {
		t.Fatal(err)
	}
	row := sheet.Rows[0]
	checks := map[string]string{
		"Order ID":          "42",
		"Start Date":        "2024-06-03",
		"Products":          "Veg Tiffin x 2",
		"Boxes":             "2",
		"Addons":            "Extra Roti x 2",
		"Total Tiffins":     "10",
		"Remaining Tiffins": "5",
	}
	for i, col := range Columns {
		if want, ok := checks[col]; ok && row[i] != want {
			t.Errorf("%s = %q, want %q", col, row[i], want)
		}
	}

	saturday, err := svc.Build(context.Background(), Query{Date: calendar.MustParse("2024-06-08"), DeliveringOnly: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(saturday.Rows) != 0 {
		t.Fatalf("weekday plan listed on saturday")
	}
}

func TestBuildByIDsAddsDetailColumns(t *testing.T) {
	svc := New(newFakeOrders(sampleOrder()), fakeProducts{}, zaptest.NewLogger(t))
	sheet, err := svc.BuildByIDs(context.Background(), []int64{42})
	if err != nil {
		t.Fatal(err)
	}
	if len(sheet.Headers) != 26 || sheet.Headers[20] != "Order Date" {
		t.Fatalf("headers = %v", sheet.Headers)
	}
	if got := sheet.Rows[0][25]; got != "Tiffin paused for: 2024-06-05" {
		t.Fatalf("history column = %q", got)
	}
	if _, err := svc.BuildByIDs(context.Background(), nil); err == nil {
		t.Fatalf("empty id list accepted")
	}
}

func TestSampleWorkbookImports(t *testing.T) {
	orders := newFakeOrders()
	svc := New(orders, fakeProducts{}, zaptest.NewLogger(t))

	var buf bytes.Buffer
	if err := WriteSample(&buf); err != nil {
		t.Fatal(err)
	}
	rows, err := readXLSX(buf.Bytes())
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(rows[0], ",") != strings.Join(Columns, ",") {
		t.Fatalf("sample header = %v", rows[0])
	}

	result, err := svc.Import(context.Background(), "sample.xlsx", &buf, "admin")
	if err != nil {
		t.Fatal(err)
	}
	if result.Created != 1 || len(result.Errors) != 0 {
		t.Fatalf("result = %+v", result)
	}
	req := orders.created[0]
	if req.Items[0].NumberOfTiffins != 20 || req.Items[0].StartDate != calendar.MustParse("2024-06-03") || req.Items[0].ProductID != 1 {
		t.Fatalf("imported item = %+v", req.Items[0])
	}
}

func TestImportCSVUpdatesAndCollectsErrors(t *testing.T) {
	orders := newFakeOrders(sampleOrder())
	svc := New(orders, fakeProducts{}, zaptest.NewLogger(t))

	csvData := strings.Join([]string{
		"Order ID,Customer,Phone,Products,Start Date,Total Tiffins,City,Status",
		"42,Asha P,4165550199,,,,Mississauga,",
		",New Customer,4165550111,Veg Tiffin x 1,2024-07-01,10,Toronto,on-hold",
		",Bad Product,4165550112,Pizza,2024-07-01,10,Toronto,",
		",Bad Date,4165550113,Veg Tiffin,01/07/2024,10,Toronto,",
		",,,,,,,",
	}, "\n")

	result, err := svc.Import(context.Background(), "orders.csv", strings.NewReader(csvData), "admin")
	if err != nil {
		t.Fatal(err)
	}
	if result.Created != 1 || result.Updated != 1 || result.Skipped != 3 || len(result.Errors) != 2 {
		t.Fatalf("result = %+v", result)
	}
	if result.Errors[0].Row != 4 || !strings.Contains(result.Errors[0].Message, "unknown product") {
		t.Fatalf("errors = %+v", result.Errors)
	}
	u := orders.updated[42]
	if u.City == nil || *u.City != "Mississauga" || u.Phone == nil || *u.Phone != "4165550199" || u.Status != nil {
		t.Fatalf("update = %+v", u)
	}
	created := orders.created[0]
	if created.Items[0].Quantity != 1 || created.CustomerName != "New Customer" {
		t.Fatalf("created = %+v", created)
	}
	if u, ok := orders.updated[101]; !ok || u.Status == nil || *u.Status != "on-hold" {
		t.Fatalf("imported status not applied: %+v", u)
	}

	if _, err := svc.Import(context.Background(), "orders.txt", strings.NewReader(csvData), "admin"); err == nil {
		t.Fatalf("unsupported extension accepted")
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]Format{"": FormatCSV, "CSV": FormatCSV, "xlsx": FormatXLSX, "excel": FormatXLSX} {
		got, err := ParseFormat(in)
		if err != nil || got != want {
			t.Errorf("ParseFormat(%q) = %v, %v", in, got, err)
		}
	}
	if _, err := ParseFormat("pdf"); err == nil {
		t.Errorf("pdf accepted")
	}
}
