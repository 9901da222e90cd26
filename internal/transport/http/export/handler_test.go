package export

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap/zaptest"

	"github.com/satguru/tiffin/internal/authz"
	"github.com/satguru/tiffin/internal/entity"
	authsvc "github.com/satguru/tiffin/internal/service/auth"
	service "github.com/satguru/tiffin/internal/service/export"
	"github.com/satguru/tiffin/internal/transport/http/middleware"
	"github.com/satguru/tiffin/pkg/calendar"
	"github.com/satguru/tiffin/pkg/errorbank"
)

type fakeExporter struct {
	query    service.Query
	filename string
	content  string
	actor    string
}

func (f *fakeExporter) Build(_ context.Context, q service.Query) (*service.Sheet, error) {
	f.query = q
	return &service.Sheet{Headers: service.Columns, Rows: [][]string{make([]string, len(service.Columns))}}, nil
}

func (f *fakeExporter) BuildByIDs(_ context.Context, ids []int64) (*service.Sheet, error) {
	if len(ids) == 0 {
		return nil, errorbank.BadRequest("no order ids supplied")
	}
	return &service.Sheet{Headers: []string{"Order ID"}, Rows: [][]string{{"42"}}}, nil
}

func (f *fakeExporter) Import(_ context.Context, filename string, r io.Reader, actor string) (*service.ImportResult, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	f.filename, f.content, f.actor = filename, string(data), actor
	return &service.ImportResult{Created: 1}, nil
}

type tokens map[string]*authsvc.Claims

func (t tokens) ParseToken(raw string) (*authsvc.Claims, error) {
	if c, ok := t[raw]; ok {
		return c, nil
	}
	return nil, errorbank.Unauthorized("invalid session token")
}

type noKeys struct{}

func (noKeys) VerifyAPIKey(context.Context, string) (bool, error) { return false, nil }

func setup(t *testing.T) (*echo.Echo, *fakeExporter) {
	t.Helper()
	enforcer, err := authz.New()
	if err != nil {
		t.Fatal(err)
	}
	guard := middleware.New(tokens{
		"admin":    {UserID: 1, Role: entity.RoleAdmin, RegisteredClaims: jwt.RegisteredClaims{Subject: "1"}},
		"customer": {UserID: 2, Role: entity.RoleCustomer, RegisteredClaims: jwt.RegisteredClaims{Subject: "2"}},
	}, noKeys{}, enforcer, zaptest.NewLogger(t))
	svc := &fakeExporter{}
	e := echo.New()
	Register(e, guard, New(svc, time.UTC))
	return e, svc
}

func serve(e *echo.Echo, req *http.Request, token string) *httptest.ResponseRecorder {
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestExportOrdersCSV(t *testing.T) {
	e, svc := setup(t)

	req := httptest.NewRequest(http.MethodGet, "/admin/export/orders?format=csv&status=processing&date=2024-06-10&created_to=2024-06-09&delivering=true", nil)
	rec := serve(e, req, "admin")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d (%s)", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get(echo.HeaderContentType); !strings.HasPrefix(ct, "text/csv") {
		t.Fatalf("content type = %q", ct)
	}
	if cd := rec.Header().Get(echo.HeaderContentDisposition); !strings.Contains(cd, "orders-2024-06-10.csv") {
		t.Fatalf("disposition = %q", cd)
	}
	if first := strings.SplitN(rec.Body.String(), "\n", 2)[0]; !strings.HasPrefix(first, "Order ID,Customer,Phone") {
		t.Fatalf("header line = %q", first)
	}
	q := svc.query
	if q.Date != calendar.MustParse("2024-06-10") || !q.DeliveringOnly || q.Filter.Statuses[0] != "processing" {
		t.Fatalf("query = %+v", q)
	}
	if want := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC); !q.Filter.CreatedTo.Equal(want) {
		t.Fatalf("created_to = %v", q.Filter.CreatedTo)
	}

	if rec := serve(e, httptest.NewRequest(http.MethodGet, "/admin/export/orders?format=pdf", nil), "admin"); rec.Code != http.StatusBadRequest {
		t.Fatalf("pdf status = %d", rec.Code)
	}
	if rec := serve(e, httptest.NewRequest(http.MethodGet, "/admin/export/orders", nil), "customer"); rec.Code != http.StatusForbidden {
		t.Fatalf("customer status = %d", rec.Code)
	}
}

func TestPreviewAndExportByIDs(t *testing.T) {
	e, _ := setup(t)

	req := httptest.NewRequest(http.MethodPost, "/admin/orders/preview", strings.NewReader(`{"ids":[42]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if rec := serve(e, req, "admin"); rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"rows":[["42"]]`) {
		t.Fatalf("preview: %d %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/export/orders-by-ids", strings.NewReader(`{"ids":[42],"format":"xlsx"}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	rec := serve(e, req, "admin")
	if rec.Code != http.StatusOK || rec.Header().Get(echo.HeaderContentType) != service.FormatXLSX.ContentType() {
		t.Fatalf("xlsx export: %d %q", rec.Code, rec.Header().Get(echo.HeaderContentType))
	}
	if !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Fatalf("xlsx body is not a zip archive")
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/export/orders-by-ids", strings.NewReader(`{"ids":[]}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if rec := serve(e, req, "admin"); rec.Code != http.StatusBadRequest {
		t.Fatalf("empty ids status = %d", rec.Code)
	}
}

func TestImportUpload(t *testing.T) {
	e, svc := setup(t)

	var body bytes.Buffer
	w := multipart.NewWriter(&body)
	part, err := w.CreateFormFile("file", "orders.csv")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := part.Write([]byte("Order ID,Customer\n42,Asha\n")); err != nil {
		t.Fatal(err)
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/admin/import/orders", &body)
	req.Header.Set(echo.HeaderContentType, w.FormDataContentType())
	rec := serve(e, req, "admin")
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"created":1`) {
		t.Fatalf("import: %d %s", rec.Code, rec.Body.String())
	}
	if svc.filename != "orders.csv" || !strings.HasPrefix(svc.content, "Order ID") || svc.actor != "admin:1" {
		t.Fatalf("import call = %q %q %q", svc.filename, svc.content, svc.actor)
	}

	req = httptest.NewRequest(http.MethodPost, "/admin/import/orders", strings.NewReader(""))
	if rec := serve(e, req, "admin"); rec.Code != http.StatusBadRequest {
		t.Fatalf("missing file status = %d", rec.Code)
	}
}

func TestSampleDownload(t *testing.T) {
	e, _ := setup(t)

	rec := serve(e, httptest.NewRequest(http.MethodGet, "/admin/import/sample", nil), "admin")
	if rec.Code != http.StatusOK || !bytes.HasPrefix(rec.Body.Bytes(), []byte("PK")) {
		t.Fatalf("sample: %d", rec.Code)
	}
}
