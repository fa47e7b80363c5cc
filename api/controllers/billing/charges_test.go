package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/billflow-backend/api/middleware"
	billingsvc "github.com/angelmondragon/billflow-backend/internal/billing"
	"github.com/angelmondragon/billflow-backend/internal/charges"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
)

type fakeChargesService struct {
	lastCharge  *charges.ChargeParams
	lastInvoice *charges.InvoiceParams
	charge      *models.Charge
	invoices    []paystack.Invoice
}

func (f *fakeChargesService) Charge(_ context.Context, params charges.ChargeParams) (*models.Charge, error) {
	f.lastCharge = &params
	charge := &models.Charge{
		ID:                uuid.New(),
		CustomerID:        params.CustomerID,
		PaystackReference: "ref_1",
		AmountSubunits:    params.AmountSubunits,
		Currency:          "NGN",
		Status:            enums.ChargeStatusSucceeded,
		CreatedAt:         time.Now(),
	}
	f.charge = charge
	return charge, nil
}

func (f *fakeChargesService) FindCharge(_ context.Context, reference string) (*models.Charge, error) {
	if f.charge == nil || f.charge.PaystackReference != reference {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "charge not found")
	}
	return f.charge, nil
}

func (f *fakeChargesService) CreateInvoice(_ context.Context, params charges.InvoiceParams) (*paystack.Invoice, error) {
	f.lastInvoice = &params
	return &paystack.Invoice{RequestCode: "PRQ_1", AmountSubunits: params.AmountSubunits, Currency: "NGN", Status: "pending"}, nil
}

func (f *fakeChargesService) ListInvoices(context.Context, uuid.UUID) ([]paystack.Invoice, error) {
	return f.invoices, nil
}

type fakeChargeLister struct {
	last   *billingsvc.ListChargesParams
	result billingsvc.ListChargesResult
}

func (f *fakeChargeLister) ListCharges(_ context.Context, params billingsvc.ListChargesParams) (*billingsvc.ListChargesResult, error) {
	f.last = &params
	return &f.result, nil
}

func billingRequest(method, target, body string, customerID uuid.UUID) *http.Request {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	return req.WithContext(middleware.WithCustomerID(req.Context(), customerID.String()))
}

func TestChargeCreateForwardsParams(t *testing.T) {
	svc := &fakeChargesService{}
	customerID := uuid.New()
	methodID := uuid.New()

	body := `{"amount_subunits":5000,"payment_method_id":"` + methodID.String() + `","description":"consulting","metadata":{"order":"ord_9"}}`
	rec := httptest.NewRecorder()
	ChargeCreate(svc, nil).ServeHTTP(rec, billingRequest(http.MethodPost, "/api/v1/charges", body, customerID))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.lastCharge == nil || svc.lastCharge.AmountSubunits != 5000 {
		t.Fatalf("charge params not forwarded: %+v", svc.lastCharge)
	}
	if svc.lastCharge.PaymentMethodID == nil || *svc.lastCharge.PaymentMethodID != methodID {
		t.Fatalf("payment method id not forwarded")
	}
	if svc.lastCharge.Metadata["order"] != "ord_9" {
		t.Fatalf("metadata not forwarded: %+v", svc.lastCharge.Metadata)
	}
}

func TestChargeCreateRejectsZeroAmount(t *testing.T) {
	rec := httptest.NewRecorder()
	ChargeCreate(&fakeChargesService{}, nil).ServeHTTP(rec, billingRequest(http.MethodPost, "/api/v1/charges", `{"amount_subunits":0}`, uuid.New()))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChargeListParsesQuery(t *testing.T) {
	lister := &fakeChargeLister{}
	customerID := uuid.New()

	rec := httptest.NewRecorder()
	ChargeList(lister, nil).ServeHTTP(rec, billingRequest(http.MethodGet, "/api/v1/charges?limit=5&status=succeeded&cursor=", "", customerID))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if lister.last == nil || lister.last.Limit != 5 {
		t.Fatalf("limit not forwarded: %+v", lister.last)
	}
	if lister.last.Status == nil || *lister.last.Status != enums.ChargeStatusSucceeded {
		t.Fatalf("status filter not forwarded: %+v", lister.last.Status)
	}
	if lister.last.CustomerID != customerID {
		t.Fatalf("customer scope not applied")
	}
}

func TestChargeListRejectsBogusStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	ChargeList(&fakeChargeLister{}, nil).ServeHTTP(rec, billingRequest(http.MethodGet, "/api/v1/charges?status=exploded", "", uuid.New()))

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestChargeGetScopesToOwner(t *testing.T) {
	svc := &fakeChargesService{}
	owner := uuid.New()
	if _, err := svc.Charge(context.Background(), charges.ChargeParams{CustomerID: owner, AmountSubunits: 100}); err != nil {
		t.Fatalf("seed charge: %v", err)
	}

	req := billingRequest(http.MethodGet, "/api/v1/charges/ref_1", "", uuid.New())
	rc := chi.NewRouteContext()
	rc.URLParams.Add("reference", "ref_1")
	req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rc))

	rec := httptest.NewRecorder()
	ChargeGet(svc, nil).ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404 for foreign charge, got %d", rec.Code)
	}
}

func TestInvoiceCreateForwardsDueDate(t *testing.T) {
	svc := &fakeChargesService{}
	customerID := uuid.New()
	due := time.Now().Add(7 * 24 * time.Hour).UTC().Truncate(time.Second)

	body, _ := json.Marshal(map[string]any{
		"amount_subunits": 20000,
		"description":     "annual retainer",
		"due_date":        due,
	})
	rec := httptest.NewRecorder()
	InvoiceCreate(svc, nil).ServeHTTP(rec, billingRequest(http.MethodPost, "/api/v1/invoices", string(body), customerID))

	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d (%s)", rec.Code, rec.Body.String())
	}
	if svc.lastInvoice == nil || svc.lastInvoice.AmountSubunits != 20000 {
		t.Fatalf("invoice params not forwarded: %+v", svc.lastInvoice)
	}
	if svc.lastInvoice.DueDate == nil || !svc.lastInvoice.DueDate.Equal(due) {
		t.Fatalf("due date not forwarded: %+v", svc.lastInvoice.DueDate)
	}
}

func TestInvoiceListReturnsItems(t *testing.T) {
	svc := &fakeChargesService{invoices: []paystack.Invoice{{RequestCode: "PRQ_1", Status: "pending"}}}

	rec := httptest.NewRecorder()
	InvoiceList(svc, nil).ServeHTTP(rec, billingRequest(http.MethodGet, "/api/v1/invoices", "", uuid.New()))

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d (%s)", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "PRQ_1") {
		t.Fatalf("expected invoice in body: %s", rec.Body.String())
	}
}
