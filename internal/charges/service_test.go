package charges

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/internal/billing"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/pagination"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
)

type stubChargeProvider struct {
	chargeParams  []paystack.ChargeParams
	invoiceParams []paystack.InvoiceCreateParams
	listFilters   []paystack.InvoiceListFilter
	transaction   *paystack.Transaction
	invoices      []paystack.Invoice
	err           error
}

func (s *stubChargeProvider) Charge(ctx context.Context, params paystack.ChargeParams) (*paystack.Transaction, error) {
	s.chargeParams = append(s.chargeParams, params)
	if s.err != nil {
		return nil, s.err
	}
	if s.transaction != nil {
		return s.transaction, nil
	}
	return &paystack.Transaction{
		ID:             501,
		Reference:      "ref_" + uuid.NewString()[:8],
		AmountSubunits: params.AmountSubunits,
		Currency:       params.Currency,
		Status:         "success",
	}, nil
}

func (s *stubChargeProvider) CreateInvoice(ctx context.Context, params paystack.InvoiceCreateParams) (*paystack.Invoice, error) {
	s.invoiceParams = append(s.invoiceParams, params)
	if s.err != nil {
		return nil, s.err
	}
	return &paystack.Invoice{
		ID:             801,
		RequestCode:    "PRQ_1",
		AmountSubunits: params.AmountSubunits,
		Currency:       params.Currency,
		Status:         "pending",
	}, nil
}

func (s *stubChargeProvider) ListInvoices(ctx context.Context, filter paystack.InvoiceListFilter) ([]paystack.Invoice, error) {
	s.listFilters = append(s.listFilters, filter)
	return s.invoices, s.err
}

type stubEnsurer struct {
	calls int
}

func (s *stubEnsurer) EnsurePaystackCustomer(ctx context.Context, customer *models.Customer) error {
	s.calls++
	if !customer.HasPaystackCustomer() {
		id := "7"
		code := "CUS_test"
		customer.PaystackCustomerID = &id
		customer.PaystackCustomerCode = &code
	}
	return nil
}

type memChargeRepo struct {
	customers map[uuid.UUID]*models.Customer
	methods   map[uuid.UUID]*models.PaymentMethod
	charges   map[string]*models.Charge
}

func newMemChargeRepo() *memChargeRepo {
	return &memChargeRepo{
		customers: map[uuid.UUID]*models.Customer{},
		methods:   map[uuid.UUID]*models.PaymentMethod{},
		charges:   map[string]*models.Charge{},
	}
}

func (m *memChargeRepo) WithTx(tx *gorm.DB) billing.Repository { return m }

func (m *memChargeRepo) CreateCustomer(ctx context.Context, c *models.Customer) error {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	m.customers[c.ID] = c
	return nil
}

func (m *memChargeRepo) UpdateCustomer(ctx context.Context, c *models.Customer) error {
	m.customers[c.ID] = c
	return nil
}

func (m *memChargeRepo) FindCustomerByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	return m.customers[id], nil
}

func (m *memChargeRepo) FindCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	for _, c := range m.customers {
		if c.Email == email {
			return c, nil
		}
	}
	return nil, nil
}

func (m *memChargeRepo) FindCustomerByPaystackCode(ctx context.Context, code string) (*models.Customer, error) {
	for _, c := range m.customers {
		if c.PaystackCustomerCode != nil && *c.PaystackCustomerCode == code {
			return c, nil
		}
	}
	return nil, nil
}

func (m *memChargeRepo) CreateSubscription(ctx context.Context, s *models.Subscription) error {
	return nil
}
func (m *memChargeRepo) UpdateSubscription(ctx context.Context, s *models.Subscription) error {
	return nil
}
func (m *memChargeRepo) CurrentSubscription(ctx context.Context, customerID uuid.UUID, name string) (*models.Subscription, error) {
	return nil, nil
}
func (m *memChargeRepo) FindSubscriptionByCode(ctx context.Context, code string) (*models.Subscription, error) {
	return nil, nil
}
func (m *memChargeRepo) ListSubscriptions(ctx context.Context, customerID uuid.UUID) ([]models.Subscription, error) {
	return nil, nil
}
func (m *memChargeRepo) ListActiveSubscriptions(ctx context.Context, customerID uuid.UUID, now time.Time) ([]models.Subscription, error) {
	return nil, nil
}
func (m *memChargeRepo) ListSubscriptionsForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.Subscription, error) {
	return nil, nil
}

func (m *memChargeRepo) CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	if method.ID == uuid.Nil {
		method.ID = uuid.New()
	}
	m.methods[method.ID] = method
	return nil
}

func (m *memChargeRepo) UpdatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	m.methods[method.ID] = method
	return nil
}

func (m *memChargeRepo) DeletePaymentMethod(ctx context.Context, id uuid.UUID) error {
	delete(m.methods, id)
	return nil
}

func (m *memChargeRepo) FindPaymentMethodByID(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error) {
	return m.methods[id], nil
}

func (m *memChargeRepo) FindPaymentMethodByAuthorization(ctx context.Context, code string) (*models.PaymentMethod, error) {
	for _, method := range m.methods {
		if method.AuthorizationCode == code {
			return method, nil
		}
	}
	return nil, nil
}

func (m *memChargeRepo) ListPaymentMethods(ctx context.Context, customerID uuid.UUID) ([]models.PaymentMethod, error) {
	return nil, nil
}

func (m *memChargeRepo) ClearDefaultPaymentMethod(ctx context.Context, customerID uuid.UUID) error {
	return nil
}

func (m *memChargeRepo) CreateCharge(ctx context.Context, charge *models.Charge) error {
	if charge.ID == uuid.Nil {
		charge.ID = uuid.New()
	}
	m.charges[charge.PaystackReference] = charge
	return nil
}

func (m *memChargeRepo) UpdateCharge(ctx context.Context, charge *models.Charge) error {
	m.charges[charge.PaystackReference] = charge
	return nil
}

func (m *memChargeRepo) FindChargeByReference(ctx context.Context, reference string) (*models.Charge, error) {
	return m.charges[reference], nil
}

func (m *memChargeRepo) ListCharges(ctx context.Context, params billing.ListChargesQuery) ([]models.Charge, *pagination.Cursor, error) {
	return nil, nil, nil
}

type fixture struct {
	svc      *Service
	repo     *memChargeRepo
	provider *stubChargeProvider
	ensurer  *stubEnsurer
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newMemChargeRepo()
	provider := &stubChargeProvider{}
	ensurer := &stubEnsurer{}
	svc, err := NewService(ServiceParams{
		Repo:      repo,
		Provider:  provider,
		Customers: ensurer,
		Currency:  "ngn",
	})
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return &fixture{svc: svc, repo: repo, provider: provider, ensurer: ensurer}
}

func (f *fixture) seedCustomer(t *testing.T, taxPercent string) *models.Customer {
	t.Helper()
	code := "CUS_seed"
	tax, err := decimal.NewFromString(taxPercent)
	if err != nil {
		t.Fatalf("bad tax percent %q: %v", taxPercent, err)
	}
	customer := &models.Customer{
		ID:                   uuid.New(),
		Email:                "payer@example.com",
		PaystackCustomerCode: &code,
		TaxPercent:           tax,
	}
	if err := f.repo.CreateCustomer(context.Background(), customer); err != nil {
		t.Fatalf("seed customer: %v", err)
	}
	return customer
}

func (f *fixture) seedMethod(t *testing.T, customer *models.Customer, code string) *models.PaymentMethod {
	t.Helper()
	method := &models.PaymentMethod{
		ID:                uuid.New(),
		CustomerID:        customer.ID,
		AuthorizationCode: code,
		Type:              enums.PaymentMethodTypeCard,
		Reusable:          true,
	}
	if err := f.repo.CreatePaymentMethod(context.Background(), method); err != nil {
		t.Fatalf("seed method: %v", err)
	}
	return method
}

func TestChargeAppliesTaxPercent(t *testing.T) {
	f := newFixture(t)
	customer := f.seedCustomer(t, "7.5")
	method := f.seedMethod(t, customer, "AUTH_1")
	customer.DefaultPaymentMethodID = &method.ID

	charge, err := f.svc.Charge(context.Background(), ChargeParams{
		CustomerID:     customer.ID,
		AmountSubunits: 10000,
		Description:    "setup fee",
	})
	if err != nil {
		t.Fatalf("Charge failed: %v", err)
	}

	if len(f.provider.chargeParams) != 1 {
		t.Fatalf("expected one provider charge, got %d", len(f.provider.chargeParams))
	}
	sent := f.provider.chargeParams[0]
	if sent.AmountSubunits != 10750 {
		t.Fatalf("expected 7.5%% tax on top, got %d", sent.AmountSubunits)
	}
	if sent.AuthorizationCode != "AUTH_1" {
		t.Fatalf("default card not used: %q", sent.AuthorizationCode)
	}
	if sent.Email != customer.Email {
		t.Fatalf("charge email mismatch: %q", sent.Email)
	}
	if sent.Currency != "NGN" {
		t.Fatalf("currency not normalized: %q", sent.Currency)
	}

	if charge.Status != enums.ChargeStatusSucceeded {
		t.Fatalf("expected succeeded charge, got %s", charge.Status)
	}
	if charge.AmountSubunits != 10750 {
		t.Fatalf("local row should record the taxed amount, got %d", charge.AmountSubunits)
	}
	if charge.Description == nil || *charge.Description != "setup fee" {
		t.Fatalf("description not stored: %v", charge.Description)
	}
	if f.ensurer.calls != 1 {
		t.Fatalf("expected the remote customer to be ensured, got %d calls", f.ensurer.calls)
	}
}

func TestChargeWithExplicitMethodOverridesDefault(t *testing.T) {
	f := newFixture(t)
	customer := f.seedCustomer(t, "0")
	defaultMethod := f.seedMethod(t, customer, "AUTH_default")
	other := f.seedMethod(t, customer, "AUTH_other")
	customer.DefaultPaymentMethodID = &defaultMethod.ID

	_, err := f.svc.Charge(context.Background(), ChargeParams{
		CustomerID:      customer.ID,
		AmountSubunits:  5000,
		PaymentMethodID: &other.ID,
	})
	if err != nil {
		t.Fatalf("Charge failed: %v", err)
	}
	if got := f.provider.chargeParams[0].AuthorizationCode; got != "AUTH_other" {
		t.Fatalf("explicit method ignored, charged %q", got)
	}
	if got := f.provider.chargeParams[0].AmountSubunits; got != 5000 {
		t.Fatalf("zero tax should leave the amount alone, got %d", got)
	}
}

func TestChargeWithoutPaymentMethodIsStateConflict(t *testing.T) {
	f := newFixture(t)
	customer := f.seedCustomer(t, "0")

	_, err := f.svc.Charge(context.Background(), ChargeParams{
		CustomerID:     customer.ID,
		AmountSubunits: 5000,
	})
	if err == nil {
		t.Fatal("expected error for customer without a card")
	}
	if pkgerrors.As(err).Code() != pkgerrors.CodeStateConflict {
		t.Fatalf("expected state conflict, got %v", err)
	}
	if len(f.provider.chargeParams) != 0 {
		t.Fatal("provider must not be called without a payment method")
	}
}

func TestChargeRejectsForeignPaymentMethod(t *testing.T) {
	f := newFixture(t)
	customer := f.seedCustomer(t, "0")
	intruder := &models.Customer{ID: uuid.New(), Email: "other@example.com"}
	if err := f.repo.CreateCustomer(context.Background(), intruder); err != nil {
		t.Fatalf("seed intruder: %v", err)
	}
	method := f.seedMethod(t, customer, "AUTH_1")

	_, err := f.svc.Charge(context.Background(), ChargeParams{
		CustomerID:      intruder.ID,
		AmountSubunits:  5000,
		PaymentMethodID: &method.ID,
	})
	if err == nil {
		t.Fatal("expected error for foreign payment method")
	}
	if pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestChargeValidation(t *testing.T) {
	f := newFixture(t)

	if _, err := f.svc.Charge(context.Background(), ChargeParams{AmountSubunits: 100}); err == nil {
		t.Fatal("expected error for missing customer id")
	}
	if _, err := f.svc.Charge(context.Background(), ChargeParams{CustomerID: uuid.New()}); err == nil {
		t.Fatal("expected error for non-positive amount")
	}
}

func TestRecordTransactionUpsertsByReference(t *testing.T) {
	f := newFixture(t)
	customer := f.seedCustomer(t, "0")
	ctx := context.Background()

	pending := &paystack.Transaction{Reference: "ref_wh_1", AmountSubunits: 30000, Currency: "NGN", Status: "ongoing"}
	first, err := f.svc.RecordTransaction(ctx, customer.ID, pending)
	if err != nil {
		t.Fatalf("RecordTransaction failed: %v", err)
	}
	if first.Status != enums.ChargeStatusPending {
		t.Fatalf("expected pending, got %s", first.Status)
	}

	succeeded := &paystack.Transaction{Reference: "ref_wh_1", AmountSubunits: 30000, Currency: "NGN", Status: "success"}
	second, err := f.svc.RecordTransaction(ctx, customer.ID, succeeded)
	if err != nil {
		t.Fatalf("RecordTransaction failed: %v", err)
	}
	if second.ID != first.ID {
		t.Fatal("same reference must update in place, not insert")
	}
	if second.Status != enums.ChargeStatusSucceeded {
		t.Fatalf("status not advanced, got %s", second.Status)
	}
	if len(f.repo.charges) != 1 {
		t.Fatalf("expected a single charge row, got %d", len(f.repo.charges))
	}

	// Replaying the same terminal event is a no-op.
	third, err := f.svc.RecordTransaction(ctx, customer.ID, succeeded)
	if err != nil {
		t.Fatalf("RecordTransaction replay failed: %v", err)
	}
	if third.ID != first.ID || third.Status != enums.ChargeStatusSucceeded {
		t.Fatalf("replay changed the row: %+v", third)
	}
}

func TestFindCharge(t *testing.T) {
	f := newFixture(t)
	customer := f.seedCustomer(t, "0")
	ctx := context.Background()

	_, err := f.svc.RecordTransaction(ctx, customer.ID, &paystack.Transaction{
		Reference: "ref_find", AmountSubunits: 100, Status: "success",
	})
	if err != nil {
		t.Fatalf("seed charge: %v", err)
	}

	charge, err := f.svc.FindCharge(ctx, "ref_find")
	if err != nil {
		t.Fatalf("FindCharge failed: %v", err)
	}
	if charge.PaystackReference != "ref_find" {
		t.Fatalf("wrong charge returned: %+v", charge)
	}

	if _, err := f.svc.FindCharge(ctx, "ref_missing"); err == nil {
		t.Fatal("expected not found")
	} else if pkgerrors.As(err).Code() != pkgerrors.CodeNotFound {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestCreateInvoiceAppliesTax(t *testing.T) {
	f := newFixture(t)
	customer := f.seedCustomer(t, "10")

	due := time.Date(2026, time.April, 1, 0, 0, 0, 0, time.UTC)
	invoice, err := f.svc.CreateInvoice(context.Background(), InvoiceParams{
		CustomerID:     customer.ID,
		AmountSubunits: 20000,
		Description:    "annual support",
		DueDate:        &due,
	})
	if err != nil {
		t.Fatalf("CreateInvoice failed: %v", err)
	}
	if invoice.AmountSubunits != 22000 {
		t.Fatalf("expected 10%% tax on top, got %d", invoice.AmountSubunits)
	}
	sent := f.provider.invoiceParams[0]
	if sent.CustomerCode != "CUS_seed" {
		t.Fatalf("invoice not addressed to customer code: %q", sent.CustomerCode)
	}
	if sent.DueDate == nil || !sent.DueDate.Equal(due) {
		t.Fatalf("due date not forwarded: %v", sent.DueDate)
	}
}

func TestListInvoicesWithoutRemoteCustomerIsEmpty(t *testing.T) {
	f := newFixture(t)
	local := &models.Customer{ID: uuid.New(), Email: "local@example.com"}
	if err := f.repo.CreateCustomer(context.Background(), local); err != nil {
		t.Fatalf("seed customer: %v", err)
	}

	invoices, err := f.svc.ListInvoices(context.Background(), local.ID)
	if err != nil {
		t.Fatalf("ListInvoices failed: %v", err)
	}
	if invoices != nil {
		t.Fatalf("expected no invoices for a local-only customer, got %v", invoices)
	}
	if len(f.provider.listFilters) != 0 {
		t.Fatal("provider must not be queried for a local-only customer")
	}
}

func TestListInvoicesFiltersByCustomerCode(t *testing.T) {
	f := newFixture(t)
	customer := f.seedCustomer(t, "0")
	f.provider.invoices = []paystack.Invoice{{ID: 801, RequestCode: "PRQ_1", Status: "pending"}}

	invoices, err := f.svc.ListInvoices(context.Background(), customer.ID)
	if err != nil {
		t.Fatalf("ListInvoices failed: %v", err)
	}
	if len(invoices) != 1 || invoices[0].RequestCode != "PRQ_1" {
		t.Fatalf("unexpected invoices: %+v", invoices)
	}
	if f.provider.listFilters[0].CustomerCode != "CUS_seed" {
		t.Fatalf("filter not scoped to customer: %+v", f.provider.listFilters[0])
	}
}

func TestWithTaxRounding(t *testing.T) {
	tests := []struct {
		amount int64
		tax    string
		want   int64
	}{
		{10000, "0", 10000},
		{10000, "7.5", 10750},
		{999, "7.5", 1074},
		{1, "50", 2},
	}
	for _, tc := range tests {
		tax, err := decimal.NewFromString(tc.tax)
		if err != nil {
			t.Fatalf("bad tax %q: %v", tc.tax, err)
		}
		if got := withTax(tc.amount, tax); got != tc.want {
			t.Errorf("withTax(%d, %s) = %d, want %d", tc.amount, tc.tax, got, tc.want)
		}
	}
}
