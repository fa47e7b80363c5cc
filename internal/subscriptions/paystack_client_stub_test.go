package subscriptions

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/internal/billing"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/pagination"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
)

// stubPaystackClient records remote calls and serves canned responses.
type stubPaystackClient struct {
	remote *paystack.Subscription

	fetchCalls    []string
	disableCalls  [][2]string
	enableCalls   [][2]string
	createdParams []paystack.SubscriptionCreateParams
	updatedParams []paystack.SubscriptionUpdateParams
	discountCalls []paystack.DiscountUpdateParams

	created *paystack.Subscription
	err     error
}

func (s *stubPaystackClient) FetchSubscription(ctx context.Context, idOrCode string) (*paystack.Subscription, error) {
	s.fetchCalls = append(s.fetchCalls, idOrCode)
	if s.err != nil {
		return nil, s.err
	}
	return s.remote, nil
}

func (s *stubPaystackClient) CreateSubscription(ctx context.Context, params paystack.SubscriptionCreateParams) (*paystack.Subscription, error) {
	s.createdParams = append(s.createdParams, params)
	if s.err != nil {
		return nil, s.err
	}
	if s.created != nil {
		return s.created, nil
	}
	return &paystack.Subscription{ID: 900, SubscriptionCode: "SUB_created", Status: "active"}, nil
}

func (s *stubPaystackClient) UpdateSubscription(ctx context.Context, idOrCode string, params paystack.SubscriptionUpdateParams) (*paystack.Subscription, error) {
	s.updatedParams = append(s.updatedParams, params)
	if s.err != nil {
		return nil, s.err
	}
	return s.remote, nil
}

func (s *stubPaystackClient) DisableSubscription(ctx context.Context, code, emailToken string) error {
	s.disableCalls = append(s.disableCalls, [2]string{code, emailToken})
	return s.err
}

func (s *stubPaystackClient) EnableSubscription(ctx context.Context, code, emailToken string) error {
	s.enableCalls = append(s.enableCalls, [2]string{code, emailToken})
	return s.err
}

func (s *stubPaystackClient) UpdateSubscriptionDiscount(ctx context.Context, code string, params paystack.DiscountUpdateParams) error {
	s.discountCalls = append(s.discountCalls, params)
	return s.err
}

// stubCatalog serves plans from a map keyed by plan code.
type stubCatalog struct {
	plans map[string]*paystack.Plan
}

func (s *stubCatalog) FindPlan(ctx context.Context, planCode string) (*paystack.Plan, error) {
	if plan, ok := s.plans[planCode]; ok {
		return plan, nil
	}
	return nil, gorm.ErrRecordNotFound
}

// stubEnsurer marks customers as vaulted without a remote call.
type stubEnsurer struct {
	calls int
}

func (s *stubEnsurer) EnsurePaystackCustomer(ctx context.Context, customer *models.Customer) error {
	s.calls++
	if !customer.HasPaystackCustomer() {
		code := "CUS_test"
		customer.PaystackCustomerCode = &code
	}
	return nil
}

// stubTxRunner executes the callback directly with no transaction.
type stubTxRunner struct{}

func (s *stubTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return fn(nil)
}

// memRepo is an in-memory billing.Repository covering what the lifecycle uses.
type memRepo struct {
	customers     map[uuid.UUID]*models.Customer
	subscriptions []*models.Subscription
	methods       []*models.PaymentMethod
}

func newMemRepo() *memRepo {
	return &memRepo{customers: map[uuid.UUID]*models.Customer{}}
}

func (m *memRepo) WithTx(tx *gorm.DB) billing.Repository { return m }

func (m *memRepo) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	if customer.ID == uuid.Nil {
		customer.ID = uuid.New()
	}
	m.customers[customer.ID] = customer
	return nil
}
func (m *memRepo) UpdateCustomer(ctx context.Context, customer *models.Customer) error {
	m.customers[customer.ID] = customer
	return nil
}
func (m *memRepo) FindCustomerByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	return m.customers[id], nil
}
func (m *memRepo) FindCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	for _, c := range m.customers {
		if c.Email == email {
			return c, nil
		}
	}
	return nil, nil
}
func (m *memRepo) FindCustomerByPaystackCode(ctx context.Context, code string) (*models.Customer, error) {
	for _, c := range m.customers {
		if c.PaystackCustomerCode != nil && *c.PaystackCustomerCode == code {
			return c, nil
		}
	}
	return nil, nil
}

func (m *memRepo) CreateSubscription(ctx context.Context, sub *models.Subscription) error {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = time.Now().UTC()
	}
	m.subscriptions = append(m.subscriptions, sub)
	return nil
}
func (m *memRepo) UpdateSubscription(ctx context.Context, sub *models.Subscription) error {
	for i := range m.subscriptions {
		if m.subscriptions[i].ID == sub.ID {
			m.subscriptions[i] = sub
			return nil
		}
	}
	m.subscriptions = append(m.subscriptions, sub)
	return nil
}
func (m *memRepo) CurrentSubscription(ctx context.Context, customerID uuid.UUID, name string) (*models.Subscription, error) {
	var newest *models.Subscription
	for _, sub := range m.subscriptions {
		if sub.CustomerID != customerID || sub.Name != name {
			continue
		}
		if newest == nil || sub.CreatedAt.After(newest.CreatedAt) {
			newest = sub
		}
	}
	return newest, nil
}
func (m *memRepo) FindSubscriptionByCode(ctx context.Context, code string) (*models.Subscription, error) {
	for _, sub := range m.subscriptions {
		if sub.PaystackCode == code {
			return sub, nil
		}
	}
	return nil, nil
}
func (m *memRepo) ListSubscriptions(ctx context.Context, customerID uuid.UUID) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range m.subscriptions {
		if sub.CustomerID == customerID {
			out = append(out, *sub)
		}
	}
	return out, nil
}
func (m *memRepo) ListActiveSubscriptions(ctx context.Context, customerID uuid.UUID, now time.Time) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range m.subscriptions {
		if sub.CustomerID == customerID && sub.Active(now) {
			out = append(out, *sub)
		}
	}
	return out, nil
}
func (m *memRepo) ListSubscriptionsForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.Subscription, error) {
	var out []models.Subscription
	for _, sub := range m.subscriptions {
		out = append(out, *sub)
	}
	return out, nil
}

func (m *memRepo) CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	if method.ID == uuid.Nil {
		method.ID = uuid.New()
	}
	m.methods = append(m.methods, method)
	return nil
}
func (m *memRepo) UpdatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	for i := range m.methods {
		if m.methods[i].ID == method.ID {
			m.methods[i] = method
			return nil
		}
	}
	m.methods = append(m.methods, method)
	return nil
}
func (m *memRepo) DeletePaymentMethod(ctx context.Context, id uuid.UUID) error {
	for i := range m.methods {
		if m.methods[i].ID == id {
			m.methods = append(m.methods[:i], m.methods[i+1:]...)
			return nil
		}
	}
	return nil
}
func (m *memRepo) FindPaymentMethodByID(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error) {
	for _, method := range m.methods {
		if method.ID == id {
			return method, nil
		}
	}
	return nil, nil
}
func (m *memRepo) FindPaymentMethodByAuthorization(ctx context.Context, code string) (*models.PaymentMethod, error) {
	for _, method := range m.methods {
		if method.AuthorizationCode == code {
			return method, nil
		}
	}
	return nil, nil
}
func (m *memRepo) ListPaymentMethods(ctx context.Context, customerID uuid.UUID) ([]models.PaymentMethod, error) {
	var out []models.PaymentMethod
	for _, method := range m.methods {
		if method.CustomerID == customerID {
			out = append(out, *method)
		}
	}
	return out, nil
}
func (m *memRepo) ClearDefaultPaymentMethod(ctx context.Context, customerID uuid.UUID) error {
	for _, method := range m.methods {
		if method.CustomerID == customerID {
			method.IsDefault = false
		}
	}
	return nil
}

func (m *memRepo) CreateCharge(ctx context.Context, charge *models.Charge) error { return nil }
func (m *memRepo) UpdateCharge(ctx context.Context, charge *models.Charge) error { return nil }
func (m *memRepo) FindChargeByReference(ctx context.Context, reference string) (*models.Charge, error) {
	return nil, nil
}
func (m *memRepo) ListCharges(ctx context.Context, params billing.ListChargesQuery) ([]models.Charge, *pagination.Cursor, error) {
	return nil, nil, nil
}
