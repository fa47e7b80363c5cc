package paymentmethods

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/internal/billing"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
)

var testNow = time.Date(2026, time.March, 1, 12, 0, 0, 0, time.UTC)

type stubProvider struct {
	checkResult     bool
	checkCalls      int
	deactivated     []string
	updatedSubs     []string
	updatedAuth     []string
	err             error
}

func (s *stubProvider) CheckAuthorization(ctx context.Context, email, authorizationCode string, amountSubunits int64) (bool, error) {
	s.checkCalls++
	if s.err != nil {
		return false, s.err
	}
	return s.checkResult, nil
}

func (s *stubProvider) DeactivateAuthorization(ctx context.Context, authorizationCode string) error {
	s.deactivated = append(s.deactivated, authorizationCode)
	return s.err
}

func (s *stubProvider) UpdateSubscription(ctx context.Context, idOrCode string, params paystack.SubscriptionUpdateParams) (*paystack.Subscription, error) {
	s.updatedSubs = append(s.updatedSubs, idOrCode)
	s.updatedAuth = append(s.updatedAuth, params.Authorization)
	return &paystack.Subscription{SubscriptionCode: idOrCode}, s.err
}

type gormTxRunner struct {
	db *gorm.DB
}

func (r *gormTxRunner) WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return r.db.WithContext(ctx).Transaction(fn)
}

func setupService(t *testing.T) (*Service, *gorm.DB, *stubProvider) {
	t.Helper()

	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	ddl := []string{
		`CREATE TABLE IF NOT EXISTS customers (
  id TEXT PRIMARY KEY,
  email TEXT NOT NULL UNIQUE,
  name TEXT,
  paystack_customer_id TEXT,
  paystack_customer_code TEXT,
  default_payment_method_id TEXT,
  tax_percent NUMERIC NOT NULL DEFAULT 0,
  trial_ends_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS subscriptions (
  id TEXT PRIMARY KEY,
  customer_id TEXT NOT NULL,
  name TEXT NOT NULL,
  paystack_plan TEXT NOT NULL,
  paystack_id TEXT NOT NULL,
  paystack_code TEXT NOT NULL,
  quantity INTEGER NOT NULL DEFAULT 1,
  trial_ends_at DATETIME,
  ends_at DATETIME,
  created_at DATETIME,
  updated_at DATETIME
);`,
		`CREATE TABLE IF NOT EXISTS payment_methods (
  id TEXT PRIMARY KEY DEFAULT (lower(hex(randomblob(4)) || '-' || hex(randomblob(2)) || '-4' || substr(hex(randomblob(2)), 2) || '-' || substr('89ab', abs(random()) % 4 + 1, 1) || substr(hex(randomblob(2)), 2) || '-' || hex(randomblob(6)))),
  customer_id TEXT NOT NULL,
  authorization_code TEXT NOT NULL UNIQUE,
  type TEXT NOT NULL DEFAULT 'card',
  reusable INTEGER NOT NULL DEFAULT 0,
  signature TEXT,
  card_brand TEXT,
  card_last4 TEXT,
  card_exp_month INTEGER,
  card_exp_year INTEGER,
  bank TEXT,
  is_default INTEGER NOT NULL DEFAULT 0,
  metadata TEXT,
  created_at DATETIME,
  updated_at DATETIME
);`,
	}
	for _, stmt := range ddl {
		require.NoError(t, db.Exec(stmt).Error)
	}

	provider := &stubProvider{checkResult: true}
	svc, err := NewService(ServiceParams{
		Repo:              billing.NewRepository(db),
		Provider:          provider,
		TransactionRunner: &gormTxRunner{db: db},
		Clock:             func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return svc, db, provider
}

func seedCustomer(t *testing.T, db *gorm.DB) *models.Customer {
	t.Helper()
	customer := &models.Customer{ID: uuid.New(), Email: "cards@example.com"}
	require.NoError(t, db.Create(customer).Error)
	return customer
}

func cardAuthorization(code string) *paystack.Authorization {
	return &paystack.Authorization{
		AuthorizationCode: code,
		Channel:           "card",
		Reusable:          true,
		Signature:         "SIG_" + code,
		CardType:          "visa",
		Last4:             "4081",
		ExpMonth:          "12",
		ExpYear:           "2028",
		Bank:              "TEST BANK",
	}
}

func TestStoreAuthorizationVaultsOnce(t *testing.T) {
	svc, db, _ := setupService(t)
	customer := seedCustomer(t, db)
	ctx := context.Background()

	method, err := svc.StoreAuthorization(ctx, customer.ID, cardAuthorization("AUTH_1"))
	require.NoError(t, err)
	assert.Equal(t, "AUTH_1", method.AuthorizationCode)
	assert.True(t, method.Reusable)
	require.NotNil(t, method.CardLast4)
	assert.Equal(t, "4081", *method.CardLast4)
	require.NotNil(t, method.CardExpMonth)
	assert.Equal(t, 12, *method.CardExpMonth)

	// Same authorization again refreshes instead of duplicating.
	refreshed := cardAuthorization("AUTH_1")
	refreshed.Last4 = "9999"
	again, err := svc.StoreAuthorization(ctx, customer.ID, refreshed)
	require.NoError(t, err)
	assert.Equal(t, method.ID, again.ID)
	assert.Equal(t, "9999", *again.CardLast4)

	methods, err := svc.List(ctx, customer.ID)
	require.NoError(t, err)
	assert.Len(t, methods, 1)
}

func TestSetDefaultSwapsAndPropagates(t *testing.T) {
	svc, db, provider := setupService(t)
	customer := seedCustomer(t, db)
	ctx := context.Background()

	first, err := svc.StoreAuthorization(ctx, customer.ID, cardAuthorization("AUTH_1"))
	require.NoError(t, err)
	second, err := svc.StoreAuthorization(ctx, customer.ID, cardAuthorization("AUTH_2"))
	require.NoError(t, err)

	active := &models.Subscription{
		ID: uuid.New(), CustomerID: customer.ID, Name: "default",
		PaystackPlan: "PLN_gold", PaystackID: "1", PaystackCode: "SUB_active",
		Quantity: 1, CreatedAt: testNow.Add(-time.Hour),
	}
	require.NoError(t, db.Create(active).Error)
	endedAt := testNow.Add(-time.Minute)
	ended := &models.Subscription{
		ID: uuid.New(), CustomerID: customer.ID, Name: "legacy",
		PaystackPlan: "PLN_old", PaystackID: "2", PaystackCode: "SUB_ended",
		Quantity: 1, EndsAt: &endedAt, CreatedAt: testNow.Add(-48 * time.Hour),
	}
	require.NoError(t, db.Create(ended).Error)

	_, err = svc.SetDefault(ctx, customer.ID, first.ID)
	require.NoError(t, err)
	_, err = svc.SetDefault(ctx, customer.ID, second.ID)
	require.NoError(t, err)

	var methods []models.PaymentMethod
	require.NoError(t, db.Order("authorization_code").Find(&methods).Error)
	require.Len(t, methods, 2)
	assert.False(t, methods[0].IsDefault)
	assert.True(t, methods[1].IsDefault)

	var reloaded models.Customer
	require.NoError(t, db.First(&reloaded, "id = ?", customer.ID).Error)
	require.NotNil(t, reloaded.DefaultPaymentMethodID)
	assert.Equal(t, second.ID, *reloaded.DefaultPaymentMethodID)

	// Only the live subscription is repointed, once per SetDefault call.
	assert.Equal(t, []string{"SUB_active", "SUB_active"}, provider.updatedSubs)
	assert.Equal(t, "AUTH_2", provider.updatedAuth[len(provider.updatedAuth)-1])
}

func TestSetDefaultRejectsNonReusable(t *testing.T) {
	svc, db, _ := setupService(t)
	customer := seedCustomer(t, db)
	ctx := context.Background()

	oneTime := cardAuthorization("AUTH_once")
	oneTime.Reusable = false
	method, err := svc.StoreAuthorization(ctx, customer.ID, oneTime)
	require.NoError(t, err)

	_, err = svc.SetDefault(ctx, customer.ID, method.ID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeStateConflict, pkgerrors.As(err).Code())
}

func TestSetDefaultRejectsForeignMethod(t *testing.T) {
	svc, db, _ := setupService(t)
	owner := seedCustomer(t, db)
	intruder := &models.Customer{ID: uuid.New(), Email: "other@example.com"}
	require.NoError(t, db.Create(intruder).Error)

	method, err := svc.StoreAuthorization(context.Background(), owner.ID, cardAuthorization("AUTH_1"))
	require.NoError(t, err)

	_, err = svc.SetDefault(context.Background(), intruder.ID, method.ID)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.As(err).Code())
}

func TestDeactivateRemovesAndClearsDefault(t *testing.T) {
	svc, db, provider := setupService(t)
	customer := seedCustomer(t, db)
	ctx := context.Background()

	method, err := svc.StoreAuthorization(ctx, customer.ID, cardAuthorization("AUTH_1"))
	require.NoError(t, err)
	_, err = svc.SetDefault(ctx, customer.ID, method.ID)
	require.NoError(t, err)

	require.NoError(t, svc.Deactivate(ctx, customer.ID, method.ID))
	assert.Equal(t, []string{"AUTH_1"}, provider.deactivated)

	methods, err := svc.List(ctx, customer.ID)
	require.NoError(t, err)
	assert.Empty(t, methods)

	var reloaded models.Customer
	require.NoError(t, db.First(&reloaded, "id = ?", customer.ID).Error)
	assert.Nil(t, reloaded.DefaultPaymentMethodID)
}

func TestCheckFunds(t *testing.T) {
	svc, db, provider := setupService(t)
	customer := seedCustomer(t, db)
	ctx := context.Background()

	method, err := svc.StoreAuthorization(ctx, customer.ID, cardAuthorization("AUTH_1"))
	require.NoError(t, err)

	ok, err := svc.CheckFunds(ctx, customer.ID, method.ID, 50000)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, provider.checkCalls)

	_, err = svc.CheckFunds(ctx, customer.ID, method.ID, 0)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.As(err).Code())
}
