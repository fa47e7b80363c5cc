package charges

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/billflow-backend/internal/billing"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
)

// chargeProvider is the remote surface the charge engine needs.
type chargeProvider interface {
	Charge(ctx context.Context, params paystack.ChargeParams) (*paystack.Transaction, error)
	CreateInvoice(ctx context.Context, params paystack.InvoiceCreateParams) (*paystack.Invoice, error)
	ListInvoices(ctx context.Context, filter paystack.InvoiceListFilter) ([]paystack.Invoice, error)
}

type customerEnsurer interface {
	EnsurePaystackCustomer(ctx context.Context, customer *models.Customer) error
}

// ServiceParams groups dependencies for the charge engine.
type ServiceParams struct {
	Repo      billing.Repository
	Provider  chargeProvider
	Customers customerEnsurer
	Currency  string
	Logger    *logger.Logger
}

// Service executes one-off charges and provider invoices.
type Service struct {
	repo      billing.Repository
	provider  chargeProvider
	customers customerEnsurer
	currency  string
	logger    *logger.Logger
}

// NewService builds a charge engine.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "charge service requires a repository")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "charge service requires a provider client")
	}
	if params.Customers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "charge service requires a customer service")
	}
	currency := strings.ToUpper(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "NGN"
	}
	return &Service{
		repo:      params.Repo,
		provider:  params.Provider,
		customers: params.Customers,
		currency:  currency,
		logger:    params.Logger,
	}, nil
}

// ChargeParams captures a one-off charge request.
type ChargeParams struct {
	CustomerID      uuid.UUID
	AmountSubunits  int64
	PaymentMethodID *uuid.UUID
	Description     string
	Metadata        map[string]any
}

// Charge bills the customer once, on top of any subscription. The customer's
// tax percent is added to the amount before it reaches the provider. With no
// payment method given, the customer's default card is used.
func (s *Service) Charge(ctx context.Context, params ChargeParams) (*models.Charge, error) {
	if params.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if params.AmountSubunits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	customer, err := s.requireCustomer(ctx, params.CustomerID)
	if err != nil {
		return nil, err
	}

	method, err := s.resolveMethod(ctx, customer, params.PaymentMethodID)
	if err != nil {
		return nil, err
	}

	total := withTax(params.AmountSubunits, customer.TaxPercent)

	remoteParams := paystack.ChargeParams{
		Email:             customer.Email,
		AmountSubunits:    total,
		AuthorizationCode: method.AuthorizationCode,
		Currency:          s.currency,
		Metadata:          params.Metadata,
	}
	transaction, err := s.provider.Charge(ctx, remoteParams)
	if err != nil {
		return nil, err
	}

	charge := &models.Charge{
		CustomerID:        customer.ID,
		PaymentMethodID:   &method.ID,
		PaystackReference: transaction.Reference,
		AmountSubunits:    transaction.AmountSubunits,
		Currency:          s.currency,
		Status:            chargeStatusForTransaction(transaction.Status),
	}
	if desc := strings.TrimSpace(params.Description); desc != "" {
		charge.Description = &desc
	}
	if len(params.Metadata) > 0 {
		if encoded, err := json.Marshal(params.Metadata); err == nil {
			charge.Metadata = encoded
		}
	}

	if err := s.repo.CreateCharge(ctx, charge); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting charge")
	}
	if s.logger != nil {
		s.logger.Info(s.logger.WithCustomerID(ctx, customer.ID.String()), "charge executed")
	}
	return charge, nil
}

// RecordTransaction upserts the local read model for a transaction observed
// outside the charge engine, typically from a webhook.
func (s *Service) RecordTransaction(ctx context.Context, customerID uuid.UUID, transaction *paystack.Transaction) (*models.Charge, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if transaction == nil || transaction.Reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction reference is required")
	}

	existing, err := s.repo.FindChargeByReference(ctx, transaction.Reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup charge")
	}
	if existing != nil {
		status := chargeStatusForTransaction(transaction.Status)
		if existing.Status == status {
			return existing, nil
		}
		existing.Status = status
		if err := s.repo.UpdateCharge(ctx, existing); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating charge status")
		}
		return existing, nil
	}

	currency := strings.ToUpper(strings.TrimSpace(transaction.Currency))
	if currency == "" {
		currency = s.currency
	}
	charge := &models.Charge{
		CustomerID:        customerID,
		PaystackReference: transaction.Reference,
		AmountSubunits:    transaction.AmountSubunits,
		Currency:          currency,
		Status:            chargeStatusForTransaction(transaction.Status),
	}
	if err := s.repo.CreateCharge(ctx, charge); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting charge")
	}
	return charge, nil
}

// FindCharge loads a charge by provider reference.
func (s *Service) FindCharge(ctx context.Context, reference string) (*models.Charge, error) {
	if strings.TrimSpace(reference) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}
	charge, err := s.repo.FindChargeByReference(ctx, reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup charge")
	}
	if charge == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "charge not found")
	}
	return charge, nil
}

// InvoiceParams captures a provider invoice request.
type InvoiceParams struct {
	CustomerID     uuid.UUID
	AmountSubunits int64
	Description    string
	DueDate        *time.Time
}

// CreateInvoice raises a payment request against the customer at the
// provider. Tax is applied the same way as for direct charges.
func (s *Service) CreateInvoice(ctx context.Context, params InvoiceParams) (*paystack.Invoice, error) {
	if params.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if params.AmountSubunits <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}

	customer, err := s.requireCustomer(ctx, params.CustomerID)
	if err != nil {
		return nil, err
	}

	return s.provider.CreateInvoice(ctx, paystack.InvoiceCreateParams{
		CustomerCode:   *customer.PaystackCustomerCode,
		AmountSubunits: withTax(params.AmountSubunits, customer.TaxPercent),
		Description:    strings.TrimSpace(params.Description),
		Currency:       s.currency,
		DueDate:        params.DueDate,
	})
}

// ListInvoices returns the customer's provider invoices.
func (s *Service) ListInvoices(ctx context.Context, customerID uuid.UUID) ([]paystack.Invoice, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	customer, err := s.repo.FindCustomerByID(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup customer")
	}
	if customer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	if !customer.HasPaystackCustomer() {
		return nil, nil
	}
	return s.provider.ListInvoices(ctx, paystack.InvoiceListFilter{
		CustomerCode: *customer.PaystackCustomerCode,
	})
}

func (s *Service) requireCustomer(ctx context.Context, customerID uuid.UUID) (*models.Customer, error) {
	customer, err := s.repo.FindCustomerByID(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup customer")
	}
	if customer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	if err := s.customers.EnsurePaystackCustomer(ctx, customer); err != nil {
		return nil, err
	}
	return customer, nil
}

func (s *Service) resolveMethod(ctx context.Context, customer *models.Customer, methodID *uuid.UUID) (*models.PaymentMethod, error) {
	id := customer.DefaultPaymentMethodID
	if methodID != nil {
		id = methodID
	}
	if id == nil {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "customer has no payment method on file")
	}
	method, err := s.repo.FindPaymentMethodByID(ctx, *id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup payment method")
	}
	if method == nil || method.CustomerID != customer.ID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment method not found")
	}
	return method, nil
}

// withTax adds the customer's tax percent on top of the amount, rounding to
// the nearest subunit.
func withTax(amountSubunits int64, taxPercent decimal.Decimal) int64 {
	if taxPercent.IsZero() {
		return amountSubunits
	}
	amount := decimal.NewFromInt(amountSubunits)
	multiplier := decimal.NewFromInt(1).Add(taxPercent.Div(decimal.NewFromInt(100)))
	return amount.Mul(multiplier).Round(0).IntPart()
}

func chargeStatusForTransaction(status string) enums.ChargeStatus {
	switch strings.ToLower(status) {
	case "success":
		return enums.ChargeStatusSucceeded
	case "failed", "abandoned":
		return enums.ChargeStatusFailed
	case "reversed":
		return enums.ChargeStatusRefunded
	default:
		return enums.ChargeStatusPending
	}
}
