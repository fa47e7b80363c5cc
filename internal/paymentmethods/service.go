package paymentmethods

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/internal/billing"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
)

// paymentMethodProvider is the remote surface the registry needs.
type paymentMethodProvider interface {
	CheckAuthorization(ctx context.Context, email, authorizationCode string, amountSubunits int64) (bool, error)
	DeactivateAuthorization(ctx context.Context, authorizationCode string) error
	UpdateSubscription(ctx context.Context, idOrCode string, params paystack.SubscriptionUpdateParams) (*paystack.Subscription, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// ServiceParams groups dependencies for the payment method registry.
type ServiceParams struct {
	Repo              billing.Repository
	Provider          paymentMethodProvider
	TransactionRunner txRunner
	Clock             func() time.Time
	Logger            *logger.Logger
}

// Service vaults reusable Paystack authorizations per customer.
type Service struct {
	repo     billing.Repository
	provider paymentMethodProvider
	txRunner txRunner
	clock    func() time.Time
	logger   *logger.Logger
}

// NewService builds a payment method registry.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment method service requires a repository")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment method service requires a provider client")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "payment method service requires a transaction runner")
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:     params.Repo,
		provider: params.Provider,
		txRunner: params.TransactionRunner,
		clock:    clock,
		logger:   params.Logger,
	}, nil
}

// StoreAuthorization vaults an authorization observed on a successful charge.
// Storing the same authorization twice refreshes the card details instead of
// inserting a duplicate.
func (s *Service) StoreAuthorization(ctx context.Context, customerID uuid.UUID, auth *paystack.Authorization) (*models.PaymentMethod, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if auth == nil || strings.TrimSpace(auth.AuthorizationCode) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "authorization code is required")
	}

	existing, err := s.repo.FindPaymentMethodByAuthorization(ctx, auth.AuthorizationCode)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup payment method")
	}
	if existing != nil {
		applyAuthorization(existing, auth)
		if err := s.repo.UpdatePaymentMethod(ctx, existing); err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "refreshing payment method")
		}
		return existing, nil
	}

	method := &models.PaymentMethod{
		CustomerID:        customerID,
		AuthorizationCode: auth.AuthorizationCode,
	}
	applyAuthorization(method, auth)

	if err := s.repo.CreatePaymentMethod(ctx, method); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting payment method")
	}
	if s.logger != nil {
		s.logger.Info(s.logger.WithCustomerID(ctx, customerID.String()), "payment method vaulted")
	}
	return method, nil
}

// List returns a customer's vaulted payment methods, newest first.
func (s *Service) List(ctx context.Context, customerID uuid.UUID) ([]models.PaymentMethod, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	methods, err := s.repo.ListPaymentMethods(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing payment methods")
	}
	return methods, nil
}

// SetDefault makes the method the customer's default card and moves every
// still-active subscription onto it.
func (s *Service) SetDefault(ctx context.Context, customerID, methodID uuid.UUID) (*models.PaymentMethod, error) {
	method, err := s.requireOwned(ctx, customerID, methodID)
	if err != nil {
		return nil, err
	}
	if !method.Reusable {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "authorization is not reusable")
	}

	err = s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)

		if err := txRepo.ClearDefaultPaymentMethod(ctx, customerID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clearing previous default")
		}
		method.IsDefault = true
		if err := txRepo.UpdatePaymentMethod(ctx, method); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "setting default payment method")
		}

		customer, err := txRepo.FindCustomerByID(ctx, customerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup customer")
		}
		if customer == nil {
			return pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
		}
		customer.DefaultPaymentMethodID = &method.ID
		if err := txRepo.UpdateCustomer(ctx, customer); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating customer default")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	if err := s.propagateToSubscriptions(ctx, customerID, method.AuthorizationCode); err != nil {
		return nil, err
	}
	return method, nil
}

// propagateToSubscriptions points the customer's live subscriptions at the
// new authorization so renewals bill the right card.
func (s *Service) propagateToSubscriptions(ctx context.Context, customerID uuid.UUID, authorizationCode string) error {
	subs, err := s.repo.ListActiveSubscriptions(ctx, customerID, s.clock())
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing active subscriptions")
	}
	for i := range subs {
		if subs[i].PaystackCode == "" {
			continue
		}
		if _, err := s.provider.UpdateSubscription(ctx, subs[i].PaystackCode, paystack.SubscriptionUpdateParams{
			Authorization: authorizationCode,
		}); err != nil {
			return err
		}
	}
	return nil
}

// Deactivate revokes the authorization at the provider and removes the local
// record. Deactivating the default card clears the customer's default.
func (s *Service) Deactivate(ctx context.Context, customerID, methodID uuid.UUID) error {
	method, err := s.requireOwned(ctx, customerID, methodID)
	if err != nil {
		return err
	}

	if err := s.provider.DeactivateAuthorization(ctx, method.AuthorizationCode); err != nil {
		return err
	}

	return s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := s.repo.WithTx(tx)
		if err := txRepo.DeletePaymentMethod(ctx, method.ID); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "deleting payment method")
		}
		if !method.IsDefault {
			return nil
		}
		customer, err := txRepo.FindCustomerByID(ctx, customerID)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup customer")
		}
		if customer == nil || customer.DefaultPaymentMethodID == nil {
			return nil
		}
		customer.DefaultPaymentMethodID = nil
		if err := txRepo.UpdateCustomer(ctx, customer); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clearing customer default")
		}
		return nil
	})
}

// CheckFunds asks the provider whether the authorization can cover the amount
// without moving money.
func (s *Service) CheckFunds(ctx context.Context, customerID, methodID uuid.UUID, amountSubunits int64) (bool, error) {
	if amountSubunits <= 0 {
		return false, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	method, err := s.requireOwned(ctx, customerID, methodID)
	if err != nil {
		return false, err
	}
	customer, err := s.repo.FindCustomerByID(ctx, customerID)
	if err != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup customer")
	}
	if customer == nil {
		return false, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	return s.provider.CheckAuthorization(ctx, customer.Email, method.AuthorizationCode, amountSubunits)
}

func (s *Service) requireOwned(ctx context.Context, customerID, methodID uuid.UUID) (*models.PaymentMethod, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if methodID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "payment method id is required")
	}
	method, err := s.repo.FindPaymentMethodByID(ctx, methodID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup payment method")
	}
	if method == nil || method.CustomerID != customerID {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment method not found")
	}
	return method, nil
}

func applyAuthorization(method *models.PaymentMethod, auth *paystack.Authorization) {
	method.Type = methodTypeForChannel(auth.Channel)
	method.Reusable = auth.Reusable
	method.Signature = optional(auth.Signature)
	method.CardBrand = optional(auth.CardType)
	method.CardLast4 = optional(auth.Last4)
	method.CardExpMonth = optionalInt(auth.ExpMonth)
	method.CardExpYear = optionalInt(auth.ExpYear)
	method.Bank = optional(auth.Bank)
}

func methodTypeForChannel(channel string) enums.PaymentMethodType {
	switch strings.ToLower(channel) {
	case "card", "":
		return enums.PaymentMethodTypeCard
	case "bank", "bank_transfer", "dedicated_nuban":
		return enums.PaymentMethodTypeBankAccount
	default:
		return enums.PaymentMethodTypeOther
	}
}

func optional(value string) *string {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return &value
}

func optionalInt(value string) *int {
	parsed, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return nil
	}
	return &parsed
}
