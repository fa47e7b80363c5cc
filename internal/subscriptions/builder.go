package subscriptions

import (
	"context"
	"strconv"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
)

// Builder assembles a new subscription for a customer. Options chain; the
// terminal call is Create for subscriptions we initiate, or Add to attach a
// remote subscription the provider created first.
type Builder struct {
	svc        *service
	customer   *models.Customer
	name       string
	planCode   string
	quantity   int
	trialDays  int
	trialUntil *time.Time
	skipTrial  bool
	couponCode string
}

// NewBuilder starts a subscription builder for the customer and slot.
func (s *service) NewBuilder(customer *models.Customer, name, planCode string) *Builder {
	name = strings.TrimSpace(name)
	if name == "" {
		name = DefaultName
	}
	return &Builder{
		svc:      s,
		customer: customer,
		name:     name,
		planCode: strings.TrimSpace(planCode),
		quantity: 1,
	}
}

// Quantity sets how many units of the plan are billed per cycle.
func (b *Builder) Quantity(quantity int) *Builder {
	b.quantity = quantity
	return b
}

// TrialDays grants a trial of the given length from creation.
func (b *Builder) TrialDays(days int) *Builder {
	b.trialDays = days
	return b
}

// TrialUntil grants a trial ending at the given instant. It overrides TrialDays.
func (b *Builder) TrialUntil(t time.Time) *Builder {
	b.trialUntil = &t
	return b
}

// SkipTrial suppresses any trial, including the customer-wide one.
func (b *Builder) SkipTrial() *Builder {
	b.skipTrial = true
	return b
}

// WithCoupon applies a provider coupon from the first paid cycle.
func (b *Builder) WithCoupon(code string) *Builder {
	b.couponCode = strings.TrimSpace(code)
	return b
}

// Create provisions the subscription at the provider and records it locally.
// With a trial in effect, billing starts when the trial ends. The
// authorization code selects the card to bill and becomes the customer's
// default payment method; empty means the customer's default authorization
// at the provider.
func (b *Builder) Create(ctx context.Context, authorizationCode string) (*models.Subscription, error) {
	if err := b.validate(); err != nil {
		return nil, err
	}
	if err := b.svc.customers.EnsurePaystackCustomer(ctx, b.customer); err != nil {
		return nil, err
	}

	plan, err := b.svc.catalog.FindPlan(ctx, b.planCode)
	if err != nil {
		return nil, err
	}

	authorizationCode = strings.TrimSpace(authorizationCode)
	if authorizationCode != "" {
		if err := b.promoteDefaultAuthorization(ctx, authorizationCode); err != nil {
			return nil, err
		}
	}

	now := b.svc.clock()
	trialEnd := b.trialEnd(now)

	params := paystack.SubscriptionCreateParams{
		CustomerCode:   *b.customer.PaystackCustomerCode,
		PlanCode:       b.planCode,
		Authorization:  authorizationCode,
		Quantity:       b.quantity,
		AmountSubunits: taxInclusiveAmount(plan.AmountSubunits, b.quantity, b.customer.TaxPercent),
		StartDate:      trialEnd,
	}
	if b.couponCode != "" {
		params.Discounts = []paystack.DiscountAdd{{CouponCode: b.couponCode}}
	}

	remote, err := b.svc.provider.CreateSubscription(ctx, params)
	if err != nil {
		return nil, err
	}

	sub := b.buildRow(remote, trialEnd)
	if err := b.svc.repo.CreateSubscription(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting subscription")
	}
	b.svc.logLifecycle(ctx, sub, "subscription created")
	return sub, nil
}

// Add attaches a subscription that already exists at the provider, typically
// learned from a webhook. Attaching the same remote subscription twice
// returns the existing row unchanged.
func (b *Builder) Add(ctx context.Context, remote *paystack.Subscription) (*models.Subscription, error) {
	if remote == nil || remote.SubscriptionCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "remote subscription is required")
	}
	if err := b.validate(); err != nil {
		return nil, err
	}

	trialEnd := b.trialEnd(b.svc.clock())

	var attached *models.Subscription
	err := b.svc.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		txRepo := b.svc.repo.WithTx(tx)

		existing, err := txRepo.FindSubscriptionByCode(ctx, remote.SubscriptionCode)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup subscription by code")
		}
		if existing != nil {
			attached = existing
			return nil
		}

		sub := b.buildRow(remote, trialEnd)
		if err := txRepo.CreateSubscription(ctx, sub); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting subscription")
		}
		attached = sub
		return nil
	})
	if err != nil {
		return nil, err
	}
	return attached, nil
}

func (b *Builder) buildRow(remote *paystack.Subscription, trialEnd *time.Time) *models.Subscription {
	planCode := b.planCode
	if remote.Plan.PlanCode != "" {
		planCode = remote.Plan.PlanCode
	}
	quantity := b.quantity
	if remote.Quantity > 0 {
		quantity = remote.Quantity
	}
	return &models.Subscription{
		CustomerID:   b.customer.ID,
		Name:         b.name,
		PaystackPlan: planCode,
		PaystackID:   strconv.FormatInt(remote.ID, 10),
		PaystackCode: remote.SubscriptionCode,
		Quantity:     quantity,
		TrialEndsAt:  trialEnd,
	}
}

// promoteDefaultAuthorization makes the supplied authorization the
// customer's default vault entry before billing starts. An authorization the
// vault has not seen yet gets a minimal row; card details arrive with the
// first charge event.
func (b *Builder) promoteDefaultAuthorization(ctx context.Context, code string) error {
	method, err := b.svc.repo.FindPaymentMethodByAuthorization(ctx, code)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup payment method")
	}
	if method != nil && method.CustomerID != b.customer.ID {
		return pkgerrors.New(pkgerrors.CodeConflict, "authorization belongs to another customer")
	}
	if method != nil && method.IsDefault {
		return nil
	}

	if err := b.svc.repo.ClearDefaultPaymentMethod(ctx, b.customer.ID); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "clearing default payment method")
	}
	if method == nil {
		method = &models.PaymentMethod{
			CustomerID:        b.customer.ID,
			AuthorizationCode: code,
			Type:              enums.PaymentMethodTypeCard,
			Reusable:          true,
			IsDefault:         true,
		}
		if err := b.svc.repo.CreatePaymentMethod(ctx, method); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting payment method")
		}
		return nil
	}
	method.IsDefault = true
	if err := b.svc.repo.UpdatePaymentMethod(ctx, method); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "promoting payment method")
	}
	return nil
}

func (b *Builder) validate() error {
	if b.customer == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer is required")
	}
	if b.planCode == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "plan code is required")
	}
	if b.quantity < 1 {
		return pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}
	return nil
}

// trialEnd resolves the trial cutoff, falling back to the customer-wide
// trial when no builder-level trial was configured.
func (b *Builder) trialEnd(now time.Time) *time.Time {
	if b.skipTrial {
		return nil
	}
	if b.trialUntil != nil {
		return b.trialUntil
	}
	if b.trialDays > 0 {
		t := now.AddDate(0, 0, b.trialDays)
		return &t
	}
	if b.customer.OnGenericTrial(now) {
		return b.customer.TrialEndsAt
	}
	return nil
}
