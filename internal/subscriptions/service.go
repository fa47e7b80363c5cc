package subscriptions

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/internal/billing"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
)

// DefaultName is the subscription slot used when the caller does not name one.
const DefaultName = "default"

// PaystackSubscriptionClient is the remote surface the lifecycle needs.
type PaystackSubscriptionClient interface {
	FetchSubscription(ctx context.Context, idOrCode string) (*paystack.Subscription, error)
	CreateSubscription(ctx context.Context, params paystack.SubscriptionCreateParams) (*paystack.Subscription, error)
	UpdateSubscription(ctx context.Context, idOrCode string, params paystack.SubscriptionUpdateParams) (*paystack.Subscription, error)
	DisableSubscription(ctx context.Context, code, emailToken string) error
	EnableSubscription(ctx context.Context, code, emailToken string) error
	UpdateSubscriptionDiscount(ctx context.Context, code string, params paystack.DiscountUpdateParams) error
}

type planCatalog interface {
	FindPlan(ctx context.Context, planCode string) (*paystack.Plan, error)
}

type customerEnsurer interface {
	EnsurePaystackCustomer(ctx context.Context, customer *models.Customer) error
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service defines the subscription lifecycle surface.
type Service interface {
	NewBuilder(customer *models.Customer, name, planCode string) *Builder
	Attach(ctx context.Context, customer *models.Customer, name string, remote *paystack.Subscription) (*models.Subscription, error)
	Current(ctx context.Context, customerID uuid.UUID, name string) (*models.Subscription, error)
	List(ctx context.Context, customerID uuid.UUID) ([]models.Subscription, error)
	Cancel(ctx context.Context, customerID uuid.UUID, name string) (*models.Subscription, error)
	CancelNow(ctx context.Context, customerID uuid.UUID, name string) (*models.Subscription, error)
	MarkAsCancelled(ctx context.Context, sub *models.Subscription) error
	Resume(ctx context.Context, customerID uuid.UUID, name string) (*models.Subscription, error)
	SwapPlan(ctx context.Context, customerID uuid.UUID, name, newPlanCode string, prorate bool) (*models.Subscription, error)
	ApplyCoupon(ctx context.Context, customerID uuid.UUID, name, couponCode string, removeOthers bool) error
	UpdateQuantity(ctx context.Context, customerID uuid.UUID, name string, quantity int) (*models.Subscription, error)
	Subscribed(ctx context.Context, customerID uuid.UUID, name string) (bool, error)
	SubscribedToPlan(ctx context.Context, customerID uuid.UUID, name, planCode string) (bool, error)
	OnPlan(ctx context.Context, customerID uuid.UUID, planCode string) (bool, error)
}

// ServiceParams groups dependencies for the subscription service.
type ServiceParams struct {
	Repo              billing.Repository
	Provider          PaystackSubscriptionClient
	Catalog           planCatalog
	Customers         customerEnsurer
	TransactionRunner txRunner
	Clock             func() time.Time
	Logger            *logger.Logger
}

type service struct {
	repo      billing.Repository
	provider  PaystackSubscriptionClient
	catalog   planCatalog
	customers customerEnsurer
	txRunner  txRunner
	clock     func() time.Time
	logger    *logger.Logger
}

// NewService builds a subscription service with the required dependencies.
func NewService(params ServiceParams) (Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription service requires a repository")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription service requires a provider client")
	}
	if params.Catalog == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription service requires a plan catalog")
	}
	if params.Customers == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription service requires a customer service")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "subscription service requires a transaction runner")
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &service{
		repo:      params.Repo,
		provider:  params.Provider,
		catalog:   params.Catalog,
		customers: params.Customers,
		txRunner:  params.TransactionRunner,
		clock:     clock,
		logger:    params.Logger,
	}, nil
}

// Attach persists a subscription that already exists at the provider,
// typically observed through a webhook. No remote call is made.
func (s *service) Attach(ctx context.Context, customer *models.Customer, name string, remote *paystack.Subscription) (*models.Subscription, error) {
	planCode := ""
	if remote != nil {
		planCode = remote.Plan.PlanCode
	}
	return s.NewBuilder(customer, name, planCode).Add(ctx, remote)
}

// Current returns the most recent subscription row for the slot, or nil.
func (s *service) Current(ctx context.Context, customerID uuid.UUID, name string) (*models.Subscription, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	if strings.TrimSpace(name) == "" {
		name = DefaultName
	}
	sub, err := s.repo.CurrentSubscription(ctx, customerID, name)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup subscription")
	}
	return sub, nil
}

// List returns every subscription row the customer has, newest first.
func (s *service) List(ctx context.Context, customerID uuid.UUID) ([]models.Subscription, error) {
	if customerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	subs, err := s.repo.ListSubscriptions(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing subscriptions")
	}
	return subs, nil
}

// Cancel stops renewal at the provider and schedules the local termination
// for the end of the period already paid for. A trialing subscription keeps
// access until the trial would have expired.
func (s *service) Cancel(ctx context.Context, customerID uuid.UUID, name string) (*models.Subscription, error) {
	sub, err := s.requireCurrent(ctx, customerID, name)
	if err != nil {
		return nil, err
	}
	if sub.Cancelled() {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription is already cancelled")
	}

	remote, err := s.provider.FetchSubscription(ctx, sub.PaystackCode)
	if err != nil {
		return nil, err
	}
	if err := s.provider.DisableSubscription(ctx, remote.SubscriptionCode, remote.EmailToken); err != nil {
		return nil, err
	}

	now := s.clock()
	switch {
	case sub.OnTrial(now):
		sub.EndsAt = sub.TrialEndsAt
	case remote.NextPaymentDate != nil:
		sub.EndsAt = remote.NextPaymentDate
	default:
		sub.EndsAt = &now
	}

	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting cancellation")
	}
	s.logLifecycle(ctx, sub, "subscription cancelled")
	return sub, nil
}

// CancelNow terminates immediately with no grace period.
func (s *service) CancelNow(ctx context.Context, customerID uuid.UUID, name string) (*models.Subscription, error) {
	sub, err := s.requireCurrent(ctx, customerID, name)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	if sub.Ended(now) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "subscription has already ended")
	}

	// A grace-period subscription is already disabled at the provider.
	if !sub.Cancelled() {
		remote, err := s.provider.FetchSubscription(ctx, sub.PaystackCode)
		if err != nil {
			return nil, err
		}
		if err := s.provider.DisableSubscription(ctx, remote.SubscriptionCode, remote.EmailToken); err != nil {
			return nil, err
		}
	}

	sub.EndsAt = &now
	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting immediate cancellation")
	}
	s.logLifecycle(ctx, sub, "subscription cancelled immediately")
	return sub, nil
}

// MarkAsCancelled records a termination observed elsewhere, typically from a
// webhook. The provider is not called.
func (s *service) MarkAsCancelled(ctx context.Context, sub *models.Subscription) error {
	if sub == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "subscription is required")
	}
	now := s.clock()
	if sub.Ended(now) {
		return nil
	}
	sub.EndsAt = &now
	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting cancellation mark")
	}
	s.logLifecycle(ctx, sub, "subscription marked cancelled")
	return nil
}

// Resume reverses a pending cancellation. Only a subscription still inside
// its grace period can be resumed; once ended a new subscription is needed.
func (s *service) Resume(ctx context.Context, customerID uuid.UUID, name string) (*models.Subscription, error) {
	sub, err := s.requireCurrent(ctx, customerID, name)
	if err != nil {
		return nil, err
	}
	if !sub.OnGracePeriod(s.clock()) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "only subscriptions within their grace period can be resumed")
	}

	remote, err := s.provider.FetchSubscription(ctx, sub.PaystackCode)
	if err != nil {
		return nil, err
	}
	if err := s.provider.EnableSubscription(ctx, remote.SubscriptionCode, remote.EmailToken); err != nil {
		return nil, err
	}

	sub.EndsAt = nil
	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting resume")
	}
	s.logLifecycle(ctx, sub, "subscription resumed")
	return sub, nil
}

// SwapPlan moves the subscription onto a different plan. Swapping back to the
// current plan during a grace period resumes instead; an ended subscription
// is rebuilt without a trial; a swap across billing intervals with proration
// replaces the remote subscription and carries the unused value over as
// discounts.
func (s *service) SwapPlan(ctx context.Context, customerID uuid.UUID, name, newPlanCode string, prorate bool) (*models.Subscription, error) {
	newPlanCode = strings.TrimSpace(newPlanCode)
	if newPlanCode == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "plan code is required")
	}

	sub, err := s.requireCurrent(ctx, customerID, name)
	if err != nil {
		return nil, err
	}
	now := s.clock()

	if sub.OnGracePeriod(now) && sub.PaystackPlan == newPlanCode {
		return s.Resume(ctx, customerID, name)
	}

	if !sub.Active(now) {
		return s.rebuildEnded(ctx, sub, newPlanCode)
	}

	newPlan, err := s.catalog.FindPlan(ctx, newPlanCode)
	if err != nil {
		return nil, err
	}
	currentPlan, err := s.catalog.FindPlan(ctx, sub.PaystackPlan)
	if err != nil {
		return nil, err
	}
	customer, err := s.requireCustomer(ctx, sub.CustomerID)
	if err != nil {
		return nil, err
	}

	if newPlan.Interval != currentPlan.Interval && prorate {
		return s.swapInterval(ctx, sub, customer, currentPlan, newPlan, now)
	}

	if _, err := s.provider.UpdateSubscription(ctx, sub.PaystackCode, paystack.SubscriptionUpdateParams{
		PlanCode:       newPlanCode,
		Quantity:       sub.Quantity,
		AmountSubunits: taxInclusiveAmount(newPlan.AmountSubunits, sub.Quantity, customer.TaxPercent),
	}); err != nil {
		return nil, err
	}

	sub.PaystackPlan = newPlanCode
	sub.EndsAt = nil
	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting plan swap")
	}
	s.logLifecycle(ctx, sub, "subscription plan swapped")
	return sub, nil
}

// rebuildEnded starts a fresh subscription in place of one that already
// ended. The customer pays immediately; no trial is granted twice.
func (s *service) rebuildEnded(ctx context.Context, ended *models.Subscription, newPlanCode string) (*models.Subscription, error) {
	customer, err := s.requireCustomer(ctx, ended.CustomerID)
	if err != nil {
		return nil, err
	}

	return s.NewBuilder(customer, ended.Name, newPlanCode).
		Quantity(ended.Quantity).
		SkipTrial().
		Create(ctx, "")
}

// swapInterval replaces the remote subscription when the billing frequency
// changes, converting the unused balance into discounts on the new plan.
func (s *service) swapInterval(ctx context.Context, sub *models.Subscription, customer *models.Customer, currentPlan, newPlan *paystack.Plan, now time.Time) (*models.Subscription, error) {
	remote, err := s.provider.FetchSubscription(ctx, sub.PaystackCode)
	if err != nil {
		return nil, err
	}
	if err := s.provider.DisableSubscription(ctx, remote.SubscriptionCode, remote.EmailToken); err != nil {
		return nil, err
	}

	params := paystack.SubscriptionCreateParams{
		CustomerCode:   remote.Customer.CustomerCode,
		PlanCode:       newPlan.PlanCode,
		Quantity:       sub.Quantity,
		AmountSubunits: taxInclusiveAmount(newPlan.AmountSubunits, sub.Quantity, customer.TaxPercent),
		Discounts:      swapDiscounts(remote, currentPlan, newPlan, now),
	}
	if remote.Authorization != nil {
		params.Authorization = remote.Authorization.AuthorizationCode
	}

	replacement, err := s.provider.CreateSubscription(ctx, params)
	if err != nil {
		return nil, err
	}

	sub.PaystackPlan = newPlan.PlanCode
	sub.PaystackID = strconv.FormatInt(replacement.ID, 10)
	sub.PaystackCode = replacement.SubscriptionCode
	sub.EndsAt = nil
	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting interval swap")
	}
	s.logLifecycle(ctx, sub, "subscription interval swapped")
	return sub, nil
}

// ApplyCoupon attaches a provider coupon to the subscription's next cycles.
// With removeOthers set, discounts already running on the remote
// subscription are dropped in the same call.
func (s *service) ApplyCoupon(ctx context.Context, customerID uuid.UUID, name, couponCode string, removeOthers bool) error {
	couponCode = strings.TrimSpace(couponCode)
	if couponCode == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "coupon code is required")
	}

	sub, err := s.requireCurrent(ctx, customerID, name)
	if err != nil {
		return err
	}
	if !sub.Active(s.clock()) {
		return pkgerrors.New(pkgerrors.CodeStateConflict, "cannot apply a coupon to an inactive subscription")
	}

	params := paystack.DiscountUpdateParams{CouponCode: couponCode}
	if removeOthers {
		remote, err := s.provider.FetchSubscription(ctx, sub.PaystackCode)
		if err != nil {
			return err
		}
		if remote != nil {
			for _, discount := range remote.ActiveDiscounts {
				if discount.ID != "" {
					params.RemoveIDs = append(params.RemoveIDs, discount.ID)
				}
			}
		}
	}
	return s.provider.UpdateSubscriptionDiscount(ctx, sub.PaystackCode, params)
}

// UpdateQuantity rescales the subscription, repricing the remote amount from
// the plan's unit price.
func (s *service) UpdateQuantity(ctx context.Context, customerID uuid.UUID, name string, quantity int) (*models.Subscription, error) {
	if quantity < 1 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "quantity must be at least 1")
	}

	sub, err := s.requireCurrent(ctx, customerID, name)
	if err != nil {
		return nil, err
	}
	if !sub.Valid(s.clock()) {
		return nil, pkgerrors.New(pkgerrors.CodeStateConflict, "cannot change quantity on an ended subscription")
	}

	plan, err := s.catalog.FindPlan(ctx, sub.PaystackPlan)
	if err != nil {
		return nil, err
	}
	customer, err := s.requireCustomer(ctx, sub.CustomerID)
	if err != nil {
		return nil, err
	}

	if _, err := s.provider.UpdateSubscription(ctx, sub.PaystackCode, paystack.SubscriptionUpdateParams{
		Quantity:       quantity,
		AmountSubunits: taxInclusiveAmount(plan.AmountSubunits, quantity, customer.TaxPercent),
	}); err != nil {
		return nil, err
	}

	sub.Quantity = quantity
	if err := s.repo.UpdateSubscription(ctx, sub); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting quantity change")
	}
	return sub, nil
}

// Subscribed reports whether the named slot currently grants access.
func (s *service) Subscribed(ctx context.Context, customerID uuid.UUID, name string) (bool, error) {
	sub, err := s.Current(ctx, customerID, name)
	if err != nil {
		return false, err
	}
	return sub != nil && sub.Valid(s.clock()), nil
}

// SubscribedToPlan reports whether the slot grants access on a specific plan.
func (s *service) SubscribedToPlan(ctx context.Context, customerID uuid.UUID, name, planCode string) (bool, error) {
	sub, err := s.Current(ctx, customerID, name)
	if err != nil {
		return false, err
	}
	return sub != nil && sub.Valid(s.clock()) && sub.PaystackPlan == planCode, nil
}

// OnPlan reports whether any of the customer's valid subscriptions uses the plan.
func (s *service) OnPlan(ctx context.Context, customerID uuid.UUID, planCode string) (bool, error) {
	subs, err := s.List(ctx, customerID)
	if err != nil {
		return false, err
	}
	now := s.clock()
	for i := range subs {
		if subs[i].PaystackPlan == planCode && subs[i].Valid(now) {
			return true, nil
		}
	}
	return false, nil
}

func (s *service) requireCurrent(ctx context.Context, customerID uuid.UUID, name string) (*models.Subscription, error) {
	sub, err := s.Current(ctx, customerID, name)
	if err != nil {
		return nil, err
	}
	if sub == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found")
	}
	return sub, nil
}

func (s *service) requireCustomer(ctx context.Context, customerID uuid.UUID) (*models.Customer, error) {
	customer, err := s.repo.FindCustomerByID(ctx, customerID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup customer")
	}
	if customer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	return customer, nil
}

func (s *service) logLifecycle(ctx context.Context, sub *models.Subscription, msg string) {
	if s.logger == nil {
		return
	}
	ctx = s.logger.WithCustomerID(ctx, sub.CustomerID.String())
	ctx = s.logger.WithSubscription(ctx, sub.Name)
	s.logger.Info(ctx, msg)
}
