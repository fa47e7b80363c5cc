package paystackwebhook

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
)

// Event names Paystack pushes that this reconciler acts on. Anything else is
// acknowledged without effect.
const (
	eventSubscriptionCreate   = "subscription.create"
	eventSubscriptionDisable  = "subscription.disable"
	eventSubscriptionNotRenew = "subscription.not_renew"
	eventChargeSuccess        = "charge.success"
	eventInvoicePaymentFailed = "invoice.payment_failed"
)

type billingLookup interface {
	FindCustomerByPaystackCode(ctx context.Context, code string) (*models.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*models.Customer, error)
	FindSubscriptionByCode(ctx context.Context, paystackCode string) (*models.Subscription, error)
}

type subscriptionLifecycle interface {
	Attach(ctx context.Context, customer *models.Customer, name string, remote *paystack.Subscription) (*models.Subscription, error)
	MarkAsCancelled(ctx context.Context, sub *models.Subscription) error
}

type chargeRecorder interface {
	RecordTransaction(ctx context.Context, customerID uuid.UUID, transaction *paystack.Transaction) (*models.Charge, error)
}

type authorizationVault interface {
	StoreAuthorization(ctx context.Context, customerID uuid.UUID, auth *paystack.Authorization) (*models.PaymentMethod, error)
}

// ServiceParams groups dependencies for the webhook reconciler.
type ServiceParams struct {
	Repo           billingLookup
	Subscriptions  subscriptionLifecycle
	Charges        chargeRecorder
	PaymentMethods authorizationVault
	Clock          func() time.Time
	Logger         *logger.Logger
}

// Service applies provider-pushed events to local billing state. Handlers are
// idempotent and never fail on a missing local match: the provider retries
// on non-2xx and a permanently unmatched event must not block its queue.
type Service struct {
	repo    billingLookup
	subs    subscriptionLifecycle
	charges chargeRecorder
	methods authorizationVault
	clock   func() time.Time
	logger  *logger.Logger
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook service requires a repository")
	}
	if params.Subscriptions == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook service requires the subscription service")
	}
	if params.Charges == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook service requires the charge service")
	}
	if params.PaymentMethods == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "webhook service requires the payment method service")
	}
	clock := params.Clock
	if clock == nil {
		clock = func() time.Time { return time.Now().UTC() }
	}
	return &Service{
		repo:    params.Repo,
		subs:    params.Subscriptions,
		charges: params.Charges,
		methods: params.PaymentMethods,
		clock:   clock,
		logger:  params.Logger,
	}, nil
}

// HandleEvent dispatches by event name. Unknown events are a successful no-op.
func (s *Service) HandleEvent(ctx context.Context, event *Event) error {
	if event == nil || len(event.Data) == 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "webhook event data required")
	}

	switch event.Event {
	case eventSubscriptionCreate:
		return s.handleSubscriptionCreate(ctx, event.Data)
	case eventSubscriptionDisable, eventSubscriptionNotRenew:
		return s.handleSubscriptionCancelled(ctx, event.Data)
	case eventChargeSuccess:
		return s.handleChargeSuccess(ctx, event.Data)
	case eventInvoicePaymentFailed:
		s.log(ctx, "invoice payment failed upstream")
		return nil
	default:
		return nil
	}
}

// handleSubscriptionCreate attaches a remote subscription created out-of-band
// to the matching local customer. The plan name becomes the slot name so a
// later create for the same remote code converges on the same row.
func (s *Service) handleSubscriptionCreate(ctx context.Context, data json.RawMessage) error {
	var remote paystack.Subscription
	if err := json.Unmarshal(data, &remote); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
	}
	if remote.SubscriptionCode == "" {
		s.log(ctx, "subscription.create without subscription code, skipping")
		return nil
	}

	customer, err := s.resolveCustomer(ctx, remote.Customer)
	if err != nil {
		return err
	}
	if customer == nil {
		s.log(ctx, "subscription.create for unknown customer, skipping")
		return nil
	}

	if _, err := s.subs.Attach(ctx, customer, remote.Plan.Name, &remote); err != nil {
		return err
	}
	return nil
}

// handleSubscriptionCancelled applies a provider-originated cancellation.
// Local state is written to match the event without a further remote call.
func (s *Service) handleSubscriptionCancelled(ctx context.Context, data json.RawMessage) error {
	var remote paystack.Subscription
	if err := json.Unmarshal(data, &remote); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode subscription event")
	}

	sub, err := s.repo.FindSubscriptionByCode(ctx, remote.SubscriptionCode)
	if err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup subscription by code")
	}
	if sub == nil {
		s.log(ctx, "cancellation event for unknown subscription, skipping")
		return nil
	}

	now := s.clock()
	if sub.Cancelled() && !sub.OnGracePeriod(now) {
		return nil
	}
	return s.subs.MarkAsCancelled(ctx, sub)
}

// handleChargeSuccess records the transaction and vaults any reusable
// authorization that rode along with it.
func (s *Service) handleChargeSuccess(ctx context.Context, data json.RawMessage) error {
	var transaction paystack.Transaction
	if err := json.Unmarshal(data, &transaction); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode charge event")
	}
	if transaction.Reference == "" {
		s.log(ctx, "charge.success without reference, skipping")
		return nil
	}

	customer, err := s.resolveCustomer(ctx, transaction.Customer)
	if err != nil {
		return err
	}
	if customer == nil {
		s.log(ctx, "charge.success for unknown customer, skipping")
		return nil
	}

	if _, err := s.charges.RecordTransaction(ctx, customer.ID, &transaction); err != nil {
		return err
	}

	if auth := transaction.Authorization; auth != nil && auth.Reusable && auth.AuthorizationCode != "" {
		if _, err := s.methods.StoreAuthorization(ctx, customer.ID, auth); err != nil {
			return err
		}
	}
	return nil
}

func (s *Service) resolveCustomer(ctx context.Context, remote paystack.Customer) (*models.Customer, error) {
	if remote.CustomerCode != "" {
		customer, err := s.repo.FindCustomerByPaystackCode(ctx, remote.CustomerCode)
		if err != nil {
			return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup customer by code")
		}
		if customer != nil {
			return customer, nil
		}
	}
	if remote.Email == "" {
		return nil, nil
	}
	customer, err := s.repo.FindCustomerByEmail(ctx, remote.Email)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "lookup customer by email")
	}
	return customer, nil
}

func (s *Service) log(ctx context.Context, msg string) {
	if s.logger == nil {
		return
	}
	s.logger.Warn(ctx, msg)
}
