package subscriptions

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/billflow-backend/api/middleware"
	"github.com/angelmondragon/billflow-backend/api/responses"
	"github.com/angelmondragon/billflow-backend/api/validators"
	"github.com/angelmondragon/billflow-backend/internal/subscriptions"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
)

type customerLoader interface {
	GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
}

type subscribeRequest struct {
	Name              string     `json:"name,omitempty"`
	Plan              string     `json:"plan" validate:"required"`
	Quantity          int        `json:"quantity,omitempty" validate:"omitempty,min=1"`
	TrialDays         int        `json:"trial_days,omitempty" validate:"omitempty,min=1"`
	TrialUntil        *time.Time `json:"trial_until,omitempty"`
	SkipTrial         bool       `json:"skip_trial,omitempty"`
	Coupon            string     `json:"coupon,omitempty"`
	AuthorizationCode string     `json:"authorization_code,omitempty"`
}

type subscriptionResponse struct {
	ID          string     `json:"id"`
	Name        string     `json:"name"`
	Plan        string     `json:"plan"`
	Code        string     `json:"subscription_code"`
	Quantity    int        `json:"quantity"`
	Status      string     `json:"status"`
	TrialEndsAt *time.Time `json:"trial_ends_at,omitempty"`
	EndsAt      *time.Time `json:"ends_at,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
}

func toSubscriptionResponse(sub *models.Subscription, now time.Time) subscriptionResponse {
	return subscriptionResponse{
		ID:          sub.ID.String(),
		Name:        sub.Name,
		Plan:        sub.PaystackPlan,
		Code:        sub.PaystackCode,
		Quantity:    sub.Quantity,
		Status:      string(sub.Status(now)),
		TrialEndsAt: sub.TrialEndsAt,
		EndsAt:      sub.EndsAt,
		CreatedAt:   sub.CreatedAt.UTC(),
	}
}

// Subscribe provisions a new remote subscription through the builder.
func Subscribe(svc subscriptions.Service, customers customerLoader, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil || customers == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		customerID, err := requireCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload subscribeRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		customer, err := customers.GetCustomer(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		builder := svc.NewBuilder(customer, payload.Name, payload.Plan)
		if payload.Quantity > 0 {
			builder = builder.Quantity(payload.Quantity)
		}
		if payload.TrialDays > 0 {
			builder = builder.TrialDays(payload.TrialDays)
		}
		if payload.TrialUntil != nil {
			builder = builder.TrialUntil(*payload.TrialUntil)
		}
		if payload.SkipTrial {
			builder = builder.SkipTrial()
		}
		if payload.Coupon != "" {
			builder = builder.WithCoupon(payload.Coupon)
		}

		sub, err := builder.Create(r.Context(), payload.AuthorizationCode)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, toSubscriptionResponse(sub, time.Now().UTC()))
	}
}

// List returns every subscription row the customer owns, newest first.
func List(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		customerID, err := requireCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		subs, err := svc.List(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		now := time.Now().UTC()
		items := make([]subscriptionResponse, 0, len(subs))
		for i := range subs {
			items = append(items, toSubscriptionResponse(&subs[i], now))
		}
		responses.WriteSuccess(w, map[string]any{"items": items})
	}
}

// Current returns the active row for the named slot.
func Current(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		customerID, err := requireCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.Current(r.Context(), customerID, chi.URLParam(r, "name"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if sub == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "subscription not found"))
			return
		}

		responses.WriteSuccess(w, toSubscriptionResponse(sub, time.Now().UTC()))
	}
}

type lifecycleCall func(ctx context.Context, customerID uuid.UUID, name string) (*models.Subscription, error)

func lifecycleHandler(call lifecycleCall, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if call == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		customerID, err := requireCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := call(r.Context(), customerID, chi.URLParam(r, "name"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, toSubscriptionResponse(sub, time.Now().UTC()))
	}
}

// Cancel schedules the subscription to end at the period boundary.
func Cancel(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return lifecycleHandler(nil, logg)
	}
	return lifecycleHandler(svc.Cancel, logg)
}

// CancelNow terminates the subscription immediately with no grace period.
func CancelNow(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return lifecycleHandler(nil, logg)
	}
	return lifecycleHandler(svc.CancelNow, logg)
}

// Resume lifts a scheduled cancellation while the grace period is still open.
func Resume(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	if svc == nil {
		return lifecycleHandler(nil, logg)
	}
	return lifecycleHandler(svc.Resume, logg)
}

type swapRequest struct {
	Plan    string `json:"plan" validate:"required"`
	Prorate bool   `json:"prorate,omitempty"`
}

// Swap moves the subscription onto a different plan.
func Swap(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		customerID, err := requireCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload swapRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.SwapPlan(r.Context(), customerID, chi.URLParam(r, "name"), payload.Plan, payload.Prorate)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, toSubscriptionResponse(sub, time.Now().UTC()))
	}
}

type couponRequest struct {
	Coupon       string `json:"coupon" validate:"required"`
	RemoveOthers bool   `json:"remove_others"`
}

// ApplyCoupon attaches a discount code to the remote subscription,
// optionally replacing the discounts already running on it.
func ApplyCoupon(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		customerID, err := requireCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload couponRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.ApplyCoupon(r.Context(), customerID, chi.URLParam(r, "name"), payload.Coupon, payload.RemoveOthers); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "applied"})
	}
}

type quantityRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1"`
}

// UpdateQuantity changes the billed seat count on the subscription.
func UpdateQuantity(svc subscriptions.Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "subscription service unavailable"))
			return
		}

		customerID, err := requireCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload quantityRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sub, err := svc.UpdateQuantity(r.Context(), customerID, chi.URLParam(r, "name"), payload.Quantity)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, toSubscriptionResponse(sub, time.Now().UTC()))
	}
}

func requireCustomerID(r *http.Request) (uuid.UUID, error) {
	raw := middleware.CustomerIDFromContext(r.Context())
	if raw == "" {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "authentication required")
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeUnauthorized, "invalid customer identity")
	}
	return id, nil
}
