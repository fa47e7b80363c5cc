package billing

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/billflow-backend/api/middleware"
	"github.com/angelmondragon/billflow-backend/api/responses"
	"github.com/angelmondragon/billflow-backend/api/validators"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
)

type paymentMethodsService interface {
	List(ctx context.Context, customerID uuid.UUID) ([]models.PaymentMethod, error)
	SetDefault(ctx context.Context, customerID, methodID uuid.UUID) (*models.PaymentMethod, error)
	Deactivate(ctx context.Context, customerID, methodID uuid.UUID) error
	CheckFunds(ctx context.Context, customerID, methodID uuid.UUID, amountSubunits int64) (bool, error)
}

type paymentMethodResponse struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"`
	Reusable  bool      `json:"reusable"`
	Brand     *string   `json:"card_brand,omitempty"`
	Last4     *string   `json:"card_last4,omitempty"`
	ExpMonth  *int      `json:"card_exp_month,omitempty"`
	ExpYear   *int      `json:"card_exp_year,omitempty"`
	Bank      *string   `json:"bank,omitempty"`
	IsDefault bool      `json:"is_default"`
	CreatedAt time.Time `json:"created_at"`
}

func toPaymentMethodResponse(method *models.PaymentMethod) paymentMethodResponse {
	return paymentMethodResponse{
		ID:        method.ID.String(),
		Type:      string(method.Type),
		Reusable:  method.Reusable,
		Brand:     method.CardBrand,
		Last4:     method.CardLast4,
		ExpMonth:  method.CardExpMonth,
		ExpYear:   method.CardExpYear,
		Bank:      method.Bank,
		IsDefault: method.IsDefault,
		CreatedAt: method.CreatedAt.UTC(),
	}
}

// PaymentMethodList returns the customer's vaulted authorizations.
func PaymentMethodList(svc paymentMethodsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment method service unavailable"))
			return
		}

		customerID, err := requireCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		methods, err := svc.List(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]paymentMethodResponse, 0, len(methods))
		for i := range methods {
			items = append(items, toPaymentMethodResponse(&methods[i]))
		}
		responses.WriteSuccess(w, map[string]any{"items": items})
	}
}

// PaymentMethodSetDefault promotes a vaulted method to the customer default
// and repoints active subscriptions at it.
func PaymentMethodSetDefault(svc paymentMethodsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment method service unavailable"))
			return
		}

		customerID, err := requireCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		methodID, err := methodIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		method, err := svc.SetDefault(r.Context(), customerID, methodID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, toPaymentMethodResponse(method))
	}
}

// PaymentMethodDeactivate removes a vaulted method from use.
func PaymentMethodDeactivate(svc paymentMethodsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment method service unavailable"))
			return
		}

		customerID, err := requireCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		methodID, err := methodIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		if err := svc.Deactivate(r.Context(), customerID, methodID); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]string{"status": "deactivated"})
	}
}

type checkFundsRequest struct {
	AmountSubunits int64 `json:"amount_subunits" validate:"required,min=1"`
}

// PaymentMethodCheckFunds probes whether the method can cover the amount.
func PaymentMethodCheckFunds(svc paymentMethodsService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment method service unavailable"))
			return
		}

		customerID, err := requireCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		methodID, err := methodIDFromPath(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload checkFundsRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		sufficient, err := svc.CheckFunds(r.Context(), customerID, methodID, payload.AmountSubunits)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, map[string]bool{"sufficient": sufficient})
	}
}

func methodIDFromPath(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method id")
	}
	return id, nil
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
