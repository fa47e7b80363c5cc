package controllers

import (
	"context"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/billflow-backend/api/middleware"
	"github.com/angelmondragon/billflow-backend/api/responses"
	"github.com/angelmondragon/billflow-backend/api/validators"
	"github.com/angelmondragon/billflow-backend/internal/billing"
	"github.com/angelmondragon/billflow-backend/pkg/auth"
	"github.com/angelmondragon/billflow-backend/pkg/config"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
)

type customersService interface {
	CreateCustomer(ctx context.Context, params billing.CreateCustomerParams) (*models.Customer, error)
	GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	SetTaxPercent(ctx context.Context, customerID uuid.UUID, percent decimal.Decimal) (*models.Customer, error)
}

type customerCreateRequest struct {
	Email       string     `json:"email" validate:"required,email"`
	Name        *string    `json:"name,omitempty"`
	TaxPercent  *string    `json:"tax_percent,omitempty"`
	TrialEndsAt *time.Time `json:"trial_ends_at,omitempty"`
}

type customerResponse struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	Name         *string    `json:"name,omitempty"`
	TaxPercent   string     `json:"tax_percent"`
	TrialEndsAt  *time.Time `json:"trial_ends_at,omitempty"`
	OnboardedAt  time.Time  `json:"created_at"`
	RemoteLinked bool       `json:"remote_linked"`
}

type customerCreateResponse struct {
	Customer    customerResponse `json:"customer"`
	AccessToken string           `json:"access_token"`
}

func toCustomerResponse(customer *models.Customer) customerResponse {
	return customerResponse{
		ID:           customer.ID.String(),
		Email:        customer.Email,
		Name:         customer.Name,
		TaxPercent:   customer.TaxPercent.String(),
		TrialEndsAt:  customer.TrialEndsAt,
		OnboardedAt:  customer.CreatedAt.UTC(),
		RemoteLinked: customer.HasPaystackCustomer(),
	}
}

// CustomerCreate registers a billable customer and mints the access token the
// caller uses for every subsequent billing call.
func CustomerCreate(svc customersService, jwtCfg config.JWTConfig, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "customer service unavailable"))
			return
		}

		var payload customerCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := billing.CreateCustomerParams{
			Email:       payload.Email,
			Name:        payload.Name,
			TrialEndsAt: payload.TrialEndsAt,
		}
		if payload.TaxPercent != nil {
			percent, err := decimal.NewFromString(*payload.TaxPercent)
			if err != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "tax_percent must be a decimal"))
				return
			}
			params.TaxPercent = &percent
		}

		customer, err := svc.CreateCustomer(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		token, err := auth.MintAccessToken(jwtCfg, time.Now().UTC(), auth.AccessTokenPayload{
			CustomerID: customer.ID,
			Email:      customer.Email,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "minting access token"))
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, customerCreateResponse{
			Customer:    toCustomerResponse(customer),
			AccessToken: token,
		})
	}
}

// CustomerProfile returns the authenticated customer's billing profile.
func CustomerProfile(svc customersService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "customer service unavailable"))
			return
		}

		customerID, err := authenticatedCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		customer, err := svc.GetCustomer(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, toCustomerResponse(customer))
	}
}

type customerTaxRequest struct {
	TaxPercent string `json:"tax_percent" validate:"required"`
}

// CustomerSetTaxPercent updates the percentage added on top of one-off charges.
func CustomerSetTaxPercent(svc customersService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "customer service unavailable"))
			return
		}

		customerID, err := authenticatedCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload customerTaxRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		percent, err := decimal.NewFromString(payload.TaxPercent)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "tax_percent must be a decimal"))
			return
		}

		customer, err := svc.SetTaxPercent(r.Context(), customerID, percent)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, toCustomerResponse(customer))
	}
}

// authenticatedCustomerID resolves the customer id the auth middleware stored
// on the request context.
func authenticatedCustomerID(r *http.Request) (uuid.UUID, error) {
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
