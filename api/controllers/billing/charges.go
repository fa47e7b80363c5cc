package billing

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/angelmondragon/billflow-backend/api/responses"
	"github.com/angelmondragon/billflow-backend/api/validators"
	billingsvc "github.com/angelmondragon/billflow-backend/internal/billing"
	"github.com/angelmondragon/billflow-backend/internal/charges"
	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
)

type chargesService interface {
	Charge(ctx context.Context, params charges.ChargeParams) (*models.Charge, error)
	FindCharge(ctx context.Context, reference string) (*models.Charge, error)
	CreateInvoice(ctx context.Context, params charges.InvoiceParams) (*paystack.Invoice, error)
	ListInvoices(ctx context.Context, customerID uuid.UUID) ([]paystack.Invoice, error)
}

type chargeLister interface {
	ListCharges(ctx context.Context, params billingsvc.ListChargesParams) (*billingsvc.ListChargesResult, error)
}

type chargeCreateRequest struct {
	AmountSubunits  int64           `json:"amount_subunits" validate:"required,min=1"`
	PaymentMethodID *string         `json:"payment_method_id,omitempty"`
	Description     string          `json:"description,omitempty"`
	Metadata        json.RawMessage `json:"metadata,omitempty"`
}

type chargeResponse struct {
	ID              string     `json:"id"`
	Reference       string     `json:"reference"`
	AmountSubunits  int64      `json:"amount_subunits"`
	Currency        string     `json:"currency"`
	Status          string     `json:"status"`
	PaymentMethodID *uuid.UUID `json:"payment_method_id,omitempty"`
	Description     *string    `json:"description,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

func toChargeResponse(charge *models.Charge) chargeResponse {
	return chargeResponse{
		ID:              charge.ID.String(),
		Reference:       charge.PaystackReference,
		AmountSubunits:  charge.AmountSubunits,
		Currency:        charge.Currency,
		Status:          string(charge.Status),
		PaymentMethodID: charge.PaymentMethodID,
		Description:     charge.Description,
		CreatedAt:       charge.CreatedAt.UTC(),
	}
}

// ChargeCreate executes a one-off charge against a vaulted payment method.
func ChargeCreate(svc chargesService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "charge service unavailable"))
			return
		}

		customerID, err := requireCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload chargeCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := charges.ChargeParams{
			CustomerID:     customerID,
			AmountSubunits: payload.AmountSubunits,
			Description:    payload.Description,
		}
		if payload.PaymentMethodID != nil {
			methodID, parseErr := uuid.Parse(*payload.PaymentMethodID)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid payment method id"))
				return
			}
			params.PaymentMethodID = &methodID
		}
		if len(payload.Metadata) > 0 {
			var metadata map[string]any
			if unmarshalErr := json.Unmarshal(payload.Metadata, &metadata); unmarshalErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "metadata must be a JSON object"))
				return
			}
			params.Metadata = metadata
		}

		charge, err := svc.Charge(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, toChargeResponse(charge))
	}
}

// ChargeList pages through the customer's charge history.
func ChargeList(svc chargeLister, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "billing service unavailable"))
			return
		}

		customerID, err := requireCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		limit, err := validators.ParseQueryInt(r, "limit", 20, 1, 100)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		params := billingsvc.ListChargesParams{
			CustomerID: customerID,
			Limit:      limit,
			Cursor:     strings.TrimSpace(r.URL.Query().Get("cursor")),
		}
		if raw := strings.TrimSpace(r.URL.Query().Get("status")); raw != "" {
			status, parseErr := enums.ParseChargeStatus(raw)
			if parseErr != nil {
				responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeValidation, "invalid charge status"))
				return
			}
			params.Status = &status
		}

		result, err := svc.ListCharges(r.Context(), params)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]chargeResponse, 0, len(result.Items))
		for i := range result.Items {
			items = append(items, toChargeResponse(&result.Items[i]))
		}
		responses.WriteSuccess(w, map[string]any{
			"items":  items,
			"cursor": result.Cursor,
		})
	}
}

// ChargeGet fetches a single charge by provider reference.
func ChargeGet(svc chargesService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "charge service unavailable"))
			return
		}

		customerID, err := requireCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		charge, err := svc.FindCharge(r.Context(), chi.URLParam(r, "reference"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		if charge.CustomerID != customerID {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeNotFound, "charge not found"))
			return
		}

		responses.WriteSuccess(w, toChargeResponse(charge))
	}
}

type invoiceCreateRequest struct {
	AmountSubunits int64      `json:"amount_subunits" validate:"required,min=1"`
	Description    string     `json:"description,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
}

type invoiceResponse struct {
	RequestCode    string     `json:"request_code"`
	Description    string     `json:"description,omitempty"`
	AmountSubunits int64      `json:"amount_subunits"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	Paid           bool       `json:"paid"`
	DueDate        *time.Time `json:"due_date,omitempty"`
	CreatedAt      *time.Time `json:"created_at,omitempty"`
}

func toInvoiceResponse(invoice *paystack.Invoice) invoiceResponse {
	return invoiceResponse{
		RequestCode:    invoice.RequestCode,
		Description:    invoice.Description,
		AmountSubunits: invoice.AmountSubunits,
		Currency:       invoice.Currency,
		Status:         invoice.Status,
		Paid:           invoice.Paid,
		DueDate:        invoice.DueDate,
		CreatedAt:      invoice.CreatedAt,
	}
}

// InvoiceCreate raises a provider payment request against the customer.
func InvoiceCreate(svc chargesService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "charge service unavailable"))
			return
		}

		customerID, err := requireCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var payload invoiceCreateRequest
		if err := validators.DecodeJSONBody(r, &payload); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		invoice, err := svc.CreateInvoice(r.Context(), charges.InvoiceParams{
			CustomerID:     customerID,
			AmountSubunits: payload.AmountSubunits,
			Description:    payload.Description,
			DueDate:        payload.DueDate,
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, toInvoiceResponse(invoice))
	}
}

// InvoiceList returns the customer's provider-side payment requests.
func InvoiceList(svc chargesService, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "charge service unavailable"))
			return
		}

		customerID, err := requireCustomerID(r)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		invoices, err := svc.ListInvoices(r.Context(), customerID)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]invoiceResponse, 0, len(invoices))
		for i := range invoices {
			items = append(items, toInvoiceResponse(&invoices[i]))
		}
		responses.WriteSuccess(w, map[string]any{"items": items})
	}
}
