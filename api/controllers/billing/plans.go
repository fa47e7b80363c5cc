package billing

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/angelmondragon/billflow-backend/api/responses"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
)

type planCatalog interface {
	FindPlan(ctx context.Context, planCode string) (*paystack.Plan, error)
	ListPlans(ctx context.Context) ([]paystack.Plan, error)
}

type planResponse struct {
	Code           string `json:"code"`
	Name           string `json:"name"`
	AmountSubunits int64  `json:"amount_subunits"`
	Interval       string `json:"interval"`
	Currency       string `json:"currency"`
}

func toPlanResponse(plan *paystack.Plan) planResponse {
	return planResponse{
		Code:           plan.PlanCode,
		Name:           plan.Name,
		AmountSubunits: plan.AmountSubunits,
		Interval:       string(plan.Interval),
		Currency:       plan.Currency,
	}
}

// PlanList returns the provider's plan catalog.
func PlanList(catalog planCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if catalog == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog unavailable"))
			return
		}

		plans, err := catalog.ListPlans(r.Context())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		items := make([]planResponse, 0, len(plans))
		for i := range plans {
			items = append(items, toPlanResponse(&plans[i]))
		}
		responses.WriteSuccess(w, map[string]any{"items": items})
	}
}

// PlanGet resolves a single plan by its provider code.
func PlanGet(catalog planCatalog, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if catalog == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "plan catalog unavailable"))
			return
		}

		plan, err := catalog.FindPlan(r.Context(), chi.URLParam(r, "code"))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccess(w, toPlanResponse(plan))
	}
}
