package webhooks

import (
	"context"
	"io"
	"net/http"

	"github.com/angelmondragon/billflow-backend/api/responses"
	webhookpaystack "github.com/angelmondragon/billflow-backend/internal/webhooks/paystack"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
)

type PaystackWebhookService interface {
	HandleEvent(ctx context.Context, event *webhookpaystack.Event) error
}

type paystackWebhookGuard interface {
	CheckAndMark(ctx context.Context, eventID string) (bool, error)
	Delete(ctx context.Context, eventID string) error
}

type paystackSecretSource interface {
	SigningSecret() string
}

// PaystackWebhook receives provider events and hands them to the reconciler.
// The response is a fixed acknowledgement; unknown events and unmatched
// payloads still ack so the provider stops redelivering.
func PaystackWebhook(svc PaystackWebhookService, secrets paystackSecretSource, guard paystackWebhookGuard, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "webhook service unavailable"))
			return
		}
		if secrets == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "signing secret unavailable"))
			return
		}
		if guard == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "idempotency guard unavailable"))
			return
		}

		payload, err := io.ReadAll(r.Body)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "read request body"))
			return
		}

		signature := r.Header.Get(paystack.SignatureHeader)
		if !paystack.VerifySignature(secrets.SigningSecret(), payload, signature) {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "invalid webhook signature"))
			return
		}

		event, err := webhookpaystack.ParseEvent(payload)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		deliveryID := event.DedupeKey()
		alreadyProcessed, err := guard.CheckAndMark(ctx, deliveryID)
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "check idempotency"))
			return
		}
		if alreadyProcessed {
			responses.WriteSuccess(w, map[string]string{"status": "ok"})
			return
		}

		if err := svc.HandleEvent(ctx, event); err != nil {
			_ = guard.Delete(ctx, deliveryID)
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logCtx := logg.WithFields(ctx, map[string]any{"event": event.Event})
			logg.Info(logCtx, "paystack event processed")
		}
		responses.WriteSuccess(w, map[string]string{"status": "ok"})
	}
}
