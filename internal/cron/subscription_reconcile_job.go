package cron

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
)

const (
	defaultReconcileLimit    = 250
	defaultReconcileLookback = 7 * 24 * time.Hour
)

type reconcileRepository interface {
	ListSubscriptionsForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.Subscription, error)
	UpdateSubscription(ctx context.Context, subscription *models.Subscription) error
}

type subscriptionFetcher interface {
	FetchSubscription(ctx context.Context, idOrCode string) (*paystack.Subscription, error)
}

type subscriptionCanceller interface {
	MarkAsCancelled(ctx context.Context, sub *models.Subscription) error
}

// SubscriptionReconcileJobParams configures the subscription sync cron job.
type SubscriptionReconcileJobParams struct {
	Logger        *logger.Logger
	Repo          reconcileRepository
	Provider      subscriptionFetcher
	Subscriptions subscriptionCanceller
	Limit         int
	Lookback      time.Duration
	Now           func() time.Time
}

// NewSubscriptionReconcileJob builds the job that trues up local lifecycle
// state against the provider. Webhooks cover the common path; this sweep
// catches deliveries that were lost or never sent.
func NewSubscriptionReconcileJob(params SubscriptionReconcileJobParams) (Job, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Repo == nil {
		return nil, fmt.Errorf("billing repository required")
	}
	if params.Provider == nil {
		return nil, fmt.Errorf("provider client required")
	}
	if params.Subscriptions == nil {
		return nil, fmt.Errorf("subscription service required")
	}
	now := params.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	lookback := params.Lookback
	if lookback <= 0 {
		lookback = defaultReconcileLookback
	}
	limit := params.Limit
	if limit <= 0 {
		limit = defaultReconcileLimit
	}
	return &subscriptionReconcileJob{
		logg:     params.Logger,
		repo:     params.Repo,
		provider: params.Provider,
		subs:     params.Subscriptions,
		now:      now,
		limit:    limit,
		lookback: lookback,
	}, nil
}

type subscriptionReconcileJob struct {
	logg     *logger.Logger
	repo     reconcileRepository
	provider subscriptionFetcher
	subs     subscriptionCanceller
	now      func() time.Time
	limit    int
	lookback time.Duration
}

func (j *subscriptionReconcileJob) Name() string { return "subscription-reconcile" }

func (j *subscriptionReconcileJob) Run(ctx context.Context) error {
	logCtx := j.logg.WithField(ctx, "job", j.Name())
	logCtx = j.logg.WithField(logCtx, "event", "cron.job")
	snapshot, err := j.repo.ListSubscriptionsForReconciliation(logCtx, j.limit, j.lookback)
	if err != nil {
		return fmt.Errorf("list subscriptions for reconciliation: %w", err)
	}
	var errs error
	scanned := len(snapshot)
	synced := 0
	for i := range snapshot {
		if err := j.reconcileSubscription(logCtx, &snapshot[i]); err != nil {
			errs = multierr.Append(errs, err)
			continue
		}
		synced++
	}
	reportCtx := j.logg.WithFields(logCtx, map[string]any{
		"candidates": scanned,
		"synced":     synced,
	})
	j.logg.Info(reportCtx, "subscription reconcile loop complete")
	return errs
}

func (j *subscriptionReconcileJob) reconcileSubscription(ctx context.Context, sub *models.Subscription) error {
	logCtx := j.logg.WithFields(ctx, map[string]any{
		"subscription_id":   sub.ID,
		"subscription_code": sub.PaystackCode,
	})
	if strings.TrimSpace(sub.PaystackCode) == "" {
		j.logg.Info(logCtx, "subscription missing provider code; skipping")
		return nil
	}

	remote, err := j.provider.FetchSubscription(logCtx, sub.PaystackCode)
	if err != nil {
		if appErr := pkgerrors.As(err); appErr != nil && appErr.Code() == pkgerrors.CodeNotFound {
			// Remote record is gone entirely. Close out the local one.
			if markErr := j.subs.MarkAsCancelled(logCtx, sub); markErr != nil {
				return fmt.Errorf("mark orphaned subscription cancelled: %w", markErr)
			}
			j.logg.Info(logCtx, "remote subscription missing; marked cancelled")
			return nil
		}
		return fmt.Errorf("fetch remote subscription: %w", err)
	}

	statusCtx := j.logg.WithField(logCtx, "remote_status", remote.Status)
	if remote.SubscriptionActive() {
		if err := j.syncActive(statusCtx, sub, remote); err != nil {
			return err
		}
		return nil
	}

	if sub.Ended(j.now()) {
		return nil
	}
	if err := j.subs.MarkAsCancelled(statusCtx, sub); err != nil {
		return fmt.Errorf("mark subscription cancelled: %w", err)
	}
	j.logg.Info(statusCtx, "remote subscription inactive; marked cancelled")
	return nil
}

// syncActive repairs drift on a subscription the provider still bills. A
// non-renewing remote keeps access until the next payment date, so the local
// record carries that as its scheduled end.
func (j *subscriptionReconcileJob) syncActive(ctx context.Context, sub *models.Subscription, remote *paystack.Subscription) error {
	dirty := false
	if remote.Quantity > 0 && remote.Quantity != sub.Quantity {
		sub.Quantity = remote.Quantity
		dirty = true
	}
	if code := strings.TrimSpace(remote.Plan.PlanCode); code != "" && code != sub.PaystackPlan {
		sub.PaystackPlan = code
		dirty = true
	}
	switch remote.Status {
	case "non-renewing":
		if remote.NextPaymentDate != nil && (sub.EndsAt == nil || !sub.EndsAt.Equal(*remote.NextPaymentDate)) {
			end := remote.NextPaymentDate.UTC()
			sub.EndsAt = &end
			dirty = true
		}
	case "active":
		if sub.EndsAt != nil && sub.EndsAt.After(j.now()) {
			// Local grace period the provider no longer knows about.
			sub.EndsAt = nil
			dirty = true
		}
	}
	if !dirty {
		return nil
	}
	if err := j.repo.UpdateSubscription(ctx, sub); err != nil {
		return fmt.Errorf("persist reconciled subscription: %w", err)
	}
	j.logg.Info(ctx, "subscription reconciled against remote state")
	return nil
}
