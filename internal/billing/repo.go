package billing

import (
	"context"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	"github.com/angelmondragon/billflow-backend/pkg/pagination"
)

// Repository handles billing persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository

	CreateCustomer(ctx context.Context, customer *models.Customer) error
	UpdateCustomer(ctx context.Context, customer *models.Customer) error
	FindCustomerByID(ctx context.Context, id uuid.UUID) (*models.Customer, error)
	FindCustomerByEmail(ctx context.Context, email string) (*models.Customer, error)
	FindCustomerByPaystackCode(ctx context.Context, code string) (*models.Customer, error)

	CreateSubscription(ctx context.Context, subscription *models.Subscription) error
	UpdateSubscription(ctx context.Context, subscription *models.Subscription) error
	CurrentSubscription(ctx context.Context, customerID uuid.UUID, name string) (*models.Subscription, error)
	FindSubscriptionByCode(ctx context.Context, paystackCode string) (*models.Subscription, error)
	ListSubscriptions(ctx context.Context, customerID uuid.UUID) ([]models.Subscription, error)
	ListActiveSubscriptions(ctx context.Context, customerID uuid.UUID, now time.Time) ([]models.Subscription, error)
	ListSubscriptionsForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.Subscription, error)

	CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error
	UpdatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error
	DeletePaymentMethod(ctx context.Context, id uuid.UUID) error
	FindPaymentMethodByID(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error)
	FindPaymentMethodByAuthorization(ctx context.Context, authorizationCode string) (*models.PaymentMethod, error)
	ListPaymentMethods(ctx context.Context, customerID uuid.UUID) ([]models.PaymentMethod, error)
	ClearDefaultPaymentMethod(ctx context.Context, customerID uuid.UUID) error

	CreateCharge(ctx context.Context, charge *models.Charge) error
	UpdateCharge(ctx context.Context, charge *models.Charge) error
	FindChargeByReference(ctx context.Context, reference string) (*models.Charge, error)
	ListCharges(ctx context.Context, params ListChargesQuery) ([]models.Charge, *pagination.Cursor, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository returns a billing repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) CreateCustomer(ctx context.Context, customer *models.Customer) error {
	return r.db.WithContext(ctx).Create(customer).Error
}

func (r *repository) UpdateCustomer(ctx context.Context, customer *models.Customer) error {
	return r.db.WithContext(ctx).Save(customer).Error
}

func (r *repository) FindCustomerByID(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&customer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func (r *repository) FindCustomerByEmail(ctx context.Context, email string) (*models.Customer, error) {
	if email == "" {
		return nil, nil
	}
	var customer models.Customer
	if err := r.db.WithContext(ctx).
		Where("email = ?", email).
		First(&customer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func (r *repository) FindCustomerByPaystackCode(ctx context.Context, code string) (*models.Customer, error) {
	if code == "" {
		return nil, nil
	}
	var customer models.Customer
	if err := r.db.WithContext(ctx).
		Where("paystack_customer_code = ?", code).
		First(&customer).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &customer, nil
}

func (r *repository) CreateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Create(subscription).Error
}

func (r *repository) UpdateSubscription(ctx context.Context, subscription *models.Subscription) error {
	return r.db.WithContext(ctx).Save(subscription).Error
}

// CurrentSubscription returns the most recently created subscription row for
// the (customer, name) pair. Superseded rows stay behind as history.
func (r *repository) CurrentSubscription(ctx context.Context, customerID uuid.UUID, name string) (*models.Subscription, error) {
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("customer_id = ? AND name = ?", customerID, name).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) FindSubscriptionByCode(ctx context.Context, paystackCode string) (*models.Subscription, error) {
	if paystackCode == "" {
		return nil, nil
	}
	var sub models.Subscription
	if err := r.db.WithContext(ctx).
		Where("paystack_code = ?", paystackCode).
		Order("created_at DESC").
		First(&sub).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &sub, nil
}

func (r *repository) ListSubscriptions(ctx context.Context, customerID uuid.UUID) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ListActiveSubscriptions returns subscriptions still granting access, i.e.
// rows with no termination or a termination still in the future.
func (r *repository) ListActiveSubscriptions(ctx context.Context, customerID uuid.UUID, now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Where("ends_at IS NULL OR ends_at > ?", now).
		Order("created_at DESC").
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

// ListSubscriptionsForReconciliation returns subscriptions whose remote state
// may have drifted: everything not yet ended, plus rows that ended within the
// lookback window in case a late cancellation webhook was missed.
func (r *repository) ListSubscriptionsForReconciliation(ctx context.Context, limit int, lookback time.Duration) ([]models.Subscription, error) {
	if limit <= 0 {
		limit = 250
	}
	if lookback <= 0 {
		lookback = 7 * 24 * time.Hour
	}
	cutoff := time.Now().UTC().Add(-lookback)
	var subs []models.Subscription
	if err := r.db.WithContext(ctx).
		Model(&models.Subscription{}).
		Where("paystack_code <> ''").
		Where("ends_at IS NULL OR ends_at >= ?", cutoff).
		Order("updated_at DESC").
		Limit(limit).
		Find(&subs).Error; err != nil {
		return nil, err
	}
	return subs, nil
}

func (r *repository) CreatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	return r.db.WithContext(ctx).Create(method).Error
}

func (r *repository) UpdatePaymentMethod(ctx context.Context, method *models.PaymentMethod) error {
	return r.db.WithContext(ctx).Save(method).Error
}

func (r *repository) DeletePaymentMethod(ctx context.Context, id uuid.UUID) error {
	return r.db.WithContext(ctx).Delete(&models.PaymentMethod{}, "id = ?", id).Error
}

func (r *repository) FindPaymentMethodByID(ctx context.Context, id uuid.UUID) (*models.PaymentMethod, error) {
	var method models.PaymentMethod
	if err := r.db.WithContext(ctx).
		Where("id = ?", id).
		First(&method).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &method, nil
}

func (r *repository) FindPaymentMethodByAuthorization(ctx context.Context, authorizationCode string) (*models.PaymentMethod, error) {
	if authorizationCode == "" {
		return nil, nil
	}
	var method models.PaymentMethod
	if err := r.db.WithContext(ctx).
		Where("authorization_code = ?", authorizationCode).
		First(&method).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &method, nil
}

func (r *repository) ListPaymentMethods(ctx context.Context, customerID uuid.UUID) ([]models.PaymentMethod, error) {
	var methods []models.PaymentMethod
	if err := r.db.WithContext(ctx).
		Where("customer_id = ?", customerID).
		Order("created_at DESC").
		Find(&methods).Error; err != nil {
		return nil, err
	}
	return methods, nil
}

func (r *repository) ClearDefaultPaymentMethod(ctx context.Context, customerID uuid.UUID) error {
	return r.db.WithContext(ctx).
		Model(&models.PaymentMethod{}).
		Where("customer_id = ? AND is_default", customerID).
		Update("is_default", false).Error
}

func (r *repository) CreateCharge(ctx context.Context, charge *models.Charge) error {
	return r.db.WithContext(ctx).Create(charge).Error
}

func (r *repository) UpdateCharge(ctx context.Context, charge *models.Charge) error {
	return r.db.WithContext(ctx).Save(charge).Error
}

func (r *repository) FindChargeByReference(ctx context.Context, reference string) (*models.Charge, error) {
	if reference == "" {
		return nil, nil
	}
	var charge models.Charge
	if err := r.db.WithContext(ctx).
		Where("paystack_reference = ?", reference).
		First(&charge).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, nil
		}
		return nil, err
	}
	return &charge, nil
}

// ListChargesQuery configures charge list queries.
type ListChargesQuery struct {
	CustomerID uuid.UUID
	Limit      int
	Cursor     *pagination.Cursor
	Status     *enums.ChargeStatus
}

func (r *repository) ListCharges(ctx context.Context, params ListChargesQuery) ([]models.Charge, *pagination.Cursor, error) {
	limit := pagination.NormalizeLimit(params.Limit)
	query := r.db.WithContext(ctx).Model(&models.Charge{}).Where("customer_id = ?", params.CustomerID)
	if params.Status != nil {
		query = query.Where("status = ?", *params.Status)
	}
	if params.Cursor != nil {
		query = query.Where("(created_at, id) < (?, ?)", params.Cursor.CreatedAt, params.Cursor.ID)
	}

	var charges []models.Charge
	if err := query.Order("created_at DESC, id DESC").Limit(pagination.LimitWithBuffer(limit)).Find(&charges).Error; err != nil {
		return nil, nil, err
	}

	if len(charges) > limit {
		next := charges[limit]
		charges = charges[:limit]
		return charges, &pagination.Cursor{
			CreatedAt: next.CreatedAt,
			ID:        next.ID,
		}, nil
	}

	return charges, nil, nil
}
