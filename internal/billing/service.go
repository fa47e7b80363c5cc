package billing

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/billflow-backend/pkg/db/models"
	"github.com/angelmondragon/billflow-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
	"github.com/angelmondragon/billflow-backend/pkg/logger"
	"github.com/angelmondragon/billflow-backend/pkg/pagination"
	"github.com/angelmondragon/billflow-backend/pkg/paystack"
)

// customerProvider is the remote surface needed to vault customers.
type customerProvider interface {
	CreateCustomer(ctx context.Context, params paystack.CustomerCreateParams) (*paystack.Customer, error)
}

// ServiceParams groups dependencies for the billing service.
type ServiceParams struct {
	Repo     Repository
	Provider customerProvider
	Logger   *logger.Logger
}

// Service owns customer records and their remote counterparts.
type Service struct {
	repo     Repository
	provider customerProvider
	logger   *logger.Logger
}

// NewService builds a billing service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Repo == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing service requires a repository")
	}
	if params.Provider == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "billing service requires a payment provider")
	}
	return &Service{repo: params.Repo, provider: params.Provider, logger: params.Logger}, nil
}

// CreateCustomerParams captures a new billable customer.
type CreateCustomerParams struct {
	Email       string
	Name        *string
	TaxPercent  *decimal.Decimal
	TrialEndsAt *time.Time
}

// CreateCustomer registers a local customer. The remote Paystack customer is
// created lazily on first billable action.
func (s *Service) CreateCustomer(ctx context.Context, params CreateCustomerParams) (*models.Customer, error) {
	email := strings.ToLower(strings.TrimSpace(params.Email))
	if email == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "email is required")
	}

	existing, err := s.repo.FindCustomerByEmail(ctx, email)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up customer")
	}
	if existing != nil {
		return nil, pkgerrors.New(pkgerrors.CodeConflict, "customer with this email already exists")
	}

	customer := &models.Customer{
		Email:       email,
		Name:        params.Name,
		TrialEndsAt: params.TrialEndsAt,
	}
	if params.TaxPercent != nil {
		customer.TaxPercent = *params.TaxPercent
	}
	if err := s.repo.CreateCustomer(ctx, customer); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "creating customer")
	}
	return customer, nil
}

// GetCustomer loads a customer by id.
func (s *Service) GetCustomer(ctx context.Context, id uuid.UUID) (*models.Customer, error) {
	if id == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}
	customer, err := s.repo.FindCustomerByID(ctx, id)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "looking up customer")
	}
	if customer == nil {
		return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found")
	}
	return customer, nil
}

// EnsurePaystackCustomer creates the remote customer on first use and stores
// its identifiers. Subsequent calls are no-ops.
func (s *Service) EnsurePaystackCustomer(ctx context.Context, customer *models.Customer) error {
	if customer == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "customer is required")
	}
	if customer.HasPaystackCustomer() {
		return nil
	}

	params := paystack.CustomerCreateParams{Email: customer.Email}
	if customer.Name != nil {
		first, last := splitName(*customer.Name)
		params.FirstName = first
		params.LastName = last
	}

	remote, err := s.provider.CreateCustomer(ctx, params)
	if err != nil {
		return err
	}

	id := formatRemoteID(remote.ID)
	customer.PaystackCustomerID = &id
	customer.PaystackCustomerCode = &remote.CustomerCode
	if err := s.repo.UpdateCustomer(ctx, customer); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "persisting remote customer identifiers")
	}

	if s.logger != nil {
		ctx = s.logger.WithCustomerID(ctx, customer.ID.String())
		s.logger.Info(ctx, "paystack customer created")
	}
	return nil
}

// SetTaxPercent updates the percentage applied on top of one-off charges.
func (s *Service) SetTaxPercent(ctx context.Context, customerID uuid.UUID, percent decimal.Decimal) (*models.Customer, error) {
	if percent.IsNegative() || percent.GreaterThan(decimal.NewFromInt(100)) {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "tax percent must be between 0 and 100")
	}
	customer, err := s.GetCustomer(ctx, customerID)
	if err != nil {
		return nil, err
	}
	customer.TaxPercent = percent
	if err := s.repo.UpdateCustomer(ctx, customer); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "updating tax percent")
	}
	return customer, nil
}

// ListChargesParams configures a customer charge listing.
type ListChargesParams struct {
	CustomerID uuid.UUID
	Limit      int
	Cursor     string
	Status     *enums.ChargeStatus
}

// ListChargesResult is a single page of charges.
type ListChargesResult struct {
	Items  []models.Charge
	Cursor string
}

// ListCharges pages through a customer's charge history, newest first.
func (s *Service) ListCharges(ctx context.Context, params ListChargesParams) (*ListChargesResult, error) {
	if params.CustomerID == uuid.Nil {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "customer id is required")
	}

	query := ListChargesQuery{
		CustomerID: params.CustomerID,
		Limit:      params.Limit,
		Status:     params.Status,
	}
	if params.Cursor != "" {
		cursor, err := pagination.ParseCursor(params.Cursor)
		if err != nil {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "invalid cursor")
		}
		query.Cursor = cursor
	}

	charges, next, err := s.repo.ListCharges(ctx, query)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeInternal, err, "listing charges")
	}

	result := &ListChargesResult{Items: charges}
	if next != nil {
		result.Cursor = pagination.EncodeCursor(*next)
	}
	return result, nil
}

func splitName(full string) (string, string) {
	parts := strings.Fields(full)
	switch len(parts) {
	case 0:
		return "", ""
	case 1:
		return parts[0], ""
	default:
		return parts[0], strings.Join(parts[1:], " ")
	}
}

func formatRemoteID(id int64) string {
	return strconv.FormatInt(id, 10)
}
