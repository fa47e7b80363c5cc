package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Customer is the billable owning entity. The Paystack identifiers are nil
// until the first remote customer is created.
type Customer struct {
	ID                     uuid.UUID       `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	Email                  string          `gorm:"column:email;not null;unique"`
	Name                   *string         `gorm:"column:name"`
	PaystackCustomerID     *string         `gorm:"column:paystack_customer_id"`
	PaystackCustomerCode   *string         `gorm:"column:paystack_customer_code;index"`
	DefaultPaymentMethodID *uuid.UUID      `gorm:"column:default_payment_method_id;type:uuid"`
	TaxPercent             decimal.Decimal `gorm:"column:tax_percent;type:numeric(5,2);not null;default:0"`
	TrialEndsAt            *time.Time      `gorm:"column:trial_ends_at"`
	CreatedAt              time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// OnGenericTrial reports whether the customer-wide trial, independent of any
// subscription, is still open.
func (c *Customer) OnGenericTrial(now time.Time) bool {
	return c.TrialEndsAt != nil && c.TrialEndsAt.After(now)
}

// HasPaystackCustomer reports whether a remote customer has been created.
func (c *Customer) HasPaystackCustomer() bool {
	return c.PaystackCustomerCode != nil && *c.PaystackCustomerCode != ""
}
