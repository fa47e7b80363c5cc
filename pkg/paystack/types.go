package paystack

import (
	"time"

	"github.com/angelmondragon/billflow-backend/pkg/enums"
)

// envelope is the fixed response wrapper on every Paystack endpoint. A false
// status with a 2xx transport code still means the provider rejected the call.
type envelope struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
}

// Customer is the remote customer resource.
type Customer struct {
	ID           int64  `json:"id"`
	CustomerCode string `json:"customer_code"`
	Email        string `json:"email"`
	FirstName    string `json:"first_name"`
	LastName     string `json:"last_name"`
}

// CustomerCreateParams captures the payload for creating a remote customer.
type CustomerCreateParams struct {
	Email     string         `json:"email"`
	FirstName string         `json:"first_name,omitempty"`
	LastName  string         `json:"last_name,omitempty"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

// Plan is the provider-defined pricing template referenced by plan code.
type Plan struct {
	ID             int64                 `json:"id"`
	Name           string                `json:"name"`
	PlanCode       string                `json:"plan_code"`
	AmountSubunits int64                 `json:"amount"`
	Interval       enums.BillingInterval `json:"interval"`
	Currency       string                `json:"currency"`
}

// Discount is an applied per-cycle credit on a remote subscription.
type Discount struct {
	ID              string `json:"id"`
	AmountSubunits  int64  `json:"amount"`
	RemainingCycles int    `json:"remaining_cycles"`
}

// DiscountAdd stages a discount entry on a create/update payload. Exactly one
// of CouponCode or AmountSubunits is set.
type DiscountAdd struct {
	CouponCode     string `json:"inherited_from_id,omitempty"`
	AmountSubunits int64  `json:"amount,omitempty"`
	Cycles         int    `json:"number_of_billing_cycles,omitempty"`
}

// Subscription is the normalized remote subscription shape. Both the numeric
// id and the opaque subscription code are kept because lookups use the id
// while mutations address the code.
type Subscription struct {
	ID               int64          `json:"id"`
	SubscriptionCode string         `json:"subscription_code"`
	EmailToken       string         `json:"email_token"`
	Status           string         `json:"status"`
	Quantity         int            `json:"quantity"`
	AmountSubunits   int64          `json:"amount"`
	NextPaymentDate  *time.Time     `json:"next_payment_date"`
	Plan             Plan           `json:"plan"`
	Customer         Customer       `json:"customer"`
	Authorization    *Authorization `json:"authorization,omitempty"`
	ActiveDiscounts  []Discount     `json:"discounts,omitempty"`
}

// SubscriptionCreateParams is the remote subscription-create payload.
type SubscriptionCreateParams struct {
	CustomerCode   string        `json:"customer"`
	PlanCode       string        `json:"plan"`
	Authorization  string        `json:"authorization,omitempty"`
	Quantity       int           `json:"quantity,omitempty"`
	AmountSubunits int64         `json:"amount,omitempty"`
	StartDate      *time.Time    `json:"start_date,omitempty"`
	Discounts      []DiscountAdd `json:"discounts,omitempty"`
}

// SubscriptionUpdateParams mutates an existing remote subscription.
type SubscriptionUpdateParams struct {
	PlanCode       string `json:"plan,omitempty"`
	AmountSubunits int64  `json:"amount,omitempty"`
	Quantity       int    `json:"quantity,omitempty"`
	Authorization  string `json:"authorization,omitempty"`
}

// DiscountUpdateParams adds a coupon-backed discount, optionally removing
// previously applied discounts first.
type DiscountUpdateParams struct {
	CouponCode string   `json:"coupon"`
	RemoveIDs  []string `json:"remove,omitempty"`
}

// Authorization is a stored charge credential returned by the provider.
type Authorization struct {
	AuthorizationCode string `json:"authorization_code"`
	Channel           string `json:"channel"`
	Reusable          bool   `json:"reusable"`
	Signature         string `json:"signature"`
	CardType          string `json:"card_type"`
	Last4             string `json:"last4"`
	ExpMonth          string `json:"exp_month"`
	ExpYear           string `json:"exp_year"`
	Bank              string `json:"bank"`
}

// Transaction is the remote result of a one-off charge.
type Transaction struct {
	ID             int64          `json:"id"`
	Reference      string         `json:"reference"`
	AmountSubunits int64          `json:"amount"`
	Currency       string         `json:"currency"`
	Status         string         `json:"status"`
	Customer       Customer       `json:"customer"`
	Authorization  *Authorization `json:"authorization,omitempty"`
}

// ChargeParams captures a one-off charge against a stored authorization.
type ChargeParams struct {
	Email             string         `json:"email"`
	AmountSubunits    int64          `json:"amount"`
	AuthorizationCode string         `json:"authorization_code"`
	Currency          string         `json:"currency,omitempty"`
	Reference         string         `json:"reference,omitempty"`
	Metadata          map[string]any `json:"metadata,omitempty"`
}

// Invoice is a provider-side payment request.
type Invoice struct {
	ID             int64      `json:"id"`
	RequestCode    string     `json:"request_code"`
	Description    string     `json:"description"`
	AmountSubunits int64      `json:"amount"`
	Currency       string     `json:"currency"`
	Status         string     `json:"status"`
	Paid           bool       `json:"paid"`
	DueDate        *time.Time `json:"due_date"`
	CreatedAt      *time.Time `json:"created_at"`
}

// InvoiceCreateParams captures the invoice-create payload.
type InvoiceCreateParams struct {
	CustomerCode   string     `json:"customer"`
	AmountSubunits int64      `json:"amount"`
	Description    string     `json:"description,omitempty"`
	Currency       string     `json:"currency,omitempty"`
	DueDate        *time.Time `json:"due_date,omitempty"`
}

// InvoiceListFilter narrows invoice listings.
type InvoiceListFilter struct {
	CustomerCode string
	Status       string
	PerPage      int
	Page         int
}

// SubscriptionActive reports whether the remote status still bills.
func (s *Subscription) SubscriptionActive() bool {
	switch s.Status {
	case "active", "non-renewing", "attention":
		return true
	default:
		return false
	}
}
