package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billflow-backend/pkg/enums"
)

// Charge is the local read model of a Paystack transaction created through
// the charge engine or observed via webhook.
type Charge struct {
	ID                uuid.UUID          `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID        uuid.UUID          `gorm:"column:customer_id;type:uuid;not null;index"`
	PaymentMethodID   *uuid.UUID         `gorm:"column:payment_method_id;type:uuid"`
	PaystackReference string             `gorm:"column:paystack_reference;not null;unique"`
	AmountSubunits    int64              `gorm:"column:amount_subunits;not null"`
	Currency          string             `gorm:"column:currency;not null;default:'NGN'"`
	Status            enums.ChargeStatus `gorm:"column:status;not null;default:'pending'"`
	Description       *string            `gorm:"column:description"`
	Metadata          json.RawMessage    `gorm:"column:metadata;type:jsonb"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}
