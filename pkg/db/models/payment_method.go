package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/billflow-backend/pkg/enums"
)

// PaymentMethod wraps a reusable Paystack authorization vaulted for a customer.
type PaymentMethod struct {
	ID                uuid.UUID               `gorm:"type:uuid;default:gen_random_uuid();primaryKey"`
	CustomerID        uuid.UUID               `gorm:"column:customer_id;type:uuid;not null;index"`
	AuthorizationCode string                  `gorm:"column:authorization_code;not null;unique"`
	Type              enums.PaymentMethodType `gorm:"column:type;not null;default:'card'"`
	Reusable          bool                    `gorm:"column:reusable;not null;default:false"`
	Signature         *string                 `gorm:"column:signature"`
	CardBrand         *string                 `gorm:"column:card_brand"`
	CardLast4         *string                 `gorm:"column:card_last4"`
	CardExpMonth      *int                    `gorm:"column:card_exp_month"`
	CardExpYear       *int                    `gorm:"column:card_exp_year"`
	Bank              *string                 `gorm:"column:bank"`
	IsDefault         bool                    `gorm:"column:is_default;not null;default:false"`
	Metadata          json.RawMessage         `gorm:"column:metadata;type:jsonb"`
	CreatedAt         time.Time               `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time               `gorm:"column:updated_at;autoUpdateTime"`
}
