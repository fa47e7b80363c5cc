package paystackwebhook

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"strings"

	pkgerrors "github.com/angelmondragon/billflow-backend/pkg/errors"
)

// Event is the decoded Paystack webhook envelope: an event name plus an
// event-specific data object.
type Event struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// ParseEvent decodes a raw webhook body.
func ParseEvent(payload []byte) (*Event, error) {
	var event Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "decode webhook payload")
	}
	if strings.TrimSpace(event.Event) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "webhook event name is required")
	}
	return &event, nil
}

// DedupeKey derives a stable identifier for the delivery. Paystack events
// carry no explicit id, so redeliveries are detected by hashing the event
// name and payload.
func (e *Event) DedupeKey() string {
	h := sha256.New()
	h.Write([]byte(e.Event))
	h.Write([]byte{0})
	h.Write(e.Data)
	return hex.EncodeToString(h.Sum(nil))
}
