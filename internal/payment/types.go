package payment

import (
	"fmt"
	"strings"

	"arkavo.org/accesscore/internal/chain"
)

// Status is the lifecycle state of a payment.
type Status uint8

const (
	StatusPending Status = iota
	StatusCompleted
	StatusFailed
	StatusRefunded
)

var statusNames = [...]string{"pending", "completed", "failed", "refunded"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return fmt.Sprintf("status(%d)", uint8(s))
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for i, n := range statusNames {
		if strings.EqualFold(string(b), n) {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown payment status %q", string(b))
}

// FailPolicy decides which payments FailPayment may move to Failed.
type FailPolicy uint8

const (
	// FailStrict only fails Pending payments.
	FailStrict FailPolicy = iota
	// FailOverride fails a payment in any status, as an administrative override.
	FailOverride
)

func (p FailPolicy) String() string {
	if p == FailOverride {
		return "override"
	}
	return "strict"
}

// ParseFailPolicy maps a configuration value to a FailPolicy.
func ParseFailPolicy(s string) (FailPolicy, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "strict":
		return FailStrict, true
	case "override":
		return FailOverride, true
	}
	return 0, false
}

// Payment is a recorded off-chain payment. Amount is in minor units.
type Payment struct {
	ID                 uint32        `cbor:"1,keyasint" json:"id"`
	Account            chain.Address `cbor:"2,keyasint" json:"account"`
	Provider           string        `cbor:"3,keyasint" json:"provider"`
	TransactionID      string        `cbor:"4,keyasint" json:"transaction_id"`
	Amount             uint64        `cbor:"5,keyasint" json:"amount"`
	EntitlementGranted uint8         `cbor:"6,keyasint" json:"entitlement_granted"`
	Status             Status        `cbor:"7,keyasint" json:"status"`
	Timestamp          uint64        `cbor:"8,keyasint" json:"timestamp"`
}

const (
	EventPaymentRecorded     = "PaymentRecorded"
	EventPaymentCompleted    = "PaymentCompleted"
	EventPaymentFailed       = "PaymentFailed"
	EventPaymentRefunded     = "PaymentRefunded"
	EventProcessorAuthorized = "ProcessorAuthorized"
	EventProcessorRevoked    = "ProcessorRevoked"
	EventRegistrySet         = "AccessRegistrySet"
)

type PaymentRecorded struct {
	PaymentID       uint32        `json:"payment_id"`
	Account         chain.Address `json:"account"`
	PaymentProvider string        `json:"payment_provider"`
	TransactionID   string        `json:"transaction_id"`
	Amount          uint64        `json:"amount"`
}

type PaymentCompleted struct {
	PaymentID          uint32        `json:"payment_id"`
	Account            chain.Address `json:"account"`
	EntitlementGranted uint8         `json:"entitlement_granted"`
}

type PaymentFailed struct {
	PaymentID uint32 `json:"payment_id"`
	Reason    string `json:"reason"`
}

type PaymentRefunded struct {
	PaymentID uint32 `json:"payment_id"`
}

type ProcessorChanged struct {
	Processor chain.Address `json:"processor"`
}

type RegistrySet struct {
	Registry chain.Address `json:"registry"`
}
