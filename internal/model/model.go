package model

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Status is the locally stored payment status. The numeric values are persisted.
type Status int16

const (
	StatusUnknown           Status = 0
	StatusPending           Status = 1
	StatusWaitingForCapture Status = 2
	StatusSucceeded         Status = 3
	StatusCanceled          Status = 4
)

var statusByGatewayName = map[string]Status{
	"pending":             StatusPending,
	"waiting_for_capture": StatusWaitingForCapture,
	"succeeded":           StatusSucceeded,
	"canceled":            StatusCanceled,
}

// StatusFromGateway maps a gateway status string to a Status.
// Unrecognised strings map to StatusUnknown; ok reports whether the name was known.
func StatusFromGateway(name string) (status Status, ok bool) {
	status, ok = statusByGatewayName[strings.ToLower(strings.TrimSpace(name))]
	return status, ok
}

// GatewayName returns the gateway's spelling of the status, "" for StatusUnknown.
func (s Status) GatewayName() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusWaitingForCapture:
		return "waiting_for_capture"
	case StatusSucceeded:
		return "succeeded"
	case StatusCanceled:
		return "canceled"
	default:
		return ""
	}
}

func (s Status) String() string {
	if name := s.GatewayName(); name != "" {
		return name
	}
	return "unknown"
}

// Terminal statuses never change again.
func (s Status) Terminal() bool {
	return s == StatusSucceeded || s == StatusCanceled
}

// CanTransitionTo reports whether moving from s to next is a forward step of the
// payment lifecycle: pending -> waiting_for_capture -> succeeded, with canceled
// reachable from both non-terminal states. Unknown may move to any known status.
func (s Status) CanTransitionTo(next Status) bool {
	if next == StatusUnknown || s == next || s.Terminal() {
		return false
	}
	switch s {
	case StatusUnknown:
		return true
	case StatusPending:
		return next == StatusWaitingForCapture || next == StatusSucceeded || next == StatusCanceled
	case StatusWaitingForCapture:
		return next == StatusSucceeded || next == StatusCanceled
	default:
		return false
	}
}

type Payer struct {
	Surname  string
	Name     string
	Patronym string
}

// FullName is "Surname Name Patronym".
func (p Payer) FullName() string {
	return strings.Join([]string{p.Surname, p.Name, p.Patronym}, " ")
}

type PaymentRecord struct {
	SiteID           int
	GatewayPaymentID string
	Contract         string
	Amount           decimal.Decimal
	Email            string
	Payer            Payer
	Status           Status
	CreatedAt        time.Time
	LastError        *string
}

// Form is a normalised and validated payment request.
type Form struct {
	Contract string
	Payer    Payer
	Amount   decimal.Decimal
	Email    string
}
