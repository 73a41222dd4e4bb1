// Package payload holds the gateway's JSON wire types.
package payload

import (
	"time"

	"github.com/spf13/cast"
)

const (
	CurrencyRUB = "RUB"

	ConfirmationRedirect = "redirect"

	EventWaitingForCapture = "payment.waiting_for_capture"
	EventSucceeded         = "payment.succeeded"
)

// Metadata keys echoed back by the gateway on every payment object.
const (
	MetaSurname    = "surname"
	MetaName       = "name"
	MetaPatronym   = "patronym"
	MetaContract   = "contract"
	MetaEmail      = "email"
	MetaSum        = "sum"
	MetaCaptureKey = "iKeyCapture"
)

type Amount struct {
	Value    string `json:"value"`
	Currency string `json:"currency"`
}

type Confirmation struct {
	Type            string `json:"type"`
	ReturnURL       string `json:"return_url,omitempty"`
	ConfirmationURL string `json:"confirmation_url,omitempty"`
}

type ReceiptItem struct {
	Description string `json:"description"`
	Quantity    string `json:"quantity"`
	Amount      Amount `json:"amount"`
	VatCode     int    `json:"vat_code"`
}

type Receipt struct {
	Items []ReceiptItem `json:"items"`
	Email string        `json:"email"`
}

// Metadata is the merchant's key/value bag. The gateway returns values as it stored
// them, so reads go through Get rather than type assertions.
type Metadata map[string]any

func (m Metadata) Get(key string) string {
	return cast.ToString(m[key])
}

type CreatePayment struct {
	Amount       Amount       `json:"amount"`
	Description  string       `json:"description"`
	Receipt      Receipt      `json:"receipt"`
	Confirmation Confirmation `json:"confirmation"`
	Metadata     Metadata     `json:"metadata"`
	Capture      bool         `json:"capture"`
}

type Payment struct {
	ID           string        `json:"id"`
	Status       string        `json:"status"`
	Paid         bool          `json:"paid"`
	Amount       Amount        `json:"amount"`
	Description  string        `json:"description,omitempty"`
	Confirmation *Confirmation `json:"confirmation,omitempty"`
	Metadata     Metadata      `json:"metadata,omitempty"`
	CreatedAt    time.Time     `json:"created_at"`
}

// Processing is the 202 body: the request is accepted but not finished.
type Processing struct {
	Type       string `json:"type"`
	RetryAfter int64  `json:"retry_after"`
}

// Notification is the webhook body delivered by the gateway.
type Notification struct {
	Type   string  `json:"type"`
	Event  string  `json:"event"`
	Object Payment `json:"object"`
}
