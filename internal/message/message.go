package message

import (
	"time"
)

// PaymentStatusChanged is published after a notification moved a payment to a new status.
type PaymentStatusChanged struct {
	SiteID     int       `json:"siteId"`
	PaymentID  string    `json:"paymentId"`
	Status     string    `json:"status"`
	StatusCode int16     `json:"statusCode"`
	OccurredAt time.Time `json:"occurredAt"`
}
