package model

import "time"

// Delivery status constants.
const (
	DeliveryStatusSent   = "sent"
	DeliveryStatusFailed = "failed"
)

// DeliveryRecord is one entry of the outbound delivery log.
type DeliveryRecord struct {
	ID         string    `json:"id" db:"id"`
	Recipients []string  `json:"recipients" db:"-"`
	Subject    string    `json:"subject" db:"subject"`
	Status     string    `json:"status" db:"status"`
	Error      string    `json:"error,omitempty" db:"error"`
	CreatedAt  time.Time `json:"created_at" db:"created_at"`
}
