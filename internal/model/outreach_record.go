// internal/model/outreach_record.go
package model

import "time"

const (
	OutreachSent   = "sent"
	OutreachFailed = "failed"
)

// OutreachRecord is the audit entry of one contact attempt. Records are only ever inserted.
type OutreachRecord struct {
	ID                int64     `db:"id" json:"id"`
	CartID            int64     `db:"cart_id" json:"cart_id"`
	Recipient         string    `db:"recipient" json:"recipient"`
	Subject           string    `db:"subject" json:"subject"`
	Body              string    `db:"body" json:"body"`
	Status            string    `db:"status" json:"status"` // sent, failed
	ProviderMessageID *string   `db:"provider_message_id" json:"provider_message_id,omitempty"`
	DiscountCode      *string   `db:"discount_code" json:"discount_code,omitempty"`
	SentAt            time.Time `db:"sent_at" json:"sent_at"`
}
