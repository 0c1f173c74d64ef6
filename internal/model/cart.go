// internal/model/cart.go
package model

import "time"

type Cart struct {
	ID          int64      `db:"id" json:"id"`
	CheckoutID  string     `db:"checkout_id" json:"checkout_id"`
	CustomerID  int64      `db:"customer_id" json:"customer_id"`
	Total       float64    `db:"total" json:"total"`
	Currency    string     `db:"currency" json:"currency"`
	AbandonedAt time.Time  `db:"abandoned_at" json:"abandoned_at"`
	CreatedAt   time.Time  `db:"created_at" json:"created_at"`
	RecoveredAt *time.Time `db:"recovered_at" json:"recovered_at,omitempty"`
}

// DueCart is a cart selected for outreach together with its owner and the
// aggregate of its outreach history.
type DueCart struct {
	Cart
	Customer      Customer
	OutreachCount int
	LastSentAt    *time.Time
}
