// internal/model/customer.go
package model

import "time"

type Customer struct {
	ID            int64     `db:"id" json:"id"`
	Fingerprint   string    `db:"fingerprint" json:"fingerprint"`
	Email         string    `db:"email" json:"email"`
	Phone         string    `db:"phone" json:"phone,omitempty"`
	StreetAddress string    `db:"street_address" json:"street_address,omitempty"`
	FirstName     string    `db:"first_name" json:"first_name,omitempty"`
	LastName      string    `db:"last_name" json:"last_name,omitempty"`
	City          string    `db:"city" json:"city,omitempty"`
	Province      string    `db:"province" json:"province,omitempty"`
	Country       string    `db:"country" json:"country,omitempty"`
	Zip           string    `db:"zip" json:"zip,omitempty"`
	CreatedAt     time.Time `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at" json:"updated_at"`
}

// FullName joins first and last name, ignoring empty parts.
func (c *Customer) FullName() string {
	switch {
	case c.FirstName == "":
		return c.LastName
	case c.LastName == "":
		return c.FirstName
	}
	return c.FirstName + " " + c.LastName
}
