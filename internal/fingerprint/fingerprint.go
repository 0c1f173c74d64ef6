// Package fingerprint derives a household identity key from partial contact data.
//
// Two abandonment events resolve to the same customer when their normalized
// street address, email domain and last four phone digits match. Addresses are
// only lower-cased and trimmed, so "12 Main St" and "12 Main Street" are still
// different households.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const separator = ":"

// Parts is the normalized input of a fingerprint.
type Parts struct {
	Address     string
	EmailDomain string
	PhoneLast4  string
}

// Normalize reduces raw contact fields to the components that identify a household.
func Normalize(email, phone, streetAddress string) Parts {
	return Parts{
		Address:     strings.ToLower(strings.TrimSpace(streetAddress)),
		EmailDomain: EmailDomain(email),
		PhoneLast4:  PhoneLast4(phone),
	}
}

// Resolve returns the hex encoded sha256 fingerprint for the given contact fields.
// Missing fields count as empty strings.
func Resolve(email, phone, streetAddress string) string {
	return Normalize(email, phone, streetAddress).Hash()
}

// Hash joins the parts and hashes them.
func (p Parts) Hash() string {
	sum := sha256.Sum256([]byte(strings.Join([]string{p.Address, p.EmailDomain, p.PhoneLast4}, separator)))
	return hex.EncodeToString(sum[:])
}

// EmailDomain returns the lower-cased part after the last '@', or "" when there is none.
func EmailDomain(email string) string {
	email = strings.ToLower(strings.TrimSpace(email))
	i := strings.LastIndex(email, "@")
	if i < 0 {
		return ""
	}
	return email[i+1:]
}

// PhoneLast4 keeps the last four digits of phone, or "" when fewer than four are present.
func PhoneLast4(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()
	if len(digits) < 4 {
		return ""
	}
	return digits[len(digits)-4:]
}
