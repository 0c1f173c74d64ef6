// Package provider holds the external collaborators of the outreach pipeline:
// message generation, discount issuing and mail delivery, with HTTP adapters for
// OpenAI, the Shopify Admin API and Microsoft Graph.
package provider

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/unclebandit/cartrecovery/internal/tier"
)

// ErrMalformedContent is returned when a generator answers with something that
// is not a usable subject/body pair.
var ErrMalformedContent = errors.New("generated content is malformed")

// Profile is what the generator knows about the customer and the cart.
type Profile struct {
	CheckoutID string
	FirstName  string
	LastName   string
	Email      string
	City       string
	Province   string
	Country    string
	Total      float64
	Currency   string
}

func (p Profile) Name() string {
	return strings.TrimSpace(p.FirstName + " " + p.LastName)
}

func (p Profile) Location() string {
	parts := []string{}
	for _, s := range []string{p.City, p.Province, p.Country} {
		if s = strings.TrimSpace(s); s != "" {
			parts = append(parts, s)
		}
	}
	return strings.Join(parts, ", ")
}

// Content is a generated subject and HTML body.
type Content struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
}

func (c Content) Validate() error {
	if strings.TrimSpace(c.Subject) == "" || strings.TrimSpace(c.Body) == "" {
		return ErrMalformedContent
	}
	return nil
}

type Generator interface {
	Generate(ctx context.Context, p Profile, t tier.Tier) (Content, error)
}

type DiscountRequest struct {
	Tier       tier.Tier
	CheckoutID string
}

// DiscountIssuer returns a redeemable code, or "" when no code is issued.
type DiscountIssuer interface {
	Issue(ctx context.Context, req DiscountRequest) (string, error)
}

// Message is one outbound mail.
type Message struct {
	To       string
	ToName   string
	CC       string
	CCName   string
	Subject  string
	HTMLBody string
	Priority string // high, normal
}

// Mailer delivers a message and returns the provider's message identifier.
type Mailer interface {
	Send(ctx context.Context, m Message) (string, error)
}

// DiscountPolicy is the incentive granted to a tier.
type DiscountPolicy struct {
	Percent  int
	Prefix   string
	Validity time.Duration
}

const discountValidity = 7 * 24 * time.Hour

// PolicyFor returns the incentive for t. HIGH tier carts get none.
func PolicyFor(t tier.Tier) (DiscountPolicy, bool) {
	switch t {
	case tier.Low:
		return DiscountPolicy{Percent: 10, Prefix: "SAVE10", Validity: discountValidity}, true
	case tier.Medium:
		return DiscountPolicy{Percent: 5, Prefix: "SAVE5", Validity: discountValidity}, true
	}
	return DiscountPolicy{}, false
}

// Code derives the single-use code for a checkout: prefix plus the last six
// characters of the checkout id, upper-cased.
func (p DiscountPolicy) Code(checkoutID string) string {
	suffix := checkoutID
	if len(suffix) > 6 {
		suffix = suffix[len(suffix)-6:]
	}
	return fmt.Sprintf("%s-%s", p.Prefix, strings.ToUpper(suffix))
}

// NopIssuer never issues a code. It stands in when discount credentials are not configured.
type NopIssuer struct{}

func (NopIssuer) Issue(context.Context, DiscountRequest) (string, error) { return "", nil }
