package provider

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/unclebandit/cartrecovery/internal/tier"
)

// RenderTemplate replaces {key} placeholders with data values in a single
// pass. Placeholders inside substituted values are left as they are.
func RenderTemplate(template string, data map[string]string) string {
	pairs := make([]string, 0, 2*len(data))
	for k, v := range data {
		pairs = append(pairs, "{"+k+"}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}

const defaultBodyTemplate = `<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto;">
  <h2 style="color: #2c3e50;">Complete Your {store} Order</h2>
  <p>Dear {name},</p>
  <p>We noticed you left some items in your cart. We'd love to help you complete your order!</p>
  <ul style="list-style: none; padding: 0;">
    <li><strong>Order Value:</strong> {total} {currency}</li>
  </ul>
  <p><strong>{pitch}</strong></p>
  <p>Questions? Contact our sales team at <a href="mailto:{sales}">{sales}</a>.</p>
</div>`

// TemplateGenerator renders a fixed HTML template. It is used when no
// generation API is configured.
type TemplateGenerator struct {
	StoreName  string
	SalesEmail string
}

func (g TemplateGenerator) Generate(ctx context.Context, p Profile, t tier.Tier) (Content, error) {
	if err := ctx.Err(); err != nil {
		return Content{}, err
	}

	name := p.Name()
	if name == "" {
		name = "Valued Customer"
	}

	subject := fmt.Sprintf("Complete your %s order - Limited time offer", g.StoreName)
	if t == tier.High {
		subject = fmt.Sprintf("Complete your %s order - Special pricing available", g.StoreName)
	}

	body := RenderTemplate(defaultBodyTemplate, map[string]string{
		"store":    html.EscapeString(g.StoreName),
		"name":     html.EscapeString(name),
		"total":    fmt.Sprintf("%.2f", p.Total),
		"currency": html.EscapeString(p.Currency),
		"pitch":    pitchFor(t),
		"sales":    html.EscapeString(g.SalesEmail),
	})
	return Content{Subject: subject, Body: body}, nil
}

func pitchFor(t tier.Tier) string {
	switch t {
	case tier.High:
		return "For an order of this size our sales team can provide personalized pricing and support. Someone will contact you shortly."
	case tier.Medium:
		return "For your order size we can offer specialized pricing and expedited shipping. Our sales team will follow up within 6 hours."
	}
	return "Complete your order now while your items are still available."
}
