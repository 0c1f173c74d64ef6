// internal/service/sales_lead_worker.go
package service

import (
	"context"
	"fmt"
	"html"
	"strings"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/cartrecovery/internal/errors"
	"github.com/unclebandit/cartrecovery/internal/metrics"
	"github.com/unclebandit/cartrecovery/internal/provider"
	"github.com/unclebandit/cartrecovery/internal/queue"
)

const salesAlertTemplate = `<div style="font-family: Arial, sans-serif;">
  <h2>High-value cart abandoned</h2>
  <ul>
    <li><strong>Checkout:</strong> {checkout}</li>
    <li><strong>Customer:</strong> {name}</li>
    <li><strong>Email:</strong> {email}</li>
    <li><strong>Phone:</strong> {phone}</li>
    <li><strong>Location:</strong> {location}</li>
    <li><strong>Order Value:</strong> {total} {currency}</li>
    <li><strong>Abandoned:</strong> {abandoned}</li>
    <li><strong>Customer email:</strong> {state}</li>
  </ul>
  <p>Please reach out personally.</p>
</div>`

// SalesLeadWorker turns sales leads into internal alerts for the sales mailbox.
type SalesLeadWorker struct {
	Mailer     provider.Mailer
	SalesEmail string
	Metrics    *metrics.Metrics
	Log        *zap.Logger
}

// NewSalesLeadWorker builds a worker. A missing sales mailbox is a configuration error.
func NewSalesLeadWorker(mailer provider.Mailer, salesEmail string, m *metrics.Metrics, log *zap.Logger) (*SalesLeadWorker, error) {
	if strings.TrimSpace(salesEmail) == "" {
		return nil, appErrors.NewConfiguration("SALES_EMAIL")
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &SalesLeadWorker{Mailer: mailer, SalesEmail: salesEmail, Metrics: m, Log: log}, nil
}

// HandleSalesLead sends one alert. Returning an error makes the queue retry.
func (w *SalesLeadWorker) HandleSalesLead(ctx context.Context, lead queue.SalesLead) error {
	msg := provider.Message{
		To:       w.SalesEmail,
		ToName:   "Sales",
		Subject:  "High-value cart abandoned: " + lead.CheckoutID,
		HTMLBody: renderSalesAlert(lead),
		Priority: "high",
	}

	id, err := w.Mailer.Send(ctx, msg)
	if err != nil {
		w.Metrics.IncSalesLead("alert_error")
		w.Log.Warn("sales alert failed", zap.String("checkout_id", lead.CheckoutID), zap.Error(err))
		return appErrors.NewCollaborator(appErrors.Delivery, err)
	}

	w.Metrics.IncSalesLead("alerted")
	w.Log.Info("sales alert sent",
		zap.String("checkout_id", lead.CheckoutID),
		zap.String("message_id", id))
	return nil
}

func renderSalesAlert(lead queue.SalesLead) string {
	or := func(s string) string {
		if strings.TrimSpace(s) == "" {
			return "N/A"
		}
		return html.EscapeString(s)
	}
	return provider.RenderTemplate(salesAlertTemplate, map[string]string{
		"checkout":  or(lead.CheckoutID),
		"name":      or(lead.CustomerName),
		"email":     or(lead.Email),
		"phone":     or(lead.Phone),
		"location":  or(lead.Location),
		"total":     fmt.Sprintf("%.2f", lead.Total),
		"currency":  or(lead.Currency),
		"abandoned": lead.AbandonedAt.UTC().Format("2006-01-02 15:04 MST"),
		"state":     or(lead.OutreachState),
	})
}
