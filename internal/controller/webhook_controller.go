package controller

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"go.uber.org/zap"

	appErrors "github.com/unclebandit/cartrecovery/internal/errors"
	"github.com/unclebandit/cartrecovery/internal/service"
)

const maxWebhookBody = 1 << 20

// CheckoutIngester is the part of the ingestion service the webhooks use.
type CheckoutIngester interface {
	Ingest(ctx context.Context, req service.IngestRequest) (*service.IngestResult, error)
	MarkRecovered(ctx context.Context, checkoutID string) (bool, error)
}

type WebhookController struct {
	Ingestion CheckoutIngester
	Log       *zap.Logger
}

type shippingAddress struct {
	Address1  string `json:"address1"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	City      string `json:"city"`
	Province  string `json:"province"`
	Country   string `json:"country"`
	Zip       string `json:"zip"`
}

type checkoutPayload struct {
	ID              flexString       `json:"id"`
	Email           string           `json:"email"`
	Phone           string           `json:"phone"`
	TotalPrice      flexString       `json:"total_price"`
	Currency        string           `json:"currency"`
	ShippingAddress *shippingAddress `json:"shipping_address"`
}

// Checkout handles POST /webhooks/checkouts.
func (c *WebhookController) Checkout(w http.ResponseWriter, r *http.Request) {
	var body checkoutPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid body: " + err.Error()})
		return
	}

	req := service.IngestRequest{
		CheckoutID: string(body.ID),
		Email:      body.Email,
		Phone:      body.Phone,
		TotalPrice: string(body.TotalPrice),
		Currency:   body.Currency,
	}
	if a := body.ShippingAddress; a != nil {
		req.Shipping = service.ShippingAddress{
			Address1:  a.Address1,
			FirstName: a.FirstName,
			LastName:  a.LastName,
			City:      a.City,
			Province:  a.Province,
			Country:   a.Country,
			Zip:       a.Zip,
		}
	}

	res, err := c.Ingestion.Ingest(r.Context(), req)
	if err != nil {
		c.fail(w, "checkout webhook", err)
		return
	}

	if res.Skipped {
		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"skipped": true,
			"message": "No email provided, checkout skipped",
		})
		return
	}

	message := "Cart recorded"
	switch {
	case res.Duplicate:
		message = "Checkout already recorded"
	case res.EmailSent:
		message = "Cart recorded and follow-up email sent"
	case res.OutreachErr != nil:
		message = "Cart recorded, follow-up email will be retried"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":       true,
		"message":       message,
		"customer_id":   res.CustomerID,
		"cart_id":       res.CartID,
		"checkout_id":   res.CheckoutID,
		"total":         fmt.Sprintf("%.2f", res.Total),
		"tier":          res.Tier,
		"duplicate":     res.Duplicate,
		"email_sent":    res.EmailSent,
		"message_id":    res.MessageID,
		"discount_code": res.DiscountCode,
	})
}

type orderPayload struct {
	CheckoutID flexString `json:"checkout_id"`
}

// Order handles POST /webhooks/orders. A completed order recovers its checkout.
func (c *WebhookController) Order(w http.ResponseWriter, r *http.Request) {
	var body orderPayload
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxWebhookBody)).Decode(&body); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": "invalid body: " + err.Error()})
		return
	}

	recovered, err := c.Ingestion.MarkRecovered(r.Context(), string(body.CheckoutID))
	if err != nil {
		c.fail(w, "order webhook", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "recovered": recovered})
}

func (c *WebhookController) fail(w http.ResponseWriter, op string, err error) {
	if appErrors.IsValidation(err) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"success": false, "error": err.Error()})
		return
	}
	if c.Log != nil {
		c.Log.Error(op+" failed", zap.Error(err))
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"success": false, "error": "internal error"})
}
