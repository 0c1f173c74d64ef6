// internal/service/ingestion_service.go
package service

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/cartrecovery/internal/clock"
	appErrors "github.com/unclebandit/cartrecovery/internal/errors"
	"github.com/unclebandit/cartrecovery/internal/fingerprint"
	"github.com/unclebandit/cartrecovery/internal/metrics"
	"github.com/unclebandit/cartrecovery/internal/model"
	"github.com/unclebandit/cartrecovery/internal/repository"
	"github.com/unclebandit/cartrecovery/internal/tier"
)

const defaultCurrency = "USD"

// CartProcessor contacts the customer of one due cart.
type CartProcessor interface {
	Process(ctx context.Context, c *model.DueCart) (*OutreachOutcome, error)
}

// ShippingAddress is the address block of a checkout event.
type ShippingAddress struct {
	Address1  string
	FirstName string
	LastName  string
	City      string
	Province  string
	Country   string
	Zip       string
}

// IngestRequest is one abandoned checkout as received from the storefront.
// TotalPrice is kept raw so that parsing failures surface as validation errors.
type IngestRequest struct {
	CheckoutID string
	Email      string
	Phone      string
	TotalPrice string
	Currency   string
	Shipping   ShippingAddress
}

type IngestResult struct {
	Skipped      bool      `json:"skipped,omitempty"`
	Duplicate    bool      `json:"duplicate"`
	CustomerID   int64     `json:"customer_id,omitempty"`
	CartID       int64     `json:"cart_id,omitempty"`
	CheckoutID   string    `json:"checkout_id,omitempty"`
	Total        float64   `json:"total"`
	Tier         tier.Tier `json:"tier,omitempty"`
	EmailSent    bool      `json:"email_sent"`
	MessageID    string    `json:"message_id,omitempty"`
	DiscountCode string    `json:"discount_code,omitempty"`
	OutreachErr  error     `json:"-"`
}

// IngestionService records abandoned checkouts and makes the first contact.
type IngestionService struct {
	CustomerRepo repository.CustomerRepositoryInterface
	CartRepo     repository.CartRepositoryInterface
	Outreach     CartProcessor
	Clock        clock.Clock
	Metrics      *metrics.Metrics
	Log          *zap.Logger
}

// Ingest resolves the customer, stores the cart once per checkout id and, for
// a new cart, runs the first outreach synchronously. Outreach failures are
// reported in the result and leave the cart to the batch checker.
func (s *IngestionService) Ingest(ctx context.Context, req IngestRequest) (*IngestResult, error) {
	log := s.logger()

	email := strings.TrimSpace(req.Email)
	if email == "" {
		s.Metrics.IncIngestion("skipped")
		log.Info("checkout without email skipped", zap.String("checkout_id", req.CheckoutID))
		return &IngestResult{Skipped: true, CheckoutID: req.CheckoutID}, nil
	}

	checkoutID := strings.TrimSpace(req.CheckoutID)
	if checkoutID == "" {
		s.Metrics.IncIngestion("invalid")
		return nil, appErrors.NewValidation("id", "checkout id is required")
	}

	total, err := parseTotal(req.TotalPrice)
	if err != nil {
		s.Metrics.IncIngestion("invalid")
		return nil, err
	}

	now := s.now()
	customer := &model.Customer{
		Fingerprint:   fingerprint.Resolve(email, req.Phone, req.Shipping.Address1),
		Email:         email,
		Phone:         strings.TrimSpace(req.Phone),
		StreetAddress: strings.TrimSpace(req.Shipping.Address1),
		FirstName:     strings.TrimSpace(req.Shipping.FirstName),
		LastName:      strings.TrimSpace(req.Shipping.LastName),
		City:          strings.TrimSpace(req.Shipping.City),
		Province:      strings.TrimSpace(req.Shipping.Province),
		Country:       strings.TrimSpace(req.Shipping.Country),
		Zip:           strings.TrimSpace(req.Shipping.Zip),
	}
	if err := s.CustomerRepo.Upsert(ctx, customer, now); err != nil {
		s.Metrics.IncIngestion("error")
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(req.Currency))
	if currency == "" {
		currency = defaultCurrency
	}
	cart := &model.Cart{
		CheckoutID:  checkoutID,
		CustomerID:  customer.ID,
		Total:       total,
		Currency:    currency,
		AbandonedAt: now,
		CreatedAt:   now,
	}
	created, err := s.CartRepo.CreateIfAbsent(ctx, cart)
	if err != nil {
		s.Metrics.IncIngestion("error")
		return nil, err
	}

	result := &IngestResult{
		Duplicate:  !created,
		CustomerID: customer.ID,
		CartID:     cart.ID,
		CheckoutID: cart.CheckoutID,
		Total:      cart.Total,
		Tier:       tier.Classify(cart.Total),
	}
	log = log.With(zap.String("checkout_id", checkoutID), zap.Int64("cart_id", cart.ID))

	if !created {
		s.Metrics.IncIngestion("duplicate")
		log.Info("duplicate checkout ignored")
		return result, nil
	}
	s.Metrics.IncIngestion("created")
	log.Info("cart ingested", zap.String("tier", result.Tier.String()), zap.Float64("total", total))

	if s.Outreach == nil {
		return result, nil
	}
	outcome, err := s.Outreach.Process(ctx, &model.DueCart{Cart: *cart, Customer: *customer})
	if err != nil {
		result.OutreachErr = err
		log.Warn("first contact failed, cart left for the checker", zap.Error(err))
		return result, nil
	}
	result.EmailSent = outcome.Sent()
	result.MessageID = outcome.MessageID
	result.DiscountCode = outcome.DiscountCode
	result.OutreachErr = outcome.DeliveryErr
	return result, nil
}

// MarkRecovered flags the cart of a completed checkout so it is never contacted again.
func (s *IngestionService) MarkRecovered(ctx context.Context, checkoutID string) (bool, error) {
	checkoutID = strings.TrimSpace(checkoutID)
	if checkoutID == "" {
		return false, appErrors.NewValidation("checkout_id", "is required")
	}
	recovered, err := s.CartRepo.MarkRecovered(ctx, checkoutID, s.now())
	if err != nil {
		return false, err
	}
	s.logger().Info("checkout completed",
		zap.String("checkout_id", checkoutID),
		zap.Bool("recovered", recovered))
	return recovered, nil
}

func parseTotal(raw string) (float64, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, appErrors.NewValidation("total_price", "is required")
	}
	total, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(total) || math.IsInf(total, 0) {
		return 0, appErrors.NewValidation("total_price", "must be a number")
	}
	if total < 0 {
		return 0, appErrors.NewValidation("total_price", "must not be negative")
	}
	return total, nil
}

func (s *IngestionService) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

func (s *IngestionService) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}
