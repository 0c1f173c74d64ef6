// internal/service/outreach_service.go
package service

import (
	"context"
	"fmt"
	"html"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/unclebandit/cartrecovery/internal/clock"
	"github.com/unclebandit/cartrecovery/internal/eligibility"
	appErrors "github.com/unclebandit/cartrecovery/internal/errors"
	"github.com/unclebandit/cartrecovery/internal/lock"
	"github.com/unclebandit/cartrecovery/internal/metrics"
	"github.com/unclebandit/cartrecovery/internal/model"
	"github.com/unclebandit/cartrecovery/internal/provider"
	"github.com/unclebandit/cartrecovery/internal/queue"
	"github.com/unclebandit/cartrecovery/internal/repository"
	"github.com/unclebandit/cartrecovery/internal/tier"
)

// OutreachConfig carries store branding and per-call collaborator timeouts.
type OutreachConfig struct {
	StoreName         string
	CartURL           string
	SalesEmail        string
	SalesTopic        string
	GenerationTimeout time.Duration
	DiscountTimeout   time.Duration
	DeliveryTimeout   time.Duration
	RecordTimeout     time.Duration
	LeaseTTL          time.Duration
}

const (
	defaultRecordTimeout = 10 * time.Second
	defaultLeaseTTL      = 2 * time.Minute
)

// OutreachSkipped is the outcome status of a cart that was not contacted
// because another caller holds its lease or it is no longer due.
const OutreachSkipped = "skipped"

// OutreachService contacts the customer of one due cart and records the attempt.
type OutreachService struct {
	OutreachRepo repository.OutreachRepositoryInterface
	Generator    provider.Generator
	Discounts    provider.DiscountIssuer
	Mailer       provider.Mailer
	Queue        queue.Queue
	Locker       lock.Locker
	Schedule     eligibility.Schedule
	Clock        clock.Clock
	Metrics      *metrics.Metrics
	Config       OutreachConfig
	Log          *zap.Logger
}

// OutreachOutcome describes what happened to one cart.
type OutreachOutcome struct {
	CartID       int64     `json:"cart_id"`
	CheckoutID   string    `json:"checkout_id"`
	Tier         tier.Tier `json:"tier"`
	Status       string    `json:"status"`
	MessageID    string    `json:"message_id,omitempty"`
	DiscountCode string    `json:"discount_code,omitempty"`
	RecordID     int64     `json:"record_id"`
	DeliveryErr  error     `json:"-"`
}

func (o *OutreachOutcome) Sent() bool { return o != nil && o.Status == model.OutreachSent }

// Process runs generate, discount, deliver and record for c.
//
// The cart's lease is held for the whole cycle and its outreach history is
// re-read under it; a cart that is leased elsewhere or no longer due is
// skipped without error. A generation failure returns a CollaboratorError and
// writes nothing, so the cart stays eligible. Discount failures only cost the
// incentive. A delivery failure is recorded with status failed and is not
// returned as an error. Once the mailer returns, the record is written even
// if ctx is cancelled.
func (s *OutreachService) Process(ctx context.Context, c *model.DueCart) (*OutreachOutcome, error) {
	if c == nil {
		return nil, appErrors.NewValidation("cart", "is required")
	}
	log := s.logger().With(zap.String("checkout_id", c.CheckoutID), zap.Int64("cart_id", c.ID))
	t := tier.Classify(c.Total)

	release, ok, err := s.lease(ctx, c.ID)
	if err != nil {
		s.Metrics.IncOutreach(t.String(), "error")
		return nil, fmt.Errorf("acquire cart lease: %w", err)
	}
	if !ok {
		log.Info("cart leased by another caller, skipped")
		return s.skip(c, t), nil
	}
	defer release()

	history, err := s.OutreachRepo.ListByCart(ctx, c.ID)
	if err != nil {
		s.Metrics.IncOutreach(t.String(), "error")
		if appErrors.IsPersistence(err) {
			return nil, err
		}
		return nil, appErrors.NewPersistence("load outreach history", err)
	}
	cur := withHistory(*c, history)
	c = &cur
	if state := s.schedule().Evaluate(s.now(), cartState(c)); state != eligibility.Due {
		log.Info("cart no longer due, skipped",
			zap.Stringer("state", state),
			zap.Int("prior_contacts", c.OutreachCount))
		return s.skip(c, t), nil
	}

	content, err := s.generate(ctx, c, t)
	if err != nil {
		s.Metrics.IncOutreach(t.String(), "error")
		log.Warn("content generation failed, cart left eligible", zap.Error(err))
		return nil, appErrors.NewCollaborator(appErrors.Generation, err)
	}

	code := priorCode(history)
	if code != "" && t.Discounted() {
		s.Metrics.IncDiscount(t.String(), "reused")
	} else {
		code = s.discountCode(ctx, c, t, log)
	}

	msg := provider.Message{
		To:       c.Customer.Email,
		ToName:   c.Customer.FullName(),
		Subject:  content.Subject,
		HTMLBody: s.composeBody(content.Body, code),
		Priority: t.Priority(),
	}
	if s.Config.SalesEmail != "" {
		msg.CC = s.Config.SalesEmail
		msg.CCName = s.Config.StoreName + " Sales"
	}

	sendCtx, cancel := withTimeout(ctx, s.Config.DeliveryTimeout)
	messageID, sendErr := s.Mailer.Send(sendCtx, msg)
	cancel()

	rec := &model.OutreachRecord{
		CartID:    c.ID,
		Recipient: msg.To,
		Subject:   msg.Subject,
		Body:      msg.HTMLBody,
		Status:    model.OutreachSent,
		SentAt:    s.now(),
	}
	if sendErr != nil {
		rec.Status = model.OutreachFailed
		sendErr = appErrors.NewCollaborator(appErrors.Delivery, sendErr)
		log.Warn("delivery failed", zap.Error(sendErr))
	} else if messageID != "" {
		rec.ProviderMessageID = &messageID
	}
	if code != "" {
		rec.DiscountCode = &code
	}

	recCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.recordTimeout())
	err = s.OutreachRepo.Create(recCtx, rec)
	cancel()
	if err != nil {
		s.Metrics.IncOutreach(t.String(), "error")
		if appErrors.IsPersistence(err) {
			return nil, err
		}
		return nil, appErrors.NewPersistence("record outreach", err)
	}
	s.Metrics.IncOutreach(t.String(), rec.Status)

	outcome := &OutreachOutcome{
		CartID:       c.ID,
		CheckoutID:   c.CheckoutID,
		Tier:         t,
		Status:       rec.Status,
		DiscountCode: code,
		RecordID:     rec.ID,
		DeliveryErr:  sendErr,
	}
	if rec.ProviderMessageID != nil {
		outcome.MessageID = *rec.ProviderMessageID
	}

	if t == tier.High {
		s.publishLead(c, rec, log)
	}

	log.Info("outreach recorded",
		zap.String("tier", t.String()),
		zap.String("status", rec.Status),
		zap.Int("prior_contacts", c.OutreachCount),
		zap.Bool("discount", code != ""),
	)
	return outcome, nil
}

// lease takes the per-cart lock. Without a Locker every caller gets the lease.
func (s *OutreachService) lease(ctx context.Context, cartID int64) (func(), bool, error) {
	if s.Locker == nil {
		return func() {}, true, nil
	}
	ttl := s.Config.LeaseTTL
	if ttl <= 0 {
		ttl = defaultLeaseTTL
	}
	key := lock.CartKey(cartID)
	token, ok, err := s.Locker.TryLock(ctx, key, ttl)
	if err != nil || !ok {
		return nil, false, err
	}
	return func() {
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := s.Locker.Release(relCtx, key, token); err != nil {
			s.logger().Warn("release cart lease failed", zap.Int64("cart_id", cartID), zap.Error(err))
		}
	}, true, nil
}

func (s *OutreachService) skip(c *model.DueCart, t tier.Tier) *OutreachOutcome {
	s.Metrics.IncOutreach(t.String(), OutreachSkipped)
	return &OutreachOutcome{CartID: c.ID, CheckoutID: c.CheckoutID, Tier: t, Status: OutreachSkipped}
}

func (s *OutreachService) schedule() eligibility.Schedule {
	if len(s.Schedule.Gaps) == 0 {
		return eligibility.DefaultSchedule()
	}
	return s.Schedule
}

func (s *OutreachService) recordTimeout() time.Duration {
	if s.Config.RecordTimeout <= 0 {
		return defaultRecordTimeout
	}
	return s.Config.RecordTimeout
}

// withHistory replaces the aggregate c was selected with by the one in history.
func withHistory(c model.DueCart, history []model.OutreachRecord) model.DueCart {
	c.OutreachCount = len(history)
	c.LastSentAt = nil
	for i := range history {
		if c.LastSentAt == nil || history[i].SentAt.After(*c.LastSentAt) {
			at := history[i].SentAt
			c.LastSentAt = &at
		}
	}
	return c
}

func cartState(c *model.DueCart) eligibility.CartState {
	return eligibility.CartState{
		AbandonedAt:   c.AbandonedAt,
		RecoveredAt:   c.RecoveredAt,
		OutreachCount: c.OutreachCount,
		LastSentAt:    c.LastSentAt,
	}
}

// priorCode is the most recent discount code already sent for the cart.
// Follow-ups repeat it rather than creating another price rule.
func priorCode(history []model.OutreachRecord) string {
	for i := len(history) - 1; i >= 0; i-- {
		if history[i].DiscountCode != nil && *history[i].DiscountCode != "" {
			return *history[i].DiscountCode
		}
	}
	return ""
}

func (s *OutreachService) generate(ctx context.Context, c *model.DueCart, t tier.Tier) (provider.Content, error) {
	genCtx, cancel := withTimeout(ctx, s.Config.GenerationTimeout)
	defer cancel()

	content, err := s.Generator.Generate(genCtx, profileOf(c), t)
	if err != nil {
		return provider.Content{}, err
	}
	if err := content.Validate(); err != nil {
		return provider.Content{}, err
	}
	return content, nil
}

func (s *OutreachService) discountCode(ctx context.Context, c *model.DueCart, t tier.Tier, log *zap.Logger) string {
	if !t.Discounted() || s.Discounts == nil {
		return ""
	}

	discCtx, cancel := withTimeout(ctx, s.Config.DiscountTimeout)
	defer cancel()

	code, err := s.Discounts.Issue(discCtx, provider.DiscountRequest{Tier: t, CheckoutID: c.CheckoutID})
	switch {
	case err != nil:
		s.Metrics.IncDiscount(t.String(), "error")
		log.Warn("discount issue failed, continuing without code",
			zap.Error(appErrors.NewCollaborator(appErrors.Discount, err)))
		return ""
	case code == "":
		s.Metrics.IncDiscount(t.String(), "none")
	default:
		s.Metrics.IncDiscount(t.String(), "issued")
	}
	return code
}

const footerTemplate = `
<hr>
<p style="font-size: 12px; color: #666;">
  {store}<br>
  This email was sent regarding items in your shopping cart.{link}
</p>`

// composeBody appends the incentive paragraph, if any, and the store footer.
func (s *OutreachService) composeBody(body, code string) string {
	var b strings.Builder
	b.WriteString(body)
	if code != "" {
		fmt.Fprintf(&b, "<p><strong>Special Offer:</strong> Use discount code <code>%s</code> to save on your order!</p>", html.EscapeString(code))
	}

	link := ""
	if s.Config.CartURL != "" {
		link = fmt.Sprintf(` <a href="%s">Complete your order</a>`, html.EscapeString(s.Config.CartURL))
	}
	b.WriteString(provider.RenderTemplate(footerTemplate, map[string]string{
		"store": html.EscapeString(s.Config.StoreName),
		"link":  link,
	}))
	return b.String()
}

func (s *OutreachService) publishLead(c *model.DueCart, rec *model.OutreachRecord, log *zap.Logger) {
	if s.Queue == nil {
		return
	}
	lead := queue.SalesLead{
		CartID:        c.ID,
		CheckoutID:    c.CheckoutID,
		CustomerName:  c.Customer.FullName(),
		Email:         c.Customer.Email,
		Phone:         c.Customer.Phone,
		Location:      profileOf(c).Location(),
		Total:         c.Total,
		Currency:      c.Currency,
		Tier:          tier.High.String(),
		AbandonedAt:   c.AbandonedAt,
		OutreachAt:    rec.SentAt,
		OutreachState: rec.Status,
	}
	topic := s.Config.SalesTopic
	if topic == "" {
		topic = queue.SalesLeadTopic
	}
	if err := s.Queue.Publish(topic, lead); err != nil {
		s.Metrics.IncSalesLead("publish_error")
		log.Warn("sales lead publish failed", zap.Error(err))
		return
	}
	s.Metrics.IncSalesLead("published")
}

func (s *OutreachService) now() time.Time {
	if s.Clock == nil {
		return time.Now().UTC()
	}
	return s.Clock.Now()
}

func (s *OutreachService) logger() *zap.Logger {
	if s.Log == nil {
		return zap.NewNop()
	}
	return s.Log
}

func profileOf(c *model.DueCart) provider.Profile {
	return provider.Profile{
		CheckoutID: c.CheckoutID,
		FirstName:  c.Customer.FirstName,
		LastName:   c.Customer.LastName,
		Email:      c.Customer.Email,
		City:       c.Customer.City,
		Province:   c.Customer.Province,
		Country:    c.Customer.Country,
		Total:      c.Total,
		Currency:   c.Currency,
	}
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}
