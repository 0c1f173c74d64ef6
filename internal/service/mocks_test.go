package service_test

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"github.com/unclebandit/cartrecovery/internal/clock"
	"github.com/unclebandit/cartrecovery/internal/eligibility"
	"github.com/unclebandit/cartrecovery/internal/lock"
	"github.com/unclebandit/cartrecovery/internal/model"
	"github.com/unclebandit/cartrecovery/internal/provider"
	"github.com/unclebandit/cartrecovery/internal/repository"
	"github.com/unclebandit/cartrecovery/internal/service"
	"github.com/unclebandit/cartrecovery/internal/tier"
)

var errStore = errors.New("connection reset by peer")

// memStore keeps customers, carts and outreach records in memory and
// implements the three repository interfaces.
type memStore struct {
	mu        sync.Mutex
	nextID    int64
	customers map[string]*model.Customer
	carts     map[string]*model.Cart
	records   []model.OutreachRecord

	upsertErr error
	findErr   error
	listErr   error
	recordErr error
}

func newMemStore() *memStore {
	return &memStore{
		customers: map[string]*model.Customer{},
		carts:     map[string]*model.Cart{},
	}
}

func (m *memStore) id() int64 {
	m.nextID++
	return m.nextID
}

func (m *memStore) Upsert(_ context.Context, c *model.Customer, now time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.upsertErr != nil {
		return m.upsertErr
	}
	if existing, ok := m.customers[c.Fingerprint]; ok {
		c.ID = existing.ID
		c.CreatedAt = existing.CreatedAt
		c.UpdatedAt = now
		stored := *c
		m.customers[c.Fingerprint] = &stored
		return nil
	}
	c.ID = m.id()
	c.CreatedAt, c.UpdatedAt = now, now
	stored := *c
	m.customers[c.Fingerprint] = &stored
	return nil
}

func (m *memStore) GetByID(_ context.Context, id int64) (*model.Customer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, c := range m.customers {
		if c.ID == id {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (m *memStore) CreateIfAbsent(_ context.Context, c *model.Cart) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if existing, ok := m.carts[c.CheckoutID]; ok {
		*c = *existing
		return false, nil
	}
	c.ID = m.id()
	stored := *c
	m.carts[c.CheckoutID] = &stored
	return true, nil
}

func (m *memStore) GetByCheckoutID(_ context.Context, checkoutID string) (*model.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if c, ok := m.carts[checkoutID]; ok {
		cp := *c
		return &cp, nil
	}
	return nil, nil
}

func (m *memStore) MarkRecovered(_ context.Context, checkoutID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.carts[checkoutID]
	if !ok || c.RecoveredAt != nil {
		return false, nil
	}
	c.RecoveredAt = &at
	return true, nil
}

// FindDue mirrors the SQL: window, not recovered, email present, backoff cutoffs,
// newest first, limited.
func (m *memStore) FindDue(_ context.Context, q repository.DueQuery) ([]model.DueCart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.findErr != nil {
		return nil, m.findErr
	}

	var out []model.DueCart
	for _, c := range m.carts {
		if !c.AbandonedAt.After(q.WindowStart) || c.RecoveredAt != nil {
			continue
		}
		cust := m.customerByID(c.CustomerID)
		if cust == nil || cust.Email == "" {
			continue
		}
		count, last := m.history(c.ID)
		if count > 0 && (count >= len(q.Cutoffs) || !last.Before(q.Cutoffs[count])) {
			continue
		}
		due := model.DueCart{Cart: *c, Customer: *cust, OutreachCount: count}
		if count > 0 {
			l := last
			due.LastSentAt = &l
		}
		out = append(out, due)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].AbandonedAt.Equal(out[j].AbandonedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].AbandonedAt.After(out[j].AbandonedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out, nil
}

func (m *memStore) Create(ctx context.Context, rec *model.OutreachRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.recordErr != nil {
		return m.recordErr
	}
	rec.ID = m.id()
	m.records = append(m.records, *rec)
	return nil
}

func (m *memStore) ListByCart(_ context.Context, cartID int64) ([]model.OutreachRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.listErr != nil {
		return nil, m.listErr
	}
	var out []model.OutreachRecord
	for _, r := range m.records {
		if r.CartID == cartID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *memStore) customerByID(id int64) *model.Customer {
	for _, c := range m.customers {
		if c.ID == id {
			return c
		}
	}
	return nil
}

func (m *memStore) history(cartID int64) (int, time.Time) {
	var count int
	var last time.Time
	for _, r := range m.records {
		if r.CartID != cartID {
			continue
		}
		count++
		if r.SentAt.After(last) {
			last = r.SentAt
		}
	}
	return count, last
}

// seedCart stores a customer and a cart with prior outreach sent at the given times.
func (m *memStore) seedCart(checkoutID, email string, total float64, abandonedAt time.Time, sentAt ...time.Time) *model.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	cust := &model.Customer{ID: m.id(), Fingerprint: "fp-" + checkoutID, Email: email, FirstName: "Dana"}
	m.customers[cust.Fingerprint] = cust
	cart := &model.Cart{
		ID:          m.id(),
		CheckoutID:  checkoutID,
		CustomerID:  cust.ID,
		Total:       total,
		Currency:    "USD",
		AbandonedAt: abandonedAt,
		CreatedAt:   abandonedAt,
	}
	m.carts[checkoutID] = cart
	for _, at := range sentAt {
		m.records = append(m.records, model.OutreachRecord{
			ID: m.id(), CartID: cart.ID, Recipient: email, Status: model.OutreachSent, SentAt: at,
		})
	}
	return cart
}

func (m *memStore) recordCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

type fakeGenerator struct {
	mu      sync.Mutex
	content provider.Content
	err     error
	failFor map[string]bool
	block   bool
	calls   int

	// started and gate, when set, hold the first call until gate is closed.
	started chan struct{}
	gate    chan struct{}
}

func (g *fakeGenerator) Generate(ctx context.Context, p provider.Profile, t tier.Tier) (provider.Content, error) {
	g.mu.Lock()
	g.calls++
	first := g.calls == 1
	g.mu.Unlock()
	if first && g.gate != nil {
		close(g.started)
		<-g.gate
	}
	if g.block {
		<-ctx.Done()
		return provider.Content{}, ctx.Err()
	}
	if g.err != nil {
		return provider.Content{}, g.err
	}
	if g.failFor[p.CheckoutID] {
		return provider.Content{}, errors.New("model overloaded")
	}
	if g.content.Subject != "" || g.content.Body != "" {
		return g.content, nil
	}
	return provider.Content{Subject: "Your cart is waiting", Body: "<p>Hi " + p.FirstName + "</p>"}, nil
}

type fakeIssuer struct {
	code     string
	err      error
	requests []provider.DiscountRequest
}

func (f *fakeIssuer) Issue(_ context.Context, req provider.DiscountRequest) (string, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return "", f.err
	}
	if f.code != "" {
		return f.code, nil
	}
	policy, ok := provider.PolicyFor(req.Tier)
	if !ok {
		return "", nil
	}
	return policy.Code(req.CheckoutID), nil
}

type fakeMailer struct {
	mu   sync.Mutex
	id   string
	err  error
	sent []provider.Message
}

func (f *fakeMailer) Send(_ context.Context, m provider.Message) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, m)
	if f.err != nil {
		return "", f.err
	}
	if f.id == "" {
		return "msg-1", nil
	}
	return f.id, nil
}

// cancellingMailer accepts the message and then cancels the caller's context,
// as a client disconnect right after the provider call would.
type cancellingMailer struct {
	fakeMailer
	cancel context.CancelFunc
}

func (m *cancellingMailer) Send(ctx context.Context, msg provider.Message) (string, error) {
	id, err := m.fakeMailer.Send(ctx, msg)
	m.cancel()
	return id, err
}

type fakeQueue struct {
	published []any
	err       error
}

func (q *fakeQueue) Publish(topic string, payload any) error {
	if q.err != nil {
		return q.err
	}
	q.published = append(q.published, payload)
	return nil
}

func (q *fakeQueue) Subscribe(string, func(any) error) error { return nil }

// harness wires the real services over the in-memory fakes.
type harness struct {
	store     *memStore
	clock     *clock.FakeClock
	generator *fakeGenerator
	issuer    *fakeIssuer
	mailer    *fakeMailer
	queue     *fakeQueue
	locker    *lock.LocalLocker
	outreach  *service.OutreachService
	ingestion *service.IngestionService
	engine    *eligibility.Engine
}

var baseTime = time.Date(2024, 6, 10, 12, 0, 0, 0, time.UTC)

func newHarness() *harness {
	h := &harness{
		store:     newMemStore(),
		clock:     clock.NewFakeClock(baseTime),
		generator: &fakeGenerator{},
		issuer:    &fakeIssuer{},
		mailer:    &fakeMailer{},
		queue:     &fakeQueue{},
		locker:    lock.NewLocalLocker(),
	}
	h.outreach = &service.OutreachService{
		OutreachRepo: h.store,
		Generator:    h.generator,
		Discounts:    h.issuer,
		Mailer:       h.mailer,
		Queue:        h.queue,
		Locker:       h.locker,
		Schedule:     eligibility.DefaultSchedule(),
		Clock:        h.clock,
		Config: service.OutreachConfig{
			StoreName:         "Acme Supply",
			CartURL:           "https://acme.example/cart",
			SalesEmail:        "sales@acme.example",
			GenerationTimeout: time.Second,
			DiscountTimeout:   time.Second,
			DeliveryTimeout:   time.Second,
		},
	}
	h.ingestion = &service.IngestionService{
		CustomerRepo: h.store,
		CartRepo:     h.store,
		Outreach:     h.outreach,
		Clock:        h.clock,
	}
	engine, err := eligibility.NewEngine(h.store, eligibility.DefaultSchedule(), eligibility.DefaultLimit, nil)
	if err != nil {
		panic(err)
	}
	h.engine = engine
	return h
}

func (h *harness) checker() *service.CheckerService {
	return &service.CheckerService{
		Selector: h.engine,
		Outreach: h.outreach,
		Clock:    h.clock,
	}
}
