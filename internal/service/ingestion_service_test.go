package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	appErrors "github.com/unclebandit/cartrecovery/internal/errors"
	"github.com/unclebandit/cartrecovery/internal/model"
	"github.com/unclebandit/cartrecovery/internal/service"
	"github.com/unclebandit/cartrecovery/internal/tier"
)

func checkout(id, email, total string) service.IngestRequest {
	return service.IngestRequest{
		CheckoutID: id,
		Email:      email,
		Phone:      "+1 (555) 010-4242",
		TotalPrice: total,
		Currency:   "usd",
		Shipping: service.ShippingAddress{
			Address1:  "12 Mill Road",
			FirstName: "Dana",
			LastName:  "Reyes",
			City:      "Austin",
			Country:   "US",
		},
	}
}

func TestIngest_LowTierCartContactedWithDiscount(t *testing.T) {
	h := newHarness()

	res, err := h.ingestion.Ingest(context.Background(), checkout("1001", "dana@example.com", "500.00"))
	require.NoError(t, err)

	assert.False(t, res.Skipped)
	assert.False(t, res.Duplicate)
	assert.Equal(t, tier.Low, res.Tier)
	assert.Equal(t, 500.0, res.Total)
	assert.True(t, res.EmailSent)
	assert.Equal(t, "msg-1", res.MessageID)
	assert.Equal(t, "SAVE10-1001", res.DiscountCode)

	require.Len(t, h.mailer.sent, 1)
	assert.Contains(t, h.mailer.sent[0].HTMLBody, "Special Offer")

	records, err := h.store.ListByCart(context.Background(), res.CartID)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, model.OutreachSent, records[0].Status)

	cart, err := h.store.GetByCheckoutID(context.Background(), "1001")
	require.NoError(t, err)
	assert.Equal(t, "USD", cart.Currency)
	assert.Equal(t, baseTime, cart.AbandonedAt)
}

func TestIngest_HighTierCartNoDiscount(t *testing.T) {
	h := newHarness()

	res, err := h.ingestion.Ingest(context.Background(), checkout("2002", "buyer@bigco.example", "15000"))
	require.NoError(t, err)

	assert.Equal(t, tier.High, res.Tier)
	assert.Empty(t, res.DiscountCode)
	assert.Empty(t, h.issuer.requests)
	require.Len(t, h.mailer.sent, 1)
	assert.Equal(t, "high", h.mailer.sent[0].Priority)
	assert.NotContains(t, h.mailer.sent[0].HTMLBody, "Special Offer")
	assert.Len(t, h.queue.published, 1)
}

func TestIngest_MissingEmailIsSkipped(t *testing.T) {
	h := newHarness()

	res, err := h.ingestion.Ingest(context.Background(), checkout("3003", "  ", "99"))
	require.NoError(t, err)

	assert.True(t, res.Skipped)
	assert.Empty(t, h.store.customers)
	assert.Empty(t, h.store.carts)
	assert.Equal(t, 0, h.store.recordCount())
	assert.Empty(t, h.mailer.sent)
}

func TestIngest_DuplicateCheckoutIsIdempotent(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	first, err := h.ingestion.Ingest(ctx, checkout("4004", "dana@example.com", "250"))
	require.NoError(t, err)

	h.clock.Advance(2 * time.Hour)
	second, err := h.ingestion.Ingest(ctx, checkout("4004", "dana@example.com", "999"))
	require.NoError(t, err)

	assert.True(t, second.Duplicate)
	assert.False(t, second.EmailSent)
	assert.Equal(t, first.CartID, second.CartID)
	assert.Equal(t, 250.0, second.Total)

	assert.Len(t, h.store.carts, 1)
	assert.Equal(t, 1, h.store.recordCount())
	assert.Len(t, h.mailer.sent, 1)

	cart, _ := h.store.GetByCheckoutID(ctx, "4004")
	assert.Equal(t, baseTime, cart.AbandonedAt)
}

func TestIngest_SameIdentityResolvesToSameCustomer(t *testing.T) {
	h := newHarness()
	ctx := context.Background()

	a, err := h.ingestion.Ingest(ctx, checkout("5005", "dana@example.com", "10"))
	require.NoError(t, err)

	req := checkout("5006", "other.name@EXAMPLE.com", "20")
	req.Phone = "555 999 4242"
	req.Shipping.Address1 = "  12 MILL ROAD "
	b, err := h.ingestion.Ingest(ctx, req)
	require.NoError(t, err)

	assert.Equal(t, a.CustomerID, b.CustomerID)
	assert.NotEqual(t, a.CartID, b.CartID)
	assert.Len(t, h.store.customers, 1)
}

func TestIngest_Validation(t *testing.T) {
	tests := []struct {
		name string
		req  service.IngestRequest
	}{
		{"missing checkout id", checkout("", "dana@example.com", "10")},
		{"unparseable total", checkout("6006", "dana@example.com", "ten dollars")},
		{"missing total", checkout("6007", "dana@example.com", "")},
		{"negative total", checkout("6008", "dana@example.com", "-5")},
		{"not a number", checkout("6009", "dana@example.com", "NaN")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness()

			res, err := h.ingestion.Ingest(context.Background(), tt.req)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.True(t, appErrors.IsValidation(err))
			assert.Empty(t, h.store.carts)
		})
	}
}

func TestIngest_StoreFailureIsPersistenceError(t *testing.T) {
	h := newHarness()
	h.store.upsertErr = appErrors.NewPersistence("upsert customer", errStore)

	_, err := h.ingestion.Ingest(context.Background(), checkout("7007", "dana@example.com", "10"))
	require.Error(t, err)
	assert.True(t, appErrors.IsPersistence(err))
	assert.ErrorIs(t, err, errStore)
}

func TestIngest_OutreachFailureDoesNotFailIngestion(t *testing.T) {
	h := newHarness()
	h.generator.err = errors.New("model unavailable")

	res, err := h.ingestion.Ingest(context.Background(), checkout("8008", "dana@example.com", "40"))
	require.NoError(t, err)

	assert.False(t, res.EmailSent)
	assert.True(t, appErrors.IsCollaborator(res.OutreachErr, appErrors.Generation))
	assert.Len(t, h.store.carts, 1)
	assert.Equal(t, 0, h.store.recordCount())

	due, err := h.engine.SelectDue(context.Background(), h.clock.Now())
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "8008", due[0].CheckoutID)
}

func TestIngest_DeliveryFailureReported(t *testing.T) {
	h := newHarness()
	h.mailer.err = errors.New("mailbox full")

	res, err := h.ingestion.Ingest(context.Background(), checkout("8009", "dana@example.com", "40"))
	require.NoError(t, err)

	assert.False(t, res.EmailSent)
	assert.True(t, appErrors.IsCollaborator(res.OutreachErr, appErrors.Delivery))
	records, _ := h.store.ListByCart(context.Background(), res.CartID)
	require.Len(t, records, 1)
	assert.Equal(t, model.OutreachFailed, records[0].Status)
}

func TestIngest_CheckerDoesNotRepeatInFlightFirstContact(t *testing.T) {
	h := newHarness()
	h.generator.started = make(chan struct{})
	h.generator.gate = make(chan struct{})

	done := make(chan *service.IngestResult, 1)
	go func() {
		res, err := h.ingestion.Ingest(context.Background(), checkout("chk-1", "dana@example.com", "500"))
		assert.NoError(t, err)
		done <- res
	}()
	select {
	case <-h.generator.started:
	case <-time.After(2 * time.Second):
		t.Fatal("first contact never reached generation")
	}

	batch, err := h.checker().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Selected)
	assert.Equal(t, 1, batch.Skipped)
	assert.Equal(t, 0, batch.Sent)

	close(h.generator.gate)
	var res *service.IngestResult
	select {
	case res = <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ingestion never finished")
	}
	require.NotNil(t, res)
	assert.True(t, res.EmailSent)
	assert.Len(t, h.mailer.sent, 1)
	assert.Equal(t, 1, h.store.recordCount())

	h.clock.Advance(time.Hour)
	batch, err = h.checker().Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, batch.Selected)
	assert.Len(t, h.mailer.sent, 1)
}

func TestMarkRecovered(t *testing.T) {
	h := newHarness()
	ctx := context.Background()
	_, err := h.ingestion.Ingest(ctx, checkout("9009", "dana@example.com", "40"))
	require.NoError(t, err)

	ok, err := h.ingestion.MarkRecovered(ctx, "9009")
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = h.ingestion.MarkRecovered(ctx, "9009")
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = h.ingestion.MarkRecovered(ctx, "")
	assert.True(t, appErrors.IsValidation(err))

	h.clock.Advance(48 * time.Hour)
	due, err := h.engine.SelectDue(ctx, h.clock.Now())
	require.NoError(t, err)
	assert.Empty(t, due)
}
