package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	appErrors "github.com/unclebandit/cartrecovery/internal/errors"
	"github.com/unclebandit/cartrecovery/internal/model"
)

// DueQuery selects carts abandoned after WindowStart whose outreach history
// satisfies the backoff: a cart with n prior contacts qualifies when n == 0, or
// when n < len(Cutoffs) and its latest contact is before Cutoffs[n].
type DueQuery struct {
	WindowStart time.Time
	Cutoffs     []time.Time
	Limit       int
}

type CartRepositoryInterface interface {
	CreateIfAbsent(ctx context.Context, c *model.Cart) (bool, error)
	GetByCheckoutID(ctx context.Context, checkoutID string) (*model.Cart, error)
	MarkRecovered(ctx context.Context, checkoutID string, at time.Time) (bool, error)
	FindDue(ctx context.Context, q DueQuery) ([]model.DueCart, error)
}

type CartRepository struct {
	DB *sql.DB
}

func NewCartRepository(db *sql.DB) *CartRepository {
	return &CartRepository{DB: db}
}

// CreateIfAbsent inserts the cart unless its checkout id is already known.
// In that case c is overwritten with the stored cart and created is false.
func (r *CartRepository) CreateIfAbsent(ctx context.Context, c *model.Cart) (bool, error) {
	query := `
        INSERT INTO carts (checkout_id, customer_id, total, currency, abandoned_at, created_at)
        VALUES ($1, $2, $3, $4, $5, $6)
        ON CONFLICT (checkout_id) DO NOTHING
        RETURNING id
    `
	err := r.DB.QueryRowContext(ctx, query,
		c.CheckoutID, c.CustomerID, c.Total, c.Currency, c.AbandonedAt, c.CreatedAt,
	).Scan(&c.ID)
	if err == nil {
		return true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return false, appErrors.NewPersistence("insert cart", err)
	}

	existing, err := r.GetByCheckoutID(ctx, c.CheckoutID)
	if err != nil {
		return false, err
	}
	if existing == nil {
		// conflicting row vanished between statements; carts are never deleted
		return false, appErrors.NewPersistence("insert cart", fmt.Errorf("checkout %s conflicted but was not found", c.CheckoutID))
	}
	*c = *existing
	return false, nil
}

func (r *CartRepository) GetByCheckoutID(ctx context.Context, checkoutID string) (*model.Cart, error) {
	query := `
        SELECT id, checkout_id, customer_id, total, currency, abandoned_at, created_at, recovered_at
        FROM carts
        WHERE checkout_id = $1
    `
	var c model.Cart
	err := r.DB.QueryRowContext(ctx, query, checkoutID).Scan(
		&c.ID, &c.CheckoutID, &c.CustomerID, &c.Total, &c.Currency, &c.AbandonedAt, &c.CreatedAt, &c.RecoveredAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, appErrors.NewPersistence("get cart", err)
	}
	return &c, nil
}

// MarkRecovered sets recovered_at once. It reports false when the checkout is
// unknown or was already recovered.
func (r *CartRepository) MarkRecovered(ctx context.Context, checkoutID string, at time.Time) (bool, error) {
	query := `UPDATE carts SET recovered_at = $1 WHERE checkout_id = $2 AND recovered_at IS NULL`
	res, err := r.DB.ExecContext(ctx, query, at, checkoutID)
	if err != nil {
		return false, appErrors.NewPersistence("mark cart recovered", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, appErrors.NewPersistence("mark cart recovered", err)
	}
	return n > 0, nil
}

// FindDue runs the eligibility query, newest abandonment first.
func (r *CartRepository) FindDue(ctx context.Context, q DueQuery) ([]model.DueCart, error) {
	query, args := buildDueQuery(q)

	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, appErrors.NewPersistence("select due carts", err)
	}
	defer rows.Close()

	carts := []model.DueCart{}
	for rows.Next() {
		var (
			d        model.DueCart
			lastSent sql.NullTime
		)
		if err := rows.Scan(
			&d.ID, &d.CheckoutID, &d.CustomerID, &d.Total, &d.Currency, &d.AbandonedAt, &d.CreatedAt, &d.RecoveredAt,
			&d.Customer.ID, &d.Customer.Fingerprint, &d.Customer.Email, &d.Customer.Phone, &d.Customer.StreetAddress,
			&d.Customer.FirstName, &d.Customer.LastName, &d.Customer.City, &d.Customer.Province,
			&d.Customer.Country, &d.Customer.Zip,
			&d.OutreachCount, &lastSent,
		); err != nil {
			return nil, appErrors.NewPersistence("scan due cart", err)
		}
		if lastSent.Valid {
			t := lastSent.Time
			d.LastSentAt = &t
		}
		carts = append(carts, d)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.NewPersistence("select due carts", err)
	}
	return carts, nil
}

func buildDueQuery(q DueQuery) (string, []any) {
	args := []any{q.WindowStart}
	argPos := 2

	having := []string{"COUNT(o.id) = 0"}
	for n := 1; n < len(q.Cutoffs); n++ {
		having = append(having, fmt.Sprintf("(COUNT(o.id) = %d AND MAX(o.sent_at) < $%d)", n, argPos))
		args = append(args, q.Cutoffs[n])
		argPos++
	}

	query := `
        SELECT c.id, c.checkout_id, c.customer_id, c.total, c.currency, c.abandoned_at, c.created_at, c.recovered_at,
               cust.id, cust.fingerprint, cust.email, cust.phone, cust.street_address,
               cust.first_name, cust.last_name, cust.city, cust.province, cust.country, cust.zip,
               COUNT(o.id) AS outreach_count,
               MAX(o.sent_at) AS last_sent_at
        FROM carts c
        JOIN customers cust ON cust.id = c.customer_id
        LEFT JOIN outreach_records o ON o.cart_id = c.id
        WHERE c.abandoned_at > $1
          AND c.recovered_at IS NULL
          AND cust.email <> ''
        GROUP BY c.id, cust.id
        HAVING ` + strings.Join(having, "\n            OR ") + fmt.Sprintf(`
        ORDER BY c.abandoned_at DESC, c.id DESC
        LIMIT $%d`, argPos)
	args = append(args, q.Limit)

	return query, args
}

var _ CartRepositoryInterface = (*CartRepository)(nil)
