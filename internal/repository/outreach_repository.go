package repository

import (
	"context"
	"database/sql"

	appErrors "github.com/unclebandit/cartrecovery/internal/errors"
	"github.com/unclebandit/cartrecovery/internal/model"
)

// OutreachRepositoryInterface is append-only: records are never updated or deleted.
type OutreachRepositoryInterface interface {
	Create(ctx context.Context, rec *model.OutreachRecord) error
	ListByCart(ctx context.Context, cartID int64) ([]model.OutreachRecord, error)
}

type OutreachRepository struct {
	DB *sql.DB
}

func NewOutreachRepository(db *sql.DB) *OutreachRepository {
	return &OutreachRepository{DB: db}
}

// Create inserts a new outreach record and sets its ID
func (r *OutreachRepository) Create(ctx context.Context, rec *model.OutreachRecord) error {
	query := `
        INSERT INTO outreach_records
            (cart_id, recipient, subject, body, status, provider_message_id, discount_code, sent_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
        RETURNING id
    `
	err := r.DB.QueryRowContext(ctx, query,
		rec.CartID,
		rec.Recipient,
		rec.Subject,
		rec.Body,
		rec.Status,
		rec.ProviderMessageID,
		rec.DiscountCode,
		rec.SentAt,
	).Scan(&rec.ID)
	return appErrors.NewPersistence("insert outreach record", err)
}

// ListByCart returns the records of a cart ordered by sent_at.
func (r *OutreachRepository) ListByCart(ctx context.Context, cartID int64) ([]model.OutreachRecord, error) {
	query := `
        SELECT id, cart_id, recipient, subject, body, status, provider_message_id, discount_code, sent_at
        FROM outreach_records
        WHERE cart_id = $1
        ORDER BY sent_at, id
    `
	rows, err := r.DB.QueryContext(ctx, query, cartID)
	if err != nil {
		return nil, appErrors.NewPersistence("list outreach records", err)
	}
	defer rows.Close()

	records := []model.OutreachRecord{}
	for rows.Next() {
		var rec model.OutreachRecord
		if err := rows.Scan(
			&rec.ID, &rec.CartID, &rec.Recipient, &rec.Subject, &rec.Body,
			&rec.Status, &rec.ProviderMessageID, &rec.DiscountCode, &rec.SentAt,
		); err != nil {
			return nil, appErrors.NewPersistence("scan outreach record", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, appErrors.NewPersistence("list outreach records", err)
	}
	return records, nil
}

var _ OutreachRepositoryInterface = (*OutreachRepository)(nil)
