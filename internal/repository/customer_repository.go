package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	appErrors "github.com/unclebandit/cartrecovery/internal/errors"
	"github.com/unclebandit/cartrecovery/internal/model"
)

// CustomerRepositoryInterface defines methods used by the ingestion service
type CustomerRepositoryInterface interface {
	Upsert(ctx context.Context, c *model.Customer, now time.Time) error
	GetByID(ctx context.Context, id int64) (*model.Customer, error)
}

// CustomerRepository is the concrete implementation
type CustomerRepository struct {
	DB *sql.DB
}

func NewCustomerRepository(db *sql.DB) *CustomerRepository {
	return &CustomerRepository{DB: db}
}

// Upsert inserts the customer or, when the fingerprint is already known,
// refreshes its contact fields. The fingerprint itself is never rewritten.
func (r *CustomerRepository) Upsert(ctx context.Context, c *model.Customer, now time.Time) error {
	query := `
        INSERT INTO customers
            (fingerprint, email, phone, street_address, first_name, last_name, city, province, country, zip, created_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $11)
        ON CONFLICT (fingerprint) DO UPDATE SET
            email = EXCLUDED.email,
            phone = EXCLUDED.phone,
            street_address = EXCLUDED.street_address,
            first_name = EXCLUDED.first_name,
            last_name = EXCLUDED.last_name,
            city = EXCLUDED.city,
            province = EXCLUDED.province,
            country = EXCLUDED.country,
            zip = EXCLUDED.zip,
            updated_at = EXCLUDED.updated_at
        RETURNING id, created_at, updated_at
    `
	err := r.DB.QueryRowContext(ctx, query,
		c.Fingerprint, c.Email, c.Phone, c.StreetAddress,
		c.FirstName, c.LastName, c.City, c.Province, c.Country, c.Zip,
		now,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
	return appErrors.NewPersistence("upsert customer", err)
}

// GetByID fetches a customer by ID
func (r *CustomerRepository) GetByID(ctx context.Context, id int64) (*model.Customer, error) {
	query := `
        SELECT id, fingerprint, email, phone, street_address, first_name, last_name,
               city, province, country, zip, created_at, updated_at
        FROM customers
        WHERE id = $1
    `
	var c model.Customer
	err := r.DB.QueryRowContext(ctx, query, id).Scan(
		&c.ID, &c.Fingerprint, &c.Email, &c.Phone, &c.StreetAddress, &c.FirstName, &c.LastName,
		&c.City, &c.Province, &c.Country, &c.Zip, &c.CreatedAt, &c.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil // not found
		}
		return nil, appErrors.NewPersistence("get customer", err)
	}
	return &c, nil
}

var _ CustomerRepositoryInterface = (*CustomerRepository)(nil)
