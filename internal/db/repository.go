package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"kassa-service/internal/model"
)

const uniqueViolation = "23505"

const selectPayment = `SELECT site_id, gateway_payment_id, contract, amount::text, email, surname, name, patronym,
       status, last_error, created_at
FROM kassa_payment`

type PaymentRepository struct {
	pool *pgxpool.Pool
}

func NewPaymentRepository(pool *pgxpool.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

// Insert stores a new payment. A second payment with the same gateway id on the
// same site yields *model.DuplicateError.
func (r *PaymentRepository) Insert(ctx context.Context, record *model.PaymentRecord) error {
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO kassa_payment (site_id, gateway_payment_id, contract, amount, email, surname, name, patronym,
                           status, last_error, created_at, updated_at)
VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10, $11, $11)`

	_, err := r.pool.Exec(ctx, query,
		record.SiteID, record.GatewayPaymentID, record.Contract, record.Amount.StringFixed(2), record.Email,
		record.Payer.Surname, record.Payer.Name, record.Payer.Patronym,
		int16(record.Status), record.LastError, record.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return &model.DuplicateError{GatewayPaymentID: record.GatewayPaymentID, SiteID: record.SiteID}
		}
		return errors.Wrapf(err, "insert payment %s", record.GatewayPaymentID)
	}
	return nil
}

func (r *PaymentRepository) FindByGatewayID(ctx context.Context, gatewayPaymentID string, siteID int) (*model.PaymentRecord, error) {
	row := r.pool.QueryRow(ctx, selectPayment+` WHERE gateway_payment_id = $1 AND site_id = $2`, gatewayPaymentID, siteID)

	var (
		record model.PaymentRecord
		amount string
		status int16
	)
	err := row.Scan(&record.SiteID, &record.GatewayPaymentID, &record.Contract, &amount, &record.Email,
		&record.Payer.Surname, &record.Payer.Name, &record.Payer.Patronym,
		&status, &record.LastError, &record.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &model.NotFoundError{Resource: "payment", ID: gatewayPaymentID}
		}
		return nil, errors.Wrapf(err, "select payment %s", gatewayPaymentID)
	}

	record.Amount, err = decimal.NewFromString(amount)
	if err != nil {
		return nil, errors.Wrapf(err, "payment %s: parse amount %q", gatewayPaymentID, amount)
	}
	record.Status = model.Status(status)
	return &record, nil
}

// UpdateStatus overwrites the status and clears the last recorded error.
func (r *PaymentRepository) UpdateStatus(ctx context.Context, gatewayPaymentID string, siteID int, status model.Status) error {
	query := `UPDATE kassa_payment SET status = $1, last_error = NULL, updated_at = now()
WHERE gateway_payment_id = $2 AND site_id = $3`
	return r.exec(ctx, gatewayPaymentID, query, int16(status), gatewayPaymentID, siteID)
}

// WriteError records the latest processing failure. The status is left as is.
func (r *PaymentRepository) WriteError(ctx context.Context, gatewayPaymentID string, siteID int, message string) error {
	query := `UPDATE kassa_payment SET last_error = $1, updated_at = now()
WHERE gateway_payment_id = $2 AND site_id = $3`
	return r.exec(ctx, gatewayPaymentID, query, message, gatewayPaymentID, siteID)
}

func (r *PaymentRepository) exec(ctx context.Context, gatewayPaymentID, query string, args ...any) error {
	tag, err := r.pool.Exec(ctx, query, args...)
	if err != nil {
		return errors.Wrapf(err, "update payment %s", gatewayPaymentID)
	}
	if tag.RowsAffected() == 0 {
		return &model.NotFoundError{Resource: "payment", ID: gatewayPaymentID}
	}
	return nil
}
