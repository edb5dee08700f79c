package quotes

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/odyssey-erp/odyssey-pricing/internal/platform/clock"
	"github.com/odyssey-erp/odyssey-pricing/internal/platform/db"
	"github.com/odyssey-erp/odyssey-pricing/internal/pricing"
)

const pgUniqueViolation = "23505"

// PostgresStore persists quotes in the quotes table. Rows outlive their
// expiry until DeleteExpired removes them.
type PostgresStore struct {
	pool  *pgxpool.Pool
	clock clock.Clock
}

// NewPostgresStore constructs the store.
func NewPostgresStore(pool *pgxpool.Pool, clk clock.Clock) *PostgresStore {
	if clk == nil {
		clk = clock.System{}
	}
	return &PostgresStore{pool: pool, clock: clk}
}

var _ pricing.QuoteStore = (*PostgresStore)(nil)

// Save inserts the quote row, components included, in one transaction.
func (s *PostgresStore) Save(ctx context.Context, q pricing.Quote) (pricing.Quote, error) {
	inputs, err := json.Marshal(q.Inputs)
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("quotes: encode inputs: %w", err)
	}
	components, err := json.Marshal(q.Components)
	if err != nil {
		return pricing.Quote{}, fmt.Errorf("quotes: encode components: %w", err)
	}
	err = db.WithTx(ctx, s.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, `
			INSERT INTO quotes (id, tenant_id, inputs, components, total_net, total_gross, currency,
			                    calculated_at, expires_at, created_by, signature)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		`, q.ID, q.TenantID, inputs, components, q.TotalNet, q.TotalGross, q.Currency,
			q.CalculatedAt, q.ExpiresAt, q.CreatedBy, q.Signature)
		return err
	})
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return pricing.Quote{}, fmt.Errorf("%w: %s", ErrDuplicateQuote, q.ID)
		}
		return pricing.Quote{}, fmt.Errorf("quotes: insert: %w", err)
	}
	return q, nil
}

// FindByID returns the quote while now <= expires_at.
func (s *PostgresStore) FindByID(ctx context.Context, tenantID string, id uuid.UUID) (pricing.Quote, error) {
	var (
		q                    pricing.Quote
		inputs, components   []byte
		totalNet, totalGross string
	)
	err := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, inputs, components, total_net::text, total_gross::text, currency,
		       calculated_at, expires_at, created_by, signature
		FROM quotes
		WHERE tenant_id = $1 AND id = $2 AND expires_at >= $3
	`, tenantID, id, s.clock.Now()).Scan(&q.ID, &q.TenantID, &inputs, &components, &totalNet, &totalGross,
		&q.Currency, &q.CalculatedAt, &q.ExpiresAt, &q.CreatedBy, &q.Signature)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return pricing.Quote{}, pricing.ErrQuoteNotFound
		}
		return pricing.Quote{}, fmt.Errorf("quotes: select: %w", err)
	}
	if err := json.Unmarshal(inputs, &q.Inputs); err != nil {
		return pricing.Quote{}, fmt.Errorf("quotes: decode inputs: %w", err)
	}
	if err := json.Unmarshal(components, &q.Components); err != nil {
		return pricing.Quote{}, fmt.Errorf("quotes: decode components: %w", err)
	}
	if err := q.TotalNet.UnmarshalText([]byte(totalNet)); err != nil {
		return pricing.Quote{}, fmt.Errorf("quotes: decode total_net: %w", err)
	}
	if err := q.TotalGross.UnmarshalText([]byte(totalGross)); err != nil {
		return pricing.Quote{}, fmt.Errorf("quotes: decode total_gross: %w", err)
	}
	return visible(q, tenantID, s.clock)
}

// DeleteExpired removes rows whose expiry lies before cutoff.
func (s *PostgresStore) DeleteExpired(ctx context.Context, cutoff time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM quotes WHERE expires_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("quotes: delete expired: %w", err)
	}
	return tag.RowsAffected(), nil
}
