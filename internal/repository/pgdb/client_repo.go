package pgdb

import (
	"context"
	"errors"
	"fmt"

	"github.com/DRSN-tech/image-search/internal/domain"
	"github.com/DRSN-tech/image-search/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/image-search/pkg/e"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

// ClientRepo реализует репозиторий клиентов поверх PostgreSQL.
type ClientRepo struct {
	pool *pgxpool.Pool
	conv converter.ClientConverter
}

func NewClientRepo(pool *pgxpool.Pool, conv converter.ClientConverter) *ClientRepo {
	return &ClientRepo{
		pool: pool,
		conv: conv,
	}
}

// GetActiveBySlug возвращает активного клиента по slug.
// Неактивный клиент неотличим от несуществующего.
func (c *ClientRepo) GetActiveBySlug(ctx context.Context, slug string) (*domain.Client, error) {
	query := `
		SELECT id, name, slug, currency_code, currency_symbol, created_at, updated_at, is_active
		FROM clients
		WHERE slug = $1 AND is_active = true;
	`

	var model converter.ClientModel
	err := c.pool.QueryRow(ctx, query, slug).Scan(
		&model.ID, &model.Name, &model.Slug,
		&model.CurrencyCode, &model.CurrencySymbol,
		&model.CreatedAt, &model.UpdatedAt, &model.IsActive,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%s: %w", whereami.WhereAmI(), e.ErrClientNotFound)
		}

		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return c.conv.ToEntity(&model), nil
}
