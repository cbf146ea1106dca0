package pgdb

import (
	"context"

	"github.com/DRSN-tech/image-search/internal/usecase"
	"github.com/DRSN-tech/image-search/pkg/e"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

// ProductRepo реализует репозиторий продуктов поверх PostgreSQL.
type ProductRepo struct {
	pool *pgxpool.Pool
}

func NewProductRepo(pool *pgxpool.Pool) *ProductRepo {
	return &ProductRepo{pool: pool}
}

// GetProductCards возвращает карточки активных продуктов клиента по идентификаторам.
// Отсутствующие и неактивные продукты в результат не попадают.
func (p *ProductRepo) GetProductCards(ctx context.Context, clientID int64, ids []int64) (map[int64]usecase.ProductCard, error) {
	query := `
		SELECT id, client_id, sku, name, price, stock_level
		FROM products
		WHERE client_id = $1 AND id = ANY($2) AND is_active = true;
	`

	rows, err := p.pool.Query(ctx, query, clientID, ids)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	result := make(map[int64]usecase.ProductCard, len(ids))
	for rows.Next() {
		var card usecase.ProductCard
		if err := rows.Scan(&card.ID, &card.ClientID, &card.SKU, &card.Name, &card.Price, &card.StockLevel); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		result[card.ID] = card
	}

	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return result, nil
}
