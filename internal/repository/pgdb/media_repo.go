package pgdb

import (
	"context"

	"github.com/DRSN-tech/image-search/internal/domain"
	"github.com/DRSN-tech/image-search/internal/repository/pgdb/converter"
	"github.com/DRSN-tech/image-search/internal/usecase"
	"github.com/DRSN-tech/image-search/pkg/e"
	"github.com/DRSN-tech/image-search/pkg/tr"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/jimlawless/whereami"
)

// MediaRepo реализует репозиторий media-записей поверх PostgreSQL.
type MediaRepo struct {
	pool *pgxpool.Pool
	conv converter.MediaConverter
}

func NewMediaRepo(pool *pgxpool.Pool, conv converter.MediaConverter) *MediaRepo {
	return &MediaRepo{
		pool: pool,
		conv: conv,
	}
}

// GetPending возвращает media-записи, ожидающие векторизации, в порядке создания.
func (m *MediaRepo) GetPending(ctx context.Context, limit int) ([]usecase.PendingMedia, error) {
	query := `
		SELECT md.id, md.product_id, md.object_key, md.content_type,
		       md.width, md.height, md.embedding_status, md.created_at,
		       pr.client_id
		FROM media md
		JOIN products pr ON pr.id = md.product_id
		WHERE md.embedding_status = $1
		ORDER BY md.created_at
		LIMIT $2;
	`

	rows, err := m.pool.Query(ctx, query, domain.EmbeddingStatusPending, limit)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	result := make([]usecase.PendingMedia, 0, limit)
	for rows.Next() {
		var model converter.MediaModel
		var clientID int64

		err := rows.Scan(
			&model.ID, &model.ProductID, &model.ObjectKey, &model.ContentType,
			&model.Width, &model.Height, &model.EmbeddingStatus, &model.CreatedAt,
			&clientID,
		)
		if err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		result = append(result, usecase.PendingMedia{
			Media:    *m.conv.ToEntity(&model),
			ClientID: clientID,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return result, nil
}

// MarkProcessing переводит записи из pending в processing.
// Записи, которые успел забрать другой воркер, молча пропускаются.
func (m *MediaRepo) MarkProcessing(ctx context.Context, ids []string) error {
	query := `
		UPDATE media
		SET embedding_status = $1, updated_at = NOW()
		WHERE id = ANY($2) AND embedding_status = $3;
	`

	if _, err := m.pool.Exec(ctx, query, domain.EmbeddingStatusProcessing, ids, domain.EmbeddingStatusPending); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// MarkCompleted помечает запись обработанной и фиксирует версию модели.
// Выполняется в транзакции вместе с созданием outbox-события.
func (m *MediaRepo) MarkCompleted(ctx context.Context, id string, modelVersion string) error {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	query := `
		UPDATE media
		SET embedding_status = $1,
		    model_version = $2,
		    embedding_error = NULL,
		    updated_at = NOW()
		WHERE id = $3;
	`

	if _, err := tx.Exec(ctx, query, domain.EmbeddingStatusCompleted, modelVersion, id); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// MarkFailed помечает запись сбойной с текстом причины.
func (m *MediaRepo) MarkFailed(ctx context.Context, id string, reason string) error {
	query := `
		UPDATE media
		SET embedding_status = $1, embedding_error = $2, updated_at = NOW()
		WHERE id = $3;
	`

	if _, err := m.pool.Exec(ctx, query, domain.EmbeddingStatusFailed, reason, id); err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// GetPrimaryImages возвращает по одному обработанному изображению на продукт:
// самое раннее из completed, в рамках одного клиента.
func (m *MediaRepo) GetPrimaryImages(ctx context.Context, clientID int64, productIDs []int64) (map[int64]domain.Media, error) {
	query := `
		SELECT DISTINCT ON (md.product_id)
		       md.id, md.product_id, md.object_key, md.content_type,
		       md.width, md.height, md.embedding_status, md.created_at
		FROM media md
		JOIN products pr ON pr.id = md.product_id
		WHERE pr.client_id = $1
		  AND md.product_id = ANY($2)
		  AND md.embedding_status = $3
		ORDER BY md.product_id, md.created_at;
	`

	rows, err := m.pool.Query(ctx, query, clientID, productIDs, domain.EmbeddingStatusCompleted)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	result := make(map[int64]domain.Media, len(productIDs))
	for rows.Next() {
		var model converter.MediaModel

		err := rows.Scan(
			&model.ID, &model.ProductID, &model.ObjectKey, &model.ContentType,
			&model.Width, &model.Height, &model.EmbeddingStatus, &model.CreatedAt,
		)
		if err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		result[model.ProductID] = *m.conv.ToEntity(&model)
	}

	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return result, nil
}

// DeleteByIDs удаляет media-записи и возвращает удалённые строки вместе
// с их клиентами. Выполняется в транзакции вместе с outbox-событиями.
func (m *MediaRepo) DeleteByIDs(ctx context.Context, ids []string) ([]usecase.PendingMedia, error) {
	tx, err := tr.TxFromCtx(ctx)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	query := `
		DELETE FROM media md
		USING products pr
		WHERE pr.id = md.product_id AND md.id = ANY($1)
		RETURNING md.id, md.product_id, md.object_key, md.content_type, pr.client_id;
	`

	rows, err := tx.Query(ctx, query, ids)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	defer rows.Close()

	result := make([]usecase.PendingMedia, 0, len(ids))
	for rows.Next() {
		var model converter.MediaModel
		var clientID int64

		if err := rows.Scan(&model.ID, &model.ProductID, &model.ObjectKey, &model.ContentType, &clientID); err != nil {
			return nil, e.Wrap(whereami.WhereAmI(), err)
		}

		result = append(result, usecase.PendingMedia{
			Media:    *m.conv.ToEntity(&model),
			ClientID: clientID,
		})
	}

	if err := rows.Err(); err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return result, nil
}
