package qdrant

import (
	"context"

	"github.com/DRSN-tech/image-search/internal/cfg"
	"github.com/DRSN-tech/image-search/internal/domain"
	"github.com/DRSN-tech/image-search/internal/usecase"
	"github.com/DRSN-tech/image-search/pkg/e"
	"github.com/jimlawless/whereami"
	"github.com/qdrant/go-client/qdrant"
)

// EmbeddingRepo репозиторий для работы с embedding-векторами в Qdrant
type EmbeddingRepo struct {
	client *qdrant.Client
	cfg    *cfg.QdrantCfg
}

func NewEmbeddingRepo(client *qdrant.Client, cfg *cfg.QdrantCfg) *EmbeddingRepo {
	return &EmbeddingRepo{
		client: client,
		cfg:    cfg,
	}
}

// Upsert сохраняет или обновляет embedding-векторы в коллекции Qdrant.
// Id точки равен media id, поэтому повторная запись перезаписывает точку.
func (q *EmbeddingRepo) Upsert(ctx context.Context, vectors []domain.Embedding) error {
	reqVectors := make([]*qdrant.PointStruct, 0, len(vectors))
	for _, vector := range vectors {
		reqVectors = append(reqVectors, &qdrant.PointStruct{
			Id:      qdrant.NewIDUUID(vector.ID),
			Vectors: qdrant.NewVectors(vector.Vector...),
			Payload: qdrant.NewValueMap(vector.Payload),
		})
	}

	_, err := q.client.Upsert(ctx, &qdrant.UpsertPoints{
		CollectionName: q.cfg.CollectionName,
		Points:         reqVectors,
	})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}

// Search возвращает ближайших соседей вектора запроса в рамках одного
// клиента. Фильтр по client_id — часть самого запроса к Qdrant: чужие
// векторы не участвуют даже в ранжировании.
func (q *EmbeddingRepo) Search(ctx context.Context, req *usecase.VectorSearchReq) ([]usecase.SimilarityCandidate, error) {
	if len(req.Vector) == 0 {
		return nil, e.Wrap(whereami.WhereAmI(), e.ErrEmptyVector)
	}

	limit := req.Limit
	points, err := q.client.Query(ctx, &qdrant.QueryPoints{
		CollectionName: q.cfg.CollectionName,
		Query:          qdrant.NewQuery(req.Vector...),
		Limit:          &limit,
		Filter: &qdrant.Filter{
			Must: []*qdrant.Condition{
				qdrant.NewMatchInt("client_id", req.ClientID),
			},
		},
		WithPayload: qdrant.NewWithPayload(true),
	})
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	candidates := make([]usecase.SimilarityCandidate, 0, len(points))
	for _, point := range points {
		candidates = append(candidates, usecase.SimilarityCandidate{
			MediaID:   point.GetId().GetUuid(),
			ProductID: point.GetPayload()["product_id"].GetIntegerValue(),
			Score:     point.GetScore(),
		})
	}

	return candidates, nil
}

// Delete удаляет точки по media id.
func (q *EmbeddingRepo) Delete(ctx context.Context, mediaIDs []string) error {
	if len(mediaIDs) == 0 {
		return nil
	}

	ids := make([]*qdrant.PointId, 0, len(mediaIDs))
	for _, id := range mediaIDs {
		ids = append(ids, qdrant.NewIDUUID(id))
	}

	_, err := q.client.Delete(ctx, &qdrant.DeletePoints{
		CollectionName: q.cfg.CollectionName,
		Points:         qdrant.NewPointsSelector(ids...),
	})
	if err != nil {
		return e.Wrap(whereami.WhereAmI(), err)
	}

	return nil
}
