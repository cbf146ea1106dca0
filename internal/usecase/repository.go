package usecase

import (
	"context"

	"github.com/DRSN-tech/image-search/internal/domain"
)

type ClientRepository interface {
	GetActiveBySlug(ctx context.Context, slug string) (*domain.Client, error)
}

type ProductRepository interface {
	// GetProductCards возвращает активные продукты клиента по идентификаторам.
	GetProductCards(ctx context.Context, clientID int64, ids []int64) (map[int64]ProductCard, error)
}

type MediaRepository interface {
	GetPending(ctx context.Context, limit int) ([]PendingMedia, error)
	MarkProcessing(ctx context.Context, ids []string) error
	MarkCompleted(ctx context.Context, id string, modelVersion string) error
	MarkFailed(ctx context.Context, id string, reason string) error
	// GetPrimaryImages возвращает по одному обработанному изображению на продукт.
	GetPrimaryImages(ctx context.Context, clientID int64, productIDs []int64) (map[int64]domain.Media, error)
	// DeleteByIDs удаляет media-записи и возвращает удалённые строки.
	DeleteByIDs(ctx context.Context, ids []string) ([]PendingMedia, error)
}

type ImageRepository interface {
	// Get возвращает байты объекта и его content type.
	Get(ctx context.Context, key string) ([]byte, string, error)
	PresignedURL(ctx context.Context, key string) (string, error)
	Delete(ctx context.Context, key string) error
}

type EmbeddingRepository interface {
	Upsert(ctx context.Context, vectors []domain.Embedding) error
	Search(ctx context.Context, req *VectorSearchReq) ([]SimilarityCandidate, error)
	Delete(ctx context.Context, mediaIDs []string) error
}

type CacheRepository interface {
	GetProductCards(ctx context.Context, clientID int64, ids []int64) (map[int64]ProductCard, error)
	SetProductCards(ctx context.Context, clientID int64, cards []ProductCard) error
	DeleteProductCards(ctx context.Context, clientID int64, ids []int64) error
}

type OutboxRepository interface {
	Create(ctx context.Context, event *OutboxEvent) (*OutboxEvent, error)
	GetAndMarkAsProcessing(ctx context.Context, limit int) ([]*OutboxEvent, error)
	MarkAsProcessed(ctx context.Context, id int64) error
}
