package usecase

import "context"

type EmbeddingInfra interface {
	// Embed векторизует изображение во внешнем embedding-сервисе.
	Embed(ctx context.Context, image ProductImage) (*EmbedRes, error)
	Healthz(ctx context.Context) error
}

type MediaInfra interface {
	FetchObject(ctx context.Context, key string) ([]byte, string, error)
	PresignURL(ctx context.Context, key string) (string, error)
	CleanupObjects(keys []string)
}

type MessageProducer interface {
	WriteRawMessage(ctx context.Context, req *WriteRawMessageReq) error
}
