package domain

import "time"

// Статусы обработки изображения embedding-пайплайном.
const (
	EmbeddingStatusPending    = "pending"
	EmbeddingStatusProcessing = "processing"
	EmbeddingStatusCompleted  = "completed"
	EmbeddingStatusFailed     = "failed"
)

// Media описывает изображение продукта, которое хранится в S3.
// Вектор не живёт дольше своей media-записи: при удалении записи
// удаляется и точка в векторном хранилище.
type Media struct {
	ID              string // uuid, совпадает с id точки в Qdrant
	ProductID       int64
	ObjectKey       string
	ContentType     string
	Width           *int32
	Height          *int32
	EmbeddingStatus string
	EmbeddingError  *string
	ModelVersion    *string
	CreatedAt       time.Time
	UpdatedAt       *time.Time
}

func NewMedia(id string, productID int64, objectKey string, contentType string) *Media {
	return &Media{
		ID:              id,
		ProductID:       productID,
		ObjectKey:       objectKey,
		ContentType:     contentType,
		EmbeddingStatus: EmbeddingStatusPending,
	}
}
