package usecase

import (
	"time"

	"github.com/DRSN-tech/image-search/internal/domain"
)

// SEARCH USECASE

// SearchByImageReq — запрос поиска похожих товаров по изображению.
// Threshold — минимальный процент схожести [0,100], Limit — максимум результатов.
type SearchByImageReq struct {
	ClientSlug string
	Image      ProductImage
	Threshold  int
	Limit      int
}

// ProductImage представляет изображение, загруженное через multipart/form-data.
type ProductImage struct {
	Data     []byte // байты изображения
	MimeType string // Content-Type из multipart (image/jpeg)
	Size     int64  // фактический размер в байтах
	Name     string // оригинальное имя файла (для логов)
}

// SimilarityCandidate — сырой кандидат из векторного хранилища до обогащения.
// Живёт только в рамках одного запроса.
type SimilarityCandidate struct {
	MediaID   string
	ProductID int64
	Score     float32 // косинусная схожесть, [-1,1]
	Percent   int     // round(max(0, Score) * 100)
}

// SimilarityInfo — схожесть в ответе внешнего API.
type SimilarityInfo struct {
	Percent int
	Score   float32
}

// ImageInfo — данные изображения для отображения результата.
type ImageInfo struct {
	URL    string
	Width  *int32
	Height *int32
}

// SearchResult — обогащённый результат поиска в рамках одного клиента.
type SearchResult struct {
	ProductID      int64
	SKU            string
	Name           string
	Price          int64 // в копейках, форматируется на уровне delivery
	Currency       string
	CurrencySymbol string
	StockLevel     int32
	Similarity     SimilarityInfo
	Image          ImageInfo
}

// SearchByImageRes — упорядоченный по схожести ответ поиска.
// Candidates — число кандидатов до обогащения (устаревшие ссылки молча выпадают).
type SearchByImageRes struct {
	Results    []SearchResult
	Candidates int
}

// ProductCard — кэшируемая карточка продукта для обогащения результатов.
type ProductCard struct {
	ID         int64
	ClientID   int64
	SKU        string
	Name       string
	Price      int64
	StockLevel int32
}

// INGEST USECASE

// PendingMedia — media-запись, ожидающая векторизации, вместе с владельцем-клиентом.
type PendingMedia struct {
	Media    domain.Media
	ClientID int64
}

// ProcessPendingRes — итог одной итерации обработки очереди изображений.
type ProcessPendingRes struct {
	Processed int
	Failed    int
}

// DeleteMediaReq — запрос на удаление media-записей вместе с их векторами.
type DeleteMediaReq struct {
	MediaIDs []string
}

// EmbeddingChangeEvent — полезная нагрузка событий изменения векторов для Kafka.
type EmbeddingChangeEvent struct {
	EventID      string `json:"event_id"`
	EventType    string `json:"event_type"`
	MediaID      string `json:"media_id"`
	ProductID    int64  `json:"product_id"`
	ClientID     int64  `json:"client_id"`
	ModelVersion string `json:"model_version,omitempty"`
	Timestamp    int64  `json:"timestamp"`
}

// OUTBOX

type OutboxStatus string

const (
	Pending    OutboxStatus = "pending"
	Processing OutboxStatus = "processing"
	Processed  OutboxStatus = "processed"
)

type OutboxEventType string

const (
	EmbeddingUpserted OutboxEventType = "embedding_upserted"
	EmbeddingDeleted  OutboxEventType = "embedding_deleted"
)

// OutboxEvent — запись транзакционного outbox для публикации в Kafka.
type OutboxEvent struct {
	ID          int64
	EventID     string
	EventType   OutboxEventType
	ProductID   int64
	Payload     []byte
	Status      OutboxStatus
	CreatedAt   time.Time
	ProcessedAt *time.Time
}

// INFRASTRUCTURE

// EmbedRes — результат векторизации одного изображения.
type EmbedRes struct {
	Vector       []float32
	ModelVersion string
}

// VectorSearchReq — запрос ближайших соседей в векторном хранилище.
// ClientID — жёсткий фильтр внутри запроса, не пост-фильтр.
type VectorSearchReq struct {
	ClientID int64
	Vector   []float32
	Limit    uint64
}

type WriteRawMessageReq struct {
	ProductID int64
	Payload   []byte
}

// MAPPERS

func NewSearchByImageReq(slug string, image ProductImage, threshold int, limit int) *SearchByImageReq {
	return &SearchByImageReq{
		ClientSlug: slug,
		Image:      image,
		Threshold:  threshold,
		Limit:      limit,
	}
}

func NewProductImage(data []byte, mimeType string, size int64, name string) *ProductImage {
	return &ProductImage{
		Data:     data,
		MimeType: mimeType,
		Size:     size,
		Name:     name,
	}
}

func NewSearchByImageRes(results []SearchResult, candidates int) *SearchByImageRes {
	return &SearchByImageRes{
		Results:    results,
		Candidates: candidates,
	}
}

func NewSearchResult(card ProductCard, client *domain.Client, candidate SimilarityCandidate) SearchResult {
	return SearchResult{
		ProductID:      card.ID,
		SKU:            card.SKU,
		Name:           card.Name,
		Price:          card.Price,
		Currency:       client.CurrencyCode,
		CurrencySymbol: client.CurrencySymbol,
		StockLevel:     card.StockLevel,
		Similarity: SimilarityInfo{
			Percent: candidate.Percent,
			Score:   candidate.Score,
		},
	}
}

func NewVectorSearchReq(clientID int64, vector []float32, limit uint64) *VectorSearchReq {
	return &VectorSearchReq{
		ClientID: clientID,
		Vector:   vector,
		Limit:    limit,
	}
}

func NewEmbedRes(vector []float32, modelVersion string) *EmbedRes {
	return &EmbedRes{
		Vector:       vector,
		ModelVersion: modelVersion,
	}
}

func NewDeleteMediaReq(mediaIDs []string) *DeleteMediaReq {
	return &DeleteMediaReq{MediaIDs: mediaIDs}
}

func NewWriteRawMessageReq(productID int64, payload []byte) *WriteRawMessageReq {
	return &WriteRawMessageReq{
		ProductID: productID,
		Payload:   payload,
	}
}

func NewOutboxEvent(eventID string, eventType OutboxEventType, productID int64, payload []byte) *OutboxEvent {
	return &OutboxEvent{
		EventID:   eventID,
		EventType: eventType,
		ProductID: productID,
		Payload:   payload,
		Status:    Pending,
		CreatedAt: time.Now().UTC(),
	}
}
