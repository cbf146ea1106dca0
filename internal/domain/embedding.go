package domain

import "time"

// Payload описывает дополнительную информацию вектора
type Payload map[string]any

// Embedding представляет эмбеддинг одного изображения.
// Вектор по контракту с embedding-сервисом — единичной длины (L2).
type Embedding struct {
	ID      string
	Vector  []float32
	Payload Payload
}

func NewEmbedding(id string, vector []float32, payload Payload) *Embedding {
	return &Embedding{
		ID:      id,
		Vector:  vector,
		Payload: payload,
	}
}

func NewPayload(mediaID string, productID int64, clientID int64, imagePath string, modelVersion string) Payload {
	return Payload{
		"media_id":      mediaID,
		"product_id":    productID,
		"client_id":     clientID,
		"image_path":    imagePath,
		"created_at":    time.Now().UTC().UnixNano(),
		"model_version": modelVersion,
	}
}
