package converter

import "time"

// ClientModel представляет запись таблицы clients в PostgreSQL.
type ClientModel struct {
	ID             int64      `db:"id"`
	Name           string     `db:"name"`
	Slug           string     `db:"slug"`
	CurrencyCode   string     `db:"currency_code"`
	CurrencySymbol string     `db:"currency_symbol"`
	CreatedAt      time.Time  `db:"created_at"`
	UpdatedAt      *time.Time `db:"updated_at"`
	IsActive       bool       `db:"is_active"`
}

// MediaModel представляет запись таблицы media в PostgreSQL.
type MediaModel struct {
	ID              string     `db:"id"`
	ProductID       int64      `db:"product_id"`
	ObjectKey       string     `db:"object_key"`
	ContentType     string     `db:"content_type"`
	Width           *int32     `db:"width"`
	Height          *int32     `db:"height"`
	EmbeddingStatus string     `db:"embedding_status"`
	EmbeddingError  *string    `db:"embedding_error"`
	ModelVersion    *string    `db:"model_version"`
	CreatedAt       time.Time  `db:"created_at"`
	UpdatedAt       *time.Time `db:"updated_at"`
}

// OutboxEventModel представляет запись таблицы outbox_events в PostgreSQL.
type OutboxEventModel struct {
	ID          int64      `db:"id"`
	EventID     string     `db:"event_id"`
	EventType   string     `db:"event_type"`
	ProductID   int64      `db:"product_id"`
	Payload     []byte     `db:"payload"`
	Status      string     `db:"status"`
	CreatedAt   time.Time  `db:"created_at"`
	ProcessedAt *time.Time `db:"processed_at"`
}
