package converter

import (
	"github.com/DRSN-tech/image-search/internal/domain"
	"github.com/DRSN-tech/image-search/internal/usecase"
)

// ClientConverter преобразует сущности Client между domain и моделью PostgreSQL.
type ClientConverter interface {
	ToEntity(model *ClientModel) *domain.Client
}

// MediaConverter преобразует сущности Media между domain и моделью PostgreSQL.
type MediaConverter interface {
	ToEntity(model *MediaModel) *domain.Media
}

// OutboxEventConverter преобразует сущности OutboxEvent между usecase и моделью PostgreSQL.
type OutboxEventConverter interface {
	ToModel(entity *usecase.OutboxEvent) *OutboxEventModel
	ToEntity(model *OutboxEventModel) *usecase.OutboxEvent
	ToArrEntity(models []*OutboxEventModel) []*usecase.OutboxEvent
}

type clientConverter struct{}

func NewClientConverter() ClientConverter { return clientConverter{} }

func (clientConverter) ToEntity(model *ClientModel) *domain.Client {
	return &domain.Client{
		ID:             model.ID,
		Name:           model.Name,
		Slug:           model.Slug,
		CurrencyCode:   model.CurrencyCode,
		CurrencySymbol: model.CurrencySymbol,
		CreatedAt:      model.CreatedAt,
		UpdatedAt:      model.UpdatedAt,
		IsActive:       model.IsActive,
	}
}

type mediaConverter struct{}

func NewMediaConverter() MediaConverter { return mediaConverter{} }

func (mediaConverter) ToEntity(model *MediaModel) *domain.Media {
	return &domain.Media{
		ID:              model.ID,
		ProductID:       model.ProductID,
		ObjectKey:       model.ObjectKey,
		ContentType:     model.ContentType,
		Width:           model.Width,
		Height:          model.Height,
		EmbeddingStatus: model.EmbeddingStatus,
		EmbeddingError:  model.EmbeddingError,
		ModelVersion:    model.ModelVersion,
		CreatedAt:       model.CreatedAt,
		UpdatedAt:       model.UpdatedAt,
	}
}

type outboxEventConverter struct{}

func NewOutboxEventConverter() OutboxEventConverter { return outboxEventConverter{} }

func (outboxEventConverter) ToModel(entity *usecase.OutboxEvent) *OutboxEventModel {
	return &OutboxEventModel{
		ID:          entity.ID,
		EventID:     entity.EventID,
		EventType:   string(entity.EventType),
		ProductID:   entity.ProductID,
		Payload:     entity.Payload,
		Status:      string(entity.Status),
		CreatedAt:   entity.CreatedAt,
		ProcessedAt: entity.ProcessedAt,
	}
}

func (outboxEventConverter) ToEntity(model *OutboxEventModel) *usecase.OutboxEvent {
	return &usecase.OutboxEvent{
		ID:          model.ID,
		EventID:     model.EventID,
		EventType:   usecase.OutboxEventType(model.EventType),
		ProductID:   model.ProductID,
		Payload:     model.Payload,
		Status:      usecase.OutboxStatus(model.Status),
		CreatedAt:   model.CreatedAt,
		ProcessedAt: model.ProcessedAt,
	}
}

func (c outboxEventConverter) ToArrEntity(models []*OutboxEventModel) []*usecase.OutboxEvent {
	result := make([]*usecase.OutboxEvent, 0, len(models))
	for _, model := range models {
		result = append(result, c.ToEntity(model))
	}
	return result
}
