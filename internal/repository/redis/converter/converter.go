package converter

import "github.com/DRSN-tech/image-search/internal/usecase"

// ProductCardConverter преобразует карточки продуктов между usecase и моделью кэша.
type ProductCardConverter interface {
	ToRedisModel(entity *usecase.ProductCard) *ProductCardRedisModel
	ToUseCase(model *ProductCardRedisModel) *usecase.ProductCard
	ToArrRedisModel(entities []usecase.ProductCard) []ProductCardRedisModel
}

type productCardConverter struct{}

func NewProductCardConverter() ProductCardConverter { return productCardConverter{} }

func (productCardConverter) ToRedisModel(entity *usecase.ProductCard) *ProductCardRedisModel {
	return &ProductCardRedisModel{
		ID:         entity.ID,
		ClientID:   entity.ClientID,
		SKU:        entity.SKU,
		Name:       entity.Name,
		Price:      entity.Price,
		StockLevel: entity.StockLevel,
	}
}

func (productCardConverter) ToUseCase(model *ProductCardRedisModel) *usecase.ProductCard {
	return &usecase.ProductCard{
		ID:         model.ID,
		ClientID:   model.ClientID,
		SKU:        model.SKU,
		Name:       model.Name,
		Price:      model.Price,
		StockLevel: model.StockLevel,
	}
}

func (c productCardConverter) ToArrRedisModel(entities []usecase.ProductCard) []ProductCardRedisModel {
	models := make([]ProductCardRedisModel, 0, len(entities))
	for i := range entities {
		models = append(models, *c.ToRedisModel(&entities[i]))
	}
	return models
}
