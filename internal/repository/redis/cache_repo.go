package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/DRSN-tech/image-search/internal/cfg"
	"github.com/DRSN-tech/image-search/internal/repository/redis/converter"
	"github.com/DRSN-tech/image-search/internal/usecase"
	"github.com/DRSN-tech/image-search/pkg/clients"
	"github.com/DRSN-tech/image-search/pkg/e"
	"github.com/DRSN-tech/image-search/pkg/logger"
	"github.com/jimlawless/whereami"
)

// CacheRepo кэширует карточки продуктов в Redis. Ключи включают client id:
// кэш одного клиента невозможно прочитать запросом другого.
type CacheRepo struct {
	client *clients.RedisClient
	conv   converter.ProductCardConverter
	cfg    *cfg.RedisCfg
	logger logger.Logger
}

func NewCacheRepo(client *clients.RedisClient, conv converter.ProductCardConverter,
	cfg *cfg.RedisCfg, logger logger.Logger) *CacheRepo {
	return &CacheRepo{
		client: client,
		conv:   conv,
		cfg:    cfg,
		logger: logger,
	}
}

// GetProductCards возвращает закэшированные карточки по ID, игнорируя промахи и логируя их
func (r *CacheRepo) GetProductCards(ctx context.Context, clientID int64, ids []int64) (map[int64]usecase.ProductCard, error) {
	keys := r.buildCacheKeys(clientID, ids)

	values, err := r.client.Client.MGet(ctx, keys...).Result()
	if err != nil {
		r.logger.Warnf("Redis MGET failed: %v", e.Wrap(whereami.WhereAmI(), err))
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	result := make(map[int64]usecase.ProductCard, len(values))
	for i, val := range values {
		data, err := redisValueToBytes(val, keys[i])
		if err != nil {
			r.logger.Warnf("%v", e.Wrap(whereami.WhereAmI(), err))
		}

		if data == nil {
			continue // cache miss
		}

		var model converter.ProductCardRedisModel
		if err := json.Unmarshal(data, &model); err != nil {
			r.logger.Warnf("Redis unmarshal failed: %v", e.Wrap(whereami.WhereAmI(), err))
			continue
		}

		if model.ID != ids[i] || model.ClientID != clientID {
			r.logger.Warnf("Cache mismatch: key: %s, model_id: %d, model_client_id: %d", keys[i], model.ID, model.ClientID)
			if err := r.client.Client.Del(context.Background(), keys[i]).Err(); err != nil {
				r.logger.Warnf("Redis del failed: %v", e.Wrap(whereami.WhereAmI(), err))
			}
			continue // cache miss
		}
		result[ids[i]] = *r.conv.ToUseCase(&model)
	}

	return result, nil
}

// SetProductCards атомарно кэширует несколько карточек с заданным TTL.
// Игнорирует ошибки сериализации/записи, логируя их.
func (r *CacheRepo) SetProductCards(ctx context.Context, clientID int64, cards []usecase.ProductCard) error {
	models := r.conv.ToArrRedisModel(cards)

	pipeline := r.client.Client.Pipeline()
	for _, model := range models {
		data, err := json.Marshal(model)
		if err != nil {
			r.logger.Warnf("Failed to marshal card for caching (Product ID: %d): %v", model.ID, e.Wrap(whereami.WhereAmI(), err))
			continue
		}

		pipeline.Set(ctx, r.cardKey(clientID, model.ID), data, r.cfg.ProductTTL)
	}

	if _, err := pipeline.Exec(ctx); err != nil {
		r.logger.Warnf("Cache pipeline failed: %v", e.Wrap(whereami.WhereAmI(), err))
	}

	return nil
}

// DeleteProductCards удаляет карточки из кэша по ID
func (r *CacheRepo) DeleteProductCards(ctx context.Context, clientID int64, ids []int64) error {
	keys := r.buildCacheKeys(clientID, ids)

	if err := r.client.Client.Del(ctx, keys...).Err(); err != nil {
		r.logger.Warnf("Redis DEL failed: %v", e.Wrap(whereami.WhereAmI(), err))
	}

	return nil
}

// buildCacheKeys формирует Redis-ключи из ID продуктов клиента
func (r *CacheRepo) buildCacheKeys(clientID int64, ids []int64) []string {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = r.cardKey(clientID, id)
	}

	return keys
}

// cardKey возвращает Redis-ключ карточки продукта в рамках клиента
func (r *CacheRepo) cardKey(clientID, productID int64) string {
	return fmt.Sprintf("client:%d:product:%d", clientID, productID)
}

// redisValueToBytes конвертирует значение из Redis в []byte.
// Поддерживает string и []byte, возвращает ошибку для неизвестных типов.
func redisValueToBytes(val interface{}, key string) ([]byte, error) {
	switch v := val.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	case nil:
		return nil, nil // cache miss
	default:
		return nil, fmt.Errorf("unexpected Redis value type for key %s: %T", key, val)
	}
}
