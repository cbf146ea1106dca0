package usecase

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/DRSN-tech/image-search/internal/domain"
	"github.com/DRSN-tech/image-search/pkg/e"
	"github.com/DRSN-tech/image-search/pkg/logger"
)

const (
	// DefaultThreshold — порог для строгого режима (поиск почти-дубликатов).
	DefaultThreshold = 95
	DefaultLimit     = 10
	MaxLimit         = 50

	// maxImageBytes — потолок размера загружаемого изображения.
	maxImageBytes = 10 << 20

	// minOverFetch — нижняя граница выборки кандидатов до фильтрации по порогу:
	// порог может сократить пул сильнее, чем запрошенный лимит.
	minOverFetch = 50
)

// SearchUseCase реализует пайплайн поиска по изображению:
// векторизация -> поиск соседей в рамках клиента -> обогащение.
type SearchUseCase struct {
	clientRepo    ClientRepository
	productRepo   ProductRepository
	mediaRepo     MediaRepository
	embeddingRepo EmbeddingRepository
	cacheRepo     CacheRepository
	embedder      EmbeddingInfra
	mediaInfra    MediaInfra
	logger        logger.Logger
	vectorSize    int
}

func NewSearchUC(
	clientRepo ClientRepository,
	productRepo ProductRepository,
	mediaRepo MediaRepository,
	embeddingRepo EmbeddingRepository,
	cacheRepo CacheRepository,
	embedder EmbeddingInfra,
	mediaInfra MediaInfra,
	logger logger.Logger,
	vectorSize int,
) *SearchUseCase {
	return &SearchUseCase{
		clientRepo:    clientRepo,
		productRepo:   productRepo,
		mediaRepo:     mediaRepo,
		embeddingRepo: embeddingRepo,
		cacheRepo:     cacheRepo,
		embedder:      embedder,
		mediaInfra:    mediaInfra,
		logger:        logger,
		vectorSize:    vectorSize,
	}
}

// SearchByImage ищет товары клиента, похожие на загруженное изображение.
// Пайплайн строго последовательный: embed -> search -> enrich.
func (s *SearchUseCase) SearchByImage(ctx context.Context, req *SearchByImageReq) (*SearchByImageRes, error) {
	const op = "SearchUseCase.SearchByImage"

	if err := s.validateRequest(req); err != nil {
		return nil, e.Wrap(op, err)
	}

	client, err := s.clientRepo.GetActiveBySlug(ctx, req.ClientSlug)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	// Пустой лимит — пустой результат, ошибки нет.
	if req.Limit == 0 {
		return NewSearchByImageRes([]SearchResult{}, 0), nil
	}

	embedRes, err := s.embedder.Embed(ctx, req.Image)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	// Контракт проверяется до обращения к векторному хранилищу.
	if len(embedRes.Vector) != s.vectorSize {
		err := fmt.Errorf("%w: query vector has %d dimensions, want %d",
			e.ErrEmbeddingContract, len(embedRes.Vector), s.vectorSize)
		s.logger.Errorf(err, "%s: embedding service returned a vector of unexpected dimension", op)
		return nil, e.Wrap(op, err)
	}

	// Выборка с запасом: фильтрация по порогу может съесть часть пула.
	fetchLimit := uint64(req.Limit) * 2
	if fetchLimit < minOverFetch {
		fetchLimit = minOverFetch
	}

	candidates, err := s.embeddingRepo.Search(ctx, NewVectorSearchReq(client.ID, embedRes.Vector, fetchLimit))
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	ranked := rankCandidates(candidates, req.Threshold, req.Limit)

	results, err := s.enrich(ctx, client, ranked)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	return NewSearchByImageRes(results, len(ranked)), nil
}

// enrich присоединяет к кандидатам карточки продуктов и изображения,
// сохраняя исходный порядок. Кандидаты с исчезнувшим продуктом молча
// выпадают: одна устаревшая ссылка не должна ломать весь ответ.
func (s *SearchUseCase) enrich(ctx context.Context, client *domain.Client, candidates []SimilarityCandidate) ([]SearchResult, error) {
	const op = "SearchUseCase.enrich"

	if len(candidates) == 0 {
		return []SearchResult{}, nil
	}

	productIDs := uniqueProductIDs(candidates)

	cards, err := s.getProductCards(ctx, client.ID, productIDs)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	images, err := s.mediaRepo.GetPrimaryImages(ctx, client.ID, productIDs)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	results := make([]SearchResult, 0, len(candidates))
	for _, candidate := range candidates {
		card, ok := cards[candidate.ProductID]
		if !ok {
			s.logger.Debugf("dropping candidate %s: product %d is gone or inactive", candidate.MediaID, candidate.ProductID)
			continue
		}

		result := NewSearchResult(card, client, candidate)

		if img, ok := images[candidate.ProductID]; ok {
			url, err := s.mediaInfra.PresignURL(ctx, img.ObjectKey)
			if err != nil {
				s.logger.Warnf("failed to presign url for %s: %v", img.ObjectKey, e.Wrap(op, err))
			} else {
				result.Image.URL = url
			}
			result.Image.Width = img.Width
			result.Image.Height = img.Height
		}

		results = append(results, result)
	}

	return results, nil
}

// getProductCards собирает карточки продуктов: сперва кэш, затем БД,
// промахи докладываются в кэш в фоне.
func (s *SearchUseCase) getProductCards(ctx context.Context, clientID int64, ids []int64) (map[int64]ProductCard, error) {
	const op = "SearchUseCase.getProductCards"

	cached, err := s.cacheRepo.GetProductCards(ctx, clientID, ids)
	if err != nil {
		// Недоступный кэш — не причина ронять поиск.
		cached = map[int64]ProductCard{}
	}

	missing := make([]int64, 0, len(ids))
	for _, id := range ids {
		if _, ok := cached[id]; !ok {
			missing = append(missing, id)
		}
	}

	if len(missing) == 0 {
		return cached, nil
	}

	fromDB, err := s.productRepo.GetProductCards(ctx, clientID, missing)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	if len(fromDB) > 0 {
		cardsToCache := make([]ProductCard, 0, len(fromDB))
		for _, card := range fromDB {
			cardsToCache = append(cardsToCache, card)
		}

		// Фоновое добавление карточек в кэш
		go func() {
			bgCtx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
			defer cancel()

			if err := s.cacheRepo.SetProductCards(bgCtx, clientID, cardsToCache); err != nil {
				s.logger.Warnf("failed to cache product cards in background: %v", e.Wrap(op, err))
			}
		}()
	}

	for id, card := range fromDB {
		cached[id] = card
	}

	return cached, nil
}

// validateRequest проверяет корректность входных данных запроса поиска.
func (s *SearchUseCase) validateRequest(req *SearchByImageReq) error {
	if req.ClientSlug == "" {
		return e.ErrClientSlugRequired
	}

	if len(req.Image.Data) == 0 {
		return e.ErrNoImage
	}

	if req.Image.Size > maxImageBytes || int64(len(req.Image.Data)) > maxImageBytes {
		return e.ErrFileTooLarge
	}

	if !isSupportedImageMime(req.Image.MimeType) {
		return e.ErrUnsupportedMediaType
	}

	if req.Threshold < 0 || req.Threshold > 100 {
		return e.ErrInvalidThreshold
	}

	if req.Limit < 0 || req.Limit > MaxLimit {
		return e.ErrInvalidLimit
	}

	return nil
}

// rankCandidates вычисляет проценты схожести, отбрасывает кандидатов ниже
// порога и возвращает устойчиво упорядоченный срез не длиннее limit.
// Вторичный ключ сортировки (media id) делает порядок при равной схожести
// детерминированным между повторными одинаковыми запросами.
func rankCandidates(candidates []SimilarityCandidate, threshold int, limit int) []SimilarityCandidate {
	ranked := make([]SimilarityCandidate, 0, len(candidates))
	for _, c := range candidates {
		c.Percent = similarityPercent(c.Score)
		if c.Percent >= threshold {
			ranked = append(ranked, c)
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].MediaID < ranked[j].MediaID
	})

	if len(ranked) > limit {
		ranked = ranked[:limit]
	}

	return ranked
}

// similarityPercent переводит косинусную схожесть в проценты для ответа:
// round(max(0, score) * 100). Отрицательная схожесть схлопывается в 0.
func similarityPercent(score float32) int {
	if score <= 0 {
		return 0
	}

	return int(math.Round(float64(score) * 100))
}

// isSupportedImageMime отсекает типы, которые embedding-сервис не принимает.
func isSupportedImageMime(mime string) bool {
	switch mime {
	case "image/jpeg", "image/jpg", "image/png", "image/webp":
		return true
	}

	return false
}

// uniqueProductIDs возвращает уникальные product id кандидатов, сохраняя порядок.
func uniqueProductIDs(candidates []SimilarityCandidate) []int64 {
	seen := make(map[int64]struct{}, len(candidates))
	ids := make([]int64, 0, len(candidates))
	for _, c := range candidates {
		if _, ok := seen[c.ProductID]; ok {
			continue
		}
		seen[c.ProductID] = struct{}{}
		ids = append(ids, c.ProductID)
	}

	return ids
}
