package usecase

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/DRSN-tech/image-search/internal/domain"
	"github.com/DRSN-tech/image-search/pkg/e"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testVectorSize = 512

type nopLogger struct{}

func (nopLogger) Debugf(format string, args ...any)            {}
func (nopLogger) Infof(format string, args ...any)             {}
func (nopLogger) Warnf(format string, args ...any)             {}
func (nopLogger) Errorf(err error, format string, args ...any) {}

type fakeClientRepo struct {
	client *domain.Client
	err    error
}

func (f *fakeClientRepo) GetActiveBySlug(_ context.Context, slug string) (*domain.Client, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.client, nil
}

type fakeProductRepo struct {
	mu    sync.Mutex
	cards map[int64]ProductCard
	err   error
	calls [][]int64
}

func (f *fakeProductRepo) GetProductCards(_ context.Context, clientID int64, ids []int64) (map[int64]ProductCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.err != nil {
		return nil, f.err
	}

	f.calls = append(f.calls, ids)
	res := make(map[int64]ProductCard)
	for _, id := range ids {
		if card, ok := f.cards[id]; ok {
			res[id] = card
		}
	}
	return res, nil
}

type fakeMediaRepo struct {
	mu         sync.Mutex
	pending    []PendingMedia
	pendingErr error
	processing []string
	completed  map[string]string
	failed     map[string]string
	primary    map[int64]domain.Media
	deleted    []PendingMedia
	deletedIDs []string
}

func (f *fakeMediaRepo) GetPending(_ context.Context, limit int) ([]PendingMedia, error) {
	if f.pendingErr != nil {
		return nil, f.pendingErr
	}
	if len(f.pending) > limit {
		return f.pending[:limit], nil
	}
	return f.pending, nil
}

func (f *fakeMediaRepo) MarkProcessing(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.processing = append(f.processing, ids...)
	return nil
}

func (f *fakeMediaRepo) MarkCompleted(_ context.Context, id string, modelVersion string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.completed == nil {
		f.completed = make(map[string]string)
	}
	f.completed[id] = modelVersion
	return nil
}

func (f *fakeMediaRepo) MarkFailed(_ context.Context, id string, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failed == nil {
		f.failed = make(map[string]string)
	}
	f.failed[id] = reason
	return nil
}

func (f *fakeMediaRepo) GetPrimaryImages(_ context.Context, clientID int64, productIDs []int64) (map[int64]domain.Media, error) {
	res := make(map[int64]domain.Media)
	for _, id := range productIDs {
		if m, ok := f.primary[id]; ok {
			res[id] = m
		}
	}
	return res, nil
}

func (f *fakeMediaRepo) DeleteByIDs(_ context.Context, ids []string) ([]PendingMedia, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedIDs = append(f.deletedIDs, ids...)
	return f.deleted, nil
}

type fakeEmbeddingRepo struct {
	mu         sync.Mutex
	candidates []SimilarityCandidate
	searchReq  *VectorSearchReq
	searchErr  error
	upserted   []domain.Embedding
	upsertErr  error
	deletedIDs []string
}

func (f *fakeEmbeddingRepo) Upsert(_ context.Context, vectors []domain.Embedding) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.upsertErr != nil {
		return f.upsertErr
	}
	f.upserted = append(f.upserted, vectors...)
	return nil
}

func (f *fakeEmbeddingRepo) Search(_ context.Context, req *VectorSearchReq) ([]SimilarityCandidate, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.searchReq = req
	if f.searchErr != nil {
		return nil, f.searchErr
	}
	return f.candidates, nil
}

func (f *fakeEmbeddingRepo) Delete(_ context.Context, mediaIDs []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deletedIDs = append(f.deletedIDs, mediaIDs...)
	return nil
}

type fakeCacheRepo struct {
	mu      sync.Mutex
	cards   map[int64]ProductCard
	getErr  error
	set     []ProductCard
	deleted []int64
}

func (f *fakeCacheRepo) GetProductCards(_ context.Context, clientID int64, ids []int64) (map[int64]ProductCard, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getErr != nil {
		return nil, f.getErr
	}
	res := make(map[int64]ProductCard)
	for _, id := range ids {
		if card, ok := f.cards[id]; ok {
			res[id] = card
		}
	}
	return res, nil
}

func (f *fakeCacheRepo) SetProductCards(_ context.Context, clientID int64, cards []ProductCard) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.set = append(f.set, cards...)
	return nil
}

func (f *fakeCacheRepo) DeleteProductCards(_ context.Context, clientID int64, ids []int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, ids...)
	return nil
}

type fakeEmbedder struct {
	mu    sync.Mutex
	res   *EmbedRes
	errs  []error // очередь ошибок перед успешным ответом
	calls int
}

func (f *fakeEmbedder) Embed(_ context.Context, image ProductImage) (*EmbedRes, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		return nil, err
	}
	return f.res, nil
}

func (f *fakeEmbedder) Healthz(_ context.Context) error { return nil }

type fakeMediaInfra struct {
	mu         sync.Mutex
	objects    map[string][]byte
	fetchErr   error
	presignErr error
	cleaned    []string
}

func (f *fakeMediaInfra) FetchObject(_ context.Context, key string) ([]byte, string, error) {
	if f.fetchErr != nil {
		return nil, "", f.fetchErr
	}
	return f.objects[key], "image/jpeg", nil
}

func (f *fakeMediaInfra) PresignURL(_ context.Context, key string) (string, error) {
	if f.presignErr != nil {
		return "", f.presignErr
	}
	return "https://cdn.example.com/" + key, nil
}

func (f *fakeMediaInfra) CleanupObjects(keys []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleaned = append(f.cleaned, keys...)
}

func testClient() *domain.Client {
	return &domain.Client{
		ID:             42,
		Name:           "Acme Store",
		Slug:           "acme",
		CurrencyCode:   "RUB",
		CurrencySymbol: "₽",
		IsActive:       true,
	}
}

func testVector() []float32 {
	return make([]float32, testVectorSize)
}

func testImage() ProductImage {
	return *NewProductImage(bytes.Repeat([]byte{0xFF}, 64), "image/jpeg", 64, "query.jpg")
}

type searchFixture struct {
	clientRepo    *fakeClientRepo
	productRepo   *fakeProductRepo
	mediaRepo     *fakeMediaRepo
	embeddingRepo *fakeEmbeddingRepo
	cacheRepo     *fakeCacheRepo
	embedder      *fakeEmbedder
	mediaInfra    *fakeMediaInfra
	uc            *SearchUseCase
}

func newSearchFixture() *searchFixture {
	f := &searchFixture{
		clientRepo:    &fakeClientRepo{client: testClient()},
		productRepo:   &fakeProductRepo{cards: map[int64]ProductCard{}},
		mediaRepo:     &fakeMediaRepo{primary: map[int64]domain.Media{}},
		embeddingRepo: &fakeEmbeddingRepo{},
		cacheRepo:     &fakeCacheRepo{cards: map[int64]ProductCard{}},
		embedder:      &fakeEmbedder{res: NewEmbedRes(testVector(), "clip-vit-b32")},
		mediaInfra:    &fakeMediaInfra{objects: map[string][]byte{}},
	}
	f.uc = NewSearchUC(
		f.clientRepo,
		f.productRepo,
		f.mediaRepo,
		f.embeddingRepo,
		f.cacheRepo,
		f.embedder,
		f.mediaInfra,
		nopLogger{},
		testVectorSize,
	)
	return f
}

func TestSearchByImage_Validation(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(req *SearchByImageReq)
		wantErr error
	}{
		{
			name:    "missing slug",
			mutate:  func(req *SearchByImageReq) { req.ClientSlug = "" },
			wantErr: e.ErrClientSlugRequired,
		},
		{
			name:    "missing image",
			mutate:  func(req *SearchByImageReq) { req.Image.Data = nil },
			wantErr: e.ErrNoImage,
		},
		{
			name:    "image too large",
			mutate:  func(req *SearchByImageReq) { req.Image.Size = 11 << 20 },
			wantErr: e.ErrFileTooLarge,
		},
		{
			name:    "unsupported mime type",
			mutate:  func(req *SearchByImageReq) { req.Image.MimeType = "image/gif" },
			wantErr: e.ErrUnsupportedMediaType,
		},
		{
			name:    "threshold above 100",
			mutate:  func(req *SearchByImageReq) { req.Threshold = 101 },
			wantErr: e.ErrInvalidThreshold,
		},
		{
			name:    "negative threshold",
			mutate:  func(req *SearchByImageReq) { req.Threshold = -1 },
			wantErr: e.ErrInvalidThreshold,
		},
		{
			name:    "limit above maximum",
			mutate:  func(req *SearchByImageReq) { req.Limit = 51 },
			wantErr: e.ErrInvalidLimit,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newSearchFixture()
			req := NewSearchByImageReq("acme", testImage(), DefaultThreshold, DefaultLimit)
			tt.mutate(req)

			_, err := f.uc.SearchByImage(context.Background(), req)

			require.ErrorIs(t, err, tt.wantErr)
			assert.Zero(t, f.embedder.calls, "validation must reject before calling the embedder")
		})
	}
}

func TestSearchByImage_ZeroLimitReturnsEmpty(t *testing.T) {
	f := newSearchFixture()

	res, err := f.uc.SearchByImage(context.Background(), NewSearchByImageReq("acme", testImage(), DefaultThreshold, 0))

	require.NoError(t, err)
	assert.Empty(t, res.Results)
	assert.Zero(t, f.embedder.calls)
	assert.Nil(t, f.embeddingRepo.searchReq)
}

func TestSearchByImage_ClientNotFound(t *testing.T) {
	f := newSearchFixture()
	f.clientRepo.err = e.ErrClientNotFound

	_, err := f.uc.SearchByImage(context.Background(), NewSearchByImageReq("ghost", testImage(), DefaultThreshold, DefaultLimit))

	require.ErrorIs(t, err, e.ErrClientNotFound)
	assert.Zero(t, f.embedder.calls)
}

func TestSearchByImage_DimensionMismatchStopsBeforeVectorStore(t *testing.T) {
	f := newSearchFixture()
	f.embedder.res = NewEmbedRes(make([]float32, 511), "clip-vit-b32")

	_, err := f.uc.SearchByImage(context.Background(), NewSearchByImageReq("acme", testImage(), DefaultThreshold, DefaultLimit))

	require.ErrorIs(t, err, e.ErrEmbeddingContract)
	assert.Nil(t, f.embeddingRepo.searchReq, "vector store must not be queried on contract violation")
}

func TestSearchByImage_EmbedderFailurePropagates(t *testing.T) {
	f := newSearchFixture()
	f.embedder.errs = []error{e.ErrEmbeddingServiceUnavailable}

	_, err := f.uc.SearchByImage(context.Background(), NewSearchByImageReq("acme", testImage(), DefaultThreshold, DefaultLimit))

	require.ErrorIs(t, err, e.ErrEmbeddingServiceUnavailable)
	assert.Equal(t, 1, f.embedder.calls, "search path must not retry the embedder")
	assert.Nil(t, f.embeddingRepo.searchReq)
}

func TestSearchByImage_TenantFilterAndOverFetch(t *testing.T) {
	f := newSearchFixture()

	_, err := f.uc.SearchByImage(context.Background(), NewSearchByImageReq("acme", testImage(), 0, 5))

	require.NoError(t, err)
	require.NotNil(t, f.embeddingRepo.searchReq)
	assert.Equal(t, int64(42), f.embeddingRepo.searchReq.ClientID, "client filter must be part of the vector query")
	assert.Equal(t, uint64(50), f.embeddingRepo.searchReq.Limit, "small limits are padded to the minimum over-fetch")

	f = newSearchFixture()
	_, err = f.uc.SearchByImage(context.Background(), NewSearchByImageReq("acme", testImage(), 0, 40))

	require.NoError(t, err)
	assert.Equal(t, uint64(80), f.embeddingRepo.searchReq.Limit)
}

func TestSearchByImage_RankingAndThreshold(t *testing.T) {
	f := newSearchFixture()
	f.embeddingRepo.candidates = []SimilarityCandidate{
		{MediaID: "m-low", ProductID: 1, Score: 0.42},
		{MediaID: "m-b", ProductID: 2, Score: 0.97},
		{MediaID: "m-a", ProductID: 3, Score: 0.97},
		{MediaID: "m-top", ProductID: 4, Score: 0.99},
		{MediaID: "m-negative", ProductID: 5, Score: -0.3},
	}
	for id := int64(1); id <= 5; id++ {
		f.productRepo.cards[id] = ProductCard{ID: id, ClientID: 42, SKU: fmt.Sprintf("SKU-%d", id), Name: "product", Price: 1000}
	}

	res, err := f.uc.SearchByImage(context.Background(), NewSearchByImageReq("acme", testImage(), 95, 10))

	require.NoError(t, err)
	require.Len(t, res.Results, 3, "candidates below threshold are dropped")

	assert.Equal(t, int64(4), res.Results[0].ProductID)
	assert.Equal(t, 99, res.Results[0].Similarity.Percent)

	// При равной схожести порядок определяет media id.
	assert.Equal(t, int64(3), res.Results[1].ProductID)
	assert.Equal(t, int64(2), res.Results[2].ProductID)
	assert.Equal(t, 97, res.Results[1].Similarity.Percent)
}

func TestSearchByImage_RepeatedSearchIsStable(t *testing.T) {
	f := newSearchFixture()
	f.embeddingRepo.candidates = []SimilarityCandidate{
		{MediaID: "m-c", ProductID: 1, Score: 0.9},
		{MediaID: "m-a", ProductID: 2, Score: 0.9},
		{MediaID: "m-b", ProductID: 3, Score: 0.9},
	}
	for id := int64(1); id <= 3; id++ {
		f.productRepo.cards[id] = ProductCard{ID: id, ClientID: 42, SKU: "SKU", Name: "product"}
	}

	req := NewSearchByImageReq("acme", testImage(), 0, 10)

	first, err := f.uc.SearchByImage(context.Background(), req)
	require.NoError(t, err)
	second, err := f.uc.SearchByImage(context.Background(), req)
	require.NoError(t, err)

	require.Equal(t, len(first.Results), len(second.Results))
	for i := range first.Results {
		assert.Equal(t, first.Results[i].ProductID, second.Results[i].ProductID)
	}
	assert.Equal(t, int64(2), first.Results[0].ProductID)
	assert.Equal(t, int64(3), first.Results[1].ProductID)
	assert.Equal(t, int64(1), first.Results[2].ProductID)
}

func TestSearchByImage_NegativeScoreClampedToZero(t *testing.T) {
	f := newSearchFixture()
	f.embeddingRepo.candidates = []SimilarityCandidate{
		{MediaID: "m-1", ProductID: 1, Score: -0.5},
	}
	f.productRepo.cards[1] = ProductCard{ID: 1, ClientID: 42}

	res, err := f.uc.SearchByImage(context.Background(), NewSearchByImageReq("acme", testImage(), 0, 10))

	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, 0, res.Results[0].Similarity.Percent)
}

func TestSearchByImage_StaleProductsDropped(t *testing.T) {
	f := newSearchFixture()
	f.embeddingRepo.candidates = []SimilarityCandidate{
		{MediaID: "m-1", ProductID: 1, Score: 0.98},
		{MediaID: "m-2", ProductID: 2, Score: 0.96}, // продукт удалён, вектор остался
	}
	f.productRepo.cards[1] = ProductCard{ID: 1, ClientID: 42, SKU: "SKU-1", Name: "alive"}

	res, err := f.uc.SearchByImage(context.Background(), NewSearchByImageReq("acme", testImage(), 95, 10))

	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, int64(1), res.Results[0].ProductID)
	assert.Equal(t, 2, res.Candidates)
}

func TestSearchByImage_EmptyCatalog(t *testing.T) {
	f := newSearchFixture()

	res, err := f.uc.SearchByImage(context.Background(), NewSearchByImageReq("acme", testImage(), DefaultThreshold, DefaultLimit))

	require.NoError(t, err)
	assert.Empty(t, res.Results)
}

func TestSearchByImage_CacheFailureFallsBackToDB(t *testing.T) {
	f := newSearchFixture()
	f.cacheRepo.getErr = errors.New("redis: connection refused")
	f.embeddingRepo.candidates = []SimilarityCandidate{
		{MediaID: "m-1", ProductID: 1, Score: 0.98},
	}
	f.productRepo.cards[1] = ProductCard{ID: 1, ClientID: 42, SKU: "SKU-1", Name: "from db"}

	res, err := f.uc.SearchByImage(context.Background(), NewSearchByImageReq("acme", testImage(), 95, 10))

	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Equal(t, "from db", res.Results[0].Name)
}

func TestSearchByImage_EnrichmentDetails(t *testing.T) {
	f := newSearchFixture()
	width, height := int32(800), int32(600)
	f.embeddingRepo.candidates = []SimilarityCandidate{
		{MediaID: "m-1", ProductID: 7, Score: 0.98},
	}
	f.productRepo.cards[7] = ProductCard{ID: 7, ClientID: 42, SKU: "SKU-7", Name: "sneakers", Price: 549900, StockLevel: 3}
	f.mediaRepo.primary[7] = domain.Media{ID: "m-1", ProductID: 7, ObjectKey: "42/7/m-1.jpg", Width: &width, Height: &height}

	res, err := f.uc.SearchByImage(context.Background(), NewSearchByImageReq("acme", testImage(), 95, 10))

	require.NoError(t, err)
	require.Len(t, res.Results, 1)

	got := res.Results[0]
	assert.Equal(t, "SKU-7", got.SKU)
	assert.Equal(t, int64(549900), got.Price)
	assert.Equal(t, "RUB", got.Currency)
	assert.Equal(t, "₽", got.CurrencySymbol)
	assert.Equal(t, int32(3), got.StockLevel)
	assert.Equal(t, "https://cdn.example.com/42/7/m-1.jpg", got.Image.URL)
	require.NotNil(t, got.Image.Width)
	assert.Equal(t, int32(800), *got.Image.Width)
}

func TestSearchByImage_PresignFailureKeepsResult(t *testing.T) {
	f := newSearchFixture()
	f.mediaInfra.presignErr = errors.New("minio: gone")
	f.embeddingRepo.candidates = []SimilarityCandidate{
		{MediaID: "m-1", ProductID: 7, Score: 0.98},
	}
	f.productRepo.cards[7] = ProductCard{ID: 7, ClientID: 42, SKU: "SKU-7", Name: "sneakers"}
	f.mediaRepo.primary[7] = domain.Media{ID: "m-1", ProductID: 7, ObjectKey: "42/7/m-1.jpg"}

	res, err := f.uc.SearchByImage(context.Background(), NewSearchByImageReq("acme", testImage(), 95, 10))

	require.NoError(t, err)
	require.Len(t, res.Results, 1)
	assert.Empty(t, res.Results[0].Image.URL)
}

func TestSimilarityPercent(t *testing.T) {
	assert.Equal(t, 100, similarityPercent(1.0))
	assert.Equal(t, 95, similarityPercent(0.951))
	assert.Equal(t, 95, similarityPercent(0.949))
	assert.Equal(t, 0, similarityPercent(0))
	assert.Equal(t, 0, similarityPercent(-1))
}
