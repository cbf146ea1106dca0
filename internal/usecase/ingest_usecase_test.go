package usecase

import (
	"context"
	"encoding/json"
	"sync"
	"testing"

	"github.com/DRSN-tech/image-search/internal/domain"
	"github.com/DRSN-tech/image-search/pkg/e"
	"github.com/DRSN-tech/image-search/pkg/tr"
	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeTx подменяет pgx.Tx: нереализованные методы интерфейса в тестах не вызываются.
type fakeTx struct {
	pgx.Tx
	mu         sync.Mutex
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Commit(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.rolledBack = true
	return nil
}

type fakeDB struct {
	mu  sync.Mutex
	txs []*fakeTx
}

func (f *fakeDB) Begin(ctx context.Context) (pgx.Tx, error) {
	return f.BeginTx(ctx, pgx.TxOptions{})
}

func (f *fakeDB) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	tx := &fakeTx{}
	f.mu.Lock()
	f.txs = append(f.txs, tx)
	f.mu.Unlock()
	return tx, nil
}

func (f *fakeDB) lastTx() *fakeTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.txs) == 0 {
		return nil
	}
	return f.txs[len(f.txs)-1]
}

type fakeOutboxRepo struct {
	mu      sync.Mutex
	created []*OutboxEvent
}

// Create требует открытую транзакцию в контексте, как и настоящий репозиторий.
func (f *fakeOutboxRepo) Create(ctx context.Context, event *OutboxEvent) (*OutboxEvent, error) {
	if _, err := tr.TxFromCtx(ctx); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.created = append(f.created, event)
	return event, nil
}

func (f *fakeOutboxRepo) GetAndMarkAsProcessing(_ context.Context, limit int) ([]*OutboxEvent, error) {
	return nil, nil
}

func (f *fakeOutboxRepo) MarkAsProcessed(_ context.Context, id int64) error {
	return nil
}

type ingestFixture struct {
	mediaRepo     *fakeMediaRepo
	embeddingRepo *fakeEmbeddingRepo
	outboxRepo    *fakeOutboxRepo
	cacheRepo     *fakeCacheRepo
	db            *fakeDB
	embedder      *fakeEmbedder
	mediaInfra    *fakeMediaInfra
	uc            *IngestUseCase
}

func newIngestFixture(maxRetries int) *ingestFixture {
	f := &ingestFixture{
		mediaRepo:     &fakeMediaRepo{primary: map[int64]domain.Media{}},
		embeddingRepo: &fakeEmbeddingRepo{},
		outboxRepo:    &fakeOutboxRepo{},
		cacheRepo:     &fakeCacheRepo{cards: map[int64]ProductCard{}},
		db:            &fakeDB{},
		embedder:      &fakeEmbedder{res: NewEmbedRes(testVector(), "clip-vit-b32")},
		mediaInfra:    &fakeMediaInfra{objects: map[string][]byte{}},
	}
	f.uc = NewIngestUC(
		f.mediaRepo,
		f.embeddingRepo,
		f.outboxRepo,
		f.cacheRepo,
		f.db,
		f.embedder,
		f.mediaInfra,
		nopLogger{},
		testVectorSize,
		10, // batchSize
		maxRetries,
		2, // maxConcurrent
	)
	return f
}

func pendingFixture(id string, productID, clientID int64) PendingMedia {
	return PendingMedia{
		Media: domain.Media{
			ID:              id,
			ProductID:       productID,
			ObjectKey:       "42/7/" + id + ".jpg",
			ContentType:     "image/jpeg",
			EmbeddingStatus: domain.EmbeddingStatusPending,
		},
		ClientID: clientID,
	}
}

func TestProcessPendingMedia_EmptyQueue(t *testing.T) {
	f := newIngestFixture(0)

	res, err := f.uc.ProcessPendingMedia(context.Background())

	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Zero(t, res.Failed)
	assert.Empty(t, f.mediaRepo.processing)
}

func TestProcessPendingMedia_HappyPath(t *testing.T) {
	f := newIngestFixture(0)
	pm := pendingFixture("a3e1f0d2-0000-0000-0000-000000000001", 7, 42)
	f.mediaRepo.pending = []PendingMedia{pm}
	f.mediaInfra.objects[pm.Media.ObjectKey] = []byte{0xFF, 0xD8}

	res, err := f.uc.ProcessPendingMedia(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, res.Failed)

	assert.Equal(t, []string{pm.Media.ID}, f.mediaRepo.processing)
	assert.Equal(t, "clip-vit-b32", f.mediaRepo.completed[pm.Media.ID])

	require.Len(t, f.embeddingRepo.upserted, 1)
	got := f.embeddingRepo.upserted[0]
	assert.Equal(t, pm.Media.ID, got.ID, "point id must equal media id for idempotent upserts")
	assert.Equal(t, int64(42), got.Payload["client_id"])
	assert.Equal(t, int64(7), got.Payload["product_id"])

	require.Len(t, f.outboxRepo.created, 1)
	event := f.outboxRepo.created[0]
	assert.Equal(t, EmbeddingUpserted, event.EventType)
	assert.Equal(t, Pending, event.Status)

	var payload EmbeddingChangeEvent
	require.NoError(t, json.Unmarshal(event.Payload, &payload))
	assert.Equal(t, pm.Media.ID, payload.MediaID)
	assert.Equal(t, int64(42), payload.ClientID)
	assert.Equal(t, "clip-vit-b32", payload.ModelVersion)

	tx := f.db.lastTx()
	require.NotNil(t, tx)
	assert.True(t, tx.committed)
	assert.False(t, tx.rolledBack)

	assert.Equal(t, []int64{7}, f.cacheRepo.deleted, "product card cache is invalidated after processing")
}

func TestProcessPendingMedia_ContractViolationIsNotRetried(t *testing.T) {
	f := newIngestFixture(3)
	pm := pendingFixture("a3e1f0d2-0000-0000-0000-000000000002", 7, 42)
	f.mediaRepo.pending = []PendingMedia{pm}
	f.mediaInfra.objects[pm.Media.ObjectKey] = []byte{0xFF, 0xD8}
	f.embedder.errs = []error{e.ErrEmbeddingContract, e.ErrEmbeddingContract, e.ErrEmbeddingContract}

	res, err := f.uc.ProcessPendingMedia(context.Background())

	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Equal(t, 1, res.Failed)

	assert.Equal(t, 1, f.embedder.calls, "contract violations are deterministic, retrying is pointless")
	assert.Empty(t, f.embeddingRepo.upserted)
	assert.Contains(t, f.mediaRepo.failed[pm.Media.ID], e.ErrEmbeddingContract.Error())
}

func TestProcessPendingMedia_TransientErrorRetried(t *testing.T) {
	f := newIngestFixture(2)
	pm := pendingFixture("a3e1f0d2-0000-0000-0000-000000000003", 7, 42)
	f.mediaRepo.pending = []PendingMedia{pm}
	f.mediaInfra.objects[pm.Media.ObjectKey] = []byte{0xFF, 0xD8}
	f.embedder.errs = []error{e.ErrEmbeddingServiceUnavailable}

	res, err := f.uc.ProcessPendingMedia(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 2, f.embedder.calls)
}

func TestProcessPendingMedia_RetriesExhausted(t *testing.T) {
	f := newIngestFixture(1)
	pm := pendingFixture("a3e1f0d2-0000-0000-0000-000000000004", 7, 42)
	f.mediaRepo.pending = []PendingMedia{pm}
	f.mediaInfra.objects[pm.Media.ObjectKey] = []byte{0xFF, 0xD8}
	f.embedder.errs = []error{
		e.ErrEmbeddingServiceUnavailable,
		e.ErrEmbeddingServiceUnavailable,
	}

	res, err := f.uc.ProcessPendingMedia(context.Background())

	require.NoError(t, err)
	assert.Zero(t, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 2, f.embedder.calls)
	assert.NotEmpty(t, f.mediaRepo.failed[pm.Media.ID])
}

func TestProcessPendingMedia_DimensionMismatchFails(t *testing.T) {
	f := newIngestFixture(0)
	pm := pendingFixture("a3e1f0d2-0000-0000-0000-000000000005", 7, 42)
	f.mediaRepo.pending = []PendingMedia{pm}
	f.mediaInfra.objects[pm.Media.ObjectKey] = []byte{0xFF, 0xD8}
	f.embedder.res = NewEmbedRes(make([]float32, 128), "clip-vit-b32")

	res, err := f.uc.ProcessPendingMedia(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Empty(t, f.embeddingRepo.upserted, "mismatched vectors must never reach the store")
}

func TestProcessPendingMedia_OneFailureDoesNotStopBatch(t *testing.T) {
	f := newIngestFixture(0)
	ok := pendingFixture("a3e1f0d2-0000-0000-0000-000000000006", 7, 42)
	broken := pendingFixture("a3e1f0d2-0000-0000-0000-000000000007", 8, 42)
	f.mediaRepo.pending = []PendingMedia{ok, broken}
	f.mediaInfra.objects[ok.Media.ObjectKey] = []byte{0xFF, 0xD8}

	// Первый вызов embedder падает контрактом, второй проходит. Порядок
	// обработки недетерминирован, проверяем только итоговые счётчики.
	f.embedder.errs = []error{e.ErrEmbeddingContract}

	res, err := f.uc.ProcessPendingMedia(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 1, res.Processed)
	assert.Equal(t, 1, res.Failed)
	assert.Len(t, f.mediaRepo.failed, 1)
	assert.Len(t, f.mediaRepo.completed, 1)
}

func TestDeleteMedia_RemovesRowsVectorsAndObjects(t *testing.T) {
	f := newIngestFixture(0)
	first := pendingFixture("a3e1f0d2-0000-0000-0000-000000000008", 7, 42)
	second := pendingFixture("a3e1f0d2-0000-0000-0000-000000000009", 8, 42)
	f.mediaRepo.deleted = []PendingMedia{first, second}

	err := f.uc.DeleteMedia(context.Background(), NewDeleteMediaReq([]string{first.Media.ID, second.Media.ID}))

	require.NoError(t, err)

	assert.Equal(t, []string{first.Media.ID, second.Media.ID}, f.mediaRepo.deletedIDs)
	assert.Equal(t, []string{first.Media.ID, second.Media.ID}, f.embeddingRepo.deletedIDs)
	assert.ElementsMatch(t, []string{first.Media.ObjectKey, second.Media.ObjectKey}, f.mediaInfra.cleaned)
	assert.ElementsMatch(t, []int64{7, 8}, f.cacheRepo.deleted)

	require.Len(t, f.outboxRepo.created, 2)
	for _, event := range f.outboxRepo.created {
		assert.Equal(t, EmbeddingDeleted, event.EventType)
	}

	tx := f.db.lastTx()
	require.NotNil(t, tx)
	assert.True(t, tx.committed)
}

func TestDeleteMedia_EmptyRequest(t *testing.T) {
	f := newIngestFixture(0)

	err := f.uc.DeleteMedia(context.Background(), NewDeleteMediaReq(nil))

	require.ErrorIs(t, err, e.ErrStatusBadRequest)
	assert.Empty(t, f.mediaRepo.deletedIDs)
}

func TestDeleteMedia_NoRowsMatched(t *testing.T) {
	f := newIngestFixture(0)
	f.mediaRepo.deleted = nil

	err := f.uc.DeleteMedia(context.Background(), NewDeleteMediaReq([]string{"a3e1f0d2-0000-0000-0000-00000000000a"}))

	require.NoError(t, err)
	assert.Empty(t, f.embeddingRepo.deletedIDs)
	assert.Empty(t, f.mediaInfra.cleaned)
}

func TestIngestIsIdempotentOnReprocessing(t *testing.T) {
	f := newIngestFixture(0)
	pm := pendingFixture("a3e1f0d2-0000-0000-0000-00000000000b", 7, 42)
	f.mediaRepo.pending = []PendingMedia{pm}
	f.mediaInfra.objects[pm.Media.ObjectKey] = []byte{0xFF, 0xD8}

	_, err := f.uc.ProcessPendingMedia(context.Background())
	require.NoError(t, err)
	_, err = f.uc.ProcessPendingMedia(context.Background())
	require.NoError(t, err)

	require.Len(t, f.embeddingRepo.upserted, 2)
	assert.Equal(t, f.embeddingRepo.upserted[0].ID, f.embeddingRepo.upserted[1].ID,
		"reprocessing must overwrite the same point rather than create a new one")

	assert.True(t, json.Valid(f.outboxRepo.created[0].Payload))
}
