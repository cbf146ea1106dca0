package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/DRSN-tech/image-search/internal/domain"
	"github.com/DRSN-tech/image-search/pkg/e"
	"github.com/DRSN-tech/image-search/pkg/jitter"
	"github.com/DRSN-tech/image-search/pkg/logger"
	transaction "github.com/avito-tech/go-transaction-manager/drivers/pgxv5/v2"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
)

const (
	// embedRetryBaseDelay — базовая задержка между повторами векторизации.
	embedRetryBaseDelay = 500 * time.Millisecond
	embedRetryMaxDelay  = 10 * time.Second
)

// IngestUseCase реализует конвейер векторизации media-записей и их удаления.
// Запись в векторное хранилище идемпотентна (point id = media id), поэтому
// выполняется до транзакции БД: при падении транзакции повторная обработка
// просто перезапишет ту же точку.
type IngestUseCase struct {
	mediaRepo     MediaRepository
	embeddingRepo EmbeddingRepository
	outboxRepo    OutboxRepository
	cacheRepo     CacheRepository
	dbPool        transaction.Transactional
	embedder      EmbeddingInfra
	mediaInfra    MediaInfra
	logger        logger.Logger
	vectorSize    int
	batchSize     int
	maxRetries    int
	maxConcurrent int
}

func NewIngestUC(
	mediaRepo MediaRepository,
	embeddingRepo EmbeddingRepository,
	outboxRepo OutboxRepository,
	cacheRepo CacheRepository,
	dbPool transaction.Transactional,
	embedder EmbeddingInfra,
	mediaInfra MediaInfra,
	logger logger.Logger,
	vectorSize int,
	batchSize int,
	maxRetries int,
	maxConcurrent int,
) *IngestUseCase {
	return &IngestUseCase{
		mediaRepo:     mediaRepo,
		embeddingRepo: embeddingRepo,
		outboxRepo:    outboxRepo,
		cacheRepo:     cacheRepo,
		dbPool:        dbPool,
		embedder:      embedder,
		mediaInfra:    mediaInfra,
		logger:        logger,
		vectorSize:    vectorSize,
		batchSize:     batchSize,
		maxRetries:    maxRetries,
		maxConcurrent: maxConcurrent,
	}
}

// ProcessPendingMedia обрабатывает очередной батч необработанных изображений:
// скачивает объект, векторизует, пишет вектор и помечает запись завершённой.
// Ошибка одной записи не прерывает обработку остальных.
func (i *IngestUseCase) ProcessPendingMedia(ctx context.Context) (*ProcessPendingRes, error) {
	const op = "IngestUseCase.ProcessPendingMedia"

	pending, err := i.mediaRepo.GetPending(ctx, i.batchSize)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	if len(pending) == 0 {
		return &ProcessPendingRes{}, nil
	}

	ids := make([]string, 0, len(pending))
	for _, pm := range pending {
		ids = append(ids, pm.Media.ID)
	}

	if err := i.mediaRepo.MarkProcessing(ctx, ids); err != nil {
		return nil, e.Wrap(op, err)
	}

	// Параллельная обработка батча с ограничением конкурентности
	failedCh := make(chan string, len(pending))
	sem := make(chan struct{}, i.maxConcurrent)

	var wg sync.WaitGroup
	for _, pm := range pending {
		wg.Add(1)
		go func() {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				failedCh <- pm.Media.ID
				return
			}

			if err := i.processOne(ctx, pm); err != nil {
				i.logger.Errorf(e.Wrap(op, err), "failed to process media %s", pm.Media.ID)

				reason := err.Error()
				if markErr := i.mediaRepo.MarkFailed(ctx, pm.Media.ID, reason); markErr != nil {
					i.logger.Errorf(e.Wrap(op, markErr), "failed to mark media %s as failed", pm.Media.ID)
				}

				failedCh <- pm.Media.ID
			}
		}()
	}
	wg.Wait()
	close(failedCh)

	failed := len(failedCh)
	res := &ProcessPendingRes{
		Processed: len(pending) - failed,
		Failed:    failed,
	}

	i.logger.Infof("media batch finished. processed: %d, failed: %d", res.Processed, res.Failed)

	return res, nil
}

// processOne проводит одну media-запись через полный конвейер векторизации.
func (i *IngestUseCase) processOne(ctx context.Context, pm PendingMedia) error {
	const op = "IngestUseCase.processOne"

	data, contentType, err := i.mediaInfra.FetchObject(ctx, pm.Media.ObjectKey)
	if err != nil {
		return e.Wrap(op, err)
	}

	image := NewProductImage(data, contentType, int64(len(data)), pm.Media.ObjectKey)

	embedRes, err := i.embedWithRetry(ctx, *image)
	if err != nil {
		return e.Wrap(op, err)
	}

	if len(embedRes.Vector) != i.vectorSize {
		return e.Wrap(op, fmt.Errorf("%w: vector has %d dimensions, want %d",
			e.ErrEmbeddingContract, len(embedRes.Vector), i.vectorSize))
	}

	payload := domain.NewPayload(pm.Media.ID, pm.Media.ProductID, pm.ClientID, pm.Media.ObjectKey, embedRes.ModelVersion)
	embedding := domain.NewEmbedding(pm.Media.ID, embedRes.Vector, payload)

	// Идемпотентная запись вектора до транзакции БД.
	if err := i.embeddingRepo.Upsert(ctx, []domain.Embedding{*embedding}); err != nil {
		return e.Wrap(op, err)
	}

	ctx, tx, err := transaction.NewTransaction(ctx, pgx.TxOptions{}, i.dbPool)
	if err != nil {
		return e.Wrap(op, err)
	}
	defer func() {
		if err != nil && tx.IsActive() {
			tx.Rollback(ctx)
		}
	}()
	ctx = context.WithValue(ctx, "tx", tx.Transaction())

	err = i.mediaRepo.MarkCompleted(ctx, pm.Media.ID, embedRes.ModelVersion)
	if err != nil {
		return e.Wrap(op, err)
	}

	err = i.createOutboxEvent(ctx, EmbeddingUpserted, pm, embedRes.ModelVersion)
	if err != nil {
		return e.Wrap(op, err)
	}

	err = tx.Commit(ctx)
	if err != nil {
		return e.Wrap(op, err)
	}

	// Карточка могла измениться, пока изображение ждало обработки
	if err := i.cacheRepo.DeleteProductCards(ctx, pm.ClientID, []int64{pm.Media.ProductID}); err != nil {
		i.logger.Warnf("failed to invalidate product card cache: %v", e.Wrap(op, err))
	}

	return nil
}

// embedWithRetry повторяет векторизацию с экспоненциальной задержкой и джиттером.
// Нарушения контракта embedding-сервиса не повторяются: они детерминированы.
func (i *IngestUseCase) embedWithRetry(ctx context.Context, image ProductImage) (*EmbedRes, error) {
	const op = "IngestUseCase.embedWithRetry"

	var lastErr error
	for attempt := 0; attempt <= i.maxRetries; attempt++ {
		if attempt > 0 {
			delay := jitter.ExponentialBackoff(embedRetryBaseDelay, embedRetryMaxDelay, attempt-1, jitter.DefaultJitter)
			i.logger.Debugf("retrying embed, attempt %d/%d after %s", attempt, i.maxRetries, delay)

			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, e.Wrap(op, ctx.Err())
			}
		}

		res, err := i.embedder.Embed(ctx, image)
		if err == nil {
			return res, nil
		}

		if errors.Is(err, e.ErrEmbeddingContract) || errors.Is(err, e.ErrUnsupportedMediaType) {
			return nil, e.Wrap(op, err)
		}

		lastErr = err
	}

	return nil, e.Wrap(op, lastErr)
}

// DeleteMedia удаляет media-записи вместе с их векторами и объектами:
// строки и outbox-события в одной транзакции, затем векторы, затем
// фоновая очистка объектного хранилища.
func (i *IngestUseCase) DeleteMedia(ctx context.Context, req *DeleteMediaReq) error {
	const op = "IngestUseCase.DeleteMedia"

	if len(req.MediaIDs) == 0 {
		return e.Wrap(op, e.ErrStatusBadRequest)
	}

	ctx, tx, err := transaction.NewTransaction(ctx, pgx.TxOptions{}, i.dbPool)
	if err != nil {
		return e.Wrap(op, err)
	}
	defer func() {
		if err != nil && tx.IsActive() {
			tx.Rollback(ctx)
		}
	}()
	ctx = context.WithValue(ctx, "tx", tx.Transaction())

	deleted, err := i.mediaRepo.DeleteByIDs(ctx, req.MediaIDs)
	if err != nil {
		return e.Wrap(op, err)
	}

	for _, pm := range deleted {
		err = i.createOutboxEvent(ctx, EmbeddingDeleted, pm, "")
		if err != nil {
			return e.Wrap(op, err)
		}
	}

	err = tx.Commit(ctx)
	if err != nil {
		return e.Wrap(op, err)
	}

	if len(deleted) == 0 {
		return nil
	}

	mediaIDs := make([]string, 0, len(deleted))
	objectKeys := make([]string, 0, len(deleted))
	for _, pm := range deleted {
		mediaIDs = append(mediaIDs, pm.Media.ID)
		objectKeys = append(objectKeys, pm.Media.ObjectKey)

		if err := i.cacheRepo.DeleteProductCards(ctx, pm.ClientID, []int64{pm.Media.ProductID}); err != nil {
			i.logger.Warnf("failed to invalidate product card cache: %v", e.Wrap(op, err))
		}
	}

	if err := i.embeddingRepo.Delete(ctx, mediaIDs); err != nil {
		// Строки уже удалены; осиротевшие точки перепишутся при повторной
		// обработке или доудалятся вручную, ответ клиенту не ломаем.
		i.logger.Errorf(e.Wrap(op, err), "failed to delete vectors for %d media", len(mediaIDs))
	}

	i.mediaInfra.CleanupObjects(objectKeys)

	return nil
}

// createOutboxEvent кладёт событие изменения вектора в транзакционный outbox.
func (i *IngestUseCase) createOutboxEvent(ctx context.Context, eventType OutboxEventType, pm PendingMedia, modelVersion string) error {
	event := EmbeddingChangeEvent{
		EventID:      uuid.NewString(),
		EventType:    string(eventType),
		MediaID:      pm.Media.ID,
		ProductID:    pm.Media.ProductID,
		ClientID:     pm.ClientID,
		ModelVersion: modelVersion,
		Timestamp:    time.Now().UTC().Unix(),
	}

	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = i.outboxRepo.Create(ctx, NewOutboxEvent(event.EventID, eventType, pm.Media.ProductID, payload))

	return err
}
