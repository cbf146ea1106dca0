package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/DRSN-tech/image-search/internal/usecase"
	"github.com/DRSN-tech/image-search/pkg/e"
	"github.com/DRSN-tech/image-search/pkg/jitter"
	"github.com/DRSN-tech/image-search/pkg/logger"
)

const (
	cleanupTimeout  = 30 * time.Second
	cleanupAttempts = 3
)

// MediaInfrastructure отдаёт объекты изображений, подписывает ссылки на них
// и асинхронно чистит объектное хранилище после удаления media-записей.
type MediaInfrastructure struct {
	imageRepo   usecase.ImageRepository
	logger      logger.Logger
	shutdownCtx context.Context
	wg          sync.WaitGroup
}

func NewMediaInfrastructure(imageRepo usecase.ImageRepository, logger logger.Logger, shutdownCtx context.Context) *MediaInfrastructure {
	return &MediaInfrastructure{
		imageRepo:   imageRepo,
		logger:      logger,
		shutdownCtx: shutdownCtx,
	}
}

// FetchObject читает объект изображения из хранилища.
func (m *MediaInfrastructure) FetchObject(ctx context.Context, key string) ([]byte, string, error) {
	const op = "MediaInfrastructure.FetchObject"

	data, contentType, err := m.imageRepo.Get(ctx, key)
	if err != nil {
		return nil, "", e.Wrap(op, err)
	}

	return data, contentType, nil
}

// PresignURL возвращает временную подписанную ссылку на объект.
func (m *MediaInfrastructure) PresignURL(ctx context.Context, key string) (string, error) {
	const op = "MediaInfrastructure.PresignURL"

	url, err := m.imageRepo.PresignedURL(ctx, key)
	if err != nil {
		return "", e.Wrap(op, err)
	}

	return url, nil
}

// CleanupObjects запускает фоновую очистку указанных ключей хранилища.
func (m *MediaInfrastructure) CleanupObjects(keys []string) {
	if len(keys) == 0 {
		return
	}
	m.wg.Add(1)
	go m.cleanupKeys(keys)
}

// cleanupKeys удаляет объекты с экспоненциальной задержкой между повторами.
func (m *MediaInfrastructure) cleanupKeys(keys []string) {
	defer m.wg.Done()
	const op = "MediaInfrastructure.cleanupKeys"
	m.logger.Infof("%s: cleaning up %d object keys", op, len(keys))

	ctx, cancel := context.WithTimeout(m.shutdownCtx, cleanupTimeout)
	defer cancel()

	for _, key := range keys {
		backoff := time.Second
		for attempt := 0; attempt < cleanupAttempts; attempt++ {
			if err := m.imageRepo.Delete(ctx, key); err == nil {
				break
			}

			select {
			case <-ctx.Done():
				m.logger.Warnf("cleanup interrupted by shutdown, key=%v", key)
				return
			default:
			}

			if attempt < cleanupAttempts-1 {
				select {
				case <-time.After(jitter.Duration(backoff, jitter.DefaultJitter)):
				case <-ctx.Done():
					m.logger.Warnf("cleanup interrupted by shutdown during backoff, key=%v", key)
					return
				}
				backoff *= 2
			}
		}
	}
}

// WaitForCleanup ожидает завершения всех фоновых задач очистки с учётом таймаута завершения приложения.
func (m *MediaInfrastructure) WaitForCleanup(shutdownTimeoutCtx context.Context) error {
	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-shutdownTimeoutCtx.Done():
		return fmt.Errorf("object cleanup timeout during shutdown: %w", shutdownTimeoutCtx.Err())
	}
}
