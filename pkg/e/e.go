package e

import "fmt"

var (
	// Внутренние ошибки с транзакциями
	ErrTransactionNotFound = fmt.Errorf("transaction not found")

	// Внутренние ошибки с векторами
	ErrEmptyVector          = fmt.Errorf("empty query vector")
	ErrIncorrectEnvVariable = fmt.Errorf("incorrect env variable")

	// Контракт embedding-сервиса (502): размерность или нормализация вектора
	// не совпадает с ожидаемой. Сигнал рассинхронизации версий сервисов.
	ErrEmbeddingContract = fmt.Errorf("embedding service contract violation")

	// 503 Service Unavailable: embedding-сервис недоступен или перегружен.
	ErrEmbeddingServiceUnavailable = fmt.Errorf("embedding service unavailable")

	// 400 Bad Request
	ErrStatusBadRequest     = fmt.Errorf("bad request")
	ErrExpectedMultipart    = fmt.Errorf("expected multipart/form-data")
	ErrClientSlugRequired   = fmt.Errorf("client slug is required")
	ErrNoImage              = fmt.Errorf("image file is required")
	ErrFileTooLarge         = fmt.Errorf("file too large")
	ErrUnsupportedMediaType = fmt.Errorf("unsupported media type")
	ErrInvalidThreshold     = fmt.Errorf("similarity threshold must be between 0 and 100")
	ErrInvalidLimit         = fmt.Errorf("max results must be between 1 and 50")

	// 404 Not Found
	ErrClientNotFound = fmt.Errorf("client not found or inactive")

	// 500 Internal Server Error
	ErrInternalServerError = fmt.Errorf("internal server error")
)

// Wrap оборачивает ошибку
func Wrap(msg string, err error) error {
	return fmt.Errorf("%s: %w", msg, err)
}
