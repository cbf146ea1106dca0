package http

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/DRSN-tech/image-search/internal/usecase"
	"github.com/DRSN-tech/image-search/pkg/e"
	"github.com/jimlawless/whereami"
	"github.com/shopspring/decimal"
)

type ErrorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func NewErrorResponse(code int, message string) *ErrorResponse {
	return &ErrorResponse{
		Code:    code,
		Message: message,
	}
}

// ToHTTPResponse переводит ошибки слоя usecase в HTTP-статусы.
// Ошибка контракта embedding-сервиса — это 502: запрос клиента корректен,
// сломан именно апстрим.
func ToHTTPResponse(err error) (int, string) {
	switch {
	case errors.Is(err, e.ErrExpectedMultipart):
		return http.StatusBadRequest, e.ErrExpectedMultipart.Error()
	case errors.Is(err, e.ErrClientSlugRequired):
		return http.StatusBadRequest, e.ErrClientSlugRequired.Error()
	case errors.Is(err, e.ErrNoImage):
		return http.StatusBadRequest, e.ErrNoImage.Error()
	case errors.Is(err, e.ErrFileTooLarge):
		return http.StatusBadRequest, e.ErrFileTooLarge.Error()
	case errors.Is(err, e.ErrUnsupportedMediaType):
		return http.StatusBadRequest, e.ErrUnsupportedMediaType.Error()
	case errors.Is(err, e.ErrInvalidThreshold):
		return http.StatusBadRequest, e.ErrInvalidThreshold.Error()
	case errors.Is(err, e.ErrInvalidLimit):
		return http.StatusBadRequest, e.ErrInvalidLimit.Error()
	case errors.Is(err, e.ErrStatusBadRequest):
		return http.StatusBadRequest, e.ErrStatusBadRequest.Error()
	case errors.Is(err, e.ErrClientNotFound):
		return http.StatusNotFound, e.ErrClientNotFound.Error()
	case errors.Is(err, e.ErrEmbeddingContract):
		return http.StatusBadGateway, e.ErrEmbeddingContract.Error()
	case errors.Is(err, e.ErrEmbeddingServiceUnavailable):
		return http.StatusServiceUnavailable, e.ErrEmbeddingServiceUnavailable.Error()
	default:
		return http.StatusInternalServerError, e.ErrInternalServerError.Error()
	}
}

func WriteError(w http.ResponseWriter, err error) {
	code, msg := ToHTTPResponse(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(NewErrorResponse(code, msg))
}

func WriteSuccess(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func ensureMultipartForm(r *http.Request, maxMemory int64) error {
	if !strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		return e.Wrap(whereami.WhereAmI(), e.ErrExpectedMultipart)
	}
	return r.ParseMultipartForm(maxMemory)
}

// readImageFile читает файл изображения из multipart-формы.
// MIME-тип определяется по содержимому, а не по заголовку клиента.
func readImageFile(fh *multipart.FileHeader, maxSize int64) (*usecase.ProductImage, error) {
	src, err := fh.Open()
	if err != nil {
		return nil, e.ErrInternalServerError
	}
	defer src.Close()

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, e.ErrInternalServerError
	}
	if int64(len(data)) > maxSize {
		return nil, e.Wrap(fh.Filename, e.ErrFileTooLarge)
	}

	mimeType := http.DetectContentType(data[:min(len(data), 512)])
	return usecase.NewProductImage(data, mimeType, int64(len(data)), fh.Filename), nil
}

// parseThreshold разбирает порог схожести из строки запроса.
// Пустое значение — значение по умолчанию.
func parseThreshold(raw string, def int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}

	threshold, err := strconv.Atoi(raw)
	if err != nil {
		return 0, e.ErrInvalidThreshold
	}

	return threshold, nil
}

// parseLimit разбирает максимум результатов из строки запроса.
// Ноль в публичном API не принимается: это всегда опечатка клиента.
func parseLimit(raw string, def int) (int, error) {
	if strings.TrimSpace(raw) == "" {
		return def, nil
	}

	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 1 {
		return 0, e.ErrInvalidLimit
	}

	return limit, nil
}

// formatPrice переводит цену из копеек в строку с двумя знаками ("5499.00").
func formatPrice(cents int64) string {
	return decimal.NewFromInt(cents).Div(decimal.NewFromInt(100)).StringFixed(2)
}
