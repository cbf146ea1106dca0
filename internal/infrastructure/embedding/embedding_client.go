package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"

	"github.com/DRSN-tech/image-search/internal/cfg"
	"github.com/DRSN-tech/image-search/internal/usecase"
	"github.com/DRSN-tech/image-search/pkg/e"
	"github.com/DRSN-tech/image-search/pkg/logger"
)

const (
	embedPath  = "/embed-image"
	healthPath = "/health"

	// maxErrorBodyBytes ограничивает чтение тела ошибки для логов.
	maxErrorBodyBytes = 4 << 10
)

// Client ходит в embedding-сервис по HTTP (multipart/form-data).
// Сервис принимает одно изображение и возвращает нормализованный вектор.
type Client struct {
	httpClient *http.Client
	cfg        *cfg.EmbeddingCfg
	logger     logger.Logger
}

func NewClient(cfg *cfg.EmbeddingCfg, logger logger.Logger) *Client {
	return &Client{
		httpClient: &http.Client{Timeout: cfg.Timeout},
		cfg:        cfg,
		logger:     logger,
	}
}

// embedResponse — контракт ответа embedding-сервиса.
type embedResponse struct {
	Embedding  []float32 `json:"embedding"`
	Model      string    `json:"model"`
	Device     string    `json:"device"`
	Normalized bool      `json:"normalized"`
	Dimension  int       `json:"dimension"`
}

// Embed векторизует изображение. Нарушения контракта (размерность,
// нормализация) отличаются от недоступности сервиса: первые детерминированы
// и не подлежат повтору.
func (c *Client) Embed(ctx context.Context, image usecase.ProductImage) (*usecase.EmbedRes, error) {
	const op = "embedding.Client.Embed"

	body, contentType, err := buildMultipartBody(image)
	if err != nil {
		return nil, e.Wrap(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+embedPath, body)
	if err != nil {
		return nil, e.Wrap(op, err)
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, e.Wrap(op, fmt.Errorf("%w: %v", e.ErrEmbeddingServiceUnavailable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
		c.logger.Warnf("embedding service returned %d: %s", resp.StatusCode, errBody)
		return nil, e.Wrap(op, fmt.Errorf("%w: status %d", e.ErrEmbeddingServiceUnavailable, resp.StatusCode))
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, e.Wrap(op, fmt.Errorf("%w: malformed response: %v", e.ErrEmbeddingContract, err))
	}

	if parsed.Dimension != c.cfg.Dimension || len(parsed.Embedding) != c.cfg.Dimension {
		return nil, e.Wrap(op, fmt.Errorf("%w: got %d dimensions (declared %d), want %d",
			e.ErrEmbeddingContract, len(parsed.Embedding), parsed.Dimension, c.cfg.Dimension))
	}

	if !parsed.Normalized {
		return nil, e.Wrap(op, fmt.Errorf("%w: vector is not normalized", e.ErrEmbeddingContract))
	}

	return usecase.NewEmbedRes(parsed.Embedding, parsed.Model), nil
}

// Healthz проверяет доступность embedding-сервиса.
func (c *Client) Healthz(ctx context.Context) error {
	const op = "embedding.Client.Healthz"

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.cfg.BaseURL+healthPath, nil)
	if err != nil {
		return e.Wrap(op, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return e.Wrap(op, fmt.Errorf("%w: %v", e.ErrEmbeddingServiceUnavailable, err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return e.Wrap(op, fmt.Errorf("%w: status %d", e.ErrEmbeddingServiceUnavailable, resp.StatusCode))
	}

	return nil
}

// buildMultipartBody собирает multipart-тело с единственным файлом image.
func buildMultipartBody(image usecase.ProductImage) (*bytes.Buffer, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	name := image.Name
	if name == "" {
		name = "image"
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image"; filename=%q`, name))
	header.Set("Content-Type", image.MimeType)

	part, err := w.CreatePart(header)
	if err != nil {
		return nil, "", err
	}

	if _, err := part.Write(image.Data); err != nil {
		return nil, "", err
	}

	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &buf, w.FormDataContentType(), nil
}
