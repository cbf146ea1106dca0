package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/DRSN-tech/image-search/internal/cfg"
	"github.com/DRSN-tech/image-search/internal/usecase"
	"github.com/DRSN-tech/image-search/pkg/e"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testDimension = 512

type nopLogger struct{}

func (nopLogger) Debugf(format string, args ...any)            {}
func (nopLogger) Infof(format string, args ...any)             {}
func (nopLogger) Warnf(format string, args ...any)             {}
func (nopLogger) Errorf(err error, format string, args ...any) {}

func newTestClient(baseURL string) *Client {
	return NewClient(&cfg.EmbeddingCfg{
		BaseURL:   baseURL,
		Timeout:   2 * time.Second,
		Dimension: testDimension,
	}, nopLogger{})
}

func testImage() usecase.ProductImage {
	return *usecase.NewProductImage([]byte{0xFF, 0xD8, 0xFF}, "image/jpeg", 3, "query.jpg")
}

func validResponse() embedResponse {
	return embedResponse{
		Embedding:  make([]float32, testDimension),
		Model:      "clip-vit-b32",
		Device:     "cuda",
		Normalized: true,
		Dimension:  testDimension,
	}
}

func TestEmbed_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, embedPath, r.URL.Path)

		file, header, err := r.FormFile("image")
		require.NoError(t, err)
		defer file.Close()
		assert.Equal(t, "query.jpg", header.Filename)
		assert.Equal(t, "image/jpeg", header.Header.Get("Content-Type"))

		json.NewEncoder(w).Encode(validResponse())
	}))
	defer srv.Close()

	res, err := newTestClient(srv.URL).Embed(context.Background(), testImage())

	require.NoError(t, err)
	assert.Len(t, res.Vector, testDimension)
	assert.Equal(t, "clip-vit-b32", res.ModelVersion)
}

func TestEmbed_DimensionMismatchIsContractViolation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := validResponse()
		resp.Embedding = make([]float32, 511)
		resp.Dimension = 511
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Embed(context.Background(), testImage())

	require.ErrorIs(t, err, e.ErrEmbeddingContract)
}

func TestEmbed_NotNormalizedIsContractViolation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		resp := validResponse()
		resp.Normalized = false
		json.NewEncoder(w).Encode(resp)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Embed(context.Background(), testImage())

	require.ErrorIs(t, err, e.ErrEmbeddingContract)
}

func TestEmbed_MalformedBodyIsContractViolation(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Embed(context.Background(), testImage())

	require.ErrorIs(t, err, e.ErrEmbeddingContract)
}

func TestEmbed_Non200IsServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model is loading", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := newTestClient(srv.URL).Embed(context.Background(), testImage())

	require.ErrorIs(t, err, e.ErrEmbeddingServiceUnavailable)
}

func TestEmbed_ConnectionRefusedIsServiceUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	srv.Close() // адрес валиден, но сервер уже не слушает

	_, err := newTestClient(srv.URL).Embed(context.Background(), testImage())

	require.ErrorIs(t, err, e.ErrEmbeddingServiceUnavailable)
}

func TestHealthz(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, healthPath, r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	require.NoError(t, client.Healthz(context.Background()))

	srv.Close()
	require.ErrorIs(t, client.Healthz(context.Background()), e.ErrEmbeddingServiceUnavailable)
}
