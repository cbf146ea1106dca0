package http

import (
	"net/http"

	"github.com/DRSN-tech/image-search/internal/usecase"
	"github.com/DRSN-tech/image-search/pkg/e"
	"github.com/DRSN-tech/image-search/pkg/logger"
)

type SearchHandler struct {
	searchUsecase usecase.SearchUC
	logger        logger.Logger
}

func NewSearchHandler(searchUsecase usecase.SearchUC, logger logger.Logger) *SearchHandler {
	return &SearchHandler{searchUsecase: searchUsecase, logger: logger}
}

type SimilarityResponse struct {
	Percent int     `json:"percent"`
	Score   float32 `json:"score"`
}

type ImageResponse struct {
	URL    string `json:"url"`
	Width  *int32 `json:"width,omitempty"`
	Height *int32 `json:"height,omitempty"`
}

type SearchResultResponse struct {
	ProductID      int64              `json:"productId"`
	SKU            string             `json:"sku"`
	Name           string             `json:"name"`
	Price          string             `json:"price"`
	Currency       string             `json:"currency"`
	CurrencySymbol string             `json:"currencySymbol"`
	StockLevel     int32              `json:"stockLevel"`
	Similarity     SimilarityResponse `json:"similarity"`
	Image          ImageResponse      `json:"image"`
}

type SearchResponse struct {
	Results []SearchResultResponse `json:"results"`
	Count   int                    `json:"count"`
}

// searchByImage
//
//	@Summary		Поиск почти идентичных товаров по изображению
//	@Description	Строгий режим: порог 95%, не более 10 результатов
//	@Tags			search
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			client	query		string			true	"Slug клиента"
//	@Param			image	formData	file			true	"Изображение для поиска"
//	@Success		200		{object}	SearchResponse	"Результаты поиска"
//	@Failure		400		{object}	ErrorResponse	"Ошибка валидации"
//	@Failure		404		{object}	ErrorResponse	"Клиент не найден"
//	@Failure		503		{object}	ErrorResponse	"Embedding-сервис недоступен"
//	@Router			/search/by-image [post]
func (h *SearchHandler) searchByImage(w http.ResponseWriter, r *http.Request) {
	h.handleSearch(w, r, usecase.DefaultThreshold, usecase.DefaultLimit)
}

// searchByImageAdvanced
//
//	@Summary		Поиск похожих товаров с настраиваемыми параметрами
//	@Description	Порог схожести 0-100, лимит результатов 1-50
//	@Tags			search
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			client		query		string			true	"Slug клиента"
//	@Param			threshold	query		int				false	"Минимальный процент схожести (0-100)"
//	@Param			limit		query		int				false	"Максимум результатов (1-50)"
//	@Param			image		formData	file			true	"Изображение для поиска"
//	@Success		200			{object}	SearchResponse	"Результаты поиска"
//	@Failure		400			{object}	ErrorResponse	"Ошибка валидации"
//	@Failure		404			{object}	ErrorResponse	"Клиент не найден"
//	@Failure		503			{object}	ErrorResponse	"Embedding-сервис недоступен"
//	@Router			/search/by-image/advanced [post]
func (h *SearchHandler) searchByImageAdvanced(w http.ResponseWriter, r *http.Request) {
	threshold, err := parseThreshold(r.URL.Query().Get("threshold"), usecase.DefaultThreshold)
	if err != nil {
		h.logger.Warnf("%d: bad threshold %q", http.StatusBadRequest, r.URL.Query().Get("threshold"))
		WriteError(w, err)
		return
	}

	limit, err := parseLimit(r.URL.Query().Get("limit"), usecase.DefaultLimit)
	if err != nil {
		h.logger.Warnf("%d: bad limit %q", http.StatusBadRequest, r.URL.Query().Get("limit"))
		WriteError(w, err)
		return
	}

	h.handleSearch(w, r, threshold, limit)
}

func (h *SearchHandler) handleSearch(w http.ResponseWriter, r *http.Request, threshold, limit int) {
	const (
		maxTotalRequestSize = 12 << 20
		maxMemory           = 11 << 20
	)

	r.Body = http.MaxBytesReader(w, r.Body, maxTotalRequestSize)

	if err := ensureMultipartForm(r, maxMemory); err != nil {
		h.logger.Warnf("%d %s: %s", http.StatusBadRequest, e.ErrStatusBadRequest.Error(), r.Header.Get("Content-Type"))
		WriteError(w, err)
		return
	}

	image, err := parseSearchImage(r)
	if err != nil {
		h.logger.Warnf("%d %s: %s", http.StatusBadRequest, e.ErrStatusBadRequest.Error(), err.Error())
		WriteError(w, err)
		return
	}

	clientSlug := r.URL.Query().Get("client")

	res, err := h.searchUsecase.SearchByImage(
		r.Context(),
		usecase.NewSearchByImageReq(clientSlug, *image, threshold, limit),
	)
	if err != nil {
		h.logger.Warnf("%s", err.Error())
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, toSearchResponse(res))
}

// parseSearchImage достаёт единственный файл изображения из формы.
func parseSearchImage(r *http.Request) (*usecase.ProductImage, error) {
	const maxFileSize = 10 << 20

	files := r.MultipartForm.File["image"]
	if len(files) == 0 {
		return nil, e.ErrNoImage
	}

	return readImageFile(files[0], maxFileSize)
}

func toSearchResponse(res *usecase.SearchByImageRes) *SearchResponse {
	results := make([]SearchResultResponse, 0, len(res.Results))
	for _, item := range res.Results {
		results = append(results, SearchResultResponse{
			ProductID:      item.ProductID,
			SKU:            item.SKU,
			Name:           item.Name,
			Price:          formatPrice(item.Price),
			Currency:       item.Currency,
			CurrencySymbol: item.CurrencySymbol,
			StockLevel:     item.StockLevel,
			Similarity: SimilarityResponse{
				Percent: item.Similarity.Percent,
				Score:   item.Similarity.Score,
			},
			Image: ImageResponse{
				URL:    item.Image.URL,
				Width:  item.Image.Width,
				Height: item.Image.Height,
			},
		})
	}

	return &SearchResponse{
		Results: results,
		Count:   len(results),
	}
}
