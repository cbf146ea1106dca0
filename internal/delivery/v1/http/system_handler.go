package http

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/DRSN-tech/image-search/internal/usecase"
	"github.com/DRSN-tech/image-search/pkg/e"
	"github.com/DRSN-tech/image-search/pkg/logger"
)

type SystemHandler struct {
	ingestUsecase usecase.IngestUC
	embedder      usecase.EmbeddingInfra
	logger        logger.Logger
}

func NewSystemHandler(ingestUsecase usecase.IngestUC, embedder usecase.EmbeddingInfra, logger logger.Logger) *SystemHandler {
	return &SystemHandler{
		ingestUsecase: ingestUsecase,
		embedder:      embedder,
		logger:        logger,
	}
}

type HealthResponse struct {
	Status           string `json:"status"`
	EmbeddingService string `json:"embeddingService"`
}

type ProcessResponse struct {
	Processed int `json:"processed"`
	Failed    int `json:"failed"`
}

type DeleteMediaRequest struct {
	MediaIDs []string `json:"mediaIds"`
}

// healthz
//
//	@Summary	Проверка живости сервиса и доступности embedding-сервиса
//	@Tags		system
//	@Produce	json
//	@Success	200	{object}	HealthResponse
//	@Failure	503	{object}	HealthResponse
//	@Router		/healthz [get]
func (h *SystemHandler) healthz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := HealthResponse{Status: "ok", EmbeddingService: "ok"}
	status := http.StatusOK

	if err := h.embedder.Healthz(ctx); err != nil {
		h.logger.Warnf("embedding service health check failed: %v", err)
		resp.EmbeddingService = "unavailable"
		status = http.StatusServiceUnavailable
	}

	WriteSuccess(w, status, resp)
}

// processEmbeddings
//
//	@Summary		Запуск обработки очереди изображений
//	@Description	Обрабатывает очередной батч media-записей со статусом pending
//	@Tags			internal
//	@Produce		json
//	@Success		200	{object}	ProcessResponse
//	@Failure		500	{object}	ErrorResponse
//	@Router			/internal/embeddings/process [post]
func (h *SystemHandler) processEmbeddings(w http.ResponseWriter, r *http.Request) {
	res, err := h.ingestUsecase.ProcessPendingMedia(r.Context())
	if err != nil {
		h.logger.Errorf(err, "failed to process pending media")
		WriteError(w, err)
		return
	}

	WriteSuccess(w, http.StatusOK, ProcessResponse{
		Processed: res.Processed,
		Failed:    res.Failed,
	})
}

// deleteMedia
//
//	@Summary		Удаление media-записей вместе с векторами и объектами
//	@Tags			internal
//	@Accept			json
//	@Success		204	"Удалено"
//	@Failure		400	{object}	ErrorResponse
//	@Router			/internal/media [delete]
func (h *SystemHandler) deleteMedia(w http.ResponseWriter, r *http.Request) {
	var req DeleteMediaRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.logger.Warnf("%d %s: %s", http.StatusBadRequest, e.ErrStatusBadRequest.Error(), err.Error())
		WriteError(w, e.ErrStatusBadRequest)
		return
	}

	if err := h.ingestUsecase.DeleteMedia(r.Context(), usecase.NewDeleteMediaReq(req.MediaIDs)); err != nil {
		h.logger.Warnf("%s", err.Error())
		WriteError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
