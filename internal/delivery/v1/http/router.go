package http

import (
	_ "github.com/DRSN-tech/image-search/docs" // Импорт сгенерированных файлов
	"github.com/DRSN-tech/image-search/internal/usecase"
	"github.com/DRSN-tech/image-search/pkg/logger"
	"github.com/go-chi/chi/v5"
	httpSwagger "github.com/swaggo/http-swagger/v2"
)

type Router struct {
	router *chi.Mux
	logger logger.Logger
}

func NewRouter(router *chi.Mux, logger logger.Logger) *Router {
	return &Router{router: router, logger: logger}
}

func (r *Router) Init(searchUC usecase.SearchUC, ingestUC usecase.IngestUC, embedder usecase.EmbeddingInfra) {
	r.router.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("http://localhost:8080/swagger/doc.json"), // ссылка на JSON
	))

	sysHandler := NewSystemHandler(ingestUC, embedder, r.logger)
	r.router.Get("/healthz", sysHandler.healthz)

	r.router.Route("/api/v1", func(v1 chi.Router) {
		searchHandler := NewSearchHandler(searchUC, r.logger)
		registerSearchRoutes(v1, searchHandler)

		v1.Route("/internal", func(in chi.Router) {
			in.Post("/embeddings/process", sysHandler.processEmbeddings)
			in.Delete("/media", sysHandler.deleteMedia)
		})
	})
}

func registerSearchRoutes(router chi.Router, searchHandler *SearchHandler) {
	router.Route("/search", func(s chi.Router) {
		s.Post("/by-image", searchHandler.searchByImage)
		s.Post("/by-image/advanced", searchHandler.searchByImageAdvanced)
	})
}
