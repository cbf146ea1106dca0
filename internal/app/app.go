package app

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	config "github.com/DRSN-tech/image-search/internal/cfg"
	v1Http "github.com/DRSN-tech/image-search/internal/delivery/v1/http"
	"github.com/DRSN-tech/image-search/internal/infrastructure/embedding"
	"github.com/DRSN-tech/image-search/internal/infrastructure/kafka"
	mediaInfraPkg "github.com/DRSN-tech/image-search/internal/infrastructure/media"
	s3Repo "github.com/DRSN-tech/image-search/internal/repository/minio"
	"github.com/DRSN-tech/image-search/internal/repository/pgdb"
	pgdbConv "github.com/DRSN-tech/image-search/internal/repository/pgdb/converter"
	qdrantRepo "github.com/DRSN-tech/image-search/internal/repository/qdrant"
	"github.com/DRSN-tech/image-search/internal/repository/redis"
	redisConv "github.com/DRSN-tech/image-search/internal/repository/redis/converter"
	"github.com/DRSN-tech/image-search/internal/usecase"
	"github.com/DRSN-tech/image-search/pkg/clients"
	"github.com/DRSN-tech/image-search/pkg/closer"
	"github.com/DRSN-tech/image-search/pkg/e"
	"github.com/DRSN-tech/image-search/pkg/logger"
	"github.com/DRSN-tech/image-search/pkg/postgres"
	"github.com/go-chi/chi/v5"
	"github.com/jimlawless/whereami"
)

const (
	clientInitTimeout = 10 * time.Second
	shutdownTimeout   = 10 * time.Second
	forcedCloseGrace  = 2 * time.Second
)

// App собирает все зависимости сервиса и управляет их жизненным циклом.
// Закрытие ресурсов идёт в порядке, обратном инициализации.
type App struct {
	cfg    *config.Config
	logger logger.Logger

	httpSrv *v1Http.Server
	worker  *kafka.OutboxWorker
	closer  *closer.Closer

	cancelWorkers context.CancelFunc
}

func NewApp(cfg *config.Config, log logger.Logger) (*App, error) {
	cl := closer.NewCloser(forcedCloseGrace)

	db, err := initPGDB(log, cfg)
	if err != nil {
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	cl.Add(func(ctx context.Context) error {
		db.Close()
		log.Infof("postgres pool closed")
		return nil
	})

	clientRepo := pgdb.NewClientRepo(db.Pool, pgdbConv.NewClientConverter())
	productRepo := pgdb.NewProductRepo(db.Pool)
	mediaRepo := pgdb.NewMediaRepo(db.Pool, pgdbConv.NewMediaConverter())
	outboxRepo := pgdb.NewOutboxEventRepo(db.Pool, pgdbConv.NewOutboxEventConverter())

	minioClient, err := clients.NewMinIOClient(cfg.Minio)
	if err != nil {
		log.Errorf(err, "failed to initialize minio client")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	minioCtx, minioCancel := context.WithTimeout(context.Background(), clientInitTimeout)
	if err := clients.EnsureBucket(minioCtx, minioClient, cfg.Minio.BucketName); err != nil {
		minioCancel()
		log.Errorf(err, "failed to initialize MinIO bucket")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	minioCancel()

	imageRepo := s3Repo.NewImageRepo(minioClient, cfg.Minio)

	qdrantClient, err := clients.NewQdrantClient(cfg.Qdrant)
	if err != nil {
		log.Errorf(err, "failed to initialize qdrant")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	cl.Add(func(ctx context.Context) error {
		return qdrantClient.Client.Close()
	})

	qdrantCtx, qdrantCancel := context.WithTimeout(context.Background(), clientInitTimeout)
	if err := clients.EnsureCollection(qdrantCtx, qdrantClient); err != nil {
		qdrantCancel()
		log.Errorf(err, "failed to initialize qdrant collection")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	qdrantCancel()

	embRepo := qdrantRepo.NewEmbeddingRepo(qdrantClient.Client, cfg.Qdrant)

	redisClient := clients.NewRedisClient(cfg.Redis)
	redisCtx, redisCancel := context.WithTimeout(context.Background(), clientInitTimeout)
	if err := redisClient.Ping(redisCtx); err != nil {
		redisCancel()
		log.Errorf(err, "failed to connect to redis")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	redisCancel()
	cl.Add(func(ctx context.Context) error {
		return redisClient.Client.Close()
	})

	cacheRepo := redis.NewCacheRepo(redisClient, redisConv.NewProductCardConverter(), cfg.Redis, log)

	embedder := embedding.NewClient(cfg.Embedding, log)

	// Контекст фоновых задач живёт до конца graceful shutdown,
	// чтобы очистка хранилища успевала завершиться.
	workersCtx, cancelWorkers := context.WithCancel(context.Background())

	mediaInfra := mediaInfraPkg.NewMediaInfrastructure(imageRepo, log, workersCtx)
	cl.Add(func(ctx context.Context) error {
		return mediaInfra.WaitForCleanup(ctx)
	})

	producer, err := kafka.NewProducer(log, cfg.Kafka)
	if err != nil {
		cancelWorkers()
		log.Errorf(err, "failed to initialize kafka producer")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}
	cl.Add(func(ctx context.Context) error {
		return producer.Close()
	})

	if err := producer.EnsureTopic(clientInitTimeout); err != nil {
		cancelWorkers()
		log.Errorf(err, "failed to ensure kafka topic")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	worker := kafka.NewOutboxWorker(outboxRepo, log, producer, db.Dsn)

	searchUC := usecase.NewSearchUC(
		clientRepo,
		productRepo,
		mediaRepo,
		embRepo,
		cacheRepo,
		embedder,
		mediaInfra,
		log,
		cfg.Embedding.Dimension,
	)

	ingestUC := usecase.NewIngestUC(
		mediaRepo,
		embRepo,
		outboxRepo,
		cacheRepo,
		db.Pool,
		embedder,
		mediaInfra,
		log,
		cfg.Embedding.Dimension,
		cfg.Ingest.BatchSize,
		cfg.Ingest.MaxRetries,
		cfg.Ingest.MaxConcurrent,
	)

	r := chi.NewRouter()
	router := v1Http.NewRouter(r, log)
	router.Init(searchUC, ingestUC, embedder)

	httpSrv := v1Http.NewServer(r, cfg.Http)

	return &App{
		cfg:           cfg,
		logger:        log,
		httpSrv:       httpSrv,
		worker:        worker,
		closer:        cl,
		cancelWorkers: cancelWorkers,
	}, nil
}

// Run запускает outbox-воркер и HTTP-сервер и блокируется
// до сигнала завершения либо фатальной ошибки сервера.
func (a *App) Run() error {
	workerCtx, workerCancel := context.WithCancel(context.Background())
	a.worker.Start(workerCtx)

	errCh := make(chan error, 1)
	go func() {
		a.logger.Infof("HTTP server started on port %s", a.cfg.Http.Port)
		if err := a.httpSrv.Run(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Errorf(err, "HTTP server failed")
			errCh <- err
		}
	}()

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	var appErr error
	select {
	case appErr = <-errCh:
		a.logger.Errorf(appErr, "HTTP server fatal error")
	case <-shutdown:
		a.logger.Infof("Received shutdown signal, stopping gracefully...")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	// Сначала перестаём принимать запросы, потом гасим фоновые части.
	if err := a.httpSrv.Stop(shutdownCtx); err != nil {
		a.logger.Errorf(err, "HTTP server shutdown error")
	} else {
		a.logger.Infof("HTTP server stopped")
	}

	workerCancel()
	a.worker.Stop()
	a.logger.Infof("Outbox worker stopped")

	if err := a.closer.Close(shutdownCtx); err != nil {
		a.logger.Warnf("shutdown finished with errors: %v", err)
	}
	a.cancelWorkers()

	a.logger.Infof("Application shutdown complete")
	return appErr
}

func initPGDB(logger logger.Logger, cfg *config.Config) (*postgres.PgDatabase, error) {
	db, err := postgres.Connect(cfg.Db)
	if err != nil {
		logger.Errorf(err, "failed to connect to database")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.RunMigrations(logger); err != nil {
		logger.Errorf(err, "failed to run migrations")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	if err := db.Ping(); err != nil {
		logger.Errorf(err, "failed to ping database")
		return nil, e.Wrap(whereami.WhereAmI(), err)
	}

	return db, nil
}
