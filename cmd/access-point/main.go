// Точка входа Access Point — модуля авторизованного доступа к файлам коллекций.
package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"net/http"
	"os"
	"time"

	"github.com/jackc/pgx/v5/stdlib"

	"github.com/bigkaa/goartstore/access-point/internal/api/handlers"
	"github.com/bigkaa/goartstore/access-point/internal/api/middleware"
	"github.com/bigkaa/goartstore/access-point/internal/api/openapi"
	"github.com/bigkaa/goartstore/access-point/internal/api/rpc"
	"github.com/bigkaa/goartstore/access-point/internal/collection"
	"github.com/bigkaa/goartstore/access-point/internal/config"
	"github.com/bigkaa/goartstore/access-point/internal/domain/access"
	"github.com/bigkaa/goartstore/access-point/internal/domain/mode"
	"github.com/bigkaa/goartstore/access-point/internal/domain/model"
	"github.com/bigkaa/goartstore/access-point/internal/events"
	"github.com/bigkaa/goartstore/access-point/internal/server"
	"github.com/bigkaa/goartstore/access-point/internal/service"
	"github.com/bigkaa/goartstore/access-point/internal/storage/filestore"
	"github.com/bigkaa/goartstore/access-point/internal/storage/index"
	"github.com/bigkaa/goartstore/access-point/internal/storage/postgres"
	"github.com/bigkaa/goartstore/access-point/internal/storage/s3store"
	"github.com/bigkaa/goartstore/access-point/internal/storage/tempstore"
	"github.com/bigkaa/goartstore/access-point/internal/storage/wal"
)

// jwksClientTimeout — таймаут HTTP-клиента загрузки JWKS.
const jwksClientTimeout = 10 * time.Second

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Access Point запускается",
		slog.String("service_id", cfg.ServiceID),
		slog.String("version", config.Version),
		slog.String("mode", cfg.Mode),
		slog.Int("port", cfg.Port),
		slog.Int("rpc_port", cfg.RPCPort),
		slog.String("metadata_backend", cfg.MetadataBackend),
		slog.String("blob_backend", cfg.BlobBackend),
		slog.Bool("insecure", cfg.Insecure),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Access Point завершился с ошибкой", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Access Point остановлен")
}

// run собирает компоненты и блокируется до завершения серверов.
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// --- Инициализация компонентов ---

	// 1. Описание API: встроенный документ должен быть валиден
	if _, err := openapi.Load(); err != nil {
		return fmt.Errorf("openapi: %w", err)
	}

	// 2. Политика доступа и реестр правил
	policy, err := config.LoadPolicy(cfg.PolicyFile)
	if err != nil {
		return err
	}
	registry, err := buildRegistry(policy)
	if err != nil {
		return err
	}
	logger.Info("Политика доступа загружена", slog.Any("collections", policy.Names()))

	// 3. Конечный автомат режимов
	initialMode, err := mode.ParseMode(cfg.Mode)
	if err != nil {
		return err
	}
	sm, err := mode.NewStateMachine(initialMode)
	if err != nil {
		return fmt.Errorf("ошибка инициализации state machine: %w", err)
	}

	// 4. Хранилище метаданных
	meta, err := openMetadata(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer meta.close()

	// 5. Хранилище содержимого
	blobs, err := openBlobs(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// 6. WAL и события
	walEngine, err := wal.New(cfg.WALDir, logger)
	if err != nil {
		return fmt.Errorf("ошибка инициализации WAL: %w", err)
	}

	var publisher events.Publisher = events.Nop{}
	var natsPub *events.NATSPublisher
	if cfg.NATSURL != "" {
		natsPub, err = events.NewNATSPublisher(cfg.NATSURL, cfg.NATSSubjectPrefix, cfg.ServiceID, logger)
		if err != nil {
			return err
		}
		publisher = natsPub
	}
	defer publisher.Close()

	// 7. Движок коллекций и восстановление после сбоя
	engine := collection.New(meta.store, blobs, walEngine, publisher, logger)
	recovered, err := engine.Recover(ctx)
	if err != nil {
		return fmt.Errorf("ошибка восстановления WAL: %w", err)
	}
	logger.Info("WAL восстановлен",
		slog.Int("promotes_committed", recovered.PromotesCommitted),
		slog.Int("promotes_rolled_back", recovered.PromotesRolledBack),
		slog.Int("deletes_replayed", recovered.DeletesReplayed),
		slog.Int("failed", recovered.Failed),
	)

	// 8. Staging собираемых копий и его GC
	temp, err := tempstore.New(cfg.TempDir, cfg.UploadMaxSessions, cfg.UploadTTL, logger)
	if err != nil {
		return fmt.Errorf("ошибка инициализации staging: %w", err)
	}
	gc := service.NewStagingGC(temp, cfg.UploadTTL, cfg.GCInterval, logger)
	gc.Start(ctx)
	defer gc.Stop()

	// 9. Сервисы
	gate := access.NewGate(cfg.Insecure, logger)
	if gate.Insecure() {
		logger.Warn("AccessGate отключён (AP_INSECURE): все проверки доступа разрешены")
	}
	assembler := service.NewAssembler(engine, temp, logger)
	resolver := service.NewResolver(engine)
	ap := service.NewAccessPoint(engine, assembler, resolver, gate, registry, sm, cfg.MaxFileSize, logger)
	holds := service.NewHolds()

	// 10. JWT: без AP_JWKS_URL все запросы анонимные
	var jwtAuth *middleware.JWTAuth
	if cfg.JWKSUrl != "" {
		jwtAuth, err = middleware.NewJWTAuth(middleware.JWTAuthConfig{
			JWKSURL:         cfg.JWKSUrl,
			CACertPath:      cfg.JWKSCACert,
			TLSSkipVerify:   cfg.TLSSkipVerify,
			ClientTimeout:   jwksClientTimeout,
			RefreshInterval: cfg.JWKSRefreshInterval,
			JWTLeeway:       cfg.JWTLeeway,
		}, logger)
		if err != nil {
			return fmt.Errorf("ошибка инициализации JWT: %w", err)
		}
		logger.Info("JWT аутентификация настроена", slog.String("jwks_url", cfg.JWKSUrl))
	} else {
		logger.Warn("AP_JWKS_URL не задан, все запросы обрабатываются как анонимные")
	}

	// 11. Таблицы маршрутов коллекций
	res := &handlers.Resources{AP: ap, Holds: holds, MaxChunkSize: cfg.MaxChunkSize, Logger: logger}
	httpRoutes := make(map[string]http.Handler)
	rpcMethods := make(map[string]rpc.Method)
	resources := make([]handlers.ResourceConfig, 0, len(policy.Collections))
	for _, name := range policy.Names() {
		cp := policy.Collections[name]
		rc := handlers.ResourceConfig{Name: name, BasePath: cp.BasePath, HTTPHeaders: cp.HTTPHeaders}
		resources = append(resources, rc)

		maps.Copy(httpRoutes, handlers.AccessPointsHTTP(res, rc))
		maps.Copy(httpRoutes, handlers.InsertPointHTTP(res, rc))
		maps.Copy(rpcMethods, rpc.AccessPoints(ap, holds, rpc.ResourceConfig{Name: name}))
		maps.Copy(rpcMethods, rpc.InsertPoint(ap, rpc.ResourceConfig{Name: name}))
	}

	grpcServer := rpc.NewServer(jwtAuth, logger)
	rpc.Register(grpcServer, rpcMethods, logger)

	// 12. topologymetrics — мониторинг зависимостей
	dephealthSvc, err := service.NewDephealthService(
		cfg.ServiceID,
		cfg.DephealthGroup,
		service.DephealthDeps{
			JWKSURL:       cfg.JWKSUrl,
			TLSSkipVerify: cfg.TLSSkipVerify,
			DB:            meta.db,
			PGConnURL:     cfg.DatabaseURL(),
		},
		cfg.DephealthCheckInterval,
		logger,
	)
	switch {
	case errors.Is(err, service.ErrNoDependencies):
		logger.Info("topologymetrics: нет зависимостей для мониторинга")
	case err != nil:
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
	default:
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics", slog.String("error", startErr.Error()))
		} else {
			defer dephealthSvc.Stop()
			logger.Info("topologymetrics запущен",
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 13. HTTP-роутер
	dirs := map[string]string{"temp": cfg.TempDir, "wal": cfg.WALDir}
	if cfg.MetadataBackend == config.BackendFS || cfg.BlobBackend == config.BackendFS {
		dirs["data"] = cfg.DataDir
	}
	health := handlers.NewHealthHandler(dirs, meta.index, meta.ready)
	if natsPub != nil {
		health.WithEvents(natsPub)
	}
	router := server.NewRouter(logger, server.Routes{
		Resources: httpRoutes,
		Health:    health,
		System:    handlers.NewSystemHandler(cfg, sm, resources, engine, temp, logger),
		Mode:      handlers.NewModeHandler(sm, logger),
		OpenAPI:   openapi.Handler(),
		Auth:      jwtAuth,
	})

	// 14. Запуск серверов до сигнала завершения
	return server.New(cfg, logger, router, grpcServer).Run(ctx)
}

// buildRegistry компилирует правила всех коллекций политики.
func buildRegistry(policy *config.Policy) (*access.Registry, error) {
	sets := make(map[string]access.ValidatorSet, len(policy.Collections))
	for name, cp := range policy.Collections {
		names := make(map[model.PermissionClass]access.RuleNames, len(cp.Rules))
		for class, rn := range cp.Rules {
			names[model.PermissionClass(class)] = access.RuleNames{Deny: rn.Deny, Allow: rn.Allow}
		}
		set, err := access.CompileSet(names)
		if err != nil {
			return nil, fmt.Errorf("AP_POLICY_FILE: коллекция %s: %w", name, err)
		}
		sets[name] = set
	}
	return access.NewRegistry(sets), nil
}

// metadata — выбранный бэкенд метаданных и его проверки готовности.
type metadata struct {
	store collection.MetadataStore
	// index — fs-индекс, nil для postgres
	index handlers.IndexReadinessChecker
	// ready — проверка PostgreSQL, nil для fs
	ready handlers.DatabaseChecker
	// db — *sql.DB поверх пула для topologymetrics, nil для fs
	db    *sql.DB
	close func()
}

// openMetadata открывает бэкенд метаданных по AP_METADATA_BACKEND.
func openMetadata(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*metadata, error) {
	if cfg.MetadataBackend == config.BackendPostgres {
		if err := postgres.Migrate(cfg, logger); err != nil {
			return nil, err
		}
		pool, err := postgres.Connect(ctx, cfg, logger)
		if err != nil {
			return nil, err
		}
		db := stdlib.OpenDBFromPool(pool)
		return &metadata{
			store: postgres.NewPoolStore(pool),
			ready: postgres.NewReadinessChecker(pool),
			db:    db,
			close: func() {
				_ = db.Close()
				pool.Close()
			},
		}, nil
	}

	idx := index.New(cfg.MetaDir(), logger)
	if err := idx.Load(); err != nil {
		return nil, fmt.Errorf("ошибка построения индекса: %w", err)
	}
	return &metadata{store: idx, index: idx, close: func() {}}, nil
}

// openBlobs открывает бэкенд содержимого по AP_BLOB_BACKEND.
// Недоступный бакет S3 не мешает старту: запросы вернут ошибку до его появления.
func openBlobs(ctx context.Context, cfg *config.Config, logger *slog.Logger) (collection.BlobStore, error) {
	if cfg.BlobBackend == config.BackendS3 {
		store, err := s3store.New(ctx, s3store.Options{
			Endpoint:     cfg.S3Endpoint,
			Region:       cfg.S3Region,
			Bucket:       cfg.S3Bucket,
			AccessKey:    cfg.S3AccessKey,
			SecretKey:    cfg.S3SecretKey,
			UsePathStyle: cfg.S3UsePathStyle,
			SpoolDir:     cfg.TempDir,
		})
		if err != nil {
			return nil, err
		}
		if err := store.CheckReady(ctx); err != nil {
			logger.Warn("S3 недоступен", slog.String("error", err.Error()))
		} else {
			logger.Info("Подключение к S3 установлено", slog.String("bucket", cfg.S3Bucket))
		}
		return store, nil
	}

	store, err := filestore.New(cfg.BlobDir())
	if err != nil {
		return nil, err
	}
	return store, nil
}
