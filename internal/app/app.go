package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"speaking_backend/internal/config"
	"speaking_backend/internal/controller"
	"speaking_backend/internal/repository"
	"speaking_backend/internal/service"
	"speaking_backend/internal/util"
	"speaking_backend/pkg/configwatcher"
	"speaking_backend/pkg/database"
	"speaking_backend/pkg/logger"
	"speaking_backend/pkg/monitoring"
	"speaking_backend/pkg/security"
	"speaking_backend/pkg/tracing"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis/v8"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type App struct {
	Config   *config.Config
	Router   *gin.Engine
	DB       *gorm.DB
	Redis    *redis.Client
	Speaking *service.SpeakingService

	services        *services
	limiter         *security.RateLimiter
	tracer          *sdktrace.TracerProvider
	configCallbacks []func(*config.Config)
}

type repositories struct {
	attempt  *repository.ExamAttemptRepository
	question *repository.QuestionRepository
	answer   *repository.SpeakingAnswerRepository
}

type services struct {
	store    service.ObjectStore
	audio    *service.AudioService
	speech   *service.SpeechService
	nlp      *service.NlpScoringClient
	weights  *service.ScoringWeightService
	speaking *service.SpeakingService
}

type controllers struct {
	speaking *controller.SpeakingController
	health   *controller.HealthController
}

func (a *App) RegisterConfigCallback(callback func(*config.Config)) {
	a.configCallbacks = append(a.configCallbacks, callback)
}

// applyConfig 依次通知已注册的回调
func (a *App) applyConfig(cfg *config.Config) {
	for _, cb := range a.configCallbacks {
		cb(cfg)
	}
	a.Config = cfg
}

func (a *App) initRepositories(db *gorm.DB) *repositories {
	return &repositories{
		attempt:  repository.NewExamAttemptRepository(db),
		question: repository.NewQuestionRepository(db),
		answer:   repository.NewSpeakingAnswerRepository(db),
	}
}

func newNlpBackend(cfg config.NLPConfig) service.NlpBackend {
	switch cfg.Provider {
	case "openai":
		if cfg.APIKey == "" {
			return nil
		}
		return service.NewOpenAINlpBackend(cfg.BaseURL, cfg.APIKey, cfg.Model)
	default:
		if cfg.BaseURL == "" {
			return nil
		}
		return service.NewHTTPNlpBackend(cfg.BaseURL, &http.Client{})
	}
}

func (a *App) initServices(repos *repositories, cfg *config.Config, rdb *redis.Client) (*services, error) {
	s := &services{}

	store, err := service.NewObjectStore(&cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("init object store: %w", err)
	}
	s.store = store
	s.audio = service.NewAudioService(store, service.FFmpegTranscoder{}, cfg.Audio)

	httpClient := &http.Client{Timeout: cfg.Speech.AssessTimeout + 5*time.Second}
	recognizer := service.NewGatewayRecognizer(cfg.Speech, httpClient)
	probe := service.NewHTTPAssetProbe(&http.Client{Timeout: 5 * time.Second}, cfg.Speech.ReadinessMinBytes)
	s.speech = service.NewSpeechService(recognizer, probe, cfg.Speech)

	backend := newNlpBackend(cfg.NLP)
	if backend == nil {
		logger.Log.Warn("NLP backend not configured, heuristic scoring will be used",
			zap.String("provider", cfg.NLP.Provider))
	}
	s.nlp = service.NewNlpScoringClient(backend, cfg.NLP)
	s.weights = service.NewScoringWeightService(cfg.Scoring)

	var lock service.SubmissionLock
	if rdb != nil {
		lock = service.NewRedisSubmissionLock(rdb, cfg.Redis.LockTTL)
	}

	s.speaking = service.NewSpeakingService(
		repos.attempt,
		repos.question,
		repos.answer,
		s.audio,
		s.speech,
		s.nlp,
		s.weights,
		lock,
	)
	if cfg.Redis.LockTTL > 0 {
		s.speaking.LockWait = cfg.Redis.LockTTL
	}

	// 可热更新的参数
	a.RegisterConfigCallback(func(c *config.Config) {
		s.speech.UpdateConfig(c.Speech)
		s.nlp.SetFallback(c.NLP.Fallback)
		s.weights.SetContentGates(c.Scoring.ContentGates)
	})

	return s, nil
}

func (a *App) initControllers(s *services, db *gorm.DB, rdb *redis.Client) *controllers {
	return &controllers{
		speaking: controller.NewSpeakingController(s.speaking),
		health:   controller.NewHealthController(db, rdb),
	}
}

func (a *App) setupMiddlewares(router *gin.Engine, cfg *config.Config) {
	router.Use(security.CORS(cfg.CORS))
	router.Use(security.Secure())

	if cfg.Tracing.Enabled {
		router.Use(tracing.GinMiddleware())
	}

	router.Use(monitoring.MetricsMiddleware())
}

// Bootstrap 初始化日志、数据库、Redis 并按需迁移，不构建 HTTP 层（CLI 子命令复用）
func Bootstrap(cfg *config.Config) (*App, error) {
	logger.InitLogger(cfg)
	logger.Log.Info("Logger initialized successfully")

	db, err := database.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("init database: %w", err)
	}

	// sqlite 多用于本地与测试环境，总是自动建表
	if cfg.ForceMigrate || cfg.Database.Driver == "sqlite" {
		if err := database.Migrate(db); err != nil {
			return nil, fmt.Errorf("migrate: %w", err)
		}
	}

	rdb, err := database.InitRedis(&cfg.Redis)
	if err != nil {
		return nil, fmt.Errorf("init redis: %w", err)
	}
	if rdb == nil {
		logger.Log.Info("Redis disabled, submission lock is process-local")
	}

	return &App{Config: cfg, DB: db, Redis: rdb}, nil
}

func NewApp(cfg *config.Config) (*App, error) {
	app, err := Bootstrap(cfg)
	if err != nil {
		return nil, err
	}

	repos := app.initRepositories(app.DB)
	svcs, err := app.initServices(repos, cfg, app.Redis)
	if err != nil {
		return nil, err
	}
	app.services = svcs
	app.Speaking = svcs.speaking
	ctrls := app.initControllers(svcs, app.DB, app.Redis)

	monitoring.Init()

	if cfg.Tracing.Enabled {
		tp, err := tracing.InitTracer(cfg.Tracing.ServiceName, cfg.Tracing.CollectorEndpoint)
		if err != nil {
			return nil, fmt.Errorf("init tracing: %w", err)
		}
		app.tracer = tp
	}

	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	app.Router = router

	app.setupMiddlewares(router, cfg)
	app.limiter = security.NewRateLimiter(cfg.RateLimit)
	app.registerRoutes(router, ctrls, cfg)

	if cfg.Storage.Type == util.StorageLocal {
		router.Static("/uploads", cfg.Storage.LocalPath)
	}

	return app, nil
}

// Run 启动 HTTP 服务，收到 SIGINT/SIGTERM 后优雅退出。configDir 非空时监听配置变更。
func (a *App) Run(configDir string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	srv := &http.Server{
		Addr:    ":" + a.Config.Server.Port,
		Handler: a.Router,
	}

	go a.limiter.Cleanup(ctx)

	if configDir != "" {
		w := configwatcher.New(configDir, a.applyConfig)
		go func() {
			if err := w.Run(ctx); err != nil {
				logger.Log.Warn("Config watcher stopped", zap.Error(err))
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("Server running", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("listen: %w", err)
	case <-ctx.Done():
	}
	logger.Log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server forced to shutdown: %w", err)
	}

	a.Close()
	logger.Log.Info("Server exiting")
	return nil
}

// Close 释放外部连接
func (a *App) Close() {
	if a.tracer != nil {
		if err := a.tracer.Shutdown(context.Background()); err != nil {
			logger.Log.Error("Failed to shutdown tracer provider", zap.Error(err))
		}
	}
	if a.Redis != nil {
		a.Redis.Close()
	}
	if a.DB != nil {
		if sqlDB, err := a.DB.DB(); err == nil {
			sqlDB.Close()
		}
	}
	_ = logger.Log.Sync()
}
