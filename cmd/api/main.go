package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"go.uber.org/zap"

	"github.com/bryanwahyu/automaton-cicd/internal/application"
	appai "github.com/bryanwahyu/automaton-cicd/internal/application/ai"
	appdeploy "github.com/bryanwahyu/automaton-cicd/internal/application/deploy"
	apppipes "github.com/bryanwahyu/automaton-cicd/internal/application/pipes"
	"github.com/bryanwahyu/automaton-cicd/internal/config"
	domai "github.com/bryanwahyu/automaton-cicd/internal/domain/ai"
	"github.com/bryanwahyu/automaton-cicd/internal/domain/analyst"
	depdomain "github.com/bryanwahyu/automaton-cicd/internal/domain/deploy"
	"github.com/bryanwahyu/automaton-cicd/internal/domain/piperrors"
	domain "github.com/bryanwahyu/automaton-cicd/internal/domain/pipes"
	aioffline "github.com/bryanwahyu/automaton-cicd/internal/infra/ai/offline"
	aiopenai "github.com/bryanwahyu/automaton-cicd/internal/infra/ai/openai"
	mysqlp "github.com/bryanwahyu/automaton-cicd/internal/infra/db/mysql"
	postgresp "github.com/bryanwahyu/automaton-cicd/internal/infra/db/postgres"
	dockerrunner "github.com/bryanwahyu/automaton-cicd/internal/infra/executor/docker"
	"github.com/bryanwahyu/automaton-cicd/internal/infra/gitmeta"
	"github.com/bryanwahyu/automaton-cicd/internal/infra/httpserver"
	"github.com/bryanwahyu/automaton-cicd/internal/infra/kube"
	minioStore "github.com/bryanwahyu/automaton-cicd/internal/infra/storage"
	"github.com/bryanwahyu/automaton-cicd/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	// load config
	cfg, err := config.Load(path)
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	logger, err := zap.NewProduction()
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	// connect database; postgres covers runs + analyses only
	var (
		runRepo     domain.Repository
		deployRepo  depdomain.Repository
		errorsRepo  piperrors.Repository
		analystRepo analyst.Repository
		checkers    = map[string]middleware.HealthChecker{}
	)
	switch cfg.Database.Driver {
	case "postgres":
		db, err := postgresp.Connect(cfg.PostgresDSN())
		if err != nil {
			log.Fatalf("postgres connect error: %v", err)
		}
		defer db.Close()
		runRepo = postgresp.NewPipeRunRepository(db)
		analystRepo = postgresp.NewAnalystRepository(db)
		checkers["database"] = &middleware.DatabaseHealthChecker{DB: db}
	default:
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			log.Fatalf("mysql connect error: %v", err)
		}
		defer db.Close()
		runRepo = mysqlp.NewPipeRunRepository(db)
		deployRepo = mysqlp.NewDeploymentRepository(db)
		errorsRepo = mysqlp.NewPipeErrorRepository(db)
		analystRepo = mysqlp.NewAnalystRepository(db)
		checkers["database"] = &middleware.DatabaseHealthChecker{DB: db}
	}

	// init minio
	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
	)
	if err != nil {
		log.Fatalf("minio init error: %v", err)
	}

	// init runner
	runner := dockerrunner.NewRunner()

	// init pipes service
	pipesSvc := &apppipes.Service{
		Repo:      runRepo,
		Runner:    runner,
		Artifacts: store,
		Source:    gitmeta.NewResolver(),
		Errors:    errorsRepo,
		Clock:     application.SystemClock{},
	}

	// init deploy service
	deploySvc := appdeploy.NewService(
		kube.NewFactory(),
		deployRepo,
		errorsRepo,
		application.SystemClock{},
		logger,
	)

	// init ai service; without an API key fall back to the offline analyzer
	var aiClient domai.Client
	if cfg.AI.APIKey != "" {
		aiClient = aiopenai.NewClient(cfg.AI.APIKey, cfg.AI.Model)
	} else {
		aiClient = aioffline.NewClient()
	}
	aiSvc := appai.NewService(aiClient, analystRepo)

	// init router
	mux := chi.NewRouter()
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:         300,
	}))
	mux.Use(middleware.LoggingMiddleware)
	mux.Use(middleware.MetricsMiddleware)
	if len(cfg.Auth.APIKeys) > 0 {
		mux.Use(middleware.APIKeyAuth(cfg.Auth.APIKeys))
	}
	capacity, refill := cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate
	if capacity <= 0 {
		capacity = 60
	}
	if refill <= 0 {
		refill = 1
	}
	mux.Use(middleware.RateLimitMiddleware(capacity, refill))

	mux.Mount("/", httpserver.NewRouter(pipesSvc, deploySvc, aiSvc, errorsRepo, cfg.Deploy.Environments, checkers))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:        addr,
		Handler:     mux,
		ReadTimeout: 15 * time.Second,
		// deploys hold the connection until helm settles, no write deadline
		WriteTimeout: 0,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		log.Printf("server listening on %s", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Println("shutting down server...")

	ctx2, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx2); err != nil {
		log.Printf("shutdown error: %v", err)
	}
}
