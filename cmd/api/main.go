package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sitejournal/compliance/internal/application"
	appanalysis "github.com/sitejournal/compliance/internal/application/analysis"
	appdocs "github.com/sitejournal/compliance/internal/application/documents"
	"github.com/sitejournal/compliance/internal/config"
	domain "github.com/sitejournal/compliance/internal/domain/analysis"
	auditdomain "github.com/sitejournal/compliance/internal/domain/analysiserrors"
	docdomain "github.com/sitejournal/compliance/internal/domain/documents"
	aiclient "github.com/sitejournal/compliance/internal/infra/ai/openai"
	mysqlp "github.com/sitejournal/compliance/internal/infra/db/mysql"
	postgresp "github.com/sitejournal/compliance/internal/infra/db/postgres"
	"github.com/sitejournal/compliance/internal/infra/httpserver"
	minioStore "github.com/sitejournal/compliance/internal/infra/storage"
	"github.com/sitejournal/compliance/internal/logging"
	"github.com/sitejournal/compliance/internal/middleware"
)

func main() {
	// path config.yaml
	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config load error: %v\n", err)
		os.Exit(1)
	}

	log := logging.New(cfg.Log.Level)
	baseLog := log.WithField("service", "compliance-api")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// connect database (mysql default, postgres via database.driver)
	var db *sql.DB
	var analysisRepo domain.Repository
	var docRepo docdomain.Repository
	var errRepo auditdomain.Repository
	switch cfg.Database.Driver {
	case "", "mysql":
		db, err = mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			baseLog.WithError(err).Fatal("mysql connect error")
		}
		analysisRepo = mysqlp.NewAnalysisRepository(db)
		docRepo = mysqlp.NewDocumentRepository(db)
		errRepo = mysqlp.NewAnalysisErrorRepository(db)
	case "postgres":
		db, err = postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			baseLog.WithError(err).Fatal("postgres connect error")
		}
		analysisRepo = postgresp.NewAnalysisRepository(db)
		docRepo = postgresp.NewDocumentRepository(db)
		errRepo = postgresp.NewAnalysisErrorRepository(db)
	default:
		baseLog.Fatalf("unsupported database driver: %s", cfg.Database.Driver)
	}
	defer db.Close()

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
		baseLog.WithError(err).Fatal("minio init error")
	}

	// init provider
	provider := aiclient.NewClient(cfg.OpenAI.APIKey, cfg.OpenAI.Model, cfg.OpenAI.AttemptTimeout)

	// analysis pipeline: guard + queue + worker pool + coordinator
	guard := appanalysis.NewGuard()
	queue := appanalysis.NewQueue(cfg.Analysis.QueueSize, appanalysis.FullPolicy(cfg.Analysis.QueueFullPolicy))
	clock := application.SystemClock{}

	worker := &appanalysis.Worker{
		Queue:           queue,
		Repo:            analysisRepo,
		Provider:        provider,
		Guard:           guard,
		Errors:          errRepo,
		Retry:           appanalysis.NewRetryPolicy(cfg.Analysis.MaxAttempts, cfg.Analysis.RetryBaseDelay, cfg.Analysis.RetryMaxDelay),
		Clock:           clock,
		Log:             baseLog.WithField("component", "analysis-worker"),
		PersistAttempts: cfg.Analysis.PersistAttempts,
		Concurrency:     cfg.Analysis.Workers,
		OnTerminal: func(status domain.Status) {
			if status == domain.StatusCompleted {
				middleware.IncrementAnalysesCompleted()
			} else {
				middleware.IncrementAnalysesFailed()
			}
		},
	}
	if err := worker.Start(ctx); err != nil {
		baseLog.WithError(err).Fatal("worker start error")
	}

	coordinator := &appanalysis.Coordinator{
		Guard:       guard,
		Queue:       queue,
		Clock:       clock,
		Log:         baseLog.WithField("component", "analysis-coordinator"),
		OnDeduped:   middleware.IncrementAnalysesDeduped,
		WaitTimeout: cfg.Analysis.WaitTimeout,
	}

	analysisSvc := &appanalysis.Service{
		Coordinator: coordinator,
		Repo:        analysisRepo,
		Documents:   docRepo,
		Errors:      errRepo,
	}
	docsSvc := &appdocs.Service{
		Repo:     docRepo,
		Files:    store,
		Analysis: analysisSvc,
		Clock:    clock,
		Log:      baseLog.WithField("component", "documents"),
	}

	// init router
	mux := chi.NewRouter()
	mux.Use(middleware.Logging(baseLog.WithField("component", "http")))
	mux.Use(middleware.RateLimit(60, 10))
	mux.Mount("/", httpserver.NewRouter(analysisSvc, docsSvc, httpserver.Deps{
		DB:         db,
		QueueDepth: queue.Depth,
		InFlight:   guard.Len,
	}))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// run server
	go func() {
		baseLog.WithField("addr", addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			baseLog.WithError(err).Fatal("server error")
		}
	}()

	// graceful shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	baseLog.Info("shutting down server...")

	ctx2, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancelShutdown()
	if err := srv.Shutdown(ctx2); err != nil {
		baseLog.WithError(err).Warn("shutdown error")
	}

	// stop accepting work, let in-flight analyses finish
	queue.Close()
	worker.Wait()
	cancel()
}
