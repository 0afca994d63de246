package main

import (
	"context"
	"database/sql"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"energy-history/internal/auth"
	"energy-history/internal/config"
	"energy-history/internal/history/application"
	"energy-history/internal/history/application/eventbus"
	"energy-history/internal/history/domain/delta"
	"energy-history/internal/history/domain/period"
	"energy-history/internal/history/infrastructure/influx"
	"energy-history/internal/history/infrastructure/memory"
	historyrepo "energy-history/internal/history/infrastructure/postgres"
	"energy-history/internal/history/interfaces/eventlog"
	historyhttp "energy-history/internal/history/interfaces/http"
	historykafka "energy-history/internal/history/interfaces/kafka"
	historymqtt "energy-history/internal/history/interfaces/mqtt"
	"energy-history/internal/logger"
	"energy-history/internal/observability/metrics"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type directory interface {
	application.ProfileDirectory
	application.OwnershipDirectory
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Get(logger.ErrorLevel).Fatalw("config error", "err", err)
	}
	log := logger.Get(cfg.LogLevel)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var (
		db    *sql.DB
		store delta.Store
		dir   directory
		users = cfg.Backfill.Users
	)
	switch cfg.StoreDriver {
	case config.StorePostgres:
		db, err = sql.Open("pgx", cfg.DatabaseURL)
		if err != nil {
			log.Fatalw("db open error", "err", err)
		}
		defer db.Close()
		if err := db.PingContext(ctx); err != nil {
			log.Fatalw("db ping error", "err", err)
		}
		pgDir := historyrepo.NewDirectory(db)
		store = historyrepo.NewRepository(db)
		dir = pgDir
		if len(users) == 0 {
			if users, err = pgDir.UserIDs(ctx); err != nil {
				log.Warnw("list users for scheduled backfill failed", "err", err)
			}
		}
	default:
		store = memory.NewStore()
		dir = memory.NewDirectory()
		log.Warnw("using in-memory store; history is lost on restart")
	}

	metrics.Init(db, log)

	bus := eventbus.NewInMemoryBus()
	eventlog.Register(bus, log)
	clock := period.SystemClock{}

	persist, err := application.NewPersistService(store, bus, clock,
		application.WithBaselineBounds(application.BaselineBounds{
			MaxDays:   cfg.Baseline.MaxDays,
			MaxWeeks:  cfg.Baseline.MaxWeeks,
			MaxMonths: cfg.Baseline.MaxMonths,
		}),
		application.WithPersistLogger(log),
	)
	if err != nil {
		log.Fatalw("persist service error", "err", err)
	}
	capture, err := application.NewCaptureService(persist, log)
	if err != nil {
		log.Fatalw("capture service error", "err", err)
	}
	backfill, err := application.NewBackfillEngine(store, persist, clock, cfg.Backfill.LookbackDays, log)
	if err != nil {
		log.Fatalw("backfill engine error", "err", err)
	}

	var sink application.SampleSink
	if cfg.Influx.URL != "" {
		influxSink, err := influx.NewSink(ctx, influx.Config{
			URL:    cfg.Influx.URL,
			Token:  cfg.Influx.Token,
			Org:    cfg.Influx.Org,
			Bucket: cfg.Influx.Bucket,
		})
		if err != nil {
			log.Warnw("influx sink disabled", "err", err)
		} else {
			defer influxSink.Close()
			sink = influxSink
		}
	}

	pipeline, err := application.NewPipeline(application.PipelineDeps{
		Profiles: dir,
		Owners:   dir,
		Peaks:    store,
		Capture:  capture,
		Backfill: backfill,
		Sink:     sink,
		Bus:      bus,
		Clock:    clock,
		Log:      log,
	}, application.PipelineConfig{
		PeakEpsilonKWh:  cfg.PeakEpsilonKWh,
		ProfileCacheTTL: cfg.ProfileCacheTTL,
	})
	if err != nil {
		log.Fatalw("pipeline error", "err", err)
	}
	summary, err := application.NewSummaryService(store, pipeline, clock, log)
	if err != nil {
		log.Fatalw("summary service error", "err", err)
	}

	scheduler, err := application.NewScheduler(backfill, pipeline, users, cfg.Backfill.DailyAt, log)
	if err != nil {
		log.Fatalw("scheduler error", "err", err)
	}
	go scheduler.Start(ctx)

	if len(cfg.Kafka.Brokers) > 0 {
		consumer, err := historykafka.NewConsumer(historykafka.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, pipeline, log)
		if err != nil {
			log.Fatalw("kafka consumer error", "err", err)
		}
		defer consumer.Close()
		go func() {
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("kafka consumer stopped", "err", err)
			}
		}()
	}
	if cfg.MQTT.Broker != "" {
		subscriber, err := historymqtt.NewSubscriber(historymqtt.Config{
			Broker:   cfg.MQTT.Broker,
			Topic:    cfg.MQTT.Topic,
			ClientID: cfg.MQTT.ClientID,
			QoS:      1,
		}, pipeline, log)
		if err != nil {
			log.Fatalw("mqtt subscriber error", "err", err)
		}
		go func() {
			if err := subscriber.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.Errorw("mqtt subscriber stopped", "err", err)
			}
		}()
	}

	summaryHandler, err := historyhttp.NewSummaryHandler(summary, pipeline, log)
	if err != nil {
		log.Fatalw("summary handler error", "err", err)
	}
	chartHandler, err := historyhttp.NewChartHandler(summary, pipeline, log)
	if err != nil {
		log.Fatalw("chart handler error", "err", err)
	}
	xlsxHandler, err := historyhttp.NewExportHandler(summary, pipeline, historyhttp.FormatXLSX, clock, log)
	if err != nil {
		log.Fatalw("export handler error", "err", err)
	}
	pdfHandler, err := historyhttp.NewExportHandler(summary, pipeline, historyhttp.FormatPDF, clock, log)
	if err != nil {
		log.Fatalw("export handler error", "err", err)
	}
	backfillHandler, err := historyhttp.NewBackfillHandler(backfill, pipeline, pipeline, log)
	if err != nil {
		log.Fatalw("backfill handler error", "err", err)
	}
	ingestHandler, err := historyhttp.NewIngestHandler(pipeline, log)
	if err != nil {
		log.Fatalw("ingest handler error", "err", err)
	}

	policy := auth.NewDefaultPolicy([]string{"/healthz", "/metrics"}, []string{"/ingest/"})
	authMiddleware := auth.NewMiddleware([]byte(cfg.JWTSecret), policy, log)

	mux := http.NewServeMux()
	mux.Handle("/ingest/readings", ingestHandler)
	mux.Handle("/api/v1/history/summary", summaryHandler)
	mux.Handle("/api/v1/history/chart", chartHandler)
	mux.Handle("/api/v1/history/export.xlsx", xlsxHandler)
	mux.Handle("/api/v1/history/export.pdf", pdfHandler)
	mux.Handle("/api/v1/history/backfill", backfillHandler)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           loggingMiddleware(authMiddleware.Wrap(mux), log),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = server.Shutdown(shutdownCtx)
	}()

	log.Infow("http listening", "addr", cfg.HTTPAddr, "store", cfg.StoreDriver)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatalw("http server error", "err", err)
	}
}

func loggingMiddleware(next http.Handler, log *logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		resp := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(resp, r)
		log.Infow("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", resp.status,
			"duration", time.Since(start),
		)
	})
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}
