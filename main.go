package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"eldervoice/internal/config"
	"eldervoice/internal/database"
	"eldervoice/internal/email"
	"eldervoice/internal/logger"
	"eldervoice/internal/metrics"
	"eldervoice/internal/middleware"
	"eldervoice/internal/orchestrator"
	"eldervoice/internal/push"
	"eldervoice/internal/scheduler"
	"eldervoice/internal/signaling"
	"eldervoice/internal/voice"
	"eldervoice/internal/workers"

	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

func main() {
	startTime := time.Now()

	cfg, err := config.Load()
	if err != nil {
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.LogLevel, cfg.Environment == "production")
	log.Info("Starting ElderVoice server", logrus.Fields{"environment": cfg.Environment})

	if err := cfg.Validate(); err != nil {
		log.Fatal("Invalid configuration", logrus.Fields{"error": err.Error()})
	}

	db, err := database.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatal("Database connection failed", logrus.Fields{"error": err.Error()})
	}
	defer db.Close()

	var pushService *push.FirebaseService
	if cfg.FirebaseCredentialsPath != "" {
		pushService, err = push.NewFirebaseService(cfg.FirebaseCredentialsPath)
		if err != nil {
			log.Warn("Firebase unavailable, push notifications disabled", logrus.Fields{"error": err.Error()})
			pushService = nil
		} else {
			log.Info("Firebase initialized")
		}
	}

	var emailService *email.EmailService
	if cfg.EnableEmailFallback {
		emailService, err = email.NewEmailService(cfg)
		if err != nil {
			log.Warn("Email fallback disabled", logrus.Fields{"error": err.Error()})
			emailService = nil
		}
	}

	voiceClient := voice.NewClient(cfg, log)
	maxDuration := time.Duration(cfg.MaxCallDurationSeconds) * time.Second
	orch := orchestrator.New(voiceClient, maxDuration, log)

	signalingServer := signaling.NewServer(db, orch, voiceClient, log)

	rootCtx, rootCancel := context.WithCancel(context.Background())
	defer rootCancel()

	sched := scheduler.NewScheduler(cfg, db, orch, pushService, emailService, log)
	go sched.Start(rootCtx)

	workerManager := workers.NewWorkerManager(log)
	workerManager.RegisterWorker(workers.NewRetentionWorker(db, cfg.HistoryRetentionDays, log))
	workerManager.Start()

	h := &apiHandlers{
		cfg:         cfg,
		db:          db,
		orch:        orch,
		voiceClient: voiceClient,
		signaling:   signalingServer,
		log:         log,
		startTime:   startTime,
	}

	router := mux.NewRouter()
	router.HandleFunc("/ws", signalingServer.HandleWebSocket)

	api := router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/health", h.health).Methods("GET")
	api.HandleFunc("/stats", h.stats).Methods("GET")
	api.HandleFunc("/logs", h.logs).Methods("GET")
	api.HandleFunc("/provider/health", h.providerHealth).Methods("GET")
	api.HandleFunc("/schedules", h.upsertSchedule).Methods("POST")
	api.HandleFunc("/schedules/{recipientID}", h.getSchedule).Methods("GET")
	api.HandleFunc("/calls/now", h.callNow).Methods("POST")

	go serveMetrics(cfg.MetricsPort, log)

	server := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: middleware.CORS(middleware.Logging(log)(router)),
	}

	go func() {
		log.Info("Server listening", logrus.Fields{"port": cfg.Port})
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Server failed", logrus.Fields{"error": err.Error()})
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down")
	sched.Stop()
	workerManager.Stop()
	rootCancel()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Forced shutdown", logrus.Fields{"error": err.Error()})
	}
}

func serveMetrics(port string, log *logger.Logger) {
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	log.Info("Metrics listening", logrus.Fields{"port": port})
	if err := http.ListenAndServe(":"+port, metricsMux); err != nil {
		log.Error("Metrics server failed", logrus.Fields{"error": err.Error()})
	}
}
