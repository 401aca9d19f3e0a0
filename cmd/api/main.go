package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/generative-ai-go/genai"
	"github.com/joho/godotenv"
	"google.golang.org/api/option"

	"github.com/ristrutturiamolo/callpilot/internal/api/router"
	"github.com/ristrutturiamolo/callpilot/internal/booking"
	"github.com/ristrutturiamolo/callpilot/internal/bridge"
	"github.com/ristrutturiamolo/callpilot/internal/callqueue"
	appconfig "github.com/ristrutturiamolo/callpilot/internal/config"
	"github.com/ristrutturiamolo/callpilot/internal/database"
	"github.com/ristrutturiamolo/callpilot/internal/elevenlabs"
	"github.com/ristrutturiamolo/callpilot/internal/followup"
	"github.com/ristrutturiamolo/callpilot/internal/ghl"
	"github.com/ristrutturiamolo/callpilot/internal/http/handlers"
	"github.com/ristrutturiamolo/callpilot/internal/notify"
	"github.com/ristrutturiamolo/callpilot/internal/observability/metrics"
	"github.com/ristrutturiamolo/callpilot/internal/postcall"
	"github.com/ristrutturiamolo/callpilot/internal/provinces"
	"github.com/ristrutturiamolo/callpilot/internal/reps"
	"github.com/ristrutturiamolo/callpilot/internal/retry"
	"github.com/ristrutturiamolo/callpilot/internal/slots"
	"github.com/ristrutturiamolo/callpilot/internal/twilio"
	"github.com/ristrutturiamolo/callpilot/internal/worker"
	"github.com/ristrutturiamolo/callpilot/pkg/logging"
)

func main() {
	// A missing .env is fine in production; the environment is already set.
	_ = godotenv.Load()

	cfg := appconfig.Load()
	logger := logging.New(cfg.LogLevel)
	logger.Info("starting callpilot API server", "env", cfg.Env, "port", cfg.Port)

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	db, err := database.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("failed to open database", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	notifier := notify.New(cfg.NotifierWebhookURL, logger)
	callMetrics := metrics.NewCallMetrics(nil)

	// CRM.
	tokenStore := ghl.NewTokenStore(db.DB)
	crm, err := ghl.New(ghl.Config{
		BaseURL:      cfg.GHLBaseURL,
		ClientID:     cfg.GHLClientID,
		ClientSecret: cfg.GHLClientSecret,
		RedirectURI:  cfg.GHLRedirectURI,
		LocationID:   cfg.GHLLocationID,
		CalendarID:   cfg.GHLCalendarID,
		Logger:       logger,
	}, tokenStore)
	if err != nil {
		logger.Error("failed to build CRM client", "error", err)
		os.Exit(1)
	}

	// Telephony.
	telephony, err := twilio.New(twilio.Config{
		AccountSID: cfg.TwilioAccountSID,
		AuthToken:  cfg.TwilioAuthToken,
		Logger:     logger,
	})
	if err != nil {
		logger.Error("failed to build telephony client", "error", err)
		os.Exit(1)
	}

	voiceAI := elevenlabs.NewClient("", cfg.ElevenLabsAPIKey)

	// LLM. One client is shared by province guessing and post-call
	// analysis; both degrade gracefully without it.
	var genaiClient *genai.Client
	if cfg.GeminiAPIKey != "" {
		genaiClient, err = genai.NewClient(context.Background(), option.WithAPIKey(cfg.GeminiAPIKey))
		if err != nil {
			logger.Error("failed to build LLM client", "error", err)
			os.Exit(1)
		}
		defer genaiClient.Close()
	}

	// Province extraction chain.
	var zipCache *provinces.ZipCache
	if cfg.SheetsAPIKey != "" && cfg.ZipSheetID != "" {
		zipCache = provinces.NewZipCache(
			provinces.NewSheetFetcher(cfg.SheetsAPIKey, cfg.ZipSheetID, cfg.ZipSheetRange))
	}
	var guesser provinces.Guesser
	if genaiClient != nil {
		guesser = provinces.NewGeminiGuesser(genaiClient, "")
	}
	extractor := provinces.NewExtractor(zipCache, guesser, logger)

	// Stores and domain services.
	queueStore := callqueue.NewStore(db.DB)
	callStore := callqueue.NewCallStore(db.DB)
	incomingStore := callqueue.NewIncomingStore(db.DB)
	followStore := followup.NewStore(db.DB)
	repStore := reps.NewStore(db.DB)
	if err := repStore.SeedFromJSON(context.Background(), cfg.SalesRepsJSON); err != nil {
		logger.Error("failed to seed sales reps", "error", err)
		os.Exit(1)
	}

	slotSvc := slots.NewService(crm, logger)
	bookingSvc := booking.NewCoordinator(crm, slotSvc, cfg.DefaultAppointmentAddress, logger)

	paramsFactory := &twilio.ParamsFactory{
		PublicBaseURL:  cfg.PublicBaseURL,
		OutgoingPrefix: cfg.OutgoingPrefix,
		NumberFor:      cfg.OutboundNumberFor,
	}

	retrySched := retry.NewScheduler(callStore, queueStore, telephony, paramsFactory,
		notifier, callMetrics, logger)

	var analyzer postcall.Analyzer
	switch {
	case cfg.EnableMockAnalysis:
		analyzer = postcall.MockAnalyzer{}
	case genaiClient != nil:
		analyzer = postcall.NewGeminiAnalyzer(genaiClient, "")
	}
	pipeline := postcall.NewPipeline(callStore, followStore, repStore, slotSvc,
		bookingSvc, crm, analyzer, notifier, logger, cfg.EnablePostCallAnalysis)

	intakeURL := "http://127.0.0.1:" + cfg.Port + cfg.OutgoingPrefix + "/outbound-call"
	sweeper := followup.NewSweeper(followStore, crm, callStore, extractor,
		notifier, logger, intakeURL, cfg.FollowUpSweepInterval)

	queueWorker := worker.New(queueStore, callStore, telephony, crm, paramsFactory,
		notifier, callMetrics, logger, cfg.MaxActiveCalls, cfg.QueueTickInterval)

	bridgeHandler := bridge.NewHandler(callStore, incomingStore, voiceAI, bookingSvc,
		notifier, callMetrics, logger,
		cfg.ElevenLabsOutboundAgentID, cfg.ElevenLabsInboundAgentID)

	h := handlers.New(handlers.Deps{
		Config:    cfg,
		Logger:    logger,
		Notifier:  notifier,
		Metrics:   callMetrics,
		DB:        db.DB,
		Queue:     queueStore,
		Calls:     callStore,
		Incoming:  incomingStore,
		FollowUps: followStore,
		Sweeper:   sweeper,
		CRM:       crm,
		Slots:     slotSvc,
		Reps:      repStore,
		VoiceAI:   voiceAI,
		Provinces: extractor,
		Booking:   bookingSvc,
		Retry:     retrySched,
		Pipeline:  pipeline,
		Params:    paramsFactory,
	})

	r := router.New(cfg, h, bridgeHandler, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Background loops stop with this context.
	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()
	go queueWorker.Run(bgCtx)
	go sweeper.Run(bgCtx)

	go func() {
		logger.Info("server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("shutting down server...")
	bgCancel()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped")
}
