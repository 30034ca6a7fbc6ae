package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rgkrishnan/vaani/internal/brain"
	"github.com/rgkrishnan/vaani/internal/callflow"
	"github.com/rgkrishnan/vaani/internal/config"
	"github.com/rgkrishnan/vaani/internal/httpapi"
	"github.com/rgkrishnan/vaani/internal/observability"
	"github.com/rgkrishnan/vaani/internal/outcome"
	"github.com/rgkrishnan/vaani/internal/session"
	"github.com/rgkrishnan/vaani/internal/speech"
	"github.com/rgkrishnan/vaani/internal/telephony"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	var synthProvider speech.Synthesizer
	speechMode := strings.ToLower(strings.TrimSpace(cfg.SpeechProvider))
	if speechMode == "" {
		speechMode = "auto"
	}

	tryDeepgram := func(fatal bool) bool {
		if strings.TrimSpace(cfg.DeepgramAPIKey) == "" {
			if fatal {
				log.Fatalf("SPEECH_PROVIDER=deepgram but DEEPGRAM_API_KEY is not set")
			}
			return false
		}
		p, err := speech.NewDeepgramProvider(speech.DeepgramConfig{
			APIKey:   cfg.DeepgramAPIKey,
			BaseURL:  cfg.DeepgramAPIURL,
			AudioDir: cfg.AudioDir,
			Timeout:  cfg.SpeechTimeout,
		})
		if err != nil {
			if fatal {
				log.Fatalf("deepgram provider init failed: %v", err)
			}
			log.Printf("deepgram provider unavailable: %v", err)
			return false
		}
		synthProvider = p
		log.Printf("speech provider: deepgram")
		return true
	}

	switch speechMode {
	case "deepgram":
		_ = tryDeepgram(true)
	case "mock":
		synthProvider = speech.NewMockGateway()
		log.Printf("speech provider: mock")
	case "auto":
		if !tryDeepgram(false) {
			synthProvider = speech.NewMockGateway()
			log.Printf("speech provider: mock (no deepgram key)")
		}
	default:
		log.Fatalf("invalid SPEECH_PROVIDER: %q (expected auto|deepgram|mock)", cfg.SpeechProvider)
	}

	synthCache := speech.NewCache(synthProvider, cfg.AudioCacheMax)
	synthCache.SetLookupObserver(func(hit bool) {
		result := "miss"
		if hit {
			result = "hit"
		}
		metrics.AudioCacheHits.WithLabelValues(result).Inc()
	})

	bridge, err := brain.NewBridge(brain.Config{
		Mode:    cfg.BrainMode,
		HTTPURL: cfg.BrainHTTPURL,
	})
	if err != nil {
		log.Fatalf("conversation bridge init failed: %v", err)
	}

	var recorder outcome.Recorder
	if cfg.DatabaseURL != "" {
		pg, err := outcome.NewPostgresRecorder(context.Background(), cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("postgres recorder init failed: %v", err)
		}
		recorder = pg
		log.Printf("outcome store: postgres")
	} else {
		csvRec, err := outcome.NewCSVRecorder(cfg.OutcomeDir)
		if err != nil {
			log.Fatalf("csv recorder init failed: %v", err)
		}
		recorder = csvRec
		log.Printf("outcome store: csv (%s)", cfg.OutcomeDir)
	}
	defer recorder.Close()

	var dialer telephony.Dialer
	if cfg.TelephonyAuthID != "" && cfg.TelephonyAuthToken != "" {
		client, err := telephony.NewClient(cfg.TelephonyAPIURL, cfg.TelephonyAuthID, cfg.TelephonyAuthToken, cfg.TelephonyFromNumber)
		if err != nil {
			log.Fatalf("telephony client init failed: %v", err)
		}
		dialer = client
		log.Printf("telephony dialer: %s", cfg.TelephonyAPIURL)
	} else {
		dialer = telephony.NewMockDialer()
		log.Printf("telephony dialer: mock (no credentials)")
	}

	store := session.NewStore(cfg.SessionIdleTimeout)
	monitor := httpapi.NewMonitorHub()

	engine := callflow.NewEngine(store, bridge, synthCache, recorder, dialer, metrics, monitor, callflow.Config{
		PublicBaseURL:      cfg.PublicBaseURL,
		DefaultLocale:      cfg.DefaultLocale,
		DefaultVoice:       cfg.DefaultVoice,
		MaxTurns:           cfg.MaxTurns,
		NoInputRetries:     cfg.NoInputRetries,
		SensitiveInfoLimit: cfg.SensitiveInfoLimit,
		SpeechRetries:      cfg.SpeechRetries,
		BridgeRetries:      cfg.BrainRetries,
		SpeechTimeout:      cfg.SpeechTimeout,
		BridgeTimeout:      cfg.BrainTimeout,
		GatherTimeoutSec:   cfg.GatherTimeoutSec,
	})
	store.SetExpireHook(engine.ExpireIdle)

	api := httpapi.New(cfg, engine, store, recorder, monitor)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	store.StartJanitor(runCtx, 5*time.Second)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}
