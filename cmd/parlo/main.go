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

	"github.com/joho/godotenv"

	"github.com/parlo-voice/parlo/internal/brain"
	"github.com/parlo-voice/parlo/internal/config"
	"github.com/parlo-voice/parlo/internal/dialog"
	"github.com/parlo-voice/parlo/internal/httpapi"
	"github.com/parlo-voice/parlo/internal/memory"
	"github.com/parlo-voice/parlo/internal/observability"
	"github.com/parlo-voice/parlo/internal/session"
	"github.com/parlo-voice/parlo/internal/turn"
	"github.com/parlo-voice/parlo/internal/vad"
	"github.com/parlo-voice/parlo/internal/voice"
)

const tutorSystemPrompt = "You are a patient, encouraging voice tutor. " +
	"Keep answers short and spoken in register, check understanding often, " +
	"and build on what the learner already covered."

// Interview mode gives learners room to think before answering.
const interviewPauseHold = 10 * time.Second

func main() {
	// Best effort; real deployments set env vars directly.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	metrics := observability.NewMetrics(cfg.MetricsNamespace)
	stages := observability.NewStageWindow(256)

	ctx := context.Background()
	memoryStore, err := memory.NewStore(ctx, cfg.DatabaseURL, cfg.RedisURL)
	if err != nil {
		log.Fatalf("memory store init failed: %v", err)
	}
	defer memoryStore.Close()

	engine, err := brain.NewEngine(brain.Config{
		Mode:    cfg.BrainMode,
		HTTPURL: cfg.BrainHTTPURL,
		APIKey:  cfg.BrainAPIKey,
		Model:   cfg.BrainModel,
	})
	if err != nil {
		log.Fatalf("brain engine init failed: %v", err)
	}

	var (
		stt voice.Transcriber
		tts voice.Synthesizer
	)
	voiceMode := strings.ToLower(strings.TrimSpace(cfg.VoiceProvider))
	switch voiceMode {
	case "", "auto", "mock":
		stt = voice.NewMockTranscriber()
		tts = voice.NewMockSynthesizer()
		log.Printf("voice provider: mock")
	default:
		log.Fatalf("invalid VOICE_PROVIDER: %q (expected auto|mock)", cfg.VoiceProvider)
	}

	sessions := session.NewManager(cfg.SessionInactivityTimeout)
	sessions.SetExpireHook(func(_ *session.Session) {
		metrics.SessionEvents.WithLabelValues("expired").Inc()
		metrics.ActiveSessions.Set(float64(sessions.ActiveCount()))
	})

	factory := func(sess *session.Session) *voice.Orchestrator {
		pauseHold := cfg.PauseHold
		if sess.Mode == session.ModeInterview {
			pauseHold = interviewPauseHold
		}

		capture := turn.NewCapture(turn.CaptureConfig{
			SampleRate:   cfg.SampleRate,
			ChunkSamples: cfg.ChunkSamples,
			Classifier:   vad.NewClassifier(vad.NewEnergyModel(), cfg.VADThreshold),
			Detector: turn.DetectorConfig{
				ChunkPeriod:    cfg.ChunkPeriod,
				MinSpeech:      cfg.MinSpeech,
				PauseThreshold: pauseHold,
			},
		})
		buffer := dialog.NewResponseBuffer(dialog.ResponseBufferConfig{
			MaxAge:             cfg.BufferMaxAge,
			RelevanceThreshold: cfg.RelevanceThreshold,
			MergeEnabled:       cfg.MergeEnabled,
		})

		return voice.NewOrchestrator(voice.OrchestratorDeps{
			Capture: capture,
			Buffer:  buffer,
			Store:   memoryStore,
			STT:     stt,
			TTS:     tts,
			Engine:  engine,
			Metrics: metrics,
			Stages:  stages,
		}, voice.OrchestratorConfig{
			SessionID:     sess.ID,
			LearnerID:     sess.LearnerID,
			SystemPrompt:  tutorSystemPrompt,
			ResponseDelay: cfg.ResponseDelay,
			HistoryLimit:  cfg.HistoryMaxTurns,
		})
	}

	api := httpapi.New(cfg, sessions, factory, metrics, stages)
	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: api.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	sessions.StartJanitor(runCtx, 5*time.Second)

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
