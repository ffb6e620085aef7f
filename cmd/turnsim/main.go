// Command turnsim drives the turn-taking pipeline offline: it synthesizes
// tone-burst utterances, pushes them through capture and the orchestrator
// with mock speech and brain backends, and prints what each turn produced.
// Useful for eyeballing pause tuning without a microphone.
package main

import (
	"context"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/parlo-voice/parlo/internal/audio"
	"github.com/parlo-voice/parlo/internal/brain"
	"github.com/parlo-voice/parlo/internal/memory"
	"github.com/parlo-voice/parlo/internal/observability"
	"github.com/parlo-voice/parlo/internal/turn"
	"github.com/parlo-voice/parlo/internal/vad"
	"github.com/parlo-voice/parlo/internal/voice"
)

type options struct {
	turns    int
	rate     int
	channels int
	frameMS  int
	speechMS int
	pauseMS  int
	wavDir   string
	texts    []string
	verbose  bool
}

var defaultUtterances = []string{
	"what does a goroutine cost?",
	"and how do channels fit in?",
	"okay, show me a worker pool",
}

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "turnsim: %v\n", err)
		os.Exit(2)
	}
	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "turnsim: %v\n", err)
		os.Exit(1)
	}
}

func parseFlags() (options, error) {
	var cfg options
	var textsRaw string

	flag.IntVar(&cfg.turns, "turns", 3, "number of synthetic turns")
	flag.IntVar(&cfg.rate, "rate", 48000, "mic sample rate to simulate")
	flag.IntVar(&cfg.channels, "channels", 2, "mic channel count to simulate")
	flag.IntVar(&cfg.frameMS, "frame-ms", 30, "frame size in milliseconds")
	flag.IntVar(&cfg.speechMS, "speech-ms", 900, "speech burst length per turn in milliseconds")
	flag.IntVar(&cfg.pauseMS, "pause-ms", 2300, "trailing silence per turn in milliseconds")
	flag.StringVar(&cfg.wavDir, "wav-dir", "", "optional directory to dump captured turn audio as WAV")
	flag.StringVar(&textsRaw, "texts", "", "transcripts separated by '|' (optional)")
	flag.BoolVar(&cfg.verbose, "verbose", true, "print per-turn progress")
	flag.Parse()

	if cfg.turns <= 0 {
		return options{}, fmt.Errorf("turns must be > 0")
	}
	if cfg.rate < 8000 || cfg.rate > 192000 {
		return options{}, fmt.Errorf("rate must be in [8000,192000]")
	}
	if cfg.channels < 1 || cfg.channels > 8 {
		return options{}, fmt.Errorf("channels must be in [1,8]")
	}
	if cfg.frameMS < 5 || cfg.frameMS > 500 {
		return options{}, fmt.Errorf("frame-ms must be in [5,500]")
	}
	if cfg.speechMS < 100 {
		return options{}, fmt.Errorf("speech-ms must be >= 100")
	}
	if cfg.pauseMS < 100 {
		return options{}, fmt.Errorf("pause-ms must be >= 100")
	}

	cfg.texts = defaultUtterances
	if textsRaw = strings.TrimSpace(textsRaw); textsRaw != "" {
		cfg.texts = strings.Split(textsRaw, "|")
	}
	return cfg, nil
}

func run(cfg options) error {
	capture := turn.NewCapture(turn.CaptureConfig{
		SampleRate:   16000,
		ChunkSamples: 512,
		Classifier:   vad.NewClassifier(vad.NewEnergyModel(), 0.5),
		Detector: turn.DetectorConfig{
			MinSpeech:      300 * time.Millisecond,
			PauseThreshold: 2 * time.Second,
		},
	})

	stt := voice.NewMockTranscriber()
	for i := 0; i < cfg.turns; i++ {
		stt.Enqueue(cfg.texts[i%len(cfg.texts)])
	}

	stages := observability.NewStageWindow(64)
	orch := voice.NewOrchestrator(voice.OrchestratorDeps{
		Capture: capture,
		Store:   memory.NewInMemoryStore(),
		STT:     stt,
		TTS:     voice.NewMockSynthesizer(),
		Engine:  brain.NewMockEngine(),
		Stages:  stages,
	}, voice.OrchestratorConfig{
		SessionID: "turnsim",
		LearnerID: "turnsim",
	})

	if err := orch.StartListening(); err != nil {
		return err
	}

	ctx := context.Background()
	for i := 0; i < cfg.turns; i++ {
		feedUtterance(orch, cfg)

		result, err := awaitTurn(ctx, orch)
		if err != nil {
			return fmt.Errorf("turn %d: %w", i+1, err)
		}
		if cfg.verbose {
			fmt.Printf("turn %d\n", i+1)
			fmt.Printf("  heard:  %q (confidence %.2f)\n", result.UserText, result.Confidence)
			fmt.Printf("  reply:  %q\n", result.Response)
			fmt.Printf("  buffer: %s  audio: %d bytes\n", result.BufferAction, len(result.Audio.PCM))
		}
		if cfg.wavDir != "" {
			if err := dumpTurnWAV(cfg.wavDir, i+1, result); err != nil {
				return err
			}
		}
		if err := orch.FinishSpeaking(); err != nil {
			return err
		}
	}

	fmt.Println("stage latencies:")
	for _, st := range stages.Snapshot().Stages {
		fmt.Printf("  %-14s n=%-3d last=%.2fms p95=%.2fms\n", st.Stage, st.Samples, st.LastMS, st.P95MS)
	}
	return nil
}

// feedUtterance streams one tone burst plus trailing silence through the
// capture path in mic-shaped frames.
func feedUtterance(orch *voice.Orchestrator, cfg options) {
	frameSamples := cfg.rate * cfg.frameMS / 1000
	speechFrames := cfg.speechMS / cfg.frameMS
	pauseFrames := cfg.pauseMS / cfg.frameMS

	phase := 0.0
	step := 2 * math.Pi * 220 / float64(cfg.rate)

	for i := 0; i < speechFrames; i++ {
		frame := make([]int16, frameSamples*cfg.channels)
		for s := 0; s < frameSamples; s++ {
			v := int16(9000 * math.Sin(phase))
			phase += step
			for c := 0; c < cfg.channels; c++ {
				frame[s*cfg.channels+c] = v
			}
		}
		orch.IngestFrame(frame, cfg.rate, cfg.channels)
	}
	silence := make([]int16, frameSamples*cfg.channels)
	for i := 0; i < pauseFrames; i++ {
		orch.IngestFrame(silence, cfg.rate, cfg.channels)
	}
}

func awaitTurn(ctx context.Context, orch *voice.Orchestrator) (*voice.TurnResult, error) {
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		result, err := orch.ProcessTurn(ctx)
		if err != nil {
			return nil, err
		}
		if result != nil {
			return result, nil
		}
		time.Sleep(10 * time.Millisecond)
	}
	return nil, fmt.Errorf("no completed turn; try a longer speech burst or shorter pause threshold")
}

func dumpTurnWAV(dir string, n int, result *voice.TurnResult) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	path := filepath.Join(dir, fmt.Sprintf("reply_%02d.wav", n))
	return audio.WriteWAVPCM16LEFile(path, result.Audio.PCM, result.Audio.SampleRate)
}
