package voice

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/parlo-voice/parlo/internal/dialog"
	"github.com/parlo-voice/parlo/internal/memory"
	"github.com/parlo-voice/parlo/internal/observability"
	"github.com/parlo-voice/parlo/internal/turn"
	"github.com/parlo-voice/parlo/internal/vad"
)

// scriptedModel feeds predetermined VAD scores to the classifier, one per
// chunk, then reports silence.
type scriptedModel struct {
	mu     sync.Mutex
	scores []float64
}

func (m *scriptedModel) push(score float64, times int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < times; i++ {
		m.scores = append(m.scores, score)
	}
}

func (m *scriptedModel) Score(_ []int16) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.scores) == 0 {
		return 0
	}
	s := m.scores[0]
	m.scores = m.scores[1:]
	return s
}

func (m *scriptedModel) Reset() {}

// stubEngine returns canned replies and relevance scores.
type stubEngine struct {
	reply       string
	merged      string
	relevance   float64
	relevanceOK bool
	generateErr error
}

func (e *stubEngine) Generate(_ context.Context, _ string, _ []memory.TurnRecord, _ string) (string, error) {
	if e.generateErr != nil {
		return "", e.generateErr
	}
	return e.reply, nil
}

func (e *stubEngine) ClassifyRelevance(_ context.Context, _, _ string) (float64, error) {
	if !e.relevanceOK {
		return 0, errors.New("relevance unavailable")
	}
	return e.relevance, nil
}

func (e *stubEngine) MergeResponses(_ context.Context, _, _ string) (string, error) {
	return e.merged, nil
}

type testPipeline struct {
	orch    *Orchestrator
	model   *scriptedModel
	stt     *MockTranscriber
	tts     *MockSynthesizer
	engine  *stubEngine
	buffer  *dialog.ResponseBuffer
	store   *memory.InMemoryStore
	capture *turn.Capture
}

func newTestPipeline(t *testing.T) *testPipeline {
	t.Helper()

	model := &scriptedModel{}
	capture := turn.NewCapture(turn.CaptureConfig{
		SampleRate:   16000,
		ChunkSamples: 512,
		Classifier:   vad.NewClassifier(model, 0.5),
		Detector: turn.DetectorConfig{
			MinSpeech:      300 * time.Millisecond,
			PauseThreshold: 2144 * time.Millisecond,
		},
	})

	stt := NewMockTranscriber()
	tts := NewMockSynthesizer()
	engine := &stubEngine{reply: "generated reply", merged: "merged reply", relevance: 0.9, relevanceOK: true}
	buffer := dialog.NewResponseBuffer(dialog.ResponseBufferConfig{
		MaxAge:             10 * time.Second,
		RelevanceThreshold: 0.6,
		MergeEnabled:       true,
	})
	store := memory.NewInMemoryStore()

	orch := NewOrchestrator(OrchestratorDeps{
		Capture: capture,
		Buffer:  buffer,
		Store:   store,
		STT:     stt,
		TTS:     tts,
		Engine:  engine,
		Stages:  observability.NewStageWindow(32),
	}, OrchestratorConfig{
		SessionID:        "sess-1",
		LearnerID:        "learner-1",
		ResponseDelay:    0,
		HistoryLimit:     10,
		TopicChangeBelow: 0.3,
	})

	return &testPipeline{
		orch:    orch,
		model:   model,
		stt:     stt,
		tts:     tts,
		engine:  engine,
		buffer:  buffer,
		store:   store,
		capture: capture,
	}
}

// speakTurn scripts a complete utterance: confirmed speech followed by a
// pause long enough to close the turn.
func (p *testPipeline) speakTurn(t *testing.T) {
	t.Helper()
	p.model.push(0.9, 10)
	p.model.push(0.1, 70)
	frame := make([]int16, 512)
	for i := range frame {
		frame[i] = 1000
	}
	for i := 0; i < 80; i++ {
		p.orch.IngestFrame(frame, 16000, 1)
	}
	if !p.capture.HasCompletedTurn() {
		t.Fatal("scripted utterance did not produce a completed turn")
	}
}

func TestProcessTurnNothingPending(t *testing.T) {
	p := newTestPipeline(t)
	if err := p.orch.StartListening(); err != nil {
		t.Fatal(err)
	}
	result, err := p.orch.ProcessTurn(context.Background())
	if err != nil || result != nil {
		t.Fatalf("ProcessTurn with no audio = (%v, %v), want (nil, nil)", result, err)
	}
	if got := p.orch.State(); got != dialog.StateListening {
		t.Fatalf("state = %v, want %v", got, dialog.StateListening)
	}
}

func TestProcessTurnEndToEnd(t *testing.T) {
	p := newTestPipeline(t)
	if err := p.orch.StartListening(); err != nil {
		t.Fatal(err)
	}
	p.stt.Enqueue("what is recursion?")
	p.speakTurn(t)

	result, err := p.orch.ProcessTurn(context.Background())
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if result == nil {
		t.Fatal("ProcessTurn returned no result for a completed turn")
	}
	if result.UserText != "what is recursion?" {
		t.Fatalf("UserText = %q", result.UserText)
	}
	if result.Response != "generated reply" {
		t.Fatalf("Response = %q", result.Response)
	}
	if len(result.Audio.PCM) == 0 {
		t.Fatal("no audio synthesized")
	}
	if result.BufferAction != dialog.ActionNone {
		t.Fatalf("BufferAction = %v, want %v", result.BufferAction, dialog.ActionNone)
	}
	if got := p.orch.State(); got != dialog.StateSpeaking {
		t.Fatalf("state after turn = %v, want %v", got, dialog.StateSpeaking)
	}

	history, err := p.store.RecentContext(context.Background(), "sess-1", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("persisted turns = %d, want 2", len(history))
	}
	if history[0].Role != "user" || history[1].Role != "assistant" {
		t.Fatalf("persisted roles = %q, %q", history[0].Role, history[1].Role)
	}

	if err := p.orch.FinishSpeaking(); err != nil {
		t.Fatalf("FinishSpeaking: %v", err)
	}
	if got := p.orch.State(); got != dialog.StateListening {
		t.Fatalf("state after FinishSpeaking = %v, want %v", got, dialog.StateListening)
	}
}

func TestProcessTurnSkipsWhileSpeaking(t *testing.T) {
	p := newTestPipeline(t)
	if err := p.orch.StartListening(); err != nil {
		t.Fatal(err)
	}
	p.speakTurn(t)
	if _, err := p.orch.ProcessTurn(context.Background()); err != nil {
		t.Fatal(err)
	}
	// Now speaking; a second completed turn must stay queued.
	p.speakTurn(t)
	result, err := p.orch.ProcessTurn(context.Background())
	if err != nil || result != nil {
		t.Fatalf("ProcessTurn while speaking = (%v, %v), want (nil, nil)", result, err)
	}
	if !p.capture.HasCompletedTurn() {
		t.Fatal("queued turn was consumed while busy")
	}
}

func TestProcessTurnEmptyTranscriptIsNoOp(t *testing.T) {
	p := newTestPipeline(t)
	if err := p.orch.StartListening(); err != nil {
		t.Fatal(err)
	}
	p.stt.Enqueue("")
	p.speakTurn(t)

	result, err := p.orch.ProcessTurn(context.Background())
	if err != nil || result != nil {
		t.Fatalf("ProcessTurn with empty transcript = (%v, %v), want (nil, nil)", result, err)
	}
	if got := p.orch.State(); got != dialog.StateListening {
		t.Fatalf("state = %v, want %v", got, dialog.StateListening)
	}
	if p.tts.Calls() != 0 {
		t.Fatal("synthesizer called for empty transcript")
	}
}

func TestProcessTurnTranscribeFailureReverts(t *testing.T) {
	p := newTestPipeline(t)
	if err := p.orch.StartListening(); err != nil {
		t.Fatal(err)
	}
	p.stt.FailWith(errors.New("stt down"))
	p.speakTurn(t)

	if _, err := p.orch.ProcessTurn(context.Background()); err == nil {
		t.Fatal("ProcessTurn succeeded with failing transcriber")
	}
	if got := p.orch.State(); got != dialog.StateListening {
		t.Fatalf("state after failure = %v, want %v", got, dialog.StateListening)
	}
}

func TestProcessTurnMergesRelevantBufferedReply(t *testing.T) {
	p := newTestPipeline(t)
	if err := p.orch.StartListening(); err != nil {
		t.Fatal(err)
	}
	p.buffer.Store("buffered reply", "earlier context")
	p.engine.relevance = 0.8
	p.speakTurn(t)

	result, err := p.orch.ProcessTurn(context.Background())
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if result.BufferAction != dialog.ActionMerge {
		t.Fatalf("BufferAction = %v, want %v", result.BufferAction, dialog.ActionMerge)
	}
	if result.Response != "merged reply" {
		t.Fatalf("Response = %q, want merged reply", result.Response)
	}
	if p.buffer.Has() {
		t.Fatal("buffer not consumed")
	}
}

func TestProcessTurnDropsIrrelevantBufferedReply(t *testing.T) {
	p := newTestPipeline(t)
	if err := p.orch.StartListening(); err != nil {
		t.Fatal(err)
	}
	p.buffer.Store("buffered reply", "earlier context")
	p.engine.relevance = 0.1
	p.speakTurn(t)

	result, err := p.orch.ProcessTurn(context.Background())
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if result.BufferAction != dialog.ActionDrop {
		t.Fatalf("BufferAction = %v, want %v", result.BufferAction, dialog.ActionDrop)
	}
	if result.Response != "generated reply" {
		t.Fatalf("Response = %q, want fresh reply", result.Response)
	}
}

func TestProcessTurnDropsBufferWhenRelevanceUnavailable(t *testing.T) {
	p := newTestPipeline(t)
	if err := p.orch.StartListening(); err != nil {
		t.Fatal(err)
	}
	p.buffer.Store("buffered reply", "earlier context")
	p.engine.relevanceOK = false
	p.speakTurn(t)

	result, err := p.orch.ProcessTurn(context.Background())
	if err != nil {
		t.Fatalf("ProcessTurn: %v", err)
	}
	if result.BufferAction != dialog.ActionDrop {
		t.Fatalf("BufferAction = %v, want %v", result.BufferAction, dialog.ActionDrop)
	}
}

func TestNoticeInterruptionBuffersReply(t *testing.T) {
	p := newTestPipeline(t)
	if err := p.orch.StartListening(); err != nil {
		t.Fatal(err)
	}
	p.speakTurn(t)
	if _, err := p.orch.ProcessTurn(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := p.orch.State(); got != dialog.StateSpeaking {
		t.Fatalf("state = %v, want %v", got, dialog.StateSpeaking)
	}

	// Learner starts talking over the tutor.
	p.model.push(0.9, 12)
	frame := make([]int16, 512)
	for i := 0; i < 12; i++ {
		p.orch.IngestFrame(frame, 16000, 1)
	}
	if !p.orch.NoticeInterruption() {
		t.Fatal("interruption not detected")
	}
	if got := p.orch.State(); got != dialog.StateBuffering {
		t.Fatalf("state = %v, want %v", got, dialog.StateBuffering)
	}
	if !p.buffer.Has() {
		t.Fatal("in-flight reply was not buffered")
	}
	if p.orch.Interruptions() != 1 {
		t.Fatalf("Interruptions = %d, want 1", p.orch.Interruptions())
	}

	// The interrupting utterance completes and is processed from Buffering.
	p.model.push(0.1, 70)
	for i := 0; i < 70; i++ {
		p.orch.IngestFrame(frame, 16000, 1)
	}
	p.stt.Enqueue("wait, one more question")
	result, err := p.orch.ProcessTurn(context.Background())
	if err != nil {
		t.Fatalf("ProcessTurn from buffering: %v", err)
	}
	if result == nil {
		t.Fatal("interrupting turn produced no result")
	}
	if result.BufferAction == dialog.ActionNone {
		t.Fatal("buffered reply was not arbitrated")
	}
}

func TestNoticeInterruptionIgnoredWhenSilent(t *testing.T) {
	p := newTestPipeline(t)
	if err := p.orch.StartListening(); err != nil {
		t.Fatal(err)
	}
	p.speakTurn(t)
	if _, err := p.orch.ProcessTurn(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.orch.NoticeInterruption() {
		t.Fatal("interruption reported without confirmed speech")
	}
	if got := p.orch.State(); got != dialog.StateSpeaking {
		t.Fatalf("state = %v, want %v", got, dialog.StateSpeaking)
	}
}

func TestForceResetClearsEverything(t *testing.T) {
	p := newTestPipeline(t)
	if err := p.orch.StartListening(); err != nil {
		t.Fatal(err)
	}
	p.buffer.Store("held", "ctx")
	p.speakTurn(t)
	p.orch.ForceReset()

	if got := p.orch.State(); got != dialog.StateIdle {
		t.Fatalf("state after reset = %v, want %v", got, dialog.StateIdle)
	}
	if p.buffer.Has() {
		t.Fatal("buffer survived reset")
	}
	if p.capture.HasCompletedTurn() {
		t.Fatal("queued turn survived reset")
	}
}
