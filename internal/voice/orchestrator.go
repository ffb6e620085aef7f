package voice

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/parlo-voice/parlo/internal/brain"
	"github.com/parlo-voice/parlo/internal/dialog"
	"github.com/parlo-voice/parlo/internal/memory"
	"github.com/parlo-voice/parlo/internal/observability"
	"github.com/parlo-voice/parlo/internal/turn"
)

// OrchestratorConfig tunes one session's turn pipeline.
type OrchestratorConfig struct {
	SessionID        string
	LearnerID        string
	SystemPrompt     string
	ResponseDelay    time.Duration
	HistoryLimit     int
	TopicChangeBelow float64
}

// TurnResult is what one processed user turn produced.
type TurnResult struct {
	UserText     string
	Response     string
	Audio        Synthesis
	BufferAction dialog.Action
	Confidence   float64
	// Held means the learner resumed speaking during the pre-speech
	// delay, so the reply was buffered instead of spoken.
	Held bool
}

// Orchestrator drives one session's conversation loop: it pulls completed
// turns from capture, transcribes them, arbitrates any buffered reply,
// generates and speaks the response, and keeps conversation state honest
// throughout.
type Orchestrator struct {
	capture *turn.Capture
	states  *dialog.StateMachine
	buffer  *dialog.ResponseBuffer
	store   memory.Store
	stt     Transcriber
	tts     Synthesizer
	engine  brain.Engine
	metrics *observability.Metrics
	stages  *observability.StageWindow
	cfg     OrchestratorConfig

	mu            sync.Mutex
	lastUserText  string
	lastResponse  string
	interruptions int
}

// OrchestratorDeps carries the collaborators an Orchestrator needs.
type OrchestratorDeps struct {
	Capture *turn.Capture
	States  *dialog.StateMachine
	Buffer  *dialog.ResponseBuffer
	Store   memory.Store
	STT     Transcriber
	TTS     Synthesizer
	Engine  brain.Engine
	Metrics *observability.Metrics
	Stages  *observability.StageWindow
}

func NewOrchestrator(deps OrchestratorDeps, cfg OrchestratorConfig) *Orchestrator {
	if cfg.ResponseDelay < 0 {
		cfg.ResponseDelay = 0
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.TopicChangeBelow <= 0 {
		cfg.TopicChangeBelow = 0.3
	}
	states := deps.States
	if states == nil {
		states = dialog.NewStateMachine()
	}
	buffer := deps.Buffer
	if buffer == nil {
		buffer = dialog.NewResponseBuffer(dialog.ResponseBufferConfig{})
	}
	return &Orchestrator{
		capture: deps.Capture,
		states:  states,
		buffer:  buffer,
		store:   deps.Store,
		stt:     deps.STT,
		tts:     deps.TTS,
		engine:  deps.Engine,
		metrics: deps.Metrics,
		stages:  deps.Stages,
		cfg:     cfg,
	}
}

// IngestFrame feeds raw client audio into turn capture.
func (o *Orchestrator) IngestFrame(samples []int16, sampleRate, channels int) {
	o.capture.ProcessFrame(samples, sampleRate, channels)
}

// StartListening moves an idle session into listening.
func (o *Orchestrator) StartListening() error {
	return o.transition(dialog.StateListening)
}

// FinishSpeaking marks playback of the tutor reply as done.
func (o *Orchestrator) FinishSpeaking() error {
	if o.states.State() != dialog.StateSpeaking {
		return nil
	}
	return o.transition(dialog.StateListening)
}

// NoticeInterruption checks whether the learner started talking over the
// tutor, and if so parks the in-flight reply in the buffer. Reports whether
// an interruption was handled.
func (o *Orchestrator) NoticeInterruption() bool {
	if o.states.State() != dialog.StateSpeaking || !o.capture.SpeechConfirmed() {
		return false
	}
	if err := o.transition(dialog.StateBuffering); err != nil {
		return false
	}

	o.mu.Lock()
	response, context := o.lastResponse, o.lastUserText
	o.interruptions++
	o.mu.Unlock()

	if response != "" {
		o.buffer.Store(response, context)
	}
	if o.metrics != nil {
		o.metrics.SessionEvents.WithLabelValues("interruption").Inc()
	}
	return true
}

// ProcessTurn runs one poll of the pipeline. It returns (nil, nil) when
// there is nothing to do: no completed turn, the session is busy, or the
// transcript came back empty. A non-nil error means a collaborator failed
// and the session was reverted to listening.
func (o *Orchestrator) ProcessTurn(ctx context.Context) (*TurnResult, error) {
	if !o.capture.HasCompletedTurn() {
		return nil, nil
	}

	state := o.states.State()
	if state != dialog.StateListening && state != dialog.StateBuffering {
		// Busy speaking or already processing. The turn stays queued.
		return nil, nil
	}

	samples, ok := o.capture.TakeCompletedTurn()
	if !ok || len(samples) == 0 {
		return nil, nil
	}

	if err := o.transition(dialog.StateProcessing); err != nil {
		return nil, err
	}
	started := time.Now()

	userText, confidence, err := o.transcribe(ctx, samples)
	if err != nil {
		o.fail("transcribe")
		return nil, fmt.Errorf("transcribe turn: %w", err)
	}
	if strings.TrimSpace(userText) == "" {
		o.stages.ObserveIndicator("empty_transcript")
		if err := o.transition(dialog.StateListening); err != nil {
			return nil, err
		}
		return nil, nil
	}

	action, buffered := o.resolveBuffer(ctx, userText)

	response, err := o.respond(ctx, userText, action, buffered)
	if err != nil {
		o.fail("generate")
		return nil, fmt.Errorf("generate reply: %w", err)
	}

	o.remember(ctx, "user", userText)
	o.remember(ctx, "assistant", response)

	audio, err := o.synthesize(ctx, response)
	if err != nil {
		o.fail("synthesize")
		return nil, fmt.Errorf("synthesize reply: %w", err)
	}

	o.mu.Lock()
	o.lastUserText = userText
	o.lastResponse = response
	o.mu.Unlock()

	result := &TurnResult{
		UserText:     userText,
		Response:     response,
		Audio:        audio,
		BufferAction: action,
		Confidence:   confidence,
	}

	// Brief pause before speaking so a learner drawing breath mid-thought
	// is not talked over.
	if o.cfg.ResponseDelay > 0 {
		select {
		case <-ctx.Done():
			o.revert()
			return nil, ctx.Err()
		case <-time.After(o.cfg.ResponseDelay):
		}
	}

	if o.capture.SpeechConfirmed() {
		o.buffer.Store(response, userText)
		o.stages.ObserveIndicator("reply_held")
		if err := o.transition(dialog.StateListening); err != nil {
			return nil, err
		}
		result.Held = true
		return result, nil
	}

	if err := o.transition(dialog.StateSpeaking); err != nil {
		return nil, err
	}

	elapsed := time.Since(started)
	o.stages.Observe("turn_total", float64(elapsed.Microseconds())/1000)
	if o.metrics != nil {
		o.metrics.TurnsCompleted.Inc()
		o.metrics.ObserveTurnLatency(elapsed)
	}
	return result, nil
}

func (o *Orchestrator) transcribe(ctx context.Context, samples []int16) (string, float64, error) {
	started := time.Now()
	tr, err := o.stt.Transcribe(ctx, samples, o.capture.SampleRate())
	if err != nil {
		return "", 0, err
	}
	o.stages.Observe("transcribe", float64(time.Since(started).Microseconds())/1000)
	return tr.Text, tr.Confidence, nil
}

// resolveBuffer arbitrates any reply buffered before this turn completed.
// Relevance scoring failures fail safe: the buffer is dropped.
func (o *Orchestrator) resolveBuffer(ctx context.Context, userText string) (dialog.Action, *dialog.BufferedResponse) {
	if !o.buffer.Has() {
		return dialog.ActionNone, nil
	}
	started := time.Now()

	var relevance *float64
	topicChanged := false
	if held, ok := o.buffer.Buffered(); ok {
		if score, err := o.engine.ClassifyRelevance(ctx, held.Text, userText); err == nil {
			relevance = &score
			topicChanged = score < o.cfg.TopicChangeBelow
		} else {
			o.stages.ObserveIndicator("relevance_unscored")
		}
	}

	action, buffered := o.buffer.Decide(userText, relevance, topicChanged)
	o.stages.Observe("resolve_buffer", float64(time.Since(started).Microseconds())/1000)
	if o.metrics != nil && action != dialog.ActionNone {
		o.metrics.BufferDecisions.WithLabelValues(action.String()).Inc()
	}
	return action, buffered
}

func (o *Orchestrator) respond(ctx context.Context, userText string, action dialog.Action, buffered *dialog.BufferedResponse) (string, error) {
	started := time.Now()
	defer func() {
		o.stages.Observe("generate", float64(time.Since(started).Microseconds())/1000)
	}()

	switch action {
	case dialog.ActionContinue:
		return buffered.Text, nil
	case dialog.ActionMerge:
		return o.engine.MergeResponses(ctx, buffered.Text, userText)
	}

	var history []memory.TurnRecord
	if o.store != nil {
		recalled, err := o.store.RecentContext(ctx, o.cfg.SessionID, o.cfg.HistoryLimit)
		if err != nil {
			o.stages.ObserveIndicator("history_recall_failed")
		} else {
			history = recalled
		}
	}
	return o.engine.Generate(ctx, userText, history, o.cfg.SystemPrompt)
}

func (o *Orchestrator) synthesize(ctx context.Context, text string) (Synthesis, error) {
	started := time.Now()
	audio, err := o.tts.Synthesize(ctx, text)
	if err != nil {
		return Synthesis{}, err
	}
	o.stages.Observe("synthesize", float64(time.Since(started).Microseconds())/1000)
	return audio, nil
}

// remember persists one turn; storage trouble never fails the conversation.
func (o *Orchestrator) remember(ctx context.Context, role, content string) {
	if o.store == nil {
		return
	}
	err := o.store.SaveTurn(ctx, memory.TurnRecord{
		SessionID: o.cfg.SessionID,
		LearnerID: o.cfg.LearnerID,
		Role:      role,
		Content:   content,
	})
	if err != nil {
		o.stages.ObserveIndicator("memory_save_failed")
	}
}

func (o *Orchestrator) transition(to dialog.State) error {
	if err := o.states.TransitionTo(to); err != nil {
		return err
	}
	if o.metrics != nil {
		o.metrics.StateTransitions.WithLabelValues(to.String()).Inc()
	}
	return nil
}

func (o *Orchestrator) fail(stage string) {
	if o.metrics != nil {
		o.metrics.TurnFailures.WithLabelValues(stage).Inc()
	}
	o.revert()
}

func (o *Orchestrator) revert() {
	if o.states.State() == dialog.StateProcessing {
		_ = o.transition(dialog.StateListening)
	}
}

// ForceReset returns the session to idle and discards all pending work.
func (o *Orchestrator) ForceReset() {
	o.states.ForceReset()
	o.capture.Reset()
	o.buffer.Clear()
}

// State reports the current conversation state.
func (o *Orchestrator) State() dialog.State {
	return o.states.State()
}

// StateSince reports how long the current state has been held.
func (o *Orchestrator) StateSince() time.Duration {
	return o.states.StateDuration()
}

// Interruptions reports how many times the learner talked over the tutor.
func (o *Orchestrator) Interruptions() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.interruptions
}

// Status aggregates pipeline internals for the session status endpoint.
type Status struct {
	State         string                         `json:"state"`
	StateSinceMS  int64                          `json:"state_since_ms"`
	Capture       turn.Status                    `json:"capture"`
	BufferHeld    bool                           `json:"buffer_held"`
	Interruptions int                            `json:"interruptions"`
	Transitions   []dialog.Transition            `json:"transitions,omitempty"`
	Decisions     []dialog.Decision              `json:"decisions,omitempty"`
	Turns         []observability.TurnStageStats `json:"turns,omitempty"`
}

func (o *Orchestrator) Snapshot() Status {
	st := Status{
		State:         o.states.State().String(),
		StateSinceMS:  o.states.StateDuration().Milliseconds(),
		Capture:       o.capture.Status(),
		BufferHeld:    o.buffer.Has(),
		Interruptions: o.Interruptions(),
		Transitions:   o.states.History(),
		Decisions:     o.buffer.History(),
	}
	if o.stages != nil {
		st.Turns = o.stages.Snapshot().Stages
	}
	return st
}
