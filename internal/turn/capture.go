package turn

import (
	"sync"
	"time"

	"github.com/parlo-voice/parlo/internal/audio"
	"github.com/parlo-voice/parlo/internal/vad"
)

// completedTurnQueueDepth bounds the completed-turns queue. The orchestrator
// refuses new turns while one is processing anyway, so a small queue only
// has to absorb scheduling jitter.
const completedTurnQueueDepth = 4

// CaptureConfig assembles the ingestion pipeline.
type CaptureConfig struct {
	SampleRate   int
	ChunkSamples int

	Classifier *vad.Classifier
	Detector   DetectorConfig
}

// Capture runs the realtime half of the pipeline: inbound frames are
// normalized into chunks, classified, debounced by the pause detector, and
// accumulated into completed turns. ProcessFrame is called from the audio
// transport goroutine and never blocks; the orchestrator polls the
// completed-turn queue from its own goroutine.
type Capture struct {
	normalizer *audio.Normalizer
	classifier *vad.Classifier
	detector   *Detector
	acc        *Accumulator

	completed  chan []int16
	sampleRate int

	mu             sync.Mutex
	lastConfidence float64
	droppedTurns   int
}

func NewCapture(cfg CaptureConfig) *Capture {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.ChunkSamples <= 0 {
		cfg.ChunkSamples = 512
	}
	if cfg.Detector.ChunkPeriod <= 0 {
		cfg.Detector.ChunkPeriod = time.Duration(cfg.ChunkSamples) * time.Second / time.Duration(cfg.SampleRate)
	}
	classifier := cfg.Classifier
	if classifier == nil {
		classifier = vad.NewClassifier(vad.NewEnergyModel(), 0.5)
	}

	return &Capture{
		normalizer: audio.NewNormalizer(cfg.SampleRate, cfg.ChunkSamples),
		classifier: classifier,
		detector:   NewDetector(cfg.Detector),
		acc:        NewAccumulator(cfg.SampleRate),
		completed:  make(chan []int16, completedTurnQueueDepth),
		sampleRate: cfg.SampleRate,
	}
}

// SampleRate reports the normalized pipeline rate.
func (c *Capture) SampleRate() int { return c.sampleRate }

// ProcessFrame pushes one inbound frame through the pipeline. Malformed
// frames are dropped silently; the realtime path never errors.
func (c *Capture) ProcessFrame(samples []int16, sampleRate, channels int) {
	for _, chunk := range c.normalizer.Chunks(samples, sampleRate, channels) {
		c.processChunk(chunk)
	}
}

func (c *Capture) processChunk(chunk []int16) {
	cls := c.classifier.Classify(chunk)

	c.mu.Lock()
	c.lastConfidence = cls.Confidence
	prev := c.detector.State()
	state := c.detector.Process(cls.IsSpeech)
	c.mu.Unlock()

	switch {
	case state == StateSpeaking || state == StateMaybeDone:
		// The MaybeDone gap is kept so trailing words are not clipped
		// from the transcription audio.
		c.acc.Add(chunk)

	case state == StateTurnComplete:
		if done := c.acc.Drain(); len(done) > 0 {
			select {
			case c.completed <- done:
			default:
				// Consumer stalled; losing the turn beats blocking
				// the audio thread.
				c.mu.Lock()
				c.droppedTurns++
				c.mu.Unlock()
			}
		}
		c.mu.Lock()
		c.detector.Reset()
		c.mu.Unlock()
		c.classifier.Reset()

	case state == StateSilence && prev == StateSpeechStarted:
		// False start: below the debounce window.
		c.acc.Clear()
	}
}

// HasCompletedTurn reports whether a finished utterance is waiting.
func (c *Capture) HasCompletedTurn() bool {
	return len(c.completed) > 0
}

// TakeCompletedTurn pops the next finished utterance without blocking.
func (c *Capture) TakeCompletedTurn() ([]int16, bool) {
	select {
	case turnAudio := <-c.completed:
		return turnAudio, true
	default:
		return nil, false
	}
}

// SpeechConfirmed reports whether the detector has promoted the current
// audio to confirmed speech. Used to spot the user talking over playback.
func (c *Capture) SpeechConfirmed() bool {
	c.mu.Lock()
	st := c.detector.State()
	c.mu.Unlock()
	return st == StateSpeaking || st == StateMaybeDone
}

// Status is a diagnostics snapshot for the session status endpoint.
type Status struct {
	Detector         Stats   `json:"detector"`
	VADConfidence    float64 `json:"vad_confidence"`
	BufferDurationMS float64 `json:"buffer_duration_ms"`
	PendingTurns     int     `json:"pending_turns"`
	DroppedTurns     int     `json:"dropped_turns"`
}

func (c *Capture) Status() Status {
	c.mu.Lock()
	conf := c.lastConfidence
	dropped := c.droppedTurns
	detector := c.detector.Stats()
	c.mu.Unlock()

	return Status{
		Detector:         detector,
		VADConfidence:    conf,
		BufferDurationMS: float64(c.acc.Duration().Microseconds()) / 1000,
		PendingTurns:     len(c.completed),
		DroppedTurns:     dropped,
	}
}

// Reset clears all pipeline state, including queued turns.
func (c *Capture) Reset() {
	c.acc.Clear()
	c.mu.Lock()
	c.detector.Reset()
	c.mu.Unlock()
	c.classifier.Reset()
	for {
		select {
		case <-c.completed:
		default:
			return
		}
	}
}
