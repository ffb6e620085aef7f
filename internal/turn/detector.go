package turn

import "time"

// PauseState is the detector's position in the end-of-turn state machine.
type PauseState int

const (
	StateSilence PauseState = iota
	StateSpeechStarted
	StateSpeaking
	StateMaybeDone
	StateTurnComplete
)

func (s PauseState) String() string {
	switch s {
	case StateSilence:
		return "silence"
	case StateSpeechStarted:
		return "speech_started"
	case StateSpeaking:
		return "speaking"
	case StateMaybeDone:
		return "maybe_done"
	case StateTurnComplete:
		return "turn_complete"
	default:
		return "unknown"
	}
}

// DetectorConfig tunes the debounce and end-of-turn thresholds. Zero values
// fall back to 300ms of speech and a 2s pause at 32ms chunks.
type DetectorConfig struct {
	ChunkPeriod    time.Duration
	MinSpeech      time.Duration
	PauseThreshold time.Duration

	// Optional hooks fired on the confirmed speech-start and turn-complete
	// edges. Invoked synchronously from Process; keep them cheap.
	OnSpeechStart  func()
	OnTurnComplete func()
}

// Detector debounces per-chunk voice activity into turn boundaries.
//
// Silence -> SpeechStarted -> Speaking -> MaybeDone -> TurnComplete, with
// MaybeDone resuming to Speaking when the user was only pausing
// mid-sentence. A burst shorter than the debounce window collapses back to
// Silence without ever confirming speech.
//
// Not safe for concurrent use; Capture drives it from a single goroutine.
type Detector struct {
	minSpeechChunks      int
	pauseThresholdChunks int
	chunkPeriod          time.Duration

	onSpeechStart  func()
	onTurnComplete func()

	state         PauseState
	speechChunks  int
	silenceChunks int
	speechStarted time.Time
}

func NewDetector(cfg DetectorConfig) *Detector {
	if cfg.ChunkPeriod <= 0 {
		cfg.ChunkPeriod = 32 * time.Millisecond
	}
	if cfg.MinSpeech <= 0 {
		cfg.MinSpeech = 300 * time.Millisecond
	}
	if cfg.PauseThreshold <= 0 {
		cfg.PauseThreshold = 2 * time.Second
	}

	d := &Detector{
		minSpeechChunks:      int(cfg.MinSpeech / cfg.ChunkPeriod),
		pauseThresholdChunks: int(cfg.PauseThreshold / cfg.ChunkPeriod),
		chunkPeriod:          cfg.ChunkPeriod,
		onSpeechStart:        cfg.OnSpeechStart,
		onTurnComplete:       cfg.OnTurnComplete,
		state:                StateSilence,
	}
	if d.minSpeechChunks < 1 {
		d.minSpeechChunks = 1
	}
	if d.pauseThresholdChunks < 1 {
		d.pauseThresholdChunks = 1
	}
	return d
}

func (d *Detector) State() PauseState { return d.state }

// UserSpeaking reports whether the detector currently attributes audio to
// the user, confirmed or not.
func (d *Detector) UserSpeaking() bool {
	return d.state == StateSpeechStarted || d.state == StateSpeaking
}

// SpeechDuration is the wall-clock length of the current confirmed speech
// segment. Zero until the detector has reached Speaking.
func (d *Detector) SpeechDuration() time.Duration {
	if d.speechStarted.IsZero() {
		return 0
	}
	return time.Since(d.speechStarted)
}

// Process feeds one per-chunk voice decision and returns the state after the
// transition. TurnComplete is sticky until Reset.
func (d *Detector) Process(isSpeech bool) PauseState {
	switch d.state {
	case StateSilence:
		if isSpeech {
			d.state = StateSpeechStarted
			d.speechChunks = 1
			d.silenceChunks = 0
		}

	case StateSpeechStarted:
		if isSpeech {
			d.speechChunks++
			if d.speechChunks >= d.minSpeechChunks {
				d.state = StateSpeaking
				d.speechStarted = time.Now()
				if d.onSpeechStart != nil {
					d.onSpeechStart()
				}
			}
		} else {
			// Died before the debounce window: just noise.
			d.state = StateSilence
			d.speechChunks = 0
		}

	case StateSpeaking:
		if isSpeech {
			d.silenceChunks = 0
		} else {
			d.silenceChunks = 1
			d.state = StateMaybeDone
		}

	case StateMaybeDone:
		if isSpeech {
			// Mid-sentence pause; resume.
			d.state = StateSpeaking
			d.silenceChunks = 0
		} else {
			d.silenceChunks++
			if d.silenceChunks >= d.pauseThresholdChunks {
				d.state = StateTurnComplete
				if d.onTurnComplete != nil {
					d.onTurnComplete()
				}
			}
		}

	case StateTurnComplete:
		// Held until the consumer resets.
	}

	return d.state
}

// Reset returns the detector to Silence. Must be called after consuming a
// completed turn.
func (d *Detector) Reset() {
	d.state = StateSilence
	d.speechChunks = 0
	d.silenceChunks = 0
	d.speechStarted = time.Time{}
}

// Stats is a diagnostics snapshot for status endpoints.
type Stats struct {
	State                string  `json:"state"`
	SpeechChunks         int     `json:"speech_chunks"`
	SilenceChunks        int     `json:"silence_chunks"`
	SpeechDurationMS     float64 `json:"speech_duration_ms"`
	MinSpeechChunks      int     `json:"min_speech_chunks"`
	PauseThresholdChunks int     `json:"pause_threshold_chunks"`
}

func (d *Detector) Stats() Stats {
	return Stats{
		State:                d.state.String(),
		SpeechChunks:         d.speechChunks,
		SilenceChunks:        d.silenceChunks,
		SpeechDurationMS:     float64(d.SpeechDuration().Microseconds()) / 1000,
		MinSpeechChunks:      d.minSpeechChunks,
		PauseThresholdChunks: d.pauseThresholdChunks,
	}
}
