package dialog

import (
	"fmt"
	"sync"
	"time"
)

// Action is the arbitration outcome for a buffered response.
type Action int

const (
	ActionNone Action = iota
	ActionContinue
	ActionMerge
	ActionDrop
)

func (a Action) String() string {
	switch a {
	case ActionNone:
		return "none"
	case ActionContinue:
		return "continue"
	case ActionMerge:
		return "merge"
	case ActionDrop:
		return "drop"
	default:
		return "unknown"
	}
}

// BufferedResponse is a reply prepared while the user kept talking, held
// until their turn completes.
type BufferedResponse struct {
	Text           string
	ContextSummary string
	CreatedAt      time.Time
	RelevanceScore *float64
}

func (r BufferedResponse) Age() time.Duration {
	return time.Since(r.CreatedAt)
}

// Decision is one recorded arbitration outcome.
type Decision struct {
	Action       Action    `json:"action"`
	Reason       string    `json:"reason"`
	BufferAgeMS  float64   `json:"buffer_age_ms"`
	Relevance    *float64  `json:"relevance,omitempty"`
	TopicChanged bool      `json:"topic_changed"`
	At           time.Time `json:"at"`
}

// ResponseBufferConfig tunes the arbitration policy.
type ResponseBufferConfig struct {
	MaxAge             time.Duration
	RelevanceThreshold float64
	MergeEnabled       bool
}

const (
	decisionHistoryCap  = 50
	decisionHistoryTrim = 25
)

// ResponseBuffer holds at most one prepared reply and decides, once the
// user's real turn arrives, whether to deliver it as-is, merge it with the
// new input, or throw it away. Relevance scoring itself lives with the
// caller; this is a pure policy over the supplied score.
type ResponseBuffer struct {
	mu      sync.Mutex
	cfg     ResponseBufferConfig
	buf     *BufferedResponse
	history []Decision

	now func() time.Time
}

func NewResponseBuffer(cfg ResponseBufferConfig) *ResponseBuffer {
	if cfg.MaxAge <= 0 {
		cfg.MaxAge = 10 * time.Second
	}
	if cfg.RelevanceThreshold <= 0 || cfg.RelevanceThreshold > 1 {
		cfg.RelevanceThreshold = 0.6
	}
	return &ResponseBuffer{cfg: cfg, now: time.Now}
}

// Has reports whether a response is currently buffered.
func (b *ResponseBuffer) Has() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf != nil
}

// Buffered returns a copy of the held response, if any.
func (b *ResponseBuffer) Buffered() (BufferedResponse, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.buf == nil {
		return BufferedResponse{}, false
	}
	return *b.buf, true
}

// Store buffers a response, overwriting any previous one. contextSummary
// captures what the user was saying when it was generated.
func (b *ResponseBuffer) Store(text, contextSummary string) {
	b.mu.Lock()
	b.buf = &BufferedResponse{
		Text:           text,
		ContextSummary: contextSummary,
		CreatedAt:      b.now(),
	}
	b.mu.Unlock()
}

// Decide arbitrates the buffered response against the user's completed
// input. The buffer is consumed on every call regardless of outcome; a nil
// relevance score fails safe to Drop.
func (b *ResponseBuffer) Decide(newUserInput string, relevance *float64, topicChanged bool) (Action, *BufferedResponse) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.buf == nil {
		return ActionNone, nil
	}

	buf := b.buf
	age := b.now().Sub(buf.CreatedAt)
	action := ActionDrop
	var reason string

	switch {
	case age > b.cfg.MaxAge:
		reason = fmt.Sprintf("expired (age=%dms > %dms)", age.Milliseconds(), b.cfg.MaxAge.Milliseconds())

	case topicChanged:
		reason = "user changed topics"

	case relevance == nil:
		reason = "no relevance score, dropping for safety"

	case *relevance >= b.cfg.RelevanceThreshold:
		buf.RelevanceScore = relevance
		if b.cfg.MergeEnabled {
			action = ActionMerge
			reason = fmt.Sprintf("relevant (%.2f), merging with new context", *relevance)
		} else {
			action = ActionContinue
			reason = fmt.Sprintf("relevant (%.2f), using as-is", *relevance)
		}

	default:
		buf.RelevanceScore = relevance
		reason = fmt.Sprintf("low relevance (%.2f < %.2f)", *relevance, b.cfg.RelevanceThreshold)
	}

	b.history = append(b.history, Decision{
		Action:       action,
		Reason:       reason,
		BufferAgeMS:  float64(age.Microseconds()) / 1000,
		Relevance:    relevance,
		TopicChanged: topicChanged,
		At:           b.now(),
	})
	if len(b.history) > decisionHistoryCap {
		b.history = append(b.history[:0:0], b.history[len(b.history)-decisionHistoryTrim:]...)
	}

	b.buf = nil
	return action, buf
}

// Clear discards the buffer without recording a decision.
func (b *ResponseBuffer) Clear() {
	b.mu.Lock()
	b.buf = nil
	b.mu.Unlock()
}

// History returns a copy of recent decisions, oldest first.
func (b *ResponseBuffer) History() []Decision {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Decision, len(b.history))
	copy(out, b.history)
	return out
}
