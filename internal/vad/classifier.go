package vad

import (
	"math"
	"sync"
)

// Classification is the per-chunk verdict produced by the classifier.
type Classification struct {
	IsSpeech   bool
	Confidence float64
}

// Model scores one fixed-size chunk with a speech probability in [0,1].
// Implementations may keep recurrent state across chunks; Reset clears it
// between utterances.
type Model interface {
	Score(chunk []int16) float64
	Reset()
}

// Classifier wraps an acoustic model with confidence thresholding. Calls are
// serialized by a single mutex so a non-reentrant model is safe to drive
// from the capture callback goroutine while Reset runs elsewhere.
type Classifier struct {
	mu        sync.Mutex
	model     Model
	threshold float64
}

func NewClassifier(model Model, threshold float64) *Classifier {
	if threshold <= 0 || threshold > 1 {
		threshold = 0.5
	}
	return &Classifier{model: model, threshold: threshold}
}

func (c *Classifier) Threshold() float64 { return c.threshold }

// Classify scores one chunk and thresholds the result. An empty chunk is
// treated as silence; malformed input never propagates an error into the
// realtime path.
func (c *Classifier) Classify(chunk []int16) Classification {
	if len(chunk) == 0 {
		return Classification{}
	}

	c.mu.Lock()
	score := c.model.Score(chunk)
	c.mu.Unlock()

	if math.IsNaN(score) || score < 0 {
		score = 0
	}
	if score > 1 {
		score = 1
	}
	return Classification{
		IsSpeech:   score >= c.threshold,
		Confidence: score,
	}
}

// Reset clears the underlying model state between utterances.
func (c *Classifier) Reset() {
	c.mu.Lock()
	c.model.Reset()
	c.mu.Unlock()
}
