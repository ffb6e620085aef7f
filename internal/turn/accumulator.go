package turn

import (
	"sync"
	"time"
)

// Accumulator collects the chunks of the in-progress utterance. The capture
// goroutine appends while the orchestrator drains; both sides hold the lock
// only for a short copy, never across I/O.
type Accumulator struct {
	mu         sync.Mutex
	chunks     [][]int16
	samples    int
	sampleRate int
}

func NewAccumulator(sampleRate int) *Accumulator {
	if sampleRate <= 0 {
		sampleRate = 16000
	}
	return &Accumulator{sampleRate: sampleRate}
}

// Add appends a copy of the chunk.
func (a *Accumulator) Add(chunk []int16) {
	if len(chunk) == 0 {
		return
	}
	c := make([]int16, len(chunk))
	copy(c, chunk)

	a.mu.Lock()
	a.chunks = append(a.chunks, c)
	a.samples += len(c)
	a.mu.Unlock()
}

// Drain concatenates and clears the held chunks atomically. Returns nil when
// nothing was buffered.
func (a *Accumulator) Drain() []int16 {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.samples == 0 {
		return nil
	}
	out := make([]int16, 0, a.samples)
	for _, c := range a.chunks {
		out = append(out, c...)
	}
	a.chunks = nil
	a.samples = 0
	return out
}

// Clear discards the buffer without emitting.
func (a *Accumulator) Clear() {
	a.mu.Lock()
	a.chunks = nil
	a.samples = 0
	a.mu.Unlock()
}

// Len is the buffered sample count.
func (a *Accumulator) Len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.samples
}

// Duration is the buffered audio length at the accumulator's sample rate.
func (a *Accumulator) Duration() time.Duration {
	a.mu.Lock()
	samples := a.samples
	a.mu.Unlock()
	return time.Duration(samples) * time.Second / time.Duration(a.sampleRate)
}
