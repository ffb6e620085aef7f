package voice

import (
	"context"
	"fmt"
	"sync"
)

// MockTranscriber returns queued transcripts in order, used for local runs
// and tests. When the queue is empty it falls back to a fixed phrase.
type MockTranscriber struct {
	mu    sync.Mutex
	queue []Transcription
	calls int
	err   error
}

func NewMockTranscriber() *MockTranscriber { return &MockTranscriber{} }

// Enqueue schedules the next transcripts to return, in order.
func (m *MockTranscriber) Enqueue(texts ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, text := range texts {
		m.queue = append(m.queue, Transcription{Text: text, Confidence: 0.9})
	}
}

// FailWith makes every following call return err until cleared with nil.
func (m *MockTranscriber) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MockTranscriber) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockTranscriber) Transcribe(ctx context.Context, samples []int16, _ int) (Transcription, error) {
	select {
	case <-ctx.Done():
		return Transcription{}, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return Transcription{}, m.err
	}
	if len(samples) == 0 {
		return Transcription{}, nil
	}
	if len(m.queue) > 0 {
		next := m.queue[0]
		m.queue = m.queue[1:]
		return next, nil
	}
	return Transcription{Text: "simulated learner speech", Confidence: 0.7}, nil
}

// MockSynthesizer renders text as a deterministic byte pattern so tests can
// assert audio was produced without a real TTS backend.
type MockSynthesizer struct {
	mu    sync.Mutex
	calls int
	err   error
}

func NewMockSynthesizer() *MockSynthesizer { return &MockSynthesizer{} }

func (m *MockSynthesizer) FailWith(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()
}

func (m *MockSynthesizer) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func (m *MockSynthesizer) Synthesize(ctx context.Context, text string) (Synthesis, error) {
	select {
	case <-ctx.Done():
		return Synthesis{}, ctx.Err()
	default:
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	if m.err != nil {
		return Synthesis{}, m.err
	}
	if text == "" {
		return Synthesis{SampleRate: 16000}, nil
	}
	return Synthesis{
		PCM:        []byte(fmt.Sprintf("pcm:%s", text)),
		SampleRate: 16000,
	}, nil
}
