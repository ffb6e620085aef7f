package voice

import "context"

// Transcription is the result of speech-to-text over one completed turn.
type Transcription struct {
	Text       string
	Confidence float64
}

// Transcriber converts a completed turn of PCM samples into text.
type Transcriber interface {
	Transcribe(ctx context.Context, samples []int16, sampleRate int) (Transcription, error)
}

// Synthesis is rendered tutor speech.
type Synthesis struct {
	PCM        []byte
	SampleRate int
}

// Synthesizer renders tutor text as speech.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (Synthesis, error)
}
