package vad

import "testing"

type stubModel struct {
	score  float64
	resets int
}

func (m *stubModel) Score(_ []int16) float64 { return m.score }
func (m *stubModel) Reset()                  { m.resets++ }

func TestClassifyThresholds(t *testing.T) {
	m := &stubModel{score: 0.7}
	c := NewClassifier(m, 0.5)

	got := c.Classify(make([]int16, 512))
	if !got.IsSpeech {
		t.Fatalf("IsSpeech = false, want true for score 0.7 vs threshold 0.5")
	}
	if got.Confidence != 0.7 {
		t.Fatalf("Confidence = %v, want 0.7", got.Confidence)
	}

	m.score = 0.4
	got = c.Classify(make([]int16, 512))
	if got.IsSpeech {
		t.Fatalf("IsSpeech = true, want false for score 0.4")
	}
}

func TestClassifyEmptyChunkIsSilence(t *testing.T) {
	c := NewClassifier(&stubModel{score: 0.9}, 0.5)
	got := c.Classify(nil)
	if got.IsSpeech || got.Confidence != 0 {
		t.Fatalf("Classify(nil) = %+v, want silence", got)
	}
}

func TestClassifyClampsScore(t *testing.T) {
	c := NewClassifier(&stubModel{score: 1.8}, 0.5)
	got := c.Classify(make([]int16, 4))
	if got.Confidence != 1 {
		t.Fatalf("Confidence = %v, want 1 (clamped)", got.Confidence)
	}
}

func TestResetForwardsToModel(t *testing.T) {
	m := &stubModel{}
	c := NewClassifier(m, 0.5)
	c.Reset()
	c.Reset()
	if m.resets != 2 {
		t.Fatalf("model resets = %d, want 2", m.resets)
	}
}

func TestEnergyModelSilenceVsTone(t *testing.T) {
	m := NewEnergyModel()

	silence := make([]int16, 512)
	loud := make([]int16, 512)
	for i := range loud {
		if i%2 == 0 {
			loud[i] = 12000
		} else {
			loud[i] = -12000
		}
	}

	low := m.Score(silence)
	high := m.Score(loud)
	if low >= 0.5 {
		t.Fatalf("silence score = %v, want < 0.5", low)
	}
	if high <= 0.5 {
		t.Fatalf("loud score = %v, want > 0.5", high)
	}
}
