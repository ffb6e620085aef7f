package audio

import "time"

// Normalizer converts inbound frames of arbitrary sample rate and channel
// layout into fixed-size mono int16 chunks at the target rate. It is called
// from the capture callback path and must not block or grow without bound:
// every allocation is proportional to the inbound frame.
type Normalizer struct {
	targetRate int
	chunkSize  int
}

func NewNormalizer(targetRate, chunkSize int) *Normalizer {
	if targetRate <= 0 {
		targetRate = 16000
	}
	if chunkSize <= 0 {
		chunkSize = 512
	}
	return &Normalizer{targetRate: targetRate, chunkSize: chunkSize}
}

func (n *Normalizer) TargetRate() int { return n.targetRate }
func (n *Normalizer) ChunkSize() int  { return n.chunkSize }

// ChunkPeriod is the wall-clock duration covered by one chunk.
func (n *Normalizer) ChunkPeriod() time.Duration {
	return time.Duration(n.chunkSize) * time.Second / time.Duration(n.targetRate)
}

// Chunks converts one interleaved PCM16 frame into zero or more complete
// chunks. The frame's trailing remainder is zero-padded into a final chunk
// rather than carried into the next call; each frame is chunked
// independently so the callback path stays stateless.
func (n *Normalizer) Chunks(samples []int16, sampleRate, channels int) [][]int16 {
	if len(samples) == 0 || sampleRate <= 0 {
		return nil
	}
	if channels < 1 {
		channels = 1
	}

	mono := downmix(samples, channels)
	if sampleRate != n.targetRate {
		mono = resampleLinear(mono, sampleRate, n.targetRate)
	}
	if len(mono) == 0 {
		return nil
	}

	count := (len(mono) + n.chunkSize - 1) / n.chunkSize
	out := make([][]int16, 0, count)
	for start := 0; start < len(mono); start += n.chunkSize {
		end := start + n.chunkSize
		chunk := make([]int16, n.chunkSize)
		if end > len(mono) {
			end = len(mono)
		}
		copy(chunk, mono[start:end])
		out = append(out, chunk)
	}
	return out
}

// downmix averages interleaved channels into a mono signal.
func downmix(samples []int16, channels int) []int16 {
	if channels == 1 {
		out := make([]int16, len(samples))
		copy(out, samples)
		return out
	}
	frames := len(samples) / channels
	out := make([]int16, frames)
	for i := 0; i < frames; i++ {
		var sum int64
		for c := 0; c < channels; c++ {
			sum += int64(samples[i*channels+c])
		}
		out[i] = int16(sum / int64(channels))
	}
	return out
}

// resampleLinear resamples mono PCM with linear interpolation. Deterministic
// and cheap enough for the realtime path; a polyphase resampler would be a
// drop-in upgrade.
func resampleLinear(in []int16, srcRate, dstRate int) []int16 {
	if srcRate == dstRate || len(in) == 0 {
		return in
	}
	outLen := int(int64(len(in)) * int64(dstRate) / int64(srcRate))
	if outLen <= 0 {
		return nil
	}
	out := make([]int16, outLen)
	step := float64(srcRate) / float64(dstRate)
	for i := range out {
		pos := float64(i) * step
		lo := int(pos)
		if lo >= len(in)-1 {
			out[i] = in[len(in)-1]
			continue
		}
		frac := pos - float64(lo)
		v := float64(in[lo])*(1-frac) + float64(in[lo+1])*frac
		out[i] = int16(v)
	}
	return out
}
