package vad

import "math"

// EnergyModel is a pure-Go fallback model that maps RMS level to a pseudo
// speech probability. It tracks a slowly adapting noise floor so sustained
// background hum does not read as speech. Deployments with an acoustic
// model plug it in through the Model interface instead.
type EnergyModel struct {
	noiseFloor float64
}

const (
	energyInitialFloor = 0.004
	energyFloorDecay   = 0.995
	energyKnee         = 3.0
)

func NewEnergyModel() *EnergyModel {
	return &EnergyModel{noiseFloor: energyInitialFloor}
}

func (m *EnergyModel) Score(chunk []int16) float64 {
	level := rms(chunk)

	// Adapt the floor downward quickly, upward slowly.
	if level < m.noiseFloor {
		m.noiseFloor = level
	} else {
		m.noiseFloor = energyFloorDecay*m.noiseFloor + (1-energyFloorDecay)*level
	}
	floor := m.noiseFloor
	if floor < 1e-5 {
		floor = 1e-5
	}

	ratio := level / (floor * energyKnee)
	score := ratio / (ratio + 1)
	if score > 1 {
		score = 1
	}
	return score
}

func (m *EnergyModel) Reset() {
	m.noiseFloor = energyInitialFloor
}

// rms is the normalized root mean square of a PCM16 chunk in [0,1].
func rms(chunk []int16) float64 {
	if len(chunk) == 0 {
		return 0
	}
	var sum float64
	for _, s := range chunk {
		f := float64(s) / 32768.0
		sum += f * f
	}
	return math.Sqrt(sum / float64(len(chunk)))
}
