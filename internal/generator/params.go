package generator

import "github.com/MrWong99/narrata/pkg/audio"

// Parameter ranges. Out-of-range values are clamped, never rejected.
const (
	MinSpeed       = 0.5
	MaxSpeed       = 2.0
	MinTemperature = 0.0
	MaxTemperature = 1.0
	MinTopP        = 0.0
	MaxTopP        = 1.0
	MinVolume      = 0.0
	MaxVolume      = 2.0
)

// Params are the caller-tunable synthesis parameters.
type Params struct {
	Model       string
	Language    string
	Speed       float64
	Temperature float64
	TopP        float64
	Volume      float64

	// Format is the requested output container. Empty keeps the engine's
	// native format.
	Format audio.Format
}

// DefaultParams returns the parameters used when a request leaves them unset.
func DefaultParams() Params {
	return Params{
		Speed:       1.0,
		Temperature: 0.75,
		TopP:        0.85,
		Volume:      1.0,
	}
}

// Clamp returns p with every numeric parameter forced into its range.
func (p Params) Clamp() Params {
	p.Speed = clamp(p.Speed, MinSpeed, MaxSpeed)
	p.Temperature = clamp(p.Temperature, MinTemperature, MaxTemperature)
	p.TopP = clamp(p.TopP, MinTopP, MaxTopP)
	p.Volume = clamp(p.Volume, MinVolume, MaxVolume)
	return p
}

// clamp maps NaN to lo.
func clamp(v, lo, hi float64) float64 {
	switch {
	case v != v, v < lo:
		return lo
	case v > hi:
		return hi
	}
	return v
}
