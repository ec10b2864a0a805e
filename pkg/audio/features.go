package audio

import (
	"errors"
	"math"
)

const (
	// profileBands is the number of log-spaced frequency bands in a
	// spectral profile.
	profileBands = 24

	// profileFrame is the analysis window length in samples.
	profileFrame = 1024

	// profileMaxFrames caps the number of analysed windows so long inputs
	// cost the same as a ~20 s clip at 48 kHz.
	profileMaxFrames = 900

	profileMinHz = 80.0
	profileMaxHz = 8000.0
)

// ErrTooShort is returned when audio is shorter than one analysis window.
var ErrTooShort = errors.New("audio: input shorter than one analysis window")

// SpectralProfile computes a coarse long-term spectral envelope of p: the
// mean log band energy over up to profileMaxFrames windows, measured with
// Goertzel filters at log-spaced centre frequencies. The result is
// mean-centred so that overall loudness does not affect comparisons.
func SpectralProfile(p PCM) ([]float64, error) {
	mono := p.Mono()
	x := samples(mono.Data)
	if len(x) < profileFrame || mono.SampleRate <= 0 {
		return nil, ErrTooShort
	}

	hi := math.Min(profileMaxHz, float64(mono.SampleRate)*0.45)
	centres := make([]float64, profileBands)
	ratio := math.Pow(hi/profileMinHz, 1/float64(profileBands-1))
	for i := range centres {
		centres[i] = profileMinHz * math.Pow(ratio, float64(i))
	}

	coeffs := make([]float64, profileBands)
	for i, f := range centres {
		coeffs[i] = 2 * math.Cos(2*math.Pi*f/float64(mono.SampleRate))
	}

	frames := len(x) / profileFrame
	step := 1
	if frames > profileMaxFrames {
		step = frames / profileMaxFrames
	}

	prof := make([]float64, profileBands)
	var used int
	for fi := 0; fi < frames; fi += step {
		win := x[fi*profileFrame : (fi+1)*profileFrame]
		if rms(win) < 1e-4 {
			continue // skip silence
		}
		for b, c := range coeffs {
			prof[b] += math.Log1p(goertzel(win, c) * 1e3)
		}
		used++
	}
	if used == 0 {
		return nil, errors.New("audio: input is silent")
	}

	var mean float64
	for i := range prof {
		prof[i] /= float64(used)
		mean += prof[i]
	}
	mean /= profileBands
	for i := range prof {
		prof[i] -= mean
	}
	return prof, nil
}

// goertzel returns the normalised power of win at the frequency encoded by
// coeff (2·cos(2πf/fs)), with a Hann window applied.
func goertzel(win []float64, coeff float64) float64 {
	n := len(win)
	var s1, s2 float64
	for i, v := range win {
		w := 0.5 - 0.5*math.Cos(2*math.Pi*float64(i)/float64(n-1))
		s0 := v*w + coeff*s1 - s2
		s2 = s1
		s1 = s0
	}
	power := s1*s1 + s2*s2 - coeff*s1*s2
	return power / float64(n*n)
}

func rms(win []float64) float64 {
	var sum float64
	for _, v := range win {
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(win)))
}

// Cosine returns the cosine similarity of a and b in [-1, 1]. It returns 0
// when the vectors differ in length or either has zero magnitude.
func Cosine(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	c := dot / (math.Sqrt(na) * math.Sqrt(nb))
	return math.Max(-1, math.Min(1, c))
}

// CompareSpectra scores how closely the long-term spectral envelopes of a
// and b match, mapped to [0, 1].
func CompareSpectra(a, b PCM) (float64, error) {
	pa, err := SpectralProfile(a)
	if err != nil {
		return 0, err
	}
	pb, err := SpectralProfile(b)
	if err != nil {
		return 0, err
	}
	return (Cosine(pa, pb) + 1) / 2, nil
}
