// Package audiotest provides synthetic audio fixtures for tests.
package audiotest

import (
	"encoding/binary"
	"math"
	"time"

	"github.com/MrWong99/narrata/pkg/audio"
)

// DefaultRate is the sample rate used by [WAV]. It is low so that 50 s
// fixtures stay small.
const DefaultRate = 8000

// Tone returns mono 16-bit PCM containing a sine wave at freq Hz.
func Tone(d time.Duration, rate int, freq float64) audio.PCM {
	n := int(d.Seconds() * float64(rate))
	data := make([]byte, n*2)
	for i := range n {
		v := int16(0.5 * 32767 * math.Sin(2*math.Pi*freq*float64(i)/float64(rate)))
		binary.LittleEndian.PutUint16(data[i*2:], uint16(v))
	}
	return audio.PCM{Data: data, SampleRate: rate, Channels: 1}
}

// WAV returns a mono 16-bit WAV file of length d containing a 220 Hz tone.
func WAV(d time.Duration) []byte {
	return audio.EncodeWAV(Tone(d, DefaultRate, 220))
}

// ToneWAV returns a mono 16-bit WAV file of length d at freq Hz.
func ToneWAV(d time.Duration, freq float64) []byte {
	return audio.EncodeWAV(Tone(d, DefaultRate, freq))
}
