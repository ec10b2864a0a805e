// Package audio provides container probing, decoding, transcoding, and coarse
// spectral analysis for the audio formats narrata accepts and produces.
//
// Supported containers are RIFF/WAVE with integer PCM payloads and MPEG-1/2
// Layer III. Decoded audio is represented as little-endian signed 16-bit PCM
// in [PCM].
package audio

import (
	"errors"
	"path/filepath"
	"strings"
	"time"
)

// Format names an audio container.
type Format string

const (
	FormatWAV Format = "wav"
	FormatMP3 Format = "mp3"
)

// ErrUnknownFormat is returned when a content type or file name does not map
// to a supported container.
var ErrUnknownFormat = errors.New("audio: unknown format")

// ContentType returns the canonical MIME type for f.
func (f Format) ContentType() string {
	switch f {
	case FormatWAV:
		return "audio/wav"
	case FormatMP3:
		return "audio/mpeg"
	}
	return "application/octet-stream"
}

// Ext returns the file extension (with leading dot) for f.
func (f Format) Ext() string {
	if f == "" {
		return ""
	}
	return "." + string(f)
}

// IsValid reports whether f is a supported container.
func (f Format) IsValid() bool {
	return f == FormatWAV || f == FormatMP3
}

var contentTypes = map[string]Format{
	"audio/wav":      FormatWAV,
	"audio/x-wav":    FormatWAV,
	"audio/wave":     FormatWAV,
	"audio/vnd.wave": FormatWAV,
	"audio/mpeg":     FormatMP3,
	"audio/mp3":      FormatMP3,
}

// FormatFromContentType maps a MIME type (parameters ignored) to a [Format].
func FormatFromContentType(ct string) (Format, error) {
	ct = strings.ToLower(strings.TrimSpace(ct))
	if i := strings.IndexByte(ct, ';'); i >= 0 {
		ct = strings.TrimSpace(ct[:i])
	}
	if f, ok := contentTypes[ct]; ok {
		return f, nil
	}
	return "", ErrUnknownFormat
}

// FormatFromFilename maps a file extension to a [Format].
func FormatFromFilename(name string) (Format, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".wav", ".wave":
		return FormatWAV, nil
	case ".mp3":
		return FormatMP3, nil
	}
	return "", ErrUnknownFormat
}

// Info describes a probed audio file.
type Info struct {
	Format     Format
	Duration   time.Duration
	SampleRate int
	Channels   int
}

// PCM is decoded little-endian signed 16-bit audio.
type PCM struct {
	Data       []byte
	SampleRate int
	Channels   int
}

// Duration returns the playback length of p.
func (p PCM) Duration() time.Duration {
	if p.SampleRate <= 0 || p.Channels <= 0 {
		return 0
	}
	frames := len(p.Data) / (2 * p.Channels)
	return time.Duration(frames) * time.Second / time.Duration(p.SampleRate)
}

// Mono returns p with all channels averaged into one.
func (p PCM) Mono() PCM {
	if p.Channels <= 1 {
		return p
	}
	return PCM{Data: downmix(p.Data, p.Channels), SampleRate: p.SampleRate, Channels: 1}
}

// Probe reads container headers and returns format metadata without decoding
// the full payload.
func Probe(data []byte, f Format) (Info, error) {
	switch f {
	case FormatWAV:
		return probeWAV(data)
	case FormatMP3:
		return probeMP3(data)
	}
	return Info{}, ErrUnknownFormat
}

// Decode decodes data into 16-bit PCM.
func Decode(data []byte, f Format) (PCM, error) {
	switch f {
	case FormatWAV:
		return decodeWAV(data)
	case FormatMP3:
		return decodeMP3(data)
	}
	return PCM{}, ErrUnknownFormat
}

// Sniff guesses the container from the leading bytes of data.
func Sniff(data []byte) (Format, error) {
	switch {
	case len(data) >= 12 && string(data[0:4]) == "RIFF" && string(data[8:12]) == "WAVE":
		return FormatWAV, nil
	case len(data) >= 3 && string(data[0:3]) == "ID3":
		return FormatMP3, nil
	case len(data) >= 2 && data[0] == 0xFF && data[1]&0xE0 == 0xE0:
		return FormatMP3, nil
	}
	return "", ErrUnknownFormat
}
