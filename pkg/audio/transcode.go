package audio

import (
	"errors"
	"fmt"
)

// ErrUnsupportedTranscode is returned by [Transcode] when no encoder exists
// for the requested target container.
var ErrUnsupportedTranscode = errors.New("audio: unsupported transcode")

// Transcode converts data from container from to container to. Identical
// formats return data unchanged. Only PCM WAV can be produced; MP3 encoding
// is not available and yields [ErrUnsupportedTranscode].
func Transcode(data []byte, from, to Format) ([]byte, error) {
	if from == to {
		return data, nil
	}
	if to != FormatWAV {
		return nil, fmt.Errorf("%w: %s to %s", ErrUnsupportedTranscode, from, to)
	}
	pcm, err := Decode(data, from)
	if err != nil {
		return nil, fmt.Errorf("audio: transcode %s to %s: %w", from, to, err)
	}
	return EncodeWAV(pcm), nil
}
