package audio

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/hajimehoshi/go-mp3"
)

// go-mp3 always emits interleaved 16-bit stereo.
const mp3BytesPerFrame = 4

func probeMP3(data []byte) (Info, error) {
	// bytes.Reader is an io.Seeker, so the decoder scans all frame headers
	// up front and Length is known without decoding the payload.
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return Info{}, fmt.Errorf("audio: open MP3: %w", err)
	}
	length := dec.Length()
	if length <= 0 {
		return Info{}, errors.New("audio: MP3 contains no frames")
	}
	rate := dec.SampleRate()
	if rate <= 0 {
		return Info{}, errors.New("audio: MP3 reports invalid sample rate")
	}
	frames := length / mp3BytesPerFrame
	return Info{
		Format:     FormatMP3,
		Duration:   time.Duration(frames) * time.Second / time.Duration(rate),
		SampleRate: rate,
		Channels:   2,
	}, nil
}

func decodeMP3(data []byte) (PCM, error) {
	dec, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return PCM{}, fmt.Errorf("audio: open MP3: %w", err)
	}
	pcm, err := io.ReadAll(dec)
	if err != nil {
		return PCM{}, fmt.Errorf("audio: decode MP3: %w", err)
	}
	if len(pcm) == 0 {
		return PCM{}, errors.New("audio: MP3 contains no frames")
	}
	return PCM{Data: pcm, SampleRate: dec.SampleRate(), Channels: 2}, nil
}
