package audio_test

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/narrata/pkg/audio"
	"github.com/MrWong99/narrata/pkg/audio/audiotest"
)

func TestFormatFromContentType(t *testing.T) {
	t.Parallel()

	tests := []struct {
		ct   string
		want audio.Format
		ok   bool
	}{
		{"audio/wav", audio.FormatWAV, true},
		{"audio/x-wav", audio.FormatWAV, true},
		{"Audio/Wave; codecs=1", audio.FormatWAV, true},
		{"audio/mpeg", audio.FormatMP3, true},
		{"audio/mp3", audio.FormatMP3, true},
		{"audio/ogg", "", false},
		{"", "", false},
	}
	for _, tt := range tests {
		got, err := audio.FormatFromContentType(tt.ct)
		if tt.ok && err != nil {
			t.Errorf("FormatFromContentType(%q): unexpected error %v", tt.ct, err)
		}
		if !tt.ok && !errors.Is(err, audio.ErrUnknownFormat) {
			t.Errorf("FormatFromContentType(%q): err = %v, want ErrUnknownFormat", tt.ct, err)
		}
		if got != tt.want {
			t.Errorf("FormatFromContentType(%q) = %q, want %q", tt.ct, got, tt.want)
		}
	}
}

func TestFormatFromFilename(t *testing.T) {
	t.Parallel()

	if f, err := audio.FormatFromFilename("Sample.MP3"); err != nil || f != audio.FormatMP3 {
		t.Errorf("FormatFromFilename(Sample.MP3) = %q, %v", f, err)
	}
	if f, err := audio.FormatFromFilename("take1.wav"); err != nil || f != audio.FormatWAV {
		t.Errorf("FormatFromFilename(take1.wav) = %q, %v", f, err)
	}
	if _, err := audio.FormatFromFilename("notes.txt"); !errors.Is(err, audio.ErrUnknownFormat) {
		t.Errorf("FormatFromFilename(notes.txt) err = %v, want ErrUnknownFormat", err)
	}
}

func TestProbeWAV_Duration(t *testing.T) {
	t.Parallel()

	for _, d := range []time.Duration{time.Second, 20 * time.Second, 37 * time.Second} {
		info, err := audio.Probe(audiotest.WAV(d), audio.FormatWAV)
		if err != nil {
			t.Fatalf("Probe(%v): %v", d, err)
		}
		if info.Duration != d {
			t.Errorf("Probe(%v).Duration = %v", d, info.Duration)
		}
		if info.SampleRate != audiotest.DefaultRate || info.Channels != 1 {
			t.Errorf("Probe(%v) = %d Hz %d ch", d, info.SampleRate, info.Channels)
		}
	}
}

func TestProbeWAV_PlaceholderDataSize(t *testing.T) {
	t.Parallel()

	wav := audiotest.WAV(2 * time.Second)
	// Streaming encoders write 0xFFFFFFFF as the data size.
	binary.LittleEndian.PutUint32(wav[40:44], 0xFFFFFFFF)

	info, err := audio.Probe(wav, audio.FormatWAV)
	if err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if info.Duration != 2*time.Second {
		t.Errorf("Duration = %v, want 2s", info.Duration)
	}
}

func TestProbe_Unreadable(t *testing.T) {
	t.Parallel()

	garbage := bytes.Repeat([]byte("not audio "), 100)
	if _, err := audio.Probe(garbage, audio.FormatWAV); err == nil {
		t.Error("Probe(garbage, wav): expected error")
	}
	if _, err := audio.Probe(garbage, audio.FormatMP3); err == nil {
		t.Error("Probe(garbage, mp3): expected error")
	}
	if _, err := audio.Probe(audiotest.WAV(time.Second)[:30], audio.FormatWAV); err == nil {
		t.Error("Probe(truncated wav): expected error")
	}
}

func TestDecodeWAV_8Bit(t *testing.T) {
	t.Parallel()

	pcm16 := audio.EncodeWAV(audio.PCM{Data: make([]byte, 8), SampleRate: 8000, Channels: 1})
	// Rewrite as 8-bit: 4 samples at the unsigned midpoint.
	wav := append([]byte(nil), pcm16[:44]...)
	binary.LittleEndian.PutUint16(wav[32:34], 1)
	binary.LittleEndian.PutUint16(wav[34:36], 8)
	binary.LittleEndian.PutUint32(wav[40:44], 4)
	wav = append(wav, 128, 128, 255, 0)

	p, err := audio.Decode(wav, audio.FormatWAV)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(p.Data) != 8 {
		t.Fatalf("len(Data) = %d, want 8", len(p.Data))
	}
	if got := int16(binary.LittleEndian.Uint16(p.Data[4:6])); got != 127<<8 {
		t.Errorf("sample[2] = %d, want %d", got, 127<<8)
	}
	if got := int16(binary.LittleEndian.Uint16(p.Data[6:8])); got != -128<<8 {
		t.Errorf("sample[3] = %d, want %d", got, -128<<8)
	}
}

func TestEncodeWAV_RoundTripDuration(t *testing.T) {
	t.Parallel()

	tone := audiotest.Tone(3*time.Second, 16000, 440)
	p, err := audio.Decode(audio.EncodeWAV(tone), audio.FormatWAV)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if p.Duration() != 3*time.Second {
		t.Errorf("Duration = %v, want 3s", p.Duration())
	}
	if !bytes.Equal(p.Data, tone.Data) {
		t.Error("decoded payload differs from encoded payload")
	}
}

func TestTranscode(t *testing.T) {
	t.Parallel()

	wav := audiotest.WAV(time.Second)

	same, err := audio.Transcode(wav, audio.FormatWAV, audio.FormatWAV)
	if err != nil || !bytes.Equal(same, wav) {
		t.Errorf("Transcode(wav→wav) = %d bytes, %v; want input unchanged", len(same), err)
	}

	if _, err := audio.Transcode(wav, audio.FormatWAV, audio.FormatMP3); !errors.Is(err, audio.ErrUnsupportedTranscode) {
		t.Errorf("Transcode(wav→mp3) err = %v, want ErrUnsupportedTranscode", err)
	}

	if _, err := audio.Transcode([]byte("garbage"), audio.FormatMP3, audio.FormatWAV); err == nil {
		t.Error("Transcode(garbage mp3→wav): expected error")
	}
}

func TestSniff(t *testing.T) {
	t.Parallel()

	if f, err := audio.Sniff(audiotest.WAV(time.Second)); err != nil || f != audio.FormatWAV {
		t.Errorf("Sniff(wav) = %q, %v", f, err)
	}
	if f, err := audio.Sniff([]byte("ID3\x04\x00")); err != nil || f != audio.FormatMP3 {
		t.Errorf("Sniff(id3) = %q, %v", f, err)
	}
	if f, err := audio.Sniff([]byte{0xFF, 0xFB, 0x90, 0x00}); err != nil || f != audio.FormatMP3 {
		t.Errorf("Sniff(frame sync) = %q, %v", f, err)
	}
	if _, err := audio.Sniff([]byte("OggS")); !errors.Is(err, audio.ErrUnknownFormat) {
		t.Errorf("Sniff(ogg) err = %v", err)
	}
}

func TestCompareSpectra(t *testing.T) {
	t.Parallel()

	a := audiotest.Tone(2*time.Second, 16000, 300)
	b := audiotest.Tone(3*time.Second, 16000, 300)
	c := audiotest.Tone(2*time.Second, 16000, 3500)

	same, err := audio.CompareSpectra(a, b)
	if err != nil {
		t.Fatalf("CompareSpectra(a, b): %v", err)
	}
	different, err := audio.CompareSpectra(a, c)
	if err != nil {
		t.Fatalf("CompareSpectra(a, c): %v", err)
	}

	if same < 0.99 {
		t.Errorf("identical tones scored %.3f, want ≥ 0.99", same)
	}
	if different >= same {
		t.Errorf("different tones scored %.3f ≥ identical tones %.3f", different, same)
	}
	if different < 0 || different > 1 {
		t.Errorf("score %.3f out of [0, 1]", different)
	}
}

func TestSpectralProfile_Errors(t *testing.T) {
	t.Parallel()

	if _, err := audio.SpectralProfile(audiotest.Tone(10*time.Millisecond, 8000, 200)); !errors.Is(err, audio.ErrTooShort) {
		t.Errorf("short input err = %v, want ErrTooShort", err)
	}
	silence := audio.PCM{Data: make([]byte, 32000), SampleRate: 8000, Channels: 1}
	if _, err := audio.SpectralProfile(silence); err == nil {
		t.Error("silent input: expected error")
	}
}

func TestCosine(t *testing.T) {
	t.Parallel()

	if got := audio.Cosine([]float64{1, 0}, []float64{1, 0}); got != 1 {
		t.Errorf("Cosine(same) = %v", got)
	}
	if got := audio.Cosine([]float64{1, 0}, []float64{-1, 0}); got != -1 {
		t.Errorf("Cosine(opposite) = %v", got)
	}
	if got := audio.Cosine([]float64{1}, []float64{1, 2}); got != 0 {
		t.Errorf("Cosine(length mismatch) = %v", got)
	}
	if got := audio.Cosine([]float64{0, 0}, []float64{1, 2}); got != 0 {
		t.Errorf("Cosine(zero) = %v", got)
	}
}

func TestPCM_Mono(t *testing.T) {
	t.Parallel()

	le := func(vs ...int16) []byte {
		b := make([]byte, 0, 2*len(vs))
		for _, v := range vs {
			b = append(b, byte(v), byte(uint16(v)>>8))
		}
		return b
	}

	tests := []struct {
		name     string
		in       audio.PCM
		wantData []byte
	}{
		{"already mono", audio.PCM{Data: le(5, -5), SampleRate: 8000, Channels: 1}, le(5, -5)},
		{"stereo", audio.PCM{Data: le(100, 300, -200, 0), SampleRate: 8000, Channels: 2}, le(200, -100)},
		{"stereo extremes", audio.PCM{Data: le(32767, 32767, -32768, -32768), SampleRate: 8000, Channels: 2}, le(32767, -32768)},
		{"three channels", audio.PCM{Data: le(30, 60, 90), SampleRate: 8000, Channels: 3}, le(60)},
		{"partial frame dropped", audio.PCM{Data: append(le(10, 20), 0x01), SampleRate: 8000, Channels: 2}, le(15)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.in.Mono()
			if got.Channels != 1 || got.SampleRate != tt.in.SampleRate {
				t.Errorf("Mono() = %d ch @ %d Hz", got.Channels, got.SampleRate)
			}
			if !bytes.Equal(got.Data, tt.wantData) {
				t.Errorf("Mono().Data = %v, want %v", got.Data, tt.wantData)
			}
		})
	}
}
