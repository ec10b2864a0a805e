package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// wavInfo holds the format metadata extracted from a RIFF/WAVE header.
type wavInfo struct {
	AudioFormat   int // 1 = integer PCM, 0xFFFE = extensible
	SampleRate    int
	Channels      int
	BitsPerSample int
	DataOffset    int // byte offset of the first sample
	DataSize      int // payload length, clamped to the bytes actually present
}

// parseWAV walks the RIFF chunks in wav and returns the "fmt " metadata and
// the location of the "data" chunk. The fmt chunk size may vary, so the walk
// never assumes a fixed 44-byte header.
func parseWAV(wav []byte) (wavInfo, error) {
	if len(wav) < 12 {
		return wavInfo{}, errors.New("audio: WAV too short to be a valid RIFF file")
	}
	if string(wav[0:4]) != "RIFF" {
		return wavInfo{}, errors.New("audio: WAV missing RIFF header")
	}
	if string(wav[8:12]) != "WAVE" {
		return wavInfo{}, errors.New("audio: WAV missing WAVE identifier")
	}

	var info wavInfo
	foundFmt := false

	offset := 12
	for offset+8 <= len(wav) {
		chunkID := string(wav[offset : offset+4])
		chunkSize := int(binary.LittleEndian.Uint32(wav[offset+4 : offset+8]))

		switch chunkID {
		case "fmt ":
			if chunkSize < 16 || offset+8+16 > len(wav) {
				return wavInfo{}, errors.New("audio: WAV fmt chunk truncated")
			}
			fmtData := wav[offset+8:]
			info.AudioFormat = int(binary.LittleEndian.Uint16(fmtData[0:2]))
			info.Channels = int(binary.LittleEndian.Uint16(fmtData[2:4]))
			info.SampleRate = int(binary.LittleEndian.Uint32(fmtData[4:8]))
			info.BitsPerSample = int(binary.LittleEndian.Uint16(fmtData[14:16]))
			foundFmt = true
		case "data":
			if !foundFmt {
				return wavInfo{}, errors.New("audio: WAV data chunk precedes fmt chunk")
			}
			info.DataOffset = offset + 8
			info.DataSize = chunkSize
			// Streamed WAVs often carry a placeholder size.
			if avail := len(wav) - info.DataOffset; info.DataSize > avail || info.DataSize == 0 {
				info.DataSize = avail
			}
			if info.SampleRate <= 0 || info.Channels <= 0 || info.BitsPerSample <= 0 {
				return wavInfo{}, fmt.Errorf("audio: WAV fmt chunk invalid (rate=%d channels=%d bits=%d)",
					info.SampleRate, info.Channels, info.BitsPerSample)
			}
			return info, nil
		}

		// Chunks are word-aligned: pad by 1 if odd size.
		offset += 8 + chunkSize
		if chunkSize%2 != 0 {
			offset++
		}
	}
	return wavInfo{}, errors.New("audio: WAV missing data chunk")
}

func (w wavInfo) duration() time.Duration {
	bytesPerSec := w.SampleRate * w.Channels * w.BitsPerSample / 8
	if bytesPerSec <= 0 {
		return 0
	}
	return time.Duration(int64(w.DataSize) * int64(time.Second) / int64(bytesPerSec))
}

func probeWAV(data []byte) (Info, error) {
	info, err := parseWAV(data)
	if err != nil {
		return Info{}, err
	}
	return Info{
		Format:     FormatWAV,
		Duration:   info.duration(),
		SampleRate: info.SampleRate,
		Channels:   info.Channels,
	}, nil
}

// decodeWAV converts an integer-PCM WAV payload to 16-bit PCM. 8-, 16-, 24-
// and 32-bit samples are accepted.
func decodeWAV(data []byte) (PCM, error) {
	info, err := parseWAV(data)
	if err != nil {
		return PCM{}, err
	}
	if info.AudioFormat != 1 && info.AudioFormat != 0xFFFE {
		return PCM{}, fmt.Errorf("audio: WAV format tag %#x is not integer PCM", info.AudioFormat)
	}
	payload := data[info.DataOffset : info.DataOffset+info.DataSize]

	width := info.BitsPerSample / 8
	switch width {
	case 2:
		n := len(payload) &^ 1
		out := make([]byte, n)
		copy(out, payload[:n])
		return PCM{Data: out, SampleRate: info.SampleRate, Channels: info.Channels}, nil
	case 1, 3, 4:
		samples := len(payload) / width
		out := make([]byte, samples*2)
		for i := range samples {
			s := payload[i*width : (i+1)*width]
			var v int16
			switch width {
			case 1:
				// 8-bit WAV is unsigned.
				v = int16(int(s[0])-128) << 8
			case 3:
				v = int16(uint16(s[1]) | uint16(s[2])<<8)
			case 4:
				v = int16(uint16(s[2]) | uint16(s[3])<<8)
			}
			binary.LittleEndian.PutUint16(out[i*2:], uint16(v))
		}
		return PCM{Data: out, SampleRate: info.SampleRate, Channels: info.Channels}, nil
	}
	return PCM{}, fmt.Errorf("audio: unsupported WAV bit depth %d", info.BitsPerSample)
}

// EncodeWAV wraps 16-bit PCM in a canonical 44-byte RIFF/WAVE header.
func EncodeWAV(p PCM) []byte {
	const headerSize = 44
	dataSize := uint32(len(p.Data))
	blockAlign := uint16(p.Channels * 2)
	byteRate := uint32(p.SampleRate) * uint32(blockAlign)

	buf := make([]byte, headerSize, headerSize+len(p.Data))
	le := binary.LittleEndian
	copy(buf[0:4], "RIFF")
	le.PutUint32(buf[4:8], 36+dataSize)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	le.PutUint32(buf[16:20], 16)
	le.PutUint16(buf[20:22], 1)
	le.PutUint16(buf[22:24], uint16(p.Channels))
	le.PutUint32(buf[24:28], uint32(p.SampleRate))
	le.PutUint32(buf[28:32], byteRate)
	le.PutUint16(buf[32:34], blockAlign)
	le.PutUint16(buf[34:36], 16)
	copy(buf[36:40], "data")
	le.PutUint32(buf[40:44], dataSize)
	return append(buf, p.Data...)
}
