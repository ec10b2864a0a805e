package audio

import "encoding/binary"

// downmix averages the interleaved channels of 16-bit PCM into one channel.
// A trailing partial frame is dropped.
func downmix(pcm []byte, channels int) []byte {
	frameSize := 2 * channels
	frames := len(pcm) / frameSize
	out := make([]byte, 2*frames)
	for f := range frames {
		frame := pcm[f*frameSize : (f+1)*frameSize]
		var sum int32
		for c := range channels {
			sum += int32(int16(binary.LittleEndian.Uint16(frame[2*c:])))
		}
		binary.LittleEndian.PutUint16(out[2*f:], uint16(int16(sum/int32(channels))))
	}
	return out
}

// samples converts mono 16-bit PCM to floats in [-1, 1).
func samples(pcm []byte) []float64 {
	out := make([]float64, len(pcm)/2)
	for i := range out {
		out[i] = float64(int16(binary.LittleEndian.Uint16(pcm[2*i:]))) / 32768
	}
	return out
}
