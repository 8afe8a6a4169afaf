// Package audio owns the local sound devices: one playback sink for remote
// agent audio and one capture source for the microphone. Both are 16-bit
// mono PCM at 48 kHz, matching the Opus frames exchanged with the room.
package audio

import (
	"encoding/binary"
	"time"
)

const (
	SampleRate = 48000
	Channels   = 1

	// FrameDurationMs is the capture/publish frame size. 20 ms at 48 kHz
	// mono is 960 samples.
	FrameDurationMs   = 20
	FrameDuration     = FrameDurationMs * time.Millisecond
	SamplesPerFrame   = SampleRate * FrameDurationMs / 1000
	BytesPerFrame     = SamplesPerFrame * 2
	bytesPerSampleS16 = 2
)

// Int16ToBytes converts PCM samples to little-endian S16 bytes.
func Int16ToBytes(samples []int16) []byte {
	out := make([]byte, len(samples)*bytesPerSampleS16)
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// BytesToInt16 converts little-endian S16 bytes to PCM samples. A trailing
// odd byte is dropped.
func BytesToInt16(data []byte) []int16 {
	n := len(data) / bytesPerSampleS16
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = int16(binary.LittleEndian.Uint16(data[i*2:]))
	}
	return out
}
