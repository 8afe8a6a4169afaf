package audio

import (
	"context"
	"fmt"
	"sync"

	"github.com/gen2brain/malgo"
)

// Mic captures microphone audio and emits fixed 20 ms PCM frames. One Mic is
// created at startup and reused across calls; Start is invoked per call by
// the transport layer when it publishes the local track.
type Mic struct {
	mu      sync.Mutex
	ctx     *malgo.AllocatedContext
	device  *malgo.Device
	frames  chan []int16
	pending []int16
}

func NewMic() *Mic {
	return &Mic{}
}

// Start opens the capture device and returns the frame channel. The channel
// closes when the context is cancelled or Close is called. Only one capture
// session can be active at a time.
func (m *Mic) Start(ctx context.Context) (<-chan []int16, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.device != nil {
		return nil, fmt.Errorf("microphone already capturing")
	}

	allocCtx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	frames := make(chan []int16, 50)

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.PeriodSizeInMilliseconds = FrameDurationMs
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = Channels
	deviceConfig.SampleRate = SampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(allocCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(outputSamples, inputSamples []byte, frameCount uint32) {
			m.ingest(inputSamples)
		},
	})
	if err != nil {
		_ = allocCtx.Uninit()
		allocCtx.Free()
		return nil, fmt.Errorf("init capture device: %w", err)
	}

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = allocCtx.Uninit()
		allocCtx.Free()
		return nil, fmt.Errorf("start capture device: %w", err)
	}

	m.ctx = allocCtx
	m.device = device
	m.frames = frames
	m.pending = nil

	go func() {
		<-ctx.Done()
		m.Close()
	}()

	return frames, nil
}

// ingest accumulates device callback data and emits whole frames. Frames are
// dropped, not buffered, when the consumer falls behind: for live speech,
// fresher audio beats complete audio.
func (m *Mic) ingest(input []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frames == nil {
		return
	}

	m.pending = append(m.pending, BytesToInt16(input)...)
	for len(m.pending) >= SamplesPerFrame {
		frame := make([]int16, SamplesPerFrame)
		copy(frame, m.pending[:SamplesPerFrame])
		m.pending = m.pending[SamplesPerFrame:]

		select {
		case m.frames <- frame:
		default:
		}
	}
}

// Close stops capture and closes the frame channel. Safe to call twice.
// Device teardown happens outside the mutex: Uninit waits for the data
// callback, and the callback takes the same lock.
func (m *Mic) Close() {
	m.mu.Lock()
	device := m.device
	allocCtx := m.ctx
	frames := m.frames
	m.device = nil
	m.ctx = nil
	m.frames = nil
	m.pending = nil
	m.mu.Unlock()

	if device != nil {
		device.Uninit()
	}
	if allocCtx != nil {
		_ = allocCtx.Uninit()
		allocCtx.Free()
	}
	if frames != nil {
		close(frames)
	}
}
