package audio

import (
	"fmt"
	"log"
	"sync"

	"github.com/gen2brain/malgo"
)

// maxBufferedBytes caps the playout buffer at roughly ten seconds of audio.
// If the device stalls that far behind, the oldest audio is dropped rather
// than letting the buffer grow without bound.
const maxBufferedBytes = SampleRate * bytesPerSampleS16 * 10

// Player is the single process-wide playback sink. It owns one malgo
// playback device fed from an internal PCM buffer; when the buffer runs dry
// the device plays silence.
//
// Create it once at startup and Close it on shutdown. The session layer is
// the only writer.
type Player struct {
	ctx    *malgo.AllocatedContext
	device *malgo.Device

	mu  sync.Mutex
	buf []byte
}

func NewPlayer() (*Player, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("init audio context: %w", err)
	}

	p := &Player{ctx: ctx}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Playback)
	deviceConfig.Playback.Format = malgo.FormatS16
	deviceConfig.Playback.Channels = Channels
	deviceConfig.SampleRate = SampleRate
	deviceConfig.Alsa.NoMMap = 1

	device, err := malgo.InitDevice(ctx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: func(outputSamples, inputSamples []byte, frameCount uint32) {
			p.fill(outputSamples)
		},
	})
	if err != nil {
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("init playback device: %w", err)
	}
	p.device = device

	if err := device.Start(); err != nil {
		device.Uninit()
		_ = ctx.Uninit()
		ctx.Free()
		return nil, fmt.Errorf("start playback device: %w", err)
	}

	return p, nil
}

// Play queues decoded PCM for playback. Never blocks.
func (p *Player) Play(pcm []byte) {
	p.mu.Lock()
	p.buf = append(p.buf, pcm...)
	if overflow := len(p.buf) - maxBufferedBytes; overflow > 0 {
		log.Printf("Playback buffer overflow, dropping %d bytes", overflow)
		p.buf = p.buf[overflow:]
	}
	p.mu.Unlock()
}

// fill copies buffered audio into the device's output, zero-padding the
// remainder.
func (p *Player) fill(out []byte) {
	p.mu.Lock()
	n := copy(out, p.buf)
	p.buf = p.buf[n:]
	p.mu.Unlock()

	for i := n; i < len(out); i++ {
		out[i] = 0
	}
}

// Close stops the device and releases the audio context.
func (p *Player) Close() error {
	if p.device != nil {
		p.device.Uninit()
		p.device = nil
	}
	if p.ctx != nil {
		err := p.ctx.Uninit()
		p.ctx.Free()
		p.ctx = nil
		return err
	}
	return nil
}
