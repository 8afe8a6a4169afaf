package livekit

import (
	"context"
	"fmt"
	"log"

	"github.com/hraban/opus"
	"github.com/livekit/protocol/livekit"
	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"
	"github.com/pion/webrtc/v4/pkg/media"

	"github.com/sash7410/VoiceAgentRag/internal/audio"
)

// roomHandle is the session layer's view of a connected LiveKit room.
type roomHandle struct {
	room   *lksdk.Room
	mic    MicSource
	cancel context.CancelFunc
}

// PublishMicrophone opens the capture device, publishes an Opus track, and
// pumps encoded 20 ms frames into it until the capture stops.
func (h *roomHandle) PublishMicrophone(ctx context.Context) error {
	track, err := lksdk.NewLocalSampleTrack(webrtc.RTPCodecCapability{
		MimeType:  webrtc.MimeTypeOpus,
		ClockRate: audio.SampleRate,
		Channels:  audio.Channels,
	})
	if err != nil {
		return fmt.Errorf("create local track: %w", err)
	}

	encoder, err := opus.NewEncoder(audio.SampleRate, audio.Channels, opus.AppVoIP)
	if err != nil {
		return fmt.Errorf("create opus encoder: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	frames, err := h.mic.Start(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("open microphone: %w", err)
	}

	if _, err := h.room.LocalParticipant.PublishTrack(track, &lksdk.TrackPublicationOptions{
		Name:   "microphone",
		Source: livekit.TrackSource_MICROPHONE,
	}); err != nil {
		cancel()
		return fmt.Errorf("publish track: %w", err)
	}

	h.cancel = cancel
	go pumpMicrophone(frames, encoder, track)
	return nil
}

// Disconnect stops the microphone and leaves the room.
func (h *roomHandle) Disconnect() error {
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	h.mic.Close()
	h.room.Disconnect()
	return nil
}

func pumpMicrophone(frames <-chan []int16, encoder *opus.Encoder, track *lksdk.LocalSampleTrack) {
	buf := make([]byte, 1400)
	for frame := range frames {
		n, err := encoder.Encode(frame, buf)
		if err != nil {
			log.Printf("Opus encode error: %v", err)
			continue
		}
		packet := make([]byte, n)
		copy(packet, buf[:n])

		if err := track.WriteSample(media.Sample{Data: packet, Duration: audio.FrameDuration}, nil); err != nil {
			log.Printf("Microphone write error: %v", err)
			return
		}
	}
}
