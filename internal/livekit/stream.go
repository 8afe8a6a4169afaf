package livekit

import (
	"fmt"
	"io"
	"log"
	"strings"

	"github.com/hraban/opus"
	"github.com/pion/webrtc/v4"

	"github.com/sash7410/VoiceAgentRag/internal/audio"
)

// remoteStream decodes a subscribed track's RTP payload into raw PCM for the
// playback sink. Non-audio tracks carry no decoder and read as ended.
type remoteStream struct {
	track   *webrtc.TrackRemote
	decoder *opus.Decoder
	pcm     []int16
}

func newRemoteStream(track *webrtc.TrackRemote) (*remoteStream, error) {
	s := &remoteStream{track: track}
	if track.Kind() == webrtc.RTPCodecTypeAudio {
		decoder, err := opus.NewDecoder(audio.SampleRate, audio.Channels)
		if err != nil {
			return nil, fmt.Errorf("create opus decoder: %w", err)
		}
		s.decoder = decoder
		// Opus packets hold up to 60 ms of audio.
		s.pcm = make([]int16, 3*audio.SamplesPerFrame*audio.Channels)
	}
	return s, nil
}

func (s *remoteStream) Kind() string {
	return s.track.Kind().String()
}

// ReadPCM blocks for the next RTP packet and returns its decoded PCM.
// Corrupt packets are skipped; the stream only ends when the track does.
func (s *remoteStream) ReadPCM() ([]byte, error) {
	if s.decoder == nil {
		return nil, io.EOF
	}

	for {
		packet, _, err := s.track.ReadRTP()
		if err != nil {
			return nil, err
		}

		payload := packet.Payload
		// RED wraps the primary Opus payload behind a 4-byte block header.
		if strings.EqualFold(s.track.Codec().MimeType, "audio/red") && len(payload) > 4 {
			payload = payload[4:]
		}
		if len(payload) == 0 {
			continue
		}

		n, err := s.decoder.Decode(payload, s.pcm)
		if err != nil {
			log.Printf("Opus decode error: %v", err)
			continue
		}
		return audio.Int16ToBytes(s.pcm[:n*audio.Channels]), nil
	}
}
