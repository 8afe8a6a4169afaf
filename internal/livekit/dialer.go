// Package livekit adapts the LiveKit SDK to the session layer: it dials
// rooms, translates SDK callbacks into session events, and publishes the
// local microphone track.
package livekit

import (
	"context"
	"fmt"
	"log"

	lksdk "github.com/livekit/server-sdk-go/v2"
	"github.com/pion/webrtc/v4"

	"github.com/sash7410/VoiceAgentRag/internal/audio"
	"github.com/sash7410/VoiceAgentRag/internal/session"
)

// MicSource is a capture device producing fixed-size PCM frames. Each room
// handle owns its own source so tearing down a stale connection can never
// silence a newer one.
type MicSource interface {
	Start(ctx context.Context) (<-chan []int16, error)
	Close()
}

// Dialer connects to LiveKit rooms.
type Dialer struct {
	newMic func() MicSource
}

func NewDialer() *Dialer {
	return &Dialer{newMic: func() MicSource { return audio.NewMic() }}
}

func (d *Dialer) Dial(ctx context.Context, url, token string, events session.Events) (session.RoomHandle, error) {
	callback := &lksdk.RoomCallback{
		ParticipantCallback: lksdk.ParticipantCallback{
			OnTrackSubscribed: func(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				log.Printf("Subscribed to track %s from %s (codec: %s)",
					track.ID(), rp.Identity(), track.Codec().MimeType)
				if events.OnTrackSubscribed == nil {
					return
				}
				stream, err := newRemoteStream(track)
				if err != nil {
					log.Printf("Remote stream setup failed: %v", err)
					return
				}
				events.OnTrackSubscribed(stream)
			},
			OnTrackUnsubscribed: func(track *webrtc.TrackRemote, publication *lksdk.RemoteTrackPublication, rp *lksdk.RemoteParticipant) {
				log.Printf("Track unsubscribed from %s", rp.Identity())
			},
			OnDataPacket: func(data lksdk.DataPacket, params lksdk.DataReceiveParams) {
				user, ok := data.(*lksdk.UserDataPacket)
				if !ok || events.OnDataReceived == nil {
					return
				}
				events.OnDataReceived(user.Payload)
			},
		},
		OnParticipantConnected: func(rp *lksdk.RemoteParticipant) {
			log.Printf("Participant connected: %s", rp.Identity())
		},
		OnParticipantDisconnected: func(rp *lksdk.RemoteParticipant) {
			log.Printf("Participant disconnected: %s", rp.Identity())
		},
		OnDisconnected: func() {
			if events.OnDisconnected != nil {
				events.OnDisconnected()
			}
		},
	}

	room, err := lksdk.ConnectToRoomWithToken(url, token, callback, lksdk.WithAutoSubscribe(true))
	if err != nil {
		return nil, fmt.Errorf("join room: %w", err)
	}

	log.Printf("Joined room: %s", room.Name())
	return &roomHandle{room: room, mic: d.newMic()}, nil
}
