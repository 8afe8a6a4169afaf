// Package session owns the real-time room connection for a voice call.
//
// The Manager is the only component that holds the live room handle. The
// view layer calls Start/End and observes state changes; the transport layer
// delivers subscribed audio and data messages through the Events contract.
package session

import "context"

// State is the lifecycle phase of the managed connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDisconnecting:
		return "disconnecting"
	default:
		return "unknown"
	}
}

// AudioStream is a subscribed remote track decoded to raw PCM. ReadPCM
// blocks until the next frame and returns an error when the track ends.
type AudioStream interface {
	Kind() string
	ReadPCM() ([]byte, error)
}

// AudioSink is the single playback output for remote audio. It is owned by
// whoever built the Manager and outlives individual calls.
type AudioSink interface {
	Play(pcm []byte)
}

// RoomHandle is an established room connection. At most one live handle
// exists at a time and it is never exposed outside the Manager.
type RoomHandle interface {
	// PublishMicrophone captures local audio and publishes it into the room.
	PublishMicrophone(ctx context.Context) error
	Disconnect() error
}

// Events are the inbound listeners the Manager registers against a
// connection at dial time. Handlers write only into Manager-owned state.
type Events struct {
	// OnTrackSubscribed fires for every subscribed remote track.
	OnTrackSubscribed func(stream AudioStream)
	// OnDataReceived fires for every inbound data payload.
	OnDataReceived func(payload []byte)
	// OnDisconnected fires when the transport drops the connection.
	OnDisconnected func()
}

// RoomDialer establishes room connections. The LiveKit-backed implementation
// lives in internal/livekit; tests substitute fakes.
type RoomDialer interface {
	Dial(ctx context.Context, url, token string, events Events) (RoomHandle, error)
}
