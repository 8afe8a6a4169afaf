package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"

	"github.com/sash7410/VoiceAgentRag/internal/transcript"
)

// ErrNotConfigured is returned by Start when the room URL or access token is
// missing. The view layer surfaces this as a persistent hint.
var ErrNotConfigured = errors.New("session: room URL and access token must be configured")

// ErrSuperseded is returned by Start when a newer Start or End call won the
// race while this one was still dialing. The stale connection has already
// been torn down.
var ErrSuperseded = errors.New("session: start superseded by a newer call")

// message is the wire shape published by the backend agent. Anything that
// does not decode to this shape is dropped.
type message struct {
	Speaker string `json:"speaker"`
	Text    string `json:"text"`
}

// Config carries the connection endpoint and credential, read once at
// startup.
type Config struct {
	URL   string
	Token string
}

// LineFunc receives each transcript line the agent publishes, in delivery
// order.
type LineFunc func(speaker transcript.Speaker, text string)

// StateFunc observes lifecycle state changes.
type StateFunc func(State)

// Manager mediates connect/disconnect for the voice call, wires inbound
// audio and data messages to their consumers, and guarantees that at most
// one live room handle exists at any instant.
type Manager struct {
	cfg    Config
	dialer RoomDialer
	sink   AudioSink

	onLine  LineFunc
	onState StateFunc

	// stateCh decouples state notifications from m.mu so observers can call
	// back into the manager. Changes are delivered in order; when the
	// observer falls behind, the oldest queued change is shed so the latest
	// state always arrives.
	stateCh chan State

	mu     sync.Mutex
	state  State
	handle RoomHandle
	closed bool
	// generation increments on every Start and End. Results of an in-flight
	// dial are applied only if the generation is still current, so the
	// surviving handle always matches the most recent caller's intent.
	generation uint64
}

// NewManager builds a manager. onLine and onState may be nil.
func NewManager(cfg Config, dialer RoomDialer, sink AudioSink, onLine LineFunc, onState StateFunc) *Manager {
	m := &Manager{
		cfg:     cfg,
		dialer:  dialer,
		sink:    sink,
		onLine:  onLine,
		onState: onState,
		state:   StateIdle,
	}
	if onState != nil {
		m.stateCh = make(chan State, 16)
		go func() {
			for s := range m.stateCh {
				onState(s)
			}
		}()
	}
	return m
}

// State returns the current lifecycle state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether a call is live. This is the single source of
// truth for enabling the end-call control.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// Start establishes a room connection, registers the inbound listeners,
// captures and publishes the microphone, and flips the state to connected.
//
// A stale handle from a previous call is disconnected first, ignoring any
// failure from that disconnect. On any dial or publish failure the state
// reverts to idle and no handle is retained.
func (m *Manager) Start(ctx context.Context) error {
	if m.cfg.URL == "" || m.cfg.Token == "" {
		log.Printf("Call start blocked: LiveKit URL or token not configured")
		return ErrNotConfigured
	}

	m.mu.Lock()
	if stale := m.handle; stale != nil {
		// Teardown-then-restart: discard the old handle before dialing.
		m.handle = nil
		m.mu.Unlock()
		if err := stale.Disconnect(); err != nil {
			log.Printf("Stale handle disconnect failed (ignored): %v", err)
		}
		m.mu.Lock()
	}
	m.generation++
	gen := m.generation
	m.setStateLocked(StateConnecting)
	m.mu.Unlock()

	events := Events{
		OnTrackSubscribed: m.handleTrack,
		OnDataReceived:    m.handleData,
		OnDisconnected:    func() { m.handleTransportDrop(gen) },
	}

	handle, err := m.dialer.Dial(ctx, m.cfg.URL, m.cfg.Token, events)
	if err != nil {
		m.revert(gen)
		return fmt.Errorf("connect to room: %w", err)
	}

	if err := handle.PublishMicrophone(ctx); err != nil {
		if derr := handle.Disconnect(); derr != nil {
			log.Printf("Disconnect after failed publish (ignored): %v", derr)
		}
		m.revert(gen)
		return fmt.Errorf("publish microphone: %w", err)
	}

	m.mu.Lock()
	if gen != m.generation {
		m.mu.Unlock()
		log.Printf("Connection superseded mid-dial, tearing down")
		if err := handle.Disconnect(); err != nil {
			log.Printf("Superseded handle disconnect failed (ignored): %v", err)
		}
		return ErrSuperseded
	}
	m.handle = handle
	m.setStateLocked(StateConnected)
	m.mu.Unlock()

	log.Printf("Call connected")
	return nil
}

// End tears down the live call. It is idempotent: with no live handle it is
// a no-op. The handle reference is cleared and the state leaves connected
// before the underlying teardown is awaited, so the UI reflects intent
// immediately. Teardown failures are logged and swallowed.
func (m *Manager) End(ctx context.Context) error {
	m.mu.Lock()
	m.generation++
	handle := m.handle
	m.handle = nil
	if handle == nil {
		if m.state != StateIdle {
			m.setStateLocked(StateIdle)
		}
		m.mu.Unlock()
		return nil
	}
	m.setStateLocked(StateDisconnecting)
	m.mu.Unlock()

	if err := handle.Disconnect(); err != nil {
		log.Printf("Disconnect failed (ignored): %v", err)
	}

	m.mu.Lock()
	if m.state == StateDisconnecting {
		m.setStateLocked(StateIdle)
	}
	m.mu.Unlock()

	log.Printf("Call ended")
	return nil
}

// Close force-disconnects any live handle regardless of state and stops the
// state observer. Called when the owning scope shuts down; safe to call more
// than once.
func (m *Manager) Close() {
	if err := m.End(context.Background()); err != nil {
		log.Printf("Close disconnect failed (ignored): %v", err)
	}
	m.mu.Lock()
	if m.stateCh != nil && !m.closed {
		m.closed = true
		close(m.stateCh)
	}
	m.mu.Unlock()
}

// revert returns the state to idle after a failed Start, unless a newer
// Start or End already moved it.
func (m *Manager) revert(gen uint64) {
	m.mu.Lock()
	if gen == m.generation {
		m.setStateLocked(StateIdle)
	}
	m.mu.Unlock()
}

// handleTransportDrop resets the manager when the transport drops a
// connection we still consider live. Drops triggered by our own Disconnect
// arrive after the generation has moved on and are ignored.
func (m *Manager) handleTransportDrop(gen uint64) {
	m.mu.Lock()
	if gen != m.generation || m.handle == nil {
		m.mu.Unlock()
		return
	}
	m.handle = nil
	m.setStateLocked(StateIdle)
	m.mu.Unlock()
	log.Printf("Connection dropped by transport")
}

// handleTrack binds subscribed audio tracks to the playback sink. Other
// track kinds are ignored.
func (m *Manager) handleTrack(stream AudioStream) {
	if stream.Kind() != "audio" {
		log.Printf("Ignoring subscribed %s track", stream.Kind())
		return
	}

	go func() {
		for {
			pcm, err := stream.ReadPCM()
			if err != nil {
				return
			}
			if m.sink != nil {
				m.sink.Play(pcm)
			}
		}
	}()
}

// handleData decodes one structured message and forwards it to the
// transcript callback. Malformed or partially populated payloads are
// dropped; a corrupt frame must not end the call.
func (m *Manager) handleData(payload []byte) {
	var msg message
	if err := json.Unmarshal(payload, &msg); err != nil {
		return
	}
	if msg.Text == "" {
		return
	}
	speaker := transcript.Speaker(msg.Speaker)
	if speaker != transcript.SpeakerUser && speaker != transcript.SpeakerAgent {
		return
	}
	if m.onLine != nil {
		m.onLine(speaker, msg.Text)
	}
}

func (m *Manager) setStateLocked(s State) {
	if m.state == s {
		return
	}
	m.state = s
	if m.stateCh == nil || m.closed {
		return
	}
	for {
		select {
		case m.stateCh <- s:
			return
		default:
		}
		// Observer is behind; shed the oldest queued transition so the
		// newest state is never lost.
		select {
		case <-m.stateCh:
		default:
		}
	}
}
