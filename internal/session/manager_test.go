package session

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sash7410/VoiceAgentRag/internal/transcript"
)

type fakeHandle struct {
	mu            sync.Mutex
	micCalls      int
	micErr        error
	disconnects   int
	disconnectErr error

	// When set, Disconnect signals started and blocks until release closes.
	started chan struct{}
	release chan struct{}
}

func (h *fakeHandle) PublishMicrophone(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.micCalls++
	return h.micErr
}

func (h *fakeHandle) Disconnect() error {
	if h.started != nil {
		close(h.started)
		<-h.release
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.disconnects++
	return h.disconnectErr
}

func (h *fakeHandle) disconnectCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.disconnects
}

type dialRecord struct {
	url    string
	token  string
	events Events
	handle *fakeHandle
}

type fakeDialer struct {
	mu    sync.Mutex
	dials []dialRecord
	// dialFn lets a test override dial behavior; defaults to returning a
	// fresh healthy handle.
	dialFn func(ctx context.Context, url, token string, events Events) (RoomHandle, error)
}

func (d *fakeDialer) Dial(ctx context.Context, url, token string, events Events) (RoomHandle, error) {
	if d.dialFn != nil {
		h, err := d.dialFn(ctx, url, token, events)
		d.record(url, token, events, h)
		return h, err
	}
	handle := &fakeHandle{}
	d.record(url, token, events, handle)
	return handle, nil
}

func (d *fakeDialer) record(url, token string, events Events, h RoomHandle) {
	d.mu.Lock()
	defer d.mu.Unlock()
	rec := dialRecord{url: url, token: token, events: events}
	if fh, ok := h.(*fakeHandle); ok {
		rec.handle = fh
	}
	d.dials = append(d.dials, rec)
}

func (d *fakeDialer) dialCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.dials)
}

func (d *fakeDialer) dial(i int) dialRecord {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials[i]
}

type fakeSink struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *fakeSink) Play(pcm []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, pcm)
}

func (s *fakeSink) frameCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

type fakeStream struct {
	kind   string
	frames chan []byte
}

func (s *fakeStream) Kind() string { return s.kind }

func (s *fakeStream) ReadPCM() ([]byte, error) {
	frame, ok := <-s.frames
	if !ok {
		return nil, io.EOF
	}
	return frame, nil
}

type lineCollector struct {
	mu    sync.Mutex
	lines []transcript.Line
}

func (c *lineCollector) add(speaker transcript.Speaker, text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lines = append(c.lines, transcript.Line{Speaker: speaker, Text: text})
}

func (c *lineCollector) snapshot() []transcript.Line {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]transcript.Line, len(c.lines))
	copy(out, c.lines)
	return out
}

func validConfig() Config {
	return Config{URL: "wss://demo.livekit.cloud", Token: "tok-abc"}
}

func TestStartRequiresConfiguration(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{"missing url", Config{Token: "tok"}},
		{"missing token", Config{URL: "wss://demo.livekit.cloud"}},
		{"missing both", Config{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &fakeDialer{}
			m := NewManager(tt.cfg, dialer, &fakeSink{}, nil, nil)

			err := m.Start(context.Background())
			require.ErrorIs(t, err, ErrNotConfigured)
			assert.Equal(t, StateIdle, m.State())
			assert.False(t, m.Connected())
			assert.Zero(t, dialer.dialCount(), "no handle may be created without config")
		})
	}
}

func TestStartHappyPath(t *testing.T) {
	dialer := &fakeDialer{}
	states := make(chan State, 16)
	m := NewManager(validConfig(), dialer, &fakeSink{}, nil, func(s State) { states <- s })

	require.NoError(t, m.Start(context.Background()))

	assert.Equal(t, StateConnecting, <-states)
	assert.Equal(t, StateConnected, <-states)
	assert.True(t, m.Connected())

	require.Equal(t, 1, dialer.dialCount())
	rec := dialer.dial(0)
	assert.Equal(t, "wss://demo.livekit.cloud", rec.url)
	assert.Equal(t, "tok-abc", rec.token)
	assert.Equal(t, 1, rec.handle.micCalls, "microphone must be published on connect")
	assert.NotNil(t, rec.events.OnTrackSubscribed)
	assert.NotNil(t, rec.events.OnDataReceived)
}

func TestStartDialFailureRevertsToIdle(t *testing.T) {
	dialer := &fakeDialer{
		dialFn: func(ctx context.Context, url, token string, events Events) (RoomHandle, error) {
			return nil, errors.New("invalid token")
		},
	}
	m := NewManager(validConfig(), dialer, &fakeSink{}, nil, nil)

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateIdle, m.State())

	// No partial handle retained: End must be a pure no-op.
	require.NoError(t, m.End(context.Background()))
	assert.Equal(t, StateIdle, m.State())
}

func TestStartMicrophoneFailureRevertsToIdle(t *testing.T) {
	handle := &fakeHandle{micErr: errors.New("no capture device")}
	dialer := &fakeDialer{
		dialFn: func(ctx context.Context, url, token string, events Events) (RoomHandle, error) {
			return handle, nil
		},
	}
	m := NewManager(validConfig(), dialer, &fakeSink{}, nil, nil)

	err := m.Start(context.Background())
	require.Error(t, err)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 1, handle.disconnectCount(), "failed connect must not leak the handle")
}

func TestEndIsIdempotent(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(validConfig(), dialer, &fakeSink{}, nil, nil)

	// End with no live handle at all.
	require.NoError(t, m.End(context.Background()))
	require.NoError(t, m.End(context.Background()))
	assert.Equal(t, StateIdle, m.State())

	require.NoError(t, m.Start(context.Background()))
	handle := dialer.dial(0).handle

	require.NoError(t, m.End(context.Background()))
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 1, handle.disconnectCount())

	require.NoError(t, m.End(context.Background()))
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 1, handle.disconnectCount(), "second End must not touch the old handle")
}

func TestEndSwallowsDisconnectFailure(t *testing.T) {
	handle := &fakeHandle{disconnectErr: errors.New("ice teardown timeout")}
	dialer := &fakeDialer{
		dialFn: func(ctx context.Context, url, token string, events Events) (RoomHandle, error) {
			return handle, nil
		},
	}
	m := NewManager(validConfig(), dialer, &fakeSink{}, nil, nil)

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.End(context.Background()), "operator asked to end; transport errors stay internal")
	assert.Equal(t, StateIdle, m.State())
}

func TestEndReflectsIntentBeforeTeardownSettles(t *testing.T) {
	handle := &fakeHandle{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	dialer := &fakeDialer{
		dialFn: func(ctx context.Context, url, token string, events Events) (RoomHandle, error) {
			return handle, nil
		},
	}
	m := NewManager(validConfig(), dialer, &fakeSink{}, nil, nil)
	require.NoError(t, m.Start(context.Background()))

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = m.End(context.Background())
	}()

	// While the transport teardown is still blocked, the UI must already
	// see the call as not connected.
	<-handle.started
	assert.False(t, m.Connected())
	assert.Equal(t, StateDisconnecting, m.State())

	close(handle.release)
	<-done
	assert.Equal(t, StateIdle, m.State())
}

func TestRestartTearsDownPreviousHandleFirst(t *testing.T) {
	var first *fakeHandle
	dialer := &fakeDialer{}
	dialer.dialFn = func(ctx context.Context, url, token string, events Events) (RoomHandle, error) {
		if first != nil {
			// By the time the second dial happens, the first handle must
			// already be fully torn down.
			assert.Equal(t, 1, first.disconnectCount())
		}
		h := &fakeHandle{}
		if first == nil {
			first = h
		}
		return h, nil
	}
	m := NewManager(validConfig(), dialer, &fakeSink{}, nil, nil)

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()))

	assert.Equal(t, 2, dialer.dialCount())
	assert.Equal(t, 1, first.disconnectCount())
	assert.True(t, m.Connected())
}

func TestRestartIgnoresStaleDisconnectFailure(t *testing.T) {
	calls := 0
	dialer := &fakeDialer{}
	dialer.dialFn = func(ctx context.Context, url, token string, events Events) (RoomHandle, error) {
		calls++
		if calls == 1 {
			return &fakeHandle{disconnectErr: errors.New("already gone")}, nil
		}
		return &fakeHandle{}, nil
	}
	m := NewManager(validConfig(), dialer, &fakeSink{}, nil, nil)

	require.NoError(t, m.Start(context.Background()))
	require.NoError(t, m.Start(context.Background()), "stale teardown failure must not block the new call")
	assert.True(t, m.Connected())
}

func TestConcurrentStartNewestGenerationWins(t *testing.T) {
	firstDialing := make(chan struct{})
	releaseFirst := make(chan struct{})
	firstHandle := &fakeHandle{}
	secondHandle := &fakeHandle{}

	calls := 0
	var mu sync.Mutex
	dialer := &fakeDialer{}
	dialer.dialFn = func(ctx context.Context, url, token string, events Events) (RoomHandle, error) {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n == 1 {
			close(firstDialing)
			<-releaseFirst
			return firstHandle, nil
		}
		return secondHandle, nil
	}
	m := NewManager(validConfig(), dialer, &fakeSink{}, nil, nil)

	firstDone := make(chan error, 1)
	go func() { firstDone <- m.Start(context.Background()) }()
	<-firstDialing

	// Second start fires while the first dial is still in flight.
	require.NoError(t, m.Start(context.Background()))
	assert.True(t, m.Connected())

	close(releaseFirst)
	err := <-firstDone
	require.ErrorIs(t, err, ErrSuperseded)

	// Exactly one handle survives, and it is the newest caller's.
	assert.Equal(t, 1, firstHandle.disconnectCount(), "stale dial result must be torn down on arrival")
	assert.Equal(t, 0, secondHandle.disconnectCount())

	require.NoError(t, m.End(context.Background()))
	assert.Equal(t, 1, secondHandle.disconnectCount())
	assert.Equal(t, 1, firstHandle.disconnectCount())
}

func TestEndSupersedesInFlightStart(t *testing.T) {
	dialing := make(chan struct{})
	release := make(chan struct{})
	handle := &fakeHandle{}
	dialer := &fakeDialer{
		dialFn: func(ctx context.Context, url, token string, events Events) (RoomHandle, error) {
			close(dialing)
			<-release
			return handle, nil
		},
	}
	m := NewManager(validConfig(), dialer, &fakeSink{}, nil, nil)

	done := make(chan error, 1)
	go func() { done <- m.Start(context.Background()) }()
	<-dialing

	require.NoError(t, m.End(context.Background()))
	close(release)

	require.ErrorIs(t, <-done, ErrSuperseded)
	assert.Equal(t, StateIdle, m.State())
	assert.Equal(t, 1, handle.disconnectCount())
}

func TestTransportDropResetsState(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(validConfig(), dialer, &fakeSink{}, nil, nil)
	require.NoError(t, m.Start(context.Background()))

	rec := dialer.dial(0)
	rec.events.OnDisconnected()

	assert.Equal(t, StateIdle, m.State())

	// The dropped handle is gone; End must not disconnect it again.
	require.NoError(t, m.End(context.Background()))
	assert.Equal(t, 0, rec.handle.disconnectCount())
}

func TestTransportDropAfterEndIsIgnored(t *testing.T) {
	dialer := &fakeDialer{}
	m := NewManager(validConfig(), dialer, &fakeSink{}, nil, nil)
	require.NoError(t, m.Start(context.Background()))
	rec := dialer.dial(0)

	require.NoError(t, m.End(context.Background()))
	require.NoError(t, m.Start(context.Background()))

	// Drop notification from the first, long-gone connection.
	rec.events.OnDisconnected()
	assert.True(t, m.Connected(), "stale drop must not kill the new call")
}

func TestStateObserverKeepsNewestUnderBackpressure(t *testing.T) {
	dialer := &fakeDialer{}
	block := make(chan struct{})
	var once sync.Once
	var mu sync.Mutex
	var seen []State
	m := NewManager(validConfig(), dialer, &fakeSink{}, nil, func(s State) {
		once.Do(func() { <-block })
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	// Each cycle emits connecting, connected, disconnecting, idle. Enough
	// cycles to overflow the notification buffer while the observer is stuck
	// on its first delivery.
	const cycles = 8
	for i := 0; i < cycles; i++ {
		require.NoError(t, m.Start(context.Background()))
		require.NoError(t, m.End(context.Background()))
	}
	close(block)

	// Older transitions may be shed, but the final state must arrive.
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) > 0 && seen[len(seen)-1] == StateIdle
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Less(t, len(seen), 4*cycles, "a stuck observer must shed, not queue unboundedly")
}

func TestCloseStopsStateNotifications(t *testing.T) {
	dialer := &fakeDialer{}
	var mu sync.Mutex
	var seen []State
	m := NewManager(validConfig(), dialer, &fakeSink{}, nil, func(s State) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
	})

	require.NoError(t, m.Start(context.Background()))
	m.Close()
	m.Close() // second close must be a no-op

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(seen) == 4 && seen[3] == StateIdle
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, 1, dialer.dial(0).handle.disconnectCount())

	// A transport drop arriving after shutdown must not notify anyone.
	dialer.dial(0).events.OnDisconnected()
	time.Sleep(20 * time.Millisecond)
	mu.Lock()
	defer mu.Unlock()
	assert.Len(t, seen, 4)
}

func TestDataMessageForwarding(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    int
	}{
		{"agent line", `{"speaker":"agent","text":"Welcome to Skyline Motors"}`, 1},
		{"user line", `{"speaker":"user","text":"Hello"}`, 1},
		{"extra fields tolerated", `{"speaker":"user","text":"hi","seq":42}`, 1},
		{"missing text", `{"speaker":"user"}`, 0},
		{"missing speaker", `{"text":"hi"}`, 0},
		{"empty text", `{"speaker":"agent","text":""}`, 0},
		{"empty speaker", `{"speaker":"","text":"hi"}`, 0},
		{"unknown speaker", `{"speaker":"system","text":"hi"}`, 0},
		{"not json", `welcome!`, 0},
		{"invalid utf8", "\xff\xfe{", 0},
		{"wrong types", `{"speaker":1,"text":2}`, 0},
		{"empty payload", ``, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dialer := &fakeDialer{}
			collector := &lineCollector{}
			m := NewManager(validConfig(), dialer, &fakeSink{}, collector.add, nil)
			require.NoError(t, m.Start(context.Background()))

			dialer.dial(0).events.OnDataReceived([]byte(tt.payload))
			assert.Len(t, collector.snapshot(), tt.want)
		})
	}
}

func TestDataMessagesKeepDeliveryOrder(t *testing.T) {
	dialer := &fakeDialer{}
	collector := &lineCollector{}
	m := NewManager(validConfig(), dialer, &fakeSink{}, collector.add, nil)
	require.NoError(t, m.Start(context.Background()))

	events := dialer.dial(0).events
	events.OnDataReceived([]byte(`{"speaker":"user","text":"first"}`))
	events.OnDataReceived([]byte(`{"speaker":"agent","text":"second"}`))
	events.OnDataReceived([]byte(`{"speaker":"user","text":"third"}`))

	lines := collector.snapshot()
	require.Len(t, lines, 3)
	assert.Equal(t, "first", lines[0].Text)
	assert.Equal(t, "second", lines[1].Text)
	assert.Equal(t, "third", lines[2].Text)
}

func TestAudioTrackBoundToSink(t *testing.T) {
	dialer := &fakeDialer{}
	sink := &fakeSink{}
	m := NewManager(validConfig(), dialer, sink, nil, nil)
	require.NoError(t, m.Start(context.Background()))

	stream := &fakeStream{kind: "audio", frames: make(chan []byte, 4)}
	stream.frames <- []byte{1, 2}
	stream.frames <- []byte{3, 4}
	close(stream.frames)

	dialer.dial(0).events.OnTrackSubscribed(stream)

	require.Eventually(t, func() bool { return sink.frameCount() == 2 },
		time.Second, 5*time.Millisecond)
}

func TestNonAudioTrackIgnored(t *testing.T) {
	dialer := &fakeDialer{}
	sink := &fakeSink{}
	m := NewManager(validConfig(), dialer, sink, nil, nil)
	require.NoError(t, m.Start(context.Background()))

	stream := &fakeStream{kind: "video", frames: make(chan []byte, 1)}
	stream.frames <- []byte{9}
	close(stream.frames)

	dialer.dial(0).events.OnTrackSubscribed(stream)

	time.Sleep(20 * time.Millisecond)
	assert.Zero(t, sink.frameCount())
}

// TestShowroomCallScenario walks the whole demo flow against a real
// transcript store: start, remote audio playback, an agent greeting, end.
func TestShowroomCallScenario(t *testing.T) {
	dialer := &fakeDialer{}
	sink := &fakeSink{}
	store := transcript.NewStore()

	states := make(chan State, 16)
	m := NewManager(validConfig(), dialer, sink,
		func(speaker transcript.Speaker, text string) { store.Append(speaker, text) },
		func(s State) { states <- s })

	require.NoError(t, m.Start(context.Background()))
	assert.Equal(t, StateConnecting, <-states)
	assert.Equal(t, StateConnected, <-states)

	events := dialer.dial(0).events

	stream := &fakeStream{kind: "audio", frames: make(chan []byte, 1)}
	stream.frames <- []byte{0, 1, 2, 3}
	close(stream.frames)
	events.OnTrackSubscribed(stream)
	require.Eventually(t, func() bool { return sink.frameCount() == 1 },
		time.Second, 5*time.Millisecond)

	events.OnDataReceived([]byte(`{"speaker":"agent","text":"Welcome to Skyline Motors"}`))
	lines := store.Lines()
	require.Len(t, lines, 1)
	assert.Equal(t, transcript.SpeakerAgent, lines[0].Speaker)
	assert.Equal(t, "Welcome to Skyline Motors", lines[0].Text)

	require.NoError(t, m.End(context.Background()))
	assert.Equal(t, StateDisconnecting, <-states)
	assert.Equal(t, StateIdle, <-states)
	assert.Equal(t, 1, dialer.dial(0).handle.disconnectCount())
}
