// Package server is the view layer: it serves the single-page call UI and
// pushes transcript lines, connection state, and upload outcomes to it over
// a websocket. The page's start/end buttons are the call controls; they are
// a pure function of the connection state pushed from here.
package server

import (
	"context"
	"io"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/sash7410/VoiceAgentRag/internal/session"
	"github.com/sash7410/VoiceAgentRag/internal/transcript"
	"github.com/sash7410/VoiceAgentRag/internal/upload"
)

// CallController is the manager surface the view needs: start, end, status.
type CallController interface {
	Start(ctx context.Context) error
	End(ctx context.Context) error
	State() session.State
}

// Uploader submits one handbook file and reports the outcome.
type Uploader interface {
	Send(ctx context.Context, filename string, file io.Reader) upload.Result
}

// event is the envelope pushed to connected pages.
type event struct {
	Type      string           `json:"type"` // state | line | hint | upload
	State     string           `json:"state,omitempty"`
	Connected bool             `json:"connected,omitempty"`
	Line      *transcript.Line `json:"line,omitempty"`
	Text      string           `json:"text,omitempty"`
}

// command is what the page sends back.
type command struct {
	Action string `json:"action"` // start | end
}

type Server struct {
	controller CallController
	store      *transcript.Store
	uploader   Uploader
	// hint is a persistent operator-facing message shown when the call
	// cannot start (missing URL or token). Empty when configured.
	hint string

	mu      sync.Mutex
	clients map[*client]struct{}
}

type client struct {
	conn *websocket.Conn
	// gorilla allows one concurrent writer per connection.
	writeMu sync.Mutex
}

func New(controller CallController, store *transcript.Store, uploader Uploader, hint string) *Server {
	s := &Server{
		controller: controller,
		store:      store,
		uploader:   uploader,
		hint:       hint,
		clients:    make(map[*client]struct{}),
	}
	store.Subscribe(func(line transcript.Line) {
		s.broadcast(event{Type: "line", Line: &line})
	})
	return s
}

// BroadcastState pushes a connection state change to every page. Wired as
// the session manager's state observer.
func (s *Server) BroadcastState(state session.State) {
	s.broadcast(event{
		Type:      "state",
		State:     state.String(),
		Connected: state == session.StateConnected,
	})
}

func (s *Server) broadcast(evt event) {
	s.mu.Lock()
	clients := make([]*client, 0, len(s.clients))
	for c := range s.clients {
		clients = append(clients, c)
	}
	s.mu.Unlock()

	for _, c := range clients {
		c.send(evt)
	}
}

func (c *client) send(evt event) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	// Write errors surface in the read loop as a closed connection.
	_ = c.conn.WriteJSON(evt)
}

func (s *Server) addClient(c *client) {
	s.mu.Lock()
	s.clients[c] = struct{}{}
	s.mu.Unlock()
}

func (s *Server) removeClient(c *client) {
	s.mu.Lock()
	delete(s.clients, c)
	s.mu.Unlock()
}
