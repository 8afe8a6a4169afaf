package server

import (
	"context"
	"embed"
	"encoding/json"
	"io/fs"
	"log"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/sash7410/VoiceAgentRag/internal/session"
)

//go:embed static
var staticFiles embed.FS

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // local demo UI only
	},
}

// Routes registers the page, the websocket, and the upload forwarder.
func (s *Server) Routes(mux *http.ServeMux) {
	static, err := fs.Sub(staticFiles, "static")
	if err != nil {
		log.Fatalf("Static assets missing from build: %v", err)
	}
	mux.Handle("/", http.FileServer(http.FS(static)))
	mux.HandleFunc("/ws", s.handleWebSocket)
	mux.HandleFunc("/api/upload", s.handleUpload)
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Upgrade error: %v", err)
		return
	}
	defer conn.Close()

	c := &client{conn: conn}
	s.addClient(c)
	defer s.removeClient(c)

	log.Println("View connected")
	s.syncClient(c)

	for {
		var cmd command
		if err := conn.ReadJSON(&cmd); err != nil {
			log.Printf("View read error: %v", err)
			return
		}
		s.dispatch(cmd)
	}
}

// syncClient replays current state to a newly connected page: the hint, the
// connection state, and the transcript so far.
func (s *Server) syncClient(c *client) {
	if s.hint != "" {
		c.send(event{Type: "hint", Text: s.hint})
	}
	state := s.controller.State()
	c.send(event{
		Type:      "state",
		State:     state.String(),
		Connected: state == session.StateConnected,
	})
	for _, line := range s.store.Lines() {
		line := line
		c.send(event{Type: "line", Line: &line})
	}
}

// dispatch runs a page command. Start and End are asynchronous and detached
// from the websocket's request context: a call outlives a page refresh, and
// the page hears about outcomes through state events, never errors.
func (s *Server) dispatch(cmd command) {
	switch cmd.Action {
	case "start":
		go func() {
			if err := s.controller.Start(context.Background()); err != nil {
				log.Printf("Start call: %v", err)
			}
		}()
	case "end":
		go func() {
			if err := s.controller.End(context.Background()); err != nil {
				log.Printf("End call: %v", err)
			}
		}()
	default:
		log.Printf("Unknown view action %q", cmd.Action)
	}
}

// handleUpload forwards one file from the page to the external handbook
// helper and reports the outcome to the uploading page and all others.
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	file, header, err := r.FormFile("pdf")
	if err != nil {
		http.Error(w, "expected form field 'pdf'", http.StatusBadRequest)
		return
	}
	defer file.Close()

	result := s.uploader.Send(r.Context(), header.Filename, file)
	s.broadcast(event{Type: "upload", Text: result.Status})

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(result); err != nil {
		log.Printf("Upload response write error: %v", err)
	}
}
