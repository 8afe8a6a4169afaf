package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sash7410/VoiceAgentRag/internal/audio"
	"github.com/sash7410/VoiceAgentRag/internal/config"
	"github.com/sash7410/VoiceAgentRag/internal/livekit"
	"github.com/sash7410/VoiceAgentRag/internal/server"
	"github.com/sash7410/VoiceAgentRag/internal/session"
	"github.com/sash7410/VoiceAgentRag/internal/transcript"
	"github.com/sash7410/VoiceAgentRag/internal/upload"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	player, err := audio.NewPlayer()
	if err != nil {
		log.Fatalf("Failed to open playback device: %v", err)
	}
	defer player.Close()

	store := transcript.NewStore()
	uploader := upload.NewClient(cfg.UploadURL)

	// The manager notifies the view through srv; srv is built right after,
	// and no state change can fire before the first Start.
	var srv *server.Server
	manager := session.NewManager(
		session.Config{URL: cfg.LiveKitURL, Token: cfg.LiveKitToken},
		livekit.NewDialer(),
		player,
		func(speaker transcript.Speaker, text string) { store.Append(speaker, text) },
		func(state session.State) { srv.BroadcastState(state) },
	)
	defer manager.Close()

	hint := ""
	if !cfg.HasCallCredentials() {
		hint = "Set LIVEKIT_URL and LIVEKIT_TOKEN to enable calls"
		log.Printf("LiveKit credentials missing; call start disabled")
	}
	srv = server.New(manager, store, uploader, hint)

	mux := http.NewServeMux()
	srv.Routes(mux)

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Port),
		Handler: mux,
	}

	go func() {
		log.Printf("Client UI on http://localhost:%s", cfg.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	log.Println("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("HTTP shutdown: %v", err)
	}
}
