// Command token mints a LiveKit join token for local development.
//
// Usage:
//
//	LIVEKIT_API_KEY=devkey LIVEKIT_API_SECRET=secret go run ./cmd/token
//
// Put the printed token in LIVEKIT_TOKEN for the client.
package main

import (
	"fmt"
	"log"

	"github.com/sash7410/VoiceAgentRag/internal/config"
	"github.com/sash7410/VoiceAgentRag/internal/livekit"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if !cfg.HasTokenCredentials() {
		log.Fatal("LIVEKIT_API_KEY and LIVEKIT_API_SECRET must be set")
	}

	token, err := livekit.MintToken(cfg.LiveKitAPIKey, cfg.LiveKitAPISecret, cfg.RoomName, cfg.Identity)
	if err != nil {
		log.Fatalf("Failed to mint token: %v", err)
	}

	fmt.Println(token)
}
