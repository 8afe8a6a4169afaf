package config

import (
	"fmt"
	"log"
	"os"

	"github.com/google/uuid"
	"github.com/joho/godotenv"
)

type Config struct {
	Port string

	// LiveKit
	LiveKitURL       string
	LiveKitToken     string
	LiveKitAPIKey    string
	LiveKitAPISecret string
	RoomName         string
	Identity         string

	// Handbook upload helper (external process)
	UploadURL string
}

func LoadConfig() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Println("Warning: No .env file found, relying on system environment variables")
	}

	return &Config{
		Port:             getEnv("PORT", "3000"),
		LiveKitURL:       getEnv("LIVEKIT_URL", ""),
		LiveKitToken:     getEnv("LIVEKIT_TOKEN", ""),
		LiveKitAPIKey:    getEnv("LIVEKIT_API_KEY", ""),
		LiveKitAPISecret: getEnv("LIVEKIT_API_SECRET", ""),
		RoomName:         getEnv("LIVEKIT_ROOM_NAME", "skyline-showroom"),
		Identity:         getEnv("LIVEKIT_IDENTITY", defaultIdentity()),
		UploadURL:        getEnv("UPLOAD_URL", "http://localhost:8000/upload-handbook"),
	}, nil
}

// HasCallCredentials reports whether a call can be started at all. The URL
// and token are read once at startup; when either is absent the UI shows a
// persistent hint instead of a start button that silently fails.
func (c *Config) HasCallCredentials() bool {
	return c.LiveKitURL != "" && c.LiveKitToken != ""
}

// HasTokenCredentials reports whether the dev token helper can mint a join
// token locally.
func (c *Config) HasTokenCredentials() bool {
	return c.LiveKitAPIKey != "" && c.LiveKitAPISecret != ""
}

func defaultIdentity() string {
	return fmt.Sprintf("local-web-%s", uuid.NewString()[:8])
}

func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}
