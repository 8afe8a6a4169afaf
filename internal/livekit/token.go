package livekit

import (
	"errors"
	"time"

	"github.com/livekit/protocol/auth"
)

// MintToken creates a join token for local development. The deployed client
// receives a pre-issued token through configuration; this exists so a dev
// room can be joined without a separate token service.
func MintToken(apiKey, apiSecret, roomName, identity string) (string, error) {
	if apiKey == "" || apiSecret == "" {
		return "", errors.New("livekit: api key and secret are required to mint a token")
	}

	canPublish := true
	canSubscribe := true
	canPublishData := true
	grant := &auth.VideoGrant{
		RoomJoin:       true,
		Room:           roomName,
		CanPublish:     &canPublish,
		CanSubscribe:   &canSubscribe,
		CanPublishData: &canPublishData,
	}

	at := auth.NewAccessToken(apiKey, apiSecret)
	at.SetVideoGrant(grant).
		SetIdentity(identity).
		SetValidFor(24 * time.Hour)

	return at.ToJWT()
}
