package telephony

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/lexiqai/voice-bridge/internal/stt"
	"github.com/lexiqai/voice-bridge/internal/tts"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		// Twilio does not send an Origin header
		return true
	},
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// MediaHandler upgrades Twilio media stream requests and runs a StreamSession
// for each. Streams are bound to base so process shutdown ends them.
func MediaHandler(base context.Context, calls Calls, recognizer stt.Recognizer, synthesizer tts.Synthesizer, opts StreamOptions) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to upgrade connection to WebSocket")
			return
		}

		log.Info().Str("remote_addr", r.RemoteAddr).Msg("New Twilio WebSocket connection established")
		stream := NewStreamSession(conn, calls, recognizer, synthesizer, opts)
		if err := stream.Run(base); err != nil {
			log.Error().Err(err).Msg("Media stream failed")
		}
	}
}
