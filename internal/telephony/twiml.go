package telephony

import (
	"net/http"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/twilio/twilio-go/twiml"
)

// MediaPath is where Twilio opens the media stream websocket.
const MediaPath = "/media"

// StreamTwiML returns a <Response> that connects the call to streamURL.
func StreamTwiML(streamURL string) (string, error) {
	connect := &twiml.VoiceConnect{
		InnerElements: []twiml.Element{
			&twiml.VoiceStream{Url: streamURL},
		},
	}
	return twiml.Voice([]twiml.Element{connect})
}

// VoiceWebhookHandler answers Twilio's incoming-call webhook by connecting the
// call to this service's media stream. publicHost overrides the request host.
func VoiceWebhookHandler(publicHost string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		host := publicHost
		if host == "" {
			host = r.Host
		}
		host = strings.TrimPrefix(strings.TrimPrefix(host, "https://"), "http://")

		doc, err := StreamTwiML("wss://" + strings.TrimRight(host, "/") + MediaPath)
		if err != nil {
			log.Error().Err(err).Msg("Failed to build TwiML")
			http.Error(w, "failed to build TwiML", http.StatusInternalServerError)
			return
		}

		log.Info().Str("call_sid", r.FormValue("CallSid")).Str("host", host).Msg("Incoming call, connecting media stream")
		w.Header().Set("Content-Type", "application/xml")
		_, _ = w.Write([]byte(doc))
	}
}
