package telephony

// Twilio Media Streams event names.
const (
	EventConnected = "connected"
	EventStart     = "start"
	EventMedia     = "media"
	EventMark      = "mark"
	EventStop      = "stop"
)

// TwilioMessage represents a message from Twilio Media Streams
type TwilioMessage struct {
	Event          string       `json:"event"`
	SequenceNumber string       `json:"sequenceNumber,omitempty"`
	StreamSid      string       `json:"streamSid,omitempty"`
	Protocol       string       `json:"protocol,omitempty"`
	Version        string       `json:"version,omitempty"`
	Start          *TwilioStart `json:"start,omitempty"`
	Media          *TwilioMedia `json:"media,omitempty"`
	Mark           *TwilioMark  `json:"mark,omitempty"`
	Stop           *TwilioStop  `json:"stop,omitempty"`
}

// TwilioMedia represents the media payload in a media event
type TwilioMedia struct {
	Track     string `json:"track,omitempty"`
	Chunk     string `json:"chunk,omitempty"`     // sequence of the chunk within the track
	Timestamp string `json:"timestamp,omitempty"` // ms since stream start
	Payload   string `json:"payload"` // base64 μ-law
}

// TwilioStart represents the start event payload
type TwilioStart struct {
	AccountSid       string            `json:"accountSid"`
	CallSid          string            `json:"callSid"`
	StreamSid        string            `json:"streamSid"`
	Tracks           []string          `json:"tracks"`
	CustomParameters map[string]string `json:"customParameters,omitempty"`
	MediaFormat      *MediaFormat      `json:"mediaFormat,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	Channels   int    `json:"channels"`
}

// TwilioMark names a playback marker, in both directions.
type TwilioMark struct {
	Name string `json:"name"`
}

// TwilioStop represents the stop event payload
type TwilioStop struct {
	AccountSid string `json:"accountSid"`
	CallSid    string `json:"callSid"`
}

// OutboundMedia is one audio chunk sent back to the caller.
type OutboundMedia struct {
	Event     string        `json:"event"`
	StreamSid string        `json:"streamSid"`
	Media     OutboundChunk `json:"media"`
}

type OutboundChunk struct {
	Payload string `json:"payload"`
}

// OutboundMark asks Twilio to echo Name once everything queued before it has played.
type OutboundMark struct {
	Event     string     `json:"event"`
	StreamSid string     `json:"streamSid"`
	Mark      TwilioMark `json:"mark"`
}

func newOutboundMedia(streamSid, payload string) OutboundMedia {
	return OutboundMedia{Event: EventMedia, StreamSid: streamSid, Media: OutboundChunk{Payload: payload}}
}

func newOutboundMark(streamSid, name string) OutboundMark {
	return OutboundMark{Event: EventMark, StreamSid: streamSid, Mark: TwilioMark{Name: name}}
}
