package bridge

import "encoding/json"

// ----- Telephony media-stream frames -----

// telephonyFrame is the envelope of every message on the telephony media
// socket.
type telephonyFrame struct {
	Event     string          `json:"event"`
	StreamSid string          `json:"streamSid,omitempty"`
	Start     *startFrame     `json:"start,omitempty"`
	Media     *mediaFrame     `json:"media,omitempty"`
	Mark      json.RawMessage `json:"mark,omitempty"`
}

// startFrame announces the stream and carries the custom parameters set in
// the bridge TwiML.
type startFrame struct {
	StreamSid        string            `json:"streamSid"`
	CallSid          string            `json:"callSid"`
	CustomParameters map[string]string `json:"customParameters"`
}

// mediaFrame carries one base64 audio chunk.
type mediaFrame struct {
	Payload string `json:"payload"`
}

// outMediaFrame is an audio chunk sent back to the telephony socket.
type outMediaFrame struct {
	Event     string     `json:"event"`
	StreamSid string     `json:"streamSid"`
	Media     mediaFrame `json:"media"`
}

// clearFrame tells the telephony side to drop buffered audio after an
// interruption.
type clearFrame struct {
	Event     string `json:"event"`
	StreamSid string `json:"streamSid"`
}

// ----- Voice-AI socket messages -----

// aiMessage is the envelope of every message from the voice-AI socket.
type aiMessage struct {
	Type string `json:"type"`

	Audio *struct {
		Base64 string `json:"audio_base_64"`
	} `json:"audio_event,omitempty"`

	Ping *struct {
		EventID int `json:"event_id"`
	} `json:"ping_event,omitempty"`

	InitMetadata *struct {
		ConversationID string `json:"conversation_id"`
	} `json:"conversation_initiation_metadata_event,omitempty"`

	FunctionCall *functionCall `json:"function_call,omitempty"`
}

// functionCall is a tool invocation from the agent.
type functionCall struct {
	Name       string          `json:"name"`
	CallID     string          `json:"call_id"`
	Parameters json.RawMessage `json:"parameters"`
}

// userAudio is an inbound audio chunk forwarded to the agent.
type userAudio struct {
	Type           string `json:"type"`
	UserAudioChunk string `json:"user_audio_chunk"`
}

// pong answers a ping.
type pong struct {
	Type    string `json:"type"`
	EventID int    `json:"event_id"`
}

// functionCallResponse carries a tool result back to the agent.
type functionCallResponse struct {
	Type   string `json:"type"`
	CallID string `json:"call_id"`
	Result string `json:"result"`
}

// initiation is the single conversation_initiation_client_data message sent
// when the AI socket opens.
type initiation struct {
	Type             string            `json:"type"`
	DynamicVariables map[string]string `json:"dynamic_variables"`
	Override         *initOverride     `json:"conversation_config_override,omitempty"`
}

type initOverride struct {
	Agent struct {
		FirstMessage string `json:"first_message"`
	} `json:"agent"`
}

// bookArgs are the parameters of the book_appointment function call.
type bookArgs struct {
	AppointmentDate string `json:"appointmentDate"`
	Address         string `json:"address"`
}
