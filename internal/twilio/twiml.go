package twilio

import (
	"encoding/xml"
	"fmt"
)

// StreamParam is a custom parameter passed into the media stream's start
// frame.
type StreamParam struct {
	XMLName xml.Name `xml:"Parameter"`
	Name    string   `xml:"name,attr"`
	Value   string   `xml:"value,attr"`
}

type stream struct {
	XMLName xml.Name      `xml:"Stream"`
	URL     string        `xml:"url,attr"`
	Params  []StreamParam `xml:""`
}

type connect struct {
	XMLName xml.Name `xml:"Connect"`
	Stream  stream   `xml:""`
}

type voiceResponse struct {
	XMLName xml.Name `xml:"Response"`
	Connect connect  `xml:""`
}

// BridgeTwiML renders the instruction that bridges a call to a media
// WebSocket, carrying the given custom parameters into the stream's start
// event.
func BridgeTwiML(wsURL string, params map[string]string) (string, error) {
	s := stream{URL: wsURL}
	for name, value := range params {
		s.Params = append(s.Params, StreamParam{Name: name, Value: value})
	}
	doc := voiceResponse{Connect: connect{Stream: s}}
	out, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", fmt.Errorf("twilio: render twiml: %w", err)
	}
	return xml.Header + string(out), nil
}
