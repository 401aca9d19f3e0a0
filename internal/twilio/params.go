package twilio

import "strings"

// ParamsFactory composes outbound CallParams from the public base URL and
// route prefix, so the worker and the retry scheduler build identical
// blobs.
type ParamsFactory struct {
	PublicBaseURL  string
	OutgoingPrefix string
	NumberFor      func(service string) string
}

// ForOutbound builds the parameters for one outbound attempt.
func (f *ParamsFactory) ForOutbound(to, service string) CallParams {
	base := strings.TrimRight(f.PublicBaseURL, "/")
	return CallParams{
		To:                to,
		From:              f.NumberFor(service),
		TwimlURL:          base + f.OutgoingPrefix + "/outbound-call-twiml",
		StatusCallbackURL: base + f.OutgoingPrefix + "/call-status",
		MachineDetection:  true,
	}
}

// MediaStreamURL returns the wss endpoint the bridge TwiML points at.
func (f *ParamsFactory) MediaStreamURL() string {
	base := strings.TrimRight(f.PublicBaseURL, "/")
	base = strings.Replace(base, "https://", "wss://", 1)
	base = strings.Replace(base, "http://", "ws://", 1)
	return base + f.OutgoingPrefix + "/outbound-media-stream"
}
