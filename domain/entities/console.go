package entities

import "fmt"

// Mode is one of the console's mutually exclusive interaction modes
type Mode string

const (
	ModeChat   Mode = "chat"
	ModeLive   Mode = "live"
	ModeStudio Mode = "studio"
	ModeVision Mode = "vision"
)

// Modes lists every console mode
var Modes = []Mode{ModeChat, ModeLive, ModeStudio, ModeVision}

// ParseMode converts a string to a Mode
func ParseMode(s string) (Mode, error) {
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("unknown mode %q", s)
}

// LatLng is an optional location used to bias grounding results
type LatLng struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Validate validates the coordinates
func (l LatLng) Validate() error {
	if l.Latitude < -90 || l.Latitude > 90 {
		return fmt.Errorf("latitude %f out of range", l.Latitude)
	}
	if l.Longitude < -180 || l.Longitude > 180 {
		return fmt.Errorf("longitude %f out of range", l.Longitude)
	}
	return nil
}

// Attachment is an inline media payload sent along with a request
type Attachment struct {
	Data     []byte `json:"data"`
	MIMEType string `json:"mime_type"`
}

// Severity of a notice
type Severity string

const (
	SeverityFatal   Severity = "fatal"
	SeverityWarning Severity = "warning"
)

// Notice is an error notification for the presentation layer
type Notice struct {
	Severity Severity `json:"severity"`
	Kind     string   `json:"kind"`
	Message  string   `json:"message"`
}
