// Package pcm converts between captured samples, 16-bit PCM bytes and the
// base64 transport text exchanged with the live peer.
package pcm

import (
	"encoding/base64"

	"github.com/satriahrh/nexus/domain"
)

// DecodeError is returned when transport text is not valid base64.
// The chunk carrying it should be dropped; the session continues.
type DecodeError struct {
	Err error
}

func (e *DecodeError) Error() string {
	return "malformed transport text: " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error {
	return domain.E(domain.KindDecode, "pcm.Decode", "malformed audio payload", e.Err)
}

// Encode converts raw bytes to transport text
func Encode(b []byte) string {
	return base64.StdEncoding.EncodeToString(b)
}

// Decode converts transport text back to raw bytes
func Decode(s string) ([]byte, error) {
	b, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		return nil, &DecodeError{Err: err}
	}
	return b, nil
}
