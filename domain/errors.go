package domain

import (
	"errors"
	"fmt"
)

// ErrorKind classifies failures the way they are handled
type ErrorKind string

const (
	// KindTransport: peer unreachable, session drop, auth rejection. Terminal for the session.
	KindTransport ErrorKind = "transport"
	// KindDecode: malformed audio or citation payload. The unit is dropped.
	KindDecode ErrorKind = "decode"
	// KindCapture: microphone permission denied or device unavailable.
	KindCapture ErrorKind = "capture"
	// KindJob: a generation job finished in failure.
	KindJob ErrorKind = "job"
	// KindInvalid: the request itself was rejected before reaching any component.
	KindInvalid ErrorKind = "invalid"
)

// Error is a classified failure carrying a displayable message
type Error struct {
	Kind    ErrorKind
	Op      string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch {
	case e.Err != nil && e.Op != "":
		return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
	case e.Err != nil:
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	case e.Op != "":
		return fmt.Sprintf("%s: %s", e.Op, e.Message)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// E builds a classified error
func E(kind ErrorKind, op, message string, err error) *Error {
	return &Error{Kind: kind, Op: op, Message: message, Err: err}
}

// KindOf returns the kind of the first classified error in err's chain, or
// an empty kind when there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return ""
}

// IsKind reports whether err is classified as kind
func IsKind(err error, kind ErrorKind) bool {
	return KindOf(err) == kind
}

// UserMessage returns the displayable message of err
func UserMessage(err error) string {
	var e *Error
	if errors.As(err, &e) && e.Message != "" {
		return e.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
