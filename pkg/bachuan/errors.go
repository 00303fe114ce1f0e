package bachuan

import "fmt"

// Kind classifies an Error by the layer that produced it.
type Kind string

const (
	// KindIo covers socket/connection failures.
	KindIo Kind = "io"
	// KindProtocol covers malformed frames, headers, or XML.
	KindProtocol Kind = "protocol"
	// KindCrypto covers cipher setup or key-derivation failures.
	KindCrypto Kind = "crypto"
	// KindAuth covers login rejection by the camera.
	KindAuth Kind = "auth"
	// kindShortFrame is an internal-only kind signaling "need more bytes";
	// it must never escape the transport or stream layer.
	kindShortFrame Kind = "short-frame"
)

// Error is the error type returned across package boundaries. Kind lets
// callers branch on the failing layer without string matching, and Cause
// preserves the underlying error for errors.Is/errors.As.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
	// Timeout marks a KindIo error caused by a read deadline elapsing
	// with no data available, as opposed to a socket/connection failure.
	// Callers use it to distinguish "nothing arrived yet, keep polling"
	// from "the connection is dead".
	Timeout bool
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("bachuan: %s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("bachuan: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

func newErr(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func ioErr(message string, cause error) *Error { return newErr(KindIo, message, cause) }

func ioTimeoutErr(message string, cause error) *Error {
	e := newErr(KindIo, message, cause)
	e.Timeout = true
	return e
}

func protocolErr(message string, cause error) *Error { return newErr(KindProtocol, message, cause) }
func cryptoErr(message string, cause error) *Error   { return newErr(KindCrypto, message, cause) }
func authErr(message string, cause error) *Error     { return newErr(KindAuth, message, cause) }

// errShortFrame signals that the buffer does not yet hold a complete
// header, message, or media record. It is never surfaced to callers of
// Connection.Receive or the stream API — those map it to either a
// retry (more data arrives) or a timeout.
var errShortFrame = newErr(kindShortFrame, "not enough data buffered", nil)

// AuthError carries the camera's rejection response code alongside KindAuth.
type AuthError struct {
	Err          *Error
	ResponseCode uint16
}

func newAuthError(message string, code uint16) *AuthError {
	return &AuthError{Err: authErr(message, nil), ResponseCode: code}
}

func (e *AuthError) Error() string { return e.Err.Error() }

func (e *AuthError) Unwrap() error { return e.Err }

var _ error = (*AuthError)(nil)
