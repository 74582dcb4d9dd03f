package grblcore

import "fmt"

// ErrCode is the small, closed error-code space surfaced on the wire as
// `error:<code>` (spec.md §6). Never format a bare int or string in its
// place — every error line this package writes to the host carries one of
// these.
type ErrCode int

const (
	ErrCodeUnknown ErrCode = iota
	ErrCodeUnknownLetter
	ErrCodeBadNumber
	ErrCodeUnsupportedModal
	ErrCodeValueOutOfRange
	ErrCodeMissingWord
	ErrCodeAxisWithoutMotion
	ErrCodeArcGeometry
	ErrCodeUnsupportedArc
	ErrCodeLineTooLong
	ErrCodeArcActive
	ErrCodeAlarm
)

var errCodeNames = map[ErrCode]string{
	ErrCodeUnknown:           "1",
	ErrCodeUnknownLetter:     "2",
	ErrCodeBadNumber:         "3",
	ErrCodeUnsupportedModal:  "4",
	ErrCodeValueOutOfRange:   "5",
	ErrCodeMissingWord:       "6",
	ErrCodeAxisWithoutMotion: "7",
	ErrCodeArcGeometry:       "8",
	ErrCodeUnsupportedArc:    "9",
	ErrCodeLineTooLong:       "10",
	ErrCodeArcActive:         "11",
	ErrCodeAlarm:             "12",
}

// String renders the error code the way it appears on the wire, e.g. "5".
func (c ErrCode) String() string {
	if s, ok := errCodeNames[c]; ok {
		return s
	}
	return "1"
}

// ProtocolError is a typed error carrying one of the fixed ErrCode values,
// returned by the parser and line intake and formatted as `error:<code>` by
// the protocol layer.
type ProtocolError struct {
	Code ErrCode
	Msg  string
}

// Error satisfies the error interface for logs and test assertions; it
// includes Msg for a human reading the log.
func (e *ProtocolError) Error() string {
	if e.Msg == "" {
		return fmt.Sprintf("error:%s", e.Code)
	}
	return fmt.Sprintf("error:%s (%s)", e.Code, e.Msg)
}

// Wire renders exactly what spec.md §6's Output Format specifies for an
// error reply: "error:<code>", with no trailing message. Msg is for logs
// only and must never reach the wire, or a GRBL-compatible host's strict
// parser will fail to match the line.
func (e *ProtocolError) Wire() string {
	return fmt.Sprintf("error:%s", e.Code)
}

func newProtoErr(code ErrCode, msg string) *ProtocolError {
	return &ProtocolError{Code: code, Msg: msg}
}

// Sentinel errors for classifying failures that are not full ProtocolErrors
// (used internally, e.g. by Settings.Apply before it knows the caller's
// protocol framing).
var (
	ErrValueOutOfRange = fmt.Errorf("value out of range")
)
