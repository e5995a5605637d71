// Package remerr defines the closed, numbered error taxonomy that every
// business-logic failure in Remits surfaces as.
package remerr

// Code is a stable, wire-visible error number (spec.md §7).
type Code uint8

const (
	LogDoesNotExist       Code = 0x00
	ItrExistsWithSameName Code = 0x01
	ItrDoesNotExist       Code = 0x02
	MsgNotValidCbor       Code = 0x03
	ErrRunningLua         Code = 0x04
	ErrReadingLuaResponse Code = 0x05

	ConnectionClosed          Code = 0x06
	UnknownRequestCode        Code = 0x07
	UnknownFrameKind          Code = 0x08
	FailedToReadBytes         Code = 0x09
	ServerOnlyAcceptsRequests Code = 0x0A
	CouldNotReadPayload       Code = 0x0B

	LogNameNotUtf8          Code = 0x0C
	ItrNameNotUtf8          Code = 0x0D
	ItrTypeNotUtf8          Code = 0x0E
	ItrFuncNotUtf8          Code = 0x0F
	ItrTypeInvalid          Code = 0x10
	MsgIdNotNumber          Code = 0x11
	MsgFieldNotOfTypeBinary Code = 0x12

	// MsgOutOfRange is not part of the original closed table; it resolves
	// the open question in spec.md §9 about the out-of-range ordinal
	// behavior of Iterator.Next, rather than reusing LogDoesNotExist or
	// letting the lookup panic.
	MsgOutOfRange Code = 0x13
)

var names = map[Code]string{
	LogDoesNotExist:           "LogDoesNotExist",
	ItrExistsWithSameName:     "ItrExistsWithSameName",
	ItrDoesNotExist:           "ItrDoesNotExist",
	MsgNotValidCbor:           "MsgNotValidCbor",
	ErrRunningLua:             "ErrRunningLua",
	ErrReadingLuaResponse:     "ErrReadingLuaResponse",
	ConnectionClosed:          "ConnectionClosed",
	UnknownRequestCode:        "UnknownRequestCode",
	UnknownFrameKind:          "UnknownFrameKind",
	FailedToReadBytes:         "FailedToReadBytes",
	ServerOnlyAcceptsRequests: "ServerOnlyAcceptsRequests",
	CouldNotReadPayload:       "CouldNotReadPayload",
	LogNameNotUtf8:            "LogNameNotUtf8",
	ItrNameNotUtf8:            "ItrNameNotUtf8",
	ItrTypeNotUtf8:            "ItrTypeNotUtf8",
	ItrFuncNotUtf8:            "ItrFuncNotUtf8",
	ItrTypeInvalid:            "ItrTypeInvalid",
	MsgIdNotNumber:            "MsgIdNotNumber",
	MsgFieldNotOfTypeBinary:   "MsgFieldNotOfTypeBinary",
	MsgOutOfRange:             "MsgOutOfRange",
}

// Name returns the stable wire name for a code, used as the Error frame's
// Data payload.
func (c Code) Name() string {
	if n, ok := names[c]; ok {
		return n
	}
	return "UnknownError"
}

// Error wraps a Code as a Go error.
type Error struct {
	Code Code
}

func (e *Error) Error() string { return e.Code.Name() }

// New wraps a code as an *Error.
func New(c Code) *Error { return &Error{Code: c} }

// As extracts a *Error from err, if it is one.
func As(err error) (*Error, bool) {
	re, ok := err.(*Error)
	return re, ok
}
