// Package command decodes wire request payloads into the closed set of
// commands the dispatcher understands (spec.md §4.6), validating field
// presence, UTF-8, and the iterator kind enum along the way.
package command

import (
	"unicode/utf8"

	"github.com/badtuple/remits/internal/codec"
	"github.com/badtuple/remits/internal/manifest"
	"github.com/badtuple/remits/internal/remerr"
)

// Code identifies a request on the wire (spec.md §6).
type Code uint8

const (
	LogShowCode       Code = 0x00
	LogAddCode        Code = 0x01
	LogDeleteCode     Code = 0x02
	LogListCode       Code = 0x03
	MessageAddCode    Code = 0x04
	IteratorAddCode   Code = 0x05
	IteratorListCode  Code = 0x06
	IteratorNextCode  Code = 0x07
	IteratorDeleteCode Code = 0x08
)

// Kind tags which command variant a decoded Command holds.
type Kind uint8

const (
	KindLogShow Kind = iota
	KindLogAdd
	KindLogDelete
	KindLogList
	KindMessageAdd
	KindIteratorAdd
	KindIteratorList
	KindIteratorNext
	KindIteratorDelete
)

// Command is the decoded, tagged union of every request the server
// accepts. Only the fields relevant to Kind are populated.
type Command struct {
	Kind Kind

	LogName string // LogShow, LogAdd, LogDelete, MessageAdd, IteratorAdd (log_name), IteratorDelete

	Message []byte // MessageAdd

	IteratorName string          // IteratorAdd, IteratorNext, IteratorDelete
	IteratorKind manifest.ItrKind // IteratorAdd
	IteratorFunc string          // IteratorAdd

	HasLogFilter bool   // IteratorList
	LogFilter    string // IteratorList

	MessageID uint64 // IteratorNext
	Count     uint64 // IteratorNext
}

// Decode builds a Command from a request code and its self-describing
// payload value. LogList carries no body, so payload may be the null
// value in that case.
func Decode(code Code, payload codec.Value) (Command, error) {
	switch code {
	case LogShowCode:
		name, err := field(payload, "log_name", remerr.LogNameNotUtf8)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: KindLogShow, LogName: name}, nil

	case LogAddCode:
		name, err := field(payload, "log_name", remerr.LogNameNotUtf8)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: KindLogAdd, LogName: name}, nil

	case LogDeleteCode:
		name, err := field(payload, "log_name", remerr.LogNameNotUtf8)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: KindLogDelete, LogName: name}, nil

	case LogListCode:
		return Command{Kind: KindLogList}, nil

	case MessageAddCode:
		name, err := field(payload, "log_name", remerr.LogNameNotUtf8)
		if err != nil {
			return Command{}, err
		}
		msgVal, ok := payload.Field("message")
		if !ok || msgVal.Kind != codec.KindBinary {
			return Command{}, remerr.New(remerr.MsgFieldNotOfTypeBinary)
		}
		return Command{Kind: KindMessageAdd, LogName: name, Message: msgVal.Binary}, nil

	case IteratorAddCode:
		logName, err := field(payload, "log_name", remerr.LogNameNotUtf8)
		if err != nil {
			return Command{}, err
		}
		itrName, err := field(payload, "iterator_name", remerr.ItrNameNotUtf8)
		if err != nil {
			return Command{}, err
		}
		kindStr, err := field(payload, "iterator_kind", remerr.ItrTypeNotUtf8)
		if err != nil {
			return Command{}, err
		}
		// The closed kind enum failing to decode is treated as a general
		// payload decode failure, not the dedicated ItrTypeInvalid code:
		// see DESIGN.md's note on this taxonomy entry.
		itrKind, ok := manifest.ParseItrKind(kindStr)
		if !ok {
			return Command{}, remerr.New(remerr.CouldNotReadPayload)
		}
		fn, err := field(payload, "iterator_func", remerr.ItrFuncNotUtf8)
		if err != nil {
			return Command{}, err
		}
		return Command{
			Kind:         KindIteratorAdd,
			LogName:      logName,
			IteratorName: itrName,
			IteratorKind: itrKind,
			IteratorFunc: fn,
		}, nil

	case IteratorListCode:
		cmd := Command{Kind: KindIteratorList}
		if lv, ok := payload.Field("log_name"); ok && !lv.IsNull() {
			name, ok := lv.String()
			if !ok {
				return Command{}, remerr.New(remerr.LogNameNotUtf8)
			}
			cmd.HasLogFilter = true
			cmd.LogFilter = name
		}
		return cmd, nil

	case IteratorNextCode:
		itrName, err := field(payload, "iterator_name", remerr.ItrNameNotUtf8)
		if err != nil {
			return Command{}, err
		}
		msgID, ok := numericField(payload, "message_id")
		if !ok {
			return Command{}, remerr.New(remerr.MsgIdNotNumber)
		}
		count, ok := numericField(payload, "count")
		if !ok {
			return Command{}, remerr.New(remerr.MsgIdNotNumber)
		}
		return Command{
			Kind:         KindIteratorNext,
			IteratorName: itrName,
			MessageID:    msgID,
			Count:        count,
		}, nil

	case IteratorDeleteCode:
		logName, err := field(payload, "log_name", remerr.LogNameNotUtf8)
		if err != nil {
			return Command{}, err
		}
		itrName, err := field(payload, "iterator_name", remerr.ItrNameNotUtf8)
		if err != nil {
			return Command{}, err
		}
		return Command{Kind: KindIteratorDelete, LogName: logName, IteratorName: itrName}, nil

	default:
		return Command{}, remerr.New(remerr.UnknownRequestCode)
	}
}

// field extracts a required string field from payload. A missing field
// or one not encoded as a byte string is CouldNotReadPayload (the
// payload itself is malformed); a present field that fails UTF-8
// validation surfaces the field-specific code instead.
func field(payload codec.Value, name string, notUtf8 remerr.Code) (string, error) {
	v, ok := payload.Field(name)
	if !ok || v.Kind != codec.KindBinary {
		return "", remerr.New(remerr.CouldNotReadPayload)
	}
	if !utf8.Valid(v.Binary) {
		return "", remerr.New(notUtf8)
	}
	return string(v.Binary), nil
}

// numericField extracts a required non-negative integer field.
func numericField(payload codec.Value, name string) (uint64, bool) {
	v, ok := payload.Field(name)
	if !ok {
		return 0, false
	}
	return v.AsUint64()
}
