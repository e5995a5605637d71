package codec

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/vmihailenco/msgpack/v5"
)

// msgpack type-marker byte ranges, per the MessagePack spec. Values in this
// codec are always written in binary form (never "str"); decode accepts
// both the bin8/16/32 and the str codes and maps either to KindBinary.
const (
	mpPosFixIntMax = 0x7f
	mpFixMapMin    = 0x80
	mpFixMapMax    = 0x8f
	mpFixArrayMin  = 0x90
	mpFixArrayMax  = 0x9f
	mpFixStrMin    = 0xa0
	mpFixStrMax    = 0xbf
	mpNil          = 0xc0
	mpFalse        = 0xc2
	mpTrue         = 0xc3
	mpBin8         = 0xc4
	mpBin16        = 0xc5
	mpBin32        = 0xc6
	mpExt8         = 0xc7
	mpExt16        = 0xc8
	mpExt32        = 0xc9
	mpFloat32      = 0xca
	mpFloat64      = 0xcb
	mpUint8        = 0xcc
	mpUint16       = 0xcd
	mpUint32       = 0xce
	mpUint64       = 0xcf
	mpInt8         = 0xd0
	mpInt16        = 0xd1
	mpInt32        = 0xd2
	mpInt64        = 0xd3
	mpStr8         = 0xd9
	mpStr16        = 0xda
	mpStr32        = 0xdb
	mpArray16      = 0xdc
	mpArray32      = 0xdd
	mpMap16        = 0xde
	mpMap32        = 0xdf
	mpNegFixIntMin = 0xe0
)

// Encode serializes a Value into its binary form.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := encodeValue(enc, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func encodeValue(enc *msgpack.Encoder, v Value) error {
	switch v.Kind {
	case KindNull:
		return enc.EncodeNil()
	case KindBool:
		return enc.EncodeBool(v.Bool)
	case KindInt:
		return enc.EncodeInt64(v.Int)
	case KindUint:
		return enc.EncodeUint64(v.Uint)
	case KindFloat:
		return enc.EncodeFloat64(v.Float)
	case KindBinary:
		return enc.EncodeBytes(v.Binary)
	case KindArray:
		if err := enc.EncodeArrayLen(len(v.Array)); err != nil {
			return err
		}
		for _, elem := range v.Array {
			if err := encodeValue(enc, elem); err != nil {
				return err
			}
		}
		return nil
	case KindMap:
		if err := enc.EncodeMapLen(len(v.Map)); err != nil {
			return err
		}
		for _, entry := range v.Map {
			if err := encodeValue(enc, entry.Key); err != nil {
				return err
			}
			if err := encodeValue(enc, entry.Val); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("codec: unknown value kind %d", v.Kind)
	}
}

// Decode deserializes a Value from its binary form. The entire buffer must
// be consumed as exactly one top-level value; trailing bytes are an error.
func Decode(data []byte) (Value, error) {
	r := bytes.NewReader(data)
	dec := msgpack.NewDecoder(r)
	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, err
	}
	if _, peekErr := dec.PeekCode(); peekErr == nil {
		return Value{}, errors.New("codec: trailing bytes after value")
	} else if !errors.Is(peekErr, io.EOF) {
		return Value{}, peekErr
	}
	return v, nil
}

// Valid reports whether data decodes as exactly one value.
func Valid(data []byte) bool {
	_, err := Decode(data)
	return err == nil
}

// countingReader wraps an io.Reader and tracks how many bytes have been
// read through it, so a streaming caller can recover how long an encoded
// value was without needing the whole buffer up front.
type countingReader struct {
	r io.Reader
	n int
}

func (c *countingReader) Read(p []byte) (int, error) {
	// Hand out at most one byte per call: the msgpack decoder wraps this
	// reader in a read-ahead buffer, which must never pull bytes past the
	// end of the value from the underlying reader.
	if len(p) > 1 {
		p = p[:1]
	}
	n, err := c.r.Read(p)
	c.n += n
	return n, err
}

// DecodeFrom decodes exactly one value from r and reports how many bytes
// were consumed doing so, leaving the reader positioned just past the
// value. Used by segment replay, where message boundaries in the data file
// are determined by decoding the self-describing encoding rather than by a
// stored length.
func DecodeFrom(r io.Reader) (Value, int, error) {
	cr := &countingReader{r: r}
	dec := msgpack.NewDecoder(cr)
	v, err := decodeValue(dec)
	if err != nil {
		return Value{}, cr.n, err
	}
	return v, cr.n, nil
}

func decodeValue(dec *msgpack.Decoder) (Value, error) {
	code, err := dec.PeekCode()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return Value{}, errors.New("codec: truncated input")
		}
		return Value{}, err
	}

	switch {
	case code <= mpPosFixIntMax || code >= mpNegFixIntMin:
		i, err := dec.DecodeInt64()
		if err != nil {
			return Value{}, err
		}
		return Int(i), nil

	case code >= mpFixMapMin && code <= mpFixMapMax, code == mpMap16, code == mpMap32:
		return decodeMap(dec)

	case code >= mpFixArrayMin && code <= mpFixArrayMax, code == mpArray16, code == mpArray32:
		return decodeArray(dec)

	case code >= mpFixStrMin && code <= mpFixStrMax, code == mpStr8, code == mpStr16, code == mpStr32:
		s, err := dec.DecodeBytes()
		if err != nil {
			return Value{}, err
		}
		return Bin(s), nil

	case code == mpNil:
		if err := dec.DecodeNil(); err != nil {
			return Value{}, err
		}
		return Null, nil

	case code == mpFalse || code == mpTrue:
		b, err := dec.DecodeBool()
		if err != nil {
			return Value{}, err
		}
		return Bool(b), nil

	case code == mpBin8 || code == mpBin16 || code == mpBin32:
		b, err := dec.DecodeBytes()
		if err != nil {
			return Value{}, err
		}
		return Bin(b), nil

	case code == mpFloat32 || code == mpFloat64:
		f, err := dec.DecodeFloat64()
		if err != nil {
			return Value{}, err
		}
		return Float(f), nil

	case code == mpUint8 || code == mpUint16 || code == mpUint32 || code == mpUint64:
		u, err := dec.DecodeUint64()
		if err != nil {
			return Value{}, err
		}
		return Uint(u), nil

	case code == mpInt8 || code == mpInt16 || code == mpInt32 || code == mpInt64:
		i, err := dec.DecodeInt64()
		if err != nil {
			return Value{}, err
		}
		return Int(i), nil

	case code == mpExt8 || code == mpExt16 || code == mpExt32:
		return Value{}, fmt.Errorf("codec: unknown type marker 0x%02x", code)

	default:
		return Value{}, fmt.Errorf("codec: unknown type marker 0x%02x", code)
	}
}

func decodeArray(dec *msgpack.Decoder) (Value, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return Value{}, err
	}
	if n < 0 {
		return Null, nil
	}
	arr := make([]Value, 0, n)
	for i := 0; i < n; i++ {
		elem, err := decodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		arr = append(arr, elem)
	}
	return Value{Kind: KindArray, Array: arr}, nil
}

func decodeMap(dec *msgpack.Decoder) (Value, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return Value{}, err
	}
	if n < 0 {
		return Null, nil
	}
	entries := make([]MapEntry, 0, n)
	for i := 0; i < n; i++ {
		key, err := decodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		val, err := decodeValue(dec)
		if err != nil {
			return Value{}, err
		}
		entries = append(entries, MapEntry{Key: key, Val: val})
	}
	return Value{Kind: KindMap, Map: entries}, nil
}
