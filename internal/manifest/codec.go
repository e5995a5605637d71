package manifest

import (
	"encoding/binary"
	"errors"
	"os"
	"sort"

	"github.com/zeebo/blake3"

	"github.com/badtuple/remits/internal/codec"
)

// On-disk shape: magic + version header, a blake3 checksum of the body,
// then the body itself — the self-describing encoding of the manifest's
// current state. The checksum is a pure integrity addition on top of the
// encoded value; it does not change what that value serializes to, so the
// "byte image equals serialized in-memory state" invariant (spec.md §4.4)
// still holds for the body the checksum covers.
const (
	fileMagic   = 0x52454d4d // "REMM"
	fileVersion = 1
	headerLen   = 4 + 4
	checksumLen = 32
)

// toValue converts the manifest's in-memory state into a codec.Value.
// Both maps are walked in name-sorted order so that a given in-memory
// state always serializes to the same bytes, regardless of Go's
// randomized map iteration order.
func (m *Manifest) toValue() codec.Value {
	logNames := make([]string, 0, len(m.Logs))
	for name := range m.Logs {
		logNames = append(logNames, name)
	}
	sort.Strings(logNames)

	logs := make([]codec.Value, 0, len(logNames))
	for _, name := range logNames {
		reg := m.Logs[name]
		logs = append(logs, codec.MapOf(
			codec.Str("name"), codec.Str(reg.Name),
			codec.Str("created_at"), codec.Int(reg.CreatedAt),
		))
	}

	itrNames := make([]string, 0, len(m.Iterators))
	for name := range m.Iterators {
		itrNames = append(itrNames, name)
	}
	sort.Strings(itrNames)

	itrs := make([]codec.Value, 0, len(itrNames))
	for _, name := range itrNames {
		itr := m.Iterators[name]
		itrs = append(itrs, codec.MapOf(
			codec.Str("log"), codec.Str(itr.Log),
			codec.Str("name"), codec.Str(itr.Name),
			codec.Str("kind"), codec.Str(string(itr.Kind)),
			codec.Str("func"), codec.Str(itr.Func),
		))
	}

	return codec.MapOf(
		codec.Str("logs"), codec.Arr(logs...),
		codec.Str("iterators"), codec.Arr(itrs...),
	)
}

// fromValue populates a fresh Manifest from a decoded codec.Value.
func fromValue(v codec.Value) (*Manifest, error) {
	m := New()
	logsVal, ok := v.Field("logs")
	if !ok || logsVal.Kind != codec.KindArray {
		return nil, errors.New("manifest: missing logs array")
	}
	for _, lv := range logsVal.Array {
		nameVal, ok := lv.Field("name")
		if !ok {
			return nil, errors.New("manifest: log entry missing name")
		}
		name, _ := nameVal.String()
		createdVal, ok := lv.Field("created_at")
		if !ok {
			return nil, errors.New("manifest: log entry missing created_at")
		}
		created, _ := createdVal.AsInt64()
		m.Logs[name] = LogRegistrant{Name: name, CreatedAt: created}
	}

	itrsVal, ok := v.Field("iterators")
	if !ok || itrsVal.Kind != codec.KindArray {
		return nil, errors.New("manifest: missing iterators array")
	}
	for _, iv := range itrsVal.Array {
		logVal, _ := iv.Field("log")
		nameVal, _ := iv.Field("name")
		kindVal, _ := iv.Field("kind")
		funcVal, _ := iv.Field("func")
		logName, _ := logVal.String()
		name, _ := nameVal.String()
		kindStr, _ := kindVal.String()
		fn, _ := funcVal.String()
		kind, ok := ParseItrKind(kindStr)
		if !ok {
			return nil, errors.New("manifest: iterator entry has invalid kind")
		}
		m.Iterators[name] = Iterator{Log: logName, Name: name, Kind: kind, Func: fn}
	}
	return m, nil
}

// Encode serializes the manifest to its on-disk byte image.
func Encode(m *Manifest) ([]byte, error) {
	body, err := codec.Encode(m.toValue())
	if err != nil {
		return nil, err
	}
	sum := blake3.Sum256(body)

	buf := make([]byte, 0, headerLen+checksumLen+len(body))
	var hdr [headerLen]byte
	binary.LittleEndian.PutUint32(hdr[0:4], fileMagic)
	binary.LittleEndian.PutUint32(hdr[4:8], fileVersion)
	buf = append(buf, hdr[:]...)
	buf = append(buf, sum[:]...)
	buf = append(buf, body...)
	return buf, nil
}

// Decode deserializes a manifest from its on-disk byte image.
func Decode(data []byte) (*Manifest, error) {
	if len(data) < headerLen+checksumLen {
		return nil, errors.New("manifest: truncated file")
	}
	if binary.LittleEndian.Uint32(data[0:4]) != fileMagic {
		return nil, errors.New("manifest: bad magic")
	}
	if binary.LittleEndian.Uint32(data[4:8]) != fileVersion {
		return nil, errors.New("manifest: unsupported version")
	}
	wantSum := data[headerLen : headerLen+checksumLen]
	body := data[headerLen+checksumLen:]
	gotSum := blake3.Sum256(body)
	if string(gotSum[:]) != string(wantSum) {
		return nil, errors.New("manifest: checksum mismatch")
	}
	v, err := codec.Decode(body)
	if err != nil {
		return nil, err
	}
	return fromValue(v)
}

// Load reads and decodes the manifest file at path. If the file does not
// exist, a fresh manifest is created and flushed to path (spec.md §4.4).
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			m := New()
			if err := Flush(path, m); err != nil {
				return nil, err
			}
			return m, nil
		}
		return nil, err
	}
	return Decode(data)
}

// Flush performs a full overwrite of the manifest file with the manifest's
// current serialized state: seek to start, write, truncate, fsync.
func Flush(path string, m *Manifest) error {
	data, err := Encode(m)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	if _, err := f.Seek(0, 0); err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		return err
	}
	if err := f.Truncate(int64(len(data))); err != nil {
		return err
	}
	return f.Sync()
}
