package segment

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"hash/crc32"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/badtuple/remits/internal/codec"
)

// MaxBytes is the data file size threshold a segment rolls over at
// (spec.md §4.2: "1 GiB").
const MaxBytes int64 = 1 << 30

// Segment is one data+index file pair under a log's directory.
type Segment struct {
	dir      string
	epochMs  int64
	dataFile *os.File
	idxFile  *os.File
	size     int64
}

func segmentName(epochMs int64, ext string) string {
	return fmt.Sprintf("%020d.%s", epochMs, ext)
}

// NowMs returns the current time in milliseconds since the Unix epoch.
func NowMs() int64 { return time.Now().UnixNano() / int64(time.Millisecond) }

// ListEpochs returns the epoch_ms of every segment under dir, ascending,
// discovered by scanning for *.dat files sorted lexicographically (the
// zero-padded name makes lexicographic order equal numeric order).
func ListEpochs(dir string) ([]int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var names []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".dat") {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	epochs := make([]int64, 0, len(names))
	for _, n := range names {
		base := strings.TrimSuffix(n, ".dat")
		ms, err := strconv.ParseInt(base, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("segment: bad segment file name %q: %w", n, err)
		}
		epochs = append(epochs, ms)
	}
	return epochs, nil
}

// OpenOrCreateActive implements spec.md §4.2's open-or-create algorithm:
// scan for the lexicographically (== numerically) greatest existing
// segment and append to it, or create a fresh one stamped with the current
// time if none exists.
func OpenOrCreateActive(dir string) (*Segment, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	epochs, err := ListEpochs(dir)
	if err != nil {
		return nil, err
	}
	if len(epochs) == 0 {
		return create(dir, nextFreeEpoch(dir, NowMs()))
	}
	return openExisting(dir, epochs[len(epochs)-1])
}

// CreateNext always creates a fresh segment, stamped with the current
// time (bumped forward on millisecond collision with an existing file).
// Used for rollover, where the prior active segment is being sealed and
// appending to it further is not an option — unlike OpenOrCreateActive,
// this never reopens an existing segment.
func CreateNext(dir string) (*Segment, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return create(dir, nextFreeEpoch(dir, NowMs()))
}

// nextFreeEpoch bumps baseMs forward one millisecond at a time until no
// segment file claims that epoch, implementing the millisecond-collision
// tie-break in spec.md §4.2.
func nextFreeEpoch(dir string, baseMs int64) int64 {
	epoch := baseMs
	for {
		if _, err := os.Stat(filepath.Join(dir, segmentName(epoch, "dat"))); os.IsNotExist(err) {
			return epoch
		}
		epoch++
	}
}

func create(dir string, epochMs int64) (*Segment, error) {
	dataPath := filepath.Join(dir, segmentName(epochMs, "dat"))
	idxPath := filepath.Join(dir, segmentName(epochMs, "idx"))

	dataFile, err := os.OpenFile(dataPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	if err := WriteDataHeader(dataFile); err != nil {
		_ = dataFile.Close()
		return nil, err
	}
	idxFile, err := os.OpenFile(idxPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		_ = dataFile.Close()
		return nil, err
	}
	if err := WriteIndexHeader(idxFile, epochMs); err != nil {
		_ = dataFile.Close()
		_ = idxFile.Close()
		return nil, err
	}
	return &Segment{dir: dir, epochMs: epochMs, dataFile: dataFile, idxFile: idxFile, size: int64(DataHeaderLen())}, nil
}

func openExisting(dir string, epochMs int64) (*Segment, error) {
	dataPath := filepath.Join(dir, segmentName(epochMs, "dat"))
	idxPath := filepath.Join(dir, segmentName(epochMs, "idx"))

	dataFile, err := os.OpenFile(dataPath, os.O_RDWR, 0o644)
	if err != nil {
		return nil, err
	}
	idxFile, err := os.OpenFile(idxPath, os.O_RDWR, 0o644)
	if err != nil {
		_ = dataFile.Close()
		return nil, err
	}
	info, err := dataFile.Stat()
	if err != nil {
		_ = dataFile.Close()
		_ = idxFile.Close()
		return nil, err
	}
	if _, err := dataFile.Seek(0, io.SeekEnd); err != nil {
		_ = dataFile.Close()
		_ = idxFile.Close()
		return nil, err
	}
	if _, err := idxFile.Seek(0, io.SeekEnd); err != nil {
		_ = dataFile.Close()
		_ = idxFile.Close()
		return nil, err
	}
	return &Segment{dir: dir, epochMs: epochMs, dataFile: dataFile, idxFile: idxFile, size: info.Size()}, nil
}

// EpochMs returns the segment's lower timestamp bound.
func (s *Segment) EpochMs() int64 { return s.epochMs }

// Size returns the current data file size in bytes.
func (s *Segment) Size() int64 { return s.size }

// WouldExceed reports whether appending a payload of the given length would
// cross the rollover threshold.
func (s *Segment) WouldExceed(payloadLen int) bool {
	return s.size+int64(RecordCRCLen()+payloadLen) > MaxBytes
}

// Append writes one message record to the data file and its corresponding
// index entry, returning the data file offset the payload starts at.
// messageID is supplied by the caller (the log owns ordinal assignment).
func (s *Segment) Append(messageID uint32, payload []byte) (offset int64, err error) {
	offset, err = WriteRecord(s.dataFile, payload)
	if err != nil {
		return 0, err
	}
	relMs := NowMs() - s.epochMs
	if relMs < 0 {
		relMs = 0
	}
	if err := WriteIndexEntry(s.idxFile, IndexEntry{
		Ms:        uint32(relMs),
		MessageID: messageID,
		Offset:    uint32(offset),
	}); err != nil {
		return 0, err
	}
	s.size += int64(RecordCRCLen() + len(payload))
	return offset, nil
}

// Sync flushes both files to disk.
func (s *Segment) Sync() error {
	if err := s.dataFile.Sync(); err != nil {
		return err
	}
	return s.idxFile.Sync()
}

// Close closes both underlying files.
func (s *Segment) Close() error {
	err1 := s.dataFile.Close()
	err2 := s.idxFile.Close()
	if err1 != nil {
		return err1
	}
	return err2
}

// ReplayMessages reads every message payload back out of the segment's
// data file, in on-disk order, verifying each record's CRC-32. It is used
// by internal/recovery to repopulate a Log's in-memory sequence from disk
// (spec.md §9's open question about segments never being read back on
// startup).
func ReplayMessages(dir string, epochMs int64) ([][]byte, error) {
	dataPath := filepath.Join(dir, segmentName(epochMs, "dat"))
	f, err := os.Open(dataPath)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if _, err := ReadDataHeader(f); err != nil {
		return nil, err
	}

	var out [][]byte
	for {
		payload, done, err := readOneRecord(f)
		if err != nil {
			return nil, err
		}
		if done {
			break
		}
		out = append(out, payload)
	}
	return out, nil
}

// readOneRecord reads one (crc, self-describing payload) record from r.
// done is true once r is cleanly exhausted (no partial record present).
func readOneRecord(r io.Reader) (payload []byte, done bool, err error) {
	var crcBuf [recordCRCLen]byte
	if _, err := io.ReadFull(r, crcBuf[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, true, nil
		}
		return nil, false, err
	}
	wantCRC := binary.LittleEndian.Uint32(crcBuf[:])

	var captured bytes.Buffer
	tee := io.TeeReader(r, &captured)
	if _, _, err := codec.DecodeFrom(tee); err != nil {
		return nil, false, fmt.Errorf("segment: replay: %w", err)
	}
	raw := captured.Bytes()
	if crc32.ChecksumIEEE(raw) != wantCRC {
		return nil, false, fmt.Errorf("segment: replay: crc mismatch")
	}
	return raw, false, nil
}
