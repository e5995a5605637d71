// Package db implements the DB façade: the top-level aggregate that owns
// the manifest and the set of open logs, and dispatches decoded commands
// to the appropriate storage operation (spec.md §4.8, §5).
package db

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"

	"github.com/badtuple/remits/internal/codec"
	"github.com/badtuple/remits/internal/command"
	"github.com/badtuple/remits/internal/iterator"
	"github.com/badtuple/remits/internal/manifest"
	"github.com/badtuple/remits/internal/remerr"
	"github.com/badtuple/remits/internal/storelog"
	"github.com/badtuple/remits/internal/wire"
)

const manifestFile = "manifest"

// DB owns the manifest and the open logs, each behind its own
// reader/writer lock. Lock ordering, whenever both are needed: manifest
// before logs.
type DB struct {
	dir string

	manifestMu   sync.RWMutex
	manifest     *manifest.Manifest
	manifestPath string

	logsMu sync.RWMutex
	logs   map[string]*storelog.Log
}

// Open constructs a DB rooted at dir. If a manifest file exists there it
// is loaded and every registered log is reopened (replaying its
// segments); otherwise a fresh manifest is initialized and flushed.
func Open(dir string) (*DB, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("db: create %s: %w", dir, err)
	}
	manifestPath := filepath.Join(dir, manifestFile)
	m, err := manifest.Load(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("db: load manifest: %w", err)
	}

	d := &DB{
		dir:          dir,
		manifest:     m,
		manifestPath: manifestPath,
		logs:         make(map[string]*storelog.Log),
	}

	for name, reg := range m.Logs {
		l, err := storelog.Open(name, reg.CreatedAt, storelog.Options{Dir: d.logDir(name), Persist: true})
		if err != nil {
			return nil, fmt.Errorf("db: reopen log %s: %w", name, err)
		}
		d.logs[name] = l
	}
	return d, nil
}

func (d *DB) logDir(name string) string {
	return filepath.Join(d.dir, "logs", name)
}

// flushManifest persists the current manifest. Per spec.md §7, a flush
// failure is fatal: the in-memory state would otherwise diverge from
// what a restart would load.
func (d *DB) flushManifest() {
	if err := manifest.Flush(d.manifestPath, d.manifest); err != nil {
		log.Fatalf("db: manifest flush failed, aborting: %v", err)
	}
}

// Exec dispatches cmd and returns the fully encoded response frame body.
func (d *DB) Exec(cmd command.Command) []byte {
	switch cmd.Kind {
	case command.KindLogShow:
		return d.logShow(cmd.LogName)
	case command.KindLogAdd:
		return d.logAdd(cmd.LogName)
	case command.KindLogDelete:
		return d.logDelete(cmd.LogName)
	case command.KindLogList:
		return d.logList()
	case command.KindMessageAdd:
		return d.messageAdd(cmd.LogName, cmd.Message)
	case command.KindIteratorAdd:
		return d.iteratorAdd(cmd.LogName, cmd.IteratorName, cmd.IteratorKind, cmd.IteratorFunc)
	case command.KindIteratorList:
		return d.iteratorList(cmd)
	case command.KindIteratorNext:
		return d.iteratorNext(cmd.IteratorName, cmd.MessageID, cmd.Count)
	case command.KindIteratorDelete:
		return d.iteratorDelete(cmd.LogName, cmd.IteratorName)
	default:
		return wire.EncodeError(remerr.UnknownRequestCode)
	}
}

func (d *DB) logShow(name string) []byte {
	d.manifestMu.RLock()
	reg, ok := d.manifest.GetLog(name)
	d.manifestMu.RUnlock()
	if !ok {
		return wire.EncodeError(remerr.LogDoesNotExist)
	}
	blob, err := codec.Encode(codec.MapOf(
		codec.Str("name"), codec.Str(reg.Name),
		codec.Str("created_at"), codec.Int(reg.CreatedAt),
	))
	if err != nil {
		return wire.EncodeError(remerr.MsgNotValidCbor)
	}
	return wire.EncodeData([][]byte{blob})
}

func (d *DB) logAdd(name string) []byte {
	d.manifestMu.Lock()
	_, existed := d.manifest.GetLog(name)
	d.manifest.AddLog(name, storelog.NowSeconds())
	d.flushManifest()
	d.manifestMu.Unlock()

	if !existed {
		d.logsMu.Lock()
		if _, ok := d.logs[name]; !ok {
			l, err := storelog.Open(name, storelog.NowSeconds(), storelog.Options{Dir: d.logDir(name), Persist: true})
			if err != nil {
				log.Fatalf("db: open log %s: %v", name, err)
			}
			d.logs[name] = l
		}
		d.logsMu.Unlock()
	}
	return wire.EncodeInfoOK()
}

func (d *DB) logDelete(name string) []byte {
	d.manifestMu.Lock()
	err := d.manifest.DelLog(name)
	if err == nil {
		d.flushManifest()
	}
	d.manifestMu.Unlock()
	if err != nil {
		re, _ := remerr.As(err)
		return wire.EncodeError(re.Code)
	}

	d.logsMu.Lock()
	if l, ok := d.logs[name]; ok {
		_ = l.Close()
		delete(d.logs, name)
	}
	d.logsMu.Unlock()
	_ = os.RemoveAll(d.logDir(name))

	return wire.EncodeInfoOK()
}

func (d *DB) logList() []byte {
	d.manifestMu.RLock()
	names := d.manifest.LogNames()
	d.manifestMu.RUnlock()

	vals := make([]codec.Value, 0, len(names))
	for _, n := range names {
		vals = append(vals, codec.Str(n))
	}
	blob, err := codec.Encode(codec.Arr(vals...))
	if err != nil {
		return wire.EncodeError(remerr.MsgNotValidCbor)
	}
	return wire.EncodeData([][]byte{blob})
}

func (d *DB) messageAdd(logName string, msg []byte) []byte {
	d.logsMu.Lock()
	defer d.logsMu.Unlock()

	l, ok := d.logs[logName]
	if !ok {
		return wire.EncodeError(remerr.LogDoesNotExist)
	}
	if _, err := l.Append(msg); err != nil {
		re, ok := remerr.As(err)
		if !ok {
			re = remerr.New(remerr.MsgNotValidCbor)
		}
		return wire.EncodeError(re.Code)
	}
	return wire.EncodeInfoOK()
}

func (d *DB) iteratorAdd(logName, itrName string, kind manifest.ItrKind, fn string) []byte {
	d.manifestMu.Lock()
	err := d.manifest.AddItr(logName, itrName, kind, fn)
	if err == nil {
		d.flushManifest()
	}
	d.manifestMu.Unlock()
	if err != nil {
		re, _ := remerr.As(err)
		return wire.EncodeError(re.Code)
	}
	return wire.EncodeInfoOK()
}

func (d *DB) iteratorList(cmd command.Command) []byte {
	var filter *string
	if cmd.HasLogFilter {
		filter = &cmd.LogFilter
	}

	d.manifestMu.RLock()
	itrs := d.manifest.IteratorsForLog(filter)
	d.manifestMu.RUnlock()

	vals := make([]codec.Value, 0, len(itrs))
	for _, itr := range itrs {
		vals = append(vals, codec.MapOf(
			codec.Str("log"), codec.Str(itr.Log),
			codec.Str("name"), codec.Str(itr.Name),
			codec.Str("kind"), codec.Str(string(itr.Kind)),
			codec.Str("func"), codec.Str(itr.Func),
		))
	}
	blob, err := codec.Encode(codec.Arr(vals...))
	if err != nil {
		return wire.EncodeError(remerr.MsgNotValidCbor)
	}
	return wire.EncodeData([][]byte{blob})
}

func (d *DB) iteratorNext(itrName string, offset, count uint64) []byte {
	d.manifestMu.RLock()
	itr, ok := d.manifest.GetIterator(itrName)
	d.manifestMu.RUnlock()
	if !ok {
		return wire.EncodeError(remerr.ItrDoesNotExist)
	}

	d.logsMu.RLock()
	defer d.logsMu.RUnlock()
	l, ok := d.logs[itr.Log]
	if !ok {
		return wire.EncodeError(remerr.LogDoesNotExist)
	}

	results, err := iterator.Next(itr, l, offset, count)
	if err != nil {
		re, ok := remerr.As(err)
		if !ok {
			re = remerr.New(remerr.ErrRunningLua)
		}
		return wire.EncodeError(re.Code)
	}
	return wire.EncodeData(results)
}

func (d *DB) iteratorDelete(logName, itrName string) []byte {
	d.manifestMu.Lock()
	err := d.manifest.DelItr(logName, itrName)
	if err == nil {
		d.flushManifest()
	}
	d.manifestMu.Unlock()
	if err != nil {
		re, _ := remerr.As(err)
		return wire.EncodeError(re.Code)
	}
	return wire.EncodeInfoOK()
}
