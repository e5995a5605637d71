// Package manifest implements the persisted registry of logs and iterators
// (spec.md §4.4): a single full-rewrite file at the database root whose
// on-disk byte image always equals the serialized current in-memory state.
package manifest

import "github.com/badtuple/remits/internal/remerr"

// LogRegistrant is one entry in the logs map.
type LogRegistrant struct {
	Name      string
	CreatedAt int64 // seconds since epoch
}

// ItrKind is the closed set of recognized iterator kinds.
type ItrKind string

const (
	KindMap    ItrKind = "map"
	KindFilter ItrKind = "filter"
	KindReduce ItrKind = "reduce"
)

// ParseItrKind validates a string against the closed kind enum.
func ParseItrKind(s string) (ItrKind, bool) {
	switch ItrKind(s) {
	case KindMap, KindFilter, KindReduce:
		return ItrKind(s), true
	default:
		return "", false
	}
}

// Iterator is one named, stored transform.
type Iterator struct {
	Log  string
	Name string
	Kind ItrKind
	Func string
}

// Manifest is the process-wide registry: log name -> LogRegistrant, and
// iterator name -> Iterator (iterator names are unique globally, not
// scoped per log).
type Manifest struct {
	Logs      map[string]LogRegistrant
	Iterators map[string]Iterator
}

// New returns an empty manifest.
func New() *Manifest {
	return &Manifest{
		Logs:      make(map[string]LogRegistrant),
		Iterators: make(map[string]Iterator),
	}
}

// AddLog idempotently registers a log. Re-adding an existing name is a
// no-op: created_at is not re-stamped.
func (m *Manifest) AddLog(name string, createdAt int64) {
	if _, exists := m.Logs[name]; exists {
		return
	}
	m.Logs[name] = LogRegistrant{Name: name, CreatedAt: createdAt}
}

// DelLog removes a log entry and cascades to delete every iterator whose
// Log field equals name.
func (m *Manifest) DelLog(name string) error {
	if _, exists := m.Logs[name]; !exists {
		return remerr.New(remerr.LogDoesNotExist)
	}
	delete(m.Logs, name)
	for itrName, itr := range m.Iterators {
		if itr.Log == name {
			delete(m.Iterators, itrName)
		}
	}
	return nil
}

// AddItr adds an iterator. If name already exists, this succeeds only when
// every field matches exactly; otherwise ItrExistsWithSameName.
func (m *Manifest) AddItr(log, name string, kind ItrKind, fn string) error {
	if existing, exists := m.Iterators[name]; exists {
		if existing.Log == log && existing.Kind == kind && existing.Func == fn {
			return nil
		}
		return remerr.New(remerr.ItrExistsWithSameName)
	}
	m.Iterators[name] = Iterator{Log: log, Name: name, Kind: kind, Func: fn}
	return nil
}

// DelItr removes an iterator iff one with that name exists and its Log
// field equals the supplied log.
func (m *Manifest) DelItr(log, name string) error {
	itr, exists := m.Iterators[name]
	if !exists || itr.Log != log {
		return remerr.New(remerr.ItrDoesNotExist)
	}
	delete(m.Iterators, name)
	return nil
}

// LogNames returns the set of registered log names, in no particular order.
func (m *Manifest) LogNames() []string {
	out := make([]string, 0, len(m.Logs))
	for name := range m.Logs {
		out = append(out, name)
	}
	return out
}

// IteratorsForLog returns every iterator, optionally filtered to those
// whose Log field equals logName (IteratorList's optional log filter).
func (m *Manifest) IteratorsForLog(logName *string) []Iterator {
	out := make([]Iterator, 0, len(m.Iterators))
	for _, itr := range m.Iterators {
		if logName != nil && itr.Log != *logName {
			continue
		}
		out = append(out, itr)
	}
	return out
}

// GetIterator looks up an iterator by name.
func (m *Manifest) GetIterator(name string) (Iterator, bool) {
	itr, ok := m.Iterators[name]
	return itr, ok
}

// GetLog looks up a log registrant by name.
func (m *Manifest) GetLog(name string) (LogRegistrant, bool) {
	reg, ok := m.Logs[name]
	return reg, ok
}
