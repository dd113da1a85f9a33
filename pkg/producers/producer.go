// Package producers defines the metric producer capability and the process-wide
// registry that maps producer ids to producers.
package producers

import "fmt"

// Identity names a producer. It is immutable once constructed.
type Identity struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Subsystem string `json:"subsystem"`
}

// NewIdentity derives the id from the source kind and the configured name so
// producers of different kinds never collide.
func NewIdentity(kind, name, category, subsystem string) Identity {
	return Identity{
		ID:        fmt.Sprintf("%s-%s", kind, name),
		Category:  category,
		Subsystem: subsystem,
	}
}

func (i Identity) String() string { return i.ID }

// ValueType distinguishes monotonic counters from gauges.
type ValueType int

const (
	Gauge ValueType = iota
	Counter
)

func (t ValueType) String() string {
	if t == Counter {
		return "counter"
	}
	return "gauge"
}

// Value is one named number of a snapshot.
type Value struct {
	Name  string    `json:"name"`
	Help  string    `json:"help"`
	Type  ValueType `json:"-"`
	Value float64   `json:"value"`
}

// Snapshot is the current, possibly stale, set of values of a producer.
type Snapshot interface {
	// Kind groups snapshots sharing the same value layout, e.g. "memory_pool".
	Kind() string
	Values() []Value
}

// Freshness is implemented by snapshots that exist before the first
// successful sample. Their values are placeholders until Sampled is true.
type Freshness interface {
	Sampled() bool
}

// Sampled reports whether s carries sampled values. Snapshots without
// Freshness always do.
func Sampled(s Snapshot) bool {
	if s == nil {
		return false
	}
	f, ok := s.(Freshness)
	return !ok || f.Sampled()
}

// Producer is a named entity that reports its current values on demand.
// Snapshot never blocks on I/O and never fails; a producer that cannot sample
// keeps returning its last known snapshot.
type Producer interface {
	Identity() Identity
	Snapshot() Snapshot
}
