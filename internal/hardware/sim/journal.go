// Package sim provides in-process simulated beamline devices that record
// every command in a shared journal. The daemon uses them when no hardware
// bindings are configured, and tests use the journal to assert ordering.
package sim

import (
	"fmt"
	"strings"
	"sync"
)

// Event is one device command as observed by the journal.
type Event struct {
	Seq   int
	Name  string
	Value string
}

func (e Event) String() string {
	if e.Value == "" {
		return e.Name
	}
	return e.Name + " " + e.Value
}

type fault struct {
	err       error
	remaining int // occurrences to skip before failing; negative fails every time
	once      bool
}

// Journal is the ordered command log shared by a rig's devices.
type Journal struct {
	mu     sync.Mutex
	events []Event
	counts map[string]int
	faults map[string]*fault
	hooks  []func(Event)
}

func NewJournal() *Journal {
	return &Journal{counts: map[string]int{}, faults: map[string]*fault{}}
}

// FailOn makes every command named name fail with err.
func (j *Journal) FailOn(name string, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.faults[name] = &fault{err: err, remaining: -1}
}

// FailAt makes the nth (1-based) occurrence of name fail once.
func (j *Journal) FailAt(name string, nth int, err error) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.faults[name] = &fault{err: err, remaining: nth - 1, once: true}
}

// OnEvent registers a hook invoked after each recorded command.
func (j *Journal) OnEvent(fn func(Event)) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.hooks = append(j.hooks, fn)
}

// record appends the command and returns an injected fault, if any.
func (j *Journal) record(name, value string) error {
	j.mu.Lock()
	evt := Event{Seq: len(j.events) + 1, Name: name, Value: value}
	j.events = append(j.events, evt)
	j.counts[name]++
	var err error
	if f, ok := j.faults[name]; ok {
		switch {
		case f.remaining < 0:
			err = f.err
		case f.remaining == 0:
			err = f.err
			if f.once {
				delete(j.faults, name)
			}
		default:
			f.remaining--
		}
	}
	hooks := append([]func(Event){}, j.hooks...)
	j.mu.Unlock()

	for _, hook := range hooks {
		hook(evt)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// Events returns a copy of every recorded command.
func (j *Journal) Events() []Event {
	j.mu.Lock()
	defer j.mu.Unlock()
	return append([]Event(nil), j.events...)
}

// Count returns how many times name was recorded.
func (j *Journal) Count(name string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.counts[name]
}

// Index returns the sequence number of the first event matching name and,
// when value is non-empty, value. It returns 0 when absent.
func (j *Journal) Index(name, value string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	for _, evt := range j.events {
		if evt.Name == name && (value == "" || evt.Value == value) {
			return evt.Seq
		}
	}
	return 0
}

// LastIndex is Index searching from the end.
func (j *Journal) LastIndex(name, value string) int {
	j.mu.Lock()
	defer j.mu.Unlock()
	for i := len(j.events) - 1; i >= 0; i-- {
		evt := j.events[i]
		if evt.Name == name && (value == "" || evt.Value == value) {
			return evt.Seq
		}
	}
	return 0
}

// Reset drops recorded events but keeps hooks and faults.
func (j *Journal) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.events = nil
	j.counts = map[string]int{}
}

// String renders the journal one command per line.
func (j *Journal) String() string {
	var b strings.Builder
	for _, evt := range j.Events() {
		b.WriteString(evt.String())
		b.WriteByte('\n')
	}
	return b.String()
}
