package rundocs

import (
	"context"
	"fmt"
	"maps"
	"sync"

	"microprobe/internal/hardware"
)

// MemoryBackend keeps run documents in process. Contents are lost on exit.
type MemoryBackend struct {
	mu       sync.Mutex
	scanID   int64
	order    []string
	runs     map[string]*Run
	records  map[string][]hardware.Record
	metadata map[string]string
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{
		runs:     map[string]*Run{},
		records:  map[string][]hardware.Record{},
		metadata: map[string]string{},
	}
}

func (m *MemoryBackend) NextScanID(context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.scanID++
	return m.scanID, nil
}

func (m *MemoryBackend) PutStart(_ context.Context, doc StartDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.runs[doc.UID]; exists {
		return fmt.Errorf("run %s already recorded", doc.UID)
	}
	m.runs[doc.UID] = &Run{Start: doc}
	m.order = append(m.order, doc.UID)
	return nil
}

func (m *MemoryBackend) AppendRecords(_ context.Context, uid string, records []hardware.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[uid]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, uid)
	}
	m.records[uid] = append(m.records[uid], records...)
	run.Records += len(records)
	return nil
}

func (m *MemoryBackend) PutStop(_ context.Context, doc StopDoc) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[doc.UID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrRunNotFound, doc.UID)
	}
	stop := doc
	run.Stop = &stop
	return nil
}

func (m *MemoryBackend) Runs(_ context.Context, limit int) ([]Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Run, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		if limit > 0 && len(out) == limit {
			break
		}
		out = append(out, copyRun(m.runs[m.order[i]]))
	}
	return out, nil
}

func (m *MemoryBackend) Run(_ context.Context, uid string) (Run, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	run, ok := m.runs[uid]
	if !ok {
		return Run{}, fmt.Errorf("%w: %s", ErrRunNotFound, uid)
	}
	return copyRun(run), nil
}

func (m *MemoryBackend) Records(_ context.Context, uid string) ([]hardware.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.runs[uid]; !ok {
		return nil, fmt.Errorf("%w: %s", ErrRunNotFound, uid)
	}
	return append([]hardware.Record(nil), m.records[uid]...), nil
}

func (m *MemoryBackend) Metadata(context.Context) (map[string]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.metadata), nil
}

func (m *MemoryBackend) SetMetadata(_ context.Context, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metadata[key] = value
	return nil
}

func (m *MemoryBackend) DeleteMetadata(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.metadata, key)
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

func copyRun(run *Run) Run {
	out := *run
	if run.Stop != nil {
		stop := *run.Stop
		out.Stop = &stop
	}
	return out
}
