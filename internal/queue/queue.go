package queue

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"microprobe/internal/faults"
)

// ScanQueue is an ordered list of scan requests with unique labels.
// It is safe for concurrent use; subscribers are notified outside the lock.
type ScanQueue struct {
	mu        sync.Mutex
	items     []Item
	observers map[int]func(Event)
	nextObs   int
	now       func() time.Time
}

// New returns an empty queue.
func New() *ScanQueue {
	return &ScanQueue{observers: map[int]func(Event){}, now: time.Now}
}

// Restore builds a queue from previously saved items, keeping their order
// and status. Labels are normalized and must be unique.
func Restore(items []Item) (*ScanQueue, error) {
	q := New()
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		item.Request.Label = NormalizeLabel(item.Request.Label)
		if err := checkLabel(item.Request.Label, seen); err != nil {
			return nil, err
		}
		if _, ok := statusRank[item.Status]; !ok {
			return nil, fmt.Errorf("%w: %q for %s", ErrUnknownStatus, item.Status, item.Request.Label)
		}
		seen[item.Request.Label] = struct{}{}
		q.items = append(q.items, item)
	}
	return q, nil
}

func checkLabel(label string, seen map[string]struct{}) error {
	if label == "" {
		return faults.Wrap(faults.ErrValidation, "queue", "add", "", ErrEmptyLabel)
	}
	if _, dup := seen[label]; dup {
		return faults.Wrap(faults.ErrValidation, "queue", "add", label, ErrDuplicateLabel)
	}
	return nil
}

func (q *ScanQueue) labelsLocked() map[string]struct{} {
	seen := make(map[string]struct{}, len(q.items))
	for _, item := range q.items {
		seen[item.Request.Label] = struct{}{}
	}
	return seen
}

func (q *ScanQueue) indexLocked(label string) int {
	label = NormalizeLabel(label)
	for i, item := range q.items {
		if item.Request.Label == label {
			return i
		}
	}
	return -1
}

// Add appends req with status queued. An empty or duplicate label is
// rejected and the queue is left unchanged.
func (q *ScanQueue) Add(req ScanRequest) error {
	return q.AddAll([]ScanRequest{req})
}

// AddAll appends every request or none of them.
func (q *ScanQueue) AddAll(reqs []ScanRequest) error {
	q.mu.Lock()
	seen := q.labelsLocked()
	added := make([]Item, 0, len(reqs))
	now := q.now()
	for _, req := range reqs {
		req.Label = NormalizeLabel(req.Label)
		if err := checkLabel(req.Label, seen); err != nil {
			q.mu.Unlock()
			return err
		}
		seen[req.Label] = struct{}{}
		added = append(added, Item{Request: req, Status: StatusQueued, UpdatedAt: now})
	}
	start := len(q.items)
	q.items = append(q.items, added...)
	q.mu.Unlock()

	for i, item := range added {
		q.notify(Event{Kind: EventAdded, Label: item.Request.Label, Index: start + i, Status: StatusQueued})
	}
	return nil
}

// Remove deletes the item at index. Out-of-range indexes are a no-op and
// report false.
func (q *ScanQueue) Remove(index int) bool {
	q.mu.Lock()
	if index < 0 || index >= len(q.items) {
		q.mu.Unlock()
		return false
	}
	removed := q.items[index]
	q.items = append(q.items[:index], q.items[index+1:]...)
	q.mu.Unlock()

	q.notify(Event{Kind: EventRemoved, Label: removed.Request.Label, Index: index, Status: removed.Status})
	return true
}

// RemoveLabel deletes the item with label.
func (q *ScanQueue) RemoveLabel(label string) error {
	q.mu.Lock()
	index := q.indexLocked(label)
	q.mu.Unlock()
	if index < 0 || !q.Remove(index) {
		return fmt.Errorf("%w: %s", ErrNotFound, label)
	}
	return nil
}

// MoveUp swaps the item at index with its predecessor. Index 0 and
// out-of-range indexes are a no-op.
func (q *ScanQueue) MoveUp(index int) bool {
	return q.swap(index, index-1)
}

// MoveDown swaps the item at index with its successor. The last index and
// out-of-range indexes are a no-op.
func (q *ScanQueue) MoveDown(index int) bool {
	return q.swap(index, index+1)
}

func (q *ScanQueue) swap(from, to int) bool {
	q.mu.Lock()
	n := len(q.items)
	if from < 0 || from >= n || to < 0 || to >= n {
		q.mu.Unlock()
		return false
	}
	q.items[from], q.items[to] = q.items[to], q.items[from]
	moved := q.items[to]
	q.mu.Unlock()

	q.notify(Event{Kind: EventMoved, Label: moved.Request.Label, Index: to, Status: moved.Status})
	return true
}

// Update replaces the request of a queued item in place. An empty req.Label
// keeps the current label; a new label must be unique.
func (q *ScanQueue) Update(label string, req ScanRequest) (Item, error) {
	q.mu.Lock()
	i := q.indexLocked(label)
	if i < 0 {
		q.mu.Unlock()
		return Item{}, fmt.Errorf("%w: %s", ErrNotFound, label)
	}
	current := q.items[i]
	if current.Status != StatusQueued {
		q.mu.Unlock()
		return Item{}, faults.Wrap(faults.ErrValidation, "queue", "update", current.Label(),
			fmt.Errorf("%w (%s is %s)", ErrNotQueued, current.Label(), current.Status))
	}
	req.Label = NormalizeLabel(req.Label)
	if req.Label == "" {
		req.Label = current.Label()
	}
	if req.Label != current.Label() {
		seen := q.labelsLocked()
		if err := checkLabel(req.Label, seen); err != nil {
			q.mu.Unlock()
			return Item{}, err
		}
	}
	q.items[i].Request = req
	q.items[i].UpdatedAt = q.now()
	updated := q.items[i]
	q.mu.Unlock()

	q.notify(Event{Kind: EventUpdated, Label: updated.Label(), Index: i, Status: updated.Status})
	return updated, nil
}

// Items returns a copy of the queue in execution order.
func (q *ScanQueue) Items() []Item {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]Item(nil), q.items...)
}

func (q *ScanQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Get returns a copy of the item with label.
func (q *ScanQueue) Get(label string) (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if i := q.indexLocked(label); i >= 0 {
		return q.items[i], true
	}
	return Item{}, false
}

// IndexOf returns the position of label, or -1.
func (q *ScanQueue) IndexOf(label string) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.indexLocked(label)
}

// Next returns the first item that is not complete.
func (q *ScanQueue) Next() (Item, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, item := range q.items {
		if !item.IsComplete() {
			return item, true
		}
	}
	return Item{}, false
}

// SetStatus moves the item forward to status. Setting the current status
// again is a no-op.
func (q *ScanQueue) SetStatus(label string, status Status) error {
	rank, ok := statusRank[status]
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStatus, status)
	}
	q.mu.Lock()
	i := q.indexLocked(label)
	if i < 0 {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, label)
	}
	current := q.items[i].Status
	if current == status {
		q.mu.Unlock()
		return nil
	}
	if rank < statusRank[current] {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s is %s, requested %s", ErrStatusRegression, q.items[i].Request.Label, current, status)
	}
	q.items[i].Status = status
	q.items[i].UpdatedAt = q.now()
	evt := Event{Kind: EventStatus, Label: q.items[i].Request.Label, Index: i, Status: status}
	q.mu.Unlock()

	q.notify(evt)
	return nil
}

// Reset returns the item to queued regardless of its current status.
func (q *ScanQueue) Reset(label string) error {
	q.mu.Lock()
	i := q.indexLocked(label)
	if i < 0 {
		q.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrNotFound, label)
	}
	changed := q.resetLocked(i)
	evt := Event{Kind: EventStatus, Label: q.items[i].Request.Label, Index: i, Status: StatusQueued}
	q.mu.Unlock()

	if changed {
		q.notify(evt)
	}
	return nil
}

// ResetAll returns every item to queued and reports how many changed.
func (q *ScanQueue) ResetAll() int {
	q.mu.Lock()
	var events []Event
	for i := range q.items {
		if q.resetLocked(i) {
			events = append(events, Event{Kind: EventStatus, Label: q.items[i].Request.Label, Index: i, Status: StatusQueued})
		}
	}
	q.mu.Unlock()

	for _, evt := range events {
		q.notify(evt)
	}
	return len(events)
}

func (q *ScanQueue) resetLocked(i int) bool {
	if q.items[i].Status == StatusQueued {
		return false
	}
	q.items[i].Status = StatusQueued
	q.items[i].UpdatedAt = q.now()
	return true
}

// Clear removes every item and reports how many were dropped.
func (q *ScanQueue) Clear() int {
	q.mu.Lock()
	n := len(q.items)
	q.items = nil
	q.mu.Unlock()

	if n > 0 {
		q.notify(Event{Kind: EventCleared, Index: -1})
	}
	return n
}

// Subscribe registers fn for every subsequent mutation and returns a func
// that removes it. Callbacks run synchronously on the mutating goroutine and
// must not block.
func (q *ScanQueue) Subscribe(fn func(Event)) (unsubscribe func()) {
	q.mu.Lock()
	id := q.nextObs
	q.nextObs++
	q.observers[id] = fn
	q.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			q.mu.Lock()
			delete(q.observers, id)
			q.mu.Unlock()
		})
	}
}

func (q *ScanQueue) notify(evt Event) {
	q.mu.Lock()
	ids := make([]int, 0, len(q.observers))
	for id := range q.observers {
		ids = append(ids, id)
	}
	observers := make([]func(Event), 0, len(ids))
	slices.Sort(ids)
	for _, id := range ids {
		observers = append(observers, q.observers[id])
	}
	q.mu.Unlock()

	for _, fn := range observers {
		fn(evt)
	}
}
