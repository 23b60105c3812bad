package testsupport

import (
	"testing"

	"microprobe/internal/config"
	"microprobe/internal/queue"
)

// MustOpenStore opens a queue.Store for tests and registers cleanup.
func MustOpenStore(t testing.TB, cfg *config.Config) *queue.Store {
	t.Helper()

	store, err := queue.Open(cfg)
	if err != nil {
		t.Fatalf("queue.Open: %v", err)
	}
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

// Request returns a small valid area scan labelled label.
func Request(label string) queue.ScanRequest {
	return queue.ScanRequest{
		Label:  label,
		YStart: 0, YStop: 0.2, YPitch: 0.2,
		XStart: 0, XStop: 0.4, XPitch: 0.2,
		Dwell: 0.1,
	}
}

// MustQueue returns a queue holding one small request per label.
func MustQueue(t testing.TB, labels ...string) *queue.ScanQueue {
	t.Helper()

	q := queue.New()
	for _, label := range labels {
		if err := q.Add(Request(label)); err != nil {
			t.Fatalf("queue add %s: %v", label, err)
		}
	}
	return q
}
