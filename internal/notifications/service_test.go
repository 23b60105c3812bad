package notifications_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"microprobe/internal/config"
	"microprobe/internal/notifications"
)

func TestNewServiceReturnsNoopWhenTopicMissing(t *testing.T) {
	cfg := config.Default()
	svc := notifications.NewService(&cfg)
	if err := svc.Publish(context.Background(), notifications.EventScanFailed, notifications.Payload{"label": "A"}); err != nil {
		t.Fatalf("expected noop notifier to return nil, got %v", err)
	}
	if err := notifications.NewService(nil).Publish(context.Background(), notifications.EventTest, nil); err != nil {
		t.Fatalf("nil config: %v", err)
	}
}

type captured struct {
	title    string
	tags     string
	priority string
	body     string
	calls    int
}

func newCaptureServer(t *testing.T, status int) (*httptest.Server, *captured) {
	t.Helper()
	c := &captured{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("unexpected method: %s", r.Method)
		}
		c.calls++
		c.title = r.Header.Get("Title")
		c.tags = r.Header.Get("Tags")
		c.priority = r.Header.Get("Priority")
		body, _ := io.ReadAll(r.Body)
		c.body = string(body)
		w.WriteHeader(status)
	}))
	t.Cleanup(server.Close)
	return server, c
}

func TestNtfyServiceFormatsPayloads(t *testing.T) {
	tests := []struct {
		name           string
		event          notifications.Event
		payload        notifications.Payload
		expectTitle    string
		expectMessage  string
		expectTags     string
		expectPriority string
	}{
		{
			name:          "queue started",
			event:         notifications.EventQueueStarted,
			payload:       notifications.Payload{"count": 3},
			expectTitle:   "Microprobe - Run Started",
			expectMessage: "Collecting 3 queued scans",
			expectTags:    "microprobe,run,started",
		},
		{
			name:          "queue completed",
			event:         notifications.EventQueueCompleted,
			payload:       notifications.Payload{"completed": 1, "duration": 95 * time.Second},
			expectTitle:   "Microprobe - Queue Complete",
			expectMessage: "Collected 1 scan in 1m35s",
			expectTags:    "microprobe,queue,completed",
		},
		{
			name:          "paused",
			event:         notifications.EventRunPaused,
			payload:       notifications.Payload{"label": "grid-a"},
			expectTitle:   "Microprobe - Paused",
			expectMessage: "Run paused at grid-a; resume restarts it",
			expectTags:    "microprobe,run,paused",
		},
		{
			name:  "scan failed",
			event: notifications.EventScanFailed,
			payload: notifications.Payload{
				"label": "grid-b",
				"error": errors.New("detector kickoff timed out"),
				"hint":  "check the detector",
			},
			expectTitle:    "Microprobe - Scan Failed",
			expectMessage:  "Scan failed: grid-b\ndetector kickoff timed out\nHint: check the detector",
			expectTags:     "microprobe,error,alert",
			expectPriority: "high",
		},
		{
			name:           "test",
			event:          notifications.EventTest,
			expectTitle:    "Microprobe - Test",
			expectMessage:  "Notification system test",
			expectTags:     "microprobe,test",
			expectPriority: "low",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			server, got := newCaptureServer(t, http.StatusOK)
			cfg := config.Default()
			cfg.Notifications.NtfyTopic = server.URL

			svc := notifications.NewService(&cfg)
			if err := svc.Publish(context.Background(), tc.event, tc.payload); err != nil {
				t.Fatalf("notification returned error: %v", err)
			}
			if got.title != tc.expectTitle {
				t.Fatalf("expected title %q, got %q", tc.expectTitle, got.title)
			}
			if got.body != tc.expectMessage {
				t.Fatalf("expected message %q, got %q", tc.expectMessage, got.body)
			}
			if got.tags != tc.expectTags {
				t.Fatalf("expected tags %q, got %q", tc.expectTags, got.tags)
			}
			if got.priority != tc.expectPriority {
				t.Fatalf("expected priority %q, got %q", tc.expectPriority, got.priority)
			}
		})
	}
}

func TestNtfyServiceHonorsToggles(t *testing.T) {
	server, got := newCaptureServer(t, http.StatusOK)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	cfg.Notifications.Pause = false
	cfg.Notifications.Errors = false
	cfg.Notifications.QueueMinItems = 2

	svc := notifications.NewService(&cfg)
	ctx := context.Background()
	for _, tc := range []struct {
		event   notifications.Event
		payload notifications.Payload
	}{
		{notifications.EventRunPaused, notifications.Payload{"label": "A"}},
		{notifications.EventScanFailed, notifications.Payload{"label": "A"}},
		{notifications.EventQueueStarted, notifications.Payload{"count": 1}},
		{notifications.EventQueueCompleted, notifications.Payload{"completed": 1}},
		{notifications.Event("unknown"), nil},
	} {
		if err := svc.Publish(ctx, tc.event, tc.payload); err != nil {
			t.Fatalf("%s: %v", tc.event, err)
		}
	}
	if got.calls != 0 {
		t.Fatalf("expected suppressed events, got %d calls", got.calls)
	}

	if err := svc.Publish(ctx, notifications.EventQueueStarted, notifications.Payload{"count": 2}); err != nil {
		t.Fatalf("queue started: %v", err)
	}
	if got.calls != 1 {
		t.Fatalf("expected one call, got %d", got.calls)
	}
}

func TestNtfyServiceReportsHTTPFailure(t *testing.T) {
	server, _ := newCaptureServer(t, http.StatusForbidden)
	cfg := config.Default()
	cfg.Notifications.NtfyTopic = server.URL
	err := notifications.NewService(&cfg).Publish(context.Background(), notifications.EventTest, nil)
	if err == nil {
		t.Fatal("expected error for 403 response")
	}
}
