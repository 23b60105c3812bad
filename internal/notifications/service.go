package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"microprobe/internal/config"
)

const userAgent = "microprobe/0.1"

// Event names a run milestone.
type Event string

const (
	EventQueueStarted   Event = "queue_started"
	EventQueueCompleted Event = "queue_completed"
	EventRunPaused      Event = "run_paused"
	EventScanFailed     Event = "scan_failed"
	EventTest           Event = "test"
)

// Payload carries event fields keyed by name.
type Payload map[string]any

// Service publishes events.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService returns an ntfy-backed service, or a no-op one when no topic is
// configured.
func NewService(cfg *config.Config) Service {
	if cfg == nil {
		return noopService{}
	}
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}
	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &ntfyService{
		endpoint: topic,
		client:   &http.Client{Timeout: timeout},
		settings: cfg.Notifications,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint string
	client   *http.Client
	settings config.Notifications
}

func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	msg, ok := n.format(event, payload)
	if !ok {
		return nil
	}
	return n.send(ctx, msg)
}

func (n *ntfyService) format(event Event, payload Payload) (message, bool) {
	switch event {
	case EventQueueStarted:
		count := payload.number("count")
		if !n.settings.Queue || count < n.settings.QueueMinItems {
			return message{}, false
		}
		return message{
			title: "Microprobe - Run Started",
			body:  fmt.Sprintf("Collecting %d queued %s", count, plural(count, "scan", "scans")),
			tags:  []string{"microprobe", "run", "started"},
		}, true
	case EventQueueCompleted:
		completed := payload.number("completed")
		if !n.settings.Queue || completed < n.settings.QueueMinItems {
			return message{}, false
		}
		return message{
			title: "Microprobe - Queue Complete",
			body:  fmt.Sprintf("Collected %d %s in %s", completed, plural(completed, "scan", "scans"), payload.duration("duration")),
			tags:  []string{"microprobe", "queue", "completed"},
		}, true
	case EventRunPaused:
		if !n.settings.Pause {
			return message{}, false
		}
		body := "Run paused"
		if label := payload.text("label"); label != "" {
			body = fmt.Sprintf("Run paused at %s; resume restarts it", label)
		}
		return message{
			title: "Microprobe - Paused",
			body:  body,
			tags:  []string{"microprobe", "run", "paused"},
		}, true
	case EventScanFailed:
		if !n.settings.Errors {
			return message{}, false
		}
		var b strings.Builder
		b.WriteString("Scan failed")
		if label := payload.text("label"); label != "" {
			b.WriteString(": ")
			b.WriteString(label)
		}
		if errText := payload.text("error"); errText != "" {
			b.WriteString("\n")
			b.WriteString(errText)
		}
		if hint := payload.text("hint"); hint != "" {
			b.WriteString("\nHint: ")
			b.WriteString(hint)
		}
		return message{
			title:    "Microprobe - Scan Failed",
			body:     b.String(),
			tags:     []string{"microprobe", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Microprobe - Test",
			body:     "Notification system test",
			tags:     []string{"microprobe", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func (n *ntfyService) send(ctx context.Context, msg message) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(msg.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if msg.title != "" {
		req.Header.Set("Title", msg.title)
	}
	if len(msg.tags) > 0 {
		req.Header.Set("Tags", strings.Join(msg.tags, ","))
	}
	if msg.priority != "" {
		req.Header.Set("Priority", msg.priority)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("send ntfy notification: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("ntfy returned %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

type noopService struct{}

func (noopService) Publish(context.Context, Event, Payload) error { return nil }

func (p Payload) text(key string) string {
	switch v := p[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case error:
		return strings.TrimSpace(v.Error())
	case fmt.Stringer:
		return v.String()
	case nil:
		return ""
	default:
		return fmt.Sprint(v)
	}
}

func (p Payload) number(key string) int {
	switch v := p[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case string:
		n, _ := strconv.Atoi(v)
		return n
	default:
		return 0
	}
}

func (p Payload) duration(key string) string {
	d, _ := p[key].(time.Duration)
	d = d.Round(time.Second)
	if d <= 0 {
		return "0s"
	}
	return d.String()
}

func plural(n int, one, many string) string {
	if n == 1 {
		return one
	}
	return many
}
