package notifications

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"loom/internal/config"
)

const userAgent = "Loom/0.1.0"

// Event enumerates the run milestones that produce a notification.
type Event string

const (
	EventRunSubmitted      Event = "run_submitted"
	EventDatasetReady      Event = "dataset_ready"
	EventTrainingCompleted Event = "training_completed"
	EventRunCompleted      Event = "run_completed"
	EventRunFailed         Event = "run_failed"
	EventTest              Event = "test"
)

// Payload carries event fields used by the message formatters. Keys the
// formatter does not know are ignored.
type Payload map[string]any

// Service defines the notification surface exposed to workflow components.
type Service interface {
	Publish(ctx context.Context, event Event, payload Payload) error
}

// NewService builds a notification service backed by ntfy when configured.
// When no ntfy topic is configured, a noop implementation is returned.
func NewService(cfg *config.Config) Service {
	topic := strings.TrimSpace(cfg.Notifications.NtfyTopic)
	if topic == "" {
		return noopService{}
	}

	timeout := time.Duration(cfg.Notifications.RequestTimeout) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &ntfyService{
		endpoint:   topic,
		client:     &http.Client{Timeout: timeout},
		enabled:    eventToggles(cfg),
		dedupAfter: time.Duration(cfg.Notifications.DedupWindowSeconds) * time.Second,
		lastSent:   make(map[string]time.Time),
	}
}

func eventToggles(cfg *config.Config) map[Event]bool {
	n := cfg.Notifications
	return map[Event]bool{
		EventRunSubmitted:      n.Acquisition,
		EventDatasetReady:      n.Acquisition,
		EventTrainingCompleted: n.Training,
		EventRunCompleted:      n.Evaluation,
		EventRunFailed:         n.Errors,
		EventTest:              true,
	}
}

type message struct {
	title    string
	body     string
	tags     []string
	priority string
}

type ntfyService struct {
	endpoint   string
	client     *http.Client
	enabled    map[Event]bool
	dedupAfter time.Duration

	mu       sync.Mutex
	lastSent map[string]time.Time
}

// Publish formats and sends the event. Disabled categories and unknown
// events are dropped silently; a repeated identical message inside the dedup
// window is dropped too so a retried stage does not spam the topic.
func (n *ntfyService) Publish(ctx context.Context, event Event, payload Payload) error {
	if !n.enabled[event] {
		return nil
	}
	data, ok := format(event, payload)
	if !ok {
		return nil
	}
	if n.suppressed(event, data.body) {
		return nil
	}
	return n.send(ctx, data)
}

func (n *ntfyService) suppressed(event Event, body string) bool {
	if n.dedupAfter <= 0 {
		return false
	}
	key := string(event) + "\x00" + body
	now := time.Now()

	n.mu.Lock()
	defer n.mu.Unlock()
	if sent, ok := n.lastSent[key]; ok && now.Sub(sent) < n.dedupAfter {
		return true
	}
	n.lastSent[key] = now
	for k, sent := range n.lastSent {
		if now.Sub(sent) >= n.dedupAfter {
			delete(n.lastSent, k)
		}
	}
	return false
}

func format(event Event, payload Payload) (message, bool) {
	runName := payloadString(payload, "runName")
	switch event {
	case EventRunSubmitted:
		return message{
			title: "Loom - Run Submitted",
			body:  fmt.Sprintf("🧵 Run submitted: %s", runName),
			tags:  []string{"loom", "run", "submitted"},
		}, true
	case EventDatasetReady:
		body := fmt.Sprintf("📦 Dataset ready: %s", runName)
		if dataset := payloadString(payload, "dataset"); dataset != "" {
			body = fmt.Sprintf("📦 Dataset ready for %s: %s", runName, dataset)
		}
		return message{
			title: "Loom - Dataset Ready",
			body:  body,
			tags:  []string{"loom", "dataset", "ready"},
		}, true
	case EventTrainingCompleted:
		body := fmt.Sprintf("🧠 Training complete: %s", runName)
		if arch := payloadString(payload, "architecture"); arch != "" {
			body = fmt.Sprintf("🧠 Training complete: %s (%s)", runName, arch)
		}
		return message{
			title: "Loom - Training Complete",
			body:  body,
			tags:  []string{"loom", "training", "completed"},
		}, true
	case EventRunCompleted:
		body := fmt.Sprintf("✅ Run complete: %s", runName)
		if accuracy, ok := payloadFloat(payload, "accuracy"); ok {
			body = fmt.Sprintf("✅ Run complete: %s (accuracy %.1f%%)", runName, accuracy*100)
		}
		return message{
			title:    "Loom - Run Complete",
			body:     body,
			tags:     []string{"loom", "run", "completed"},
			priority: "high",
		}, true
	case EventRunFailed:
		var builder strings.Builder
		builder.WriteString("❌ Run failed")
		if runName != "" {
			builder.WriteString(": ")
			builder.WriteString(runName)
		}
		builder.WriteString(": ")
		if detail := payloadString(payload, "error"); detail != "" {
			builder.WriteString(detail)
		} else {
			builder.WriteString("unknown error")
		}
		return message{
			title:    "Loom - Run Failed",
			body:     builder.String(),
			tags:     []string{"loom", "error", "alert"},
			priority: "high",
		}, true
	case EventTest:
		return message{
			title:    "Loom - Test",
			body:     "🧪 Notification system test",
			tags:     []string{"loom", "test"},
			priority: "low",
		}, true
	default:
		return message{}, false
	}
}

func payloadString(payload Payload, key string) string {
	if payload == nil {
		return ""
	}
	switch value := payload[key].(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(value)
	case error:
		return strings.TrimSpace(value.Error())
	default:
		return strings.TrimSpace(fmt.Sprintf("%v", value))
	}
}

func payloadFloat(payload Payload, key string) (float64, bool) {
	if payload == nil {
		return 0, false
	}
	switch value := payload[key].(type) {
	case float64:
		return value, true
	case float32:
		return float64(value), true
	case int:
		return float64(value), true
	default:
		return 0, false
	}
}

func (n *ntfyService) send(ctx context.Context, data message) error {
	if n == nil || n.client == nil {
		return nil
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.endpoint, strings.NewReader(data.body))
	if err != nil {
		return fmt.Errorf("build ntfy request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Content-Type", "text/plain; charset=utf-8")
	if data.title != "" {
		req.Header.Set("Title", data.title)
	}
	if len(data.tags) > 0 {
		req.Header.Set("Tags", strings.Join(data.tags, ","))
	}
	if data.priority != "" && data.priority != "default" {
		req.Header.Set("Priority", data.priority)
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
