package notify

import (
	"log"
	"time"

	"github.com/go-resty/resty/v2"
)

// Notification kinds
const (
	KindSuccess  = "success"
	KindFailure  = "failure"
	KindWouldBuy = "would_buy"
)

// Notifier delivers outward notifications. Fire-and-forget: the core
// never consumes a return value and a delivery failure never rolls
// back the event that triggered it.
type Notifier interface {
	Notify(kind string, payload map[string]interface{})
}

// LogNotifier writes notifications to the process log.
type LogNotifier struct{}

func (LogNotifier) Notify(kind string, payload map[string]interface{}) {
	log.Printf("[Notify] %s: %v", kind, payload)
}

// WebhookNotifier POSTs notifications to a configured endpoint.
// Delivery runs in its own goroutine; failures are logged and dropped.
type WebhookNotifier struct {
	url    string
	client *resty.Client
}

func NewWebhookNotifier(url string) *WebhookNotifier {
	client := resty.New()
	client.SetTimeout(10 * time.Second)
	return &WebhookNotifier{url: url, client: client}
}

func (n *WebhookNotifier) Notify(kind string, payload map[string]interface{}) {
	body := map[string]interface{}{
		"kind":    kind,
		"payload": payload,
		"sent_at": time.Now(),
	}
	go func() {
		resp, err := n.client.R().
			SetHeader("Content-Type", "application/json").
			SetBody(body).
			Post(n.url)
		if err != nil {
			log.Printf("[Notify] webhook delivery failed: %v", err)
			return
		}
		if resp.IsError() {
			log.Printf("[Notify] webhook returned status %d", resp.StatusCode())
		}
	}()
}
