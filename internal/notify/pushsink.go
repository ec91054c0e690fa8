package notify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"time"
)

// PushSink posts fired notifications to a device notification gateway.
// With Skip set it only logs, so dev runs need no gateway.
type PushSink struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// NewPushSink creates a sink with a short request timeout.
func NewPushSink(baseURL string, skip bool) *PushSink {
	return &PushSink{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type pushPayload struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	Body  string `json:"body"`
}

// Deliver implements Sink. Delivery is best effort; failures are logged and
// never block the caller's state machine.
func (s *PushSink) Deliver(n Notification) {
	if s.Skip {
		log.Printf("notification (skip): %s: %s", n.Title, n.Body)
		return
	}
	payload, err := json.Marshal(pushPayload{ID: n.ID, Title: n.Title, Body: n.Body})
	if err != nil {
		log.Printf("notification encode failed: %v", err)
		return
	}
	resp, err := s.HTTP.Post(s.BaseURL+"/v1/notifications", "application/json", bytes.NewReader(payload))
	if err != nil {
		log.Printf("notification push failed: %v", err)
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		log.Printf("notification push failed: %v", fmt.Errorf("gateway status %d", resp.StatusCode))
	}
}
