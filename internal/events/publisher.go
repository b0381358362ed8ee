package events

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/nats-io/nats.go"
)

// InspectionEvent is broadcast after every terminal sensor decision.
// Line-side consumers (sorters, dashboards) subscribe to the subject.
type InspectionEvent struct {
	Decision     string    `json:"decision"`
	ProductNo    string    `json:"product_no,omitempty"`
	InspectionID int64     `json:"inspection_id,omitempty"`
	ImagePath    string    `json:"image_path,omitempty"`
	OccurredAt   time.Time `json:"occurred_at"`
}

// Publisher pushes inspection events to NATS with bounded retry.
type Publisher struct {
	conn       *nats.Conn
	subject    string
	maxRetries int
}

const DefaultSubject = "inspection.events"

// Connect dials NATS_URL and returns a publisher, or (nil, nil) when the
// variable is unset: the event bus is optional and the line runs fine
// without it.
func Connect(subject string) (*Publisher, error) {
	url := os.Getenv("NATS_URL")
	if url == "" {
		log.Printf("Events: NATS_URL unset, event publishing disabled")
		return nil, nil
	}
	conn, err := nats.Connect(url,
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats at %s: %w", url, err)
	}
	if subject == "" {
		subject = DefaultSubject
	}
	log.Printf("Events: publishing to %s on %s", subject, url)
	return &Publisher{conn: conn, subject: subject, maxRetries: 3}, nil
}

// Publish is safe on a nil Publisher (no-op) so callers need no guard.
func (p *Publisher) Publish(event *InspectionEvent) error {
	if p == nil {
		return nil
	}
	data, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal error: %w", err)
	}

	for i := 0; i <= p.maxRetries; i++ {
		err = p.conn.Publish(p.subject, data)
		if err == nil {
			return nil
		}

		// Backoff
		time.Sleep(time.Duration(i*100) * time.Millisecond)
	}

	return fmt.Errorf("publish failed after %d retries: %w", p.maxRetries, err)
}

func (p *Publisher) Close() {
	if p == nil {
		return
	}
	p.conn.Drain()
}
