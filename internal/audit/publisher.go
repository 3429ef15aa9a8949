package audit

import (
	"time"

	"github.com/mssola/useragent"
	"github.com/prometheus/client_golang/prometheus"
)

// Publisher hands events to the worker without blocking request handling.
// When the buffer is full the event is dropped and counted; audit is
// best-effort by design, consents themselves are the durable record.
type Publisher struct {
	inbox   chan<- Event
	dropped prometheus.Counter
}

// NewPublisher wraps the worker inbox.
func NewPublisher(inbox chan<- Event, dropped prometheus.Counter) *Publisher {
	return &Publisher{inbox: inbox, dropped: dropped}
}

// Publish enqueues the event, stamping OccurredAt and summarising the raw
// User-Agent so the trail stays low-cardinality.
func (p *Publisher) Publish(event Event) {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	event.UserAgent = SummarizeUserAgent(event.UserAgent)

	select {
	case p.inbox <- event:
	default:
		if p.dropped != nil {
			p.dropped.Inc()
		}
	}
}

// SummarizeUserAgent reduces a raw User-Agent header to "Browser/Version (OS)".
func SummarizeUserAgent(raw string) string {
	if raw == "" {
		return ""
	}
	ua := useragent.New(raw)
	name, version := ua.Browser()
	if name == "" {
		return raw
	}
	summary := name
	if version != "" {
		summary += "/" + version
	}
	if osInfo := ua.OS(); osInfo != "" {
		summary += " (" + osInfo + ")"
	}
	return summary
}
