package twilio

import (
	"context"
	"time"

	"github.com/miloview/miloview/internal/store"
)

// DemoSource stands in for the upstream API when no credentials are
// configured. It serves a fixed three-message fixture so the dashboard
// stays usable without an account.
type DemoSource struct {
	clock func() time.Time
}

// NewDemoSource creates a fixture-backed source.
func NewDemoSource() *DemoSource {
	return &DemoSource{clock: time.Now}
}

// Demo always reports true.
func (d *DemoSource) Demo() bool { return true }

// List delivers the fixture set as a single page, honoring the filter's
// time bounds so incremental syncs see no "new" messages on every tick.
func (d *DemoSource) List(_ context.Context, f Filter, fn PageFunc) error {
	var page []store.Message
	for _, m := range DemoMessages(d.clock()) {
		ts := m.EffectiveTime()
		if !f.SentAfter.IsZero() && !ts.After(f.SentAfter) {
			continue
		}
		if !f.SentBefore.IsZero() && !ts.Before(f.SentBefore) {
			continue
		}
		page = append(page, m)
	}
	_, err := fn(page)
	return err
}

// DemoMessages returns the fixture conversation set, timestamped
// relative to now.
func DemoMessages(now time.Time) []store.Message {
	return []store.Message{
		{
			SID:         "demo1",
			From:        "whatsapp:+5511999887766",
			To:          "whatsapp:+14155238886",
			Body:        "Hello! This is a demo message.",
			Status:      "delivered",
			Direction:   store.DirectionInbound,
			DateSent:    now,
			DateCreated: now,
		},
		{
			SID:         "demo2",
			From:        "whatsapp:+14155238886",
			To:          "whatsapp:+5511999887766",
			Body:        "Welcome to MiloView! The system is running in demo mode.",
			Status:      "sent",
			Direction:   store.DirectionOutboundAPI,
			DateSent:    now.Add(-time.Minute),
			DateCreated: now.Add(-time.Minute),
		},
		{
			SID:         "demo3",
			From:        "whatsapp:+5521987654321",
			To:          "whatsapp:+14155238886",
			Body:        "Configure the upstream account SID and auth token to connect to live WhatsApp traffic.",
			Status:      "delivered",
			Direction:   store.DirectionInbound,
			DateSent:    now.Add(-2 * time.Minute),
			DateCreated: now.Add(-2 * time.Minute),
		},
	}
}
