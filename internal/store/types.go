package store

import "time"

// Message direction values as reported by the upstream messages API.
const (
	DirectionInbound       = "inbound"
	DirectionOutboundAPI   = "outbound-api"
	DirectionOutboundCall  = "outbound-call"
	DirectionOutboundReply = "outbound-reply"
)

// Message is one record fetched from the upstream messages API. Once
// cached it is never mutated; the SID is the global deduplication key.
type Message struct {
	SID          string    `json:"sid"`
	From         string    `json:"from"`
	To           string    `json:"to"`
	Body         string    `json:"body"`
	Status       string    `json:"status"`
	Direction    string    `json:"direction"`
	DateSent     time.Time `json:"dateSent"`
	DateCreated  time.Time `json:"dateCreated"`
	Price        string    `json:"price,omitempty"`
	PriceUnit    string    `json:"priceUnit,omitempty"`
	ErrorCode    int       `json:"errorCode,omitempty"`
	ErrorMessage string    `json:"errorMessage,omitempty"`
	NumSegments  int       `json:"numSegments,omitempty"`
	NumMedia     int       `json:"numMedia,omitempty"`
}

// Inbound reports whether the message was received from a contact.
func (m Message) Inbound() bool {
	return m.Direction == DirectionInbound
}

// EffectiveTime returns the sent timestamp, falling back to the created
// timestamp when the API never recorded a sent time.
func (m Message) EffectiveTime() time.Time {
	if !m.DateSent.IsZero() {
		return m.DateSent
	}
	return m.DateCreated
}

// Counterpart returns the contact number on the other side of the
// conversation: the sender for inbound messages, the recipient for
// every outbound variant.
func (m Message) Counterpart() string {
	if m.Inbound() {
		return m.From
	}
	return m.To
}

// Conversation groups every cached message exchanged with one contact.
// The last-message fields always reflect the message with the maximum
// effective timestamp currently held.
type Conversation struct {
	ContactNumber   string    `json:"contactNumber"`
	Messages        []Message `json:"messages,omitempty"`
	LastMessage     string    `json:"lastMessage"`
	LastMessageDate time.Time `json:"lastMessageDate"`
	TotalMessages   int       `json:"totalMessages"`
}
