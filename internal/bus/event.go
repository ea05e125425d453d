package bus

import "time"

// Event kinds published by the sync controller and the block manager.
// Subscribers filter by namespace prefix ("sync.", "block.").
const (
	KindSyncProgress     = "sync.progress"
	KindSyncNewMessages  = "sync.new_messages"
	KindSyncFullComplete = "sync.full_complete"
	KindBlockChanged     = "block.changed"
)

// Event is a domain event published on the bus.
type Event struct {
	Kind      string
	Timestamp time.Time
	Payload   any
}

// ProgressPayload reports pagination progress during a long fetch.
type ProgressPayload struct {
	Fetched int `json:"current"`
	Page    int `json:"page"`
}

// NewMessagesPayload announces messages added by an incremental sync.
type NewMessagesPayload struct {
	Count         int `json:"count"`
	TotalMessages int `json:"totalMessages"`
}

// FullCompletePayload announces a completed full sync.
type FullCompletePayload struct {
	TotalMessages int       `json:"totalMessages"`
	Timestamp     time.Time `json:"timestamp"`
}

// BlockChangedPayload announces a blocklist mutation.
type BlockChangedPayload struct {
	PhoneNumber string    `json:"phoneNumber"`
	Action      string    `json:"action"`
	Timestamp   time.Time `json:"timestamp"`
}
