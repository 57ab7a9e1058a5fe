package domain

import (
	"context"
	"time"
)

// EventType names an event emitted after a successful commit.
type EventType string

const (
	EventTransactionCommitted EventType = "transaction_committed"
	EventGroupCreated         EventType = "group_created"
	EventGroupDeleted         EventType = "group_deleted"
	EventMemberAdded          EventType = "member_added"
	EventMemberRemoved        EventType = "member_removed"
	EventMemberRoleChanged    EventType = "member_role_changed"
	EventMemberRenamed        EventType = "member_renamed"
	EventUserRegistered       EventType = "user_registered"
)

// Event is the opaque payload handed to the notification channel: a type
// plus the identifiers it concerns.
type Event struct {
	Type          EventType `json:"type"`
	GroupID       string    `json:"group_id,omitempty"`
	TransactionID string    `json:"transaction_id,omitempty"`
	Usernames     []string  `json:"usernames,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// EventPublisher delivers committed events to interested parties.
type EventPublisher interface {
	Publish(ctx context.Context, evt Event) error
}

// StreamMessage represents a single entry from a durable event stream.
type StreamMessage struct {
	ID      string
	Payload []byte
}

// SignalBus provides pub/sub and durable streams.
type SignalBus interface {
	Publish(ctx context.Context, channel string, payload []byte) error
	Subscribe(ctx context.Context, channel string) (<-chan []byte, error)
	StreamAppend(ctx context.Context, stream string, payload []byte) error
	StreamRead(ctx context.Context, stream string, lastID string, count int) ([]StreamMessage, error)
}
