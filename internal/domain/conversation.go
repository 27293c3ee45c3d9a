package domain

import "time"

// Direction tells whether a message was received from or sent to the remote party.
type Direction string

const (
	DirectionReceived Direction = "received"
	DirectionSent     Direction = "sent"
)

// Delivery statuses recorded on outbound messages.
const (
	StatusSent   = "sent"
	StatusFailed = "failed"
)

// Message is a single entry of a conversation. It is never modified after it
// has been appended.
type Message struct {
	ID        string    `json:"id"`
	Direction Direction `json:"direction"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
	Status    string    `json:"status,omitempty"`
	Automatic bool      `json:"automatic,omitempty"`
}

// ConversationState is derived from the idle flags of a Conversation.
type ConversationState string

const (
	StateActive     ConversationState = "active"
	StateIdleWarned ConversationState = "idle_warned"
	StateClosed     ConversationState = "closed"
)

// Conversation is the append-only archive of messages exchanged with one
// remote party.
type Conversation struct {
	ID                    string     `json:"id"`
	DisplayName           string     `json:"display_name"`
	ProviderNumber        string     `json:"provider_number,omitempty"`
	Messages              []Message  `json:"messages"`
	CreatedAt             time.Time  `json:"created_at"`
	LastActivity          time.Time  `json:"last_activity"`
	InactivityWarningSent bool       `json:"inactivity_warning_sent"`
	InactivityWarningAt   time.Time  `json:"inactivity_warning_at,omitempty"`
	Closed                bool       `json:"closed"`
	ClosedAt              *time.Time `json:"closed_at,omitempty"`
}

// State reports where the conversation sits in the idle state machine.
func (c Conversation) State() ConversationState {
	switch {
	case c.Closed:
		return StateClosed
	case c.InactivityWarningSent:
		return StateIdleWarned
	default:
		return StateActive
	}
}

// Clone returns a deep copy safe to hand out of the store.
func (c Conversation) Clone() Conversation {
	out := c
	out.Messages = append([]Message(nil), c.Messages...)
	if c.ClosedAt != nil {
		t := *c.ClosedAt
		out.ClosedAt = &t
	}
	return out
}
