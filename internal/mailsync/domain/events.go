package domain

import "fmt"

// Source tags which producer computed an event
type Source string

const (
	SourceUserAction     Source = "user_action"
	SourceExternalChange Source = "external_change"
)

// EventType enumerates the closed set of broadcast event kinds
type EventType string

const (
	EventEmailUpdated EventType = "email_updated"
	EventEmailDeleted EventType = "email_deleted"
	EventCountUpdated EventType = "count_updated"
	EventEmailCreated EventType = "email_created"
)

// Event is one state-change notification fanned out to a user's connected
// clients. The set of implementations is closed; Key identifies
// semantically-equal emissions so rapid-fire duplicates collapse.
type Event interface {
	Type() EventType
	Key() string
	sealed()
}

// EmailUpdated announces a read-state change for one message
type EmailUpdated struct {
	ID     string `json:"id"`
	IsRead bool   `json:"isRead"`
	Source Source `json:"source"`
}

func (EmailUpdated) Type() EventType { return EventEmailUpdated }
func (e EmailUpdated) Key() string {
	return fmt.Sprintf("%s:%s:%t", EventEmailUpdated, e.ID, e.IsRead)
}
func (EmailUpdated) sealed() {}

// EmailDeleted announces a message removal
type EmailDeleted struct {
	ID       string `json:"id"`
	ThreadID string `json:"threadId,omitempty"`
	Reason   string `json:"reason"`
	Source   Source `json:"source"`
}

func (EmailDeleted) Type() EventType { return EventEmailDeleted }
func (e EmailDeleted) Key() string {
	return fmt.Sprintf("%s:%s", EventEmailDeleted, e.ID)
}
func (EmailDeleted) sealed() {}

// CountUpdated announces new {unread, total} counters. Two emissions with
// the same values within the dedup window are one logical update.
type CountUpdated struct {
	Unread int    `json:"unread"`
	Total  int    `json:"total"`
	Source Source `json:"source"`
}

func (CountUpdated) Type() EventType { return EventCountUpdated }
func (e CountUpdated) Key() string {
	return fmt.Sprintf("%s:%d:%d", EventCountUpdated, e.Unread, e.Total)
}
func (CountUpdated) sealed() {}

// EmailCreated announces a newly-arrived message
type EmailCreated struct {
	ID      string `json:"id"`
	Subject string `json:"subject"`
	From    string `json:"from"`
	IsRead  bool   `json:"isRead"`
}

func (EmailCreated) Type() EventType { return EventEmailCreated }
func (e EmailCreated) Key() string {
	return fmt.Sprintf("%s:%s", EventEmailCreated, e.ID)
}
func (EmailCreated) sealed() {}
