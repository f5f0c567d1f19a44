// Package eventlog persists the append-only record of everything that
// happens to the graph into a single `events` table, via GORM.
package eventlog

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Kind enumerates the kinds of event the log records.
type Kind string

const (
	KindSessionOpened    Kind = "session_opened"
	KindSubmitted        Kind = "submitted"
	KindSubmitRejected   Kind = "submit_rejected"
	KindTaskScheduled    Kind = "task_scheduled"
	KindTaskStarted      Kind = "task_started"
	KindTaskFinished     Kind = "task_finished"
	KindTaskFailed       Kind = "task_failed"
	KindObjectFinished   Kind = "object_finished"
	KindObjectRemoved    Kind = "object_removed"
	KindClientUnkeep     Kind = "client_unkeep"
	KindGovernorJoined   Kind = "governor_joined"
	KindGovernorRemoved  Kind = "governor_removed"
	KindSessionClosed    Kind = "session_closed"
)

// Event is the single row shape: `events(id, timestamp, kind, event, seq)`,
// where event holds the JSON payload. ID is a database-assigned auto-increment rather than
// a UUID — ordering by primary key must match emission order, which a
// time-ordered UUID does not guarantee across a millisecond boundary as
// cheaply as a plain serial column does.
type Event struct {
	ID        int64     `gorm:"primaryKey;autoIncrement"`
	Timestamp time.Time `gorm:"column:timestamp;not null"`
	Kind      Kind      `gorm:"column:kind;not null;index"`
	Payload   string    `gorm:"column:event;type:text;not null"` // JSON-encoded payload
	Seq       int64     `gorm:"column:seq;not null"`             // monotonic logical clock, disambiguates same-timestamp events
}

func (Event) TableName() string { return "events" }

// CorrelationID returns a new UUIDv7 string, which sorts close to creation
// order. No event payload the server writes carries one.
func CorrelationID() string {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the system clock/entropy source is
		// broken; fall back to a random v4 rather than panic.
		return uuid.NewString()
	}
	return id.String()
}

// AutoMigrate is called once at startup, calling gorm's AutoMigrate for
// the whole model set rather than hand writing a CREATE TABLE.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Event{})
}
