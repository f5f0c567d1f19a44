package eventlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"gorm.io/gorm"
)

// Store appends events and tails them for the debug websocket. The
// sequence counter gives a total order even when two events land in the
// same wall-clock millisecond, which a bare `timestamp TEXT` column cannot
// disambiguate on its own.
type Store struct {
	db  *gorm.DB
	seq atomic.Int64

	mu        sync.Mutex
	listeners map[int]chan Event
	nextLis   int
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, listeners: make(map[int]chan Event)}
}

// Append persists one event and fans it out to any active Tail listeners.
func (s *Store) Append(kind Kind, payload any) (Event, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal event payload: %w", err)
	}
	ev := Event{
		Timestamp: time.Now().UTC(),
		Kind:      kind,
		Payload:   string(body),
		Seq:       s.seq.Add(1),
	}
	if err := s.db.Create(&ev).Error; err != nil {
		return Event{}, fmt.Errorf("append event: %w", err)
	}
	s.publish(ev)
	return ev, nil
}

func (s *Store) publish(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.listeners {
		select {
		case ch <- ev:
		default:
			// Slow listener: drop rather than block the append path.
		}
	}
}

// Tail returns a channel of events appended after it is created, and a
// cancel function to stop receiving. Uses a register/unregister channel
// pair narrowed to a single topic (there is only one event log, not one
// topic per job/agent/user).
func (s *Store) Tail(ctx context.Context) (<-chan Event, func()) {
	ch := make(chan Event, 64)
	s.mu.Lock()
	id := s.nextLis
	s.nextLis++
	s.listeners[id] = ch
	s.mu.Unlock()

	cancel := func() {
		s.mu.Lock()
		delete(s.listeners, id)
		s.mu.Unlock()
	}

	go func() {
		<-ctx.Done()
		cancel()
	}()

	return ch, cancel
}

// Since returns every event with ID greater than afterID, for clients that
// reconnect to the debug tail and need to catch up before following live.
func (s *Store) Since(afterID int64, limit int) ([]Event, error) {
	var events []Event
	err := s.db.Where("id > ?", afterID).Order("id asc").Limit(limit).Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("query events since %d: %w", afterID, err)
	}
	return events, nil
}
