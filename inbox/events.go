package inbox

import (
	"encoding/json"
	"fmt"
	"time"
)

// An EventKind is the kind of an incremental push event.
type EventKind string

const (
	EventUpsert EventKind = "upsert"
	EventDelete EventKind = "delete"
)

// An Event is an incremental change to one source record, keyed by
// (Type, SourceID). Record is nil for deletes.
type Event struct {
	Kind     EventKind
	Type     MessageType
	SourceID string
	Record   Record
	At       time.Time
}

// UpsertEvent builds an upsert event for r.
func UpsertEvent(r Record) Event {
	return Event{Kind: EventUpsert, Type: r.MessageType(), SourceID: r.SourceID(), Record: r, At: time.Now()}
}

// DeleteEvent builds a delete event for ref.
func DeleteEvent(ref ConversationRef) Event {
	return Event{Kind: EventDelete, Type: ref.Type, SourceID: ref.SourceID, At: time.Now()}
}

type wireEvent struct {
	Kind     EventKind       `json:"kind"`
	Type     MessageType     `json:"type"`
	SourceID string          `json:"source_id"`
	Record   json.RawMessage `json:"record,omitempty"`
	At       time.Time       `json:"at"`
}

// MarshalJSON encodes the event with its record payload.
func (e Event) MarshalJSON() ([]byte, error) {
	w := wireEvent{Kind: e.Kind, Type: e.Type, SourceID: e.SourceID, At: e.At}
	if e.Record != nil {
		b, err := json.Marshal(e.Record)
		if err != nil {
			return nil, fmt.Errorf("marshal record: %w", err)
		}
		w.Record = b
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes the record payload into the concrete record type
// named by the event's type.
func (e *Event) UnmarshalJSON(b []byte) error {
	var w wireEvent
	if err := json.Unmarshal(b, &w); err != nil {
		return err
	}
	t, err := ParseMessageType(string(w.Type))
	if err != nil {
		return err
	}
	*e = Event{Kind: w.Kind, Type: t, SourceID: w.SourceID, At: w.At}
	if w.Kind == EventDelete || len(w.Record) == 0 {
		return nil
	}
	rec, err := decodeRecord(t, w.Record)
	if err != nil {
		return fmt.Errorf("decode %s record: %w", t, err)
	}
	e.Record = rec
	return nil
}

func decodeRecord(t MessageType, b []byte) (Record, error) {
	switch t {
	case TypeSMS:
		return decodeAs[SMSConversation](b)
	case TypeTeamChat:
		return decodeAs[TeamChatConversation](b)
	case TypeTicketChat:
		return decodeAs[TicketThread](b)
	case TypeAnnouncement:
		return decodeAs[Announcement](b)
	case TypeNotification:
		return decodeAs[SystemNotification](b)
	default:
		panic("inbox: unhandled message type " + string(t))
	}
}

func decodeAs[R Record](b []byte) (Record, error) {
	var r R
	if err := json.Unmarshal(b, &r); err != nil {
		return nil, err
	}
	return r, nil
}
