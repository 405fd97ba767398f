package inbox

import (
	"encoding/json"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestEvent_JSON(t *testing.T) {
	tests := []struct {
		name  string
		event Event
	}{
		{
			name:  "Upsert",
			event: Event{Kind: EventUpsert, Type: TypeAnnouncement, SourceID: "a1", At: t0, Record: Announcement{ID: "a1", Title: "Safety day", RequiresAck: true, PublishedAt: t0, ReadAt: ptr(at(1))}},
		},
		{
			name:  "Delete",
			event: Event{Kind: EventDelete, Type: TypeNotification, SourceID: "n1", At: t0},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b, err := json.Marshal(tt.event)
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			var got Event
			if err := json.Unmarshal(b, &got); err != nil {
				t.Fatalf("Unmarshal: %v", err)
			}
			if diff := cmp.Diff(tt.event, got); diff != "" {
				t.Errorf("Event mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEvent_UnknownType(t *testing.T) {
	var e Event
	err := json.Unmarshal([]byte(`{"kind":"upsert","type":"fax","source_id":"f1","record":{}}`), &e)
	if err == nil {
		t.Error("Expected an error for an unknown message type")
	}
}
