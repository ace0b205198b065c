package notify

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

type bogusEvent struct{ SessionState }

func TestEncode(t *testing.T) {
	stamp := time.Date(2024, 3, 4, 9, 0, 0, 0, time.UTC)
	tests := []struct {
		name  string
		event Event
		want  map[string]any
	}{
		{
			name:  "session state",
			event: NewSessionState(90*time.Second + 400*time.Millisecond),
			want:  map[string]any{"eventId": 7.0, "type": "SessionState", "remainingTime": 90.0, "unit": "seconds"},
		},
		{
			name:  "session starting",
			event: NewSessionStarting("L1", "bench-1", "10.0.0.11", 30*time.Minute, 30*time.Second),
			want: map[string]any{
				"eventId": 7.0, "type": "SessionStarting", "laboratoryId": "L1", "hardwareId": "bench-1",
				"hardwareAddress": "10.0.0.11", "duration": 1800.0, "notifyInterval": 30.0,
			},
		},
		{
			name:  "queue position",
			event: QueuePosition{LaboratoryID: "L1", Position: 2},
			want:  map[string]any{"eventId": 7.0, "type": "QueuePosition", "laboratoryId": "L1", "position": 2.0},
		},
		{
			name:  "message",
			event: Message{Text: "hello"},
			want:  map[string]any{"eventId": 7.0, "type": "Message", "text": "hello"},
		},
		{
			name:  "error",
			event: Error{Code: 500, Message: "boom"},
			want:  map[string]any{"eventId": 7.0, "type": "Error", "code": 500.0, "message": "boom"},
		},
		{
			name:  "keep alive",
			event: KeepAlive{Timestamp: stamp},
			want:  map[string]any{"eventId": 7.0, "type": "KeepAlive", "timestamp": "2024-03-04T09:00:00Z"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data, err := Encode(7, tt.event)
			if err != nil {
				t.Fatalf("Encode failed: %v", err)
			}
			var got map[string]any
			if err := json.Unmarshal(data, &got); err != nil {
				t.Fatalf("invalid JSON %s: %v", data, err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("unexpected fields %s", data)
			}
			for key, want := range tt.want {
				if got[key] != want {
					t.Fatalf("field %s = %v, want %v (%s)", key, got[key], want, data)
				}
			}
		})
	}
}

func TestEncodeRejectsUnknownVariants(t *testing.T) {
	if _, err := Encode(1, bogusEvent{}); !errors.Is(err, ErrUnknownEvent) {
		t.Fatalf("expected ErrUnknownEvent, got %v", err)
	}
}

func TestNewSessionStateClampsNegative(t *testing.T) {
	if got := NewSessionState(-time.Minute); got.RemainingTime != 0 {
		t.Fatalf("expected 0, got %d", got.RemainingTime)
	}
}
