package event

import (
	"errors"
	"testing"
)

func TestNew_Valid(t *testing.T) {
	evt, err := New("user", "user-1", "UserRegistered", 1, []byte(`{"email":"a@b.c"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if evt.ID.String() == "" {
		t.Fatal("expected generated id")
	}
	if evt.Timestamp.IsZero() {
		t.Fatal("expected timestamp")
	}
	if evt.Timestamp.Location().String() != "UTC" {
		t.Fatalf("expected UTC timestamp, got %s", evt.Timestamp.Location())
	}
}

func TestNew_Invalid(t *testing.T) {
	cases := []struct {
		name      string
		aggregate string
		eventType string
		version   int64
		payload   []byte
		want      error
	}{
		{"missing aggregate", "", "UserRegistered", 1, []byte(`{}`), ErrAggregateIDRequired},
		{"missing type", "user-1", "", 1, []byte(`{}`), ErrEventTypeRequired},
		{"zero version", "user-1", "UserRegistered", 0, []byte(`{}`), ErrVersionInvalid},
		{"empty payload", "user-1", "UserRegistered", 1, nil, ErrPayloadRequired},
		{"bad json", "user-1", "UserRegistered", 1, []byte(`{`), ErrPayloadNotJSON},
	}
	for _, tc := range cases {
		_, err := New("user", tc.aggregate, tc.eventType, tc.version, tc.payload)
		if !errors.Is(err, tc.want) {
			t.Fatalf("%s: expected %v, got %v", tc.name, tc.want, err)
		}
	}
}

func TestEncodeDecode(t *testing.T) {
	evt, err := New("workspace", "ws-1", "WorkspaceCreated", 1, []byte(`{"name":"Acme"}`))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	evt.TenantID = "tenant-1"
	evt.CorrelationID = "corr-1"

	raw, err := Encode(evt)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.ID != evt.ID || got.AggregateID != "ws-1" || got.TenantID != "tenant-1" {
		t.Fatalf("round trip mismatch: %+v", got)
	}
	if got.EventVersion != 1 {
		t.Fatalf("expected version 1, got %d", got.EventVersion)
	}
}

func TestDecode_Malformed(t *testing.T) {
	if _, err := Decode([]byte(`not json`)); err == nil {
		t.Fatal("expected error for malformed body")
	}
	// Structurally valid JSON that fails envelope validation.
	if _, err := Decode([]byte(`{"aggregate_id":"","event_type":"X","event_version":1,"payload":{}}`)); err == nil {
		t.Fatal("expected validation error")
	}
}
