package wire

import (
	"bytes"
	"testing"

	"github.com/cachewire/cachewire-go/pkg/model"
)

func TestEncodeDecodeListen(t *testing.T) {
	data, err := EncodeFrame(MsgListen, &Listen{
		SubscriptionID: "sub-1",
		EntityType:     "lead",
		Filter:         "owner = 'me'",
	})
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}

	frame, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	if frame.Type != MsgListen {
		t.Errorf("Type = %v, want LISTEN", frame.Type)
	}

	listen, err := frame.DecodeListen()
	if err != nil {
		t.Fatalf("DecodeListen: %v", err)
	}
	if listen.SubscriptionID != "sub-1" || listen.EntityType != "lead" {
		t.Errorf("round-trip mismatch: %+v", listen)
	}
	if listen.Filter != "owner = 'me'" {
		t.Errorf("Filter = %q", listen.Filter)
	}
}

func TestListenValidation(t *testing.T) {
	frame := mustFrame(t, MsgListen, &Listen{EntityType: "lead"})
	if _, err := frame.DecodeListen(); err == nil {
		t.Error("DecodeListen should reject missing subscription id")
	}

	frame = mustFrame(t, MsgListen, &Listen{SubscriptionID: "sub-1"})
	if _, err := frame.DecodeListen(); err == nil {
		t.Error("DecodeListen should reject missing entity type")
	}
}

func TestEncodeFrameRejectsUnknownType(t *testing.T) {
	if _, err := EncodeFrame(MsgType(200), &Ping{Seq: 1}); err == nil {
		t.Error("EncodeFrame should reject unknown message types")
	}
}

func TestDecodeFrameRejectsUnknownType(t *testing.T) {
	data, err := Marshal(&Frame{Type: MsgType(200)})
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if _, err := DecodeFrame(data); err == nil {
		t.Error("DecodeFrame should reject unknown frame types")
	}
}

func TestEventRoundTrip(t *testing.T) {
	ev := &Event{
		Sequence:   17,
		EntityType: "lead",
		EventType:  model.EventUpdate,
		Before:     &Record{EntityType: "lead", ID: "42", Version: 3},
		After: &Record{
			EntityType: "lead",
			ID:         "42",
			Version:    4,
			Payload:    map[string]any{"score": int64(80)},
		},
		MutationID: "01J0000000000000000000000A",
	}

	data, err := EncodeFrame(MsgEvent, ev)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	frame, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}

	got, err := frame.DecodeEvent()
	if err != nil {
		t.Fatalf("DecodeEvent: %v", err)
	}
	if got.Sequence != 17 || got.EventType != model.EventUpdate {
		t.Errorf("event mismatch: %+v", got)
	}
	if got.After == nil || got.After.Version != 4 {
		t.Fatalf("after mismatch: %+v", got.After)
	}
	if got.MutationID != ev.MutationID {
		t.Errorf("MutationID = %q, want %q", got.MutationID, ev.MutationID)
	}

	m, err := got.ToModel()
	if err != nil {
		t.Fatalf("ToModel: %v", err)
	}
	if m.After.Version != 4 || m.Before.Version != 3 {
		t.Errorf("model conversion mismatch: %+v", m)
	}
	if m.ReceivedAt.IsZero() {
		t.Error("ToModel should stamp ReceivedAt")
	}
}

func TestEventToModelValidates(t *testing.T) {
	// Delete carrying an after record is malformed.
	ev := &Event{
		Sequence:   1,
		EntityType: "lead",
		EventType:  model.EventDelete,
		Before:     &Record{EntityType: "lead", ID: "1", Version: 2},
		After:      &Record{EntityType: "lead", ID: "1", Version: 2},
	}
	if _, err := ev.ToModel(); err == nil {
		t.Error("ToModel should reject a delete with an after record")
	}
}

func TestTombstoneRecordRoundTrip(t *testing.T) {
	rec := &Record{EntityType: "lead", ID: "9", Version: 12, Deleted: true}

	data, err := Marshal(rec)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var got Record
	if err := Unmarshal(data, &got); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if !got.Deleted || got.Version != 12 {
		t.Errorf("tombstone mismatch: %+v", got)
	}
	if got.ToModel().Payload != nil {
		t.Error("tombstone should carry no payload")
	}
}

func TestDeterministicEncoding(t *testing.T) {
	ev := &Event{
		Sequence:   5,
		EntityType: "deal",
		EventType:  model.EventInsert,
		After: &Record{
			EntityType: "deal",
			ID:         "d1",
			Version:    1,
			Payload:    map[string]any{"b": int64(2), "a": int64(1), "c": int64(3)},
		},
	}

	first, err := EncodeFrame(MsgEvent, ev)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	for i := 0; i < 10; i++ {
		again, err := EncodeFrame(MsgEvent, ev)
		if err != nil {
			t.Fatalf("EncodeFrame: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatal("encoding is not deterministic")
		}
	}
}

func mustFrame(t *testing.T, msgType MsgType, body any) *Frame {
	t.Helper()
	data, err := EncodeFrame(msgType, body)
	if err != nil {
		t.Fatalf("EncodeFrame: %v", err)
	}
	frame, err := DecodeFrame(data)
	if err != nil {
		t.Fatalf("DecodeFrame: %v", err)
	}
	return frame
}
