package protocol

import (
	"encoding/json"
	"testing"
)

func TestEventFrameShape(t *testing.T) {
	b, err := Event(EvtError, ErrorEvent{Code: "not_found", Action: CmdJoinGroup, Reason: "group missing"})
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != EvtError {
		t.Fatalf("type: %s", env.Type)
	}
	var ee ErrorEvent
	if err := json.Unmarshal(env.Data, &ee); err != nil {
		t.Fatalf("payload: %v", err)
	}
	if ee.Code != "not_found" || ee.Action != CmdJoinGroup {
		t.Fatalf("roundtrip lost fields: %+v", ee)
	}
}

func TestEventNilPayload(t *testing.T) {
	b, err := Event(EvtGroupDeleted, nil)
	if err != nil {
		t.Fatalf("event: %v", err)
	}
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(env.Data) != 0 && string(env.Data) != "null" {
		t.Fatalf("expected empty data, got %s", env.Data)
	}
}
