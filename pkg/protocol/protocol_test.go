package protocol

import (
	"encoding/json"
	"testing"
)

func TestValidateEventEnvelopeAcceptsValidFrame(t *testing.T) {
	raw, _ := json.Marshal(Event{
		ProtocolVersion: Version,
		SessionID:       "s_abc123",
		Seq:             0,
		Type:            EventStdout,
		Payload:         json.RawMessage(`{"chunk":"hi"}`),
	})
	if err := ValidateEventEnvelope(raw); err != nil {
		t.Fatalf("expected valid envelope, got error: %v", err)
	}
}

func TestValidateEventEnvelopeRejectsUnknownType(t *testing.T) {
	raw := []byte(`{"protocolVersion":1,"sessionId":"s_x","seq":0,"type":"bogus","payload":{}}`)
	if err := ValidateEventEnvelope(raw); err == nil {
		t.Fatal("expected an unknown event type to be rejected")
	}
}

func TestValidateEventEnvelopeRejectsWrongProtocolVersion(t *testing.T) {
	raw := []byte(`{"protocolVersion":2,"sessionId":"s_x","seq":0,"type":"heartbeat","payload":{}}`)
	if err := ValidateEventEnvelope(raw); err == nil {
		t.Fatal("expected a mismatched protocolVersion to be rejected")
	}
}

func TestValidateEventEnvelopeRejectsMissingSessionID(t *testing.T) {
	raw := []byte(`{"protocolVersion":1,"seq":0,"type":"heartbeat","payload":{}}`)
	if err := ValidateEventEnvelope(raw); err == nil {
		t.Fatal("expected a missing sessionId to be rejected")
	}
}

func TestValidateCreateSessionRequestAcceptsMinimal(t *testing.T) {
	raw, _ := json.Marshal(CreateSessionRequest{ProtocolVersion: Version, Code: "return 1;"})
	if err := ValidateCreateSessionRequest(raw); err != nil {
		t.Fatalf("expected minimal create-session request to validate, got: %v", err)
	}
}

func TestValidateCreateSessionRequestRejectsEmptyCode(t *testing.T) {
	raw := []byte(`{"protocolVersion":1,"code":""}`)
	if err := ValidateCreateSessionRequest(raw); err == nil {
		t.Fatal("expected empty code to be rejected")
	}
}

func TestValidateCreateSessionRequestAcceptsLimitsOverride(t *testing.T) {
	raw, _ := json.Marshal(CreateSessionRequest{
		ProtocolVersion: Version,
		Code:            "return 1;",
		Limits:          &CreateSessionLimits{ToolTimeoutMs: 5000},
	})
	if err := ValidateCreateSessionRequest(raw); err != nil {
		t.Fatalf("expected limits override to validate, got: %v", err)
	}
}

func TestValidateInboundToolResultSubmit(t *testing.T) {
	raw, _ := json.Marshal(ToolResultSubmit{
		ProtocolVersion: Version,
		Type:            ControlToolResultSubmit,
		CallID:          "c_abc",
		Ok:              true,
		Result:          json.RawMessage(`{"x":1}`),
	})
	if err := ValidateInbound("tool_result_submit", raw); err != nil {
		t.Fatalf("expected valid tool_result_submit, got: %v", err)
	}
}

func TestValidateInboundToolResultSubmitRejectsMismatchedType(t *testing.T) {
	raw := []byte(`{"protocolVersion":1,"type":"cancel","callId":"c_abc","ok":true}`)
	if err := ValidateInbound("tool_result_submit", raw); err == nil {
		t.Fatal("expected a cancel-typed payload to fail tool_result_submit validation")
	}
}

func TestValidateInboundCancel(t *testing.T) {
	raw, _ := json.Marshal(Cancel{ProtocolVersion: Version, Type: ControlCancel, Reason: "user stop"})
	if err := ValidateInbound("cancel", raw); err != nil {
		t.Fatalf("expected valid cancel, got: %v", err)
	}
}

func TestValidateInboundUnknownKind(t *testing.T) {
	if err := ValidateInbound("bogus", json.RawMessage(`{}`)); err == nil {
		t.Fatal("expected an unknown inbound kind to error")
	}
}
