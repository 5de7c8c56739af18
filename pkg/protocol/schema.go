package protocol

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

type schemaRegistry struct {
	once       sync.Once
	initErr    error
	event      *jsonschema.Schema
	createReq  *jsonschema.Schema
	submits    map[string]*jsonschema.Schema
}

var schemas schemaRegistry

func initSchemas() error {
	schemas.once.Do(func() {
		eventSchema, err := jsonschema.CompileString("event", eventEnvelopeSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		schemas.event = eventSchema

		createSchema, err := jsonschema.CompileString("create_session", createSessionRequestSchema)
		if err != nil {
			schemas.initErr = err
			return
		}
		schemas.createReq = createSchema

		inbound := map[string]string{
			"tool_result_submit": toolResultSubmitSchema,
			"cancel":             cancelSchema,
		}
		schemas.submits = make(map[string]*jsonschema.Schema, len(inbound))
		for name, raw := range inbound {
			compiled, err := jsonschema.CompileString("inbound_"+name, raw)
			if err != nil {
				schemas.initErr = err
				return
			}
			schemas.submits[name] = compiled
		}
	})
	return schemas.initErr
}

// ValidateEventEnvelope checks raw against the outbound event envelope
// schema (protocolVersion/sessionId/seq/type/payload), without inspecting
// the payload's own shape.
func ValidateEventEnvelope(raw []byte) error {
	return validateAgainst(schemas.event, raw)
}

// ValidateCreateSessionRequest checks raw against the create-session
// request shape.
func ValidateCreateSessionRequest(raw []byte) error {
	return validateAgainst(schemas.createReq, raw)
}

// ValidateInbound checks raw against the named inbound control message
// schema ("tool_result_submit" or "cancel").
func ValidateInbound(kind string, raw []byte) error {
	if err := initSchemas(); err != nil {
		return err
	}
	schema, ok := schemas.submits[kind]
	if !ok {
		return fmt.Errorf("protocol: unknown inbound message kind %q", kind)
	}
	return validateAgainst(schema, raw)
}

func validateAgainst(schema *jsonschema.Schema, raw []byte) error {
	if err := initSchemas(); err != nil {
		return err
	}
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return schema.Validate(payload)
}

const eventEnvelopeSchema = `{
  "type": "object",
  "required": ["protocolVersion", "sessionId", "seq", "type", "payload"],
  "properties": {
    "protocolVersion": { "const": 1 },
    "sessionId": { "type": "string", "pattern": "^s_.+" },
    "seq": { "type": "integer", "minimum": 0 },
    "type": {
      "type": "string",
      "enum": ["session_init", "stdout", "log", "tool_call", "tool_result_applied", "final", "heartbeat", "error", "enc"]
    },
    "payload": {}
  },
  "additionalProperties": false
}`

const createSessionRequestSchema = `{
  "type": "object",
  "required": ["protocolVersion", "code"],
  "properties": {
    "protocolVersion": { "const": 1 },
    "code": { "type": "string", "minLength": 1 },
    "limits": {
      "type": "object",
      "properties": {
        "sessionTtlMs": { "type": "integer", "minimum": 1 },
        "maxToolCalls": { "type": "integer", "minimum": 0 },
        "maxStdoutBytes": { "type": "integer", "minimum": 0 },
        "maxToolResultBytes": { "type": "integer", "minimum": 0 },
        "toolTimeoutMs": { "type": "integer", "minimum": 1 },
        "heartbeatIntervalMs": { "type": "integer", "minimum": 0 }
      },
      "additionalProperties": false
    },
    "encryption": {
      "type": "object",
      "required": ["mode"],
      "properties": {
        "mode": { "type": "string", "enum": ["disabled", "optional", "required"] },
        "clientHello": {}
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": false
}`

const toolResultSubmitSchema = `{
  "type": "object",
  "required": ["protocolVersion", "type", "callId", "ok"],
  "properties": {
    "protocolVersion": { "const": 1 },
    "type": { "const": "tool_result_submit" },
    "callId": { "type": "string", "pattern": "^c_.+" },
    "ok": { "type": "boolean" },
    "result": {},
    "error": {
      "type": "object",
      "required": ["message"],
      "properties": {
        "message": { "type": "string" },
        "code": { "type": "string" },
        "stack": { "type": "string" }
      },
      "additionalProperties": true
    }
  },
  "additionalProperties": false
}`

const cancelSchema = `{
  "type": "object",
  "required": ["protocolVersion", "type"],
  "properties": {
    "protocolVersion": { "const": 1 },
    "type": { "const": "cancel" },
    "reason": { "type": "string" }
  },
  "additionalProperties": false
}`
