package wsproto

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	errNotRequest    = errors.New("wsproto: not a request frame")
	errMissingFields = errors.New("wsproto: missing id or method")
)

// requestEnvelopeSchema constrains any inbound text frame to the request
// shape before per-method params validation runs, mirroring the teacher's
// two-stage (envelope, then method) validation in ws_schema.go.
const requestEnvelopeSchema = `{
  "type": "object",
  "required": ["type", "id", "method"],
  "properties": {
    "type": { "const": "req" },
    "id": { "type": "string", "minLength": 1 },
    "method": { "type": "string", "minLength": 1 },
    "params": {}
  },
  "additionalProperties": true
}`

// SchemaRegistry compiles and holds per-method JSON-schemas for request
// params, plus the request envelope schema.
type SchemaRegistry struct {
	mu       sync.RWMutex
	envelope *jsonschema.Schema
	methods  map[string]*jsonschema.Schema
}

// NewSchemaRegistry compiles the envelope schema. Method schemas are added
// with Register.
func NewSchemaRegistry() (*SchemaRegistry, error) {
	compiled, err := jsonschema.CompileString("wsproto_envelope", requestEnvelopeSchema)
	if err != nil {
		return nil, fmt.Errorf("wsproto: compile envelope schema: %w", err)
	}
	return &SchemaRegistry{envelope: compiled, methods: make(map[string]*jsonschema.Schema)}, nil
}

// Register compiles and stores the params schema for method.
func (r *SchemaRegistry) Register(method, schemaJSON string) error {
	compiled, err := jsonschema.CompileString("wsproto_method_"+method, schemaJSON)
	if err != nil {
		return fmt.Errorf("wsproto: compile schema for %s: %w", method, err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.methods[method] = compiled
	return nil
}

// ValidateEnvelope checks raw against the request envelope shape.
func (r *SchemaRegistry) ValidateEnvelope(raw []byte) error {
	var payload any
	if err := json.Unmarshal(raw, &payload); err != nil {
		return err
	}
	return r.envelope.Validate(payload)
}

// ValidateParams checks a decoded frame's params against the schema
// registered for its method, if any. Methods with no registered schema are
// accepted unconditionally — unknown-method handling is the hub's job, not
// the framing layer's.
func (r *SchemaRegistry) ValidateParams(frame *RequestFrame) error {
	r.mu.RLock()
	schema, ok := r.methods[frame.Method]
	r.mu.RUnlock()
	if !ok {
		return nil
	}

	var params any
	if len(frame.Params) == 0 {
		params = map[string]any{}
	} else if err := json.Unmarshal(frame.Params, &params); err != nil {
		return err
	}
	return schema.Validate(params)
}
