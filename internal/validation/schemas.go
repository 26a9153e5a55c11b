// Package validation checks broker envelopes before they touch a backing
// store. Malformed envelopes are not retried, so the schema is the gate
// between "requeue" and "dead-letter".
package validation

import (
	"encoding/json"
	"fmt"

	"github.com/xeipuuv/gojsonschema"
)

// envelopeSchema mirrors the wire envelope. Numeric ids must be positive:
// a zero id means the producer never set it.
const envelopeSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "title": "event-envelope",
  "type": "object",
  "required": ["user_id", "product_id", "event_type"],
  "properties": {
    "user_id": {"type": "integer", "minimum": 1},
    "product_id": {"type": "integer", "minimum": 1},
    "event_type": {"type": "string", "enum": ["view", "cart", "purchase"]},
    "user_session": {"type": "string"},
    "event_time": {"type": "string"},
    "published_at": {"type": "string"},
    "retry_count": {"type": "integer", "minimum": 0},
    "last_error": {"type": "string"},
    "last_retry_at": {"type": "string"},
    "final_error": {"type": "string"},
    "failed_at": {"type": "string"}
  }
}`

// EnvelopeValidator validates event envelopes against the wire schema.
type EnvelopeValidator struct {
	schema *gojsonschema.Schema
}

func NewEnvelopeValidator() (*EnvelopeValidator, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(envelopeSchema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile envelope schema: %w", err)
	}
	return &EnvelopeValidator{schema: schema}, nil
}

// ValidateBytes validates a raw message body.
func (v *EnvelopeValidator) ValidateBytes(body []byte) *ValidationResult {
	return v.validate(gojsonschema.NewBytesLoader(body))
}

// ValidateStruct validates any value by round-tripping it through JSON.
func (v *EnvelopeValidator) ValidateStruct(data interface{}) *ValidationResult {
	jsonBytes, err := json.Marshal(data)
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "data",
				Message: fmt.Sprintf("Failed to marshal data to JSON: %v", err),
				Code:    "JSON_MARSHAL_ERROR",
			}},
		}
	}
	return v.validate(gojsonschema.NewBytesLoader(jsonBytes))
}

func (v *EnvelopeValidator) validate(loader gojsonschema.JSONLoader) *ValidationResult {
	result, err := v.schema.Validate(loader)
	if err != nil {
		return &ValidationResult{
			Valid: false,
			Errors: []ValidationError{{
				Field:   "body",
				Message: fmt.Sprintf("Validation error: %v", err),
				Code:    "VALIDATION_ERROR",
			}},
		}
	}

	vr := &ValidationResult{
		Valid:  result.Valid(),
		Errors: make([]ValidationError, 0),
	}
	for _, verr := range result.Errors() {
		vr.Errors = append(vr.Errors, ValidationError{
			Field:   verr.Field(),
			Message: verr.Description(),
			Code:    "VALIDATION_ERROR",
			Value:   verr.Value(),
		})
	}
	return vr
}

// ValidationResult represents the result of a validation operation
type ValidationResult struct {
	Valid  bool              `json:"valid"`
	Errors []ValidationError `json:"errors,omitempty"`
}

// Error summarizes every violation on one line, for retry/DLQ annotations.
func (vr *ValidationResult) Error() string {
	if vr.Valid {
		return ""
	}
	msg := "envelope validation failed"
	for _, e := range vr.Errors {
		msg += "; " + e.Error()
	}
	return msg
}

// ValidationError represents a single validation error
type ValidationError struct {
	Field   string      `json:"field"`
	Message string      `json:"message"`
	Code    string      `json:"code"`
	Value   interface{} `json:"value,omitempty"`
}

func (ve ValidationError) Error() string {
	return fmt.Sprintf("field '%s': %s", ve.Field, ve.Message)
}
