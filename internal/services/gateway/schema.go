package gateway

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const flutterwaveWebhookSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "required": ["event", "data"],
  "properties": {
    "event": {"type": "string", "minLength": 1},
    "data": {
      "type": "object",
      "required": ["id", "amount", "currency", "status"],
      "properties": {
        "id": {"type": ["integer", "string"]},
        "amount": {"type": ["number", "string"]},
        "currency": {"type": "string", "minLength": 3},
        "status": {"type": "string"},
        "tx_ref": {"type": "string", "minLength": 1},
        "reference": {"type": "string", "minLength": 1}
      },
      "anyOf": [
        {"required": ["tx_ref"]},
        {"required": ["reference"]}
      ]
    }
  }
}`

// PayloadValidator checks raw webhook bodies against a JSON schema.
type PayloadValidator struct {
	schema *gojsonschema.Schema
}

// NewPayloadValidator compiles schema once.
func NewPayloadValidator(schema string) (*PayloadValidator, error) {
	compiled, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schema))
	if err != nil {
		return nil, fmt.Errorf("failed to compile webhook schema: %w", err)
	}
	return &PayloadValidator{schema: compiled}, nil
}

// Validate returns ErrInvalidPayload listing every violation.
func (v *PayloadValidator) Validate(payload []byte) error {
	res, err := v.schema.Validate(gojsonschema.NewBytesLoader(payload))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidPayload, err)
	}
	if res.Valid() {
		return nil
	}
	problems := make([]string, 0, len(res.Errors()))
	for _, e := range res.Errors() {
		problems = append(problems, e.String())
	}
	return fmt.Errorf("%w: %s", ErrInvalidPayload, strings.Join(problems, "; "))
}
