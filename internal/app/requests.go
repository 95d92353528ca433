package app

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const maxBodyBytes = 1 << 20

var errInvalidRequest = errors.New("invalid request")

const analyzeSchema = `{
  "type": "object",
  "required": ["notes"],
  "properties": {
    "opportunity_id": {"type": "string", "pattern": "^[^/]*$"},
    "notes": {
      "type": "object",
      "additionalProperties": {"type": "string"}
    }
  }
}`

const rolePlaySchema = `{
  "type": "object",
  "required": ["persona", "scenario", "input"],
  "properties": {
    "persona": {"type": "string"},
    "scenario": {"type": "string"},
    "input": {"type": "string"},
    "opportunity_id": {"type": "string", "pattern": "^[^/]*$"},
    "customer_name": {"type": "string"},
    "conversation": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": {"enum": ["user", "assistant"]},
          "content": {"type": "string"}
        }
      }
    }
  }
}`

const contactSchema = `{
  "type": "object",
  "properties": {
    "name": {"type": "string", "maxLength": 200},
    "email": {"type": "string", "maxLength": 320},
    "phone": {"type": "string", "maxLength": 64},
    "role": {"type": "string", "maxLength": 200}
  },
  "additionalProperties": false
}`

var (
	analyzeRequestSchema  = jsonschema.MustCompileString("analyze_request.json", analyzeSchema)
	rolePlayRequestSchema = jsonschema.MustCompileString("roleplay_request.json", rolePlaySchema)
	contactRequestSchema  = jsonschema.MustCompileString("contact_request.json", contactSchema)
)

// decodeBody validates the JSON body against schema before decoding it into
// dst.
func decodeBody(r *http.Request, schema *jsonschema.Schema, dst any) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: invalid json", errInvalidRequest)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("%w: %v", errInvalidRequest, err)
	}
	return nil
}
