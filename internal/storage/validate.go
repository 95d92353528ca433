package storage

import (
	"encoding/json"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const conversationSchema = `{
  "type": "object",
  "required": ["opportunityId", "timestamp", "conversation"],
  "properties": {
    "opportunityId": {"type": "string", "minLength": 1, "pattern": "^[^/]+$"},
    "customerName": {"type": "string"},
    "timestamp": {"type": "string", "minLength": 1, "pattern": "^[^/]+$"},
    "conversation": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["role", "content"],
        "properties": {
          "role": {"enum": ["system", "user", "assistant"]},
          "content": {"type": "string"}
        }
      }
    }
  }
}`

const analysisSchema = `{
  "type": "object",
  "required": ["opportunityId", "timestamp", "analysis"],
  "properties": {
    "opportunityId": {"type": "string", "minLength": 1, "pattern": "^[^/]+$"},
    "timestamp": {"type": "string", "minLength": 1, "pattern": "^[^/]+$"},
    "analysis": {
      "type": "object",
      "required": ["metrics", "economicBuyer", "decisionCriteria", "decisionProcess", "paperProcess", "identifyPain", "champion"],
      "additionalProperties": {"type": "string"}
    },
    "result": {"type": "string"}
  }
}`

var (
	compiledConversation = jsonschema.MustCompileString("conversation.json", conversationSchema)
	compiledAnalysis     = jsonschema.MustCompileString("analysis.json", analysisSchema)
)

func EncodeConversation(rec ConversationRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := validateDoc(compiledConversation, data); err != nil {
		return nil, err
	}
	return data, nil
}

func DecodeConversation(data []byte) (ConversationRecord, error) {
	var rec ConversationRecord
	if err := validateDoc(compiledConversation, data); err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return rec, nil
}

func EncodeAnalysis(rec AnalysisRecord) ([]byte, error) {
	data, err := json.Marshal(rec)
	if err != nil {
		return nil, err
	}
	if err := validateDoc(compiledAnalysis, data); err != nil {
		return nil, err
	}
	return data, nil
}

func DecodeAnalysis(data []byte) (AnalysisRecord, error) {
	var rec AnalysisRecord
	if err := validateDoc(compiledAnalysis, data); err != nil {
		return rec, err
	}
	if err := json.Unmarshal(data, &rec); err != nil {
		return rec, fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return rec, nil
}

func validateDoc(schema *jsonschema.Schema, data []byte) error {
	var doc any
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	if err := schema.Validate(doc); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecord, err)
	}
	return nil
}
