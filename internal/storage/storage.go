package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"koffey/internal/llm"
)

var (
	ErrNotFound      = errors.New("record not found")
	ErrInvalidRecord = errors.New("invalid record")
	ErrInvalidID     = errors.New("invalid record id")
)

const (
	conversationPrefix = "training-data/conversations/"
	analysisPrefix     = "training-data/meddpic/"
	timestampLayout    = "20060102T150405.000Z"
)

// Service is the archive capability set. Backends compose over it; none of
// them share an implementation.
type Service interface {
	SaveConversation(ctx context.Context, rec ConversationRecord) (Response, error)
	GetConversation(ctx context.Context, id string) (ConversationRecord, error)
	SaveAnalysis(ctx context.Context, rec AnalysisRecord) (Response, error)
	GetAnalysis(ctx context.Context, id string) (AnalysisRecord, error)
}

type ConversationRecord struct {
	OpportunityID string            `json:"opportunityId"`
	CustomerName  string            `json:"customerName"`
	Timestamp     string            `json:"timestamp"`
	Persona       string            `json:"persona,omitempty"`
	Scenario      string            `json:"scenario,omitempty"`
	Conversation  []llm.ChatMessage `json:"conversation"`
}

func (r ConversationRecord) ID() string { return r.OpportunityID + "/" + r.Timestamp }

type AnalysisRecord struct {
	OpportunityID string              `json:"opportunityId"`
	Timestamp     string              `json:"timestamp"`
	Notes         llm.Notes           `json:"notes,omitempty"`
	Analysis      llm.NormalizedNotes `json:"analysis"`
	Result        string              `json:"result"`
}

func (r AnalysisRecord) ID() string { return r.OpportunityID + "/" + r.Timestamp }

type Response struct {
	Success bool   `json:"success"`
	Key     string `json:"key"`
	URL     string `json:"url,omitempty"`
	Error   string `json:"error,omitempty"`
}

func failed(key string, err error) (Response, error) {
	return Response{Success: false, Key: key, Error: err.Error()}, err
}

// Timestamp formats t for use as the last segment of a record id.
func Timestamp(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func ConversationKey(id string) (string, error) {
	if err := checkID(id); err != nil {
		return "", err
	}
	return conversationPrefix + id + ".json", nil
}

func AnalysisKey(id string) (string, error) {
	if err := checkID(id); err != nil {
		return "", err
	}
	return analysisPrefix + id + ".json", nil
}

// Ids are "<opportunityId>/<timestamp>"; neither part may be empty or walk
// out of its prefix.
func checkID(id string) error {
	parts := strings.Split(id, "/")
	if len(parts) != 2 {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	for _, part := range parts {
		if strings.TrimSpace(part) == "" || part == "." || part == ".." {
			return fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
	}
	return nil
}
