package queue

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"koffey/internal/llm"
	"koffey/internal/storage"
)

func TestArchiveJobValidate(t *testing.T) {
	conv := ConversationJob(storage.ConversationRecord{OpportunityID: "opp", Timestamp: "ts"})
	if err := conv.Validate(); err != nil {
		t.Fatalf("conversation job: %v", err)
	}
	if conv.ID == "" || conv.Kind != KindConversation {
		t.Fatalf("unexpected job %+v", conv)
	}
	if err := (ArchiveJob{ID: "x", Kind: KindAnalysis}).Validate(); err == nil {
		t.Fatalf("expected missing analysis error")
	}
	if err := (ArchiveJob{ID: "x", Kind: "email"}).Validate(); err == nil {
		t.Fatalf("expected unknown kind error")
	}
}

func TestQueueRoundTrip(t *testing.T) {
	url := os.Getenv("KF_TEST_REDIS_URL")
	if url == "" {
		url = "redis://127.0.0.1:6379/15"
	}
	q, err := New(url)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	defer q.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := q.Ping(ctx); err != nil {
		t.Skipf("redis unavailable (%s): %v", url, err)
	}
	q.client.Del(ctx, archiveList)

	job := ConversationJob(storage.ConversationRecord{
		OpportunityID: "opp-1",
		Timestamp:     "20240101T000000.000Z",
		Conversation:  []llm.ChatMessage{{Role: llm.RoleUser, Content: "hi"}},
	})
	if err := q.PushArchiveJob(ctx, job); err != nil {
		t.Fatalf("push: %v", err)
	}
	depth, err := q.Depth(ctx)
	if err != nil || depth != 1 {
		t.Fatalf("expected depth 1, got %d (%v)", depth, err)
	}

	got, err := q.PopArchiveJob(ctx, time.Second)
	if err != nil {
		t.Fatalf("pop: %v", err)
	}
	if got.ID != job.ID || got.Conversation == nil || got.Conversation.OpportunityID != "opp-1" {
		t.Fatalf("unexpected job %+v", got)
	}

	if _, err := q.PopArchiveJob(ctx, time.Second); !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected empty queue, got %v", err)
	}
}
