package worker

import (
	"bytes"
	"context"
	"errors"
	"log"
	"strings"
	"sync"
	"testing"
	"time"

	"koffey/internal/llm"
	"koffey/internal/queue"
	"koffey/internal/storage"
	"koffey/internal/store"
)

type fakeSource struct {
	mu     sync.Mutex
	jobs   []queue.ArchiveJob
	cancel context.CancelFunc
}

func (f *fakeSource) PopArchiveJob(ctx context.Context, _ time.Duration) (queue.ArchiveJob, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.jobs) == 0 {
		f.cancel()
		return queue.ArchiveJob{}, ctx.Err()
	}
	job := f.jobs[0]
	f.jobs = f.jobs[1:]
	return job, nil
}

type fakeJournal struct {
	entries []store.ArchiveJob
}

func (f *fakeJournal) RecordArchiveJob(_ context.Context, job store.ArchiveJob) (string, error) {
	f.entries = append(f.entries, job)
	return job.ID, nil
}

func conversation(opp string) storage.ConversationRecord {
	return storage.ConversationRecord{
		OpportunityID: opp,
		Timestamp:     "20240101T000000.000Z",
		Conversation:  []llm.ChatMessage{{Role: llm.RoleUser, Content: "hello"}},
	}
}

func TestRunArchivesJobsAndContinuesOnFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	notes := llm.Notes{llm.FieldChampion: "Priya from IT is championing the rollout."}
	source := &fakeSource{cancel: cancel, jobs: []queue.ArchiveJob{
		queue.ConversationJob(conversation("opp-1")),
		{ID: "bad", Kind: queue.KindAnalysis},
		queue.AnalysisJob(storage.AnalysisRecord{OpportunityID: "opp-1", Timestamp: "t1", Analysis: llm.Normalize(notes), Result: "ok"}),
	}}
	mem := storage.NewMemory()
	journal := &fakeJournal{}
	var logs bytes.Buffer

	w := New(source, mem, log.New(&logs, "", 0))
	w.Journal = journal
	if err := w.Run(ctx); err != nil {
		t.Fatalf("run: %v", err)
	}

	if _, err := mem.GetConversation(context.Background(), "opp-1/20240101T000000.000Z"); err != nil {
		t.Fatalf("conversation not archived: %v", err)
	}
	if _, err := mem.GetAnalysis(context.Background(), "opp-1/t1"); err != nil {
		t.Fatalf("analysis not archived after earlier failure: %v", err)
	}
	if len(journal.entries) != 3 {
		t.Fatalf("expected 3 journal entries, got %d", len(journal.entries))
	}
	if journal.entries[1].Status != "failed" || journal.entries[1].Error == "" {
		t.Fatalf("expected failed entry, got %+v", journal.entries[1])
	}
	if !strings.Contains(logs.String(), "archive job failed id=bad") {
		t.Fatalf("expected failure log, got %q", logs.String())
	}
}

func TestProcessRejectsUnknownKind(t *testing.T) {
	w := New(&fakeSource{}, storage.NewMemory(), nil)
	_, err := w.Process(context.Background(), queue.ArchiveJob{ID: "x", Kind: "fax"})
	if err == nil {
		t.Fatalf("expected error")
	}
}

func TestRunStopsOnCanceledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	w := New(&fakeSource{cancel: cancel}, storage.NewMemory(), log.New(&bytes.Buffer{}, "", 0))
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()
	select {
	case err := <-done:
		if err != nil && !errors.Is(err, context.Canceled) {
			t.Fatalf("unexpected error %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("worker did not stop")
	}
}
