package worker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"koffey/internal/queue"
	"koffey/internal/storage"
	"koffey/internal/store"
)

type Source interface {
	PopArchiveJob(ctx context.Context, timeout time.Duration) (queue.ArchiveJob, error)
}

// Journal records the outcome of each job. The Postgres store satisfies it.
type Journal interface {
	RecordArchiveJob(ctx context.Context, job store.ArchiveJob) (string, error)
}

type Worker struct {
	Source     Source
	Storage    storage.Service
	Journal    Journal
	Logger     *log.Logger
	PopTimeout time.Duration
}

func New(source Source, svc storage.Service, logger *log.Logger) *Worker {
	if logger == nil {
		logger = log.Default()
	}
	return &Worker{Source: source, Storage: svc, Logger: logger, PopTimeout: 5 * time.Second}
}

// Run drains archive jobs until ctx is canceled. Failed jobs are logged and
// dropped; the loop never exits on a job error.
func (w *Worker) Run(ctx context.Context) error {
	w.Logger.Println("worker started")
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}
		job, err := w.Source.PopArchiveJob(ctx, w.PopTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if !errors.Is(err, queue.ErrEmpty) {
				w.Logger.Printf("archive job pop failed: %v", err)
				if err := sleepContext(ctx, time.Second); err != nil {
					return nil
				}
			}
			continue
		}
		resp, err := w.Process(ctx, job)
		w.journal(ctx, job, resp, err)
		if err != nil {
			w.Logger.Printf("archive job failed id=%s kind=%s err=%v", job.ID, job.Kind, err)
			continue
		}
		w.Logger.Printf("archived job id=%s kind=%s key=%s", job.ID, job.Kind, resp.Key)
	}
}

func (w *Worker) Process(ctx context.Context, job queue.ArchiveJob) (storage.Response, error) {
	if err := job.Validate(); err != nil {
		return storage.Response{}, err
	}
	switch job.Kind {
	case queue.KindConversation:
		return w.Storage.SaveConversation(ctx, *job.Conversation)
	case queue.KindAnalysis:
		return w.Storage.SaveAnalysis(ctx, *job.Analysis)
	}
	return storage.Response{}, fmt.Errorf("unhandled job kind %q", job.Kind)
}

func (w *Worker) journal(ctx context.Context, job queue.ArchiveJob, resp storage.Response, err error) {
	if w.Journal == nil {
		return
	}
	entry := store.ArchiveJob{ID: job.ID, Kind: job.Kind, RecordKey: resp.Key, Status: "done"}
	if err != nil {
		entry.Status = "failed"
		entry.Error = err.Error()
	}
	if _, jerr := w.Journal.RecordArchiveJob(ctx, entry); jerr != nil {
		w.Logger.Printf("archive job journal failed id=%s err=%v", job.ID, jerr)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
