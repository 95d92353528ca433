package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"koffey/internal/storage"
)

const archiveList = "archive_jobs"

const (
	KindConversation = "conversation"
	KindAnalysis     = "analysis"
)

// ErrEmpty is returned by PopArchiveJob when the wait timed out.
var ErrEmpty = errors.New("queue empty")

type ArchiveJob struct {
	ID           string                      `json:"id"`
	Kind         string                      `json:"kind"`
	Conversation *storage.ConversationRecord `json:"conversation,omitempty"`
	Analysis     *storage.AnalysisRecord     `json:"analysis,omitempty"`
	EnqueuedAt   time.Time                   `json:"enqueued_at"`
}

func ConversationJob(rec storage.ConversationRecord) ArchiveJob {
	return ArchiveJob{ID: uuid.NewString(), Kind: KindConversation, Conversation: &rec, EnqueuedAt: time.Now().UTC()}
}

func AnalysisJob(rec storage.AnalysisRecord) ArchiveJob {
	return ArchiveJob{ID: uuid.NewString(), Kind: KindAnalysis, Analysis: &rec, EnqueuedAt: time.Now().UTC()}
}

func (j ArchiveJob) Validate() error {
	switch j.Kind {
	case KindConversation:
		if j.Conversation == nil {
			return fmt.Errorf("job %s: missing conversation", j.ID)
		}
	case KindAnalysis:
		if j.Analysis == nil {
			return fmt.Errorf("job %s: missing analysis", j.ID)
		}
	default:
		return fmt.Errorf("job %s: unknown kind %q", j.ID, j.Kind)
	}
	return nil
}

type Queue struct {
	client *redis.Client
}

func New(url string) (*Queue, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	client := redis.NewClient(opt)
	return &Queue{client: client}, nil
}

func (q *Queue) Ping(ctx context.Context) error {
	return q.client.Ping(ctx).Err()
}

func (q *Queue) PushArchiveJob(ctx context.Context, job ArchiveJob) error {
	if err := job.Validate(); err != nil {
		return err
	}
	payload, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.client.LPush(ctx, archiveList, payload).Err()
}

func (q *Queue) PopArchiveJob(ctx context.Context, timeout time.Duration) (ArchiveJob, error) {
	res, err := q.client.BRPop(ctx, timeout, archiveList).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return ArchiveJob{}, ErrEmpty
		}
		return ArchiveJob{}, err
	}
	if len(res) < 2 {
		return ArchiveJob{}, ErrEmpty
	}
	var job ArchiveJob
	if err := json.Unmarshal([]byte(res[1]), &job); err != nil {
		return ArchiveJob{}, fmt.Errorf("decode archive job: %w", err)
	}
	return job, nil
}

func (q *Queue) Depth(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, archiveList).Result()
}

func (q *Queue) Close() error {
	return q.client.Close()
}
