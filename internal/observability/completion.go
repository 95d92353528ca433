package observability

import (
	"log"
	"sync"
	"time"

	"koffey/internal/llm"
)

// CompletionObserver logs completion client events and keeps running counts
// so repeated upstream trouble shows up in the logs.
type CompletionObserver struct {
	logger *log.Logger

	mu        sync.Mutex
	failures  int64
	exhausted int64
	forced    map[llm.Field]int64
}

func NewCompletionObserver(logger *log.Logger) *CompletionObserver {
	if logger == nil {
		logger = log.Default()
	}
	return &CompletionObserver{
		logger: logger,
		forced: make(map[llm.Field]int64),
	}
}

func (o *CompletionObserver) AttemptFailed(attempt int, delay time.Duration, err error) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.failures++
	o.mu.Unlock()
	if delay == 0 {
		o.logger.Printf("llm attempt failed attempt=%d final=true err=%v", attempt, err)
		return
	}
	o.logger.Printf("llm attempt failed attempt=%d retry_in=%s err=%v", attempt, delay, err)
}

func (o *CompletionObserver) Exhausted(attempts int, err error) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.exhausted++
	count := o.exhausted
	o.mu.Unlock()

	o.logger.Printf("llm retries exhausted attempts=%d err=%v", attempts, err)
	if count%10 == 0 {
		o.logger.Printf("llm alert repeated_exhaustion_count=%d", count)
	}
}

func (o *CompletionObserver) RatingForced(field llm.Field, appended bool) {
	if o == nil {
		return
	}
	o.mu.Lock()
	o.forced[field]++
	o.mu.Unlock()
	if appended {
		o.logger.Printf("meddpic rating forced field=%s section=appended", field)
		return
	}
	o.logger.Printf("meddpic rating forced field=%s", field)
}

type CompletionStats struct {
	Failures  int64
	Exhausted int64
	Forced    map[llm.Field]int64
}

func (o *CompletionObserver) Stats() CompletionStats {
	o.mu.Lock()
	defer o.mu.Unlock()
	forced := make(map[llm.Field]int64, len(o.forced))
	for k, v := range o.forced {
		forced[k] = v
	}
	return CompletionStats{Failures: o.failures, Exhausted: o.exhausted, Forced: forced}
}
