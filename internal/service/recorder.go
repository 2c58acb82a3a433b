package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/kyunghyuncho/neurips-whisper/internal/cache"
	"github.com/kyunghyuncho/neurips-whisper/pkg/logger"
)

type recordJob struct {
	tags      []string
	terms     []string
	messageID int64
	ts        time.Time
}

// ActivityRecorder feeds the activity cache off the post path. Cache writes
// are best-effort: a slow or unavailable adapter delays or drops counter
// updates, never the message write that already committed. The next rebuild
// reconciles any divergence.
type ActivityRecorder struct {
	activity *cache.ActivityCache
	ch       chan recordJob
}

func NewActivityRecorder(activity *cache.ActivityCache, queueSize int) *ActivityRecorder {
	if queueSize <= 0 {
		queueSize = 10000
	}
	return &ActivityRecorder{activity: activity, ch: make(chan recordJob, queueSize)}
}

// Start launches the worker pool and returns a stop function that waits
// briefly for the queue to drain.
func (r *ActivityRecorder) Start(workers int) func(context.Context) error {
	if workers <= 0 {
		workers = 4
	}
	stopCh := make(chan struct{})
	for i := 0; i < workers; i++ {
		go func() {
			for {
				select {
				case job := <-r.ch:
					ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					if err := r.activity.RecordActivity(ctx, job.tags, job.terms, job.messageID, job.ts); err != nil {
						logger.Warn("activity record failed",
							zap.Int64("message", job.messageID), zap.Error(err))
					}
					cancel()
				case <-stopCh:
					return
				}
			}
		}()
	}
	return func(ctx context.Context) error {
		close(stopCh)
		timeout := time.After(2 * time.Second)
		for {
			select {
			case <-timeout:
				return nil
			default:
				if len(r.ch) == 0 {
					return nil
				}
				time.Sleep(50 * time.Millisecond)
			}
		}
	}
}

func (r *ActivityRecorder) Enqueue(tags, terms []string, messageID int64, ts time.Time) {
	if len(tags) == 0 && len(terms) == 0 {
		return
	}
	select {
	case r.ch <- recordJob{tags: tags, terms: terms, messageID: messageID, ts: ts}:
	default:
		logger.Warn("recorder queue full, drop activity", zap.Int64("message", messageID))
	}
}

// QueueLen returns the current queue length (sampled).
func (r *ActivityRecorder) QueueLen() int { return len(r.ch) }
