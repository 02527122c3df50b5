package matching

import (
	"context"
	"time"

	"github.com/whisper/arena/internal/logging"
	"github.com/whisper/arena/internal/metrics"
)

// StartJanitor periodically deletes matched queue rows older than retention
// and refreshes the queue size gauge. It returns when ctx is cancelled.
func StartJanitor(ctx context.Context, queue *Queue, interval, retention time.Duration) {
	log := logging.With("janitor")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("janitor loop stopped")
			return
		case <-ticker.C:
			sweep(ctx, queue, retention)
		}
	}
}

func sweep(ctx context.Context, queue *Queue, retention time.Duration) {
	log := logging.With("janitor")

	removed, err := queue.PruneMatched(ctx, retention)
	if err != nil {
		log.Error().Err(err).Msg("prune matched entries")
	} else if removed > 0 {
		log.Info().Int64("removed", removed).Msg("pruned matched entries")
	}

	n, err := queue.Count(ctx)
	if err != nil {
		log.Error().Err(err).Msg("count queue")
		return
	}
	metrics.QueueSize.Set(float64(n))
}
