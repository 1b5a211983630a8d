package usecase

import (
	"log/slog"
	"time"

	"github.com/feedmehq/feedme-worker/internal/adapter/observability"
	"github.com/feedmehq/feedme-worker/internal/config"
	"github.com/feedmehq/feedme-worker/internal/domain"
)

// SkipReasonD7Gate is recorded on d21 jobs whose post never went hot at d7.
const SkipReasonD7Gate = "D7 not hot; D21 skipped by gate"

const missingInBatchMsg = "Post missing in batch result"

// WorkerService drains the handle queue and the post checkpoint queue.
// Handle jobs take priority; post jobs run in provider-shared batches.
type WorkerService struct {
	Cfg      config.Config
	Sync     SyncService
	Handles  domain.HandleQueue
	PostJobs domain.PostQueue
	Health   domain.HealthStore
	Signals  domain.SignalStore
	Metrics  domain.MetricStore
	Dir      domain.Directory
	RunLog   domain.RunLogStore
	// Sanitize scrubs provider credentials out of error messages before
	// they are persisted. Nil means store messages verbatim.
	Sanitize func(string) string
	Log      *slog.Logger
}

// Run loops until the context is canceled. Database errors abort the
// loop; scrape errors feed the retry schedule and the provider circuit
// breaker instead.
func (s WorkerService) Run(ctx domain.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		pauseUntil, err := s.Health.PauseUntil(ctx)
		if err != nil {
			return err
		}

		job, err := s.Handles.FetchNext(ctx)
		if err != nil {
			return err
		}
		if job != nil {
			if err := s.processHandleJob(ctx, *job, pauseUntil); err != nil {
				return err
			}
			if err := s.sleep(ctx, time.Second); err != nil {
				return err
			}
			continue
		}

		batch, err := s.PostJobs.FetchNextBatch(ctx, s.Cfg.PostBatchSize)
		if err != nil {
			return err
		}
		if len(batch) == 0 {
			if err := s.sleep(ctx, 5*time.Second); err != nil {
				return err
			}
			continue
		}
		if err := s.processPostBatch(ctx, batch, pauseUntil); err != nil {
			return err
		}
		if err := s.sleep(ctx, time.Second); err != nil {
			return err
		}
	}
}

func (s WorkerService) processHandleJob(ctx domain.Context, job domain.HandleJob, pauseUntil *time.Time) error {
	runLogID, err := s.RunLog.Start(ctx, job.SubscriberID, job.SpreadsheetID, job.Handle, job.RunType)
	if err != nil {
		return err
	}

	// An active cooldown parks the job without consuming a retry slot.
	if cooldownActive(pauseUntil) {
		msg := "Apify cooldown active"
		if err := s.Handles.MarkRetry(ctx, job.ID, job.Attempt, *pauseUntil, msg); err != nil {
			return err
		}
		return s.RunLog.Finish(ctx, runLogID, "retry", 0, 0, 0, &msg)
	}

	res, syncErr := s.Sync.SyncHandle(ctx, job.SubscriberID, job.SpreadsheetID, job.Handle, job.Handle, job.RunType)
	if syncErr != nil {
		return s.failHandleJob(ctx, job, runLogID, syncErr)
	}

	if err := s.Health.RecordSuccess(ctx); err != nil {
		return err
	}
	if err := s.Dir.UpsertHandleState(ctx, job.SubscriberID, job.Handle, job.Handle, "success", res.LastSeenPostURL, nil); err != nil {
		return err
	}
	if err := s.Handles.MarkSuccess(ctx, job.ID); err != nil {
		return err
	}
	observability.JobsProcessedTotal.WithLabelValues("run_queue", "success").Inc()
	if err := s.RunLog.Finish(ctx, runLogID, "success", res.ItemsReturned, res.Inserted, res.Updated, nil); err != nil {
		return err
	}
	s.Log.Info("handle sync finished",
		slog.String("handle", job.Handle),
		slog.Int("items", res.ItemsReturned),
		slog.Int("inserted", res.Inserted),
		slog.Int("updated", res.Updated))

	feed, err := s.Dir.FeedBySubscriber(ctx, job.SubscriberID)
	if err != nil {
		return err
	}
	if feed != nil {
		if err := s.Metrics.RefreshFeederPairMetrics(ctx, feed.ID, 30); err != nil {
			return err
		}
	}
	return nil
}

func (s WorkerService) failHandleJob(ctx domain.Context, job domain.HandleJob, runLogID int64, syncErr error) error {
	safe := s.sanitize(syncErr)
	_, newPause, err := s.Health.RecordFailure(ctx, safe, s.Cfg.CooldownTriggerFailures, s.Cfg.CooldownHours)
	if err != nil {
		return err
	}
	if newPause != nil {
		observability.CooldownActivationsTotal.Inc()
	}

	schedule := s.Cfg.BackoffSchedule()
	attempt := job.Attempt + 1
	if attempt <= len(schedule) {
		next := s.nextRetryTime(attempt, schedule)
		if newPause != nil && newPause.After(next) {
			next = *newPause
		}
		if err := s.Handles.MarkRetry(ctx, job.ID, attempt, next, safe); err != nil {
			return err
		}
		if err := s.Dir.UpsertHandleState(ctx, job.SubscriberID, job.Handle, job.Handle, "retry", nil, &safe); err != nil {
			return err
		}
		observability.JobsProcessedTotal.WithLabelValues("run_queue", "retry").Inc()
		return s.RunLog.Finish(ctx, runLogID, "retry", 0, 0, 0, &safe)
	}

	if err := s.Handles.MarkFailed(ctx, job.ID, safe); err != nil {
		return err
	}
	if err := s.Dir.UpsertHandleState(ctx, job.SubscriberID, job.Handle, job.Handle, "failed", nil, &safe); err != nil {
		return err
	}
	observability.JobsProcessedTotal.WithLabelValues("run_queue", "failed").Inc()
	return s.RunLog.Finish(ctx, runLogID, "failed", 0, 0, 0, &safe)
}

// processPostBatch refreshes a claimed batch. Every job in the batch
// shares the anchor's (subscriber, handle, checkpoint) key, so one
// provider run serves them all.
func (s WorkerService) processPostBatch(ctx domain.Context, batch []domain.PostJob, pauseUntil *time.Time) error {
	anchor := batch[0]

	if cooldownActive(pauseUntil) {
		for _, pj := range batch {
			if err := s.PostJobs.MarkRetry(ctx, pj.ID, pj.Attempt, *pauseUntil, "Apify cooldown active"); err != nil {
				return err
			}
		}
		return nil
	}

	urls := make([]string, 0, len(batch))
	for _, pj := range batch {
		urls = append(urls, pj.PostURL)
	}
	found, syncErr := s.Sync.SyncPostBatch(ctx, anchor.SubscriberID, anchor.SpreadsheetID, anchor.Handle, anchor.Handle, anchor.Checkpoint, urls)
	if syncErr != nil {
		return s.failPostBatch(ctx, batch, syncErr)
	}
	if err := s.Health.RecordSuccess(ctx); err != nil {
		return err
	}

	schedule := s.Cfg.BackoffSchedule()
	for _, pj := range batch {
		if pj.Checkpoint == domain.CheckpointD21 && pj.RequiresD7Hot {
			hot, err := s.Signals.IsD7Hot(ctx, pj.SubscriberID, pj.Handle, pj.PostURL)
			if err != nil {
				return err
			}
			if !hot {
				if err := s.PostJobs.MarkSkipped(ctx, pj.ID, SkipReasonD7Gate); err != nil {
					return err
				}
				observability.JobsProcessedTotal.WithLabelValues("post_queue", "skipped").Inc()
				continue
			}
		}
		if !found[pj.PostURL] {
			attempt := pj.Attempt + 1
			if attempt <= len(schedule) {
				if err := s.PostJobs.MarkRetry(ctx, pj.ID, attempt, s.nextRetryTime(attempt, schedule), missingInBatchMsg); err != nil {
					return err
				}
				observability.JobsProcessedTotal.WithLabelValues("post_queue", "retry").Inc()
			} else {
				if err := s.PostJobs.MarkFailed(ctx, pj.ID, missingInBatchMsg); err != nil {
					return err
				}
				observability.JobsProcessedTotal.WithLabelValues("post_queue", "failed").Inc()
			}
			continue
		}
		if err := s.PostJobs.MarkSuccess(ctx, pj.ID); err != nil {
			return err
		}
		observability.JobsProcessedTotal.WithLabelValues("post_queue", "success").Inc()
	}
	return nil
}

func (s WorkerService) failPostBatch(ctx domain.Context, batch []domain.PostJob, syncErr error) error {
	safe := s.sanitize(syncErr)
	_, newPause, err := s.Health.RecordFailure(ctx, safe, s.Cfg.CooldownTriggerFailures, s.Cfg.CooldownHours)
	if err != nil {
		return err
	}
	if newPause != nil {
		observability.CooldownActivationsTotal.Inc()
	}

	schedule := s.Cfg.BackoffSchedule()
	for _, pj := range batch {
		attempt := pj.Attempt + 1
		if attempt <= len(schedule) {
			next := s.nextRetryTime(attempt, schedule)
			if newPause != nil && newPause.After(next) {
				next = *newPause
			}
			if err := s.PostJobs.MarkRetry(ctx, pj.ID, attempt, next, safe); err != nil {
				return err
			}
			observability.JobsProcessedTotal.WithLabelValues("post_queue", "retry").Inc()
		} else {
			if err := s.PostJobs.MarkFailed(ctx, pj.ID, safe); err != nil {
				return err
			}
			observability.JobsProcessedTotal.WithLabelValues("post_queue", "failed").Inc()
		}
	}
	return nil
}

func (s WorkerService) nextRetryTime(attempt int, schedule []time.Duration) time.Time {
	idx := attempt - 1
	if idx >= len(schedule) {
		idx = len(schedule) - 1
	}
	return time.Now().UTC().Add(schedule[idx])
}

func (s WorkerService) sanitize(err error) string {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	if s.Sanitize != nil {
		return s.Sanitize(msg)
	}
	if msg == "" {
		return "Unknown error"
	}
	return msg
}

func (s WorkerService) sleep(ctx domain.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func cooldownActive(pauseUntil *time.Time) bool {
	return pauseUntil != nil && pauseUntil.After(time.Now().UTC())
}
