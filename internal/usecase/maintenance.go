package usecase

import (
	"log/slog"

	"github.com/feedmehq/feedme-worker/internal/domain"
)

// AggregateLookbackDays is the rolling window fed to the aggregate
// rebuild before every alert scan.
const AggregateLookbackDays = 30

// AggregateService rebuilds signal aggregates per feed.
type AggregateService struct {
	Dir   domain.Directory
	Store domain.AggregateStore
	Log   *slog.Logger
}

// NewAggregateService constructs an AggregateService.
func NewAggregateService(dir domain.Directory, store domain.AggregateStore, log *slog.Logger) AggregateService {
	return AggregateService{Dir: dir, Store: store, Log: log}
}

// Run rebuilds the aggregates for one subscriber's feed or all feeds.
func (s AggregateService) Run(ctx domain.Context, subscriberID *int64) error {
	feeds, err := s.Dir.ListFeeds(ctx)
	if err != nil {
		return err
	}
	for _, feed := range feeds {
		if subscriberID != nil && feed.SubscriberID != *subscriberID {
			continue
		}
		if err := s.Store.Rebuild(ctx, feed.ID, AggregateLookbackDays); err != nil {
			return err
		}
		s.Log.Debug("signal aggregates rebuilt", slog.Int64("feed_id", feed.ID))
	}
	return nil
}

// RetentionService prunes aged rows per the retention policy.
type RetentionService struct {
	Store domain.RetentionStore
	Log   *slog.Logger
}

// NewRetentionService constructs a RetentionService.
func NewRetentionService(store domain.RetentionStore, log *slog.Logger) RetentionService {
	return RetentionService{Store: store, Log: log}
}

// Run executes one retention sweep.
func (s RetentionService) Run(ctx domain.Context) error {
	if err := s.Store.Cleanup(ctx); err != nil {
		return err
	}
	s.Log.Info("retention cleanup finished")
	return nil
}
