package services

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/fastygo/opendatahub/domain"
	"github.com/fastygo/opendatahub/usecase"
	"github.com/fastygo/opendatahub/usecase/importer"
)

// FeedRunner runs a single feed import.
type FeedRunner interface {
	Run(ctx context.Context, feed importer.Feed, opts importer.RunOptions) (*importer.RunResult, error)
}

// RegisterFeeds adds one dispatcher job per feed. The job payload is an importer.RunOptions.
func RegisterFeeds(d *usecase.Dispatcher, runner FeedRunner, feeds []importer.Feed) {
	for _, feed := range feeds {
		feed := feed
		d.Register(feed.Name, func(ctx context.Context, payload interface{}) (interface{}, error) {
			var opts importer.RunOptions
			switch p := payload.(type) {
			case nil:
			case importer.RunOptions:
				opts = p
			case *importer.RunOptions:
				opts = *p
			default:
				return nil, domain.ErrInvalidPayload
			}
			return runner.Run(ctx, feed, opts)
		})
	}
}

// FeedScheduler triggers scheduled feeds through the dispatcher.
type FeedScheduler struct {
	cron       *cron.Cron
	dispatcher *usecase.Dispatcher
	timeout    time.Duration
	logger     *zap.Logger
	entries    map[string]cron.EntryID
}

// NewFeedScheduler registers every feed that has a schedule. Schedules use the six field
// cron format with seconds. Runs are bounded by timeout.
func NewFeedScheduler(d *usecase.Dispatcher, feeds []importer.Feed, timeout time.Duration, logger *zap.Logger) (*FeedScheduler, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if timeout <= 0 {
		timeout = 30 * time.Minute
	}
	s := &FeedScheduler{
		cron:       cron.New(cron.WithSeconds(), cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
		dispatcher: d,
		timeout:    timeout,
		logger:     logger.With(zap.String("component", "scheduler")),
		entries:    make(map[string]cron.EntryID),
	}
	for _, feed := range feeds {
		if feed.Schedule == "" {
			continue
		}
		name := feed.Name
		id, err := s.cron.AddFunc(feed.Schedule, func() { s.trigger(name) })
		if err != nil {
			return nil, domain.WrapError(domain.ErrCodeInvalid, "feed "+name+": invalid schedule", err)
		}
		s.entries[name] = id
	}
	return s, nil
}

func (s *FeedScheduler) trigger(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()
	if _, err := s.dispatcher.Execute(ctx, name, importer.RunOptions{}); err != nil {
		s.logger.Error("scheduled import failed", zap.String("feed", name), zap.Error(err))
	}
}

// Scheduled lists the feeds with a schedule.
func (s *FeedScheduler) Scheduled() []string {
	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	return names
}

// Next returns the next planned run of a feed.
func (s *FeedScheduler) Next(name string) (time.Time, bool) {
	id, ok := s.entries[name]
	if !ok {
		return time.Time{}, false
	}
	return s.cron.Entry(id).Next, true
}

func (s *FeedScheduler) Start() {
	if s == nil {
		return
	}
	s.cron.Start()
	s.logger.Info("feed scheduler started", zap.Int("feeds", len(s.entries)))
}

// Stop waits for running imports or until ctx is done.
func (s *FeedScheduler) Stop(ctx context.Context) {
	if s == nil {
		return
	}
	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
	case <-ctx.Done():
	}
	s.logger.Info("feed scheduler stopped")
}
