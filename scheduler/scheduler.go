// Package scheduler owns the polling lifecycle: one poller per feed,
// each running the fetch, dedup, enrich, publish pipeline on its own
// cadence. Feeds poll concurrently with each other but strictly
// sequentially within a feed.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"strings"
	"sync"
	"time"

	"rss-ai-bot/enricher"
	"rss-ai-bot/fetcher"
	"rss-ai-bot/publisher"
	"rss-ai-bot/storage"
)

// ErrBadInterval is returned when a poll interval is not one of the
// supported values.
var ErrBadInterval = errors.New("unsupported poll interval")

// ValidIntervals are the poll intervals feeds may be set to, in minutes.
var ValidIntervals = []int{5, 15, 30, 60}

// stubBodyLen is the threshold below which a feed entry's own body is
// considered a stub and the linked page is scraped instead.
const stubBodyLen = 200

// Fetcher retrieves and parses a feed document.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetcher.Feed, error)
}

// Enricher produces the translated, summarized, classified form of an
// article.
type Enricher interface {
	Enrich(ctx context.Context, title, body string) (*enricher.Result, error)
}

// Publisher delivers articles to per-feed channels.
type Publisher interface {
	EnsureChannel(ctx context.Context, suggestedName string) (publisher.ChannelRef, error)
	Publish(ctx context.Context, ref publisher.ChannelRef, article *publisher.Article) error
}

// Extractor pulls readable text from an article page.
type Extractor interface {
	Extract(ctx context.Context, rawURL string) (string, error)
}

// Store is the persistence surface the scheduler depends on.
type Store interface {
	CreateFeed(ctx context.Context, feed *storage.Feed) error
	GetFeed(ctx context.Context, id int64) (*storage.Feed, error)
	ListFeeds(ctx context.Context) ([]*storage.Feed, error)
	DeleteFeed(ctx context.Context, id int64) error
	SetFeedInterval(ctx context.Context, id int64, mins int) error
	SetFeedEnabled(ctx context.Context, id int64, enabled bool) error
	SetFeedChannel(ctx context.Context, id, chatID, threadID int64) error
	RecordPollSuccess(ctx context.Context, id int64, at time.Time) error
	RecordPollError(ctx context.Context, id int64, msg string) error
	IncrementPublished(ctx context.Context, id int64) error
	IsNew(ctx context.Context, feedID int64, articleID string) (bool, error)
	MarkSeen(ctx context.Context, feedID int64, articleID string) error
}

// FeedStatus is a snapshot of one feed's registration and health.
type FeedStatus struct {
	ID             int64
	URL            string
	Title          string
	IntervalMins   int
	Enabled        bool
	Polling        bool
	LastPolledAt   *time.Time
	LastError      string
	PublishedCount int64
}

// Scheduler coordinates per-feed pollers over the article pipeline.
type Scheduler struct {
	store   Store
	fetch   Fetcher
	enrich  Enricher
	publish Publisher
	extract Extractor

	defaultInterval int
	maxAttempts     int
	fetchTimeout    time.Duration
	enrichTimeout   time.Duration
	publishTimeout  time.Duration

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	pollers map[int64]*poller

	failMu   sync.Mutex
	failures map[int64]map[string]int
}

// poller is the per-feed polling goroutine handle. runMu serializes all
// polls of one feed, scheduled and manual alike.
type poller struct {
	feedID int64
	cancel context.CancelFunc
	done   chan struct{}
	runMu  *sync.Mutex
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithExtractor enables full-text scraping for entries whose feed body
// is a stub.
func WithExtractor(e Extractor) Option {
	return func(s *Scheduler) {
		s.extract = e
	}
}

// WithDefaultInterval sets the poll interval used when AddFeed is not
// given one.
func WithDefaultInterval(mins int) Option {
	return func(s *Scheduler) {
		s.defaultInterval = mins
	}
}

// WithMaxArticleAttempts sets how many polls may fail on the same
// article before it is skipped and marked seen.
func WithMaxArticleAttempts(n int) Option {
	return func(s *Scheduler) {
		s.maxAttempts = n
	}
}

// WithTimeouts sets the per-stage deadlines for fetch, enrich, and
// publish.
func WithTimeouts(fetch, enrich, publish time.Duration) Option {
	return func(s *Scheduler) {
		s.fetchTimeout = fetch
		s.enrichTimeout = enrich
		s.publishTimeout = publish
	}
}

// New creates a scheduler. Call Start to load persisted feeds and begin
// polling.
func New(store Store, fetch Fetcher, enrich Enricher, publish Publisher, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:           store,
		fetch:           fetch,
		enrich:          enrich,
		publish:         publish,
		defaultInterval: 15,
		maxAttempts:     5,
		fetchTimeout:    30 * time.Second,
		enrichTimeout:   30 * time.Second,
		publishTimeout:  15 * time.Second,
		pollers:         make(map[int64]*poller),
		failures:        make(map[int64]map[string]int),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads persisted feeds and starts a poller for every enabled one.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)

	feeds, err := s.store.ListFeeds(ctx)
	if err != nil {
		return fmt.Errorf("list feeds: %w", err)
	}

	for _, feed := range feeds {
		if feed.Enabled {
			s.startPoller(feed.ID, feed.IntervalMins)
		}
	}

	slog.Info("scheduler started", "feeds", len(feeds))
	return nil
}

// Stop cancels all pollers and waits for in-flight polls to finish.
func (s *Scheduler) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()

	s.mu.Lock()
	s.pollers = make(map[int64]*poller)
	s.mu.Unlock()

	slog.Info("scheduler stopped")
}

// AddFeed validates and registers a feed, creates its channel, and
// starts polling it. An interval of 0 selects the default; a non-empty
// nameHint overrides the feed title when naming the channel.
func (s *Scheduler) AddFeed(ctx context.Context, url string, intervalMins int, nameHint string) (*storage.Feed, error) {
	if intervalMins == 0 {
		intervalMins = s.defaultInterval
	}
	if !IsValidInterval(intervalMins) {
		return nil, fmt.Errorf("%w: %d minutes", ErrBadInterval, intervalMins)
	}
	if err := fetcher.ValidateURL(url); err != nil {
		return nil, err
	}

	// A probe fetch rejects dead or malformed feeds before anything is
	// persisted, and supplies the feed title.
	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	parsed, err := s.fetch.Fetch(fetchCtx, url)
	if err != nil {
		return nil, fmt.Errorf("probe feed: %w", err)
	}

	feed := &storage.Feed{
		URL:          url,
		Title:        parsed.Title,
		IntervalMins: intervalMins,
		Enabled:      true,
		CreatedAt:    time.Now(),
	}
	if err := s.store.CreateFeed(ctx, feed); err != nil {
		return nil, err
	}

	channelName := feed.Title
	if nameHint != "" {
		channelName = nameHint
	}
	ref, err := s.publish.EnsureChannel(ctx, publisher.TopicName(feed.ID, channelName))
	if err != nil {
		if delErr := s.store.DeleteFeed(ctx, feed.ID); delErr != nil {
			slog.Error("rollback of feed registration failed", "feed_id", feed.ID, "error", delErr)
		}
		return nil, fmt.Errorf("create channel: %w", err)
	}
	if err := s.store.SetFeedChannel(ctx, feed.ID, ref.ChatID, ref.ThreadID); err != nil {
		return nil, err
	}
	feed.ChatID = ref.ChatID
	feed.ThreadID = ref.ThreadID

	if s.ctx != nil {
		s.startPoller(feed.ID, feed.IntervalMins)
	}

	slog.Info("feed added", "feed_id", feed.ID, "url", url, "interval_mins", intervalMins)
	return feed, nil
}

// RemoveFeed stops a feed's poller and deletes its registration and
// seen-set entries.
func (s *Scheduler) RemoveFeed(ctx context.Context, id int64) error {
	s.stopPoller(id)
	if err := s.store.DeleteFeed(ctx, id); err != nil {
		return err
	}

	s.failMu.Lock()
	delete(s.failures, id)
	s.failMu.Unlock()

	slog.Info("feed removed", "feed_id", id)
	return nil
}

// ListFeeds returns all registered feeds.
func (s *Scheduler) ListFeeds(ctx context.Context) ([]*storage.Feed, error) {
	return s.store.ListFeeds(ctx)
}

// SetInterval changes a feed's poll cadence, restarting its poller.
func (s *Scheduler) SetInterval(ctx context.Context, id int64, mins int) error {
	if !IsValidInterval(mins) {
		return fmt.Errorf("%w: %d minutes", ErrBadInterval, mins)
	}
	if err := s.store.SetFeedInterval(ctx, id, mins); err != nil {
		return err
	}

	s.mu.Lock()
	_, running := s.pollers[id]
	s.mu.Unlock()
	if running {
		s.stopPoller(id)
		s.startPoller(id, mins)
	}
	return nil
}

// SetEnabled pauses or resumes a feed's poller. The registration and
// seen set are kept either way.
func (s *Scheduler) SetEnabled(ctx context.Context, id int64, enabled bool) error {
	feed, err := s.store.GetFeed(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.SetFeedEnabled(ctx, id, enabled); err != nil {
		return err
	}

	if enabled {
		if s.ctx != nil {
			s.startPoller(id, feed.IntervalMins)
		}
	} else {
		s.stopPoller(id)
	}
	return nil
}

// CheckNow polls one feed immediately and waits for the poll to finish.
// It works on disabled feeds too.
func (s *Scheduler) CheckNow(ctx context.Context, id int64) error {
	if _, err := s.store.GetFeed(ctx, id); err != nil {
		return err
	}

	s.mu.Lock()
	p := s.pollers[id]
	s.mu.Unlock()

	if p != nil {
		p.runMu.Lock()
		defer p.runMu.Unlock()
	}
	return s.pollFeed(ctx, id)
}

// CheckAll polls every enabled feed concurrently and waits for all of
// them, joining any per-feed errors.
func (s *Scheduler) CheckAll(ctx context.Context) error {
	feeds, err := s.store.ListFeeds(ctx)
	if err != nil {
		return err
	}

	var wg sync.WaitGroup
	errs := make([]error, len(feeds))
	for i, feed := range feeds {
		if !feed.Enabled {
			continue
		}
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			if err := s.CheckNow(ctx, id); err != nil {
				errs[i] = fmt.Errorf("feed %d: %w", id, err)
			}
		}(i, feed.ID)
	}
	wg.Wait()
	return errors.Join(errs...)
}

// Status reports every feed's registration and health.
func (s *Scheduler) Status(ctx context.Context) ([]FeedStatus, error) {
	feeds, err := s.store.ListFeeds(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	statuses := make([]FeedStatus, 0, len(feeds))
	for _, feed := range feeds {
		_, polling := s.pollers[feed.ID]
		statuses = append(statuses, FeedStatus{
			ID:             feed.ID,
			URL:            feed.URL,
			Title:          feed.Title,
			IntervalMins:   feed.IntervalMins,
			Enabled:        feed.Enabled,
			Polling:        polling,
			LastPolledAt:   feed.LastPolledAt,
			LastError:      feed.LastError,
			PublishedCount: feed.PublishedCount,
		})
	}
	return statuses, nil
}

// IsValidInterval reports whether mins is a supported poll interval.
func IsValidInterval(mins int) bool {
	for _, v := range ValidIntervals {
		if mins == v {
			return true
		}
	}
	return false
}

func (s *Scheduler) startPoller(feedID int64, intervalMins int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pollers[feedID]; ok {
		return
	}

	ctx, cancel := context.WithCancel(s.ctx)
	p := &poller{
		feedID: feedID,
		cancel: cancel,
		done:   make(chan struct{}),
		runMu:  &sync.Mutex{},
	}
	s.pollers[feedID] = p

	s.wg.Add(1)
	go s.runPoller(ctx, p, time.Duration(intervalMins)*time.Minute)
}

func (s *Scheduler) stopPoller(feedID int64) {
	s.mu.Lock()
	p, ok := s.pollers[feedID]
	if ok {
		delete(s.pollers, feedID)
	}
	s.mu.Unlock()

	if ok {
		p.cancel()
		<-p.done
	}
}

func (s *Scheduler) runPoller(ctx context.Context, p *poller, interval time.Duration) {
	defer s.wg.Done()
	defer close(p.done)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.pollSerialized(ctx, p)

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.pollSerialized(ctx, p)
		}
	}
}

func (s *Scheduler) pollSerialized(ctx context.Context, p *poller) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	if err := s.pollFeed(ctx, p.feedID); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("poll failed", "feed_id", p.feedID, "error", err)
	}
}

// pollFeed runs one full pipeline pass for a feed: fetch, filter seen,
// enrich, publish, mark seen. Articles are processed in feed order; a
// failure mid-batch stops the batch so later articles never overtake
// earlier ones.
func (s *Scheduler) pollFeed(ctx context.Context, feedID int64) error {
	feed, err := s.store.GetFeed(ctx, feedID)
	if err != nil {
		return err
	}

	fetchCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	parsed, err := s.fetch.Fetch(fetchCtx, feed.URL)
	cancel()
	if err != nil {
		s.recordError(ctx, feedID, err)
		return fmt.Errorf("fetch: %w", err)
	}

	published := 0
	for i := range parsed.Articles {
		article := &parsed.Articles[i]

		isNew, err := s.store.IsNew(ctx, feedID, article.ID)
		if err != nil {
			s.recordError(ctx, feedID, err)
			return fmt.Errorf("dedup check: %w", err)
		}
		if !isNew {
			continue
		}

		if err := s.processArticle(ctx, feed, article, parsed.Title); err != nil {
			if errors.Is(err, errArticleSkipped) {
				continue
			}
			s.recordError(ctx, feedID, err)
			return err
		}
		published++
	}

	if err := s.store.RecordPollSuccess(ctx, feedID, time.Now()); err != nil {
		return fmt.Errorf("record poll: %w", err)
	}
	if published > 0 {
		slog.Info("poll published articles", "feed_id", feedID, "count", published)
	}
	return nil
}

// errArticleSkipped marks an article that exhausted its attempts and was
// dropped; the rest of the batch continues past it.
var errArticleSkipped = errors.New("article skipped")

func (s *Scheduler) processArticle(ctx context.Context, feed *storage.Feed, article *fetcher.Article, feedTitle string) error {
	body := s.articleBody(ctx, article)

	enrichCtx, cancel := context.WithTimeout(ctx, s.enrichTimeout)
	result, err := s.enrich.Enrich(enrichCtx, article.Title, body)
	cancel()
	if err != nil {
		return s.noteFailure(ctx, feed.ID, article.ID, fmt.Errorf("enrich: %w", err))
	}

	ref, err := s.channelFor(ctx, feed)
	if err != nil {
		return err
	}

	msg := &publisher.Article{
		Title:         result.Title,
		OriginalTitle: article.Title,
		Summary:       result.Summary,
		Genre:         result.Genre,
		Link:          article.Link,
		FeedTitle:     feedTitle,
	}

	publishCtx, cancel := context.WithTimeout(ctx, s.publishTimeout)
	err = s.publish.Publish(publishCtx, ref, msg)
	cancel()
	if err != nil {
		return s.noteFailure(ctx, feed.ID, article.ID, fmt.Errorf("publish: %w", err))
	}

	// Seen is recorded only after the message is out, so a crash between
	// the two repeats the article rather than losing it.
	if err := s.store.MarkSeen(ctx, feed.ID, article.ID); err != nil {
		return fmt.Errorf("mark seen: %w", err)
	}
	if err := s.store.IncrementPublished(ctx, feed.ID); err != nil {
		return fmt.Errorf("count published: %w", err)
	}
	s.clearFailure(feed.ID, article.ID)
	return nil
}

// articleBody returns the entry's own text, scraping the linked page
// when the feed only carries a stub.
func (s *Scheduler) articleBody(ctx context.Context, article *fetcher.Article) string {
	body := stripTags(article.Body)
	if s.extract == nil || len(body) >= stubBodyLen || article.Link == "" {
		return body
	}

	extractCtx, cancel := context.WithTimeout(ctx, s.fetchTimeout)
	defer cancel()
	scraped, err := s.extract.Extract(extractCtx, article.Link)
	if err != nil {
		slog.Warn("full-text extraction failed, using feed body",
			"link", article.Link, "error", err)
		return body
	}
	if len(scraped) > len(body) {
		return scraped
	}
	return body
}

// channelFor returns the feed's stored channel, creating one lazily for
// registrations that predate channel assignment.
func (s *Scheduler) channelFor(ctx context.Context, feed *storage.Feed) (publisher.ChannelRef, error) {
	if feed.ChatID != 0 {
		return publisher.ChannelRef{ChatID: feed.ChatID, ThreadID: feed.ThreadID}, nil
	}

	ref, err := s.publish.EnsureChannel(ctx, publisher.TopicName(feed.ID, feed.Title))
	if err != nil {
		return publisher.ChannelRef{}, fmt.Errorf("create channel: %w", err)
	}
	if err := s.store.SetFeedChannel(ctx, feed.ID, ref.ChatID, ref.ThreadID); err != nil {
		return publisher.ChannelRef{}, err
	}
	feed.ChatID = ref.ChatID
	feed.ThreadID = ref.ThreadID
	return ref, nil
}

// noteFailure counts consecutive failures per article. Below the limit
// the error propagates and the batch stops, keeping order for the next
// attempt. At the limit the article is marked seen and skipped so one
// poison entry cannot stall the feed forever.
func (s *Scheduler) noteFailure(ctx context.Context, feedID int64, articleID string, cause error) error {
	s.failMu.Lock()
	if s.failures[feedID] == nil {
		s.failures[feedID] = make(map[string]int)
	}
	s.failures[feedID][articleID]++
	count := s.failures[feedID][articleID]
	s.failMu.Unlock()

	if count < s.maxAttempts {
		return cause
	}

	slog.Warn("article skipped after repeated failures",
		"feed_id", feedID, "article_id", articleID, "attempts", count, "error", cause)
	if err := s.store.MarkSeen(ctx, feedID, articleID); err != nil {
		return fmt.Errorf("mark skipped article: %w", err)
	}
	s.clearFailure(feedID, articleID)
	return errArticleSkipped
}

func (s *Scheduler) clearFailure(feedID int64, articleID string) {
	s.failMu.Lock()
	if m := s.failures[feedID]; m != nil {
		delete(m, articleID)
	}
	s.failMu.Unlock()
}

func (s *Scheduler) recordError(ctx context.Context, feedID int64, cause error) {
	if err := s.store.RecordPollError(ctx, feedID, cause.Error()); err != nil {
		slog.Error("recording poll error failed", "feed_id", feedID, "error", err)
	}
}

// stripTags reduces feed-carried HTML to plain text and collapses
// whitespace.
func stripTags(s string) string {
	var b strings.Builder
	inTag := false
	for _, r := range s {
		switch {
		case r == '<':
			inTag = true
		case r == '>':
			inTag = false
		case !inTag:
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(html.UnescapeString(b.String())), " ")
}
