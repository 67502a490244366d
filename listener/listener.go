package listener

import (
	"context"
	"sync"
	"time"

	"github.com/apex/log"

	"civicwatch/changefeed"
	"civicwatch/metrics"
	"civicwatch/models"
)

// Fetcher re-issues the current list query. Implemented by
// database.Database.
type Fetcher interface {
	ListPage(ctx context.Context, page int) (*models.ReportPage, error)
}

// Broadcaster pushes an adopted snapshot to connected viewers. Implemented
// by websocket.Hub.
type Broadcaster interface {
	BroadcastPage(page *models.ReportPage)
}

// Refresher watches the reports change feed and refreshes the broadcast
// list page. Overlapping notifications are coalesced: the subscription
// channel holds at most one pending event, so notifications arriving while a
// refetch is in flight collapse into at most one follow-up refetch and
// refetch results never interleave.
type Refresher struct {
	feed        changefeed.Feed
	fetcher     Fetcher
	broadcaster Broadcaster
	page        int
	timeout     time.Duration

	sub  *changefeed.Subscription
	stop chan struct{}
	wg   sync.WaitGroup
}

// NewRefresher creates a refresher for the given list page.
func NewRefresher(feed changefeed.Feed, fetcher Fetcher, broadcaster Broadcaster, page int, timeout time.Duration) *Refresher {
	return &Refresher{
		feed:        feed,
		fetcher:     fetcher,
		broadcaster: broadcaster,
		page:        page,
		timeout:     timeout,
		stop:        make(chan struct{}),
	}
}

// Start opens the feed subscription and begins refreshing. One subscription
// per refresher lifetime; call Stop to release it.
func (r *Refresher) Start() error {
	sub, err := r.feed.Subscribe(changefeed.TopicReports)
	if err != nil {
		return err
	}
	r.sub = sub

	r.wg.Add(1)
	go r.refetchLoop()
	return nil
}

// Stop closes the subscription and waits for in-flight work to finish.
func (r *Refresher) Stop() {
	r.feed.Unsubscribe(r.sub)
	close(r.stop)
	r.wg.Wait()
}

// refetchLoop consumes the subscription directly and runs refetches one at a
// time. While a refetch is in flight the loop is not receiving, so the
// capacity-one subscription channel parks exactly one follow-up event and
// drops the rest. No second buffer sits between the feed and this loop; a
// chained buffer would queue a third refetch.
func (r *Refresher) refetchLoop() {
	defer r.wg.Done()
	for {
		select {
		case <-r.stop:
			return
		case _, ok := <-r.sub.C:
			if !ok {
				return
			}
			r.refetch()
		}
	}
}

func (r *Refresher) refetch() {
	ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
	defer cancel()

	page, err := r.fetcher.ListPage(ctx, r.page)
	if err != nil {
		metrics.ListenerRefetchesTotal.WithLabelValues("error").Inc()
		log.WithError(err).Error("Report list refetch failed")
		return
	}
	metrics.ListenerRefetchesTotal.WithLabelValues("ok").Inc()
	r.broadcaster.BroadcastPage(page)
}
