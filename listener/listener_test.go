package listener

import (
	"context"
	"sync"
	"testing"
	"time"

	"civicwatch/changefeed"
	"civicwatch/models"
)

type blockingFetcher struct {
	mu      sync.Mutex
	calls   int
	started chan struct{}
	proceed chan struct{}
}

func newBlockingFetcher() *blockingFetcher {
	return &blockingFetcher{
		started: make(chan struct{}, 16),
		proceed: make(chan struct{}, 16),
	}
}

func (f *blockingFetcher) ListPage(ctx context.Context, page int) (*models.ReportPage, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()
	f.started <- struct{}{}

	select {
	case <-f.proceed:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &models.ReportPage{Page: page, TotalCount: call}, nil
}

func (f *blockingFetcher) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type recordingBroadcaster struct {
	mu    sync.Mutex
	pages []*models.ReportPage
}

func (b *recordingBroadcaster) BroadcastPage(page *models.ReportPage) {
	b.mu.Lock()
	b.pages = append(b.pages, page)
	b.mu.Unlock()
}

func (b *recordingBroadcaster) count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pages)
}

func TestRefresherRefetchesOnNotification(t *testing.T) {
	feed := changefeed.NewMemoryFeed()
	fetcher := newBlockingFetcher()
	broadcaster := &recordingBroadcaster{}

	r := NewRefresher(feed, fetcher, broadcaster, 1, time.Second)
	if err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop()

	feed.NotifyChange(changefeed.TopicReports, changefeed.KindInsert, 1)

	waitFor(t, fetcher.started, "refetch did not start")
	fetcher.proceed <- struct{}{}

	waitUntil(t, func() bool { return broadcaster.count() == 1 }, "snapshot not broadcast")
}

func TestRefresherCoalescesOverlappingNotifications(t *testing.T) {
	feed := changefeed.NewMemoryFeed()
	fetcher := newBlockingFetcher()
	broadcaster := &recordingBroadcaster{}

	r := NewRefresher(feed, fetcher, broadcaster, 1, time.Second)
	if err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer r.Stop()

	// First notification starts a refetch that we hold in flight.
	feed.NotifyChange(changefeed.TopicReports, changefeed.KindInsert, 1)
	waitFor(t, fetcher.started, "first refetch did not start")

	// Two more notifications arrive while the refetch is in flight. They
	// must collapse into at most one follow-up refetch, not queue.
	feed.NotifyChange(changefeed.TopicReports, changefeed.KindInsert, 2)
	feed.NotifyChange(changefeed.TopicReports, changefeed.KindUpdate, 3)

	// Release the in-flight refetch and any follow-up.
	fetcher.proceed <- struct{}{}
	fetcher.proceed <- struct{}{}

	waitUntil(t, func() bool { return broadcaster.count() >= 2 }, "follow-up snapshot not broadcast")
	// Give a queued (incorrect) third refetch a chance to show up.
	time.Sleep(100 * time.Millisecond)

	if got := fetcher.callCount(); got > 2 {
		t.Errorf("refetches = %d, want at most 2 for 3 overlapping notifications", got)
	}
	if got := broadcaster.count(); got > 2 {
		t.Errorf("broadcasts = %d, want at most 2", got)
	}
}

func TestRefresherStopClosesSubscription(t *testing.T) {
	feed := changefeed.NewMemoryFeed()
	fetcher := newBlockingFetcher()
	broadcaster := &recordingBroadcaster{}

	r := NewRefresher(feed, fetcher, broadcaster, 1, time.Second)
	if err := r.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	r.Stop()

	// Notifications after Stop trigger nothing.
	feed.NotifyChange(changefeed.TopicReports, changefeed.KindInsert, 1)
	time.Sleep(50 * time.Millisecond)
	if got := fetcher.callCount(); got != 0 {
		t.Errorf("refetches after Stop = %d, want 0", got)
	}
}

func waitFor(t *testing.T, ch chan struct{}, msg string) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal(msg)
	}
}

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}
