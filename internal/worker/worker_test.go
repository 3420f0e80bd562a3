package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/JakeFAU/media-harvester/internal/crawler"
	"github.com/JakeFAU/media-harvester/internal/dedup/memory"
	"github.com/JakeFAU/media-harvester/internal/enrich/tmdb"
	"github.com/JakeFAU/media-harvester/internal/listing"
	"github.com/JakeFAU/media-harvester/internal/normalize"
	"github.com/JakeFAU/media-harvester/internal/queue"
	"github.com/JakeFAU/media-harvester/internal/sink"
)

type fakeClock struct{ now time.Time }

func (c fakeClock) Now() time.Time { return c.now }

// listingSession serves the same listing page for every unit.
type listingSession struct {
	mu        sync.Mutex
	html      string
	navigated []string
	closed    bool
}

func (s *listingSession) Navigate(_ context.Context, url string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.navigated = append(s.navigated, url)
	return nil
}

func (s *listingSession) WaitFor(_ context.Context, selector string, _ time.Duration) error {
	if selector == listing.SeeMoreSelector {
		return fmt.Errorf("no more results: %w", crawler.ErrInteraction)
	}
	return nil
}

func (s *listingSession) Click(context.Context, string) error          { return nil }
func (s *listingSession) RunScript(context.Context, string, any) error { return nil }
func (s *listingSession) HTML(context.Context) (string, error)         { return s.html, nil }

func (s *listingSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeBrowser struct {
	session crawler.Session
	err     error
}

func (b fakeBrowser) NewSession(context.Context) (crawler.Session, error) {
	return b.session, b.err
}

func (fakeBrowser) Close() error { return nil }

// scriptedExtractor returns one result per call in order.
type scriptedExtractor struct {
	mu      sync.Mutex
	results []extractResult
	calls   int
}

type extractResult struct {
	items []crawler.RawListingItem
	err   error
}

func (e *scriptedExtractor) Extract(context.Context, crawler.Session, crawler.WorkUnit) ([]crawler.RawListingItem, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	idx := e.calls
	e.calls++
	if idx >= len(e.results) {
		return nil, nil
	}
	return e.results[idx].items, e.results[idx].err
}

type recordingDedup struct {
	mu      sync.Mutex
	claimed []string
	inner   *memory.Index
}

func newRecordingDedup() *recordingDedup {
	return &recordingDedup{inner: memory.New()}
}

func (d *recordingDedup) TryClaim(ctx context.Context, id string) bool {
	d.mu.Lock()
	d.claimed = append(d.claimed, id)
	d.mu.Unlock()
	return d.inner.TryClaim(ctx, id)
}

type recordingEnricher struct {
	mu     sync.Mutex
	ids    []string
	absent map[string]bool
}

func (e *recordingEnricher) Enrich(_ context.Context, id string) (crawler.Metadata, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.ids = append(e.ids, id)
	if e.absent[id] {
		return crawler.Metadata{}, false
	}
	return crawler.Metadata{ID: 1, Title: "Title " + id, MediaType: crawler.MediaMovie}, true
}

func item(id string) crawler.RawListingItem {
	return crawler.RawListingItem{
		Title:     "Listing " + id,
		GlobalID:  id,
		DetailURL: "https://www.imdb.com/title/" + id + "/",
	}
}

func newTestWorker(t *testing.T, deps Deps) *Worker {
	t.Helper()
	if deps.Browser == nil {
		deps.Browser = fakeBrowser{session: &listingSession{}}
	}
	if deps.Normalizer == nil {
		deps.Normalizer = normalize.New("", fakeClock{now: time.Unix(0, 0)}, "run-test")
	}
	if deps.Sink == nil {
		deps.Sink = sink.NewMemory()
	}
	if deps.Stats == nil {
		deps.Stats = &crawler.Stats{}
	}
	deps.Slots = semaphore.NewWeighted(4)
	return New(0, deps, zap.NewNop())
}

func TestWorkerSkipsInvalidItemsBeforeClaim(t *testing.T) {
	t.Parallel()

	dedup := newRecordingDedup()
	enricher := &recordingEnricher{}
	mem := sink.NewMemory()
	extractor := &scriptedExtractor{results: []extractResult{{
		items: []crawler.RawListingItem{
			item("tt1"),
			{Title: "", GlobalID: "tt2"},
			{Title: "No id"},
			item("tt1"),
		},
	}}}
	stats := &crawler.Stats{}
	w := newTestWorker(t, Deps{
		Units:     queue.Populate(crawler.WorkUnit{Year: 2003, Month: time.January}, crawler.WorkUnit{Year: 2003, Month: time.January}, time.Now()),
		Extractor: extractor,
		Dedup:     dedup,
		Enricher:  enricher,
		Sink:      mem,
		Stats:     stats,
	})

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, []string{"tt1", "tt1"}, dedup.claimed)
	assert.Equal(t, []string{"tt1"}, enricher.ids)
	assert.Len(t, mem.Records(), 1)

	summary := stats.Snapshot()
	assert.Equal(t, int64(4), summary.ItemsSeen)
	assert.Equal(t, int64(2), summary.ItemsInvalid)
	assert.Equal(t, int64(1), summary.ItemsDuplicate)
	assert.Equal(t, int64(1), summary.RecordsEmitted)
	assert.Equal(t, int64(1), summary.UnitsDone)
}

func TestWorkerAbandonsUnitOnInteractionError(t *testing.T) {
	t.Parallel()

	session := &listingSession{}
	extractor := &scriptedExtractor{results: []extractResult{
		{err: fmt.Errorf("items wait: %w", crawler.ErrInteraction)},
		{items: []crawler.RawListingItem{item("tt7")}},
	}}
	stats := &crawler.Stats{}
	mem := sink.NewMemory()
	w := newTestWorker(t, Deps{
		Units:     queue.Populate(crawler.WorkUnit{Year: 2003, Month: time.January}, crawler.WorkUnit{Year: 2003, Month: time.February}, time.Now()),
		Browser:   fakeBrowser{session: session},
		Extractor: extractor,
		Dedup:     memory.New(),
		Enricher:  &recordingEnricher{},
		Sink:      mem,
		Stats:     stats,
	})

	require.NoError(t, w.Run(context.Background()))
	assert.Equal(t, 2, extractor.calls)
	assert.Equal(t, int64(1), stats.UnitsFailed.Load())
	assert.Equal(t, int64(1), stats.UnitsDone.Load())
	assert.Len(t, mem.Records(), 1)
	assert.True(t, session.closed)
}

func TestWorkerStopsOnFatalSessionError(t *testing.T) {
	t.Parallel()

	session := &listingSession{}
	units := queue.Populate(crawler.WorkUnit{Year: 2003, Month: time.January}, crawler.WorkUnit{Year: 2003, Month: time.March}, time.Now())
	extractor := &scriptedExtractor{results: []extractResult{
		{err: fmt.Errorf("navigate: %w", crawler.ErrSessionFatal)},
	}}
	w := newTestWorker(t, Deps{
		Units:     units,
		Browser:   fakeBrowser{session: session},
		Extractor: extractor,
		Dedup:     memory.New(),
		Enricher:  &recordingEnricher{},
	})

	err := w.Run(context.Background())
	require.ErrorIs(t, err, crawler.ErrSessionFatal)
	assert.Equal(t, 1, extractor.calls)
	assert.Equal(t, 2, units.Remaining(), "remaining units stay available to other workers")
	assert.True(t, session.closed)
}

func TestWorkerSessionAcquireFailure(t *testing.T) {
	t.Parallel()

	w := newTestWorker(t, Deps{
		Units:   queue.Populate(crawler.WorkUnit{Year: 2003, Month: time.January}, crawler.WorkUnit{Year: 2003, Month: time.January}, time.Now()),
		Browser: fakeBrowser{err: errors.New("no chrome")},
	})
	require.ErrorContains(t, w.Run(context.Background()), "acquire session")
}

func TestWorkerHonoursItemBudget(t *testing.T) {
	t.Parallel()

	enricher := &recordingEnricher{}
	extractor := &scriptedExtractor{results: []extractResult{{
		items: []crawler.RawListingItem{item("tt1"), item("tt2"), item("tt3")},
	}}}
	w := newTestWorker(t, Deps{
		Units:     queue.Populate(crawler.WorkUnit{Year: 2003, Month: time.January}, crawler.WorkUnit{Year: 2003, Month: time.February}, time.Now()),
		Extractor: extractor,
		Dedup:     memory.New(),
		Enricher:  enricher,
		Budget:    NewBudget(2),
	})

	require.NoError(t, w.Run(context.Background()))
	assert.ElementsMatch(t, []string{"tt1", "tt2"}, enricher.ids)
	assert.Equal(t, 1, extractor.calls, "exhausted budget stops taking units")
}

func TestBudgetUnlimited(t *testing.T) {
	t.Parallel()

	var nilBudget *Budget
	assert.True(t, nilBudget.Take())
	assert.False(t, nilBudget.Exhausted())

	b := NewBudget(0)
	for range 10 {
		assert.True(t, b.Take())
	}
	assert.False(t, b.Exhausted())
}

const januaryListing = `<html><body><ul>
<li class="ipc-metadata-list-summary-item">
  <h3 class="ipc-title__text">1. Found Film</h3>
  <div><span class="dli-title-metadata-item">2003</span></div>
  <a class="ipc-lockup-overlay" href="/title/tt0000001/"></a>
  <span class="ipc-rating-star--rating">7.1</span>
  <span class="ipc-rating-star--voteCount"> (1.2K)</span>
</li>
<li class="ipc-metadata-list-summary-item">
  <h3 class="ipc-title__text">2. Missing Film</h3>
  <div><span class="dli-title-metadata-item">2003</span></div>
  <a class="ipc-lockup-overlay" href="/title/tt0000002/"></a>
</li>
</ul></body></html>`

// TestWorkerEndToEndJanuary2003 runs the real extractor, enrichment client
// and normalizer against a fake page and a fake metadata API.
func TestWorkerEndToEndJanuary2003(t *testing.T) {
	t.Parallel()

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/find/tt0000001":
			fmt.Fprint(w, `{"movie_results":[{"id":42}],"tv_results":[]}`)
		case "/find/tt0000002":
			fmt.Fprint(w, `{"movie_results":[],"tv_results":[]}`)
		case "/movie/42":
			fmt.Fprint(w, `{"id":42,"title":"Found Film (API)","release_date":"2003-01-17","poster_path":"/found.jpg","genres":[{"id":1,"name":"Drama"}]}`)
		case "/movie/42/videos":
			fmt.Fprint(w, `{"results":[{"key":"abc","site":"YouTube","type":"Trailer"}]}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(api.Close)

	retry := crawler.NewExponentialRetryPolicy(crawler.RetryConfig{MaxAttempts: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond})
	client, err := tmdb.New(tmdb.Config{BaseURL: api.URL, APIKey: "k"}, api.Client(), retry, zap.NewNop())
	require.NoError(t, err)

	unit := crawler.WorkUnit{Year: 2003, Month: time.January}
	session := &listingSession{html: januaryListing}
	mem := sink.NewMemory()
	stats := &crawler.Stats{}
	now := time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)
	w := newTestWorker(t, Deps{
		Units:      queue.Populate(unit, unit, now),
		Browser:    fakeBrowser{session: session},
		Extractor:  listing.NewExtractor(listing.Config{}, zap.NewNop()),
		Dedup:      memory.New(),
		Enricher:   client,
		Normalizer: normalize.New(normalize.DefaultImageBase, fakeClock{now: now}, "run-e2e"),
		Sink:       mem,
		Stats:      stats,
	})

	require.NoError(t, w.Run(context.Background()))

	require.Len(t, session.navigated, 1)
	assert.Contains(t, session.navigated[0], "release_date=2003-01-01%2C2003-01-31")

	records := mem.Records()
	require.Len(t, records, 1)
	rec := records[0]
	assert.Equal(t, "tt0000001", rec.GlobalID)
	assert.Equal(t, int64(42), rec.TMDBID)
	assert.Equal(t, "Found Film (API)", rec.Title)
	assert.Equal(t, "2003", rec.Year)
	require.NotNil(t, rec.PosterURL)
	assert.Equal(t, normalize.DefaultImageBase+"/found.jpg", *rec.PosterURL)
	assert.Nil(t, rec.BackdropURL)
	require.NotNil(t, rec.IMDbVotes)
	assert.Equal(t, int64(1200), *rec.IMDbVotes)
	require.NotNil(t, rec.TrailerURL)
	assert.True(t, strings.HasSuffix(*rec.TrailerURL, "abc"))
	assert.Equal(t, []string{"Drama"}, rec.Genres)
	assert.Equal(t, "run-e2e", rec.RunID)
	assert.Equal(t, now, rec.ScrapedAt)

	summary := stats.Snapshot()
	assert.Equal(t, int64(2), summary.ItemsSeen)
	assert.Equal(t, int64(1), summary.EnrichAbsent)
	assert.Equal(t, int64(1), summary.RecordsEmitted)
}

// barrierEnricher holds every call until want calls are in flight at once.
type barrierEnricher struct {
	want     int32
	inFlight atomic.Int32
	once     sync.Once
	reached  chan struct{}
	timeout  time.Duration
}

func (e *barrierEnricher) Enrich(ctx context.Context, id string) (crawler.Metadata, bool) {
	if e.inFlight.Add(1) >= e.want {
		e.once.Do(func() { close(e.reached) })
	}
	select {
	case <-e.reached:
		return crawler.Metadata{ID: 1, Title: "Title " + id, MediaType: crawler.MediaMovie}, true
	case <-time.After(e.timeout):
		return crawler.Metadata{}, false
	case <-ctx.Done():
		return crawler.Metadata{}, false
	}
}

func TestWorkerEnrichesPageItemsConcurrently(t *testing.T) {
	t.Parallel()

	unit := crawler.WorkUnit{Year: 2003, Month: time.January}
	enricher := &barrierEnricher{want: 2, reached: make(chan struct{}), timeout: 2 * time.Second}
	mem := sink.NewMemory()
	stats := &crawler.Stats{}
	w := newTestWorker(t, Deps{
		Units:     queue.Populate(unit, unit, time.Now()),
		Browser:   fakeBrowser{session: &listingSession{html: januaryListing}},
		Extractor: listing.NewExtractor(listing.Config{}, zap.NewNop()),
		Dedup:     memory.New(),
		Enricher:  enricher,
		Sink:      mem,
		Stats:     stats,
	})

	done := make(chan error, 1)
	go func() { done <- w.Run(context.Background()) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("worker did not finish")
	}

	assert.Len(t, mem.Records(), 2, "both enrichments must be in flight together")
	assert.Equal(t, int64(0), stats.EnrichAbsent.Load())
}
