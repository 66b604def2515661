package photosync

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/uptrace/bun"
	"github.com/virtualtourist/tourist/pkg/config"
	"github.com/virtualtourist/tourist/pkg/database"
	"github.com/virtualtourist/tourist/pkg/errcodes"
	"github.com/virtualtourist/tourist/pkg/events"
	"github.com/virtualtourist/tourist/pkg/flickr"
	"github.com/virtualtourist/tourist/pkg/migrations"
	"github.com/virtualtourist/tourist/pkg/models"
	"github.com/virtualtourist/tourist/pkg/photos"
	"github.com/virtualtourist/tourist/pkg/pins"
)

var jpegBytes = []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00, 0x01}

func setupTestDB(t *testing.T) *bun.DB {
	t.Helper()

	db, err := database.New(config.NewForTest())
	require.NoError(t, err)

	_, err = migrations.BringUpToDate(context.Background(), db)
	require.NoError(t, err)

	t.Cleanup(func() {
		db.Close()
	})

	return db
}

// fakeFlickr serves the search endpoint and images the way Flickr does.
type fakeFlickr struct {
	server *httptest.Server

	mu       sync.Mutex
	searches []url.Values
	respond  func(page int) string

	imageHits atomic.Int32
}

func newFakeFlickr(t *testing.T, respond func(page int) string) *fakeFlickr {
	t.Helper()

	f := &fakeFlickr{respond: respond}
	mux := http.NewServeMux()
	mux.HandleFunc("/services/rest", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.searches = append(f.searches, r.URL.Query())
		respond := f.respond
		f.mu.Unlock()

		page, _ := strconv.Atoi(r.URL.Query().Get("page"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(respond(page)))
	})
	mux.HandleFunc("/images/", func(w http.ResponseWriter, _ *http.Request) {
		f.imageHits.Add(1)
		_, _ = w.Write(jpegBytes)
	})
	f.server = httptest.NewServer(mux)
	t.Cleanup(f.server.Close)

	return f
}

func (f *fakeFlickr) client() *flickr.Client {
	return flickr.NewClient(flickr.Options{
		APIKey:   "test-api-key",
		BaseURL:  f.server.URL + "/services/rest",
		RadiusKm: 0.3,
		PerPage:  100,
		Timeout:  5 * time.Second,
	})
}

func (f *fakeFlickr) setResponse(respond func(page int) string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.respond = respond
}

func (f *fakeFlickr) searchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.searches)
}

func (f *fakeFlickr) lastSearch() url.Values {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.searches[len(f.searches)-1]
}

// okResponse is a successful search page with n photos.
func (f *fakeFlickr) okResponse(n, page, pages int) string {
	items := make([]string, 0, n)
	for i := 0; i < n; i++ {
		items = append(items, fmt.Sprintf(`{"id":"p%d-%d","title":"photo %d","url_m":"%s/images/p%d-%d.jpg"}`, page, i, i, f.server.URL, page, i))
	}
	return fmt.Sprintf(`{"photos":{"page":%d,"pages":%d,"perpage":100,"total":"%d","photo":[%s]},"stat":"ok"}`,
		page, pages, n, strings.Join(items, ","))
}

const failResponse = `{"stat":"fail","code":100,"message":"Invalid API Key (Key has invalid format)"}`

type testEnv struct {
	db           *bun.DB
	flickr       *fakeFlickr
	hub          *events.Hub
	synchronizer *Synchronizer
	pinService   *pins.Service
	photoService *photos.Service
}

func newTestEnv(t *testing.T, respond func(page int) string) *testEnv {
	t.Helper()

	db := setupTestDB(t)
	f := newFakeFlickr(t, respond)
	hub := events.NewHub()
	t.Cleanup(hub.Close)

	return &testEnv{
		db:           db,
		flickr:       f,
		hub:          hub,
		synchronizer: New(db, f.client(), hub, Options{ImageCacheTTL: time.Minute}),
		pinService:   pins.NewService(db),
		photoService: photos.NewService(db),
	}
}

func (env *testEnv) createPin(t *testing.T, latitude, longitude float64) *models.Pin {
	t.Helper()
	pin, err := env.pinService.CreatePin(context.Background(), latitude, longitude)
	require.NoError(t, err)
	return pin
}

func (env *testEnv) retrievePin(t *testing.T, id int) *models.Pin {
	t.Helper()
	pin, err := env.pinService.RetrievePin(context.Background(), pins.RetrievePinOptions{ID: &id})
	require.NoError(t, err)
	return pin
}

func receive(t *testing.T, sub events.Subscription) events.Message {
	t.Helper()
	select {
	case msg := <-sub.Receiver:
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for an event")
		return events.Message{}
	}
}

func TestNextPage(t *testing.T) {
	t.Parallel()

	cases := []struct {
		page, pages, next int
	}{
		{0, 0, 1},
		{0, 5, 1},
		{3, 0, 1},
		{1, 3, 2},
		{1, 5, 2},
		// Wraps to page 0 rather than 1 when the cursor reaches the last
		// page but one.
		{2, 3, 0},
		{4, 5, 0},
		{5, 5, 1},
	}

	for _, tc := range cases {
		assert.Equal(t, tc.next, NextPage(tc.page, tc.pages), "NextPage(%d, %d)", tc.page, tc.pages)
	}
}

func TestLoadPhotos_FetchesWhenNothingCached(t *testing.T) {
	t.Parallel()
	var env *testEnv
	env = newTestEnv(t, func(page int) string { return env.flickr.okResponse(3, page, 5) })
	ctx := context.Background()

	sub := env.hub.Subscribe()
	defer env.hub.Unsubscribe(sub)

	pin := env.createPin(t, 53.3441, -6.2675)

	res, err := env.synchronizer.LoadPhotos(ctx, pin.ID)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Message())
	assert.Equal(t, StateHasCachedData, res.State)
	require.Len(t, res.Photos, 3)
	assert.Equal(t, "p1-0", res.Photos[0].RemoteID)
	assert.Equal(t, 1, res.Pin.Page)
	assert.Equal(t, 5, res.Pin.NumberOfPages)

	query := env.flickr.lastSearch()
	assert.Equal(t, "1", query.Get("page"))
	assert.Equal(t, "53.3441", query.Get("lat"))
	assert.Equal(t, "-6.2675", query.Get("lon"))

	stored := env.retrievePin(t, pin.ID)
	assert.Equal(t, 1, stored.Page)
	assert.Equal(t, 5, stored.NumberOfPages)

	listed, err := env.photoService.ListPhotosForPin(ctx, pin.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 3)

	assert.Equal(t, events.TopicPhotosFetching, receive(t, sub).Name)
	synced := receive(t, sub)
	assert.Equal(t, events.TopicPhotosSynced, synced.Name)
	assert.Equal(t, 3, synced.Fields["count"])

	t.Run("second load is served from the cache", func(t *testing.T) {
		res, err := env.synchronizer.LoadPhotos(ctx, pin.ID)
		require.NoError(t, err)
		assert.Equal(t, StateHasCachedData, res.State)
		assert.Len(t, res.Photos, 3)
		assert.Equal(t, 1, env.flickr.searchCount())
	})

	t.Run("current state", func(t *testing.T) {
		state, err := env.synchronizer.CurrentState(ctx, pin.ID)
		require.NoError(t, err)
		assert.Equal(t, StateHasCachedData, state)
	})
}

func TestLoadPhotos_RemoteFailureLeavesEverythingAsItWas(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(int) string { return failResponse })
	ctx := context.Background()

	sub := env.hub.Subscribe(events.TopicPhotosFailed)
	defer env.hub.Unsubscribe(sub)

	pin := env.createPin(t, 53.3441, -6.2675)

	res, err := env.synchronizer.LoadPhotos(ctx, pin.ID)
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.Equal(t, StateNoData, res.State)
	assert.NotEmpty(t, res.Message())
	assert.Contains(t, res.Message(), "Invalid API Key")
	assert.True(t, errcodes.HasCode(res.Err, errcodes.CodeProtocolError))
	assert.Empty(t, res.Photos)

	stored := env.retrievePin(t, pin.ID)
	assert.Zero(t, stored.Page)
	assert.Zero(t, stored.NumberOfPages)

	listed, err := env.photoService.ListPhotosForPin(ctx, pin.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)

	failed := receive(t, sub)
	assert.Equal(t, StateNoData, failed.Fields["state"])

	state, err := env.synchronizer.CurrentState(ctx, pin.ID)
	require.NoError(t, err)
	assert.Equal(t, StateNoData, state)
}

func TestNewCollection_FailureKeepsCachedPhotos(t *testing.T) {
	t.Parallel()
	var env *testEnv
	env = newTestEnv(t, func(page int) string { return env.flickr.okResponse(2, page, 4) })
	ctx := context.Background()
	pin := env.createPin(t, 40.7128, -74.006)

	res, err := env.synchronizer.LoadPhotos(ctx, pin.ID)
	require.NoError(t, err)
	require.True(t, res.OK())
	before := res.Photos

	env.flickr.setResponse(func(int) string { return `{"photos":` })

	res, err = env.synchronizer.NewCollection(ctx, pin.ID)
	require.NoError(t, err)
	require.False(t, res.OK())
	assert.Equal(t, StateHasCachedData, res.State)
	assert.NotEmpty(t, res.Message())

	stored := env.retrievePin(t, pin.ID)
	assert.Equal(t, 1, stored.Page)
	assert.Equal(t, 4, stored.NumberOfPages)

	listed, err := env.photoService.ListPhotosForPin(ctx, pin.ID)
	require.NoError(t, err)
	require.Len(t, listed, len(before))
	assert.Equal(t, before[0].ID, listed[0].ID)
}

func TestLoadPhotos_NoRemotePhotos(t *testing.T) {
	t.Parallel()
	var env *testEnv
	env = newTestEnv(t, func(page int) string { return env.flickr.okResponse(0, page, 0) })
	ctx := context.Background()

	sub := env.hub.Subscribe(events.TopicPhotosEmpty)
	defer env.hub.Unsubscribe(sub)

	pin := env.createPin(t, -77.8463, 166.6682)

	res, err := env.synchronizer.LoadPhotos(ctx, pin.ID)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Message())
	assert.Equal(t, StateEmpty, res.State)
	assert.Empty(t, res.Photos)

	assert.Equal(t, events.TopicPhotosEmpty, receive(t, sub).Name)

	stored := env.retrievePin(t, pin.ID)
	assert.Equal(t, 1, stored.Page)
	assert.Zero(t, stored.NumberOfPages)

	state, err := env.synchronizer.CurrentState(ctx, pin.ID)
	require.NoError(t, err)
	assert.Equal(t, StateEmpty, state)

	t.Run("a fresh synchronizer derives empty from the store", func(t *testing.T) {
		fresh := New(env.db, env.flickr.client(), env.hub, Options{})

		state, err := fresh.CurrentState(ctx, pin.ID)
		require.NoError(t, err)
		assert.Equal(t, StateEmpty, state)

		env.flickr.setResponse(func(int) string { return failResponse })
		res, err := fresh.NewCollection(ctx, pin.ID)
		require.NoError(t, err)
		require.False(t, res.OK())
		assert.Equal(t, StateEmpty, res.State)
	})
}

func TestCurrentState_FollowsTheStore(t *testing.T) {
	t.Parallel()
	var env *testEnv
	env = newTestEnv(t, func(page int) string { return env.flickr.okResponse(2, page, 5) })
	ctx := context.Background()
	pin := env.createPin(t, 51.5074, -0.1278)

	res, err := env.synchronizer.LoadPhotos(ctx, pin.ID)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Message())

	state, err := env.synchronizer.CurrentState(ctx, pin.ID)
	require.NoError(t, err)
	assert.Equal(t, StateHasCachedData, state)

	for _, p := range res.Photos {
		require.NoError(t, env.photoService.DeletePhoto(ctx, p.ID))
	}
	state, err = env.synchronizer.CurrentState(ctx, pin.ID)
	require.NoError(t, err)
	assert.Equal(t, StateEmpty, state)

	require.NoError(t, env.pinService.DeletePin(ctx, pin.ID))
	_, err = env.synchronizer.CurrentState(ctx, pin.ID)
	assert.ErrorIs(t, err, errcodes.NotFound("Pin"))
}

func TestFetch_ReadsThePinInsideTheAttempt(t *testing.T) {
	t.Parallel()
	var env *testEnv
	env = newTestEnv(t, func(page int) string { return env.flickr.okResponse(1, page, 3) })
	ctx := context.Background()
	stale := env.createPin(t, 41.9028, 12.4964)

	// Another fetch commits after the caller read the pin.
	committed := *stale
	_, err := env.photoService.ReplacePhotosForPin(ctx, &committed, []flickr.Photo{
		{ID: "x", URL: env.flickr.server.URL + "/images/x.jpg"},
	}, photos.ReplacePhotosOptions{Cursor: &photos.Cursor{Page: 1, NumberOfPages: 3}})
	require.NoError(t, err)

	res, err := env.synchronizer.fetch(ctx, stale.ID, false)
	require.NoError(t, err)
	assert.Equal(t, StateHasCachedData, res.State)
	require.Len(t, res.Photos, 1)
	assert.Equal(t, "x", res.Photos[0].RemoteID)
	assert.Zero(t, env.flickr.searchCount())

	res, err = env.synchronizer.fetch(ctx, stale.ID, true)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Message())
	assert.Equal(t, "2", env.flickr.lastSearch().Get("page"))
}

func TestNewCollection_AdvancesThePage(t *testing.T) {
	t.Parallel()
	var env *testEnv
	env = newTestEnv(t, func(page int) string { return env.flickr.okResponse(2, page, 3) })
	ctx := context.Background()
	pin := env.createPin(t, 48.8566, 2.3522)

	res, err := env.synchronizer.LoadPhotos(ctx, pin.ID)
	require.NoError(t, err)
	require.True(t, res.OK())
	first := res.Photos

	res, err = env.synchronizer.NewCollection(ctx, pin.ID)
	require.NoError(t, err)
	require.True(t, res.OK(), res.Message())
	assert.Equal(t, "2", env.flickr.lastSearch().Get("page"))
	assert.Equal(t, 2, res.Pin.Page)
	assert.Equal(t, "p2-0", res.Photos[0].RemoteID)

	listed, err := env.photoService.ListPhotosForPin(ctx, pin.ID)
	require.NoError(t, err)
	require.Len(t, listed, 2)
	for _, p := range listed {
		assert.NotEqual(t, first[0].ID, p.ID, "the previous set should be gone")
	}

	t.Run("wraps to page 0 after the last page but one", func(t *testing.T) {
		_, err := env.synchronizer.NewCollection(ctx, pin.ID)
		require.NoError(t, err)
		assert.Equal(t, "0", env.flickr.lastSearch().Get("page"))
	})
}

func TestLoadPhotos_UnknownPin(t *testing.T) {
	t.Parallel()
	env := newTestEnv(t, func(int) string { return failResponse })

	_, err := env.synchronizer.LoadPhotos(context.Background(), 9999)
	assert.ErrorIs(t, err, errcodes.NotFound("Pin"))
	assert.Zero(t, env.flickr.searchCount())
}

// blockingRemote holds every search until released.
type blockingRemote struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
	result  *flickr.SearchResult
}

func newBlockingRemote(result *flickr.SearchResult) *blockingRemote {
	return &blockingRemote{
		started: make(chan struct{}, 16),
		release: make(chan struct{}),
		result:  result,
	}
}

func (r *blockingRemote) Search(ctx context.Context, _, _ float64, _ int) (*flickr.SearchResult, error) {
	r.calls.Add(1)
	r.started <- struct{}{}
	select {
	case <-r.release:
		return r.result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *blockingRemote) DownloadImage(_ context.Context, _ string) ([]byte, error) {
	return jpegBytes, nil
}

func newBlockingSynchronizer(t *testing.T, remote RemoteClient) (*Synchronizer, *bun.DB) {
	t.Helper()
	db := setupTestDB(t)
	// The hub stays open: an abandoned attempt may still publish after the
	// test returns.
	return New(db, remote, events.NewHub(), Options{}), db
}

func TestNewCollection_OneFetchPerPin(t *testing.T) {
	t.Parallel()
	remote := newBlockingRemote(&flickr.SearchResult{
		Stat:   "ok",
		Page:   1,
		Pages:  2,
		Photos: []flickr.Photo{{ID: "a", URL: "https://example.com/a.jpg"}},
	})
	synchronizer, db := newBlockingSynchronizer(t, remote)
	ctx := context.Background()

	pin, err := pins.NewService(db).CreatePin(ctx, 1, 1)
	require.NoError(t, err)

	const callers = 5
	results := make([]*Result, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			res, err := synchronizer.NewCollection(ctx, pin.ID)
			assert.NoError(t, err)
			results[i] = res
		}(i)
	}

	<-remote.started
	state, err := synchronizer.CurrentState(ctx, pin.ID)
	require.NoError(t, err)
	assert.Equal(t, StateFetching, state)

	// Give the other callers time to join the running fetch.
	time.Sleep(100 * time.Millisecond)
	close(remote.release)
	wg.Wait()

	assert.Equal(t, int32(1), remote.calls.Load())
	for _, res := range results {
		require.NotNil(t, res)
		assert.Equal(t, StateHasCachedData, res.State)
		assert.Len(t, res.Photos, 1)
	}

	listed, err := photos.NewService(db).ListPhotosForPin(ctx, pin.ID)
	require.NoError(t, err)
	assert.Len(t, listed, 1)
}

func cancellationFixture(t *testing.T) (*Synchronizer, *blockingRemote, *bun.DB, *models.Pin) {
	t.Helper()
	remote := newBlockingRemote(&flickr.SearchResult{
		Stat:   "ok",
		Page:   1,
		Pages:  1,
		Photos: []flickr.Photo{{ID: "a", URL: "https://example.com/a.jpg"}},
	})
	synchronizer, db := newBlockingSynchronizer(t, remote)
	pin, err := pins.NewService(db).CreatePin(context.Background(), 1, 1)
	require.NoError(t, err)
	return synchronizer, remote, db, pin
}

func TestLoadPhotos_CanceledBeforeCommit(t *testing.T) {
	t.Parallel()
	synchronizer, remote, db, pin := cancellationFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() {
		_, err := synchronizer.LoadPhotos(ctx, pin.ID)
		errc <- err
	}()

	<-remote.started
	cancel()

	err := <-errc
	assert.ErrorIs(t, err, context.Canceled)

	stored, err := pins.NewService(db).RetrievePin(context.Background(), pins.RetrievePinOptions{ID: &pin.ID})
	require.NoError(t, err)
	assert.Zero(t, stored.Page)

	listed, err := photos.NewService(db).ListPhotosForPin(context.Background(), pin.ID)
	require.NoError(t, err)
	assert.Empty(t, listed)

	t.Run("the next caller starts a new attempt", func(t *testing.T) {
		close(remote.release)
		res, err := synchronizer.LoadPhotos(context.Background(), pin.ID)
		require.NoError(t, err)
		require.True(t, res.OK(), res.Message())
		assert.Equal(t, StateHasCachedData, res.State)
		assert.Equal(t, int32(2), remote.calls.Load())
	})
}

func TestLoadPhotos_StarterLeavesWhileOthersWait(t *testing.T) {
	t.Parallel()
	synchronizer, remote, _, pin := cancellationFixture(t)

	ctx, cancel := context.WithCancel(context.Background())
	starter := make(chan error, 1)
	go func() {
		_, err := synchronizer.LoadPhotos(ctx, pin.ID)
		starter <- err
	}()
	<-remote.started

	joined := make(chan *Result, 1)
	go func() {
		res, err := synchronizer.LoadPhotos(context.Background(), pin.ID)
		assert.NoError(t, err)
		joined <- res
	}()

	// Give the second caller time to join the running fetch.
	time.Sleep(100 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-starter, context.Canceled)

	close(remote.release)
	res := <-joined
	require.NotNil(t, res)
	require.True(t, res.OK(), res.Message())
	assert.Equal(t, StateHasCachedData, res.State)
	assert.Len(t, res.Photos, 1)
	assert.Equal(t, int32(1), remote.calls.Load())
}

func TestLoadPhotos_WaiterGivesUp(t *testing.T) {
	t.Parallel()
	synchronizer, remote, _, pin := cancellationFixture(t)

	leader := make(chan *Result, 1)
	go func() {
		res, err := synchronizer.LoadPhotos(context.Background(), pin.ID)
		assert.NoError(t, err)
		leader <- res
	}()
	<-remote.started

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := synchronizer.LoadPhotos(ctx, pin.ID)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	close(remote.release)
	res := <-leader
	require.NotNil(t, res)
	require.True(t, res.OK(), res.Message())
	assert.Equal(t, StateHasCachedData, res.State)
	assert.Equal(t, int32(1), remote.calls.Load())
}

func TestFetchImage(t *testing.T) {
	t.Parallel()
	var env *testEnv
	env = newTestEnv(t, func(page int) string { return env.flickr.okResponse(1, page, 1) })
	ctx := context.Background()

	sub := env.hub.Subscribe(events.TopicPhotosCached)
	defer env.hub.Unsubscribe(sub)

	pin := env.createPin(t, 35.6762, 139.6503)
	res, err := env.synchronizer.LoadPhotos(ctx, pin.ID)
	require.NoError(t, err)
	require.Len(t, res.Photos, 1)
	photoID := res.Photos[0].ID

	photo, err := env.synchronizer.FetchImage(ctx, photoID)
	require.NoError(t, err)
	assert.Equal(t, jpegBytes, photo.ImageData)
	require.NotNil(t, photo.ContentType)
	assert.Equal(t, "image/jpeg", *photo.ContentType)
	assert.Equal(t, int32(1), env.flickr.imageHits.Load())

	cached := receive(t, sub)
	assert.Equal(t, photoID, cached.Fields["photo_id"])

	photo, err = env.synchronizer.FetchImage(ctx, photoID)
	require.NoError(t, err)
	assert.Equal(t, jpegBytes, photo.ImageData)
	assert.Equal(t, int32(1), env.flickr.imageHits.Load(), "attached bytes are served from the store")

	_, err = env.synchronizer.FetchImage(ctx, 9999)
	assert.ErrorIs(t, err, errcodes.NotFound("Photo"))
}
