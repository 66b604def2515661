package photosync

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/uptrace/bun"
	"github.com/virtualtourist/tourist/pkg/events"
	"github.com/virtualtourist/tourist/pkg/flickr"
	"github.com/virtualtourist/tourist/pkg/models"
	"github.com/virtualtourist/tourist/pkg/photos"
	"github.com/virtualtourist/tourist/pkg/pins"
	"golang.org/x/sync/singleflight"
)

// RemoteClient is the remote photo service. *flickr.Client satisfies it.
type RemoteClient interface {
	Search(ctx context.Context, latitude, longitude float64, page int) (*flickr.SearchResult, error)
	DownloadImage(ctx context.Context, url string) ([]byte, error)
}

type Options struct {
	// ImageCacheTTL is how long downloaded bytes stay in memory after a
	// download.
	ImageCacheTTL time.Duration
}

// Synchronizer keeps the locally cached photo set of each pin in step with
// the remote service. At most one fetch per pin runs at a time; concurrent
// callers for the same pin share its outcome.
type Synchronizer struct {
	pinService   *pins.Service
	photoService *photos.Service
	remote       RemoteClient
	hub          *events.Hub

	fetches   singleflight.Group
	downloads singleflight.Group

	mu      sync.Mutex
	flights map[string]*flight

	// fetching maps a pin key to the id of its running attempt. Every other
	// state is derived from the store.
	fetching *cache.Cache
	images   *cache.Cache
}

// flight counts the callers waiting on a pin's shared attempt. The attempt
// runs detached from any single caller and is canceled when the last one
// leaves.
type flight struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
}

func New(db *bun.DB, remote RemoteClient, hub *events.Hub, opts Options) *Synchronizer {
	ttl := opts.ImageCacheTTL
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}

	return &Synchronizer{
		pinService:   pins.NewService(db),
		photoService: photos.NewService(db),
		remote:       remote,
		hub:          hub,
		flights:      map[string]*flight{},
		fetching:     cache.New(cache.NoExpiration, 0),
		images:       cache.New(ttl, 2*ttl),
	}
}

// CurrentState reports the state of the pin, including fetching while an
// attempt is running.
func (s *Synchronizer) CurrentState(ctx context.Context, pinID int) (State, error) {
	pin, cached, err := s.load(ctx, pinID)
	if err != nil {
		return "", err
	}
	if _, ok := s.fetching.Get(stateKey(pin.ID)); ok {
		return StateFetching, nil
	}
	return stateOf(pin, len(cached)), nil
}

// LoadPhotos returns the cached photos of a pin when there are any. Otherwise
// it fetches the next remote page. The returned error is reserved for
// failures that prevent any answer (unknown pin, the caller's context ending);
// fetch failures are reported through Result.Err.
func (s *Synchronizer) LoadPhotos(ctx context.Context, pinID int) (*Result, error) {
	pin, cached, err := s.load(ctx, pinID)
	if err != nil {
		return nil, err
	}

	if len(cached) > 0 {
		return &Result{State: StateHasCachedData, Pin: pin, Photos: cached}, nil
	}

	return s.fetch(ctx, pin.ID, false)
}

// NewCollection discards the pin's photos and replaces them with the next
// remote page, whatever state the pin is in.
func (s *Synchronizer) NewCollection(ctx context.Context, pinID int) (*Result, error) {
	if _, _, err := s.load(ctx, pinID); err != nil {
		return nil, err
	}

	return s.fetch(ctx, pinID, true)
}

func (s *Synchronizer) load(ctx context.Context, pinID int) (*models.Pin, []*models.Photo, error) {
	pin, err := s.pinService.RetrievePin(ctx, pins.RetrievePinOptions{ID: &pinID})
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}

	cached, err := s.photoService.ListPhotosForPin(ctx, pin.ID)
	if err != nil {
		return nil, nil, errors.WithStack(err)
	}

	return pin, cached, nil
}

// fetch joins the running attempt for the pin or starts one.
func (s *Synchronizer) fetch(ctx context.Context, pinID int, refresh bool) (*Result, error) {
	key := stateKey(pinID)
	f := s.join(ctx, key)
	defer s.leave(key, f)

	ch := s.fetches.DoChan(key, func() (interface{}, error) {
		return s.run(f.ctx, pinID, refresh)
	})

	select {
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Result), nil
	}
}

func (s *Synchronizer) join(ctx context.Context, key string) *flight {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, ok := s.flights[key]
	if !ok {
		fctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
		f = &flight{ctx: fctx, cancel: cancel}
		s.flights[key] = f
	}
	f.waiters++
	return f
}

func (s *Synchronizer) leave(key string, f *flight) {
	s.mu.Lock()
	defer s.mu.Unlock()

	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if s.flights[key] == f {
		delete(s.flights, key)
		// Callers arriving after this point start a fresh attempt instead of
		// joining the canceled one.
		s.fetches.Forget(key)
	}
}

// run reads the pin and its photos inside the shared attempt, so the cursor
// and prior state reflect any fetch that committed just before it.
func (s *Synchronizer) run(ctx context.Context, pinID int, refresh bool) (*Result, error) {
	pin, cached, err := s.load(ctx, pinID)
	if err != nil {
		return nil, err
	}

	if !refresh {
		if len(cached) > 0 {
			return &Result{State: StateHasCachedData, Pin: pin, Photos: cached}, nil
		}
		return s.attempt(ctx, pin, StateNoData), nil
	}

	return s.attempt(ctx, pin, stateOf(pin, len(cached))), nil
}

func (s *Synchronizer) markFetching(key, attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fetching.SetDefault(key, attemptID)
}

func (s *Synchronizer) clearFetching(key, attemptID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.fetching.Get(key); ok && v.(string) == attemptID {
		s.fetching.Delete(key)
	}
}

func (s *Synchronizer) attempt(ctx context.Context, pin *models.Pin, prior State) *Result {
	attemptID := uuid.NewString()
	page := NextPage(pin.Page, pin.NumberOfPages)

	log := logger.FromContext(ctx).ID(attemptID).Root(logger.Data{
		"pin_id": pin.ID,
		"page":   page,
	})
	ctx = log.WithContext(ctx)

	key := stateKey(pin.ID)
	s.markFetching(key, attemptID)
	defer s.clearFetching(key, attemptID)

	s.hub.Publish(events.TopicPhotosFetching, events.Data{
		"pin_id":     pin.ID,
		"attempt_id": attemptID,
		"page":       page,
	})

	fail := func(err error) *Result {
		log.Err(err).Warn("photo fetch failed")
		s.hub.Publish(events.TopicPhotosFailed, events.Data{
			"pin_id":     pin.ID,
			"attempt_id": attemptID,
			"state":      prior,
			"message":    err.Error(),
		})
		return &Result{State: prior, Pin: pin, Err: err}
	}

	log.Info("fetching photos")
	found, err := s.remote.Search(ctx, pin.Latitude, pin.Longitude, page)
	if err != nil {
		return fail(err)
	}
	if err := ctx.Err(); err != nil {
		return fail(errors.WithStack(err))
	}

	updated := *pin
	stored, err := s.photoService.ReplacePhotosForPin(ctx, &updated, found.Photos, photos.ReplacePhotosOptions{
		Cursor: &photos.Cursor{Page: found.Page, NumberOfPages: found.Pages},
	})
	if err != nil {
		return fail(err)
	}

	state := StateHasCachedData
	topic := events.TopicPhotosSynced
	if len(stored) == 0 {
		state = StateEmpty
		topic = events.TopicPhotosEmpty
	}

	log.Info("photos synced", logger.Data{
		"count":           len(stored),
		"remote_page":     found.Page,
		"number_of_pages": found.Pages,
	})
	s.hub.Publish(topic, events.Data{
		"pin_id":          pin.ID,
		"attempt_id":      attemptID,
		"count":           len(stored),
		"page":            found.Page,
		"number_of_pages": found.Pages,
	})

	return &Result{State: state, Pin: &updated, Photos: stored}
}

// FetchImage returns the photo with its image bytes, downloading and
// attaching them the first time they're asked for.
func (s *Synchronizer) FetchImage(ctx context.Context, photoID int) (*models.Photo, error) {
	photo, err := s.photoService.RetrievePhoto(ctx, photos.RetrievePhotoOptions{ID: &photoID, WithImage: true})
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if photo.HasImage() {
		return photo, nil
	}

	key := imageKey(photoID)
	ch := s.downloads.DoChan(key, func() (interface{}, error) {
		if data, ok := s.images.Get(key); ok {
			return data, nil
		}
		data, err := s.remote.DownloadImage(ctx, photo.URL)
		if err != nil {
			return nil, err
		}
		s.images.SetDefault(key, data)
		return data, nil
	})

	var data []byte
	select {
	case <-ctx.Done():
		return nil, errors.WithStack(ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		data = res.Val.([]byte)
	}

	if err := s.photoService.AttachImageBytes(ctx, photo, data); err != nil {
		return nil, errors.WithStack(err)
	}
	// Bytes stay cached until they're attached, so a failed attach doesn't
	// download again.
	s.images.Delete(key)

	logger.FromContext(ctx).Info("image attached", logger.Data{
		"photo_id": photo.ID,
		"size":     humanize.Bytes(uint64(len(data))),
	})
	s.hub.Publish(events.TopicPhotosCached, events.Data{
		"pin_id":   photo.PinID,
		"photo_id": photo.ID,
		"bytes":    len(data),
	})

	return photo, nil
}

func stateKey(pinID int) string {
	return strconv.Itoa(pinID)
}

func imageKey(photoID int) string {
	return "image:" + strconv.Itoa(photoID)
}
