package flickr

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/robinjoseph08/golib/logger"
	"github.com/virtualtourist/tourist/pkg/config"
	"github.com/virtualtourist/tourist/pkg/errcodes"
	"golang.org/x/time/rate"
)

const (
	searchMethod = "flickr.photos.search"

	// maxImageBytes bounds a single image download.
	maxImageBytes = 20 << 20
)

type Options struct {
	APIKey  string
	BaseURL string
	// RadiusKm is the search radius around the coordinate.
	RadiusKm float64
	// PerPage is the number of results per page (Flickr allows up to 500).
	PerPage int
	// RequestsPerSecond throttles search calls. Zero disables throttling.
	RequestsPerSecond float64
	Timeout           time.Duration
	HTTPClient        *http.Client
}

// Client talks to the Flickr REST API. It's safe for concurrent use.
type Client struct {
	apiKey   string
	baseURL  string
	radiusKm float64
	perPage  int
	http     *http.Client
	limiter  *rate.Limiter
}

func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: opts.Timeout}
	}

	var limiter *rate.Limiter
	if opts.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), 1)
	}

	return &Client{
		apiKey:   opts.APIKey,
		baseURL:  opts.BaseURL,
		radiusKm: opts.RadiusKm,
		perPage:  opts.PerPage,
		http:     httpClient,
		limiter:  limiter,
	}
}

func NewClientFromConfig(cfg *config.Config) *Client {
	return NewClient(Options{
		APIKey:            cfg.FlickrAPIKey,
		BaseURL:           cfg.FlickrBaseURL,
		RadiusKm:          cfg.SearchRadiusKm,
		PerPage:           cfg.SearchPageSize,
		RequestsPerSecond: cfg.FlickrRequestsPerSecond,
		Timeout:           cfg.FlickrTimeout,
	})
}

func (c *Client) searchURL(latitude, longitude float64, page int) (string, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return "", errors.WithStack(err)
	}

	q := u.Query()
	q.Set("method", searchMethod)
	q.Set("api_key", c.apiKey)
	q.Set("lat", strconv.FormatFloat(latitude, 'f', -1, 64))
	q.Set("lon", strconv.FormatFloat(longitude, 'f', -1, 64))
	q.Set("page", strconv.Itoa(page))
	q.Set("radius", strconv.FormatFloat(c.radiusKm, 'f', 3, 64))
	q.Set("radius_units", "km")
	q.Set("safe_search", "1")
	q.Set("extras", "url_m")
	q.Set("format", "json")
	q.Set("nojsoncallback", "1")
	q.Set("sort", "date-posted-desc")
	q.Set("per_page", strconv.Itoa(c.perPage))
	u.RawQuery = q.Encode()

	return u.String(), nil
}

// Search fetches one page of photos around the coordinate. Transport failures
// and non-2xx statuses are network errors; anything wrong with the payload,
// including a non-"ok" stat, is a protocol error.
func (c *Client) Search(ctx context.Context, latitude, longitude float64, page int) (*SearchResult, error) {
	log := logger.FromContext(ctx)

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.WithStack(err)
		}
	}

	searchURL, err := c.searchURL(latitude, longitude, page)
	if err != nil {
		return nil, err
	}

	body, err := c.get(ctx, searchURL, 0)
	if err != nil {
		return nil, err
	}

	result, err := parseSearchResponse(body)
	if err != nil {
		log.Warn("flickr search returned an unusable response", logger.Data{
			"latitude":  latitude,
			"longitude": longitude,
			"page":      page,
			"error":     err.Error(),
		})
		return nil, err
	}

	log.Debug("flickr search", logger.Data{
		"latitude":  latitude,
		"longitude": longitude,
		"page":      result.Page,
		"pages":     result.Pages,
		"photos":    len(result.Photos),
	})

	return result, nil
}

// DownloadImage fetches the raw bytes behind a photo URL.
func (c *Client) DownloadImage(ctx context.Context, imageURL string) ([]byte, error) {
	data, err := c.get(ctx, imageURL, maxImageBytes)
	if err != nil {
		return nil, err
	}

	logger.FromContext(ctx).Debug("downloaded image", logger.Data{
		"url":  imageURL,
		"size": humanize.Bytes(uint64(len(data))),
	})

	return data, nil
}

// get performs a GET and returns the body. limit caps the body size when
// positive.
func (c *Client) get(ctx context.Context, rawURL string, limit int64) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, errcodes.NetworkError(fmt.Sprintf("Invalid request URL: %v", err))
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.WithStack(ctx.Err())
		}
		return nil, errcodes.NetworkError(fmt.Sprintf("There was an error with your request: %v", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, errcodes.NetworkError(fmt.Sprintf("Your request returned a status code other than 2xx: %d", resp.StatusCode))
	}

	var reader io.Reader = resp.Body
	if limit > 0 {
		reader = io.LimitReader(resp.Body, limit+1)
	}
	data, err := io.ReadAll(reader)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.WithStack(ctx.Err())
		}
		return nil, errcodes.NetworkError(fmt.Sprintf("Failed to read the response body: %v", err))
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, errcodes.NetworkError(fmt.Sprintf("Response body is larger than %s", humanize.Bytes(uint64(limit))))
	}
	if len(data) == 0 {
		return nil, errcodes.NetworkError("No data was returned by the request")
	}

	return data, nil
}
