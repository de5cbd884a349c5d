package youtube

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Static errors for YouTube client operations.
var (
	// ErrAPIKeyRequired is returned when no Data API key is configured.
	ErrAPIKeyRequired = errors.New("youtube: API key is required")
	// ErrChannelNotFound is returned when a reference resolves to no channel.
	ErrChannelNotFound = errors.New("youtube: channel not found")
	// ErrNoUploads is returned when a channel has no public uploads.
	ErrNoUploads = errors.New("youtube: channel has no uploads")
	// ErrServerError is returned when the API returns a 5xx status code.
	ErrServerError = errors.New("youtube: server error")
	// ErrRateLimited is returned when the API returns a 429 status code.
	ErrRateLimited = errors.New("youtube: rate limited")
	// ErrRequestFailed is returned when the request fails with a non-2xx status code.
	ErrRequestFailed = errors.New("youtube: request failed")
)

// maxPageSize is the largest maxResults the Data API accepts.
const maxPageSize = 50

// Client resolves channels and lists uploads.
type Client interface {
	// ResolveChannel returns the canonical UC... ID for ref.
	ResolveChannel(ctx context.Context, ref Reference) (string, error)

	// ListUploads returns up to limit of the channel's most recent uploads,
	// newest first.
	ListUploads(ctx context.Context, channelID string, limit int) ([]Video, error)
}

// Compile-time check that HTTPClient implements Client.
var _ Client = (*HTTPClient)(nil)

// HTTPClient is the Data API v3 implementation of Client.
type HTTPClient struct {
	apiKey      string
	baseURL     string
	httpClient  *http.Client
	maxRetries  int
	baseBackoff time.Duration
}

// ClientOption is a function that configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(hc *HTTPClient) {
		hc.httpClient = c
	}
}

// WithBaseURL sets a custom base URL for the Data API.
func WithBaseURL(u string) ClientOption {
	return func(hc *HTTPClient) {
		if u != "" {
			hc.baseURL = strings.TrimRight(u, "/")
		}
	}
}

// WithMaxRetries sets the maximum number of retries for transient failures.
func WithMaxRetries(n int) ClientOption {
	return func(hc *HTTPClient) {
		hc.maxRetries = n
	}
}

// WithBaseBackoff sets the initial backoff duration for retries.
func WithBaseBackoff(d time.Duration) ClientOption {
	return func(hc *HTTPClient) {
		hc.baseBackoff = d
	}
}

// NewClient creates a new Data API client.
func NewClient(apiKey string, opts ...ClientOption) (*HTTPClient, error) {
	if apiKey == "" {
		return nil, ErrAPIKeyRequired
	}

	c := &HTTPClient{
		apiKey:      apiKey,
		baseURL:     "https://www.googleapis.com/youtube/v3",
		httpClient:  &http.Client{Timeout: 15 * time.Second},
		maxRetries:  3,
		baseBackoff: 500 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ResolveChannel returns the canonical channel ID for ref. Channel IDs are
// verified, handles and usernames are looked up directly, custom names go
// through search and videos resolve to their uploader.
func (c *HTTPClient) ResolveChannel(ctx context.Context, ref Reference) (string, error) {
	switch ref.Kind {
	case KindChannelID:
		return c.findChannel(ctx, url.Values{"id": {ref.Value}})
	case KindHandle:
		return c.findChannel(ctx, url.Values{"forHandle": {"@" + ref.Value}})
	case KindUsername:
		id, err := c.findChannel(ctx, url.Values{"forUsername": {ref.Value}})
		if errors.Is(err, ErrChannelNotFound) {
			// Many legacy /user/ names now live on as handles.
			return c.findChannel(ctx, url.Values{"forHandle": {"@" + ref.Value}})
		}
		return id, err
	case KindCustom:
		return c.searchChannel(ctx, ref.Value)
	case KindVideo:
		return c.videoChannel(ctx, ref.Value)
	default:
		return "", fmt.Errorf("%w: unknown kind %q", ErrInvalidReference, ref.Kind)
	}
}

// ListUploads pages through the channel's uploads playlist.
func (c *HTTPClient) ListUploads(ctx context.Context, channelID string, limit int) ([]Video, error) {
	if limit <= 0 {
		limit = maxPageSize
	}

	videos := make([]Video, 0, limit)
	pageToken := ""
	for len(videos) < limit {
		params := url.Values{
			"part":       {"snippet,contentDetails"},
			"playlistId": {UploadsPlaylistID(channelID)},
			"maxResults": {strconv.Itoa(min(limit-len(videos), maxPageSize))},
		}
		if pageToken != "" {
			params.Set("pageToken", pageToken)
		}

		var resp playlistItemListResponse
		if err := c.doRequestWithRetry(ctx, "playlistItems", params, &resp); err != nil {
			if errors.Is(err, errNotFound) {
				return nil, fmt.Errorf("%w: %s", ErrNoUploads, channelID)
			}
			return nil, err
		}

		for _, item := range resp.Items {
			if item.ContentDetails.VideoID == "" {
				continue
			}
			published, _ := time.Parse(time.RFC3339, item.ContentDetails.VideoPublishedAt)
			videos = append(videos, Video{
				ID:          item.ContentDetails.VideoID,
				Title:       item.Snippet.Title,
				PublishedAt: published,
			})
			if len(videos) == limit {
				break
			}
		}

		if resp.NextPageToken == "" || len(resp.Items) == 0 {
			break
		}
		pageToken = resp.NextPageToken
	}

	if len(videos) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoUploads, channelID)
	}
	return videos, nil
}

func (c *HTTPClient) findChannel(ctx context.Context, params url.Values) (string, error) {
	params.Set("part", "id")

	var resp channelListResponse
	if err := c.doRequestWithRetry(ctx, "channels", params, &resp); err != nil {
		return "", notFoundAsChannel(err)
	}
	if len(resp.Items) == 0 || resp.Items[0].ID == "" {
		return "", ErrChannelNotFound
	}
	return resp.Items[0].ID, nil
}

func (c *HTTPClient) searchChannel(ctx context.Context, name string) (string, error) {
	params := url.Values{
		"part":       {"snippet"},
		"type":       {"channel"},
		"q":          {name},
		"maxResults": {"1"},
	}

	var resp searchListResponse
	if err := c.doRequestWithRetry(ctx, "search", params, &resp); err != nil {
		return "", notFoundAsChannel(err)
	}
	if len(resp.Items) == 0 || resp.Items[0].ID.ChannelID == "" {
		return "", ErrChannelNotFound
	}
	return resp.Items[0].ID.ChannelID, nil
}

func (c *HTTPClient) videoChannel(ctx context.Context, videoID string) (string, error) {
	params := url.Values{
		"part": {"snippet"},
		"id":   {videoID},
	}

	var resp videoListResponse
	if err := c.doRequestWithRetry(ctx, "videos", params, &resp); err != nil {
		return "", notFoundAsChannel(err)
	}
	if len(resp.Items) == 0 || resp.Items[0].Snippet.ChannelID == "" {
		return "", ErrChannelNotFound
	}
	return resp.Items[0].Snippet.ChannelID, nil
}

// errNotFound marks a 404 from the API; callers translate it.
var errNotFound = errors.New("youtube: resource not found")

func notFoundAsChannel(err error) error {
	if errors.Is(err, errNotFound) {
		return fmt.Errorf("%w: %w", ErrChannelNotFound, err)
	}
	return err
}

// doRequestWithRetry performs a GET with exponential backoff retry.
func (c *HTTPClient) doRequestWithRetry(ctx context.Context, resource string, params url.Values, result any) error {
	var lastErr error
	backoff := c.baseBackoff

	for attempt := 0; attempt <= c.maxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return fmt.Errorf("youtube: context cancelled: %w", ctx.Err())
			case <-time.After(backoff):
				backoff *= 2
			}
		}

		err := c.doRequest(ctx, resource, params, result)
		if err == nil {
			return nil
		}
		if !isRetryable(err) || ctx.Err() != nil {
			return err
		}
		lastErr = err
	}

	return fmt.Errorf("youtube: max retries exceeded: %w", lastErr)
}

// doRequest performs a single GET against resource.
func (c *HTTPClient) doRequest(ctx context.Context, resource string, params url.Values, result any) error {
	query := url.Values{}
	for k, v := range params {
		query[k] = v
	}
	query.Set("key", c.apiKey)

	endpoint := c.baseURL + "/" + resource + "?" + query.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return fmt.Errorf("youtube: create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &retryableError{err: fmt.Errorf("youtube: %s request failed: %w", resource, err)}
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &retryableError{err: fmt.Errorf("youtube: read response: %w", err)}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := apiErrorMessage(respBody)
		switch {
		case resp.StatusCode >= 500:
			return &retryableError{err: fmt.Errorf("%w %d: %s", ErrServerError, resp.StatusCode, msg)}
		case resp.StatusCode == http.StatusTooManyRequests:
			return &retryableError{err: fmt.Errorf("%w: %s", ErrRateLimited, msg)}
		case resp.StatusCode == http.StatusNotFound:
			return fmt.Errorf("%w: %s", errNotFound, msg)
		default:
			return fmt.Errorf("%w with status %d: %s", ErrRequestFailed, resp.StatusCode, msg)
		}
	}

	if err := json.Unmarshal(respBody, result); err != nil {
		return fmt.Errorf("youtube: unmarshal %s response: %w", resource, err)
	}
	return nil
}

// apiErrorMessage extracts message and reason from an error body, falling
// back to the raw body.
func apiErrorMessage(body []byte) string {
	var env apiErrorResponse
	if err := json.Unmarshal(body, &env); err == nil && env.Error.Message != "" {
		if len(env.Error.Errors) > 0 && env.Error.Errors[0].Reason != "" {
			return env.Error.Message + " (" + env.Error.Errors[0].Reason + ")"
		}
		return env.Error.Message
	}
	return strings.TrimSpace(string(body))
}

// retryableError wraps errors that should be retried.
type retryableError struct {
	err error
}

func (e *retryableError) Error() string {
	return e.err.Error()
}

func (e *retryableError) Unwrap() error {
	return e.err
}

// isRetryable returns true if the error should be retried.
func isRetryable(err error) bool {
	var re *retryableError
	return errors.As(err, &re)
}
