// Package rxnav looks up NDC product attributes in the NLM RxNav REST API.
package rxnav

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/giygas/ndc-report/entities"
	"github.com/giygas/ndc-report/interfaces"
	"github.com/giygas/ndc-report/logging"
	"github.com/juju/ratelimit"
)

const (
	DefaultBaseURL = "https://rxnav.nlm.nih.gov/REST"
	DefaultTimeout = 10 * time.Second
	// DefaultRate stays well under the 20 requests per second NLM allows
	DefaultRate = 10.0

	maxResponseSize = 1 << 20
)

var (
	// ErrNoData means the service does not know the code
	ErrNoData = errors.New("no product data for NDC")
	// ErrMalformedResponse means the body could not be decoded
	ErrMalformedResponse = errors.New("malformed RxNav response")
)

// StatusError is returned for non-2xx responses
type StatusError struct {
	Code int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rxnav returned status %d", e.Code)
}

var _ interfaces.CodeLookup = (*Client)(nil)

// Client performs paced lookups against ndcstatus.json
type Client struct {
	baseURL    string
	httpClient *http.Client
	timeout    time.Duration
	bucket     *ratelimit.Bucket
}

// Option customises a Client
type Option func(*Client)

func WithBaseURL(base string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(base, "/")
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithRate sets the sustained requests per second, 0 disables pacing
func WithRate(perSecond float64) Option {
	return func(c *Client) {
		if perSecond <= 0 {
			c.bucket = nil
			return
		}
		c.bucket = ratelimit.NewBucketWithRate(perSecond, max(1, int64(perSecond)))
	}
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.httpClient = hc
	}
}

func NewClient(opts ...Option) *Client {
	c := &Client{
		baseURL:    DefaultBaseURL,
		httpClient: &http.Client{},
		timeout:    DefaultTimeout,
		bucket:     ratelimit.NewBucketWithRate(DefaultRate, int64(DefaultRate)),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// ndcStatusResponse mirrors the parts of ndcstatus.json we read
type ndcStatusResponse struct {
	NDCStatus *struct {
		NDCTime []struct {
			ConceptProperties []struct {
				Name     string `json:"name"`
				DoseForm string `json:"doseForm"`
				Strength string `json:"strength"`
			} `json:"conceptProperties"`
		} `json:"ndcTime"`
	} `json:"ndcStatus"`
}

// Lookup fetches name, dose form and strength of the most recent concept for ndc
func (c *Client) Lookup(ctx context.Context, ndc entities.CanonicalNDC) (entities.CacheEntry, error) {
	if !ndc.Present() {
		return entities.CacheEntry{}, fmt.Errorf("lookup of absent NDC: %w", ErrNoData)
	}

	if err := c.wait(ctx); err != nil {
		return entities.CacheEntry{}, err
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	endpoint := c.baseURL + "/ndcstatus.json?" + url.Values{"ndc": {string(ndc)}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return entities.CacheEntry{}, fmt.Errorf("failed to build request for %s: %w", ndc, err)
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	response, err := c.httpClient.Do(req)
	if err != nil {
		return entities.CacheEntry{}, fmt.Errorf("failed to query rxnav for %s: %w", ndc, err)
	}
	defer func() {
		if err := response.Body.Close(); err != nil {
			logging.Warn("Failed to close response body", "error", err)
		}
	}()

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return entities.CacheEntry{}, fmt.Errorf("lookup %s: %w", ndc, &StatusError{Code: response.StatusCode})
	}

	body, err := io.ReadAll(io.LimitReader(response.Body, maxResponseSize))
	if err != nil {
		return entities.CacheEntry{}, fmt.Errorf("failed to read rxnav response for %s: %w", ndc, err)
	}

	entry, err := decodeStatus(body)
	if err != nil {
		return entities.CacheEntry{}, fmt.Errorf("lookup %s: %w", ndc, err)
	}
	entry.FetchedAt = time.Now().UTC()

	logging.Debug("RxNav lookup", "ndc", ndc, "duration", time.Since(start), "dose_form", entry.DosageForm)
	return entry, nil
}

func decodeStatus(body []byte) (entities.CacheEntry, error) {
	var payload ndcStatusResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return entities.CacheEntry{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}

	if payload.NDCStatus == nil || len(payload.NDCStatus.NDCTime) == 0 {
		return entities.CacheEntry{}, ErrNoData
	}
	// first ndcTime entry is the most recent
	concepts := payload.NDCStatus.NDCTime[0].ConceptProperties
	if len(concepts) == 0 {
		return entities.CacheEntry{}, ErrNoData
	}

	concept := concepts[0]
	entry := entities.CacheEntry{
		Name:       strings.TrimSpace(concept.Name),
		DosageForm: strings.TrimSpace(concept.DoseForm),
		Strength:   strings.TrimSpace(concept.Strength),
	}
	if entry.Name == "" && entry.DosageForm == "" && entry.Strength == "" {
		return entities.CacheEntry{}, ErrNoData
	}
	return entry, nil
}

// wait blocks until the bucket grants a request or ctx is done
func (c *Client) wait(ctx context.Context) error {
	if c.bucket == nil {
		return nil
	}
	d := c.bucket.Take(1)
	if d <= 0 {
		return nil
	}

	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("waiting for rxnav rate limit: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
