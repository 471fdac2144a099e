package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"go-wallhaven-download/internal/models"

	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// Custom Error Types
var (
	ErrTransport         = errors.New("API transport error")
	ErrHttpStatus        = errors.New("API returned unexpected HTTP status")
	ErrRateLimited       = errors.New("API rate limit exceeded")
	ErrUnauthorized      = errors.New("API request unauthorized (check API key)")
	ErrNotFound          = errors.New("API resource not found")
	ErrServerError       = errors.New("API server error")
	ErrMalformedResponse = errors.New("malformed API response")
)

const WallhavenApiBaseUrl = "https://wallhaven.cc/api/v1"

// Client struct for interacting with the wallhaven API
type Client struct {
	ApiKey     string
	BaseURL    string
	HttpClient *http.Client
	limiter    *rate.Limiter
}

// NewClient creates a new API client. A positive cfg.APIRequestsPerMinute
// paces outgoing requests; pacing only waits and never retries.
func NewClient(apiKey string, httpClient *http.Client, cfg models.Config) *Client {
	if httpClient == nil {
		timeout := 30 * time.Second
		if cfg.APIClientTimeoutSec > 0 {
			timeout = time.Duration(cfg.APIClientTimeoutSec) * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	baseURL := cfg.APIBaseURL
	if baseURL == "" {
		baseURL = WallhavenApiBaseUrl
	}

	c := &Client{
		ApiKey:     apiKey,
		BaseURL:    baseURL,
		HttpClient: httpClient,
	}
	if cfg.APIRequestsPerMinute > 0 {
		c.limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.APIRequestsPerMinute)), 1)
	}
	log.Debugf("NewClient: base %s, pacing %d req/min", baseURL, cfg.APIRequestsPerMinute)
	return c
}

// Search fetches one page of search results.
func (c *Client) Search(ctx context.Context, params models.SearchParams) (models.SearchResponse, error) {
	if params.APIKey == "" {
		params.APIKey = c.ApiKey
	}
	reqURL := c.SearchURL(params)

	var envelope struct {
		Data *[]models.Wallpaper `json:"data"`
		Meta *models.Meta        `json:"meta"`
	}
	if err := c.getJSON(ctx, reqURL, &envelope); err != nil {
		return models.SearchResponse{}, err
	}
	if envelope.Data == nil || envelope.Meta == nil {
		return models.SearchResponse{}, fmt.Errorf("%w: search response is missing data or meta", ErrMalformedResponse)
	}

	return models.SearchResponse{Data: *envelope.Data, Meta: *envelope.Meta}, nil
}

// Wallpaper fetches the details of a single wallpaper, including its tags.
func (c *Client) Wallpaper(ctx context.Context, id string) (models.Wallpaper, error) {
	reqURL := fmt.Sprintf("%s/w/%s", c.BaseURL, url.PathEscape(id))
	if c.ApiKey != "" {
		reqURL += "?" + url.Values{"apikey": {c.ApiKey}}.Encode()
	}

	var envelope struct {
		Data *models.Wallpaper `json:"data"`
	}
	if err := c.getJSON(ctx, reqURL, &envelope); err != nil {
		return models.Wallpaper{}, err
	}
	if envelope.Data == nil {
		return models.Wallpaper{}, fmt.Errorf("%w: wallpaper response for %s is missing data", ErrMalformedResponse, id)
	}
	return *envelope.Data, nil
}

// SearchURL builds the full search URL for params.
func (c *Client) SearchURL(params models.SearchParams) string {
	return fmt.Sprintf("%s/search?%s", c.BaseURL, ConvertSearchParamsToURLValues(params).Encode())
}

// ConvertSearchParamsToURLValues converts SearchParams into url.Values
// suitable for wallhaven API requests.
func ConvertSearchParamsToURLValues(params models.SearchParams) url.Values {
	values := url.Values{}
	if params.APIKey != "" {
		values.Add("apikey", params.APIKey)
	}
	values.Add("purity", params.Purity)
	values.Add("categories", params.Categories)
	page := params.Page
	if page < 1 {
		page = 1
	}
	values.Add("page", strconv.Itoa(page))
	if params.AtLeast != "" {
		values.Add("atleast", params.AtLeast)
	}
	if params.Query != "" {
		values.Add("q", params.Query)
	}
	return values
}

// IsRetryable reports whether a later attempt of the same request could
// succeed. The client itself never retries.
func IsRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	return errors.Is(err, ErrTransport) || errors.Is(err, ErrRateLimited) || errors.Is(err, ErrServerError)
}

func (c *Client) getJSON(ctx context.Context, reqURL string, out interface{}) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("%w: waiting for rate limiter: %w", ErrTransport, err)
		}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		log.WithError(err).Errorf("Error creating request for %s", reqURL)
		return fmt.Errorf("%w: error creating request: %w", ErrTransport, err)
	}
	req.Header.Set("Accept", "application/json")
	if c.ApiKey != "" {
		req.Header.Set("X-API-Key", c.ApiKey)
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		var uerr *url.Error
		if errors.As(err, &uerr) {
			uerr.URL = redact(uerr.URL)
		}
		return fmt.Errorf("%w: http request failed: %w", ErrTransport, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, resp.Body)
		return statusError(resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.WithError(err).Error("Error reading response body")
		return fmt.Errorf("%w: error reading response body: %w", ErrTransport, err)
	}

	if err := json.Unmarshal(body, out); err != nil {
		log.WithError(err).Errorf("Error unmarshalling response JSON")
		log.Debugf("Response body causing unmarshal error: %s", string(body))
		return fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return nil
}

func statusError(code int) error {
	switch {
	case code == http.StatusTooManyRequests:
		return fmt.Errorf("%w: %w (status code %d)", ErrHttpStatus, ErrRateLimited, code)
	case code == http.StatusUnauthorized || code == http.StatusForbidden:
		return fmt.Errorf("%w: %w (status code %d)", ErrHttpStatus, ErrUnauthorized, code)
	case code == http.StatusNotFound:
		return fmt.Errorf("%w: %w (status code %d)", ErrHttpStatus, ErrNotFound, code)
	case code >= 500:
		return fmt.Errorf("%w: %w (status code %d)", ErrHttpStatus, ErrServerError, code)
	default:
		return fmt.Errorf("%w (status code %d)", ErrHttpStatus, code)
	}
}
