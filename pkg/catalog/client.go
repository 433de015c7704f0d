// Package catalog provides the SensCritique collection client: one GraphQL
// request per page, normalized items, classified errors.
package catalog

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

//go:embed query.graphql
var userCollectionQuery string

// OperationName is the GraphQL operation sent with every page request.
const OperationName = "UserCollection"

// CollectionOrder is the sort order requested from the API.
const CollectionOrder = "LAST_ACTION_DESC"

// ProxyHeader carries the real target URL when requests go through the relay.
const ProxyHeader = "X-Proxy-URL"

// Prometheus metrics for catalog requests.
var (
	catalogRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensboxd_catalog_requests_total",
		Help: "Total catalog page requests by HTTP status",
	}, []string{"status"})

	catalogRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "sensboxd_catalog_request_duration_seconds",
		Help:    "Catalog page request duration in seconds",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10},
	})

	catalogErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "sensboxd_catalog_errors_total",
		Help: "Total catalog errors by kind",
	}, []string{"kind"})

	catalogItemsDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "sensboxd_catalog_items_dropped_total",
		Help: "Raw products dropped during normalization (no universe or title)",
	})
)

// PageResult is one normalized page of a collection.
type PageResult struct {
	// Total is the collection size reported by the API.
	Total int

	// Items are the normalized products, in API order.
	Items []Item

	// RawCount is the number of products in the response before normalization.
	RawCount int

	// Dropped counts products without a universe or a usable title.
	Dropped int

	ViewerAvatarURL string
}

// Config holds the client configuration.
type Config struct {
	// Endpoint is the GraphQL API URL.
	Endpoint string

	// BaseURL prefixes product paths to build detail links.
	BaseURL string

	// ProxyURL, when set, routes every request through the CORS relay.
	// The real endpoint is sent in the X-Proxy-URL header.
	ProxyURL string

	UserAgent     string
	Authorization string

	// Timeout bounds a single page request.
	Timeout time.Duration

	// Query overrides the embedded query document.
	Query string
}

// DefaultConfig returns the production configuration.
func DefaultConfig() Config {
	return Config{
		Endpoint:      "https://apollo.senscritique.com/",
		BaseURL:       "https://senscritique.com",
		UserAgent:     "Mozilla/5.0 (Macintosh; Intel Mac OS X 10.15; rv:139.0) Gecko/20100101 Firefox/139.0",
		Authorization: "null",
		Timeout:       30 * time.Second,
	}
}

// Client fetches collection pages.
type Client struct {
	http   *resty.Client
	config Config
	logger zerolog.Logger
}

// New creates a new catalog client.
func New(cfg Config) (*Client, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("endpoint is required")
	}
	if cfg.UserAgent == "" {
		return nil, fmt.Errorf("user-agent is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Query == "" {
		cfg.Query = userCollectionQuery
	}

	return &Client{
		http:   newResty(resty.New(), cfg),
		config: cfg,
		logger: log.With().Str("component", "catalog-client").Logger(),
	}, nil
}

func newResty(rc *resty.Client, cfg Config) *resty.Client {
	return rc.
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "*/*").
		SetHeader("Content-Type", "application/json")
}

// SetHTTPClient swaps the underlying HTTP client (for testing).
func (c *Client) SetHTTPClient(hc *http.Client) {
	c.http = newResty(resty.NewWithClient(hc), c.config)
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.config
}

// FetchPage requests one page of username's collection. It never retries;
// every failure is returned as a classified *Error.
func (c *Client) FetchPage(ctx context.Context, username string, offset, limit int) (*PageResult, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, ErrInvalidUsername
	}
	if limit <= 0 || offset < 0 {
		return nil, fmt.Errorf("%w: offset=%d limit=%d", ErrInvalidRequest, offset, limit)
	}

	body, err := json.Marshal(c.buildRequest(username, offset, limit))
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	target := c.config.Endpoint
	req := c.http.R().
		SetContext(ctx).
		SetHeader("authorization", c.config.Authorization).
		SetBody(body)
	if c.config.ProxyURL != "" {
		req.SetHeader(ProxyHeader, c.config.Endpoint)
		target = c.config.ProxyURL
	}

	c.logger.Debug().
		Str("username", username).
		Int("offset", offset).
		Int("limit", limit).
		Bool("via_proxy", c.config.ProxyURL != "").
		Msg("Requesting collection page")

	start := time.Now()
	res, err := req.Post(target)
	catalogRequestDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		catalogRequestsTotal.WithLabelValues("network_error").Inc()
		return nil, c.fail(&Error{Kind: KindTransport, Err: err})
	}

	status := res.StatusCode()
	catalogRequestsTotal.WithLabelValues(strconv.Itoa(status)).Inc()
	if status == 0 {
		return nil, c.fail(&Error{Kind: KindTransport, Message: "empty response status"})
	}

	page, err := c.decode(status, res.Body())
	if err != nil {
		return nil, c.fail(err.(*Error))
	}

	c.logger.Debug().
		Int("offset", offset).
		Int("total", page.Total).
		Int("items", len(page.Items)).
		Int("dropped", page.Dropped).
		Msg("Collection page received")

	return page, nil
}

func (c *Client) buildRequest(username string, offset, limit int) graphqlRequest {
	return graphqlRequest{
		OperationName: OperationName,
		Query:         c.config.Query,
		Variables: map[string]any{
			"action":          nil,
			"categoryId":      nil,
			"gameSystemId":    nil,
			"genreId":         nil,
			"keywords":        nil,
			"limit":           limit,
			"offset":          offset,
			"order":           CollectionOrder,
			"universe":        nil,
			"username":        username,
			"yearDateDone":    nil,
			"yearDateRelease": nil,
		},
	}
}

// decode classifies a response body. It always returns a *Error on failure.
func (c *Client) decode(status int, body []byte) (*PageResult, error) {
	var resp graphqlResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		if status >= 300 {
			return nil, &Error{Kind: KindTransport, StatusCode: status, Message: http.StatusText(status)}
		}
		return nil, &Error{Kind: KindMalformed, StatusCode: status, Err: err}
	}

	if len(resp.Errors) > 0 {
		first := resp.Errors[0]
		return nil, &Error{
			Kind:       KindRemoteRejected,
			StatusCode: status,
			Message:    first.Message,
			Code:       first.Extensions.Code,
		}
	}

	if status >= 300 {
		return nil, &Error{Kind: KindTransport, StatusCode: status, Message: http.StatusText(status)}
	}

	if resp.Data == nil || len(resp.Data.User) == 0 {
		return nil, &Error{Kind: KindMalformed, StatusCode: status, Message: "missing data.user"}
	}
	if string(resp.Data.User) == "null" {
		return nil, &Error{Kind: KindProfileUnavailable, StatusCode: status}
	}

	var user rawUser
	if err := json.Unmarshal(resp.Data.User, &user); err != nil {
		return nil, &Error{Kind: KindMalformed, StatusCode: status, Err: err}
	}
	if user.Collection == nil {
		return nil, &Error{Kind: KindMalformed, StatusCode: status, Message: "missing user.collection"}
	}

	page := &PageResult{
		Total:           user.Collection.Total,
		RawCount:        len(user.Collection.Products),
		ViewerAvatarURL: user.Medias.Avatar,
		Items:           make([]Item, 0, len(user.Collection.Products)),
	}
	for _, raw := range user.Collection.Products {
		item, ok := normalizeProduct(raw, c.config.BaseURL)
		if !ok {
			page.Dropped++
			continue
		}
		page.Items = append(page.Items, item)
	}
	if page.Dropped > 0 {
		catalogItemsDropped.Add(float64(page.Dropped))
	}

	return page, nil
}

// fail records metrics and logs for a classified error.
func (c *Client) fail(e *Error) error {
	catalogErrorsTotal.WithLabelValues(string(e.Kind)).Inc()

	event := c.logger.Warn()
	if e.Kind == KindTransport {
		event = c.logger.Error()
	}
	event.
		Str("error_class", string(e.Kind)).
		Int("status", e.StatusCode).
		Str("code", e.Code).
		Err(e.Err).
		Msg("Catalog request failed")

	return e
}
