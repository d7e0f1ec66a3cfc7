// Package remote is the client of the remote catalog REST API: OAuth2
// password-grant authentication, paged listing of every resource and the
// locale list used by the filter compiler.
package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"

	"github.com/pimsync/runtime/internal/errhandling"
	"github.com/pimsync/runtime/internal/filter"
	"github.com/pimsync/runtime/internal/logger"
	"github.com/pimsync/runtime/pkg/catalog"
)

// Paths and defaults of the catalog API.
const (
	TokenPath = "/api/oauth/v1/token"
	APIPrefix = "/api/rest/v1/"

	DefaultPageSize = 100
	MaxPageSize     = 100
	DefaultTimeout  = 30 * time.Second
	DefaultMaxPages = 10000

	defaultUserAgent = "pimsync/1.0"
	maxErrorBody     = 500
)

// Resources listed by the client.
const (
	ResourceAttributes       = "attributes"
	ResourceFamilies         = "families"
	ResourceCategories       = "categories"
	ResourceAssociationTypes = "association-types"
	ResourceProductModels    = "product-models"
	ResourceProducts         = "products"
	ResourceLocales          = "locales"
)

// OptionsResource is the options resource of a select attribute.
func OptionsResource(attribute string) string {
	return ResourceAttributes + "/" + url.PathEscape(attribute) + "/options"
}

// ErrTooManyPages is returned when a listing does not end within MaxPages.
var ErrTooManyPages = errors.New("remote listing exceeded the page limit")

// Client reads the remote catalog.
type Client interface {
	// Locales lists every remote locale with its enabled flag.
	Locales(ctx context.Context) ([]filter.Locale, error)
	// Each pages through resource, narrowed by q when it is not empty, and
	// calls fn for every record in remote order.
	Each(ctx context.Context, resource string, q filter.Query, fn func(catalog.Record) error) error
}

// Config configures the HTTP client.
type Config struct {
	BaseURL      string
	ClientID     string
	ClientSecret string
	Username     string
	Password     string

	PageSize int
	MaxPages int
	Timeout  time.Duration
	// Retry applies to every page request. The zero value uses
	// errhandling.DefaultRetryConfig.
	Retry errhandling.RetryConfig

	// HTTPClient is the base client tokens and requests go through. Nil uses
	// a client with Timeout.
	HTTPClient *http.Client
}

// HTTPClient is the Client over the catalog REST API.
type HTTPClient struct {
	baseURL  string
	pageSize int
	maxPages int
	retry    errhandling.RetryConfig
	client   *http.Client
}

var _ Client = (*HTTPClient)(nil)

// New validates cfg and builds the client. No request is made until the
// first call.
func New(cfg Config) (*HTTPClient, error) {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		return nil, errors.New("remote base URL is required")
	}
	if _, err := url.ParseRequestURI(base); err != nil {
		return nil, fmt.Errorf("invalid remote base URL %q: %w", cfg.BaseURL, err)
	}
	if cfg.ClientID == "" || cfg.Username == "" {
		return nil, errors.New("remote clientId and username are required")
	}
	if cfg.Retry == (errhandling.RetryConfig{}) {
		cfg.Retry = errhandling.DefaultRetryConfig()
	}
	if err := cfg.Retry.Validate(); err != nil {
		return nil, fmt.Errorf("invalid retry configuration: %w", err)
	}

	pageSize := cfg.PageSize
	if pageSize <= 0 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	maxPages := cfg.MaxPages
	if maxPages <= 0 {
		maxPages = DefaultMaxPages
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}

	baseClient := cfg.HTTPClient
	if baseClient == nil {
		baseClient = &http.Client{Timeout: timeout}
	}

	conf := &oauth2.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		Endpoint: oauth2.Endpoint{
			TokenURL:  base + TokenPath,
			AuthStyle: oauth2.AuthStyleInHeader,
		},
	}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, baseClient)
	source := &passwordTokenSource{ctx: tokenCtx, conf: conf, username: cfg.Username, password: cfg.Password}

	client := oauth2.NewClient(tokenCtx, source)
	client.Timeout = timeout

	return &HTTPClient{
		baseURL:  base,
		pageSize: pageSize,
		maxPages: maxPages,
		retry:    cfg.Retry,
		client:   client,
	}, nil
}

// passwordTokenSource obtains a token with the password grant, refreshes it
// with the refresh token and falls back to the password grant when the
// refresh is refused.
type passwordTokenSource struct {
	ctx      context.Context
	conf     *oauth2.Config
	username string
	password string

	mu    sync.Mutex
	inner oauth2.TokenSource
}

func (s *passwordTokenSource) Token() (*oauth2.Token, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.inner != nil {
		tok, err := s.inner.Token()
		if err == nil {
			return tok, nil
		}
		logger.Debug("token refresh failed, requesting a new token", slog.String("error", err.Error()))
		s.inner = nil
	}

	tok, err := s.conf.PasswordCredentialsToken(s.ctx, s.username, s.password)
	if err != nil {
		return nil, err
	}
	s.inner = s.conf.TokenSource(s.ctx, tok)
	return tok, nil
}

// Locales lists every remote locale.
func (c *HTTPClient) Locales(ctx context.Context) ([]filter.Locale, error) {
	var locales []filter.Locale
	err := c.each(ctx, ResourceLocales, filter.Query{}, func(item map[string]interface{}) error {
		code, _ := item["code"].(string)
		enabled, _ := item["enabled"].(bool)
		locales = append(locales, filter.Locale{Code: code, Enabled: enabled})
		return nil
	})
	if err != nil {
		return nil, err
	}
	return locales, nil
}

// Each pages through resource and calls fn for every record.
func (c *HTTPClient) Each(ctx context.Context, resource string, q filter.Query, fn func(catalog.Record) error) error {
	return c.each(ctx, resource, q, func(item map[string]interface{}) error {
		return fn(ToRecord(item))
	})
}

// ToRecord builds a record from a remote item. The code is read from "code"
// and, for products, from "identifier".
func ToRecord(item map[string]interface{}) catalog.Record {
	code, _ := item["code"].(string)
	if code == "" {
		code, _ = item["identifier"].(string)
	}
	return catalog.Record{Code: code, Data: item}
}

type page struct {
	Links struct {
		Next struct {
			Href string `json:"href"`
		} `json:"next"`
	} `json:"_links"`
	Embedded struct {
		Items []map[string]interface{} `json:"items"`
	} `json:"_embedded"`
}

func (c *HTTPClient) firstPageURL(resource string, q filter.Query) (string, error) {
	params := url.Values{}
	params.Set("limit", strconv.Itoa(c.pageSize))
	if !q.IsEmpty() {
		search, err := q.Encode()
		if err != nil {
			return "", fmt.Errorf("encoding search query: %w", err)
		}
		params.Set("search", search)
	}
	return c.baseURL + APIPrefix + resource + "?" + params.Encode(), nil
}

func (c *HTTPClient) each(ctx context.Context, resource string, q filter.Query, fn func(map[string]interface{}) error) error {
	next, err := c.firstPageURL(resource, q)
	if err != nil {
		return err
	}

	start := time.Now()
	pages, items := 0, 0
	for next != "" {
		if pages >= c.maxPages {
			return fmt.Errorf("%w: %s after %d pages", ErrTooManyPages, resource, pages)
		}

		p, err := c.fetchPage(ctx, next)
		if err != nil {
			return fmt.Errorf("listing %s: %w", resource, err)
		}
		pages++

		for _, item := range p.Embedded.Items {
			if err := fn(item); err != nil {
				return err
			}
			items++
		}
		logger.Debug("remote page fetched",
			slog.String("resource", resource),
			slog.Int("page", pages),
			slog.Int("items", len(p.Embedded.Items)),
		)
		next = p.Links.Next.Href
	}

	logger.Debug("remote listing completed",
		slog.String("resource", resource),
		slog.Int("pages", pages),
		slog.Int("items", items),
		slog.Duration("duration", time.Since(start)),
	)
	return nil
}

func (c *HTTPClient) fetchPage(ctx context.Context, endpoint string) (page, error) {
	var p page
	executor := errhandling.NewRetryExecutor(c.retry)
	executor.OnRetry = func(attempt int, err error, delay time.Duration) {
		logger.Warn("remote request failed, retrying",
			slog.String("endpoint", endpoint),
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.String("error", err.Error()),
		)
	}

	err := executor.Execute(ctx, func(ctx context.Context) error {
		body, err := c.get(ctx, endpoint)
		if err != nil {
			return err
		}
		p = page{}
		if err := json.Unmarshal(body, &p); err != nil {
			return errhandling.NewValidationError(fmt.Sprintf("decoding page from %s", endpoint), err)
		}
		return nil
	})
	return p, err
}

func (c *HTTPClient) get(ctx context.Context, endpoint string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, errhandling.NewValidationError("creating request", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", defaultUserAgent)

	resp, err := c.client.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			status := 0
			if retrieveErr.Response != nil {
				status = retrieveErr.Response.StatusCode
			}
			return nil, errhandling.NewAuthenticationError(status, "token request refused", err)
		}
		return nil, errhandling.ClassifyNetworkError(err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.Warn("failed to close response body", slog.String("endpoint", endpoint), slog.String("error", closeErr.Error()))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errhandling.ClassifyNetworkError(err)
	}

	if resp.StatusCode >= 400 {
		snippet := string(body)
		if len(snippet) > maxErrorBody {
			snippet = snippet[:maxErrorBody] + "..."
		}
		logger.Debug("remote error response",
			slog.String("endpoint", endpoint),
			slog.Int("status_code", resp.StatusCode),
			slog.String("response_body", snippet),
		)
		return nil, &errhandling.HTTPError{
			StatusCode: resp.StatusCode,
			Status:     resp.Status,
			Endpoint:   endpoint,
			Body:       snippet,
		}
	}
	return body, nil
}
