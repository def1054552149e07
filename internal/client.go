package internal

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/rs/zerolog"
	"github.com/yosida95/uritemplate"
)

const (
	defaultBaseURL   = "https://api.web2wave.com"
	defaultTimeout   = 10 * time.Second
	defaultUserAgent = "web2wave-go/1.0"

	PropertyRevenueCatProfileID = "revenuecat_profile_id"
	PropertyAdaptyProfileID     = "adapty_profile_id"
	PropertyQonversionProfileID = "qonversion_profile_id"
)

var (
	subscriptionsEndpoint = uritemplate.MustNew("/api/user/subscriptions{?user}")
	propertiesEndpoint    = uritemplate.MustNew("/api/user/properties{?user}")
)

// Credentials authenticate every backend request.
type Credentials struct {
	BaseURL *url.URL
	APIKey  string
}

// Client talks to the web2wave backend. Read operations degrade to empty
// results on transport or decoding failures; only UpdateUserProperty reports
// why it failed. Every operation returns ErrNotConfigured until credentials
// are set.
type Client struct {
	baseURL    *url.URL
	clock      clock.Clock
	creds      atomic.Pointer[Credentials]
	httpClient *http.Client
	log        zerolog.Logger
	metrics    *Metrics
	strict     bool
	userAgent  string
}

type ClientOption func(*Client)

func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) { c.httpClient = hc }
}

func WithLogger(log zerolog.Logger) ClientOption {
	return func(c *Client) { c.log = log.With().Str("component", "client").Logger() }
}

func WithMetrics(m *Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

func WithClock(clk clock.Clock) ClientOption {
	return func(c *Client) { c.clock = clk }
}

// NewClient builds a Client for cfg.BASE_URL. Credentials are installed when
// cfg.API_KEY is set; otherwise SetCredentials must be called before use.
func NewClient(cfg Config, opts ...ClientOption) (*Client, error) {
	base, err := parseBaseURL(cfg.BASE_URL)
	if err != nil {
		return nil, err
	}
	timeout := cfg.TIMEOUT
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := &Client{
		baseURL:    base,
		clock:      clock.New(),
		httpClient: &http.Client{Timeout: timeout},
		log:        zerolog.Nop(),
		strict:     cfg.DEBUG,
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	if cfg.API_KEY != "" {
		if err := c.SetCredentials(Credentials{BaseURL: base, APIKey: cfg.API_KEY}); err != nil {
			return nil, err
		}
	}
	return c, nil
}

// SetCredentials installs the credentials used by subsequent calls. A nil
// BaseURL keeps the client's configured base URL.
func (c *Client) SetCredentials(creds Credentials) error {
	if c == nil {
		return fmt.Errorf("client is nil")
	}
	if strings.TrimSpace(creds.APIKey) == "" {
		return fmt.Errorf("set credentials: %w", ErrNotConfigured)
	}
	if creds.BaseURL == nil {
		creds.BaseURL = c.baseURL
	}
	c.creds.Store(&creds)
	return nil
}

func (c *Client) credentials() (*Credentials, error) {
	if c == nil {
		return nil, ErrNotConfigured
	}
	creds := c.creds.Load()
	if creds == nil {
		if c.strict {
			panic(ErrNotConfigured)
		}
		c.log.Error().Msg("You have to initialize the api key before use")
		return nil, ErrNotConfigured
	}
	return creds, nil
}

// FetchSubscriptionStatus returns the subscription envelope for userID, or
// nil when the request fails or the body is not a JSON object.
func (c *Client) FetchSubscriptionStatus(ctx context.Context, userID string) (*SubscriptionStatusResponse, error) {
	creds, err := c.credentials()
	if err != nil {
		return nil, err
	}
	log := c.log.With().Str("op", "subscriptions").Str("user_id", userID).Logger()
	req, err := c.newRequest(ctx, creds, http.MethodGet, subscriptionsEndpoint, userID, nil)
	if err != nil {
		log.Error().Err(err).Msg("Invalid subscription request")
		return nil, nil
	}
	status, body, err := c.do(req, "subscriptions")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch subscription status")
		return nil, nil
	}
	var resp SubscriptionStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		log.Warn().Err(err).Int("status", status).Msg("Failed to parse subscription response")
		return nil, nil
	}
	if resp.Subscriptions == nil {
		log.Debug().Int("status", status).Msg("Subscription list missing from response")
	}
	return &resp, nil
}

// HasActiveSubscription reports whether userID has an active or trialing
// subscription. Any failure reads as no access.
func (c *Client) HasActiveSubscription(ctx context.Context, userID string) (bool, error) {
	resp, err := c.FetchSubscriptionStatus(ctx, userID)
	if err != nil {
		return false, err
	}
	return resp.HasActive(), nil
}

// FetchSubscriptions returns the subscription list for userID, or nil when
// the fetch failed or the response carried no list.
func (c *Client) FetchSubscriptions(ctx context.Context, userID string) ([]Subscription, error) {
	resp, err := c.FetchSubscriptionStatus(ctx, userID)
	if err != nil || resp == nil {
		return nil, err
	}
	return resp.Subscriptions, nil
}

// FetchUserProperties returns the properties of userID keyed by name. The
// result is nil only when the request itself failed; an unrecognized body
// yields an empty map.
func (c *Client) FetchUserProperties(ctx context.Context, userID string) (map[string]string, error) {
	creds, err := c.credentials()
	if err != nil {
		return nil, err
	}
	log := c.log.With().Str("op", "properties").Str("user_id", userID).Logger()
	req, err := c.newRequest(ctx, creds, http.MethodGet, propertiesEndpoint, userID, nil)
	if err != nil {
		log.Error().Err(err).Msg("Invalid properties request")
		return nil, nil
	}
	status, body, err := c.do(req, "properties")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to fetch properties")
		return nil, nil
	}
	props := DecodeProperties(body)
	if len(props) == 0 {
		log.Debug().Int("status", status).Msg("No properties decoded from response")
	}
	return NormalizeProperties(props), nil
}

type updatePropertyRequest struct {
	Property string `json:"property"`
	Value    string `json:"value"`
}

// UpdateUserProperty sets property to value for userID. It returns nil only
// when the backend answered 200 with result "1"; otherwise the error is an
// *UpdateError, or ErrNotConfigured.
func (c *Client) UpdateUserProperty(ctx context.Context, userID, property, value string) error {
	creds, err := c.credentials()
	if err != nil {
		return err
	}
	log := c.log.With().Str("op", "update_property").Str("user_id", userID).Str("property", property).Logger()
	payload, err := json.Marshal(updatePropertyRequest{Property: property, Value: value})
	if err != nil {
		return &UpdateError{Kind: KindInvalidRequest, Err: fmt.Errorf("encode body: %w", err)}
	}
	req, err := c.newRequest(ctx, creds, http.MethodPost, propertiesEndpoint, userID, bytes.NewReader(payload))
	if err != nil {
		log.Error().Err(err).Msg("Invalid update request")
		return &UpdateError{Kind: KindInvalidRequest, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	status, body, err := c.do(req, "update_property")
	if err != nil {
		log.Warn().Err(err).Msg("Failed to update property")
		return &UpdateError{Kind: KindTransport, Err: err}
	}
	if status != http.StatusOK {
		log.Warn().Int("status", status).Msg("Unexpected status code")
		return &UpdateError{Kind: KindHTTP, Status: status}
	}
	var res updateResult
	if err := json.Unmarshal(body, &res); err != nil {
		log.Warn().Err(err).Msg("Failed to parse update response")
		return &UpdateError{Kind: KindMalformedResponse, Status: status, Err: fmt.Errorf("decode response: %w", err)}
	}
	if !res.ok() {
		log.Warn().Msg("Update rejected")
		return &UpdateError{Kind: KindMalformedResponse, Status: status, Err: errors.New("result is not 1")}
	}
	return nil
}

func (c *Client) SetRevenueCatProfileID(ctx context.Context, appUserID, revenueCatProfileID string) error {
	return c.UpdateUserProperty(ctx, appUserID, PropertyRevenueCatProfileID, revenueCatProfileID)
}

func (c *Client) SetAdaptyProfileID(ctx context.Context, appUserID, adaptyProfileID string) error {
	return c.UpdateUserProperty(ctx, appUserID, PropertyAdaptyProfileID, adaptyProfileID)
}

func (c *Client) SetQonversionProfileID(ctx context.Context, appUserID, qonversionProfileID string) error {
	return c.UpdateUserProperty(ctx, appUserID, PropertyQonversionProfileID, qonversionProfileID)
}

func (c *Client) newRequest(ctx context.Context, creds *Credentials, method string, endpoint *uritemplate.Template, userID string, body io.Reader) (*http.Request, error) {
	expanded, err := endpoint.Expand(uritemplate.Values{"user": uritemplate.String(userID)})
	if err != nil {
		return nil, fmt.Errorf("expand endpoint: %w", err)
	}
	rel, err := url.Parse(expanded)
	if err != nil {
		return nil, fmt.Errorf("parse endpoint: %w", err)
	}
	u := *creds.BaseURL
	u.Path = strings.TrimSuffix(u.Path, "/") + rel.Path
	u.RawPath = ""
	u.RawQuery = rel.RawQuery
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("api-key", creds.APIKey)
	req.Header.Set("Cache-Control", "no-cache")
	req.Header.Set("Pragma", "no-cache")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", c.userAgent)
	return req, nil
}

func (c *Client) do(req *http.Request, op string) (status int, body []byte, err error) {
	start := c.clock.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.metrics.Request(op, "transport_error", c.clock.Since(start))
		return 0, nil, fmt.Errorf("execute request: %w", err)
	}
	defer resp.Body.Close()
	body, err = io.ReadAll(resp.Body)
	if err != nil {
		c.metrics.Request(op, "transport_error", c.clock.Since(start))
		return resp.StatusCode, nil, fmt.Errorf("read response: %w", err)
	}
	c.metrics.Request(op, strconv.Itoa(resp.StatusCode), c.clock.Since(start))
	return resp.StatusCode, body, nil
}

func parseBaseURL(raw string) (*url.URL, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		trimmed = defaultBaseURL
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, fmt.Errorf("parse base url %q: %w", raw, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("parse base url %q: scheme and host required", raw)
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u, nil
}
