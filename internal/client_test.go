package internal

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testAPIKey = "test-api-key"

type backendRequest struct {
	method string
	path   string
	query  string
	header http.Header
	body   []byte
}

// testBackend answers every request with status and body and records what it saw.
type testBackend struct {
	*httptest.Server

	mutex    sync.Mutex
	requests []backendRequest
	status   int
	body     string
}

func newTestBackend(t *testing.T, status int, body string) *testBackend {
	b := &testBackend{status: status, body: body}
	b.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		b.mutex.Lock()
		b.requests = append(b.requests, backendRequest{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			header: r.Header.Clone(),
			body:   data,
		})
		status, body := b.status, b.body
		b.mutex.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		io.WriteString(w, body)
	}))
	t.Cleanup(b.Close)
	return b
}

func (b *testBackend) Requests() []backendRequest {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	return append([]backendRequest(nil), b.requests...)
}

func testClient(t *testing.T, baseURL string, opts ...ClientOption) *Client {
	c, err := NewClient(Config{API_KEY: testAPIKey, BASE_URL: baseURL, TIMEOUT: time.Second}, opts...)
	require.Nil(t, err)
	return c
}

func failingTransport(err error) ClientOption {
	return WithHTTPClient(&http.Client{Transport: RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		return nil, err
	})})
}

func TestNewClient(t *testing.T) {
	t.Run("default-base", func(t *testing.T) {
		c, err := NewClient(Config{API_KEY: testAPIKey})
		require.Nil(t, err)
		creds, err := c.credentials()
		require.Nil(t, err)
		assert.Equal(t, "https://api.web2wave.com", creds.BaseURL.String())
		assert.Equal(t, defaultTimeout, c.httpClient.Timeout)
	})
	t.Run("invalid-base", func(t *testing.T) {
		for _, base := range []string{"api.web2wave.com", "/api", "http://[::1"} {
			_, err := NewClient(Config{API_KEY: testAPIKey, BASE_URL: base})
			assert.NotNil(t, err, base)
		}
	})
	t.Run("set-credentials", func(t *testing.T) {
		c, err := NewClient(Config{})
		require.Nil(t, err)
		assert.ErrorIs(t, c.SetCredentials(Credentials{APIKey: "  "}), ErrNotConfigured)
		require.Nil(t, c.SetCredentials(Credentials{APIKey: "k"}))
		creds, err := c.credentials()
		require.Nil(t, err)
		assert.Equal(t, "k", creds.APIKey)
		assert.Equal(t, "https://api.web2wave.com", creds.BaseURL.String())
	})
}

func TestClientRequests(t *testing.T) {
	b := newTestBackend(t, 200, `{"subscriptions":[]}`)
	c := testClient(t, b.URL+"/base/")
	ctx := context.Background()

	_, err := c.FetchSubscriptionStatus(ctx, "user 1&x")
	require.Nil(t, err)
	_, err = c.FetchUserProperties(ctx, "u2")
	require.Nil(t, err)
	_ = c.UpdateUserProperty(ctx, "u3", "email", "a@b.c")

	reqs := b.Requests()
	require.Len(t, reqs, 3)
	assert.Equal(t, "GET", reqs[0].method)
	assert.Equal(t, "/base/api/user/subscriptions", reqs[0].path)
	assert.Equal(t, "user=user%201%26x", reqs[0].query)
	assert.Equal(t, "GET", reqs[1].method)
	assert.Equal(t, "/base/api/user/properties", reqs[1].path)
	assert.Equal(t, "user=u2", reqs[1].query)
	assert.Equal(t, "POST", reqs[2].method)
	assert.Equal(t, "/base/api/user/properties", reqs[2].path)
	assert.Equal(t, "user=u3", reqs[2].query)
	assert.Equal(t, "application/json", reqs[2].header.Get("Content-Type"))
	assert.JSONEq(t, `{"property":"email","value":"a@b.c"}`, string(reqs[2].body))
	for _, r := range reqs {
		assert.Equal(t, testAPIKey, r.header.Get("api-key"))
		assert.Equal(t, "no-cache", r.header.Get("Cache-Control"))
		assert.Equal(t, "no-cache", r.header.Get("Pragma"))
		assert.Equal(t, "application/json", r.header.Get("Accept"))
		assert.Equal(t, defaultUserAgent, r.header.Get("User-Agent"))
	}
	assert.Empty(t, reqs[0].header.Get("Content-Type"))
}

func TestHasActiveSubscription(t *testing.T) {
	for _, tc := range []struct {
		name   string
		status int
		body   string
		active bool
	}{
		{"active", 200, `{"subscriptions":[{"status":"canceled"},{"status":"active"}]}`, true},
		{"trialing", 200, `{"subscriptions":[{"status":"trialing"}]}`, true},
		{"inactive", 200, `{"subscriptions":[{"status":"canceled"}]}`, false},
		{"empty", 200, `{"subscriptions":[]}`, false},
		{"missing", 200, `{}`, false},
		{"mistyped", 200, `{"subscriptions":{"status":"active"}}`, false},
		{"not-object", 200, `["active"]`, false},
		{"not-json", 200, `<html>`, false},
		{"error-status", 500, `{"error":"boom"}`, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBackend(t, tc.status, tc.body)
			active, err := testClient(t, b.URL).HasActiveSubscription(context.Background(), "u1")
			require.Nil(t, err)
			assert.Equal(t, tc.active, active)
		})
	}
	t.Run("transport", func(t *testing.T) {
		c := testClient(t, "http://backend.test", failingTransport(errors.New("dial tcp: refused")))
		active, err := c.HasActiveSubscription(context.Background(), "u1")
		require.Nil(t, err)
		assert.False(t, active)
	})
}

func TestFetchSubscriptions(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		b := newTestBackend(t, 200, `{"subscriptions":[{"status":"active","plan":"pro"},{"status":"canceled"}]}`)
		subs, err := testClient(t, b.URL).FetchSubscriptions(context.Background(), "u1")
		require.Nil(t, err)
		require.Len(t, subs, 2)
		assert.Equal(t, "active", subs[0].Status)
		assert.Equal(t, "pro", subs[0].Fields["plan"])
		assert.Equal(t, "canceled", subs[1].Status)
	})
	t.Run("missing", func(t *testing.T) {
		b := newTestBackend(t, 200, `{"user":"u1"}`)
		subs, err := testClient(t, b.URL).FetchSubscriptions(context.Background(), "u1")
		require.Nil(t, err)
		assert.Nil(t, subs)
	})
	t.Run("not-object", func(t *testing.T) {
		b := newTestBackend(t, 200, `"nope"`)
		c := testClient(t, b.URL)
		resp, err := c.FetchSubscriptionStatus(context.Background(), "u1")
		require.Nil(t, err)
		assert.Nil(t, resp)
		subs, err := c.FetchSubscriptions(context.Background(), "u1")
		require.Nil(t, err)
		assert.Nil(t, subs)
	})
	t.Run("transport", func(t *testing.T) {
		c := testClient(t, "http://backend.test", failingTransport(errors.New("tls: bad certificate")))
		resp, err := c.FetchSubscriptionStatus(context.Background(), "u1")
		require.Nil(t, err)
		assert.Nil(t, resp)
	})
}

func TestFetchUserProperties(t *testing.T) {
	for _, tc := range []struct {
		name  string
		body  string
		props map[string]string
	}{
		{"list", `{"properties":[{"property":"a","value":"1"},{"property":"b"},{"property":"a","value":"3"}]}`, map[string]string{"a": "3", "b": ""}},
		{"single", `{"property":{"property":"a","value":"1"}}`, map[string]string{"a": "1"}},
		{"bare", `{"property":"a","value":"1"}`, map[string]string{"a": "1"}},
		{"malformed", `{"foo":"bar"}`, map[string]string{}},
		{"not-json", `oops`, map[string]string{}},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBackend(t, 200, tc.body)
			props, err := testClient(t, b.URL).FetchUserProperties(context.Background(), "u1")
			require.Nil(t, err)
			assert.Equal(t, tc.props, props)
		})
	}
	t.Run("transport", func(t *testing.T) {
		c := testClient(t, "http://backend.test", failingTransport(errors.New("no such host")))
		props, err := c.FetchUserProperties(context.Background(), "u1")
		require.Nil(t, err)
		assert.Nil(t, props)
	})
}

func TestUpdateUserProperty(t *testing.T) {
	for _, tc := range []struct {
		name   string
		status int
		body   string
		kind   ErrorKind
	}{
		{"success", 200, `{"result":"1"}`, 0},
		{"rejected", 200, `{"result":"0"}`, KindMalformedResponse},
		{"boolean", 200, `{"result":true}`, KindMalformedResponse},
		{"missing", 200, `{}`, KindMalformedResponse},
		{"malformed", 200, `not json`, KindMalformedResponse},
		{"not-found", 404, `{"result":"1"}`, KindHTTP},
		{"server-error", 502, ``, KindHTTP},
	} {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBackend(t, tc.status, tc.body)
			err := testClient(t, b.URL).UpdateUserProperty(context.Background(), "u1", "email", "a@b.c")
			if tc.kind == 0 {
				assert.Nil(t, err)
				return
			}
			require.NotNil(t, err)
			assert.True(t, IsKind(err, tc.kind), err.Error())
			var ue *UpdateError
			require.True(t, errors.As(err, &ue))
			assert.Equal(t, tc.status, ue.Status)
			assert.NotErrorIs(t, err, ErrNotConfigured)
		})
	}
	t.Run("transport", func(t *testing.T) {
		cause := errors.New("connection reset")
		c := testClient(t, "http://backend.test", failingTransport(cause))
		err := c.UpdateUserProperty(context.Background(), "u1", "email", "a@b.c")
		assert.True(t, IsKind(err, KindTransport))
		assert.ErrorIs(t, err, cause)
		var ue *UpdateError
		require.True(t, errors.As(err, &ue))
		assert.True(t, ue.IsRetryable())
	})
	t.Run("invalid-request", func(t *testing.T) {
		b := newTestBackend(t, 200, `{"result":"1"}`)
		var ctx context.Context
		err := testClient(t, b.URL).UpdateUserProperty(ctx, "u1", "email", "a@b.c")
		assert.True(t, IsKind(err, KindInvalidRequest))
		assert.Empty(t, b.Requests())
	})
}

func TestProfileSetters(t *testing.T) {
	b := newTestBackend(t, 200, `{"result":"1"}`)
	c := testClient(t, b.URL)
	ctx := context.Background()
	require.Nil(t, c.SetRevenueCatProfileID(ctx, "u1", "rc"))
	require.Nil(t, c.SetAdaptyProfileID(ctx, "u1", "ad"))
	require.Nil(t, c.SetQonversionProfileID(ctx, "u1", "qo"))
	reqs := b.Requests()
	require.Len(t, reqs, 3)
	assert.JSONEq(t, `{"property":"revenuecat_profile_id","value":"rc"}`, string(reqs[0].body))
	assert.JSONEq(t, `{"property":"adapty_profile_id","value":"ad"}`, string(reqs[1].body))
	assert.JSONEq(t, `{"property":"qonversion_profile_id","value":"qo"}`, string(reqs[2].body))
}

func TestClientNotConfigured(t *testing.T) {
	var requests int
	c, err := NewClient(Config{}, WithHTTPClient(&http.Client{Transport: RoundTripperFunc(func(r *http.Request) (*http.Response, error) {
		requests++
		return nil, errors.New("unreachable")
	})}))
	require.Nil(t, err)
	ctx := context.Background()

	resp, err := c.FetchSubscriptionStatus(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Nil(t, resp)
	active, err := c.HasActiveSubscription(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.False(t, active)
	subs, err := c.FetchSubscriptions(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Nil(t, subs)
	props, err := c.FetchUserProperties(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotConfigured)
	assert.Nil(t, props)
	for _, update := range []func() error{
		func() error { return c.UpdateUserProperty(ctx, "u1", "a", "b") },
		func() error { return c.SetRevenueCatProfileID(ctx, "u1", "x") },
		func() error { return c.SetAdaptyProfileID(ctx, "u1", "x") },
		func() error { return c.SetQonversionProfileID(ctx, "u1", "x") },
	} {
		err := update()
		assert.ErrorIs(t, err, ErrNotConfigured)
		var ue *UpdateError
		assert.False(t, errors.As(err, &ue))
	}
	assert.Equal(t, 0, requests)

	var nilClient *Client
	_, err = nilClient.FetchUserProperties(ctx, "u1")
	assert.ErrorIs(t, err, ErrNotConfigured)
}

func TestClientStrict(t *testing.T) {
	c, err := NewClient(Config{DEBUG: true})
	require.Nil(t, err)
	assert.PanicsWithValue(t, ErrNotConfigured, func() {
		c.HasActiveSubscription(context.Background(), "u1")
	})
	assert.Panics(t, func() {
		c.UpdateUserProperty(context.Background(), "u1", "a", "b")
	})
}

func TestClientMetrics(t *testing.T) {
	clk := clock.NewMock()
	m := NewMetrics("", zerolog.Nop())
	b := newTestBackend(t, 200, `{"result":"1"}`)
	c := testClient(t, b.URL, WithMetrics(m), WithClock(clk), WithLogger(zerolog.Nop()))
	require.Nil(t, c.UpdateUserProperty(context.Background(), "u1", "a", "b"))
	b.mutex.Lock()
	b.status = 404
	b.mutex.Unlock()
	c.FetchUserProperties(context.Background(), "u1")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backend_requests_total.WithLabelValues("update_property", "200")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backend_requests_total.WithLabelValues("properties", "404")))

	f := testClient(t, "http://backend.test", WithMetrics(m), failingTransport(errors.New("refused")))
	f.FetchSubscriptionStatus(context.Background(), "u1")
	assert.Equal(t, 1.0, testutil.ToFloat64(m.backend_requests_total.WithLabelValues("subscriptions", "transport_error")))
	assert.Equal(t, 3, testutil.CollectAndCount(m.backend_request_seconds))
}

func TestClientConcurrentUpdates(t *testing.T) {
	b := newTestBackend(t, 200, `{"result":"1"}`)
	c := testClient(t, b.URL)
	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.Nil(t, c.UpdateUserProperty(context.Background(), "u1", "score", string(rune('0'+i))))
		}()
	}
	wg.Wait()
	assert.Len(t, b.Requests(), 8)
	var body updatePropertyRequest
	require.Nil(t, json.Unmarshal(b.Requests()[0].body, &body))
	assert.Equal(t, "score", body.Property)
}
