package internal

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSubscriptionActive(t *testing.T) {
	for status, active := range map[string]bool{
		"active":   true,
		"trialing": true,
		"canceled": false,
		"past_due": false,
		"Active":   false,
		"":         false,
	} {
		assert.Equal(t, active, Subscription{Status: status}.Active(), status)
	}
}

func TestSubscriptionStatusResponse(t *testing.T) {
	for _, tc := range []struct {
		name   string
		body   string
		count  int
		isNil  bool
		active bool
	}{
		{"active", `{"subscriptions":[{"status":"canceled"},{"status":"active"}]}`, 2, false, true},
		{"trialing", `{"subscriptions":[{"status":"trialing"}]}`, 1, false, true},
		{"inactive", `{"subscriptions":[{"status":"canceled"},{"status":"expired"}]}`, 2, false, false},
		{"empty", `{"subscriptions":[]}`, 0, false, false},
		{"missing", `{"user":"u1"}`, 0, true, false},
		{"mistyped", `{"subscriptions":"active"}`, 0, true, false},
		{"null", `{"subscriptions":null}`, 0, true, false},
		{"elements", `{"subscriptions":["active"]}`, 0, true, false},
		{"null-element", `{"subscriptions":[null]}`, 0, true, false},
		{"no-status", `{"subscriptions":[{"plan":"pro"}]}`, 1, false, false},
		{"status-mistyped", `{"subscriptions":[{"status":1}]}`, 1, false, false},
		{"singular", `{"subscription":[{"status":"active"}]}`, 1, false, true},
		{"plural-first", `{"subscriptions":[],"subscription":[{"status":"active"}]}`, 0, false, false},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var resp SubscriptionStatusResponse
			require.Nil(t, json.Unmarshal([]byte(tc.body), &resp))
			assert.Equal(t, tc.isNil, resp.Subscriptions == nil)
			assert.Len(t, resp.Subscriptions, tc.count)
			assert.Equal(t, tc.active, resp.HasActive())
		})
	}
	t.Run("not-object", func(t *testing.T) {
		for _, body := range []string{`[]`, `"a"`, `null`, `garbage`} {
			var resp SubscriptionStatusResponse
			assert.NotNil(t, json.Unmarshal([]byte(body), &resp), body)
		}
	})
	t.Run("nil", func(t *testing.T) {
		var resp *SubscriptionStatusResponse
		assert.False(t, resp.HasActive())
	})
}

func TestSubscriptionFields(t *testing.T) {
	var resp SubscriptionStatusResponse
	body := `{"user":"u1","subscriptions":[{"status":"active","plan":"pro","price":9.99,"meta":{"a":"b"}}]}`
	require.Nil(t, json.Unmarshal([]byte(body), &resp))
	require.Len(t, resp.Subscriptions, 1)
	sub := resp.Subscriptions[0]
	assert.Equal(t, "active", sub.Status)
	assert.Equal(t, "pro", sub.Fields["plan"])
	assert.Equal(t, 9.99, sub.Fields["price"])
	assert.Equal(t, map[string]any{"a": "b"}, sub.Fields["meta"])
	assert.Equal(t, json.RawMessage(`"u1"`), resp.Fields["user"])

	out, err := json.Marshal(sub)
	require.Nil(t, err)
	assert.JSONEq(t, `{"status":"active","plan":"pro","price":9.99,"meta":{"a":"b"}}`, string(out))
}

func TestUpdateResult(t *testing.T) {
	for body, ok := range map[string]bool{
		`{"result":"1"}`:    true,
		`{"result":"0"}`:    false,
		`{"result":"true"}`: false,
		`{"result":null}`:   false,
		`{}`:                false,
	} {
		var res updateResult
		require.Nil(t, json.Unmarshal([]byte(body), &res))
		assert.Equal(t, ok, res.ok(), body)
	}
}
