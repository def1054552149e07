package internal

import (
	"encoding/json"
	"slices"
)

// activeStatuses lists the subscription statuses that grant access.
var activeStatuses = []string{"active", "trialing"}

// Subscription is a backend subscription record. Only Status is contractual;
// every field of the record, status included, is kept in Fields.
type Subscription struct {
	Status string         `json:"status"`
	Fields map[string]any `json:"-"`
}

func (s *Subscription) UnmarshalJSON(b []byte) error {
	var fields map[string]any
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errNotObject
	}
	s.Fields = fields
	s.Status, _ = fields["status"].(string)
	return nil
}

func (s Subscription) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(s.Fields)+1)
	for k, v := range s.Fields {
		out[k] = v
	}
	if s.Status != "" {
		out["status"] = s.Status
	}
	return json.Marshal(out)
}

// Active reports whether the subscription currently grants access.
func (s Subscription) Active() bool {
	return slices.Contains(activeStatuses, s.Status)
}

// SubscriptionStatusResponse is the envelope returned by
// /api/user/subscriptions. Subscriptions is nil when the list is missing or
// is not a list of objects.
type SubscriptionStatusResponse struct {
	Subscriptions []Subscription             `json:"subscriptions"`
	Fields        map[string]json.RawMessage `json:"-"`
}

// Older backends answer with the singular key.
var subscriptionListKeys = []string{"subscriptions", "subscription"}

func (r *SubscriptionStatusResponse) UnmarshalJSON(b []byte) error {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(b, &fields); err != nil {
		return err
	}
	if fields == nil {
		return errNotObject
	}
	r.Fields = fields
	r.Subscriptions = nil
	for _, key := range subscriptionListKeys {
		raw, ok := fields[key]
		if !ok {
			continue
		}
		var subs []Subscription
		if err := json.Unmarshal(raw, &subs); err != nil || subs == nil {
			continue
		}
		r.Subscriptions = subs
		break
	}
	return nil
}

// HasActive reports whether at least one subscription is active.
func (r *SubscriptionStatusResponse) HasActive() bool {
	if r == nil {
		return false
	}
	return slices.ContainsFunc(r.Subscriptions, Subscription.Active)
}

// updateResult is the envelope returned by a property update.
type updateResult struct {
	Result *string `json:"result"`
}

func (r updateResult) ok() bool {
	return r.Result != nil && *r.Result == "1"
}
