package internal

import (
	"encoding/json"
	"errors"
)

var errMissingPropertyKey = errors.New("property key missing")

// Property is a single user property. Key is read from the wire field
// "property"; Value is nil when the backend omitted it or sent null.
type Property struct {
	Key   string  `json:"property"`
	Value *string `json:"value,omitempty"`
}

func (p *Property) UnmarshalJSON(b []byte) error {
	var raw struct {
		Key   *string `json:"property"`
		Value *string `json:"value"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	if raw.Key == nil {
		return errMissingPropertyKey
	}
	p.Key = *raw.Key
	p.Value = raw.Value
	return nil
}

// propertyDecoders are tried in order; the backend has shipped each of these
// shapes at some point.
var propertyDecoders = []func([]byte) ([]Property, bool){
	decodePropertyList,
	decodeSingleProperty,
	decodeBareProperty,
}

// DecodeProperties normalizes any known properties payload into a list.
// It never fails: an unrecognized body yields an empty list.
func DecodeProperties(body []byte) []Property {
	for _, decode := range propertyDecoders {
		if props, ok := decode(body); ok {
			return props
		}
	}
	return []Property{}
}

// {"properties": [{"property": "k", "value": "v"}, ...]}
func decodePropertyList(body []byte) ([]Property, bool) {
	var env struct {
		Properties *[]Property `json:"properties"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Properties == nil {
		return nil, false
	}
	return *env.Properties, true
}

// {"property": {"property": "k", "value": "v"}}
func decodeSingleProperty(body []byte) ([]Property, bool) {
	var env struct {
		Property *Property `json:"property"`
	}
	if err := json.Unmarshal(body, &env); err != nil || env.Property == nil {
		return nil, false
	}
	return []Property{*env.Property}, true
}

// {"property": "k", "value": "v"}
func decodeBareProperty(body []byte) ([]Property, bool) {
	var p Property
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, false
	}
	return []Property{p}, true
}

// NormalizeProperties folds a property list into a map. Missing values map
// to the empty string and later duplicates overwrite earlier ones.
func NormalizeProperties(props []Property) map[string]string {
	m := make(map[string]string, len(props))
	for _, p := range props {
		if p.Value == nil {
			m[p.Key] = ""
			continue
		}
		m[p.Key] = *p.Value
	}
	return m
}
