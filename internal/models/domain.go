// Package models defines the domain models for the intercepting proxy.
package models

import (
	"bytes"
	"encoding/json"
	"time"
)

// Decision kinds an operator can issue for an intercepted flow.
const (
	DecisionForward = "forward"
	DecisionDrop    = "drop"
	DecisionModify  = "modify"
)

// FlowData is the captured request snapshot shown to the operator.
// Body holds the request body as text; when the raw bytes are not valid
// UTF-8 the body is base64-encoded and BodyEncoding is set to "base64".
type FlowData struct {
	Method       string            `json:"method"`
	URL          string            `json:"url"`
	Path         string            `json:"path"`
	HTTPVersion  string            `json:"http_version"`
	Headers      map[string]string `json:"headers"`
	Body         string            `json:"body"`
	BodyEncoding string            `json:"body_encoding,omitempty"`
	ClientAddr   string            `json:"client_addr"`
}

// Flow is a request held for an operator decision, keyed by an opaque id.
// Created is seconds since the epoch, matching the on-disk log format.
type Flow struct {
	FlowID  string   `json:"flow_id"`
	Data    FlowData `json:"data"`
	Created float64  `json:"created"`
}

// OptString distinguishes an absent JSON field from an explicit null and
// from a string value. The zero value means "absent".
type OptString struct {
	Set   bool
	Null  bool
	Value string
}

func (o *OptString) UnmarshalJSON(data []byte) error {
	o.Set = true
	if bytes.Equal(data, []byte("null")) {
		o.Null = true
		return nil
	}
	return json.Unmarshal(data, &o.Value)
}

func (o OptString) MarshalJSON() ([]byte, error) {
	if o.Null {
		return []byte("null"), nil
	}
	return json.Marshal(o.Value)
}

// Modification carries the operator's edits for a "modify" decision.
// Headers, when present, replaces the outbound header set wholesale.
// Body absent leaves the body alone; body null clears it.
type Modification struct {
	Method  string            `json:"method,omitempty"`
	URL     string            `json:"url,omitempty"`
	Headers map[string]string `json:"headers,omitempty"`
	Body    OptString         `json:"body,omitzero"`
}

// Decision is the operator verdict for one flow.
type Decision struct {
	Kind     string        `json:"decision"`
	Modified *Modification `json:"modified,omitempty"`
}

// InjectionCallback is one beacon hit attributed to a known injection.
type InjectionCallback struct {
	Time       float64           `json:"time"`
	RemoteAddr string            `json:"remote_addr"`
	Args       map[string]string `json:"args"`
}

// Injection records a response the proxy marked (and possibly rewrote)
// with a tracking beacon.
type Injection struct {
	Time       float64             `json:"time"`
	Method     string              `json:"method"`
	URL        string              `json:"url"`
	ClientIP   string              `json:"client_ip"`
	UserAgent  string              `json:"user_agent"`
	Injected   bool                `json:"injected"`
	InjectedAt *float64            `json:"injected_at,omitempty"`
	Callbacks  []InjectionCallback `json:"callbacks"`
}

// CallbackHit is one request to the beacon endpoint, whether or not it
// maps to a known injection id.
type CallbackHit struct {
	Time        float64           `json:"time"`
	RemoteAddr  string            `json:"remote_addr"`
	Method      string            `json:"method"`
	Args        map[string]string `json:"args"`
	Headers     map[string]string `json:"headers"`
	JSON        json.RawMessage   `json:"json,omitempty"`
	InjectionID string            `json:"injection_id,omitempty"`
}

// RequestTemplate is a saved repeater request.
type RequestTemplate struct {
	ID        string            `json:"id"`
	Name      string            `json:"name"`
	Method    string            `json:"method"`
	URL       string            `json:"url"`
	Headers   map[string]string `json:"headers"`
	Body      string            `json:"body"`
	Created   time.Time         `json:"created"`
	LastSaved time.Time         `json:"last_saved"`
}

// EpochSeconds renders t the way the on-disk logs store timestamps.
func EpochSeconds(t time.Time) float64 {
	return float64(t.UnixNano()) / float64(time.Second)
}
