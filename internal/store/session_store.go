package store

import (
	"bytes"
	"context"
	"encoding/json"
	"time"
)

// DeliveryContext is the last place a reply for a session was routed to.
type DeliveryContext struct {
	Channel   string `json:"channel,omitempty"`
	To        string `json:"to,omitempty"`
	AccountID string `json:"accountId,omitempty"`
	ThreadID  string `json:"threadId,omitempty"`
}

// SessionRecord is the persisted state of one session.
//
// Fields this version does not know about are kept in Extra and written
// back unchanged, so older and newer gateways can share a store.
type SessionRecord struct {
	SessionID           string           `json:"sessionId"`
	UpdatedAt           int64            `json:"updatedAt"` // unix ms
	ProviderOverride    string           `json:"providerOverride,omitempty"`
	ModelOverride       string           `json:"modelOverride,omitempty"`
	AuthProfileOverride string           `json:"authProfileOverride,omitempty"`
	LastRoute           *DeliveryContext `json:"lastRoute,omitempty"`
	Channel             string           `json:"channel,omitempty"`
	ChatType            string           `json:"chatType,omitempty"`
	Label               string           `json:"label,omitempty"`

	Extra map[string]json.RawMessage `json:"-"`
}

type sessionRecordFields SessionRecord

var knownRecordKeys = []string{
	"sessionId", "updatedAt", "providerOverride", "modelOverride",
	"authProfileOverride", "lastRoute", "channel", "chatType", "label",
}

// UnmarshalJSON decodes the known fields and keeps everything else in Extra.
func (r *SessionRecord) UnmarshalJSON(data []byte) error {
	var fields sessionRecordFields
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	for _, k := range knownRecordKeys {
		delete(raw, k)
	}
	*r = SessionRecord(fields)
	if len(raw) > 0 {
		r.Extra = raw
	}
	return nil
}

// MarshalJSON writes the known fields followed by preserved unknown ones.
// Known fields win over an Extra entry with the same name.
func (r SessionRecord) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(sessionRecordFields(r))
	if err != nil {
		return nil, err
	}
	if len(r.Extra) == 0 {
		return known, nil
	}
	var merged map[string]json.RawMessage
	if err := json.Unmarshal(known, &merged); err != nil {
		return nil, err
	}
	for k, v := range r.Extra {
		if isKnownRecordKey(k) {
			continue
		}
		merged[k] = v
	}
	return json.Marshal(merged)
}

func isKnownRecordKey(k string) bool {
	for _, known := range knownRecordKeys {
		if k == known {
			return true
		}
	}
	return false
}

// Clone returns a deep copy.
func (r *SessionRecord) Clone() *SessionRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.LastRoute != nil {
		route := *r.LastRoute
		c.LastRoute = &route
	}
	if r.Extra != nil {
		c.Extra = make(map[string]json.RawMessage, len(r.Extra))
		for k, v := range r.Extra {
			c.Extra[k] = bytes.Clone(v)
		}
	}
	return &c
}

// Touch sets UpdatedAt to t.
func (r *SessionRecord) Touch(t time.Time) {
	r.UpdatedAt = t.UnixMilli()
}

// UpdatedTime returns UpdatedAt as a time, zero when unset.
func (r *SessionRecord) UpdatedTime() time.Time {
	if r == nil || r.UpdatedAt == 0 {
		return time.Time{}
	}
	return time.UnixMilli(r.UpdatedAt)
}

// SessionState maps session keys to records for one store path.
type SessionState map[string]*SessionRecord

// Clone returns a deep copy.
func (s SessionState) Clone() SessionState {
	c := make(SessionState, len(s))
	for k, r := range s {
		c[k] = r.Clone()
	}
	return c
}

// SessionBackend persists session state per store path.
//
// Load returns an empty state (not an error) for a path that has never been
// written. Get returns nil, nil for a missing key. Implementations must make
// Save atomic with respect to concurrent Load/Get: readers see either the old
// or the new state, never a mix.
type SessionBackend interface {
	Load(ctx context.Context, path string) (SessionState, error)
	Get(ctx context.Context, path, key string) (*SessionRecord, error)
	Save(ctx context.Context, path string, state SessionState) error
	Close() error
}
